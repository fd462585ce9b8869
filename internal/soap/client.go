package soap

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/muurk/wemo/internal/logging"
	"github.com/muurk/wemo/internal/version"
	"github.com/muurk/wemo/internal/wemo"
)

const (
	// ServiceType is the basicevent service namespace
	ServiceType = "urn:Belkin:service:basicevent:1"

	// ControlPath is the basicevent control endpoint
	ControlPath = "/upnp/control/basicevent1"

	// EventPath is the basicevent eventing endpoint used by SUBSCRIBE
	EventPath = "/upnp/event/basicevent1"

	// maxResponse bounds how much a misbehaving device can make us buffer
	maxResponse = 1 << 20
)

// Request is one SOAP action invocation.
type Request struct {
	Path   string // HTTP path, normally ControlPath
	Action string // Bare action name, e.g. "GetBinaryState"
	Body   []byte // SOAP envelope
}

// SOAPAction returns the quoted SOAPACTION header value
func (r Request) SOAPAction() string {
	return `"` + ServiceType + "#" + r.Action + `"`
}

// Client performs a single SOAP exchange over one TCP connection. It is
// not reusable: the device closes the connection after responding.
type Client struct {
	conn net.Conn
	host string

	mu   sync.Mutex
	used bool
}

// Connect opens the TCP connection to the device. The dial is bounded by
// ctx.
func Connect(ctx context.Context, ip netip.Addr, port uint16) (*Client, error) {
	addr := netip.AddrPortFrom(ip, port).String()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return nil, wemo.NewNetworkError("connect "+addr, err)
	}
	return &Client{conn: conn, host: addr}, nil
}

// Post writes req and reads the raw response until the device closes the
// connection. If the timeout (or ctx) expires first the exchange is
// abandoned and a Timeout error is returned; partial data is discarded.
// The connection is closed when Post returns.
func (c *Client) Post(ctx context.Context, req Request, timeout time.Duration) ([]byte, error) {
	c.mu.Lock()
	if c.used {
		c.mu.Unlock()
		return nil, wemo.NewProtocolError(req.Action, "client already used for a request")
	}
	c.used = true
	c.mu.Unlock()

	defer c.conn.Close()

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, wemo.NewNetworkError(req.Action, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	payload := c.encode(req)
	logging.LogRawBytes("SOAP request", payload)

	if _, err := c.conn.Write(payload); err != nil {
		return nil, c.classify(ctx, req.Action, err)
	}

	raw, err := io.ReadAll(io.LimitReader(c.conn, maxResponse))
	if err != nil {
		return nil, c.classify(ctx, req.Action, err)
	}
	if ctx.Err() != nil {
		return nil, wemo.NewNetworkError(req.Action, ctx.Err())
	}
	logging.LogRawBytes("SOAP response", raw)
	return raw, nil
}

// Close releases the connection without sending anything
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) classify(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return wemo.NewNetworkError(op, ctx.Err())
	}
	return wemo.NewNetworkError(op, err)
}

func (c *Client) encode(req Request) []byte {
	path := req.Path
	if path == "" {
		path = ControlPath
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "POST %s HTTP/1.1\r\n", path)
	fmt.Fprintf(&b, "Host: %s\r\n", c.host)
	b.WriteString("Content-Type: text/xml; charset=\"utf-8\"\r\n")
	b.WriteString("Accept: */*\r\n")
	fmt.Fprintf(&b, "User-Agent: %s\r\n", version.UserAgent())
	fmt.Fprintf(&b, "SOAPACTION: %s\r\n", req.SOAPAction())
	fmt.Fprintf(&b, "Content-Length: %s\r\n", strconv.Itoa(len(req.Body)))
	b.WriteString("Connection: close\r\n")
	b.WriteString("\r\n")
	b.Write(req.Body)
	return b.Bytes()
}

// ResponseBody parses a raw HTTP response and returns its body. A non-2xx
// status is a device-reported failure.
func ResponseBody(action string, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, wemo.NewBadResponseError(action, "empty response")
	}
	resp, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(raw)), nil)
	if err != nil {
		return nil, wemo.NewBadResponseError(action, fmt.Sprintf("malformed HTTP response: %v", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil && len(body) == 0 {
		return nil, wemo.NewBadResponseError(action, fmt.Sprintf("unreadable response body: %v", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("device returned HTTP %d", resp.StatusCode)
		if fault, ok := wemo.FindTagValue("faultstring", string(body)); ok {
			msg += ": " + fault
		}
		return nil, wemo.NewProtocolError(action, msg)
	}
	return body, nil
}
