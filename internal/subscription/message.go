package subscription

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/muurk/wemo/internal/logging"
	"github.com/muurk/wemo/internal/soap"
	"github.com/muurk/wemo/internal/wemo"
)

// CallbackURL builds the URL a device posts notifications to. The from
// parameter carries the subscription key.
func CallbackURL(local netip.Addr, port uint16, host string) string {
	u := url.URL{
		Scheme:   "http",
		Host:     netip.AddrPortFrom(local, port).String(),
		Path:     "/",
		RawQuery: "from=" + host,
	}
	return u.String()
}

// subscribeRequest renders the SUBSCRIBE message
func subscribeRequest(host, callback string, ttl time.Duration) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "SUBSCRIBE %s HTTP/1.1\r\n", soap.EventPath)
	fmt.Fprintf(&b, "CALLBACK: <%s>\r\n", callback)
	b.WriteString("NT: upnp:event\r\n")
	fmt.Fprintf(&b, "TIMEOUT: Second-%d\r\n", int(ttl/time.Second))
	fmt.Fprintf(&b, "Host: %s\r\n", host)
	b.WriteString("\r\n")
	return b.Bytes()
}

// sendSubscribe delivers one SUBSCRIBE to host and returns the SID the
// device assigned, if it answered in time. Devices frequently drop the
// connection without replying, so a missing reply is not a failure; an
// explicit non-2xx reply is.
func sendSubscribe(ctx context.Context, host, callback string, ttl, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp4", host)
	if err != nil {
		return "", wemo.NewSubscriptionError(host, "connect failed", wemo.NewNetworkError("connect", err))
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	_ = conn.SetDeadline(deadline)

	msg := subscribeRequest(host, callback, ttl)
	logging.LogRawBytes("SUBSCRIBE request", msg)
	if _, err := conn.Write(msg); err != nil {
		return "", wemo.NewSubscriptionError(host, "write failed", wemo.NewNetworkError("write", err))
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		noReply := os.IsTimeout(err) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		logging.Debug("No usable SUBSCRIBE reply",
			zap.String("host", host),
			zap.Bool("silent", noReply),
			zap.Error(err),
		)
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", wemo.NewSubscriptionError(host, fmt.Sprintf("device answered %s", resp.Status), nil)
	}

	sid := resp.Header.Get("SID")
	if sid != "" {
		if _, err := uuid.Parse(strings.TrimPrefix(sid, "uuid:")); err != nil {
			logging.Debug("Non-UUID SID", zap.String("host", host), zap.String("sid", sid))
		}
	}
	return sid, nil
}
