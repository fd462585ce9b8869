package soap

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/muurk/wemo/internal/wemo"
)

func addrOf(t *testing.T, hostport string) (netip.Addr, uint16) {
	t.Helper()
	ap, err := netip.ParseAddrPort(hostport)
	if err != nil {
		t.Fatalf("bad address %q: %v", hostport, err)
	}
	return ap.Addr(), ap.Port()
}

func TestPost_AgainstHTTPServer(t *testing.T) {
	var gotAction, gotType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != ControlPath {
			t.Errorf("request = %s %s, want POST %s", r.Method, r.URL.Path, ControlPath)
		}
		gotAction = r.Header.Get("SOAPACTION")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		_, _ = io.WriteString(w, `<s:Envelope><s:Body><u:GetBinaryStateResponse><BinaryState>8|1700000000|0</BinaryState></u:GetBinaryStateResponse></s:Body></s:Envelope>`)
	}))
	defer server.Close()

	ip, port := addrOf(t, server.Listener.Addr().String())
	c, err := Connect(context.Background(), ip, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	raw, err := c.Post(context.Background(), GetBinaryState(), time.Second)
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	body, err := ResponseBody(ActionGetBinaryState, raw)
	if err != nil {
		t.Fatalf("ResponseBody() error = %v", err)
	}
	state, err := wemo.ParseBinaryState(string(body))
	if err != nil {
		t.Fatalf("ParseBinaryState() error = %v", err)
	}
	if state != wemo.StateOnWithoutLoad {
		t.Errorf("state = %v, want %v", state, wemo.StateOnWithoutLoad)
	}

	if gotAction != `"urn:Belkin:service:basicevent:1#GetBinaryState"` {
		t.Errorf("SOAPACTION = %q", gotAction)
	}
	if gotType != `text/xml; charset="utf-8"` {
		t.Errorf("Content-Type = %q", gotType)
	}
	if !strings.Contains(gotBody, `<u:GetBinaryState xmlns:u="urn:Belkin:service:basicevent:1">`) {
		t.Errorf("body = %q", gotBody)
	}
}

func TestPost_SingleUse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	ip, port := addrOf(t, server.Listener.Addr().String())
	c, err := Connect(context.Background(), ip, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if _, err := c.Post(context.Background(), GetBinaryState(), time.Second); err != nil {
		t.Fatalf("first Post() error = %v", err)
	}
	if _, err := c.Post(context.Background(), GetBinaryState(), time.Second); !wemo.IsProtocolError(err) {
		t.Errorf("second Post() error = %v, want protocol error", err)
	}
}

// silentDevice accepts connections, reads the request, writes part of a
// response and never closes.
func silentDevice(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				_, _ = http.ReadRequest(bufio.NewReader(conn))
				_, _ = io.WriteString(conn, "HTTP/1.1 200 OK\r\nContent-Length: 100\r\n\r\n<partial")
				time.Sleep(2 * time.Second)
			}(conn)
		}
	}()
	return ln
}

func TestPost_TimeoutDiscardsPartialResponse(t *testing.T) {
	ln := silentDevice(t)
	ip, port := addrOf(t, ln.Addr().String())

	c, err := Connect(context.Background(), ip, port)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	start := time.Now()
	raw, err := c.Post(context.Background(), SetBinaryState(wemo.StateOn), 150*time.Millisecond)
	elapsed := time.Since(start)

	if !wemo.IsTimeout(err) {
		t.Fatalf("Post() error = %v, want timeout", err)
	}
	if raw != nil {
		t.Errorf("Post() returned %d bytes of partial data", len(raw))
	}
	if elapsed > time.Second {
		t.Errorf("Post() took %v, want about 150ms", elapsed)
	}
}

func TestConnect_Refused(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ip, port := addrOf(t, ln.Addr().String())
	ln.Close()

	_, err = Connect(context.Background(), ip, port)
	if !wemo.IsNetworkError(err) {
		t.Errorf("Connect() error = %v, want network error", err)
	}
}

func TestResponseBody(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantBody string
		wantType wemo.ErrorType
		wantErr  bool
	}{
		{
			name:     "ok",
			raw:      "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello",
			wantBody: "hello",
		},
		{
			name:     "read to close",
			raw:      "HTTP/1.1 200 OK\r\nConnection: close\r\n\r\n<BinaryState>1</BinaryState>",
			wantBody: "<BinaryState>1</BinaryState>",
		},
		{
			name:     "soap fault",
			raw:      "HTTP/1.1 500 Internal Server Error\r\nContent-Length: 36\r\n\r\n<faultstring>UPnPError</faultstring>",
			wantErr:  true,
			wantType: wemo.ErrTypeProtocol,
		},
		{
			name:     "empty",
			raw:      "",
			wantErr:  true,
			wantType: wemo.ErrTypeBadResponse,
		},
		{
			name:     "garbage",
			raw:      "not http at all",
			wantErr:  true,
			wantType: wemo.ErrTypeBadResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, err := ResponseBody("GetBinaryState", []byte(tt.raw))
			if tt.wantErr {
				typ, ok := wemo.TypeOf(err)
				if !ok || typ != tt.wantType {
					t.Fatalf("ResponseBody() error = %v, want %v", err, tt.wantType)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResponseBody() error = %v", err)
			}
			if string(body) != tt.wantBody {
				t.Errorf("ResponseBody() = %q, want %q", body, tt.wantBody)
			}
		})
	}
}

func TestSetBinaryState_Envelope(t *testing.T) {
	req := SetBinaryState(wemo.StateOff)
	if req.SOAPAction() != `"urn:Belkin:service:basicevent:1#SetBinaryState"` {
		t.Errorf("SOAPAction() = %q", req.SOAPAction())
	}
	if !strings.Contains(string(req.Body), "<BinaryState>0</BinaryState>") {
		t.Errorf("Body = %q", req.Body)
	}
	if !strings.Contains(string(req.Body), "</u:SetBinaryState>") {
		t.Errorf("Body = %q", req.Body)
	}
}
