package subscription

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/wemo/internal/wemo"
)

var testLocalIP = netip.MustParseAddr("192.0.2.10")

func fixedLocalIP() (netip.Addr, error) { return testLocalIP, nil }

// testCallbackPort is advertised by managers that never start a listener
const testCallbackPort = 3456

// eventDevice answers SUBSCRIBE requests on a loopback port.
type eventDevice struct {
	ln       net.Listener
	status   atomic.Int32 // HTTP status to answer with; 0 closes silently
	requests atomic.Int32

	mu   sync.Mutex
	last *http.Request
}

func newEventDevice(t *testing.T, status int) *eventDevice {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	d := &eventDevice{ln: ln}
	d.status.Store(int32(status))
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go d.serve(conn)
		}
	}()
	return d
}

func (d *eventDevice) serve(conn net.Conn) {
	defer conn.Close()
	req, err := http.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		return
	}
	d.requests.Add(1)
	d.mu.Lock()
	d.last = req
	d.mu.Unlock()

	switch status := int(d.status.Load()); status {
	case 0:
		return
	case http.StatusOK:
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nSID: uuid:7206f5ac-1dd2-11b2-a4bd-d6b2c26b5d22\r\nTIMEOUT: Second-300\r\nContent-Length: 0\r\n\r\n")
	default:
		fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\n\r\n", status, http.StatusText(status))
	}
}

func (d *eventDevice) host() string {
	return d.ln.Addr().String()
}

func (d *eventDevice) lastRequest() *http.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1"
	}
	if cfg.LocalIP == nil {
		cfg.LocalIP = fixedLocalIP
	}
	m := NewManager(cfg)
	t.Cleanup(func() { _ = m.Stop(context.Background()) })
	return m
}

func postNotification(t *testing.T, m *Manager, from, body string) {
	t.Helper()
	url := fmt.Sprintf("http://127.0.0.1:%d/?from=%s", m.CallbackPort(), from)
	req, err := http.NewRequest("NOTIFY", url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("NT", "upnp:event")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func notifyBody(value string) string {
	return `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0"><e:property><BinaryState>` +
		value + `</BinaryState></e:property></e:propertyset>`
}

func TestSubscribe_SendsSubscribeMessage(t *testing.T) {
	d := newEventDevice(t, http.StatusOK)
	m := newTestManager(t, Config{CallbackPort: 3456, TTL: 60 * time.Second})

	require.NoError(t, m.Subscribe(context.Background(), d.host(), nil))

	req := d.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "SUBSCRIBE", req.Method)
	assert.Equal(t, "/upnp/event/basicevent1", req.URL.Path)
	assert.Equal(t, "<http://192.0.2.10:3456/?from="+d.host()+">", req.Header.Get("CALLBACK"))
	assert.Equal(t, "upnp:event", req.Header.Get("NT"))
	assert.Equal(t, "Second-60", req.Header.Get("TIMEOUT"))
	assert.Equal(t, d.host(), req.Host)

	assert.Equal(t, []string{d.host()}, m.Hosts())
	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "uuid:7206f5ac-1dd2-11b2-a4bd-d6b2c26b5d22", snap[0].SID)
}

func TestSubscribe_SilentDeviceStillRegisters(t *testing.T) {
	d := newEventDevice(t, 0)
	m := newTestManager(t, Config{CallbackPort: testCallbackPort, SendTimeout: 200 * time.Millisecond})

	require.NoError(t, m.Subscribe(context.Background(), d.host(), nil))
	assert.Equal(t, []string{d.host()}, m.Hosts())
}

func TestSubscribe_FailuresDoNotRegister(t *testing.T) {
	refused, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	refusedHost := refused.Addr().String()
	refused.Close()

	rejecting := newEventDevice(t, http.StatusPreconditionFailed)

	tests := []struct {
		name     string
		host     string
		localIP  func() (netip.Addr, error)
		wantType wemo.ErrorType
	}{
		{name: "connection refused", host: refusedHost, wantType: wemo.ErrTypeSubscription},
		{name: "device rejects", host: rejecting.host(), wantType: wemo.ErrTypeSubscription},
		{name: "bad host", host: "not-a-host", wantType: wemo.ErrTypeSubscription},
		{
			name: "no local ip",
			host: rejecting.host(),
			localIP: func() (netip.Addr, error) {
				return netip.Addr{}, wemo.NewNoLocalIPError(nil)
			},
			wantType: wemo.ErrTypeNoLocalIP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestManager(t, Config{CallbackPort: testCallbackPort, LocalIP: tt.localIP})
			err := m.Subscribe(context.Background(), tt.host, nil)
			require.Error(t, err)
			typ, ok := wemo.TypeOf(err)
			require.True(t, ok, "error %v should carry a type", err)
			assert.Equal(t, tt.wantType, typ)
			assert.Empty(t, m.Hosts())
		})
	}
}

func TestSubscribe_RequiresBoundCallbackPort(t *testing.T) {
	d := newEventDevice(t, http.StatusOK)
	m := newTestManager(t, Config{})

	err := m.Subscribe(context.Background(), d.host(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, wemo.ErrSubscription)
	assert.Empty(t, m.Hosts())
	assert.Zero(t, d.requests.Load(), "nothing may be advertised with port 0")

	require.NoError(t, m.Start())
	require.NoError(t, m.Subscribe(context.Background(), d.host(), nil))
	assert.NotContains(t, d.lastRequest().Header.Get("CALLBACK"), ":0/")
}

func TestUnsubscribe_IsLocalOnly(t *testing.T) {
	d := newEventDevice(t, http.StatusOK)
	m := newTestManager(t, Config{CallbackPort: testCallbackPort})

	require.NoError(t, m.Subscribe(context.Background(), d.host(), nil))
	before := d.requests.Load()

	assert.True(t, m.Unsubscribe(d.host()))
	assert.False(t, m.Unsubscribe(d.host()))
	assert.Empty(t, m.Hosts())
	assert.Equal(t, before, d.requests.Load(), "unsubscribe must not contact the device")
}

func TestSubscribeAll_JoinsFailures(t *testing.T) {
	ok1 := newEventDevice(t, http.StatusOK)
	ok2 := newEventDevice(t, http.StatusOK)
	bad := newEventDevice(t, http.StatusInternalServerError)
	m := newTestManager(t, Config{CallbackPort: testCallbackPort})

	records := []wemo.DeviceRecord{
		recordFor(t, "A", ok1.host()),
		recordFor(t, "B", ok2.host()),
		recordFor(t, "C", bad.host()),
	}
	err := m.SubscribeAll(context.Background(), records, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, wemo.ErrSubscription)
	assert.ElementsMatch(t, []string{ok1.host(), ok2.host()}, m.Hosts())
}

func recordFor(t *testing.T, serial, host string) wemo.DeviceRecord {
	t.Helper()
	ap, err := netip.ParseAddrPort(host)
	require.NoError(t, err)
	return wemo.DeviceRecord{SerialNumber: serial, IP: ap.Addr(), Port: ap.Port()}
}

func TestListener_Dispatch(t *testing.T) {
	d := newEventDevice(t, http.StatusOK)
	m := newTestManager(t, Config{})
	require.NoError(t, m.Start())

	got := make(chan Notification, 4)
	require.NoError(t, m.Subscribe(context.Background(), d.host(), func(n Notification) { got <- n }))

	postNotification(t, m, d.host(), notifyBody("1"))
	select {
	case n := <-got:
		assert.Equal(t, d.host(), n.Host)
		assert.Equal(t, wemo.StateOn, n.State)
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	// Only the leading field counts, unknown codes are still delivered.
	postNotification(t, m, d.host(), notifyBody("2|999|1"))
	select {
	case n := <-got:
		assert.Equal(t, uint16(2), n.State.Code())
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}

	// Unregistered host and bodies without a state are acknowledged only.
	postNotification(t, m, "10.9.9.9:49153", notifyBody("0"))
	postNotification(t, m, d.host(), "<e:propertyset><e:property><SignalStrength>80</SignalStrength></e:property></e:propertyset>")
	postNotification(t, m, d.host(), notifyBody("junk"))
	select {
	case n := <-got:
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(100 * time.Millisecond):
	}

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, uint64(2), snap[0].Notifications)
}

func TestListener_SlowHandlerDoesNotStall(t *testing.T) {
	d := newEventDevice(t, http.StatusOK)
	m := newTestManager(t, Config{CallbackTimeout: 50 * time.Millisecond})
	require.NoError(t, m.Start())

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	require.NoError(t, m.Subscribe(context.Background(), d.host(), func(Notification) { <-release }))

	start := time.Now()
	postNotification(t, m, d.host(), notifyBody("0"))
	assert.Less(t, time.Since(start), time.Second)
}

func TestStartStop_Idempotent(t *testing.T) {
	m := newTestManager(t, Config{})

	require.NoError(t, m.Start())
	port := m.CallbackPort()
	require.NoError(t, m.Start())
	assert.Equal(t, port, m.CallbackPort(), "second Start must not rebind")
	assert.True(t, m.Running())

	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
	assert.False(t, m.Running())

	_, err := net.DialTimeout("tcp4", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond)
	assert.Error(t, err, "listener should be closed after Stop")

	// A stopped manager can be started again.
	require.NoError(t, m.Start())
	require.NoError(t, m.Stop(context.Background()))
}

func TestRenewal_IsolatesFailuresAndStops(t *testing.T) {
	good := newEventDevice(t, http.StatusOK)
	flaky := newEventDevice(t, http.StatusOK)
	m := newTestManager(t, Config{RenewInterval: 50 * time.Millisecond, SendTimeout: 200 * time.Millisecond})

	require.NoError(t, m.Start())
	require.NoError(t, m.Subscribe(context.Background(), good.host(), nil))
	require.NoError(t, m.Subscribe(context.Background(), flaky.host(), nil))

	// flaky starts rejecting renewals after subscribing
	flaky.status.Store(http.StatusInternalServerError)

	require.Eventually(t, func() bool {
		return good.requests.Load() >= 4 && flaky.requests.Load() >= 4
	}, 3*time.Second, 10*time.Millisecond)

	// Both stay registered; the failure is recorded on the flaky host only.
	for _, info := range m.Snapshot() {
		if info.Host == flaky.host() {
			assert.NotEmpty(t, info.LastError)
		} else {
			assert.Empty(t, info.LastError)
		}
	}
	assert.Len(t, m.Hosts(), 2)

	require.NoError(t, m.Stop(context.Background()))
	after := good.requests.Load()
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, after, good.requests.Load(), "renewal must not run after Stop")
}

func TestRenewal_UsesCurrentLocalIP(t *testing.T) {
	d := newEventDevice(t, http.StatusOK)
	var current atomic.Value
	current.Store(testLocalIP)
	m := newTestManager(t, Config{
		RenewInterval: 50 * time.Millisecond,
		LocalIP:       func() (netip.Addr, error) { return current.Load().(netip.Addr), nil },
	})

	require.NoError(t, m.Start())
	require.NoError(t, m.Subscribe(context.Background(), d.host(), nil))
	current.Store(netip.MustParseAddr("192.0.2.99"))

	require.Eventually(t, func() bool {
		req := d.lastRequest()
		return req != nil && strings.Contains(req.Header.Get("CALLBACK"), "192.0.2.99")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCallbackURL(t *testing.T) {
	got := CallbackURL(netip.MustParseAddr("192.168.1.2"), 3000, "192.168.1.20:49153")
	assert.Equal(t, "http://192.168.1.2:3000/?from=192.168.1.20:49153", got)
}
