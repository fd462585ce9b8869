package ssdp

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"
)

func responseFor(serial, location string) []byte {
	return []byte("HTTP/1.1 200 OK\r\n" +
		"CACHE-CONTROL: max-age=86400\r\n" +
		"EXT:\r\n" +
		"LOCATION: " + location + "\r\n" +
		"SERVER: Unspecified, UPnP/1.0, Unspecified\r\n" +
		"ST: urn:Belkin:device:controllee:1\r\n" +
		"USN: uuid:Socket-1_0-" + serial + "::urn:Belkin:device:controllee:1\r\n" +
		"\r\n")
}

// responder answers every M-SEARCH it receives with the current payloads
// after delay.
type responder struct {
	conn     *net.UDPConn
	delay    time.Duration
	payloads atomic.Value // [][]byte
	requests atomic.Int32
	once     bool
}

func startResponder(t *testing.T, delay time.Duration, once bool, payloads ...[]byte) *responder {
	t.Helper()

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to start responder: %v", err)
	}
	r := &responder{conn: conn, delay: delay, once: once}
	r.payloads.Store(payloads)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			if !bytes.HasPrefix(buf[:n], []byte("M-SEARCH * HTTP/1.1\r\n")) {
				continue
			}
			count := r.requests.Add(1)
			if r.once && count > 1 {
				continue
			}
			go func(to *net.UDPAddr) {
				time.Sleep(r.delay)
				for _, p := range r.payloads.Load().([][]byte) {
					_, _ = conn.WriteToUDP(p, to)
				}
			}(from)
		}
	}()
	return r
}

func (r *responder) set(payloads ...[]byte) {
	r.payloads.Store(payloads)
}

func newTestSearcher(r *responder) *Searcher {
	s := NewSearcher()
	s.Target = r.conn.LocalAddr().(*net.UDPAddr)
	return s
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantOK     bool
		wantSerial string
		wantModel  string
		wantIP     string
		wantPort   uint16
	}{
		{
			name:       "socket",
			data:       string(responseFor("221517K0101769", "http://192.168.1.4:49153/setup.xml")),
			wantOK:     true,
			wantSerial: "221517K0101769",
			wantModel:  "Socket",
			wantIP:     "192.168.1.4",
			wantPort:   49153,
		},
		{
			name:       "insight lowercase headers",
			data:       "HTTP/1.1 200 OK\r\nlocation: http://10.0.0.9:49154/setup.xml\r\nusn: uuid:Insight-1_0-12345ABCDE::upnp:rootdevice\r\n\r\n",
			wantOK:     true,
			wantSerial: "12345ABCDE",
			wantModel:  "Insight",
			wantIP:     "10.0.0.9",
			wantPort:   49154,
		},
		{
			name:       "multi digit version and default port",
			data:       "LOCATION: http://10.0.0.10/setup.xml\r\nUSN: uuid:Lightswitch-2_10-ABC::urn:Belkin:device:lightswitch:1\r\n",
			wantOK:     true,
			wantSerial: "ABC",
			wantModel:  "Lightswitch",
			wantIP:     "10.0.0.10",
			wantPort:   80,
		},
		{
			name: "missing location",
			data: "USN: uuid:Socket-1_0-ABC::upnp:rootdevice\r\n",
		},
		{
			name: "missing usn",
			data: "LOCATION: http://10.0.0.10:49153/setup.xml\r\n",
		},
		{
			name: "foreign device",
			data: "LOCATION: http://10.0.0.10:1400/xml/device_description.xml\r\nUSN: uuid:RINCON_000E58::urn:schemas-upnp-org:device:ZonePlayer:1\r\n",
		},
		{
			name: "hostname location",
			data: string(responseFor("ABC", "http://wemo.local:49153/setup.xml")),
		},
		{
			name: "ipv6 location",
			data: string(responseFor("ABC", "http://[fe80::1]:49153/setup.xml")),
		},
		{
			name: "unparseable url",
			data: string(responseFor("ABC", "::not a url")),
		},
		{
			name: "binary noise",
			data: "\x00\x01\x02\xff",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, ok := ParseResponse([]byte(tt.data))
			if ok != tt.wantOK {
				t.Fatalf("ParseResponse() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if rec.SerialNumber != tt.wantSerial {
				t.Errorf("SerialNumber = %q, want %q", rec.SerialNumber, tt.wantSerial)
			}
			if rec.Model != tt.wantModel {
				t.Errorf("Model = %q, want %q", rec.Model, tt.wantModel)
			}
			if rec.IP.String() != tt.wantIP {
				t.Errorf("IP = %v, want %v", rec.IP, tt.wantIP)
			}
			if rec.Port != tt.wantPort {
				t.Errorf("Port = %d, want %d", rec.Port, tt.wantPort)
			}
			if rec.SetupURL == nil || rec.SetupURL.Path != "/setup.xml" {
				t.Errorf("SetupURL = %v, want path /setup.xml", rec.SetupURL)
			}
		})
	}
}

func TestSearch_SingleResponderRunsToTimeout(t *testing.T) {
	r := startResponder(t, 50*time.Millisecond, true,
		responseFor("SERIAL1", "http://10.0.0.5:49153/setup.xml"))
	s := newTestSearcher(r)

	const timeout = 2000 * time.Millisecond
	start := time.Now()
	got, err := s.Search(context.Background(), timeout)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Search() returned %d records, want 1", len(got))
	}
	rec := got["SERIAL1"]
	if rec.IP != netip.MustParseAddr("10.0.0.5") || rec.Port != 49153 {
		t.Errorf("record = %v, want 10.0.0.5:49153", rec.Host())
	}
	// An untargeted search keeps listening for the whole timeout, and
	// returns promptly once it elapses.
	if elapsed < timeout || elapsed > timeout+500*time.Millisecond {
		t.Errorf("Search() took %v, want %v plus at most 500ms", elapsed, timeout)
	}
}

func TestSearch_ResendsWhileRunning(t *testing.T) {
	r := startResponder(t, 0, false)
	s := newTestSearcher(r)
	s.ResendInterval = 50 * time.Millisecond

	if _, err := s.Search(context.Background(), 400*time.Millisecond); err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if n := r.requests.Load(); n < 3 {
		t.Errorf("responder saw %d M-SEARCH requests, want at least 3", n)
	}
}

func TestSearch_AccumulatesUntilReset(t *testing.T) {
	r := startResponder(t, 0, false, responseFor("A", "http://10.0.0.1:49153/setup.xml"))
	s := newTestSearcher(r)

	if _, err := s.Search(context.Background(), 200*time.Millisecond); err != nil {
		t.Fatalf("Search() error = %v", err)
	}

	// Second search sees a new device and a moved one.
	r.set(
		responseFor("B", "http://10.0.0.2:49153/setup.xml"),
		responseFor("A", "http://10.0.0.1:49154/setup.xml"),
	)
	got, err := s.Search(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Search() returned %d records, want 2", len(got))
	}
	if got["A"].Port != 49154 {
		t.Errorf("A.Port = %d, want 49154 (last write wins)", got["A"].Port)
	}
	if !s.HasResults() {
		t.Error("HasResults() = false, want true")
	}

	s.Reset()
	if s.HasResults() || len(s.Results()) != 0 {
		t.Error("results should be empty after Reset()")
	}
}

func TestSearchForSerial_ExitsOnMatch(t *testing.T) {
	r := startResponder(t, 50*time.Millisecond, false,
		[]byte("NOTIFY * HTTP/1.1\r\nNT: upnp:rootdevice\r\n\r\n"),
		responseFor("OTHER", "http://10.0.0.7:49153/setup.xml"),
		responseFor("TARGET", "http://10.0.0.8:49153/setup.xml"),
	)
	s := newTestSearcher(r)

	start := time.Now()
	rec, ok, err := s.SearchForSerial(context.Background(), "TARGET", 2*time.Second)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("SearchForSerial() error = %v", err)
	}
	if !ok {
		t.Fatal("SearchForSerial() did not find TARGET")
	}
	if rec.IP != netip.MustParseAddr("10.0.0.8") {
		t.Errorf("IP = %v, want 10.0.0.8", rec.IP)
	}
	if elapsed >= time.Second {
		t.Errorf("SearchForSerial() took %v, want early exit", elapsed)
	}
	// Non-matching devices seen along the way are kept.
	if _, ok := s.Results()["OTHER"]; !ok {
		t.Error("OTHER should be recorded in results")
	}
}

func TestSearchForIP_ExitsOnMatch(t *testing.T) {
	r := startResponder(t, 50*time.Millisecond, true,
		responseFor("S1", "http://10.0.0.20:49155/setup.xml"))
	s := newTestSearcher(r)

	start := time.Now()
	rec, ok, err := s.SearchForIP(context.Background(), netip.MustParseAddr("10.0.0.20"), 2*time.Second)
	if err != nil || !ok {
		t.Fatalf("SearchForIP() = %v, %v, %v", rec, ok, err)
	}
	if rec.SerialNumber != "S1" || rec.Port != 49155 {
		t.Errorf("record = %v", rec)
	}
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("SearchForIP() took %v, want early exit", elapsed)
	}
}

func TestSearchForSerial_NotFound(t *testing.T) {
	r := startResponder(t, 0, false, responseFor("OTHER", "http://10.0.0.7:49153/setup.xml"))
	s := newTestSearcher(r)

	start := time.Now()
	_, ok, err := s.SearchForSerial(context.Background(), "MISSING", 300*time.Millisecond)
	if err != nil {
		t.Fatalf("SearchForSerial() error = %v", err)
	}
	if ok {
		t.Error("SearchForSerial() found a device that never answered")
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Errorf("SearchForSerial() returned after %v, want full timeout", elapsed)
	}
}

func TestSearch_Cancelled(t *testing.T) {
	r := startResponder(t, 0, false)
	s := newTestSearcher(r)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := s.Search(ctx, 5*time.Second)
	if err == nil {
		t.Fatal("Search() error = nil, want cancellation error")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Search() took %v after cancel", elapsed)
	}
}

func ExampleParseResponse() {
	rec, ok := ParseResponse(responseFor("221517K0101769", "http://192.168.1.4:49153/setup.xml"))
	fmt.Println(ok, rec.SerialNumber, rec.Host())
	// Output: true 221517K0101769 192.168.1.4:49153
}
