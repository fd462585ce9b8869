package ssdp

import (
	"context"
	"errors"
	"maps"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"github.com/muurk/wemo/internal/logging"
	"github.com/muurk/wemo/internal/metrics"
	"github.com/muurk/wemo/internal/wemo"
)

const (
	// MulticastAddr is the SSDP multicast group and port
	MulticastAddr = "239.255.255.250:1900"

	// DefaultResendInterval is how often the M-SEARCH is repeated while a
	// search runs, to cover UDP loss and slow responders
	DefaultResendInterval = 300 * time.Millisecond

	// DefaultSearchTimeout is used by the package-level helpers
	DefaultSearchTimeout = 3 * time.Second

	// maxDatagram is the read buffer size for responses
	maxDatagram = 64 * 1024
)

// searchRequest is sent verbatim on every (re)send.
var searchRequest = []byte("M-SEARCH * HTTP/1.1\r\n" +
	"HOST: " + MulticastAddr + "\r\n" +
	"ST:urn:Belkin:device:*\r\n" +
	"MAN:\"ssdp:discover\"\r\n" +
	"MX:5\r\n" +
	"\r\n")

// Searcher discovers WeMo switches with SSDP. Results accumulate across
// searches, keyed by serial number, until Reset is called. A Searcher is
// safe for concurrent use; each search uses its own socket.
type Searcher struct {
	// Target is where M-SEARCH requests are sent. Defaults to the SSDP
	// multicast group.
	Target *net.UDPAddr

	// ResendInterval is the M-SEARCH repeat period
	ResendInterval time.Duration

	// Interface selects the outgoing multicast interface. Nil lets the
	// kernel choose.
	Interface *net.Interface

	// Metrics is optional
	Metrics *metrics.Metrics

	mu    sync.RWMutex
	found map[string]wemo.DeviceRecord
}

// NewSearcher creates a searcher with default settings
func NewSearcher() *Searcher {
	target, _ := net.ResolveUDPAddr("udp4", MulticastAddr)
	return &Searcher{
		Target:         target,
		ResendInterval: DefaultResendInterval,
		found:          make(map[string]wemo.DeviceRecord),
	}
}

// Search runs a search for the full timeout and returns every record
// known to the searcher, including those from earlier searches.
func (s *Searcher) Search(ctx context.Context, timeout time.Duration) (map[string]wemo.DeviceRecord, error) {
	if _, _, err := s.run(ctx, "all", timeout, nil); err != nil {
		return nil, err
	}
	return s.Results(), nil
}

// SearchForSerial searches until a device with the given serial answers or
// the timeout elapses. The boolean reports whether it answered during this
// search.
func (s *Searcher) SearchForSerial(ctx context.Context, serial string, timeout time.Duration) (wemo.DeviceRecord, bool, error) {
	return s.run(ctx, "serial", timeout, func(rec wemo.DeviceRecord) bool {
		return rec.SerialNumber == serial
	})
}

// SearchForIP searches until a device at the given address answers or the
// timeout elapses.
func (s *Searcher) SearchForIP(ctx context.Context, ip netip.Addr, timeout time.Duration) (wemo.DeviceRecord, bool, error) {
	return s.run(ctx, "ip", timeout, func(rec wemo.DeviceRecord) bool {
		return rec.IP == ip
	})
}

// Results returns a copy of every record found since the last Reset
func (s *Searcher) Results() map[string]wemo.DeviceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.found)
}

// HasResults reports whether any device has been found since the last Reset
func (s *Searcher) HasResults() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.found) > 0
}

// Reset forgets all results
func (s *Searcher) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.found = make(map[string]wemo.DeviceRecord)
}

func (s *Searcher) upsert(rec wemo.DeviceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.found == nil {
		s.found = make(map[string]wemo.DeviceRecord)
	}
	s.found[rec.SerialNumber] = rec
}

// run performs one search. When match is non-nil the search ends at the
// first accepted response for which match returns true.
func (s *Searcher) run(ctx context.Context, kind string, timeout time.Duration, match func(wemo.DeviceRecord) bool) (wemo.DeviceRecord, bool, error) {
	start := time.Now()
	deadline := start.Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	target := s.Target
	if target == nil {
		var err error
		if target, err = net.ResolveUDPAddr("udp4", MulticastAddr); err != nil {
			return wemo.DeviceRecord{}, false, wemo.NewNetworkError("M-SEARCH", err)
		}
	}
	resend := s.ResendInterval
	if resend <= 0 {
		resend = DefaultResendInterval
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return wemo.DeviceRecord{}, false, wemo.NewNetworkError("M-SEARCH", err)
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetMulticastTTL(2); err != nil {
		logging.Debug("Could not set multicast TTL", zap.Error(err))
	}
	if err := pc.SetMulticastLoopback(true); err != nil {
		logging.Debug("Could not enable multicast loopback", zap.Error(err))
	}
	if s.Interface != nil {
		if err := pc.SetMulticastInterface(s.Interface); err != nil {
			logging.Debug("Could not select multicast interface",
				zap.String("interface", s.Interface.Name), zap.Error(err))
		}
	}

	if _, err := pc.WriteTo(searchRequest, nil, target); err != nil {
		return wemo.DeviceRecord{}, false, wemo.NewNetworkError("M-SEARCH", err)
	}

	if err := conn.SetReadDeadline(deadline); err != nil {
		return wemo.DeviceRecord{}, false, wemo.NewNetworkError("M-SEARCH", err)
	}
	// Cancellation unblocks the read by pulling the deadline in.
	stopAfter := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stopAfter()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(resend)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if _, err := pc.WriteTo(searchRequest, nil, target); err != nil {
					logging.Debug("M-SEARCH resend failed", zap.Error(err))
				}
			}
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	var (
		result wemo.DeviceRecord
		hit    bool
		found  int
	)
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if os.IsTimeout(err) || errors.Is(err, net.ErrClosed) {
				break
			}
			// Transient socket errors do not end the search
			logging.Debug("SSDP read error", zap.Error(err))
			if time.Now().After(deadline) {
				break
			}
			continue
		}

		rec, ok := ParseResponse(buf[:n])
		s.Metrics.ObserveResponse(ok)
		if !ok {
			logging.Debug("Ignoring SSDP datagram", zap.Stringer("from", from), zap.Int("length", n))
			continue
		}

		found++
		s.upsert(rec)
		if match != nil && match(rec) {
			result, hit = rec, true
			break
		}
	}

	elapsed := time.Since(start)
	s.Metrics.ObserveSearch(kind, elapsed)
	logging.LogSearch(kind, result.SerialNumber, found, elapsed)

	// A context deadline is just an earlier end; only explicit
	// cancellation is reported.
	if !hit && errors.Is(ctx.Err(), context.Canceled) {
		return wemo.DeviceRecord{}, false, wemo.NewNetworkError("M-SEARCH", ctx.Err())
	}
	return result, hit, nil
}

// Search is a convenience function that runs one search with a fresh
// searcher
func Search(ctx context.Context, timeout time.Duration) (map[string]wemo.DeviceRecord, error) {
	return NewSearcher().Search(ctx, timeout)
}

// FindSerial searches for one device by serial number with a fresh searcher
func FindSerial(ctx context.Context, serial string, timeout time.Duration) (wemo.DeviceRecord, bool, error) {
	return NewSearcher().SearchForSerial(ctx, serial, timeout)
}
