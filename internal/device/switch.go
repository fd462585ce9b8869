package device

import (
	"context"
	"fmt"
	"net/netip"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/wemo/internal/logging"
	"github.com/muurk/wemo/internal/metrics"
	"github.com/muurk/wemo/internal/soap"
	"github.com/muurk/wemo/internal/ssdp"
	"github.com/muurk/wemo/internal/wemo"
)

// FirstAttemptTimeout is the fixed budget of the first attempt of every
// retrying operation, whatever the caller's total timeout.
const FirstAttemptTimeout = 300 * time.Millisecond

// DefaultPort is the port most WeMo firmware listens on
const DefaultPort = 49153

// Locator finds a switch on the network. *ssdp.Searcher satisfies it.
type Locator interface {
	SearchForSerial(ctx context.Context, serial string, timeout time.Duration) (wemo.DeviceRecord, bool, error)
	SearchForIP(ctx context.Context, ip netip.Addr, timeout time.Duration) (wemo.DeviceRecord, bool, error)
}

// Option configures a Switch
type Option func(*Switch)

// WithLocator sets the locator used for relocation. Without one each
// relocation runs a fresh SSDP search.
func WithLocator(l Locator) Option {
	return func(s *Switch) { s.locator = l }
}

// WithSerial records the device serial number, which makes relocation
// search by serial instead of by address.
func WithSerial(serial string) Option {
	return func(s *Switch) { s.serial = serial }
}

// WithMetrics attaches prometheus collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Switch) { s.metrics = m }
}

// Switch is a WeMo switch reachable over the basicevent control service.
// Its cached address may change through relocation; IP, port and serial
// are guarded together so readers never see a mix of old and new values.
type Switch struct {
	identity Identity
	locator  Locator
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	ip     netip.Addr
	port   uint16
	serial string
}

// FromStaticIP creates a switch whose IP never changes.
func FromStaticIP(ip netip.Addr, port uint16, opts ...Option) *Switch {
	return newSwitch(StaticIP(ip), ip, port, opts)
}

// FromAddr creates a switch at a known address that relocation may move.
func FromAddr(ip netip.Addr, port uint16, opts ...Option) *Switch {
	return newSwitch(Dynamic(), ip, port, opts)
}

// FromRecord creates a switch from a discovery record.
func FromRecord(rec wemo.DeviceRecord, opts ...Option) *Switch {
	opts = append([]Option{WithSerial(rec.SerialNumber)}, opts...)
	return newSwitch(Dynamic(), rec.IP, rec.Port, opts)
}

func newSwitch(id Identity, ip netip.Addr, port uint16, opts []Option) *Switch {
	s := &Switch{identity: id, ip: ip, port: port}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity returns the switch identity
func (s *Switch) Identity() Identity {
	return s.identity
}

// Serial returns the serial number, or "" if not known yet
func (s *Switch) Serial() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serial
}

// Address returns the cached IP and port. ok is false if either is unknown.
func (s *Switch) Address() (netip.AddrPort, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ip.IsValid() || s.port == 0 {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(s.ip, s.port), true
}

// Host returns "ip:port", the subscription key for this switch
func (s *Switch) Host() string {
	addr, ok := s.Address()
	if !ok {
		return ""
	}
	return addr.String()
}

// BaseURL returns the device HTTP root
func (s *Switch) BaseURL() *url.URL {
	return &url.URL{Scheme: "http", Host: s.Host(), Path: "/"}
}

// SetupURL returns the device description URL
func (s *Switch) SetupURL() *url.URL {
	return s.BaseURL().JoinPath("setup.xml")
}

// BasicEventURL returns the control endpoint URL
func (s *Switch) BasicEventURL() *url.URL {
	return &url.URL{Scheme: "http", Host: s.Host(), Path: soap.ControlPath}
}

// String returns a human-readable representation of the switch
func (s *Switch) String() string {
	return fmt.Sprintf("Switch<%s>", s.BaseURL())
}

// update applies a relocation result. Static identities keep their IP.
func (s *Switch) update(rec wemo.DeviceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.identity.IsStatic() {
		s.ip = rec.IP
	}
	s.port = rec.Port
	if s.serial == "" {
		s.serial = rec.SerialNumber
	}
}

// adopt takes the serial and, for a switch pinned to the same static IP,
// the port of other, which was found to be the same device.
func (s *Switch) adopt(other *Switch) {
	addr, ok := other.Address()
	serial := other.Serial()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.serial == "" {
		s.serial = serial
	}
	if ok && s.identity.IsStatic() && addr.Addr() == s.ip {
		s.port = addr.Port()
	}
}

// TurnOn switches the relay on
func (s *Switch) TurnOn(ctx context.Context, timeout time.Duration) (wemo.State, error) {
	return s.SetState(ctx, wemo.StateOn, timeout)
}

// TurnOff switches the relay off
func (s *Switch) TurnOff(ctx context.Context, timeout time.Duration) (wemo.State, error) {
	return s.SetState(ctx, wemo.StateOff, timeout)
}

// TurnOnWithRetry is TurnOn with relocation on failure
func (s *Switch) TurnOnWithRetry(ctx context.Context, timeout time.Duration) (wemo.State, error) {
	return s.SetStateWithRetry(ctx, wemo.StateOn, timeout)
}

// TurnOffWithRetry is TurnOff with relocation on failure
func (s *Switch) TurnOffWithRetry(ctx context.Context, timeout time.Duration) (wemo.State, error) {
	return s.SetStateWithRetry(ctx, wemo.StateOff, timeout)
}

// GetState queries the current state
func (s *Switch) GetState(ctx context.Context, timeout time.Duration) (wemo.State, error) {
	body, err := s.exchange(ctx, soap.GetBinaryState(), timeout)
	if err != nil {
		return 0, err
	}
	return wemo.ParseBinaryState(string(body))
}

// SetState writes state and returns it on success. Only Off and On can
// be written; anything else fails without contacting the device.
func (s *Switch) SetState(ctx context.Context, state wemo.State, timeout time.Duration) (wemo.State, error) {
	if err := writable(state); err != nil {
		return 0, err
	}
	if _, err := s.exchange(ctx, soap.SetBinaryState(state), timeout); err != nil {
		return 0, err
	}
	return state, nil
}

// GetStateWithRetry is GetState with relocation on failure
func (s *Switch) GetStateWithRetry(ctx context.Context, timeout time.Duration) (wemo.State, error) {
	return s.withRetry(ctx, soap.ActionGetBinaryState, timeout, s.GetState)
}

// SetStateWithRetry is SetState with relocation on failure
func (s *Switch) SetStateWithRetry(ctx context.Context, state wemo.State, timeout time.Duration) (wemo.State, error) {
	if err := writable(state); err != nil {
		return 0, err
	}
	return s.withRetry(ctx, soap.ActionSetBinaryState, timeout, func(ctx context.Context, budget time.Duration) (wemo.State, error) {
		return s.SetState(ctx, state, budget)
	})
}

// Toggle reads the state and writes its inverse within one budget.
func (s *Switch) Toggle(ctx context.Context, timeout time.Duration) (wemo.State, error) {
	return s.toggle(ctx, timeout, s.GetState, s.SetState)
}

// ToggleWithRetry is Toggle with both steps relocating on failure
func (s *Switch) ToggleWithRetry(ctx context.Context, timeout time.Duration) (wemo.State, error) {
	return s.toggle(ctx, timeout, s.GetStateWithRetry, s.SetStateWithRetry)
}

func (s *Switch) toggle(ctx context.Context, timeout time.Duration,
	get func(context.Context, time.Duration) (wemo.State, error),
	set func(context.Context, wemo.State, time.Duration) (wemo.State, error),
) (wemo.State, error) {
	start := time.Now()

	current, err := get(ctx, timeout)
	if err != nil {
		return 0, err
	}

	remaining := timeout - time.Since(start)
	if remaining <= 0 {
		return 0, wemo.NewTimeoutError("toggle", "state read used the whole budget")
	}

	switch current {
	case wemo.StateOff:
		return set(ctx, wemo.StateOn, remaining)
	case wemo.StateOn, wemo.StateOnWithoutLoad:
		return set(ctx, wemo.StateOff, remaining)
	default:
		return 0, wemo.NewProtocolError("toggle", fmt.Sprintf("cannot invert %s", current))
	}
}

// withRetry runs op once with FirstAttemptTimeout, then on failure
// relocates and runs it exactly once more with whatever budget is left.
func (s *Switch) withRetry(ctx context.Context, action string, timeout time.Duration,
	op func(context.Context, time.Duration) (wemo.State, error),
) (wemo.State, error) {
	start := time.Now()

	state, err := op(ctx, FirstAttemptTimeout)
	if err == nil {
		return state, nil
	}
	logging.Debug("First attempt failed, relocating",
		zap.String("switch", s.String()),
		zap.String("action", action),
		zap.Error(err),
	)

	remaining := timeout - time.Since(start)
	if remaining <= 0 {
		return 0, &wemo.Error{Type: wemo.ErrTypeTimeout, Op: action, Message: "budget exhausted by first attempt", Err: err}
	}

	if _, err := s.Relocate(ctx, remaining); err != nil {
		return 0, err
	}

	remaining = timeout - time.Since(start)
	if remaining <= 0 {
		return 0, wemo.NewTimeoutError(action, "budget exhausted by relocation")
	}
	return op(ctx, remaining)
}

// Relocate searches for the switch, by serial number when known and by
// its last address otherwise, and updates the cached address. Failing to
// find it within timeout is a Timeout error.
func (s *Switch) Relocate(ctx context.Context, timeout time.Duration) (wemo.DeviceRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	locator := s.locator
	if locator == nil {
		searcher := ssdp.NewSearcher()
		searcher.Metrics = s.metrics
		locator = searcher
	}

	s.mu.RLock()
	serial, ip := s.serial, s.ip
	s.mu.RUnlock()

	var (
		rec   wemo.DeviceRecord
		found bool
		err   error
		by    string
	)
	switch {
	case serial != "":
		by = "serial " + serial
		rec, found, err = locator.SearchForSerial(ctx, serial, timeout)
	case ip.IsValid():
		by = "ip " + ip.String()
		rec, found, err = locator.SearchForIP(ctx, ip, timeout)
	default:
		s.metrics.ObserveRelocation(metrics.ResultError)
		return wemo.DeviceRecord{}, wemo.NewProtocolError("relocate", "neither serial nor address known")
	}

	if err != nil {
		s.metrics.ObserveRelocation(metrics.ResultError)
		return wemo.DeviceRecord{}, &wemo.Error{Type: wemo.ErrTypeTimeout, Op: "relocate", Message: "search by " + by + " failed", Err: err}
	}
	if !found {
		s.metrics.ObserveRelocation(metrics.ResultTimeout)
		return wemo.DeviceRecord{}, wemo.NewTimeoutError("relocate", "no device answered for "+by)
	}

	s.update(rec)
	s.metrics.ObserveRelocation(metrics.ResultOK)
	logging.Info("Switch relocated",
		zap.String("by", by),
		zap.String("found", rec.Host()),
		zap.String("switch", s.String()),
	)
	return rec, nil
}

// exchange performs one SOAP request against the cached address and
// returns the response body.
func (s *Switch) exchange(ctx context.Context, req soap.Request, timeout time.Duration) ([]byte, error) {
	addr, ok := s.Address()
	if !ok {
		return nil, wemo.NewProtocolError(req.Action, "device address unknown")
	}

	start := time.Now()
	body, err := s.post(ctx, addr, req, timeout)
	elapsed := time.Since(start)

	s.metrics.ObserveControl(req.Action, metrics.ResultOf(err, wemo.IsTimeout), elapsed)
	logging.LogControl(addr.String(), req.Action, err, elapsed)
	return body, err
}

func (s *Switch) post(ctx context.Context, addr netip.AddrPort, req soap.Request, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := soap.Connect(ctx, addr.Addr(), addr.Port())
	if err != nil {
		return nil, err
	}
	raw, err := client.Post(ctx, req, timeout)
	if err != nil {
		return nil, err
	}
	return soap.ResponseBody(req.Action, raw)
}

func writable(state wemo.State) error {
	if state != wemo.StateOff && state != wemo.StateOn {
		return wemo.NewProtocolError(soap.ActionSetBinaryState, fmt.Sprintf("state %s cannot be written", state))
	}
	return nil
}
