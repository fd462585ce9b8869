package device

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/muurk/wemo/internal/wemo"
)

// fleetConcurrency bounds parallel control calls in Refresh and Apply
const fleetConcurrency = 8

// Status is the last known state of a switch in a Fleet.
type Status struct {
	Key       string     `json:"key" yaml:"key"`
	Serial    string     `json:"serial,omitempty" yaml:"serial,omitempty"`
	Host      string     `json:"host" yaml:"host"`
	Static    bool       `json:"static" yaml:"static"`
	State     wemo.State `json:"-" yaml:"-"`
	StateName string     `json:"state" yaml:"state"`
	Known     bool       `json:"known" yaml:"known"`
	Err       string     `json:"error,omitempty" yaml:"error,omitempty"`
	UpdatedAt time.Time  `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

type member struct {
	sw        *Switch
	state     wemo.State
	known     bool
	err       error
	updatedAt time.Time
}

// Fleet is a set of switches with their last known states, shared by the
// long-running commands. Switches are addressed by serial when known,
// otherwise by host.
type Fleet struct {
	mu      sync.RWMutex
	members []*member
}

// NewFleet returns a fleet holding switches
func NewFleet(switches ...*Switch) *Fleet {
	f := &Fleet{}
	for _, sw := range switches {
		f.Add(sw)
	}
	return f
}

// Key returns the identifier used for sw in topics and API paths
func Key(sw *Switch) string {
	if serial := sw.Serial(); serial != "" {
		return serial
	}
	return sw.Host()
}

// Add inserts sw unless the fleet already holds the same device, matched
// by key, by host, or by IP when either switch is pinned to a static IP.
// A duplicate is not added; the switch already present learns its serial
// and port from sw instead. It reports whether sw was added.
func (f *Fleet) Add(sw *Switch) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if sameDevice(m.sw, sw) {
			m.sw.adopt(sw)
			return false
		}
	}
	f.members = append(f.members, &member{sw: sw})
	return true
}

func sameDevice(a, b *Switch) bool {
	sa, sb := a.Serial(), b.Serial()
	if sa != "" && sb != "" {
		return sa == sb
	}
	aa, aok := a.Address()
	ba, bok := b.Address()
	if !aok || !bok {
		return Key(a) == Key(b)
	}
	if aa == ba {
		return true
	}
	return (a.identity.IsStatic() || b.identity.IsStatic()) && aa.Addr() == ba.Addr()
}

// Get finds a switch by serial or by host
func (f *Fleet) Get(key string) (*Switch, bool) {
	m := f.find(key)
	if m == nil {
		return nil, false
	}
	return m.sw, true
}

func (f *Fleet) find(key string) *member {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, m := range f.members {
		if m.sw.Serial() == key || m.sw.Host() == key {
			return m
		}
	}
	return nil
}

// Len returns the number of switches
func (f *Fleet) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.members)
}

// Switches returns the switches sorted by key
func (f *Fleet) Switches() []*Switch {
	f.mu.RLock()
	out := make([]*Switch, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, m.sw)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return Key(out[i]) < Key(out[j]) })
	return out
}

// Record stores the outcome of an operation on the switch identified by
// key. A nil error with a state marks the state as known. It returns false
// for unknown keys.
func (f *Fleet) Record(key string, state wemo.State, err error) bool {
	m := f.find(key)
	if m == nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m.err = err
	m.updatedAt = time.Now()
	if err == nil {
		m.state = state
		m.known = true
	}
	return true
}

// Status returns the last known state of the switch identified by key
func (f *Fleet) Status(key string) (Status, bool) {
	m := f.find(key)
	if m == nil {
		return Status{}, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return m.status(), true
}

// Statuses returns a snapshot of all switches sorted by key
func (f *Fleet) Statuses() []Status {
	f.mu.RLock()
	out := make([]Status, 0, len(f.members))
	for _, m := range f.members {
		out = append(out, m.status())
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (m *member) status() Status {
	s := Status{
		Key:       Key(m.sw),
		Serial:    m.sw.Serial(),
		Host:      m.sw.Host(),
		Static:    m.sw.Identity().IsStatic(),
		State:     m.state,
		StateName: "unknown",
		Known:     m.known,
		UpdatedAt: m.updatedAt,
	}
	if m.known {
		s.StateName = m.state.String()
	}
	if m.err != nil {
		s.Err = m.err.Error()
	}
	return s
}

// Op is a control operation applied across a fleet, e.g.
// (*Switch).ToggleWithRetry.
type Op func(sw *Switch, ctx context.Context, timeout time.Duration) (wemo.State, error)

// Apply runs op on every switch concurrently, each with its own timeout,
// and records the results. Failures do not stop the other switches; the
// returned statuses carry per-switch errors.
func (f *Fleet) Apply(ctx context.Context, op Op, timeout time.Duration) []Status {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fleetConcurrency)

	for _, sw := range f.Switches() {
		g.Go(func() error {
			key := Key(sw)
			state, err := op(sw, gctx, timeout)
			// the key may change when relocation learns the serial
			if !f.Record(key, state, err) {
				f.Record(Key(sw), state, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return f.Statuses()
}

// Refresh reads the state of every switch
func (f *Fleet) Refresh(ctx context.Context, timeout time.Duration, retry bool) []Status {
	op := (*Switch).GetState
	if retry {
		op = (*Switch).GetStateWithRetry
	}
	return f.Apply(ctx, op, timeout)
}
