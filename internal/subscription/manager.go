package subscription

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/muurk/wemo/internal/logging"
	"github.com/muurk/wemo/internal/metrics"
	"github.com/muurk/wemo/internal/wemo"
)

// Defaults
const (
	DefaultCallbackPort    = 3000
	DefaultTTL             = 300 * time.Second
	DefaultRenewInterval   = 30 * time.Second
	DefaultSendTimeout     = time.Second
	DefaultCallbackTimeout = 5 * time.Second

	// bulkConcurrency bounds parallel SUBSCRIBEs in SubscribeAll and renewal
	bulkConcurrency = 8
)

// Notification is one state change pushed by a device.
type Notification struct {
	Host       string     // Subscription key, "ip:port"
	State      wemo.State // Reported state
	ReceivedAt time.Time
}

// Handler receives notifications for one subscription.
type Handler func(Notification)

// Config configures a Manager. Zero values take the defaults above.
type Config struct {
	// ListenAddr is the callback listener bind address (default all interfaces)
	ListenAddr string
	// CallbackPort is the port devices post notifications to. Zero with
	// ListenAddr set picks an ephemeral port, and Subscribe fails until
	// Start has bound it.
	CallbackPort uint16
	// TTL is the subscription lifetime requested from devices
	TTL time.Duration
	// RenewInterval is the renewal loop period
	RenewInterval time.Duration
	// SendTimeout bounds each SUBSCRIBE exchange
	SendTimeout time.Duration
	// CallbackTimeout bounds how long the listener waits on a handler
	CallbackTimeout time.Duration
	// RenewRate limits renewal SUBSCRIBEs per second; zero is unlimited
	RenewRate float64
	// LocalIP resolves the address devices should call back to
	LocalIP func() (netip.Addr, error)
	// Metrics is optional
	Metrics *metrics.Metrics
}

func (c *Config) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.RenewInterval <= 0 {
		c.RenewInterval = DefaultRenewInterval
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	if c.CallbackTimeout <= 0 {
		c.CallbackTimeout = DefaultCallbackTimeout
	}
	if c.LocalIP == nil {
		c.LocalIP = LocalIPv4
	}
	if c.CallbackPort == 0 && c.ListenAddr == "" {
		c.CallbackPort = DefaultCallbackPort
	}
}

type subscription struct {
	handler       Handler
	sid           string
	subscribedAt  time.Time
	renewedAt     time.Time
	lastErr       error
	notifications atomic.Uint64
}

// Info describes one subscription
type Info struct {
	Host          string    `json:"host"`
	SID           string    `json:"sid,omitempty"`
	SubscribedAt  time.Time `json:"subscribed_at"`
	RenewedAt     time.Time `json:"renewed_at"`
	LastError     string    `json:"last_error,omitempty"`
	Notifications uint64    `json:"notifications"`
}

// Manager owns the subscription table, the inbound callback listener and
// the renewal loop. The table is shared by the public API, the listener
// (read-only) and the renewal loop.
type Manager struct {
	cfg     Config
	limiter *rate.Limiter

	mu   sync.RWMutex
	subs map[string]*subscription

	lifeMu   sync.Mutex
	running  bool
	server   *http.Server
	port     atomic.Uint32 // bound callback port while running
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopping atomic.Bool
}

// NewManager creates a manager. Nothing is started until Start.
func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:  cfg,
		subs: make(map[string]*subscription),
	}
	if cfg.RenewRate > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RenewRate), 1)
	}
	return m
}

// CallbackPort returns the port advertised to devices: the bound port
// while the listener runs, else the configured one.
func (m *Manager) CallbackPort() uint16 {
	if p := m.port.Load(); p != 0 {
		return uint16(p)
	}
	return m.cfg.CallbackPort
}

// Subscribe sends a SUBSCRIBE to host ("ip:port") and, if it was
// delivered, registers handler for its notifications. handler may be nil.
// Subscribing to an already registered host replaces its handler.
func (m *Manager) Subscribe(ctx context.Context, host string, handler Handler) error {
	if _, err := netip.ParseAddrPort(host); err != nil {
		return wemo.NewSubscriptionError(host, "host must be ip:port", err)
	}

	port := m.CallbackPort()
	if port == 0 {
		return wemo.NewSubscriptionError(host, "callback port not bound, start the listener first", nil)
	}

	local, err := m.cfg.LocalIP()
	if err != nil {
		return err
	}

	sid, err := sendSubscribe(ctx, host, CallbackURL(local, port, host), m.cfg.TTL, m.cfg.SendTimeout)
	if err != nil {
		return err
	}

	now := time.Now()
	m.mu.Lock()
	m.subs[host] = &subscription{handler: handler, sid: sid, subscribedAt: now, renewedAt: now}
	n := len(m.subs)
	m.mu.Unlock()

	m.cfg.Metrics.SetSubscriptions(n)
	logging.Info("Subscribed",
		zap.String("host", host),
		zap.String("sid", sid),
		zap.Duration("ttl", m.cfg.TTL),
		zap.Stringer("callback_ip", local),
	)
	return nil
}

// SubscribeAll subscribes to every record concurrently with the same
// handler. All records are attempted; the returned error joins every
// failure.
func (m *Manager) SubscribeAll(ctx context.Context, records []wemo.DeviceRecord, handler Handler) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(bulkConcurrency)
	for _, rec := range records {
		host := rec.Host()
		g.Go(func() error {
			if err := m.Subscribe(ctx, host, handler); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Unsubscribe forgets host. Nothing is sent to the device; its
// subscription lapses at the end of its TTL.
func (m *Manager) Unsubscribe(host string) bool {
	m.mu.Lock()
	_, ok := m.subs[host]
	delete(m.subs, host)
	n := len(m.subs)
	m.mu.Unlock()

	if ok {
		m.cfg.Metrics.SetSubscriptions(n)
		logging.Info("Unsubscribed", zap.String("host", host))
	}
	return ok
}

// Hosts returns the subscribed hosts, sorted
func (m *Manager) Hosts() []string {
	m.mu.RLock()
	hosts := make([]string, 0, len(m.subs))
	for h := range m.subs {
		hosts = append(hosts, h)
	}
	m.mu.RUnlock()
	slices.Sort(hosts)
	return hosts
}

// Snapshot returns a description of every subscription, sorted by host
func (m *Manager) Snapshot() []Info {
	m.mu.RLock()
	out := make([]Info, 0, len(m.subs))
	for h, s := range m.subs {
		info := Info{
			Host:          h,
			SID:           s.sid,
			SubscribedAt:  s.subscribedAt,
			RenewedAt:     s.renewedAt,
			Notifications: s.notifications.Load(),
		}
		if s.lastErr != nil {
			info.LastError = s.lastErr.Error()
		}
		out = append(out, info)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b Info) int {
		switch {
		case a.Host < b.Host:
			return -1
		case a.Host > b.Host:
			return 1
		}
		return 0
	})
	return out
}

// Running reports whether the listener is up
func (m *Manager) Running() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.running
}

// Start launches the callback listener and the renewal loop and returns
// once both are running. Calling Start on a running manager does nothing.
func (m *Manager) Start() error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.running {
		return nil
	}

	addr := net.JoinHostPort(m.cfg.ListenAddr, strconv.Itoa(int(m.cfg.CallbackPort)))
	ln, err := net.Listen("tcp4", addr)
	if err != nil {
		return wemo.NewNetworkError("listen "+addr, err)
	}
	m.port.Store(uint32(ln.Addr().(*net.TCPAddr).Port))

	m.stopping.Store(false)
	m.server = &http.Server{
		Handler:           m,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(2)
	go func(srv *http.Server) {
		defer m.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Callback listener stopped", zap.Error(err))
		}
	}(m.server)
	go func() {
		defer m.wg.Done()
		m.renewLoop(ctx)
	}()

	m.running = true
	logging.Info("Subscription listener started",
		zap.String("addr", ln.Addr().String()),
		zap.Duration("renew_interval", m.cfg.RenewInterval),
	)
	return nil
}

// Stop cancels and joins the renewal loop and closes the listener.
// In-flight handler calls may finish, bounded by ctx; no new dispatch
// starts once Stop is called. Calling Stop on a stopped manager does
// nothing.
func (m *Manager) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if !m.running {
		return nil
	}

	m.stopping.Store(true)
	m.cancel()

	err := m.server.Shutdown(ctx)
	if err != nil {
		// Deadline hit with handlers still running
		_ = m.server.Close()
	}
	m.wg.Wait()

	m.running = false
	m.server = nil
	m.cancel = nil
	m.port.Store(0)

	logging.Info("Subscription listener stopped")
	if err != nil {
		return fmt.Errorf("callback listener shutdown: %w", err)
	}
	return nil
}

func (m *Manager) renewLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.renewAll(ctx)
		}
	}
}

// renewAll re-subscribes every host in a snapshot of the table. Each host
// is renewed independently; failures are recorded and logged only.
func (m *Manager) renewAll(ctx context.Context) {
	hosts := m.Hosts()
	if len(hosts) == 0 {
		return
	}

	local, err := m.cfg.LocalIP()
	if err != nil {
		logging.Warn("Skipping renewal", zap.Error(err))
		for range hosts {
			m.cfg.Metrics.ObserveRenewal(metrics.ResultError)
		}
		return
	}
	port := m.CallbackPort()

	var g errgroup.Group
	g.SetLimit(bulkConcurrency)
	for _, host := range hosts {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				break
			}
		}
		g.Go(func() error {
			sid, err := sendSubscribe(ctx, host, CallbackURL(local, port, host), m.cfg.TTL, m.cfg.SendTimeout)
			m.recordRenewal(host, sid, err)
			return nil
		})
	}
	_ = g.Wait()
}

func (m *Manager) recordRenewal(host, sid string, err error) {
	m.cfg.Metrics.ObserveRenewal(metrics.ResultOf(err, wemo.IsTimeout))

	m.mu.Lock()
	if s, ok := m.subs[host]; ok {
		s.lastErr = err
		if err == nil {
			s.renewedAt = time.Now()
			if sid != "" {
				s.sid = sid
			}
		}
	}
	m.mu.Unlock()

	if err != nil {
		logging.Warn("Subscription renewal failed", zap.String("host", host), zap.Error(err))
		return
	}
	logging.Debug("Subscription renewed", zap.String("host", host))
}
