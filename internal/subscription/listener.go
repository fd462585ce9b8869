package subscription

import (
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/wemo/internal/logging"
	"github.com/muurk/wemo/internal/metrics"
	"github.com/muurk/wemo/internal/wemo"
)

// maxNotification bounds the notification body we read
const maxNotification = 64 * 1024

// ServeHTTP handles device notifications. It always answers 200: devices
// drop subscriptions whose callbacks return errors.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer w.WriteHeader(http.StatusOK)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotification))
	if err != nil {
		logging.Debug("Unreadable notification body", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		m.cfg.Metrics.ObserveNotification(metrics.NotificationUnparsed)
		return
	}
	logging.LogRawBytes("Notification", body)

	host := r.URL.Query().Get("from")

	if !strings.Contains(string(body), "BinaryState") {
		m.cfg.Metrics.ObserveNotification(metrics.NotificationUnparsed)
		return
	}
	state, err := wemo.ParseBinaryState(string(body))
	if err != nil {
		logging.Debug("Unparseable notification", zap.String("host", host), zap.Error(err))
		m.cfg.Metrics.ObserveNotification(metrics.NotificationUnparsed)
		return
	}

	m.mu.RLock()
	sub, ok := m.subs[host]
	m.mu.RUnlock()
	if !ok {
		logging.LogNotification(host, state.String(), false)
		m.cfg.Metrics.ObserveNotification(metrics.NotificationUnregistered)
		return
	}
	sub.notifications.Add(1)

	if sub.handler == nil || m.stopping.Load() {
		logging.LogNotification(host, state.String(), false)
		m.cfg.Metrics.ObserveNotification(metrics.NotificationDropped)
		return
	}

	logging.LogNotification(host, state.String(), true)
	m.dispatch(sub.handler, Notification{Host: host, State: state, ReceivedAt: time.Now()})
}

// dispatch runs handler and waits for it up to CallbackTimeout. A handler
// that overruns keeps running but no longer holds the request.
func (m *Manager) dispatch(handler Handler, n Notification) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				logging.Error("Notification handler panicked", zap.String("host", n.Host), zap.Any("panic", r))
			}
		}()
		handler(n)
	}()

	timer := time.NewTimer(m.cfg.CallbackTimeout)
	defer timer.Stop()

	select {
	case <-done:
		m.cfg.Metrics.ObserveNotification(metrics.NotificationDispatched)
	case <-timer.C:
		logging.Warn("Notification handler is slow, not waiting",
			zap.String("host", n.Host),
			zap.Duration("waited", m.cfg.CallbackTimeout),
		)
		m.cfg.Metrics.ObserveNotification(metrics.NotificationDropped)
	}
}
