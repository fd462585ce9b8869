// Package metrics defines the prometheus collectors for discovery, control
// and subscription activity. A nil *Metrics is valid and records nothing,
// so library code can take one unconditionally.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wemo"

// Result label values
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

// Notification label values
const (
	NotificationDispatched   = "dispatched"
	NotificationUnregistered = "unregistered"
	NotificationUnparsed     = "unparsed"
	NotificationDropped      = "dropped"
)

// Metrics holds every collector exported by the wemo tools.
type Metrics struct {
	Searches         *prometheus.CounterVec
	SearchDuration   prometheus.Histogram
	SSDPResponses    *prometheus.CounterVec
	ControlRequests  *prometheus.CounterVec
	ControlDuration  *prometheus.HistogramVec
	Relocations      *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	Renewals         *prometheus.CounterVec
	Subscriptions    prometheus.Gauge
	WebsocketClients prometheus.Gauge
	MQTTCommands     *prometheus.CounterVec
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Searches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ssdp",
			Name:      "searches_total",
			Help:      "SSDP searches started, by kind (all, serial, ip).",
		}, []string{"kind"}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ssdp",
			Name:      "search_duration_seconds",
			Help:      "Wall time of SSDP searches.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}),
		SSDPResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ssdp",
			Name:      "responses_total",
			Help:      "Datagrams received during searches, by result (accepted, ignored).",
		}, []string{"result"}),
		ControlRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "requests_total",
			Help:      "SOAP control requests, by action and result.",
		}, []string{"action", "result"}),
		ControlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "control",
			Name:      "request_duration_seconds",
			Help:      "Wall time of SOAP control requests.",
			Buckets:   []float64{.01, .025, .05, .1, .3, .5, 1, 2},
		}, []string{"action"}),
		Relocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relocations_total",
			Help:      "Relocation attempts after a failed first attempt, by result.",
		}, []string{"result"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Inbound event notifications, by result.",
		}, []string{"result"}),
		Renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "renewals_total",
			Help:      "Subscription renewals, by result.",
		}, []string{"result"}),
		Subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Hosts currently subscribed.",
		}),
		WebsocketClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "websocket_clients",
			Help:      "Connected notification stream clients.",
		}),
		MQTTCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mqtt",
			Name:      "commands_total",
			Help:      "Commands received over MQTT, by command and result.",
		}, []string{"command", "result"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Searches, m.SearchDuration, m.SSDPResponses,
			m.ControlRequests, m.ControlDuration, m.Relocations,
			m.Notifications, m.Renewals, m.Subscriptions,
			m.WebsocketClients, m.MQTTCommands,
		)
	}
	return m
}

// ResultOf maps an error to a result label. isTimeout is passed in so this
// package does not depend on the error taxonomy.
func ResultOf(err error, isTimeout func(error) bool) string {
	switch {
	case err == nil:
		return ResultOK
	case isTimeout != nil && isTimeout(err):
		return ResultTimeout
	default:
		return ResultError
	}
}

// ObserveSearch records one finished search
func (m *Metrics) ObserveSearch(kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Searches.WithLabelValues(kind).Inc()
	m.SearchDuration.Observe(elapsed.Seconds())
}

// ObserveResponse records one received datagram
func (m *Metrics) ObserveResponse(accepted bool) {
	if m == nil {
		return
	}
	result := "ignored"
	if accepted {
		result = "accepted"
	}
	m.SSDPResponses.WithLabelValues(result).Inc()
}

// ObserveControl records one SOAP exchange
func (m *Metrics) ObserveControl(action, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ControlRequests.WithLabelValues(action, result).Inc()
	m.ControlDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ObserveRelocation records one relocation attempt
func (m *Metrics) ObserveRelocation(result string) {
	if m == nil {
		return
	}
	m.Relocations.WithLabelValues(result).Inc()
}

// ObserveNotification records one inbound notification
func (m *Metrics) ObserveNotification(result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(result).Inc()
}

// ObserveRenewal records one renewal SUBSCRIBE
func (m *Metrics) ObserveRenewal(result string) {
	if m == nil {
		return
	}
	m.Renewals.WithLabelValues(result).Inc()
}

// SetSubscriptions sets the subscription gauge
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.Subscriptions.Set(float64(n))
}

// AddWebsocketClients adjusts the websocket client gauge
func (m *Metrics) AddWebsocketClients(delta int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Add(float64(delta))
}

// ObserveMQTTCommand records one command received over MQTT
func (m *Metrics) ObserveMQTTCommand(command, result string) {
	if m == nil {
		return
	}
	m.MQTTCommands.WithLabelValues(command, result).Inc()
}
