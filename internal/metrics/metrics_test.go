package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSearch("all", time.Second)
		m.ObserveResponse(true)
		m.ObserveControl("GetBinaryState", ResultOK, time.Millisecond)
		m.ObserveRelocation(ResultTimeout)
		m.ObserveNotification(NotificationDispatched)
		m.ObserveRenewal(ResultError)
		m.SetSubscriptions(3)
		m.AddWebsocketClients(1)
		m.ObserveMQTTCommand("on", ResultOK)
	})
}

func TestNew_RegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveControl("SetBinaryState", ResultOK, 20*time.Millisecond)
	m.ObserveControl("SetBinaryState", ResultOK, 20*time.Millisecond)
	m.ObserveResponse(false)
	m.SetSubscriptions(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ControlRequests.WithLabelValues("SetBinaryState", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SSDPResponses.WithLabelValues("ignored")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Subscriptions))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestResultOf(t *testing.T) {
	timeout := errors.New("timeout")
	isTimeout := func(err error) bool { return err == timeout }

	assert.Equal(t, ResultOK, ResultOf(nil, isTimeout))
	assert.Equal(t, ResultTimeout, ResultOf(timeout, isTimeout))
	assert.Equal(t, ResultError, ResultOf(errors.New("other"), isTimeout))
	assert.Equal(t, ResultError, ResultOf(errors.New("other"), nil))
}

func TestExportedNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSearch("all", time.Second)
	m.ObserveResponse(true)
	m.ObserveControl("GetBinaryState", ResultOK, time.Millisecond)
	m.ObserveRelocation(ResultOK)
	m.ObserveNotification(NotificationDispatched)
	m.ObserveRenewal(ResultOK)
	m.SetSubscriptions(1)
	m.AddWebsocketClients(1)
	m.ObserveMQTTCommand("on", ResultOK)

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"wemo_ssdp_searches_total",
		"wemo_ssdp_search_duration_seconds",
		"wemo_ssdp_responses_total",
		"wemo_control_requests_total",
		"wemo_control_request_duration_seconds",
		"wemo_relocations_total",
		"wemo_notifications_total",
		"wemo_subscription_renewals_total",
		"wemo_subscriptions",
		"wemo_server_websocket_clients",
		"wemo_mqtt_commands_total",
	}, names)
}
