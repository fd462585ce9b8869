package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/wemo/internal/config"
	"github.com/muurk/wemo/internal/device"
	"github.com/muurk/wemo/internal/logging"
	"github.com/muurk/wemo/internal/metrics"
	"github.com/muurk/wemo/internal/subscription"
	"github.com/muurk/wemo/internal/wemo"
)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

// Commands accepted on set topics
const (
	CommandOn     = "on"
	CommandOff    = "off"
	CommandToggle = "toggle"
)

// Options configures a Bridge.
type Options struct {
	Prefix  string        // Topic prefix, "wemo" if empty
	QoS     byte          // QoS for publishes and the set subscription
	Timeout time.Duration // Control budget per command
	Retry   bool          // Use the relocating operations
	Metrics *metrics.Metrics
}

// Bridge mirrors switch states to MQTT and applies commands from it.
//
//	<prefix>/<key>/state   retained, on|off|on_without_load|unknown
//	<prefix>/<key>/set     on|off|toggle
//	<prefix>/bridge/status retained, online|offline
//
// key is the switch serial when known, otherwise its ip:port.
type Bridge struct {
	broker Broker
	fleet  *device.Fleet
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a bridge over an already connected broker.
func New(broker Broker, fleet *device.Fleet, opts Options) *Bridge {
	if opts.Prefix == "" {
		opts.Prefix = "wemo"
	}
	opts.Prefix = strings.TrimSuffix(opts.Prefix, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{broker: broker, fleet: fleet, opts: opts, ctx: ctx, cancel: cancel}
}

// Connect dials the broker in cfg and starts a bridge for fleet.
func Connect(cfg config.MQTTConfig, fleet *device.Fleet, control config.ControlConfig, m *metrics.Metrics) (*Bridge, error) {
	opts := Options{
		Prefix:  cfg.TopicPrefix,
		QoS:     cfg.QoS,
		Timeout: control.Timeout,
		Retry:   control.Retry,
		Metrics: m,
	}
	broker, err := Dial(cfg, statusTopic(opts.Prefix))
	if err != nil {
		return nil, err
	}
	b := New(broker, fleet, opts)
	if err := b.Start(); err != nil {
		broker.Close()
		return nil, err
	}
	return b, nil
}

func statusTopic(prefix string) string {
	if prefix == "" {
		prefix = "wemo"
	}
	return strings.TrimSuffix(prefix, "/") + "/bridge/status"
}

// StateTopic returns the state topic for key
func (b *Bridge) StateTopic(key string) string {
	return b.opts.Prefix + "/" + key + "/state"
}

// Start announces the bridge, subscribes to set topics and publishes
// every state the fleet already knows.
func (b *Bridge) Start() error {
	if err := b.broker.Publish(statusTopic(b.opts.Prefix), b.opts.QoS, true, []byte(statusOnline)); err != nil {
		return fmt.Errorf("publish bridge status: %w", err)
	}
	if err := b.broker.Subscribe(b.opts.Prefix+"/+/set", b.opts.QoS, b.handleSet); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	for _, st := range b.fleet.Statuses() {
		if st.Known {
			b.publish(st.Key, st.State)
		}
	}
	return nil
}

// Close marks the bridge offline and disconnects. In-flight commands are
// cancelled.
func (b *Bridge) Close() {
	b.cancel()
	if err := b.broker.Publish(statusTopic(b.opts.Prefix), b.opts.QoS, true, []byte(statusOffline)); err != nil {
		logging.Debug("Failed to publish offline status", zap.Error(err))
	}
	b.broker.Close()
}

// PublishState publishes state for the switch identified by key
func (b *Bridge) PublishState(key string, state wemo.State) error {
	return b.broker.Publish(b.StateTopic(key), b.opts.QoS, true, []byte(state.String()))
}

func (b *Bridge) publish(key string, state wemo.State) {
	if err := b.PublishState(key, state); err != nil {
		logging.Warn("Failed to publish switch state", zap.String("key", key), zap.Error(err))
	}
}

// Notify is a subscription handler that records and publishes pushed
// state changes. Notifications from hosts outside the fleet are published
// under their host.
func (b *Bridge) Notify(n subscription.Notification) {
	key := n.Host
	if st, ok := b.fleet.Status(n.Host); ok {
		key = st.Key
		b.fleet.Record(n.Host, n.State, nil)
	}
	b.publish(key, n.State)
}

// keyFromTopic extracts <key> from <prefix>/<key>/set
func (b *Bridge) keyFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.opts.Prefix+"/")
	if !ok {
		return "", false
	}
	key, ok := strings.CutSuffix(rest, "/set")
	if !ok || key == "" || strings.Contains(key, "/") {
		return "", false
	}
	return key, true
}

func (b *Bridge) handleSet(topic string, payload []byte) {
	command := strings.ToLower(strings.TrimSpace(string(payload)))

	key, ok := b.keyFromTopic(topic)
	if !ok {
		logging.Debug("Ignoring command on unexpected topic", zap.String("topic", topic))
		return
	}
	sw, ok := b.fleet.Get(key)
	if !ok {
		logging.Warn("Command for unknown switch", zap.String("key", key), zap.String("command", command))
		b.opts.Metrics.ObserveMQTTCommand(command, "unknown_device")
		return
	}

	op, ok := b.operation(command)
	if !ok {
		logging.Warn("Unsupported command", zap.String("key", key), zap.String("command", command))
		b.opts.Metrics.ObserveMQTTCommand("invalid", metrics.ResultError)
		return
	}

	state, err := op(sw, b.ctx, b.opts.Timeout)
	b.opts.Metrics.ObserveMQTTCommand(command, metrics.ResultOf(err, wemo.IsTimeout))
	b.fleet.Record(key, state, err)
	if err != nil {
		logging.Warn("Command failed", zap.String("key", key), zap.String("command", command), zap.Error(err))
		return
	}
	b.publish(device.Key(sw), state)
}

func (b *Bridge) operation(command string) (device.Op, bool) {
	switch command {
	case CommandOn:
		if b.opts.Retry {
			return (*device.Switch).TurnOnWithRetry, true
		}
		return (*device.Switch).TurnOn, true
	case CommandOff:
		if b.opts.Retry {
			return (*device.Switch).TurnOffWithRetry, true
		}
		return (*device.Switch).TurnOff, true
	case CommandToggle:
		if b.opts.Retry {
			return (*device.Switch).ToggleWithRetry, true
		}
		return (*device.Switch).Toggle, true
	}
	return nil, false
}
