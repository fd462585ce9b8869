package bridge

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/muurk/wemo/internal/config"
	"github.com/muurk/wemo/internal/logging"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Broker is the subset of an MQTT client the bridge needs.
type Broker interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	Close()
}

// pahoBroker adapts a paho client. Subscriptions are restored on every
// reconnect since the session is not persistent.
type pahoBroker struct {
	client pahomqtt.Client

	mu   sync.Mutex
	subs map[string]pahoSub
}

type pahoSub struct {
	qos     byte
	handler pahomqtt.MessageHandler
}

// Dial connects to the broker in cfg. The will message marks the bridge
// offline on statusTopic if the connection drops.
func Dial(cfg config.MQTTConfig, statusTopic string) (Broker, error) {
	b := &pahoBroker{subs: make(map[string]pahoSub)}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetOrderMatters(false).
		SetMaxReconnectInterval(time.Minute).
		SetConnectTimeout(connectTimeout).
		SetWill(statusTopic, statusOffline, cfg.QoS, true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		logging.Info("MQTT connected", zap.String("broker", cfg.Broker))
		b.mu.Lock()
		defer b.mu.Unlock()
		for topic, sub := range b.subs {
			c.Subscribe(topic, sub.qos, sub.handler)
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logging.Warn("MQTT connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
	})

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout after %v", cfg.Broker, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return b, nil
}

func (b *pahoBroker) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := b.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	return token.Error()
}

func (b *pahoBroker) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	wrapped := func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}

	b.mu.Lock()
	b.subs[topic] = pahoSub{qos: qos, handler: wrapped}
	b.mu.Unlock()

	token := b.client.Subscribe(topic, qos, wrapped)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt subscribe %s: timeout", topic)
	}
	return token.Error()
}

func (b *pahoBroker) Close() {
	b.client.Disconnect(disconnectQuiesce)
}
