package config

import (
	"time"
)

// Config is the effective configuration of the wemo tools.
type Config struct {
	LogLevel      string              `mapstructure:"log_level" yaml:"log_level"`
	Discovery     DiscoveryConfig     `mapstructure:"discovery" yaml:"discovery"`
	Control       ControlConfig       `mapstructure:"control" yaml:"control"`
	Subscriptions SubscriptionsConfig `mapstructure:"subscriptions" yaml:"subscriptions"`
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	MQTT          MQTTConfig          `mapstructure:"mqtt" yaml:"mqtt"`
	Devices       []StaticDevice      `mapstructure:"devices" yaml:"devices,omitempty"`
}

// DiscoveryConfig configures SSDP searches.
type DiscoveryConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ResendInterval time.Duration `mapstructure:"resend_interval" yaml:"resend_interval"`
	Interface      string        `mapstructure:"interface" yaml:"interface,omitempty"` // Multicast interface name
}

// ControlConfig configures SOAP control calls.
type ControlConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"` // Total budget per operation
	Retry   bool          `mapstructure:"retry" yaml:"retry"`     // Relocate and retry on failure
}

// SubscriptionsConfig configures event subscriptions.
type SubscriptionsConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	CallbackPort    uint16        `mapstructure:"callback_port" yaml:"callback_port"`
	TTL             time.Duration `mapstructure:"ttl" yaml:"ttl"`
	RenewInterval   time.Duration `mapstructure:"renew_interval" yaml:"renew_interval"`
	SendTimeout     time.Duration `mapstructure:"send_timeout" yaml:"send_timeout"`
	CallbackTimeout time.Duration `mapstructure:"callback_timeout" yaml:"callback_timeout"`
	RenewRate       float64       `mapstructure:"renew_rate" yaml:"renew_rate"` // SUBSCRIBEs per second, 0 = unlimited
}

// ServerConfig configures the monitoring server.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// MQTTConfig configures the MQTT bridge. An empty Broker disables it.
type MQTTConfig struct {
	Broker      string `mapstructure:"broker" yaml:"broker,omitempty"`
	ClientID    string `mapstructure:"client_id" yaml:"client_id"`
	Username    string `mapstructure:"username" yaml:"username,omitempty"`
	Password    string `mapstructure:"password" yaml:"-"` // Never written back to disk
	TopicPrefix string `mapstructure:"topic_prefix" yaml:"topic_prefix"`
	QoS         byte   `mapstructure:"qos" yaml:"qos"`
}

// Enabled reports whether a broker is configured
func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

// StaticDevice is a switch pinned to a fixed IP address.
type StaticDevice struct {
	IP     string `mapstructure:"ip" yaml:"ip"`
	Port   uint16 `mapstructure:"port" yaml:"port,omitempty"`
	Serial string `mapstructure:"serial" yaml:"serial,omitempty"`
}
