package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. WEMO_CONTROL_TIMEOUT.
const EnvPrefix = "WEMO"

var fileMutex sync.Mutex

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "",
		Discovery: DiscoveryConfig{
			Timeout:        3 * time.Second,
			ResendInterval: 300 * time.Millisecond,
		},
		Control: ControlConfig{
			Timeout: 3 * time.Second,
			Retry:   true,
		},
		Subscriptions: SubscriptionsConfig{
			ListenAddr:      "0.0.0.0",
			CallbackPort:    3000,
			TTL:             300 * time.Second,
			RenewInterval:   30 * time.Second,
			SendTimeout:     time.Second,
			CallbackTimeout: 5 * time.Second,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		MQTT: MQTTConfig{
			ClientID:    "wemo-bridge",
			TopicPrefix: "wemo",
		},
	}
}

// SetDefaults registers Default() on v so that every key is known to
// viper, which AutomaticEnv needs to resolve nested keys on Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("discovery.timeout", d.Discovery.Timeout)
	v.SetDefault("discovery.resend_interval", d.Discovery.ResendInterval)
	v.SetDefault("discovery.interface", d.Discovery.Interface)

	v.SetDefault("control.timeout", d.Control.Timeout)
	v.SetDefault("control.retry", d.Control.Retry)

	v.SetDefault("subscriptions.listen_addr", d.Subscriptions.ListenAddr)
	v.SetDefault("subscriptions.callback_port", d.Subscriptions.CallbackPort)
	v.SetDefault("subscriptions.ttl", d.Subscriptions.TTL)
	v.SetDefault("subscriptions.renew_interval", d.Subscriptions.RenewInterval)
	v.SetDefault("subscriptions.send_timeout", d.Subscriptions.SendTimeout)
	v.SetDefault("subscriptions.callback_timeout", d.Subscriptions.CallbackTimeout)
	v.SetDefault("subscriptions.renew_rate", d.Subscriptions.RenewRate)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.topic_prefix", d.MQTT.TopicPrefix)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
}

// Load resolves the configuration from, in increasing precedence: defaults,
// the YAML file, WEMO_* environment variables and any flags already bound
// on v. An explicit path must exist; the default path is optional.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		dir, err := GetConfigDir()
		if err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and addresses.
func (c *Config) Validate() error {
	var errs []error

	if c.Discovery.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("discovery.timeout must be positive"))
	}
	if c.Discovery.ResendInterval <= 0 {
		errs = append(errs, fmt.Errorf("discovery.resend_interval must be positive"))
	}
	if c.Control.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("control.timeout must be positive"))
	}

	s := c.Subscriptions
	if net.ParseIP(s.ListenAddr) == nil {
		errs = append(errs, fmt.Errorf("subscriptions.listen_addr %q is not an IP address", s.ListenAddr))
	}
	if s.TTL < time.Second {
		errs = append(errs, fmt.Errorf("subscriptions.ttl must be at least 1s"))
	}
	if s.RenewInterval <= 0 || s.RenewInterval >= s.TTL {
		errs = append(errs, fmt.Errorf("subscriptions.renew_interval must be positive and shorter than ttl"))
	}
	if s.SendTimeout <= 0 || s.CallbackTimeout <= 0 {
		errs = append(errs, fmt.Errorf("subscriptions timeouts must be positive"))
	}
	if s.RenewRate < 0 {
		errs = append(errs, fmt.Errorf("subscriptions.renew_rate must not be negative"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2"))
	}

	for i, d := range c.Devices {
		ip, err := netip.ParseAddr(d.IP)
		if err != nil || !ip.Is4() {
			errs = append(errs, fmt.Errorf("devices[%d].ip %q is not an IPv4 address", i, d.IP))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// YAML renders c as a config file.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}

// WriteDefault writes the default configuration to path, or to the default
// location when path is empty, and returns the path written. An existing
// file is left alone unless force is set.
func WriteDefault(path string, force bool) (string, error) {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return "", fmt.Errorf("failed to get config path: %w", err)
		}
		path = p
	}

	if _, err := os.Stat(path); err == nil && !force {
		return path, fmt.Errorf("config file %s already exists", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	cfg := Default()
	data, err := cfg.YAML()
	if err != nil {
		return "", err
	}

	header := []byte(`# WeMo configuration file
#
# Every key can be overridden by an environment variable, e.g.
# WEMO_CONTROL_TIMEOUT=5s or WEMO_MQTT_BROKER=tcp://localhost:1883.
# The MQTT password is only read from WEMO_MQTT_PASSWORD.
#
# Location: ` + path + `

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to save config file: %w", err)
	}
	return path, nil
}
