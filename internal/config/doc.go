// Package config loads configuration for the wemo command and its services.
//
// Values are layered, lowest precedence first:
//
//  1. built-in defaults (Default)
//  2. a YAML file, by default $XDG_CONFIG_HOME/wemo/config.yaml
//  3. WEMO_* environment variables, with dots replaced by underscores
//     (WEMO_SUBSCRIPTIONS_CALLBACK_PORT=3001)
//  4. command-line flags bound on the viper instance
//
// The configuration file follows platform conventions:
//   - Linux: $XDG_CONFIG_HOME/wemo/config.yaml or $HOME/.config/wemo/config.yaml
//   - macOS: $HOME/.config/wemo/config.yaml
//   - Windows: %LOCALAPPDATA%\wemo\config.yaml
//
// The MQTT password is never written by WriteDefault or YAML.
package config
