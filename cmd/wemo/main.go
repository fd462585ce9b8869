// Wemo discovers and controls Belkin WeMo switches on the local network.
//
// It finds switches with SSDP, switches them on and off over the UPnP
// basicevent service, follows their state through event subscriptions and
// can expose them over HTTP, websockets and MQTT.
//
// Usage:
//
//	wemo [command] [flags]
//
// See 'wemo --help' for available commands.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/muurk/wemo/internal/config"
	"github.com/muurk/wemo/internal/logging"
	"github.com/muurk/wemo/internal/version"
)

func main() {
	defer logging.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	v          = viper.New()
	cfg        *config.Config
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "wemo",
	Short: "Discover and control WeMo switches",
	Long: `A command line utility for Belkin WeMo switches.

Finds switches with SSDP, reads and changes their state over UPnP,
follows state changes through event subscriptions, and serves them
to dashboards, websocket clients and MQTT.

Configuration is read from $XDG_CONFIG_HOME/wemo/config.yaml, a .env
file in the working directory and WEMO_* environment variables.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		loaded, err := config.Load(v, configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return logging.Initialize(cfg.LogLevel)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default $XDG_CONFIG_HOME/wemo/config.yaml)")
	flags.String("log-level", "", "Log level (debug, info, warn, error); silent when empty")
	flags.Duration("timeout", 0, "Total budget for each control operation")
	flags.Duration("scan-timeout", 0, "How long discovery listens for switches")
	flags.Bool("retry", true, "Relocate a switch and retry once when an operation fails")
	flags.String("interface", "", "Network interface for SSDP multicast")

	mustBind("log_level", "log-level")
	mustBind("control.timeout", "timeout")
	mustBind("discovery.timeout", "scan-timeout")
	mustBind("control.retry", "retry")
	mustBind("discovery.interface", "interface")

	rootCmd.AddCommand(versionCmd)
}

// mustBind binds a persistent flag to a config key. Viper only takes the
// flag value when the flag was set on the command line.
func mustBind(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("wemo %s (commit: %s)\n", version.Version, version.Commit)
	},
}
