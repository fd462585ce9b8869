package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/wemo/internal/bridge"
	"github.com/muurk/wemo/internal/device"
	"github.com/muurk/wemo/internal/logging"
	"github.com/muurk/wemo/internal/metrics"
	"github.com/muurk/wemo/internal/server"
	"github.com/muurk/wemo/internal/ssdp"
	"github.com/muurk/wemo/internal/subscription"
	"github.com/muurk/wemo/internal/tui"
	"github.com/muurk/wemo/internal/ui"
	"github.com/muurk/wemo/internal/wemo"
)

var (
	watchJSON  bool
	dashFollow bool
	serveHost  string
	servePort  int
)

func init() {
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "Print one JSON object per notification")
	dashCmd.Flags().BoolVar(&dashFollow, "follow", true, "Subscribe to switches and show pushed state changes")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen address (default from config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default from config)")

	rootCmd.AddCommand(watchCmd, serveCmd, dashCmd)
}

// newManager builds a subscription manager from the subscriptions config
func newManager(m *metrics.Metrics) *subscription.Manager {
	s := cfg.Subscriptions
	return subscription.NewManager(subscription.Config{
		ListenAddr:      s.ListenAddr,
		CallbackPort:    s.CallbackPort,
		TTL:             s.TTL,
		RenewInterval:   s.RenewInterval,
		SendTimeout:     s.SendTimeout,
		CallbackTimeout: s.CallbackTimeout,
		RenewRate:       s.RenewRate,
		Metrics:         m,
	})
}

// subscribeFleet subscribes to every switch with a known address
func subscribeFleet(ctx context.Context, mgr *subscription.Manager, fleet *device.Fleet, handler subscription.Handler) error {
	var records []wemo.DeviceRecord
	for _, sw := range fleet.Switches() {
		addr, ok := sw.Address()
		if !ok {
			continue
		}
		records = append(records, wemo.DeviceRecord{SerialNumber: sw.Serial(), IP: addr.Addr(), Port: addr.Port()})
	}
	return mgr.SubscribeAll(ctx, records, handler)
}

func stopManager(mgr *subscription.Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Stop(ctx); err != nil {
		logging.Warn("Subscription manager did not stop cleanly", zap.Error(err))
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print state changes pushed by switches",
	Long: `Discover switches, subscribe to their events and print every state
change until interrupted. Subscriptions are renewed in the background.`,
	Example: `  wemo watch
  wemo watch --json | jq .`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		searcher, err := newSearcher(nil)
		if err != nil {
			return err
		}
		fleet, err := discoverFleet(ctx, searcher, nil)
		if err != nil {
			return err
		}
		if fleet.Len() == 0 {
			return fmt.Errorf("no switches found")
		}

		mgr := newManager(nil)
		if err := mgr.Start(); err != nil {
			return err
		}
		defer stopManager(mgr)

		out := cmd.OutOrStdout()
		enc := json.NewEncoder(out)
		handler := func(n subscription.Notification) {
			key, serial := n.Host, ""
			if st, ok := fleet.Status(n.Host); ok {
				key, serial = st.Key, st.Serial
			}
			if watchJSON {
				_ = enc.Encode(server.Event{Host: n.Host, Serial: serial, State: n.State.String(), Code: n.State.Code(), At: n.ReceivedAt})
				return
			}
			fmt.Fprintf(out, "%s  %-24s %s\n", n.ReceivedAt.Format("15:04:05"), key, ui.RenderState(n.State.String()))
		}

		if err := subscribeFleet(ctx, mgr, fleet, handler); err != nil {
			logging.Warn("Some subscriptions failed", zap.Error(err))
			fmt.Fprintln(os.Stderr, ui.NewFailureResult("Some subscriptions failed", err).Render())
		}
		if len(mgr.Hosts()) == 0 {
			return fmt.Errorf("no switch accepted a subscription")
		}
		fmt.Fprintf(os.Stderr, "Watching %d switches on callback port %d, Ctrl+C to stop\n", len(mgr.Hosts()), mgr.CallbackPort())

		<-ctx.Done()
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring server and MQTT bridge",
	Long: `Discover switches, subscribe to their events and serve them:

  GET  /ws                           live state notifications
  GET  /metrics                      prometheus metrics
  GET  /api/devices                  last known states
  POST /api/devices/{key}/{command}  on, off, toggle or state

When mqtt.broker is configured, states are also published to MQTT and
commands are accepted on <prefix>/<serial>/set.`,
	Example: `  wemo serve
  WEMO_MQTT_BROKER=tcp://localhost:1883 wemo serve --port 9090`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.LogLevel == "" {
		if err := logging.Initialize("info"); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	searcher, err := newSearcher(m)
	if err != nil {
		return err
	}
	fleet, err := discoverFleet(cmd.Context(), searcher, m)
	if err != nil {
		return err
	}
	fleet.Refresh(cmd.Context(), cfg.Control.Timeout, cfg.Control.Retry)
	logging.Info("Discovered switches", zap.Int("count", fleet.Len()))

	mgr := newManager(m)

	host, port := cfg.Server.Host, cfg.Server.Port
	if serveHost != "" {
		host = serveHost
	}
	if servePort != 0 {
		port = servePort
	}
	srv := server.New(server.Config{
		Host:           host,
		Port:           port,
		ControlTimeout: cfg.Control.Timeout,
		Retry:          cfg.Control.Retry,
	}, server.Deps{Fleet: fleet, Subscriptions: mgr, Gatherer: reg, Metrics: m})

	handlers := []subscription.Handler{srv.Notify}
	if cfg.MQTT.Enabled() {
		b, err := bridge.Connect(cfg.MQTT, fleet, cfg.Control, m)
		if err != nil {
			return err
		}
		defer b.Close()
		handlers = append(handlers, b.Notify)
		logging.Info("MQTT bridge connected", zap.String("broker", cfg.MQTT.Broker), zap.String("prefix", cfg.MQTT.TopicPrefix))
	}

	if err := mgr.Start(); err != nil {
		return err
	}
	defer stopManager(mgr)

	fanOut := func(n subscription.Notification) {
		for _, h := range handlers {
			h(n)
		}
	}
	if err := subscribeFleet(cmd.Context(), mgr, fleet, fanOut); err != nil {
		logging.Warn("Some subscriptions failed", zap.Error(err))
	}

	return srv.Start()
}

var dashCmd = &cobra.Command{
	Use:   "dash",
	Short: "Interactive dashboard",
	Long: `Show every switch with its state. Space toggles the selected switch,
r rescans and q quits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		searcher, err := newSearcher(nil)
		if err != nil {
			return err
		}
		swOpts := []device.Option{device.WithLocator(searcher)}
		pinned, err := staticSwitches(cfg.Devices, swOpts...)
		if err != nil {
			return err
		}
		fleet := device.NewFleet(pinned...)

		opts := tui.Options{
			ScanTimeout:    cfg.Discovery.Timeout,
			ControlTimeout: cfg.Control.Timeout,
			Retry:          cfg.Control.Retry,
			SwitchOptions:  swOpts,
		}

		if dashFollow {
			// Subscriptions need addresses up front, so scan before the UI starts.
			records, err := searcher.Search(cmd.Context(), cfg.Discovery.Timeout)
			if err != nil {
				return err
			}
			for _, rec := range records {
				fleet.Add(device.FromRecord(rec, swOpts...))
			}

			mgr := newManager(nil)
			if err := mgr.Start(); err != nil {
				return err
			}
			defer stopManager(mgr)

			ch := make(chan subscription.Notification, 64)
			push := func(n subscription.Notification) {
				select {
				case ch <- n:
				default:
				}
			}
			if err := subscribeFleet(cmd.Context(), mgr, fleet, push); err != nil {
				logging.Warn("Some subscriptions failed", zap.Error(err))
			}
			opts.Notifications = ch
		}

		return tui.Run(tui.New(searcher, fleet, opts))
	},
}

// ensure the searcher satisfies the interfaces it is used through
var (
	_ device.Locator = (*ssdp.Searcher)(nil)
	_ tui.Scanner    = (*ssdp.Searcher)(nil)
)
