package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/muurk/wemo/internal/config"
	"github.com/muurk/wemo/internal/device"
	"github.com/muurk/wemo/internal/metrics"
	"github.com/muurk/wemo/internal/ssdp"
	"github.com/muurk/wemo/internal/ui"
	"github.com/muurk/wemo/internal/wemo"
)

// Command flags
var (
	outputFormat string
	findSerial   string
	findIP       string
	switchSerial string
	staticIP     bool
)

func init() {
	scanCmd.Flags().StringVar(&outputFormat, "format", formatTable, "Output format (table, yaml, json)")
	findCmd.Flags().StringVar(&findSerial, "serial", "", "Serial number to find")
	findCmd.Flags().StringVar(&findIP, "ip", "", "IPv4 address to find")
	findCmd.Flags().StringVar(&outputFormat, "format", formatTable, "Output format (table, yaml, json)")
	findCmd.MarkFlagsMutuallyExclusive("serial", "ip")
	findCmd.MarkFlagsOneRequired("serial", "ip")

	for _, c := range []*cobra.Command{onCmd, offCmd, toggleCmd, stateCmd} {
		c.Flags().StringVar(&switchSerial, "serial", "", "Serial number, used to relocate the switch by serial")
		c.Flags().BoolVar(&staticIP, "static", false, "Never change the IP address during relocation")
		c.Flags().StringVar(&outputFormat, "format", formatTable, "Output format (table, yaml, json)")
		rootCmd.AddCommand(c)
	}
	allCmd.Flags().StringVar(&outputFormat, "format", formatTable, "Output format (table, yaml, json)")

	rootCmd.AddCommand(scanCmd, findCmd, allCmd)
}

// newSearcher builds a searcher from the discovery config
func newSearcher(m *metrics.Metrics) (*ssdp.Searcher, error) {
	s := ssdp.NewSearcher()
	s.ResendInterval = cfg.Discovery.ResendInterval
	s.Metrics = m
	if name := cfg.Discovery.Interface; name != "" {
		ifi, err := net.InterfaceByName(name)
		if err != nil {
			return nil, fmt.Errorf("interface %s: %w", name, err)
		}
		s.Interface = ifi
	}
	return s, nil
}

// parseAddress accepts "ip" or "ip:port"; the port defaults to 49153
func parseAddress(arg string) (netip.Addr, uint16, error) {
	if ap, err := netip.ParseAddrPort(arg); err == nil {
		if !ap.Addr().Is4() {
			return netip.Addr{}, 0, fmt.Errorf("%s is not an IPv4 address", arg)
		}
		return ap.Addr(), ap.Port(), nil
	}
	ip, err := netip.ParseAddr(arg)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, 0, fmt.Errorf("%s is not an IPv4 address or ip:port", arg)
	}
	return ip, device.DefaultPort, nil
}

// staticSwitches returns the switches pinned in the config file
func staticSwitches(devices []config.StaticDevice, opts ...device.Option) ([]*device.Switch, error) {
	out := make([]*device.Switch, 0, len(devices))
	for _, d := range devices {
		ip, err := netip.ParseAddr(d.IP)
		if err != nil {
			return nil, fmt.Errorf("device %s: %w", d.IP, err)
		}
		port := d.Port
		if port == 0 {
			port = device.DefaultPort
		}
		swOpts := append([]device.Option{}, opts...)
		if d.Serial != "" {
			swOpts = append(swOpts, device.WithSerial(d.Serial))
		}
		out = append(out, device.FromStaticIP(ip, port, swOpts...))
	}
	return out, nil
}

// discoverFleet scans and merges the results with configured switches
func discoverFleet(ctx context.Context, searcher *ssdp.Searcher, m *metrics.Metrics) (*device.Fleet, error) {
	opts := []device.Option{device.WithLocator(searcher), device.WithMetrics(m)}
	pinned, err := staticSwitches(cfg.Devices, opts...)
	if err != nil {
		return nil, err
	}
	fleet := device.NewFleet(pinned...)

	records, err := searcher.Search(ctx, cfg.Discovery.Timeout)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		fleet.Add(device.FromRecord(rec, opts...))
	}
	return fleet, nil
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover switches on the network",
	Long: `Send SSDP searches and list every WeMo switch that answers.

Lightswitch, Insight and Socket devices are recognised.`,
	Example: `  wemo scan
  wemo scan --scan-timeout 10s --format yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		searcher, err := newSearcher(nil)
		if err != nil {
			return err
		}
		records, err := searcher.Search(cmd.Context(), cfg.Discovery.Timeout)
		if err != nil {
			return err
		}
		return printRecords(cmd.OutOrStdout(), outputFormat, records)
	},
}

var findCmd = &cobra.Command{
	Use:   "find",
	Short: "Find one switch by serial number or IP address",
	Long: `Search until the given switch answers or the scan timeout expires.

Exits with an error if the switch was not found.`,
	Example: `  wemo find --serial 221517K0101769
  wemo find --ip 192.168.1.20`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		searcher, err := newSearcher(nil)
		if err != nil {
			return err
		}

		var (
			rec   wemo.DeviceRecord
			found bool
		)
		if findSerial != "" {
			rec, found, err = searcher.SearchForSerial(cmd.Context(), findSerial, cfg.Discovery.Timeout)
		} else {
			ip, perr := netip.ParseAddr(findIP)
			if perr != nil || !ip.Is4() {
				return fmt.Errorf("%s is not an IPv4 address", findIP)
			}
			rec, found, err = searcher.SearchForIP(cmd.Context(), ip, cfg.Discovery.Timeout)
		}
		if err != nil {
			return err
		}
		if !found {
			return errors.New("switch not found")
		}
		return printRecords(cmd.OutOrStdout(), outputFormat, map[string]wemo.DeviceRecord{rec.SerialNumber: rec})
	},
}

// switchOp is a control operation with and without relocation
type switchOp struct {
	title    string
	plain    device.Op
	retrying device.Op
}

func (o switchOp) pick(retry bool) device.Op {
	if retry {
		return o.retrying
	}
	return o.plain
}

var (
	opOn     = switchOp{"Switched on", (*device.Switch).TurnOn, (*device.Switch).TurnOnWithRetry}
	opOff    = switchOp{"Switched off", (*device.Switch).TurnOff, (*device.Switch).TurnOffWithRetry}
	opToggle = switchOp{"Toggled", (*device.Switch).Toggle, (*device.Switch).ToggleWithRetry}
	opState  = switchOp{"Current state", (*device.Switch).GetState, (*device.Switch).GetStateWithRetry}
)

func switchCommand(use, short string, op switchOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <ip[:port]>",
		Short: short,
		Example: fmt.Sprintf(`  wemo %[1]s 192.168.1.20
  wemo %[1]s 192.168.1.20:49154 --serial 221517K0101769
  wemo %[1]s 192.168.1.20 --static --retry=false`, use),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwitch(cmd, args[0], op)
		},
	}
}

var (
	onCmd     = switchCommand("on", "Switch a switch on", opOn)
	offCmd    = switchCommand("off", "Switch a switch off", opOff)
	toggleCmd = switchCommand("toggle", "Invert the state of a switch", opToggle)
	stateCmd  = switchCommand("state", "Read the state of a switch", opState)
)

func runSwitch(cmd *cobra.Command, addr string, op switchOp) error {
	ip, port, err := parseAddress(addr)
	if err != nil {
		return err
	}
	searcher, err := newSearcher(nil)
	if err != nil {
		return err
	}

	opts := []device.Option{device.WithLocator(searcher)}
	if switchSerial != "" {
		opts = append(opts, device.WithSerial(switchSerial))
	}
	var sw *device.Switch
	if staticIP {
		sw = device.FromStaticIP(ip, port, opts...)
	} else {
		sw = device.FromAddr(ip, port, opts...)
	}

	state, opErr := op.pick(cfg.Control.Retry)(sw, cmd.Context(), cfg.Control.Timeout)

	fleet := device.NewFleet(sw)
	fleet.Record(device.Key(sw), state, opErr)
	st, _ := fleet.Status(device.Key(sw))
	if done, err := encode(cmd.OutOrStdout(), outputFormat, st); done {
		if err != nil {
			return err
		}
		return opErr
	}

	if opErr != nil {
		fmt.Fprintln(os.Stderr, ui.NewFailureResult(op.title+" failed", opErr).Render())
		return opErr
	}
	details := map[string]string{
		"Host":  sw.Host(),
		"State": state.Description(),
		"Code":  strconv.Itoa(int(state.Code())),
	}
	if serial := sw.Serial(); serial != "" {
		details["Serial"] = serial
	}
	fmt.Fprintln(cmd.OutOrStdout(), ui.NewSuccessResult(op.title, details).Render())
	return nil
}

var allCmd = &cobra.Command{
	Use:   "all <on|off|toggle|state>",
	Short: "Apply an operation to every discovered switch",
	Long: `Discover switches, add those pinned in the config file, and apply
the operation to all of them concurrently. One failing switch does not
stop the others; the command fails if any switch failed.`,
	Example: `  wemo all off
  wemo all state --format json`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "toggle", "state"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ops := map[string]switchOp{"on": opOn, "off": opOff, "toggle": opToggle, "state": opState}
		op, ok := ops[args[0]]
		if !ok {
			return fmt.Errorf("unknown operation %q (want on, off, toggle or state)", args[0])
		}

		searcher, err := newSearcher(nil)
		if err != nil {
			return err
		}
		fleet, err := discoverFleet(cmd.Context(), searcher, nil)
		if err != nil {
			return err
		}
		if fleet.Len() == 0 {
			return errors.New("no switches found")
		}

		statuses := fleet.Apply(cmd.Context(), op.pick(cfg.Control.Retry), cfg.Control.Timeout)
		if err := printStatuses(cmd.OutOrStdout(), outputFormat, statuses); err != nil {
			return err
		}
		failed := 0
		for _, st := range statuses {
			if st.Err != "" {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d switches failed", failed, len(statuses))
		}
		return nil
	},
}
