package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/muurk/wemo/internal/device"
	"github.com/muurk/wemo/internal/ui"
	"github.com/muurk/wemo/internal/wemo"
)

// Output formats
const (
	formatTable = "table"
	formatYAML  = "yaml"
	formatJSON  = "json"
)

// recordView is the printable form of a discovery record
type recordView struct {
	Serial       string    `json:"serial" yaml:"serial"`
	Model        string    `json:"model" yaml:"model"`
	Host         string    `json:"host" yaml:"host"`
	SetupURL     string    `json:"setup_url" yaml:"setup_url"`
	DiscoveredAt time.Time `json:"discovered_at" yaml:"discovered_at"`
}

func viewRecords(records map[string]wemo.DeviceRecord) []recordView {
	out := make([]recordView, 0, len(records))
	for _, rec := range records {
		rv := recordView{
			Serial:       rec.SerialNumber,
			Model:        rec.Model,
			Host:         rec.Host(),
			DiscoveredAt: rec.DiscoveredAt,
		}
		if rec.SetupURL != nil {
			rv.SetupURL = rec.SetupURL.String()
		}
		out = append(out, rv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// encode writes v as yaml or json. It reports false for the table format.
func encode(w io.Writer, format string, v any) (bool, error) {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	case formatTable, "":
		return false, nil
	}
	return true, fmt.Errorf("unknown format %q (want table, yaml or json)", format)
}

func printRecords(w io.Writer, format string, records map[string]wemo.DeviceRecord) error {
	views := viewRecords(records)
	if done, err := encode(w, format, views); done {
		return err
	}
	if len(views) == 0 {
		fmt.Fprintln(w, "No switches found.")
		for _, hint := range []string{
			"Check this machine is on the same network as the switches",
			"Multicast must be allowed; try --interface to pick the right one",
			"Increase --scan-timeout on busy networks",
		} {
			fmt.Fprintln(w, ui.HintStyle.Render("  • "+hint))
		}
		return nil
	}

	t := &ui.Table{Headers: []string{"serial", "model", "host", "setup url"}}
	for _, rv := range views {
		t.Rows = append(t.Rows, []string{rv.Serial, rv.Model, rv.Host, rv.SetupURL})
	}
	fmt.Fprintln(w, t.Render())
	return nil
}

func printStatuses(w io.Writer, format string, statuses []device.Status) error {
	if done, err := encode(w, format, statuses); done {
		return err
	}
	t := &ui.Table{
		Headers: []string{"switch", "host", "state", "error"},
		Style: func(col int, value string) string {
			if col == 2 {
				return ui.RenderState(value)
			}
			return value
		},
	}
	for _, st := range statuses {
		t.Rows = append(t.Rows, []string{st.Key, st.Host, st.StateName, st.Err})
	}
	fmt.Fprintln(w, t.Render())
	return nil
}
