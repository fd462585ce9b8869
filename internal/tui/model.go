package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/muurk/wemo/internal/device"
	"github.com/muurk/wemo/internal/subscription"
	"github.com/muurk/wemo/internal/ui"
	"github.com/muurk/wemo/internal/wemo"
)

// Scanner discovers switches. *ssdp.Searcher satisfies it.
type Scanner interface {
	Search(ctx context.Context, timeout time.Duration) (map[string]wemo.DeviceRecord, error)
}

// Options configures the dashboard.
type Options struct {
	ScanTimeout    time.Duration
	ControlTimeout time.Duration
	Retry          bool
	// SwitchOptions are applied to switches created from scan results.
	SwitchOptions []device.Option
	// Notifications, if set, feeds pushed state changes into the view.
	Notifications <-chan subscription.Notification
}

// Messages for async operations
type scanDoneMsg struct {
	added int
	err   error
}

type refreshDoneMsg struct{}

type opDoneMsg struct {
	key string
	err error
}

type notifyMsg subscription.Notification

// Model is the dashboard: a list of switches with their states.
type Model struct {
	scanner Scanner
	fleet   *device.Fleet
	opts    Options

	statuses []device.Status
	cursor   int
	scanning bool
	busy     map[string]bool
	lastErr  error
	lastScan time.Time

	width   int
	spinner spinner.Model
	help    help.Model
	keys    keyMap
}

// New creates a dashboard over fleet. Switches already in the fleet are
// shown immediately; a scan starts on Init.
func New(scanner Scanner, fleet *device.Fleet, opts Options) Model {
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 3 * time.Second
	}
	if opts.ControlTimeout <= 0 {
		opts.ControlTimeout = 3 * time.Second
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return Model{
		scanner:  scanner,
		fleet:    fleet,
		opts:     opts,
		statuses: fleet.Statuses(),
		scanning: true,
		busy:     make(map[string]bool),
		spinner:  s,
		help:     help.New(),
		keys:     defaultKeyMap(),
	}
}

// Run starts the dashboard and blocks until the user quits
func Run(m Model) error {
	_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	return err
}

// Init starts the first scan
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.startScan(), m.waitForNotification())
}

func (m Model) startScan() tea.Cmd {
	return func() tea.Msg {
		ctx := context.Background()
		added := 0
		var err error
		if m.scanner != nil {
			var found map[string]wemo.DeviceRecord
			found, err = m.scanner.Search(ctx, m.opts.ScanTimeout)
			for _, rec := range found {
				if m.fleet.Add(device.FromRecord(rec, m.opts.SwitchOptions...)) {
					added++
				}
			}
		}
		m.fleet.Refresh(ctx, m.opts.ControlTimeout, m.opts.Retry)
		return scanDoneMsg{added: added, err: err}
	}
}

func (m Model) toggle(sw *device.Switch) tea.Cmd {
	key := device.Key(sw)
	op := (*device.Switch).Toggle
	if m.opts.Retry {
		op = (*device.Switch).ToggleWithRetry
	}
	return func() tea.Msg {
		state, err := op(sw, context.Background(), m.opts.ControlTimeout)
		m.fleet.Record(key, state, err)
		return opDoneMsg{key: key, err: err}
	}
}

func (m Model) waitForNotification() tea.Cmd {
	if m.opts.Notifications == nil {
		return nil
	}
	ch := m.opts.Notifications
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return notifyMsg(n)
	}
}

// Update handles messages and updates the model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.updateKeys(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width

	case scanDoneMsg:
		m.scanning = false
		m.lastErr = msg.err
		m.lastScan = time.Now()
		m.statuses = m.fleet.Statuses()

	case opDoneMsg:
		delete(m.busy, msg.key)
		m.lastErr = msg.err
		m.statuses = m.fleet.Statuses()

	case notifyMsg:
		m.fleet.Record(msg.Host, msg.State, nil)
		m.statuses = m.fleet.Statuses()
		return m, m.waitForNotification()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}

	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.statuses)-1 {
			m.cursor++
		}

	case key.Matches(msg, m.keys.Toggle):
		if m.cursor >= len(m.statuses) {
			return m, nil
		}
		st := m.statuses[m.cursor]
		sw, ok := m.fleet.Get(st.Key)
		if !ok || m.busy[st.Key] {
			return m, nil
		}
		m.busy[st.Key] = true
		return m, m.toggle(sw)

	case key.Matches(msg, m.keys.Refresh):
		if m.scanning {
			return m, nil
		}
		m.scanning = true
		return m, m.startScan()

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	}
	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(AppName))
	b.WriteString("\n")

	switch {
	case m.scanning:
		b.WriteString(m.spinner.View() + " Scanning for switches...\n\n")
	case !m.lastScan.IsZero():
		b.WriteString(SubtitleStyle.Render(fmt.Sprintf("%d switches, last scan %s", len(m.statuses), m.lastScan.Format("15:04:05"))))
		b.WriteString("\n\n")
	default:
		b.WriteString("\n")
	}

	if len(m.statuses) == 0 && !m.scanning {
		b.WriteString(RowStyle.Render("No switches found. Press r to scan again."))
		b.WriteString("\n")
	}

	for i, st := range m.statuses {
		name := st.Key
		if st.Serial != "" && st.Host != "" {
			name = fmt.Sprintf("%s  %s", st.Serial, SubtitleStyle.Render(st.Host))
		}
		state := ui.RenderState(st.StateName)
		if m.busy[st.Key] {
			state = m.spinner.View()
		}
		line := fmt.Sprintf("%-40s %s", name, state)
		if i == m.cursor {
			b.WriteString(SelectedRowStyle.Render("→ ") + line)
		} else {
			b.WriteString(RowStyle.Render(line))
		}
		b.WriteString("\n")
	}

	if m.lastErr != nil {
		b.WriteString("\n")
		b.WriteString(ErrorStyle.Render(m.lastErr.Error()))
		b.WriteString("\n")
	}

	b.WriteString(HelpStyle.Render(m.help.View(m.keys)))
	return b.String()
}
