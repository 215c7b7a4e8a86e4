// Package progress shows a live table of hosts while a collection run is
// in flight. Hosts move from waiting to their final status as outcomes
// arrive from the executor.
package progress

import (
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/bubbles/v2/table"
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/agent462/netcollect/internal/executor"
	"github.com/agent462/netcollect/internal/report"
)

var (
	colorGreen  = lipgloss.Color("#04B575")
	colorRed    = lipgloss.Color("#FF4672")
	colorYellow = lipgloss.Color("#FDFF90")
	colorSubtle = lipgloss.Color("#626262")

	headerStyle = lipgloss.NewStyle().Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	warnStyle   = lipgloss.NewStyle().Foreground(colorYellow)
	failStyle   = lipgloss.NewStyle().Foreground(colorRed)
	subtleStyle = lipgloss.NewStyle().Foreground(colorSubtle)
)

const refreshInterval = 250 * time.Millisecond

// OutcomeMsg reports that a host finished.
type OutcomeMsg struct {
	Outcome *executor.HostOutcome
}

// DoneMsg ends the program once every host has reported.
type DoneMsg struct{}

type tickMsg time.Time

type hostRow struct {
	name     string
	status   string
	commands int
	got      int
	duration time.Duration
	err      string
}

// Model is the bubbletea model for the progress table.
type Model struct {
	table   table.Model
	rows    []hostRow
	index   map[string]int
	started time.Time
	now     time.Time
	counts  map[executor.Status]int
	done    bool
}

// New creates a Model with every host waiting.
func New(hosts []executor.Host) Model {
	m := Model{
		rows:    make([]hostRow, 0, len(hosts)),
		index:   make(map[string]int, len(hosts)),
		started: time.Now(),
		counts:  make(map[executor.Status]int),
	}
	m.now = m.started
	for _, h := range hosts {
		if _, dup := m.index[h.Name]; dup {
			continue
		}
		m.index[h.Name] = len(m.rows)
		m.rows = append(m.rows, hostRow{name: h.Name, status: "waiting", commands: len(h.Commands)})
	}

	height := len(m.rows) + 1
	if height > 20 {
		height = 20
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Host", Width: 24},
			{Title: "Status", Width: 8},
			{Title: "Cmds", Width: 7},
			{Title: "Time", Width: 8},
			{Title: "Error", Width: 40},
		}),
		table.WithRows(buildRows(m.rows)),
		table.WithFocused(false),
		table.WithHeight(height),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorSubtle).
		BorderBottom(true).
		Bold(true)
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)
	m.table = t
	return m
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the elapsed-time refresh.
func (m Model) Init() tea.Cmd {
	return tick()
}

// Update applies host outcomes and refreshes the clock.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case OutcomeMsg:
		m.apply(msg.Outcome)
		m.table.SetRows(buildRows(m.rows))
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		if m.done {
			return m, nil
		}
		return m, tick()

	case DoneMsg:
		m.done = true
		m.now = time.Now()
		return m, tea.Quit

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m *Model) apply(o *executor.HostOutcome) {
	if o == nil {
		return
	}
	i, ok := m.index[o.Host]
	if !ok {
		m.index[o.Host] = len(m.rows)
		m.rows = append(m.rows, hostRow{name: o.Host})
		i = len(m.rows) - 1
	}
	r := &m.rows[i]
	if r.status == "waiting" || r.status == "" {
		m.counts[o.Status]++
	}
	r.status = o.Status.String()
	r.commands = len(o.Results)
	r.got = len(o.Succeeded())
	r.duration = o.Duration
	r.err = ""
	if o.Err != nil {
		r.err = firstLine(report.FailureMessage(o.Err))
	}
}

// Finished returns how many hosts have reported.
func (m Model) Finished() int {
	n := 0
	for _, c := range m.counts {
		n += c
	}
	return n
}

// View renders the header, host table and tally.
func (m Model) View() tea.View {
	var b strings.Builder

	elapsed := m.now.Sub(m.started).Round(100 * time.Millisecond)
	b.WriteString(headerStyle.Render(fmt.Sprintf("Collecting from %d hosts", len(m.rows))))
	b.WriteString(subtleStyle.Render(fmt.Sprintf("  %d/%d done  %s", m.Finished(), len(m.rows), elapsed)))
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")

	tally := []string{okStyle.Render(fmt.Sprintf("%d ok", m.counts[executor.Success]))}
	if n := m.counts[executor.PartialFailure]; n > 0 {
		tally = append(tally, warnStyle.Render(fmt.Sprintf("%d partial", n)))
	}
	if n := m.counts[executor.TotalFailure]; n > 0 {
		tally = append(tally, failStyle.Render(fmt.Sprintf("%d failed", n)))
	}
	b.WriteString(strings.Join(tally, subtleStyle.Render(" · ")))
	b.WriteString("\n")

	return tea.NewView(b.String())
}

func buildRows(rows []hostRow) []table.Row {
	out := make([]table.Row, len(rows))
	for i, r := range rows {
		cmds := fmt.Sprintf("%d", r.commands)
		dur := ""
		if r.status != "waiting" {
			cmds = fmt.Sprintf("%d/%d", r.got, r.commands)
			dur = formatDuration(r.duration)
		}
		out[i] = table.Row{r.name, r.status, cmds, dur, r.err}
	}
	return out
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// Run shows the table on out while collect runs, feeding it the observer
// collect must pass to the executor. It returns collect's report once both
// the run and the program have finished.
func Run(out io.Writer, hosts []executor.Host, collect func(executor.Observer) *executor.RunReport) (*executor.RunReport, error) {
	p := tea.NewProgram(New(hosts), tea.WithInput(nil), tea.WithOutput(out))

	var report *executor.RunReport
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		report = collect(func(o *executor.HostOutcome) {
			p.Send(OutcomeMsg{Outcome: o})
		})
		p.Send(DoneMsg{})
	}()

	_, err := p.Run()
	<-finished
	return report, err
}
