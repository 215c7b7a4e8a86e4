package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/agent462/netcollect/internal/executor"
	"github.com/agent462/netcollect/internal/persist"
)

var (
	colorGreen  = lipgloss.Color("#04B575")
	colorRed    = lipgloss.Color("#FF4672")
	colorYellow = lipgloss.Color("#FDFF90")
	colorCyan   = lipgloss.Color("#00E5FF")
	colorSubtle = lipgloss.Color("#626262")

	severityStyles = map[Severity]lipgloss.Style{
		Debug:    lipgloss.NewStyle().Foreground(colorSubtle),
		Info:     lipgloss.NewStyle().Foreground(colorGreen),
		Warning:  lipgloss.NewStyle().Foreground(colorYellow),
		Error:    lipgloss.NewStyle().Foreground(colorRed),
		Critical: lipgloss.NewStyle().Foreground(colorRed).Bold(true),
	}

	hostStyle    = lipgloss.NewStyle().Foreground(colorCyan)
	diffAddStyle = lipgloss.NewStyle().Foreground(colorGreen)
	diffDelStyle = lipgloss.NewStyle().Foreground(colorRed)
	diffHdrStyle = lipgloss.NewStyle().Foreground(colorCyan)
	summaryStyle = lipgloss.NewStyle().Bold(true)
)

// Options controls text rendering.
type Options struct {
	Color bool
	// ShowOutput prints collected command text under host entries.
	ShowOutput bool
}

// Formatter renders report entries as indented, optionally colored text.
type Formatter struct {
	opts Options
}

// NewFormatter creates a Formatter.
func NewFormatter(opts Options) *Formatter {
	return &Formatter{opts: opts}
}

// Render writes every entry at or above minSeverity followed by a summary
// line. persisted may be nil when nothing was written.
func (f *Formatter) Render(w io.Writer, run *executor.RunReport, persisted *persist.Report, minSeverity Severity) error {
	var b strings.Builder

	for _, e := range Filter(Entries(run, persisted), minSeverity) {
		f.writeEntry(&b, e)
	}
	b.WriteString(f.style(summaryStyle, Summary(run, persisted)))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func (f *Formatter) writeEntry(b *strings.Builder, e Entry) {
	label := fmt.Sprintf("%-8s", strings.ToUpper(e.Severity.String()))
	b.WriteString(f.style(severityStyles[e.Severity], label))
	b.WriteString(" ")
	if e.Host != "" {
		b.WriteString(f.style(hostStyle, e.Host))
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	b.WriteString("\n")

	if f.opts.ShowOutput {
		for _, o := range e.Outputs {
			b.WriteString("   ")
			b.WriteString(f.style(hostStyle, "["+o.OutputID+"] "+o.Command))
			b.WriteString("\n")
			writeIndented(b, o.Text)
		}
	}

	if cc := e.Consistency; cc != nil {
		for _, g := range cc.Groups {
			tag := "norm"
			if !g.IsNorm {
				tag = "differs"
			}
			fmt.Fprintf(b, "   %s (%s)\n", f.style(hostStyle, strings.Join(g.Hosts, ", ")), tag)
			if g.Diff != "" {
				f.writeDiff(b, g.Diff)
			}
		}
	}
}

func writeIndented(b *strings.Builder, text string) {
	for _, line := range splitLines(text) {
		b.WriteString("     ")
		b.WriteString(line)
		b.WriteString("\n")
	}
}

func (f *Formatter) writeDiff(b *strings.Builder, diff string) {
	for _, line := range splitLines(diff) {
		b.WriteString("     ")
		switch {
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			b.WriteString(f.style(diffHdrStyle, line))
		case strings.HasPrefix(line, "+"):
			b.WriteString(f.style(diffAddStyle, line))
		case strings.HasPrefix(line, "-"):
			b.WriteString(f.style(diffDelStyle, line))
		default:
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
}

func (f *Formatter) style(s lipgloss.Style, text string) string {
	if !f.opts.Color {
		return text
	}
	return s.Render(text)
}

// Summary returns the one-line tally of a run and its writes.
func Summary(run *executor.RunReport, persisted *persist.Report) string {
	counts := run.Counts()
	parts := []string{fmt.Sprintf("%d succeeded", counts[executor.Success])}
	if n := counts[executor.PartialFailure]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d partial", n))
	}
	if n := counts[executor.TotalFailure]; n > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", n))
	}
	s := strings.Join(parts, ", ")

	if persisted != nil {
		s += fmt.Sprintf("; %d files written to %s", len(persisted.Written()), persisted.Dir)
		if n := len(persisted.Failed()); n > 0 {
			s += fmt.Sprintf(", %d write errors", n)
		}
	}
	return s + fmt.Sprintf(" (%s)", run.Duration.Round(time.Millisecond))
}

type jsonReport struct {
	RunID    string         `json:"run_id"`
	Started  time.Time      `json:"started"`
	Duration string         `json:"duration"`
	Counts   map[string]int `json:"counts"`
	Hosts    []jsonHost     `json:"hosts"`
	Dir      string         `json:"output_dir,omitempty"`
	DirError string         `json:"output_dir_error,omitempty"`
	Files    []jsonFile     `json:"files,omitempty"`
	Entries  []Entry        `json:"entries"`
}

type jsonHost struct {
	Host     string        `json:"host"`
	Status   string        `json:"status"`
	Duration string        `json:"duration"`
	Error    string        `json:"error,omitempty"`
	Commands []jsonCommand `json:"commands,omitempty"`
}

type jsonCommand struct {
	Command  string `json:"command"`
	OutputID string `json:"output_id"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

type jsonFile struct {
	Host      string `json:"host"`
	OutputID  string `json:"output_id"`
	Path      string `json:"path"`
	Bytes     int    `json:"bytes"`
	Overwrote bool   `json:"overwrote,omitempty"`
	Error     string `json:"error,omitempty"`
}

// FormatJSON serializes the run, its writes and the entries at or above
// minSeverity. Command text is left out; it lives in the artifacts.
func FormatJSON(run *executor.RunReport, persisted *persist.Report, minSeverity Severity) ([]byte, error) {
	out := jsonReport{
		RunID:    run.ID,
		Started:  run.Started,
		Duration: run.Duration.String(),
		Counts:   make(map[string]int),
		Entries:  Filter(Entries(run, persisted), minSeverity),
	}
	for status, n := range run.Counts() {
		out.Counts[status.String()] = n
	}
	for i := range out.Entries {
		out.Entries[i].Outputs = nil
	}

	for _, o := range run.Ordered() {
		h := jsonHost{Host: o.Host, Status: o.Status.String(), Duration: o.Duration.String()}
		if o.Err != nil {
			h.Error = o.Err.Error()
		}
		for _, r := range o.Results {
			c := jsonCommand{Command: r.Command, OutputID: r.OutputID, OK: r.OK()}
			if r.Err != nil {
				c.Error = r.Err.Error()
			}
			h.Commands = append(h.Commands, c)
		}
		out.Hosts = append(out.Hosts, h)
	}

	if persisted != nil {
		out.Dir = persisted.Dir
		if persisted.DirErr != nil {
			out.DirError = persisted.DirErr.Error()
		}
		for _, w := range persisted.Writes {
			if w.Skipped {
				continue
			}
			jf := jsonFile{Host: w.Host, OutputID: w.OutputID, Path: w.Path, Bytes: w.Bytes, Overwrote: w.Overwrote}
			if w.Err != nil {
				jf.Error = w.Err.Error()
			}
			out.Files = append(out.Files, jf)
		}
	}

	return json.MarshalIndent(out, "", "  ")
}
