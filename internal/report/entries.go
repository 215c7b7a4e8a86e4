package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/agent462/netcollect/internal/executor"
	"github.com/agent462/netcollect/internal/persist"
	"github.com/agent462/netcollect/internal/ssh"
)

// Kind names what an entry is about.
type Kind string

const (
	KindHostOK      Kind = "host_ok"
	KindHostPartial Kind = "host_partial"
	KindHostFailed  Kind = "host_failed"
	KindMissing     Kind = "missing_output"
	KindWritten     Kind = "file_written"
	KindOverwrite   Kind = "file_overwritten"
	KindWriteFailed Kind = "write_failed"
	KindAllFailed   Kind = "all_failed"
	KindConsistency Kind = "consistency"
)

// Entry is one line item of a report.
type Entry struct {
	Severity Severity `json:"severity"`
	Kind     Kind     `json:"kind"`
	Host     string   `json:"host,omitempty"`
	OutputID string   `json:"output_id,omitempty"`
	Path     string   `json:"path,omitempty"`
	Message  string   `json:"message"`

	// Outputs holds the collected command text on host entries.
	Outputs []CommandOutput `json:"outputs,omitempty"`
	// Consistency is set on consistency entries.
	Consistency *CommandConsistency `json:"-"`
}

// CommandOutput is the collected text of one command.
type CommandOutput struct {
	OutputID string `json:"output_id"`
	Command  string `json:"command"`
	Text     string `json:"text"`
}

// Entries builds every report entry for a run, host by host in input
// order, followed by consistency entries. persisted may be nil.
func Entries(run *executor.RunReport, persisted *persist.Report) []Entry {
	var out []Entry

	for _, o := range run.Ordered() {
		out = append(out, hostEntries(o)...)
		if persisted != nil {
			out = append(out, writeEntries(persisted.ForHost(o.Host))...)
		}
	}

	if run.AllFailed() {
		out = append(out, Entry{
			Severity: Critical,
			Kind:     KindAllFailed,
			Message:  fmt.Sprintf("all %d hosts failed", len(run.Outcomes)),
		})
	}

	for _, cc := range Consistency(run) {
		msg := fmt.Sprintf("%s identical on %d hosts", cc.OutputID, len(cc.Groups[0].Hosts))
		if !cc.Consistent() {
			msg = fmt.Sprintf("%s differs across hosts (%d variants)", cc.OutputID, len(cc.Groups))
		}
		out = append(out, Entry{
			Severity:    Debug,
			Kind:        KindConsistency,
			OutputID:    cc.OutputID,
			Message:     msg,
			Consistency: &cc,
		})
	}
	return out
}

func hostEntries(o *executor.HostOutcome) []Entry {
	total := len(o.Results)
	okCount := len(o.Succeeded())

	switch o.Status {
	case executor.Success:
		return []Entry{{
			Severity: Info,
			Kind:     KindHostOK,
			Host:     o.Host,
			Message:  fmt.Sprintf("%d/%d commands collected in %s", okCount, total, o.Duration.Round(time.Millisecond)),
			Outputs:  outputsOf(o),
		}}

	case executor.PartialFailure:
		out := []Entry{{
			Severity: Warning,
			Kind:     KindHostPartial,
			Host:     o.Host,
			Message:  fmt.Sprintf("%d/%d commands collected", okCount, total),
			Outputs:  outputsOf(o),
		}}
		return append(out, missingEntries(o)...)

	default:
		msg := "failed"
		if o.Err != nil {
			msg = FailureMessage(o.Err)
		} else if total > 0 {
			msg = fmt.Sprintf("0/%d commands collected", total)
		}
		out := []Entry{{Severity: Error, Kind: KindHostFailed, Host: o.Host, Message: msg}}
		return append(out, missingEntries(o)...)
	}
}

// FailureMessage describes a host failure without the host prefixes the
// error chain repeats. Callers show the host next to it.
func FailureMessage(err error) string {
	msg := err.Error()
	var te *executor.TransportError
	if errors.As(err, &te) {
		msg = te.Err.Error()
	}
	var ce *ssh.ConnectError
	if errors.As(err, &ce) {
		msg = fmt.Sprintf("%v (hint: %s)", ce.Err, ce.Hint)
	}
	if te != nil && te.Timeout() {
		msg = "timed out: " + msg
	}
	return msg
}

func outputsOf(o *executor.HostOutcome) []CommandOutput {
	var out []CommandOutput
	for _, r := range o.Succeeded() {
		out = append(out, CommandOutput{OutputID: r.OutputID, Command: r.Command, Text: r.Text})
	}
	return out
}

func missingEntries(o *executor.HostOutcome) []Entry {
	var out []Entry
	for _, r := range o.Results {
		if r.OK() {
			continue
		}
		out = append(out, Entry{
			Severity: Warning,
			Kind:     KindMissing,
			Host:     o.Host,
			OutputID: r.OutputID,
			Message:  fmt.Sprintf("no output for %q", r.Command),
		})
	}
	return out
}

func writeEntries(writes []persist.WriteStatus) []Entry {
	var out []Entry
	for _, w := range writes {
		switch {
		case w.Skipped:
			// Already reported as a host or missing-output entry.
		case w.Err != nil:
			out = append(out, Entry{
				Severity: Error,
				Kind:     KindWriteFailed,
				Host:     w.Host,
				OutputID: w.OutputID,
				Path:     w.Path,
				Message:  w.Err.Error(),
			})
		case w.Overwrote:
			out = append(out, Entry{
				Severity: Warning,
				Kind:     KindOverwrite,
				Host:     w.Host,
				OutputID: w.OutputID,
				Path:     w.Path,
				Message:  fmt.Sprintf("%s overwritten by %q", w.Path, w.Command),
			})
		default:
			out = append(out, Entry{
				Severity: Debug,
				Kind:     KindWritten,
				Host:     w.Host,
				OutputID: w.OutputID,
				Path:     w.Path,
				Message:  fmt.Sprintf("wrote %s (%d bytes)", w.Path, w.Bytes),
			})
		}
	}
	return out
}

// Filter returns the entries at or above minSeverity.
func Filter(entries []Entry, minSeverity Severity) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Severity >= minSeverity {
			out = append(out, e)
		}
	}
	return out
}
