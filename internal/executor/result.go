package executor

import (
	"time"
)

// CommandSpec pairs a command with the identifier used to name its output artifact.
type CommandSpec struct {
	Command  string
	OutputID string
}

// Host is a single device to collect from. Connection details are resolved
// by the Transport from the host name.
type Host struct {
	Name     string
	Commands []CommandSpec
	Timeout  time.Duration // overrides the executor's per-host timeout when > 0
}

// CommandResult holds the output of one CommandSpec on one host.
type CommandResult struct {
	Command  string
	OutputID string
	Text     string
	Err      error // *MissingOutputError when the transport returned nothing for Command
}

// OK reports whether the command produced output.
func (r CommandResult) OK() bool {
	return r.Err == nil
}

// Status is the terminal state of a host run.
type Status int

const (
	Pending Status = iota
	Success
	PartialFailure
	TotalFailure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case PartialFailure:
		return "partial"
	case TotalFailure:
		return "failed"
	default:
		return "pending"
	}
}

// HostOutcome is the result of running a host's command set.
type HostOutcome struct {
	Host     string
	Status   Status
	Results  []CommandResult // in CommandSpec order
	Err      error           // host-level failure, set only for transport errors
	Duration time.Duration
}

// Succeeded returns the results that carry output.
func (o *HostOutcome) Succeeded() []CommandResult {
	var ok []CommandResult
	for _, r := range o.Results {
		if r.OK() {
			ok = append(ok, r)
		}
	}
	return ok
}

// RunReport aggregates the outcomes of one run, keyed by host name.
type RunReport struct {
	ID       string
	Started  time.Time
	Duration time.Duration
	Hosts    []string // input order, deduplicated
	Outcomes map[string]*HostOutcome
}

// Outcome returns the outcome for host, or nil if the host was not part of the run.
func (r *RunReport) Outcome(host string) *HostOutcome {
	return r.Outcomes[host]
}

// Ordered returns outcomes in input order.
func (r *RunReport) Ordered() []*HostOutcome {
	out := make([]*HostOutcome, 0, len(r.Hosts))
	for _, h := range r.Hosts {
		if o, ok := r.Outcomes[h]; ok {
			out = append(out, o)
		}
	}
	return out
}

// Counts tallies outcomes by status.
func (r *RunReport) Counts() map[Status]int {
	counts := make(map[Status]int, 3)
	for _, o := range r.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// AllFailed reports whether the run had hosts and every one of them failed.
func (r *RunReport) AllFailed() bool {
	if len(r.Outcomes) == 0 {
		return false
	}
	return r.Counts()[TotalFailure] == len(r.Outcomes)
}
