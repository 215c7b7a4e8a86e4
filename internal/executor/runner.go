package executor

import (
	"context"
	"fmt"
	"time"
)

// Transport runs an ordered batch of commands on one host and returns the
// raw output of each, keyed by command text. The SSH layer implements it.
type Transport interface {
	Execute(ctx context.Context, host string, commands []string) (map[string]string, error)
}

type transportResult struct {
	outputs map[string]string
	err     error
}

// RunHost runs host's command set through t with a single Execute call and
// builds its outcome. It never returns nil, and it returns as soon as ctx
// is done even if the transport does not honor cancellation.
func RunHost(ctx context.Context, t Transport, host Host) *HostOutcome {
	start := time.Now()
	outcome := &HostOutcome{Host: host.Name, Status: Pending}
	defer func() { outcome.Duration = time.Since(start) }()

	if len(host.Commands) == 0 {
		outcome.Status = Success
		return outcome
	}

	// Buffered so a transport that outlives ctx can still deliver and exit.
	done := make(chan transportResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- transportResult{err: fmt.Errorf("transport panic: %v", r)}
			}
		}()
		outputs, err := t.Execute(ctx, host.Name, commandList(host.Commands))
		done <- transportResult{outputs: outputs, err: err}
	}()

	var res transportResult
	select {
	case res = <-done:
	case <-ctx.Done():
		res = transportResult{err: ctx.Err()}
	}

	if res.err != nil {
		outcome.Status = TotalFailure
		outcome.Err = &TransportError{Host: host.Name, Err: res.err}
		return outcome
	}

	outcome.Results = make([]CommandResult, len(host.Commands))
	ok := 0
	for i, spec := range host.Commands {
		r := CommandResult{Command: spec.Command, OutputID: spec.OutputID}
		if text, found := res.outputs[spec.Command]; found {
			r.Text = text
			ok++
		} else {
			r.Err = &MissingOutputError{Host: host.Name, Command: spec.Command}
		}
		outcome.Results[i] = r
	}

	switch ok {
	case len(host.Commands):
		outcome.Status = Success
	case 0:
		outcome.Status = TotalFailure
	default:
		outcome.Status = PartialFailure
	}
	return outcome
}

// commandList returns the distinct command strings of specs in first-seen order.
func commandList(specs []CommandSpec) []string {
	seen := make(map[string]bool, len(specs))
	cmds := make([]string, 0, len(specs))
	for _, s := range specs {
		if seen[s.Command] {
			continue
		}
		seen[s.Command] = true
		cmds = append(cmds, s.Command)
	}
	return cmds
}
