package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransportError records a host-level failure: the transport could not
// connect, authenticate, or finish before the host deadline.
type TransportError struct {
	Host string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(e.Err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// MissingOutputError is recorded when the transport succeeded but returned
// no output for a requested command.
type MissingOutputError struct {
	Host    string
	Command string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("%s: no output returned for %q", e.Host, e.Command)
}
