package report

import (
	"fmt"
	"strings"

	"github.com/agent462/netcollect/internal/executor"
	"github.com/agent462/netcollect/internal/persist"
)

// ExitPolicy decides which failures make the process exit non-zero.
type ExitPolicy int

const (
	// ExitAllFailed exits 1 only when there were hosts and all of them failed.
	ExitAllFailed ExitPolicy = iota
	// ExitAnyFailure exits 1 on any host, command or write failure.
	ExitAnyFailure
)

func (p ExitPolicy) String() string {
	if p == ExitAnyFailure {
		return "any-failure"
	}
	return "all-failed"
}

// ParseExitPolicy parses "all-failed" or "any-failure". Empty means all-failed.
func ParseExitPolicy(s string) (ExitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all-failed":
		return ExitAllFailed, nil
	case "any-failure":
		return ExitAnyFailure, nil
	default:
		return ExitAllFailed, fmt.Errorf("unknown exit policy %q (want all-failed or any-failure)", s)
	}
}

// ExitCode returns the process exit code for a finished run.
func ExitCode(run *executor.RunReport, persisted *persist.Report, policy ExitPolicy) int {
	if run.AllFailed() {
		return 1
	}
	if policy != ExitAnyFailure {
		return 0
	}
	counts := run.Counts()
	if counts[executor.PartialFailure] > 0 || counts[executor.TotalFailure] > 0 {
		return 1
	}
	if persisted != nil && (persisted.DirErr != nil || len(persisted.Failed()) > 0) {
		return 1
	}
	return 0
}
