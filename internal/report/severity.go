// Package report turns a run and its persistence report into a
// severity-filtered summary for people or machines.
package report

import (
	"fmt"
	"strconv"
	"strings"
)

// Severity ranks report entries. The numeric values match the usual
// logging levels so thresholds can be given either way. Debug ranks
// below Info: per-file write details and consistency diffs are the
// detail tier, hidden at the default threshold, and host summaries are
// the informational tier.
type Severity int

const (
	Debug    Severity = 10
	Info     Severity = 20
	Warning  Severity = 30
	Error    Severity = 40
	Critical Severity = 50
)

// DefaultSeverity is the minimum severity shown when none is configured.
const DefaultSeverity = Info

func (s Severity) String() string {
	switch s {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	case Critical:
		return "critical"
	default:
		return "level(" + strconv.Itoa(int(s)) + ")"
	}
}

// MarshalText lets severities appear by name in JSON.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseSeverity accepts a level name (debug, info, warning/warn, error,
// critical/fatal) or a number; numbers between levels are allowed.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultSeverity, nil
	case "debug":
		return Debug, nil
	case "info":
		return Info, nil
	case "warning", "warn":
		return Warning, nil
	case "error":
		return Error, nil
	case "critical", "fatal":
		return Critical, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return DefaultSeverity, fmt.Errorf("unknown severity %q (want debug, info, warning, error, critical or a number)", s)
	}
	return Severity(n), nil
}
