package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/agent462/netcollect/internal/inventory"
	"github.com/agent462/netcollect/internal/persist"
	"github.com/agent462/netcollect/internal/report"
)

// options holds raw flag values.
type options struct {
	inventory string
	groups    []string
	debug     bool
	logFormat string

	outputDir   string
	concurrency int
	timeout     time.Duration
	runTimeout  time.Duration
	severity    string
	onCollision string
	exitPolicy  string
	insecure    bool
	user        string
	askPass     bool
	json        bool
	progress    bool
	noColor     bool
	showOutput  bool
	rawOutput   bool
	sftpTarget  string
}

// settings is the effective run configuration: inventory defaults with
// explicitly set flags on top.
type settings struct {
	outputDir   string
	concurrency int
	timeout     time.Duration
	runTimeout  time.Duration
	severity    report.Severity
	collision   persist.CollisionPolicy
	exitPolicy  report.ExitPolicy
	insecure    bool
	user        string
	knownHosts  string
}

func resolveSettings(fs *pflag.FlagSet, o options, d inventory.Defaults) (settings, error) {
	s := settings{
		outputDir:   d.OutputDir,
		concurrency: d.Concurrency,
		timeout:     d.Timeout.Duration,
		runTimeout:  d.RunTimeout.Duration,
		insecure:    d.Insecure,
		user:        d.User,
		knownHosts:  d.KnownHosts,
	}
	severity := d.Severity
	collision := d.OnCollision
	exitPolicy := d.ExitPolicy

	if fs.Changed("output-dir") {
		s.outputDir = o.outputDir
	}
	if fs.Changed("concurrency") {
		if o.concurrency < 1 {
			return settings{}, fmt.Errorf("--concurrency must be at least 1, got %d", o.concurrency)
		}
		s.concurrency = o.concurrency
	}
	if fs.Changed("timeout") {
		s.timeout = o.timeout
	}
	if fs.Changed("run-timeout") {
		s.runTimeout = o.runTimeout
	}
	if fs.Changed("insecure") {
		s.insecure = o.insecure
	}
	if fs.Changed("user") {
		s.user = o.user
	}
	if fs.Changed("severity") {
		severity = o.severity
	}
	if fs.Changed("on-collision") {
		collision = o.onCollision
	}
	if fs.Changed("exit-policy") {
		exitPolicy = o.exitPolicy
	}

	if s.outputDir == "" {
		s.outputDir = persist.DefaultDir
	}
	if s.timeout < 0 || s.runTimeout < 0 {
		return settings{}, fmt.Errorf("timeouts must be non-negative")
	}

	var err error
	s.severity = report.DefaultSeverity
	if severity != "" {
		if s.severity, err = report.ParseSeverity(severity); err != nil {
			return settings{}, err
		}
	}
	if collision != "" {
		if s.collision, err = persist.ParseCollisionPolicy(collision); err != nil {
			return settings{}, err
		}
	}
	if exitPolicy != "" {
		if s.exitPolicy, err = report.ParseExitPolicy(exitPolicy); err != nil {
			return settings{}, err
		}
	}
	return s, nil
}
