package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"

	flags options
)

// exitError carries a process exit code without an error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// setupError marks failures before any device was contacted.
type setupError struct {
	err error
}

func (e *setupError) Error() string { return e.err.Error() }
func (e *setupError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return 2
}

func newRootCmd() *cobra.Command {
	flags = options{}

	root := &cobra.Command{
		Use:   "netcollect",
		Short: "Collect CLI command output from network devices in parallel",
		Long: `netcollect runs the commands configured for each device in an inventory
over SSH, many devices at once, and writes every command's output to
{output_dir}/{host}_{output_id}.txt.

A device that fails does not stop the others. The run ends with a
severity-filtered report.

Examples:
  # Collect from every host in ./inventory.yaml into ./outputs
  netcollect

  # Only the core group, through a custom inventory, showing warnings and up
  netcollect -i lab.yaml -g core -s warning

  # Persist the artifacts on a remote collection host over SFTP
  netcollect --sftp-target backup@collector.lab -o /srv/netcollect/$(date +%F)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&flags.inventory, "inventory", "i", "", "inventory file (default ./inventory.yaml, then $XDG_CONFIG_HOME/netcollect/inventory.yaml)")
	pf.StringSliceVarP(&flags.groups, "group", "g", nil, "only hosts in these groups (repeatable)")
	pf.BoolVar(&flags.debug, "debug", false, "enable debug logging")
	pf.StringVar(&flags.logFormat, "log-format", "console", "log format: console or json")

	run := &cobra.Command{
		Use:   "run",
		Short: "Collect command output from the inventory (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd)
		},
	}
	for _, c := range []*cobra.Command{root, run} {
		addRunFlags(c)
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "netcollect %s (%s)\n", version, commit)
		},
	}

	root.AddCommand(run, newValidateCmd(), newHostsCmd(), versionCmd)
	return root
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&flags.outputDir, "output-dir", "o", "", "directory for collected output (default \"outputs\")")
	f.IntVarP(&flags.concurrency, "concurrency", "c", 0, "maximum hosts collected at once (default 20)")
	f.DurationVarP(&flags.timeout, "timeout", "t", 0, "per-host timeout (default 30s)")
	f.DurationVar(&flags.runTimeout, "run-timeout", 0, "overall run timeout (default none)")
	f.StringVarP(&flags.severity, "severity", "s", "", "minimum report severity: debug, info, warning, error, critical or a number (default info)")
	f.StringVar(&flags.onCollision, "on-collision", "", "when two commands map to one file: overwrite or error (default overwrite)")
	f.StringVar(&flags.exitPolicy, "exit-policy", "", "non-zero exit on: all-failed or any-failure (default all-failed)")
	f.BoolVar(&flags.insecure, "insecure", false, "accept host keys not in known_hosts")
	f.StringVarP(&flags.user, "user", "u", "", "SSH user for hosts that do not set one")
	f.BoolVarP(&flags.askPass, "ask-pass", "k", false, "prompt for a password used when key auth fails")
	f.BoolVar(&flags.json, "json", false, "print the report as JSON")
	f.BoolVar(&flags.progress, "progress", false, "show a live host table on stderr while collecting")
	f.BoolVar(&flags.noColor, "no-color", false, "disable colored output")
	f.BoolVar(&flags.showOutput, "show-output", false, "print collected output under each host in the report")
	f.BoolVar(&flags.rawOutput, "raw-output", false, "write device output unchanged, without CRLF or trailing newline cleanup")
	f.StringVar(&flags.sftpTarget, "sftp-target", "", "write artifacts to [user@]host[:port] over SFTP instead of locally")
}
