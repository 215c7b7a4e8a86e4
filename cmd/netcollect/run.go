package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/agent462/netcollect/internal/executor"
	"github.com/agent462/netcollect/internal/inventory"
	"github.com/agent462/netcollect/internal/logging"
	"github.com/agent462/netcollect/internal/persist"
	"github.com/agent462/netcollect/internal/report"
	"github.com/agent462/netcollect/internal/ssh"
	"github.com/agent462/netcollect/internal/ui/progress"
)

func runCollect(cmd *cobra.Command) error {
	showProgress := flags.progress && !flags.json && isTerminal(os.Stderr)

	logger, err := logging.New(logging.Config{
		Debug:  flags.debug,
		Format: flags.logFormat,
		Quiet:  showProgress,
	})
	if err != nil {
		return &setupError{err: err}
	}
	defer logger.Sync() //nolint:errcheck
	defer ssh.CloseAgent()

	ctx := logging.Attach(cmd.Context(), logger)

	inv, err := inventory.Load(inventory.Locate(flags.inventory))
	if err != nil {
		return &setupError{err: err}
	}
	s, err := resolveSettings(cmd.Flags(), flags, inv.Defaults)
	if err != nil {
		return &setupError{err: err}
	}
	hosts, err := inv.Resolve(flags.groups, inventory.UserSSHConfig)
	if err != nil {
		return &setupError{err: err}
	}

	c := &collection{
		settings:     s,
		hosts:        hosts,
		base:         baseClientConfig(s),
		sftpTarget:   flags.sftpTarget,
		rawOutput:    flags.rawOutput,
		showProgress: showProgress,
		stderr:       os.Stderr,
	}
	if flags.askPass {
		pw, err := readPassword(os.Stderr)
		if err != nil {
			return &setupError{err: err}
		}
		c.base.PasswordCallback = staticPassword(pw)
	}

	run, persisted, err := c.run(ctx)
	if err != nil {
		return &setupError{err: err}
	}

	out := cmd.OutOrStdout()
	if flags.json {
		data, err := report.FormatJSON(run, persisted, s.severity)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, string(data)); err != nil {
			return err
		}
	} else {
		f := report.NewFormatter(report.Options{
			Color:      !flags.noColor && isTerminal(out),
			ShowOutput: flags.showOutput,
		})
		if err := f.Render(out, run, persisted, s.severity); err != nil {
			return err
		}
	}

	if code := report.ExitCode(run, persisted, s.exitPolicy); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// collection wires the transport, executor and persister for one run.
type collection struct {
	settings     settings
	hosts        []inventory.Host
	base         ssh.ClientConfig
	sftpTarget   string
	rawOutput    bool
	showProgress bool
	stderr       io.Writer
}

func (c *collection) run(ctx context.Context) (*executor.RunReport, *persist.Report, error) {
	log := logging.FromContext(ctx)

	// Open the remote writer first so an unreachable collection host
	// fails the run before any device is contacted.
	var writer persist.Writer = persist.FileWriter{}
	if c.sftpTarget != "" {
		client, err := ssh.DialSpec(ctx, c.sftpTarget, c.base)
		if err != nil {
			return nil, nil, ssh.WrapConnectError(c.sftpTarget, fmt.Errorf("sftp target: %w", err))
		}
		defer client.Close()
		sw, err := persist.NewSFTPWriter(client.SSHClient(), persist.WithVerify())
		if err != nil {
			return nil, nil, err
		}
		defer sw.Close()
		writer = sw
		log.Info("writing artifacts over sftp", zap.String("target", c.sftpTarget))
	}

	topts := []ssh.TransportOption{ssh.WithTransportLogger(log)}
	if c.rawOutput {
		topts = append(topts, ssh.WithRawOutput())
	}
	transport := ssh.NewTransport(c.base, inventory.SSHHostConfigs(c.hosts), topts...)
	defer transport.Close()

	opts := []executor.Option{executor.WithLogger(log)}
	if c.settings.concurrency > 0 {
		opts = append(opts, executor.WithConcurrency(c.settings.concurrency))
	}
	if c.settings.timeout > 0 {
		opts = append(opts, executor.WithTimeout(c.settings.timeout))
	}
	if c.settings.runTimeout > 0 {
		opts = append(opts, executor.WithRunTimeout(c.settings.runTimeout))
	}

	hosts := inventory.ExecutorHosts(c.hosts)
	var run *executor.RunReport
	if c.showProgress {
		var err error
		run, err = progress.Run(c.stderr, hosts, func(obs executor.Observer) *executor.RunReport {
			return executor.New(transport, append(opts, executor.WithObserver(obs))...).Execute(ctx, hosts)
		})
		if err != nil {
			log.Debug("progress display ended early", zap.Error(err))
		}
	} else {
		run = executor.New(transport, opts...).Execute(ctx, hosts)
	}

	// Outputs already collected are still written after an interrupt.
	p := persist.New(writer,
		persist.WithCollisionPolicy(c.settings.collision),
		persist.WithLogger(log),
	)
	persisted := p.Persist(context.WithoutCancel(ctx), run, c.settings.outputDir)
	return run, persisted, nil
}

func baseClientConfig(s settings) ssh.ClientConfig {
	return ssh.ClientConfig{
		User:               s.user,
		AcceptUnknownHosts: s.insecure,
		KnownHostsFile:     s.knownHosts,
	}
}

// readPassword prompts on w and reads a password from the terminal.
func readPassword(w io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--ask-pass needs a terminal on stdin")
	}
	fmt.Fprint(w, "SSH password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

// staticPassword answers every host with the same password.
func staticPassword(pw string) ssh.PasswordCallback {
	return func(string) (string, error) { return pw, nil }
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
