package ssh

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// HostConfig holds per-host SSH connection details.
type HostConfig struct {
	Hostname         string // actual hostname to dial (may differ from the map key)
	User             string
	Port             int
	IdentityFile     string
	ProxyJump        string
	LegacyAlgorithms bool
}

// Transport runs command batches on network devices over SSH. Each
// Execute call opens one connection to the device and runs the commands
// sequentially, one session per command.
type Transport struct {
	baseConf  ClientConfig
	hostConfs map[string]HostConfig
	pool      *Pool
	ownsPool  bool
	raw       bool
	logger    *zap.Logger
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithTransportLogger sets the logger for command-level events.
func WithTransportLogger(l *zap.Logger) TransportOption {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithPool shares jump-host connections through p. The caller owns p.
func WithPool(p *Pool) TransportOption {
	return func(t *Transport) { t.pool = p }
}

// WithRawOutput keeps device output byte for byte instead of converting
// CRLF line endings and trimming trailing newlines.
func WithRawOutput() TransportOption {
	return func(t *Transport) { t.raw = true }
}

// NewTransport creates a Transport with a base config and per-host overrides.
func NewTransport(baseConf ClientConfig, hostConfs map[string]HostConfig, opts ...TransportOption) *Transport {
	t := &Transport{
		baseConf:  baseConf,
		hostConfs: hostConfs,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.pool == nil {
		t.pool = NewPool(PoolSettings{})
		t.ownsPool = true
	}
	return t
}

// Close releases pooled jump-host connections unless the pool was
// supplied with WithPool.
func (t *Transport) Close() error {
	if !t.ownsPool {
		return nil
	}
	return t.pool.Close()
}

// Execute runs commands on host and returns the output of each command
// that exited zero, keyed by command text. A command that exits non-zero
// is left out of the map. Connection or session failures fail the whole
// batch; no partial map is returned with an error.
//
// Output is normalized unless WithRawOutput is set: devices pad with CRLF
// and trailing blank lines, and the persisted artifact appends its own
// newline, so the text is stored with \n endings and no trailing newline.
func (t *Transport) Execute(ctx context.Context, host string, commands []string) (map[string]string, error) {
	conf, dialHost := resolveHostConf(t.baseConf, t.hostConfs, host)

	client, err := t.pool.Dial(ctx, dialHost, conf)
	if err != nil {
		return nil, WrapConnectError(host, fmt.Errorf("connect: %w", err))
	}
	defer client.Close()

	log := t.logger.With(zap.String("host", host))
	out := make(map[string]string, len(commands))
	for _, cmd := range commands {
		stdout, stderr, exitCode, err := client.RunCommand(ctx, cmd)
		if err != nil {
			return nil, fmt.Errorf("run %q: %w", cmd, err)
		}
		if exitCode != 0 {
			log.Warn("command failed on device",
				zap.String("command", cmd),
				zap.Int("exit_code", exitCode),
				zap.String("stderr", strings.TrimSpace(string(stderr))))
			continue
		}
		if t.raw {
			out[cmd] = string(stdout)
			continue
		}
		out[cmd] = normalizeOutput(stdout)
	}
	return out, nil
}

// normalizeOutput converts device line endings to \n and drops trailing
// newlines; persisted artifacts add exactly one back.
func normalizeOutput(b []byte) string {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	return strings.TrimRight(s, "\n")
}

// resolveHostConf applies per-host overrides to a base SSH client config.
func resolveHostConf(base ClientConfig, hostConfs map[string]HostConfig, host string) (ClientConfig, string) {
	conf := base
	dialHost := host
	hc, ok := hostConfs[host]
	if !ok {
		return conf, dialHost
	}
	if hc.Hostname != "" {
		dialHost = hc.Hostname
	}
	if hc.User != "" {
		conf.User = hc.User
	}
	if hc.Port > 0 {
		conf.Port = hc.Port
	}
	if hc.IdentityFile != "" {
		conf.IdentityFiles = []string{hc.IdentityFile}
	}
	if hc.ProxyJump != "" {
		conf.ProxyJump = hc.ProxyJump
	}
	if hc.LegacyAlgorithms {
		conf.LegacyAlgorithms = true
	}
	return conf, dialHost
}
