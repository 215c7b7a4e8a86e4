package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	sshconfig "github.com/kevinburke/ssh_config"

	"github.com/agent462/netcollect/internal/pathutil"
)

// PasswordCallback is called when agent and key-based auth both fail.
// It receives the hostname and should return the password.
type PasswordCallback func(host string) (string, error)

// DefaultMaxOutput caps the captured stdout of a single command.
const DefaultMaxOutput = 64 << 20

// ClientConfig holds options for creating an SSH client.
type ClientConfig struct {
	// User overrides the SSH username. If empty, resolved from
	// ~/.ssh/config or the current OS user.
	User string

	// Port overrides the SSH port. If zero, resolved from
	// ~/.ssh/config or defaults to 22.
	Port int

	// IdentityFiles lists explicit private key paths to try.
	// If empty, resolved from ~/.ssh/config and default key locations.
	IdentityFiles []string

	// PasswordCallback is invoked when agent and key auth fail. It also
	// answers keyboard-interactive prompts, which most network operating
	// systems use for password logins.
	PasswordCallback PasswordCallback

	// AcceptUnknownHosts controls whether to accept hosts not in known_hosts.
	AcceptUnknownHosts bool

	// KnownHostsFile overrides ~/.ssh/known_hosts.
	KnownHostsFile string

	// HostKeyCallback overrides the default host key verification.
	HostKeyCallback ssh.HostKeyCallback

	// LegacyAlgorithms enables the SHA-1 key exchanges, ciphers and ssh-rsa
	// host keys still shipped by older router and switch images.
	LegacyAlgorithms bool

	// ProxyJump specifies one or more comma-separated SSH jump hosts
	// (e.g. "bastion" or "user@jump1:2222,user@jump2").
	// "none" disables proxy jumping (SSH convention).
	ProxyJump string

	// MaxOutput caps captured stdout per command. Zero means DefaultMaxOutput.
	MaxOutput int
}

// Client wraps an SSH connection to a single host.
type Client struct {
	host        string
	sshClient   *ssh.Client
	clientConf  ClientConfig
	jumpClients []*Client // owned intermediate jump-host clients, closed with this client
}

// Dial connects to the given host using the configured auth chain.
// If conf.ProxyJump is set (and not "none"), the connection is tunneled
// through one or more jump hosts that are owned by the returned client.
// Use a Pool to share jump connections between targets.
func Dial(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	if !usesProxy(conf) {
		return dialDirect(ctx, host, conf)
	}

	jump, err := dialJumpChain(ctx, conf)
	if err != nil {
		return nil, err
	}

	finalConf := conf
	finalConf.ProxyJump = ""
	client, err := dialThrough(ctx, jump, host, finalConf)
	if err != nil {
		jump.Close()
		return nil, fmt.Errorf("dial target %s via proxy: %w", host, err)
	}
	client.jumpClients = []*Client{jump}
	return client, nil
}

// DialSpec dials a "[user@]host[:port]" spec, letting the spec's user and
// port override conf.
func DialSpec(ctx context.Context, spec string, conf ClientConfig) (*Client, error) {
	user, hostname, port := parseJumpHost(spec)
	if hostname == "" {
		return nil, fmt.Errorf("invalid host spec %q", spec)
	}
	if user != "" {
		conf.User = user
	}
	if port > 0 {
		conf.Port = port
	}
	return Dial(ctx, hostname, conf)
}

func usesProxy(conf ClientConfig) bool {
	return conf.ProxyJump != "" && conf.ProxyJump != "none"
}

// dialDirect establishes a direct SSH connection (no proxy).
func dialDirect(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	addr, sshConf, err := clientConfigFor(host, conf)
	if err != nil {
		return nil, err
	}

	conn, err := dialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := newClientConn(ctx, conn, addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return &Client{
		host:       host,
		sshClient:  ssh.NewClient(sshConn, chans, reqs),
		clientConf: conf,
	}, nil
}

// dialJumpChain connects through every hop of conf.ProxyJump and returns
// the last hop. Earlier hops are owned by the returned client.
func dialJumpChain(ctx context.Context, conf ClientConfig) (*Client, error) {
	specs := strings.Split(conf.ProxyJump, ",")

	hopConf := func(spec string) (ClientConfig, string) {
		jumpUser, jumpHostname, jumpPort := parseJumpHost(spec)
		jc := ClientConfig{
			User:               jumpUser,
			Port:               jumpPort,
			IdentityFiles:      conf.IdentityFiles,
			PasswordCallback:   conf.PasswordCallback,
			AcceptUnknownHosts: conf.AcceptUnknownHosts,
			KnownHostsFile:     conf.KnownHostsFile,
			HostKeyCallback:    conf.HostKeyCallback,
		}
		return jc, jumpHostname
	}

	jc, hostname := hopConf(specs[0])
	last, err := dialDirect(ctx, hostname, jc)
	if err != nil {
		return nil, fmt.Errorf("dial jump host %q: %w", specs[0], err)
	}

	var owned []*Client
	for _, spec := range specs[1:] {
		jc, hostname = hopConf(spec)
		next, err := dialThrough(ctx, last, hostname, jc)
		if err != nil {
			last.Close()
			for i := len(owned) - 1; i >= 0; i-- {
				owned[i].Close()
			}
			return nil, fmt.Errorf("dial jump host %q: %w", spec, err)
		}
		owned = append(owned, last)
		last = next
	}
	last.jumpClients = owned
	return last, nil
}

// dialThrough tunnels an SSH connection through an existing client.
func dialThrough(ctx context.Context, proxy *Client, host string, conf ClientConfig) (*Client, error) {
	addr, sshConf, err := clientConfigFor(host, conf)
	if err != nil {
		return nil, err
	}

	conn, err := proxy.sshClient.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("tunnel through %s to %s: %w", proxy.host, addr, err)
	}

	sshConn, chans, reqs, err := newClientConn(ctx, conn, addr, sshConf)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s (via %s): %w", addr, proxy.host, err)
	}

	return &Client{
		host:       host,
		sshClient:  ssh.NewClient(sshConn, chans, reqs),
		clientConf: conf,
	}, nil
}

func clientConfigFor(host string, conf ClientConfig) (string, *ssh.ClientConfig, error) {
	addr, user, authMethods := resolveConnection(host, conf)

	hostKeyCallback, err := resolveHostKeyCallback(conf)
	if err != nil {
		return "", nil, fmt.Errorf("host key callback: %w", err)
	}

	sshConf := &ssh.ClientConfig{
		User:            user,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		// Network devices often send a login banner; it is not command output.
		BannerCallback: func(string) error { return nil },
	}
	if conf.LegacyAlgorithms {
		applyLegacyAlgorithms(sshConf)
	}
	return addr, sshConf, nil
}

// applyLegacyAlgorithms appends the older algorithms to the library defaults.
func applyLegacyAlgorithms(c *ssh.ClientConfig) {
	algs := ssh.SupportedAlgorithms()
	insecure := ssh.InsecureAlgorithms()

	c.KeyExchanges = append(algs.KeyExchanges, insecure.KeyExchanges...)
	c.Ciphers = append(algs.Ciphers, insecure.Ciphers...)
	c.MACs = append(algs.MACs, insecure.MACs...)
	c.HostKeyAlgorithms = append(algs.HostKeys, insecure.HostKeys...)
}

// parseJumpHost parses a jump host spec in the form "user@host:port",
// "host:port", "user@host", or just "host". Returns user, hostname, port.
func parseJumpHost(spec string) (user, hostname string, port int) {
	spec = strings.TrimSpace(spec)

	if i := strings.Index(spec, "@"); i >= 0 {
		user = spec[:i]
		spec = spec[i+1:]
	}

	if host, portStr, err := net.SplitHostPort(spec); err == nil {
		hostname = host
		fmt.Sscanf(portStr, "%d", &port)
	} else {
		hostname = spec
	}

	return user, hostname, port
}

// RunCommand executes a command in a new session on the connected host and
// returns stdout, stderr, exit code, and any error.
func (c *Client) RunCommand(ctx context.Context, command string) (stdout, stderr []byte, exitCode int, err error) {
	session, err := c.sshClient.NewSession()
	if err != nil {
		return nil, nil, -1, fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	limit := c.clientConf.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	outBuf := &cappedBuffer{limit: limit}
	errBuf := &cappedBuffer{limit: 64 << 10}
	session.Stdout = outBuf
	session.Stderr = errBuf

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		session.Close()
		return nil, nil, -1, ctx.Err()
	case err := <-done:
		if outBuf.Truncated() {
			return nil, nil, -1, fmt.Errorf("output of %q exceeds %d bytes", command, limit)
		}
		if err != nil {
			if exitErr, ok := err.(*ssh.ExitError); ok {
				return outBuf.Bytes(), errBuf.Bytes(), exitErr.ExitStatus(), nil
			}
			if _, ok := err.(*ssh.ExitMissingError); ok {
				// Many network OSes close the channel without an exit-status.
				return outBuf.Bytes(), errBuf.Bytes(), 0, nil
			}
			return outBuf.Bytes(), errBuf.Bytes(), -1, err
		}
		return outBuf.Bytes(), errBuf.Bytes(), 0, nil
	}
}

// SSHClient exposes the underlying connection, e.g. for SFTP.
func (c *Client) SSHClient() *ssh.Client {
	return c.sshClient
}

// Close closes the underlying SSH connection and any owned jump-host
// connections in reverse order (innermost first).
func (c *Client) Close() error {
	var firstErr error
	if c.sshClient != nil {
		firstErr = c.sshClient.Close()
	}
	for i := len(c.jumpClients) - 1; i >= 0; i-- {
		if err := c.jumpClients[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Host returns the hostname this client is connected to.
func (c *Client) Host() string {
	return c.host
}

// resolveConnection builds the address, username, and auth methods for a host.
// Values pre-set in conf (from inventory resolution) win over ssh_config.
func resolveConnection(host string, conf ClientConfig) (addr, user string, methods []ssh.AuthMethod) {
	user = conf.User
	if user == "" {
		user = sshconfig.Get(host, "User")
	}
	if user == "" {
		user = os.Getenv("USER")
	}
	if user == "" {
		user = "root"
	}

	port := conf.Port
	if port == 0 {
		if portStr := sshconfig.Get(host, "Port"); portStr != "" {
			fmt.Sscanf(portStr, "%d", &port)
		}
	}
	if port == 0 {
		port = 22
	}

	addr = net.JoinHostPort(host, fmt.Sprintf("%d", port))
	return addr, user, buildAuthMethods(host, conf)
}

// buildAuthMethods constructs the ordered auth chain:
// agent, key files, password, keyboard-interactive.
func buildAuthMethods(host string, conf ClientConfig) []ssh.AuthMethod {
	var methods []ssh.AuthMethod

	if agentAuth := agentAuthMethod(); agentAuth != nil {
		methods = append(methods, agentAuth)
	}

	keyFiles := conf.IdentityFiles
	if len(keyFiles) == 0 {
		keyFiles = resolveKeyFiles(host)
	}
	for _, keyFile := range keyFiles {
		if signer := loadKeySigner(keyFile); signer != nil {
			methods = append(methods, ssh.PublicKeys(signer))
		}
	}

	if conf.PasswordCallback != nil {
		password := func() (string, error) {
			return conf.PasswordCallback(host)
		}
		methods = append(methods,
			ssh.PasswordCallback(password),
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				if len(questions) == 0 {
					return answers, nil
				}
				pw, err := password()
				if err != nil {
					return nil, err
				}
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}

	return methods
}

// sharedAgent holds a lazily-initialized, process-wide SSH agent connection.
// Uses a mutex instead of sync.Once so a failed dial can be retried.
var sharedAgent struct {
	mu     sync.Mutex
	conn   net.Conn
	client agent.ExtendedAgent
}

// CloseAgent closes the shared SSH agent connection, if any.
func CloseAgent() {
	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()
	if sharedAgent.conn != nil {
		sharedAgent.conn.Close()
		sharedAgent.client = nil
		sharedAgent.conn = nil
	}
}

// agentAuthMethod returns an auth method using the SSH agent, or nil
// if the agent is unavailable or has no keys.
func agentAuthMethod() ssh.AuthMethod {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil
	}

	sharedAgent.mu.Lock()
	defer sharedAgent.mu.Unlock()

	if sharedAgent.client != nil {
		if keys, err := sharedAgent.client.List(); err == nil {
			if len(keys) > 0 {
				return ssh.PublicKeysCallback(sharedAgent.client.Signers)
			}
			return nil
		}
		// Stale connection.
		sharedAgent.conn.Close()
		sharedAgent.client = nil
		sharedAgent.conn = nil
	}

	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil
	}
	sharedAgent.conn = conn
	sharedAgent.client = agent.NewClient(conn)

	keys, err := sharedAgent.client.List()
	if err != nil || len(keys) == 0 {
		return nil
	}
	return ssh.PublicKeysCallback(sharedAgent.client.Signers)
}

// resolveKeyFiles returns key file paths from ssh_config and default locations.
func resolveKeyFiles(host string) []string {
	var files []string

	if identity := sshconfig.Get(host, "IdentityFile"); identity != "" {
		expanded := pathutil.ExpandHome(identity)
		if _, err := os.Stat(expanded); err == nil {
			files = append(files, expanded)
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return files
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		f := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(f); err == nil {
			files = append(files, f)
		}
	}

	return files
}

// loadKeySigner reads a private key file and returns a signer.
func loadKeySigner(path string) ssh.Signer {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil
	}
	return signer
}

// resolveHostKeyCallback builds the host key callback.
func resolveHostKeyCallback(conf ClientConfig) (ssh.HostKeyCallback, error) {
	if conf.HostKeyCallback != nil {
		return conf.HostKeyCallback, nil
	}

	if conf.AcceptUnknownHosts {
		return ssh.InsecureIgnoreHostKey(), nil
	}

	knownHostsPath := pathutil.ExpandHome(conf.KnownHostsFile)
	if knownHostsPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home dir: %w", err)
		}
		knownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
	}

	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no known_hosts file found at %s; use --insecure to skip host key verification", knownHostsPath)
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("parse known_hosts: %w", err)
	}
	return callback, nil
}

func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, network, addr)
}

// newClientConn performs the SSH handshake with context cancellation.
func newClientConn(ctx context.Context, conn net.Conn, addr string, config *ssh.ClientConfig) (ssh.Conn, <-chan ssh.NewChannel, <-chan *ssh.Request, error) {
	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}

	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil, nil, nil, ctx.Err()
	case r := <-done:
		return r.conn, r.chans, r.reqs, r.err
	}
}
