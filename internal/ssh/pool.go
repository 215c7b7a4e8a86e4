package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// dialResult holds the outcome of a jump-host dial, shared between
// goroutines waiting for the same ProxyJump chain.
type dialResult struct {
	client *Client
	err    error
}

// PoolSettings tunes jump-host dialing and the circuit breaker kept per
// jump-host chain.
type PoolSettings struct {
	// Failures is the number of consecutive failed jump dials that opens
	// the breaker. Zero means 3.
	Failures uint32
	// Cooldown is how long an open breaker rejects dials. Zero means 30s.
	Cooldown time.Duration
	// DialTimeout bounds a shared jump dial. It runs detached from any one
	// caller's context, so a short host timeout cannot fail the other
	// targets waiting on the same chain. Zero means 30s.
	DialTimeout time.Duration
}

// Pool shares jump-host connections between target dials. Targets
// behind the same ProxyJump reuse one tunnel instead of each opening
// its own, and a chain that keeps failing is short-circuited.
// Target connections themselves are not cached.
type Pool struct {
	mu       sync.Mutex
	jumps    map[string]*Client
	inflight map[string]chan dialResult
	breakers map[string]*gobreaker.CircuitBreaker
	settings PoolSettings
}

// NewPool creates an empty jump-host pool.
func NewPool(settings PoolSettings) *Pool {
	if settings.Failures == 0 {
		settings.Failures = 3
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.DialTimeout == 0 {
		settings.DialTimeout = 30 * time.Second
	}
	return &Pool{
		jumps:    make(map[string]*Client),
		inflight: make(map[string]chan dialResult),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
	}
}

// Dial connects to host, tunneling through a pooled jump connection when
// conf.ProxyJump is set. The returned client does not own the jump
// connection; closing it leaves the tunnel up for other targets.
func (p *Pool) Dial(ctx context.Context, host string, conf ClientConfig) (*Client, error) {
	if !usesProxy(conf) {
		return dialDirect(ctx, host, conf)
	}

	key := jumpKey(conf)
	jump, err := p.getOrDial(ctx, key, conf)
	if err != nil {
		return nil, err
	}

	finalConf := conf
	finalConf.ProxyJump = ""
	client, err := dialThrough(ctx, jump, host, finalConf)
	if err != nil && isReconnectable(err) {
		// The tunnel may have died under us. Redial it once.
		p.evict(key, jump)
		if jump, err = p.getOrDial(ctx, key, conf); err != nil {
			return nil, err
		}
		client, err = dialThrough(ctx, jump, host, finalConf)
	}
	if err != nil {
		return nil, fmt.Errorf("dial target %s via proxy: %w", host, err)
	}
	return client, nil
}

// jumpKey identifies a jump chain. Chains dialed as different users or
// with different keys are kept apart.
func jumpKey(conf ClientConfig) string {
	return conf.ProxyJump + "|" + strings.Join(conf.IdentityFiles, ",")
}

func (p *Pool) getOrDial(ctx context.Context, key string, conf ClientConfig) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	if client, ok := p.jumps[key]; ok {
		p.mu.Unlock()
		return client, nil
	}
	ch, ok := p.inflight[key]
	if !ok {
		ch = make(chan dialResult, 1)
		p.inflight[key] = ch
		go p.dialShared(ctx, key, conf, ch, p.breakerLocked(key, conf.ProxyJump))
	}
	p.mu.Unlock()

	select {
	case res := <-ch:
		// Put the result back so other waiters can also read it.
		ch <- res
		return res.client, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dialShared dials a jump chain on behalf of every caller waiting on ch.
func (p *Pool) dialShared(ctx context.Context, key string, conf ClientConfig, ch chan dialResult, cb *gobreaker.CircuitBreaker) {
	dialCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.settings.DialTimeout)
	defer cancel()

	v, err := cb.Execute(func() (any, error) {
		return dialJumpChain(dialCtx, conf)
	})
	var client *Client
	if err == nil {
		client = v.(*Client)
	}

	p.mu.Lock()
	delete(p.inflight, key)
	if err == nil {
		p.jumps[key] = client
	}
	p.mu.Unlock()

	ch <- dialResult{client: client, err: err}
}

func (p *Pool) breakerLocked(key, name string) *gobreaker.CircuitBreaker {
	if cb, ok := p.breakers[key]; ok {
		return cb
	}
	failures := p.settings.Failures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     p.settings.Cooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
	})
	p.breakers[key] = cb
	return cb
}

// BreakerState reports the breaker state for a ProxyJump chain dialed
// with conf, or closed if it was never dialed.
func (p *Pool) BreakerState(conf ClientConfig) gobreaker.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[jumpKey(conf)]; ok {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func (p *Pool) evict(key string, stale *Client) {
	p.mu.Lock()
	client, ok := p.jumps[key]
	if ok && client == stale {
		delete(p.jumps, key)
	}
	p.mu.Unlock()

	if ok && client == stale {
		client.Close()
	}
}

// Jumps returns the number of open pooled jump connections.
func (p *Pool) Jumps() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jumps)
}

// Close closes all pooled jump connections.
func (p *Pool) Close() error {
	p.mu.Lock()
	jumps := p.jumps
	p.jumps = make(map[string]*Client)
	p.mu.Unlock()

	var firstErr error
	for _, client := range jumps {
		if err := client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// isReconnectable returns true if the error suggests a stale/broken connection
// that might succeed on retry with a fresh dial. It returns false for errors
// that are permanent (auth failures, context cancellation).
func isReconnectable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}
