package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Observer is called once per host when its outcome is final. It may be
// called from multiple goroutines at once.
type Observer func(*HostOutcome)

// Executor fans host command sets out across a Transport with bounded concurrency.
type Executor struct {
	transport   Transport
	concurrency int
	timeout     time.Duration
	runTimeout  time.Duration
	logger      *zap.Logger
	observer    Observer
}

// Option configures an Executor.
type Option func(*Executor)

// WithConcurrency sets the maximum number of hosts in flight.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithTimeout sets the per-host timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRunTimeout bounds the wall-clock time of a whole Execute call.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.runTimeout = d
		}
	}
}

// WithLogger sets the logger used for per-host progress.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers a callback for finished hosts.
func WithObserver(fn Observer) Option {
	return func(e *Executor) {
		e.observer = fn
	}
}

// New creates an Executor with the given Transport and options.
func New(transport Transport, opts ...Option) *Executor {
	e := &Executor{
		transport:   transport,
		concurrency: 20,
		timeout:     30 * time.Second,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every host's command set and waits for all of them. The
// returned report holds exactly one outcome per distinct host name.
func (e *Executor) Execute(ctx context.Context, hosts []Host) *RunReport {
	report := &RunReport{
		ID:       uuid.NewString(),
		Started:  time.Now(),
		Outcomes: make(map[string]*HostOutcome, len(hosts)),
	}
	log := e.logger.With(zap.String("run_id", report.ID))

	hosts = e.dedupe(hosts, log)
	for _, h := range hosts {
		report.Hosts = append(report.Hosts, h.Name)
	}
	if len(hosts) == 0 {
		return report
	}

	if e.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.runTimeout)
		defer cancel()
	}

	outcomes := make([]*HostOutcome, len(hosts))
	sem := semaphore.NewWeighted(int64(e.concurrency))
	var wg sync.WaitGroup

	for i, host := range hosts {
		wg.Add(1)
		go func(idx int, h Host) {
			defer wg.Done()

			var outcome *HostOutcome
			defer func() {
				outcomes[idx] = outcome
				if e.observer != nil {
					e.observer(outcome)
				}
			}()

			if err := sem.Acquire(ctx, 1); err != nil {
				outcome = &HostOutcome{
					Host:   h.Name,
					Status: TotalFailure,
					Err:    &TransportError{Host: h.Name, Err: fmt.Errorf("not started: %w", err)},
				}
				log.Warn("host not started", zap.String("host", h.Name), zap.Error(err))
				return
			}
			defer sem.Release(1)

			timeout := e.timeout
			if h.Timeout > 0 {
				timeout = h.Timeout
			}
			hostCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			log.Debug("host started",
				zap.String("host", h.Name),
				zap.Int("commands", len(h.Commands)),
				zap.Duration("timeout", timeout))

			outcome = RunHost(hostCtx, e.transport, h)

			fields := []zap.Field{
				zap.String("host", h.Name),
				zap.Stringer("status", outcome.Status),
				zap.Duration("duration", outcome.Duration),
			}
			if outcome.Err != nil {
				log.Warn("host failed", append(fields, zap.Error(outcome.Err))...)
			} else {
				log.Debug("host finished", fields...)
			}
		}(i, host)
	}

	wg.Wait()

	for _, o := range outcomes {
		report.Outcomes[o.Host] = o
	}
	report.Duration = time.Since(report.Started)
	return report
}

func (e *Executor) dedupe(hosts []Host, log *zap.Logger) []Host {
	seen := make(map[string]bool, len(hosts))
	out := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		if seen[h.Name] {
			log.Warn("duplicate host ignored", zap.String("host", h.Name))
			continue
		}
		seen[h.Name] = true
		out = append(out, h)
	}
	return out
}
