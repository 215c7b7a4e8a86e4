package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func hostsNamed(names ...string) []Host {
	hosts := make([]Host, len(names))
	for i, n := range names {
		hosts[i] = Host{Name: n, Commands: []CommandSpec{{Command: "show version", OutputID: "ver"}}}
	}
	return hosts
}

func TestExecute_OneOutcomePerHost(t *testing.T) {
	e := New(echoTransport())
	hosts := hostsNamed("r1", "r2", "r3")
	report := e.Execute(context.Background(), hosts)

	if len(report.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(report.Outcomes))
	}
	if report.ID == "" {
		t.Error("report should carry a run id")
	}
	for i, o := range report.Ordered() {
		if o.Host != hosts[i].Name {
			t.Errorf("ordered[%d]: expected host %q, got %q", i, hosts[i].Name, o.Host)
		}
		if o.Status != Success {
			t.Errorf("%s: expected success, got %s", o.Host, o.Status)
		}
		want := o.Host + ": show version"
		if o.Results[0].Text != want {
			t.Errorf("%s: expected text %q, got %q", o.Host, want, o.Results[0].Text)
		}
	}
}

func TestExecute_PreservesInputOrder(t *testing.T) {
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			switch host {
			case "slow":
				time.Sleep(50 * time.Millisecond)
			case "medium":
				time.Sleep(25 * time.Millisecond)
			}
			return map[string]string{"show version": host}, nil
		},
	}

	report := New(tr).Execute(context.Background(), hostsNamed("slow", "medium", "fast"))

	want := []string{"slow", "medium", "fast"}
	for i, h := range report.Hosts {
		if h != want[i] {
			t.Errorf("hosts[%d] = %q, want %q", i, h, want[i])
		}
	}
}

func TestExecute_ConcurrencyLimiting(t *testing.T) {
	var running atomic.Int32
	var maxRunning atomic.Int32

	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			cur := running.Add(1)
			for {
				prev := maxRunning.Load()
				if cur <= prev || maxRunning.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			running.Add(-1)
			return map[string]string{"show version": "ok"}, nil
		},
	}

	report := New(tr, WithConcurrency(2)).Execute(context.Background(), hostsNamed("a", "b", "c", "d"))

	if len(report.Outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(report.Outcomes))
	}
	peak := maxRunning.Load()
	if peak > 2 {
		t.Errorf("expected max concurrency of 2, but %d were running simultaneously", peak)
	}
	if peak < 2 {
		t.Errorf("expected concurrency to reach 2, but peak was %d", peak)
	}
}

func TestExecute_PerHostTimeout(t *testing.T) {
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			select {
			case <-time.After(5 * time.Second):
				return map[string]string{"show version": "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	report := New(tr, WithTimeout(50*time.Millisecond)).Execute(context.Background(), hostsNamed("slow-host"))

	o := report.Outcome("slow-host")
	if o == nil {
		t.Fatal("missing outcome for slow-host")
	}
	if o.Status != TotalFailure {
		t.Errorf("expected failed, got %s", o.Status)
	}
	var te *TransportError
	if !errors.As(o.Err, &te) || !te.Timeout() {
		t.Errorf("expected timeout TransportError, got %v", o.Err)
	}
	if len(o.Results) != 0 {
		t.Errorf("expected no results, got %d", len(o.Results))
	}
}

func TestExecute_HostTimeoutOverride(t *testing.T) {
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			select {
			case <-time.After(100 * time.Millisecond):
				return map[string]string{"show version": "done"}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	hosts := hostsNamed("patient", "impatient")
	hosts[0].Timeout = 5 * time.Second
	report := New(tr, WithTimeout(20*time.Millisecond)).Execute(context.Background(), hosts)

	if s := report.Outcome("patient").Status; s != Success {
		t.Errorf("patient: expected success, got %s", s)
	}
	if s := report.Outcome("impatient").Status; s != TotalFailure {
		t.Errorf("impatient: expected failed, got %s", s)
	}
}

func TestExecute_OneHungHostAmongFifty(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			if host == "r-hung" {
				// Ignores ctx entirely, like a wedged session.
				<-block
				return nil, nil
			}
			time.Sleep(5 * time.Millisecond)
			return map[string]string{"show version": "ok"}, nil
		},
	}

	names := make([]string, 0, 50)
	for i := 0; i < 49; i++ {
		names = append(names, fmt.Sprintf("r-%02d", i))
	}
	names = append(names, "r-hung")

	e := New(tr,
		WithConcurrency(10),
		WithTimeout(100*time.Millisecond),
		WithRunTimeout(5*time.Second),
	)

	start := time.Now()
	report := e.Execute(context.Background(), hostsNamed(names...))
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("run exceeded overall timeout: %s", elapsed)
	}

	if len(report.Outcomes) != 50 {
		t.Fatalf("expected 50 outcomes, got %d", len(report.Outcomes))
	}
	counts := report.Counts()
	if counts[Success] != 49 {
		t.Errorf("expected 49 successes, got %d", counts[Success])
	}
	if s := report.Outcome("r-hung").Status; s != TotalFailure {
		t.Errorf("r-hung: expected failed, got %s", s)
	}
}

func TestExecute_RunTimeoutMarksUnstartedHosts(t *testing.T) {
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	e := New(tr, WithConcurrency(1), WithTimeout(10*time.Second), WithRunTimeout(50*time.Millisecond))
	report := e.Execute(context.Background(), hostsNamed("a", "b", "c"))

	if len(report.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(report.Outcomes))
	}
	if !report.AllFailed() {
		t.Errorf("expected every host to fail, got %v", report.Counts())
	}
	for _, o := range report.Ordered() {
		var te *TransportError
		if !errors.As(o.Err, &te) || !te.Timeout() {
			t.Errorf("%s: expected timeout, got %v", o.Host, o.Err)
		}
	}
}

func TestExecute_ContextCancellation(t *testing.T) {
	var started atomic.Int32
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			started.Add(1)
			select {
			case <-time.After(10 * time.Second):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan *RunReport, 1)
	go func() {
		done <- New(tr).Execute(ctx, hostsNamed("host-1", "host-2"))
	}()

	for started.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	report := <-done
	if len(report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(report.Outcomes))
	}
	for _, o := range report.Outcomes {
		if !errors.Is(o.Err, context.Canceled) {
			t.Errorf("host %q: expected cancellation error, got %v", o.Host, o.Err)
		}
	}
}

func TestExecute_MixedResults(t *testing.T) {
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			switch host {
			case "ok-host":
				return map[string]string{"show version": "v1", "show clock": "12:00"}, nil
			case "partial-host":
				return map[string]string{"show version": "v1"}, nil
			case "error-host":
				return nil, fmt.Errorf("connection refused")
			default:
				return nil, nil
			}
		},
	}

	cmds := []CommandSpec{{Command: "show version", OutputID: "ver"}, {Command: "show clock", OutputID: "clock"}}
	hosts := []Host{
		{Name: "ok-host", Commands: cmds},
		{Name: "partial-host", Commands: cmds},
		{Name: "error-host", Commands: cmds},
	}
	report := New(tr).Execute(context.Background(), hosts)

	if s := report.Outcome("ok-host").Status; s != Success {
		t.Errorf("ok-host: expected success, got %s", s)
	}
	if s := report.Outcome("partial-host").Status; s != PartialFailure {
		t.Errorf("partial-host: expected partial, got %s", s)
	}
	errHost := report.Outcome("error-host")
	if errHost.Status != TotalFailure || errHost.Err == nil {
		t.Errorf("error-host: expected failure with error, got %s %v", errHost.Status, errHost.Err)
	}
	if report.AllFailed() {
		t.Error("AllFailed should be false with a successful host")
	}
}

func TestExecute_PanickingHostDoesNotStopOthers(t *testing.T) {
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			if host == "bad" {
				var m map[string]string
				m[host] = "boom"
			}
			return map[string]string{"show version": host}, nil
		},
	}

	report := New(tr).Execute(context.Background(), hostsNamed("good", "bad", "also-good"))

	if len(report.Outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(report.Outcomes))
	}
	bad := report.Outcome("bad")
	if bad.Status != TotalFailure || bad.Err == nil {
		t.Errorf("bad: expected failure with error, got %s %v", bad.Status, bad.Err)
	}
	for _, name := range []string{"good", "also-good"} {
		if s := report.Outcome(name).Status; s != Success {
			t.Errorf("%s: expected success, got %s", name, s)
		}
	}
}

func TestExecute_DuplicateHostsCollapsed(t *testing.T) {
	tr := echoTransport()
	report := New(tr).Execute(context.Background(), hostsNamed("r1", "r2", "r1"))

	if len(report.Outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(report.Outcomes))
	}
	if len(report.Hosts) != 2 {
		t.Errorf("expected 2 hosts in order list, got %v", report.Hosts)
	}
	if n := tr.calls.Load(); n != 2 {
		t.Errorf("expected 2 transport calls, got %d", n)
	}
}

func TestExecute_ObserverSeesEveryHost(t *testing.T) {
	var mu sync.Mutex
	seen := make(map[string]Status)

	e := New(echoTransport(), WithObserver(func(o *HostOutcome) {
		mu.Lock()
		defer mu.Unlock()
		seen[o.Host] = o.Status
	}))
	e.Execute(context.Background(), hostsNamed("a", "b", "c"))

	if len(seen) != 3 {
		t.Fatalf("observer saw %d hosts, want 3", len(seen))
	}
	for h, s := range seen {
		if s != Success {
			t.Errorf("%s: observer saw %s", h, s)
		}
	}
}

func TestExecute_ZeroHosts(t *testing.T) {
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			t.Fatal("transport should not be called with zero hosts")
			return nil, nil
		},
	}

	report := New(tr).Execute(context.Background(), nil)
	if len(report.Outcomes) != 0 {
		t.Fatalf("expected 0 outcomes, got %d", len(report.Outcomes))
	}
	if report.AllFailed() {
		t.Error("empty run should not count as all failed")
	}
}

func TestNew_Defaults(t *testing.T) {
	e := New(&mockTransport{})

	if e.concurrency != 20 {
		t.Errorf("expected default concurrency 20, got %d", e.concurrency)
	}
	if e.timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", e.timeout)
	}
	if e.runTimeout != 0 {
		t.Errorf("expected no default run timeout, got %v", e.runTimeout)
	}
}

func TestNew_WithOptions(t *testing.T) {
	e := New(&mockTransport{}, WithConcurrency(5), WithTimeout(10*time.Second), WithRunTimeout(time.Minute))

	if e.concurrency != 5 {
		t.Errorf("expected concurrency 5, got %d", e.concurrency)
	}
	if e.timeout != 10*time.Second {
		t.Errorf("expected timeout 10s, got %v", e.timeout)
	}
	if e.runTimeout != time.Minute {
		t.Errorf("expected run timeout 1m, got %v", e.runTimeout)
	}
}

func TestOptions_IgnoreInvalid(t *testing.T) {
	e := New(&mockTransport{},
		WithConcurrency(0), WithConcurrency(-1),
		WithTimeout(0), WithTimeout(-time.Second),
		WithRunTimeout(-time.Second),
		WithLogger(nil),
	)

	if e.concurrency != 20 {
		t.Errorf("expected default concurrency 20, got %d", e.concurrency)
	}
	if e.timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %v", e.timeout)
	}
	if e.runTimeout != 0 {
		t.Errorf("expected run timeout 0, got %v", e.runTimeout)
	}
	if e.logger == nil {
		t.Error("logger should never be nil")
	}
}
