package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockTransport is a configurable Transport for runner and executor tests.
type mockTransport struct {
	calls   atomic.Int32
	handler func(ctx context.Context, host string, commands []string) (map[string]string, error)
}

func (m *mockTransport) Execute(ctx context.Context, host string, commands []string) (map[string]string, error) {
	m.calls.Add(1)
	return m.handler(ctx, host, commands)
}

// echoTransport returns "<host>: <command>" for every command.
func echoTransport() *mockTransport {
	return &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			out := make(map[string]string, len(commands))
			for _, c := range commands {
				out[c] = host + ": " + c
			}
			return out, nil
		},
	}
}

func routerHost(name string) Host {
	return Host{
		Name: name,
		Commands: []CommandSpec{
			{Command: "show version", OutputID: "ver"},
			{Command: "show ip route", OutputID: "route"},
			{Command: "show ip int brief", OutputID: "int"},
		},
	}
}

func TestRunHost_Success(t *testing.T) {
	tr := echoTransport()
	outcome := RunHost(context.Background(), tr, routerHost("r1"))

	require.Equal(t, Success, outcome.Status)
	require.Len(t, outcome.Results, 3)
	assert.Nil(t, outcome.Err)
	assert.Equal(t, int32(1), tr.calls.Load(), "transport should be called once per host")

	wantIDs := []string{"ver", "route", "int"}
	for i, r := range outcome.Results {
		assert.Equal(t, wantIDs[i], r.OutputID)
		assert.True(t, r.OK())
		assert.Equal(t, "r1: "+r.Command, r.Text)
	}
}

func TestRunHost_TransportFailure(t *testing.T) {
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			return nil, errors.New("connection refused")
		},
	}
	outcome := RunHost(context.Background(), tr, routerHost("r1"))

	assert.Equal(t, TotalFailure, outcome.Status)
	assert.Empty(t, outcome.Results)

	var te *TransportError
	require.ErrorAs(t, outcome.Err, &te)
	assert.Equal(t, "r1", te.Host)
	assert.Contains(t, te.Error(), "connection refused")
	assert.False(t, te.Timeout())
}

func TestRunHost_TransportPanicBecomesFailure(t *testing.T) {
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			var m map[string]string
			m[host] = "boom"
			return m, nil
		},
	}
	outcome := RunHost(context.Background(), tr, routerHost("r1"))

	assert.Equal(t, TotalFailure, outcome.Status)
	var te *TransportError
	require.ErrorAs(t, outcome.Err, &te)
	assert.Equal(t, "r1", te.Host)
	assert.Contains(t, te.Error(), "transport panic")
}

func TestRunHost_OneMissingOutput(t *testing.T) {
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			return map[string]string{
				"show version":      "IOS XE 17.9",
				"show ip int brief": "Gi1 up up",
			}, nil
		},
	}
	outcome := RunHost(context.Background(), tr, routerHost("r1"))

	require.Equal(t, PartialFailure, outcome.Status)
	require.Len(t, outcome.Results, 3)
	assert.Len(t, outcome.Succeeded(), 2)

	missing := outcome.Results[1]
	assert.False(t, missing.OK())
	var me *MissingOutputError
	require.ErrorAs(t, missing.Err, &me)
	assert.Equal(t, "show ip route", me.Command)
	assert.Nil(t, outcome.Err, "missing output is command-scoped")
}

func TestRunHost_AllOutputsMissing(t *testing.T) {
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			return map[string]string{}, nil
		},
	}
	outcome := RunHost(context.Background(), tr, routerHost("r1"))

	assert.Equal(t, TotalFailure, outcome.Status)
	assert.Len(t, outcome.Results, 3)
	assert.Empty(t, outcome.Succeeded())
}

func TestRunHost_EmptyCommandList(t *testing.T) {
	tr := echoTransport()
	outcome := RunHost(context.Background(), tr, Host{Name: "r1"})

	assert.Equal(t, Success, outcome.Status)
	assert.Empty(t, outcome.Results)
	assert.Equal(t, int32(0), tr.calls.Load())
}

func TestRunHost_DuplicateCommandsBatchedOnce(t *testing.T) {
	var got []string
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			got = commands
			return map[string]string{"show run": "hostname r1"}, nil
		},
	}
	host := Host{Name: "r1", Commands: []CommandSpec{
		{Command: "show run", OutputID: "run"},
		{Command: "show run", OutputID: "config"},
	}}
	outcome := RunHost(context.Background(), tr, host)

	assert.Equal(t, []string{"show run"}, got)
	require.Equal(t, Success, outcome.Status)
	assert.Equal(t, "hostname r1", outcome.Results[0].Text)
	assert.Equal(t, "hostname r1", outcome.Results[1].Text)
	assert.Equal(t, "config", outcome.Results[1].OutputID)
}

func TestRunHost_TransportIgnoresDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	tr := &mockTransport{
		handler: func(ctx context.Context, host string, commands []string) (map[string]string, error) {
			<-release
			return nil, nil
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	outcome := RunHost(ctx, tr, routerHost("hung"))

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, TotalFailure, outcome.Status)
	var te *TransportError
	require.ErrorAs(t, outcome.Err, &te)
	assert.True(t, te.Timeout())
	assert.ErrorIs(t, outcome.Err, context.DeadlineExceeded)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "success", Success.String())
	assert.Equal(t, "partial", PartialFailure.String())
	assert.Equal(t, "failed", TotalFailure.String())
}
