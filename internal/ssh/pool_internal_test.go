package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	gossh "golang.org/x/crypto/ssh"

	"github.com/agent462/netcollect/internal/sshtest"
)

func TestIsReconnectable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"wrapped context canceled", fmt.Errorf("run: %w", context.Canceled), false},
		{"EOF", io.EOF, true},
		{"unexpected EOF", io.ErrUnexpectedEOF, true},
		{"wrapped EOF", fmt.Errorf("session: %w", io.EOF), true},
		{"net.OpError", &net.OpError{Op: "read", Err: errors.New("reset")}, true},
		{"closed connection", errors.New("use of closed network connection"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"auth failure", errors.New("ssh: handshake failed: ssh: unable to authenticate"), false},
		{"generic error", errors.New("something went wrong"), false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := isReconnectable(tc.err)
			if got != tc.want {
				t.Errorf("isReconnectable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestPool_BreakerOpensOnFailingJumpHost(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	pool := NewPool(PoolSettings{Failures: 2, Cooldown: time.Minute})
	defer pool.Close()

	conf := ClientConfig{
		User:            "netops",
		ProxyJump:       "netops@127.0.0.1:1",
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		if _, err := pool.Dial(ctx, "10.0.0.1", conf); err == nil {
			t.Fatalf("dial %d: expected error through dead jump host", i)
		}
	}

	if got := pool.BreakerState(conf); got != gobreaker.StateOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}

	_, err := pool.Dial(ctx, "10.0.0.2", conf)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected open-breaker error, got %v", err)
	}
	if pool.Jumps() != 0 {
		t.Errorf("failed jump dials should not be pooled, have %d", pool.Jumps())
	}
}

func TestPool_CanceledDialDoesNotTrip(t *testing.T) {
	pool := NewPool(PoolSettings{Failures: 1})
	defer pool.Close()

	conf := ClientConfig{ProxyJump: "127.0.0.1:1", HostKeyCallback: gossh.InsecureIgnoreHostKey()}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pool.Dial(ctx, "10.0.0.1", conf); err == nil {
		t.Fatal("expected error from canceled dial")
	}
	if got := pool.BreakerState(conf); got != gobreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed after caller cancellation", got)
	}
}

func TestPool_SharedJumpDialOutlivesShortCaller(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")

	pubKey, keyPath := sshtest.GenerateKey(t)
	bastionAddr, cleanup := sshtest.Start(t,
		sshtest.WithPublicKey(pubKey),
		sshtest.WithOnConnect(func() { time.Sleep(300 * time.Millisecond) }),
	)
	defer cleanup()

	host, port := sshtest.ParseAddr(t, bastionAddr)
	conf := ClientConfig{
		ProxyJump:       fmt.Sprintf("netops@%s:%d", host, port),
		IdentityFiles:   []string{keyPath},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(),
	}
	key := jumpKey(conf)

	pool := NewPool(PoolSettings{Failures: 1})
	defer pool.Close()

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := pool.getOrDial(short, key, conf); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("short caller: expected its own deadline, got %v", err)
	}

	long, cancelLong := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelLong()
	client, err := pool.getOrDial(long, key, conf)
	if err != nil {
		t.Fatalf("waiting caller should get the shared jump connection: %v", err)
	}
	if client == nil {
		t.Fatal("expected a jump client")
	}
	if pool.Jumps() != 1 {
		t.Errorf("pool holds %d jump connections, want 1", pool.Jumps())
	}
	if got := pool.BreakerState(conf); got != gobreaker.StateClosed {
		t.Errorf("breaker state = %v, want closed", got)
	}
}

func TestJumpKey(t *testing.T) {
	a := ClientConfig{ProxyJump: "bastion", IdentityFiles: []string{"/k1"}}
	b := ClientConfig{ProxyJump: "bastion", IdentityFiles: []string{"/k2"}}
	c := ClientConfig{ProxyJump: "bastion", IdentityFiles: []string{"/k1"}, User: "other"}

	if jumpKey(a) == jumpKey(b) {
		t.Error("different identities should not share a jump connection")
	}
	if jumpKey(a) != jumpKey(c) {
		t.Error("target user should not affect the jump connection")
	}
}
