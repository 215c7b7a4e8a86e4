package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh/knownhosts"
)

func TestWrapConnectError_Hints(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantHint string
	}{
		{
			name:     "connection refused",
			err:      &net.OpError{Op: "dial", Net: "tcp", Err: fmt.Errorf("connection refused")},
			wantHint: "SSH is enabled",
		},
		{
			name:     "dns failure",
			err:      &net.DNSError{Err: "no such host", Name: "badhost"},
			wantHint: "hostname",
		},
		{
			name:     "auth failure",
			err:      fmt.Errorf("ssh: handshake failed: ssh: unable to authenticate"),
			wantHint: "--ask-pass",
		},
		{
			name:     "missing known_hosts",
			err:      fmt.Errorf("no known_hosts file found at /home/user/.ssh/known_hosts"),
			wantHint: "--insecure",
		},
		{
			name:     "unknown host key",
			err:      fmt.Errorf("handshake: %w", &knownhosts.KeyError{}),
			wantHint: "--insecure",
		},
		{
			name:     "changed host key",
			err:      &knownhosts.KeyError{Want: []knownhosts.KnownKey{{Filename: "known_hosts", Line: 3}}},
			wantHint: "ssh-keygen -R myhost",
		},
		{
			name:     "legacy device",
			err:      fmt.Errorf("ssh: handshake failed: ssh: no common algorithm for key exchange"),
			wantHint: "legacy_algorithms",
		},
		{
			name:     "open breaker",
			err:      fmt.Errorf("connect: %w", gobreaker.ErrOpenState),
			wantHint: "jump host",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wrapped := WrapConnectError("myhost", tc.err)
			var ce *ConnectError
			if !errors.As(wrapped, &ce) {
				t.Fatalf("expected *ConnectError, got %T", wrapped)
			}
			if !strings.Contains(ce.Hint, tc.wantHint) {
				t.Errorf("hint = %q, want mention of %q", ce.Hint, tc.wantHint)
			}
			if !errors.Is(wrapped, tc.err) {
				t.Error("wrapped error should unwrap to the original")
			}
			if !strings.HasPrefix(ce.Error(), "myhost: ") {
				t.Errorf("Error() = %q, want host prefix", ce.Error())
			}
		})
	}
}

func TestWrapConnectError_Nil(t *testing.T) {
	if err := WrapConnectError("host", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestWrapConnectError_Unknown(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("some random error"),
		context.Canceled,
	} {
		wrapped := WrapConnectError("host", err)
		if _, ok := wrapped.(*ConnectError); ok {
			t.Errorf("expected %v to pass through unwrapped", err)
		}
	}
}
