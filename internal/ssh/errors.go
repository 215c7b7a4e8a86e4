package ssh

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// ConnectError wraps an SSH connection error with a user-friendly hint.
type ConnectError struct {
	Host string
	Err  error
	Hint string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("%s: %v (hint: %s)", e.Host, e.Err, e.Hint)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// WrapConnectError wraps an SSH connection error with a friendly hint.
// If the error doesn't match any known patterns, it's returned as-is.
func WrapConnectError(host string, err error) error {
	if err == nil {
		return nil
	}
	if hint := connectHint(host, err); hint != "" {
		return &ConnectError{Host: host, Err: err, Hint: hint}
	}
	return err
}

func connectHint(host string, err error) string {
	msg := err.Error()

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "the jump host keeps failing; fix it or wait for the breaker to reset"
	}

	var keyErr *knownhosts.KeyError
	if errors.As(err, &keyErr) {
		if len(keyErr.Want) > 0 {
			return fmt.Sprintf("host key changed; remove the old key with: ssh-keygen -R %s", host)
		}
		return fmt.Sprintf("host not in known_hosts; use --insecure or connect once with: ssh %s", host)
	}
	if strings.Contains(msg, "no known_hosts") {
		return fmt.Sprintf("use --insecure or connect once with: ssh %s", host)
	}

	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) ||
		strings.Contains(msg, "unable to authenticate") ||
		strings.Contains(msg, "no supported methods remain") {
		return "check the device username and key, or pass --ask-pass for password logins"
	}

	if strings.Contains(msg, "permission denied") && strings.Contains(msg, "key") {
		return "check SSH key permissions (chmod 600)"
	}

	if strings.Contains(msg, "no common algorithm") {
		return "the device only offers legacy SSH algorithms; set legacy_algorithms: true for it"
	}

	if strings.Contains(msg, "connection refused") {
		return "verify SSH is enabled on the device (ip ssh / vty transport input)"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) || strings.Contains(msg, "no such host") {
		return "verify the hostname, or set hostname: in the inventory"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "the device did not answer in time; check reachability and ACLs"
	}

	return ""
}
