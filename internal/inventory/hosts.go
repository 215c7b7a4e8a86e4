package inventory

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kevinburke/ssh_config"

	"github.com/agent462/netcollect/internal/executor"
	"github.com/agent462/netcollect/internal/pathutil"
	"github.com/agent462/netcollect/internal/ssh"
)

// Host is a device with its settings resolved from the host entry, its
// groups, the inventory defaults and ssh_config, in that order.
type Host struct {
	Name             string // identity used in reports and file names
	Hostname         string // address actually dialed
	User             string
	Port             int
	IdentityFile     string
	ProxyJump        string
	LegacyAlgorithms bool
	Timeout          time.Duration
	Groups           []string
	Commands         []executor.CommandSpec
}

// Lookup returns the ssh_config value of key for host, or "".
type Lookup func(host, key string) string

// UserSSHConfig looks values up in ~/.ssh/config and /etc/ssh/ssh_config.
func UserSSHConfig(host, key string) string {
	val, err := ssh_config.GetStrict(host, key)
	if err != nil {
		return ""
	}
	return val
}

// ConfigLookup looks values up in a parsed ssh_config.
func ConfigLookup(cfg *ssh_config.Config) Lookup {
	return func(host, key string) string {
		val, err := cfg.Get(host, key)
		if err != nil {
			return ""
		}
		return val
	}
}

// Resolve returns the hosts in inventory order, limited to members of
// groups when any are given. lookup may be nil to skip ssh_config.
func (inv *Inventory) Resolve(groups []string, lookup Lookup) ([]Host, error) {
	for _, g := range groups {
		if _, ok := inv.Groups[g]; !ok {
			return nil, unknownGroupError(g, inv.Groups)
		}
	}

	var hosts []Host
	for _, e := range inv.Hosts {
		if len(groups) > 0 && !memberOfAny(e.Groups, groups) {
			continue
		}
		h := inv.resolveHost(e)
		if lookup != nil {
			mergeSSHConfig(&h, lookup)
		}
		if h.Port == 0 {
			h.Port = 22
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

func (inv *Inventory) resolveHost(e HostEntry) Host {
	d := inv.Defaults
	h := Host{
		Name:             e.Name,
		Hostname:         e.Hostname,
		User:             e.User,
		Port:             e.Port,
		IdentityFile:     e.IdentityFile,
		ProxyJump:        e.ProxyJump,
		LegacyAlgorithms: e.LegacyAlgorithms || d.LegacyAlgorithms,
		Timeout:          e.Timeout.Duration,
		Groups:           e.Groups,
	}

	if h.Hostname == "" {
		h.Hostname = e.Name
		if user, hostname, ok := parseUserAtHost(e.Name); ok {
			h.Hostname = hostname
			if h.User == "" {
				h.User = user
			}
		}
	}

	// The first group that sets a value wins.
	for _, name := range e.Groups {
		g := inv.Groups[name]
		if h.User == "" {
			h.User = g.User
		}
		if h.Port == 0 {
			h.Port = g.Port
		}
		if h.IdentityFile == "" {
			h.IdentityFile = g.IdentityFile
		}
		if h.ProxyJump == "" {
			h.ProxyJump = g.ProxyJump
		}
		if h.Timeout == 0 {
			h.Timeout = g.Timeout.Duration
		}
		if g.LegacyAlgorithms {
			h.LegacyAlgorithms = true
		}
		h.Commands = appendCommands(h.Commands, g.Commands)
	}
	h.Commands = appendCommands(h.Commands, e.Commands)

	if h.User == "" {
		h.User = d.User
	}
	if h.Port == 0 {
		h.Port = d.Port
	}
	if h.IdentityFile == "" {
		h.IdentityFile = d.IdentityFile
	}
	if h.ProxyJump == "" {
		h.ProxyJump = d.ProxyJump
	}
	if h.IdentityFile != "" {
		h.IdentityFile = pathutil.ExpandHome(h.IdentityFile)
	}
	return h
}

func appendCommands(dst []executor.CommandSpec, src []Command) []executor.CommandSpec {
	for _, c := range src {
		dst = append(dst, executor.CommandSpec{Command: c.Command, OutputID: c.OutputID})
	}
	return dst
}

// mergeSSHConfig fills in settings the inventory left unset. Lookups use
// the dialed Hostname, not the display Name.
func mergeSSHConfig(h *Host, lookup Lookup) {
	if h.User == "" {
		h.User = lookup(h.Hostname, "User")
	}
	if h.Port == 0 {
		if portStr := lookup(h.Hostname, "Port"); portStr != "" {
			if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
				h.Port = port
			}
		}
	}
	if h.IdentityFile == "" {
		if identity := lookup(h.Hostname, "IdentityFile"); identity != "" {
			expanded := pathutil.ExpandHome(identity)
			if _, err := os.Stat(expanded); err == nil {
				h.IdentityFile = expanded
			}
		}
	}
	if h.ProxyJump == "" {
		h.ProxyJump = lookup(h.Hostname, "ProxyJump")
	}
}

// ExecutorHosts converts resolved hosts into the executor's input.
func ExecutorHosts(hosts []Host) []executor.Host {
	out := make([]executor.Host, len(hosts))
	for i, h := range hosts {
		out[i] = executor.Host{Name: h.Name, Commands: h.Commands, Timeout: h.Timeout}
	}
	return out
}

// SSHHostConfigs returns per-host connection overrides keyed by host name.
func SSHHostConfigs(hosts []Host) map[string]ssh.HostConfig {
	out := make(map[string]ssh.HostConfig, len(hosts))
	for _, h := range hosts {
		out[h.Name] = ssh.HostConfig{
			Hostname:         h.Hostname,
			User:             h.User,
			Port:             h.Port,
			IdentityFile:     h.IdentityFile,
			ProxyJump:        h.ProxyJump,
			LegacyAlgorithms: h.LegacyAlgorithms,
		}
	}
	return out
}

// GroupNames returns the defined group names, sorted.
func (inv *Inventory) GroupNames() []string {
	names := make([]string, 0, len(inv.Groups))
	for name := range inv.Groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unknownGroupError(name string, groups map[string]Group) error {
	if len(groups) == 0 {
		return fmt.Errorf("group %q not found (no groups defined)", name)
	}
	available := make([]string, 0, len(groups))
	for g := range groups {
		available = append(available, g)
	}
	sort.Strings(available)
	return fmt.Errorf("group %q not found (available: %s)", name, strings.Join(available, ", "))
}

func memberOfAny(hostGroups, want []string) bool {
	for _, g := range hostGroups {
		for _, w := range want {
			if g == w {
				return true
			}
		}
	}
	return false
}

// parseUserAtHost splits "user@host" into its components.
func parseUserAtHost(s string) (user, host string, ok bool) {
	i := strings.Index(s, "@")
	if i <= 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}
