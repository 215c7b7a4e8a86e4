// Package inventory loads the YAML device inventory: defaults, groups of
// shared settings and commands, and the hosts to collect from.
package inventory

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Inventory is the top-level inventory file.
type Inventory struct {
	Defaults Defaults         `yaml:"defaults"`
	Groups   map[string]Group `yaml:"groups,omitempty" validate:"dive"`
	Hosts    []HostEntry      `yaml:"hosts" validate:"dive"`
}

// Defaults holds run-wide settings. CLI flags override them.
type Defaults struct {
	Concurrency      int      `yaml:"concurrency" validate:"gte=0"`
	Timeout          Duration `yaml:"timeout"`
	RunTimeout       Duration `yaml:"run_timeout"`
	OutputDir        string   `yaml:"output_dir"`
	OnCollision      string   `yaml:"on_collision" validate:"omitempty,oneof=overwrite error"`
	ExitPolicy       string   `yaml:"exit_policy" validate:"omitempty,oneof=all-failed any-failure"`
	Severity         string   `yaml:"severity"`
	User             string   `yaml:"user"`
	Port             int      `yaml:"port" validate:"gte=0,lte=65535"`
	IdentityFile     string   `yaml:"identity_file"`
	ProxyJump        string   `yaml:"proxy_jump"`
	KnownHosts       string   `yaml:"known_hosts"`
	Insecure         bool     `yaml:"insecure"`
	LegacyAlgorithms bool     `yaml:"legacy_algorithms"`
}

// Group is a named bundle of connection settings and commands that hosts
// opt into.
type Group struct {
	User             string    `yaml:"user,omitempty"`
	Port             int       `yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	Timeout          Duration  `yaml:"timeout,omitempty"`
	ProxyJump        string    `yaml:"proxy_jump,omitempty"`
	IdentityFile     string    `yaml:"identity_file,omitempty"`
	LegacyAlgorithms bool      `yaml:"legacy_algorithms,omitempty"`
	Commands         []Command `yaml:"commands,omitempty" validate:"dive"`
}

// HostEntry is one device as written in the inventory.
type HostEntry struct {
	Name             string    `yaml:"name" validate:"required"`
	Hostname         string    `yaml:"hostname,omitempty"`
	User             string    `yaml:"user,omitempty"`
	Port             int       `yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	IdentityFile     string    `yaml:"identity_file,omitempty"`
	ProxyJump        string    `yaml:"proxy_jump,omitempty"`
	Timeout          Duration  `yaml:"timeout,omitempty"`
	LegacyAlgorithms bool      `yaml:"legacy_algorithms,omitempty"`
	Groups           []string  `yaml:"groups,omitempty"`
	Commands         []Command `yaml:"commands,omitempty" validate:"dive"`
}

// Command is one CLI command and the id its output file is named with.
type Command struct {
	Command  string `yaml:"command" validate:"required"`
	OutputID string `yaml:"output_id" validate:"required,outputid"`
}

// UnmarshalYAML accepts file_suffix as an alias for output_id. Node.Decode
// does not inherit the decoder's KnownFields, so keys are checked here.
func (c *Command) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(value.Content); i += 2 {
			switch k := value.Content[i]; k.Value {
			case "command", "output_id", "file_suffix":
			default:
				return fmt.Errorf("line %d: unknown command key %q", k.Line, k.Value)
			}
		}
	}
	var raw struct {
		Command    string `yaml:"command"`
		OutputID   string `yaml:"output_id"`
		FileSuffix string `yaml:"file_suffix"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.OutputID != "" && raw.FileSuffix != "" && raw.OutputID != raw.FileSuffix {
		return fmt.Errorf("line %d: output_id %q and file_suffix %q disagree", value.Line, raw.OutputID, raw.FileSuffix)
	}
	c.Command = raw.Command
	c.OutputID = raw.OutputID
	if c.OutputID == "" {
		c.OutputID = raw.FileSuffix
	}
	return nil
}

// Duration wraps time.Duration to support YAML values like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// DefaultFile is looked up in the working directory when no inventory
// path is given.
const DefaultFile = "inventory.yaml"

// DefaultPath returns the per-user inventory path under $XDG_CONFIG_HOME,
// falling back to ~/.config.
func DefaultPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir != "" {
		return filepath.Join(configDir, "netcollect", DefaultFile)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "netcollect", DefaultFile)
}

// Locate picks the inventory to load: an explicit path, else
// ./inventory.yaml, else DefaultPath.
func Locate(path string) string {
	if path != "" {
		return path
	}
	if _, err := os.Stat(DefaultFile); err == nil {
		return DefaultFile
	}
	if p := DefaultPath(); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return DefaultFile
}

// Load reads, parses and validates the inventory at path.
func Load(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading inventory: %w", err)
	}
	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inv, nil
}

// Parse decodes and validates inventory YAML. Unknown keys are rejected.
func Parse(data []byte) (*Inventory, error) {
	inv := &Inventory{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(inv); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing inventory: %w", err)
	}
	if err := inv.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inventory: %w", err)
	}
	return inv, nil
}
