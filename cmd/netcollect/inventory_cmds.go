package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
	"github.com/spf13/cobra"

	"github.com/agent462/netcollect/internal/inventory"
)

func loadHosts() (*inventory.Inventory, []inventory.Host, error) {
	path := inventory.Locate(flags.inventory)
	inv, err := inventory.Load(path)
	if err != nil {
		return nil, nil, &setupError{err: err}
	}
	hosts, err := inv.Resolve(flags.groups, inventory.UserSSHConfig)
	if err != nil {
		return nil, nil, &setupError{err: err}
	}
	return inv, hosts, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the inventory without connecting to any device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, hosts, err := loadHosts()
			if err != nil {
				return err
			}
			writeValidation(cmd.OutOrStdout(), inv, hosts)
			return nil
		},
	}
}

// writeValidation prints a summary of the inventory and warns about
// output ids that would land in the same file.
func writeValidation(w io.Writer, inv *inventory.Inventory, hosts []inventory.Host) {
	commands := 0
	for _, h := range hosts {
		commands += len(h.Commands)
		seen := make(map[string]string, len(h.Commands))
		for _, c := range h.Commands {
			if prev, dup := seen[c.OutputID]; dup && prev != c.Command {
				fmt.Fprintf(w, "warning: %s: %q and %q both write output id %q\n", h.Name, prev, c.Command, c.OutputID)
				continue
			}
			seen[c.OutputID] = c.Command
		}
		if len(h.Commands) == 0 {
			fmt.Fprintf(w, "warning: %s has no commands\n", h.Name)
		}
	}
	fmt.Fprintf(w, "inventory ok: %d hosts, %d groups, %d commands\n", len(hosts), len(inv.Groups), commands)
}

func newHostsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List the resolved hosts and their commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, hosts, err := loadHosts()
			if err != nil {
				return err
			}
			if asJSON {
				return writeHostsJSON(cmd.OutOrStdout(), hosts)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hostsTable(hosts))
			return err
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print hosts as JSON")
	return cmd
}

func hostsTable(hosts []inventory.Host) string {
	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))).
		Headers("HOST", "ADDRESS", "USER", "PORT", "PROXY", "GROUPS", "OUTPUT IDS").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			return cell
		})
	for _, h := range hosts {
		ids := make([]string, len(h.Commands))
		for i, c := range h.Commands {
			ids[i] = c.OutputID
		}
		t.Row(h.Name, h.Hostname, h.User, strconv.Itoa(h.Port), h.ProxyJump,
			strings.Join(h.Groups, ","), strings.Join(ids, ","))
	}
	return t.String()
}

type jsonHost struct {
	Name      string        `json:"name"`
	Hostname  string        `json:"hostname"`
	User      string        `json:"user,omitempty"`
	Port      int           `json:"port"`
	ProxyJump string        `json:"proxy_jump,omitempty"`
	Timeout   string        `json:"timeout,omitempty"`
	Groups    []string      `json:"groups,omitempty"`
	Commands  []jsonCommand `json:"commands"`
}

type jsonCommand struct {
	Command  string `json:"command"`
	OutputID string `json:"output_id"`
}

func writeHostsJSON(w io.Writer, hosts []inventory.Host) error {
	out := make([]jsonHost, len(hosts))
	for i, h := range hosts {
		jh := jsonHost{
			Name:      h.Name,
			Hostname:  h.Hostname,
			User:      h.User,
			Port:      h.Port,
			ProxyJump: h.ProxyJump,
			Groups:    h.Groups,
			Commands:  make([]jsonCommand, len(h.Commands)),
		}
		if h.Timeout > 0 {
			jh.Timeout = h.Timeout.String()
		}
		for j, c := range h.Commands {
			jh.Commands[j] = jsonCommand{Command: c.Command, OutputID: c.OutputID}
		}
		out[i] = jh
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
