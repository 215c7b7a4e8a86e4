package report

import (
	"crypto/sha256"
	"sort"
	"strings"

	"github.com/agent462/netcollect/internal/executor"
)

// OutputGroup is a set of hosts whose output for one command was identical.
type OutputGroup struct {
	Hosts  []string
	Text   string
	IsNorm bool   // largest group; ties go to the group seen first
	Diff   string // line diff against the norm; empty for the norm itself
}

// CommandConsistency groups every host's output for one output id.
type CommandConsistency struct {
	OutputID string
	Command  string
	Groups   []OutputGroup
}

// Consistent reports whether every host returned the same output.
func (c CommandConsistency) Consistent() bool {
	return len(c.Groups) <= 1
}

// Consistency compares the successful outputs of each output id across
// hosts, in the order output ids first appear in the run. Output ids
// collected from fewer than two hosts are left out.
func Consistency(run *executor.RunReport) []CommandConsistency {
	type groupData struct {
		hosts []string
		text  string
	}
	type idData struct {
		command string
		groups  map[[sha256.Size]byte]*groupData
		order   [][sha256.Size]byte
		hosts   int
	}

	ids := make(map[string]*idData)
	var idOrder []string

	for _, o := range run.Ordered() {
		for _, r := range o.Results {
			if !r.OK() {
				continue
			}
			d, ok := ids[r.OutputID]
			if !ok {
				d = &idData{command: r.Command, groups: make(map[[sha256.Size]byte]*groupData)}
				ids[r.OutputID] = d
				idOrder = append(idOrder, r.OutputID)
			}
			h := sha256.Sum256([]byte(r.Text))
			g, ok := d.groups[h]
			if !ok {
				g = &groupData{text: r.Text}
				d.groups[h] = g
				d.order = append(d.order, h)
			}
			g.hosts = append(g.hosts, o.Host)
			d.hosts++
		}
	}

	var out []CommandConsistency
	for _, id := range idOrder {
		d := ids[id]
		if d.hosts < 2 {
			continue
		}

		normHash := d.order[0]
		for _, h := range d.order[1:] {
			if len(d.groups[h].hosts) > len(d.groups[normHash].hosts) {
				normHash = h
			}
		}
		norm := d.groups[normHash]

		cc := CommandConsistency{OutputID: id, Command: d.command}
		sort.Strings(norm.hosts)
		cc.Groups = append(cc.Groups, OutputGroup{Hosts: norm.hosts, Text: norm.text, IsNorm: true})
		for _, h := range d.order {
			if h == normHash {
				continue
			}
			g := d.groups[h]
			sort.Strings(g.hosts)
			cc.Groups = append(cc.Groups, OutputGroup{
				Hosts: g.hosts,
				Text:  g.text,
				Diff:  lineDiff(norm.text, g.text, norm.hosts[0], g.hosts[0]),
			})
		}
		out = append(out, cc)
	}
	return out
}

// maxDiffLines bounds the LCS table; larger outputs are shown as a full
// removal and addition.
const maxDiffLines = 500

// lineDiff renders a unified-style line diff from a to b, labelled with
// the hosts each side came from.
func lineDiff(a, b, aName, bName string) string {
	aLines := splitLines(a)
	bLines := splitLines(b)

	var out strings.Builder
	out.WriteString("--- " + aName + "\n")
	out.WriteString("+++ " + bName + "\n")

	emit := func(prefix string, lines []string) {
		for _, l := range lines {
			out.WriteString(prefix)
			out.WriteString(l)
			out.WriteString("\n")
		}
	}

	if len(aLines) > maxDiffLines || len(bLines) > maxDiffLines {
		emit("-", aLines)
		emit("+", bLines)
		return out.String()
	}

	ai, bi := 0, 0
	for _, common := range lcs(aLines, bLines) {
		start := ai
		for aLines[ai] != common {
			ai++
		}
		emit("-", aLines[start:ai])
		start = bi
		for bLines[bi] != common {
			bi++
		}
		emit("+", bLines[start:bi])
		emit(" ", []string{common})
		ai++
		bi++
	}
	emit("-", aLines[ai:])
	emit("+", bLines[bi:])
	return out.String()
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(s, "\n"), "\n")
}

// lcs returns the longest common subsequence of two line slices.
func lcs(a, b []string) []string {
	m, n := len(a), len(b)
	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
	}
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			switch {
			case a[i-1] == b[j-1]:
				dp[i][j] = dp[i-1][j-1] + 1
			case dp[i-1][j] >= dp[i][j-1]:
				dp[i][j] = dp[i-1][j]
			default:
				dp[i][j] = dp[i][j-1]
			}
		}
	}

	seq := make([]string, dp[m][n])
	k := len(seq) - 1
	for i, j := m, n; i > 0 && j > 0; {
		switch {
		case a[i-1] == b[j-1]:
			seq[k] = a[i-1]
			k--
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	return seq
}
