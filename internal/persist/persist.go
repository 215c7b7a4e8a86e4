// Package persist writes successful command outputs to per-host,
// per-command artifact files named {host}_{output_id}.txt.
package persist

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agent462/netcollect/internal/executor"
	"github.com/agent462/netcollect/internal/pathutil"
)

// DefaultDir is the output directory used when none is configured.
const DefaultDir = "outputs"

// CollisionPolicy decides what happens when two results of one run map
// to the same artifact path.
type CollisionPolicy int

const (
	// CollisionOverwrite lets the later result win and flags the write.
	CollisionOverwrite CollisionPolicy = iota
	// CollisionError refuses the later write.
	CollisionError
)

func (p CollisionPolicy) String() string {
	if p == CollisionError {
		return "error"
	}
	return "overwrite"
}

// ParseCollisionPolicy parses "overwrite" or "error". Empty means overwrite.
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "overwrite":
		return CollisionOverwrite, nil
	case "error":
		return CollisionError, nil
	default:
		return CollisionOverwrite, fmt.Errorf("unknown collision policy %q (want overwrite or error)", s)
	}
}

// WriteStatus describes what happened to one command result.
type WriteStatus struct {
	Host     string
	Command  string
	OutputID string
	Path     string
	Bytes    int
	Err      error

	// Skipped is set for results that were never eligible for writing,
	// with Reason saying why.
	Skipped bool
	Reason  string

	// Overwrote is set when this write replaced an artifact written
	// earlier in the same run.
	Overwrote bool
}

// Report is the outcome of persisting one run.
type Report struct {
	Dir    string
	DirErr error
	Writes []WriteStatus
}

// Written returns the artifacts that were written successfully.
func (r *Report) Written() []WriteStatus {
	var out []WriteStatus
	for _, w := range r.Writes {
		if !w.Skipped && w.Err == nil {
			out = append(out, w)
		}
	}
	return out
}

// Failed returns the attempted writes that failed, including those
// abandoned because the output directory could not be created.
func (r *Report) Failed() []WriteStatus {
	var out []WriteStatus
	for _, w := range r.Writes {
		if !w.Skipped && w.Err != nil {
			out = append(out, w)
		}
	}
	return out
}

// Skipped returns results that were not eligible for writing.
func (r *Report) Skipped() []WriteStatus {
	var out []WriteStatus
	for _, w := range r.Writes {
		if w.Skipped {
			out = append(out, w)
		}
	}
	return out
}

// ForHost returns the statuses recorded for host, in write order.
func (r *Report) ForHost(host string) []WriteStatus {
	var out []WriteStatus
	for _, w := range r.Writes {
		if w.Host == host {
			out = append(out, w)
		}
	}
	return out
}

// Persister writes run results through a Writer.
type Persister struct {
	w      Writer
	policy CollisionPolicy
	logger *zap.Logger
}

// Option configures a Persister.
type Option func(*Persister)

// WithCollisionPolicy sets the collision policy.
func WithCollisionPolicy(p CollisionPolicy) Option {
	return func(ps *Persister) { ps.policy = p }
}

// WithLogger sets the logger for write events.
func WithLogger(l *zap.Logger) Option {
	return func(ps *Persister) {
		if l != nil {
			ps.logger = l
		}
	}
}

// New creates a Persister. A nil writer means the local filesystem.
func New(w Writer, opts ...Option) *Persister {
	if w == nil {
		w = FileWriter{}
	}
	p := &Persister{w: w, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FileName returns the artifact file name for a host and output id.
func FileName(host, outputID string) string {
	return pathutil.SafeName(host) + "_" + outputID + ".txt"
}

// Persist writes every successful command result of run into dir. Each
// write is independent; failures are recorded in the report and never
// stop other writes. Writes not yet attempted when ctx is done are
// recorded as failed with the context error.
func (p *Persister) Persist(ctx context.Context, run *executor.RunReport, dir string) *Report {
	if dir == "" {
		dir = DefaultDir
	}
	rep := &Report{Dir: dir}

	pending, attempts := p.plan(run, dir)

	if attempts > 0 {
		if err := p.w.MkdirAll(dir); err != nil {
			rep.DirErr = &PersistenceError{Op: "mkdir", Path: dir, Err: err}
			p.logger.Error("output directory unavailable", zap.String("dir", dir), zap.Error(err))
		}
	}

	seen := make(map[string]bool, len(pending))
	for _, pw := range pending {
		ws := pw.status
		switch {
		case ws.Skipped:
		case rep.DirErr != nil:
			ws.Err = rep.DirErr
		case ctx.Err() != nil:
			ws.Err = &PersistenceError{Op: "write", Path: ws.Path, Err: ctx.Err()}
		case seen[ws.Path] && p.policy == CollisionError:
			ws.Err = &PersistenceError{Op: "write", Path: ws.Path, Err: ErrCollision}
			p.logger.Error("artifact collision refused",
				zap.String("host", ws.Host), zap.String("output_id", ws.OutputID), zap.String("path", ws.Path))
		default:
			ws.Overwrote = seen[ws.Path]
			p.write(&ws, pw.data)
			if ws.Err == nil {
				seen[ws.Path] = true
			}
		}
		rep.Writes = append(rep.Writes, ws)
	}
	return rep
}

type pendingWrite struct {
	status WriteStatus
	data   []byte
}

// plan lists every result in host input order then command order, and
// counts those eligible for writing.
func (p *Persister) plan(run *executor.RunReport, dir string) (pending []pendingWrite, attempts int) {
	for _, o := range run.Ordered() {
		if o.Status == executor.TotalFailure && len(o.Results) == 0 {
			reason := "host failed"
			if o.Err != nil {
				reason = o.Err.Error()
			}
			pending = append(pending, pendingWrite{status: WriteStatus{Host: o.Host, Skipped: true, Reason: reason}})
			continue
		}
		for _, r := range o.Results {
			ws := WriteStatus{Host: o.Host, Command: r.Command, OutputID: r.OutputID}
			if !r.OK() {
				ws.Skipped = true
				ws.Reason = r.Err.Error()
				pending = append(pending, pendingWrite{status: ws})
				continue
			}
			ws.Path = p.w.Join(dir, FileName(o.Host, r.OutputID))
			data := []byte(r.Text + "\n")
			ws.Bytes = len(data)
			pending = append(pending, pendingWrite{status: ws, data: data})
			attempts++
		}
	}
	return pending, attempts
}

func (p *Persister) write(ws *WriteStatus, data []byte) {
	if err := p.w.WriteFile(ws.Path, data); err != nil {
		ws.Err = &PersistenceError{Op: "write", Path: ws.Path, Err: err}
		p.logger.Error("artifact write failed", zap.String("host", ws.Host), zap.String("path", ws.Path), zap.Error(err))
		return
	}
	if ws.Overwrote {
		p.logger.Warn("artifact overwritten in the same run",
			zap.String("host", ws.Host), zap.String("output_id", ws.OutputID), zap.String("path", ws.Path))
		return
	}
	p.logger.Debug("artifact written", zap.String("host", ws.Host), zap.String("path", ws.Path), zap.Int("bytes", ws.Bytes))
}
