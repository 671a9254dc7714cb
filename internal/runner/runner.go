// Package runner executes a compiled plan: it narrows candidates with the
// static filter, executes survivors through an Engine with the plan's probes
// and budget, keeps those the post-filter accepts, and projects rows.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
	"github.com/DeusData/bytecode-query-mcp/internal/planner"
	"github.com/DeusData/bytecode-query-mcp/internal/postfilter"
	"github.com/DeusData/bytecode-query-mcp/internal/probe"
	"github.com/DeusData/bytecode-query-mcp/internal/query"
)

// Engine executes one method with probes installed and reports what it
// captured. Implementations must honour ctx cancellation and the budget's
// instruction and depth limits.
type Engine interface {
	Execute(ctx context.Context, m bytecode.Method, probes *probe.Set, budget query.Budget) (*postfilter.Result, error)
}

// DefaultMaxMethods caps the number of executed candidates.
const DefaultMaxMethods = 100

// Options tune a Runner. Zero values select defaults.
type Options struct {
	Workers    int
	MaxMethods int
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.NumCPU()
}

func (o Options) maxMethods() int {
	if o.MaxMethods > 0 {
		return o.MaxMethods
	}
	return DefaultMaxMethods
}

// Runner runs plans over one metadata universe.
type Runner struct {
	provider bytecode.Provider
	engine   Engine
	opts     Options
}

// New creates a Runner. engine may be nil, in which case only plans that
// are answerable statically produce rows.
func New(provider bytecode.Provider, engine Engine, opts Options) *Runner {
	return &Runner{provider: provider, engine: engine, opts: opts}
}

// Report is the outcome of one run.
type Report struct {
	Rows []postfilter.Row `json:"rows"`
	// Candidates is the number of methods surviving the static filter.
	Candidates int `json:"candidates"`
	// Executed counts candidates handed to the engine; Failed those whose
	// execution errored or timed out.
	Executed   int           `json:"executed"`
	Failed     int           `json:"failed"`
	Matched    int           `json:"matched"`
	Truncated  bool          `json:"truncated,omitempty"`
	StaticOnly bool          `json:"static_only,omitempty"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// ErrNoEngine is returned when a plan needs execution but no engine is set.
var ErrNoEngine = errors.New("no execution engine configured")

// Run executes plan. Cancelling ctx stops scheduling new candidates; rows
// from candidates already finished are still returned alongside ctx's error.
func (r *Runner) Run(ctx context.Context, plan *planner.Plan) (*Report, error) {
	start := time.Now()
	all, err := r.provider.Methods()
	if err != nil {
		return nil, fmt.Errorf("list methods: %w", err)
	}
	candidates := plan.StaticFilter.FilterMethods(all)

	rep := &Report{Candidates: len(candidates)}
	defer func() { rep.Elapsed = time.Since(start) }()

	if plan.StaticOnly() {
		rep.StaticOnly = true
		rows := staticRows(plan.Query.Target, candidates, plan.Evidence())
		rep.Matched = len(rows)
		rep.Rows = finish(plan.Query, rows)
		slog.Info("runner.static", "candidates", len(candidates), "rows", len(rep.Rows))
		return rep, nil
	}

	if r.engine == nil {
		return nil, ErrNoEngine
	}

	exec := executable(candidates)
	if limit := r.opts.maxMethods(); len(exec) > limit {
		slog.Info("runner.cap", "candidates", len(exec), "max", limit)
		exec = exec[:limit]
		rep.Truncated = true
	}

	results, failed, runErr := r.executeAll(ctx, plan, exec)
	rep.Failed = failed

	var rows []postfilter.Row
	for _, res := range results {
		if res == nil {
			continue
		}
		rep.Executed++
		if !plan.PostFilter(res) {
			continue
		}
		rep.Matched++
		rows = append(rows, res.Rows(plan.Query.Target)...)
	}
	if plan.Query.Target == query.TargetClasses {
		rows = mergeByLabel(rows)
	}
	rep.Rows = finish(plan.Query, rows)

	slog.Info("runner.done",
		"candidates", rep.Candidates, "executed", rep.Executed, "failed", rep.Failed,
		"matched", rep.Matched, "rows", len(rep.Rows), "elapsed", time.Since(start))
	return rep, runErr
}

// executeAll runs every method through the engine with bounded
// concurrency. A failed candidate gets an empty result; a candidate never
// scheduled because ctx ended gets nil.
func (r *Runner) executeAll(ctx context.Context, plan *planner.Plan, ms []bytecode.Method) ([]*postfilter.Result, int, error) {
	results := make([]*postfilter.Result, len(ms))
	failures := make([]bool, len(ms))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.workers())
	for i, m := range ms {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			res, err := r.executeOne(gctx, m, plan)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("runner.exec.err", "method", m.Signature(), "err", err)
				failures[i] = true
				res = postfilter.Empty(m.Signature())
			}
			results[i] = res
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	failed := 0
	for _, f := range failures {
		if f {
			failed++
		}
	}
	if err != nil {
		return results, failed, fmt.Errorf("run cancelled: %w", err)
	}
	return results, failed, nil
}

func (r *Runner) executeOne(ctx context.Context, m bytecode.Method, plan *planner.Plan) (*postfilter.Result, error) {
	if plan.Budget.TimeBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, plan.Budget.TimeBudget)
		defer cancel()
	}
	res, err := r.engine.Execute(ctx, m, plan.Probes, plan.Budget)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return postfilter.Empty(m.Signature()), nil
	}
	if res.Method == "" {
		res.Method = m.Signature()
	}
	return res, nil
}

// executable drops abstract, native and code-less methods.
func executable(ms []bytecode.Method) []bytecode.Method {
	out := make([]bytecode.Method, 0, len(ms))
	for _, m := range ms {
		if m.Executable() {
			out = append(out, m)
		}
	}
	return out
}

// finish orders and limits rows as the query asks.
func finish(q *query.Query, rows []postfilter.Row) []postfilter.Row {
	if q.OrderBy != nil {
		sortRows(rows, q.OrderBy.Key, q.OrderBy.Descending)
	}
	if q.Limit != nil && *q.Limit >= 0 && len(rows) > *q.Limit {
		rows = rows[:*q.Limit]
	}
	return rows
}
