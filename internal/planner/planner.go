// Package planner compiles a parsed query into the three artifacts the
// runner needs: a static filter that narrows candidates without executing
// anything, the probe set to install in the execution engine, and the
// post-filter that decides matches from captured results.
//
// Each artifact is produced by an exhaustive switch over the query's scope
// and predicate node types. The three agree on predicate meaning but differ
// in how they degrade: static filters fail open (no filter), probes
// over-collect, and the post-filter is exact.
package planner

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
	"github.com/DeusData/bytecode-query-mcp/internal/filter"
	"github.com/DeusData/bytecode-query-mcp/internal/postfilter"
	"github.com/DeusData/bytecode-query-mcp/internal/probe"
	"github.com/DeusData/bytecode-query-mcp/internal/query"
)

// Plan is a compiled query.
type Plan struct {
	Query *query.Query
	// StaticFilter is never nil; it is filter.All() when nothing narrows.
	StaticFilter filter.StaticFilter
	// XrefBacked is true when the predicate's static filter is decided by
	// xref evidence alone.
	XrefBacked bool
	Probes     *probe.Set
	PostFilter postfilter.PostFilter
	Budget     query.Budget
}

// StaticOnly reports whether the plan can be answered from xref evidence
// without executing anything.
func (p *Plan) StaticOnly() bool {
	if !p.XrefBacked || !StaticallyResolvable(p.Query.Predicate) {
		return false
	}
	return p.Query.Target == query.TargetMethods || p.Query.Target == query.TargetClasses
}

// Evidence returns the xref sites backing the static filter, grouped by
// containing method signature, or nil when the plan is not xref-backed.
func (p *Plan) Evidence() map[string][]bytecode.Xref {
	if !p.XrefBacked {
		return nil
	}
	ev, _ := filter.EvidenceOf(p.StaticFilter)
	return ev
}

// Planner compiles queries against one metadata universe. Either source may
// be nil: without xrefs no call or field prefilter is built, without a
// provider no constant-pool prefilter is built.
type Planner struct {
	provider bytecode.Provider
	xrefs    bytecode.XrefDatabase
	budget   query.Budget
}

// New creates a Planner. budget is the base the query's WITH clause
// overrides.
func New(provider bytecode.Provider, xrefs bytecode.XrefDatabase, budget query.Budget) *Planner {
	return &Planner{provider: provider, xrefs: xrefs, budget: budget}
}

// Plan compiles q.
func (p *Planner) Plan(q *query.Query) *Plan {
	predFilter := p.PredicateFilter(q.Predicate)
	scopeFilter := p.ScopeFilter(q.Scope)

	var static filter.StaticFilter
	switch {
	case scopeFilter != nil && predFilter != nil:
		static = filter.And(scopeFilter, predFilter)
	case scopeFilter != nil:
		static = scopeFilter
	case predFilter != nil:
		static = predFilter
	default:
		static = filter.All()
	}

	_, backed := filter.EvidenceOf(predFilter)
	plan := &Plan{
		Query:        q,
		StaticFilter: static,
		XrefBacked:   backed,
		Probes:       Probes(q),
		PostFilter:   PostFilterFor(q.Predicate),
		Budget:       q.RunSpec.Resolve(p.budget),
	}
	slog.Debug("planner.plan", "query", q.String(), "static", static, "xref_backed", backed, "probes", plan.Probes.Len())
	return plan
}

// --- Static filters ---

// ScopeFilter returns the static filter for a scope, or nil when the scope
// does not narrow anything.
func (p *Planner) ScopeFilter(scope query.Scope) filter.StaticFilter {
	switch s := scope.(type) {
	case nil, *query.AllScope:
		return nil
	case *query.ClassScope:
		return classFilter(s.Pattern, s.IsRegex)
	case *query.MethodScope:
		return methodFilter(s.Pattern, s.IsRegex)
	case *query.DuringScope:
		if !s.Clinit {
			return methodFilter(s.MethodPattern, true)
		}
		clinit := filter.Clinit()
		if s.ClassFilter != nil {
			if cf := classFilter(s.ClassFilter.Pattern, s.ClassFilter.IsRegex); cf != nil {
				return clinit.WithClass(cf)
			}
		}
		return clinit
	case *query.BetweenScope:
		start := p.PredicateFilter(s.Start)
		end := p.PredicateFilter(s.End)
		if start != nil && end != nil {
			return filter.Or(start, end)
		}
		return nil
	}
	return nil
}

// classFilter compiles a class pattern, retrying as a literal when the
// pattern is not a valid regular expression.
func classFilter(pattern string, isRegex bool) *filter.PatternFilter {
	f, err := filter.ClassMatching(pattern, isRegex)
	if err != nil {
		slog.Debug("planner.pattern.literal", "pattern", pattern, "err", err)
		f, _ = filter.ClassMatching(pattern, false)
	}
	return f
}

func methodFilter(pattern string, isRegex bool) *filter.PatternFilter {
	f, err := filter.MethodMatching(pattern, isRegex)
	if err != nil {
		slog.Debug("planner.pattern.literal", "pattern", pattern, "err", err)
		f, _ = filter.MethodMatching(pattern, false)
	}
	return f
}

// PredicateFilter returns the static filter for a predicate, or nil when
// the predicate cannot be decided statically. Nil means "keep everything";
// it never means "keep nothing".
func (p *Planner) PredicateFilter(pred query.Predicate) filter.StaticFilter {
	switch n := pred.(type) {
	case nil:
		return nil
	case *query.Calls:
		if p.xrefs == nil {
			return nil
		}
		return filter.CallsMethod(p.xrefs, n.Owner, n.Name, n.Desc, argKeep(n.Arg))
	case *query.ReadsField:
		if p.xrefs == nil {
			return nil
		}
		return filter.ReadsField(p.xrefs, n.Owner, n.Field, n.Desc)
	case *query.WritesField:
		if p.xrefs == nil {
			return nil
		}
		return filter.WritesField(p.xrefs, n.Owner, n.Field, n.Desc)
	case *query.ContainsString:
		if p.provider == nil {
			return nil
		}
		f, err := filter.ContainsString(p.provider, n.Pattern, n.IsRegex)
		if err != nil {
			slog.Debug("planner.constpool.skip", "pattern", n.Pattern, "err", err)
			return nil
		}
		return f
	case *query.Before:
		return p.PredicateFilter(n.Inner)
	case *query.After:
		return p.PredicateFilter(n.Inner)
	case *query.And:
		left := p.PredicateFilter(n.Left)
		right := p.PredicateFilter(n.Right)
		switch {
		case left != nil && right != nil:
			return filter.And(left, right)
		case left != nil:
			return left
		}
		return right
	case *query.Or:
		// An undecidable side degrades to the decidable one, as with And.
		left := p.PredicateFilter(n.Left)
		right := p.PredicateFilter(n.Right)
		switch {
		case left != nil && right != nil:
			return filter.Or(left, right)
		case left != nil:
			return left
		}
		return right
	case *query.Not, *query.AllocCount, *query.InstructionCount,
		*query.Coverage, *query.Throws, *query.FieldBecomes:
		return nil
	}
	return nil
}

// argKeep restricts call sites to those with at least one argument whose
// producer kind satisfies arg.
func argKeep(arg query.ArgumentType) func(bytecode.Xref) bool {
	if arg == query.ArgAny {
		return nil
	}
	return func(x bytecode.Xref) bool {
		for _, k := range x.ArgKinds {
			if arg.Matches(k) {
				return true
			}
		}
		return false
	}
}

// StaticallyResolvable reports whether pred consists only of calls,
// readsField and writesField leaves joined by and/or. Such predicates are
// fully decided by xref evidence.
func StaticallyResolvable(pred query.Predicate) bool {
	switch n := pred.(type) {
	case *query.Calls, *query.ReadsField, *query.WritesField:
		return true
	case *query.And:
		return StaticallyResolvable(n.Left) && StaticallyResolvable(n.Right)
	case *query.Or:
		return StaticallyResolvable(n.Left) && StaticallyResolvable(n.Right)
	}
	return false
}

// --- Probes ---

// Probes collects the probes q needs: one per predicate leaf, the boundary
// events of a BETWEEN scope, and a match-all probe for the strings and
// objects targets.
func Probes(q *query.Query) *probe.Set {
	var b probe.Builder
	collectProbes(&b, q.Predicate)
	if between, ok := q.Scope.(*query.BetweenScope); ok {
		collectProbes(&b, between.Start)
		collectProbes(&b, between.End)
	}
	switch q.Target {
	case query.TargetStrings:
		b.AllStrings()
	case query.TargetObjects:
		b.AllAllocs()
	}
	return b.Build()
}

func collectProbes(b *probe.Builder, pred query.Predicate) {
	switch n := pred.(type) {
	case nil:
	case *query.Calls:
		b.Call(n.Owner, n.Name, n.Desc)
	case *query.AllocCount:
		b.Alloc(n.Type)
	case *query.WritesField:
		b.FieldWrites(n.Owner, n.Field)
	case *query.ReadsField:
		b.FieldReads(n.Owner, n.Field)
	case *query.FieldBecomes:
		b.FieldTransitions(n.Owner, n.Field)
	case *query.ContainsString:
		b.Strings(n.Pattern, n.IsRegex)
	case *query.Throws:
		b.Exception(n.Type)
	case *query.Coverage:
		b.Branches()
	case *query.InstructionCount:
		// counted by every engine
	case *query.Before:
		collectProbes(b, n.Inner)
	case *query.After:
		collectProbes(b, n.Inner)
	case *query.And:
		collectProbes(b, n.Left)
		collectProbes(b, n.Right)
	case *query.Or:
		collectProbes(b, n.Left)
		collectProbes(b, n.Right)
	case *query.Not:
		collectProbes(b, n.Inner)
	}
}

// --- Post-filters ---

// PostFilterFor builds the exact predicate over a captured result. A nil
// predicate accepts everything. Leaves whose events are not part of the
// captured result model (field accesses, coverage, field transitions)
// accept everything; their probes still record the events for display.
func PostFilterFor(pred query.Predicate) postfilter.PostFilter {
	switch n := pred.(type) {
	case nil:
		return postfilter.AlwaysTrue()
	case *query.Calls:
		owner, name := n.Owner, n.Name
		return func(r postfilter.ExecutionResult) bool { return r.HasCallTo(owner, name) }
	case *query.AllocCount:
		typ, op, th := n.Type, n.Op, int64(n.Threshold)
		return func(r postfilter.ExecutionResult) bool {
			return op.CompareInt(int64(r.AllocationCount(typ)), th)
		}
	case *query.InstructionCount:
		op, th := n.Op, n.Threshold
		return func(r postfilter.ExecutionResult) bool { return op.CompareInt(r.InstructionCount(), th) }
	case *query.Throws:
		typ := n.Type
		return func(r postfilter.ExecutionResult) bool {
			for _, e := range r.ExceptionEvents() {
				if strings.Contains(e.Type, typ) {
					return true
				}
			}
			return false
		}
	case *query.ContainsString:
		match := stringMatcher(n.Pattern, n.IsRegex)
		return func(r postfilter.ExecutionResult) bool {
			for _, s := range r.StringEvents() {
				if match(s.Value) {
					return true
				}
			}
			return false
		}
	case *query.ReadsField, *query.WritesField, *query.Coverage, *query.FieldBecomes:
		return postfilter.AlwaysTrue()
	case *query.Before:
		return PostFilterFor(n.Inner)
	case *query.After:
		return PostFilterFor(n.Inner)
	case *query.And:
		return PostFilterFor(n.Left).And(PostFilterFor(n.Right))
	case *query.Or:
		return PostFilterFor(n.Left).Or(PostFilterFor(n.Right))
	case *query.Not:
		return PostFilterFor(n.Inner).Negate()
	}
	return postfilter.AlwaysTrue()
}

func stringMatcher(pattern string, isRegex bool) func(string) bool {
	if !isRegex {
		return func(s string) bool { return strings.Contains(s, pattern) }
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		slog.Debug("planner.regex.invalid", "pattern", pattern, "err", err)
		return func(string) bool { return false }
	}
	return re.MatchString
}
