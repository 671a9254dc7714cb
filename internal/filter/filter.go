// Package filter implements static prefilters: execution-free narrowing of
// the method and class universe a query runs over.
//
// Filters compose as set algebra. And is intersection and Or is union of the
// results of both sides, each applied independently to the same input.
package filter

import (
	"golang.org/x/sync/errgroup"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
)

// StaticFilter narrows a candidate set. Results preserve input order and
// never contain an element that was not in the input.
type StaticFilter interface {
	FilterMethods(methods []bytecode.Method) []bytecode.Method
	FilterClasses(classes []bytecode.Class) []bytecode.Class
}

type allFilter struct{}

// All returns the filter that keeps everything.
func All() StaticFilter { return allFilter{} }

func (allFilter) FilterMethods(ms []bytecode.Method) []bytecode.Method { return ms }
func (allFilter) FilterClasses(cs []bytecode.Class) []bytecode.Class   { return cs }

type noneFilter struct{}

// None returns the filter that keeps nothing.
func None() StaticFilter { return noneFilter{} }

func (noneFilter) FilterMethods([]bytecode.Method) []bytecode.Method { return nil }
func (noneFilter) FilterClasses([]bytecode.Class) []bytecode.Class   { return nil }

// Op is a composite operator.
type Op int

const (
	OpAnd Op = iota
	OpOr
)

func (o Op) String() string {
	if o == OpAnd {
		return "AND"
	}
	return "OR"
}

// Composite applies Left and Right to the same input and combines the
// results. Neither side is short-circuited.
type Composite struct {
	Left  StaticFilter
	Right StaticFilter
	Op    Op
}

// And returns the intersection of a and b.
func And(a, b StaticFilter) *Composite { return &Composite{Left: a, Right: b, Op: OpAnd} }

// Or returns the union of a and b.
func Or(a, b StaticFilter) *Composite { return &Composite{Left: a, Right: b, Op: OpOr} }

// FilterMethods implements StaticFilter.
func (c *Composite) FilterMethods(ms []bytecode.Method) []bytecode.Method {
	var left, right []bytecode.Method
	var g errgroup.Group
	g.Go(func() error {
		left = c.Left.FilterMethods(ms)
		return nil
	})
	g.Go(func() error {
		right = c.Right.FilterMethods(ms)
		return nil
	})
	_ = g.Wait()

	return combine(ms, left, right, c.Op, bytecode.Method.Signature)
}

// FilterClasses implements StaticFilter.
func (c *Composite) FilterClasses(cs []bytecode.Class) []bytecode.Class {
	var left, right []bytecode.Class
	var g errgroup.Group
	g.Go(func() error {
		left = c.Left.FilterClasses(cs)
		return nil
	})
	g.Go(func() error {
		right = c.Right.FilterClasses(cs)
		return nil
	})
	_ = g.Wait()

	return combine(cs, left, right, c.Op, func(c bytecode.Class) string { return c.Name })
}

// combine walks the original input so the result keeps its order.
func combine[T any](input, left, right []T, op Op, key func(T) string) []T {
	inLeft := keySet(left, key)
	inRight := keySet(right, key)

	var out []T
	seen := make(map[string]bool, len(input))
	for _, item := range input {
		k := key(item)
		if seen[k] {
			continue
		}
		l, r := inLeft[k], inRight[k]
		if (op == OpAnd && l && r) || (op == OpOr && (l || r)) {
			out = append(out, item)
			seen[k] = true
		}
	}
	return out
}

func keySet[T any](items []T, key func(T) string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[key(item)] = true
	}
	return set
}

// EvidenceOf returns the xref sites that justify f's result, grouped by
// containing method signature. ok is false when f is not decided by xrefs
// alone: an Or needs evidence on both sides, an And on at least one. A
// failed lookup anywhere in f leaves it without evidence.
func EvidenceOf(f StaticFilter) (map[string][]bytecode.Xref, bool) {
	switch f := f.(type) {
	case *XrefFilter:
		ev := f.Evidence()
		return ev, !f.failed
	case *Composite:
		if lookupFailed(f) {
			return nil, false
		}
		left, lok := EvidenceOf(f.Left)
		right, rok := EvidenceOf(f.Right)
		switch {
		case f.Op == OpOr && !(lok && rok):
			return nil, false
		case !lok && !rok:
			return nil, false
		}
		return mergeEvidence(left, right), true
	}
	return nil, false
}

// lookupFailed reports whether any xref leaf of f failed its lookup.
func lookupFailed(f StaticFilter) bool {
	switch f := f.(type) {
	case *XrefFilter:
		f.load()
		return f.failed
	case *Composite:
		return lookupFailed(f.Left) || lookupFailed(f.Right)
	}
	return false
}

func mergeEvidence(a, b map[string][]bytecode.Xref) map[string][]bytecode.Xref {
	out := make(map[string][]bytecode.Xref, len(a)+len(b))
	for sig, xs := range a {
		out[sig] = append(out[sig], xs...)
	}
	for sig, xs := range b {
		out[sig] = append(out[sig], xs...)
	}
	return out
}
