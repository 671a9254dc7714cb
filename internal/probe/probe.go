// Package probe describes the runtime instrumentation a query needs: which
// calls, allocations, field accesses, strings, exceptions and branches an
// execution engine must record for the post-filter to decide a candidate.
package probe

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the category of a probe.
type Kind int

const (
	KindCall Kind = iota
	KindAllocation
	KindField
	KindString
	KindException
	KindBranch
	KindCoverage
)

var kindNames = [...]string{"CALL", "ALLOCATION", "FIELD", "STRING", "EXCEPTION", "BRANCH", "COVERAGE"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "UNKNOWN"
}

// Capability returns the engine capability a probe of this kind requires.
func (k Kind) Capability() Capability { return Capability(k) }

// Capability is an engine feature needed to honour a probe set.
type Capability int

const (
	CallTracking Capability = iota
	AllocationTracking
	FieldTracking
	StringTracking
	ExceptionTracking
	BranchTracking
	CoverageTracking
)

var capabilityNames = [...]string{
	"CALL_TRACKING", "ALLOCATION_TRACKING", "FIELD_TRACKING", "STRING_TRACKING",
	"EXCEPTION_TRACKING", "BRANCH_TRACKING", "COVERAGE_TRACKING",
}

func (c Capability) String() string {
	if int(c) < len(capabilityNames) {
		return capabilityNames[c]
	}
	return "UNKNOWN"
}

// Spec is one instrumentation request. It is a closed set of types.
type Spec interface {
	Kind() Kind
	String() string
}

// Call records invocations. Empty fields match anything.
type Call struct {
	Owner string
	Name  string
	Desc  string
}

// Alloc records object and array allocations. An empty Type matches all.
type Alloc struct {
	Type string
}

// Field records field accesses. Transitions implies Writes.
type Field struct {
	Owner       string
	Name        string
	Reads       bool
	Writes      bool
	Transitions bool
}

// String records string values that flow through the method. A nil pattern
// captures every string.
type String struct {
	Pattern string
	IsRegex bool
	re      *regexp.Regexp
}

// Exception records thrown exceptions. An empty Type matches all.
type Exception struct {
	Type string
}

// Branch records conditional branch outcomes.
type Branch struct{}

// Coverage records basic-block or edge coverage.
type Coverage struct {
	Edges bool
}

func (*Call) Kind() Kind      { return KindCall }
func (*Alloc) Kind() Kind     { return KindAllocation }
func (*Field) Kind() Kind     { return KindField }
func (*String) Kind() Kind    { return KindString }
func (*Exception) Kind() Kind { return KindException }
func (*Branch) Kind() Kind    { return KindBranch }
func (*Coverage) Kind() Kind  { return KindCoverage }

// Matches reports whether an invocation of owner.name+desc is recorded. The
// owner matches exactly or as a trailing /-separated suffix.
func (p *Call) Matches(owner, name, desc string) bool {
	if !ownerMatches(p.Owner, owner) {
		return false
	}
	if p.Name != "" && p.Name != name {
		return false
	}
	return p.Desc == "" || p.Desc == desc
}

// Matches reports whether an allocation of typ is recorded.
func (p *Alloc) Matches(typ string) bool {
	return ownerMatches(p.Type, typ)
}

// Matches reports whether an access to owner.name is recorded.
func (p *Field) Matches(owner, name string) bool {
	if !ownerMatches(p.Owner, owner) {
		return false
	}
	return p.Name == "" || p.Name == name
}

// Matches reports whether value is recorded. Literal patterns match as
// substrings; regexes match anywhere in the value.
func (p *String) Matches(value string) bool {
	if p.Pattern == "" {
		return true
	}
	if !p.IsRegex {
		return strings.Contains(value, p.Pattern)
	}
	if p.re == nil {
		return false
	}
	return p.re.MatchString(value)
}

// Matches reports whether an exception of typ is recorded. The type is
// matched by substring so "IOException" covers java/io/IOException.
func (p *Exception) Matches(typ string) bool {
	return p.Type == "" || strings.Contains(typ, p.Type)
}

func ownerMatches(want, got string) bool {
	return want == "" || want == got || strings.HasSuffix(got, "/"+want)
}

func (p *Call) String() string {
	if p.Owner == "" && p.Name == "" && p.Desc == "" {
		return "call(*)"
	}
	return fmt.Sprintf("call(%s.%s%s)", orStar(p.Owner), orStar(p.Name), p.Desc)
}

func (p *Alloc) String() string { return "alloc(" + orStar(p.Type) + ")" }

func (p *Field) String() string {
	var modes []string
	if p.Reads {
		modes = append(modes, "read")
	}
	if p.Writes {
		modes = append(modes, "write")
	}
	if p.Transitions {
		modes = append(modes, "transition")
	}
	return fmt.Sprintf("field(%s.%s %s)", orStar(p.Owner), orStar(p.Name), strings.Join(modes, "|"))
}

func (p *String) String() string {
	switch {
	case p.Pattern == "":
		return "string(*)"
	case p.IsRegex:
		return "string(/" + p.Pattern + "/)"
	}
	return fmt.Sprintf("string(%q)", p.Pattern)
}

func (p *Exception) String() string { return "exception(" + orStar(p.Type) + ")" }

func (*Branch) String() string { return "branch(*)" }

func (p *Coverage) String() string {
	if p.Edges {
		return "coverage(edges)"
	}
	return "coverage(blocks)"
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}
