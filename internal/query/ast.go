package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
)

// Mode records whether the query was written with FIND or SHOW. The two are
// equivalent; the mode is kept for display.
type Mode int

const (
	ModeFind Mode = iota
	ModeShow
)

func (m Mode) String() string {
	if m == ModeShow {
		return "show"
	}
	return "find"
}

// Target is the kind of entity a query reports.
type Target int

const (
	TargetMethods Target = iota
	TargetClasses
	TargetPaths
	TargetEvents
	TargetStrings
	TargetObjects
)

var targetNames = [...]string{"methods", "classes", "paths", "events", "strings", "objects"}

func (t Target) String() string {
	if int(t) < len(targetNames) {
		return targetNames[t]
	}
	return "unknown"
}

// Query is the root of a parsed query.
type Query struct {
	Mode      Mode
	Target    Target
	Scope     Scope     // never nil; *AllScope when no scope clause is given
	Predicate Predicate // nil when there is no WHERE clause
	RunSpec   *RunSpec
	Limit     *int
	OrderBy   *OrderBy
}

// OrderBy is the ORDER BY clause.
type OrderBy struct {
	Key        string
	Descending bool
}

// String renders the query in canonical form. Parsing the result yields an
// equal Query.
func (q *Query) String() string {
	var sb strings.Builder
	sb.WriteString(q.Mode.String())
	sb.WriteByte(' ')
	sb.WriteString(q.Target.String())
	if q.Scope != nil {
		if _, all := q.Scope.(*AllScope); !all {
			sb.WriteByte(' ')
			sb.WriteString(q.Scope.String())
		}
	}
	if q.Predicate != nil {
		sb.WriteString(" where ")
		sb.WriteString(q.Predicate.String())
	}
	if q.RunSpec != nil && !q.RunSpec.IsEmpty() {
		sb.WriteString(" with ")
		sb.WriteString(q.RunSpec.String())
	}
	if q.Limit != nil {
		fmt.Fprintf(&sb, " limit %d", *q.Limit)
	}
	if q.OrderBy != nil {
		sb.WriteString(" order by ")
		sb.WriteString(q.OrderBy.Key)
		if q.OrderBy.Descending {
			sb.WriteString(" desc")
		}
	}
	return sb.String()
}

// --- Scopes ---

// Scope restricts where a query looks. It is a closed set of node types.
type Scope interface {
	scopeNode()
	String() string
}

// AllScope matches everything.
type AllScope struct{}

// ClassScope restricts to classes whose name matches Pattern.
type ClassScope struct {
	Pattern string
	IsRegex bool
}

// MethodScope restricts to methods whose signature or name matches Pattern.
type MethodScope struct {
	Pattern string
	IsRegex bool
}

// DuringScope is either a static-initializer scope, optionally narrowed by
// ClassFilter, or a named-method scope. Never both.
type DuringScope struct {
	Clinit        bool
	ClassFilter   *ClassScope
	MethodPattern string
}

// BetweenScope covers execution from the Start event to the End event.
type BetweenScope struct {
	Start Predicate
	End   Predicate
}

func (*AllScope) scopeNode()     {}
func (*ClassScope) scopeNode()   {}
func (*MethodScope) scopeNode()  {}
func (*DuringScope) scopeNode()  {}
func (*BetweenScope) scopeNode() {}

func (*AllScope) String() string { return "in all" }

func (s *ClassScope) String() string { return "in class " + patternLiteral(s.Pattern, s.IsRegex) }

func (s *MethodScope) String() string { return "in method " + patternLiteral(s.Pattern, s.IsRegex) }

func (s *DuringScope) String() string {
	if !s.Clinit {
		return "during method " + quote(s.MethodPattern)
	}
	if s.ClassFilter == nil {
		return "during <clinit>"
	}
	return "during <clinit> of classes matching " + patternLiteral(s.ClassFilter.Pattern, s.ClassFilter.IsRegex)
}

func (s *BetweenScope) String() string {
	return "between " + primaryString(s.Start) + " and " + primaryString(s.End)
}

// --- Predicates ---

// Predicate is a condition over a candidate. It is a closed set of node
// types; leaves never contain combinators.
type Predicate interface {
	predicateNode()
	String() string
}

// Calls matches methods that call Owner.Name (optionally descriptor
// qualified) with an argument produced as Arg describes. An empty Owner
// matches any owner.
type Calls struct {
	Owner string
	Name  string
	Desc  string
	Arg   ArgumentType
}

// AllocCount compares the number of allocations of Type to Threshold.
type AllocCount struct {
	Type      string
	Op        CompareOp
	Threshold int
}

// WritesField matches methods that write Owner.Field.
type WritesField struct {
	Owner string
	Field string
	Desc  string
}

// ReadsField matches methods that read Owner.Field.
type ReadsField struct {
	Owner string
	Field string
	Desc  string
}

// ContainsString matches string literals or captured strings.
type ContainsString struct {
	Pattern string
	IsRegex bool
}

// Throws matches exceptions whose type contains Type.
type Throws struct {
	Type string
}

// InstructionCount compares executed instruction count to Threshold.
type InstructionCount struct {
	Op        CompareOp
	Threshold int64
}

// Coverage compares block coverage to Threshold. Block is empty for
// whole-method coverage.
type Coverage struct {
	Block     string
	Op        CompareOp
	Threshold float64
}

// FieldState is the value state a FieldBecomes predicate waits for.
type FieldState int

const (
	StateNonNull FieldState = iota
	StateNull
)

func (s FieldState) String() string {
	if s == StateNull {
		return "null"
	}
	return "non-null"
}

// FieldBecomes matches a field transitioning into State.
type FieldBecomes struct {
	Owner string
	Field string
	State FieldState
}

// Before wraps an event that must occur before the scope's anchor.
type Before struct{ Inner Predicate }

// After wraps an event that must occur after the scope's anchor.
type After struct{ Inner Predicate }

// And is logical conjunction.
type And struct{ Left, Right Predicate }

// Or is logical disjunction.
type Or struct{ Left, Right Predicate }

// Not is logical negation.
type Not struct{ Inner Predicate }

func (*Calls) predicateNode()            {}
func (*AllocCount) predicateNode()       {}
func (*WritesField) predicateNode()      {}
func (*ReadsField) predicateNode()       {}
func (*ContainsString) predicateNode()   {}
func (*Throws) predicateNode()           {}
func (*InstructionCount) predicateNode() {}
func (*Coverage) predicateNode()         {}
func (*FieldBecomes) predicateNode()     {}
func (*Before) predicateNode()           {}
func (*After) predicateNode()            {}
func (*And) predicateNode()              {}
func (*Or) predicateNode()               {}
func (*Not) predicateNode()              {}

func (p *Calls) String() string {
	ref := memberRef(p.Owner, p.Name) + p.Desc
	if p.Arg == ArgAny {
		return "calls(" + quote(ref) + ")"
	}
	return "calls(" + quote(ref) + ", " + p.Arg.String() + ")"
}

func (p *AllocCount) String() string {
	return fmt.Sprintf("allocCount(%s) %s %d", quote(p.Type), p.Op, p.Threshold)
}

func (p *WritesField) String() string {
	return "writesField(" + quote(fieldRef(p.Owner, p.Field, p.Desc)) + ")"
}

func (p *ReadsField) String() string {
	return "readsField(" + quote(fieldRef(p.Owner, p.Field, p.Desc)) + ")"
}

func (p *ContainsString) String() string {
	if p.IsRegex {
		return "containsString(" + regexLiteral(p.Pattern) + ")"
	}
	return "containsString(" + quote(p.Pattern) + ")"
}

func (p *Throws) String() string { return "throws(" + quote(p.Type) + ")" }

func (p *InstructionCount) String() string {
	return fmt.Sprintf("instructionCount %s %d", p.Op, p.Threshold)
}

func (p *Coverage) String() string {
	th := strconv.FormatFloat(p.Threshold, 'f', -1, 64)
	if p.Block == "" {
		return fmt.Sprintf("coverage %s %s", p.Op, th)
	}
	return fmt.Sprintf("coverage(%s) %s %s", quote(p.Block), p.Op, th)
}

func (p *FieldBecomes) String() string {
	return "field(" + quote(memberRef(p.Owner, p.Field)) + ") becomes " + p.State.String()
}

func (p *Before) String() string { return "before(" + p.Inner.String() + ")" }
func (p *After) String() string  { return "after(" + p.Inner.String() + ")" }

func (p *And) String() string {
	return operandString(p.Left, precAnd) + " and " + operandString(p.Right, precAnd+1)
}

func (p *Or) String() string {
	return operandString(p.Left, precOr) + " or " + operandString(p.Right, precOr+1)
}

func (p *Not) String() string { return "not " + operandString(p.Inner, precNot) }

const (
	precOr = iota
	precAnd
	precNot
	precPrimary
)

func precedence(p Predicate) int {
	switch p.(type) {
	case *Or:
		return precOr
	case *And:
		return precAnd
	case *Not:
		return precNot
	}
	return precPrimary
}

// operandString parenthesises p when it binds looser than min.
func operandString(p Predicate, min int) string {
	if precedence(p) < min {
		return "(" + p.String() + ")"
	}
	return p.String()
}

// primaryString renders p so that it parses back as a single Primary.
func primaryString(p Predicate) string {
	return operandString(p, precPrimary)
}

// --- Operators and argument kinds ---

// CompareOp is a numeric comparison operator.
type CompareOp int

const (
	OpGT CompareOp = iota
	OpGTE
	OpLT
	OpLTE
	OpEQ
	OpNEQ
)

var compareOpSymbols = [...]string{">", ">=", "<", "<=", "==", "!="}

func (op CompareOp) String() string {
	if int(op) < len(compareOpSymbols) {
		return compareOpSymbols[op]
	}
	return "?"
}

// CompareInt reports whether actual op threshold holds.
func (op CompareOp) CompareInt(actual, threshold int64) bool {
	switch op {
	case OpGT:
		return actual > threshold
	case OpGTE:
		return actual >= threshold
	case OpLT:
		return actual < threshold
	case OpLTE:
		return actual <= threshold
	case OpEQ:
		return actual == threshold
	case OpNEQ:
		return actual != threshold
	}
	return false
}

// CompareFloat is CompareInt for float operands.
func (op CompareOp) CompareFloat(actual, threshold float64) bool {
	switch op {
	case OpGT:
		return actual > threshold
	case OpGTE:
		return actual >= threshold
	case OpLT:
		return actual < threshold
	case OpLTE:
		return actual <= threshold
	case OpEQ:
		return actual == threshold
	case OpNEQ:
		return actual != threshold
	}
	return false
}

// ArgumentType narrows a Calls predicate to call sites whose argument was
// produced by a particular kind of instruction.
type ArgumentType int

const (
	ArgAny ArgumentType = iota
	ArgLiteral
	ArgDynamic
	ArgField
	ArgLocal
	ArgCall
)

var argumentTypeNames = [...]string{"any", "literal", "dynamic", "fieldArg", "localArg", "callArg"}

func (a ArgumentType) String() string {
	if int(a) < len(argumentTypeNames) {
		return argumentTypeNames[a]
	}
	return "any"
}

// Matches reports whether an argument of the given producer kind satisfies
// a. Dynamic accepts any non-literal computed value.
func (a ArgumentType) Matches(kind bytecode.ArgKind) bool {
	switch a {
	case ArgAny:
		return true
	case ArgLiteral:
		return kind == bytecode.ArgLiteral
	case ArgDynamic:
		return kind == bytecode.ArgDynamic || kind == bytecode.ArgField ||
			kind == bytecode.ArgLocal || kind == bytecode.ArgCall
	case ArgField:
		return kind == bytecode.ArgField
	case ArgLocal:
		return kind == bytecode.ArgLocal
	case ArgCall:
		return kind == bytecode.ArgCall
	}
	return false
}

// --- Rendering helpers ---

func memberRef(owner, name string) string {
	if owner == "" {
		return name
	}
	return owner + "." + name
}

func fieldRef(owner, name, desc string) string {
	ref := memberRef(owner, name)
	if desc != "" {
		ref += ":" + desc
	}
	return ref
}

func patternLiteral(pattern string, isRegex bool) string {
	if isRegex && !looksLikeRegex(pattern) {
		return regexLiteral(pattern)
	}
	return quote(pattern)
}

// quote renders s as a double-quoted string the lexer reads back unchanged.
func quote(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '"', '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// regexLiteral renders a pattern as /.../, escaping slashes.
func regexLiteral(pattern string) string {
	return "/" + strings.ReplaceAll(pattern, "/", `\/`) + "/"
}
