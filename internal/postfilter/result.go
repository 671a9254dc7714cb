package postfilter

import (
	"strings"
	"time"
)

// CallEvent is one recorded invocation.
type CallEvent struct {
	Sequence int64  `json:"seq"`
	PC       int    `json:"pc"`
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	Desc     string `json:"desc,omitempty"`
}

// FieldEvent is one recorded field read or write.
type FieldEvent struct {
	Sequence int64  `json:"seq"`
	PC       int    `json:"pc"`
	Owner    string `json:"owner"`
	Name     string `json:"name"`
	Desc     string `json:"desc,omitempty"`
	Write    bool   `json:"write,omitempty"`
}

// StringEvent is one recorded string value.
type StringEvent struct {
	Sequence int64  `json:"seq"`
	PC       int    `json:"pc"`
	Value    string `json:"value"`
	Origin   string `json:"origin,omitempty"`
}

// ExceptionEvent is one recorded throw.
type ExceptionEvent struct {
	Sequence int64  `json:"seq"`
	PC       int    `json:"pc"`
	Type     string `json:"type"`
	Caught   bool   `json:"caught,omitempty"`
}

// BranchEvent is one recorded conditional branch.
type BranchEvent struct {
	Sequence int64 `json:"seq"`
	FromPC   int   `json:"from_pc"`
	ToPC     int   `json:"to_pc"`
	Taken    bool  `json:"taken"`
}

// Result is a captured execution of one method. It is the JSON shape
// accepted by trace ingestion and stored per method signature.
type Result struct {
	Method       string           `json:"method"`
	Instructions int64            `json:"instructions"`
	Elapsed      time.Duration    `json:"elapsed_ns,omitempty"`
	Allocations  map[string]int   `json:"allocations,omitempty"`
	Calls        []CallEvent      `json:"calls,omitempty"`
	Fields       []FieldEvent     `json:"fields,omitempty"`
	Strings      []StringEvent    `json:"strings,omitempty"`
	Exceptions   []ExceptionEvent `json:"exceptions,omitempty"`
	Branches     []BranchEvent    `json:"branches,omitempty"`
}

// Empty returns the result used when a candidate could not be executed.
func Empty(method string) *Result {
	return &Result{Method: method}
}

// HasCallTo reports whether some call targets an owner containing owner and
// a method named name. Either may be empty to match anything.
func (r *Result) HasCallTo(owner, name string) bool {
	for _, c := range r.Calls {
		if (owner == "" || strings.Contains(c.Owner, owner)) && (name == "" || c.Name == name) {
			return true
		}
	}
	return false
}

// AllocationCount returns how many instances of typeName were allocated.
func (r *Result) AllocationCount(typeName string) int {
	return r.Allocations[typeName]
}

// InstructionCount returns the number of instructions executed.
func (r *Result) InstructionCount() int64 { return r.Instructions }

// StringEvents returns recorded strings.
func (r *Result) StringEvents() []StringEvent { return r.Strings }

// ExceptionEvents returns recorded throws.
func (r *Result) ExceptionEvents() []ExceptionEvent { return r.Exceptions }

// RecordAllocation increments the count for typeName.
func (r *Result) RecordAllocation(typeName string) {
	if r.Allocations == nil {
		r.Allocations = make(map[string]int)
	}
	r.Allocations[typeName]++
}
