// Package postfilter evaluates predicates against the captured result of
// executing one candidate. It is the authority on whether a candidate
// matches; static filters only narrow what gets executed.
package postfilter

// ExecutionResult is what an execution engine reports for one candidate.
// Absent data reads as zero or empty, never as an error.
type ExecutionResult interface {
	HasCallTo(owner, name string) bool
	AllocationCount(typeName string) int
	InstructionCount() int64
	StringEvents() []StringEvent
	ExceptionEvents() []ExceptionEvent
}

// PostFilter accepts or rejects one execution result.
type PostFilter func(ExecutionResult) bool

// AlwaysTrue accepts every result.
func AlwaysTrue() PostFilter { return func(ExecutionResult) bool { return true } }

// AlwaysFalse rejects every result.
func AlwaysFalse() PostFilter { return func(ExecutionResult) bool { return false } }

// And accepts results both f and other accept.
func (f PostFilter) And(other PostFilter) PostFilter {
	return func(r ExecutionResult) bool { return f(r) && other(r) }
}

// Or accepts results either f or other accepts.
func (f PostFilter) Or(other PostFilter) PostFilter {
	return func(r ExecutionResult) bool { return f(r) || other(r) }
}

// Negate accepts exactly the results f rejects.
func (f PostFilter) Negate() PostFilter {
	return func(r ExecutionResult) bool { return !f(r) }
}
