package postfilter

import (
	"fmt"
	"sort"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
	"github.com/DeusData/bytecode-query-mcp/internal/query"
)

const maxPreview = 100

// Evidence is one event that contributed to a row.
type Evidence struct {
	Sequence    int64  `json:"seq"`
	Method      string `json:"method"`
	PC          int    `json:"pc"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// Row is one query result. Target is a navigable location: a class name, a
// method signature, or signature@pc.
type Row struct {
	Label    string         `json:"label"`
	Target   string         `json:"target,omitempty"`
	Columns  map[string]any `json:"columns,omitempty"`
	Evidence []Evidence     `json:"evidence,omitempty"`
	Children []Row          `json:"children,omitempty"`
}

// Rows projects the result into rows for target.
func (r *Result) Rows(target query.Target) []Row {
	switch target {
	case query.TargetMethods:
		return r.methodRows()
	case query.TargetClasses:
		return r.classRows()
	case query.TargetPaths:
		return nil
	case query.TargetEvents:
		return r.eventRows()
	case query.TargetStrings:
		return r.stringRows()
	case query.TargetObjects:
		return r.objectRows()
	}
	return nil
}

func (r *Result) methodRows() []Row {
	var ev []Evidence
	for _, c := range r.Calls {
		ev = append(ev, Evidence{
			Sequence:    c.Sequence,
			Method:      r.Method,
			PC:          c.PC,
			Type:        "CALL",
			Description: "Call to " + c.Owner + "." + c.Name + c.Desc,
		})
	}
	return []Row{{
		Label:  r.Method,
		Target: r.Method,
		Columns: map[string]any{
			"instructions": r.Instructions,
			"allocations":  r.totalAllocations(),
		},
		Evidence: ev,
	}}
}

func (r *Result) classRows() []Row {
	owner := bytecode.OwnerOf(r.Method)
	return []Row{{
		Label:  owner,
		Target: owner,
		Columns: map[string]any{
			"methods":     1,
			"allocations": r.totalAllocations(),
		},
	}}
}

func (r *Result) eventRows() []Row {
	rows := make([]Row, 0, len(r.Calls)+len(r.Fields))
	for _, c := range r.Calls {
		rows = append(rows, Row{
			Label:   "CALL " + c.Owner + "." + c.Name,
			Target:  pcTarget(r.Method, c.PC),
			Columns: map[string]any{"seq": c.Sequence, "pc": c.PC},
		})
	}
	for _, f := range r.Fields {
		verb := "READ "
		if f.Write {
			verb = "WRITE "
		}
		rows = append(rows, Row{
			Label:   verb + f.Name,
			Target:  pcTarget(r.Method, f.PC),
			Columns: map[string]any{"seq": f.Sequence, "pc": f.PC},
		})
	}
	return rows
}

func (r *Result) stringRows() []Row {
	rows := make([]Row, 0, len(r.Strings))
	for _, s := range r.Strings {
		rows = append(rows, Row{
			Label:   Preview(s.Value),
			Target:  pcTarget(r.Method, s.PC),
			Columns: map[string]any{"seq": s.Sequence, "pc": s.PC, "origin": s.Origin},
		})
	}
	return rows
}

func (r *Result) objectRows() []Row {
	types := make([]string, 0, len(r.Allocations))
	for t := range r.Allocations {
		types = append(types, t)
	}
	sort.Strings(types)

	rows := make([]Row, 0, len(types))
	for _, t := range types {
		rows = append(rows, Row{
			Label:   t,
			Columns: map[string]any{"count": r.Allocations[t]},
		})
	}
	return rows
}

func (r *Result) totalAllocations() int {
	n := 0
	for _, c := range r.Allocations {
		n += c
	}
	return n
}

// Preview shortens s to at most 100 characters.
func Preview(s string) string {
	runes := []rune(s)
	if len(runes) <= maxPreview {
		return s
	}
	return string(runes[:maxPreview-3]) + "..."
}

func pcTarget(method string, pc int) string {
	return fmt.Sprintf("%s@%d", method, pc)
}
