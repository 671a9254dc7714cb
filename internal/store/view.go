package store

import (
	"fmt"
	"strings"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
)

// View exposes one project's index as a bytecode.Provider and
// bytecode.XrefDatabase.
type View struct {
	store   *Store
	project string
}

// View returns the read view of project.
func (s *Store) View(project string) *View {
	return &View{store: s, project: project}
}

// Project returns the project the view reads.
func (v *View) Project() string { return v.project }

// Classes implements bytecode.Provider.
func (v *View) Classes() ([]bytecode.Class, error) {
	return v.store.ListClasses(v.project)
}

// Methods implements bytecode.Provider.
func (v *View) Methods() ([]bytecode.Method, error) {
	return v.store.ListMethods(v.project)
}

// ClassStrings implements bytecode.Provider.
func (v *View) ClassStrings(className string) ([]string, error) {
	return v.store.ClassStrings(v.project, className)
}

// RefsToMethod implements bytecode.XrefDatabase.
func (v *View) RefsToMethod(owner, name, desc string) ([]bytecode.Xref, error) {
	return v.refs([]string{bytecode.RefCall.String()}, owner, name, desc)
}

// RefsToField implements bytecode.XrefDatabase.
func (v *View) RefsToField(owner, name, desc string) ([]bytecode.Xref, error) {
	return v.refs([]string{bytecode.RefFieldRead.String(), bytecode.RefFieldWrite.String()}, owner, name, desc)
}

// refs looks up sites by target. Empty owner or desc match anything.
func (v *View) refs(kinds []string, owner, name, desc string) ([]bytecode.Xref, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT x.source_class, x.source_method, x.source_desc, x.pc, x.line, x.kind,
		x.target_owner, x.target_name, x.target_desc, x.arg_kinds
		FROM xrefs x JOIN classes c ON c.id = x.class_id
		WHERE c.project=? AND x.target_name=? AND x.kind IN (`)
	args := []any{v.project, name}
	for i, k := range kinds {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('?')
		args = append(args, k)
	}
	sb.WriteByte(')')
	if owner != "" {
		sb.WriteString(" AND x.target_owner=?")
		args = append(args, strings.ReplaceAll(owner, ".", "/"))
	}
	if desc != "" {
		sb.WriteString(" AND x.target_desc=?")
		args = append(args, desc)
	}
	sb.WriteString(" ORDER BY x.source_class, x.source_method, x.pc")

	rows, err := v.store.q.Query(sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("xref lookup %s.%s: %w", owner, name, err)
	}
	defer rows.Close()
	return scanXrefs(rows)
}
