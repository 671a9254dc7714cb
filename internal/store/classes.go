package store

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
)

// ClassRecord is everything the indexer extracts from one class file.
type ClassRecord struct {
	Class   bytecode.Class
	Methods []bytecode.Method
	Strings []string
	Xrefs   []bytecode.Xref
}

// Formula-derived batch sizes: SQLite has a 999 bind variable limit.
const (
	numMethodCols    = 6
	methodsBatchSize = 999 / numMethodCols // = 166
	numXrefCols      = 11
	xrefsBatchSize   = 999 / numXrefCols // = 90
	numStringCols    = 2
	stringsBatchSize = 999 / numStringCols
)

// InsertClass stores a class with its methods, strings and xrefs, replacing
// any previous record of the same name. Call inside WithTransaction when
// indexing many classes.
func (s *Store) InsertClass(project string, rec *ClassRecord) error {
	c := rec.Class
	if _, err := s.q.Exec("DELETE FROM classes WHERE project=? AND name=?", project, c.Name); err != nil {
		return fmt.Errorf("replace class %s: %w", c.Name, err)
	}
	res, err := s.q.Exec(`INSERT INTO classes (project, name, super, access, source) VALUES (?, ?, ?, ?, ?)`,
		project, c.Name, c.Super, c.Access, c.Source)
	if err != nil {
		return fmt.Errorf("insert class %s: %w", c.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := s.insertMethods(id, rec.Methods); err != nil {
		return err
	}
	if err := s.insertStrings(id, rec.Strings); err != nil {
		return err
	}
	return s.insertXrefs(id, rec.Xrefs)
}

func (s *Store) insertMethods(classID int64, ms []bytecode.Method) error {
	for i := 0; i < len(ms); i += methodsBatchSize {
		end := min(i+methodsBatchSize, len(ms))
		var sb strings.Builder
		sb.WriteString(`INSERT OR IGNORE INTO methods (class_id, owner, name, descriptor, access, has_code) VALUES `)
		args := make([]any, 0, (end-i)*numMethodCols)
		for j, m := range ms[i:end] {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString("(?,?,?,?,?,?)")
			args = append(args, classID, m.Owner, m.Name, m.Desc, m.Access, boolInt(m.HasCode))
		}
		if _, err := s.q.Exec(sb.String(), args...); err != nil {
			return fmt.Errorf("insert method batch: %w", err)
		}
	}
	return nil
}

func (s *Store) insertStrings(classID int64, strs []string) error {
	for i := 0; i < len(strs); i += stringsBatchSize {
		end := min(i+stringsBatchSize, len(strs))
		var sb strings.Builder
		sb.WriteString(`INSERT INTO const_strings (class_id, value) VALUES `)
		args := make([]any, 0, (end-i)*numStringCols)
		for j, v := range strs[i:end] {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString("(?,?)")
			args = append(args, classID, v)
		}
		if _, err := s.q.Exec(sb.String(), args...); err != nil {
			return fmt.Errorf("insert string batch: %w", err)
		}
	}
	return nil
}

func (s *Store) insertXrefs(classID int64, xs []bytecode.Xref) error {
	for i := 0; i < len(xs); i += xrefsBatchSize {
		end := min(i+xrefsBatchSize, len(xs))
		var sb strings.Builder
		sb.WriteString(`INSERT INTO xrefs (class_id, source_class, source_method, source_desc, pc, line, kind,
			target_owner, target_name, target_desc, arg_kinds) VALUES `)
		args := make([]any, 0, (end-i)*numXrefCols)
		for j, x := range xs[i:end] {
			if j > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString("(?,?,?,?,?,?,?,?,?,?,?)")
			args = append(args, classID, x.SourceClass, x.SourceMethod, x.SourceMethodDesc,
				x.InstructionIndex, x.Line, x.Kind.String(),
				x.TargetOwner, x.TargetName, x.TargetDesc, bytecode.FormatArgKinds(x.ArgKinds))
		}
		if _, err := s.q.Exec(sb.String(), args...); err != nil {
			return fmt.Errorf("insert xref batch: %w", err)
		}
	}
	return nil
}

// DeleteClassesBySource removes every class read from source (a class file
// or jar path). Methods, strings and xrefs go with them.
func (s *Store) DeleteClassesBySource(project, source string) error {
	prefix := source + "!"
	_, err := s.q.Exec("DELETE FROM classes WHERE project=? AND (source=? OR substr(source, 1, length(?))=?)",
		project, source, prefix, prefix)
	if err != nil {
		return fmt.Errorf("delete classes by source: %w", err)
	}
	return nil
}

// ListClasses returns every class in a project ordered by name.
func (s *Store) ListClasses(project string) ([]bytecode.Class, error) {
	rows, err := s.q.Query("SELECT name, super, access, source FROM classes WHERE project=? ORDER BY name", project)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	defer rows.Close()
	var result []bytecode.Class
	for rows.Next() {
		var c bytecode.Class
		if err := rows.Scan(&c.Name, &c.Super, &c.Access, &c.Source); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

// ListMethods returns every method in a project ordered by owner then
// declaration.
func (s *Store) ListMethods(project string) ([]bytecode.Method, error) {
	rows, err := s.q.Query(`
		SELECT m.owner, m.name, m.descriptor, m.access, m.has_code
		FROM methods m JOIN classes c ON c.id = m.class_id
		WHERE c.project=? ORDER BY m.owner, m.id`, project)
	if err != nil {
		return nil, fmt.Errorf("list methods: %w", err)
	}
	defer rows.Close()
	var result []bytecode.Method
	for rows.Next() {
		var m bytecode.Method
		var hasCode int
		if err := rows.Scan(&m.Owner, &m.Name, &m.Desc, &m.Access, &hasCode); err != nil {
			return nil, err
		}
		m.HasCode = hasCode != 0
		result = append(result, m)
	}
	return result, rows.Err()
}

// ClassStrings returns the constant-pool strings of one class.
func (s *Store) ClassStrings(project, className string) ([]string, error) {
	rows, err := s.q.Query(`
		SELECT cs.value FROM const_strings cs JOIN classes c ON c.id = cs.class_id
		WHERE c.project=? AND c.name=?`, project, className)
	if err != nil {
		return nil, fmt.Errorf("class strings: %w", err)
	}
	defer rows.Close()
	var result []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

// CountClasses returns the number of classes in a project.
func (s *Store) CountClasses(project string) (int, error) {
	return s.count("SELECT COUNT(*) FROM classes WHERE project=?", project)
}

// CountMethods returns the number of methods in a project.
func (s *Store) CountMethods(project string) (int, error) {
	return s.count(`SELECT COUNT(*) FROM methods m JOIN classes c ON c.id = m.class_id WHERE c.project=?`, project)
}

// CountXrefs returns the number of xref sites in a project.
func (s *Store) CountXrefs(project string) (int, error) {
	return s.count(`SELECT COUNT(*) FROM xrefs x JOIN classes c ON c.id = x.class_id WHERE c.project=?`, project)
}

func (s *Store) count(query string, args ...any) (int, error) {
	var n int
	err := s.q.QueryRow(query, args...).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...any) error
}

func scanXref(row scanner) (bytecode.Xref, error) {
	var x bytecode.Xref
	var kind, args string
	err := row.Scan(&x.SourceClass, &x.SourceMethod, &x.SourceMethodDesc, &x.InstructionIndex, &x.Line,
		&kind, &x.TargetOwner, &x.TargetName, &x.TargetDesc, &args)
	if err != nil {
		return x, err
	}
	k, ok := bytecode.ParseRefKind(kind)
	if !ok {
		return x, fmt.Errorf("unknown xref kind %q", kind)
	}
	x.Kind = k
	x.ArgKinds = bytecode.ParseArgKinds(args)
	return x, nil
}

func scanXrefs(rows *sql.Rows) ([]bytecode.Xref, error) {
	var result []bytecode.Xref
	for rows.Next() {
		x, err := scanXref(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, x)
	}
	return result, rows.Err()
}
