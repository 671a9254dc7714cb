// Package store persists the bytecode index in SQLite: classes, methods,
// constant-pool strings, cross-references with argument kinds, and captured
// execution results. Each project lives in its own database file.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Querier abstracts *sql.DB and *sql.Tx so store methods work in both contexts.
type Querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store wraps a SQLite connection for index storage.
type Store struct {
	db     *sql.DB
	q      Querier // active querier: db or tx
	dbPath string
}

// cacheDir returns the default cache directory for databases.
func cacheDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	dir := filepath.Join(home, ".cache", "bytecode-query-mcp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir cache: %w", err)
	}
	return dir, nil
}

// Open opens or creates the database for the given project in the default
// cache directory.
func Open(project string) (*Store, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, err
	}
	return OpenInDir(dir, project)
}

// OpenInDir opens or creates <dir>/<project>.db.
func OpenInDir(dir, project string) (*Store, error) {
	return OpenPath(filepath.Join(dir, project+".db"))
}

// OpenPath opens a SQLite database at the given path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	s := &Store{db: db, dbPath: dbPath}
	s.q = s.db
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// OpenMemory opens an in-memory SQLite database (for testing).
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:?_pragma=foreign_keys(ON)&_pragma=synchronous(OFF)&_pragma=temp_store(MEMORY)")
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	s := &Store{db: db, dbPath: ":memory:"}
	s.q = s.db
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// WithTransaction executes fn within a single SQLite transaction.
// The callback receives a transaction-scoped Store; all store methods called on
// txStore use the transaction. The receiver's q field is never mutated, so
// concurrent read-only handlers (using s.q == s.db) are unaffected.
func (s *Store) WithTransaction(fn func(txStore *Store) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &Store{db: s.db, q: tx, dbPath: s.dbPath}
	if err := fn(txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying sql.DB (for advanced queries).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path, or ":memory:".
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		name TEXT PRIMARY KEY,
		indexed_at TEXT NOT NULL,
		root_path TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS file_hashes (
		project TEXT NOT NULL REFERENCES projects(name) ON DELETE CASCADE,
		rel_path TEXT NOT NULL,
		hash TEXT NOT NULL,
		PRIMARY KEY (project, rel_path)
	);

	CREATE TABLE IF NOT EXISTS classes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project TEXT NOT NULL REFERENCES projects(name) ON DELETE CASCADE,
		name TEXT NOT NULL,
		super TEXT DEFAULT '',
		access INTEGER DEFAULT 0,
		source TEXT DEFAULT '',
		UNIQUE(project, name)
	);

	CREATE INDEX IF NOT EXISTS idx_classes_source ON classes(project, source);

	CREATE TABLE IF NOT EXISTS methods (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		class_id INTEGER NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		descriptor TEXT NOT NULL,
		access INTEGER DEFAULT 0,
		has_code INTEGER DEFAULT 0,
		UNIQUE(class_id, name, descriptor)
	);

	CREATE INDEX IF NOT EXISTS idx_methods_name ON methods(name);

	CREATE TABLE IF NOT EXISTS const_strings (
		class_id INTEGER NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_const_strings_class ON const_strings(class_id);

	CREATE TABLE IF NOT EXISTS xrefs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		class_id INTEGER NOT NULL REFERENCES classes(id) ON DELETE CASCADE,
		source_class TEXT NOT NULL,
		source_method TEXT NOT NULL,
		source_desc TEXT NOT NULL,
		pc INTEGER NOT NULL,
		line INTEGER DEFAULT 0,
		kind TEXT NOT NULL,
		target_owner TEXT NOT NULL,
		target_name TEXT NOT NULL,
		target_desc TEXT NOT NULL,
		arg_kinds TEXT DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_xrefs_target ON xrefs(target_name, kind);
	CREATE INDEX IF NOT EXISTS idx_xrefs_target_owner ON xrefs(target_owner, target_name);

	CREATE TABLE IF NOT EXISTS executions (
		project TEXT NOT NULL REFERENCES projects(name) ON DELETE CASCADE,
		method TEXT NOT NULL,
		result TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (project, method)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Now returns the current time in ISO 8601 format.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
