package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Execution is a captured execution result for one method, stored as the
// JSON document the engine reported.
type Execution struct {
	Method     string
	Result     string
	RecordedAt string
}

// UpsertExecution stores or replaces the result captured for method.
func (s *Store) UpsertExecution(project, method, resultJSON string) error {
	_, err := s.q.Exec(`
		INSERT INTO executions (project, method, result, recorded_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(project, method) DO UPDATE SET result=excluded.result, recorded_at=excluded.recorded_at`,
		project, method, resultJSON, Now())
	if err != nil {
		return fmt.Errorf("upsert execution %s: %w", method, err)
	}
	return nil
}

// GetExecution returns the result captured for method, or nil when none was
// recorded.
func (s *Store) GetExecution(project, method string) (*Execution, error) {
	var e Execution
	err := s.q.QueryRow("SELECT method, result, recorded_at FROM executions WHERE project=? AND method=?",
		project, method).Scan(&e.Method, &e.Result, &e.RecordedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get execution %s: %w", method, err)
	}
	return &e, nil
}

// CountExecutions returns the number of recorded executions in a project.
func (s *Store) CountExecutions(project string) (int, error) {
	return s.count("SELECT COUNT(*) FROM executions WHERE project=?", project)
}

// DeleteExecutions clears recorded executions, typically after a re-index
// invalidates them.
func (s *Store) DeleteExecutions(project string) error {
	_, err := s.q.Exec("DELETE FROM executions WHERE project=?", project)
	return err
}
