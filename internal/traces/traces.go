// Package traces loads captured execution results into the store and
// replays them to the query runner as an execution engine.
package traces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/DeusData/bytecode-query-mcp/internal/bytecode"
	"github.com/DeusData/bytecode-query-mcp/internal/postfilter"
	"github.com/DeusData/bytecode-query-mcp/internal/probe"
	"github.com/DeusData/bytecode-query-mcp/internal/query"
	"github.com/DeusData/bytecode-query-mcp/internal/store"
)

// Export is the object form of a results file. A bare JSON array of
// results is accepted too.
type Export struct {
	Results []postfilter.Result `json:"results"`
}

// IngestResult summarizes what the ingestion accomplished.
type IngestResult struct {
	Results int `json:"results"`
	Stored  int `json:"stored"`
	Skipped int `json:"skipped"`
}

// Ingest reads a results file and stores each result under its method
// signature, replacing earlier captures of the same method.
func Ingest(s *store.Store, project, filePath string) (*IngestResult, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read results file: %w", err)
	}
	return IngestData(s, project, data)
}

// IngestData stores results decoded from data.
func IngestData(s *store.Store, project string, data []byte) (*IngestResult, error) {
	results, err := decodeResults(data)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetProject(project); err != nil {
		return nil, fmt.Errorf("project %q is not indexed: %w", project, err)
	}

	out := &IngestResult{Results: len(results)}
	err = s.WithTransaction(func(tx *store.Store) error {
		for i := range results {
			r := &results[i]
			sig := NormalizeSignature(r.Method)
			if sig == "" || !strings.Contains(sig, "(") {
				slog.Warn("traces.skip", "index", i, "method", r.Method)
				out.Skipped++
				continue
			}
			r.Method = sig
			doc, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("encode %s: %w", sig, err)
			}
			if err := tx.UpsertExecution(project, sig, string(doc)); err != nil {
				return err
			}
			out.Stored++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("traces.ingest", "project", project, "stored", out.Stored, "skipped", out.Skipped)
	return out, nil
}

func decodeResults(data []byte) ([]postfilter.Result, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("parse results: empty input")
	}
	if data[0] == '[' {
		var results []postfilter.Result
		if err := json.Unmarshal(data, &results); err != nil {
			return nil, fmt.Errorf("parse results: %w", err)
		}
		return results, nil
	}
	var export Export
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("parse results: %w", err)
	}
	if export.Results == nil {
		// A single result object.
		var single postfilter.Result
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("parse results: %w", err)
		}
		if single.Method == "" {
			return nil, errors.New("parse results: no results or method field")
		}
		return []postfilter.Result{single}, nil
	}
	return export.Results, nil
}

// NormalizeSignature rewrites a dotted owner (com.acme.Shell.run()V) to
// the internal form (com/acme/Shell.run()V).
func NormalizeSignature(sig string) string {
	sig = strings.TrimSpace(sig)
	owner, name, desc := bytecode.SplitSignature(sig)
	if owner == "" {
		return sig
	}
	return strings.ReplaceAll(owner, ".", "/") + "." + name + desc
}

// Replay serves stored results as executions. A method with no stored
// result executes to an empty result.
type Replay struct {
	store   *store.Store
	project string
}

// NewReplay returns an engine replaying project's stored results.
func NewReplay(s *store.Store, project string) *Replay {
	return &Replay{store: s, project: project}
}

// Execute returns m's stored result reduced to what probes record.
func (r *Replay) Execute(ctx context.Context, m bytecode.Method, probes *probe.Set, budget query.Budget) (*postfilter.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sig := m.Signature()
	e, err := r.store.GetExecution(r.project, sig)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return postfilter.Empty(sig), nil
	}
	var res postfilter.Result
	if err := json.Unmarshal([]byte(e.Result), &res); err != nil {
		return nil, fmt.Errorf("decode stored result %s: %w", sig, err)
	}
	return Filter(&res, probes, budget), nil
}

// Filter keeps only the events probes would have recorded and caps the
// instruction count at the budget.
func Filter(res *postfilter.Result, probes *probe.Set, budget query.Budget) *postfilter.Result {
	if probes == nil {
		probes = probe.Empty()
	}
	out := &postfilter.Result{
		Method:       res.Method,
		Instructions: res.Instructions,
		Elapsed:      res.Elapsed,
	}
	if budget.MaxInstructions > 0 && out.Instructions > int64(budget.MaxInstructions) {
		out.Instructions = int64(budget.MaxInstructions)
	}
	for _, c := range res.Calls {
		if probes.WantsCall(c.Owner, c.Name, c.Desc) {
			out.Calls = append(out.Calls, c)
		}
	}
	for _, f := range res.Fields {
		if probes.WantsField(f.Owner, f.Name, f.Write) {
			out.Fields = append(out.Fields, f)
		}
	}
	for _, s := range res.Strings {
		if probes.WantsString(s.Value) {
			out.Strings = append(out.Strings, s)
		}
	}
	for _, x := range res.Exceptions {
		if probes.WantsException(x.Type) {
			out.Exceptions = append(out.Exceptions, x)
		}
	}
	if probes.Has(probe.KindBranch) || probes.Has(probe.KindCoverage) {
		out.Branches = res.Branches
	}
	for typ, n := range res.Allocations {
		if probes.WantsAlloc(typ) {
			if out.Allocations == nil {
				out.Allocations = make(map[string]int)
			}
			out.Allocations[typ] = n
		}
	}
	return out
}
