package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/bytecode-query-mcp/internal/planner"
	"github.com/DeusData/bytecode-query-mcp/internal/query"
	"github.com/DeusData/bytecode-query-mcp/internal/runner"
	"github.com/DeusData/bytecode-query-mcp/internal/traces"
)

const projectProp = `"project": {
					"type": "string",
					"description": "Indexed project name. May be omitted when exactly one project is indexed."
				}`

func (s *Server) registerQueryTools() {
	s.addTool(&mcp.Tool{
		Name:        "parse_query",
		Description: "Lex and parse a bytecode query without running it. Returns the canonical form, the AST parts (mode, target, scope, predicate, run spec, limit, order) and the token stream, or the error kind, message and byte position. Example: find methods in class /com\\.acme\\..*/ where calls(\"java/lang/Runtime.exec\", dynamic) limit 20",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "Query text"
				}
			},
			"required": ["query"]
		}`),
	}, s.handleParseQuery)

	s.addTool(&mcp.Tool{
		Name:        "explain_query",
		Description: "Compile a query against a project and report the plan: the static filter, how many methods survive it, whether the answer comes from xref evidence alone (static_only), the probes and engine capabilities dynamic execution needs, and the effective run budget after .bqconfig defaults and the query's WITH clause.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "Query text"
				},
				` + projectProp + `
			},
			"required": ["query"]
		}`),
	}, s.handleExplainQuery)

	s.addTool(&mcp.Tool{
		Name:        "run_query",
		Description: "Compile and run a query against a project. Candidates are narrowed statically; statically answerable call/field queries return xref evidence directly. Otherwise each surviving method is evaluated against its captured execution result (see ingest_results); methods without one evaluate against an empty result. Returns rows plus candidate, executed, failed and matched counts.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {
					"type": "string",
					"description": "Query text"
				},
				` + projectProp + `,
				"max_methods": {
					"type": "integer",
					"description": "Cap on executed candidates (default from runner.max_methods, 100)"
				}
			},
			"required": ["query"]
		}`),
	}, s.handleRunQuery)
}

// queryError renders a compile error with its position when it has one.
func queryError(err error) *mcp.CallToolResult {
	var qe *query.Error
	if !errors.As(err, &qe) {
		return errResult(fmt.Sprintf("query error: %v", err))
	}
	b, _ := json.Marshal(map[string]any{
		"error":    qe.Error(),
		"kind":     qe.Kind.String(),
		"message":  qe.Msg,
		"position": qe.Pos,
	})
	return errResult(string(b))
}

func (s *Server) handleParseQuery(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	text := getStringArg(args, "query")
	if text == "" {
		return errResult("missing required 'query' parameter"), nil
	}

	tokens, err := query.Lex(text)
	if err != nil {
		return queryError(err), nil
	}
	q, err := query.Parse(text)
	if err != nil {
		return queryError(err), nil
	}

	out := map[string]any{
		"canonical": q.String(),
		"mode":      q.Mode.String(),
		"target":    q.Target.String(),
		"scope":     q.Scope.String(),
		"tokens":    query.Print(tokens),
	}
	if q.Predicate != nil {
		out["predicate"] = q.Predicate.String()
	}
	if q.RunSpec != nil && !q.RunSpec.IsEmpty() {
		out["run_spec"] = q.RunSpec.String()
	}
	if q.Limit != nil {
		out["limit"] = *q.Limit
	}
	if q.OrderBy != nil {
		out["order_by"] = map[string]any{"key": q.OrderBy.Key, "descending": q.OrderBy.Descending}
	}
	return jsonResult(out), nil
}

// compile resolves the project and compiles text through its plan cache.
func (s *Server) compile(args map[string]any) (*planner.Plan, string, *mcp.CallToolResult) {
	text := getStringArg(args, "query")
	if text == "" {
		return nil, "", errResult("missing required 'query' parameter")
	}
	st, project, err := s.projectStore(getStringArg(args, "project"))
	if err != nil {
		return nil, "", errResult(err.Error())
	}
	plan, err := s.planCache(st, project).Compile(text)
	if err != nil {
		return nil, "", queryError(err)
	}
	return plan, project, nil
}

func budgetJSON(b query.Budget) map[string]any {
	return map[string]any{
		"seeds":            b.Seeds,
		"max_instructions": b.MaxInstructions,
		"max_depth":        b.MaxDepth,
		"trace_mode":       b.TraceMode.String(),
		"time_budget_ms":   b.TimeBudget.Milliseconds(),
	}
}

func (s *Server) handleExplainQuery(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	plan, project, res := s.compile(args)
	if res != nil {
		return res, nil
	}

	st, err := s.router.ForProject(project)
	if err != nil {
		return errResult(err.Error()), nil
	}
	all, err := st.View(project).Methods()
	if err != nil {
		return errResult(fmt.Sprintf("list methods: %v", err)), nil
	}
	candidates := plan.StaticFilter.FilterMethods(all)

	probes := make([]string, 0, plan.Probes.Len())
	for _, p := range plan.Probes.Probes() {
		probes = append(probes, p.String())
	}
	caps := make([]string, 0)
	for _, c := range plan.Probes.Capabilities() {
		caps = append(caps, c.String())
	}

	return jsonResult(map[string]any{
		"project":       project,
		"query":         plan.Query.String(),
		"static_filter": fmt.Sprint(plan.StaticFilter),
		"xref_backed":   plan.XrefBacked,
		"static_only":   plan.StaticOnly(),
		"methods":       len(all),
		"candidates":    len(candidates),
		"probes":        probes,
		"capabilities":  caps,
		"budget":        budgetJSON(plan.Budget),
	}), nil
}

func (s *Server) handleRunQuery(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}
	plan, project, res := s.compile(args)
	if res != nil {
		return res, nil
	}

	st, err := s.router.ForProject(project)
	if err != nil {
		return errResult(err.Error()), nil
	}
	cfg := projectConfig(st, project)
	opts := runner.Options{
		Workers:    cfg.EffectiveWorkers(),
		MaxMethods: getIntArg(args, "max_methods", cfg.EffectiveMaxMethods()),
	}
	view := st.View(project)
	rep, err := runner.New(view, traces.NewReplay(st, project), opts).Run(ctx, plan)
	if err != nil {
		return errResult(fmt.Sprintf("run failed: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"project": project,
		"query":   plan.Query.String(),
		"report":  rep,
	}), nil
}
