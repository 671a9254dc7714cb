// Package tools exposes indexing and query compilation as MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/bytecode-query-mcp/internal/config"
	"github.com/DeusData/bytecode-query-mcp/internal/planner"
	"github.com/DeusData/bytecode-query-mcp/internal/store"
)

// Version is reported in the MCP implementation info.
var Version = "dev"

// Server wraps the MCP server with tool handlers. Each project lives in its
// own store behind the router; compiled plans are cached per project and
// dropped whenever that project is re-indexed.
type Server struct {
	mcp    *mcp.Server
	router *store.StoreRouter

	// indexMu serializes indexing between tool calls and the watcher.
	indexMu sync.Mutex

	mu     sync.Mutex
	caches map[string]*planner.Cache

	handlers map[string]mcp.ToolHandler
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(r *store.StoreRouter) *Server {
	srv := &Server{
		router:   r,
		caches:   make(map[string]*planner.Cache),
		handlers: make(map[string]mcp.ToolHandler),
		mcp: mcp.NewServer(
			&mcp.Implementation{
				Name:    "bytecode-query-mcp",
				Version: Version,
			},
			nil,
		),
	}
	srv.registerTools()
	return srv
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Router returns the project store router.
func (s *Server) Router() *store.StoreRouter {
	return s.router
}

func (s *Server) registerTools() {
	s.registerIndexTools()
	s.registerProjectTools()
	s.registerQueryTools()
	s.registerTraceTools()
}

// addTool registers a handler wrapped with call logging.
func (s *Server) addTool(tool *mcp.Tool, handler mcp.ToolHandler) {
	name := tool.Name
	wrapped := func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := handler(ctx, req)
		isErr := err != nil || (res != nil && res.IsError)
		slog.Info("tool.call", "tool", name, "error", isErr, "elapsed", time.Since(start))
		return res, err
	}
	s.handlers[name] = wrapped
	s.mcp.AddTool(tool, wrapped)
}

// ToolNames returns the registered tool names in sorted order.
func (s *Server) ToolNames() []string {
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes a tool in-process, as the command line does. It returns the
// tool's text output and whether the tool reported an error.
func (s *Server) Call(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	h, ok := s.handlers[name]
	if !ok {
		return "", false, fmt.Errorf("unknown tool: %s", name)
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", false, fmt.Errorf("encode arguments: %w", err)
	}
	res, err := h(ctx, &mcp.CallToolRequest{Params: &mcp.CallToolParamsRaw{Arguments: raw}})
	if err != nil {
		return "", false, err
	}
	var sb strings.Builder
	for _, c := range res.Content {
		if t, ok := c.(*mcp.TextContent); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String(), res.IsError, nil
}

// projectStore resolves the project argument. An empty name selects the
// only indexed project when exactly one exists.
func (s *Server) projectStore(name string) (*store.Store, string, error) {
	if name == "" {
		infos, err := s.router.ListProjects()
		if err != nil {
			return nil, "", fmt.Errorf("list projects: %w", err)
		}
		if len(infos) != 1 {
			return nil, "", fmt.Errorf("project is required (%d projects indexed)", len(infos))
		}
		name = infos[0].Name
	}
	if !s.router.HasProject(name) {
		return nil, "", fmt.Errorf("project not found: %s", name)
	}
	st, err := s.router.ForProject(name)
	if err != nil {
		return nil, "", err
	}
	return st, name, nil
}

// projectConfig loads .bqconfig from the project's indexed root.
func projectConfig(st *store.Store, project string) *config.Config {
	p, err := st.GetProject(project)
	if err != nil || p.RootPath == "" {
		return config.DefaultConfig()
	}
	return config.Load(p.RootPath)
}

// planCache returns the project's plan cache, creating it on first use.
func (s *Server) planCache(st *store.Store, project string) *planner.Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[project]; ok {
		return c
	}
	cfg := projectConfig(st, project)
	view := st.View(project)
	c := planner.NewCache(planner.New(view, view, cfg.EffectiveBudget()), cfg.EffectivePlanCacheSize())
	s.caches[project] = c
	return c
}

// dropCache forgets the project's compiled plans. Plans hold xref lookups
// from the index they were compiled against.
func (s *Server) dropCache(project string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[project]; ok {
		c.Purge()
		delete(s.caches, project)
	}
}

// jsonResult marshals data into an indented JSON tool result.
func jsonResult(data any) *mcp.CallToolResult {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errResult("json marshal err=" + err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}

// errResult returns a tool result indicating an error.
func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// parseArgs unmarshals the raw JSON arguments into a map.
func parseArgs(req *mcp.CallToolRequest) (map[string]any, error) {
	if len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &m); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return m, nil
}

// getStringArg extracts a string argument from parsed args.
func getStringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// getIntArg extracts an integer argument with a default value.
func getIntArg(args map[string]any, key string, defaultVal int) int {
	f, ok := args[key].(float64) // JSON numbers decode as float64
	if !ok {
		return defaultVal
	}
	return int(f)
}

// getBoolArg extracts a boolean argument from parsed args.
func getBoolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}
