package tools

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/bytecode-query-mcp/internal/traces"
)

func (s *Server) registerTraceTools() {
	s.addTool(&mcp.Tool{
		Name:        "ingest_results",
		Description: "Load captured execution results into a project so run_query can evaluate dynamic predicates (allocCount, throws, instructionCount, field transitions, runtime strings). The file is a JSON array of results, or an object with a \"results\" array; each result names its method signature (owner.name(desc), dotted or slashed owner) and carries instructions, allocations and call/field/string/exception/branch events. Re-ingesting a method replaces its earlier result.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"project": {
					"type": "string",
					"description": "Name of the indexed project"
				},
				"file_path": {
					"type": "string",
					"description": "Path to the results JSON file"
				}
			},
			"required": ["file_path"]
		}`),
	}, s.handleIngestResults)
}

func (s *Server) handleIngestResults(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	filePath := getStringArg(args, "file_path")
	if filePath == "" {
		return errResult("file_path is required"), nil
	}
	st, project, err := s.projectStore(getStringArg(args, "project"))
	if err != nil {
		return errResult(err.Error()), nil
	}

	result, err := traces.Ingest(st, project, filePath)
	if err != nil {
		return errResult(err.Error()), nil
	}

	return jsonResult(map[string]any{
		"project": project,
		"ingest":  result,
	}), nil
}
