package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DeusData/bytecode-query-mcp/internal/config"
	"github.com/DeusData/bytecode-query-mcp/internal/pipeline"
)

func (s *Server) registerIndexTools() {
	s.addTool(&mcp.Tool{
		Name:        "index_classes",
		Description: "Index a directory of compiled JVM classes into a project. Walks the tree for .class files and .jar/.war/.ear archives, parses each class file, and stores classes, methods, constant-pool strings and cross-references (calls, field reads/writes, allocations) with call-site argument kinds. Incremental: unchanged files are skipped by content hash. Honours .bqignore and the index.exclude_paths setting in .bqconfig.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"repo_path": {
					"type": "string",
					"description": "Absolute path to the directory holding class files or archives"
				},
				"force": {
					"type": "boolean",
					"description": "Re-parse every file even when its hash is unchanged"
				}
			},
			"required": ["repo_path"]
		}`),
	}, s.handleIndexClasses)
}

func (s *Server) handleIndexClasses(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := parseArgs(req)
	if err != nil {
		return errResult(err.Error()), nil
	}

	repoPath := getStringArg(args, "repo_path")
	if repoPath == "" {
		return errResult("repo_path is required"), nil
	}
	absPath, err := filepath.Abs(repoPath)
	if err != nil {
		return errResult(fmt.Sprintf("invalid path: %v", err)), nil
	}
	if info, statErr := os.Stat(absPath); statErr != nil || !info.IsDir() {
		return errResult(fmt.Sprintf("not a directory: %s", absPath)), nil
	}

	projectName := pipeline.ProjectNameFromPath(absPath)
	stats, err := s.index(ctx, projectName, absPath, getBoolArg(args, "force"))
	if err != nil {
		return errResult(fmt.Sprintf("indexing failed: %v", err)), nil
	}

	return jsonResult(map[string]any{
		"project": projectName,
		"stats":   stats,
	}), nil
}

// Reindex re-runs the pipeline for one project. It has the watcher's
// IndexFunc signature.
func (s *Server) Reindex(ctx context.Context, projectName, rootPath string) error {
	_, err := s.index(ctx, projectName, rootPath, false)
	return err
}

func (s *Server) index(ctx context.Context, projectName, rootPath string, force bool) (*pipeline.Stats, error) {
	st, err := s.router.ForProject(projectName)
	if err != nil {
		return nil, err
	}
	cfg := config.Load(rootPath)

	s.indexMu.Lock()
	defer s.indexMu.Unlock()

	p := pipeline.New(ctx, st, rootPath)
	p.ProjectName = projectName
	p.Options = pipeline.Options{
		Workers:      cfg.EffectiveWorkers(),
		ExcludePaths: cfg.ExcludePaths(),
		Force:        force,
	}
	stats, err := p.Run()
	if err != nil {
		return nil, err
	}
	if !stats.NoChanges {
		s.dropCache(projectName)
	}
	return stats, nil
}
