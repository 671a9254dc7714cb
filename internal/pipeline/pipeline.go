// Package pipeline indexes a directory of compiled classes into the store.
package pipeline

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"github.com/DeusData/bytecode-query-mcp/internal/classfile"
	"github.com/DeusData/bytecode-query-mcp/internal/discover"
	"github.com/DeusData/bytecode-query-mcp/internal/store"
)

// Pipeline indexes one directory as one project.
type Pipeline struct {
	ctx         context.Context
	Store       *store.Store
	RepoPath    string
	ProjectName string
	Options     Options
}

// Options tune indexing. Zero values select defaults.
type Options struct {
	Workers      int
	ExcludePaths []string
	// Force re-parses every file regardless of stored hashes.
	Force bool
}

// Stats summarizes one run.
type Stats struct {
	Files     int           `json:"files"`
	Changed   int           `json:"changed"`
	Removed   int           `json:"removed"`
	Failed    int           `json:"failed"`
	Classes   int           `json:"classes"`
	Methods   int           `json:"methods"`
	Xrefs     int           `json:"xrefs"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	NoChanges bool          `json:"no_changes,omitempty"`
}

// New creates a new Pipeline.
func New(ctx context.Context, s *store.Store, repoPath string) *Pipeline {
	return &Pipeline{
		ctx:         ctx,
		Store:       s,
		RepoPath:    repoPath,
		ProjectName: ProjectNameFromPath(repoPath),
	}
}

// ProjectNameFromPath derives a unique project name from an absolute path
// by replacing path separators with dashes and trimming the leading dash.
func ProjectNameFromPath(absPath string) string {
	cleaned := filepath.ToSlash(filepath.Clean(absPath))
	name := strings.ReplaceAll(cleaned, "/", "-")
	name = strings.ReplaceAll(name, ":", "")
	name = strings.TrimLeft(name, "-")
	if name == "" {
		return "root"
	}
	return name
}

func (p *Pipeline) workers(n int) int {
	w := p.Options.Workers
	if w <= 0 {
		w = runtime.NumCPU()
	}
	if w > n {
		w = n
	}
	return max(w, 1)
}

// Run discovers, hashes and parses files outside any transaction, then
// writes every change in a single transaction. Files whose stored hash
// matches are skipped.
func (p *Pipeline) Run() (*Stats, error) {
	start := time.Now()
	slog.Info("pipeline.start", "project", p.ProjectName, "path", p.RepoPath)

	if err := p.ctx.Err(); err != nil {
		return nil, err
	}

	files, err := discover.Discover(p.ctx, p.RepoPath, &discover.Options{
		ExtraIgnore: p.Options.ExcludePaths,
		IncludeJars: true,
	})
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	slog.Info("pipeline.discovered", "files", len(files))

	stats := &Stats{Files: len(files)}

	stored, err := p.Store.GetFileHashes(p.ProjectName)
	if err != nil {
		return nil, fmt.Errorf("load hashes: %w", err)
	}
	hashes := p.hashFiles(files)
	changed := p.classifyFiles(files, hashes, stored)
	removed := removedFiles(files, stored)
	stats.Changed, stats.Removed = len(changed), len(removed)

	if len(changed) == 0 && len(removed) == 0 && len(stored) > 0 {
		slog.Info("incremental.noop", "reason", "no_changes")
		stats.NoChanges = true
		p.fillCounts(stats)
		stats.Elapsed = time.Since(start)
		return stats, nil
	}
	slog.Info("incremental.classify", "changed", len(changed), "removed", len(removed), "total", len(files))

	parsed, err := p.parseFiles(changed)
	if err != nil {
		return nil, err
	}

	err = p.Store.WithTransaction(func(tx *store.Store) error {
		if err := tx.UpsertProject(p.ProjectName, p.RepoPath); err != nil {
			return fmt.Errorf("upsert project: %w", err)
		}
		for _, rel := range removed {
			if err := tx.DeleteClassesBySource(p.ProjectName, rel); err != nil {
				return fmt.Errorf("remove %s: %w", rel, err)
			}
			if err := tx.DeleteFileHash(p.ProjectName, rel); err != nil {
				return err
			}
			slog.Info("incremental.removed", "file", rel)
		}
		for _, r := range parsed {
			if err := p.ctx.Err(); err != nil {
				return err
			}
			if r.err != nil {
				stats.Failed++
				slog.Warn("pipeline.file.err", "path", r.file.RelPath, "err", r.err)
				continue
			}
			if err := tx.DeleteClassesBySource(p.ProjectName, r.file.RelPath); err != nil {
				return fmt.Errorf("replace %s: %w", r.file.RelPath, err)
			}
			for _, rec := range r.records {
				if err := tx.InsertClass(p.ProjectName, rec); err != nil {
					return err
				}
			}
			if h := hashes[r.file.RelPath]; h != "" {
				if err := tx.UpsertFileHash(p.ProjectName, r.file.RelPath, h); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.fillCounts(stats)
	stats.Elapsed = time.Since(start)
	slog.Info("pipeline.done", "classes", stats.Classes, "methods", stats.Methods,
		"xrefs", stats.Xrefs, "failed", stats.Failed, "elapsed", stats.Elapsed)
	return stats, nil
}

func (p *Pipeline) fillCounts(stats *Stats) {
	stats.Classes, _ = p.Store.CountClasses(p.ProjectName)
	stats.Methods, _ = p.Store.CountMethods(p.ProjectName)
	stats.Xrefs, _ = p.Store.CountXrefs(p.ProjectName)
}

// hashFiles hashes every file in parallel. Unreadable files are absent
// from the result.
func (p *Pipeline) hashFiles(files []discover.FileInfo) map[string]string {
	results := make([]string, len(files))
	g := new(errgroup.Group)
	g.SetLimit(p.workers(len(files)))
	for i, f := range files {
		g.Go(func() error {
			hash, err := fileHash(f.Path)
			if err != nil {
				slog.Warn("pipeline.hash.err", "path", f.RelPath, "err", err)
				return nil
			}
			results[i] = hash
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(files))
	for i, f := range files {
		if results[i] != "" {
			out[f.RelPath] = results[i]
		}
	}
	return out
}

// classifyFiles returns the files whose hash differs from the stored one.
func (p *Pipeline) classifyFiles(files []discover.FileInfo, hashes, stored map[string]string) []discover.FileInfo {
	if p.Options.Force {
		return files
	}
	var changed []discover.FileInfo
	for _, f := range files {
		h, ok := hashes[f.RelPath]
		if !ok || stored[f.RelPath] != h {
			changed = append(changed, f)
		}
	}
	return changed
}

func removedFiles(files []discover.FileInfo, stored map[string]string) []string {
	current := make(map[string]bool, len(files))
	for _, f := range files {
		current[f.RelPath] = true
	}
	var out []string
	for rel := range stored {
		if !current[rel] {
			out = append(out, rel)
		}
	}
	return out
}

type parseResult struct {
	file    discover.FileInfo
	records []*store.ClassRecord
	err     error
}

// parseFiles reads and parses files concurrently. A file that fails is
// reported in its result; only cancellation aborts the stage.
func (p *Pipeline) parseFiles(files []discover.FileInfo) ([]parseResult, error) {
	results := make([]parseResult, len(files))
	if len(files) == 0 {
		return results, nil
	}
	g, gctx := errgroup.WithContext(p.ctx)
	g.SetLimit(p.workers(len(files)))
	for i, f := range files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = parseFile(gctx, f)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := p.ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// parseFile is a pure function from a discovered file to its class records.
func parseFile(ctx context.Context, f discover.FileInfo) parseResult {
	res := parseResult{file: f}
	if f.Kind == discover.KindJar {
		res.records, res.err = readJar(ctx, f.Path, f.RelPath)
		return res
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		res.err = err
		return res
	}
	rec, err := classfile.ParseAndExtract(data, f.RelPath)
	if err != nil {
		res.err = err
		return res
	}
	res.records = []*store.ClassRecord{rec}
	return res
}

func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
