// Package watcher polls indexed projects for changed class files and
// triggers re-indexing.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/DeusData/bytecode-query-mcp/internal/config"
	"github.com/DeusData/bytecode-query-mcp/internal/discover"
	"github.com/DeusData/bytecode-query-mcp/internal/store"
)

const (
	baseInterval = 1 * time.Second
	maxInterval  = 60 * time.Second
)

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

type projectState struct {
	snapshot map[string]fileSnapshot
	interval time.Duration
	nextPoll time.Time
}

// IndexFunc re-indexes one project. Callers use it to run the pipeline and
// drop anything derived from the old index, such as compiled plans.
type IndexFunc func(ctx context.Context, projectName, rootPath string) error

// Watcher polls indexed projects for file changes and triggers re-indexing.
type Watcher struct {
	router   *store.StoreRouter
	indexFn  IndexFunc
	projects map[string]*projectState
	ctx      context.Context
}

// New creates a Watcher. indexFn is called when file changes are detected.
func New(r *store.StoreRouter, indexFn IndexFunc) *Watcher {
	return &Watcher{
		router:   r,
		indexFn:  indexFn,
		projects: make(map[string]*projectState),
		ctx:      context.Background(),
	}
}

// Run blocks until ctx is cancelled. Ticks at baseInterval, polling each
// project only when its adaptive interval has elapsed.
func (w *Watcher) Run(ctx context.Context) {
	w.ctx = ctx
	ticker := time.NewTicker(baseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollAll()
		}
	}
}

// pollAll lists all indexed projects and polls each that is due. Projects
// deleted since the last tick are forgotten.
func (w *Watcher) pollAll() {
	infos, err := w.router.ListProjects()
	if err != nil {
		slog.Warn("watcher.list_projects", "err", err)
		return
	}

	now := time.Now()
	seen := make(map[string]bool, len(infos))
	for _, info := range infos {
		if w.ctx.Err() != nil {
			return
		}
		if info.RootPath == "" {
			continue
		}
		seen[info.Name] = true

		state, exists := w.projects[info.Name]
		if !exists {
			state = &projectState{}
			w.projects[info.Name] = state
		}
		if exists && now.Before(state.nextPoll) {
			continue
		}
		w.pollProject(info.Name, info.RootPath, state)
	}
	for name := range w.projects {
		if !seen[name] {
			delete(w.projects, name)
		}
	}
}

// pollProject captures a snapshot of the project's class files and compares
// it with the previous one. The first poll only records a baseline.
func (w *Watcher) pollProject(name, root string, state *projectState) {
	if _, err := os.Stat(root); err != nil {
		slog.Warn("watcher.root_gone", "project", name, "path", root)
		state.nextPoll = time.Now().Add(maxInterval)
		return
	}

	snap, err := captureSnapshot(w.ctx, root)
	if err != nil {
		slog.Warn("watcher.snapshot", "project", name, "err", err)
		state.nextPoll = time.Now().Add(state.interval)
		return
	}

	interval := pollInterval(len(snap))

	if state.snapshot == nil {
		slog.Debug("watcher.baseline", "project", name, "files", len(snap))
		state.snapshot = snap
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	if snapshotsEqual(state.snapshot, snap) {
		state.interval = interval
		state.nextPoll = time.Now().Add(interval)
		return
	}

	slog.Info("watcher.changed", "project", name, "files", len(snap))
	if err := w.indexFn(w.ctx, name, root); err != nil {
		slog.Warn("watcher.index", "project", name, "err", err)
		// keep the old snapshot so the next cycle retries
		state.nextPoll = time.Now().Add(interval)
		return
	}

	state.snapshot = snap
	state.interval = interval
	state.nextPoll = time.Now().Add(interval)
}

// captureSnapshot records mtime and size for every file the indexer would
// read, honouring the project's .bqconfig exclusions.
func captureSnapshot(ctx context.Context, rootPath string) (map[string]fileSnapshot, error) {
	cfg := config.Load(rootPath)
	files, err := discover.Discover(ctx, rootPath, &discover.Options{
		ExtraIgnore: cfg.ExcludePaths(),
		IncludeJars: true,
	})
	if err != nil {
		return nil, err
	}

	snap := make(map[string]fileSnapshot, len(files))
	for _, f := range files {
		info, statErr := os.Stat(f.Path)
		if statErr != nil {
			continue
		}
		snap[f.RelPath] = fileSnapshot{
			modTime: info.ModTime(),
			size:    info.Size(),
		}
	}
	return snap, nil
}

// snapshotsEqual returns true if two snapshots have identical files with same mtime+size.
func snapshotsEqual(a, b map[string]fileSnapshot) bool {
	if len(a) != len(b) {
		return false
	}
	for path, aSnap := range a {
		bSnap, ok := b[path]
		if !ok {
			return false
		}
		if !aSnap.modTime.Equal(bSnap.modTime) || aSnap.size != bSnap.size {
			return false
		}
	}
	return true
}

// pollInterval computes the adaptive interval from file count.
// 1s base + 1s per 500 files, capped at 60s.
func pollInterval(fileCount int) time.Duration {
	return min(baseInterval+time.Duration(fileCount/500)*time.Second, maxInterval)
}
