package discover

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is the per-project ignore file, in .gitignore syntax.
const IgnoreFileName = ".bqignore"

// IGNORE_PATTERNS are directory names to skip during discovery. Build output
// directories (build, target, out, bin) are not listed; class files live there.
var IGNORE_PATTERNS = map[string]bool{
	".cache": true, ".claude": true, ".eclipse": true, ".git": true,
	".gradle": true, ".hg": true, ".idea": true, ".maven": true,
	".npm": true, ".svn": true, ".tmp": true, ".venv": true,
	".vs": true, ".vscode": true, ".yarn": true, "__pycache__": true,
	"node_modules": true, "site-packages": true, "venv": true,
}

// Kind distinguishes loose class files from archives.
type Kind int

const (
	KindClass Kind = iota
	KindJar
)

// FileInfo represents a discovered class file or archive.
type FileInfo struct {
	Path    string // absolute path
	RelPath string // relative to root, slash-separated
	Kind    Kind
	Size    int64
}

// Options configures file discovery.
type Options struct {
	IgnoreFile   string   // path to an ignore file; defaults to <root>/.bqignore
	ExtraIgnore  []string // additional patterns, .gitignore syntax
	IncludeJars  bool     // descend into .jar/.war/.ear archives
	MaxFileBytes int64    // skip larger files; 0 means no limit
}

// compileIgnore merges the ignore file with extra patterns. It returns nil
// when there is nothing to match.
func compileIgnore(ignPath string, extra []string) *ignore.GitIgnore {
	var lines []string
	if data, err := os.ReadFile(ignPath); err == nil {
		lines = strings.Split(string(data), "\n")
	}
	lines = append(lines, extra...)
	if len(lines) == 0 {
		return nil
	}
	return ignore.CompileIgnoreLines(lines...)
}

func kindOf(name string, jars bool) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".class":
		return KindClass, true
	case ".jar", ".war", ".ear":
		return KindJar, jars
	}
	return 0, false
}

// Discover walks root and returns every class file, plus archives when
// opts.IncludeJars is set. A nil opts includes archives.
func Discover(ctx context.Context, root string, opts *Options) ([]FileInfo, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts == nil {
		opts = &Options{IncludeJars: true}
	}
	ignPath := opts.IgnoreFile
	if ignPath == "" {
		ignPath = filepath.Join(root, IgnoreFileName)
	}
	gi := compileIgnore(ignPath, opts.ExtraIgnore)
	skip := func(rel string) bool { return gi != nil && gi.MatchesPath(rel) }

	var files []FileInfo

	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			if path != root && (IGNORE_PATTERNS[info.Name()] || skip(rel)) {
				return filepath.SkipDir
			}
			return nil
		}

		kind, ok := kindOf(info.Name(), opts.IncludeJars)
		if !ok || skip(rel) {
			return nil
		}
		if opts.MaxFileBytes > 0 && info.Size() > opts.MaxFileBytes {
			return nil
		}
		files = append(files, FileInfo{Path: path, RelPath: rel, Kind: kind, Size: info.Size()})
		return nil
	})

	return files, err
}
