package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/DeusData/bytecode-query-mcp/internal/classfile"
	"github.com/DeusData/bytecode-query-mcp/internal/store"
)

// maxEntryBytes bounds a single class read from an archive.
const maxEntryBytes = 64 << 20

// readJar parses every class entry of an archive. Entries are recorded with
// source "<rel>!<entry>". A corrupt entry is logged and skipped; an
// unreadable archive is an error.
func readJar(ctx context.Context, path, rel string) ([]*store.ClassRecord, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	var out []*store.ClassRecord
	for _, e := range zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !isClassEntry(e.Name) {
			continue
		}
		data, err := readEntry(e)
		if err != nil {
			slog.Warn("pipeline.jar.entry.err", "jar", rel, "entry", e.Name, "err", err)
			continue
		}
		rec, err := classfile.ParseAndExtract(data, rel+"!"+e.Name)
		if err != nil {
			slog.Warn("pipeline.jar.parse.err", "jar", rel, "entry", e.Name, "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// isClassEntry skips directories, module and package descriptors, and
// multi-release variants.
func isClassEntry(name string) bool {
	if !strings.HasSuffix(name, ".class") || strings.HasPrefix(name, "META-INF/") {
		return false
	}
	base := name[strings.LastIndexByte(name, '/')+1:]
	return base != "module-info.class" && base != "package-info.class"
}

func readEntry(e *zip.File) ([]byte, error) {
	if e.UncompressedSize64 > maxEntryBytes {
		return nil, fmt.Errorf("entry too large: %d bytes", e.UncompressedSize64)
	}
	rc, err := e.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(io.LimitReader(rc, maxEntryBytes))
}
