package discover

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func writeFile(t *testing.T, root, rel string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte{0xCA, 0xFE, 0xBA, 0xBE}, 0o600); err != nil {
		t.Fatal(err)
	}
}

func relPaths(files []FileInfo) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	sort.Strings(out)
	return out
}

func TestDiscoverBasic(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "target/classes/com/acme/Shell.class")
	writeFile(t, dir, "build/classes/Util.class")
	writeFile(t, dir, "lib/app.jar")
	writeFile(t, dir, "src/Shell.java")
	writeFile(t, dir, ".git/objects/X.class")

	files, err := Discover(context.Background(), dir, nil)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	got := relPaths(files)
	want := []string{"build/classes/Util.class", "lib/app.jar", "target/classes/com/acme/Shell.class"}
	if len(got) != len(want) {
		t.Fatalf("files = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("file %d = %s, want %s", i, got[i], want[i])
		}
	}
	for _, f := range files {
		if !filepath.IsAbs(f.Path) {
			t.Errorf("path not absolute: %s", f.Path)
		}
		wantKind := KindClass
		if filepath.Ext(f.Path) == ".jar" {
			wantKind = KindJar
		}
		if f.Kind != wantKind {
			t.Errorf("%s kind = %v", f.RelPath, f.Kind)
		}
	}
}

func TestDiscoverIgnoreFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "classes/A.class")
	writeFile(t, dir, "classes/generated/B.class")
	writeFile(t, dir, "classes/ShellTest.class")
	writeFile(t, dir, "classes/keep/ShellTest.class")
	if err := os.WriteFile(filepath.Join(dir, IgnoreFileName), []byte("# generated code\ngenerated/\n*Test.class\n!keep/ShellTest.class\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	files, err := Discover(context.Background(), dir, &Options{ExtraIgnore: []string{"nothing"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	got := relPaths(files)
	if len(got) != 2 || got[0] != "classes/A.class" || got[1] != "classes/keep/ShellTest.class" {
		t.Errorf("files = %v", got)
	}
}

func TestDiscoverOptions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "A.class")
	writeFile(t, dir, "vendor-libs/x.jar")

	files, err := Discover(context.Background(), dir, &Options{ExtraIgnore: []string{"A.class"}})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("extra ignore and jar exclusion: files = %v", relPaths(files))
	}

	files, err = Discover(context.Background(), dir, &Options{IncludeJars: true, MaxFileBytes: 2})
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("size limit: files = %v", relPaths(files))
	}
}

func TestDiscoverCancellation(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "A.class")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Discover(ctx, dir, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
