package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readServers(t *testing.T, path string) (map[string]any, map[string]any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	servers, _ := root["mcpServers"].(map[string]any)
	return root, servers
}

func testInstaller(t *testing.T, dryRun bool, editorPath string) (*installer, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return &installer{
		out:        &out,
		dryRun:     dryRun,
		binaryPath: "/opt/bin/bytecode-query-mcp",
		editors:    []editorConfig{{name: "Cursor", path: editorPath}},
	}, &out
}

func TestInstallEditorMCPPreservesOtherServers(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".cursor", "mcp.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	existing := `{"theme": "dark", "mcpServers": {"other": {"command": "/usr/bin/other"}}}`
	if err := os.WriteFile(path, []byte(existing), 0o600); err != nil {
		t.Fatal(err)
	}

	in, out := testInstaller(t, false, path)
	in.install()

	root, servers := readServers(t, path)
	if root["theme"] != "dark" {
		t.Errorf("unrelated key lost: %v", root)
	}
	if _, ok := servers["other"]; !ok {
		t.Error("other server entry lost")
	}
	entry, ok := servers[mcpServerKey].(map[string]any)
	if !ok || entry["command"] != in.binaryPath {
		t.Errorf("server entry = %v", servers[mcpServerKey])
	}
	if !strings.Contains(out.String(), "registered") {
		t.Errorf("output: %s", out.String())
	}

	// Idempotent.
	in.install()
	if _, servers := readServers(t, path); len(servers) != 2 {
		t.Errorf("servers after second install = %v", servers)
	}
}

func TestInstallEditorMCPCreatesAndOverwritesInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"missing file", ""},
		{"invalid json", "{not json"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name, "mcp.json")
			if tt.content != "" {
				if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
					t.Fatal(err)
				}
				if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
					t.Fatal(err)
				}
			}
			in, _ := testInstaller(t, false, path)
			in.install()
			_, servers := readServers(t, path)
			if len(servers) != 1 || servers[mcpServerKey] == nil {
				t.Errorf("case %d: servers = %v", i, servers)
			}
		})
	}
}

func TestInstallDryRunWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	in, out := testInstaller(t, true, path)
	in.install()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("dry run created %s", path)
	}
	if !strings.Contains(out.String(), "[dry-run] Would upsert") {
		t.Errorf("output: %s", out.String())
	}
}

func TestUninstallRemovesOnlyOurEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	in, _ := testInstaller(t, false, path)
	if err := writeMCPConfig(path, map[string]any{
		"mcpServers": map[string]any{
			"other":      map[string]any{"command": "/usr/bin/other"},
			mcpServerKey: map[string]any{"command": in.binaryPath},
		},
	}); err != nil {
		t.Fatal(err)
	}

	dry, _ := testInstaller(t, true, path)
	dry.uninstall()
	if !hasMCPServer(path) {
		t.Fatal("dry-run uninstall removed the entry")
	}

	in.uninstall()
	if hasMCPServer(path) {
		t.Error("entry still present after uninstall")
	}
	if _, servers := readServers(t, path); servers["other"] == nil {
		t.Error("other server entry lost")
	}

	// Nothing to remove: no output for the editor.
	again, out := testInstaller(t, false, path)
	again.uninstall()
	if strings.Contains(out.String(), "[Cursor]") {
		t.Errorf("unexpected editor output: %s", out.String())
	}
}
