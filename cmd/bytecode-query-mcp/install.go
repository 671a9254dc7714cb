package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
)

const mcpServerKey = "bytecode-query-mcp"

// installer registers the binary as an MCP server with detected clients.
type installer struct {
	out        io.Writer
	dryRun     bool
	binaryPath string
	// editors lists JSON-config clients by display name and path.
	editors []editorConfig
	// claudePath is the claude CLI, empty when not installed.
	claudePath string
}

type editorConfig struct {
	name string
	path string
}

func newInstaller(out io.Writer, dryRun bool) (*installer, error) {
	bin, err := detectBinaryPath()
	if err != nil {
		return nil, err
	}
	return &installer{
		out:        out,
		dryRun:     dryRun,
		binaryPath: bin,
		editors: []editorConfig{
			{name: "Cursor", path: cursorConfigPath()},
			{name: "Windsurf", path: windsurfConfigPath()},
		},
		claudePath: findCLI("claude"),
	}, nil
}

func newInstallCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Register this binary as an MCP server with Claude Code, Cursor and Windsurf",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := newInstaller(cmd.OutOrStdout(), dryRun)
			if err != nil {
				return err
			}
			in.install()
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would change without writing")
	return cmd
}

func newUninstallCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the MCP server registration; databases are kept",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in, err := newInstaller(cmd.OutOrStdout(), dryRun)
			if err != nil {
				return err
			}
			in.uninstall()
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would change without writing")
	return cmd
}

func (in *installer) install() {
	fmt.Fprintf(in.out, "bytecode-query-mcp %s install\n", version)
	fmt.Fprintf(in.out, "Binary: %s\n\n", in.binaryPath)

	if in.claudePath != "" {
		fmt.Fprintf(in.out, "[Claude Code] detected (%s)\n", in.claudePath)
		in.registerClaudeCodeMCP()
	} else {
		fmt.Fprintln(in.out, "[Claude Code] not found, skipping")
	}

	for _, e := range in.editors {
		in.installEditorMCP(e)
	}
	fmt.Fprintln(in.out, "\nDone. Restart your MCP clients to activate.")
}

func (in *installer) uninstall() {
	fmt.Fprintf(in.out, "bytecode-query-mcp %s uninstall\n\n", version)

	if in.claudePath != "" {
		fmt.Fprintf(in.out, "[Claude Code] detected (%s)\n", in.claudePath)
		in.deregisterClaudeCodeMCP()
	}
	for _, e := range in.editors {
		in.removeEditorMCP(e)
	}
	fmt.Fprintln(in.out, "\nDone. Binary and databases were NOT removed.")
}

// detectBinaryPath resolves the current binary's real path.
func detectBinaryPath() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("detect binary: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(exe)
	if err != nil {
		return "", fmt.Errorf("resolve symlink: %w", err)
	}
	return resolved, nil
}

func (in *installer) registerClaudeCodeMCP() {
	if in.dryRun {
		fmt.Fprintf(in.out, "  [dry-run] Would run: %s mcp add --scope user %s -- %s\n", in.claudePath, mcpServerKey, in.binaryPath)
		return
	}
	// Not registered yet is fine.
	_ = execCLI(in.claudePath, "mcp", "remove", "-s", "user", mcpServerKey)
	if err := execCLI(in.claudePath, "mcp", "add", "--scope", "user", mcpServerKey, "--", in.binaryPath); err != nil {
		fmt.Fprintf(in.out, "  ! MCP registration failed: %v\n", err)
		return
	}
	fmt.Fprintln(in.out, "  ok MCP server registered (scope: user)")
}

func (in *installer) deregisterClaudeCodeMCP() {
	if in.dryRun {
		fmt.Fprintf(in.out, "  [dry-run] Would run: %s mcp remove -s user %s\n", in.claudePath, mcpServerKey)
		return
	}
	if err := execCLI(in.claudePath, "mcp", "remove", "-s", "user", mcpServerKey); err != nil {
		fmt.Fprintf(in.out, "  ! MCP deregistration: %v\n", err)
		return
	}
	fmt.Fprintln(in.out, "  ok MCP server deregistered")
}

// findCLI locates a CLI binary by name.
func findCLI(name string) string {
	if p, err := exec.LookPath(name); err == nil {
		return p
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	candidates := []string{
		"/usr/local/bin/" + name,
		filepath.Join(home, ".npm", "bin", name),
		filepath.Join(home, ".local", "bin", name),
	}
	if runtime.GOOS == "darwin" {
		candidates = append(candidates, "/opt/homebrew/bin/"+name)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func execCLI(path string, args ...string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func cursorConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cursor", "mcp.json")
}

func windsurfConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".codeium", "windsurf", "mcp_config.json")
}

// installEditorMCP upserts our entry under mcpServers in an editor's JSON
// config, keeping every other key.
func (in *installer) installEditorMCP(e editorConfig) {
	if e.path == "" {
		return
	}
	fmt.Fprintf(in.out, "[%s] MCP config: %s\n", e.name, e.path)
	if in.dryRun {
		fmt.Fprintf(in.out, "  [dry-run] Would upsert %s in %s\n", mcpServerKey, e.path)
		return
	}
	if err := upsertMCPServer(e.path, in.binaryPath); err != nil {
		fmt.Fprintf(in.out, "  ! %v\n", err)
		return
	}
	fmt.Fprintf(in.out, "  ok MCP server registered in %s\n", e.path)
}

func (in *installer) removeEditorMCP(e editorConfig) {
	if e.path == "" {
		return
	}
	if !hasMCPServer(e.path) {
		return
	}
	fmt.Fprintf(in.out, "[%s] MCP config: %s\n", e.name, e.path)
	if in.dryRun {
		fmt.Fprintf(in.out, "  [dry-run] Would remove %s from %s\n", mcpServerKey, e.path)
		return
	}
	if err := removeMCPServer(e.path); err != nil {
		fmt.Fprintf(in.out, "  ! %v\n", err)
		return
	}
	fmt.Fprintf(in.out, "  ok Removed %s from %s\n", mcpServerKey, e.path)
}

func readMCPConfig(path string) map[string]any {
	root := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil {
		return root
	}
	// Invalid JSON is overwritten.
	if err := json.Unmarshal(data, &root); err != nil {
		return make(map[string]any)
	}
	return root
}

func writeMCPConfig(path string, root map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(path), err)
	}
	out, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if err := os.WriteFile(path, append(out, '\n'), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func upsertMCPServer(path, binaryPath string) error {
	root := readMCPConfig(path)
	servers, ok := root["mcpServers"].(map[string]any)
	if !ok {
		servers = make(map[string]any)
	}
	servers[mcpServerKey] = map[string]any{
		"command": binaryPath,
	}
	root["mcpServers"] = servers
	return writeMCPConfig(path, root)
}

func hasMCPServer(path string) bool {
	servers, ok := readMCPConfig(path)["mcpServers"].(map[string]any)
	if !ok {
		return false
	}
	_, exists := servers[mcpServerKey]
	return exists
}

func removeMCPServer(path string) error {
	root := readMCPConfig(path)
	servers, ok := root["mcpServers"].(map[string]any)
	if !ok {
		return nil
	}
	delete(servers, mcpServerKey)
	root["mcpServers"] = servers
	return writeMCPConfig(path, root)
}
