package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

// errToolFailed marks a tool that ran but reported an error; its text has
// already been printed.
var errToolFailed = errors.New("tool reported an error")

// runTool opens the store, invokes one MCP tool in-process and prints its
// JSON output.
func runTool(cmd *cobra.Command, flags *rootFlags, name string, args map[string]any) error {
	srv, err := newServer(flags)
	if err != nil {
		return err
	}
	defer srv.Router().CloseAll()

	out, isErr, err := srv.Call(cmd.Context(), name, args)
	if err != nil {
		return err
	}
	if isErr {
		fmt.Fprintln(cmd.ErrOrStderr(), out)
		return errToolFailed
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "bytecode-query-mcp", version)
		},
	}
}

func newIndexCmd(flags *rootFlags) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "index <dir>",
		Short: "Index the class files and jars under a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve path: %w", err)
			}
			return runTool(cmd, flags, "index_classes", map[string]any{
				"repo_path": abs,
				"force":     force,
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-index every file, ignoring stored hashes")
	return cmd
}

func newProjectsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "projects",
		Aliases: []string{"ls"},
		Short:   "List indexed projects",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTool(cmd, flags, "list_projects", nil)
		},
	}
}

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project>",
		Short: "Delete a project's index and stored results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd, flags, "delete_project", map[string]any{"project_name": args[0]})
		},
	}
}

func newParseCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "parse <query>",
		Short: "Parse a query and print its canonical form and tokens",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd, flags, "parse_query", map[string]any{"query": strings.Join(args, " ")})
		},
	}
}

func newExplainCmd(flags *rootFlags) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "explain <query>",
		Short: "Compile a query against a project and print the plan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd, flags, "explain_query", map[string]any{
				"query":   strings.Join(args, " "),
				"project": project,
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project name (optional when one project is indexed)")
	return cmd
}

func newQueryCmd(flags *rootFlags) *cobra.Command {
	var project string
	var maxMethods int
	cmd := &cobra.Command{
		Use:   "query <query>",
		Short: "Run a query against a project",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs := map[string]any{
				"query":   strings.Join(args, " "),
				"project": project,
			}
			if maxMethods > 0 {
				toolArgs["max_methods"] = maxMethods
			}
			return runTool(cmd, flags, "run_query", toolArgs)
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project name (optional when one project is indexed)")
	cmd.Flags().IntVar(&maxMethods, "max-methods", 0, "cap on executed candidates")
	return cmd
}

func newIngestCmd(flags *rootFlags) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "ingest <results.json>",
		Short: "Load captured execution results into a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd, flags, "ingest_results", map[string]any{
				"file_path": args[0],
				"project":   project,
			})
		},
	}
	cmd.Flags().StringVarP(&project, "project", "p", "", "project name (optional when one project is indexed)")
	return cmd
}
