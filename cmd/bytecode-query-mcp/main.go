package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/DeusData/bytecode-query-mcp/internal/store"
	"github.com/DeusData/bytecode-query-mcp/internal/tools"
	"github.com/DeusData/bytecode-query-mcp/internal/watcher"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	cacheDir string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	var noWatch bool
	var showVersion bool

	cmd := &cobra.Command{
		Use:   "bytecode-query-mcp",
		Short: "Query compiled JVM bytecode over MCP",
		Long: `bytecode-query-mcp indexes class files and jars, compiles bytecode queries
into static filters, probe sets and post-filters, and answers them from the
index and captured execution results.

Run without a subcommand to serve MCP over stdio.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			configureLogging(cmd, flags.verbose)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), "bytecode-query-mcp", version)
				return nil
			}
			return serve(cmd.Context(), flags, !noWatch)
		},
	}
	cmd.PersistentFlags().StringVar(&flags.cacheDir, "cache-dir", "", "directory holding project databases (default ~/.cache/bytecode-query-mcp)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not re-index projects when their class files change")
	cmd.Flags().BoolVar(&showVersion, "version", false, "print the version and exit")

	cmd.AddCommand(
		newVersionCmd(),
		newIndexCmd(flags),
		newProjectsCmd(flags),
		newDeleteCmd(flags),
		newParseCmd(flags),
		newExplainCmd(flags),
		newQueryCmd(flags),
		newIngestCmd(flags),
		newInstallCmd(),
		newUninstallCmd(),
	)
	return cmd
}

// configureLogging sends structured logs to stderr; stdout carries the MCP
// stream or command output. A terminal gets text, anything else JSON lines.
func configureLogging(cmd *cobra.Command, verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	w := cmd.ErrOrStderr()
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		slog.SetDefault(slog.New(slog.NewTextHandler(w, opts)))
		return
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(w, opts)))
}

func openRouter(flags *rootFlags) (*store.StoreRouter, error) {
	if flags.cacheDir != "" {
		return store.NewRouterWithDir(flags.cacheDir)
	}
	return store.NewRouter()
}

func newServer(flags *rootFlags) (*tools.Server, error) {
	r, err := openRouter(flags)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	tools.Version = version
	return tools.NewServer(r), nil
}

func serve(parent context.Context, flags *rootFlags, watch bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(flags)
	if err != nil {
		return err
	}
	defer srv.Router().CloseAll()

	if watch {
		w := watcher.New(srv.Router(), srv.Reindex)
		go w.Run(ctx)
	}

	slog.Info("server.start", "version", version, "cache_dir", srv.Router().Dir(), "watch", watch)
	if err := srv.MCPServer().Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
