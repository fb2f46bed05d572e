package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/semindex/semindex/internal/async"
	"github.com/semindex/semindex/internal/config"
	"github.com/semindex/semindex/internal/embed"
	"github.com/semindex/semindex/internal/index"
	"github.com/semindex/semindex/internal/logging"
	"github.com/semindex/semindex/internal/mcp"
	"github.com/semindex/semindex/internal/search"
	"github.com/semindex/semindex/internal/session"
	"github.com/semindex/semindex/internal/store"
	"github.com/semindex/semindex/internal/ui"
	"github.com/semindex/semindex/internal/watcher"
)

// defaultWatcherStartupTimeout bounds how long serve waits for the file
// watcher to come up before giving up on it and continuing unwatched.
// BUG-035: this must never gate the MCP handshake itself.
const defaultWatcherStartupTimeout = 2 * time.Second

func newServeCmd() *cobra.Command {
	var debug bool
	var transport string
	var sessionName string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run SemIndex as a Model Context Protocol server.

Bridges AI clients (Claude Code, Cursor, and other MCP-capable tools) to the
hybrid search engine over stdio JSON-RPC. stdout is reserved exclusively for
the MCP protocol stream; all logging goes to a file, never stdout or stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionName != "" {
				return runServeWithSession(cmd.Context(), transport, port, sessionName, debug)
			}
			return runServe(cmd.Context(), transport, port)
		},
	}

	cmd.Flags().BoolVar(&debug, "debug", false, "Enable verbose (debug level) diagnostics in the log file")
	cmd.Flags().StringVar(&transport, "transport", "stdio", "MCP transport to use (stdio)")
	cmd.Flags().StringVar(&sessionName, "session", "", "Serve a named session's index instead of the current directory")
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (reserved for non-stdio transports)")

	return cmd
}

// runServe starts the MCP server for the project rooted at the current
// directory. It must return control to the caller (i.e. start accepting the
// MCP handshake) well before any background initialization, such as the file
// watcher, has finished.
func runServe(ctx context.Context, transport string, port int) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to resolve project root: %w", err)
		}
	}
	return serveProject(ctx, root, transport, port, false)
}

// runServeWithSession starts the MCP server against a named session's
// project instead of the current directory.
func runServeWithSession(ctx context.Context, transport string, port int, sessionName string, debug bool) error {
	mgr, err := session.NewManager(session.ManagerConfig{StoragePath: defaultSessionStoragePath()})
	if err != nil {
		return fmt.Errorf("failed to open session manager: %w", err)
	}

	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to resolve working directory: %w", err)
	}

	sess, err := mgr.Open(sessionName, root)
	if err != nil {
		return fmt.Errorf("failed to open session %q: %w", sessionName, err)
	}
	sess.UpdateLastUsed()
	if err := mgr.Save(sess); err != nil {
		slog.Warn("failed to persist session metadata", slog.String("error", err.Error()))
	}

	return serveProject(ctx, sess.ProjectPath, transport, port, debug)
}

func defaultSessionStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".semantica", "sessions")
	}
	return filepath.Join(home, ".semantica", "sessions")
}

// serveProject wires the stores, embedder, and search engine for root and
// runs the MCP server until ctx is cancelled.
func serveProject(ctx context.Context, root, transport string, port int, debug bool) error {
	// BUG-034/BUG-035: stdout is reserved for the MCP JSON-RPC stream. All
	// logging must go to the log file only, never stdout or stderr.
	level := "info"
	if debug {
		level = "debug"
	}
	cleanup, err := logging.SetupMCPModeWithLevel(level)
	if err != nil {
		return fmt.Errorf("failed to initialize MCP-safe logging: %w", err)
	}
	defer cleanup()

	if err := verifyStdinForMCP(); err != nil {
		slog.Warn("stdin verification failed", slog.String("error", err.Error()))
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	dataDir := filepath.Join(root, ".semantica")
	if _, statErr := os.Stat(filepath.Join(dataDir, "metadata.db")); os.IsNotExist(statErr) {
		return fmt.Errorf("no index found at %s: run 'semindex index' first", root)
	}

	metadata, err := store.NewSQLiteStore(filepath.Join(dataDir, "metadata.db"))
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	bm25, err := store.NewBM25IndexWithBackend(filepath.Join(dataDir, "bm25"), store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	embedder, err := embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	defer func() { _ = embedder.Close() }()

	vectorConfig := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorConfig)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if _, statErr := os.Stat(vectorPath); statErr == nil {
		if loadErr := vector.Load(vectorPath); loadErr != nil {
			slog.Warn("failed to load vector store", slog.String("error", loadErr.Error()))
		}
	}

	engineConfig := search.DefaultConfig()
	if cfg.Search.MaxResults > 0 {
		engineConfig.DefaultLimit = cfg.Search.MaxResults
	}
	if cfg.Search.BM25Weight > 0 || cfg.Search.SemanticWeight > 0 {
		engineConfig.DefaultWeights = search.Weights{
			BM25:     cfg.Search.BM25Weight,
			Semantic: cfg.Search.SemanticWeight,
		}
	}
	engine, err := search.NewEngine(bm25, vector, embedder, metadata, engineConfig,
		search.WithMultiQuerySearch(search.NewPatternDecomposer()))
	if err != nil {
		return fmt.Errorf("failed to build search engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	server, err := mcp.NewServer(engine, metadata, embedder, cfg, root)
	if err != nil {
		return fmt.Errorf("failed to build MCP server: %w", err)
	}

	server.SetStores(bm25, vector)
	server.SetIndexer(newMCPIndexFunc(cfg, root, dataDir, metadata, bm25, vector, embedder, server.Jobs()))
	server.SetReindexer(newMCPReindexFunc(cfg, root, dataDir, metadata, bm25, vector, embedder, server.Jobs()))

	// BUG-035: the file watcher must never gate server startup. It starts
	// in the background and the server begins serving immediately.
	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()
	go startBackgroundWatcher(watchCtx, root)

	addr := ""
	if port > 0 {
		addr = strconv.Itoa(port)
	}
	return server.Serve(ctx, transport, addr)
}

// startBackgroundWatcher starts the file watcher without blocking the
// caller. Startup failures and timeouts are logged, never propagated, since
// a project is still searchable with a stale index.
func startBackgroundWatcher(ctx context.Context, root string) {
	timeout := defaultWatcherStartupTimeout
	if v := os.Getenv("SEMINDEX_WATCHER_STARTUP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			timeout = d
		}
	}

	w, err := watcher.NewHybridWatcher(watcher.DefaultOptions())
	if err != nil {
		slog.Warn("failed to create file watcher", slog.String("error", err.Error()))
		return
	}

	started := make(chan error, 1)
	go func() { started <- w.Start(ctx, root) }()

	select {
	case err := <-started:
		if err != nil {
			slog.Warn("file watcher failed to start", slog.String("error", err.Error()))
			return
		}
	case <-time.After(timeout):
		slog.Warn("file watcher startup exceeded timeout, continuing without blocking", slog.Duration("timeout", timeout))
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return
		case evt, ok := <-w.Events():
			if !ok {
				return
			}
			slog.Debug("file change detected", slog.String("path", evt.Path), slog.String("op", evt.Operation.String()))
		case werr, ok := <-w.Errors():
			if !ok {
				return
			}
			slog.Warn("file watcher error", slog.String("error", werr.Error()))
		}
	}
}

// newMCPIndexFunc builds the mcp.IndexFunc the MCP server runs for
// index_codebase/onboard_project. It reuses the already-open stores and
// embedder the server serves search from, so a full reindex triggered over
// MCP lands in the exact index live search queries are reading.
func newMCPIndexFunc(cfg *config.Config, root, dataDir string, metadata store.MetadataStore, bm25 store.BM25Index, vector store.VectorStore, embedder embed.Embedder, jobs *async.Registry) mcp.IndexFunc {
	return func(ctx context.Context, jobID string) (*index.RunnerResult, error) {
		renderer := ui.NewRenderer(ui.NewConfig(os.Stderr, ui.WithForcePlain(true), ui.WithProjectDir(root)))
		runner, err := index.NewRunner(index.RunnerDependencies{
			Renderer: renderer,
			Config:   cfg,
			Metadata: metadata,
			BM25:     bm25,
			Vector:   vector,
			Embedder: embedder,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create index runner: %w", err)
		}
		defer func() { _ = runner.Close() }()

		return runner.Run(ctx, index.RunnerConfig{
			RootDir: root,
			DataDir: dataDir,
			Jobs:    jobs,
			JobID:   jobID,
		})
	}
}

// newMCPReindexFunc builds the mcp.ReindexFunc the MCP server runs for
// reindex_changed_files, mirroring newMCPIndexFunc's store reuse.
func newMCPReindexFunc(cfg *config.Config, root, dataDir string, metadata store.MetadataStore, bm25 store.BM25Index, vector store.VectorStore, embedder embed.Embedder, jobs *async.Registry) mcp.ReindexFunc {
	return func(ctx context.Context, jobID string, files []string, force bool) (*index.IncrementalResult, error) {
		renderer := ui.NewRenderer(ui.NewConfig(os.Stderr, ui.WithForcePlain(true), ui.WithProjectDir(root)))
		runner, err := index.NewRunner(index.RunnerDependencies{
			Renderer: renderer,
			Config:   cfg,
			Metadata: metadata,
			BM25:     bm25,
			Vector:   vector,
			Embedder: embedder,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create index runner: %w", err)
		}
		defer func() { _ = runner.Close() }()

		return runner.ReindexChangedFiles(ctx, index.IncrementalConfig{
			RootDir:       root,
			DataDir:       dataDir,
			SpecificFiles: files,
			Force:         force,
			Jobs:          jobs,
			JobID:         jobID,
		})
	}
}

// verifyStdinForMCP checks that stdin is a pipe, not an interactive
// terminal. Running serve from a terminal means no MCP client is attached
// to drive the JSON-RPC handshake, which would otherwise hang forever.
func verifyStdinForMCP() error {
	info, err := os.Stdin.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat stdin: %w", err)
	}
	if (info.Mode() & os.ModeCharDevice) != 0 {
		return fmt.Errorf("stdin is a terminal, not a pipe: MCP clients must connect via a pipe, not an interactive shell")
	}
	return nil
}
