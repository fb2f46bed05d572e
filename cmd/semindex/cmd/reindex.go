package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/semindex/semindex/internal/config"
	"github.com/semindex/semindex/internal/embed"
	"github.com/semindex/semindex/internal/index"
	"github.com/semindex/semindex/internal/logging"
	"github.com/semindex/semindex/internal/store"
	"github.com/semindex/semindex/internal/ui"
)

func newReindexCmd() *cobra.Command {
	var (
		force   bool
		offline bool
		files   []string
	)

	cmd := &cobra.Command{
		Use:   "reindex [path]",
		Short: "Re-process only the files that changed since the last index",
		Long: `Reindex diffs the current project tree against the committed change
ledger, deletes chunks belonging to removed or modified files, and embeds
and indexes only the added or modified files. This is much faster than
a full 'semindex index' for small edits to an already-indexed project.

Use --files to reindex exactly the given paths without diffing the ledger
(useful when a caller already knows which files changed, e.g. a git hook).
Use --force to take over the project lock from another indexing process.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}

			return runReindex(ctx, cmd, path, offline, force, files)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Force past an existing reindex lock by killing its holder")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings instead of the configured embedder")
	cmd.Flags().StringSliceVar(&files, "files", nil, "Reindex exactly these paths instead of diffing the change ledger (relative to project root)")

	return cmd
}

func runReindex(ctx context.Context, cmd *cobra.Command, path string, offline, force bool, specificFiles []string) error {
	logCfg := logging.DefaultConfig()
	logCfg.WriteToStderr = false
	if logger, cleanup, err := logging.Setup(logCfg); err == nil {
		slog.SetDefault(logger)
		defer cleanup()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	dataDir := filepath.Join(root, ".semantica")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s. Run 'semindex index' first", root)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	bm25BasePath := filepath.Join(dataDir, "bm25")
	bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend)
	if err != nil {
		return fmt.Errorf("failed to open BM25 index: %w", err)
	}
	defer func() { _ = bm25.Close() }()

	var embedder embed.Embedder
	if offline {
		embedder = embed.NewStaticEmbedder768()
	} else {
		embed.SetMLXConfig(embed.MLXServerConfig{
			Endpoint: cfg.Embeddings.MLXEndpoint,
			Model:    cfg.Embeddings.MLXModel,
		})
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedCtx, embedCancel := context.WithTimeout(ctx, 15*time.Second)
		embedder, err = embed.NewEmbedder(embedCtx, provider, cfg.Embeddings.Model)
		embedCancel()
		if err != nil {
			return fmt.Errorf("embedder initialization failed: %w", err)
		}
	}
	defer func() { _ = embedder.Close() }()

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	vectorCfg := store.DefaultVectorStoreConfig(embedder.Dimensions())
	vector, err := store.NewHNSWStore(vectorCfg)
	if err != nil {
		return fmt.Errorf("failed to create vector store: %w", err)
	}
	defer func() { _ = vector.Close() }()

	if _, err := os.Stat(vectorPath); err == nil {
		if err := vector.Load(vectorPath); err != nil {
			return fmt.Errorf("failed to load existing vector store: %w", err)
		}
	}

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(), ui.WithForcePlain(true), ui.WithProjectDir(root)))

	runner, err := index.NewRunner(index.RunnerDependencies{
		Renderer: renderer,
		Config:   cfg,
		Metadata: metadata,
		BM25:     bm25,
		Vector:   vector,
		Embedder: embedder,
	})
	if err != nil {
		return fmt.Errorf("failed to create index runner: %w", err)
	}
	defer func() { _ = runner.Close() }()

	result, err := runner.ReindexChangedFiles(ctx, index.IncrementalConfig{
		RootDir:       root,
		DataDir:       dataDir,
		SpecificFiles: specificFiles,
		Force:         force,
	})
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Reindex complete: %d added, %d modified, %d deleted (%d chunks, %d embedded) in %s\n",
		len(result.Added), len(result.Modified), len(result.Deleted), result.Chunks, result.EmbeddedCount, result.Duration.Round(time.Millisecond))
	if !result.Success {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Warning: embedding success rate was below threshold, some chunks may lack embeddings")
	}

	return nil
}
