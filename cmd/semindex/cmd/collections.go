package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/semindex/semindex/internal/config"
	"github.com/semindex/semindex/internal/store"
)

// collectionsDir is where CollectionManager looks for named collections,
// separate from the default single-project index under .semantica.
func collectionsDir(dataDir string) string {
	return filepath.Join(dataDir, "collections")
}

func newCollectionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collections",
		Short: "Manage named vector/metadata collections within a project",
		Long: `A project can hold more than one named collection, each with its own
vector store and metadata store, under .semantica/collections/<name>/.
This is useful for indexing logically separate subsets of a monorepo
(e.g. one collection per service) that should be searched independently.

Examples:
  semindex collections list
  semindex collections create api --dim 768
  semindex collections delete api`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollectionsList(cmd)
		},
	}

	cmd.AddCommand(newCollectionsCreateCmd())
	cmd.AddCommand(newCollectionsDeleteCmd())

	return cmd
}

func newCollectionsCreateCmd() *cobra.Command {
	var dim int

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a new named collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollectionsCreate(cmd, args[0], dim)
		},
	}

	cmd.Flags().IntVar(&dim, "dim", 768, "Vector dimensionality for the new collection")

	return cmd
}

func newCollectionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a collection and all its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollectionsDelete(cmd, args[0])
		},
	}
}

func openCollectionManager(ctx context.Context) (*store.CollectionManager, error) {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve project root: %w", err)
		}
	}
	dataDir := filepath.Join(root, ".semantica")
	mgr := store.NewCollectionManager(collectionsDir(dataDir))
	if err := mgr.Connect(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect collections: %w", err)
	}
	return mgr, nil
}

func runCollectionsList(cmd *cobra.Command) error {
	ctx := cmd.Context()
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	dataDir := filepath.Join(root, ".semantica")
	collDir := collectionsDir(dataDir)

	entries, err := os.ReadDir(collDir)
	if err != nil {
		if os.IsNotExist(err) {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No collections found.")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "")
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Create one with: semindex collections create NAME")
			return nil
		}
		return fmt.Errorf("failed to read collections directory: %w", err)
	}

	mgr, err := openCollectionManager(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	if len(names) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No collections found.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tVECTORS\tCHUNKS\tWITH EMBEDDING")
	_, _ = fmt.Fprintln(w, "----\t-------\t------\t--------------")
	for _, name := range names {
		stats, err := mgr.GetStats(ctx, name)
		if err != nil {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\n", name)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", stats.Name, stats.VectorCount, stats.ChunkCount, stats.WithEmbedding)
	}
	return w.Flush()
}

func runCollectionsCreate(cmd *cobra.Command, name string, dim int) error {
	ctx := cmd.Context()
	mgr, err := openCollectionManager(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	if mgr.CollectionExists(name) {
		return fmt.Errorf("collection %q already exists", name)
	}
	if err := mgr.CreateCollection(ctx, name, dim); err != nil {
		return fmt.Errorf("failed to create collection %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Collection %q created (dim=%d).\n", name, dim)
	return nil
}

func runCollectionsDelete(cmd *cobra.Command, name string) error {
	ctx := cmd.Context()
	mgr, err := openCollectionManager(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Close() }()

	if !mgr.CollectionExists(name) {
		return fmt.Errorf("collection %q not found", name)
	}
	if err := mgr.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", name, err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Collection %q deleted.\n", name)
	return nil
}
