package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// EmbedderInfoInput carries the currently configured embedder's identity,
// supplied by the caller so this package doesn't need to import internal/embed.
type EmbedderInfoInput struct {
	Model      string
	Backend    string
	Dimensions int
}

// GetIndexInfo assembles an IndexInfo snapshot from the metadata store's
// saved configuration, on-disk file sizes, and (optionally) the current
// embedder, so a caller can tell whether the index needs a reindex.
func GetIndexInfo(ctx context.Context, metadata MetadataStore, dataDir string, current *EmbedderInfoInput) (*IndexInfo, error) {
	project, err := findAnyProject(ctx, metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to read project: %w", err)
	}

	indexModel, _ := metadata.GetState(ctx, StateKeyIndexModel)
	dimStr, _ := metadata.GetState(ctx, StateKeyIndexDimension)
	indexDimensions := 0
	if dimStr != "" {
		fmt.Sscanf(dimStr, "%d", &indexDimensions)
	}
	indexBackend := inferBackendFromModel(indexModel)

	info := &IndexInfo{
		Location:        dataDir,
		IndexModel:      indexModel,
		IndexBackend:    indexBackend,
		IndexDimensions: indexDimensions,
		BM25SizeBytes:   fileSize(filepath.Join(dataDir, "bm25.db")),
		VectorSizeBytes: fileSize(filepath.Join(dataDir, "vectors.hnsw")),
	}

	if project != nil {
		info.ProjectRoot = project.RootPath
		info.ChunkCount = project.ChunkCount
		info.DocumentCount = project.FileCount
		info.CreatedAt = project.IndexedAt
		info.UpdatedAt = project.IndexedAt
	}
	info.IndexSizeBytes = info.BM25SizeBytes + info.VectorSizeBytes + fileSize(filepath.Join(dataDir, "metadata.db"))

	if current != nil {
		info.CurrentModel = current.Model
		info.CurrentBackend = current.Backend
		info.CurrentDimensions = current.Dimensions
		info.Compatible = indexDimensions == 0 || indexDimensions == current.Dimensions
	}

	return info, nil
}

// findAnyProject returns the first project row in the metadata store, since
// today's schema assumes one project per store and nothing exposes a list.
func findAnyProject(ctx context.Context, metadata MetadataStore) (*Project, error) {
	sqliteStore, ok := metadata.(*SQLiteStore)
	if !ok {
		return nil, nil
	}
	row := sqliteStore.db.QueryRowContext(ctx, `SELECT id FROM projects LIMIT 1`)
	var id string
	if err := row.Scan(&id); err != nil {
		return nil, nil
	}
	return metadata.GetProject(ctx, id)
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// getDirSize sums the size of every regular file under root, recursively.
func getDirSize(root string) int64 {
	var total int64
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}

// FormatBytes renders a byte count the way a human reads it, matching the
// "info" command's table columns.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// FormatTime renders a timestamp for display, with a placeholder for the
// zero value rather than printing "0001-01-01".
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.Format("2006-01-02 15:04:05")
}

// containsAny reports whether s contains any of substrings.
func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// inferBackendFromModel guesses which embedder backend produced a model
// name, for indexes saved before the backend was itself persisted.
func inferBackendFromModel(model string) string {
	switch {
	case model == "static" || model == "static768":
		return "static"
	case strings.HasPrefix(model, "/"), containsAny(model, []string{"mlx-community/", "mlx-"}):
		return "mlx"
	default:
		return "ollama"
	}
}
