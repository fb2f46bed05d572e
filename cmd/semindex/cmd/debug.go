package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/semindex/semindex/internal/config"
	"github.com/semindex/semindex/internal/store"
)

// DebugInfo is the full diagnostic snapshot produced by the debug command.
type DebugInfo struct {
	ProjectRoot string `json:"project_root"`
	IndexPath   string `json:"index_path"`

	FileCount  int       `json:"file_count"`
	ChunkCount int       `json:"chunk_count"`
	LastIndexed time.Time `json:"last_indexed"`

	EmbedderProvider string `json:"embedder_provider"`
	EmbedderModel    string `json:"embedder_model"`
	EmbedderDims     int    `json:"embedder_dimensions,omitempty"`

	BM25Backend   string `json:"bm25_backend"`
	BM25Documents int    `json:"bm25_documents"`
	BM25Size      int64  `json:"bm25_size_bytes"`

	VectorCount int   `json:"vector_count"`
	VectorSize  int64 `json:"vector_size_bytes"`

	MetadataSize int64 `json:"metadata_size_bytes"`

	Languages map[string]float64 `json:"languages"`
}

func newDebugCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Print diagnostic information about the current index",
		Long: `Dump a detailed snapshot of the project's index for troubleshooting:
file and chunk counts, embedder configuration, BM25 and vector store
statistics, storage footprint, and language breakdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDebug(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runDebug(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	dataDir := filepath.Join(root, ".semantica")

	if !fileExists(filepath.Join(dataDir, "metadata.db")) {
		return fmt.Errorf("no index found in %s\nRun 'semindex index' to create one", root)
	}

	info, err := collectDebugInfo(ctx, root, dataDir)
	if err != nil {
		return fmt.Errorf("failed to collect debug info: %w", err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	renderDebugInfo(out, info)
	return nil
}

func collectDebugInfo(ctx context.Context, root, dataDir string) (DebugInfo, error) {
	info := DebugInfo{
		ProjectRoot: root,
		IndexPath:   dataDir,
		Languages:   map[string]float64{},
	}

	metadataPath := filepath.Join(dataDir, "metadata.db")
	metadata, err := store.NewSQLiteStore(metadataPath)
	if err != nil {
		return info, fmt.Errorf("failed to open metadata store: %w", err)
	}
	defer func() { _ = metadata.Close() }()

	projectID := hashString(root)
	project, err := metadata.GetProject(ctx, projectID)
	if err == nil && project != nil {
		info.FileCount = project.FileCount
		info.ChunkCount = project.ChunkCount
		info.LastIndexed = project.IndexedAt
	}

	info.MetadataSize = getFileSize(metadataPath)

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}
	info.EmbedderProvider = cfg.Embeddings.Provider
	if info.EmbedderProvider == "" {
		info.EmbedderProvider = "ollama"
	}
	info.EmbedderModel = cfg.Embeddings.Model
	if info.EmbedderModel == "" {
		info.EmbedderModel = "embeddinggemma"
	}

	info.BM25Backend = cfg.Search.BM25Backend
	if info.BM25Backend == "" {
		info.BM25Backend = "sqlite"
	}
	bm25BasePath := filepath.Join(dataDir, "bm25")
	if bm25, err := store.NewBM25IndexWithBackend(bm25BasePath, store.DefaultBM25Config(), cfg.Search.BM25Backend); err == nil {
		if stats := bm25.Stats(); stats != nil {
			info.BM25Documents = stats.DocumentCount
		}
		_ = bm25.Close()
	}
	bm25SQLitePath := filepath.Join(dataDir, "bm25.db")
	if size := getFileSize(bm25SQLitePath); size > 0 {
		info.BM25Size = size
	} else {
		info.BM25Size = getDirSize(filepath.Join(dataDir, "bm25.bleve"))
	}

	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	info.VectorSize = getFileSize(vectorPath)
	if dims, derr := store.ReadHNSWStoreDimensions(vectorPath); derr == nil {
		info.EmbedderDims = dims
		if vector, verr := store.NewHNSWStore(store.DefaultVectorStoreConfig(dims)); verr == nil {
			if loadErr := vector.Load(vectorPath); loadErr == nil {
				info.VectorCount = vector.Count()
			}
			_ = vector.Close()
		}
	}

	langCounts := make(map[string]int)
	cursor := ""
	for {
		files, next, lerr := metadata.ListFiles(ctx, projectID, cursor, 500)
		if lerr != nil {
			break
		}
		for _, f := range files {
			ext := normalizeExtension(strings.TrimPrefix(filepath.Ext(f.Path), "."))
			lang := f.Language
			if lang == "" {
				lang = ext
			}
			if lang == "" {
				continue
			}
			langCounts[lang]++
		}
		if next == "" || len(files) == 0 {
			break
		}
		cursor = next
	}
	total := 0
	for _, c := range langCounts {
		total += c
	}
	if total > 0 {
		for lang, c := range langCounts {
			info.Languages[lang] = float64(c) / float64(total)
		}
	}

	return info, nil
}

func renderDebugInfo(out io.Writer, info DebugInfo) {
	w := func(format string, args ...any) { fmt.Fprintf(out, format, args...) }

	w("SemIndex Debug Info\n")
	w("====================\n\n")
	w("Project root:  %s\n", info.ProjectRoot)
	w("Index path:    %s\n\n", info.IndexPath)

	w("FILES & CHUNKS\n")
	w("  Files:       %s\n", formatNumber(info.FileCount))
	w("  Chunks:      %s\n", formatNumber(info.ChunkCount))
	w("  Last indexed: %s\n\n", formatAge(info.LastIndexed))

	w("EMBEDDER\n")
	w("  Provider:    %s\n", info.EmbedderProvider)
	w("  Model:       %s\n", info.EmbedderModel)
	if info.EmbedderDims > 0 {
		w("  Dimensions:  %d\n", info.EmbedderDims)
	}
	w("\n")

	w("BM25 INDEX\n")
	w("  Backend:     %s\n", info.BM25Backend)
	w("  Documents:   %s\n", formatNumber(info.BM25Documents))
	w("  Size:        %d bytes\n\n", info.BM25Size)

	w("VECTOR STORE\n")
	w("  Vectors:     %s\n", formatNumber(info.VectorCount))
	w("  Size:        %d bytes\n\n", info.VectorSize)

	w("STORAGE\n")
	w("  Metadata:    %d bytes\n", info.MetadataSize)
	w("  BM25:        %d bytes\n", info.BM25Size)
	w("  Vectors:     %d bytes\n\n", info.VectorSize)

	w("Languages: %s\n", formatLanguages(info.Languages))
}

// formatAge renders a timestamp as a human-friendly relative age.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < 2*time.Minute:
		return "1 minute ago"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 2*time.Hour:
		return "1 hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "1 day ago"
	default:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	}
}

// formatNumber renders an integer with thousands separators.
func formatNumber(n int) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	result := strings.Join(parts, ",")
	if neg {
		result = "-" + result
	}
	return result
}

// formatLanguages renders a language->fraction map sorted by share, descending.
func formatLanguages(langs map[string]float64) string {
	if len(langs) == 0 {
		return "none"
	}
	type entry struct {
		lang string
		pct  float64
	}
	entries := make([]entry, 0, len(langs))
	for lang, pct := range langs {
		entries = append(entries, entry{lang, pct})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].pct != entries[j].pct {
			return entries[i].pct > entries[j].pct
		}
		return entries[i].lang < entries[j].lang
	})
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = fmt.Sprintf("%s (%.0f%%)", e.lang, e.pct*100)
	}
	return strings.Join(parts, ", ")
}

// normalizeExtension collapses related file extensions to one canonical language tag.
func normalizeExtension(ext string) string {
	switch strings.ToLower(ext) {
	case "tsx":
		return "ts"
	case "jsx", "mjs":
		return "js"
	case "yml":
		return "yaml"
	case "htm":
		return "html"
	default:
		return strings.ToLower(ext)
	}
}
