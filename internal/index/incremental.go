package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/semindex/semindex/internal/async"
	"github.com/semindex/semindex/internal/chunk"
	"github.com/semindex/semindex/internal/ledger"
	"github.com/semindex/semindex/internal/lock"
	"github.com/semindex/semindex/internal/scanner"
	"github.com/semindex/semindex/internal/store"
	"github.com/semindex/semindex/internal/ui"
)

// IncrementalConfig configures a ReindexChangedFiles run.
type IncrementalConfig struct {
	// RootDir is the project root directory.
	RootDir string

	// DataDir is the .semantica data directory (defaults to RootDir/.semantica).
	DataDir string

	// SpecificFiles, when non-empty, are treated as modified directly
	// instead of diffing the change ledger against a fresh scan.
	// Paths are relative to RootDir.
	SpecificFiles []string

	// Force kills the process currently holding the reindex lock instead
	// of failing with a busy error.
	Force bool

	// Concurrency bounds in-flight embedding batches (see RunnerConfig.Concurrency).
	Concurrency int

	// Jobs, if set, receives phase/progress updates for JobID as the run
	// proceeds. Both are optional; a nil Jobs disables reporting.
	Jobs  *async.Registry
	JobID string
}

// IncrementalResult reports what a ReindexChangedFiles run did.
type IncrementalResult struct {
	Added    []string
	Modified []string
	Deleted  []string

	Chunks        int
	EmbeddedCount int
	Duration      time.Duration

	// Success reports whether the embedding success rate met the
	// minimum threshold. A run touching only deletions is always
	// successful.
	Success bool

	// BatchErrors lists per-batch embedding failures as "batch-<startIndex>": message.
	BatchErrors map[string]string
}

// ReindexChangedFiles re-processes only the files that changed since the
// last committed change ledger (or, when cfg.SpecificFiles is set, exactly
// those files). It acquires the project's exclusion lock for the duration
// of the run so it never races a concurrent full index or another
// reindex, deletes chunks belonging to removed or modified files, embeds
// and inserts chunks for added or modified files using the same bounded
// fan-out policy as Run, and commits the change ledger only after every
// other step has succeeded. If the process dies mid-run the ledger is
// never committed, so the next run recomputes the same diff against the
// pre-run snapshot and simply reprocesses the same files.
func (r *Runner) ReindexChangedFiles(ctx context.Context, cfg IncrementalConfig) (*IncrementalResult, error) {
	start := time.Now()

	root := cfg.RootDir
	if root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = filepath.Join(root, ".semantica")
	}
	projectID := hashString(root)
	now := time.Now()

	l := lock.New(dataDir, root)
	if err := l.TryAcquire("reindex"); err != nil {
		if !cfg.Force {
			return nil, err
		}
		slog.Warn("forcing reindex past existing lock", slog.String("path", root))
		if killErr := lock.KillHolder(dataDir); killErr != nil {
			return nil, fmt.Errorf("failed to force past existing lock: %w", killErr)
		}
		if err := l.TryAcquire("reindex"); err != nil {
			return nil, fmt.Errorf("failed to acquire lock after forcing: %w", err)
		}
	}
	defer func() {
		if err := l.Release(); err != nil {
			slog.Warn("failed to release reindex lock", slog.String("error", err.Error()))
		}
	}()

	currentHashes, err := r.hashCurrentFiles(ctx, root)
	if err != nil {
		return nil, err
	}

	led := ledger.New(dataDir)
	var diff ledger.Diff
	if len(cfg.SpecificFiles) > 0 {
		diff.Modified = cfg.SpecificFiles
	} else {
		diff, err = led.Diff(currentHashes)
		if err != nil {
			return nil, fmt.Errorf("failed to diff change ledger: %w", err)
		}
	}

	slog.Info("reindex_diff",
		slog.Int("added", len(diff.Added)),
		slog.Int("modified", len(diff.Modified)),
		slog.Int("deleted", len(diff.Deleted)))
	reportJobProgress(RunnerConfig{Jobs: cfg.Jobs, JobID: cfg.JobID}, "diffing", 0, 0)

	for _, relPath := range diff.Deleted {
		if err := r.deleteFileChunks(ctx, relPath, true); err != nil {
			slog.Warn("failed to delete removed file from index",
				slog.String("path", relPath), slog.String("error", err.Error()))
		}
	}
	for _, relPath := range diff.Modified {
		if err := r.deleteFileChunks(ctx, relPath, false); err != nil {
			slog.Warn("failed to delete stale chunks before reindex",
				slog.String("path", relPath), slog.String("error", err.Error()))
		}
	}

	result := &IncrementalResult{
		Added:    diff.Added,
		Modified: diff.Modified,
		Deleted:  diff.Deleted,
		Success:  true,
	}

	toProcess := make([]string, 0, len(diff.Added)+len(diff.Modified))
	toProcess = append(toProcess, diff.Added...)
	toProcess = append(toProcess, diff.Modified...)

	if len(toProcess) == 0 {
		if err := led.Commit(currentHashes); err != nil {
			return nil, fmt.Errorf("failed to commit change ledger: %w", err)
		}
		result.Duration = time.Since(start)
		return result, nil
	}

	allChunks, storeFiles, warnCount := r.chunkSpecificFiles(ctx, root, projectID, toProcess, now)
	if warnCount > 0 {
		slog.Warn("reindex_chunking_warnings", slog.Int("count", warnCount))
	}

	if len(allChunks) == 0 {
		if err := led.Commit(currentHashes); err != nil {
			return nil, fmt.Errorf("failed to commit change ledger: %w", err)
		}
		result.Duration = time.Since(start)
		return result, nil
	}

	if err := r.metadata.SaveFiles(ctx, storeFiles); err != nil {
		return nil, fmt.Errorf("failed to save files: %w", err)
	}

	storeChunks := make([]*store.Chunk, len(allChunks))
	for i, c := range allChunks {
		storeChunks[i] = convertChunkToStore(c, storeFiles, now)
	}
	if err := r.metadata.SaveChunks(ctx, storeChunks); err != nil {
		return nil, fmt.Errorf("failed to save chunks: %w", err)
	}

	currentModel := r.embedder.ModelName()
	embeddedCount, batchErrs, err := r.generateEmbeddings(ctx, allChunks, RunnerConfig{Concurrency: cfg.Concurrency, Jobs: cfg.Jobs, JobID: cfg.JobID}, currentModel)
	if err != nil {
		return nil, err
	}

	successRate := 0.0
	if len(allChunks) > 0 {
		successRate = float64(embeddedCount) / float64(len(allChunks))
	}
	result.Success = successRate >= minEmbeddingSuccessRate
	result.EmbeddedCount = embeddedCount
	result.Chunks = len(allChunks)
	if len(batchErrs) > 0 {
		result.BatchErrors = make(map[string]string, len(batchErrs))
		for _, be := range batchErrs {
			result.BatchErrors[be.Key] = be.Err.Error()
		}
	}

	if err := r.insertEmbeddedChunks(ctx, allChunks, dataDir); err != nil {
		return nil, err
	}

	if err := r.metadata.UpdateProjectStats(ctx, projectID, len(storeFiles), len(allChunks)); err != nil {
		slog.Warn("failed to update project stats after reindex", slog.String("error", err.Error()))
	}

	if err := led.Commit(currentHashes); err != nil {
		return nil, fmt.Errorf("failed to commit change ledger: %w", err)
	}

	result.Duration = time.Since(start)
	slog.Info("reindex_complete",
		slog.Int("added", len(diff.Added)),
		slog.Int("modified", len(diff.Modified)),
		slog.Int("deleted", len(diff.Deleted)),
		slog.Int("chunks", len(allChunks)),
		slog.String("duration", result.Duration.String()))

	return result, nil
}

// hashCurrentFiles scans root the same way a full Run does and returns a
// relative-path -> content-hash map suitable for ledger.Diff and
// ledger.Commit.
func (r *Runner) hashCurrentFiles(ctx context.Context, root string) (map[string]string, error) {
	files, err := r.scanFiles(ctx, root)
	if err != nil {
		return nil, err
	}
	hashes := make(map[string]string, len(files))
	for _, f := range files {
		h, err := ledger.HashFile(f.AbsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to hash %s: %w", f.Path, err)
		}
		hashes[f.Path] = h
	}
	return hashes, nil
}

// deleteFileChunks removes relPath's chunks from the vector and BM25
// indices and from metadata. deleteFileRecord additionally removes the
// file row itself, for a path that no longer exists; a path that was
// merely modified keeps its file row, which chunkSpecificFiles
// overwrites with fresh content right after.
func (r *Runner) deleteFileChunks(ctx context.Context, relPath string, deleteFileRecord bool) error {
	fileID := hashString(relPath)

	chunks, err := r.metadata.GetChunksByFile(ctx, fileID)
	if err != nil || len(chunks) == 0 {
		if deleteFileRecord {
			_ = r.metadata.DeleteFile(ctx, fileID)
		}
		return nil
	}

	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ID
	}

	if err := r.vector.Delete(ctx, chunkIDs); err != nil {
		return fmt.Errorf("failed to delete vectors for %s: %w", relPath, err)
	}
	if err := r.bm25.Delete(ctx, chunkIDs); err != nil {
		return fmt.Errorf("failed to delete bm25 docs for %s: %w", relPath, err)
	}
	if err := r.metadata.DeleteChunksByFile(ctx, fileID); err != nil {
		return fmt.Errorf("failed to delete chunk records for %s: %w", relPath, err)
	}
	if deleteFileRecord {
		if err := r.metadata.DeleteFile(ctx, fileID); err != nil {
			return fmt.Errorf("failed to delete file record for %s: %w", relPath, err)
		}
	}
	return nil
}

// chunkSpecificFiles parses and chunks an explicit list of relative paths,
// rather than a fresh directory scan. It mirrors chunkFiles but classifies
// each path individually via scanner.DetectLanguage/DetectContentType,
// since there's no scanner.FileInfo for files reached through an explicit
// change list.
func (r *Runner) chunkSpecificFiles(ctx context.Context, root, projectID string, relPaths []string, now time.Time) ([]*chunk.Chunk, []*store.File, int) {
	var allChunks []*chunk.Chunk
	var storeFiles []*store.File
	var warnCount int

	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageChunking, Total: len(relPaths)})

	for i, relPath := range relPaths {
		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:       ui.StageChunking,
			Current:     i + 1,
			Total:       len(relPaths),
			CurrentFile: relPath,
		})

		absPath := filepath.Join(root, relPath)
		content, err := os.ReadFile(absPath)
		if err != nil {
			r.renderer.AddError(ui.ErrorEvent{File: relPath, Err: fmt.Errorf("failed to read: %w", err), IsWarn: true})
			warnCount++
			continue
		}
		if isBinaryContent(content) {
			continue
		}

		language := scanner.DetectLanguage(relPath)
		contentType := scanner.DetectContentType(language)
		if contentType != scanner.ContentTypeCode && contentType != scanner.ContentTypeMarkdown {
			continue
		}

		info, err := os.Stat(absPath)
		if err != nil {
			r.renderer.AddError(ui.ErrorEvent{File: relPath, Err: fmt.Errorf("failed to stat: %w", err), IsWarn: true})
			warnCount++
			continue
		}

		storeFile := &store.File{
			ID:          hashString(relPath),
			ProjectID:   projectID,
			Path:        relPath,
			Size:        info.Size(),
			ModTime:     info.ModTime(),
			ContentHash: hashString(string(content)),
			Language:    language,
			ContentType: string(contentType),
			IndexedAt:   now,
		}

		input := &chunk.FileInput{Path: relPath, Content: content, Language: language}
		var chunks []*chunk.Chunk
		switch contentType {
		case scanner.ContentTypeCode:
			chunks, err = r.codeChunker.Chunk(ctx, input)
		case scanner.ContentTypeMarkdown:
			chunks, err = r.markdownChunker.Chunk(ctx, input)
		}
		if err != nil {
			r.renderer.AddError(ui.ErrorEvent{File: relPath, Err: fmt.Errorf("failed to chunk: %w", err), IsWarn: true})
			warnCount++
			continue
		}
		if len(chunks) == 0 {
			continue
		}

		storeFiles = append(storeFiles, storeFile)
		allChunks = append(allChunks, chunks...)
	}

	slog.Info("reindex_chunking_complete", slog.Int("chunks", len(allChunks)), slog.Int("files", len(storeFiles)))
	return allChunks, storeFiles, warnCount
}

// insertEmbeddedChunks indexes chunks into BM25 and adds their embeddings
// to the vector store, then persists both indices to disk. Unlike
// buildIndices, this never rebuilds missing embeddings: ReindexChangedFiles
// only ever calls this with chunks that just went through generateEmbeddings.
func (r *Runner) insertEmbeddedChunks(ctx context.Context, chunks []*chunk.Chunk, dataDir string) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]*store.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = &store.Document{ID: c.ID, Content: c.Content}
	}
	if err := r.bm25.Index(ctx, docs); err != nil {
		return fmt.Errorf("failed to index in BM25: %w", err)
	}

	allEmbeddings, err := r.metadata.GetAllEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load embeddings: %w", err)
	}

	ids := make([]string, 0, len(chunks))
	vectors := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		if emb, ok := allEmbeddings[c.ID]; ok {
			ids = append(ids, c.ID)
			vectors = append(vectors, emb)
		}
	}
	if len(ids) > 0 {
		if err := r.vector.Add(ctx, ids, vectors); err != nil {
			return fmt.Errorf("failed to add to vector store: %w", err)
		}
	}

	bm25Path := filepath.Join(dataDir, "bm25")
	if err := r.bm25.Save(bm25Path); err != nil {
		return fmt.Errorf("failed to save BM25 index: %w", err)
	}
	vectorPath := filepath.Join(dataDir, "vectors.hnsw")
	if err := r.vector.Save(vectorPath); err != nil {
		return fmt.Errorf("failed to save vector store: %w", err)
	}

	return nil
}
