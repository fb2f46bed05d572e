package mcp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/semindex/semindex/internal/async"
	"github.com/semindex/semindex/internal/config"
	"github.com/semindex/semindex/internal/embed"
	"github.com/semindex/semindex/internal/index"
	"github.com/semindex/semindex/internal/ledger"
	"github.com/semindex/semindex/internal/search"
	"github.com/semindex/semindex/internal/store"
	"github.com/semindex/semindex/internal/telemetry"
	"github.com/semindex/semindex/pkg/version"
)

// IndexFunc runs a full index build to completion. Implementations report
// progress through the Registry passed to NewServer/SetIndexer under jobID.
type IndexFunc func(ctx context.Context, jobID string) (*index.RunnerResult, error)

// ReindexFunc runs an incremental reindex restricted to files (nil/empty
// diffs the change ledger instead). Implementations report progress through
// the Registry passed to NewServer/SetIndexer under jobID.
type ReindexFunc func(ctx context.Context, jobID string, files []string, force bool) (*index.IncrementalResult, error)

// Server is the MCP server for SemIndex.
// It bridges AI clients (Claude Code, Cursor) with the hybrid search engine.
type Server struct {
	mcp      *mcp.Server
	engine   search.SearchEngine
	metadata store.MetadataStore
	embedder embed.Embedder // Embedder for capability signaling
	config   *config.Config
	logger   *slog.Logger

	// Project identification for resource operations
	projectID string
	rootPath  string
	dataDir   string

	// bm25/vector back the index-management tools (clear_index, reset_state).
	// Both are nil unless SetStores is called, in which case those tools
	// report themselves unavailable.
	bm25   store.BM25Index
	vector store.VectorStore

	// jobs tracks background indexing/reindexing work started through
	// index_codebase/reindex_changed_files/onboard_project, surfaced via
	// index_status.
	jobs *async.Registry

	// indexFunc/reindexFunc wire the actual pipelines into index_codebase,
	// reindex_changed_files, and onboard_project. Both are nil unless the
	// caller wires them with SetIndexer/SetReindexer, in which case those
	// tools report themselves unavailable.
	indexFunc   IndexFunc
	reindexFunc ReindexFunc

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query    string   `json:"query" jsonschema:"the search query to execute"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Filter   string   `json:"filter,omitempty" jsonschema:"filter by content type: all, code, docs"`
	Language string   `json:"language,omitempty" jsonschema:"filter by programming language, e.g. go, typescript"`
	Scope    []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"list of search results"`
}

// SearchResultOutput defines a single search result with context-rich metadata.
// UX-1: Enhanced response format explaining WHY results matched.
type SearchResultOutput struct {
	FilePath     string   `json:"file_path" jsonschema:"file path relative to project root"`
	Content      string   `json:"content" jsonschema:"matched content snippet"`
	Score        float64  `json:"score" jsonschema:"relevance score between 0 and 1"`
	Language     string   `json:"language,omitempty" jsonschema:"programming language of the file"`
	MatchReason  string   `json:"match_reason,omitempty" jsonschema:"human-readable explanation of why this result matched"`
	Symbol       string   `json:"symbol,omitempty" jsonschema:"primary symbol name (function, class, type)"`
	SymbolType   string   `json:"symbol_type,omitempty" jsonschema:"type of symbol: function, class, interface, type, method"`
	Signature    string   `json:"signature,omitempty" jsonschema:"full function/method signature"`
	MatchedTerms []string `json:"matched_terms,omitempty" jsonschema:"query terms that matched this result"`
	InBothLists  bool     `json:"in_both_lists,omitempty" jsonschema:"true if result appeared in both keyword and semantic search"`
}

// NewServer creates a new MCP server.
// The embedder parameter is used for capability signaling - AI clients can query
// the actual embedder state to adjust their search strategies.
// rootPath is used for project detection (go.mod, package.json, etc.).
func NewServer(engine search.SearchEngine, metadata store.MetadataStore, embedder embed.Embedder, cfg *config.Config, rootPath string) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:    engine,
		metadata:  metadata,
		embedder:  embedder, // May be nil - will report as unavailable
		config:    cfg,
		rootPath:  rootPath,
		projectID: hashProjectRoot(rootPath),
		dataDir:   filepath.Join(rootPath, ".semantica"),
		jobs:      async.NewRegistry(),
		logger:    slog.Default(),
	}

	// Create MCP server with implementation info
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "SemIndex",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	// Register tools
	s.registerTools()

	return s, nil
}

// Jobs returns the server's job registry so a caller wiring IndexFunc/
// ReindexFunc can forward phase/progress updates into the same registry
// index_status and search read from.
func (s *Server) Jobs() *async.Registry {
	return s.jobs
}

// SetStores wires the raw BM25 and vector stores into the server, enabling
// clear_index and reset_state. Without this call those tools report
// themselves unavailable.
func (s *Server) SetStores(bm25 store.BM25Index, vector store.VectorStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bm25 = bm25
	s.vector = vector
}

// SetIndexer wires a full-index pipeline into index_codebase and
// onboard_project. Without this call those tools report themselves
// unavailable.
func (s *Server) SetIndexer(fn IndexFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexFunc = fn
}

// SetReindexer wires an incremental reindex pipeline into
// reindex_changed_files. Without this call that tool reports itself
// unavailable.
func (s *Server) SetReindexer(fn ReindexFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reindexFunc = fn
}

// hashProjectRoot derives the project ID the same way internal/index's
// Runner does (sha256 of the absolute root path, first 16 hex chars), so
// index-management tools address the same project row the indexing
// pipeline wrote.
func hashProjectRoot(root string) string {
	h := sha256.Sum256([]byte(root))
	return hex.EncodeToString(h[:])[:16]
}

// SetMetrics sets the query metrics collector for telemetry.
// When set, a query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	// Register query_metrics resource if metrics is provided
	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "SemIndex", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	// Both are enabled for F16
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	// Return the tools we register
	// QW-3: Enhanced descriptions to explain WHY semindex > grep
	return []ToolInfo{
		{
			Name:        "search",
			Description: "Primary search tool. Instantly finds code and documentation using a full-codebase index. Use this for 95% of your search tasks - faster and smarter than grep. Understands code semantics, not just keywords.",
		},
		{
			Name:        "search_code",
			Description: "Code-specialized search. Finds functions, classes, and implementations by meaning, not just text matching. Use when you need to understand HOW something is implemented. Supports language and symbol type filtering.",
		},
		{
			Name:        "search_docs",
			Description: "Documentation search with context. Finds architecture decisions, design rationale, and guides. Preserves section hierarchy so you understand WHERE in the doc structure a match appears.",
		},
		{
			Name:        "index_status",
			Description: "Check if the codebase index is ready and which embedder is active. Use before searching to verify the index is complete.",
		},
		{
			Name:        "index_codebase",
			Description: "Builds a full index from scratch. Runs pre-flight checks then the indexing pipeline; with background=true (the default) returns a jobId immediately and tracks progress via index_status.",
		},
		{
			Name:        "reindex_changed_files",
			Description: "Re-processes only the files that changed since the last index, diffing the committed change ledger (or an explicit file list). Much faster than index_codebase for small edits.",
		},
		{
			Name:        "clear_index",
			Description: "Deletes the entire index (BM25, vectors, and metadata) for this project. Requires confirm=true. Irreversible.",
		},
		{
			Name:        "enable_git_hooks",
			Description: "Installs git post-commit/post-merge hooks that trigger a reindex after commits and merges.",
		},
		{
			Name:        "onboard_project",
			Description: "One-shot setup for a new project: runs a background full index and optionally installs git hooks.",
		},
		{
			Name:        "reset_state",
			Description: "Clears the index and all pipeline bookkeeping (checkpoints, change ledger), returning the project to an unindexed state.",
		},
	}
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch name {
	case "search":
		return s.handleSearchTool(ctx, args)
	case "search_code":
		return s.handleSearchCodeTool(ctx, args)
	case "search_docs":
		return s.handleSearchDocsTool(ctx, args)
	case "index_status":
		return s.handleIndexStatusTool(ctx, args)
	case "index_codebase":
		return s.handleIndexCodebaseTool(ctx, args)
	case "reindex_changed_files":
		return s.handleReindexChangedFilesTool(ctx, args)
	case "clear_index":
		return s.handleClearIndexTool(ctx, args)
	case "enable_git_hooks":
		return s.handleEnableGitHooksTool(ctx, args)
	case "onboard_project":
		return s.handleOnboardProjectTool(ctx, args)
	case "reset_state":
		return s.handleResetStateTool(ctx, args)
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleSearchTool handles the search tool invocation.
// Returns markdown-formatted results.
func (s *Server) handleSearchTool(ctx context.Context, args map[string]any) (string, error) {
	// Check if indexing is in progress
	s.mu.RLock()
	job := s.jobs.GetCurrentIndexingJob()
	s.mu.RUnlock()

	if job != nil {
		pct := 0.0
		if job.Total > 0 {
			pct = 100 * float64(job.Current) / float64(job.Total)
		}
		return fmt.Sprintf("## Indexing in Progress\n\n"+
			"**Progress:** %.1f%% (%d/%d)\n"+
			"**Stage:** %s\n\n"+
			"Search results may be incomplete or unavailable. Please try again in a moment.",
			pct, job.Current, job.Total, job.Phase), nil
	}

	start := time.Now()
	requestID := generateRequestID()

	// Extract and validate query
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	// Validate query is not just whitespace (DEBT-019)
	if strings.TrimSpace(query) == "" {
		return "", NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	// Extract optional parameters with limit clamping
	limit := clampLimit(0, 10, 1, 50) // default 10
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	opts := search.SearchOptions{
		Limit: limit,
	}

	if filter, ok := args["filter"].(string); ok {
		opts.Filter = filter
	}
	if lang, ok := args["language"].(string); ok {
		opts.Language = lang
	}
	if scope, ok := args["scope"].([]interface{}); ok {
		for _, s := range scope {
			if str, ok := s.(string); ok {
				opts.Scopes = append(opts.Scopes, str)
			}
		}
	}

	// Execute search
	results, err := s.engine.Search(ctx, query, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	// Format as markdown
	return FormatSearchResults(query, results), nil
}

// handleSearchCodeTool handles the search_code tool invocation.
// Returns markdown-formatted code results with language and symbol filtering.
func (s *Server) handleSearchCodeTool(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()
	requestID := generateRequestID()

	// Extract and validate query
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	// Extract optional parameters with limit clamping
	limit := clampLimit(0, 10, 1, 50) // default 10
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	s.logger.Info("search_code started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	opts := search.SearchOptions{
		Limit:  limit,
		Filter: "code", // Always filter to code
	}

	// Language filter
	var langFilter string
	if lang, ok := args["language"].(string); ok {
		opts.Language = lang
		langFilter = lang
	}

	// Symbol type filter
	if symbolType, ok := args["symbol_type"].(string); ok {
		if symbolType != "any" {
			opts.SymbolType = symbolType
		}
	}

	// Scope filter
	if scope, ok := args["scope"].([]interface{}); ok {
		for _, s := range scope {
			if str, ok := s.(string); ok {
				opts.Scopes = append(opts.Scopes, str)
			}
		}
	}

	// Minimum score filter
	if minScore, ok := args["minScore"].(float64); ok {
		opts.MinScore = minScore
	}

	// Path pattern filter
	if pathPattern, ok := args["pathPattern"].(string); ok {
		opts.PathPattern = pathPattern
	}

	// Execute search
	results, err := s.engine.Search(ctx, query, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search_code failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search_code completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	// Format as markdown
	return FormatCodeResults(query, results, langFilter), nil
}

// handleSearchDocsTool handles the search_docs tool invocation.
// Returns markdown-formatted documentation results.
func (s *Server) handleSearchDocsTool(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()
	requestID := generateRequestID()

	// Extract and validate query
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	// Extract optional parameters with limit clamping
	limit := clampLimit(0, 10, 1, 50) // default 10
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	s.logger.Info("search_docs started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	opts := search.SearchOptions{
		Limit:  limit,
		Filter: "docs", // Always filter to docs
	}

	// Scope filter
	if scope, ok := args["scope"].([]interface{}); ok {
		for _, s := range scope {
			if str, ok := s.(string); ok {
				opts.Scopes = append(opts.Scopes, str)
			}
		}
	}

	// Execute search
	results, err := s.engine.Search(ctx, query, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search_docs failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search_docs completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	// Format as markdown
	return FormatDocsResults(query, results), nil
}

// handleIndexStatusTool handles the index_status tool invocation.
// Returns JSON-formatted index statistics including embedder capability info.
// AI clients can use this to adjust their search strategies based on
// whether Hugot (high quality semantic) or static (lower quality) embeddings are active.
func (s *Server) handleIndexStatusTool(ctx context.Context, _ map[string]any) (*IndexStatusOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("index_status started",
		slog.String("request_id", requestID))

	stats := s.engine.Stats()

	// Determine embedder capability state
	var actualProvider, actualModel, semanticQuality, status string
	var dimensions int
	var isFallbackActive bool

	if s.embedder != nil {
		actualModel = s.embedder.ModelName()
		dimensions = s.embedder.Dimensions()

		// Determine if using static fallback based on model name or dimensions
		isFallbackActive = actualModel == "static" || dimensions == embed.StaticDimensions

		if isFallbackActive {
			actualProvider = "static"
			semanticQuality = "low"
		} else {
			actualProvider = "hugot"
			semanticQuality = "high"
		}

		// Check runtime availability
		if s.embedder.Available(ctx) {
			status = "ready"
		} else {
			status = "unavailable"
		}
	} else {
		// No embedder configured
		actualProvider = "none"
		actualModel = "none"
		dimensions = 0
		isFallbackActive = true
		semanticQuality = "none"
		status = "unavailable"
	}

	// Detect project info
	detector := NewProjectDetector(s.rootPath, s.logger)
	projectInfo := detector.Detect()

	// Build output
	output := &IndexStatusOutput{
		Project: *projectInfo,
		Stats: IndexStats{
			FileCount:      0,
			ChunkCount:     0,
			IndexSizeBytes: 0,
			LastIndexed:    time.Now().Format(time.RFC3339),
		},
		Embeddings: EmbeddingInfo{
			// Config values
			Provider: s.config.Embeddings.Provider,
			Model:    s.config.Embeddings.Model,
			Status:   status,
			// Runtime state - AI clients use this to adjust search strategy
			ActualProvider:   actualProvider,
			ActualModel:      actualModel,
			Dimensions:       dimensions,
			IsFallbackActive: isFallbackActive,
			SemanticQuality:  semanticQuality,
		},
	}

	// Fill in stats if available
	if stats != nil {
		if stats.BM25Stats != nil {
			output.Stats.FileCount = stats.BM25Stats.DocumentCount
		}
		output.Stats.ChunkCount = stats.VectorCount
	}

	// Add indexing progress if available
	s.mu.RLock()
	job := s.jobs.GetCurrentIndexingJob()
	s.mu.RUnlock()

	if job != nil {
		pct := 0.0
		if job.Total > 0 {
			pct = 100 * float64(job.Current) / float64(job.Total)
		}
		output.Indexing = &IndexingProgress{
			Status:         string(job.Status),
			Stage:          job.Phase,
			FilesTotal:     job.Total,
			FilesProcessed: job.Current,
			ChunksIndexed:  job.Current,
			ProgressPct:    pct,
			ElapsedSeconds: int(time.Since(job.StartedAt).Seconds()),
		}
	}

	duration := time.Since(start)
	s.logger.Info("index_status completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.String("project_name", projectInfo.Name),
		slog.String("project_type", projectInfo.Type))

	return output, nil
}

// handleIndexCodebaseTool handles the index_codebase tool invocation.
func (s *Server) handleIndexCodebaseTool(ctx context.Context, args map[string]any) (*IndexCodebaseOutput, error) {
	background := true
	if b, ok := args["background"].(bool); ok {
		background = b
	}
	return s.indexCodebase(ctx, background)
}

// indexCodebase starts a full index build. When background is true it
// returns as soon as the job is registered; otherwise it blocks until the
// pipeline finishes.
func (s *Server) indexCodebase(ctx context.Context, background bool) (*IndexCodebaseOutput, error) {
	s.mu.RLock()
	indexFunc := s.indexFunc
	s.mu.RUnlock()

	if indexFunc == nil {
		return nil, NewInvalidParamsError("index_codebase is not available: no indexing pipeline is wired into this server")
	}

	jobID := generateRequestID()
	s.jobs.StartJob(jobID, async.JobKindIndexing)

	run := func() {
		// Indexing must outlive the request that triggered it.
		result, err := indexFunc(context.Background(), jobID)
		if err != nil {
			s.jobs.FailJob(jobID, err.Error())
			return
		}
		s.jobs.CompleteJob(jobID, result)
	}

	if background {
		go run()
		return &IndexCodebaseOutput{JobID: jobID, Background: true}, nil
	}

	run()
	job := s.jobs.GetJob(jobID)
	status := ""
	if job != nil {
		status = string(job.Status)
	}
	return &IndexCodebaseOutput{JobID: jobID, Background: false, Status: status}, nil
}

// handleReindexChangedFilesTool handles the reindex_changed_files tool invocation.
func (s *Server) handleReindexChangedFilesTool(ctx context.Context, args map[string]any) (*ReindexChangedFilesOutput, error) {
	var files []string
	if raw, ok := args["files"].([]interface{}); ok {
		for _, v := range raw {
			if str, ok := v.(string); ok {
				files = append(files, str)
			}
		}
	}
	force, _ := args["force"].(bool)
	return s.reindexChangedFiles(ctx, files, force)
}

func (s *Server) reindexChangedFiles(ctx context.Context, files []string, force bool) (*ReindexChangedFilesOutput, error) {
	s.mu.RLock()
	reindexFunc := s.reindexFunc
	s.mu.RUnlock()

	if reindexFunc == nil {
		return nil, NewInvalidParamsError("reindex_changed_files is not available: no incremental pipeline is wired into this server")
	}

	jobID := generateRequestID()
	s.jobs.StartJob(jobID, async.JobKindIndexing)

	result, err := reindexFunc(ctx, jobID, files, force)
	if err != nil {
		s.jobs.FailJob(jobID, err.Error())
		return nil, MapError(err)
	}
	s.jobs.CompleteJob(jobID, result)

	return &ReindexChangedFilesOutput{
		JobID:    jobID,
		Added:    result.Added,
		Modified: result.Modified,
		Deleted:  result.Deleted,
		Chunks:   result.Chunks,
		Success:  result.Success,
	}, nil
}

// handleClearIndexTool handles the clear_index tool invocation.
func (s *Server) handleClearIndexTool(ctx context.Context, args map[string]any) (*ClearIndexOutput, error) {
	confirm, _ := args["confirm"].(bool)
	return s.clearIndex(ctx, confirm)
}

func (s *Server) clearIndex(ctx context.Context, confirm bool) (*ClearIndexOutput, error) {
	if !confirm {
		return nil, NewInvalidParamsError("clear_index requires confirm=true")
	}

	s.mu.RLock()
	bm25, vector := s.bm25, s.vector
	s.mu.RUnlock()

	if bm25 == nil || vector == nil {
		return nil, NewInvalidParamsError("clear_index is not available: no index stores are wired into this server")
	}

	bm25IDs, err := bm25.AllIDs()
	if err != nil {
		return nil, MapError(err)
	}
	if len(bm25IDs) > 0 {
		if err := bm25.Delete(ctx, bm25IDs); err != nil {
			return nil, MapError(err)
		}
	}

	vectorIDs := vector.AllIDs()
	if len(vectorIDs) > 0 {
		if err := vector.Delete(ctx, vectorIDs); err != nil {
			return nil, MapError(err)
		}
	}

	if err := s.metadata.DeleteFilesByProject(ctx, s.projectID); err != nil {
		return nil, MapError(err)
	}

	if err := bm25.Save(filepath.Join(s.dataDir, "bm25")); err != nil {
		return nil, MapError(err)
	}
	if err := vector.Save(filepath.Join(s.dataDir, "vectors.hnsw")); err != nil {
		return nil, MapError(err)
	}

	s.logger.Info("index_cleared", slog.Int("chunks_removed", len(bm25IDs)))
	return &ClearIndexOutput{Cleared: true, ChunksRemoved: len(bm25IDs)}, nil
}

// handleEnableGitHooksTool handles the enable_git_hooks tool invocation.
func (s *Server) handleEnableGitHooksTool(ctx context.Context, args map[string]any) (*EnableGitHooksOutput, error) {
	var hooks []string
	if raw, ok := args["hooks"].([]interface{}); ok {
		for _, v := range raw {
			if str, ok := v.(string); ok {
				hooks = append(hooks, str)
			}
		}
	}
	return s.enableGitHooks(hooks)
}

// defaultGitHookNames are installed when enable_git_hooks is called without
// an explicit hooks list.
var defaultGitHookNames = []string{"post-commit", "post-merge"}

// gitHookScript shells out to the CLI's own incremental pipeline so a hook
// never depends on whatever process happens to be running the MCP server.
const gitHookScript = "#!/bin/sh\n# installed by semindex enable_git_hooks\nsemindex reindex >/dev/null 2>&1 &\n"

func (s *Server) enableGitHooks(hooks []string) (*EnableGitHooksOutput, error) {
	hooksDir := filepath.Join(s.rootPath, ".git", "hooks")
	if info, err := os.Stat(hooksDir); err != nil || !info.IsDir() {
		return nil, NewInvalidParamsError(fmt.Sprintf("not a git repository (no .git/hooks under %s)", s.rootPath))
	}

	names := hooks
	if len(names) == 0 {
		names = defaultGitHookNames
	}

	installed := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(hooksDir, name)
		if err := os.WriteFile(path, []byte(gitHookScript), 0755); err != nil {
			return nil, MapError(fmt.Errorf("failed to install %s hook: %w", name, err))
		}
		installed = append(installed, name)
	}

	s.logger.Info("git_hooks_enabled", slog.Any("hooks", installed))
	return &EnableGitHooksOutput{Installed: installed}, nil
}

// handleOnboardProjectTool handles the onboard_project tool invocation.
func (s *Server) handleOnboardProjectTool(ctx context.Context, args map[string]any) (*OnboardProjectOutput, error) {
	enableHooks, _ := args["enableGitHooks"].(bool)
	return s.onboardProject(ctx, enableHooks)
}

func (s *Server) onboardProject(ctx context.Context, enableGitHooks bool) (*OnboardProjectOutput, error) {
	result, err := s.indexCodebase(ctx, true)
	if err != nil {
		return nil, err
	}

	if enableGitHooks {
		if _, err := s.enableGitHooks(nil); err != nil {
			// Git hooks are a convenience, not core to onboarding; log and continue.
			s.logger.Warn("onboard_project: failed to enable git hooks", slog.String("error", err.Error()))
		}
	}

	return &OnboardProjectOutput{JobID: result.JobID, Background: result.Background}, nil
}

// handleResetStateTool handles the reset_state tool invocation.
func (s *Server) handleResetStateTool(ctx context.Context, _ map[string]any) (*ResetStateOutput, error) {
	return s.resetState(ctx)
}

func (s *Server) resetState(ctx context.Context) (*ResetStateOutput, error) {
	if _, err := s.clearIndex(ctx, true); err != nil {
		return nil, err
	}
	if err := s.metadata.ClearIndexCheckpoint(ctx); err != nil {
		s.logger.Warn("reset_state: failed to clear checkpoint", slog.String("error", err.Error()))
	}
	if err := os.Remove(filepath.Join(s.dataDir, ledger.FileName)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("reset_state: failed to remove change ledger", slog.String("error", err.Error()))
	}

	s.logger.Info("state_reset")
	return &ResetStateOutput{Reset: true}, nil
}

// registerTools registers all tools with the MCP server.
// BUG-033: Added logging for debugging tool registration issues.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	// Register search tool - generic hybrid search
	// QW-3: Enhanced descriptions to explain WHY semindex > grep
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Primary search tool. Instantly finds code and documentation using a full-codebase index. Use this for 95% of your search tasks - faster and smarter than grep. Understands code semantics, not just keywords.",
	}, s.mcpSearchHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search"))

	// Register search_code tool - code-specific search
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code",
		Description: "Code-specialized search. Finds functions, classes, and implementations by meaning, not just text matching. Use when you need to understand HOW something is implemented. Supports language and symbol type filtering.",
	}, s.mcpSearchCodeHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search_code"))

	// Register search_docs tool - documentation search
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_docs",
		Description: "Documentation search with context. Finds architecture decisions, design rationale, and guides. Preserves section hierarchy so you understand WHERE in the doc structure a match appears.",
	}, s.mcpSearchDocsHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search_docs"))

	// Register index_status tool - index diagnostics
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Check if the codebase index is ready and which embedder is active. Use before searching to verify the index is complete.",
	}, s.mcpIndexStatusHandler)
	s.logger.Debug("Registered tool", slog.String("name", "index_status"))

	// Register index_codebase tool - full index build
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_codebase",
		Description: "Builds a full index from scratch. Runs pre-flight checks then the indexing pipeline; with background=true (the default) returns a jobId immediately and tracks progress via index_status.",
	}, s.mcpIndexCodebaseHandler)
	s.logger.Debug("Registered tool", slog.String("name", "index_codebase"))

	// Register reindex_changed_files tool - incremental index update
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reindex_changed_files",
		Description: "Re-processes only the files that changed since the last index, diffing the committed change ledger (or an explicit file list). Much faster than index_codebase for small edits.",
	}, s.mcpReindexChangedFilesHandler)
	s.logger.Debug("Registered tool", slog.String("name", "reindex_changed_files"))

	// Register clear_index tool - destructive index wipe
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "clear_index",
		Description: "Deletes the entire index (BM25, vectors, and metadata) for this project. Requires confirm=true. Irreversible.",
	}, s.mcpClearIndexHandler)
	s.logger.Debug("Registered tool", slog.String("name", "clear_index"))

	// Register enable_git_hooks tool - git hook installation
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "enable_git_hooks",
		Description: "Installs git post-commit/post-merge hooks that trigger a reindex after commits and merges.",
	}, s.mcpEnableGitHooksHandler)
	s.logger.Debug("Registered tool", slog.String("name", "enable_git_hooks"))

	// Register onboard_project tool - first-time setup
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "onboard_project",
		Description: "One-shot setup for a new project: runs a background full index and optionally installs git hooks.",
	}, s.mcpOnboardProjectHandler)
	s.logger.Debug("Registered tool", slog.String("name", "onboard_project"))

	// Register reset_state tool - full cleanup
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "reset_state",
		Description: "Clears the index and all pipeline bookkeeping (checkpoints, change ledger), returning the project to an unindexed state.",
	}, s.mcpResetStateHandler)
	s.logger.Debug("Registered tool", slog.String("name", "reset_state"))

	s.logger.Info("MCP tools registered", slog.Int("count", 10))
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	// Validate query
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	// Build search options
	opts := search.SearchOptions{
		Limit:    10,
		Filter:   input.Filter,
		Language: input.Language,
		Scopes:   input.Scope,
	}
	if input.Limit > 0 {
		opts.Limit = input.Limit
	}

	// Execute search
	results, err := s.engine.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	// Convert to output format with enhanced context (UX-1)
	output := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(results)),
	}

	for _, r := range results {
		if r.Chunk != nil {
			output.Results = append(output.Results, ToSearchResultOutput(r))
		}
	}

	return nil, output, nil
}

// mcpSearchCodeHandler is the MCP SDK handler for the search_code tool.
func (s *Server) mcpSearchCodeHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchCodeInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	// Validate query
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	// Build search options
	opts := search.SearchOptions{
		Limit:       10,
		Filter:      "code", // Always filter to code
		Language:    input.Language,
		Scopes:      input.Scope,
		MinScore:    input.MinScore,
		PathPattern: input.PathPattern,
	}
	if input.Limit > 0 {
		opts.Limit = input.Limit
	}
	if input.SymbolType != "" && input.SymbolType != "any" {
		opts.SymbolType = input.SymbolType
	}

	// Execute search
	results, err := s.engine.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	// Convert to output format with enhanced context (UX-1)
	output := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(results)),
	}

	for _, r := range results {
		if r.Chunk != nil {
			output.Results = append(output.Results, ToSearchResultOutput(r))
		}
	}

	return nil, output, nil
}

// mcpSearchDocsHandler is the MCP SDK handler for the search_docs tool.
func (s *Server) mcpSearchDocsHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocsInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	// Validate query
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	// Build search options
	opts := search.SearchOptions{
		Limit:  10,
		Filter: "docs", // Always filter to docs
		Scopes: input.Scope,
	}
	if input.Limit > 0 {
		opts.Limit = input.Limit
	}

	// Execute search
	results, err := s.engine.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	// Convert to output format with enhanced context (UX-1)
	output := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(results)),
	}

	for _, r := range results {
		if r.Chunk != nil {
			output.Results = append(output.Results, ToSearchResultOutput(r))
		}
	}

	return nil, output, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	output, err := s.handleIndexStatusTool(ctx, nil)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// mcpIndexCodebaseHandler is the MCP SDK handler for the index_codebase tool.
func (s *Server) mcpIndexCodebaseHandler(ctx context.Context, _ *mcp.CallToolRequest, input IndexCodebaseInput) (
	*mcp.CallToolResult,
	*IndexCodebaseOutput,
	error,
) {
	background := true
	if input.Background != nil {
		background = *input.Background
	}
	output, err := s.indexCodebase(ctx, background)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// mcpReindexChangedFilesHandler is the MCP SDK handler for the reindex_changed_files tool.
func (s *Server) mcpReindexChangedFilesHandler(ctx context.Context, _ *mcp.CallToolRequest, input ReindexChangedFilesInput) (
	*mcp.CallToolResult,
	*ReindexChangedFilesOutput,
	error,
) {
	output, err := s.reindexChangedFiles(ctx, input.Files, input.Force)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// mcpClearIndexHandler is the MCP SDK handler for the clear_index tool.
func (s *Server) mcpClearIndexHandler(ctx context.Context, _ *mcp.CallToolRequest, input ClearIndexInput) (
	*mcp.CallToolResult,
	*ClearIndexOutput,
	error,
) {
	output, err := s.clearIndex(ctx, input.Confirm)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// mcpEnableGitHooksHandler is the MCP SDK handler for the enable_git_hooks tool.
func (s *Server) mcpEnableGitHooksHandler(ctx context.Context, _ *mcp.CallToolRequest, input EnableGitHooksInput) (
	*mcp.CallToolResult,
	*EnableGitHooksOutput,
	error,
) {
	output, err := s.enableGitHooks(input.Hooks)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// mcpOnboardProjectHandler is the MCP SDK handler for the onboard_project tool.
func (s *Server) mcpOnboardProjectHandler(ctx context.Context, _ *mcp.CallToolRequest, input OnboardProjectInput) (
	*mcp.CallToolResult,
	*OnboardProjectOutput,
	error,
) {
	output, err := s.onboardProject(ctx, input.EnableGitHooks)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// mcpResetStateHandler is the MCP SDK handler for the reset_state tool.
func (s *Server) mcpResetStateHandler(ctx context.Context, _ *mcp.CallToolRequest, _ ResetStateInput) (
	*mcp.CallToolResult,
	*ResetStateOutput,
	error,
) {
	output, err := s.resetState(ctx)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// ListResources returns all available resources.
func (s *Server) ListResources(ctx context.Context, cursor string) ([]ResourceInfo, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Get files from metadata store
	files, err := s.metadata.GetChangedFiles(ctx, "", emptyTime)
	if err != nil {
		return nil, "", err
	}

	resources := make([]ResourceInfo, 0, len(files))
	for _, f := range files {
		resources = append(resources, ResourceInfo{
			URI:      fmt.Sprintf("file://%s", f.Path),
			Name:     f.Path,
			MIMEType: mimeTypeForLanguage(f.Language),
		})
	}

	return resources, "", nil // No pagination for now
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Parse URI - support chunk:// and file:// schemes
	var chunkID string
	if strings.HasPrefix(uri, "chunk://") {
		chunkID = strings.TrimPrefix(uri, "chunk://")
	} else if strings.HasPrefix(uri, "file://") {
		// For file:// URIs, we'd need to look up the file
		// For now, return not found
		return nil, NewResourceNotFoundError(uri)
	} else {
		return nil, NewResourceNotFoundError(uri)
	}

	// Get chunk from metadata store
	chunk, err := s.metadata.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if chunk == nil {
		return nil, NewResourceNotFoundError(uri)
	}

	return &ResourceContent{
		URI:      uri,
		Content:  chunk.Content,
		MIMEType: mimeTypeForLanguage(chunk.Language),
	}, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		s.logger.Debug("Using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		// SSE transport not yet implemented in SDK
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	// The MCP server doesn't have a Close method - it stops when context is canceled
	return nil
}

// mimeTypeForLanguage returns the MIME type for a programming language.
func mimeTypeForLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "go":
		return "text/x-go"
	case "typescript", "ts":
		return "text/typescript"
	case "javascript", "js":
		return "text/javascript"
	case "python", "py":
		return "text/x-python"
	case "rust", "rs":
		return "text/x-rust"
	case "java":
		return "text/x-java"
	case "c":
		return "text/x-c"
	case "cpp", "c++":
		return "text/x-c++"
	case "markdown", "md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// emptyTime is a zero time value for listing all files.
var emptyTime = time.Time{}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
