package preflight

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/semindex/semindex/internal/scanner"
)

// chunksPerFileByLanguage is how many chunks a single file of a given
// primary language tends to split into, used to estimate total chunk
// count from a file count without actually parsing anything.
var chunksPerFileByLanguage = map[string]float64{
	"typescript": 6,
	"javascript": 6,
	"ruby":       3.5,
	"python":     4.5,
}

// defaultChunksPerFile is used when the primary language isn't in
// chunksPerFileByLanguage (including when no language dominates).
const defaultChunksPerFile = 4.0

// tokensPerChunk is the assumed average token count of a chunk, used
// only for cost estimation.
const tokensPerChunk = 175

// modelPricePerMillionTokens is a static USD/1M-token table for remote
// embedding models. Unlisted models price at 0, which undercounts cost
// rather than overstating it.
var modelPricePerMillionTokens = map[string]float64{
	"text-embedding-3-small": 0.02,
	"text-embedding-3-large": 0.13,
	"voyage-code-3":          0.18,
	"voyage-3-large":         0.18,
}

// MinEstimatorDiskSpaceBytes mirrors MinDiskSpaceBytes; kept separate so
// the estimator's disk check can evolve independently of the general
// preflight disk check.
const MinEstimatorDiskSpaceBytes = MinDiskSpaceBytes

// Checks summarizes the health of an indexing run's dependencies.
type Checks struct {
	ConfigExists       bool `json:"configExists"`
	VectorDBHealthy    bool `json:"vectorDBHealthy"`
	EmbeddingHealthy   bool `json:"embeddingHealthy"`
	DiskSpaceAvailable bool `json:"diskSpaceAvailable"`
}

// Estimate is the result of estimating an indexing run before it starts.
type Estimate struct {
	FilesCount      int           `json:"filesCount"`
	EstimatedChunks int           `json:"estimatedChunks"`
	EstimatedTime   time.Duration `json:"estimatedTime"`
	EstimatedCost   float64       `json:"estimatedCost"`
	Checks          Checks        `json:"checks"`
	Warnings        []string      `json:"warnings"`
}

// EstimateOptions configures Estimate. ProbeVectorDB and ProbeEmbedding
// are optional; a nil prober is treated as healthy so callers that don't
// care about a given collaborator aren't forced to stub one out.
type EstimateOptions struct {
	ConfigPath     string
	DataDir        string
	Provider       string // "local" (MLX/Ollama/static) or a remote provider name
	Model          string
	Concurrency    int
	ProbeVectorDB  func(ctx context.Context) bool
	ProbeEmbedding func(ctx context.Context) bool
}

// Run estimates the cost and duration of indexing files, and reports the
// health of the run's external dependencies.
func Run(ctx context.Context, files []scanner.FileInfo, opts EstimateOptions) Estimate {
	filesCount := len(files)
	chunksPerFile := chunksPerFileFor(primaryLanguage(files))
	estimatedChunks := int(math.Round(float64(filesCount) * chunksPerFile))

	rate := embeddingRate(opts.Provider, opts.Concurrency)
	seconds := float64(estimatedChunks)/rate + float64(filesCount)/700.0 + 10
	estimatedTime := time.Duration(seconds * float64(time.Second))

	estimatedCost := 0.0
	if !strings.EqualFold(opts.Provider, "local") {
		estimatedCost = float64(estimatedChunks) * tokensPerChunk * modelPrice(opts.Model) / 1e6
	}

	checks := Checks{
		ConfigExists:       opts.ConfigPath == "" || fileExists(opts.ConfigPath),
		VectorDBHealthy:    opts.ProbeVectorDB == nil || opts.ProbeVectorDB(ctx),
		EmbeddingHealthy:   opts.ProbeEmbedding == nil || opts.ProbeEmbedding(ctx),
		DiskSpaceAvailable: diskSpaceAvailable(opts.DataDir),
	}

	var warnings []string
	if filesCount == 0 {
		warnings = append(warnings, "no indexable files found in project")
	}
	if filesCount > 10000 {
		warnings = append(warnings, fmt.Sprintf("%d files is a very large project; indexing may take a long time", filesCount))
	}
	if !checks.VectorDBHealthy {
		warnings = append(warnings, "vector database is not reachable")
	}
	if !checks.EmbeddingHealthy {
		warnings = append(warnings, "embedding provider is not reachable")
	}
	if !checks.DiskSpaceAvailable {
		warnings = append(warnings, "disk space is low")
	}

	return Estimate{
		FilesCount:      filesCount,
		EstimatedChunks: estimatedChunks,
		EstimatedTime:   estimatedTime,
		EstimatedCost:   estimatedCost,
		Checks:          checks,
		Warnings:        warnings,
	}
}

// primaryLanguage returns the language with the most files, or "" if
// there are no recognized languages (or a tie at zero).
func primaryLanguage(files []scanner.FileInfo) string {
	counts := make(map[string]int)
	for _, f := range files {
		if f.Language != "" {
			counts[f.Language]++
		}
	}
	best, bestCount := "", 0
	for lang, count := range counts {
		if count > bestCount {
			best, bestCount = lang, count
		}
	}
	return best
}

func chunksPerFileFor(language string) float64 {
	if k, ok := chunksPerFileByLanguage[language]; ok {
		return k
	}
	return defaultChunksPerFile
}

// embeddingRate returns the assumed chunks-per-second embedding
// throughput for the given provider and concurrency.
func embeddingRate(provider string, concurrency int) float64 {
	if strings.EqualFold(provider, "local") {
		return 28
	}
	switch {
	case concurrency >= 5:
		return 85
	case concurrency == 4:
		return 70
	case concurrency == 3:
		return 50
	default:
		return 35
	}
}

func modelPrice(model string) float64 {
	return modelPricePerMillionTokens[model]
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func diskSpaceAvailable(path string) bool {
	if path == "" {
		return true
	}
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return false
	}
	return stat.Bavail*uint64(stat.Bsize) >= MinEstimatorDiskSpaceBytes
}
