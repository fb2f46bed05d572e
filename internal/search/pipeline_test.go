package search

import (
	"context"
	"testing"

	"github.com/semindex/semindex/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder returns a fixed vector regardless of input text, enough
// to exercise the pipeline without a real embedding model.
type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.vec, f.err
}

// fakeVectors returns a fixed, pre-scored hit list regardless of query.
type fakeVectors struct {
	hits []*store.VectorResult
	err  error
}

func (f *fakeVectors) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	return f.hits, f.err
}

// fakeMetadata serves chunks from an in-memory map keyed by id.
type fakeMetadata struct {
	chunks map[string]*store.Chunk
}

func (f *fakeMetadata) GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error) {
	out := make([]*store.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := f.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func newTestPipeline(hits []*store.VectorResult, chunks map[string]*store.Chunk) *Pipeline {
	return NewPipeline(
		&fakeEmbedder{vec: []float32{0.1, 0.2, 0.3}},
		&fakeVectors{hits: hits},
		&fakeMetadata{chunks: chunks},
	)
}

func TestPipeline_Search_ReturnsRankedResults(t *testing.T) {
	chunks := map[string]*store.Chunk{
		"a": {ID: "a", FilePath: "x/a.go", Language: "go", Content: "func A() {}\n", StartLine: 1, EndLine: 1},
		"b": {ID: "b", FilePath: "x/b.go", Language: "go", Content: "func B() {}\n", StartLine: 1, EndLine: 1},
	}
	hits := []*store.VectorResult{
		{ID: "a", Score: 0.6},
		{ID: "b", Score: 0.9},
	}
	p := newTestPipeline(hits, chunks)

	results, err := p.Search(context.Background(), "find function B", QueryOptions{MaxResults: 10})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ChunkID)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, "a", results[1].ChunkID)
	assert.Equal(t, 2, results[1].Rank)
}

func TestPipeline_Search_FiltersByMinScore(t *testing.T) {
	chunks := map[string]*store.Chunk{
		"a": {ID: "a", FilePath: "a.go", Language: "go", Content: "x"},
	}
	hits := []*store.VectorResult{{ID: "a", Score: 0.1}}
	p := newTestPipeline(hits, chunks)

	results, err := p.Search(context.Background(), "something distinctive", QueryOptions{MaxResults: 10, MinScore: 0.5})
	require.NoError(t, err)
	// primary pass excludes it (score 0.1 < 0.5); fallback ladder relaxes
	// to 0.3 then 0.3 again, still excluding the 0.1 score.
	assert.Empty(t, results)
}

func TestPipeline_Search_FiltersByLanguage(t *testing.T) {
	chunks := map[string]*store.Chunk{
		"a": {ID: "a", FilePath: "a.go", Language: "go", Content: "x"},
		"b": {ID: "b", FilePath: "b.py", Language: "python", Content: "y"},
	}
	hits := []*store.VectorResult{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.9}}
	p := newTestPipeline(hits, chunks)

	results, err := p.Search(context.Background(), "query", QueryOptions{MaxResults: 10, Language: "python"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ChunkID)
}

func TestPipeline_Search_PathPatternFiltersResults(t *testing.T) {
	chunks := map[string]*store.Chunk{
		"a": {ID: "a", FilePath: "internal/foo/a.go", Language: "go", Content: "x"},
		"b": {ID: "b", FilePath: "cmd/b.go", Language: "go", Content: "y"},
	}
	hits := []*store.VectorResult{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.9}}
	p := newTestPipeline(hits, chunks)

	results, err := p.Search(context.Background(), "query", QueryOptions{MaxResults: 10, PathPattern: "^internal/"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ChunkID)
}

func TestPipeline_Search_HybridRerankUsesKeywordOverlap(t *testing.T) {
	chunks := map[string]*store.Chunk{
		// Lower vector score but perfect keyword overlap.
		"keyword-match": {ID: "keyword-match", FilePath: "x.go", Language: "go", Content: "func parseConfig() {}"},
		"vector-only":   {ID: "vector-only", FilePath: "y.go", Language: "go", Content: "func unrelatedThing() {}"},
	}
	hits := []*store.VectorResult{
		{ID: "keyword-match", Score: 0.4},
		{ID: "vector-only", Score: 0.6},
	}
	p := newTestPipeline(hits, chunks)

	results, err := p.Search(context.Background(), "parse config function", QueryOptions{MaxResults: 10, Strategy: "hybrid"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "keyword-match", results[0].ChunkID)
}

func TestPipeline_Search_EmptyPrimaryPassTriesFallback(t *testing.T) {
	chunks := map[string]*store.Chunk{
		"a": {ID: "a", FilePath: "a.go", Language: "go", Content: "x"},
	}
	// Score 0.5 fails a MinScore of 0.9, but clears the final 0.3 floor.
	hits := []*store.VectorResult{{ID: "a", Score: 0.5}}
	p := newTestPipeline(hits, chunks)

	results, err := p.Search(context.Background(), "query", QueryOptions{MaxResults: 10, MinScore: 0.9})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestDynamicWeights_CodePunctuationFavorsVector(t *testing.T) {
	v, k := dynamicWeights("foo.Bar()")
	assert.Equal(t, 0.8, v)
	assert.Equal(t, 0.2, k)
}

func TestDynamicWeights_LongNaturalLanguageFavorsKeywords(t *testing.T) {
	v, k := dynamicWeights("how does the retry backoff logic work")
	assert.Equal(t, 0.6, v)
	assert.Equal(t, 0.4, k)
}

func TestDynamicWeights_ShortNaturalLanguageDefault(t *testing.T) {
	v, k := dynamicWeights("parse config")
	assert.Equal(t, 0.7, v)
	assert.Equal(t, 0.3, k)
}

func TestPreprocessQuery_ExpandsAbbreviationsAndCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "authentication flow", preprocessQuery("  auth   flow "))
	assert.Equal(t, "database configuration", preprocessQuery("db cfg"))
}

func TestOverlapRatio(t *testing.T) {
	assert.Equal(t, 1.0, overlapRatio([]string{"a", "b"}, []string{"a", "b", "c"}))
	assert.Equal(t, 0.5, overlapRatio([]string{"a", "b"}, []string{"a"}))
	assert.Equal(t, 0.0, overlapRatio([]string{"a"}, []string{"b"}))
}

func TestSnippetFor_Snippet_TruncatesAtTenLines(t *testing.T) {
	content := ""
	for i := 0; i < 20; i++ {
		content += "line\n"
	}
	snippet := snippetFor(content, FormatSnippet)
	assert.Len(t, splitLines(snippet), 10)
}

func TestSnippetFor_Context_ReturnsFullContent(t *testing.T) {
	content := "line1\nline2\nline3"
	assert.Equal(t, content, snippetFor(content, FormatContext))
}

func TestSnippetFor_Hybrid_ShortContentIsNotTruncated(t *testing.T) {
	content := "line1\nline2"
	assert.Equal(t, content, snippetFor(content, FormatHybrid))
}

func TestSnippetFor_Hybrid_LongContentTruncatesAtFifteenLines(t *testing.T) {
	content := ""
	for i := 0; i < 25; i++ {
		content += "line\n"
	}
	snippet := snippetFor(content, FormatHybrid)
	assert.Contains(t, snippet, "… (truncated)")
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}
