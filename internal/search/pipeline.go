package search

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/semindex/semindex/internal/store"
)

// queryEmbedder is the one embed.Embedder method the pipeline needs;
// accepting this instead of the full interface keeps tests from having
// to stub EmbedBatch/Dimensions/ModelName/etc.
type queryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// vectorSearcher is the one store.VectorStore method the pipeline needs.
type vectorSearcher interface {
	Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
}

// chunkFetcher is the one store.MetadataStore method the pipeline needs.
type chunkFetcher interface {
	GetChunks(ctx context.Context, ids []string) ([]*store.Chunk, error)
}

// queryAbbreviations are expanded during preprocessing, before the query
// is embedded, so "auth flow" and "authentication flow" embed the same way.
var queryAbbreviations = map[string]string{
	"auth": "authentication",
	"cfg":  "configuration",
	"req":  "request",
	"res":  "response",
	"db":   "database",
}

// codePunctuation is present in queries that are themselves code
// fragments ("foo.Bar()", "a[i]", "x == y") rather than natural language.
var codePunctuation = regexp.MustCompile(`[{}()\[\];,.<>]|[=+\-*/%&|^~]`)

var camelCaseOrUnderscore = regexp.MustCompile(`[a-z][A-Z]|_`)

// ResultFormat controls how much of a result's content the caller sees.
type ResultFormat string

const (
	FormatSnippet ResultFormat = "snippet"
	FormatContext ResultFormat = "context"
	FormatHybrid  ResultFormat = "hybrid"
)

// QueryOptions configures a Pipeline.Search call.
type QueryOptions struct {
	MaxResults  int
	MinScore    float64
	Language    string
	PathPattern string
	Format      ResultFormat
	// Strategy selects re-ranking: "hybrid" applies the keyword re-rank
	// pass; anything else returns the primary vector pass unmodified.
	Strategy string
}

// PipelineResult is one ranked hit, shaped per the exact output contract:
// lines, filePath, language, score, rank, snippet.
type PipelineResult struct {
	ChunkID   string
	FilePath  string
	Language  string
	StartLine int
	EndLine   int
	Score     float64
	Rank      int
	Snippet   string
}

// Pipeline implements the query path literally: preprocess/expand, embed,
// vector search, hybrid keyword re-rank with dynamic weights, and a
// fallback ladder when the primary pass comes back empty. It is a
// thinner, spec-literal alternative to Engine's BM25/RRF fusion, built
// directly against the vector store and metadata store rather than a
// maintained keyword index.
type Pipeline struct {
	embedder queryEmbedder
	vectors  vectorSearcher
	metadata chunkFetcher
}

// NewPipeline creates a Pipeline over the given collaborators.
func NewPipeline(embedder queryEmbedder, vectors vectorSearcher, metadata chunkFetcher) *Pipeline {
	return &Pipeline{embedder: embedder, vectors: vectors, metadata: metadata}
}

// Search runs the query pipeline end to end.
func (p *Pipeline) Search(ctx context.Context, query string, opts QueryOptions) ([]PipelineResult, error) {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}

	preprocessed := preprocessQuery(query)

	results, err := p.primaryPass(ctx, preprocessed, opts.MaxResults, opts.MinScore, opts.Language)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(opts.Strategy, "hybrid") {
		results = p.hybridRerank(preprocessed, results)
	}

	if len(results) == 0 {
		results, err = p.fallbackLadder(ctx, preprocessed, opts)
		if err != nil {
			return nil, err
		}
	}

	if opts.PathPattern != "" {
		results, err = filterByPathPattern(results, opts.PathPattern)
		if err != nil {
			return nil, err
		}
	}

	sortScored(results)
	return formatResults(results, opts.Format), nil
}

// scoredChunk pairs a chunk with its current score for ranking.
type scoredChunk struct {
	chunk       *store.Chunk
	vectorScore float64
	score       float64
}

func (p *Pipeline) primaryPass(ctx context.Context, query string, limit int, minScore float64, language string) ([]*scoredChunk, error) {
	qvec, err := p.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return p.vectorSearch(ctx, qvec, limit, minScore, language)
}

func (p *Pipeline) vectorSearch(ctx context.Context, qvec []float32, limit int, minScore float64, language string) ([]*scoredChunk, error) {
	hits, err := p.vectors.Search(ctx, qvec, limit*3+10) // over-fetch: filters happen after the join
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	scoreByID := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scoreByID[h.ID] = float64(h.Score)
	}

	chunks, err := p.metadata.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*scoredChunk, 0, len(chunks))
	for _, c := range chunks {
		score := scoreByID[c.ID]
		if score < minScore {
			continue
		}
		if language != "" && !strings.EqualFold(c.Language, language) {
			continue
		}
		out = append(out, &scoredChunk{chunk: c, vectorScore: score, score: score})
	}
	if len(out) > limit {
		sort.Slice(out, func(i, j int) bool { return out[i].score > out[j].score })
		out = out[:limit]
	}
	return out, nil
}

// hybridRerank blends vector similarity with keyword overlap under
// dynamic weights, then re-sorts by the combined score.
func (p *Pipeline) hybridRerank(query string, results []*scoredChunk) []*scoredChunk {
	queryKeywords := topKeywords(query, 10)
	if len(queryKeywords) == 0 {
		return results
	}
	vectorWeight, keywordWeight := dynamicWeights(query)

	for _, r := range results {
		chunkKeywords := topKeywords(r.chunk.Content, 10)
		keywordScore := overlapRatio(queryKeywords, chunkKeywords)
		r.score = vectorWeight*r.vectorScore + keywordWeight*keywordScore
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	return results
}

// dynamicWeights picks (vectorWeight, keywordWeight) from the shape of
// the query: code-like queries lean on the vector score, long natural
// language queries lean more on keyword overlap.
func dynamicWeights(query string) (vectorWeight, keywordWeight float64) {
	switch {
	case looksLikeCode(query):
		return 0.8, 0.2
	case len(strings.Fields(query)) > 3:
		return 0.6, 0.4
	default:
		return 0.7, 0.3
	}
}

func looksLikeCode(query string) bool {
	return codePunctuation.MatchString(query) || camelCaseOrUnderscore.MatchString(query)
}

// fallbackLadder is tried when the primary (and, if applicable,
// hybrid-reranked) pass returns nothing: first every synonym-expanded
// variant of the query at a relaxed threshold, then the original query
// at a fixed, more permissive threshold.
func (p *Pipeline) fallbackLadder(ctx context.Context, query string, opts QueryOptions) ([]*scoredChunk, error) {
	relaxed := opts.MinScore * 0.8
	for _, variant := range synonymVariants(query) {
		results, err := p.primaryPass(ctx, variant, opts.MaxResults, relaxed, opts.Language)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			return results, nil
		}
	}

	return p.primaryPass(ctx, query, opts.MaxResults, 0.3, opts.Language)
}

// synonymVariants produces alternate phrasings of query by substituting
// each recognized term with its first code-vocabulary synonym.
func synonymVariants(query string) []string {
	words := strings.Fields(query)
	var variants []string
	for i, w := range words {
		lower := strings.ToLower(strings.Trim(w, ".,;:!?"))
		syns, ok := CodeSynonyms[lower]
		if !ok || len(syns) == 0 {
			continue
		}
		replaced := make([]string, len(words))
		copy(replaced, words)
		replaced[i] = syns[0]
		variants = append(variants, strings.Join(replaced, " "))
	}
	return variants
}

func preprocessQuery(query string) string {
	collapsed := strings.Join(strings.Fields(query), " ")
	words := strings.Split(collapsed, " ")
	for i, w := range words {
		lower := strings.ToLower(w)
		if expansion, ok := queryAbbreviations[lower]; ok {
			words[i] = expansion
		}
	}
	return strings.Join(words, " ")
}

// topKeywords ranks tokens of text by term frequency and returns the top n.
// This is TF; a real IDF table would need corpus-wide statistics this
// pipeline doesn't maintain, so TF is the permanent fallback, not a
// temporary shortcut.
func topKeywords(text string, n int) []string {
	tokens := store.TokenizeCode(text)
	if len(tokens) == 0 {
		return nil
	}
	freq := make(map[string]int, len(tokens))
	order := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if freq[t] == 0 {
			order = append(order, t)
		}
		freq[t]++
	}
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if len(order) > n {
		order = order[:n]
	}
	return order
}

func overlapRatio(queryKeywords, chunkKeywords []string) float64 {
	if len(queryKeywords) == 0 {
		return 0
	}
	chunkSet := make(map[string]struct{}, len(chunkKeywords))
	for _, k := range chunkKeywords {
		chunkSet[k] = struct{}{}
	}
	matches := 0
	for _, k := range queryKeywords {
		if _, ok := chunkSet[k]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(queryKeywords))
}

func filterByPathPattern(results []*scoredChunk, pattern string) ([]*scoredChunk, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	out := results[:0]
	for _, r := range results {
		if re.MatchString(r.chunk.FilePath) {
			out = append(out, r)
		}
	}
	return out, nil
}

// sortScored orders by score descending, ties broken by chunk id.
func sortScored(results []*scoredChunk) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].chunk.ID < results[j].chunk.ID
	})
}

func formatResults(results []*scoredChunk, format ResultFormat) []PipelineResult {
	out := make([]PipelineResult, len(results))
	for i, r := range results {
		out[i] = PipelineResult{
			ChunkID:   r.chunk.ID,
			FilePath:  r.chunk.FilePath,
			Language:  r.chunk.Language,
			StartLine: r.chunk.StartLine,
			EndLine:   r.chunk.EndLine,
			Score:     r.score,
			Rank:      i + 1,
			Snippet:   snippetFor(r.chunk.Content, format),
		}
	}
	return out
}

func snippetFor(content string, format ResultFormat) string {
	lines := strings.Split(content, "\n")
	switch format {
	case FormatContext:
		return content
	case FormatHybrid:
		if len(lines) <= 20 {
			return content
		}
		return strings.Join(lines[:15], "\n") + "\n… (truncated)"
	default: // FormatSnippet
		if len(lines) <= 10 {
			return content
		}
		return strings.Join(lines[:10], "\n")
	}
}
