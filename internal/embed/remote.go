package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	indexerrors "github.com/semindex/semindex/internal/errors"
)

// remotePricePerMillionTokens is a static USD/1M-token table for remote
// embedding models, mirroring the one the preflight estimator keeps for
// cost projection. Unlisted models price at 0.
var remotePricePerMillionTokens = map[string]float64{
	"text-embedding-3-small": 0.02,
	"text-embedding-3-large": 0.13,
	"voyage-code-3":          0.18,
	"voyage-3-large":         0.18,
}

// RemoteModelPrice returns the USD/1M-token price for model, or 0 if unknown.
func RemoteModelPrice(model string) float64 {
	return remotePricePerMillionTokens[model]
}

// maxRemoteBatch is the largest batch a single request carries; larger
// inputs are split into sub-batches and concatenated in order.
const maxRemoteBatch = 2048

// RemoteConfig configures a RemoteEmbedder.
type RemoteConfig struct {
	Endpoint      string        // Base URL of the embedding API
	APIKey        string        // Bearer token
	Model         string        // Model identifier
	Dimensions    int           // Embedding dimension (0 = discover from first response)
	Concurrency   int           // Max in-flight requests (default 4)
	Timeout       time.Duration // Per-request timeout (default DefaultWarmTimeout)
	RetryConfig   RetryConfig   // Retry policy for retryable failures
	HTTPTransport http.RoundTripper
}

// DefaultRemoteConfig returns sensible defaults for a remote API provider.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Concurrency: 4,
		Timeout:     DefaultWarmTimeout,
		RetryConfig: DefaultRetryConfig(),
	}
}

// RemoteEmbedder generates embeddings against a remote HTTP API (OpenAI- or
// Voyage-shaped batch endpoint), bounding concurrent requests with a
// semaphore rather than relying on a connection pool ceiling.
type RemoteEmbedder struct {
	client *http.Client
	config RemoteConfig
	sem    *semaphore.Weighted

	mu         sync.RWMutex
	closed     bool
	TokensUsed int64 // cumulative tokens billed across EmbedBatch calls
}

var _ Embedder = (*RemoteEmbedder)(nil)

// NewRemoteEmbedder creates a remote API embedder. It does not make any
// network calls until the first Embed/EmbedBatch.
func NewRemoteEmbedder(cfg RemoteConfig) (*RemoteEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("remote embedder requires an endpoint")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultRemoteConfig().Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteConfig().Timeout
	}
	if cfg.RetryConfig == (RetryConfig{}) {
		cfg.RetryConfig = DefaultRetryConfig()
	}

	return &RemoteEmbedder{
		client: &http.Client{Transport: cfg.HTTPTransport},
		config: cfg,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrency)),
	}, nil
}

// Embed generates an embedding for a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	results, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// EmbedBatch embeds texts, splitting into sub-batches of at most
// maxRemoteBatch and issuing up to config.Concurrency requests at once.
// The i-th output corresponds to the i-th input regardless of how the
// provider orders its response.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	chunks := splitIntoBatches(texts, maxRemoteBatch)
	results := make([][][]float32, len(chunks))
	errs := make([]error, len(chunks))

	var wg sync.WaitGroup
	for i, chunk := range chunks {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("failed to acquire request slot: %w", err)
		}
		wg.Add(1)
		go func(i int, chunk []string) {
			defer wg.Done()
			defer e.sem.Release(1)
			results[i], errs[i] = e.embedWithRetry(ctx, chunk)
		}(i, chunk)
	}
	wg.Wait()

	out := make([][]float32, 0, len(texts))
	for i, err := range errs {
		if err != nil {
			return nil, err
		}
		out = append(out, results[i]...)
	}
	return out, nil
}

func splitIntoBatches(texts []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[start:end])
	}
	return batches
}

// embedWithRetry retries retryable failures (network errors, 5xx, 429)
// with exponential backoff; 401 and model-not-found 404 responses are
// fatal and returned immediately without consuming a retry.
func (e *RemoteEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	attempts := e.config.RetryConfig.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(e.config.RetryConfig, attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		embeddings, err := e.doEmbed(timeoutCtx, texts)
		cancel()

		if err == nil {
			return embeddings, nil
		}
		if indexerrors.IsFatal(err) {
			return nil, err
		}
		lastErr = err

		slog.Debug("remote_embed_attempt_failed",
			slog.Int("attempt", attempt+1),
			slog.Int("texts", len(texts)),
			slog.String("error", err.Error()))
	}

	return nil, indexerrors.EmbeddingError(fmt.Sprintf("failed after %d attempts", attempts), lastErr)
}

func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := cfg.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

type remoteEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type remoteEmbeddingData struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type remoteUsage struct {
	TotalTokens int64 `json:"total_tokens"`
}

type remoteEmbedResponse struct {
	Data  []remoteEmbeddingData `json:"data"`
	Usage remoteUsage           `json:"usage"`
}

func (e *RemoteEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(remoteEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through
	case http.StatusUnauthorized:
		return nil, indexerrors.AuthError("remote embedding provider rejected credentials", nil)
	case http.StatusNotFound:
		return nil, indexerrors.ModelUnavailableError(fmt.Sprintf("model %q not found", e.config.Model), nil)
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, string(respBody))
	default:
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("embedding request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var result remoteEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	sort.Slice(result.Data, func(i, j int) bool { return result.Data[i].Index < result.Data[j].Index })

	embeddings := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		embeddings[i] = normalizeVector(d.Embedding)
	}

	e.mu.Lock()
	e.TokensUsed += result.Usage.TotalTokens
	e.mu.Unlock()

	return embeddings, nil
}

// EstimatedCostUSD returns the running cost for tokens billed so far.
func (e *RemoteEmbedder) EstimatedCostUSD() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return float64(e.TokensUsed) / 1_000_000 * RemoteModelPrice(e.config.Model)
}

// Dimensions returns the embedding dimension.
func (e *RemoteEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *RemoteEmbedder) ModelName() string {
	return e.config.Model
}

// Available reports whether the endpoint answers a minimal probe request.
func (e *RemoteEmbedder) Available(ctx context.Context) bool {
	_, err := e.Embed(ctx, "ping")
	return err == nil
}

// Close releases idle connections.
func (e *RemoteEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	if t, ok := e.client.Transport.(*http.Transport); ok {
		t.CloseIdleConnections()
	}
	return nil
}

// SetBatchIndex is a no-op: the remote provider has no thermal timeout
// progression, since it runs on someone else's hardware.
func (e *RemoteEmbedder) SetBatchIndex(_ int) {}

// SetFinalBatch is a no-op, for the same reason as SetBatchIndex.
func (e *RemoteEmbedder) SetFinalBatch(_ bool) {}
