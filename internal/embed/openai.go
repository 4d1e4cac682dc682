package embed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

// DefaultOpenAIModel is the default embedding model for OpenAI-compatible APIs.
const DefaultOpenAIModel = "text-embedding-3-small"

// OpenAIConfig holds the OpenAI-compatible embedding provider settings.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int
	Timeout    time.Duration
	Provider   string // metrics label, default "openai"
	Metrics    *telemetry.Metrics
}

// OpenAIEmbedder embeds through any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
	batchSize  int
	timeout    time.Duration
	provider   string
	metrics    *telemetry.Metrics

	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*OpenAIEmbedder)(nil)

// NewOpenAIEmbedder creates an OpenAI-compatible embedding provider.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, dserrors.New(dserrors.ErrCodeConfigInvalid, "embedding API key is required", nil)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIEmbedder{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      openai.EmbeddingModel(cfg.Model),
		dimensions: cfg.Dimensions,
		batchSize:  cfg.BatchSize,
		timeout:    cfg.Timeout,
		provider:   cfg.Provider,
		metrics:    cfg.Metrics,
	}, nil
}

// Embed generates embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in batchSize requests, preserving order.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(reqCtx, req)
	duration := time.Since(start)

	if err != nil {
		e.metrics.ObserveEmbedding(e.provider, string(e.model), 0, duration, err)
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		err := dserrors.New(dserrors.ErrCodeMalformedResponse,
			fmt.Sprintf("embedding API returned %d vectors for %d inputs", len(resp.Data), len(texts)), nil)
		e.metrics.ObserveEmbedding(e.provider, string(e.model), 0, duration, err)
		return nil, err
	}
	e.metrics.ObserveEmbedding(e.provider, string(e.model), resp.Usage.TotalTokens, duration, nil)

	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, dserrors.New(dserrors.ErrCodeMalformedResponse,
				fmt.Sprintf("embedding index %d out of range", d.Index), nil)
		}
		vecs[d.Index] = d.Embedding
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, dserrors.New(dserrors.ErrCodeMalformedResponse,
				fmt.Sprintf("missing embedding for input %d", i), nil)
		}
	}
	return vecs, nil
}

// Dimensions returns the configured dimension, or DefaultDimensions when
// the model default is used.
func (e *OpenAIEmbedder) Dimensions() int {
	if e.dimensions > 0 {
		return e.dimensions
	}
	return DefaultDimensions
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return string(e.model)
}

// Available verifies API availability via ListModels (free endpoint).
func (e *OpenAIEmbedder) Available(ctx context.Context) bool {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return false
	}
	_, err := e.client.ListModels(ctx)
	return err == nil
}

// Close marks the embedder closed.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// parseAPIError extracts a readable message from the API response and
// classifies it: 429 as rate limited, everything else as embedding failure.
func parseAPIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dserrors.New(dserrors.ErrCodeServiceTimeout, "embedding request timed out", err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return dserrors.New(codeForStatus(reqErr.HTTPStatusCode),
			fmt.Sprintf("embedding API error %d: %s", reqErr.HTTPStatusCode, detail), err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return dserrors.New(codeForStatus(apiErr.HTTPStatusCode),
			fmt.Sprintf("embedding API error %d: %s", apiErr.HTTPStatusCode, apiErr.Message), err)
	}

	return dserrors.New(dserrors.ErrCodeEmbeddingFailed, "embedding request failed", err)
}

func codeForStatus(status int) string {
	if status == 429 {
		return dserrors.ErrCodeRateLimited
	}
	return dserrors.ErrCodeEmbeddingFailed
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
