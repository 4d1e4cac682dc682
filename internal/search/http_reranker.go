package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
)

// Cross-encoder service defaults
const (
	DefaultRerankerEndpoint = "http://localhost:9659"
	DefaultRerankerModel    = "bge-reranker-v2-m3"
	DefaultRerankerTimeout  = 30 * time.Second
)

// HTTPRerankerConfig holds configuration for a cross-encoder rerank service.
type HTTPRerankerConfig struct {
	// Endpoint is the service URL (default: http://localhost:9659)
	Endpoint string

	// Model is the reranker model name sent with each request
	Model string

	// Timeout is the request timeout (default: 30s)
	Timeout time.Duration

	// SkipHealthCheck skips health check during creation (for testing)
	SkipHealthCheck bool

	// Instruction is an optional task instruction for instruction-tuned rerankers
	Instruction string
}

// HTTPReranker scores (query, document) pairs with a cross-encoder served
// over JSON: POST /rerank, GET /health.
type HTTPReranker struct {
	client   *http.Client
	config   HTTPRerankerConfig
	mu       sync.RWMutex
	closed   bool
	endpoint string
}

// Verify interface implementation at compile time
var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates a rerank service client.
func NewHTTPReranker(ctx context.Context, cfg HTTPRerankerConfig) (*HTTPReranker, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultRerankerEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultRerankerModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultRerankerTimeout
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	r := &HTTPReranker{
		client:   client,
		config:   cfg,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
	}

	if !cfg.SkipHealthCheck {
		checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := r.healthCheck(checkCtx); err != nil {
			return nil, dserrors.ServiceError("reranker", err)
		}
	}

	slog.Debug("http_reranker_created",
		slog.String("endpoint", r.endpoint),
		slog.String("model", cfg.Model),
		slog.Duration("timeout", cfg.Timeout))

	return r, nil
}

// healthCheck verifies the service is up
func (r *HTTPReranker) healthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to rerank service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("rerank service unhealthy (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// rerankRequest is the JSON request to /rerank endpoint
type rerankRequest struct {
	Query       string   `json:"query"`
	Documents   []string `json:"documents"`
	Model       string   `json:"model,omitempty"`
	Instruction string   `json:"instruction,omitempty"`
	TopK        int      `json:"top_k,omitempty"`
}

// rerankResponse is the JSON response from /rerank endpoint
type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
	Model            string  `json:"model"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}

// Rerank sends every candidate's text. Documents the service leaves out of
// its response (for example beyond top_k) are unscored.
func (r *HTTPReranker) Rerank(ctx context.Context, query string, candidates []ResultItem, topK int) (RerankOutcome, error) {
	start := time.Now()

	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return RerankOutcome{}, fmt.Errorf("reranker is closed")
	}
	if len(candidates) == 0 {
		return RerankOutcome{Items: []ResultItem{}}, nil
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Text
	}
	reqBody := rerankRequest{
		Query:       query,
		Documents:   docs,
		Model:       r.config.Model,
		Instruction: r.config.Instruction,
	}
	if topK > 0 {
		reqBody.TopK = topK
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return RerankOutcome{}, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, r.endpoint+"/rerank", bytes.NewReader(jsonData))
	if err != nil {
		return RerankOutcome{}, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return RerankOutcome{}, dserrors.ServiceError("reranker", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return RerankOutcome{}, dserrors.ServiceError("reranker",
			fmt.Errorf("rerank failed (status %d): %s", resp.StatusCode, string(body)))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return RerankOutcome{}, dserrors.New(dserrors.ErrCodeMalformedResponse, "failed to decode rerank response", err)
	}

	scores := make(map[int]float64, len(result.Results))
	for _, res := range result.Results {
		if res.Index < 0 || res.Index >= len(candidates) {
			continue
		}
		if _, seen := scores[res.Index]; !seen {
			scores[res.Index] = res.Score
		}
	}

	slog.Debug("reranker_http_timing",
		slog.String("query", truncateRunes(query, 50)),
		slog.Int("doc_count", len(docs)),
		slog.Int("payload_bytes", len(jsonData)),
		slog.Int("scored", len(scores)),
		slog.Duration("total", time.Since(start)),
		slog.Float64("server_time_ms", result.ProcessingTimeMs))

	return applyScores(candidates, scores), nil
}

// Method implements Reranker.
func (r *HTTPReranker) Method() string { return RerankHTTP }

// Available checks if the reranker service is available
func (r *HTTPReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return false
	}
	r.mu.RUnlock()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.healthCheck(checkCtx) == nil
}

// Close releases resources
func (r *HTTPReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
