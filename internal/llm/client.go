// Package llm wraps an OpenAI-compatible chat model used for query
// expansion, listwise reranking and image description.
//
// Every call goes through a token-bucket rate limiter, a circuit breaker and
// a per-call timeout. A client without an API key is valid but unavailable:
// calls fail fast with ErrCodeLLMUnavailable so callers can degrade.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

// Defaults match the original deployment: a DeepSeek chat endpoint.
const (
	DefaultBaseURL   = "https://api.deepseek.com"
	DefaultModel     = "deepseek-chat"
	DefaultTimeout   = 20 * time.Second
	DefaultRPS       = 2.0
	DefaultBurst     = 4
	DefaultMaxTokens = 200
)

// Config configures the chat client.
type Config struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`

	// RPS and Burst bound the outgoing request rate. RPS <= 0 disables limiting.
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`

	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset"`
}

// DefaultConfig returns the default client settings without an API key.
func DefaultConfig() Config {
	return Config{
		BaseURL:         DefaultBaseURL,
		Model:           DefaultModel,
		Timeout:         DefaultTimeout,
		RPS:             DefaultRPS,
		Burst:           DefaultBurst,
		BreakerFailures: 3,
		BreakerReset:    30 * time.Second,
	}
}

// Request is one chat completion.
type Request struct {
	// Operation labels metrics and logs: "expand", "rerank", "describe".
	Operation   string
	Prompt      string
	Temperature float64
	MaxTokens   int

	// ImageURL attaches an image part (http(s) URL or data URI).
	ImageURL string
}

// Status describes the client for health endpoints.
type Status struct {
	Available     bool   `json:"available"`
	APIConfigured bool   `json:"api_configured"`
	BaseURL       string `json:"base_url"`
	Model         string `json:"model"`
	Circuit       string `json:"circuit"`
}

// Client is a rate-limited, circuit-broken chat client.
type Client struct {
	model   llms.Model
	cfg     Config
	limiter *rate.Limiter
	breaker *dserrors.CircuitBreaker
	metrics *telemetry.Metrics
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMetrics records call counts and latency.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithModel replaces the chat model. The client counts as configured.
func WithModel(m llms.Model) Option {
	return func(c *Client) { c.model = m }
}

// New creates a client. An empty APIKey yields an unavailable client, not an error.
func New(cfg Config, opts ...Option) (*Client, error) {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}

	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	breakerOpts := []dserrors.CircuitBreakerOption{}
	if cfg.BreakerFailures > 0 {
		breakerOpts = append(breakerOpts, dserrors.WithMaxFailures(cfg.BreakerFailures))
	}
	if cfg.BreakerReset > 0 {
		breakerOpts = append(breakerOpts, dserrors.WithResetTimeout(cfg.BreakerReset))
	}

	c := &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		breaker: dserrors.NewCircuitBreaker("llm", breakerOpts...),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.model == nil && cfg.APIKey != "" {
		model, err := openai.New(
			openai.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")),
			openai.WithToken(cfg.APIKey),
			openai.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, dserrors.New(dserrors.ErrCodeConfigInvalid, "failed to create LLM client", err)
		}
		c.model = model
	}

	if c.model == nil {
		c.logger.Warn("llm_not_configured", slog.String("hint", "set OPENAI_API_KEY to enable model expansion and rerank"))
	} else {
		c.logger.Info("llm_client_ready", slog.String("base_url", cfg.BaseURL), slog.String("model", cfg.Model))
	}
	return c, nil
}

// Configured reports whether a model is attached.
func (c *Client) Configured() bool {
	return c != nil && c.model != nil
}

// Available reports whether a call would be attempted now.
func (c *Client) Available() bool {
	return c.Configured() && c.breaker.State() != dserrors.StateOpen
}

// Status reports configuration and breaker state.
func (c *Client) Status() Status {
	if c == nil {
		return Status{Circuit: dserrors.StateClosed.String()}
	}
	return Status{
		Available:     c.Available(),
		APIConfigured: c.Configured(),
		BaseURL:       c.cfg.BaseURL,
		Model:         c.cfg.Model,
		Circuit:       c.breaker.State().String(),
	}
}

// Generate runs one chat completion and returns the trimmed reply text.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	if !c.Configured() {
		return "", dserrors.New(dserrors.ErrCodeLLMUnavailable, "LLM API key not configured", nil).
			WithSuggestion("Set OPENAI_API_KEY (and optionally OPENAI_BASE_URL, LLM_MODEL)")
	}
	if !c.breaker.Allow() {
		return "", dserrors.New(dserrors.ErrCodeLLMUnavailable, "LLM circuit open", dserrors.ErrCircuitOpen)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		c.breaker.Release()
		if ctx.Err() != nil {
			return "", dserrors.ServiceError("llm", ctx.Err())
		}
		return "", dserrors.New(dserrors.ErrCodeRateLimited, "LLM rate limit exceeded", err)
	}

	start := time.Now()
	text, err := c.generate(ctx, req)
	elapsed := time.Since(start)
	c.metrics.ObserveLLM(req.Operation, elapsed, err)

	switch {
	case err == nil:
		c.breaker.RecordSuccess()
		c.logger.Debug("llm_call_completed",
			slog.String("operation", req.Operation),
			slog.Duration("duration", elapsed),
			slog.Int("reply_len", len(text)))
		return text, nil
	case ctx.Err() != nil:
		// The caller gave up; the service is not at fault.
		c.breaker.Release()
		return "", dserrors.ServiceError("llm", ctx.Err())
	default:
		c.breaker.RecordFailure()
		c.logger.Warn("llm_call_failed",
			slog.String("operation", req.Operation),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()))
		var de *dserrors.DocsearchError
		if errors.As(err, &de) {
			return "", de
		}
		return "", dserrors.ServiceError("llm", err)
	}
}

func (c *Client) generate(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	parts := []llms.ContentPart{llms.TextPart(req.Prompt)}
	if req.ImageURL != "" {
		parts = append(parts, llms.ImageURLPart(req.ImageURL))
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	resp, err := c.model.GenerateContent(callCtx,
		[]llms.MessageContent{{Role: llms.ChatMessageTypeHuman, Parts: parts}},
		llms.WithTemperature(req.Temperature),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", dserrors.New(dserrors.ErrCodeMalformedResponse, "LLM returned no choices", nil)
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

// Describe asks the model for a short text description of an image, used
// to embed image queries with a text embedder.
func (c *Client) Describe(ctx context.Context, imageURL string) (string, error) {
	if strings.TrimSpace(imageURL) == "" {
		return "", dserrors.InvalidParameter("image", "image reference is empty")
	}
	text, err := c.Generate(ctx, Request{
		Operation:   "describe",
		Prompt:      describePrompt,
		Temperature: 0.2,
		MaxTokens:   300,
		ImageURL:    imageURL,
	})
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", dserrors.New(dserrors.ErrCodeMalformedResponse, "empty image description", nil)
	}
	return text, nil
}

const describePrompt = "Describe this image in detail for document search. " +
	"Mention any visible text, document type, tables or charts. " +
	"Answer in the language of the visible text."

// String implements fmt.Stringer for logs.
func (s Status) String() string {
	return fmt.Sprintf("llm(configured=%t available=%t model=%s circuit=%s)", s.APIConfigured, s.Available, s.Model, s.Circuit)
}
