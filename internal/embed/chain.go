package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

// Provider is a named Embedder guarded by its own circuit breaker.
type Provider struct {
	Name     string
	Embedder Embedder
	breaker  *dserrors.CircuitBreaker
}

// Result is an embedding plus the provider that produced it.
type Result struct {
	Vector   []float32
	Provider string
	Model    string
	// FellBack is true when the primary provider failed or was skipped.
	FellBack bool
	// PrimaryErr is the primary failure when FellBack is set.
	PrimaryErr error
}

// Chain embeds with a primary provider and makes at most one fallback
// attempt with the next provider. A provider whose breaker is open is
// skipped without a request.
type Chain struct {
	providers []*Provider
	metrics   *telemetry.Metrics
	logger    *slog.Logger
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithChainMetrics records provider calls and fallbacks.
func WithChainMetrics(m *telemetry.Metrics) ChainOption {
	return func(c *Chain) { c.metrics = m }
}

// WithChainLogger sets the logger.
func WithChainLogger(l *slog.Logger) ChainOption {
	return func(c *Chain) { c.logger = l }
}

// WithBreaker replaces a provider's default breaker settings.
func WithBreaker(maxFailures int, resetTimeout time.Duration) ChainOption {
	return func(c *Chain) {
		for _, p := range c.providers {
			p.breaker = dserrors.NewCircuitBreaker("embed:"+p.Name,
				dserrors.WithMaxFailures(maxFailures), dserrors.WithResetTimeout(resetTimeout))
		}
	}
}

// NewChain builds a chain from providers in priority order. Only the first
// two are consulted per request.
func NewChain(providers []Provider, opts ...ChainOption) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("embedding chain needs at least one provider")
	}
	c := &Chain{logger: slog.Default()}
	for i := range providers {
		p := providers[i]
		if p.Embedder == nil {
			return nil, fmt.Errorf("provider %q has no embedder", p.Name)
		}
		p.breaker = dserrors.NewCircuitBreaker("embed:" + p.Name)
		c.providers = append(c.providers, &p)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// EmbedQuery embeds text, falling back once on failure.
func (c *Chain) EmbedQuery(ctx context.Context, text string) (Result, error) {
	var primaryErr error
	attempts := min(2, len(c.providers))

	for i := 0; i < attempts; i++ {
		p := c.providers[i]
		if !p.breaker.Allow() {
			err := fmt.Errorf("%s: %w", p.Name, dserrors.ErrCircuitOpen)
			if i == 0 {
				primaryErr = err
				continue
			}
			return Result{}, c.exhausted(primaryErr, err)
		}

		start := time.Now()
		vec, err := p.Embedder.Embed(ctx, text)
		if err == nil {
			p.breaker.RecordSuccess()
			res := Result{Vector: vec, Provider: p.Name, Model: p.Embedder.ModelName()}
			if i > 0 {
				res.FellBack = true
				res.PrimaryErr = primaryErr
				c.metrics.ObserveEmbeddingFallback()
				c.logger.Warn("embedding_fallback",
					slog.String("provider", p.Name),
					slog.String("primary_error", primaryErr.Error()))
			}
			return res, nil
		}

		// A cancelled caller is not the provider's fault.
		if ctx.Err() != nil {
			p.breaker.Release()
			return Result{}, dserrors.ServiceError("embedding", ctx.Err())
		}
		p.breaker.RecordFailure()
		c.logger.Debug("embedding_provider_failed",
			slog.String("provider", p.Name),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))

		if i == 0 {
			primaryErr = err
			continue
		}
		return Result{}, c.exhausted(primaryErr, err)
	}
	return Result{}, c.exhausted(primaryErr, nil)
}

func (c *Chain) exhausted(primary, fallback error) error {
	cause := errors.Join(primary, fallback)
	return dserrors.New(dserrors.ErrCodeEmbeddingFailed, "all embedding providers failed", cause)
}

// Embed implements Embedder.
func (c *Chain) Embed(ctx context.Context, text string) ([]float32, error) {
	res, err := c.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return res.Vector, nil
}

// EmbedBatch implements Embedder with the same single-fallback policy.
func (c *Chain) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var errs []error
	for i := 0; i < min(2, len(c.providers)); i++ {
		p := c.providers[i]
		if !p.breaker.Allow() {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, dserrors.ErrCircuitOpen))
			continue
		}
		vecs, err := p.Embedder.EmbedBatch(ctx, texts)
		if err == nil {
			p.breaker.RecordSuccess()
			if i > 0 {
				c.metrics.ObserveEmbeddingFallback()
			}
			return vecs, nil
		}
		if ctx.Err() != nil {
			p.breaker.Release()
			return nil, dserrors.ServiceError("embedding", ctx.Err())
		}
		p.breaker.RecordFailure()
		errs = append(errs, err)
	}
	return nil, dserrors.New(dserrors.ErrCodeEmbeddingFailed, "all embedding providers failed", errors.Join(errs...))
}

// Dimensions returns the primary provider's dimension.
func (c *Chain) Dimensions() int {
	return c.providers[0].Embedder.Dimensions()
}

// ModelName returns the primary provider's model.
func (c *Chain) ModelName() string {
	return c.providers[0].Embedder.ModelName()
}

// Available reports whether any consulted provider is available.
func (c *Chain) Available(ctx context.Context) bool {
	for i := 0; i < min(2, len(c.providers)); i++ {
		if c.providers[i].Embedder.Available(ctx) {
			return true
		}
	}
	return false
}

// ProviderStatus describes one provider for diagnostics.
type ProviderStatus struct {
	Name    string `json:"name"`
	Model   string `json:"model"`
	Circuit string `json:"circuit"`
}

// Status reports each provider's breaker state.
func (c *Chain) Status() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, ProviderStatus{Name: p.Name, Model: p.Embedder.ModelName(), Circuit: p.breaker.State().String()})
	}
	return out
}

// Close closes every provider.
func (c *Chain) Close() error {
	var errs []error
	for _, p := range c.providers {
		if err := p.Embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

var _ Embedder = (*Chain)(nil)
