package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

// ProviderType names an embedding provider.
type ProviderType string

const (
	// ProviderOpenAI uses an OpenAI-compatible /embeddings API.
	ProviderOpenAI ProviderType = "openai"

	// ProviderOllama uses a local Ollama server.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings (no network).
	ProviderStatic ProviderType = "static"
)

// ParseProviderType normalises a provider name.
func ParseProviderType(s string) (ProviderType, error) {
	switch p := ProviderType(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderOpenAI, ProviderOllama, ProviderStatic:
		return p, nil
	default:
		return "", fmt.Errorf("unknown embedding provider %q (want openai, ollama or static)", s)
	}
}

// Config selects and configures the provider chain.
type Config struct {
	// Providers in priority order; the first two form the chain.
	Providers  []ProviderType
	Dimensions int
	CacheSize  int // 0 = DefaultEmbeddingCacheSize, <0 disables the cache

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	OllamaHost    string
	OllamaModel   string
	Timeout       time.Duration

	BreakerFailures int
	BreakerReset    time.Duration
}

// NewChainFromConfig builds the embedding chain. A provider that cannot be
// constructed (missing key, unreachable Ollama) is skipped with a warning;
// if none remain the static embedder is used alone. The primary provider
// is wrapped in an LRU cache.
func NewChainFromConfig(ctx context.Context, cfg Config, metrics *telemetry.Metrics, logger *slog.Logger) (*Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	kinds := cfg.Providers
	if len(kinds) == 0 {
		kinds = []ProviderType{ProviderOpenAI, ProviderStatic}
	}

	var providers []Provider
	for _, kind := range kinds {
		e, err := newProvider(ctx, kind, cfg, metrics)
		if err != nil {
			logger.Warn("embedding_provider_skipped",
				slog.String("provider", string(kind)),
				slog.String("error", err.Error()))
			continue
		}
		providers = append(providers, Provider{Name: string(kind), Embedder: e})
	}
	if len(providers) == 0 {
		providers = append(providers, Provider{Name: string(ProviderStatic), Embedder: NewStaticEmbedder(cfg.Dimensions)})
	}

	if cfg.CacheSize >= 0 {
		providers[0].Embedder = NewCachedEmbedder(providers[0].Embedder, cfg.CacheSize, metrics)
	}

	opts := []ChainOption{WithChainMetrics(metrics), WithChainLogger(logger)}
	if cfg.BreakerFailures > 0 || cfg.BreakerReset > 0 {
		opts = append(opts, WithBreaker(cfg.BreakerFailures, cfg.BreakerReset))
	}
	chain, err := NewChain(providers, opts...)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = p.Name
	}
	logger.Info("embedding_chain_ready",
		slog.String("providers", strings.Join(names, ",")),
		slog.String("model", chain.ModelName()),
		slog.Int("dimensions", chain.Dimensions()))
	return chain, nil
}

func newProvider(ctx context.Context, kind ProviderType, cfg Config, metrics *telemetry.Metrics) (Embedder, error) {
	switch kind {
	case ProviderOpenAI:
		return NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.OpenAIModel,
			Dimensions: cfg.Dimensions,
			Timeout:    cfg.Timeout,
			Metrics:    metrics,
		})
	case ProviderOllama:
		oc := DefaultOllamaConfig()
		if cfg.OllamaHost != "" {
			oc.Host = cfg.OllamaHost
		}
		if cfg.OllamaModel != "" {
			oc.Model = cfg.OllamaModel
		}
		if cfg.Timeout > 0 {
			oc.Timeout = cfg.Timeout
		}
		oc.Dimensions = cfg.Dimensions
		return NewOllamaEmbedder(ctx, oc)
	case ProviderStatic:
		return NewStaticEmbedder(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", kind)
	}
}
