package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/docsearch/internal/config"
	"github.com/Aman-CERP/docsearch/internal/corpus"
	"github.com/Aman-CERP/docsearch/internal/embed"
	"github.com/Aman-CERP/docsearch/internal/llm"
	"github.com/Aman-CERP/docsearch/internal/search"
	"github.com/Aman-CERP/docsearch/internal/store"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

// app holds the wired runtime for one command invocation.
type app struct {
	cfg          *config.Config
	orchestrator *search.Orchestrator
	source       corpus.Source
	cache        *store.IndexCache
	vectors      *store.VectorSync
	metrics      *telemetry.Metrics
	queryMetrics *telemetry.QueryMetrics
	logger       *slog.Logger

	closers []func() error
}

// appOptions toggles the optional parts of the runtime.
type appOptions struct {
	// watch starts the snapshot watcher for jsonl corpora.
	watch bool
	// persistMetrics stores query telemetry in SQLite when configured.
	persistMetrics bool
}

// newApp wires the corpus, index cache, vector channel, LLM and reranker
// into an orchestrator.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{
		cfg:     cfg,
		metrics: telemetry.NewMetrics(),
		logger:  logger,
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.source, err = openSource(cfg.Corpus); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.source.Close)

	tok, err := store.DefaultTokenizer()
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer: %w", err)
	}
	a.cache = store.NewIndexCache(tok, cfg.BM25(),
		store.WithCacheLogger(logger),
		store.WithRebuildHook(func(stats store.IndexStats, d time.Duration) {
			a.metrics.ObserveIndexBuild(stats.DocumentCount, d)
		}),
		store.WithSnapshotHook(a.syncVectors),
	)

	client, err := llm.New(cfg.LLM, llm.WithMetrics(a.metrics), llm.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	orchOpts := []search.Option{
		search.WithConfig(cfg.SearchSettings()),
		search.WithLLM(client),
		search.WithMetrics(a.metrics),
		search.WithLogger(logger),
	}

	if cfg.Vector.Backend != config.VectorNone {
		vs, err := a.vectorSearcher(ctx, client)
		if err != nil {
			return nil, err
		}
		orchOpts = append(orchOpts, search.WithVectorSearcher(vs, cfg.Vector.Backend))
	}

	reranker, err := newReranker(ctx, cfg, client, tok, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, reranker.Close)
	orchOpts = append(orchOpts, search.WithReranker(reranker))

	if a.queryMetrics, err = openQueryMetrics(cfg.Telemetry, opts.persistMetrics); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.queryMetrics.Close)
	orchOpts = append(orchOpts, search.WithQueryMetrics(a.queryMetrics))

	if a.orchestrator, err = search.NewOrchestrator(a.source, a.cache, orchOpts...); err != nil {
		return nil, err
	}

	if opts.watch && cfg.Corpus.Watch {
		if fs, ok := a.source.(*corpus.FileSource); ok {
			go func() {
				if err := fs.Watch(ctx, cfg.Corpus.WatchDebounce, a.cache.Invalidate); err != nil {
					logger.Warn("snapshot_watch_stopped", slog.String("error", err.Error()))
				}
			}()
		}
	}
	return a, nil
}

// Close releases everything newApp opened, last opened first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close_failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}

func openSource(cfg config.CorpusConfig) (corpus.Source, error) {
	switch cfg.Kind {
	case config.CorpusJSONL:
		return corpus.NewFileSource(cfg.Path), nil
	case config.CorpusSQLite, "":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create corpus directory: %w", err)
		}
		return corpus.OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown corpus kind %q", cfg.Kind)
	}
}

// vectorSearcher builds the embedding chain and the configured vector store,
// loaded from the fragment embeddings of the current snapshot. Later
// snapshots reach the store through syncVectors.
func (a *app) vectorSearcher(ctx context.Context, describer search.ImageDescriber) (search.VectorSearcher, error) {
	embedCfg, err := a.cfg.EmbedSettings()
	if err != nil {
		return nil, err
	}
	chain, err := embed.NewChainFromConfig(ctx, embedCfg, a.metrics, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, chain.Close)

	var vectors store.VectorStore
	switch a.cfg.Vector.Backend {
	case config.VectorRedis:
		rs, err := store.NewRedisVectorStore(a.cfg.RedisVector())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rs.Close)
		if err := rs.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		vectors = rs
	default:
		hs, err := store.NewHNSWStore(a.cfg.HNSW())
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, hs.Close)
		vectors = hs
	}

	fragments, err := a.source.Fragments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus: %w", err)
	}
	a.vectors = store.NewVectorSync(vectors, embedCfg.Dimensions)
	stats, err := a.vectors.Sync(ctx, fragments)
	if err != nil {
		return nil, err
	}
	if stats.Skipped > 0 {
		a.logger.Warn("fragments_without_embedding",
			slog.Int("skipped", stats.Skipped),
			slog.Int("dimensions", embedCfg.Dimensions))
	}

	return search.NewEmbeddingVectorSearcher(chain, vectors,
		search.WithImageDescriber(describer),
		search.WithVectorLogger(a.logger),
	), nil
}

// syncVectors applies a rebuilt corpus snapshot to the vector store. On
// failure the store keeps the previous snapshot until the next rebuild.
func (a *app) syncVectors(ctx context.Context, fragments []store.Fragment) {
	if a.vectors == nil {
		return
	}
	stats, err := a.vectors.Sync(ctx, fragments)
	if err != nil {
		a.logger.Warn("vector_sync_failed", slog.String("error", err.Error()))
		return
	}
	if stats.Added > 0 || stats.Removed > 0 {
		a.logger.Info("vector_sync",
			slog.Int("added", stats.Added),
			slog.Int("removed", stats.Removed),
			slog.Int("skipped", stats.Skipped))
	}
}

// newReranker returns the reranker named by rerank.method. An unreachable
// HTTP reranker falls back to the local one.
func newReranker(ctx context.Context, cfg *config.Config, client *llm.Client, tok store.Tokenizer, logger *slog.Logger) (search.Reranker, error) {
	switch strings.ToLower(cfg.Rerank.Method) {
	case search.RerankModel:
		return search.NewModelReranker(client), nil
	case search.RerankHTTP:
		r, err := search.NewHTTPReranker(ctx, cfg.HTTPReranker())
		if err == nil {
			return r, nil
		}
		logger.Warn("http_reranker_unavailable",
			slog.String("endpoint", cfg.Rerank.Endpoint),
			slog.String("error", err.Error()))
		return search.NewLocalReranker(tok), nil
	case search.RerankLocal, "":
		return search.NewLocalReranker(tok), nil
	default:
		return nil, fmt.Errorf("unknown rerank method %q", cfg.Rerank.Method)
	}
}

// openQueryMetrics keeps query telemetry in memory, or in SQLite when a
// path is configured and persistence is requested.
func openQueryMetrics(cfg config.TelemetryConfig, persist bool) (*telemetry.QueryMetrics, error) {
	if !persist || cfg.QueryMetricsPath == "" {
		return telemetry.NewQueryMetrics(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.QueryMetricsPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}
	st, err := telemetry.OpenSQLiteMetricsStore(cfg.QueryMetricsPath)
	if err != nil {
		return nil, err
	}
	return telemetry.NewQueryMetrics(st), nil
}
