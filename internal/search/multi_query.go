package search

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Aman-CERP/docsearch/internal/store"
)

// VariantFunc retrieves a ranked list for one query variant.
type VariantFunc func(ctx context.Context, variant string) ([]store.ScoredResult, error)

// VariantFailure records a variant that contributed an empty list.
type VariantFailure struct {
	Variant string
	Err     error
}

// MultiQueryExecutor runs one retrieval per query variant concurrently and
// fuses the lists with RRF.
//
// Each variant runs under its own timeout. A variant that fails or times
// out contributes an empty list; the others are unaffected. Only the
// caller's cancellation aborts the whole execution.
type MultiQueryExecutor struct {
	fusion      *RRFFusion
	parallelism int64
	taskTimeout time.Duration
	logger      *slog.Logger
}

// MultiQueryOption configures the MultiQueryExecutor.
type MultiQueryOption func(*MultiQueryExecutor)

// WithParallelism sets the maximum number of parallel variant searches.
func WithParallelism(n int) MultiQueryOption {
	return func(m *MultiQueryExecutor) {
		if n > 0 {
			m.parallelism = int64(n)
		}
	}
}

// WithTaskTimeout sets the per-variant timeout.
func WithTaskTimeout(d time.Duration) MultiQueryOption {
	return func(m *MultiQueryExecutor) {
		if d > 0 {
			m.taskTimeout = d
		}
	}
}

// WithFusion replaces the RRF fusion (for a custom k).
func WithFusion(f *RRFFusion) MultiQueryOption {
	return func(m *MultiQueryExecutor) {
		if f != nil {
			m.fusion = f
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) MultiQueryOption {
	return func(m *MultiQueryExecutor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMultiQueryExecutor creates an executor with parallelism 4 and a 10s
// per-variant timeout.
func NewMultiQueryExecutor(opts ...MultiQueryOption) *MultiQueryExecutor {
	m := &MultiQueryExecutor{
		fusion:      NewRRFFusion(),
		parallelism: 4,
		taskTimeout: 10 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Execute runs fn for every variant and returns the fused list plus the
// variants that failed. The error is non-nil only when ctx is done.
func (m *MultiQueryExecutor) Execute(ctx context.Context, variants []string, fn VariantFunc) ([]store.ScoredResult, []VariantFailure, error) {
	start := time.Now()
	lists := make([][]store.ScoredResult, len(variants))
	errs := make([]error, len(variants))

	sem := semaphore.NewWeighted(m.parallelism)
	g, gctx := errgroup.WithContext(ctx)

	for i, variant := range variants {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			taskCtx, cancel := context.WithTimeout(gctx, m.taskTimeout)
			defer cancel()

			results, err := fn(taskCtx, variant)
			if err == nil {
				err = taskCtx.Err()
			}
			if err != nil {
				errs[i] = err
				return nil // a failed variant is an empty list, not a group failure
			}
			lists[i] = results
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var failures []VariantFailure
	for i, err := range errs {
		if err != nil {
			failures = append(failures, VariantFailure{Variant: variants[i], Err: err})
			m.logger.Warn("variant_failed",
				slog.String("variant", variants[i]),
				slog.String("error", err.Error()))
		}
	}

	fused := m.fusion.Fuse(lists)
	m.logger.Debug("multi_query_complete",
		slog.Int("variants", len(variants)),
		slog.Int("failed", len(failures)),
		slog.Int("results", len(fused)),
		slog.Duration("duration", time.Since(start)))
	return fused, failures, nil
}
