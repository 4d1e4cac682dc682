package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// IndexCache holds the most recent LexicalIndex, keyed by corpus fingerprint.
//
// The fingerprint is recomputed on every GetOrBuild; the index is rebuilt
// only when it differs. Concurrent callers that need the same rebuild share
// it: the first one builds and the rest wait for its result. Readers keep
// the *LexicalIndex they were handed, so a swap never affects a search in
// flight.
type IndexCache struct {
	mu      sync.RWMutex
	current *LexicalIndex

	group     singleflight.Group
	tokenizer Tokenizer
	cfg       BM25Config
	logger    *slog.Logger
	onRebuild func(IndexStats, time.Duration)
	onChange  []func(context.Context, []Fragment)

	builds atomic.Int64
}

// IndexCacheOption configures an IndexCache.
type IndexCacheOption func(*IndexCache)

// WithCacheLogger sets the logger.
func WithCacheLogger(l *slog.Logger) IndexCacheOption {
	return func(c *IndexCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRebuildHook registers a callback invoked after every rebuild.
func WithRebuildHook(fn func(IndexStats, time.Duration)) IndexCacheOption {
	return func(c *IndexCache) {
		c.onRebuild = fn
	}
}

// WithSnapshotHook registers a callback that receives the fragments of
// every snapshot an index is built for, before waiting callers get the
// index. Hooks run in registration order.
func WithSnapshotHook(fn func(context.Context, []Fragment)) IndexCacheOption {
	return func(c *IndexCache) {
		c.onChange = append(c.onChange, fn)
	}
}

// NewIndexCache creates an empty cache.
func NewIndexCache(tokenizer Tokenizer, cfg BM25Config, opts ...IndexCacheOption) *IndexCache {
	c := &IndexCache{
		tokenizer: tokenizer,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrBuild returns an index matching fragments, building one if the cached
// entry is missing or stale. The build itself is not cancelled by ctx, since
// other callers may be waiting on it; ctx only bounds this caller's wait.
func (c *IndexCache) GetOrBuild(ctx context.Context, fragments []Fragment) (*LexicalIndex, error) {
	fp := Fingerprint(fragments)
	if idx := c.lookup(fp); idx != nil {
		return idx, nil
	}

	ch := c.group.DoChan(fp, func() (interface{}, error) {
		if idx := c.lookup(fp); idx != nil {
			return idx, nil
		}

		start := time.Now()
		buildCtx := context.WithoutCancel(ctx)
		idx, err := Fit(buildCtx, fragments, c.tokenizer, c.cfg)
		if err != nil {
			return nil, err
		}
		for _, fn := range c.onChange {
			fn(buildCtx, fragments)
		}

		c.mu.Lock()
		c.current = idx
		c.mu.Unlock()
		c.builds.Add(1)

		elapsed := time.Since(start)
		stats := idx.Stats()
		c.logger.Info("index_rebuilt",
			slog.Int("fragments", stats.DocumentCount),
			slog.Int("terms", stats.TermCount),
			slog.String("fingerprint", fp[:12]),
			slog.Duration("duration", elapsed))
		if c.onRebuild != nil {
			c.onRebuild(stats, elapsed)
		}
		return idx, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*LexicalIndex), nil
	}
}

func (c *IndexCache) lookup(fp string) *LexicalIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current != nil && c.current.fingerprint == fp {
		return c.current
	}
	return nil
}

// Current returns the cached index, or nil.
func (c *IndexCache) Current() *LexicalIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Invalidate drops the cached index. The next GetOrBuild rebuilds.
func (c *IndexCache) Invalidate() {
	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	c.logger.Debug("index_invalidated")
}

// Builds returns how many times an index has been built.
func (c *IndexCache) Builds() int64 {
	return c.builds.Load()
}
