// Package telemetry records search telemetry: Prometheus collectors for the
// service and a local query tracker for tuning (strategy mix, top terms,
// recent zero-result queries, latency distribution). Nothing is reported
// to external services.
package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
)

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // 500ms-1s
	BucketSlow  LatencyBucket = "slow"  // >=1s
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	case ms < 1000:
		return BucketP1000
	default:
		return BucketSlow
	}
}

// =============================================================================
// Query Event
// =============================================================================

// QueryEvent is one finished search.
type QueryEvent struct {
	Query       string
	Strategy    string
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the search returned nothing.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// ExtractTerms extracts trackable terms from a query string. Terms are
// lowercased; Latin words shorter than 3 runes and single CJK runes are
// dropped. Query syntax prefixes are stripped.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var terms []string
	for _, w := range strings.Fields(query) {
		w = strings.Trim(w, `"~`)
		if strings.HasPrefix(w, "-") || strings.Contains(w, ":") {
			continue
		}
		n := utf8.RuneCountInString(w)
		if n >= 3 || (n == 2 && !isASCII(w)) {
			terms = append(terms, w)
		}
	}
	if len(terms) == 0 {
		return nil
	}
	return terms
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

// TermCount is a term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// =============================================================================
// Snapshot
// =============================================================================

// QueryMetricsSnapshot is an immutable copy of the tracked metrics.
type QueryMetricsSnapshot struct {
	StrategyCounts      map[string]int64        `json:"strategy_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	ExactRepeatCount    int64                   `json:"exact_repeat_count"`
	UniqueQueryCount    int64                   `json:"unique_query_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the percentage of zero-result queries.
func (s *QueryMetricsSnapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// ExactRepeatRate returns the share of queries seen before, in [0,1].
func (s *QueryMetricsSnapshot) ExactRepeatRate() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ExactRepeatCount) / float64(s.TotalQueries)
}

// =============================================================================
// Persistence
// =============================================================================

// QueryMetricsStore persists aggregated query metrics.
type QueryMetricsStore interface {
	SaveStrategyCounts(ctx context.Context, date string, counts map[string]int64) error
	GetStrategyCounts(ctx context.Context, from, to string) (map[string]int64, error)
	UpsertTermCounts(ctx context.Context, terms map[string]int64) error
	GetTopTerms(ctx context.Context, limit int) ([]TermCount, error)
	AddZeroResultQuery(ctx context.Context, query string, timestamp time.Time) error
	GetZeroResultQueries(ctx context.Context, limit int) ([]string, error)
	SaveLatencyCounts(ctx context.Context, date string, counts map[LatencyBucket]int64) error
	GetLatencyCounts(ctx context.Context, from, to string) (map[LatencyBucket]int64, error)
	Close() error
}

// =============================================================================
// Query Metrics
// =============================================================================

// QueryMetricsConfig configures the query tracker.
type QueryMetricsConfig struct {
	TopTermsCapacity      int           // Max terms tracked (default: 100)
	ZeroResultsCapacity   int           // Max distinct zero-result queries kept (default: 100)
	RecentQueriesCapacity int           // Max query hashes kept for repeat detection (default: 500)
	FlushInterval         time.Duration // Store flush period (default: 60s, 0 = no auto-flush)
}

// DefaultQueryMetricsConfig returns sensible defaults.
func DefaultQueryMetricsConfig() QueryMetricsConfig {
	return QueryMetricsConfig{
		TopTermsCapacity:      100,
		ZeroResultsCapacity:   100,
		RecentQueriesCapacity: 500,
		FlushInterval:         60 * time.Second,
	}
}

// QueryMetrics aggregates search telemetry in memory and optionally
// flushes it to a QueryMetricsStore. Safe for concurrent use.
type QueryMetrics struct {
	mu sync.RWMutex

	strategies       map[string]int64
	topTerms         *lru.Cache[string, int64]
	zeroResults      *lru.Cache[string, time.Time]
	latencies        map[LatencyBucket]int64
	recentQueries    *lru.Cache[string, struct{}]
	totalQueries     int64
	zeroResultCount  int64
	exactRepeatCount int64
	startTime        time.Time

	// Deltas since the last flush; the store accumulates.
	pendingStrategies map[string]int64
	pendingTerms      map[string]int64
	pendingLatencies  map[LatencyBucket]int64
	pendingZero       []QueryEvent

	store  QueryMetricsStore
	config QueryMetricsConfig
	stopCh chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueryMetrics creates a tracker with default configuration. A nil store
// keeps metrics in memory only.
func NewQueryMetrics(store QueryMetricsStore) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultQueryMetricsConfig())
}

// NewQueryMetricsWithConfig creates a tracker with custom configuration.
func NewQueryMetricsWithConfig(store QueryMetricsStore, cfg QueryMetricsConfig) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}
	if cfg.RecentQueriesCapacity <= 0 {
		cfg.RecentQueriesCapacity = 500
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	zeroResults, _ := lru.New[string, time.Time](cfg.ZeroResultsCapacity)
	recentQueries, _ := lru.New[string, struct{}](cfg.RecentQueriesCapacity)

	m := &QueryMetrics{
		strategies:        make(map[string]int64),
		topTerms:          topTerms,
		zeroResults:       zeroResults,
		latencies:         make(map[LatencyBucket]int64),
		recentQueries:     recentQueries,
		startTime:         time.Now(),
		pendingStrategies: make(map[string]int64),
		pendingTerms:      make(map[string]int64),
		pendingLatencies:  make(map[LatencyBucket]int64),
		store:             store,
		config:            cfg,
		stopCh:            make(chan struct{}),
		done:              make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		go m.flushLoop()
	} else {
		close(m.done)
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := m.Flush(context.Background()); err != nil {
				slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one finished search.
func (m *QueryMetrics) Record(event QueryEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.strategies[event.Strategy]++
	m.pendingStrategies[event.Strategy]++
	m.totalQueries++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pendingTerms[term]++
	}

	if event.IsZeroResult() {
		m.zeroResultCount++
		m.zeroResults.Add(normalizeQuery(event.Query), event.Timestamp)
		m.pendingZero = append(m.pendingZero, event)
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.pendingLatencies[bucket]++

	key := hashQuery(event.Query)
	if _, seen := m.recentQueries.Get(key); seen {
		m.exactRepeatCount++
	}
	m.recentQueries.Add(key, struct{}{})
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

func hashQuery(query string) string {
	hash := sha256.Sum256([]byte(normalizeQuery(query)))
	return hex.EncodeToString(hash[:16])
}

// Snapshot returns the current metrics.
func (m *QueryMetrics) Snapshot() *QueryMetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	strategies := make(map[string]int64, len(m.strategies))
	for k, v := range m.strategies {
		strategies[k] = v
	}

	var topTerms []TermCount
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			topTerms = append(topTerms, TermCount{Term: key, Count: count})
		}
	}
	sort.SliceStable(topTerms, func(i, j int) bool {
		if topTerms[i].Count != topTerms[j].Count {
			return topTerms[i].Count > topTerms[j].Count
		}
		return topTerms[i].Term < topTerms[j].Term
	})

	// Keys are oldest first; report newest first.
	keys := m.zeroResults.Keys()
	zero := make([]string, 0, len(keys))
	for i := len(keys) - 1; i >= 0; i-- {
		zero = append(zero, keys[i])
	}

	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	return &QueryMetricsSnapshot{
		StrategyCounts:      strategies,
		TopTerms:            topTerms,
		ZeroResultQueries:   zero,
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		ExactRepeatCount:    m.exactRepeatCount,
		UniqueQueryCount:    int64(m.recentQueries.Len()),
		Since:               m.startTime,
	}
}

// Flush writes the deltas recorded since the previous flush to the store.
// Safe to call without a store.
func (m *QueryMetrics) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	strategies, terms, latencies, zero := m.pendingStrategies, m.pendingTerms, m.pendingLatencies, m.pendingZero
	m.pendingStrategies = make(map[string]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingZero = nil
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	if len(strategies) > 0 {
		if err := m.store.SaveStrategyCounts(ctx, today, strategies); err != nil {
			return err
		}
	}
	if err := m.store.UpsertTermCounts(ctx, terms); err != nil {
		return err
	}
	if len(latencies) > 0 {
		if err := m.store.SaveLatencyCounts(ctx, today, latencies); err != nil {
			return err
		}
	}
	for _, ev := range zero {
		if err := m.store.AddZeroResultQuery(ctx, ev.Query, ev.Timestamp); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the flush loop, flushes once more and closes the store.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	<-m.done

	if m.store == nil {
		return nil
	}
	if err := m.Flush(context.Background()); err != nil {
		_ = m.store.Close()
		return err
	}
	return m.store.Close()
}
