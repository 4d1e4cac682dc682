package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docsearch"

// Metrics holds the Prometheus collectors for the search service. Each
// Metrics owns its registry so tests and embedded uses never collide on
// the global default registerer.
//
// All methods are safe on a nil *Metrics and do nothing.
type Metrics struct {
	registry *prometheus.Registry

	SearchRequestsTotal  *prometheus.CounterVec
	SearchDuration       *prometheus.HistogramVec
	SearchResults        *prometheus.HistogramVec
	SearchNoticesTotal   *prometheus.CounterVec
	IndexRebuildsTotal   prometheus.Counter
	IndexBuildDuration   prometheus.Histogram
	IndexFragments       prometheus.Gauge
	EmbeddingRequests    *prometheus.CounterVec
	EmbeddingDuration    *prometheus.HistogramVec
	EmbeddingTokensTotal *prometheus.CounterVec
	EmbeddingCacheTotal  *prometheus.CounterVec
	EmbeddingFallbacks   prometheus.Counter
	LLMRequestsTotal     *prometheus.CounterVec
	LLMRequestDuration   *prometheus.HistogramVec
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers every collector on a fresh registry.
// The registry also carries the Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		SearchRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_requests_total",
				Help:      "Total number of search requests",
			},
			[]string{"strategy", "status"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "Search duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"strategy"},
		),
		SearchResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_results",
				Help:      "Number of results returned per search",
				Buckets:   []float64{0, 1, 5, 10, 20, 50, 100},
			},
			[]string{"strategy"},
		),
		SearchNoticesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_notices_total",
				Help:      "Degradation notices attached to search responses",
			},
			[]string{"stage"},
		),
		IndexRebuildsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_rebuilds_total",
			Help:      "Total number of lexical index rebuilds",
		}),
		IndexBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_build_duration_seconds",
			Help:      "Lexical index build duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		IndexFragments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_fragments",
			Help:      "Fragments in the current lexical index",
		}),
		EmbeddingRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_requests_total",
				Help:      "Total number of embedding requests",
			},
			[]string{"provider", "model", "status"},
		),
		EmbeddingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "embedding_request_duration_seconds",
				Help:      "Embedding request duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "model"},
		),
		EmbeddingTokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_tokens_total",
				Help:      "Total embedding tokens consumed",
			},
			[]string{"provider", "model"},
		),
		EmbeddingCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_cache_total",
				Help:      "Embedding cache hits and misses",
			},
			[]string{"result"}, // "hit" / "miss"
		),
		EmbeddingFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_fallbacks_total",
			Help:      "Embedding requests served by a fallback provider",
		}),
		LLMRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total number of LLM requests",
			},
			[]string{"operation", "status"},
		),
		LLMRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "LLM request duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path", "status"},
		),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SearchRequestsTotal,
		m.SearchDuration,
		m.SearchResults,
		m.SearchNoticesTotal,
		m.IndexRebuildsTotal,
		m.IndexBuildDuration,
		m.IndexFragments,
		m.EmbeddingRequests,
		m.EmbeddingDuration,
		m.EmbeddingTokensTotal,
		m.EmbeddingCacheTotal,
		m.EmbeddingFallbacks,
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveSearch records one finished search.
func (m *Metrics) ObserveSearch(strategy string, results int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(strategy, statusLabel(err)).Inc()
	m.SearchDuration.WithLabelValues(strategy).Observe(d.Seconds())
	if err == nil {
		m.SearchResults.WithLabelValues(strategy).Observe(float64(results))
	}
}

// ObserveNotice counts a degradation notice for a pipeline stage.
func (m *Metrics) ObserveNotice(stage string) {
	if m == nil {
		return
	}
	m.SearchNoticesTotal.WithLabelValues(stage).Inc()
}

// ObserveIndexBuild records a lexical index rebuild.
func (m *Metrics) ObserveIndexBuild(fragments int, d time.Duration) {
	if m == nil {
		return
	}
	m.IndexRebuildsTotal.Inc()
	m.IndexBuildDuration.Observe(d.Seconds())
	m.IndexFragments.Set(float64(fragments))
}

// ObserveEmbedding records one embedding request.
func (m *Metrics) ObserveEmbedding(provider, model string, tokens int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.EmbeddingRequests.WithLabelValues(provider, model, statusLabel(err)).Inc()
	m.EmbeddingDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	if tokens > 0 {
		m.EmbeddingTokensTotal.WithLabelValues(provider, model).Add(float64(tokens))
	}
}

// ObserveEmbeddingCache counts an embedding cache lookup.
func (m *Metrics) ObserveEmbeddingCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.EmbeddingCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	m.EmbeddingCacheTotal.WithLabelValues("miss").Inc()
}

// ObserveEmbeddingFallback counts a request answered by a fallback provider.
func (m *Metrics) ObserveEmbeddingFallback() {
	if m == nil {
		return
	}
	m.EmbeddingFallbacks.Inc()
}

// ObserveLLM records one LLM call.
func (m *Metrics) ObserveLLM(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(operation, statusLabel(err)).Inc()
	m.LLMRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// Middleware records HTTP request duration and count.
func (m *Metrics) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if m == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			status := strconv.Itoa(ww.status)
			path := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				// Route patterns keep label cardinality bounded.
				path = rctx.RoutePattern()
			}

			m.HTTPRequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
			m.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		})
	}
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.status = status
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}
