// Package api exposes the search orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/llm"
	"github.com/Aman-CERP/docsearch/internal/search"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
	"github.com/Aman-CERP/docsearch/pkg/version"
)

// maxBatchSize bounds the queries of one batch request.
const maxBatchSize = 100

// maxBodyBytes bounds request bodies; multimodal requests may carry a data URI.
const maxBodyBytes = 8 << 20

// Searcher is the orchestrator surface served over HTTP.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
	BatchSearch(ctx context.Context, queries []string, limit int) ([]search.BatchResult, error)
	Strategies() []search.StrategyInfo
	PreviewExpansion(ctx context.Context, query, method string) (*search.ExpansionPreview, error)
	LLMStatus(ctx context.Context) llm.Status
	Stats(ctx context.Context) (*search.Stats, error)
	DocumentFragments(ctx context.Context, documentID string) (*search.Document, error)
	Config() search.Config
}

// Server handles the retrieval API.
type Server struct {
	searcher Searcher
	metrics  *telemetry.Metrics
	queries  *telemetry.QueryMetrics
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithMetrics records HTTP metrics and serves /metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithQueryMetrics serves the query telemetry snapshot.
func WithQueryMetrics(m *telemetry.QueryMetrics) Option {
	return func(s *Server) { s.queries = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates an API server over searcher.
func NewServer(searcher Searcher, opts ...Option) *Server {
	s := &Server{searcher: searcher, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(chiMiddleware.RequestID)
	r.Use(s.requestLog)
	r.Use(s.metrics.Middleware())

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api/retrieval", func(r chi.Router) {
		r.Get("/search", s.semanticSearch)
		r.Post("/search", s.search)
		r.Post("/hybrid-search", s.hybridSearch)
		r.Post("/smart-search", s.smartSearch)
		r.Post("/batch-search", s.batchSearch)
		r.Get("/document/{documentID}", s.document)
		r.Get("/stats", s.stats)
		r.Get("/strategies", s.strategies)
		r.Get("/expand-query", s.expandQuery)
		r.Get("/llm-status", s.llmStatus)
		r.Get("/query-metrics", s.queryMetrics)
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_server_started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("http_server_stopped")
	return nil
}

// envelope is the response body of every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Data    any             `json:"data,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body, mErr := dserrors.FormatJSON(err)
	if mErr != nil {
		body = []byte(`{"code":"` + dserrors.ErrCodeInternal + `","message":"internal error"}`)
	}
	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	s.logger.Log(r.Context(), level, "api_error",
		append([]any{slog.String("path", r.URL.Path), slog.Int("status", status)}, dserrors.LogAttrs(err)...)...)
	writeJSON(w, status, envelope{Success: false, Error: body})
}

// statusFor maps an error code to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	switch dserrors.GetCode(err) {
	case dserrors.ErrCodeInvalidParameter, dserrors.ErrCodeUnknownStrategy:
		return http.StatusBadRequest
	case dserrors.ErrCodeDocumentNotFound:
		return http.StatusNotFound
	case dserrors.ErrCodeIndexUnavailable, dserrors.ErrCodeServiceUnavailable, dserrors.ErrCodeServiceTimeout:
		return http.StatusServiceUnavailable
	case dserrors.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return dserrors.InvalidParameter("body", "invalid request body: "+err.Error())
	}
	return nil
}

// --- Handlers ---

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeData(w, map[string]string{"status": "ok", "version": version.Version})
}

// semanticSearch handles GET /search: vector search with query parameters.
func (s *Server) semanticSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), s.searcher.Config().DefaultLimit)
	if err != nil {
		s.writeError(w, r, dserrors.InvalidParameter("limit", "limit must be an integer"))
		return
	}
	req := search.Request{
		Query:     q.Get("query"),
		Strategy:  search.StrategyVector,
		Limit:     limit,
		UseRerank: q.Get("use_rerank") == "true",
		FileTypes: splitList(q.Get("file_types")),
	}
	s.runSearch(w, r, req)
}

// search handles POST /search with any strategy.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req search.Request
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runSearch(w, r, req)
}

type hybridRequest struct {
	Query     string   `json:"query"`
	Limit     int      `json:"limit"`
	Alpha     *float64 `json:"alpha"`
	UseRerank *bool    `json:"use_rerank"`
	FileTypes []string `json:"file_types"`
}

func (s *Server) hybridSearch(w http.ResponseWriter, r *http.Request) {
	var body hybridRequest
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runSearch(w, r, search.Request{
		Query:     body.Query,
		Strategy:  search.StrategyHybrid,
		Limit:     body.Limit,
		Alpha:     body.Alpha,
		UseRerank: body.UseRerank == nil || *body.UseRerank,
		FileTypes: body.FileTypes,
	})
}

type smartRequest struct {
	Query             string   `json:"query"`
	Limit             int      `json:"limit"`
	UseQueryExpansion *bool    `json:"use_query_expansion"`
	UseLLMRerank      *bool    `json:"use_llm_rerank"`
	ExpansionMethod   string   `json:"expansion_method"`
	FileTypes         []string `json:"file_types"`
}

func (s *Server) smartSearch(w http.ResponseWriter, r *http.Request) {
	var body smartRequest
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runSearch(w, r, search.Request{
		Query:             body.Query,
		Strategy:          search.StrategySmart,
		Limit:             body.Limit,
		UseQueryExpansion: body.UseQueryExpansion,
		UseLLMRerank:      body.UseLLMRerank,
		ExpansionMethod:   body.ExpansionMethod,
		FileTypes:         body.FileTypes,
	})
}

// runSearch applies the boundary defaults and runs req.
func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, req search.Request) {
	if strings.TrimSpace(req.Query) == "" && req.Strategy != search.StrategyMultimodal {
		s.writeError(w, r, dserrors.InvalidParameter("query", "query must not be empty"))
		return
	}
	if req.Limit == 0 {
		req.Limit = s.searcher.Config().DefaultLimit
	}
	req.ExpansionMethod = search.CanonicalExpansionMethod(req.ExpansionMethod)

	resp, err := s.searcher.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, resp)
}

type batchRequest struct {
	Queries []string `json:"queries"`
	Limit   int      `json:"limit"`
}

type batchResponse struct {
	TotalQueries int                  `json:"total_queries"`
	Results      []search.BatchResult `json:"batch_results"`
}

func (s *Server) batchSearch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if err := s.decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(body.Queries) > maxBatchSize {
		s.writeError(w, r, dserrors.InvalidParameter("queries", "at most 100 queries per batch"))
		return
	}
	if body.Limit == 0 {
		body.Limit = 5
	}
	results, err := s.searcher.BatchSearch(r.Context(), body.Queries, body.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, batchResponse{TotalQueries: len(results), Results: results})
}

func (s *Server) document(w http.ResponseWriter, r *http.Request) {
	doc, err := s.searcher.DocumentFragments(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, doc)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.searcher.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, stats)
}

func (s *Server) strategies(w http.ResponseWriter, _ *http.Request) {
	writeData(w, s.searcher.Strategies())
}

func (s *Server) expandQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	method := search.CanonicalExpansionMethod(q.Get("method"))
	if method == "" {
		method = search.ExpansionModel
	}
	preview, err := s.searcher.PreviewExpansion(r.Context(), q.Get("query"), method)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeData(w, preview)
}

type llmStatusResponse struct {
	LLMAvailable  bool   `json:"llm_available"`
	APIConfigured bool   `json:"api_configured"`
	BaseURL       string `json:"base_url"`
	Model         string `json:"model"`
	Circuit       string `json:"circuit,omitempty"`
}

func (s *Server) llmStatus(w http.ResponseWriter, r *http.Request) {
	st := s.searcher.LLMStatus(r.Context())
	writeData(w, llmStatusResponse{
		LLMAvailable:  st.Available,
		APIConfigured: st.APIConfigured,
		BaseURL:       st.BaseURL,
		Model:         st.Model,
		Circuit:       st.Circuit,
	})
}

func (s *Server) queryMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.queries == nil {
		writeData(w, nil)
		return
	}
	writeData(w, s.queries.Snapshot())
}

// --- Middleware ---

// recoverer turns a panic into a JSON 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				s.logger.Error("panic_recovered",
					slog.Any("panic", rvr),
					slog.String("stack", string(debug.Stack())))
				s.writeError(w, r, dserrors.InternalError("internal error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestLog emits one log line per request and propagates X-Request-ID.
func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chiMiddleware.GetReqID(r.Context())
		if requestID != "" {
			w.Header().Set("X-Request-ID", requestID)
		}

		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http_request",
			slog.String("request_id", requestID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.Int("response_bytes", ww.BytesWritten()))
	})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
