package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/docsearch/internal/corpus"
	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/llm"
	"github.com/Aman-CERP/docsearch/internal/query"
	"github.com/Aman-CERP/docsearch/internal/store"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

const codeLLMUnavailable = dserrors.ErrCodeLLMUnavailable

// Orchestrator runs search requests against a corpus source.
//
// Each request reads the current fragment snapshot, obtains the matching
// lexical index from the cache and hands off to the requested Strategy.
// Optional stages degrade to notices; only invalid parameters and an
// unreadable corpus fail a request.
type Orchestrator struct {
	source corpus.Source
	cache  *store.IndexCache

	vector        VectorSearcher
	vectorBackend string
	llm           LLM
	expander      *QueryExpander
	executor      *MultiQueryExecutor
	reranker      Reranker
	modelReranker Reranker

	strategies map[string]Strategy
	order      []string

	cfg          Config
	metrics      *telemetry.Metrics
	queryMetrics *telemetry.QueryMetrics
	logger       *slog.Logger
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the search configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithVectorSearcher enables the vector channel. backend names it in Stats.
func WithVectorSearcher(v VectorSearcher, backend string) Option {
	return func(o *Orchestrator) {
		o.vector = v
		o.vectorBackend = backend
	}
}

// WithLLM sets the LLM used for model expansion, model rerank and status.
func WithLLM(client LLM) Option {
	return func(o *Orchestrator) { o.llm = client }
}

// WithExpander replaces the default query expander.
func WithExpander(e *QueryExpander) Option {
	return func(o *Orchestrator) { o.expander = e }
}

// WithReranker sets the reranker used when Request.UseRerank is set.
// Defaults to a LocalReranker.
func WithReranker(r Reranker) Option {
	return func(o *Orchestrator) { o.reranker = r }
}

// WithModelReranker replaces the LLM reranker used by the smart strategy.
func WithModelReranker(r Reranker) Option {
	return func(o *Orchestrator) { o.modelReranker = r }
}

// WithStrategy registers an additional strategy, replacing any with the same name.
func WithStrategy(s Strategy) Option {
	return func(o *Orchestrator) { o.register(s) }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithQueryMetrics records query telemetry.
func WithQueryMetrics(m *telemetry.QueryMetrics) Option {
	return func(o *Orchestrator) { o.queryMetrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewOrchestrator creates an orchestrator over source, caching lexical
// indexes in cache.
func NewOrchestrator(source corpus.Source, cache *store.IndexCache, opts ...Option) (*Orchestrator, error) {
	if source == nil {
		return nil, fmt.Errorf("corpus source is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("index cache is required")
	}

	o := &Orchestrator{
		source:     source,
		cache:      cache,
		strategies: make(map[string]Strategy),
		cfg:        DefaultSearchConfig(),
		logger:     slog.Default(),
	}
	for _, s := range builtinStrategies() {
		o.register(s)
	}
	for _, opt := range opts {
		opt(o)
	}
	o.cfg = o.cfg.withDefaults()

	if o.expander == nil {
		var model *ModelExpander
		if o.llm != nil {
			model = NewModelExpander(o.llm, DefaultModelExpansions)
		}
		o.expander = NewQueryExpander(model, NewRuleExpander(), o.logger)
	}
	if o.modelReranker == nil && o.llm != nil {
		o.modelReranker = NewModelReranker(o.llm)
	}
	o.executor = NewMultiQueryExecutor(
		WithParallelism(o.cfg.Parallelism),
		WithTaskTimeout(o.cfg.TaskTimeout),
		WithFusion(NewRRFFusionWithK(o.cfg.RRFConstant)),
		WithExecutorLogger(o.logger),
	)
	return o, nil
}

func (o *Orchestrator) register(s Strategy) {
	if _, ok := o.strategies[s.Name()]; !ok {
		o.order = append(o.order, s.Name())
	}
	o.strategies[s.Name()] = s
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Strategies lists the registered strategies in registration order.
func (o *Orchestrator) Strategies() []StrategyInfo {
	out := make([]StrategyInfo, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, StrategyInfo{Name: name, Description: o.strategies[name].Description()})
	}
	return out
}

// Search runs one request.
func (o *Orchestrator) Search(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	req, strategy, alpha, err := o.validate(req)
	if err != nil {
		o.metrics.ObserveSearch(req.Strategy, 0, time.Since(start), err)
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	x, err := o.prepare(reqCtx, req, alpha)
	if err != nil {
		o.metrics.ObserveSearch(req.Strategy, 0, time.Since(start), err)
		return nil, err
	}

	var items []ResultItem
	if x.index != nil {
		items, err = strategy.Run(reqCtx, x)
		if err != nil {
			if ctx.Err() != nil {
				o.metrics.ObserveSearch(req.Strategy, 0, time.Since(start), ctx.Err())
				return nil, ctx.Err()
			}
			if dserrors.IsInvalidParameter(err) {
				o.metrics.ObserveSearch(req.Strategy, 0, time.Since(start), err)
				return nil, err
			}
			// The request deadline passed; answer with what was gathered.
			x.noticeErr("request", dserrors.ServiceError("search", err), "search timed out")
		}
	}

	resp := o.finish(x, items)
	resp.Meta.TimingMS = time.Since(start).Milliseconds()

	o.metrics.ObserveSearch(req.Strategy, len(resp.Results), time.Since(start), nil)
	if o.queryMetrics != nil {
		o.queryMetrics.Record(telemetry.QueryEvent{
			Query:       req.Query,
			Strategy:    req.Strategy,
			ResultCount: len(resp.Results),
			Latency:     time.Since(start),
			Timestamp:   time.Now(),
		})
	}
	o.logger.Info("search_completed",
		slog.String("strategy", req.Strategy),
		slog.String("query", truncateRunes(req.Query, 50)),
		slog.Int("results", len(resp.Results)),
		slog.Int("candidates", resp.Meta.TotalCandidates),
		slog.Int("notices", len(resp.Meta.Notices)),
		slog.Duration("duration", time.Since(start)))
	return resp, nil
}

// validate applies defaults and rejects bad parameters before any work.
func (o *Orchestrator) validate(req Request) (Request, Strategy, float64, error) {
	req.Strategy = strings.ToLower(strings.TrimSpace(req.Strategy))
	if req.Strategy == "" {
		req.Strategy = StrategyHybrid
	}
	strategy, ok := o.strategies[req.Strategy]
	if !ok {
		return req, nil, 0, dserrors.New(dserrors.ErrCodeUnknownStrategy,
			fmt.Sprintf("unknown strategy %q (want one of %s)", req.Strategy, strings.Join(o.order, ", ")), nil).
			WithDetail("parameter", "strategy")
	}

	if req.Limit <= 0 {
		return req, nil, 0, dserrors.InvalidParameter("limit", fmt.Sprintf("limit must be > 0, got %d", req.Limit))
	}
	req.Limit = min(req.Limit, o.cfg.MaxLimit)

	alpha := o.cfg.DefaultAlpha
	if req.Alpha != nil {
		alpha = *req.Alpha
		if math.IsNaN(alpha) || alpha < 0 || alpha > 1 {
			return req, nil, 0, dserrors.InvalidParameter("alpha", fmt.Sprintf("alpha must be within [0,1], got %v", alpha))
		}
	}

	switch req.ExpansionMethod {
	case "", ExpansionModel, ExpansionRule:
	default:
		return req, nil, 0, dserrors.InvalidParameter("expansion_method",
			fmt.Sprintf("unknown expansion method %q (want %s or %s)", req.ExpansionMethod, ExpansionModel, ExpansionRule))
	}

	req.Image = strings.TrimSpace(req.Image)
	if req.Strategy == StrategyMultimodal && strings.TrimSpace(req.Query) == "" && req.Image == "" {
		return req, nil, 0, dserrors.InvalidParameter("query", "multimodal search needs a query or an image")
	}
	return req, strategy, alpha, nil
}

// prepare loads the snapshot and index. An empty corpus yields an
// execution without an index and an index notice.
func (o *Orchestrator) prepare(ctx context.Context, req Request, alpha float64) (*execution, error) {
	x := &execution{
		o:      o,
		req:    req,
		parsed: query.Parse(req.Query).WithFileTypes(req.FileTypes),
		limit:  req.Limit,
		alpha:  alpha,
		meta: Meta{
			Strategy:        req.Strategy,
			Query:           req.Query,
			ExpandedQueries: []string{},
			MatchedKeywords: []string{},
			RerankMethod:    RerankNone,
		},
	}
	if req.Strategy != StrategyKeyword && req.Strategy != StrategyVector {
		x.meta.Alpha = &x.alpha
	}

	idx, err := o.index(ctx)
	if err != nil {
		return nil, err
	}
	if idx == nil || idx.Len() == 0 {
		x.notice("index", dserrors.ErrCodeIndexUnavailable, "corpus is empty")
		return x, nil
	}
	x.index = idx
	return x, nil
}

// index returns the lexical index for the current snapshot.
func (o *Orchestrator) index(ctx context.Context) (*store.LexicalIndex, error) {
	fragments, err := o.source.Fragments(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, dserrors.New(dserrors.ErrCodeIndexUnavailable, "corpus snapshot unreadable", err)
	}
	if len(fragments) == 0 {
		return nil, nil
	}
	idx, err := o.cache.GetOrBuild(ctx, fragments)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, dserrors.New(dserrors.ErrCodeIndexUnavailable, "lexical index build failed", err)
	}
	return idx, nil
}

// finish truncates to the limit, annotates results and collects matched keywords.
func (o *Orchestrator) finish(x *execution, items []ResultItem) *Response {
	x.meta.TotalCandidates = len(items)
	if len(items) > x.limit {
		items = items[:x.limit]
	}

	seen := make(map[string]bool)
	results := make([]ResultItem, len(items))
	for i, item := range items {
		terms := x.index.MatchedTerms(x.parsed, item.ID)
		item.MatchedTerms = terms
		item.ContentSnippet, item.Highlights = Annotate(item.Text, terms, o.cfg.SnippetRunes)
		item.Rank = i + 1
		item.Embedding = nil
		results[i] = item

		for _, t := range terms {
			key := strings.ToLower(t)
			if !seen[key] {
				seen[key] = true
				x.meta.MatchedKeywords = append(x.meta.MatchedKeywords, t)
			}
		}
	}
	return &Response{Results: results, Meta: x.meta}
}

// PreviewExpansion expands query without searching.
func (o *Orchestrator) PreviewExpansion(ctx context.Context, q, method string) (*ExpansionPreview, error) {
	if strings.TrimSpace(q) == "" {
		return nil, dserrors.InvalidParameter("query", "query must not be empty")
	}
	exp, err := o.expander.Expand(ctx, q, method, o.cfg.MaxVariants)
	if err != nil {
		return nil, err
	}
	preview := &ExpansionPreview{
		Original:     q,
		Expanded:     exp.Queries,
		Method:       exp.Method,
		LLMAvailable: o.expander.ModelAvailable(),
	}
	if exp.Warning != nil {
		preview.Method = "keyword_fallback"
		preview.Notice = exp.Warning.Error()
	}
	return preview, nil
}

// statusReporter is implemented by *llm.Client.
type statusReporter interface {
	Status() llm.Status
}

// LLMStatus reports whether model expansion and rerank can be used.
func (o *Orchestrator) LLMStatus(context.Context) llm.Status {
	if o.llm == nil {
		return llm.Status{Circuit: dserrors.StateClosed.String()}
	}
	if r, ok := o.llm.(statusReporter); ok {
		return r.Status()
	}
	return llm.Status{Available: o.llm.Available(), APIConfigured: true}
}

// BatchSearch runs a hybrid search per query concurrently. A failed query
// reports its error in place; the batch itself fails only on bad input or
// cancellation.
func (o *Orchestrator) BatchSearch(ctx context.Context, queries []string, limit int) ([]BatchResult, error) {
	if len(queries) == 0 {
		return nil, dserrors.InvalidParameter("queries", "query list must not be empty")
	}
	if limit <= 0 {
		return nil, dserrors.InvalidParameter("limit", fmt.Sprintf("limit must be > 0, got %d", limit))
	}

	out := make([]BatchResult, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Parallelism)
	for i, q := range queries {
		g.Go(func() error {
			out[i] = BatchResult{Query: q, Results: []ResultItem{}}
			resp, err := o.Search(gctx, Request{Query: q, Strategy: StrategyHybrid, Limit: limit})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				out[i].Error = err.Error()
				return nil
			}
			out[i].Results = resp.Results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Stats summarises the corpus snapshot and its index.
func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	idx, err := o.index(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{
		FileTypes:     map[string]int{},
		IndexBuilds:   o.cache.Builds(),
		VectorBackend: o.vectorBackend,
	}
	if idx == nil {
		return stats, nil
	}
	docs := make(map[string]struct{})
	for _, f := range idx.Fragments() {
		docs[f.DocumentID] = struct{}{}
	}
	stats.TotalFragments = idx.Len()
	stats.TotalDocuments = len(docs)
	stats.FileTypes = idx.FileTypeCounts()
	stats.Index = idx.Stats()
	return stats, nil
}

// DocumentFragments returns a document's fragments in chunk order with
// content truncated to DocumentPreviewRunes.
func (o *Orchestrator) DocumentFragments(ctx context.Context, documentID string) (*Document, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, dserrors.InvalidParameter("document_id", "document id must not be empty")
	}
	fragments, err := o.source.Fragments(ctx)
	if err != nil {
		return nil, dserrors.New(dserrors.ErrCodeIndexUnavailable, "corpus snapshot unreadable", err)
	}
	parts := corpus.ByDocument(fragments, documentID)
	if len(parts) == 0 {
		return nil, dserrors.New(dserrors.ErrCodeDocumentNotFound,
			fmt.Sprintf("document %q not found", documentID), nil)
	}

	doc := &Document{
		DocumentID: documentID,
		Filename:   parts[0].Filename,
		FileType:   parts[0].FileType,
		Fragments:  make([]DocumentFragment, len(parts)),
	}
	for i, f := range parts {
		content := truncateRunes(f.Text, o.cfg.DocumentPreviewRunes)
		doc.Fragments[i] = DocumentFragment{
			ID:         f.ID,
			ChunkIndex: f.ChunkIndex,
			Content:    content,
			Truncated:  len(content) < len(f.Text),
		}
	}
	return doc, nil
}

// execution is the per-request state shared by a strategy's stages.
type execution struct {
	o      *Orchestrator
	req    Request
	parsed query.ParsedQuery
	index  *store.LexicalIndex
	limit  int
	alpha  float64

	mu   sync.Mutex
	meta Meta
}

func (x *execution) notice(stage, code, message string) {
	x.mu.Lock()
	x.meta.Notices = append(x.meta.Notices, Notice{Stage: stage, Code: code, Message: message})
	x.mu.Unlock()

	x.o.metrics.ObserveNotice(stage)
	x.o.logger.Warn("search_degraded",
		slog.String("stage", stage),
		slog.String("code", code),
		slog.String("message", message))
}

func (x *execution) noticeErr(stage string, err error, message string) {
	code := dserrors.GetCode(err)
	if code == "" && errors.Is(err, context.DeadlineExceeded) {
		code = dserrors.ErrCodeServiceTimeout
	}
	x.notice(stage, code, fmt.Sprintf("%s: %v", message, err))
}

// lexical runs BM25 for q.
func (x *execution) lexical(q query.ParsedQuery, topK int) []store.ScoredResult {
	return x.index.Search(q, topK)
}

// vector runs the vector channel under the task timeout and applies the
// query filters to its hits. Any failure is a notice and an empty list.
func (x *execution) vector(ctx context.Context, q query.ParsedQuery, image string, topK int) []store.ScoredResult {
	if x.o.vector == nil {
		x.notice("vector", dserrors.ErrCodeServiceUnavailable, "vector search is not configured")
		return nil
	}
	text := q.VectorText()
	if strings.TrimSpace(text) == "" && image == "" {
		return nil
	}

	// Leave a tenth of the caller's remaining time for fusion, so a hung
	// vector service still lets the lexical side answer.
	budget := x.o.cfg.TaskTimeout
	if deadline, ok := ctx.Deadline(); ok {
		budget = min(budget, time.Until(deadline)*9/10)
	}
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	res, err := x.o.vector.Query(ctx, VectorQuery{
		Text:      text,
		Image:     image,
		TopK:      topK * x.o.cfg.VectorMultiplier,
		FileTypes: q.FileTypes,
	})
	for _, n := range res.Notices {
		x.notice(n.Stage, n.Code, n.Message)
	}
	if err != nil {
		x.noticeErr("vector", err, "vector search failed")
		return nil
	}

	hits := make([]store.ScoredResult, 0, min(len(res.Hits), topK))
	for _, h := range res.Hits {
		f, ok := x.index.Fragment(h.FragmentID)
		if !ok || !q.Admits(f.Text, f.FileType, f.CreatedAt) {
			continue
		}
		hits = append(hits, h)
		if len(hits) == topK {
			break
		}
	}
	return store.Rerank(hits)
}

// hybrid queries both channels concurrently and blends them with Combine.
func (x *execution) hybrid(ctx context.Context, q query.ParsedQuery, topK int, alpha float64) []store.ScoredResult {
	var lex, vec []store.ScoredResult
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		vec = x.vector(ctx, q, "", topK)
	}()
	lex = x.lexical(q, topK)
	wg.Wait()
	return Combine(lex, vec, alpha)
}

// items materialises ranked results as ResultItems.
func (x *execution) items(ranked []store.ScoredResult) []ResultItem {
	out := make([]ResultItem, 0, len(ranked))
	for _, r := range ranked {
		f, ok := x.index.Fragment(r.FragmentID)
		if !ok {
			continue
		}
		out = append(out, ResultItem{
			Fragment:   f,
			Similarity: clamp01(r.Score),
			Rank:       len(out) + 1,
			QueryHits:  r.Hits,
		})
	}
	return out
}

// reranker is the configured reranker, or a LocalReranker over the
// index tokenizer.
func (x *execution) reranker() Reranker {
	if x.o.reranker != nil {
		return x.o.reranker
	}
	return NewLocalReranker(x.index.Tokenizer())
}

// rerank applies r; a failure is a notice and the order is kept.
func (x *execution) rerank(ctx context.Context, items []ResultItem, r Reranker) []ResultItem {
	if r == nil || len(items) == 0 {
		return items
	}
	start := time.Now()
	out, err := r.Rerank(ctx, x.parsed.VectorText(), items, x.limit)
	if err != nil {
		x.noticeErr("rerank", err, r.Method()+" rerank failed; keeping retrieval order")
		return items
	}
	x.meta.RerankMethod = r.Method()
	x.o.logger.Debug("rerank_completed",
		slog.String("method", r.Method()),
		slog.Int("candidates", len(items)),
		slog.Int("scored", out.Scored),
		slog.Duration("duration", time.Since(start)))
	return out.Items
}
