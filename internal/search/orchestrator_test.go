package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/corpus"
	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/store"
	"github.com/Aman-CERP/docsearch/internal/telemetry"
)

// --- Test Helpers ---

func testCorpus() []store.Fragment {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return []store.Fragment{
		{ID: "f1", DocumentID: "d1", Filename: "2024财务.pdf", FileType: "pdf", Text: "2024年度财务报表 收入与支出汇总", CreatedAt: day},
		{ID: "f2", DocumentID: "d2", Filename: "草稿.pdf", FileType: "pdf", Text: "财务报表草稿 待审核", CreatedAt: day},
		{ID: "f3", DocumentID: "d3", Filename: "正式.docx", FileType: "docx", Text: "财务报表 正式版本", CreatedAt: day},
		{ID: "f4", DocumentID: "d4", Filename: "notes.txt", FileType: "txt", Text: "annual report 2024 budget overview", ChunkIndex: 0, CreatedAt: day},
		{ID: "f5", DocumentID: "d4", Filename: "notes.txt", FileType: "txt", Text: "meeting minutes for the budget plan", ChunkIndex: 1, CreatedAt: day},
	}
}

// fakeVector returns the same ranked hits for every query.
type fakeVector struct {
	hits []store.ScoredResult
	err  error

	mu      sync.Mutex
	queries []VectorQuery
}

func (f *fakeVector) Query(ctx context.Context, q VectorQuery) (VectorResults, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.err != nil {
		return VectorResults{}, f.err
	}
	out := make([]store.ScoredResult, len(f.hits))
	copy(out, f.hits)
	return VectorResults{Hits: out, Provider: "fake"}, nil
}

func (f *fakeVector) calls() []VectorQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]VectorQuery(nil), f.queries...)
}

func defaultVectorHits() []store.ScoredResult {
	return store.Rerank([]store.ScoredResult{
		{FragmentID: "f3", Score: 0.9, Source: store.SourceVector},
		{FragmentID: "f1", Score: 0.8, Source: store.SourceVector},
		{FragmentID: "f5", Score: 0.3, Source: store.SourceVector},
		{FragmentID: "f2", Score: 0.1, Source: store.SourceVector},
	})
}

// countingSource counts snapshot reads.
type countingSource struct {
	corpus.Source
	reads atomic.Int32
	err   error
}

func (s *countingSource) Fragments(ctx context.Context) ([]store.Fragment, error) {
	s.reads.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.Source.Fragments(ctx)
}

func newTestCache(t *testing.T) *store.IndexCache {
	t.Helper()
	tok, err := store.DefaultTokenizer()
	require.NoError(t, err)
	return store.NewIndexCache(tok, store.DefaultBM25Config())
}

func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *countingSource) {
	t.Helper()
	src := &countingSource{Source: corpus.NewMemorySource(testCorpus())}
	o, err := NewOrchestrator(src, newTestCache(t), opts...)
	require.NoError(t, err)
	return o, src
}

func alphaPtr(v float64) *float64 { return &v }

func resultIDs(resp *Response) []string {
	out := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		out[i] = r.ID
	}
	return out
}

func boolPtr(v bool) *bool { return &v }

func noticeStages(m Meta) []string {
	out := make([]string, len(m.Notices))
	for i, n := range m.Notices {
		out[i] = n.Stage
	}
	return out
}

// --- Construction ---

func TestNewOrchestrator_RequiresDependencies(t *testing.T) {
	_, err := NewOrchestrator(nil, newTestCache(t))
	assert.Error(t, err)

	_, err = NewOrchestrator(corpus.NewMemorySource(nil), nil)
	assert.Error(t, err)
}

func TestOrchestrator_Strategies(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	var names []string
	for _, s := range o.Strategies() {
		names = append(names, s.Name)
		assert.NotEmpty(t, s.Description)
	}

	assert.Equal(t, []string{"keyword", "vector", "hybrid", "smart", "multimodal"}, names)
}

// --- Validation ---

func TestOrchestrator_Search_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		code string
	}{
		{"zero limit", Request{Query: "q", Strategy: StrategyKeyword, Limit: 0}, dserrors.ErrCodeInvalidParameter},
		{"negative limit", Request{Query: "q", Strategy: StrategyKeyword, Limit: -1}, dserrors.ErrCodeInvalidParameter},
		{"alpha above one", Request{Query: "q", Strategy: StrategyHybrid, Limit: 5, Alpha: alphaPtr(1.5)}, dserrors.ErrCodeInvalidParameter},
		{"alpha below zero", Request{Query: "q", Strategy: StrategyHybrid, Limit: 5, Alpha: alphaPtr(-0.1)}, dserrors.ErrCodeInvalidParameter},
		{"unknown strategy", Request{Query: "q", Strategy: "psychic", Limit: 5}, dserrors.ErrCodeUnknownStrategy},
		{"multimodal without input", Request{Query: "  ", Strategy: StrategyMultimodal, Limit: 5}, dserrors.ErrCodeInvalidParameter},
		{"unknown expansion", Request{Query: "q", Strategy: StrategySmart, Limit: 5, ExpansionMethod: "magic"}, dserrors.ErrCodeInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, src := newTestOrchestrator(t)

			resp, err := o.Search(context.Background(), tt.req)

			require.Error(t, err)
			assert.Nil(t, resp)
			assert.Equal(t, tt.code, dserrors.GetCode(err))
			assert.True(t, dserrors.IsInvalidParameter(err))
			assert.Zero(t, src.reads.Load(), "validation must precede retrieval")
		})
	}
}

func TestOrchestrator_Search_LimitCapped(t *testing.T) {
	o, _ := newTestOrchestrator(t, WithConfig(Config{MaxLimit: 2}))

	resp, err := o.Search(context.Background(), Request{Query: "财务报表", Strategy: StrategyKeyword, Limit: 50})

	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, 2, o.Config().MaxLimit)
}

func TestOrchestrator_Search_DefaultStrategyIsHybrid(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	resp, err := o.Search(context.Background(), Request{Query: "budget", Limit: 5})

	require.NoError(t, err)
	assert.Equal(t, StrategyHybrid, resp.Meta.Strategy)
}

// --- Keyword ---

func TestOrchestrator_Keyword_EndToEnd(t *testing.T) {
	// Given: pdf fragments with and without "草稿" and a docx fragment
	o, _ := newTestOrchestrator(t)

	// When: searching with exclusion and file type
	resp, err := o.Search(context.Background(), Request{
		Query:    "财务报表 -草稿 filetype:pdf",
		Strategy: StrategyKeyword,
		Limit:    10,
	})

	// Then: only the pdf without "草稿" is returned
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	r := resp.Results[0]
	assert.Equal(t, "f1", r.ID)
	assert.Equal(t, 1, r.Rank)
	assert.InDelta(t, 1.0, r.Similarity, 1e-9)
	assert.Equal(t, []string{"财务报表"}, resp.Meta.MatchedKeywords)
	assert.Equal(t, []string{}, resp.Meta.ExpandedQueries)
	assert.Equal(t, RerankNone, resp.Meta.RerankMethod)
	require.NotEmpty(t, r.Highlights)
	h := r.Highlights[0]
	assert.Equal(t, "财务报表", string([]rune(r.ContentSnippet)[h.Start:h.End]))
	assert.Nil(t, r.Embedding)
}

func TestOrchestrator_Keyword_RankedByBM25(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	resp, err := o.Search(context.Background(), Request{Query: "budget", Strategy: StrategyKeyword, Limit: 10})

	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.GreaterOrEqual(t, resp.Results[0].Similarity, resp.Results[1].Similarity)
	for i, r := range resp.Results {
		assert.Equal(t, i+1, r.Rank)
		assert.Contains(t, r.Text, "budget")
	}
}

func TestOrchestrator_Keyword_FuzzyTermHighlightsVariant(t *testing.T) {
	// Given: a corpus that spells "budget" correctly
	o, _ := newTestOrchestrator(t)

	// When: searching for a misspelt fuzzy term
	resp, err := o.Search(context.Background(), Request{Query: "~budgat~", Strategy: StrategyKeyword, Limit: 10})

	// Then: the matched vocabulary term is reported and highlighted
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"f4", "f5"}, resultIDs(resp))
	assert.Equal(t, []string{"budget"}, resp.Meta.MatchedKeywords)
	for _, r := range resp.Results {
		assert.Equal(t, []string{"budget"}, r.MatchedTerms)
		require.NotEmpty(t, r.Highlights, r.ID)
		h := r.Highlights[0]
		assert.Equal(t, "budget", string([]rune(r.ContentSnippet)[h.Start:h.End]))
	}
}

func TestOrchestrator_PhraseAndExcludeHoldForEveryStrategy(t *testing.T) {
	for _, strategy := range []string{StrategyKeyword, StrategyVector, StrategyHybrid, StrategySmart} {
		t.Run(strategy, func(t *testing.T) {
			// Given: a vector channel that returns every fragment
			vec := &fakeVector{hits: defaultVectorHits()}
			o, _ := newTestOrchestrator(t, WithVectorSearcher(vec, "fake"))

			// When: the query requires a phrase and excludes a term
			resp, err := o.Search(context.Background(), Request{
				Query:           `"财务报表" -草稿`,
				Strategy:        strategy,
				Limit:           10,
				ExpansionMethod: ExpansionRule,
			})

			// Then: every result contains the phrase and none the excluded term
			require.NoError(t, err)
			require.NotEmpty(t, resp.Results)
			for _, r := range resp.Results {
				assert.Contains(t, r.Text, "财务报表")
				assert.NotContains(t, r.Text, "草稿")
			}
		})
	}
}

func TestOrchestrator_FileTypeFilterHoldsForEveryStrategy(t *testing.T) {
	for _, strategy := range []string{StrategyKeyword, StrategyVector, StrategyHybrid, StrategySmart, StrategyMultimodal} {
		t.Run(strategy, func(t *testing.T) {
			vec := &fakeVector{hits: defaultVectorHits()}
			o, _ := newTestOrchestrator(t, WithVectorSearcher(vec, "fake"))

			resp, err := o.Search(context.Background(), Request{
				Query:           "财务报表 budget",
				Strategy:        strategy,
				Limit:           10,
				FileTypes:       []string{".PDF"},
				ExpansionMethod: ExpansionRule,
			})

			require.NoError(t, err)
			require.NotEmpty(t, resp.Results)
			for _, r := range resp.Results {
				assert.Equal(t, "pdf", r.FileType)
			}
		})
	}
}

// --- Vector and hybrid ---

func TestOrchestrator_Vector(t *testing.T) {
	vec := &fakeVector{hits: defaultVectorHits()}
	o, _ := newTestOrchestrator(t, WithVectorSearcher(vec, "fake"))

	resp, err := o.Search(context.Background(), Request{Query: "财务", Strategy: StrategyVector, Limit: 2})

	require.NoError(t, err)
	assert.Equal(t, []string{"f3", "f1"}, itemIDs(resp.Results))
	assert.InDelta(t, 0.9, resp.Results[0].Similarity, 1e-9)
	calls := vec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "财务", calls[0].Text)
	assert.Equal(t, 2*DefaultSearchConfig().VectorMultiplier, calls[0].TopK)
}

func TestOrchestrator_Vector_NotConfigured(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	resp, err := o.Search(context.Background(), Request{Query: "财务", Strategy: StrategyVector, Limit: 5})

	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, []string{"vector"}, noticeStages(resp.Meta))
}

func TestOrchestrator_Hybrid_VectorFailureDegradesToLexical(t *testing.T) {
	// Given: a vector channel that fails
	vec := &fakeVector{err: dserrors.New(dserrors.ErrCodeEmbeddingFailed, "all embedding providers failed", nil)}
	o, _ := newTestOrchestrator(t, WithVectorSearcher(vec, "fake"))

	// When: searching hybrid
	resp, err := o.Search(context.Background(), Request{Query: "budget", Strategy: StrategyHybrid, Limit: 5})

	// Then: lexical results come back with a notice
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)
	require.Len(t, resp.Meta.Notices, 1)
	assert.Equal(t, "vector", resp.Meta.Notices[0].Stage)
	assert.Equal(t, dserrors.ErrCodeEmbeddingFailed, resp.Meta.Notices[0].Code)
	require.NotNil(t, resp.Meta.Alpha)
	assert.InDelta(t, 0.5, *resp.Meta.Alpha, 1e-9)
}

func TestOrchestrator_Hybrid_AlphaExtremes(t *testing.T) {
	vec := &fakeVector{hits: defaultVectorHits()}
	o, _ := newTestOrchestrator(t, WithVectorSearcher(vec, "fake"))
	ctx := context.Background()

	lexical, err := o.Search(ctx, Request{Query: "财务报表", Strategy: StrategyKeyword, Limit: 10})
	require.NoError(t, err)
	alphaZero, err := o.Search(ctx, Request{Query: "财务报表", Strategy: StrategyHybrid, Limit: 10, Alpha: alphaPtr(0)})
	require.NoError(t, err)
	alphaOne, err := o.Search(ctx, Request{Query: "财务报表", Strategy: StrategyHybrid, Limit: 10, Alpha: alphaPtr(1)})
	require.NoError(t, err)

	// alpha=0 keeps the lexical order for lexical hits; alpha=1 follows the vector list.
	assert.Equal(t, itemIDs(lexical.Results), itemIDs(alphaZero.Results)[:len(lexical.Results)])
	assert.Equal(t, []string{"f3", "f1", "f5", "f2"}, itemIDs(alphaOne.Results))
}

func TestOrchestrator_Hybrid_UseRerank(t *testing.T) {
	vec := &fakeVector{hits: defaultVectorHits()}
	o, _ := newTestOrchestrator(t, WithVectorSearcher(vec, "fake"))

	resp, err := o.Search(context.Background(), Request{Query: "budget plan", Strategy: StrategyHybrid, Limit: 3, UseRerank: true})

	require.NoError(t, err)
	assert.Equal(t, RerankLocal, resp.Meta.RerankMethod)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "f5", resp.Results[0].ID)
}

// --- Smart ---

func TestOrchestrator_Smart_ExpansionDisabledEqualsHybrid(t *testing.T) {
	// Given: identical vector behaviour for both runs
	vec := &fakeVector{hits: defaultVectorHits()}
	o, _ := newTestOrchestrator(t, WithVectorSearcher(vec, "fake"))
	ctx := context.Background()

	// When: smart runs with expansion disabled and hybrid with defaults
	smart, err := o.Search(ctx, Request{Query: "财务报表 budget", Strategy: StrategySmart, Limit: 5, UseQueryExpansion: boolPtr(false)})
	require.NoError(t, err)
	hybrid, err := o.Search(ctx, Request{Query: "财务报表 budget", Strategy: StrategyHybrid, Limit: 5})
	require.NoError(t, err)

	// Then: same ranking, same alpha, no expanded queries
	assert.Equal(t, itemIDs(hybrid.Results), itemIDs(smart.Results))
	for i := range hybrid.Results {
		assert.InDelta(t, hybrid.Results[i].Similarity, smart.Results[i].Similarity, 1e-12)
	}
	assert.Empty(t, smart.Meta.ExpandedQueries)
	assert.NotNil(t, smart.Meta.ExpandedQueries)
	assert.InDelta(t, 0.5, *smart.Meta.Alpha, 1e-9)
}

func TestOrchestrator_Smart_RuleExpansion(t *testing.T) {
	vec := &fakeVector{hits: defaultVectorHits()}
	o, _ := newTestOrchestrator(t, WithVectorSearcher(vec, "fake"))

	resp, err := o.Search(context.Background(), Request{
		Query:           "budget",
		Strategy:        StrategySmart,
		Limit:           4,
		ExpansionMethod: ExpansionRule,
		UseLLMRerank:    boolPtr(false),
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"budget", "forecast", "finance", "预算"}, resp.Meta.ExpandedQueries)
	assert.Equal(t, ExpansionRule, resp.Meta.ExpansionMethod)
	assert.Len(t, vec.calls(), 4)
	require.NotEmpty(t, resp.Results)
	assert.InDelta(t, 1.0, resp.Results[0].Similarity, 1e-9)
	assert.Positive(t, resp.Results[0].QueryHits)
	assert.Empty(t, resp.Meta.Notices)
	for _, q := range vec.calls() {
		assert.Equal(t, max(minVariantLimit, 4/2)*DefaultSearchConfig().VectorMultiplier, q.TopK)
	}
}

func TestOrchestrator_Smart_ModelExpansionFallsBack(t *testing.T) {
	// Given: an LLM that errors on every call
	fake := newFakeLLM("")
	fake.err = dserrors.ServiceError("llm", errors.New("502"))
	o, _ := newTestOrchestrator(t, WithLLM(fake))

	// When: smart search with model expansion and rerank
	resp, err := o.Search(context.Background(), Request{Query: "budget", Strategy: StrategySmart, Limit: 5})

	// Then: rules expand, rerank failure keeps the fused order, both reported
	require.NoError(t, err)
	assert.Equal(t, ExpansionRule, resp.Meta.ExpansionMethod)
	assert.Equal(t, "budget", resp.Meta.ExpandedQueries[0])
	assert.Contains(t, noticeStages(resp.Meta), "expansion")
	assert.Contains(t, noticeStages(resp.Meta), "rerank")
	assert.Equal(t, RerankNone, resp.Meta.RerankMethod)
	assert.NotEmpty(t, resp.Results)
}

func TestOrchestrator_Smart_LLMRerank(t *testing.T) {
	// Given: an LLM that grades the second fused candidate highest
	fake := newFakeLLM("1:2\n2:9")
	o, _ := newTestOrchestrator(t, WithLLM(fake))

	// When: smart search without expansion
	before, err := o.Search(context.Background(), Request{Query: "budget", Strategy: StrategySmart, Limit: 5,
		UseQueryExpansion: boolPtr(false), UseLLMRerank: boolPtr(false)})
	require.NoError(t, err)
	after, err := o.Search(context.Background(), Request{Query: "budget", Strategy: StrategySmart, Limit: 5,
		UseQueryExpansion: boolPtr(false)})
	require.NoError(t, err)

	// Then: the model's order is applied
	require.Len(t, before.Results, 2)
	assert.Equal(t, RerankModel, after.Meta.RerankMethod)
	assert.Equal(t, []string{before.Results[1].ID, before.Results[0].ID}, itemIDs(after.Results))
	assert.InDelta(t, 0.9, after.Results[0].Similarity, 1e-9)
}

func TestOrchestrator_Smart_LLMUnavailableSkipsRerank(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	resp, err := o.Search(context.Background(), Request{Query: "budget", Strategy: StrategySmart, Limit: 5,
		UseQueryExpansion: boolPtr(false)})

	require.NoError(t, err)
	assert.Equal(t, RerankNone, resp.Meta.RerankMethod)
	assert.Contains(t, noticeStages(resp.Meta), "rerank")
}

// --- Multimodal ---

func TestOrchestrator_Multimodal_ImageOnly(t *testing.T) {
	vec := &fakeVector{hits: defaultVectorHits()}
	o, _ := newTestOrchestrator(t, WithVectorSearcher(vec, "fake"))

	resp, err := o.Search(context.Background(), Request{Strategy: StrategyMultimodal, Image: "https://example.com/chart.png", Limit: 2})

	require.NoError(t, err)
	assert.Equal(t, []string{"f3", "f1"}, itemIDs(resp.Results))
	calls := vec.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "https://example.com/chart.png", calls[0].Image)
	assert.Empty(t, calls[0].Text)
}

func TestOrchestrator_Multimodal_BlendsLexical(t *testing.T) {
	vec := &fakeVector{hits: defaultVectorHits()}
	o, _ := newTestOrchestrator(t, WithVectorSearcher(vec, "fake"))

	resp, err := o.Search(context.Background(), Request{Query: "budget", Strategy: StrategyMultimodal, Image: "data:image/png;base64,AAAA", Limit: 10, Alpha: alphaPtr(0)})

	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Contains(t, []string{"f4", "f5"}, resp.Results[0].ID)
}

// --- Corpus state ---

func TestOrchestrator_EmptyCorpus(t *testing.T) {
	o, err := NewOrchestrator(corpus.NewMemorySource(nil), newTestCache(t))
	require.NoError(t, err)

	resp, err := o.Search(context.Background(), Request{Query: "anything", Strategy: StrategyKeyword, Limit: 5})

	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	require.Len(t, resp.Meta.Notices, 1)
	assert.Equal(t, dserrors.ErrCodeIndexUnavailable, resp.Meta.Notices[0].Code)
}

func TestOrchestrator_UnreadableCorpus(t *testing.T) {
	src := &countingSource{Source: corpus.NewMemorySource(nil), err: errors.New("disk gone")}
	o, err := NewOrchestrator(src, newTestCache(t))
	require.NoError(t, err)

	_, err = o.Search(context.Background(), Request{Query: "q", Strategy: StrategyKeyword, Limit: 5})

	assert.Equal(t, dserrors.ErrCodeIndexUnavailable, dserrors.GetCode(err))
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Search(ctx, Request{Query: "q", Strategy: StrategyKeyword, Limit: 5})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestOrchestrator_IndexBuiltOnceAndRebuiltOnChange(t *testing.T) {
	// Given: a mutable corpus
	mem := corpus.NewMemorySource(testCorpus())
	cache := newTestCache(t)
	o, err := NewOrchestrator(mem, cache)
	require.NoError(t, err)
	ctx := context.Background()
	req := Request{Query: "budget", Strategy: StrategyKeyword, Limit: 5}

	// When: searching twice with the corpus unchanged
	_, err = o.Search(ctx, req)
	require.NoError(t, err)
	_, err = o.Search(ctx, req)
	require.NoError(t, err)

	// Then: one build
	assert.Equal(t, int64(1), cache.Builds())

	// When: one fragment's text changes
	changed := testCorpus()[4]
	changed.Text = "budget budget budget"
	mem.Upsert(changed)
	resp, err := o.Search(ctx, req)
	require.NoError(t, err)

	// Then: exactly one rebuild and the new text is searchable
	assert.Equal(t, int64(2), cache.Builds())
	assert.Equal(t, "f5", resp.Results[0].ID)
}

// --- Auxiliary operations ---

func TestOrchestrator_PreviewExpansion(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	preview, err := o.PreviewExpansion(context.Background(), "合同", ExpansionRule)

	require.NoError(t, err)
	assert.Equal(t, "合同", preview.Original)
	assert.Equal(t, []string{"合同", "协议", "契约", "合约"}, preview.Expanded)
	assert.Equal(t, ExpansionRule, preview.Method)
	assert.False(t, preview.LLMAvailable)
}

func TestOrchestrator_PreviewExpansion_KeywordFallback(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	preview, err := o.PreviewExpansion(context.Background(), "合同", ExpansionModel)

	require.NoError(t, err)
	assert.Equal(t, "keyword_fallback", preview.Method)
	assert.NotEmpty(t, preview.Notice)
	assert.Equal(t, "合同", preview.Expanded[0])
}

func TestOrchestrator_PreviewExpansion_Validation(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.PreviewExpansion(context.Background(), " ", ExpansionRule)
	assert.True(t, dserrors.IsInvalidParameter(err))

	_, err = o.PreviewExpansion(context.Background(), "q", "magic")
	assert.True(t, dserrors.IsInvalidParameter(err))
}

func TestOrchestrator_LLMStatus(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	assert.False(t, o.LLMStatus(context.Background()).Available)

	fake := newFakeLLM("")
	o, _ = newTestOrchestrator(t, WithLLM(fake))
	status := o.LLMStatus(context.Background())
	assert.True(t, status.Available)
	assert.True(t, status.APIConfigured)
}

func TestOrchestrator_BatchSearch(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	results, err := o.BatchSearch(context.Background(), []string{"budget", "财务报表", "nothing-matches"}, 2)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "budget", results[0].Query)
	assert.Len(t, results[0].Results, 2)
	assert.Len(t, results[1].Results, 2)
	assert.Empty(t, results[2].Results)
	assert.NotNil(t, results[2].Results)
	for _, r := range results {
		assert.Empty(t, r.Error)
	}
}

func TestOrchestrator_BatchSearch_Validation(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.BatchSearch(context.Background(), nil, 5)
	assert.True(t, dserrors.IsInvalidParameter(err))

	_, err = o.BatchSearch(context.Background(), []string{"q"}, 0)
	assert.True(t, dserrors.IsInvalidParameter(err))
}

func TestOrchestrator_Stats(t *testing.T) {
	o, _ := newTestOrchestrator(t, WithVectorSearcher(&fakeVector{}, "hnsw"))

	stats, err := o.Stats(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 5, stats.TotalFragments)
	assert.Equal(t, 4, stats.TotalDocuments)
	assert.Equal(t, map[string]int{"pdf": 2, "docx": 1, "txt": 2}, stats.FileTypes)
	assert.Equal(t, "hnsw", stats.VectorBackend)
	assert.Equal(t, int64(1), stats.IndexBuilds)
	assert.Equal(t, 5, stats.Index.DocumentCount)
}

func TestOrchestrator_DocumentFragments(t *testing.T) {
	o, _ := newTestOrchestrator(t, WithConfig(Config{DocumentPreviewRunes: 10}))

	doc, err := o.DocumentFragments(context.Background(), "d4")

	require.NoError(t, err)
	assert.Equal(t, "notes.txt", doc.Filename)
	require.Len(t, doc.Fragments, 2)
	assert.Equal(t, "f4", doc.Fragments[0].ID)
	assert.Equal(t, "annual rep", doc.Fragments[0].Content)
	assert.True(t, doc.Fragments[0].Truncated)
	assert.Equal(t, 1, doc.Fragments[1].ChunkIndex)
}

func TestOrchestrator_DocumentFragments_NotFound(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.DocumentFragments(context.Background(), "missing")

	assert.Equal(t, dserrors.ErrCodeDocumentNotFound, dserrors.GetCode(err))
}

func TestOrchestrator_RecordsTelemetry(t *testing.T) {
	metrics := telemetry.NewMetrics()
	qm := telemetry.NewQueryMetrics(nil)
	defer func() { _ = qm.Close() }()
	o, _ := newTestOrchestrator(t, WithMetrics(metrics), WithQueryMetrics(qm))

	_, err := o.Search(context.Background(), Request{Query: "nothing-matches", Strategy: StrategyKeyword, Limit: 5})
	require.NoError(t, err)

	snap := qm.Snapshot()
	assert.Equal(t, int64(1), snap.StrategyCounts[StrategyKeyword])
	assert.Contains(t, snap.ZeroResultQueries, "nothing-matches")
}

// hangingVector blocks until its context is done.
type hangingVector struct{}

func (hangingVector) Query(ctx context.Context, _ VectorQuery) (VectorResults, error) {
	<-ctx.Done()
	return VectorResults{}, ctx.Err()
}

func TestOrchestrator_HungVectorDegradesToLexical(t *testing.T) {
	tests := []struct {
		name     string
		strategy string
		request  time.Duration
		task     time.Duration
	}{
		{"hybrid task timeout", StrategyHybrid, 5 * time.Second, 200 * time.Millisecond},
		{"hybrid request deadline first", StrategyHybrid, 300 * time.Millisecond, 5 * time.Second},
		{"smart variants", StrategySmart, 5 * time.Second, 200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a vector channel that never answers
			cfg := DefaultSearchConfig()
			cfg.RequestTimeout = tt.request
			cfg.TaskTimeout = tt.task
			o, _ := newTestOrchestrator(t, WithConfig(cfg), WithVectorSearcher(hangingVector{}, "hang"))

			// When: searching
			start := time.Now()
			resp, err := o.Search(context.Background(), Request{
				Query:           "budget",
				Strategy:        tt.strategy,
				Limit:           5,
				ExpansionMethod: ExpansionRule,
				UseLLMRerank:    boolPtr(false),
			})

			// Then: the lexical hits come back within the deadline with a vector timeout notice
			require.NoError(t, err)
			assert.Less(t, time.Since(start), 3*time.Second)
			assert.ElementsMatch(t, []string{"f4", "f5"}, resultIDs(resp))
			require.Contains(t, noticeStages(resp.Meta), "vector")
			for _, n := range resp.Meta.Notices {
				if n.Stage == "vector" {
					assert.Equal(t, dserrors.ErrCodeServiceTimeout, n.Code)
				}
			}
		})
	}
}
