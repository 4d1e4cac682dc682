package search

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dserrors "github.com/Aman-CERP/docsearch/internal/errors"
	"github.com/Aman-CERP/docsearch/internal/store"
)

// --- Test Helpers ---

var whitespaceTokenizer = store.TokenizerFunc(func(text string) []string {
	return strings.Fields(strings.ToLower(text))
})

func candidates(texts ...string) []ResultItem {
	out := make([]ResultItem, len(texts))
	for i, text := range texts {
		out[i] = ResultItem{
			Fragment:   store.Fragment{ID: string(rune('a' + i)), Text: text, Filename: "f.txt"},
			Similarity: 0.5,
			Rank:       i + 1,
		}
	}
	return out
}

func itemIDs(items []ResultItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

// --- applyScores ---

func TestApplyScores_ScoredFirstThenOriginalOrder(t *testing.T) {
	// Given: four candidates, two of them scored
	items := candidates("one", "two", "three", "four")

	// When: scoring c and a
	out := applyScores(items, map[int]float64{2: 0.9, 0: 0.4})

	// Then: scored ones lead by score; the rest keep their order and similarity
	assert.Equal(t, []string{"c", "a", "b", "d"}, itemIDs(out.Items))
	assert.Equal(t, 2, out.Scored)
	assert.InDelta(t, 0.9, out.Items[0].Similarity, 1e-9)
	assert.InDelta(t, 0.5, out.Items[2].Similarity, 1e-9)
	for i, it := range out.Items {
		assert.Equal(t, i+1, it.Rank)
	}
}

func TestApplyScores_NeverDrops(t *testing.T) {
	items := candidates("one", "two", "three")

	out := applyScores(items, nil)

	assert.Equal(t, []string{"a", "b", "c"}, itemIDs(out.Items))
	assert.Zero(t, out.Scored)
}

func TestApplyScores_TiesKeepOriginalOrder(t *testing.T) {
	items := candidates("one", "two", "three")

	out := applyScores(items, map[int]float64{0: 0.5, 1: 0.5, 2: 0.5})

	assert.Equal(t, []string{"a", "b", "c"}, itemIDs(out.Items))
}

// --- LocalReranker ---

func TestLocalReranker_Rerank_ByCoverage(t *testing.T) {
	// Given: candidates with increasing query term coverage
	r := NewLocalReranker(whitespaceTokenizer)
	items := candidates("nothing relevant", "budget only", "annual budget plan")

	// When: reranking for "annual budget"
	out, err := r.Rerank(context.Background(), "annual budget", items, 0)

	// Then: full verbatim coverage first, no coverage last
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, itemIDs(out.Items))
	assert.InDelta(t, 1.0, out.Items[0].Similarity, 1e-9)
	assert.InDelta(t, 0.4, out.Items[1].Similarity, 1e-9)
	assert.InDelta(t, 0.0, out.Items[2].Similarity, 1e-9)
	assert.Equal(t, 3, out.Scored)
}

func TestLocalReranker_EmptyQueryKeepsOrder(t *testing.T) {
	r := NewLocalReranker(whitespaceTokenizer)

	out, err := r.Rerank(context.Background(), "   ", candidates("x", "y"), 0)

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, itemIDs(out.Items))
	assert.Zero(t, out.Scored)
}

func TestLocalReranker_Interface(t *testing.T) {
	r := NewLocalReranker(whitespaceTokenizer)

	assert.Equal(t, RerankLocal, r.Method())
	assert.True(t, r.Available(context.Background()))
	assert.NoError(t, r.Close())
}

// --- ModelReranker ---

func TestModelReranker_Rerank(t *testing.T) {
	// Given: the model grades the second candidate highest and skips the third
	fake := newFakeLLM("1:3\n2：9\n2:1\n7:10\nnoise")
	r := NewModelReranker(fake)
	items := candidates("first", "second", "third")

	// When: reranking
	out, err := r.Rerank(context.Background(), "q", items, 3)

	// Then: graded candidates lead, the ungraded one follows unchanged
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, itemIDs(out.Items))
	assert.InDelta(t, 0.9, out.Items[0].Similarity, 1e-9)
	assert.InDelta(t, 0.3, out.Items[1].Similarity, 1e-9)
	assert.InDelta(t, 0.5, out.Items[2].Similarity, 1e-9)
	assert.Equal(t, 2, out.Scored)

	req := fake.lastRequest()
	assert.Equal(t, "rerank", req.Operation)
	assert.Contains(t, req.Prompt, "[文档2]")
	assert.Contains(t, req.Prompt, "second")
}

func TestModelReranker_JudgesAtMostFifteen(t *testing.T) {
	texts := make([]string, 20)
	for i := range texts {
		texts[i] = "text"
	}
	fake := newFakeLLM("16:10\n1:5")
	r := NewModelReranker(fake)

	out, err := r.Rerank(context.Background(), "q", candidates(texts...), 10)

	require.NoError(t, err)
	assert.Len(t, out.Items, 20)
	assert.Equal(t, 1, out.Scored)
	assert.NotContains(t, fake.lastRequest().Prompt, "[文档16]")
}

func TestModelReranker_SnippetTruncated(t *testing.T) {
	long := strings.Repeat("长", 400)

	prompt := buildRerankPrompt("q", candidates(long))

	assert.Contains(t, prompt, strings.Repeat("长", ModelRerankSnippet))
	assert.NotContains(t, prompt, strings.Repeat("长", ModelRerankSnippet+1))
}

func TestModelReranker_NoScoresIsMalformed(t *testing.T) {
	r := NewModelReranker(newFakeLLM("I cannot rank these"))

	_, err := r.Rerank(context.Background(), "q", candidates("x"), 1)

	assert.Equal(t, dserrors.ErrCodeMalformedResponse, dserrors.GetCode(err))
}

func TestModelReranker_Unavailable(t *testing.T) {
	fake := newFakeLLM("")
	fake.available = false
	r := NewModelReranker(fake)

	_, err := r.Rerank(context.Background(), "q", candidates("x"), 1)

	assert.Equal(t, dserrors.ErrCodeLLMUnavailable, dserrors.GetCode(err))
	assert.False(t, r.Available(context.Background()))
	assert.Zero(t, fake.calls.Load())
}

func TestModelReranker_GenerateError(t *testing.T) {
	fake := newFakeLLM("")
	fake.err = errors.New("upstream down")

	_, err := NewModelReranker(fake).Rerank(context.Background(), "q", candidates("x"), 1)

	assert.Error(t, err)
}

func TestParseRerankScores_ClampsAndIgnoresJunk(t *testing.T) {
	scores := parseRerankScores("1: 12\n2:-4\n3:abc\n0:5\n4:7.5", 4)

	assert.Equal(t, map[int]float64{0: 1.0, 1: 0.0, 3: 0.75}, scores)
}

func TestParseRerankScores_NonFiniteLeavesCandidateUnscored(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  map[int]float64
	}{
		{name: "NaN", reply: "1:NaN\n2:6", want: map[int]float64{1: 0.6}},
		{name: "positive infinity", reply: "1:+Inf\n2:6", want: map[int]float64{1: 0.6}},
		{name: "negative infinity", reply: "1:-inf\n2:6", want: map[int]float64{1: 0.6}},
		{name: "infinity spelled out", reply: "1:Infinity\n2:6", want: map[int]float64{1: 0.6}},
		{name: "later finite score for the same index", reply: "1:nan\n1:8", want: map[int]float64{0: 0.8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// When: parsing a reply with a non-finite grade
			scores := parseRerankScores(tt.reply, 2)

			// Then: only finite grades are kept
			assert.Equal(t, tt.want, scores)
		})
	}
}

func TestModelReranker_NaNGradeKeepsOrderFinite(t *testing.T) {
	// Given: the model answers NaN for the first candidate
	r := NewModelReranker(newFakeLLM("1:NaN\n2:4"))
	items := candidates("first", "second", "third")

	// When: reranking
	out, err := r.Rerank(context.Background(), "q", items, 3)

	// Then: the NaN candidate is treated as ungraded and every similarity is a number
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, itemIDs(out.Items))
	assert.Equal(t, 1, out.Scored)
	for _, it := range out.Items {
		assert.False(t, math.IsNaN(it.Similarity), it.ID)
	}
}

// --- HTTPReranker ---

func newRerankServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/rerank", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPReranker_Rerank(t *testing.T) {
	// Given: a service that scores documents 2 and 0
	var got rerankRequest
	srv := newRerankServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"results":[{"index":2,"score":0.95},{"index":0,"score":0.2},{"index":9,"score":1}],"processing_time_ms":3}`))
	})
	r, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL, Instruction: "rank"})
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	// When: reranking three candidates
	out, err := r.Rerank(context.Background(), "query", candidates("x", "y", "z"), 2)

	// Then: scored ones lead and out-of-range indexes are ignored
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, itemIDs(out.Items))
	assert.Equal(t, 2, out.Scored)
	assert.Equal(t, []string{"x", "y", "z"}, got.Documents)
	assert.Equal(t, 2, got.TopK)
	assert.Equal(t, "rank", got.Instruction)
	assert.Equal(t, DefaultRerankerModel, got.Model)
	assert.Equal(t, RerankHTTP, r.Method())
	assert.True(t, r.Available(context.Background()))
}

func TestHTTPReranker_ServerError(t *testing.T) {
	srv := newRerankServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})
	r, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = r.Rerank(context.Background(), "q", candidates("x"), 1)

	require.Error(t, err)
	assert.Equal(t, dserrors.ErrCodeServiceUnavailable, dserrors.GetCode(err))
}

func TestHTTPReranker_HealthCheckFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: srv.URL, Timeout: time.Second})

	assert.Error(t, err)
}

func TestHTTPReranker_Closed(t *testing.T) {
	r, err := NewHTTPReranker(context.Background(), HTTPRerankerConfig{Endpoint: "http://127.0.0.1:1", SkipHealthCheck: true})
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Rerank(context.Background(), "q", candidates("x"), 1)

	assert.Error(t, err)
	assert.False(t, r.Available(context.Background()))
}
