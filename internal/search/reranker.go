package search

import (
	"context"
	"sort"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/store"
)

// RerankOutcome is a reranked candidate list.
type RerankOutcome struct {
	// Items holds every candidate: scored ones first by score descending,
	// then unscored ones in their original order.
	Items []ResultItem

	// Scored counts candidates that received a score.
	Scored int
}

// Reranker reorders candidates by relevance to the query.
//
// Implementations never drop candidates. topK is a hint for how many
// results the caller will keep; truncation is the caller's job. An error
// means nothing was scored and the caller keeps its order.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []ResultItem, topK int) (RerankOutcome, error)

	// Method names the reranker in response metadata.
	Method() string

	// Available checks if the reranker can be used.
	Available(ctx context.Context) bool

	// Close releases resources
	Close() error
}

// applyScores orders candidates by scores (index -> similarity in [0,1]).
// Scored candidates come first, descending, ties in original order; the
// rest follow in original order with their similarity unchanged.
func applyScores(candidates []ResultItem, scores map[int]float64) RerankOutcome {
	scored := make([]int, 0, len(scores))
	unscored := make([]int, 0, len(candidates)-len(scores))
	for i := range candidates {
		if _, ok := scores[i]; ok {
			scored = append(scored, i)
		} else {
			unscored = append(unscored, i)
		}
	}
	sort.SliceStable(scored, func(a, b int) bool {
		return scores[scored[a]] > scores[scored[b]]
	})

	items := make([]ResultItem, 0, len(candidates))
	for _, i := range scored {
		item := candidates[i]
		item.Similarity = clamp01(scores[i])
		items = append(items, item)
	}
	for _, i := range unscored {
		items = append(items, candidates[i])
	}
	for i := range items {
		items[i].Rank = i + 1
	}
	return RerankOutcome{Items: items, Scored: len(scored)}
}

// LocalReranker scores each (query, text) pair locally from term overlap:
// the share of query terms the fragment contains, plus a bonus when the
// whole query appears verbatim.
type LocalReranker struct {
	tokenizer store.Tokenizer
}

// NewLocalReranker creates a local reranker using tokenizer.
func NewLocalReranker(tokenizer store.Tokenizer) *LocalReranker {
	return &LocalReranker{tokenizer: tokenizer}
}

const (
	coverageWeight = 0.8
	verbatimBonus  = 0.2
)

// Rerank scores every candidate. A query with no terms leaves the order unchanged.
func (r *LocalReranker) Rerank(ctx context.Context, query string, candidates []ResultItem, _ int) (RerankOutcome, error) {
	terms := store.UniqueTerms(r.tokenizer, query)
	if len(terms) == 0 {
		return applyScores(candidates, nil), nil
	}
	phrase := strings.ToLower(strings.TrimSpace(query))

	scores := make(map[int]float64, len(candidates))
	for i, c := range candidates {
		if err := ctx.Err(); err != nil {
			// Partial result: what was scored so far leads.
			return applyScores(candidates, scores), nil
		}
		scores[i] = r.score(terms, phrase, c.Text)
	}
	return applyScores(candidates, scores), nil
}

func (r *LocalReranker) score(terms []string, phrase, text string) float64 {
	present := make(map[string]struct{})
	for _, t := range r.tokenizer.Tokenize(text) {
		present[t] = struct{}{}
	}
	matched := 0
	for _, t := range terms {
		if _, ok := present[t]; ok {
			matched++
		}
	}
	score := coverageWeight * float64(matched) / float64(len(terms))
	if phrase != "" && strings.Contains(strings.ToLower(text), phrase) {
		score += verbatimBonus
	}
	return clamp01(score)
}

// Method implements Reranker.
func (r *LocalReranker) Method() string { return RerankLocal }

// Available always returns true for LocalReranker.
func (r *LocalReranker) Available(context.Context) bool { return true }

// Close is a no-op for LocalReranker.
func (r *LocalReranker) Close() error { return nil }

// Verify interface implementation at compile time
var _ Reranker = (*LocalReranker)(nil)
