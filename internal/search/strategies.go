package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/docsearch/internal/query"
	"github.com/Aman-CERP/docsearch/internal/store"
)

// Strategy is one retrieval path. Run returns candidates in final order;
// the orchestrator truncates to the limit and annotates them.
//
// Run must absorb failures of optional stages as notices on x. An error
// is returned only when ctx is done.
type Strategy interface {
	Name() string
	Description() string
	Run(ctx context.Context, x *execution) ([]ResultItem, error)
}

// minVariantLimit is the smallest per-variant depth for smart search.
const minVariantLimit = 3

// keywordStrategy ranks by BM25 alone.
type keywordStrategy struct{}

func (keywordStrategy) Name() string { return StrategyKeyword }

func (keywordStrategy) Description() string {
	return "BM25 keyword search with phrase, exclusion, file type and date filters"
}

func (keywordStrategy) Run(_ context.Context, x *execution) ([]ResultItem, error) {
	// Similarity is the BM25 score relative to the best match.
	ranked := NormalizeScores(x.lexical(x.parsed, x.limit))
	return x.items(ranked), nil
}

// vectorStrategy ranks by embedding similarity.
type vectorStrategy struct{}

func (vectorStrategy) Name() string { return StrategyVector }

func (vectorStrategy) Description() string {
	return "Semantic search over fragment embeddings"
}

func (vectorStrategy) Run(ctx context.Context, x *execution) ([]ResultItem, error) {
	items := x.items(x.vector(ctx, x.parsed, "", x.limit))
	if x.req.UseRerank {
		items = x.rerank(ctx, items, x.reranker())
	}
	return items, ctx.Err()
}

// hybridStrategy blends BM25 and vector similarity with alpha.
type hybridStrategy struct{}

func (hybridStrategy) Name() string { return StrategyHybrid }

func (hybridStrategy) Description() string {
	return "Weighted blend of BM25 and semantic similarity (alpha weights the vector side)"
}

func (hybridStrategy) Run(ctx context.Context, x *execution) ([]ResultItem, error) {
	items := x.items(x.hybrid(ctx, x.parsed, x.limit*2, x.alpha))
	if x.req.UseRerank {
		items = x.rerank(ctx, items, x.reranker())
	}
	return items, ctx.Err()
}

// smartStrategy expands the query, runs hybrid per variant, fuses with
// RRF and lets the LLM rerank the fused list.
type smartStrategy struct{}

func (smartStrategy) Name() string { return StrategySmart }

func (smartStrategy) Description() string {
	return "Query expansion, parallel hybrid search per variant, RRF fusion and LLM rerank"
}

func (s smartStrategy) Run(ctx context.Context, x *execution) ([]ResultItem, error) {
	var items []ResultItem
	if boolOr(x.req.UseQueryExpansion, true) {
		var err error
		items, err = s.expanded(ctx, x)
		if err != nil {
			return nil, err
		}
	} else {
		items = x.items(x.hybrid(ctx, x.parsed, x.limit*2, x.alpha))
	}

	if boolOr(x.req.UseLLMRerank, true) && len(items) > 0 {
		r := x.o.modelReranker
		if r == nil || !r.Available(ctx) {
			x.notice("rerank", codeLLMUnavailable, "LLM rerank unavailable; keeping fused order")
		} else {
			items = x.rerank(ctx, items, r)
		}
	}
	return items, ctx.Err()
}

func (smartStrategy) expanded(ctx context.Context, x *execution) ([]ResultItem, error) {
	text := x.parsed.VectorText()
	if strings.TrimSpace(text) == "" {
		return x.items(x.hybrid(ctx, x.parsed, x.limit*2, x.alpha)), nil
	}

	expCtx, cancel := context.WithTimeout(ctx, x.o.cfg.TaskTimeout)
	exp, err := x.o.expander.Expand(expCtx, text, x.req.ExpansionMethod, x.o.cfg.MaxVariants)
	cancel()
	if err != nil {
		return nil, err
	}
	if exp.Warning != nil {
		x.noticeErr("expansion", exp.Warning, "model expansion failed; used rule expansion")
	}
	x.meta.ExpansionMethod = exp.Method
	x.meta.ExpandedQueries = exp.Queries

	// Variants inherit the original filters; the first variant is the
	// original query itself.
	variants := make(map[string]query.ParsedQuery, len(exp.Queries))
	for i, v := range exp.Queries {
		if i == 0 {
			variants[v] = x.parsed
			continue
		}
		variants[v] = inheritFilters(query.Parse(v), x.parsed)
	}

	perVariant := max(minVariantLimit, x.limit/2)
	fused, failures, err := x.o.executor.Execute(ctx, exp.Queries, func(ctx context.Context, v string) ([]store.ScoredResult, error) {
		return x.hybrid(ctx, variants[v], perVariant, x.alpha), ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	for _, f := range failures {
		x.noticeErr("variant", f.Err, fmt.Sprintf("variant %q contributed no results", f.Variant))
	}
	return x.items(NormalizeScores(fused)), nil
}

func inheritFilters(v, from query.ParsedQuery) query.ParsedQuery {
	v.ExcludeTerms = from.ExcludeTerms
	v.ExactPhrases = from.ExactPhrases
	v.FileTypes = from.FileTypes
	v.DateRange = from.DateRange
	v.IsAdvanced = v.IsAdvanced || from.IsAdvanced
	return v
}

// multimodalStrategy searches by image description plus query text and
// blends in BM25 when the query has terms.
type multimodalStrategy struct{}

func (multimodalStrategy) Name() string { return StrategyMultimodal }

func (multimodalStrategy) Description() string {
	return "Image and text query: semantic search on the image description, blended with BM25"
}

func (multimodalStrategy) Run(ctx context.Context, x *execution) ([]ResultItem, error) {
	depth := x.limit * 2
	vec := x.vector(ctx, x.parsed, x.req.Image, depth)
	if len(x.parsed.LexicalTerms()) == 0 {
		return x.items(vec), ctx.Err()
	}
	lex := x.lexical(x.parsed, depth)
	return x.items(Combine(lex, vec, x.alpha)), ctx.Err()
}

func builtinStrategies() []Strategy {
	return []Strategy{
		keywordStrategy{},
		vectorStrategy{},
		hybridStrategy{},
		smartStrategy{},
		multimodalStrategy{},
	}
}
