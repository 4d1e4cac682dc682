package search

import (
	"sort"

	"github.com/Aman-CERP/docsearch/internal/store"
)

// hybridEntry tracks one fragment across both channels.
type hybridEntry struct {
	id      string
	lexNorm float64
	vecNorm float64
	lexRank int // 1-based, 0 if absent
	vecRank int
}

// Combine blends lexical and vector lists:
//
//	score(d) = alpha*norm_vec(d) + (1-alpha)*norm_lex(d)
//
// Each list is min-max normalised on its own. A fragment missing from a
// list scores 0 for that signal. An empty list, a single-element list and
// a list whose scores are all equal contribute 0 for every member; no
// fragment is dropped by normalisation. Ties break by lexical rank, then
// vector rank (absent ranks last), then fragment ID.
func Combine(lexical, vector []store.ScoredResult, alpha float64) []store.ScoredResult {
	if len(lexical) == 0 && len(vector) == 0 {
		return []store.ScoredResult{}
	}
	alpha = clamp01(alpha)

	entries := make(map[string]*hybridEntry, len(lexical)+len(vector))
	order := make([]*hybridEntry, 0, len(lexical)+len(vector))
	get := func(id string) *hybridEntry {
		if e, ok := entries[id]; ok {
			return e
		}
		e := &hybridEntry{id: id}
		entries[id] = e
		order = append(order, e)
		return e
	}

	lexNorm := minMax(lexical)
	for i, r := range lexical {
		e := get(r.FragmentID)
		if e.lexRank != 0 {
			continue // duplicate: first occurrence wins
		}
		e.lexRank = i + 1
		e.lexNorm = lexNorm[i]
	}
	vecNorm := minMax(vector)
	for i, r := range vector {
		e := get(r.FragmentID)
		if e.vecRank != 0 {
			continue
		}
		e.vecRank = i + 1
		e.vecNorm = vecNorm[i]
	}

	scores := make(map[string]float64, len(order))
	for _, e := range order {
		scores[e.id] = alpha*e.vecNorm + (1-alpha)*e.lexNorm
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if sa, sb := scores[a.id], scores[b.id]; sa != sb {
			return sa > sb
		}
		if ra, rb := rankKey(a.lexRank), rankKey(b.lexRank); ra != rb {
			return ra < rb
		}
		if ra, rb := rankKey(a.vecRank), rankKey(b.vecRank); ra != rb {
			return ra < rb
		}
		return a.id < b.id
	})

	out := make([]store.ScoredResult, len(order))
	for i, e := range order {
		out[i] = store.ScoredResult{
			FragmentID: e.id,
			Score:      scores[e.id],
			Rank:       i + 1,
			Source:     store.SourceHybrid,
		}
	}
	return out
}

// minMax normalises scores to [0,1]. Zero variance yields all zeros.
func minMax(results []store.ScoredResult) []float64 {
	out := make([]float64, len(results))
	if len(results) < 2 {
		return out
	}
	lo, hi := results[0].Score, results[0].Score
	for _, r := range results[1:] {
		lo = min(lo, r.Score)
		hi = max(hi, r.Score)
	}
	if hi == lo {
		return out
	}
	for i, r := range results {
		out[i] = (r.Score - lo) / (hi - lo)
	}
	return out
}

// rankKey sorts absent (0) ranks after every present rank.
func rankKey(rank int) int {
	if rank == 0 {
		return int(^uint(0) >> 1)
	}
	return rank
}

func clamp01(v float64) float64 {
	return max(0, min(1, v))
}
