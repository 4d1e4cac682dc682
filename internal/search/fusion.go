package search

import (
	"sort"

	"github.com/Aman-CERP/docsearch/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
// k=60 is empirically validated across domains (used by Azure AI Search, OpenSearch, etc.).
const DefaultRRFConstant = 60

// RRFFusion combines ranked lists using Reciprocal Rank Fusion.
//
// Algorithm: RRF_score(d) = Σ 1 / (k + rank_i(d))
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_i = position in ranked list i (1-indexed)
//
// The sum runs only over lists that contain d. A fragment retrieved by no
// list is absent from the output.
type RRFFusion struct {
	K int // RRF smoothing constant (default: 60)
}

// NewRRFFusion creates a new RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a new RRF fusion with custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

type fusedEntry struct {
	id       string
	score    float64
	bestRank int
	hits     int
}

// Fuse combines lists by RRF. Results are sorted by: score (desc) → best
// rank (asc) → FragmentID (asc). Hits records how many lists held each
// fragment. A fragment repeated within one list counts at its first rank.
func (f *RRFFusion) Fuse(lists [][]store.ScoredResult) []store.ScoredResult {
	k := f.K
	if k <= 0 {
		k = DefaultRRFConstant
	}

	entries := make(map[string]*fusedEntry)
	for _, list := range lists {
		seen := make(map[string]struct{}, len(list))
		for i, r := range list {
			if _, dup := seen[r.FragmentID]; dup {
				continue
			}
			seen[r.FragmentID] = struct{}{}

			rank := i + 1
			e, ok := entries[r.FragmentID]
			if !ok {
				e = &fusedEntry{id: r.FragmentID, bestRank: rank}
				entries[r.FragmentID] = e
			}
			e.score += 1 / float64(k+rank)
			e.hits++
			e.bestRank = min(e.bestRank, rank)
		}
	}

	sorted := make([]*fusedEntry, 0, len(entries))
	for _, e := range entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return f.compare(sorted[i], sorted[j])
	})

	out := make([]store.ScoredResult, len(sorted))
	for i, e := range sorted {
		out[i] = store.ScoredResult{
			FragmentID: e.id,
			Score:      e.score,
			Rank:       i + 1,
			Source:     store.SourceFused,
			Hits:       e.hits,
		}
	}
	return out
}

// compare implements deterministic comparison for sorting.
// Returns true if a should rank before b.
func (f *RRFFusion) compare(a, b *fusedEntry) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.bestRank != b.bestRank {
		return a.bestRank < b.bestRank
	}
	return a.id < b.id
}

// NormalizeScores scales scores so the top result is 1.0. Used to present
// fused scores as similarities.
func NormalizeScores(results []store.ScoredResult) []store.ScoredResult {
	if len(results) == 0 {
		return results
	}
	top := results[0].Score
	for _, r := range results[1:] {
		top = max(top, r.Score)
	}
	if top <= 0 {
		return results
	}
	for i := range results {
		results[i].Score /= top
	}
	return results
}
