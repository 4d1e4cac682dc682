// Package corpus supplies read-only fragment snapshots to the search core.
//
// Ingestion, chunking and classification happen elsewhere; a Source only
// reads what they produced. Three sources exist: an in-memory set (tests and
// embedding callers), a SQLite table, and a JSON Lines file that may be
// zstd-compressed and can be watched for replacement.
package corpus

import (
	"context"
	"sort"
	"sync"

	"github.com/Aman-CERP/docsearch/internal/store"
)

// Source returns the current corpus snapshot.
type Source interface {
	// Fragments returns every fragment in a stable order.
	Fragments(ctx context.Context) ([]store.Fragment, error)

	Close() error
}

// ByDocument returns the fragments of one document ordered by chunk index.
func ByDocument(fragments []store.Fragment, documentID string) []store.Fragment {
	var out []store.Fragment
	for _, f := range fragments {
		if f.DocumentID == documentID {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].ChunkIndex < out[b].ChunkIndex })
	return out
}

// MemorySource is a mutable in-memory Source.
type MemorySource struct {
	mu        sync.RWMutex
	fragments []store.Fragment
}

// NewMemorySource creates a source holding a copy of fragments.
func NewMemorySource(fragments []store.Fragment) *MemorySource {
	s := &MemorySource{}
	s.Replace(fragments)
	return s
}

// Fragments returns a copy of the current snapshot.
func (s *MemorySource) Fragments(ctx context.Context) ([]store.Fragment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Fragment, len(s.fragments))
	copy(out, s.fragments)
	return out, nil
}

// Replace swaps the whole snapshot.
func (s *MemorySource) Replace(fragments []store.Fragment) {
	cp := make([]store.Fragment, len(fragments))
	copy(cp, fragments)
	s.mu.Lock()
	s.fragments = cp
	s.mu.Unlock()
}

// Upsert adds fragments, replacing any with the same ID in place.
func (s *MemorySource) Upsert(fragments ...store.Fragment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := make(map[string]int, len(s.fragments))
	for i, f := range s.fragments {
		pos[f.ID] = i
	}
	for _, f := range fragments {
		if i, ok := pos[f.ID]; ok {
			s.fragments[i] = f
			continue
		}
		pos[f.ID] = len(s.fragments)
		s.fragments = append(s.fragments, f)
	}
}

// Remove deletes fragments by ID.
func (s *MemorySource) Remove(ids ...string) {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.fragments[:0:0]
	for _, f := range s.fragments {
		if _, ok := drop[f.ID]; !ok {
			kept = append(kept, f)
		}
	}
	s.fragments = kept
}

// Close is a no-op.
func (s *MemorySource) Close() error {
	return nil
}

var _ Source = (*MemorySource)(nil)
