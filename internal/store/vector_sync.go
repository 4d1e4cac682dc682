package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// VectorSync mirrors fragment embeddings into a VectorStore. It remembers
// what it last wrote, so a Sync after a snapshot change only adds the new
// or edited fragments and deletes the ones that disappeared.
type VectorSync struct {
	store      VectorStore
	dimensions int

	mu    sync.Mutex
	known map[string][sha256.Size]byte // fragment ID -> digest of the stored item
}

// SyncStats reports what one Sync changed.
type SyncStats struct {
	Added   int // new or changed vectors written
	Removed int // vectors deleted
	Skipped int // fragments without an embedding of the store's dimension
}

// NewVectorSync creates a sync for store. Fragments whose embedding is not
// exactly dimensions long are kept out of the store.
func NewVectorSync(store VectorStore, dimensions int) *VectorSync {
	return &VectorSync{
		store:      store,
		dimensions: dimensions,
		known:      make(map[string][sha256.Size]byte),
	}
}

// Sync brings the store in line with fragments. On error the remembered
// state is left untouched, so the next Sync retries the same difference.
func (s *VectorSync) Sync(ctx context.Context, fragments []Fragment) (SyncStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats SyncStats
	next := make(map[string][sha256.Size]byte, len(fragments))
	var upserts []VectorItem
	for _, f := range fragments {
		if _, dup := next[f.ID]; dup {
			continue
		}
		if len(f.Embedding) != s.dimensions {
			stats.Skipped++
			continue
		}
		item := VectorItem{ID: f.ID, FileType: f.FileType, Vector: f.Embedding}
		sum := itemDigest(item)
		next[f.ID] = sum
		if prev, ok := s.known[f.ID]; !ok || prev != sum {
			upserts = append(upserts, item)
		}
	}

	var removed []string
	for id := range s.known {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}

	if len(removed) > 0 {
		if err := s.store.Delete(ctx, removed); err != nil {
			return SyncStats{}, fmt.Errorf("delete %d vectors: %w", len(removed), err)
		}
	}
	if len(upserts) > 0 {
		if err := s.store.Add(ctx, upserts); err != nil {
			return SyncStats{}, fmt.Errorf("add %d vectors: %w", len(upserts), err)
		}
	}

	s.known = next
	stats.Added = len(upserts)
	stats.Removed = len(removed)
	return stats, nil
}

// Len returns how many vectors the last successful Sync left in the store.
func (s *VectorSync) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.known)
}

func itemDigest(item VectorItem) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte(item.FileType))
	h.Write([]byte{0})
	var buf [4]byte
	for _, v := range item.Vector {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
