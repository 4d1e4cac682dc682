package store

import (
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingStore remembers the IDs passed to Add and Delete.
type recordingStore struct {
	added   []string
	deleted []string
	addErr  error
}

func (r *recordingStore) Add(_ context.Context, items []VectorItem) error {
	if r.addErr != nil {
		return r.addErr
	}
	for _, it := range items {
		r.added = append(r.added, it.ID)
	}
	return nil
}

func (r *recordingStore) Search(context.Context, []float32, int, []string) ([]*VectorResult, error) {
	return nil, nil
}

func (r *recordingStore) Delete(_ context.Context, ids []string) error {
	r.deleted = append(r.deleted, ids...)
	return nil
}

func (r *recordingStore) Close() error { return nil }

func (r *recordingStore) reset() {
	r.added, r.deleted = nil, nil
}

func sorted(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}

func TestVectorSync_AppliesOnlyTheDifference(t *testing.T) {
	rec := &recordingStore{}
	vs := NewVectorSync(rec, 2)
	ctx := context.Background()

	// Given: an initial snapshot of three embedded fragments and one without
	initial := []Fragment{
		{ID: "a", FileType: "pdf", Embedding: []float32{1, 0}},
		{ID: "b", FileType: "pdf", Embedding: []float32{0, 1}},
		{ID: "c", FileType: "txt", Embedding: []float32{1, 1}},
		{ID: "d", FileType: "txt"},
	}
	stats, err := vs.Sync(ctx, initial)
	require.NoError(t, err)
	assert.Equal(t, SyncStats{Added: 3, Skipped: 1}, stats)
	assert.Equal(t, []string{"a", "b", "c"}, sorted(rec.added))
	assert.Empty(t, rec.deleted)

	tests := []struct {
		name        string
		snapshot    []Fragment
		wantAdded   []string
		wantDeleted []string
	}{
		{
			name:     "unchanged snapshot writes nothing",
			snapshot: initial,
		},
		{
			name: "edited embedding is rewritten",
			snapshot: []Fragment{
				{ID: "a", FileType: "pdf", Embedding: []float32{0.5, 0.5}},
				{ID: "b", FileType: "pdf", Embedding: []float32{0, 1}},
				{ID: "c", FileType: "txt", Embedding: []float32{1, 1}},
			},
			wantAdded: []string{"a"},
		},
		{
			name: "retyped fragment is rewritten",
			snapshot: []Fragment{
				{ID: "a", FileType: "pdf", Embedding: []float32{0.5, 0.5}},
				{ID: "b", FileType: "docx", Embedding: []float32{0, 1}},
				{ID: "c", FileType: "txt", Embedding: []float32{1, 1}},
			},
			wantAdded: []string{"b"},
		},
		{
			name: "removed and new fragments",
			snapshot: []Fragment{
				{ID: "a", FileType: "pdf", Embedding: []float32{0.5, 0.5}},
				{ID: "e", FileType: "pdf", Embedding: []float32{0.2, 0.8}},
			},
			wantAdded:   []string{"e"},
			wantDeleted: []string{"b", "c"},
		},
		{
			name: "lost embedding is deleted",
			snapshot: []Fragment{
				{ID: "a", FileType: "pdf"},
				{ID: "e", FileType: "pdf", Embedding: []float32{0.2, 0.8}},
			},
			wantDeleted: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.reset()

			// When: syncing the next snapshot
			_, err := vs.Sync(ctx, tt.snapshot)

			// Then: only the difference reaches the store
			require.NoError(t, err)
			assert.Equal(t, sorted(tt.wantAdded), sorted(rec.added))
			assert.Equal(t, sorted(tt.wantDeleted), sorted(rec.deleted))
		})
	}
	assert.Equal(t, 1, vs.Len())
}

func TestVectorSync_FailedWriteIsRetried(t *testing.T) {
	// Given: a store that rejects the first write
	rec := &recordingStore{addErr: errors.New("redis down")}
	vs := NewVectorSync(rec, 2)
	snapshot := []Fragment{{ID: "a", Embedding: []float32{1, 0}}}

	// When: syncing fails, then the store recovers
	_, err := vs.Sync(context.Background(), snapshot)
	require.Error(t, err)
	assert.Zero(t, vs.Len())

	rec.addErr = nil
	stats, err := vs.Sync(context.Background(), snapshot)

	// Then: the same fragment is written on the retry
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, []string{"a"}, rec.added)
}

func TestVectorSync_HNSWSearchFollowsSnapshot(t *testing.T) {
	// Given: an HNSW store loaded through a sync
	hs, err := NewHNSWStore(VectorStoreConfig{Dimensions: 3})
	require.NoError(t, err)
	t.Cleanup(func() { _ = hs.Close() })
	vs := NewVectorSync(hs, 3)
	ctx := context.Background()

	_, err = vs.Sync(ctx, []Fragment{
		{ID: "x", Embedding: []float32{1, 0, 0}},
		{ID: "y", Embedding: []float32{0, 1, 0}},
	})
	require.NoError(t, err)

	// When: x is removed and z added
	_, err = vs.Sync(ctx, []Fragment{
		{ID: "y", Embedding: []float32{0, 1, 0}},
		{ID: "z", Embedding: []float32{0, 0, 1}},
	})
	require.NoError(t, err)

	// Then: searches see z and never x
	results, err := hs.Search(ctx, []float32{1, 0, 0.1}, 5, nil)
	require.NoError(t, err)
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	assert.ElementsMatch(t, []string{"y", "z"}, ids)
	assert.Equal(t, "z", ids[0])
	assert.Equal(t, 2, hs.Count())
}
