package corpus

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/docsearch/internal/store"
)

func testFragments() []store.Fragment {
	return []store.Fragment{
		{ID: "d1-0", DocumentID: "d1", Filename: "report.pdf", FileType: "pdf", Text: "annual report", ChunkIndex: 0,
			CreatedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Embedding: []float32{0.5, -1}},
		{ID: "d2-0", DocumentID: "d2", Filename: "plan.docx", FileType: "docx", Text: "budget plan", ChunkIndex: 0},
		{ID: "d1-1", DocumentID: "d1", Filename: "report.pdf", FileType: "pdf", Text: "appendix", ChunkIndex: 1},
	}
}

func TestMemorySource_Mutations(t *testing.T) {
	// Given: a memory source
	src := NewMemorySource(testFragments())
	ctx := context.Background()

	// When: upserting an existing and a new fragment, then removing one
	src.Upsert(
		store.Fragment{ID: "d2-0", DocumentID: "d2", Text: "budget plan v2"},
		store.Fragment{ID: "d3-0", DocumentID: "d3", Text: "memo"},
	)
	src.Remove("d1-1")

	// Then: order is stable and replacements happen in place
	frags, err := src.Fragments(ctx)
	require.NoError(t, err)
	require.Len(t, frags, 3)
	assert.Equal(t, []string{"d1-0", "d2-0", "d3-0"}, []string{frags[0].ID, frags[1].ID, frags[2].ID})
	assert.Equal(t, "budget plan v2", frags[1].Text)
}

func TestMemorySource_ReturnsCopy(t *testing.T) {
	src := NewMemorySource(testFragments())

	frags, err := src.Fragments(context.Background())
	require.NoError(t, err)
	frags[0].Text = "mutated"

	again, err := src.Fragments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "annual report", again[0].Text)
}

func TestByDocument(t *testing.T) {
	got := ByDocument(testFragments(), "d1")

	require.Len(t, got, 2)
	assert.Equal(t, "d1-0", got[0].ID)
	assert.Equal(t, "d1-1", got[1].ID)
	assert.Empty(t, ByDocument(testFragments(), "missing"))
}

func TestSQLiteSource_RoundTrip(t *testing.T) {
	// Given: a fresh database
	src, err := OpenSQLite(filepath.Join(t.TempDir(), "corpus.db"))
	require.NoError(t, err)
	defer func() { _ = src.Close() }()
	ctx := context.Background()

	// When: fragments are written, one updated and one deleted
	require.NoError(t, src.Upsert(ctx, testFragments()))
	require.NoError(t, src.Upsert(ctx, []store.Fragment{{ID: "d2-0", DocumentID: "d2", Text: "budget plan final", FileType: "docx"}}))
	require.NoError(t, src.Delete(ctx, "d1-1"))

	// Then: reads return insertion order with dates and embeddings intact
	frags, err := src.Fragments(ctx)
	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Equal(t, "d1-0", frags[0].ID)
	assert.True(t, frags[0].CreatedAt.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, []float32{0.5, -1}, frags[0].Embedding)
	assert.Equal(t, "budget plan final", frags[1].Text)
	assert.True(t, frags[1].CreatedAt.IsZero())
	assert.Nil(t, frags[1].Embedding)
}

func TestSQLiteSource_InMemory(t *testing.T) {
	src, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	frags, err := src.Fragments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestFileSource_PlainAndCompressed(t *testing.T) {
	for _, name := range []string{"corpus.jsonl", "corpus.jsonl.zst"} {
		t.Run(name, func(t *testing.T) {
			// Given: a snapshot written to disk
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, WriteSnapshot(path, testFragments()))

			// When: read through a FileSource
			src := NewFileSource(path)
			defer func() { _ = src.Close() }()
			frags, err := src.Fragments(context.Background())

			// Then: all fragments come back in order
			require.NoError(t, err)
			require.Len(t, frags, 3)
			assert.Equal(t, "d1-0", frags[0].ID)
			assert.Equal(t, []float32{0.5, -1}, frags[0].Embedding)
			assert.Equal(t, "appendix", frags[2].Text)
		})
	}
}

func TestFileSource_ReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, WriteSnapshot(path, testFragments()))
	src := NewFileSource(path)
	defer func() { _ = src.Close() }()

	first, err := src.Fragments(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 3)

	require.NoError(t, WriteSnapshot(path, testFragments()[:1]))
	// Force a distinct mtime on coarse-grained filesystems.
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))

	second, err := src.Fragments(context.Background())
	require.NoError(t, err)
	assert.Len(t, second, 1)
}

func TestFileSource_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileSource(filepath.Join(dir, "missing.jsonl")).Fragments(context.Background())
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{\"id\":\"a\",\"text\":\"ok\"}\nnot json\n"), 0o644))
	_, err = NewFileSource(bad).Fragments(context.Background())
	assert.ErrorContains(t, err, "bad.jsonl:2")

	noID := filepath.Join(dir, "noid.jsonl")
	require.NoError(t, os.WriteFile(noID, []byte("{\"text\":\"x\"}\n"), 0o644))
	_, err = NewFileSource(noID).Fragments(context.Background())
	assert.ErrorContains(t, err, "without id")
}

func TestFileSource_WatchFiresOnReplace(t *testing.T) {
	// Given: a watched snapshot
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, WriteSnapshot(path, testFragments()))
	src := NewFileSource(path)
	defer func() { _ = src.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- src.Watch(ctx, 20*time.Millisecond, func() { changed <- struct{}{} })
	}()
	time.Sleep(50 * time.Millisecond)

	// When: the snapshot is replaced
	require.NoError(t, WriteSnapshot(path, testFragments()[:2]))

	// Then: one debounced notification arrives
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
	cancel()
	assert.NoError(t, <-done)
}
