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

	"github.com/Aman-CERP/docsearch/internal/store"
)

// TestMultiQueryExecutor tests concurrent per-variant retrieval and fusion.
func TestMultiQueryExecutor(t *testing.T) {
	t.Run("runs every variant and fuses", func(t *testing.T) {
		var mu sync.Mutex
		seen := map[string]bool{}
		fn := func(ctx context.Context, v string) ([]store.ScoredResult, error) {
			mu.Lock()
			seen[v] = true
			mu.Unlock()
			if v == "b" {
				return rankedList("x", "z"), nil
			}
			return rankedList("x", "y"), nil
		}

		fused, failures, err := NewMultiQueryExecutor().Execute(context.Background(), []string{"a", "b"}, fn)

		require.NoError(t, err)
		assert.Empty(t, failures)
		assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)
		require.NotEmpty(t, fused)
		assert.Equal(t, "x", fused[0].FragmentID)
		assert.Equal(t, 2, fused[0].Hits)
	})

	t.Run("failed variant contributes an empty list", func(t *testing.T) {
		fn := func(ctx context.Context, v string) ([]store.ScoredResult, error) {
			if v == "bad" {
				return nil, errors.New("boom")
			}
			return rankedList("x"), nil
		}

		fused, failures, err := NewMultiQueryExecutor().Execute(context.Background(), []string{"good", "bad"}, fn)

		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, idsOf(fused))
		require.Len(t, failures, 1)
		assert.Equal(t, "bad", failures[0].Variant)
		assert.EqualError(t, failures[0].Err, "boom")
	})

	t.Run("slow variant times out without blocking the rest", func(t *testing.T) {
		fn := func(ctx context.Context, v string) ([]store.ScoredResult, error) {
			if v == "slow" {
				<-ctx.Done()
				return rankedList("late"), nil
			}
			return rankedList("fast"), nil
		}
		m := NewMultiQueryExecutor(WithTaskTimeout(20 * time.Millisecond))

		start := time.Now()
		fused, failures, err := m.Execute(context.Background(), []string{"slow", "quick"}, fn)

		require.NoError(t, err)
		assert.Less(t, time.Since(start), 2*time.Second)
		assert.Equal(t, []string{"fast"}, idsOf(fused))
		require.Len(t, failures, 1)
		assert.ErrorIs(t, failures[0].Err, context.DeadlineExceeded)
	})

	t.Run("caller cancellation aborts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		fn := func(ctx context.Context, v string) ([]store.ScoredResult, error) {
			cancel()
			<-ctx.Done()
			return nil, ctx.Err()
		}

		_, _, err := NewMultiQueryExecutor().Execute(ctx, []string{"a", "b", "c"}, fn)

		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("parallelism bounds concurrent variants", func(t *testing.T) {
		var running, peak atomic.Int32
		fn := func(ctx context.Context, v string) ([]store.ScoredResult, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return rankedList(v), nil
		}
		m := NewMultiQueryExecutor(WithParallelism(2))

		fused, _, err := m.Execute(context.Background(), []string{"a", "b", "c", "d", "e"}, fn)

		require.NoError(t, err)
		assert.Len(t, fused, 5)
		assert.LessOrEqual(t, peak.Load(), int32(2))
	})

	t.Run("no variants", func(t *testing.T) {
		fused, failures, err := NewMultiQueryExecutor().Execute(context.Background(), nil, nil)

		require.NoError(t, err)
		assert.Empty(t, fused)
		assert.Empty(t, failures)
	})
}

func TestWithParallelism_IgnoresZeroOrNegative(t *testing.T) {
	for _, n := range []int{0, -1} {
		m := NewMultiQueryExecutor(WithParallelism(n))
		assert.Equal(t, int64(4), m.parallelism)
	}
	assert.Equal(t, int64(8), NewMultiQueryExecutor(WithParallelism(8)).parallelism)
}

func TestWithTaskTimeout_IgnoresZero(t *testing.T) {
	assert.Equal(t, 10*time.Second, NewMultiQueryExecutor(WithTaskTimeout(0)).taskTimeout)
	assert.Equal(t, time.Second, NewMultiQueryExecutor(WithTaskTimeout(time.Second)).taskTimeout)
}

func TestWithFusion_CustomK(t *testing.T) {
	m := NewMultiQueryExecutor(WithFusion(NewRRFFusionWithK(1)))
	fn := func(ctx context.Context, v string) ([]store.ScoredResult, error) {
		return rankedList("x"), nil
	}

	fused, _, err := m.Execute(context.Background(), []string{"a"}, fn)

	require.NoError(t, err)
	assert.InDelta(t, 0.5, fused[0].Score, 1e-12)
}
