package ratelimiter_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/pkg/ratelimiter"
)

func TestNewBucket(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.PerSecond(5))
		require.NoError(t, err)
		assert.NotNil(t, b)
	})

	t.Run("invalid config", func(t *testing.T) {
		t.Parallel()

		_, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{Capacity: 1})
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
	})

	t.Run("nil store", func(t *testing.T) {
		t.Parallel()

		_, err := ratelimiter.NewBucket(nil, ratelimiter.PerSecond(1))
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
	})
}

func TestBucket_Allow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rejects after capacity", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
			Capacity:       3,
			RefillRate:     3,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		for i := range 3 {
			res, err := b.Allow(ctx, "k")
			require.NoError(t, err)
			assert.True(t, res.Allowed(), "request %d", i)
		}

		res, err := b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.False(t, res.Allowed())
		assert.Greater(t, res.RetryAfter(), time.Duration(0))

		status, err := b.Status(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, 0, status.Remaining, "rejected request must not keep tokens")
	})

	t.Run("refills over time", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
			Capacity:       1,
			RefillRate:     1,
			RefillInterval: 20 * time.Millisecond,
		})
		require.NoError(t, err)

		res, err := b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed())

		res, err = b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.False(t, res.Allowed())

		time.Sleep(30 * time.Millisecond)

		res, err = b.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	})

	t.Run("keys are independent", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
			Capacity:       1,
			RefillRate:     1,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		res, _ := b.Allow(ctx, "a")
		assert.True(t, res.Allowed())
		res, _ = b.Allow(ctx, "b")
		assert.True(t, res.Allowed())
	})

	t.Run("invalid token count", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.PerSecond(1))
		require.NoError(t, err)

		_, err = b.AllowN(ctx, "k", 0)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)
	})

	t.Run("concurrent callers never exceed capacity", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
			Capacity:       10,
			RefillRate:     10,
			RefillInterval: time.Hour,
		})
		require.NoError(t, err)

		var allowed atomic.Int32
		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if res, err := b.Allow(ctx, "shared"); err == nil && res.Allowed() {
					allowed.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(10), allowed.Load())
	})
}

func TestMemoryStore_Reset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := ratelimiter.NewMemoryStore()
	cfg := ratelimiter.PerSecond(2)

	_, _, err := store.ConsumeTokens(ctx, "k", 2, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Reset(ctx, "k"))
	assert.Equal(t, 0, store.Len())

	remaining, _, err := store.ConsumeTokens(ctx, "k", 1, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestBucket_Wait(t *testing.T) {
	t.Parallel()

	t.Run("blocks until the next refill", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
			Capacity: 1, RefillRate: 1, RefillInterval: 50 * time.Millisecond,
		})
		require.NoError(t, err)

		start := time.Now()
		require.NoError(t, b.Wait(t.Context(), "k"))
		require.NoError(t, b.Wait(t.Context(), "k"))
		assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	})

	t.Run("gives up when the context ends", func(t *testing.T) {
		t.Parallel()

		b, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), ratelimiter.Config{
			Capacity: 1, RefillRate: 1, RefillInterval: time.Hour,
		})
		require.NoError(t, err)
		require.NoError(t, b.Wait(t.Context(), "k"))

		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, b.Wait(ctx, "k"), context.DeadlineExceeded)
	})
}
