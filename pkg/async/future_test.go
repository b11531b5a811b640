package async_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/pkg/async"
)

func TestAsync(t *testing.T) {
	t.Parallel()

	t.Run("returns value", func(t *testing.T) {
		t.Parallel()

		f := async.Async(context.Background(), 21, func(_ context.Context, n int) (int, error) {
			return n * 2, nil
		})

		v, err := f.Await()
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("returns error", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		f := async.Async(context.Background(), "x", func(context.Context, string) (string, error) {
			return "", boom
		})

		_, err := f.Await()
		assert.ErrorIs(t, err, boom)
	})

	t.Run("cancelled context skips call", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		called := false
		f := async.Async(ctx, 1, func(context.Context, int) (int, error) {
			called = true
			return 1, nil
		})

		_, err := f.Await()
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, called)
	})
}

func TestWaitAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	square := func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(5-n) * time.Millisecond)
		return n * n, nil
	}

	t.Run("keeps order", func(t *testing.T) {
		t.Parallel()

		results, err := async.WaitAll(
			async.Async(ctx, 1, square),
			async.Async(ctx, 2, square),
			async.Async(ctx, 3, square),
		)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 4, 9}, results)
	})

	t.Run("first error wins", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		results, err := async.WaitAll(
			async.Async(ctx, 1, square),
			async.Async(ctx, 2, func(context.Context, int) (int, error) { return 0, boom }),
		)
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, results)
	})
}
