package redis_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/core/store"
	"github.com/dmitrymomot/certflow/integration/database/redis"
	"github.com/dmitrymomot/certflow/pkg/ratelimiter"
)

var _ store.ReconciliationFlag = (*redis.Flag)(nil)

func TestConnect(t *testing.T) {
	t.Parallel()

	t.Run("ready server", func(t *testing.T) {
		t.Parallel()

		mr := miniredis.RunT(t)
		client, err := redis.Connect(t.Context(), redis.Config{ConnectionURL: "redis://" + mr.Addr() + "/0"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })

		assert.NoError(t, redis.Healthcheck(client)(t.Context()))

		mr.SetError("LOADING server is starting")
		assert.ErrorIs(t, redis.Healthcheck(client)(t.Context()), redis.ErrHealthcheckFailed)
	})

	t.Run("bad url", func(t *testing.T) {
		t.Parallel()

		_, err := redis.Connect(t.Context(), redis.Config{})
		assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)

		_, err = redis.Connect(t.Context(), redis.Config{ConnectionURL: "http://localhost:6379"})
		assert.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
	})

	t.Run("unreachable server", func(t *testing.T) {
		t.Parallel()

		mr, err := miniredis.Run()
		require.NoError(t, err)
		addr := mr.Addr()
		mr.Close()

		_, err = redis.Connect(t.Context(), redis.Config{
			ConnectionURL: "redis://" + addr + "/0",
			RetryAttempts: 2,
			RetryInterval: time.Millisecond,
		})
		assert.ErrorIs(t, err, redis.ErrRedisNotReady)
	})
}

func TestFlag(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := redis.Connect(t.Context(), redis.Config{ConnectionURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	flag := redis.NewFlag(client, "test:flag")

	needed, err := flag.ReconciliationNeeded(t.Context())
	require.NoError(t, err)
	assert.False(t, needed, "missing key reads as false")

	require.NoError(t, flag.SetReconciliationNeeded(t.Context(), true))
	needed, err = flag.ReconciliationNeeded(t.Context())
	require.NoError(t, err)
	assert.True(t, needed)
	got, err := mr.Get("test:flag")
	require.NoError(t, err)
	assert.Equal(t, "1", got)

	require.NoError(t, flag.SetReconciliationNeeded(t.Context(), false))
	needed, err = flag.ReconciliationNeeded(t.Context())
	require.NoError(t, err)
	assert.False(t, needed)

	t.Run("flag backs the memory store", func(t *testing.T) {
		st := store.NewMemory(store.WithFlag(flag))
		tenant := &store.Tenant{Name: "acme"}
		require.NoError(t, st.CreateTenant(t.Context(), tenant))
		require.NoError(t, st.CreateRecord(t.Context(), &store.DNSRecord{
			TenantID: tenant.ID, Subdomain: "www", Type: store.RecordA, Value: "192.0.2.1",
		}))

		needed, err := flag.ReconciliationNeeded(t.Context())
		require.NoError(t, err)
		assert.True(t, needed)
	})

	mr.SetError("LOADING server is starting")
	_, err = flag.ReconciliationNeeded(t.Context())
	assert.ErrorIs(t, err, redis.ErrFlagUnavailable)
}

func TestRateStore(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := redis.Connect(t.Context(), redis.Config{ConnectionURL: "redis://" + mr.Addr() + "/0"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	bucket, err := ratelimiter.NewBucket(redis.NewRateStore(client, "test:"), ratelimiter.Config{
		Capacity:       2,
		RefillRate:     2,
		RefillInterval: time.Hour,
	})
	require.NoError(t, err)

	for range 2 {
		res, err := bucket.Allow(t.Context(), "route53")
		require.NoError(t, err)
		assert.True(t, res.Allowed())
	}

	res, err := bucket.Allow(t.Context(), "route53")
	require.NoError(t, err)
	assert.False(t, res.Allowed())
	assert.Positive(t, res.RetryAfter())

	other, err := bucket.Allow(t.Context(), "other")
	require.NoError(t, err)
	assert.True(t, other.Allowed(), "buckets are per key")

	require.NoError(t, bucket.Reset(t.Context(), "route53"))
	res, err = bucket.Allow(t.Context(), "route53")
	require.NoError(t, err)
	assert.True(t, res.Allowed())
	assert.True(t, mr.Exists("test:route53"))
}
