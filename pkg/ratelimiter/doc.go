// Package ratelimiter implements token bucket rate limiting with a pluggable store.
//
// A Bucket holds Capacity tokens and regains RefillRate tokens every
// RefillInterval. Allow consumes one token for a key; AllowN consumes n.
// Status reports the current state without consuming anything.
//
//	store := ratelimiter.NewMemoryStore()
//	limiter, err := ratelimiter.NewBucket(store, ratelimiter.Config{
//		Capacity:       5,
//		RefillRate:     5,
//		RefillInterval: time.Second,
//	})
//
//	res, err := limiter.Allow(ctx, "route53")
//	if err == nil && !res.Allowed() {
//		time.Sleep(res.RetryAfter())
//	}
//
// The queue worker uses a Bucket to cap how many DNS provider mutations it starts
// per second.
//
// MemoryStore keeps buckets in process memory and removes stale ones in the
// background once Start (or Run with an errgroup) is called.
package ratelimiter
