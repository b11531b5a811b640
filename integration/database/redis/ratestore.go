package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/certflow/pkg/ratelimiter"
)

// consumeScript mirrors ratelimiter.MemoryStore: whole refill intervals
// only, capped so a long idle period cannot overflow the bucket.
var consumeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local tokens = tonumber(ARGV[4])
local now = tonumber(ARGV[5])
local ttl = tonumber(ARGV[6])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last')
local current = tonumber(state[1])
local last = tonumber(state[2])
if current == nil or last == nil then
	current = capacity
	last = now
end

local intervals = math.floor((now - last) / interval)
local cap = math.floor(capacity / rate) + 1
if intervals > cap then intervals = cap end
if intervals > 0 then
	current = math.min(current + intervals * rate, capacity)
	last = now
end

current = math.min(current - tokens, capacity)
redis.call('HSET', KEYS[1], 'tokens', current, 'last', last)
redis.call('PEXPIRE', KEYS[1], ttl)
return {current, last + interval}
`)

// RateStore keeps token buckets in Redis so every process sharing a DNS
// provider draws from the same budget.
type RateStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ ratelimiter.Store = (*RateStore)(nil)

// NewRateStore creates a store with keys under prefix.
func NewRateStore(client redis.UniversalClient, prefix string) *RateStore {
	if prefix == "" {
		prefix = "certflow:ratelimit:"
	}
	return &RateStore{client: client, prefix: prefix, ttl: time.Hour}
}

// ConsumeTokens refills the bucket for key and subtracts tokens atomically.
func (s *RateStore) ConsumeTokens(ctx context.Context, key string, tokens int, cfg ratelimiter.Config) (int, time.Time, error) {
	res, err := consumeScript.Run(ctx, s.client, []string{s.prefix + key},
		cfg.Capacity,
		cfg.RefillRate,
		cfg.RefillInterval.Milliseconds(),
		tokens,
		time.Now().UnixMilli(),
		s.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected rate script reply: %v", res)
	}
	return int(res[0]), time.UnixMilli(res[1]), nil
}

// Reset removes the bucket for key.
func (s *RateStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
