package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Flag stores the reconciliation flag under one key. A missing key reads as
// false.
type Flag struct {
	client redis.UniversalClient
	key    string
}

// NewFlag creates a flag stored under key.
func NewFlag(client redis.UniversalClient, key string) *Flag {
	if key == "" {
		key = "certflow:reconciliation-needed"
	}
	return &Flag{client: client, key: key}
}

// ReconciliationNeeded reads the flag.
func (f *Flag) ReconciliationNeeded(ctx context.Context) (bool, error) {
	v, err := f.client.Get(ctx, f.key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, errors.Join(ErrFlagUnavailable, err)
	}
	return v == "1", nil
}

// SetReconciliationNeeded writes the flag.
func (f *Flag) SetReconciliationNeeded(ctx context.Context, needed bool) error {
	v := "0"
	if needed {
		v = "1"
	}
	if err := f.client.Set(ctx, f.key, v, 0).Err(); err != nil {
		return errors.Join(ErrFlagUnavailable, err)
	}
	return nil
}
