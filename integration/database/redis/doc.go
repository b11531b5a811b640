// Package redis connects to Redis and provides a Redis-backed reconciliation
// flag for deployments that keep shared runtime state outside Postgres.
//
// Connect validates the URL, retries the first ping with exponential backoff
// and returns a ready *redis.Client:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	flag := redis.NewFlag(client, cfg.FlagKey)
//	needed, err := flag.ReconciliationNeeded(ctx)
//
// Healthcheck returns a ping probe for the readiness endpoint. Errors are
// wrapped with the sentinels in errors.go and can be checked with errors.Is.
package redis
