// Package health serves the liveness and readiness probes.
//
//	mux := http.NewServeMux()
//	health.Register(mux, log, 2*time.Second,
//		pg.Healthcheck(pool),
//		redis.Healthcheck(rdb),
//	)
package health
