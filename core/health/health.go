package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/certflow/core/logger"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Liveness answers 200 ALIVE while the process runs.
func Liveness() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ALIVE")
	})
}

// Readiness runs every check in parallel and answers 200 READY when all pass,
// 503 otherwise. Checks share a timeout.
func Readiness(log *slog.Logger, timeout time.Duration, checks ...Check) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, check := range checks {
			g.Go(func() error { return check(gctx) })
		}
		if err := g.Wait(); err != nil {
			log.ErrorContext(ctx, "readiness check failed", logger.Error(err))
			writeText(w, http.StatusServiceUnavailable, "NOT READY")
			return
		}
		writeText(w, http.StatusOK, "READY")
	})
}

// Register mounts the probes on mux.
func Register(mux *http.ServeMux, log *slog.Logger, timeout time.Duration, checks ...Check) {
	mux.Handle("GET /health/live", Liveness())
	mux.Handle("GET /health/ready", Readiness(log, timeout, checks...))
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
