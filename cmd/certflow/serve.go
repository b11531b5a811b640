package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/certflow/core/config"
	"github.com/dmitrymomot/certflow/core/dnsrecord"
	"github.com/dmitrymomot/certflow/core/email"
	"github.com/dmitrymomot/certflow/core/health"
	"github.com/dmitrymomot/certflow/core/metrics"
	"github.com/dmitrymomot/certflow/core/pipeline"
	"github.com/dmitrymomot/certflow/core/queue"
	"github.com/dmitrymomot/certflow/core/reconciler"
	"github.com/dmitrymomot/certflow/core/server"
	"github.com/dmitrymomot/certflow/integration/database/pg"
	"github.com/dmitrymomot/certflow/integration/database/redis"
)

func newServeCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the workers, the scheduler and the ops HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if migrate && rt.pool != nil {
				var pcfg pg.Config
				if err := config.Load(&pcfg); err != nil {
					return err
				}
				if err := pg.Migrate(ctx, rt.pool, pcfg, rt.log); err != nil {
					return err
				}
			}

			a, err := newApp(ctx, rt)
			if err != nil {
				return err
			}
			if err := a.wirePipeline(ctx); err != nil {
				return err
			}

			queues := append([]string{email.NotificationQueue, dnsrecord.QueueName, reconciler.QueueName}, pipeline.Queues()...)
			prometheus.MustRegister(metrics.NewQueueCollector(a.queue, queues...))

			var scfg server.Config
			if err := config.Load(&scfg); err != nil {
				return err
			}
			srv, err := server.New(scfg, rt.log)
			if err != nil {
				return err
			}

			mux := http.NewServeMux()
			mux.Handle("GET /metrics", metrics.Handler())
			health.Register(mux, rt.log, rt.cfg.ReadinessTimeout, a.readinessChecks()...)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(a.run(gctx))
			g.Go(srv.Run(gctx, mux))
			return g.Wait()
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before starting")
	return cmd
}

// readinessChecks covers the connections and every running loop.
func (a *app) readinessChecks() []health.Check {
	var checks []health.Check
	if a.rt.pool != nil {
		checks = append(checks, pg.Healthcheck(a.rt.pool))
	}
	if a.rt.redis != nil {
		checks = append(checks, redis.Healthcheck(a.rt.redis))
	}
	if ms, ok := a.rt.queues.(*queue.MemoryStorage); ok {
		checks = append(checks, ms.Healthcheck)
	}
	for _, w := range a.queue.Workers() {
		checks = append(checks, w.Healthcheck)
	}
	return append(checks, a.queue.Scheduler().Healthcheck)
}
