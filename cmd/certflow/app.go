package main

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/certflow/core/config"
	"github.com/dmitrymomot/certflow/core/dnsrecord"
	"github.com/dmitrymomot/certflow/core/email"
	"github.com/dmitrymomot/certflow/core/letsencrypt"
	"github.com/dmitrymomot/certflow/core/pipeline"
	"github.com/dmitrymomot/certflow/core/queue"
	"github.com/dmitrymomot/certflow/core/reconciler"
	"github.com/dmitrymomot/certflow/integration/database/redis"
	"github.com/dmitrymomot/certflow/integration/dns/route53"
	"github.com/dmitrymomot/certflow/integration/storage/s3"
	"github.com/dmitrymomot/certflow/pkg/ratelimiter"
)

// app is the queue service with every worker wired to its domain service.
type app struct {
	rt         *runtime
	qcfg       queue.Config
	queue      *queue.Service
	dns        *route53.Client
	records    *dnsrecord.Service
	reconciler *reconciler.Reconciler
	pipeline   *pipeline.Service
	archive    *s3.Archive
	rateStore  *ratelimiter.MemoryStore
	dnsBucket  *ratelimiter.Bucket
}

func newApp(ctx context.Context, rt *runtime) (*app, error) {
	a := &app{rt: rt}
	if err := config.Load(&a.qcfg); err != nil {
		return nil, err
	}

	qs, err := queue.NewServiceFromConfig(a.qcfg, rt.queues,
		queue.WithServiceLogger(rt.log),
		queue.WithWorkerOptions(a.workerOptions(email.NotificationQueue)...),
		queue.WithSchedulerOptions(
			queue.WithCheckInterval(a.qcfg.CheckInterval),
			queue.WithSchedulerShutdownTimeout(a.qcfg.ShutdownTimeout),
			queue.WithSchedulerLogger(rt.log),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("queue service: %w", err)
	}
	a.queue = qs

	sender, err := rt.emailSender()
	if err != nil {
		return nil, err
	}
	if err := qs.RegisterHandlers(email.NewNotificationHandler(sender, rt.log)); err != nil {
		return nil, err
	}

	if a.dns, err = rt.dns(ctx); err != nil {
		return nil, err
	}
	if err := a.wireRecords(); err != nil {
		return nil, err
	}
	if err := a.wireReconciler(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) workerOptions(queues ...string) []queue.WorkerOption {
	return []queue.WorkerOption{
		queue.WithQueues(queues...),
		queue.WithPullInterval(a.qcfg.PollInterval),
		queue.WithLockTimeout(a.qcfg.LockTimeout),
		queue.WithShutdownTimeout(a.qcfg.ShutdownTimeout),
		queue.WithMaxConcurrentTasks(a.qcfg.MaxConcurrentTasks),
		queue.WithWorkerLogger(a.rt.log),
	}
}

// providerRateKey is the token bucket key of Route 53 change requests.
const providerRateKey = "route53"

// wireRecords puts record mutations on their own worker, paced by one token
// bucket per provider. The reconciler draws from the same bucket.
func (a *app) wireRecords() error {
	var cfg dnsrecord.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	var rs ratelimiter.Store
	if a.rt.cfg.RateBackend == backendRedis {
		rs = redis.NewRateStore(a.rt.redis, "")
	} else {
		a.rateStore = ratelimiter.NewMemoryStore(ratelimiter.WithMemoryStoreLogger(a.rt.log))
		rs = a.rateStore
	}
	bucket, err := ratelimiter.NewBucket(rs, ratelimiter.PerSecond(max(cfg.MutationsPerSecond, 1)))
	if err != nil {
		return err
	}
	a.dnsBucket = bucket

	worker, err := a.queue.AddWorker(append(a.workerOptions(dnsrecord.QueueName),
		queue.WithRateLimit(bucket, providerRateKey))...)
	if err != nil {
		return err
	}

	a.records, err = dnsrecord.New(cfg, a.rt.store, a.dns, a.queue, dnsrecord.WithLogger(a.rt.log))
	if err != nil {
		return err
	}
	if err := a.records.Register(worker); err != nil {
		return err
	}
	return a.records.Schedule(a.queue.Scheduler())
}

func (a *app) wireReconciler() error {
	var cfg reconciler.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}

	var err error
	a.reconciler, err = reconciler.New(cfg, a.rt.store, a.dns, a.rt.flag,
		reconciler.WithTaskCounter(a.queue),
		reconciler.WithRateLimit(a.dnsBucket, providerRateKey),
		reconciler.WithLogger(a.rt.log),
	)
	if err != nil {
		return err
	}

	worker, err := a.queue.AddWorker(append(a.workerOptions(reconciler.QueueName),
		queue.WithMaxConcurrentTasks(1))...)
	if err != nil {
		return err
	}
	if err := worker.RegisterHandlers(a.reconciler.Handler()); err != nil {
		return err
	}
	return a.reconciler.Schedule(a.queue.Scheduler())
}

// wirePipeline registers the ACME account, so only commands that issue
// certificates call it.
func (a *app) wirePipeline(ctx context.Context) error {
	var (
		pcfg pipeline.Config
		lcfg letsencrypt.Config
		scfg s3.Config
	)
	if err := config.Load(&pcfg); err != nil {
		return err
	}
	if err := config.Load(&lcfg); err != nil {
		return err
	}
	if err := config.Load(&scfg); err != nil {
		return err
	}

	client, err := letsencrypt.New(ctx, lcfg, letsencrypt.WithLogger(a.rt.log))
	if err != nil {
		return err
	}
	verifier := &letsencrypt.Resolver{
		Recursive:         a.rt.cfg.Resolver,
		AuthoritativePort: "53",
		Timeout:           5 * time.Second,
		Logger:            a.rt.log,
	}

	opts := []pipeline.Option{
		pipeline.WithNotifier(email.NewNotifier(a.queue)),
		pipeline.WithRecordPusher(a.records),
		pipeline.WithReconciliationFlag(a.rt.flag),
		pipeline.WithLogger(a.rt.log),
	}
	if scfg.Enabled() {
		if a.archive, err = s3.New(ctx, scfg, s3.WithLogger(a.rt.log)); err != nil {
			return err
		}
		opts = append(opts, pipeline.WithArchiver(a.archive))
	}

	a.pipeline, err = pipeline.New(pcfg, a.rt.store, pipeline.LetsEncrypt(client), verifier, a.queue, opts...)
	if err != nil {
		return err
	}

	worker, err := a.queue.AddWorker(a.workerOptions(pipeline.Queues()...)...)
	if err != nil {
		return err
	}
	return a.pipeline.Register(worker)
}

// run starts the queue service, plus the in-memory janitors when those
// backends are selected, until ctx ends.
func (a *app) run(ctx context.Context) func() error {
	return func() error {
		g, gctx := errgroup.WithContext(ctx)
		if ms, ok := a.rt.queues.(*queue.MemoryStorage); ok {
			g.Go(ms.Run(gctx))
		}
		if a.rateStore != nil {
			g.Go(a.rateStore.Run(gctx))
		}
		g.Go(func() error { return a.queue.Run(gctx) })
		return g.Wait()
	}
}
