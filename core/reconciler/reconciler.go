package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/core/metrics"
	"github.com/dmitrymomot/certflow/core/queue"
	"github.com/dmitrymomot/certflow/core/store"
	"github.com/dmitrymomot/certflow/integration/dns/route53"
	"github.com/dmitrymomot/certflow/pkg/async"
	"github.com/dmitrymomot/certflow/pkg/ratelimiter"
)

// QueueName is the queue and periodic task name of reconciliation runs.
const QueueName = "dns-reconciler"

// Config holds reconciler settings.
type Config struct {
	RootDomain string        `env:"ROOT_DOMAIN,required"`
	Interval   time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1m"`
}

// Provider is the part of the DNS provider client the reconciler uses.
type Provider interface {
	RecordSetLister
	ChangeRecordSets(ctx context.Context, changes []route53.Change) (string, error)
}

// TaskCounter reports how many tasks of a queue are in a status.
type TaskCounter interface {
	CountTasks(ctx context.Context, queue string, status queue.TaskStatus) (int, error)
}

// Scheduler registers periodic tasks.
type Scheduler interface {
	AddTask(name string, schedule queue.Schedule, opts ...queue.SchedulerTaskOption) error
}

// Outcome describes how a run ended.
type Outcome string

const (
	OutcomeConcurrent Outcome = "skipped_concurrent"
	OutcomeClean      Outcome = "skipped_clean"
	OutcomeNoChanges  Outcome = "no_changes"
	OutcomeApplied    Outcome = "applied"
	OutcomeLimp       Outcome = "limp"
	OutcomeError      Outcome = "error"
)

// RunResult summarizes one run.
type RunResult struct {
	Outcome Outcome
	// Changes is the size of the computed changeset.
	Changes int
	// Applied counts changes the provider accepted.
	Applied int
	// Failed counts changes rejected or left unsent in limp mode.
	Failed int
	// Deferred counts changes beyond the batch limit left for the next run.
	Deferred int
}

// Reconciler applies the difference between the store and the provider.
type Reconciler struct {
	rootDomain string
	interval   time.Duration
	records    RecordLister
	provider   Provider
	flag       store.ReconciliationFlag
	tasks      TaskCounter
	batchSize  int
	limiter    *ratelimiter.Bucket
	limiterKey string
	logger     *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithTaskCounter enables the overlapping-run guard.
func WithTaskCounter(c TaskCounter) Option {
	return func(r *Reconciler) { r.tasks = c }
}

// WithBatchSize lowers the bulk change limit. Values outside
// 1..route53.MaxChangesPerBatch are ignored.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 && n <= route53.MaxChangesPerBatch {
			r.batchSize = n
		}
	}
}

// WithRateLimit takes a token from bucket under key before every provider
// change request. Share the bucket with the dns-changes worker to keep one
// mutation rate for the zone.
func WithRateLimit(bucket *ratelimiter.Bucket, key string) Option {
	return func(r *Reconciler) {
		r.limiter = bucket
		r.limiterKey = key
	}
}

// WithLogger sets the reconciler logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Reconciler.
func New(cfg Config, records RecordLister, provider Provider, flag store.ReconciliationFlag, opts ...Option) (*Reconciler, error) {
	if cfg.RootDomain == "" {
		return nil, fmt.Errorf("%w: root domain is required", ErrInvalidConfig)
	}
	if records == nil || provider == nil || flag == nil {
		return nil, fmt.Errorf("%w: records, provider and flag are required", ErrInvalidConfig)
	}
	r := &Reconciler{
		rootDomain: cfg.RootDomain,
		interval:   cfg.Interval,
		records:    records,
		provider:   provider,
		flag:       flag,
		batchSize:  route53.MaxChangesPerBatch,
		logger:     logger.Discard(),
	}
	if r.interval <= 0 {
		r.interval = time.Minute
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(logger.Component("reconciler"))
	return r, nil
}

// Handler returns the periodic task handler.
func (r *Reconciler) Handler() queue.Handler {
	return queue.NewPeriodicTaskHandler(QueueName, func(ctx context.Context) error {
		_, err := r.Run(ctx)
		return err
	})
}

// Schedule registers the periodic run on the dns-reconciler queue.
func (r *Reconciler) Schedule(s Scheduler) error {
	return s.AddTask(QueueName, queue.EveryInterval(r.interval), queue.WithTaskQueue(QueueName))
}

// Run performs one reconciliation pass.
func (r *Reconciler) Run(ctx context.Context) (RunResult, error) {
	start := time.Now()
	res, err := r.run(ctx)
	if err != nil {
		res.Outcome = OutcomeError
	}
	metrics.ReconcileRuns.WithLabelValues(string(res.Outcome)).Inc()

	attrs := []any{
		logger.Result(string(res.Outcome)),
		logger.ChangeCount(res.Changes),
		logger.Count("applied", res.Applied),
		logger.Count("failed", res.Failed),
		logger.Count("deferred", res.Deferred),
		logger.Elapsed(start),
	}
	switch {
	case err != nil:
		r.logger.ErrorContext(ctx, "reconciliation failed", append(attrs, logger.Error(err))...)
	case res.Outcome == OutcomeClean || res.Outcome == OutcomeConcurrent:
		r.logger.DebugContext(ctx, "reconciliation skipped", attrs...)
	default:
		r.logger.InfoContext(ctx, "reconciliation finished", attrs...)
	}
	return res, err
}

func (r *Reconciler) run(ctx context.Context) (RunResult, error) {
	if r.tasks != nil {
		active, err := r.tasks.CountTasks(ctx, QueueName, queue.TaskStatusProcessing)
		if err != nil {
			return RunResult{}, errors.Join(ErrConcurrencyCheck, err)
		}
		// This run is one of the processing tasks.
		if active > 1 {
			return RunResult{Outcome: OutcomeConcurrent}, nil
		}
	}

	needed, err := r.flag.ReconciliationNeeded(ctx)
	if err != nil {
		return RunResult{}, errors.Join(ErrFlag, err)
	}
	if !needed {
		return RunResult{Outcome: OutcomeClean}, nil
	}
	// Cleared before the snapshots so mutations made during the run raise
	// it again.
	if err := r.flag.SetReconciliationNeeded(ctx, false); err != nil {
		return RunResult{}, errors.Join(ErrFlag, err)
	}

	res, err := r.reconcile(ctx)
	if err != nil {
		r.reraise(ctx)
	}
	return res, err
}

func (r *Reconciler) reconcile(ctx context.Context) (RunResult, error) {
	desiredF := async.Async(ctx, r.rootDomain, func(ctx context.Context, root string) (CompareStructure, error) {
		cs, err := FromStore(ctx, r.records, root)
		if err != nil {
			return nil, errors.Join(ErrStoreSnapshot, err)
		}
		return cs, nil
	})
	actualF := async.Async(ctx, r.rootDomain, func(ctx context.Context, root string) (CompareStructure, error) {
		cs, err := FromProvider(ctx, r.provider, root)
		if err != nil {
			return nil, errors.Join(ErrProviderSnapshot, err)
		}
		return cs, nil
	})
	snapshots, err := async.WaitAll(desiredF, actualF)
	if err != nil {
		return RunResult{}, err
	}

	changes := BuildChangeset(r.logger, snapshots[0], snapshots[1])
	res := RunResult{Outcome: OutcomeNoChanges, Changes: len(changes)}
	if len(changes) == 0 {
		return res, nil
	}

	batch := changes
	if len(batch) > r.batchSize {
		batch = changes[:r.batchSize]
		res.Deferred = len(changes) - r.batchSize
		r.reraise(ctx)
	}

	if err := r.pace(ctx); err != nil {
		return res, err
	}
	if _, err := r.provider.ChangeRecordSets(ctx, batch); err != nil {
		r.logger.WarnContext(ctx, "bulk change rejected, applying changes one by one",
			logger.ChangeCount(len(batch)), logger.Error(err))
		res.Outcome = OutcomeLimp
		r.applyEach(ctx, batch, &res)
		return res, nil
	}

	res.Outcome = OutcomeApplied
	res.Applied = len(batch)
	for _, c := range batch {
		metrics.ReconcileChanges.WithLabelValues(string(c.Action), "bulk").Inc()
	}
	return res, nil
}

// applyEach is limp mode: every change is sent alone and failures are only
// logged. The flag is raised again when a failure may succeed on retry.
func (r *Reconciler) applyEach(ctx context.Context, changes []route53.Change, res *RunResult) {
	retry := false
	for i, c := range changes {
		if err := r.pace(ctx); err != nil {
			res.Failed += len(changes) - i
			retry = true
			r.logger.WarnContext(ctx, "limp mode interrupted",
				logger.ChangeCount(len(changes)-i), logger.Error(err))
			break
		}
		if _, err := r.provider.ChangeRecordSets(ctx, []route53.Change{c}); err != nil {
			res.Failed++
			if !route53.IsPermanent(err) {
				retry = true
			}
			r.logger.ErrorContext(ctx, "change rejected",
				logger.Action(string(c.Action)),
				logger.Domain(c.RecordSet.Name),
				logger.RecordType(c.RecordSet.Type),
				logger.Error(err),
			)
			continue
		}
		res.Applied++
		metrics.ReconcileChanges.WithLabelValues(string(c.Action), "individual").Inc()
	}
	if retry {
		r.reraise(ctx)
	}
}

// pace waits for the mutation rate limit when one is configured.
func (r *Reconciler) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.limiter == nil {
		return nil
	}
	return r.limiter.Wait(ctx, r.limiterKey)
}

func (r *Reconciler) reraise(ctx context.Context) {
	if err := r.flag.SetReconciliationNeeded(context.WithoutCancel(ctx), true); err != nil {
		r.logger.ErrorContext(ctx, "reconciliation flag not raised", logger.Error(err))
	}
}
