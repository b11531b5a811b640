package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/certflow/core/logger"
)

// Service bundles the workers, the scheduler and the enqueuer of one
// storage and runs them together.
//
//	svc, err := queue.NewServiceFromConfig(cfg, storage,
//	    queue.WithServiceLogger(log),
//	    queue.WithWorkerOptions(queue.WithQueues(email.NotificationQueue)),
//	)
//	svc.RegisterHandlers(email.NewNotificationHandler(sender, log))
//
//	dns, _ := svc.AddWorker(queue.WithQueues(dnsrecord.QueueName), queue.WithRateLimit(bucket, "route53"))
//	records.Register(dns)
//
//	err = svc.Run(ctx)
type Service struct {
	storage   Storage
	scheduler *Scheduler
	enqueuer  *Enqueuer
	logger    *slog.Logger

	mu      sync.RWMutex
	workers []*Worker

	requireHandlers bool
	beforeStart     func(context.Context) error
}

// NewService creates a service whose primary worker claims from the default
// queue. Options replace components as they are applied.
func NewService(storage Storage, opts ...ServiceOption) (*Service, error) {
	if storage == nil {
		return nil, ErrRepositoryNil
	}
	s := &Service{storage: storage, logger: logger.Discard()}

	var err error
	if s.enqueuer, err = NewEnqueuer(storage); err != nil {
		return nil, err
	}
	if s.scheduler, err = NewScheduler(storage); err != nil {
		return nil, err
	}
	primary, err := NewWorker(storage)
	if err != nil {
		return nil, err
	}
	s.workers = []*Worker{primary}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("queue service option: %w", err)
		}
	}
	return s, nil
}

// NewServiceFromConfig applies cfg to every component before opts.
func NewServiceFromConfig(cfg Config, storage Storage, opts ...ServiceOption) (*Service, error) {
	return NewService(storage, append([]ServiceOption{
		WithWorkerOptions(
			WithQueues(cfg.Queues...),
			WithPullInterval(cfg.PollInterval),
			WithLockTimeout(cfg.LockTimeout),
			WithShutdownTimeout(cfg.ShutdownTimeout),
			WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
		),
		WithSchedulerOptions(
			WithCheckInterval(cfg.CheckInterval),
			WithSchedulerShutdownTimeout(cfg.ShutdownTimeout),
		),
		WithEnqueuerOptions(
			WithDefaultQueue(cfg.DefaultQueue),
			WithDefaultPriority(cfg.DefaultPriority),
		),
	}, opts...)...)
}

// AddWorker adds a worker on the same storage, for queues that need their
// own concurrency or rate limit.
func (s *Service) AddWorker(opts ...WorkerOption) (*Worker, error) {
	w, err := NewWorker(s.storage, opts...)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.workers = append(s.workers, w)
	s.mu.Unlock()
	return w, nil
}

// Run starts every worker with handlers and the scheduler when it has tasks,
// and blocks until ctx is canceled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	if s.beforeStart != nil {
		if err := s.beforeStart(ctx); err != nil {
			return fmt.Errorf("before start: %w", err)
		}
	}

	workers := s.Workers()
	if s.requireHandlers && !anyHandlers(workers) {
		return ErrNoHandlers
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		if !w.HasHandlers() {
			s.logger.DebugContext(ctx, "worker has no handlers, not started", slog.Any("queues", w.Queues()))
			continue
		}
		s.logger.InfoContext(ctx, "starting worker", slog.Any("queues", w.Queues()))
		g.Go(func() error {
			if err := w.Run(ctx)(); !errors.Is(err, ErrNoHandlers) {
				return err
			}
			return nil
		})
	}

	if tasks := s.scheduler.ListTasks(); len(tasks) > 0 {
		s.logger.InfoContext(ctx, "starting scheduler", slog.Any("tasks", tasks))
		g.Go(s.scheduler.Run(ctx))
	}

	return g.Wait()
}

func anyHandlers(workers []*Worker) bool {
	for _, w := range workers {
		if w.HasHandlers() {
			return true
		}
	}
	return false
}

// Worker returns the primary worker.
func (s *Service) Worker() *Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workers[0]
}

// Workers returns every worker, primary first.
func (s *Service) Workers() []*Worker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Worker(nil), s.workers...)
}

func (s *Service) Scheduler() *Scheduler { return s.scheduler }

func (s *Service) Enqueuer() *Enqueuer { return s.enqueuer }

// RegisterHandler registers handler on the primary worker.
func (s *Service) RegisterHandler(handler Handler) error {
	return s.Worker().RegisterHandler(handler)
}

// RegisterHandlers registers handlers on the primary worker.
func (s *Service) RegisterHandlers(handlers ...Handler) error {
	return s.Worker().RegisterHandlers(handlers...)
}

// OnTaskFailed registers fn on every worker. A parent failed by a cascading
// child is reported by the worker that ran the child, whatever the parent's
// queue.
func (s *Service) OnTaskFailed(taskName string, fn FailureListener) {
	for _, w := range s.Workers() {
		w.OnTaskFailed(taskName, fn)
	}
}

// AddScheduledTask registers a periodic task with the scheduler.
func (s *Service) AddScheduledTask(name string, schedule Schedule, opts ...SchedulerTaskOption) error {
	return s.scheduler.AddTask(name, schedule, opts...)
}

func (s *Service) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) error {
	return s.enqueuer.Enqueue(ctx, payload, opts...)
}

// EnqueueFlow stores a task tree and returns the root task ID.
func (s *Service) EnqueueFlow(ctx context.Context, flow Flow) (uuid.UUID, error) {
	return s.enqueuer.EnqueueFlow(ctx, flow)
}

// CountTasks counts tasks of a queue in the given status.
func (s *Service) CountTasks(ctx context.Context, queue string, status TaskStatus) (int, error) {
	return s.storage.CountTasks(ctx, queue, status)
}
