package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/pkg/ratelimiter"
)

// WorkerRepository is the storage side of task execution.
type WorkerRepository interface {
	// ClaimTask locks the next due task of queues for lockDuration. It
	// returns ErrNoTaskToClaim, or a nil task, when nothing is due.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)
	// CompleteTask stores result and releases the parent once its last
	// child finished.
	CompleteTask(ctx context.Context, taskID uuid.UUID, result json.RawMessage) error
	// RetryTask records a failed attempt and makes the task due at retryAt.
	RetryTask(ctx context.Context, taskID uuid.UUID, errorMsg string, retryAt time.Time) error
	// FailTask records the final attempt, applies the parent policy and
	// returns the ancestors that failed with it.
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) ([]*Task, error)
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error
	ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]*Task, error)
}

// FailureListener observes tasks that failed for good, either directly or
// because a child failed with WithFailParentOnFailure.
type FailureListener func(ctx context.Context, task *Task, err error)

// Worker claims tasks from its queues and runs up to a fixed number of them
// concurrently.
type Worker struct {
	repo            WorkerRepository
	id              uuid.UUID
	queues          []string
	pullInterval    time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	limiter         *ratelimiter.Bucket
	limiterKey      string
	logger          *slog.Logger

	mu        sync.RWMutex
	handlers  map[string]Handler
	listeners map[string][]FailureListener
	stop      context.CancelFunc
	slots     chan struct{}
	inflight  sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
	active    atomic.Int32
}

// WorkerStats is a snapshot of worker counters. TasksFailed counts every
// failed attempt, retried or not.
type WorkerStats struct {
	TasksProcessed int64
	TasksFailed    int64
	ActiveTasks    int32
	IsRunning      bool
}

// NewWorker creates a worker on the default queue running one task at a
// time unless opts say otherwise.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	o := workerOptions{
		queues:             []string{DefaultQueueName},
		pullInterval:       5 * time.Second,
		lockTimeout:        5 * time.Minute,
		shutdownTimeout:    30 * time.Second,
		maxConcurrentTasks: 1,
		logger:             logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.New()
	return &Worker{
		repo:            repo,
		id:              id,
		queues:          o.queues,
		pullInterval:    o.pullInterval,
		lockTimeout:     o.lockTimeout,
		shutdownTimeout: o.shutdownTimeout,
		limiter:         o.limiter,
		limiterKey:      o.limiterKey,
		logger:          o.logger.With(slog.String("worker_id", id.String())),
		handlers:        make(map[string]Handler),
		listeners:       make(map[string][]FailureListener),
		slots:           make(chan struct{}, o.maxConcurrentTasks),
	}, nil
}

// NewWorkerFromConfig applies cfg before opts.
func NewWorkerFromConfig(cfg Config, repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	return NewWorker(repo, append([]WorkerOption{
		WithQueues(cfg.Queues...),
		WithPullInterval(cfg.PollInterval),
		WithLockTimeout(cfg.LockTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
	}, opts...)...)
}

// RegisterHandler routes tasks named handler.Name() to handler, replacing
// any earlier one. A nil handler is ignored.
func (w *Worker) RegisterHandler(handler Handler) error {
	if handler == nil {
		return nil
	}
	w.mu.Lock()
	w.handlers[handler.Name()] = handler
	w.mu.Unlock()
	return nil
}

func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// OnTaskFailed registers fn for terminal failures of tasks named taskName.
// Listeners run synchronously on the worker slot after the failure was stored.
func (w *Worker) OnTaskFailed(taskName string, fn FailureListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners[taskName] = append(w.listeners[taskName], fn)
	w.mu.Unlock()
}

// Start claims tasks every pull interval while a slot is free. It blocks
// until ctx is canceled or Stop is called; see Run for the errgroup form.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	switch {
	case w.stop != nil:
		w.mu.Unlock()
		return errors.New("worker already started")
	case len(w.handlers) == 0:
		w.mu.Unlock()
		return ErrNoHandlers
	}
	ctx, w.stop = context.WithCancel(ctx)
	w.mu.Unlock()

	w.logger.InfoContext(ctx, "worker started",
		slog.Any("queues", w.queues),
		slog.Int("max_concurrent", cap(w.slots)))

	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		select {
		case w.slots <- struct{}{}:
		default:
			continue
		}
		// Stop waits on inflight, so the slot is counted under the lock
		// that Stop takes before waiting.
		w.mu.RLock()
		if w.stop == nil {
			w.mu.RUnlock()
			<-w.slots
			return nil
		}
		w.inflight.Add(1)
		w.mu.RUnlock()

		go func() {
			defer w.inflight.Done()
			defer func() { <-w.slots }()
			if err := w.pullAndProcess(ctx); err != nil && !errors.Is(err, ErrHandlerNotFound) {
				w.logger.ErrorContext(ctx, "task processing failed", logger.Error(err))
			}
		}()
	}
}

// Stop cancels Start and waits up to the shutdown timeout for running tasks.
func (w *Worker) Stop() error {
	w.mu.Lock()
	stop := w.stop
	w.stop = nil
	w.mu.Unlock()
	if stop == nil {
		return errors.New("worker not started")
	}
	stop()

	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped")
		return nil
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("worker shutdown timed out, tasks abandoned to lock expiry",
			slog.Duration("timeout", w.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", w.shutdownTimeout)
	}
}

// Run returns an errgroup function. On cancellation it stops the worker and
// waits for running tasks.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() { errCh <- w.Start(ctx) }()

		select {
		case <-ctx.Done():
			_ = w.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// pullAndProcess pulls a task and processes it.
func (w *Worker) pullAndProcess(ctx context.Context) error {
	if w.limiter != nil {
		res, err := w.limiter.Allow(ctx, w.limiterKey)
		if err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		if !res.Allowed() {
			w.logger.DebugContext(ctx, "worker rate limited",
				slog.Duration("retry_after", res.RetryAfter()))
			return nil
		}
	}

	task, err := w.repo.ClaimTask(ctx, w.id, w.queues, w.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrNoTaskToClaim) {
			return nil
		}
		return fmt.Errorf("failed to claim task: %w", err)
	}

	if task == nil {
		return nil
	}

	w.logger.DebugContext(ctx, "claimed task",
		logger.TaskID(task.ID),
		logger.TaskName(task.TaskName),
		logger.Queue(task.Queue))

	// Storage updates must land even when the worker is shutting down.
	return w.processTask(context.WithoutCancel(ctx), task)
}

// processTask executes a task with its handler.
func (w *Worker) processTask(ctx context.Context, task *Task) (retErr error) {
	start := time.Now()

	w.active.Add(1)
	defer w.active.Add(-1)

	// A panicking handler fails the attempt instead of the worker.
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			w.logger.ErrorContext(ctx, "handler panicked",
				logger.TaskID(task.ID),
				logger.TaskName(task.TaskName),
				slog.Any("panic", r))
			if err := w.handleTaskFailure(ctx, task, retErr, time.Since(start)); err != nil {
				w.logger.ErrorContext(ctx, "failed to record panicked task",
					logger.TaskID(task.ID),
					logger.TaskName(task.TaskName),
					logger.Error(err))
			}
		}
	}()

	w.mu.RLock()
	handler, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()

	if !ok {
		return w.handleMissingHandler(ctx, task)
	}

	// Handlers get the full lock timeout even during graceful shutdown.
	taskCtx, cancel := context.WithTimeout(ctx, w.lockTimeout)
	defer cancel()

	taskCtx, slot := withTaskContext(taskCtx, task, w.childLoader(task.ID))

	err := handler.Handle(taskCtx, task.Payload)
	duration := time.Since(start)

	if err != nil {
		return w.handleTaskFailure(ctx, task, err, duration)
	}

	return w.handleTaskSuccess(ctx, task, slot.value(), duration)
}

func (w *Worker) childLoader(parentID uuid.UUID) childLoader {
	return func(ctx context.Context) ([]ChildResult, error) {
		children, err := w.repo.ListChildren(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("list children of task %s: %w", parentID, err)
		}
		results := make([]ChildResult, 0, len(children))
		for _, c := range children {
			r := ChildResult{
				TaskID:   c.ID,
				TaskName: c.TaskName,
				Status:   c.Status,
				Result:   c.Result,
			}
			if c.Error != nil {
				r.Error = *c.Error
			}
			results = append(results, r)
		}
		return results, nil
	}
}

// handleMissingHandler fails the task for good: retrying cannot help until
// a handler is deployed, after which the task can be requeued from the DLQ.
func (w *Worker) handleMissingHandler(ctx context.Context, task *Task) error {
	w.failed.Add(1)

	w.logger.ErrorContext(ctx, "no handler registered for task type",
		logger.TaskID(task.ID),
		logger.TaskName(task.TaskName))

	if err := w.failTerminal(ctx, task, fmt.Errorf("%w: %s", ErrHandlerNotFound, task.TaskName)); err != nil {
		return err
	}
	return ErrHandlerNotFound
}

// handleTaskFailure retries the task with exponential backoff while attempts
// remain and the error is recoverable; otherwise the failure is final.
func (w *Worker) handleTaskFailure(ctx context.Context, task *Task, execErr error, duration time.Duration) error {
	w.failed.Add(1)

	attempt := task.Attempts + 1
	unrecoverable := IsUnrecoverable(execErr)

	if !unrecoverable && attempt < task.MaxAttempts {
		delay := task.RetryDelay(attempt)
		w.logger.WarnContext(ctx, "task failed, retrying",
			logger.TaskID(task.ID),
			logger.TaskName(task.TaskName),
			logger.Attempt(attempt),
			slog.Int("max_attempts", task.MaxAttempts),
			slog.Duration("retry_in", delay),
			logger.Duration(duration),
			logger.Error(execErr))

		if err := w.repo.RetryTask(ctx, task.ID, execErr.Error(), time.Now().Add(delay)); err != nil {
			return fmt.Errorf("failed to reschedule task %s: %w", task.ID, err)
		}
		return nil
	}

	w.logger.ErrorContext(ctx, "task failed",
		logger.TaskID(task.ID),
		logger.TaskName(task.TaskName),
		logger.Attempt(attempt),
		slog.Int("max_attempts", task.MaxAttempts),
		slog.Bool("unrecoverable", unrecoverable),
		logger.Duration(duration),
		logger.Error(execErr))

	return w.failTerminal(ctx, task, execErr)
}

func (w *Worker) failTerminal(ctx context.Context, task *Task, execErr error) error {
	msg := execErr.Error()

	cascaded, err := w.repo.FailTask(ctx, task.ID, msg)
	if err != nil {
		return fmt.Errorf("failed to update task %s status to failed: %w", task.ID, err)
	}

	if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
		w.logger.ErrorContext(ctx, "failed to move task to dead letter queue",
			logger.TaskID(task.ID),
			logger.Error(err))
	}

	failed := *task
	failed.Status = TaskStatusFailed
	failed.Attempts = task.Attempts + 1
	failed.Error = &msg
	w.notifyFailed(ctx, &failed, execErr)

	for _, parent := range cascaded {
		cause := ErrUnrecoverable
		if parent.Error != nil {
			cause = errors.New(*parent.Error)
		}
		w.logger.WarnContext(ctx, "parent task failed by child",
			logger.TaskID(parent.ID),
			logger.TaskName(parent.TaskName),
			slog.String("child_id", task.ID.String()))
		w.notifyFailed(ctx, parent, cause)
	}

	return nil
}

func (w *Worker) notifyFailed(ctx context.Context, task *Task, err error) {
	w.mu.RLock()
	listeners := w.listeners[task.TaskName]
	w.mu.RUnlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.ErrorContext(ctx, "failure listener panicked",
						logger.TaskID(task.ID),
						logger.TaskName(task.TaskName),
						slog.Any("panic", r))
				}
			}()
			fn(ctx, task, err)
		}()
	}
}

// handleTaskSuccess processes successful task completion.
func (w *Worker) handleTaskSuccess(ctx context.Context, task *Task, result json.RawMessage, duration time.Duration) error {
	if err := w.repo.CompleteTask(ctx, task.ID, result); err != nil {
		return fmt.Errorf("failed to mark task %s as completed: %w", task.ID, err)
	}

	w.processed.Add(1)

	w.logger.InfoContext(ctx, "task completed successfully",
		logger.TaskID(task.ID),
		logger.TaskName(task.TaskName),
		logger.Queue(task.Queue),
		logger.Duration(duration))

	return nil
}

// HasHandlers reports whether any handler is registered.
func (w *Worker) HasHandlers() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.handlers) > 0
}

// Queues returns the queues the worker claims from.
func (w *Worker) Queues() []string {
	return append([]string(nil), w.queues...)
}

func (w *Worker) Stats() WorkerStats {
	w.mu.RLock()
	running := w.stop != nil
	w.mu.RUnlock()
	return WorkerStats{
		TasksProcessed: w.processed.Load(),
		TasksFailed:    w.failed.Load(),
		ActiveTasks:    w.active.Load(),
		IsRunning:      running,
	}
}

// Healthcheck fails when the worker is not running. Busy slots are not a
// failure: a long reconciliation keeps its worker full.
func (w *Worker) Healthcheck(context.Context) error {
	if !w.Stats().IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrWorkerNotRunning)
	}
	return nil
}
