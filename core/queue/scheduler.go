package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/certflow/core/logger"
)

// SchedulerRepository is the storage the scheduler writes periodic task
// instances to.
type SchedulerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
	// GetPendingTaskByName returns nil when no pending instance exists.
	GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error)
}

// Scheduler turns registered schedules into pending periodic tasks. At most
// one pending instance of each periodic task exists at a time, so a slow
// worker never builds a backlog of identical runs.
type Scheduler struct {
	repo            SchedulerRepository
	interval        time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger

	mu      sync.Mutex
	entries map[string]*periodic
	stop    context.CancelFunc
	stopped chan struct{}

	scheduled atomic.Int64
	checking  atomic.Int32
}

// SchedulerStats is a snapshot of scheduler counters.
type SchedulerStats struct {
	TasksScheduled int64
	ActiveChecks   int32
	IsRunning      bool
}

type periodic struct {
	name     string
	schedule Schedule
	opts     schedulerTaskOptions
	// next is zero until the first instance is created.
	next time.Time
}

// NewScheduler creates a scheduler writing to repo.
func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	o := schedulerOptions{
		checkInterval:   30 * time.Second,
		shutdownTimeout: 30 * time.Second,
		logger:          logger.Discard(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler{
		repo:            repo,
		interval:        o.checkInterval,
		shutdownTimeout: o.shutdownTimeout,
		logger:          o.logger,
		entries:         make(map[string]*periodic),
	}, nil
}

// NewSchedulerFromConfig applies cfg before opts.
func NewSchedulerFromConfig(cfg Config, repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	return NewScheduler(repo, append([]SchedulerOption{
		WithCheckInterval(cfg.CheckInterval),
		WithSchedulerShutdownTimeout(cfg.ShutdownTimeout),
	}, opts...)...)
}

// AddTask registers a periodic task. Instances go to the default queue with
// one attempt unless opts say otherwise.
func (s *Scheduler) AddTask(name string, schedule Schedule, opts ...SchedulerTaskOption) error {
	if schedule == nil {
		return ErrInvalidSchedule
	}
	o := schedulerTaskOptions{queue: DefaultQueueName, priority: PriorityDefault, maxAttempts: 1}
	for _, opt := range opts {
		opt(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[name]; ok {
		return ErrTaskAlreadyRegistered
	}
	s.entries[name] = &periodic{name: name, schedule: schedule, opts: o}

	s.logger.Info("periodic task registered",
		logger.TaskName(name),
		logger.Queue(o.queue),
		slog.String("schedule", schedule.String()))
	return nil
}

// RemoveTask unregisters a periodic task. Pending instances stay in storage.
func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	delete(s.entries, name)
	s.mu.Unlock()
}

// ListTasks returns the registered task names in order.
func (s *Scheduler) ListTasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Start checks schedules every interval until ctx is canceled or Stop is
// called. It blocks; see Run for the errgroup form.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.stop != nil:
		s.mu.Unlock()
		return errors.New("scheduler already started")
	case len(s.entries) == 0:
		s.mu.Unlock()
		return ErrSchedulerNotConfigured
	}
	ctx, s.stop = context.WithCancel(ctx)
	s.stopped = make(chan struct{})
	stopped := s.stopped
	s.mu.Unlock()

	defer close(stopped)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "scheduler started", slog.Duration("check_interval", s.interval))
	for {
		// Checks outlive cancellation so a half-written instance is not abandoned.
		s.check(context.WithoutCancel(ctx), time.Now())

		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stop = nil
			s.mu.Unlock()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop cancels Start and waits up to the shutdown timeout for the running
// check to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	stop, stopped := s.stop, s.stopped
	s.mu.Unlock()
	if stop == nil {
		return errors.New("scheduler not started")
	}
	stop()

	select {
	case <-stopped:
		s.logger.Info("scheduler stopped")
		return nil
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("scheduler shutdown timed out", slog.Duration("timeout", s.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", s.shutdownTimeout)
	}
}

// Run returns an errgroup function; cancellation is a clean exit.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		err := s.Start(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	}
}

func (s *Scheduler) check(ctx context.Context, now time.Time) {
	s.checking.Add(1)
	defer s.checking.Add(-1)

	s.mu.Lock()
	due := make([]periodic, 0, len(s.entries))
	for _, e := range s.entries {
		if e.next.IsZero() || !e.next.After(now) {
			due = append(due, *e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		next, err := s.ensurePending(ctx, e, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "periodic task not scheduled",
				logger.TaskName(e.name),
				logger.Error(err))
			continue
		}
		s.mu.Lock()
		if cur, ok := s.entries[e.name]; ok {
			cur.next = next
		}
		s.mu.Unlock()
	}
}

// ensurePending creates the next instance of e unless one is already
// pending, and returns the time the schedule is next due.
func (s *Scheduler) ensurePending(ctx context.Context, e periodic, now time.Time) (time.Time, error) {
	existing, err := s.repo.GetPendingTaskByName(ctx, e.name)
	if err == nil && existing != nil {
		s.logger.DebugContext(ctx, "periodic task already pending",
			logger.TaskName(e.name),
			slog.Time("scheduled_at", existing.ScheduledAt))
		return e.schedule.Next(existing.ScheduledAt), nil
	}

	at := e.next
	if at.IsZero() {
		at = e.schedule.Next(now)
	}
	task := &Task{
		ID:          uuid.New(),
		Queue:       e.opts.queue,
		TaskType:    TaskTypePeriodic,
		TaskName:    e.name,
		Status:      TaskStatusPending,
		Priority:    e.opts.priority,
		MaxAttempts: e.opts.maxAttempts,
		ScheduledAt: at,
		CreatedAt:   now,
	}
	if err := s.repo.CreateTask(ctx, task); err != nil {
		return time.Time{}, fmt.Errorf("create periodic task: %w", err)
	}
	s.scheduled.Add(1)

	s.logger.InfoContext(ctx, "periodic task scheduled",
		logger.TaskName(e.name),
		logger.TaskID(task.ID),
		slog.Time("scheduled_at", at))
	return e.schedule.Next(at), nil
}

// Stats returns current counters.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.Lock()
	running := s.stop != nil
	s.mu.Unlock()
	return SchedulerStats{
		TasksScheduled: s.scheduled.Load(),
		ActiveChecks:   s.checking.Load(),
		IsRunning:      running,
	}
}

// Healthcheck fails when the scheduler is stopped or has nothing to schedule.
func (s *Scheduler) Healthcheck(context.Context) error {
	if !s.Stats().IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrSchedulerNotRunning)
	}
	if len(s.ListTasks()) == 0 {
		return errors.Join(ErrHealthcheckFailed, ErrNoTasksRegistered)
	}
	return nil
}
