package queue

import (
	"context"
	"encoding/json"
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

// MemoryStorage keeps tasks in process memory. It backs tests and the
// memory store backend; nothing survives a restart.
type MemoryStorage struct {
	mu       sync.RWMutex
	tasks    map[uuid.UUID]*Task
	dlq      map[uuid.UUID]*TasksDlq
	children map[uuid.UUID][]uuid.UUID
	byQueue  map[string][]uuid.UUID
	byStatus map[TaskStatus][]uuid.UUID

	lockCheckInterval time.Duration
	logger            *slog.Logger

	running    atomic.Bool
	locksFreed atomic.Int64
}

// MemoryStorageStats is a snapshot of storage counters.
type MemoryStorageStats struct {
	ActiveTasks       int
	ExpiredLocksFreed int64
	IsRunning         bool
}

// MemoryStorageOption configures a MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithLockCheckInterval sets how often expired locks are released.
func WithLockCheckInterval(interval time.Duration) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if interval > 0 {
			ms.lockCheckInterval = interval
		}
	}
}

func WithMemoryStorageLogger(log *slog.Logger) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if log != nil {
			ms.logger = log
		}
	}
}

// NewMemoryStorage creates an empty storage. Locks of crashed attempts are
// only released while Run is active.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	ms := &MemoryStorage{
		tasks:             make(map[uuid.UUID]*Task),
		dlq:               make(map[uuid.UUID]*TasksDlq),
		children:          make(map[uuid.UUID][]uuid.UUID),
		byQueue:           make(map[string][]uuid.UUID),
		byStatus:          make(map[TaskStatus][]uuid.UUID),
		lockCheckInterval: time.Second,
		logger:            logger.Discard(),
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

// CreateTask stores a new task in memory.
func (ms *MemoryStorage) CreateTask(ctx context.Context, task *Task) error {
	return ms.CreateTasks(ctx, []*Task{task})
}

// CreateTasks stores all tasks or none of them.
func (ms *MemoryStorage) CreateTasks(ctx context.Context, tasks []*Task) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(tasks))
	for _, task := range tasks {
		if task == nil {
			return errors.New("task cannot be nil")
		}
		if _, exists := ms.tasks[task.ID]; exists {
			return fmt.Errorf("%w: %s", ErrTaskAlreadyExists, task.ID)
		}
		if _, dup := seen[task.ID]; dup {
			return fmt.Errorf("%w: %s", ErrTaskAlreadyExists, task.ID)
		}
		seen[task.ID] = struct{}{}
	}

	for _, task := range tasks {
		taskCopy := *task
		ms.tasks[task.ID] = &taskCopy
		ms.byQueue[task.Queue] = append(ms.byQueue[task.Queue], task.ID)
		ms.byStatus[task.Status] = append(ms.byStatus[task.Status], task.ID)
		if task.ParentID != nil {
			ms.children[*task.ParentID] = append(ms.children[*task.ParentID], task.ID)
		}
	}

	return nil
}

// ClaimTask atomically claims the next highest-priority eligible task.
func (ms *MemoryStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := time.Now()
	var bestTask *Task

	// Priority first, then earliest scheduled.
	for _, taskID := range ms.byStatus[TaskStatusPending] {
		task := ms.tasks[taskID]

		if !slices.Contains(queues, task.Queue) {
			continue
		}
		if task.ScheduledAt.After(now) {
			continue
		}
		if task.LockedUntil != nil && task.LockedUntil.After(now) {
			continue
		}

		if bestTask == nil ||
			task.Priority > bestTask.Priority ||
			(task.Priority == bestTask.Priority && task.ScheduledAt.Before(bestTask.ScheduledAt)) {
			bestTask = task
		}
	}

	if bestTask == nil {
		return nil, ErrNoTaskToClaim
	}

	lockUntil := now.Add(lockDuration)
	bestTask.LockedUntil = &lockUntil
	bestTask.LockedBy = &workerID
	ms.setStatus(bestTask, TaskStatusProcessing)

	taskCopy := *bestTask
	return &taskCopy, nil
}

func (ms *MemoryStorage) processingTask(taskID uuid.UUID) (*Task, error) {
	task, exists := ms.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskStatusProcessing {
		return nil, fmt.Errorf("%w: task %s is %s", ErrInvalidTaskState, taskID, task.Status)
	}
	return task, nil
}

// CompleteTask marks a task as completed and releases its parent once the
// last pending child finished.
func (ms *MemoryStorage) CompleteTask(ctx context.Context, taskID uuid.UUID, result json.RawMessage) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processingTask(taskID)
	if err != nil {
		return err
	}

	now := time.Now()
	task.ProcessedAt = &now
	task.LockedUntil = nil
	task.LockedBy = nil
	task.Result = result
	ms.setStatus(task, TaskStatusCompleted)

	ms.releaseParent(task, now)

	return nil
}

// RetryTask records a failed attempt and reschedules the task.
func (ms *MemoryStorage) RetryTask(ctx context.Context, taskID uuid.UUID, errorMsg string, retryAt time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processingTask(taskID)
	if err != nil {
		return err
	}

	task.Attempts++
	task.Error = &errorMsg
	task.LockedUntil = nil
	task.LockedBy = nil
	task.ScheduledAt = retryAt
	ms.setStatus(task, TaskStatusPending)

	return nil
}

// FailTask records the final attempt and walks up the flow: a child with
// FailParentOnFailure fails its parent (and so on up the chain), a child with
// IgnoreDependencyOnFailure counts as finished for its parent, any other child
// leaves its parent waiting.
func (ms *MemoryStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) ([]*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processingTask(taskID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	task.Attempts++
	task.Error = &errorMsg
	task.LockedUntil = nil
	task.LockedBy = nil
	task.ProcessedAt = &now
	ms.setStatus(task, TaskStatusFailed)

	var cascaded []*Task
	child := task
	for child.ParentID != nil {
		parent, ok := ms.tasks[*child.ParentID]
		if !ok || parent.Status != TaskStatusWaitingChildren {
			break
		}

		if child.IgnoreDependencyOnFailure {
			ms.releaseParent(child, now)
			break
		}
		if !child.FailParentOnFailure {
			break
		}

		msg := fmt.Sprintf("child task %s (%s) failed: %s", child.ID, child.TaskName, errorMsg)
		parent.Error = &msg
		parent.ProcessedAt = &now
		ms.setStatus(parent, TaskStatusFailed)

		parentCopy := *parent
		cascaded = append(cascaded, &parentCopy)
		child = parent
	}

	return cascaded, nil
}

// releaseParent counts child as finished for its parent.
func (ms *MemoryStorage) releaseParent(child *Task, now time.Time) {
	if child.ParentID == nil {
		return
	}
	parent, ok := ms.tasks[*child.ParentID]
	if !ok || parent.Status != TaskStatusWaitingChildren {
		return
	}

	parent.PendingChildren--
	if parent.PendingChildren <= 0 {
		parent.PendingChildren = 0
		if parent.ScheduledAt.Before(now) {
			parent.ScheduledAt = now
		}
		ms.setStatus(parent, TaskStatusPending)
	}
}

// MoveToDLQ copies a failed task to the dead letter queue. The task itself
// stays in storage so its parent can inspect the failure.
func (ms *MemoryStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	now := time.Now()
	dlqEntry := &TasksDlq{
		ID:        uuid.New(),
		TaskID:    task.ID,
		Queue:     task.Queue,
		TaskType:  task.TaskType,
		TaskName:  task.TaskName,
		Payload:   task.Payload,
		Priority:  task.Priority,
		Attempts:  task.Attempts,
		FailedAt:  now,
		CreatedAt: now,
	}
	if task.Error != nil {
		dlqEntry.Error = *task.Error
	}

	ms.dlq[dlqEntry.ID] = dlqEntry

	return nil
}

// ExtendLock extends the lock duration for a long-running task.
func (ms *MemoryStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processingTask(taskID)
	if err != nil {
		return err
	}

	lockUntil := time.Now().Add(duration)
	task.LockedUntil = &lockUntil

	return nil
}

// ListChildren returns copies of the direct children of parentID.
func (ms *MemoryStorage) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	ids := ms.children[parentID]
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		if task, ok := ms.tasks[id]; ok {
			taskCopy := *task
			out = append(out, &taskCopy)
		}
	}
	return out, nil
}

// CountTasks counts tasks of a queue in the given status.
func (ms *MemoryStorage) CountTasks(ctx context.Context, queue string, status TaskStatus) (int, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	n := 0
	for _, id := range ms.byQueue[queue] {
		if ms.tasks[id].Status == status {
			n++
		}
	}
	return n, nil
}

// GetTask returns a copy of a stored task.
func (ms *MemoryStorage) GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	task, ok := ms.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	taskCopy := *task
	return &taskCopy, nil
}

// DLQ returns copies of every dead letter entry.
func (ms *MemoryStorage) DLQ() []TasksDlq {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	out := make([]TasksDlq, 0, len(ms.dlq))
	for _, e := range ms.dlq {
		out = append(out, *e)
	}
	return out
}

func (ms *MemoryStorage) setStatus(task *Task, status TaskStatus) {
	ms.removeFromStatusIndex(task.ID, task.Status)
	task.Status = status
	ms.byStatus[status] = append(ms.byStatus[status], task.ID)
}

// GetPendingTaskByName finds a pending task by name for scheduler idempotency checks.
func (ms *MemoryStorage) GetPendingTaskByName(ctx context.Context, taskName string) (*Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	for _, taskID := range ms.byStatus[TaskStatusPending] {
		task := ms.tasks[taskID]
		if task.TaskName == taskName {
			taskCopy := *task
			return &taskCopy, nil
		}
	}

	return nil, nil
}

func (ms *MemoryStorage) removeFromStatusIndex(taskID uuid.UUID, status TaskStatus) {
	ms.byStatus[status] = slices.DeleteFunc(ms.byStatus[status], func(id uuid.UUID) bool {
		return id == taskID
	})
}

// Run returns an errgroup function releasing expired locks every check
// interval until ctx is canceled.
func (ms *MemoryStorage) Run(ctx context.Context) func() error {
	return func() error {
		if !ms.running.CompareAndSwap(false, true) {
			return errors.New("memory storage already running")
		}
		defer ms.running.Store(false)

		ticker := time.NewTicker(ms.lockCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-ticker.C:
				if n := ms.expireLocks(now); n > 0 {
					ms.logger.WarnContext(ctx, "released expired task locks", logger.Count("tasks", n))
				}
			}
		}
	}
}

// expireLocks makes processing tasks whose lock ran out pending again and
// returns how many it released.
func (ms *MemoryStorage) expireLocks(now time.Time) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	freed := 0
	for _, id := range slices.Clone(ms.byStatus[TaskStatusProcessing]) {
		task := ms.tasks[id]
		if task.LockedUntil == nil || task.LockedUntil.After(now) {
			continue
		}
		task.LockedUntil = nil
		task.LockedBy = nil
		ms.setStatus(task, TaskStatusPending)
		freed++
	}
	ms.locksFreed.Add(int64(freed))
	return freed
}

func (ms *MemoryStorage) Stats() MemoryStorageStats {
	ms.mu.RLock()
	n := len(ms.tasks)
	ms.mu.RUnlock()
	return MemoryStorageStats{
		ActiveTasks:       n,
		ExpiredLocksFreed: ms.locksFreed.Load(),
		IsRunning:         ms.running.Load(),
	}
}

// Healthcheck fails unless Run is active.
func (ms *MemoryStorage) Healthcheck(context.Context) error {
	if !ms.running.Load() {
		return errors.Join(ErrHealthcheckFailed, errors.New("queue: lock expiry is not running"))
	}
	return nil
}
