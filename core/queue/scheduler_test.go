package queue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/core/queue"
)

type mockSchedulerRepo struct {
	mu        sync.Mutex
	tasks     map[uuid.UUID]*queue.Task
	createErr error
}

func newMockSchedulerRepo() *mockSchedulerRepo {
	return &mockSchedulerRepo{tasks: make(map[uuid.UUID]*queue.Task)}
}

func (m *mockSchedulerRepo) CreateTask(ctx context.Context, task *queue.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	m.tasks[task.ID] = task
	return nil
}

func (m *mockSchedulerRepo) GetPendingTaskByName(ctx context.Context, taskName string) (*queue.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, task := range m.tasks {
		if task.TaskName == taskName && task.Status == queue.TaskStatusPending {
			return task, nil
		}
	}
	return nil, nil
}

func (m *mockSchedulerRepo) byName(name string) []*queue.Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*queue.Task
	for _, task := range m.tasks {
		if task.TaskName == name {
			out = append(out, task)
		}
	}
	return out
}

func TestScheduler_AddTask(t *testing.T) {
	t.Parallel()

	scheduler, err := queue.NewScheduler(newMockSchedulerRepo())
	require.NoError(t, err)

	require.NoError(t, scheduler.AddTask("reconcile", queue.EveryMinutes(1)))
	assert.ErrorIs(t, scheduler.AddTask("reconcile", queue.EveryMinutes(1)), queue.ErrTaskAlreadyRegistered)
	assert.ErrorIs(t, scheduler.AddTask("broken", nil), queue.ErrInvalidSchedule)
	assert.Equal(t, []string{"reconcile"}, scheduler.ListTasks())

	scheduler.RemoveTask("reconcile")
	assert.Empty(t, scheduler.ListTasks())

	_, err = queue.NewScheduler(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)
}

func TestScheduler_Start(t *testing.T) {
	t.Parallel()

	t.Run("creates one pending instance per task", func(t *testing.T) {
		t.Parallel()

		repo := newMockSchedulerRepo()
		scheduler, err := queue.NewScheduler(repo, queue.WithCheckInterval(5*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, scheduler.AddTask("reconcile", queue.EveryMinutes(1),
			queue.WithTaskQueue("dns-reconciler"),
			queue.WithTaskPriority(queue.PriorityHigh),
			queue.WithTaskMaxAttempts(2),
		))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- scheduler.Run(ctx)() }()

		assert.Eventually(t, func() bool { return len(repo.byName("reconcile")) == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(30 * time.Millisecond)

		cancel()
		require.NoError(t, <-done)

		tasks := repo.byName("reconcile")
		require.Len(t, tasks, 1)
		assert.Equal(t, "dns-reconciler", tasks[0].Queue)
		assert.Equal(t, queue.TaskTypePeriodic, tasks[0].TaskType)
		assert.Equal(t, queue.PriorityHigh, tasks[0].Priority)
		assert.Equal(t, 2, tasks[0].MaxAttempts)
		assert.Equal(t, int64(1), scheduler.Stats().TasksScheduled)
	})

	t.Run("requires tasks", func(t *testing.T) {
		t.Parallel()

		scheduler, err := queue.NewScheduler(newMockSchedulerRepo())
		require.NoError(t, err)
		assert.ErrorIs(t, scheduler.Start(t.Context()), queue.ErrSchedulerNotConfigured)
	})

	t.Run("create errors do not stop the scheduler", func(t *testing.T) {
		t.Parallel()

		repo := newMockSchedulerRepo()
		repo.createErr = errors.New("db down")
		scheduler, err := queue.NewScheduler(repo, queue.WithCheckInterval(5*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, scheduler.AddTask("reconcile", queue.EveryMinutes(1)))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- scheduler.Run(ctx)() }()

		assert.Eventually(t, func() bool { return scheduler.Healthcheck(ctx) == nil }, time.Second, 5*time.Millisecond)
		cancel()
		require.NoError(t, <-done)
		assert.Zero(t, scheduler.Stats().TasksScheduled)
	})
}
