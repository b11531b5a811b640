package queue_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/core/queue"
)

func TestEnqueuer_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("applies options", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(storage, queue.WithDefaultQueue("jobs"))
		require.NoError(t, err)

		at := time.Now().Add(time.Minute)
		id, err := enq.EnqueueFlow(t.Context(), queue.Flow{
			Payload: testPayload{Value: 1},
			Options: []queue.EnqueueOption{
				queue.WithTaskName("custom"),
				queue.WithPriority(queue.PriorityHigh),
				queue.WithMaxAttempts(7),
				queue.WithBackoff(10 * time.Second),
				queue.WithScheduledAt(at),
			},
		})
		require.NoError(t, err)

		task, err := storage.GetTask(t.Context(), id)
		require.NoError(t, err)
		assert.Equal(t, "jobs", task.Queue)
		assert.Equal(t, "custom", task.TaskName)
		assert.Equal(t, queue.PriorityHigh, task.Priority)
		assert.Equal(t, 7, task.MaxAttempts)
		assert.Equal(t, 10*time.Second, task.BackoffDelay)
		assert.WithinDuration(t, at, task.ScheduledAt, time.Millisecond)
		assert.JSONEq(t, `{"message":"","value":1}`, string(task.Payload))
	})

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(storage)
		require.NoError(t, err)
		require.NoError(t, enq.Enqueue(t.Context(), testPayload{}))

		n, err := storage.CountTasks(t.Context(), queue.DefaultQueueName, queue.TaskStatusPending)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		enq, err := queue.NewEnqueuer(queue.NewMemoryStorage())
		require.NoError(t, err)

		assert.ErrorIs(t, enq.Enqueue(t.Context(), nil), queue.ErrPayloadNil)
		assert.ErrorIs(t, enq.Enqueue(t.Context(), testPayload{}, queue.WithPriority(101)), queue.ErrInvalidPriority)
		assert.Error(t, enq.Enqueue(t.Context(), make(chan int)))

		_, err = enq.EnqueueFlow(t.Context(), queue.Flow{
			Payload: testPayload{},
			Options: []queue.EnqueueOption{queue.WithFailParentOnFailure()},
		})
		assert.ErrorIs(t, err, queue.ErrInvalidFlow)
	})

	t.Run("nil repository", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewEnqueuer(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	})
}

func TestEnqueuer_EnqueueFlow(t *testing.T) {
	t.Parallel()

	storage := queue.NewMemoryStorage()
	enq, err := queue.NewEnqueuer(storage)
	require.NoError(t, err)

	root, err := enq.EnqueueFlow(t.Context(), queue.Flow{
		Payload: testPayload{Message: "root"},
		Options: []queue.EnqueueOption{queue.WithQueue("a")},
		Children: []queue.Flow{
			{Payload: testPayload{Message: "x"}, Options: []queue.EnqueueOption{queue.WithQueue("b"), queue.WithFailParentOnFailure()}},
			{Payload: testPayload{Message: "y"}, Options: []queue.EnqueueOption{queue.WithQueue("b"), queue.WithIgnoreDependencyOnFailure()}},
		},
	})
	require.NoError(t, err)

	task, err := storage.GetTask(t.Context(), root)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusWaitingChildren, task.Status)
	assert.Equal(t, 2, task.PendingChildren)
	assert.Nil(t, task.ParentID)

	children, err := storage.ListChildren(t.Context(), root)
	require.NoError(t, err)
	require.Len(t, children, 2)
	for _, c := range children {
		require.NotNil(t, c.ParentID)
		assert.Equal(t, root, *c.ParentID)
		assert.Equal(t, "b", c.Queue)
		assert.Equal(t, queue.TaskStatusPending, c.Status)
	}
	assert.True(t, children[0].FailParentOnFailure)
	assert.True(t, children[1].IgnoreDependencyOnFailure)
}

func TestUnrecoverable(t *testing.T) {
	t.Parallel()

	base := errors.New("base")
	err := queue.Unrecoverable(base)

	assert.True(t, queue.IsUnrecoverable(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "base", err.Error())
	assert.Same(t, err, queue.Unrecoverable(err))
	assert.False(t, queue.IsUnrecoverable(base))
	assert.True(t, queue.IsUnrecoverable(queue.Unrecoverable(nil)))
}

func TestTask_RetryDelay(t *testing.T) {
	t.Parallel()

	task := &queue.Task{BackoffDelay: 10 * time.Second}
	assert.Equal(t, 10*time.Second, task.RetryDelay(1))
	assert.Equal(t, 20*time.Second, task.RetryDelay(2))
	assert.Equal(t, 80*time.Second, task.RetryDelay(4))

	linear := &queue.Task{}
	assert.Equal(t, 60*time.Second, linear.RetryDelay(2))
}

func TestSchedule(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC)

	assert.Equal(t, now.Add(time.Minute), queue.EveryMinutes(1).Next(now))
	assert.Equal(t, now.Add(time.Second), queue.EveryInterval(time.Millisecond).Next(now))
	assert.Equal(t, "every 2h0m0s", queue.EveryHours(2).String())

	daily, err := queue.DailyAt(9, 0)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC), daily.Next(now))

	daily, err = queue.DailyAt(11, 15)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 11, 15, 0, 0, time.UTC), daily.Next(now))

	_, err = queue.DailyAt(24, 0)
	assert.ErrorIs(t, err, queue.ErrInvalidSchedule)
}
