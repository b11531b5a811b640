package queue_test

import (
	"testing"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/core/queue"
)

func TestNewFromConfig_WithEmptyConfig(t *testing.T) {
	t.Parallel()

	emptyConfig := queue.Config{}
	storage := queue.NewMemoryStorage()

	t.Run("NewWorkerFromConfig with empty config", func(t *testing.T) {
		worker, err := queue.NewWorkerFromConfig(emptyConfig, storage)
		require.NoError(t, err)
		assert.NotNil(t, worker)
	})

	t.Run("NewSchedulerFromConfig with empty config", func(t *testing.T) {
		scheduler, err := queue.NewSchedulerFromConfig(emptyConfig, storage)
		require.NoError(t, err)
		assert.NotNil(t, scheduler)
	})

	t.Run("NewEnqueuerFromConfig with empty config", func(t *testing.T) {
		enqueuer, err := queue.NewEnqueuerFromConfig(emptyConfig, storage)
		require.NoError(t, err)
		assert.NotNil(t, enqueuer)
	})

	t.Run("NewServiceFromConfig with empty config", func(t *testing.T) {
		service, err := queue.NewServiceFromConfig(emptyConfig, storage)
		require.NoError(t, err)
		assert.NotNil(t, service)
		assert.NotNil(t, service.Worker())
		assert.NotNil(t, service.Scheduler())
		assert.NotNil(t, service.Enqueuer())
	})
}

func TestNewFromConfig_WithPartialConfig(t *testing.T) {
	t.Parallel()

	partialConfig := queue.Config{
		MaxConcurrentTasks: 5,
		DefaultQueue:       "test-queue",
	}
	storage := queue.NewMemoryStorage()

	t.Run("NewServiceFromConfig with partial config", func(t *testing.T) {
		service, err := queue.NewServiceFromConfig(partialConfig, storage)
		require.NoError(t, err)
		assert.NotNil(t, service)
	})
}

func TestNewFromConfig_OptionsOverrideConfig(t *testing.T) {
	t.Parallel()

	config := queue.Config{
		DefaultQueue:       "config-queue",
		MaxConcurrentTasks: 10,
	}
	storage := queue.NewMemoryStorage()

	service, err := queue.NewServiceFromConfig(config, storage,
		queue.WithEnqueuerOptions(
			queue.WithDefaultQueue("override-queue"),
		),
		queue.WithWorkerOptions(
			queue.WithMaxConcurrentTasks(20),
		),
	)
	require.NoError(t, err)
	require.NotNil(t, service)

	require.NoError(t, service.Enqueue(t.Context(), map[string]string{"k": "v"}, queue.WithTaskName("probe")))
	n, err := service.CountTasks(t.Context(), "override-queue", queue.TaskStatusPending)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConfig_Env(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := env.ParseAsWithOptions[queue.Config](env.Options{Environment: map[string]string{}})
		require.NoError(t, err)
		assert.Equal(t, time.Second, cfg.PollInterval)
		assert.Equal(t, 5*time.Minute, cfg.LockTimeout)
		assert.Equal(t, []string{"default"}, cfg.Queues)
		assert.Equal(t, queue.PriorityMedium, cfg.DefaultPriority)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Parallel()
		cfg, err := env.ParseAsWithOptions[queue.Config](env.Options{Environment: map[string]string{
			"QUEUE_WORKER_QUEUES":    "dns-changes,notifications",
			"QUEUE_CHECK_INTERVAL":   "1m",
			"QUEUE_DEFAULT_PRIORITY": "90",
		}})
		require.NoError(t, err)
		assert.Equal(t, []string{"dns-changes", "notifications"}, cfg.Queues)
		assert.Equal(t, time.Minute, cfg.CheckInterval)
		assert.Equal(t, queue.Priority(90), cfg.DefaultPriority)
	})
}
