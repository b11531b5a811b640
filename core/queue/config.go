package queue

import "time"

// Config is read from QUEUE_* variables. Zero values fall back to the
// component defaults, so a partially filled Config is valid.
type Config struct {
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"4"`
	// Queues is what a worker built from this Config claims from.
	Queues []string `env:"QUEUE_WORKER_QUEUES" envDefault:"default" envSeparator:","`

	CheckInterval time.Duration `env:"QUEUE_CHECK_INTERVAL" envDefault:"5s"`

	DefaultQueue    string   `env:"QUEUE_DEFAULT_QUEUE" envDefault:"default"`
	DefaultPriority Priority `env:"QUEUE_DEFAULT_PRIORITY" envDefault:"50"`
}
