package queue

import "time"

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	defaultQueue    string
	defaultPriority Priority
}

// WithDefaultQueue sets the queue used when a task does not name one.
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if queue != "" {
			o.defaultQueue = queue
		}
	}
}

// WithDefaultPriority sets the priority used when a task does not set one.
func WithDefaultPriority(priority Priority) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if priority.Valid() {
			o.defaultPriority = priority
		}
	}
}

// EnqueueOption configures a single enqueued task.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	queue                     string
	priority                  Priority
	maxAttempts               int
	backoff                   time.Duration
	delay                     time.Duration
	scheduledAt               *time.Time
	taskName                  string
	failParentOnFailure       bool
	ignoreDependencyOnFailure bool
}

// WithQueue routes the task to the named queue.
func WithQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithPriority sets the task priority.
func WithPriority(priority Priority) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = priority
	}
}

// WithMaxAttempts sets how many times the task may run before it fails for good.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackoff sets the first retry delay. Later retries double it.
func WithBackoff(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.backoff = d
		}
	}
}

// WithDelay postpones the first run by d.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}

// WithScheduledAt sets the first run time. It takes precedence over WithDelay.
func WithScheduledAt(at time.Time) EnqueueOption {
	return func(o *enqueueOptions) {
		o.scheduledAt = &at
	}
}

// WithTaskName overrides the task name derived from the payload type.
func WithTaskName(name string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.taskName = name
	}
}

// WithFailParentOnFailure fails the parent task when this child fails for good.
func WithFailParentOnFailure() EnqueueOption {
	return func(o *enqueueOptions) {
		o.failParentOnFailure = true
		o.ignoreDependencyOnFailure = false
	}
}

// WithIgnoreDependencyOnFailure releases the parent when this child fails for
// good, as if the child had completed. The parent sees the failure in its
// child results.
func WithIgnoreDependencyOnFailure() EnqueueOption {
	return func(o *enqueueOptions) {
		o.ignoreDependencyOnFailure = true
		o.failParentOnFailure = false
	}
}
