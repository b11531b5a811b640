package queue

import "context"

// InspectorRepository exposes read-only queue introspection.
type InspectorRepository interface {
	// CountTasks counts tasks of a queue in the given status.
	CountTasks(ctx context.Context, queue string, status TaskStatus) (int, error)
}

// Storage is a unified interface that combines all repository interfaces
// required for queue operations. Implementations of this interface can
// serve as the complete storage backend for Worker, Scheduler, and Enqueuer.
type Storage interface {
	EnqueuerRepository
	WorkerRepository
	SchedulerRepository
	InspectorRepository
}
