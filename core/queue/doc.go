// Package queue provides a durable job queue with workers, a periodic
// scheduler and parent/child task flows.
//
// # Features
//
//   - Named queues with priority ordering
//   - Per-task attempt limits with exponential backoff
//   - Unrecoverable errors that skip the remaining attempts
//   - Flows: a parent runs only after its children finished, with
//     fail-parent and ignore-dependency policies for failing children
//   - Child results exposed to the parent handler
//   - Failure listeners for terminal and cascaded failures
//   - Active-count introspection per queue and status
//   - Token-bucket rate limiting per worker
//   - In-memory storage for tests; Postgres storage lives in integration/database/pg
//
// # Basic Usage
//
//	storage := queue.NewMemoryStorage()
//
//	svc, err := queue.NewService(storage,
//		queue.WithWorkerOptions(queue.WithQueues("notifications")),
//	)
//	if err != nil {
//		return err
//	}
//
//	svc.RegisterHandler(queue.NewTaskHandler(func(ctx context.Context, n Notification) error {
//		return deliver(ctx, n)
//	}))
//
//	err = svc.Enqueue(ctx, Notification{To: "ops@example.com"},
//		queue.WithQueue("notifications"),
//		queue.WithMaxAttempts(5),
//		queue.WithBackoff(time.Minute),
//	)
//
// # Flows
//
// A flow is a tree; leaves run first. A linear chain is built by nesting
// single children:
//
//	rootID, err := svc.EnqueueFlow(ctx, queue.Flow{
//		Payload: cleanup,
//		Options: []queue.EnqueueOption{queue.WithTaskName("cleanup")},
//		Children: []queue.Flow{{
//			Payload: finalize,
//			Options: []queue.EnqueueOption{
//				queue.WithTaskName("finalize"),
//				queue.WithIgnoreDependencyOnFailure(),
//			},
//		}},
//	})
//
// Inside a handler, ChildResults returns the outcome of each child and
// SetResult stores a value the parent can read.
//
// # Errors
//
// Returning queue.Unrecoverable(err) fails the task immediately. Any other
// error is retried after BackoffDelay * 2^(attempt-1) until MaxAttempts is
// reached. Listeners registered with Worker.OnTaskFailed run once the failure
// is final.
package queue
