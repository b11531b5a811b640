package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultQueueName is the default queue name used when no queue is specified
const DefaultQueueName = "default"

// TaskType categorizes tasks as one-time immediate execution or scheduler-generated periodic tasks.
type TaskType string

const (
	TaskTypeOneTime  TaskType = "one-time"
	TaskTypePeriodic TaskType = "periodic"
)

// TaskStatus tracks the lifecycle state of a task through the queue system.
type TaskStatus string

const (
	TaskStatusPending         TaskStatus = "pending"
	TaskStatusWaitingChildren TaskStatus = "waiting-children"
	TaskStatusProcessing      TaskStatus = "processing"
	TaskStatusCompleted       TaskStatus = "completed"
	TaskStatusFailed          TaskStatus = "failed"
)

// Priority represents task priority (0-100, higher is more important)
type Priority int8

const (
	PriorityMin     Priority = 0
	PriorityLow     Priority = 25
	PriorityMedium  Priority = 50
	PriorityHigh    Priority = 75
	PriorityMax     Priority = 100
	PriorityDefault Priority = PriorityMedium
)

// Valid checks if the priority is within the allowed range (0-100).
func (p Priority) Valid() bool {
	return p >= PriorityMin && p <= PriorityMax
}

// Task represents a task in the queue.
//
// A task with ParentID set is a child in a flow: its parent stays in
// TaskStatusWaitingChildren until PendingChildren drops to zero.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	Queue       string     `json:"queue"`
	TaskType    TaskType   `json:"task_type"`
	TaskName    string     `json:"task_name"`
	Payload     []byte     `json:"payload,omitempty"`
	Status      TaskStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	// BackoffDelay is the first retry delay; it doubles on every further attempt.
	BackoffDelay time.Duration `json:"backoff_delay"`

	ParentID                  *uuid.UUID `json:"parent_id,omitempty"`
	PendingChildren           int        `json:"pending_children"`
	FailParentOnFailure       bool       `json:"fail_parent_on_failure"`
	IgnoreDependencyOnFailure bool       `json:"ignore_dependency_on_failure"`

	Result      json.RawMessage `json:"result,omitempty"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	LockedUntil *time.Time      `json:"locked_until,omitempty"`
	LockedBy    *uuid.UUID      `json:"locked_by,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Error       *string         `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RetryDelay returns the delay before the given attempt is retried:
// BackoffDelay * 2^(attempt-1). A zero BackoffDelay falls back to the
// linear 30s step.
func (t *Task) RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if t.BackoffDelay <= 0 {
		return time.Duration(attempt) * 30 * time.Second
	}
	shift := min(attempt-1, 20)
	return t.BackoffDelay * time.Duration(1<<shift)
}

// TasksDlq represents a task in the dead letter queue
// Stores failed tasks that exhausted all retries for manual inspection and recovery
type TasksDlq struct {
	ID        uuid.UUID `json:"id"`
	TaskID    uuid.UUID `json:"task_id"`
	Queue     string    `json:"queue"`
	TaskType  TaskType  `json:"task_type"`
	TaskName  string    `json:"task_name"`
	Payload   []byte    `json:"payload,omitempty"`
	Priority  Priority  `json:"priority"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ChildResult is the outcome of a finished child task as seen by its parent.
type ChildResult struct {
	TaskID   uuid.UUID       `json:"task_id"`
	TaskName string          `json:"task_name"`
	Status   TaskStatus      `json:"status"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Failed reports whether the child ended in failure.
func (c ChildResult) Failed() bool {
	return c.Status == TaskStatusFailed
}
