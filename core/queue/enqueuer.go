package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxAttempts is used when a task does not set WithMaxAttempts.
const DefaultMaxAttempts = 3

// EnqueuerRepository defines the interface for task creation.
type EnqueuerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
	// CreateTasks stores all tasks or none of them.
	CreateTasks(ctx context.Context, tasks []*Task) error
}

// Enqueuer handles task enqueueing with configurable defaults.
type Enqueuer struct {
	repo            EnqueuerRepository
	defaultQueue    string
	defaultPriority Priority
}

// Flow describes a task together with the children that must finish before
// it becomes runnable. Children of a node run in parallel; a linear chain is a
// flow whose every node has a single child.
type Flow struct {
	Payload  any
	Options  []EnqueueOption
	Children []Flow
}

// NewEnqueuer creates a new Enqueuer with the given repository and options.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		defaultQueue:    DefaultQueueName,
		defaultPriority: PriorityDefault,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:            repo,
		defaultQueue:    options.defaultQueue,
		defaultPriority: options.defaultPriority,
	}, nil
}

// NewEnqueuerFromConfig creates an Enqueuer from configuration.
// Additional options override config values.
func NewEnqueuerFromConfig(cfg Config, repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	allOpts := append([]EnqueuerOption{
		WithDefaultQueue(cfg.DefaultQueue),
		WithDefaultPriority(cfg.DefaultPriority),
	}, opts...)

	return NewEnqueuer(repo, allOpts...)
}

// Enqueue adds a new task to the queue with the given payload and options.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) error {
	task, err := e.buildTask(payload, opts)
	if err != nil {
		return err
	}

	if err := e.repo.CreateTask(ctx, task); err != nil {
		return fmt.Errorf("failed to create task %q in queue %q: %w", task.TaskName, task.Queue, err)
	}

	return nil
}

// EnqueueFlow stores the whole flow atomically and returns the root task ID.
// Leaf tasks are immediately runnable; every other node waits for its children.
func (e *Enqueuer) EnqueueFlow(ctx context.Context, flow Flow) (uuid.UUID, error) {
	var tasks []*Task
	root, err := e.buildFlow(flow, nil, &tasks)
	if err != nil {
		return uuid.Nil, err
	}

	if err := e.repo.CreateTasks(ctx, tasks); err != nil {
		return uuid.Nil, fmt.Errorf("failed to create flow %q: %w", root.TaskName, err)
	}

	return root.ID, nil
}

func (e *Enqueuer) buildFlow(node Flow, parent *Task, acc *[]*Task) (*Task, error) {
	task, err := e.buildTask(node.Payload, node.Options)
	if err != nil {
		return nil, err
	}

	if parent == nil {
		if task.FailParentOnFailure || task.IgnoreDependencyOnFailure {
			return nil, fmt.Errorf("%w: root task %q cannot carry parent dependency options", ErrInvalidFlow, task.TaskName)
		}
	} else {
		parentID := parent.ID
		task.ParentID = &parentID
	}

	if len(node.Children) > 0 {
		task.Status = TaskStatusWaitingChildren
		task.PendingChildren = len(node.Children)
	}

	*acc = append(*acc, task)

	for _, child := range node.Children {
		if _, err := e.buildFlow(child, task, acc); err != nil {
			return nil, err
		}
	}

	return task, nil
}

// buildTask constructs a Task from payload and options.
func (e *Enqueuer) buildTask(payload any, opts []EnqueueOption) (*Task, error) {
	if payload == nil {
		return nil, ErrPayloadNil
	}

	options := &enqueueOptions{
		queue:       e.defaultQueue,
		priority:    e.defaultPriority,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return nil, ErrInvalidPriority
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	taskName := options.taskName
	if taskName == "" {
		taskName = qualifiedStructName(payload)
	}

	now := time.Now()
	scheduledAt := now
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = scheduledAt.Add(options.delay)
	}

	return &Task{
		ID:                        uuid.New(),
		Queue:                     options.queue,
		TaskType:                  TaskTypeOneTime,
		TaskName:                  taskName,
		Payload:                   payloadBytes,
		Status:                    TaskStatusPending,
		Priority:                  options.priority,
		MaxAttempts:               options.maxAttempts,
		BackoffDelay:              options.backoff,
		FailParentOnFailure:       options.failParentOnFailure,
		IgnoreDependencyOnFailure: options.ignoreDependencyOnFailure,
		ScheduledAt:               scheduledAt,
		CreatedAt:                 now,
	}, nil
}
