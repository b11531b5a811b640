package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/certflow/core/queue"
)

// QueueStorage keeps queue tasks in the tasks table. Workers on any number of
// processes claim with FOR UPDATE SKIP LOCKED, so a task runs once at a time.
type QueueStorage struct {
	pool *pgxpool.Pool
}

// NewQueueStorage creates a QueueStorage on pool.
func NewQueueStorage(pool *pgxpool.Pool) *QueueStorage {
	return &QueueStorage{pool: pool}
}

var _ queue.Storage = (*QueueStorage)(nil)

const taskColumns = `id, queue, task_type, task_name, payload, status, priority, attempts, max_attempts,
	backoff_delay_ms, parent_id, pending_children, fail_parent_on_failure, ignore_dependency_on_failure,
	result, scheduled_at, locked_until, locked_by, processed_at, error, created_at`

func scanTask(row pgx.Row) (*queue.Task, error) {
	var (
		t                queue.Task
		taskType, status string
		priority         int16
		backoffMs        int64
		payload, result  []byte
	)
	err := row.Scan(&t.ID, &t.Queue, &taskType, &t.TaskName, &payload, &status, &priority, &t.Attempts,
		&t.MaxAttempts, &backoffMs, &t.ParentID, &t.PendingChildren, &t.FailParentOnFailure,
		&t.IgnoreDependencyOnFailure, &result, &t.ScheduledAt, &t.LockedUntil, &t.LockedBy,
		&t.ProcessedAt, &t.Error, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.TaskType = queue.TaskType(taskType)
	t.Status = queue.TaskStatus(status)
	t.Priority = queue.Priority(priority)
	t.BackoffDelay = time.Duration(backoffMs) * time.Millisecond
	t.Payload = payload
	if len(result) > 0 {
		t.Result = json.RawMessage(result)
	}
	return &t, nil
}

func collectTasks(rows pgx.Rows) ([]*queue.Task, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*queue.Task, error) {
		return scanTask(row)
	})
}

// jsonb maps an empty payload to NULL; JSONB rejects empty input.
func jsonb(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

// CreateTask stores a single task.
func (s *QueueStorage) CreateTask(ctx context.Context, task *queue.Task) error {
	return s.CreateTasks(ctx, []*queue.Task{task})
}

// CreateTasks stores all tasks in one transaction, parents before children.
func (s *QueueStorage) CreateTasks(ctx context.Context, tasks []*queue.Task) error {
	for _, t := range tasks {
		if t == nil {
			return errors.New("task cannot be nil")
		}
	}
	return inTx(ctx, s.pool, func(q querier) error {
		for _, t := range tasks {
			_, err := q.Exec(ctx, `
				INSERT INTO tasks (id, queue, task_type, task_name, payload, status, priority, attempts,
					max_attempts, backoff_delay_ms, parent_id, pending_children, fail_parent_on_failure,
					ignore_dependency_on_failure, scheduled_at, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
				t.ID, t.Queue, string(t.TaskType), t.TaskName, jsonb(t.Payload), string(t.Status),
				int16(t.Priority), t.Attempts, t.MaxAttempts, t.BackoffDelay.Milliseconds(), t.ParentID,
				t.PendingChildren, t.FailParentOnFailure, t.IgnoreDependencyOnFailure, t.ScheduledAt,
				t.CreatedAt)
			if IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: %s", queue.ErrTaskAlreadyExists, t.ID)
			}
			if err != nil {
				return fmt.Errorf("insert task %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// ClaimTask locks the next eligible task of queues. A processing task whose
// lock expired is eligible again.
func (s *QueueStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	task, err := scanTask(conn(ctx, s.pool).QueryRow(ctx, `
		UPDATE tasks SET status = 'processing', locked_by = $2, locked_until = now() + $3::float8 * interval '1 millisecond'
		WHERE id = (
			SELECT id FROM tasks
			WHERE queue = ANY($1)
			  AND scheduled_at <= now()
			  AND (status = 'pending' OR (status = 'processing' AND locked_until < now()))
			ORDER BY priority DESC, scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		queues, workerID, float64(lockDuration.Milliseconds())))
	if IsNotFoundError(err) {
		return nil, queue.ErrNoTaskToClaim
	}
	return task, err
}

// processing locks a task row and checks it is being processed.
func processing(ctx context.Context, q querier, id uuid.UUID) (*queue.Task, error) {
	task, err := scanTask(q.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
	if IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: %s", queue.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if task.Status != queue.TaskStatusProcessing {
		return nil, fmt.Errorf("%w: task %s is %s", queue.ErrInvalidTaskState, id, task.Status)
	}
	return task, nil
}

// CompleteTask stores the result and releases the parent.
func (s *QueueStorage) CompleteTask(ctx context.Context, taskID uuid.UUID, result json.RawMessage) error {
	return inTx(ctx, s.pool, func(q querier) error {
		task, err := processing(ctx, q, taskID)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `
			UPDATE tasks SET status = 'completed', result = $2, processed_at = now(),
				locked_until = NULL, locked_by = NULL
			WHERE id = $1`, taskID, jsonb(result)); err != nil {
			return err
		}
		return releaseParent(ctx, q, task)
	})
}

// RetryTask records the attempt and reschedules the task.
func (s *QueueStorage) RetryTask(ctx context.Context, taskID uuid.UUID, errorMsg string, retryAt time.Time) error {
	return inTx(ctx, s.pool, func(q querier) error {
		if _, err := processing(ctx, q, taskID); err != nil {
			return err
		}
		_, err := q.Exec(ctx, `
			UPDATE tasks SET status = 'pending', attempts = attempts + 1, error = $2, scheduled_at = $3,
				locked_until = NULL, locked_by = NULL
			WHERE id = $1`, taskID, errorMsg, retryAt)
		return err
	})
}

// FailTask records the final attempt and walks up the flow the same way
// queue.MemoryStorage does, returning the parents it failed.
func (s *QueueStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) ([]*queue.Task, error) {
	var cascaded []*queue.Task
	err := inTx(ctx, s.pool, func(q querier) error {
		child, err := processing(ctx, q, taskID)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `
			UPDATE tasks SET status = 'failed', attempts = attempts + 1, error = $2, processed_at = now(),
				locked_until = NULL, locked_by = NULL
			WHERE id = $1`, taskID, errorMsg); err != nil {
			return err
		}

		for child.ParentID != nil {
			parent, err := scanTask(q.QueryRow(ctx,
				`SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, *child.ParentID))
			if IsNotFoundError(err) {
				return nil
			}
			if err != nil {
				return err
			}
			if parent.Status != queue.TaskStatusWaitingChildren {
				return nil
			}
			if child.IgnoreDependencyOnFailure {
				return releaseParent(ctx, q, child)
			}
			if !child.FailParentOnFailure {
				return nil
			}

			msg := fmt.Sprintf("child task %s (%s) failed: %s", child.ID, child.TaskName, errorMsg)
			failed, err := scanTask(q.QueryRow(ctx, `
				UPDATE tasks SET status = 'failed', error = $2, processed_at = now()
				WHERE id = $1
				RETURNING `+taskColumns, parent.ID, msg))
			if err != nil {
				return err
			}
			cascaded = append(cascaded, failed)
			child = failed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cascaded, nil
}

// releaseParent counts child as finished; the parent becomes pending with
// its last child.
func releaseParent(ctx context.Context, q querier, child *queue.Task) error {
	if child.ParentID == nil {
		return nil
	}
	_, err := q.Exec(ctx, `
		UPDATE tasks SET
			pending_children = GREATEST(pending_children - 1, 0),
			status = CASE WHEN pending_children <= 1 THEN 'pending' ELSE status END,
			scheduled_at = CASE WHEN pending_children <= 1 THEN GREATEST(scheduled_at, now()) ELSE scheduled_at END
		WHERE id = $1 AND status = 'waiting-children'`, *child.ParentID)
	return err
}

// MoveToDLQ copies a task into tasks_dlq; the task row stays.
func (s *QueueStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	tag, err := conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO tasks_dlq (id, task_id, queue, task_type, task_name, payload, priority, error, attempts)
		SELECT $2, id, queue, task_type, task_name, payload, priority, COALESCE(error, ''), attempts
		FROM tasks WHERE id = $1`, taskID, uuid.New())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", queue.ErrTaskNotFound, taskID)
	}
	return nil
}

// ExtendLock pushes the lock of a processing task forward.
func (s *QueueStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	tag, err := conn(ctx, s.pool).Exec(ctx, `
		UPDATE tasks SET locked_until = now() + $2::float8 * interval '1 millisecond'
		WHERE id = $1 AND status = 'processing'`, taskID, float64(duration.Milliseconds()))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: task %s is not processing", queue.ErrInvalidTaskState, taskID)
	}
	return nil
}

// ListChildren returns the direct children of parentID.
func (s *QueueStorage) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*queue.Task, error) {
	rows, err := conn(ctx, s.pool).Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE parent_id = $1 ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows)
}

// CountTasks counts tasks of a queue in the given status.
func (s *QueueStorage) CountTasks(ctx context.Context, queueName string, status queue.TaskStatus) (int, error) {
	var n int
	err := conn(ctx, s.pool).QueryRow(ctx,
		`SELECT count(*) FROM tasks WHERE queue = $1 AND status = $2`, queueName, string(status)).Scan(&n)
	return n, err
}

// GetPendingTaskByName returns nil without error when no such task is pending.
func (s *QueueStorage) GetPendingTaskByName(ctx context.Context, taskName string) (*queue.Task, error) {
	task, err := scanTask(conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_name = $1 AND status = 'pending' LIMIT 1`, taskName))
	if IsNotFoundError(err) {
		return nil, nil
	}
	return task, err
}

// GetTask returns a stored task.
func (s *QueueStorage) GetTask(ctx context.Context, taskID uuid.UUID) (*queue.Task, error) {
	task, err := scanTask(conn(ctx, s.pool).QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: %s", queue.ErrTaskNotFound, taskID)
	}
	return task, err
}
