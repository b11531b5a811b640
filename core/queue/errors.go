package queue

import "errors"

var (
	ErrRepositoryNil          = errors.New("queue: repository cannot be nil")
	ErrPayloadNil             = errors.New("queue: payload cannot be nil")
	ErrInvalidPriority        = errors.New("queue: priority must be between 0 and 100")
	ErrInvalidFlow            = errors.New("queue: invalid flow")
	ErrNoHandlers             = errors.New("queue: no task handlers registered")
	ErrHandlerNotFound        = errors.New("queue: no handler registered for task")
	ErrNoTaskToClaim          = errors.New("queue: no task available to claim")
	ErrTaskNotFound           = errors.New("queue: task not found")
	ErrTaskAlreadyExists      = errors.New("queue: task already exists")
	ErrInvalidTaskState       = errors.New("queue: task is not in the expected state")
	ErrTaskAlreadyRegistered  = errors.New("queue: periodic task already registered")
	ErrSchedulerNotConfigured = errors.New("queue: scheduler has no periodic tasks")
	ErrInvalidSchedule        = errors.New("queue: invalid schedule")
	ErrUnrecoverable          = errors.New("queue: unrecoverable error")

	ErrHealthcheckFailed   = errors.New("queue: healthcheck failed")
	ErrWorkerNotRunning    = errors.New("queue: worker is not running")
	ErrSchedulerNotRunning = errors.New("queue: scheduler is not running")
	ErrNoTasksRegistered   = errors.New("queue: no periodic tasks registered")
)

type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string {
	if e.err == nil {
		return ErrUnrecoverable.Error()
	}
	return e.err.Error()
}

func (e *unrecoverableError) Unwrap() []error {
	if e.err == nil {
		return []error{ErrUnrecoverable}
	}
	return []error{ErrUnrecoverable, e.err}
}

// Unrecoverable marks err so the worker fails the task without retrying it.
// The wrapped error stays reachable through errors.Is and errors.As.
func Unrecoverable(err error) error {
	if err != nil && errors.Is(err, ErrUnrecoverable) {
		return err
	}
	return &unrecoverableError{err: err}
}

// IsUnrecoverable reports whether err was marked with Unrecoverable.
func IsUnrecoverable(err error) bool {
	return errors.Is(err, ErrUnrecoverable)
}
