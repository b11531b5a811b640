package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler runs the tasks whose TaskName equals Name.
	Handler interface {
		Name() string
		Handle(ctx context.Context, payload json.RawMessage) error
	}

	// TaskHandlerFunc handles a one-time task with a decoded payload.
	TaskHandlerFunc[T any] func(ctx context.Context, payload T) error

	// TaskResultHandlerFunc also returns a value, which is stored on the task
	// and visible to its parent.
	TaskResultHandlerFunc[T, R any] func(ctx context.Context, payload T) (R, error)

	// PeriodicTaskHandlerFunc handles a scheduler-created task. Periodic
	// tasks carry no payload.
	PeriodicTaskHandlerFunc func(ctx context.Context) error
)

// NewTaskHandler names the handler after the payload type, for example
// "email.Notification".
func NewTaskHandler[T any](handler TaskHandlerFunc[T]) Handler {
	var payload T
	return NewNamedTaskHandler(qualifiedStructName(payload), handler)
}

// NewNamedTaskHandler is NewTaskHandler with an explicit task name, for
// payload types shared by several task kinds.
func NewNamedTaskHandler[T any](name string, handler TaskHandlerFunc[T]) Handler {
	return &oneTimeTaskHandler[T]{
		name:    name,
		handler: handler,
	}
}

// NewTaskHandlerWithResult creates a named handler whose result is persisted
// with the task.
func NewTaskHandlerWithResult[T, R any](name string, handler TaskResultHandlerFunc[T, R]) Handler {
	return NewNamedTaskHandler(name, func(ctx context.Context, payload T) error {
		res, err := handler(ctx, payload)
		if err != nil {
			return err
		}
		return SetResult(ctx, res)
	})
}

// NewPeriodicTaskHandler handles the periodic task registered under name.
func NewPeriodicTaskHandler(name string, handler PeriodicTaskHandlerFunc) Handler {
	return &periodicTaskHandler{
		name:    name,
		handler: handler,
	}
}

type oneTimeTaskHandler[T any] struct {
	name    string
	handler TaskHandlerFunc[T]
}

func (h *oneTimeTaskHandler[T]) Name() string {
	return h.name
}

func (h *oneTimeTaskHandler[T]) Handle(ctx context.Context, payload json.RawMessage) error {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		// A payload that does not decode will never decode.
		return Unrecoverable(fmt.Errorf("decode %s payload: %w", h.name, err))
	}
	return h.handler(ctx, t)
}

type periodicTaskHandler struct {
	name    string
	handler PeriodicTaskHandlerFunc
}

func (h *periodicTaskHandler) Name() string {
	return h.name
}

func (h *periodicTaskHandler) Handle(ctx context.Context, _ json.RawMessage) error {
	return h.handler(ctx)
}
