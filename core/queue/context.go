package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

type (
	taskCtxKey     struct{}
	childrenCtxKey struct{}
	resultCtxKey   struct{}
)

type childLoader func(ctx context.Context) ([]ChildResult, error)

type resultSlot struct {
	mu   sync.Mutex
	data json.RawMessage
}

// ErrNoTaskContext is returned by context helpers called outside a worker.
var ErrNoTaskContext = errors.New("queue: context does not carry a task")

// TaskFromContext returns the task being processed.
func TaskFromContext(ctx context.Context) (*Task, bool) {
	t, ok := ctx.Value(taskCtxKey{}).(*Task)
	return t, ok
}

// ChildResults returns the outcome of every child of the task being processed.
// Tasks without children get an empty slice.
func ChildResults(ctx context.Context) ([]ChildResult, error) {
	load, ok := ctx.Value(childrenCtxKey{}).(childLoader)
	if !ok {
		return nil, ErrNoTaskContext
	}
	return load(ctx)
}

// SetResult stores v as the result of the task being processed.
func SetResult(ctx context.Context, v any) error {
	slot, ok := ctx.Value(resultCtxKey{}).(*resultSlot)
	if !ok {
		return ErrNoTaskContext
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	slot.mu.Lock()
	slot.data = data
	slot.mu.Unlock()
	return nil
}

func withTaskContext(ctx context.Context, task *Task, load childLoader) (context.Context, *resultSlot) {
	slot := &resultSlot{}
	ctx = context.WithValue(ctx, taskCtxKey{}, task)
	ctx = context.WithValue(ctx, childrenCtxKey{}, load)
	ctx = context.WithValue(ctx, resultCtxKey{}, slot)
	return ctx, slot
}

func (s *resultSlot) value() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data
}
