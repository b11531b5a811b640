package queue

import (
	"context"
	"log/slog"
)

// ServiceOption configures a Service.
type ServiceOption func(*Service) error

func WithServiceLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if log != nil {
			s.logger = log
		}
		return nil
	}
}

// WithWorkerOptions replaces the primary worker with one built from opts
// alone. Place it before options that register handlers.
func WithWorkerOptions(opts ...WorkerOption) ServiceOption {
	return func(s *Service) error {
		w, err := NewWorker(s.storage, opts...)
		if err != nil {
			return err
		}
		s.workers[0] = w
		return nil
	}
}

// WithAdditionalWorker adds a worker serving handlers.
func WithAdditionalWorker(handlers []Handler, opts ...WorkerOption) ServiceOption {
	return func(s *Service) error {
		w, err := s.AddWorker(opts...)
		if err != nil {
			return err
		}
		return w.RegisterHandlers(handlers...)
	}
}

// WithSchedulerOptions replaces the scheduler with one built from opts.
func WithSchedulerOptions(opts ...SchedulerOption) ServiceOption {
	return func(s *Service) error {
		sch, err := NewScheduler(s.storage, opts...)
		if err != nil {
			return err
		}
		s.scheduler = sch
		return nil
	}
}

// WithEnqueuerOptions replaces the enqueuer with one built from opts.
func WithEnqueuerOptions(opts ...EnqueuerOption) ServiceOption {
	return func(s *Service) error {
		e, err := NewEnqueuer(s.storage, opts...)
		if err != nil {
			return err
		}
		s.enqueuer = e
		return nil
	}
}

// WithHandlers registers handlers on the primary worker.
func WithHandlers(handlers ...Handler) ServiceOption {
	return func(s *Service) error {
		return s.Worker().RegisterHandlers(handlers...)
	}
}

// WithRequireHandlers makes Run fail with ErrNoHandlers when no worker has
// a handler.
func WithRequireHandlers(require bool) ServiceOption {
	return func(s *Service) error {
		s.requireHandlers = require
		return nil
	}
}

// WithBeforeStart runs hook at the start of Run; an error aborts Run.
func WithBeforeStart(hook func(context.Context) error) ServiceOption {
	return func(s *Service) error {
		s.beforeStart = hook
		return nil
	}
}
