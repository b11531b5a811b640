package dnsrecord

import (
	"context"
	"time"

	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/core/queue"
)

// ExpireTaskName is the periodic task removing expired records.
const ExpireTaskName = "dnsrecord.ExpireRecords"

// Scheduler registers periodic tasks.
type Scheduler interface {
	AddTask(name string, schedule queue.Schedule, opts ...queue.SchedulerTaskOption) error
}

// ExpireRecords deletes every record whose expiry has passed. The store
// raises the reconciliation flag, so the next run withdraws them from the
// provider.
func (s *Service) ExpireRecords(ctx context.Context) (int, error) {
	n, err := s.store.DeleteExpiredRecords(ctx, time.Now())
	if err != nil {
		s.logger.ErrorContext(ctx, "expired records not removed", logger.Error(err))
		return 0, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired records removed", logger.Count("records", n))
	}
	return n, nil
}

// ExpiryHandler returns the periodic ExpireRecords handler.
func (s *Service) ExpiryHandler() queue.Handler {
	return queue.NewPeriodicTaskHandler(ExpireTaskName, func(ctx context.Context) error {
		_, err := s.ExpireRecords(ctx)
		return err
	})
}

// Schedule registers the expiry sweep on the dns-changes queue.
func (s *Service) Schedule(sch Scheduler) error {
	return sch.AddTask(ExpireTaskName, queue.EveryInterval(s.expiryInterval), queue.WithTaskQueue(QueueName))
}
