package email

import (
	"context"
	"log/slog"
	"time"

	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/core/queue"
)

const (
	// NotificationQueue holds queued tenant notifications.
	NotificationQueue = "notifications"
	// NotificationAttempts is the delivery attempt budget.
	NotificationAttempts = 5
	notificationBackoff  = 30 * time.Second
)

// Notification is the queued payload; its task name is "email.Notification".
type Notification struct {
	Email   string `json:"email"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Enqueuer is the queue side used by Notifier.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error
}

// Notifier queues plain-text notifications for later delivery.
type Notifier struct {
	enqueuer Enqueuer
}

// NewNotifier creates a Notifier that enqueues through e.
func NewNotifier(e Enqueuer) *Notifier {
	return &Notifier{enqueuer: e}
}

// Send queues a message to address.
func (n *Notifier) Send(ctx context.Context, address, subject, message string) error {
	return n.enqueuer.Enqueue(ctx, Notification{Email: address, Subject: subject, Message: message},
		queue.WithQueue(NotificationQueue),
		queue.WithMaxAttempts(NotificationAttempts),
		queue.WithBackoff(notificationBackoff),
	)
}

// NewNotificationHandler delivers queued notifications through sender.
// Invalid messages are not retried.
func NewNotificationHandler(sender EmailSender, log *slog.Logger) queue.Handler {
	if log == nil {
		log = logger.Discard()
	}
	return queue.NewTaskHandler(func(ctx context.Context, n Notification) error {
		params := SendEmailParams{
			SendTo:   n.Email,
			Subject:  n.Subject,
			BodyText: n.Message,
			Tag:      "certflow",
		}
		if err := params.Validate(); err != nil {
			return queue.Unrecoverable(err)
		}
		if err := sender.SendEmail(ctx, params); err != nil {
			log.WarnContext(ctx, "notification delivery failed", logger.Error(err))
			return err
		}
		log.InfoContext(ctx, "notification sent", logger.Event("email.sent"))
		return nil
	})
}
