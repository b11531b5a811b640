package email_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/core/email"
	"github.com/dmitrymomot/certflow/core/queue"
)

func TestSendEmailParams_Validate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, email.SendEmailParams{SendTo: "a@b.test", Subject: "s", BodyText: "b"}.Validate())
	assert.NoError(t, email.SendEmailParams{SendTo: "a@b.test", Subject: "s", BodyHTML: "<p>b</p>"}.Validate())

	err := email.SendEmailParams{SendTo: "not-an-address"}.Validate()
	assert.ErrorIs(t, err, email.ErrInvalidParams)
	assert.ErrorContains(t, err, "subject is required")
	assert.ErrorContains(t, err, "body is required")
}

func TestDevSender(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "mail")
	sender := email.NewDevSender(dir)

	err := sender.SendEmail(t.Context(), email.SendEmailParams{
		SendTo:   "ops@tenant.test",
		Subject:  "Certificate issued",
		BodyText: "Your certificate is ready.",
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	var body, meta string
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		require.NoError(t, err)
		switch {
		case strings.HasSuffix(e.Name(), ".txt"):
			body = string(data)
		case strings.HasSuffix(e.Name(), ".json"):
			meta = string(data)
		}
		assert.Contains(t, e.Name(), "ops_at_tenant.test")
	}
	assert.Equal(t, "Your certificate is ready.", body)
	assert.Contains(t, meta, `"subject": "Certificate issued"`)

	assert.ErrorIs(t, sender.SendEmail(t.Context(), email.SendEmailParams{}), email.ErrInvalidParams)
}

type captureEnqueuer struct {
	payloads []any
}

func (c *captureEnqueuer) Enqueue(_ context.Context, payload any, _ ...queue.EnqueueOption) error {
	c.payloads = append(c.payloads, payload)
	return nil
}

type recordingSender struct {
	sent []email.SendEmailParams
	err  error
}

func (r *recordingSender) SendEmail(_ context.Context, p email.SendEmailParams) error {
	r.sent = append(r.sent, p)
	return r.err
}

func TestNotifier(t *testing.T) {
	t.Parallel()

	t.Run("enqueues notification", func(t *testing.T) {
		t.Parallel()

		enq := &captureEnqueuer{}
		require.NoError(t, email.NewNotifier(enq).Send(t.Context(), "ops@tenant.test", "subj", "msg"))
		require.Len(t, enq.payloads, 1)
		assert.Equal(t, email.Notification{Email: "ops@tenant.test", Subject: "subj", Message: "msg"}, enq.payloads[0])
	})

	t.Run("task lands on the notifications queue", func(t *testing.T) {
		t.Parallel()

		storage := queue.NewMemoryStorage()
		enq, err := queue.NewEnqueuer(storage)
		require.NoError(t, err)
		require.NoError(t, email.NewNotifier(enq).Send(t.Context(), "ops@tenant.test", "subj", "msg"))

		n, err := storage.CountTasks(t.Context(), email.NotificationQueue, queue.TaskStatusPending)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestNotificationHandler(t *testing.T) {
	t.Parallel()

	handler := email.NewNotificationHandler(&recordingSender{}, nil)
	assert.Equal(t, "email.Notification", handler.Name())

	t.Run("delivers", func(t *testing.T) {
		t.Parallel()

		sender := &recordingSender{}
		h := email.NewNotificationHandler(sender, nil)
		payload, _ := json.Marshal(email.Notification{Email: "ops@tenant.test", Subject: "s", Message: "m"})

		require.NoError(t, h.Handle(t.Context(), payload))
		require.Len(t, sender.sent, 1)
		assert.Equal(t, "m", sender.sent[0].BodyText)
	})

	t.Run("invalid message is unrecoverable", func(t *testing.T) {
		t.Parallel()

		h := email.NewNotificationHandler(&recordingSender{}, nil)
		payload, _ := json.Marshal(email.Notification{Email: "", Subject: "s", Message: "m"})
		assert.True(t, queue.IsUnrecoverable(h.Handle(t.Context(), payload)))
	})

	t.Run("delivery error is retryable", func(t *testing.T) {
		t.Parallel()

		h := email.NewNotificationHandler(&recordingSender{err: errors.New("smtp down")}, nil)
		payload, _ := json.Marshal(email.Notification{Email: "ops@tenant.test", Subject: "s", Message: "m"})
		err := h.Handle(t.Context(), payload)
		require.Error(t, err)
		assert.False(t, queue.IsUnrecoverable(err))
	})
}
