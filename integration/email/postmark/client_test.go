package postmark_test

import (
	"context"
	"errors"
	"testing"

	pm "github.com/mrz1836/postmark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/core/email"
	"github.com/dmitrymomot/certflow/integration/email/postmark"
)

type fakeAPI struct {
	sent []pm.Email
	resp pm.EmailResponse
	err  error
}

func (f *fakeAPI) SendEmail(_ context.Context, msg pm.Email) (pm.EmailResponse, error) {
	f.sent = append(f.sent, msg)
	return f.resp, f.err
}

func validConfig() postmark.Config {
	return postmark.Config{
		PostmarkServerToken: "server-token",
		SenderEmail:         "certs@example.com",
		SupportEmail:        "support@example.com",
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.PostmarkServerToken = ""
	_, err := postmark.New(cfg)
	assert.ErrorIs(t, err, email.ErrInvalidConfig)

	cfg = validConfig()
	cfg.SenderEmail = "nope"
	_, err = postmark.New(cfg)
	assert.ErrorIs(t, err, email.ErrInvalidConfig)

	assert.Panics(t, func() { postmark.MustNew(postmark.Config{}) })
	assert.False(t, postmark.Config{}.Enabled())
}

func TestSendEmail(t *testing.T) {
	t.Parallel()

	params := email.SendEmailParams{SendTo: "ops@tenant.test", Subject: "Issued", BodyText: "ready"}

	t.Run("maps params", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{}
		c, err := postmark.New(validConfig(), postmark.WithAPI(api))
		require.NoError(t, err)

		require.NoError(t, c.SendEmail(t.Context(), params))
		require.Len(t, api.sent, 1)
		assert.Equal(t, "certs@example.com", api.sent[0].From)
		assert.Equal(t, "support@example.com", api.sent[0].ReplyTo)
		assert.Equal(t, "ops@tenant.test", api.sent[0].To)
		assert.Equal(t, "ready", api.sent[0].TextBody)
	})

	t.Run("postmark error code", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{resp: pm.EmailResponse{ErrorCode: 406, Message: "inactive recipient"}}
		c, err := postmark.New(validConfig(), postmark.WithAPI(api))
		require.NoError(t, err)

		err = c.SendEmail(t.Context(), params)
		assert.ErrorIs(t, err, email.ErrFailedToSendEmail)
		assert.ErrorContains(t, err, "inactive recipient")
	})

	t.Run("transport error", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{err: errors.New("dial tcp")}
		c, err := postmark.New(validConfig(), postmark.WithAPI(api))
		require.NoError(t, err)
		assert.ErrorIs(t, c.SendEmail(t.Context(), params), email.ErrFailedToSendEmail)
	})

	t.Run("invalid params never reach the api", func(t *testing.T) {
		t.Parallel()

		api := &fakeAPI{}
		c, err := postmark.New(validConfig(), postmark.WithAPI(api))
		require.NoError(t, err)
		assert.ErrorIs(t, c.SendEmail(t.Context(), email.SendEmailParams{SendTo: "ops@tenant.test"}), email.ErrInvalidParams)
		assert.Empty(t, api.sent)
	})
}
