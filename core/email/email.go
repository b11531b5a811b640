package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// EmailSender delivers one message.
type EmailSender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

// SendEmailParams is a plain-text message with an optional HTML alternative.
type SendEmailParams struct {
	SendTo   string
	Subject  string
	BodyText string
	BodyHTML string
	Tag      string
}

// Validate checks recipient, subject and that some body is present.
func (p SendEmailParams) Validate() error {
	var errs []error
	if strings.TrimSpace(p.SendTo) == "" {
		errs = append(errs, errors.New("recipient is required"))
	} else if _, err := mail.ParseAddress(p.SendTo); err != nil {
		errs = append(errs, fmt.Errorf("recipient %q: %w", p.SendTo, err))
	}
	if strings.TrimSpace(p.Subject) == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	if strings.TrimSpace(p.BodyText) == "" && strings.TrimSpace(p.BodyHTML) == "" {
		errs = append(errs, errors.New("body is required"))
	}
	if len(errs) > 0 {
		return errors.Join(ErrInvalidParams, errors.Join(errs...))
	}
	return nil
}
