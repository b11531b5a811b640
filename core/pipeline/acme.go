package pipeline

import (
	"context"

	"github.com/dmitrymomot/certflow/core/letsencrypt"
)

// Order is the ACME order state used by the stages.
type Order interface {
	URL() string
	Challenges() []letsencrypt.ChallengeBundle
	VerifyChallenges(ctx context.Context) (bool, error)
	CompleteOrder(ctx context.Context) (*letsencrypt.IssuedCertificate, error)
}

// ACME opens and recalls orders.
type ACME interface {
	CreateOrder(ctx context.Context, domain string) (Order, error)
	RecallOrder(ctx context.Context, orderURL string) (Order, error)
}

// ChallengeVerifier checks that a TXT value is served authoritatively.
type ChallengeVerifier interface {
	VerifyChallenge(ctx context.Context, domain, key string) error
}

// LetsEncrypt adapts a letsencrypt.Client to ACME.
func LetsEncrypt(c *letsencrypt.Client) ACME {
	return letsEncryptACME{c: c}
}

type letsEncryptACME struct {
	c *letsencrypt.Client
}

func (a letsEncryptACME) CreateOrder(ctx context.Context, domain string) (Order, error) {
	o, err := a.c.CreateOrder(ctx, domain)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (a letsEncryptACME) RecallOrder(ctx context.Context, orderURL string) (Order, error) {
	o, err := a.c.RecallOrder(ctx, orderURL)
	if err != nil {
		return nil, err
	}
	return o, nil
}
