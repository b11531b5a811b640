package letsencrypt

import (
	"context"

	"golang.org/x/crypto/acme"
	"golang.org/x/time/rate"
)

// ACMEProvider is the subset of *acme.Client used by Client.
type ACMEProvider interface {
	Register(ctx context.Context, acct *acme.Account, prompt func(tosURL string) bool) (*acme.Account, error)
	GetReg(ctx context.Context, url string) (*acme.Account, error)
	AuthorizeOrder(ctx context.Context, id []acme.AuthzID, opt ...acme.OrderOption) (*acme.Order, error)
	GetOrder(ctx context.Context, url string) (*acme.Order, error)
	GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error)
	DNS01ChallengeRecord(token string) (string, error)
	CreateOrderCert(ctx context.Context, url string, csr []byte, bundle bool) (der [][]byte, certURL string, err error)
}

var _ ACMEProvider = (*acme.Client)(nil)

// pacedProvider waits on a limiter before every request to the CA.
type pacedProvider struct {
	next    ACMEProvider
	limiter *rate.Limiter
}

func (p *pacedProvider) Register(ctx context.Context, acct *acme.Account, prompt func(string) bool) (*acme.Account, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.next.Register(ctx, acct, prompt)
}

func (p *pacedProvider) GetReg(ctx context.Context, url string) (*acme.Account, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.next.GetReg(ctx, url)
}

func (p *pacedProvider) AuthorizeOrder(ctx context.Context, id []acme.AuthzID, opt ...acme.OrderOption) (*acme.Order, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.next.AuthorizeOrder(ctx, id, opt...)
}

func (p *pacedProvider) GetOrder(ctx context.Context, url string) (*acme.Order, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.next.GetOrder(ctx, url)
}

func (p *pacedProvider) GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.next.GetAuthorization(ctx, url)
}

func (p *pacedProvider) Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.next.Accept(ctx, chal)
}

// DNS01ChallengeRecord is computed locally and is not paced.
func (p *pacedProvider) DNS01ChallengeRecord(token string) (string, error) {
	return p.next.DNS01ChallengeRecord(token)
}

func (p *pacedProvider) CreateOrderCert(ctx context.Context, url string, csr []byte, bundle bool) ([][]byte, string, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	return p.next.CreateOrderCert(ctx, url, csr, bundle)
}
