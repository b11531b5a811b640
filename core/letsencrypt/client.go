package letsencrypt

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-acme/lego/v4/certcrypto"
	"golang.org/x/crypto/acme"
	"golang.org/x/time/rate"

	"github.com/dmitrymomot/certflow/core/logger"
)

// LetsEncryptDirectory is the production directory URL.
const LetsEncryptDirectory = "https://acme-v02.api.letsencrypt.org/directory"

// Config holds the ACME account settings.
type Config struct {
	DirectoryURL      string  `env:"ACME_DIRECTORY_URL" envDefault:"https://acme-v02.api.letsencrypt.org/directory"`
	Email             string  `env:"ACME_EMAIL,required"`
	AccountKey        string  `env:"ACME_ACCOUNT_KEY,required"`
	RequestsPerSecond float64 `env:"ACME_REQUESTS_PER_SECOND" envDefault:"5"`
}

// Client holds a registered ACME account.
type Client struct {
	provider   ACMEProvider
	httpClient *http.Client
	account    *acme.Account
	logger     *slog.Logger
}

// New loads the account key, then registers the account or reloads it when
// the CA already knows the key.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.DirectoryURL == "" {
		return nil, fmt.Errorf("%w: directory url is required", ErrConfig)
	}
	if cfg.Email == "" {
		return nil, fmt.Errorf("%w: email is required", ErrConfig)
	}
	if cfg.AccountKey == "" {
		return nil, fmt.Errorf("%w: account key is required", ErrConfig)
	}

	c := &Client{logger: logger.Discard()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("letsencrypt"))

	if c.provider == nil {
		key, err := parseAccountKey(cfg.AccountKey)
		if err != nil {
			return nil, err
		}
		c.provider = &acme.Client{
			Key:          key,
			DirectoryURL: cfg.DirectoryURL,
			HTTPClient:   c.httpClient,
			UserAgent:    "certflow",
		}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	c.provider = &pacedProvider{
		next:    c.provider,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}

	account, err := c.provider.Register(ctx, &acme.Account{Contact: []string{"mailto:" + cfg.Email}}, acme.AcceptTOS)
	switch {
	case errors.Is(err, acme.ErrAccountAlreadyExists):
		account, err = c.provider.GetReg(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("letsencrypt: load account: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("letsencrypt: register account: %w", err)
	}
	c.account = account

	c.logger.InfoContext(ctx, "acme account ready", slog.String("account", account.URI))
	return c, nil
}

func parseAccountKey(pemKey string) (crypto.Signer, error) {
	key, err := certcrypto.ParsePEMPrivateKey([]byte(pemKey))
	if err != nil {
		return nil, fmt.Errorf("%w: parse account key: %w", ErrConfig, err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w: account key is not a signer", ErrConfig)
	}
	return signer, nil
}

// CreateOrder opens an order for domain and *.domain and collects the DNS-01
// values to publish.
func (c *Client) CreateOrder(ctx context.Context, domain string) (*Order, error) {
	domain = strings.TrimSuffix(strings.ToLower(domain), ".")
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrConfig)
	}

	order, err := c.provider.AuthorizeOrder(ctx, acme.DomainIDs(domain, "*."+domain))
	if err != nil {
		return nil, fmt.Errorf("letsencrypt: authorize order: %w", err)
	}
	if order == nil || order.URI == "" {
		return nil, fmt.Errorf("%w: CA returned an order without url", ErrInvalidOrderURL)
	}

	o := &Order{client: c, url: order.URI}
	if err := o.load(ctx, order); err != nil {
		return nil, err
	}
	c.logger.InfoContext(ctx, "order created",
		logger.Domain(domain),
		slog.String("order_url", o.url),
		logger.Count("challenges", len(o.challenges)),
	)
	return o, nil
}

// RecallOrder reloads an order from its URL.
func (c *Client) RecallOrder(ctx context.Context, orderURL string) (*Order, error) {
	if err := validateOrderURL(orderURL); err != nil {
		return nil, err
	}

	order, err := c.provider.GetOrder(ctx, orderURL)
	if err != nil {
		return nil, fmt.Errorf("letsencrypt: get order: %w", err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: CA returned no order for %s", ErrInvalidOrderURL, orderURL)
	}

	o := &Order{client: c, url: orderURL}
	if err := o.load(ctx, order); err != nil {
		return nil, err
	}
	return o, nil
}

func validateOrderURL(orderURL string) error {
	if orderURL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidOrderURL)
	}
	u, err := url.Parse(orderURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrderURL, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidOrderURL, orderURL)
	}
	return nil
}

// GenerateAccountKey returns a new P-256 account key in PEM form, suitable
// for ACME_ACCOUNT_KEY.
func GenerateAccountKey() (string, error) {
	key, err := certcrypto.GeneratePrivateKey(certcrypto.EC256)
	if err != nil {
		return "", fmt.Errorf("generate account key: %w", err)
	}
	return string(certcrypto.PEMEncode(key)), nil
}
