package letsencrypt

import (
	"log/slog"
	"net/http"
)

// Option configures a Client.
type Option func(*Client)

// WithProvider replaces the ACME client, mainly for tests.
// The provider is still paced.
func WithProvider(p ACMEProvider) Option {
	return func(c *Client) {
		c.provider = p
	}
}

// WithHTTPClient sets the HTTP client for CA requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}
