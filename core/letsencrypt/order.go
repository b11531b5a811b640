package letsencrypt

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/go-acme/lego/v4/certcrypto"
	"golang.org/x/crypto/acme"

	"github.com/dmitrymomot/certflow/core/logger"
)

// ChallengeBundle is one TXT value to publish for an authorization.
type ChallengeBundle struct {
	// Domain is the TXT name, _acme-challenge.<identifier without wildcard>.
	Domain string
	Value  string
}

// IssuedCertificate is the result of a finalized order.
type IssuedCertificate struct {
	PrivateKeyPEM  string
	CertificatePEM string
	ChainPEM       string
	ValidFrom      time.Time
	ValidTo        time.Time
}

// Order is a handle on one ACME order.
type Order struct {
	client      *Client
	url         string
	status      string
	finalizeURL string
	identifiers []string
	authzURLs   []string
	challenges  []ChallengeBundle
}

// URL is the order URL to persist for RecallOrder.
func (o *Order) URL() string { return o.url }

// Status is the order status as last seen.
func (o *Order) Status() string { return o.status }

// Challenges returns the pending DNS-01 values, in authorization order.
func (o *Order) Challenges() []ChallengeBundle {
	return slices.Clone(o.challenges)
}

func (o *Order) load(ctx context.Context, order *acme.Order) error {
	o.status = order.Status
	o.finalizeURL = order.FinalizeURL
	o.authzURLs = order.AuthzURLs
	o.identifiers = o.identifiers[:0]
	for _, id := range order.Identifiers {
		o.identifiers = append(o.identifiers, id.Value)
	}
	if terminal(order.Status) {
		return fmt.Errorf("%w: order %s is %s", ErrOrderFailed, o.url, order.Status)
	}

	o.challenges = o.challenges[:0]
	for _, authzURL := range order.AuthzURLs {
		authz, err := o.client.provider.GetAuthorization(ctx, authzURL)
		if err != nil {
			return fmt.Errorf("letsencrypt: get authorization: %w", err)
		}
		if terminal(authz.Status) {
			return fmt.Errorf("%w: authorization %s is %s", ErrOrderFailed, authz.Identifier.Value, authz.Status)
		}
		if authz.Status == acme.StatusValid {
			continue
		}

		chal := dnsChallenge(authz)
		if chal == nil {
			return fmt.Errorf("%w: %s", ErrNoDNSChallenge, authz.Identifier.Value)
		}
		value, err := o.client.provider.DNS01ChallengeRecord(chal.Token)
		if err != nil {
			return fmt.Errorf("letsencrypt: compute dns-01 record: %w", err)
		}
		o.challenges = append(o.challenges, ChallengeBundle{
			Domain: challengeName(authz.Identifier.Value),
			Value:  value,
		})
	}
	return nil
}

// VerifyChallenges reports whether the order is ready for finalization.
// While it is not, every pending or invalid dns-01 challenge is accepted so
// the CA starts validating.
func (o *Order) VerifyChallenges(ctx context.Context) (bool, error) {
	order, err := o.client.provider.GetOrder(ctx, o.url)
	if err != nil {
		return false, fmt.Errorf("letsencrypt: get order: %w", err)
	}
	o.status = order.Status

	switch {
	case order.Status == acme.StatusReady || order.Status == acme.StatusValid:
		return true, nil
	case terminal(order.Status):
		return false, fmt.Errorf("%w: order %s is %s", ErrOrderFailed, o.url, order.Status)
	}

	for _, authzURL := range order.AuthzURLs {
		authz, err := o.client.provider.GetAuthorization(ctx, authzURL)
		if err != nil {
			return false, fmt.Errorf("letsencrypt: get authorization: %w", err)
		}
		if terminal(authz.Status) {
			return false, fmt.Errorf("%w: authorization %s is %s", ErrOrderFailed, authz.Identifier.Value, authz.Status)
		}

		chal := dnsChallenge(authz)
		if chal == nil {
			continue
		}
		if chal.Status != acme.StatusPending && chal.Status != acme.StatusInvalid {
			continue
		}
		if _, err := o.client.provider.Accept(ctx, chal); err != nil {
			return false, fmt.Errorf("letsencrypt: accept challenge for %s: %w", authz.Identifier.Value, err)
		}
		o.client.logger.DebugContext(ctx, "challenge accepted", logger.Domain(authz.Identifier.Value))
	}
	return false, nil
}

// CompleteOrder finalizes a ready order with a new RSA-2048 key.
func (o *Order) CompleteOrder(ctx context.Context) (*IssuedCertificate, error) {
	order, err := o.client.provider.GetOrder(ctx, o.url)
	if err != nil {
		return nil, fmt.Errorf("letsencrypt: get order: %w", err)
	}
	o.status = order.Status
	if terminal(order.Status) {
		return nil, fmt.Errorf("%w: order %s is %s", ErrOrderFailed, o.url, order.Status)
	}
	if order.Status == acme.StatusValid {
		// The key of a finalized order is gone; the order cannot be reused.
		return nil, fmt.Errorf("%w: order %s was already finalized", ErrOrderFailed, o.url)
	}
	if order.Status != acme.StatusReady {
		return nil, fmt.Errorf("%w: status %s", ErrOrderNotReady, order.Status)
	}

	names := make([]string, 0, len(order.Identifiers))
	for _, id := range order.Identifiers {
		names = append(names, id.Value)
	}

	key, err := certcrypto.GeneratePrivateKey(certcrypto.RSA2048)
	if err != nil {
		return nil, fmt.Errorf("letsencrypt: generate key: %w", err)
	}
	csr, err := buildCSR(key, names)
	if err != nil {
		return nil, err
	}

	der, _, err := o.client.provider.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return nil, fmt.Errorf("letsencrypt: finalize order: %w", err)
	}
	if len(der) == 0 || len(der[0]) == 0 {
		return nil, ErrEmptyCertificate
	}
	leaf, err := x509.ParseCertificate(der[0])
	if err != nil {
		return nil, fmt.Errorf("letsencrypt: parse certificate: %w", err)
	}

	var chain strings.Builder
	for _, c := range der[1:] {
		chain.Write(certcrypto.PEMEncode(certcrypto.DERCertificateBytes(c)))
	}

	return &IssuedCertificate{
		PrivateKeyPEM:  string(certcrypto.PEMEncode(key)),
		CertificatePEM: string(certcrypto.PEMEncode(certcrypto.DERCertificateBytes(der[0]))),
		ChainPEM:       chain.String(),
		ValidFrom:      leaf.NotBefore,
		ValidTo:        leaf.NotAfter,
	}, nil
}

// buildCSR uses the wildcard name as common name and lists every order
// identifier as a SAN.
func buildCSR(key crypto.PrivateKey, names []string) ([]byte, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: order has no identifiers", ErrOrderFailed)
	}
	cn := names[0]
	for _, n := range names {
		if strings.HasPrefix(n, "*.") {
			cn = n
			break
		}
	}
	csr, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: cn},
		DNSNames: names,
	}, key)
	if err != nil {
		return nil, fmt.Errorf("letsencrypt: create csr: %w", err)
	}
	return csr, nil
}

func dnsChallenge(authz *acme.Authorization) *acme.Challenge {
	for _, c := range authz.Challenges {
		if c.Type == "dns-01" {
			return c
		}
	}
	return nil
}

func challengeName(identifier string) string {
	return "_acme-challenge." + strings.TrimPrefix(identifier, "*.")
}

func terminal(status string) bool {
	switch status {
	case acme.StatusInvalid, acme.StatusExpired, acme.StatusRevoked, acme.StatusDeactivated:
		return true
	}
	return false
}
