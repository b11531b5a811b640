package letsencrypt_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/acme"

	"github.com/dmitrymomot/certflow/core/letsencrypt"
)

const orderURL = "https://ca.test/order/1"

// fakeCA is an in-memory ACMEProvider with one order for acme.example.com.
type fakeCA struct {
	mu          sync.Mutex
	registerErr error
	orderStatus string
	authzStatus map[string]string
	chalStatus  map[string]string
	accepted    []string
	finalized   [][]byte
}

func newFakeCA() *fakeCA {
	return &fakeCA{
		orderStatus: acme.StatusPending,
		authzStatus: map[string]string{"authz/1": acme.StatusPending, "authz/2": acme.StatusPending},
		chalStatus:  map[string]string{"authz/1": acme.StatusPending, "authz/2": acme.StatusPending},
	}
}

func (f *fakeCA) Register(_ context.Context, acct *acme.Account, _ func(string) bool) (*acme.Account, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	acct.URI = "https://ca.test/acct/1"
	return acct, nil
}

func (f *fakeCA) GetReg(context.Context, string) (*acme.Account, error) {
	return &acme.Account{URI: "https://ca.test/acct/existing"}, nil
}

func (f *fakeCA) AuthorizeOrder(ctx context.Context, ids []acme.AuthzID, _ ...acme.OrderOption) (*acme.Order, error) {
	return f.GetOrder(ctx, orderURL)
}

func (f *fakeCA) GetOrder(_ context.Context, url string) (*acme.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if url != orderURL {
		return nil, errors.New("404")
	}
	return &acme.Order{
		URI:    orderURL,
		Status: f.orderStatus,
		Identifiers: []acme.AuthzID{
			{Type: "dns", Value: "acme.example.com"},
			{Type: "dns", Value: "*.acme.example.com"},
		},
		AuthzURLs:   []string{"authz/1", "authz/2"},
		FinalizeURL: "https://ca.test/order/1/finalize",
	}, nil
}

func (f *fakeCA) GetAuthorization(_ context.Context, url string) (*acme.Authorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ident := "acme.example.com"
	if url == "authz/2" {
		ident = "*.acme.example.com"
	}
	return &acme.Authorization{
		URI:        url,
		Status:     f.authzStatus[url],
		Identifier: acme.AuthzID{Type: "dns", Value: ident},
		Challenges: []*acme.Challenge{
			{Type: "http-01", URI: url + "/http", Token: "http-token", Status: acme.StatusPending},
			{Type: "dns-01", URI: url, Token: "token-" + url, Status: f.chalStatus[url]},
		},
	}, nil
}

func (f *fakeCA) Accept(_ context.Context, chal *acme.Challenge) (*acme.Challenge, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, chal.URI)
	f.chalStatus[chal.URI] = acme.StatusProcessing
	return chal, nil
}

func (f *fakeCA) DNS01ChallengeRecord(token string) (string, error) {
	return "value-" + token, nil
}

func (f *fakeCA) CreateOrderCert(_ context.Context, _ string, csrDER []byte, _ bool) ([][]byte, string, error) {
	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		return nil, "", err
	}
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, "", err
	}
	notBefore := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      csr.Subject,
		DNSNames:     csr.DNSNames,
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(90 * 24 * time.Hour),
	}
	caTmpl := &x509.Certificate{SerialNumber: big.NewInt(2), Subject: pkix.Name{CommonName: "Fake CA"}, NotBefore: notBefore, NotAfter: notBefore.Add(time.Hour), IsCA: true, BasicConstraintsValid: true}
	leaf, err := x509.CreateCertificate(rand.Reader, tmpl, caTmpl, csr.PublicKey, caKey)
	if err != nil {
		return nil, "", err
	}
	ca, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, "", err
	}

	f.mu.Lock()
	f.finalized = append(f.finalized, csrDER)
	f.orderStatus = acme.StatusValid
	f.mu.Unlock()
	return [][]byte{leaf, ca}, "https://ca.test/cert/1", nil
}

func (f *fakeCA) set(fn func(f *fakeCA)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newClient(t *testing.T, ca *fakeCA) *letsencrypt.Client {
	t.Helper()
	c, err := letsencrypt.New(t.Context(), letsencrypt.Config{
		DirectoryURL:      letsencrypt.LetsEncryptDirectory,
		Email:             "ops@example.com",
		AccountKey:        "unused with a provider",
		RequestsPerSecond: 1000,
	}, letsencrypt.WithProvider(ca))
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("missing settings are config errors", func(t *testing.T) {
		t.Parallel()

		for _, cfg := range []letsencrypt.Config{
			{Email: "a@b.c", AccountKey: "k"},
			{DirectoryURL: letsencrypt.LetsEncryptDirectory, AccountKey: "k"},
			{DirectoryURL: letsencrypt.LetsEncryptDirectory, Email: "a@b.c"},
		} {
			_, err := letsencrypt.New(t.Context(), cfg)
			assert.ErrorIs(t, err, letsencrypt.ErrConfig)
			assert.True(t, letsencrypt.IsPermanent(err))
		}
	})

	t.Run("unparsable account key", func(t *testing.T) {
		t.Parallel()

		_, err := letsencrypt.New(t.Context(), letsencrypt.Config{
			DirectoryURL: letsencrypt.LetsEncryptDirectory,
			Email:        "ops@example.com",
			AccountKey:   string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: []byte("junk")})),
		})
		assert.ErrorIs(t, err, letsencrypt.ErrConfig)
	})

	t.Run("existing account is reloaded", func(t *testing.T) {
		t.Parallel()

		ca := newFakeCA()
		ca.registerErr = acme.ErrAccountAlreadyExists
		newClient(t, ca)
	})

	t.Run("registration failure", func(t *testing.T) {
		t.Parallel()

		ca := newFakeCA()
		ca.registerErr = errors.New("ca down")
		_, err := letsencrypt.New(t.Context(), letsencrypt.Config{
			DirectoryURL: letsencrypt.LetsEncryptDirectory, Email: "ops@example.com", AccountKey: "k",
		}, letsencrypt.WithProvider(ca))
		assert.ErrorContains(t, err, "ca down")
		assert.False(t, letsencrypt.IsPermanent(err))
	})
}

func TestGenerateAccountKey(t *testing.T) {
	t.Parallel()

	keyPEM, err := letsencrypt.GenerateAccountKey()
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(keyPEM))
	require.NotNil(t, block)
	assert.Equal(t, "EC PRIVATE KEY", block.Type)
	key, err := x509.ParseECPrivateKey(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, elliptic.P256(), key.Curve)
}

func TestCreateOrder(t *testing.T) {
	t.Parallel()

	ca := newFakeCA()
	order, err := newClient(t, ca).CreateOrder(t.Context(), "ACME.example.com.")
	require.NoError(t, err)

	assert.Equal(t, orderURL, order.URL())
	assert.Equal(t, []letsencrypt.ChallengeBundle{
		{Domain: "_acme-challenge.acme.example.com", Value: "value-token-authz/1"},
		{Domain: "_acme-challenge.acme.example.com", Value: "value-token-authz/2"},
	}, order.Challenges())
}

func TestRecallOrder(t *testing.T) {
	t.Parallel()

	t.Run("malformed url is permanent", func(t *testing.T) {
		t.Parallel()

		c := newClient(t, newFakeCA())
		for _, u := range []string{"", "not a url", "ftp://ca.test/order/1", "/order/1"} {
			_, err := c.RecallOrder(t.Context(), u)
			assert.ErrorIs(t, err, letsencrypt.ErrInvalidOrderURL, u)
			assert.True(t, letsencrypt.IsPermanent(err))
		}
	})

	t.Run("valid authorizations yield no challenges", func(t *testing.T) {
		t.Parallel()

		ca := newFakeCA()
		ca.authzStatus["authz/1"] = acme.StatusValid
		order, err := newClient(t, ca).RecallOrder(t.Context(), orderURL)
		require.NoError(t, err)
		require.Len(t, order.Challenges(), 1)
		assert.Equal(t, "value-token-authz/2", order.Challenges()[0].Value)
	})

	t.Run("terminal order", func(t *testing.T) {
		t.Parallel()

		ca := newFakeCA()
		ca.orderStatus = acme.StatusExpired
		_, err := newClient(t, ca).RecallOrder(t.Context(), orderURL)
		assert.ErrorIs(t, err, letsencrypt.ErrOrderFailed)
	})
}

func TestVerifyChallenges(t *testing.T) {
	t.Parallel()

	t.Run("accepts pending challenges until ready", func(t *testing.T) {
		t.Parallel()

		ca := newFakeCA()
		order, err := newClient(t, ca).RecallOrder(t.Context(), orderURL)
		require.NoError(t, err)

		ready, err := order.VerifyChallenges(t.Context())
		require.NoError(t, err)
		assert.False(t, ready)
		assert.ElementsMatch(t, []string{"authz/1", "authz/2"}, ca.accepted)

		ready, err = order.VerifyChallenges(t.Context())
		require.NoError(t, err)
		assert.False(t, ready)
		assert.Len(t, ca.accepted, 2, "processing challenges are not accepted twice")

		ca.set(func(f *fakeCA) { f.orderStatus = acme.StatusReady })
		ready, err = order.VerifyChallenges(t.Context())
		require.NoError(t, err)
		assert.True(t, ready)
	})

	t.Run("invalid authorization is permanent", func(t *testing.T) {
		t.Parallel()

		ca := newFakeCA()
		order, err := newClient(t, ca).RecallOrder(t.Context(), orderURL)
		require.NoError(t, err)

		ca.set(func(f *fakeCA) { f.authzStatus["authz/2"] = acme.StatusInvalid })
		_, err = order.VerifyChallenges(t.Context())
		assert.ErrorIs(t, err, letsencrypt.ErrOrderFailed)
	})

	t.Run("invalid order is permanent", func(t *testing.T) {
		t.Parallel()

		ca := newFakeCA()
		order, err := newClient(t, ca).RecallOrder(t.Context(), orderURL)
		require.NoError(t, err)

		ca.set(func(f *fakeCA) { f.orderStatus = acme.StatusInvalid })
		_, err = order.VerifyChallenges(t.Context())
		assert.ErrorIs(t, err, letsencrypt.ErrOrderFailed)
	})
}

func TestCompleteOrder(t *testing.T) {
	t.Parallel()

	t.Run("not ready is retryable", func(t *testing.T) {
		t.Parallel()

		ca := newFakeCA()
		order, err := newClient(t, ca).RecallOrder(t.Context(), orderURL)
		require.NoError(t, err)

		_, err = order.CompleteOrder(t.Context())
		assert.ErrorIs(t, err, letsencrypt.ErrOrderNotReady)
		assert.False(t, letsencrypt.IsPermanent(err))
	})

	t.Run("finalizes a ready order", func(t *testing.T) {
		t.Parallel()

		ca := newFakeCA()
		order, err := newClient(t, ca).RecallOrder(t.Context(), orderURL)
		require.NoError(t, err)
		ca.set(func(f *fakeCA) { f.orderStatus = acme.StatusReady })

		issued, err := order.CompleteOrder(t.Context())
		require.NoError(t, err)

		require.Len(t, ca.finalized, 1)
		csr, err := x509.ParseCertificateRequest(ca.finalized[0])
		require.NoError(t, err)
		assert.Equal(t, "*.acme.example.com", csr.Subject.CommonName)
		assert.ElementsMatch(t, []string{"acme.example.com", "*.acme.example.com"}, csr.DNSNames)

		block, _ := pem.Decode([]byte(issued.CertificatePEM))
		require.NotNil(t, block)
		assert.Equal(t, "CERTIFICATE", block.Type)
		keyBlock, _ := pem.Decode([]byte(issued.PrivateKeyPEM))
		require.NotNil(t, keyBlock)
		assert.Equal(t, "RSA PRIVATE KEY", keyBlock.Type)
		assert.Contains(t, issued.ChainPEM, "BEGIN CERTIFICATE")
		assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), issued.ValidFrom.UTC())
		assert.Equal(t, 90*24*time.Hour, issued.ValidTo.Sub(issued.ValidFrom))

		_, err = order.CompleteOrder(t.Context())
		assert.ErrorIs(t, err, letsencrypt.ErrOrderFailed, "a finalized order cannot be reused")
	})
}
