package s3_test

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/certflow/core/store"
	"github.com/dmitrymomot/certflow/integration/storage/s3"
)

type fakeClient struct {
	mu      sync.Mutex
	objects map[string]string
	sse     map[string]types.ServerSideEncryption
	puts    int
	putErr  error
}

func newFakeClient() *fakeClient {
	return &fakeClient{objects: map[string]string{}, sse: map[string]types.ServerSideEncryption{}}
}

func (f *fakeClient) PutObject(_ context.Context, in *s3aws.PutObjectInput, _ ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key)
	f.objects[key] = string(body)
	f.sse[key] = in.ServerSideEncryption
	f.puts++
	return &s3aws.PutObjectOutput{}, nil
}

func (f *fakeClient) HeadObject(_ context.Context, in *s3aws.HeadObjectInput, _ ...func(*s3aws.Options)) (*s3aws.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3aws.HeadObjectOutput{}, nil
}

func (f *fakeClient) GetObject(_ context.Context, in *s3aws.GetObjectInput, _ ...func(*s3aws.Options)) (*s3aws.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3aws.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

func issuedCert() *store.Certificate {
	return &store.Certificate{
		ID:             uuid.New(),
		Domain:         "acme.example.com",
		Status:         store.CertificateIssued,
		CertificatePEM: "CERT",
		ChainPEM:       "CHAIN",
		PrivateKeyPEM:  "KEY",
	}
}

func newArchive(t *testing.T, client s3.S3Client) *s3.Archive {
	t.Helper()
	a, err := s3.New(t.Context(), s3.Config{Bucket: "bundles", Region: "eu-west-1", Prefix: "/certs/"}, s3.WithS3Client(client))
	require.NoError(t, err)
	return a
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := s3.New(t.Context(), s3.Config{Region: "eu-west-1"})
	assert.ErrorIs(t, err, s3.ErrInvalidConfig)
	assert.False(t, s3.Config{}.Enabled())
	assert.True(t, s3.Config{Bucket: "b"}.Enabled())
}

func TestArchive(t *testing.T) {
	t.Parallel()

	t.Run("stores bundle and fetches it back", func(t *testing.T) {
		t.Parallel()
		client := newFakeClient()
		a := newArchive(t, client)
		cert := issuedCert()

		require.NoError(t, a.Archive(t.Context(), cert))
		assert.Equal(t, 3, client.puts)

		keyPath := "bundles/certs/acme.example.com/" + cert.ID.String() + "/key.pem"
		assert.Equal(t, "KEY", client.objects[keyPath])
		assert.Equal(t, types.ServerSideEncryptionAes256, client.sse[keyPath])

		b, err := a.Fetch(t.Context(), cert.Domain, cert.ID.String())
		require.NoError(t, err)
		assert.Equal(t, &s3.Bundle{CertificatePEM: "CERT", ChainPEM: "CHAIN", PrivateKeyPEM: "KEY"}, b)
	})

	t.Run("already archived bundle is not rewritten", func(t *testing.T) {
		t.Parallel()
		client := newFakeClient()
		a := newArchive(t, client)
		cert := issuedCert()

		require.NoError(t, a.Archive(t.Context(), cert))
		require.NoError(t, a.Archive(t.Context(), cert))
		assert.Equal(t, 3, client.puts)
	})

	t.Run("pending certificate is rejected", func(t *testing.T) {
		t.Parallel()
		a := newArchive(t, newFakeClient())
		cert := issuedCert()
		cert.Status = store.CertificatePending

		assert.ErrorIs(t, a.Archive(t.Context(), cert), s3.ErrIncompleteBundle)
	})

	t.Run("api errors are classified", func(t *testing.T) {
		t.Parallel()
		client := newFakeClient()
		client.putErr = &smithy.GenericAPIError{Code: "AccessDenied", Message: "denied"}
		a := newArchive(t, client)

		assert.ErrorIs(t, a.Archive(t.Context(), issuedCert()), s3.ErrAccessDenied)
	})

	t.Run("missing bundle", func(t *testing.T) {
		t.Parallel()
		a := newArchive(t, newFakeClient())

		_, err := a.Fetch(t.Context(), "acme.example.com", uuid.NewString())
		assert.ErrorIs(t, err, s3.ErrObjectNotFound)
	})

	t.Run("canceled context", func(t *testing.T) {
		t.Parallel()
		client := newFakeClient()
		client.putErr = context.Canceled
		a := newArchive(t, client)

		assert.ErrorIs(t, a.Archive(t.Context(), issuedCert()), s3.ErrOperationCanceled)
	})
}
