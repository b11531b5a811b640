package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	s3aws "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/core/store"
)

// Config is read from S3_* variables. An empty bucket disables archiving.
type Config struct {
	Bucket         string `env:"S3_BUCKET"`
	Region         string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKeyID    string `env:"S3_ACCESS_KEY_ID"`
	SecretKey      string `env:"S3_SECRET_KEY"`
	Endpoint       string `env:"S3_ENDPOINT"`
	ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE" envDefault:"false"`
	Prefix         string `env:"S3_PREFIX" envDefault:"certificates"`
}

// Enabled reports whether a bucket is configured.
func (c Config) Enabled() bool { return c.Bucket != "" }

// S3Client is the subset of the SDK client the archive uses.
type S3Client interface {
	PutObject(ctx context.Context, params *s3aws.PutObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3aws.HeadObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3aws.GetObjectInput, optFns ...func(*s3aws.Options)) (*s3aws.GetObjectOutput, error)
}

// Archive stores issued certificate bundles under
// <prefix>/<domain>/<certificate id>/{cert,chain,key}.pem.
type Archive struct {
	client S3Client
	bucket string
	prefix string
	logger *slog.Logger
}

// Option configures an Archive.
type Option func(*options)

type options struct {
	client        S3Client
	configOptions []func(*config.LoadOptions) error
	logger        *slog.Logger
}

// WithS3Client replaces the SDK client.
func WithS3Client(client S3Client) Option {
	return func(o *options) { o.client = client }
}

// WithConfigOption adds an AWS config load option.
func WithConfigOption(opt func(*config.LoadOptions) error) Option {
	return func(o *options) { o.configOptions = append(o.configOptions, opt) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New builds an Archive. Without static keys the default AWS credential chain
// is used.
func New(ctx context.Context, cfg Config, opts ...Option) (*Archive, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}
	o := &options{logger: logger.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, "")))
		}
		loadOpts = append(loadOpts, o.configOptions...)

		awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client = s3aws.NewFromConfig(awsCfg, func(so *s3aws.Options) {
			if cfg.Endpoint != "" {
				so.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			so.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return &Archive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: o.logger.With(logger.Component("s3-archive")),
	}, nil
}

// Bundle is an archived certificate.
type Bundle struct {
	CertificatePEM string
	ChainPEM       string
	PrivateKeyPEM  string
}

const (
	certObject  = "cert.pem"
	chainObject = "chain.pem"
	keyObject   = "key.pem"
)

func (a *Archive) key(domain, id, object string) string {
	return path.Join(a.prefix, domain, id, object)
}

// Archive uploads an issued certificate. A bundle already present is left
// as is, so retried issuance does not rewrite it. The private key is stored
// with server-side encryption.
func (a *Archive) Archive(ctx context.Context, cert *store.Certificate) error {
	if cert.Status != store.CertificateIssued || cert.CertificatePEM == "" {
		return fmt.Errorf("%w: %s", ErrIncompleteBundle, cert.ID)
	}
	id := cert.ID.String()

	_, err := a.client.HeadObject(ctx, &s3aws.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.key(cert.Domain, id, certObject)),
	})
	switch err = classifyS3Error(err, "head certificate"); {
	case err == nil:
		a.logger.DebugContext(ctx, "certificate already archived", logger.CertificateID(cert.ID))
		return nil
	case !errors.Is(err, ErrObjectNotFound):
		return err
	}

	objects := []struct {
		name, body string
		secret     bool
	}{
		{keyObject, cert.PrivateKeyPEM, true},
		{chainObject, cert.ChainPEM, false},
		// cert.pem last: its presence marks a complete bundle.
		{certObject, cert.CertificatePEM, false},
	}
	for _, obj := range objects {
		in := &s3aws.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(a.key(cert.Domain, id, obj.name)),
			Body:        strings.NewReader(obj.body),
			ContentType: aws.String("application/x-pem-file"),
		}
		if obj.secret {
			in.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
		if _, err := a.client.PutObject(ctx, in); err != nil {
			return classifyS3Error(err, "put "+obj.name)
		}
	}

	a.logger.InfoContext(ctx, "certificate archived",
		logger.CertificateID(cert.ID),
		logger.Domain(cert.Domain),
	)
	return nil
}

// Fetch downloads an archived bundle.
func (a *Archive) Fetch(ctx context.Context, domain, certificateID string) (*Bundle, error) {
	var b Bundle
	for _, obj := range []struct {
		name string
		dst  *string
	}{
		{certObject, &b.CertificatePEM},
		{chainObject, &b.ChainPEM},
		{keyObject, &b.PrivateKeyPEM},
	} {
		out, err := a.client.GetObject(ctx, &s3aws.GetObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.key(domain, certificateID, obj.name)),
		})
		if err != nil {
			return nil, classifyS3Error(err, "get "+obj.name)
		}
		body, err := io.ReadAll(out.Body)
		_ = out.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", obj.name, err)
		}
		*obj.dst = string(body)
	}
	return &b, nil
}
