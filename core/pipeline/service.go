package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/core/queue"
	"github.com/dmitrymomot/certflow/core/store"
)

// Config holds pipeline settings.
type Config struct {
	RootDomain string `env:"ROOT_DOMAIN,required"`
}

// Notifier queues a plain-text message to a tenant.
type Notifier interface {
	Send(ctx context.Context, address, subject, message string) error
}

// Archiver keeps a copy of an issued certificate bundle.
type Archiver interface {
	Archive(ctx context.Context, cert *store.Certificate) error
}

// RecordPusher sends records to the DNS provider ahead of reconciliation.
type RecordPusher interface {
	PushRecords(ctx context.Context, tenantID uuid.UUID, recordIDs []uuid.UUID) error
}

// FlowEnqueuer stores a task flow.
type FlowEnqueuer interface {
	EnqueueFlow(ctx context.Context, flow queue.Flow) (uuid.UUID, error)
}

// HandlerRegistry is where stage handlers and the failure listener go.
type HandlerRegistry interface {
	RegisterHandlers(handlers ...queue.Handler) error
	OnTaskFailed(taskName string, fn queue.FailureListener)
}

// Service runs certificate issuance.
type Service struct {
	rootDomain string
	store      store.Store
	acme       ACME
	verifier   ChallengeVerifier
	flows      FlowEnqueuer
	notifier   Notifier
	archiver   Archiver
	pusher     RecordPusher
	flag       store.ReconciliationFlag
	backoff    time.Duration
	logger     *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the tenant notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithArchiver stores issued bundles.
func WithArchiver(a Archiver) Option {
	return func(s *Service) { s.archiver = a }
}

// WithRecordPusher pushes challenge records right after they are created.
func WithRecordPusher(p RecordPusher) Option {
	return func(s *Service) { s.pusher = p }
}

// WithReconciliationFlag raises flag on failure cleanup.
func WithReconciliationFlag(flag store.ReconciliationFlag) Option {
	return func(s *Service) { s.flag = flag }
}

// WithBackoff replaces the backoff start of every stage. Used by tests and
// local development.
func WithBackoff(d time.Duration) Option {
	return func(s *Service) { s.backoff = d }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates the pipeline service.
func New(cfg Config, st store.Store, acme ACME, verifier ChallengeVerifier, flows FlowEnqueuer, opts ...Option) (*Service, error) {
	if cfg.RootDomain == "" {
		return nil, fmt.Errorf("%w: root domain is required", ErrInvalidConfig)
	}
	if st == nil || acme == nil || verifier == nil || flows == nil {
		return nil, fmt.Errorf("%w: store, acme, verifier and enqueuer are required", ErrInvalidConfig)
	}

	s := &Service{
		rootDomain: cfg.RootDomain,
		store:      st,
		acme:       acme,
		verifier:   verifier,
		flows:      flows,
		logger:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("pipeline"))
	return s, nil
}

// Handlers returns one handler per stage, named after the stage queue.
func (s *Service) Handlers() []queue.Handler {
	return []queue.Handler{
		s.stageHandler(StageOrderCreator, s.createOrder),
		s.stageHandler(StageDNSWaiter, s.waitForDNS),
		s.stageHandler(StageChallengeCompleter, s.completeChallenges),
		s.stageHandler(StageOrderCompleter, s.completeOrder),
		s.stageHandler(StageDNSCleaner, s.cleanup),
	}
}

// Register installs the stage handlers and the failure listener on the
// DNS Cleaner.
func (s *Service) Register(r HandlerRegistry) error {
	if err := r.RegisterHandlers(s.Handlers()...); err != nil {
		return err
	}
	r.OnTaskFailed(StageDNSCleaner.Spec().Queue, s.HandleFailure)
	return nil
}

// RequestCertificate returns the tenant's pending certificate, or creates one
// and starts its issuance flow.
func (s *Service) RequestCertificate(ctx context.Context, tenantID uuid.UUID) (*store.Certificate, error) {
	tenant, err := s.store.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	pending, err := s.store.GetPendingCertificate(ctx, tenantID)
	switch {
	case err == nil:
		return pending, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	cert := &store.Certificate{
		TenantID: tenant.ID,
		Domain:   store.TenantDomain(tenant.Name, s.rootDomain),
		Status:   store.CertificatePending,
	}
	if err := s.store.CreateCertificate(ctx, cert); err != nil {
		if errors.Is(err, store.ErrPendingCertificate) {
			return s.store.GetPendingCertificate(ctx, tenantID)
		}
		return nil, err
	}

	rootID, err := s.flows.EnqueueFlow(ctx, buildFlow(Payload{
		RootDomain:    s.rootDomain,
		TenantID:      tenant.ID,
		CertificateID: cert.ID,
	}, s.backoff))
	if err != nil {
		if delErr := s.store.DeleteCertificate(context.WithoutCancel(ctx), cert.ID); delErr != nil {
			err = errors.Join(err, delErr)
		}
		return nil, fmt.Errorf("pipeline: enqueue issuance: %w", err)
	}

	s.logger.InfoContext(ctx, "certificate requested",
		logger.TenantID(tenant.ID),
		logger.CertificateID(cert.ID),
		logger.Domain(cert.Domain),
		logger.TaskID(rootID),
	)
	return cert, nil
}
