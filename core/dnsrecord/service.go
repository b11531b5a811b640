package dnsrecord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/certflow/core/logger"
	"github.com/dmitrymomot/certflow/core/queue"
	"github.com/dmitrymomot/certflow/core/store"
	"github.com/dmitrymomot/certflow/integration/dns/route53"
)

const (
	// QueueName is the rate-limited queue of provider mutations.
	QueueName = "dns-changes"
	// ApplyTaskName names ApplyRecordChanges tasks.
	ApplyTaskName = "dnsrecord.ApplyRecordChanges"

	applyAttempts = 5
	applyBackoff  = 10 * time.Second
)

// Config holds record service settings.
type Config struct {
	RootDomain         string        `env:"ROOT_DOMAIN,required"`
	MutationsPerSecond int           `env:"DNS_MUTATIONS_PER_SECOND" envDefault:"5"`
	ExpiryInterval     time.Duration `env:"DNS_RECORD_EXPIRY_INTERVAL" envDefault:"1m"`
}

// Store is the part of the record store the service uses.
type Store interface {
	store.TenantStore
	store.RecordStore
}

// Provider applies change batches and reports their propagation.
type Provider interface {
	ChangeRecordSets(ctx context.Context, changes []route53.Change) (string, error)
	WaitForSync(ctx context.Context, changeID string) error
}

// Enqueuer stores tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload any, opts ...queue.EnqueueOption) error
}

// HandlerRegistry is where the apply handler and its failure listener go.
type HandlerRegistry interface {
	RegisterHandlers(handlers ...queue.Handler) error
	OnTaskFailed(taskName string, fn queue.FailureListener)
}

// RecordInput is the editable part of a record.
type RecordInput struct {
	Subdomain string
	Type      store.RecordType
	Value     string
	ExpiresAt *time.Time
}

// Service manages tenant records.
type Service struct {
	rootDomain     string
	expiryInterval time.Duration
	store          Store
	provider       Provider
	enqueuer       Enqueuer
	logger         *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a record service.
func New(cfg Config, st Store, provider Provider, enqueuer Enqueuer, opts ...Option) (*Service, error) {
	if cfg.RootDomain == "" {
		return nil, fmt.Errorf("%w: root domain is required", ErrInvalidConfig)
	}
	if st == nil || provider == nil || enqueuer == nil {
		return nil, fmt.Errorf("%w: store, provider and enqueuer are required", ErrInvalidConfig)
	}
	s := &Service{
		rootDomain:     cfg.RootDomain,
		expiryInterval: cfg.ExpiryInterval,
		store:          st,
		provider:       provider,
		enqueuer:       enqueuer,
		logger:         logger.Discard(),
	}
	if s.expiryInterval <= 0 {
		s.expiryInterval = time.Minute
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("dnsrecord"))
	return s, nil
}

// Register adds the apply and expiry handlers and marks records of failed
// tasks.
func (s *Service) Register(r HandlerRegistry) error {
	if err := r.RegisterHandlers(s.Handler(), s.ExpiryHandler()); err != nil {
		return err
	}
	r.OnTaskFailed(ApplyTaskName, s.HandleFailure)
	return nil
}

// ListRecords returns the tenant's records.
func (s *Service) ListRecords(ctx context.Context, tenantID uuid.UUID) ([]store.DNSRecord, error) {
	return s.store.ListTenantRecords(ctx, tenantID)
}

// CreateRecord stores a new record and queues its publication.
func (s *Service) CreateRecord(ctx context.Context, tenantID uuid.UUID, in RecordInput) (*store.DNSRecord, error) {
	rec := &store.DNSRecord{
		TenantID:  tenantID,
		Subdomain: strings.ToLower(in.Subdomain),
		Type:      store.RecordType(strings.ToUpper(string(in.Type))),
		Value:     strings.TrimSpace(in.Value),
		ExpiresAt: in.ExpiresAt,
		Status:    store.RecordPending,
	}
	existing, err := s.check(ctx, rec)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "record created", logger.TenantID(tenantID), logger.Domain(rec.Subdomain), logger.RecordType(string(rec.Type)))
	s.push(ctx, tenantID, []uuid.UUID{rec.ID}, setKey(rec, existing))
	return rec, nil
}

// UpdateRecord replaces the editable fields of a record and queues its
// publication.
func (s *Service) UpdateRecord(ctx context.Context, tenantID, id uuid.UUID, in RecordInput) (*store.DNSRecord, error) {
	current, err := s.owned(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	rec := *current
	rec.Subdomain = strings.ToLower(in.Subdomain)
	rec.Type = store.RecordType(strings.ToUpper(string(in.Type)))
	rec.Value = strings.TrimSpace(in.Value)
	rec.ExpiresAt = in.ExpiresAt
	rec.Status = store.RecordPending

	existing, err := s.check(ctx, &rec)
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateRecord(ctx, &rec); err != nil {
		return nil, err
	}

	keys := []RecordSetKey{setKey(&rec, existing)}
	if current.Subdomain != rec.Subdomain || current.Type != rec.Type {
		keys = append(keys, setKey(current, existing))
	}

	s.logger.InfoContext(ctx, "record updated", logger.TenantID(tenantID), logger.ID("record_id", id))
	s.push(ctx, tenantID, []uuid.UUID{rec.ID}, keys...)
	return &rec, nil
}

// DeleteRecord removes a record and queues the provider update.
func (s *Service) DeleteRecord(ctx context.Context, tenantID, id uuid.UUID) error {
	current, err := s.owned(ctx, tenantID, id)
	if err != nil {
		return err
	}
	existing, err := s.store.ListTenantRecords(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteRecord(ctx, id); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "record deleted", logger.TenantID(tenantID), logger.ID("record_id", id))
	s.push(ctx, tenantID, nil, setKey(current, existing))
	return nil
}

// PushRecords queues publication of already stored records.
func (s *Service) PushRecords(ctx context.Context, tenantID uuid.UUID, recordIDs []uuid.UUID) error {
	existing, err := s.store.ListTenantRecords(ctx, tenantID)
	if err != nil {
		return err
	}
	byID := make(map[uuid.UUID]store.DNSRecord, len(existing))
	for _, r := range existing {
		byID[r.ID] = r
	}

	type name struct {
		subdomain string
		typ       store.RecordType
	}
	seen := make(map[name]bool)
	var keys []RecordSetKey
	for _, id := range recordIDs {
		r, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: record %s", store.ErrNotFound, id)
		}
		if n := (name{r.Subdomain, r.Type}); !seen[n] {
			seen[n] = true
			keys = append(keys, RecordSetKey{Subdomain: r.Subdomain, Type: r.Type})
		}
	}
	return s.enqueue(ctx, ApplyRecordChanges{TenantID: tenantID, RecordIDs: recordIDs, Sets: keys})
}

func (s *Service) push(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID, keys ...RecordSetKey) {
	err := s.enqueue(ctx, ApplyRecordChanges{TenantID: tenantID, RecordIDs: ids, Sets: keys})
	if err != nil {
		// The raised flag still gets the change published.
		s.logger.WarnContext(ctx, "record change not queued", logger.TenantID(tenantID), logger.Error(err))
	}
}

func (s *Service) enqueue(ctx context.Context, task ApplyRecordChanges) error {
	return s.enqueuer.Enqueue(ctx, task,
		queue.WithQueue(QueueName),
		queue.WithTaskName(ApplyTaskName),
		queue.WithMaxAttempts(applyAttempts),
		queue.WithBackoff(applyBackoff),
	)
}

func (s *Service) owned(ctx context.Context, tenantID, id uuid.UUID) (*store.DNSRecord, error) {
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.TenantID != tenantID {
		return nil, fmt.Errorf("%w: %s", ErrTenantMismatch, id)
	}
	if rec.ChallengeID != nil {
		return nil, ErrChallengeRecord
	}
	return rec, nil
}

// check validates rec against the tenant's other records and returns them.
func (s *Service) check(ctx context.Context, rec *store.DNSRecord) ([]store.DNSRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if reserved(rec.Subdomain) {
		return nil, fmt.Errorf("%w: %s", ErrReservedName, rec.Subdomain)
	}
	if _, err := s.store.GetTenant(ctx, rec.TenantID); err != nil {
		return nil, err
	}
	existing, err := s.store.ListTenantRecords(ctx, rec.TenantID)
	if err != nil {
		return nil, err
	}
	for _, other := range existing {
		if other.ID == rec.ID || other.Subdomain != rec.Subdomain {
			continue
		}
		switch {
		case other.Type == rec.Type && other.Value == rec.Value:
			return nil, fmt.Errorf("%w: duplicate %s value", ErrConflict, rec.Type)
		case other.Type == rec.Type && !rec.Type.MultiValue():
			return nil, fmt.Errorf("%w: %s allows one value per name", ErrConflict, rec.Type)
		case other.Type != rec.Type && (other.Type == store.RecordCNAME || rec.Type == store.RecordCNAME):
			return nil, fmt.Errorf("%w: CNAME cannot share a name with other records", ErrConflict)
		}
	}
	return existing, nil
}

func reserved(subdomain string) bool {
	return subdomain == store.ChallengeLabel || strings.HasPrefix(subdomain, store.ChallengeLabel+".")
}

// setKey is the record set of r with its values before the mutation.
func setKey(r *store.DNSRecord, before []store.DNSRecord) RecordSetKey {
	return RecordSetKey{
		Subdomain: r.Subdomain,
		Type:      r.Type,
		Previous:  values(before, r.Subdomain, r.Type),
	}
}

func values(records []store.DNSRecord, subdomain string, typ store.RecordType) []string {
	var out []string
	for _, r := range records {
		if r.Subdomain == subdomain && r.Type == typ {
			out = append(out, r.Value)
		}
	}
	return out
}
