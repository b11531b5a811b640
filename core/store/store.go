package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ReconciliationFlag is the SystemState.reconciliationNeeded accessor.
type ReconciliationFlag interface {
	ReconciliationNeeded(ctx context.Context) (bool, error)
	SetReconciliationNeeded(ctx context.Context, needed bool) error
}

// TenantStore reads and registers tenants.
type TenantStore interface {
	CreateTenant(ctx context.Context, t *Tenant) error
	GetTenant(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetTenantByName(ctx context.Context, name string) (*Tenant, error)
}

// CertificateStore persists certificates.
type CertificateStore interface {
	// CreateCertificate fails with ErrPendingCertificate when the tenant
	// already has a pending certificate.
	CreateCertificate(ctx context.Context, c *Certificate) error
	GetCertificate(ctx context.Context, id uuid.UUID) (*Certificate, error)
	GetPendingCertificate(ctx context.Context, tenantID uuid.UUID) (*Certificate, error)
	UpdateCertificate(ctx context.Context, c *Certificate) error
	// DeleteCertificate removes the certificate with its challenges and
	// their TXT records.
	DeleteCertificate(ctx context.Context, id uuid.UUID) error
}

// ChallengeStore persists ACME challenges and the TXT records they own.
type ChallengeStore interface {
	// CreateChallenge stores the challenge together with its TXT record.
	CreateChallenge(ctx context.Context, ch *Challenge, record *DNSRecord) error
	ListChallenges(ctx context.Context, certificateID uuid.UUID) ([]Challenge, error)
	// DeleteChallenges removes every challenge of a certificate and their
	// TXT records, returning how many challenges were removed.
	DeleteChallenges(ctx context.Context, certificateID uuid.UUID) (int, error)
}

// RecordStore persists tenant DNS records.
type RecordStore interface {
	CreateRecord(ctx context.Context, r *DNSRecord) error
	GetRecord(ctx context.Context, id uuid.UUID) (*DNSRecord, error)
	UpdateRecord(ctx context.Context, r *DNSRecord) error
	DeleteRecord(ctx context.Context, id uuid.UUID) error
	ListTenantRecords(ctx context.Context, tenantID uuid.UUID) ([]DNSRecord, error)
	// ListLiveRecords returns every record not expired at now, with
	// TenantName filled in.
	ListLiveRecords(ctx context.Context, now time.Time) ([]DNSRecord, error)
	// DeleteExpiredRecords removes records expired at now and raises the
	// reconciliation flag when any were removed.
	DeleteExpiredRecords(ctx context.Context, now time.Time) (int, error)
	SetRecordStatus(ctx context.Context, status RecordStatus, ids ...uuid.UUID) error
}

// Store is the full record-of-truth.
type Store interface {
	TenantStore
	CertificateStore
	ChallengeStore
	RecordStore
}
