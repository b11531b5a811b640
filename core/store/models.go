package store

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChallengeLabel is the subdomain of ACME DNS-01 TXT records.
const ChallengeLabel = "_acme-challenge"

// CertificateStatus is the tenant-visible state of a certificate.
type CertificateStatus string

const (
	CertificatePending CertificateStatus = "pending"
	CertificateIssued  CertificateStatus = "issued"
	CertificateFailed  CertificateStatus = "failed"
)

// RecordStatus tracks whether a DNS record reached the provider.
type RecordStatus string

const (
	RecordPending RecordStatus = "pending"
	RecordActive  RecordStatus = "active"
	RecordError   RecordStatus = "error"
)

// RecordType is a managed DNS record type.
type RecordType string

const (
	RecordA     RecordType = "A"
	RecordAAAA  RecordType = "AAAA"
	RecordCNAME RecordType = "CNAME"
	RecordTXT   RecordType = "TXT"
	RecordMX    RecordType = "MX"
)

// ManagedTypes lists every record type the system owns.
var ManagedTypes = []RecordType{RecordA, RecordAAAA, RecordCNAME, RecordTXT, RecordMX}

// Valid reports whether t is a managed type.
func (t RecordType) Valid() bool {
	switch t {
	case RecordA, RecordAAAA, RecordCNAME, RecordTXT, RecordMX:
		return true
	}
	return false
}

// MultiValue reports whether one name may carry several values of this type.
func (t RecordType) MultiValue() bool {
	return t == RecordA || t == RecordAAAA || t == RecordTXT
}

var (
	labelRe     = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
	subdomainRe = regexp.MustCompile(`^(\*|_?[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)(\.(_?[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?))*$`)
)

// ValidTenantName reports whether name can be used as the tenant label.
func ValidTenantName(name string) bool {
	return labelRe.MatchString(name)
}

// ValidSubdomain reports whether s is a relative name below a tenant label.
func ValidSubdomain(s string) bool {
	return subdomainRe.MatchString(s)
}

// Tenant owns certificates and DNS records below <name>.<root>.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	Email     string
	CreatedAt time.Time
}

// Certificate is a wildcard certificate for a tenant domain.
type Certificate struct {
	ID             uuid.UUID
	TenantID       uuid.UUID
	Domain         string
	OrderURL       *string
	Status         CertificateStatus
	CertificatePEM string
	PrivateKeyPEM  string
	ChainPEM       string
	ValidFrom      *time.Time
	ValidTo        *time.Time
	LastNotified   *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Challenge is one ACME DNS-01 authorization of a certificate order.
type Challenge struct {
	ID            uuid.UUID
	CertificateID uuid.UUID
	// Domain is the full TXT name, _acme-challenge.<identifier>.
	Domain       string
	ChallengeKey string
	CreatedAt    time.Time
}

// DNSRecord is a tenant record below <subdomain>.<tenant>.<root>.
type DNSRecord struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	ChallengeID *uuid.UUID
	Subdomain   string
	Type        RecordType
	Value       string
	Status      RecordStatus
	ExpiresAt   *time.Time
	CreatedAt   time.Time

	// TenantName is filled by list queries that join the tenant.
	TenantName string
}

// Expired reports whether the record stopped being served at now.
func (r DNSRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// FQDN returns the absolute record name below rootDomain.
func (r DNSRecord) FQDN(rootDomain string) string {
	return FQDN(r.Subdomain, r.TenantName, rootDomain)
}

// Validate checks type, name and value shape.
func (r DNSRecord) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRecordType, r.Type)
	}
	if !ValidSubdomain(r.Subdomain) {
		return fmt.Errorf("%w: subdomain %q", ErrInvalidRecord, r.Subdomain)
	}
	if strings.TrimSpace(r.Value) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidRecord)
	}
	return nil
}

// FQDN joins subdomain, tenant and root into a name with a trailing dot.
func FQDN(subdomain, tenant, rootDomain string) string {
	return subdomain + "." + tenant + "." + strings.TrimSuffix(rootDomain, ".") + "."
}

// TenantDomain is the certificate domain of a tenant.
func TenantDomain(tenant, rootDomain string) string {
	return tenant + "." + strings.TrimSuffix(rootDomain, ".")
}

// ChallengeSubdomain maps a challenge FQDN (_acme-challenge.<tenant>.<root>
// or deeper) to the subdomain of its TXT record relative to tenantDomain.
func ChallengeSubdomain(challengeDomain, tenantDomain string) (string, error) {
	name := strings.TrimSuffix(challengeDomain, ".")
	suffix := "." + strings.TrimSuffix(tenantDomain, ".")
	if !strings.HasSuffix(name, suffix) {
		return "", fmt.Errorf("%w: %q is not below %q", ErrInvalidRecord, challengeDomain, tenantDomain)
	}
	sub := strings.TrimSuffix(name, suffix)
	if !strings.HasPrefix(sub, ChallengeLabel) {
		return "", fmt.Errorf("%w: %q is not a challenge name", ErrInvalidRecord, challengeDomain)
	}
	return sub, nil
}
