package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// MemoryFlag is an in-process ReconciliationFlag.
type MemoryFlag struct {
	v atomic.Bool
}

func (f *MemoryFlag) ReconciliationNeeded(context.Context) (bool, error) {
	return f.v.Load(), nil
}

func (f *MemoryFlag) SetReconciliationNeeded(_ context.Context, needed bool) error {
	f.v.Store(needed)
	return nil
}

// Memory implements Store in memory.
type Memory struct {
	mu           sync.RWMutex
	tenants      map[uuid.UUID]Tenant
	certificates map[uuid.UUID]Certificate
	challenges   map[uuid.UUID]Challenge
	records      map[uuid.UUID]DNSRecord
	flag         ReconciliationFlag
	now          func() time.Time
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithFlag makes mutations raise an external flag instead of the built-in one.
func WithFlag(flag ReconciliationFlag) MemoryOption {
	return func(m *Memory) {
		if flag != nil {
			m.flag = flag
		}
	}
}

// WithClock overrides time.Now for timestamps.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemory creates an empty store.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		tenants:      make(map[uuid.UUID]Tenant),
		certificates: make(map[uuid.UUID]Certificate),
		challenges:   make(map[uuid.UUID]Challenge),
		records:      make(map[uuid.UUID]DNSRecord),
		flag:         &MemoryFlag{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Flag returns the flag raised by mutations.
func (m *Memory) Flag() ReconciliationFlag {
	return m.flag
}

// ReconciliationNeeded reads the store flag.
func (m *Memory) ReconciliationNeeded(ctx context.Context) (bool, error) {
	return m.flag.ReconciliationNeeded(ctx)
}

// SetReconciliationNeeded writes the store flag.
func (m *Memory) SetReconciliationNeeded(ctx context.Context, needed bool) error {
	return m.flag.SetReconciliationNeeded(ctx, needed)
}

func (m *Memory) raise(ctx context.Context) error {
	if err := m.flag.SetReconciliationNeeded(ctx, true); err != nil {
		return fmt.Errorf("raise reconciliation flag: %w", err)
	}
	return nil
}

func (m *Memory) CreateTenant(_ context.Context, t *Tenant) error {
	if !ValidTenantName(t.Name) {
		return fmt.Errorf("%w: %q", ErrInvalidTenantName, t.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.tenants {
		if existing.Name == t.Name {
			return fmt.Errorf("%w: %s", ErrTenantExists, t.Name)
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now()
	}
	m.tenants[t.ID] = *t
	return nil
}

func (m *Memory) GetTenant(_ context.Context, id uuid.UUID) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tenants[id]
	if !ok {
		return nil, fmt.Errorf("%w: tenant %s", ErrNotFound, id)
	}
	return &t, nil
}

func (m *Memory) GetTenantByName(_ context.Context, name string) (*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, t := range m.tenants {
		if t.Name == name {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: tenant %q", ErrNotFound, name)
}

func (m *Memory) CreateCertificate(_ context.Context, c *Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tenants[c.TenantID]; !ok {
		return fmt.Errorf("%w: tenant %s", ErrNotFound, c.TenantID)
	}
	if c.Status == "" {
		c.Status = CertificatePending
	}
	if c.Status == CertificatePending {
		for _, existing := range m.certificates {
			if existing.TenantID == c.TenantID && existing.Status == CertificatePending {
				return ErrPendingCertificate
			}
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	now := m.now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.certificates[c.ID] = *c
	return nil
}

func (m *Memory) GetCertificate(_ context.Context, id uuid.UUID) (*Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.certificates[id]
	if !ok {
		return nil, fmt.Errorf("%w: certificate %s", ErrNotFound, id)
	}
	return &c, nil
}

func (m *Memory) GetPendingCertificate(_ context.Context, tenantID uuid.UUID) (*Certificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, c := range m.certificates {
		if c.TenantID == tenantID && c.Status == CertificatePending {
			return &c, nil
		}
	}
	return nil, fmt.Errorf("%w: pending certificate for tenant %s", ErrNotFound, tenantID)
}

func (m *Memory) UpdateCertificate(_ context.Context, c *Certificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.certificates[c.ID]
	if !ok {
		return fmt.Errorf("%w: certificate %s", ErrNotFound, c.ID)
	}
	c.CreatedAt = existing.CreatedAt
	c.UpdatedAt = m.now()
	m.certificates[c.ID] = *c
	return nil
}

func (m *Memory) DeleteCertificate(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	if _, ok := m.certificates[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: certificate %s", ErrNotFound, id)
	}
	delete(m.certificates, id)
	removed := m.deleteChallengesLocked(id)
	m.mu.Unlock()

	if removed > 0 {
		return m.raise(ctx)
	}
	return nil
}

func (m *Memory) CreateChallenge(ctx context.Context, ch *Challenge, record *DNSRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.certificates[ch.CertificateID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: certificate %s", ErrNotFound, ch.CertificateID)
	}
	now := m.now()
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	ch.CreatedAt = now
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	challengeID := ch.ID
	record.ChallengeID = &challengeID
	record.CreatedAt = now
	if record.Status == "" {
		record.Status = RecordPending
	}
	m.challenges[ch.ID] = *ch
	m.records[record.ID] = *record
	m.mu.Unlock()

	return m.raise(ctx)
}

func (m *Memory) ListChallenges(_ context.Context, certificateID uuid.UUID) ([]Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Challenge
	for _, ch := range m.challenges {
		if ch.CertificateID == certificateID {
			out = append(out, ch)
		}
	}
	slices.SortFunc(out, func(a, b Challenge) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Domain, b.Domain), cmp.Compare(a.ChallengeKey, b.ChallengeKey))
	})
	return out, nil
}

func (m *Memory) DeleteChallenges(ctx context.Context, certificateID uuid.UUID) (int, error) {
	m.mu.Lock()
	removed := m.deleteChallengesLocked(certificateID)
	m.mu.Unlock()

	if removed == 0 {
		return 0, nil
	}
	return removed, m.raise(ctx)
}

func (m *Memory) deleteChallengesLocked(certificateID uuid.UUID) int {
	removed := 0
	for id, ch := range m.challenges {
		if ch.CertificateID != certificateID {
			continue
		}
		delete(m.challenges, id)
		removed++
		for rid, r := range m.records {
			if r.ChallengeID != nil && *r.ChallengeID == id {
				delete(m.records, rid)
			}
		}
	}
	return removed
}

func (m *Memory) CreateRecord(ctx context.Context, r *DNSRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.tenants[r.TenantID]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: tenant %s", ErrNotFound, r.TenantID)
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = RecordPending
	}
	r.CreatedAt = m.now()
	m.records[r.ID] = *r
	m.mu.Unlock()

	return m.raise(ctx)
}

func (m *Memory) GetRecord(_ context.Context, id uuid.UUID) (*DNSRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: record %s", ErrNotFound, id)
	}
	r.TenantName = m.tenants[r.TenantID].Name
	return &r, nil
}

func (m *Memory) UpdateRecord(ctx context.Context, r *DNSRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	existing, ok := m.records[r.ID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: record %s", ErrNotFound, r.ID)
	}
	r.CreatedAt = existing.CreatedAt
	r.TenantID = existing.TenantID
	r.ChallengeID = existing.ChallengeID
	m.records[r.ID] = *r
	m.mu.Unlock()

	return m.raise(ctx)
}

func (m *Memory) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	if _, ok := m.records[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: record %s", ErrNotFound, id)
	}
	delete(m.records, id)
	m.mu.Unlock()

	return m.raise(ctx)
}

func (m *Memory) ListTenantRecords(_ context.Context, tenantID uuid.UUID) ([]DNSRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []DNSRecord
	for _, r := range m.records {
		if r.TenantID == tenantID {
			r.TenantName = m.tenants[r.TenantID].Name
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *Memory) ListLiveRecords(_ context.Context, now time.Time) ([]DNSRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []DNSRecord
	for _, r := range m.records {
		if r.Expired(now) {
			continue
		}
		t, ok := m.tenants[r.TenantID]
		if !ok {
			continue
		}
		r.TenantName = t.Name
		out = append(out, r)
	}
	sortRecords(out)
	return out, nil
}

func (m *Memory) DeleteExpiredRecords(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	n := 0
	for id, r := range m.records {
		if r.Expired(now) {
			delete(m.records, id)
			n++
		}
	}
	m.mu.Unlock()

	if n == 0 {
		return 0, nil
	}
	return n, m.raise(ctx)
}

// SetRecordStatus leaves the reconciliation flag untouched.
func (m *Memory) SetRecordStatus(_ context.Context, status RecordStatus, ids ...uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		r, ok := m.records[id]
		if !ok {
			continue
		}
		r.Status = status
		m.records[id] = r
	}
	return nil
}

func sortRecords(rs []DNSRecord) {
	slices.SortFunc(rs, func(a, b DNSRecord) int {
		return cmp.Or(
			cmp.Compare(a.TenantName, b.TenantName),
			cmp.Compare(a.Subdomain, b.Subdomain),
			cmp.Compare(a.Type, b.Type),
			cmp.Compare(a.Value, b.Value),
		)
	})
}
