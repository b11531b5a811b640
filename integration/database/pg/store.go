package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/certflow/core/store"
)

// Store is the Postgres record-of-truth. Every challenge and record mutation
// raises the reconciliation flag in the same transaction, or in the external
// flag after commit when one is configured.
type Store struct {
	pool     *pgxpool.Pool
	external store.ReconciliationFlag
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithExternalFlag keeps the reconciliation flag outside Postgres.
func WithExternalFlag(flag store.ReconciliationFlag) StoreOption {
	return func(s *Store) { s.external = flag }
}

// NewStore creates a Store on pool.
func NewStore(pool *pgxpool.Pool, opts ...StoreOption) *Store {
	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ store.Store = (*Store)(nil)

// ReconciliationNeeded reads the flag.
func (s *Store) ReconciliationNeeded(ctx context.Context) (bool, error) {
	if s.external != nil {
		return s.external.ReconciliationNeeded(ctx)
	}
	var needed bool
	err := conn(ctx, s.pool).QueryRow(ctx, `SELECT reconciliation_needed FROM system_state WHERE id`).Scan(&needed)
	if IsNotFoundError(err) {
		return false, nil
	}
	return needed, err
}

// SetReconciliationNeeded writes the flag.
func (s *Store) SetReconciliationNeeded(ctx context.Context, needed bool) error {
	if s.external != nil {
		return s.external.SetReconciliationNeeded(ctx, needed)
	}
	return setFlag(ctx, conn(ctx, s.pool), needed)
}

func setFlag(ctx context.Context, q querier, needed bool) error {
	_, err := q.Exec(ctx, `
		INSERT INTO system_state (id, reconciliation_needed, updated_at) VALUES (TRUE, $1, now())
		ON CONFLICT (id) DO UPDATE SET reconciliation_needed = EXCLUDED.reconciliation_needed, updated_at = now()`,
		needed)
	return err
}

// mutate runs fn in a transaction and raises the flag.
func (s *Store) mutate(ctx context.Context, fn func(q querier) error) error {
	err := inTx(ctx, s.pool, func(q querier) error {
		if err := fn(q); err != nil {
			return err
		}
		if s.external == nil {
			return setFlag(ctx, q, true)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if s.external != nil {
		return s.external.SetReconciliationNeeded(ctx, true)
	}
	return nil
}

// Tenants

func (s *Store) CreateTenant(ctx context.Context, t *store.Tenant) error {
	if !store.ValidTenantName(t.Name) {
		return fmt.Errorf("%w: %q", store.ErrInvalidTenantName, t.Name)
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := conn(ctx, s.pool).QueryRow(ctx,
		`INSERT INTO tenants (id, name, email) VALUES ($1, $2, $3) RETURNING created_at`,
		t.ID, t.Name, t.Email,
	).Scan(&t.CreatedAt)
	if IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %q", store.ErrTenantExists, t.Name)
	}
	return err
}

func (s *Store) GetTenant(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	return s.tenant(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetTenantByName(ctx context.Context, name string) (*store.Tenant, error) {
	return s.tenant(ctx, `WHERE name = $1`, name)
}

func (s *Store) tenant(ctx context.Context, where string, arg any) (*store.Tenant, error) {
	var t store.Tenant
	err := conn(ctx, s.pool).QueryRow(ctx, `SELECT id, name, email, created_at FROM tenants `+where, arg).
		Scan(&t.ID, &t.Name, &t.Email, &t.CreatedAt)
	if IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: tenant %v", store.ErrNotFound, arg)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Certificates

const certificateColumns = `id, tenant_id, domain, order_url, status, certificate_pem, private_key_pem,
	chain_pem, valid_from, valid_to, last_notified, created_at, updated_at`

func scanCertificate(row pgx.Row) (*store.Certificate, error) {
	var (
		c      store.Certificate
		status string
	)
	err := row.Scan(&c.ID, &c.TenantID, &c.Domain, &c.OrderURL, &status, &c.CertificatePEM, &c.PrivateKeyPEM,
		&c.ChainPEM, &c.ValidFrom, &c.ValidTo, &c.LastNotified, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = store.CertificateStatus(status)
	return &c, nil
}

func (s *Store) CreateCertificate(ctx context.Context, c *store.Certificate) error {
	if c.Status == "" {
		c.Status = store.CertificatePending
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := conn(ctx, s.pool).QueryRow(ctx, `
		INSERT INTO certificates (id, tenant_id, domain, order_url, status, certificate_pem, private_key_pem,
			chain_pem, valid_from, valid_to, last_notified)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		c.ID, c.TenantID, c.Domain, c.OrderURL, string(c.Status), c.CertificatePEM, c.PrivateKeyPEM,
		c.ChainPEM, c.ValidFrom, c.ValidTo, c.LastNotified,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	switch {
	case IsDuplicateKeyError(err) && constraintName(err) == "certificates_one_pending":
		return store.ErrPendingCertificate
	case IsForeignKeyViolationError(err):
		return fmt.Errorf("%w: tenant %s", store.ErrNotFound, c.TenantID)
	}
	return err
}

func (s *Store) GetCertificate(ctx context.Context, id uuid.UUID) (*store.Certificate, error) {
	c, err := scanCertificate(conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE id = $1`, id))
	if IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: certificate %s", store.ErrNotFound, id)
	}
	return c, err
}

func (s *Store) GetPendingCertificate(ctx context.Context, tenantID uuid.UUID) (*store.Certificate, error) {
	c, err := scanCertificate(conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+certificateColumns+` FROM certificates WHERE tenant_id = $1 AND status = 'pending'`, tenantID))
	if IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: pending certificate for tenant %s", store.ErrNotFound, tenantID)
	}
	return c, err
}

func (s *Store) UpdateCertificate(ctx context.Context, c *store.Certificate) error {
	err := conn(ctx, s.pool).QueryRow(ctx, `
		UPDATE certificates SET domain = $2, order_url = $3, status = $4, certificate_pem = $5,
			private_key_pem = $6, chain_pem = $7, valid_from = $8, valid_to = $9, last_notified = $10,
			updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		c.ID, c.Domain, c.OrderURL, string(c.Status), c.CertificatePEM, c.PrivateKeyPEM, c.ChainPEM,
		c.ValidFrom, c.ValidTo, c.LastNotified,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	switch {
	case IsNotFoundError(err):
		return fmt.Errorf("%w: certificate %s", store.ErrNotFound, c.ID)
	case IsDuplicateKeyError(err):
		return store.ErrPendingCertificate
	}
	return err
}

func (s *Store) DeleteCertificate(ctx context.Context, id uuid.UUID) error {
	var removed int
	err := inTx(ctx, s.pool, func(q querier) error {
		if err := q.QueryRow(ctx, `SELECT count(*) FROM challenges WHERE certificate_id = $1`, id).Scan(&removed); err != nil {
			return err
		}
		tag, err := q.Exec(ctx, `DELETE FROM certificates WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: certificate %s", store.ErrNotFound, id)
		}
		if removed > 0 && s.external == nil {
			return setFlag(ctx, q, true)
		}
		return nil
	})
	if err != nil || removed == 0 || s.external == nil {
		return err
	}
	return s.external.SetReconciliationNeeded(ctx, true)
}

// Challenges

func (s *Store) CreateChallenge(ctx context.Context, ch *store.Challenge, record *store.DNSRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if ch.ID == uuid.Nil {
		ch.ID = uuid.New()
	}
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = store.RecordPending
	}
	challengeID := ch.ID
	record.ChallengeID = &challengeID

	return s.mutate(ctx, func(q querier) error {
		err := q.QueryRow(ctx, `
			INSERT INTO challenges (id, certificate_id, domain, challenge_key) VALUES ($1, $2, $3, $4)
			RETURNING created_at`,
			ch.ID, ch.CertificateID, ch.Domain, ch.ChallengeKey,
		).Scan(&ch.CreatedAt)
		if IsForeignKeyViolationError(err) {
			return fmt.Errorf("%w: certificate %s", store.ErrNotFound, ch.CertificateID)
		}
		if err != nil {
			return err
		}
		return insertRecord(ctx, q, record)
	})
}

func (s *Store) ListChallenges(ctx context.Context, certificateID uuid.UUID) ([]store.Challenge, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, `
		SELECT id, certificate_id, domain, challenge_key, created_at FROM challenges
		WHERE certificate_id = $1 ORDER BY created_at, domain, challenge_key`, certificateID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Challenge, error) {
		var ch store.Challenge
		err := row.Scan(&ch.ID, &ch.CertificateID, &ch.Domain, &ch.ChallengeKey, &ch.CreatedAt)
		return ch, err
	})
}

func (s *Store) DeleteChallenges(ctx context.Context, certificateID uuid.UUID) (int, error) {
	var removed int
	err := inTx(ctx, s.pool, func(q querier) error {
		tag, err := q.Exec(ctx, `DELETE FROM challenges WHERE certificate_id = $1`, certificateID)
		if err != nil {
			return err
		}
		removed = int(tag.RowsAffected())
		if removed > 0 && s.external == nil {
			return setFlag(ctx, q, true)
		}
		return nil
	})
	if err != nil || removed == 0 || s.external == nil {
		return removed, err
	}
	return removed, s.external.SetReconciliationNeeded(ctx, true)
}

// Records

const recordColumns = `r.id, r.tenant_id, r.challenge_id, r.subdomain, r.type, r.value, r.status,
	r.expires_at, r.created_at, t.name`

func scanRecord(row pgx.Row) (store.DNSRecord, error) {
	var (
		r           store.DNSRecord
		typ, status string
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.ChallengeID, &r.Subdomain, &typ, &r.Value, &status,
		&r.ExpiresAt, &r.CreatedAt, &r.TenantName)
	r.Type = store.RecordType(typ)
	r.Status = store.RecordStatus(status)
	return r, err
}

func insertRecord(ctx context.Context, q querier, r *store.DNSRecord) error {
	err := q.QueryRow(ctx, `
		INSERT INTO dns_records (id, tenant_id, challenge_id, subdomain, type, value, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		r.ID, r.TenantID, r.ChallengeID, r.Subdomain, string(r.Type), r.Value, string(r.Status), r.ExpiresAt,
	).Scan(&r.CreatedAt)
	if IsForeignKeyViolationError(err) {
		return fmt.Errorf("%w: tenant %s", store.ErrNotFound, r.TenantID)
	}
	return err
}

func (s *Store) CreateRecord(ctx context.Context, r *store.DNSRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = store.RecordPending
	}
	return s.mutate(ctx, func(q querier) error {
		return insertRecord(ctx, q, r)
	})
}

func (s *Store) GetRecord(ctx context.Context, id uuid.UUID) (*store.DNSRecord, error) {
	r, err := scanRecord(conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+recordColumns+` FROM dns_records r JOIN tenants t ON t.id = r.tenant_id WHERE r.id = $1`, id))
	if IsNotFoundError(err) {
		return nil, fmt.Errorf("%w: record %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Store) UpdateRecord(ctx context.Context, r *store.DNSRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.mutate(ctx, func(q querier) error {
		err := q.QueryRow(ctx, `
			UPDATE dns_records SET subdomain = $2, type = $3, value = $4, status = $5, expires_at = $6
			WHERE id = $1
			RETURNING tenant_id, challenge_id, created_at`,
			r.ID, r.Subdomain, string(r.Type), r.Value, string(r.Status), r.ExpiresAt,
		).Scan(&r.TenantID, &r.ChallengeID, &r.CreatedAt)
		if IsNotFoundError(err) {
			return fmt.Errorf("%w: record %s", store.ErrNotFound, r.ID)
		}
		return err
	})
}

func (s *Store) DeleteRecord(ctx context.Context, id uuid.UUID) error {
	return s.mutate(ctx, func(q querier) error {
		tag, err := q.Exec(ctx, `DELETE FROM dns_records WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: record %s", store.ErrNotFound, id)
		}
		return nil
	})
}

func (s *Store) ListTenantRecords(ctx context.Context, tenantID uuid.UUID) ([]store.DNSRecord, error) {
	return s.records(ctx, `WHERE r.tenant_id = $1`, tenantID)
}

func (s *Store) ListLiveRecords(ctx context.Context, now time.Time) ([]store.DNSRecord, error) {
	return s.records(ctx, `WHERE r.expires_at IS NULL OR r.expires_at > $1`, now)
}

var errNothingExpired = errors.New("no expired records")

func (s *Store) DeleteExpiredRecords(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := s.mutate(ctx, func(q querier) error {
		tag, err := q.Exec(ctx, `DELETE FROM dns_records WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
		if err != nil {
			return err
		}
		n = int(tag.RowsAffected())
		if n == 0 {
			// Rolls back so the flag stays as it is.
			return errNothingExpired
		}
		return nil
	})
	if errors.Is(err, errNothingExpired) {
		return 0, nil
	}
	return n, err
}

func (s *Store) records(ctx context.Context, where string, arg any) ([]store.DNSRecord, error) {
	rows, err := conn(ctx, s.pool).Query(ctx, `
		SELECT `+recordColumns+` FROM dns_records r JOIN tenants t ON t.id = r.tenant_id `+where+`
		ORDER BY t.name, r.subdomain, r.type, r.value`, arg)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.DNSRecord, error) {
		return scanRecord(row)
	})
}

// SetRecordStatus leaves the reconciliation flag untouched.
func (s *Store) SetRecordStatus(ctx context.Context, status store.RecordStatus, ids ...uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.String()
	}
	_, err := conn(ctx, s.pool).Exec(ctx, `UPDATE dns_records SET status = $1 WHERE id = ANY($2::uuid[])`, string(status), keys)
	if err != nil {
		return errors.Join(fmt.Errorf("set status of %d records", len(ids)), err)
	}
	return nil
}
