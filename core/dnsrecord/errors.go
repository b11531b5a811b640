package dnsrecord

import "errors"

var (
	ErrInvalidConfig    = errors.New("dnsrecord: invalid configuration")
	ErrReservedName     = errors.New("dnsrecord: subdomain is reserved for ACME challenges")
	ErrChallengeRecord  = errors.New("dnsrecord: challenge records are managed by certificate issuance")
	ErrConflict         = errors.New("dnsrecord: record conflicts with an existing record")
	ErrTenantMismatch   = errors.New("dnsrecord: record belongs to another tenant")
	ErrNothingToApply   = errors.New("dnsrecord: no record sets to apply")
)
