package store

import "errors"

var (
	ErrNotFound           = errors.New("store: not found")
	ErrPendingCertificate = errors.New("store: tenant already has a pending certificate")
	ErrInvalidRecordType  = errors.New("store: unsupported record type")
	ErrInvalidRecord      = errors.New("store: invalid record")
	ErrTenantExists       = errors.New("store: tenant already exists")
	ErrInvalidTenantName  = errors.New("store: tenant name must be a single DNS label")
)
