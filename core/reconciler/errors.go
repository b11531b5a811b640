package reconciler

import "errors"

var (
	ErrInvalidConfig    = errors.New("reconciler: invalid configuration")
	ErrStoreSnapshot    = errors.New("reconciler: store snapshot failed")
	ErrProviderSnapshot = errors.New("reconciler: provider snapshot failed")
	ErrFlag             = errors.New("reconciler: reconciliation flag unavailable")
	ErrConcurrencyCheck = errors.New("reconciler: active run count unavailable")
)
