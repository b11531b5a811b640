package pipeline

import "errors"

var (
	ErrInvalidConfig          = errors.New("pipeline: invalid configuration")
	ErrCertificateNotPending  = errors.New("pipeline: certificate is not pending")
	ErrMissingOrderURL        = errors.New("pipeline: certificate has no order url")
	ErrNoChallenges           = errors.New("pipeline: certificate has no challenges")
	ErrChallengesNotPublished = errors.New("pipeline: challenge values not visible yet")
	ErrChallengesNotReady     = errors.New("pipeline: challenges not validated yet")
	ErrDependencyFailed       = errors.New("pipeline: an earlier stage failed")
)
