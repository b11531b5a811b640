package letsencrypt

import "errors"

var (
	ErrConfig                = errors.New("letsencrypt: invalid configuration")
	ErrInvalidOrderURL       = errors.New("letsencrypt: invalid order url")
	ErrOrderFailed           = errors.New("letsencrypt: order reached a terminal state")
	ErrOrderNotReady         = errors.New("letsencrypt: order is not ready")
	ErrNoDNSChallenge        = errors.New("letsencrypt: authorization has no dns-01 challenge")
	ErrEmptyCertificate      = errors.New("letsencrypt: empty certificate chain")
	ErrNoAuthoritativeServer = errors.New("letsencrypt: no authoritative server found")
	ErrChallengeNotPublished = errors.New("letsencrypt: challenge value not published")
)

// IsPermanent reports whether retrying cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrConfig) ||
		errors.Is(err, ErrInvalidOrderURL) ||
		errors.Is(err, ErrOrderFailed) ||
		errors.Is(err, ErrNoDNSChallenge)
}
