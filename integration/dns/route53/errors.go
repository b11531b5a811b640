package route53

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"
)

var (
	ErrInvalidConfig      = errors.New("route53: hosted zone id and region are required")
	ErrEmptyChangeBatch   = errors.New("route53: empty change batch")
	ErrBatchTooLarge      = errors.New("route53: change batch exceeds provider limit")
	ErrInvalidChange      = errors.New("route53: invalid change batch")
	ErrZoneNotFound       = errors.New("route53: hosted zone not found")
	ErrChangeNotFound     = errors.New("route53: change not found")
	ErrThrottled          = errors.New("route53: request throttled")
	ErrAccessDenied       = errors.New("route53: access denied")
	ErrPriorRequestActive = errors.New("route53: prior request not complete")
	ErrSyncTimeout        = errors.New("route53: change did not reach INSYNC in time")
)

// classifyError maps SDK errors onto package sentinels, keeping the cause.
func classifyError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("route53: %s: %w", operation, err)
	}

	var noZone *types.NoSuchHostedZone
	if errors.As(err, &noZone) {
		return errors.Join(ErrZoneNotFound, err)
	}
	var noChange *types.NoSuchChange
	if errors.As(err, &noChange) {
		return errors.Join(ErrChangeNotFound, err)
	}
	var invalid *types.InvalidChangeBatch
	if errors.As(err, &invalid) {
		return errors.Join(ErrInvalidChange, err)
	}
	var prior *types.PriorRequestNotComplete
	if errors.As(err, &prior) {
		return errors.Join(ErrPriorRequestActive, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException":
			return errors.Join(ErrThrottled, err)
		case "AccessDenied", "AccessDeniedException":
			return errors.Join(ErrAccessDenied, err)
		}
		return fmt.Errorf("route53: %s failed (code: %s): %w", operation, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("route53: %s failed: %w", operation, err)
}

// IsPermanent reports whether retrying the same request cannot succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidChange) ||
		errors.Is(err, ErrZoneNotFound) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrBatchTooLarge) ||
		errors.Is(err, ErrEmptyChangeBatch)
}
