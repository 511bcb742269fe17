package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"os"

	"google.golang.org/api/googleapi"
)

// FailureClass buckets provider failures for backoff escalation.
type FailureClass int

const (
	// ClassOther covers failures with no special handling.
	ClassOther FailureClass = iota
	// ClassServer covers timeouts and 5xx responses.
	ClassServer
	// ClassRateLimited covers 429s and quota-exceeded 403s.
	ClassRateLimited
	// ClassPermission covers permission-denied 403s.
	ClassPermission
)

// quotaReasons are 403 reason codes Google uses for quota exhaustion rather
// than real permission problems.
var quotaReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
}

// Classify maps a provider error to its failure class.
func Classify(err error) FailureClass {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests:
			return ClassRateLimited
		case gerr.Code == http.StatusForbidden:
			for _, item := range gerr.Errors {
				if quotaReasons[item.Reason] {
					return ClassRateLimited
				}
			}
			return ClassPermission
		case gerr.Code >= http.StatusInternalServerError:
			return ClassServer
		}
		return ClassOther
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ClassServer
	}

	return ClassOther
}

// IsRetryable reports whether an error is worth retrying within a single
// logical call. Quota and server errors are transient; permission and
// validation errors are not.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ClassServer, ClassRateLimited:
		return true
	default:
		return false
	}
}
