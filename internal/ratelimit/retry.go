package ratelimit

import (
	"context"
	"errors"
	"strings"
)

// retryablePatterns are the lowercase substrings that mark a failure as
// transient: provider rate-limit signals, flaky network conditions, and
// server-side 5xx responses. Classification is by error text because the
// upstream SDKs surface these conditions as opaque wrapped errors.
var retryablePatterns = []string{
	// rate limiting
	"429",
	"rate limit",
	"too many requests",
	"exhausted",
	// transient network conditions
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"hang up",
	"hung up",
	// server-side failures
	"500",
	"502",
	"503",
	"504",
	"internal server error",
	"bad gateway",
	"service unavailable",
	"gateway timeout",
	"overloaded",
}

// IsRetryable reports whether err looks like a transient failure worth
// retrying. Anything else fails immediately with no retry. A cancelled
// context is never retryable: the caller has already gone away.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
