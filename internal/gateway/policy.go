package gateway

import (
	"time"

	"github.com/roach88/wfprobe/internal/apierr"
)

// Policy is the retry behaviour injected into a Gateway.
//
// It is a plain value so it can be inspected, logged, and unit tested without
// any network access.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int

	// Backoff returns the wait before retry number attempt (1-based: the wait
	// after the first failed call is Backoff(1, err)).
	Backoff func(attempt int, err *apierr.APIError) time.Duration

	// Retryable decides whether a classified failure may be retried.
	Retryable func(err *apierr.APIError) bool
}

// DefaultMaxAttempts is the attempt ceiling for rate-limited calls.
const DefaultMaxAttempts = 3

// DefaultPolicy retries rate-limit failures up to three attempts, waiting
// the server-advised Retry-After or defaultWait, capped at maxWait.
func DefaultPolicy(defaultWait, maxWait time.Duration) Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     ServerAdvisedBackoff(defaultWait, maxWait),
		Retryable:   RateLimitOnly,
	}
}

// ServerAdvisedBackoff honours APIError.RetryAfter when present.
func ServerAdvisedBackoff(defaultWait, maxWait time.Duration) func(int, *apierr.APIError) time.Duration {
	return func(_ int, err *apierr.APIError) time.Duration {
		wait := defaultWait
		if err != nil && err.RetryAfter > 0 {
			wait = err.RetryAfter
		}
		if maxWait > 0 && wait > maxWait {
			wait = maxWait
		}
		return wait
	}
}

// RateLimitOnly retries primary and secondary rate-limit failures.
// Server errors are deliberately excluded: the recovery automation under
// test owns that retry.
func RateLimitOnly(err *apierr.APIError) bool {
	return err != nil && err.IsRetryable()
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) retryable(err *apierr.APIError) bool {
	if p.Retryable == nil {
		return RateLimitOnly(err)
	}
	return p.Retryable(err)
}

func (p Policy) backoff(attempt int, err *apierr.APIError) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt, err)
}
