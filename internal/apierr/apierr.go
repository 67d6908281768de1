// Package apierr classifies failures returned by the tracker API into the
// harness error taxonomy.
//
// Classification happens once, at the gateway boundary. Everything above the
// gateway inspects the Kind of an *APIError instead of raw HTTP details:
//
//   - RateLimited and SecondaryRateLimited are retryable (bounded attempts)
//   - Permission and Validation are fatal and never retried
//   - Server is propagated unchanged so the recovery automation under test can react
//   - Unknown is propagated as-is
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
)

// Kind is the taxonomy bucket assigned to a failed call.
type Kind string

const (
	RateLimited          Kind = "rate_limited"
	SecondaryRateLimited Kind = "secondary_rate_limited"
	Validation           Kind = "validation"
	Permission           Kind = "permission"
	Server               Kind = "server"
	Unknown              Kind = "unknown"
)

// ScopeGuidance is appended to permission failures.
const ScopeGuidance = "token lacks required scope: grant repo and workflow access to the harness token"

// APIError is a classified tracker failure.
type APIError struct {
	Op         string
	StatusCode int
	Kind       Kind
	RetryAfter time.Duration
	Message    string

	// Attempts is the number of calls made before this error surfaced.
	Attempts int
	// Exhausted is set when the gateway gave up after its attempt ceiling.
	Exhausted bool

	Err error
}

func (e *APIError) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Exhausted {
		fmt.Fprintf(&b, " [gave up after %d attempts]", e.Attempts)
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

// IsRetryable reports whether the gateway may retry the call.
func (e *APIError) IsRetryable() bool {
	return e.Kind == RateLimited || e.Kind == SecondaryRateLimited
}

// New builds a classified error directly from a status code.
// Used by fakes and by adapters that do not go through go-github.
func New(op string, statusCode int, message string) *APIError {
	e := FromStatus(statusCode, message, nil, nil)
	e.Op = op
	return e
}

// Classify converts any error into an *APIError. A nil error yields nil.
// Errors that are already classified are returned unchanged.
func Classify(err error) *APIError {
	if err == nil {
		return nil
	}

	var classified *APIError
	if errors.As(err, &classified) {
		return classified
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		e := &APIError{
			StatusCode: statusOf(rateErr.Response),
			Kind:       RateLimited,
			Message:    rateErr.Message,
			Err:        err,
		}
		if !rateErr.Rate.Reset.Time.IsZero() {
			if d := time.Until(rateErr.Rate.Reset.Time); d > 0 {
				e.RetryAfter = d
			}
		}
		return e
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		e := &APIError{
			StatusCode: statusOf(abuseErr.Response),
			Kind:       SecondaryRateLimited,
			Message:    abuseErr.Message,
			Err:        err,
		}
		if abuseErr.RetryAfter != nil {
			e.RetryAfter = *abuseErr.RetryAfter
		}
		return e
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		var header http.Header
		if respErr.Response != nil {
			header = respErr.Response.Header
		}
		e := FromStatus(statusOf(respErr.Response), respErr.Message, header, err)
		if e.Kind == Permission && strings.Contains(strings.ToLower(respErr.DocumentationURL), "secondary-rate-limits") {
			e.Kind = SecondaryRateLimited
			e.Message = respErr.Message
		}
		return e
	}

	return &APIError{Kind: Unknown, Message: err.Error(), Err: err}
}

// FromStatus applies the status-code rules. The header, when present, is
// consulted for rate-limit indicators and Retry-After.
func FromStatus(statusCode int, message string, header http.Header, cause error) *APIError {
	e := &APIError{StatusCode: statusCode, Message: message, Err: cause}
	if header != nil {
		e.RetryAfter = parseRetryAfter(header.Get("Retry-After"))
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		e.Kind = SecondaryRateLimited
	case statusCode == http.StatusForbidden && hasRateLimitIndicator(header, message):
		e.Kind = RateLimited
		if strings.Contains(strings.ToLower(message), "secondary") {
			e.Kind = SecondaryRateLimited
		}
	case statusCode == http.StatusForbidden || statusCode == http.StatusUnauthorized:
		e.Kind = Permission
		if message == "" {
			e.Message = ScopeGuidance
		} else {
			e.Message = message + "; " + ScopeGuidance
		}
	case statusCode == http.StatusUnprocessableEntity:
		e.Kind = Validation
	case statusCode >= 500:
		e.Kind = Server
	default:
		e.Kind = Unknown
	}
	return e
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return Classify(err).Kind == kind
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err).StatusCode == http.StatusNotFound
}

func hasRateLimitIndicator(header http.Header, message string) bool {
	if header != nil {
		if header.Get("X-RateLimit-Remaining") == "0" {
			return true
		}
		if header.Get("Retry-After") != "" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(message), "rate limit")
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
