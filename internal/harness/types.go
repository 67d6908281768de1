package harness

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the outcome of one case.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// RunFunc is the body of a test case.
type RunFunc func(ctx context.Context, s *Session) error

// TestCase is a registered case. It is immutable after registration.
type TestCase struct {
	Suite string
	Name  string
	// Skip, when set, reports the case as skipped without running it.
	Skip string
	Run  RunFunc
}

// ID is the case's selection key, suite/name.
func (c TestCase) ID() string {
	if c.Suite == "" {
		return c.Name
	}
	return c.Suite + "/" + c.Name
}

// TestResult is the outcome of running one case.
type TestResult struct {
	Name     string        `json:"name"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"-"`
}

// MarshalJSON renders Duration in milliseconds.
func (r TestResult) MarshalJSON() ([]byte, error) {
	type plain TestResult
	return json.Marshal(struct {
		plain
		DurationMS int64 `json:"duration_ms"`
	}{plain: plain(r), DurationMS: r.Duration.Milliseconds()})
}

// SkipError marks a case as skipped rather than failed.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string { return "skipped: " + e.Reason }

// Skip returns an error that makes the orchestrator report the case as
// skipped with reason.
func Skip(reason string) error {
	return &SkipError{Reason: reason}
}

// IsSkip reports whether err asks for the case to be skipped, and why.
func IsSkip(err error) (string, bool) {
	var s *SkipError
	if errors.As(err, &s) {
		return s.Reason, true
	}
	return "", false
}
