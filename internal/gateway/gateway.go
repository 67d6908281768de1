// Package gateway funnels every tracker call through one retry boundary.
//
// A Gateway classifies failures with apierr, retries only what its Policy
// allows (rate limits by default), and surfaces everything else to the caller
// immediately. Retries block the calling goroutine; there is no background
// work.
package gateway

import (
	"context"
	"log/slog"

	"github.com/roach88/wfprobe/internal/apierr"
	"github.com/roach88/wfprobe/internal/clock"
	"github.com/roach88/wfprobe/internal/logging"
)

// Gateway applies a retry Policy to tracker operations.
type Gateway struct {
	policy Policy
	clock  clock.Clock
	logger *slog.Logger
	calls  int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock replaces the wall clock (tests use a fake clock).
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New creates a Gateway with the given policy.
func New(policy Policy, opts ...Option) *Gateway {
	g := &Gateway{
		policy: policy,
		clock:  clock.Real{},
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Policy returns the configured retry policy.
func (g *Gateway) Policy() Policy { return g.policy }

// Calls returns the number of underlying calls made so far, retries included.
func (g *Gateway) Calls() int { return g.calls }

// Call runs fn under the retry policy. The returned error, if any, is an
// *apierr.APIError tagged with op, or the context error if ctx ended while
// waiting between attempts.
func (g *Gateway) Call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is the value-returning form of Gateway.Call.
func Do[T any](ctx context.Context, g *Gateway, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxAttempts := g.policy.attempts()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		g.calls++
		result, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				g.logger.Info("call succeeded after retry", "op", op, "attempt", attempt)
			}
			return result, nil
		}

		classified := apierr.Classify(err)
		classified.Op = op
		classified.Attempts = attempt

		if !g.policy.retryable(classified) {
			g.logger.Debug("call failed", "op", op, "kind", classified.Kind, "status", classified.StatusCode)
			return zero, classified
		}

		if attempt >= maxAttempts {
			classified.Exhausted = true
			g.logger.Error("rate limit persisted, giving up",
				"op", op,
				"attempts", attempt,
				"kind", classified.Kind,
			)
			return zero, classified
		}

		wait := g.policy.backoff(attempt, classified)
		g.logger.Warn("rate limited, retrying",
			"op", op,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"wait", wait,
			"kind", classified.Kind,
		)

		if err := g.clock.Sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}
