// Package wait polls for asynchronous side effects of the automation under
// test.
//
// The automation reacts to tracker events on its own schedule, so a
// condition is checked after a fixed initial wait and then on a coarse fixed
// interval until a timeout. Timing out is not an error: Until returns false
// and the calling test decides how to fail, with its own context in the
// message.
package wait

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/wfprobe/internal/apierr"
	"github.com/roach88/wfprobe/internal/clock"
	"github.com/roach88/wfprobe/internal/logging"
)

// Options bounds a single poll.
type Options struct {
	// InitialWait is slept before the first evaluation.
	InitialWait time.Duration
	// Interval is slept between evaluations.
	Interval time.Duration
	// Timeout caps the total time spent waiting, measured from the call.
	Timeout time.Duration
}

// Validate rejects options that could spin or never evaluate.
func (o Options) Validate() error {
	if o.InitialWait < 0 || o.Interval < 0 || o.Timeout < 0 {
		return fmt.Errorf("wait options must not be negative: %+v", o)
	}
	if o.Interval == 0 && o.Timeout > o.InitialWait {
		return fmt.Errorf("wait interval must be positive when timeout (%s) exceeds initial wait (%s)", o.Timeout, o.InitialWait)
	}
	return nil
}

// Condition reports whether the awaited effect is visible yet.
type Condition func(ctx context.Context) (bool, error)

// Waiter evaluates conditions against a clock.
type Waiter struct {
	clock  clock.Clock
	logger *slog.Logger
}

// New returns a Waiter. A nil clock means the wall clock; a nil logger
// discards output.
func New(c clock.Clock, logger *slog.Logger) *Waiter {
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Waiter{clock: c, logger: logger}
}

// Until polls cond. It returns (true, nil) as soon as cond holds and
// (false, nil) when the timeout elapses first.
//
// Errors from cond are logged and treated as "not yet", except permission
// and validation failures which cannot heal by waiting and are returned.
// Context cancellation returns ctx.Err().
func (w *Waiter) Until(ctx context.Context, what string, opts Options, cond Condition) (bool, error) {
	if err := opts.Validate(); err != nil {
		return false, err
	}

	start := w.clock.Now()
	deadline := start.Add(opts.Timeout)

	if err := w.clock.Sleep(ctx, opts.InitialWait); err != nil {
		return false, err
	}

	for attempt := 1; ; attempt++ {
		ok, err := cond(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			if apierr.IsKind(err, apierr.Permission) || apierr.IsKind(err, apierr.Validation) {
				return false, fmt.Errorf("waiting for %s: %w", what, err)
			}
			w.logger.Warn("poll failed, will retry", "what", what, "attempt", attempt, "error", err)
		}
		if ok {
			w.logger.Debug("condition met", "what", what, "attempt", attempt, "elapsed", w.clock.Now().Sub(start))
			return true, nil
		}

		if w.clock.Now().Add(opts.Interval).After(deadline) || opts.Interval == 0 {
			w.logger.Info("condition not met before timeout", "what", what, "attempts", attempt, "timeout", opts.Timeout)
			return false, nil
		}

		if err := w.clock.Sleep(ctx, opts.Interval); err != nil {
			return false, err
		}
	}
}
