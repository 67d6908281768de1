package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/wfprobe/internal/fixture"
	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/inject"
	"github.com/roach88/wfprobe/internal/ledger"
	"github.com/roach88/wfprobe/internal/logging"
	"github.com/roach88/wfprobe/internal/tracker"
	"github.com/roach88/wfprobe/internal/wait"
)

// Waits holds the poll presets for each kind of asynchronous effect.
type Waits struct {
	Label       wait.Options
	CheckRun    wait.Options
	Milestone   wait.Options
	WorkflowRun wait.Options
}

// Session is the run-wide state handed to every case. The orchestrator
// passes each case a copy scoped to that case via ForCase.
type Session struct {
	Client   tracker.Client
	Gateway  *gateway.Gateway
	Ledger   *ledger.Ledger
	Factory  *fixture.Factory
	Injector *inject.Generator
	Waiter   *wait.Waiter
	Waits    Waits
	Logger   *slog.Logger

	// MaxRecoveryRetries is the retry ceiling the recovery automation is
	// expected to honour.
	MaxRecoveryRetries int

	caseID string
}

// ForCase returns a copy of s that attributes resources and log lines to
// the case with id.
func (s *Session) ForCase(id string) *Session {
	c := *s
	c.caseID = id
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	c.Logger = c.Logger.With("case", id)
	if s.Factory != nil {
		c.Factory = s.Factory.ForCase(id)
		c.Injector = inject.New(c.Factory)
	}
	return &c
}

// Case returns the id of the case the session is scoped to.
func (s *Session) Case() string { return s.caseID }

// Track records a resource created outside the Factory so cleanup removes
// it. For a pull request, branch is its head branch.
func (s *Session) Track(ctx context.Context, kind ledger.Kind, id, branch string) error {
	_, err := s.Ledger.Record(context.WithoutCancel(ctx), ledger.Resource{
		Kind:       kind,
		ID:         id,
		BranchName: branch,
		Case:       s.caseID,
	})
	if err != nil {
		return fmt.Errorf("track %s %s: %w", kind, id, err)
	}
	return nil
}

// Wait polls cond with opts. It returns an error when the timeout elapses,
// naming what was awaited.
func (s *Session) Wait(ctx context.Context, what string, opts wait.Options, cond wait.Condition) error {
	ok, err := s.Waiter.Until(ctx, what, opts, cond)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("timed out after %s waiting for %s", opts.Timeout, what)
	}
	return nil
}
