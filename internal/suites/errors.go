package suites

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/roach88/wfprobe/internal/apierr"
	"github.com/roach88/wfprobe/internal/fixture"
	"github.com/roach88/wfprobe/internal/harness"
	"github.com/roach88/wfprobe/internal/ledger"
)

// Errors checks that rejected calls surface with the right classification
// and are not retried.
type Errors struct{}

func (Errors) Name() string { return "errors" }

func (e Errors) Register(r *harness.Registry) {
	r.Add("validation-rejected", e.duplicateMilestone)
	r.Add("unknown-milestone-rejected", e.unknownMilestone)
	r.Add("missing-issue-not-retried", e.missingIssue)
	r.AddSkipped("permission-classified", "needs a token without write scope")
}

func (Errors) duplicateMilestone(ctx context.Context, s *harness.Session) error {
	title := s.Factory.UniqueName("duplicate")
	if _, err := s.Factory.CreateMilestone(ctx, title, ""); err != nil {
		return err
	}
	before, err := s.Ledger.List(ctx, ledger.KindMilestone)
	if err != nil {
		return err
	}

	calls := s.Gateway.Calls()
	_, err = s.Factory.CreateMilestone(ctx, title, "")
	if err := expectKind(err, apierr.Validation); err != nil {
		return fmt.Errorf("duplicate milestone %q: %w", title, err)
	}
	if n := s.Gateway.Calls() - calls; n != 1 {
		return fmt.Errorf("validation failure took %d calls, want 1", n)
	}

	after, err := s.Ledger.List(ctx, ledger.KindMilestone)
	if err != nil {
		return err
	}
	if len(after) != len(before) {
		return fmt.Errorf("rejected milestone was tracked: %d rows before, %d after", len(before), len(after))
	}
	return nil
}

func (Errors) unknownMilestone(ctx context.Context, s *harness.Session) error {
	is, err := s.Factory.CreateIssue(ctx, fixture.IssueSpec{
		Title: s.Factory.UniqueName("no-milestone"),
		Body:  "Assigned to a milestone that does not exist.",
	})
	if err != nil {
		return err
	}
	err = s.Factory.AssignIssueToMilestone(ctx, is.Number, math.MaxInt32)
	if err := expectKind(err, apierr.Validation); err != nil {
		return fmt.Errorf("assign #%d to a missing milestone: %w", is.Number, err)
	}
	return nil
}

func (Errors) missingIssue(ctx context.Context, s *harness.Session) error {
	calls := s.Gateway.Calls()
	_, err := getIssue(ctx, s, math.MaxInt32)
	if err == nil {
		return errors.New("fetching a missing issue succeeded")
	}
	if !apierr.IsNotFound(err) {
		return fmt.Errorf("missing issue: want HTTP 404, got %w", err)
	}
	if n := s.Gateway.Calls() - calls; n != 1 {
		return fmt.Errorf("missing issue took %d calls, want 1", n)
	}
	return nil
}

func expectKind(err error, want apierr.Kind) error {
	if err == nil {
		return fmt.Errorf("call succeeded, want %s error", want)
	}
	if !apierr.IsKind(err, want) {
		return fmt.Errorf("want %s error, got %w", want, err)
	}
	return nil
}
