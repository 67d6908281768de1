package suites

import (
	"context"
	"fmt"

	"github.com/roach88/wfprobe/internal/fixture"
	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/harness"
	"github.com/roach88/wfprobe/internal/tracker"
)

// Milestones checks that a milestone closes once all its issues are closed.
type Milestones struct{}

func (Milestones) Name() string { return "milestones" }

func (m Milestones) Register(r *harness.Registry) {
	r.Add("auto-close", m.autoClose)
}

func (Milestones) autoClose(ctx context.Context, s *harness.Session) error {
	ms, err := s.Factory.CreateMilestone(ctx, s.Factory.UniqueName("milestone"), "Closes when its issues close.")
	if err != nil {
		return err
	}

	var issues []int
	for i := 1; i <= 2; i++ {
		is, err := s.Factory.CreateIssue(ctx, fixture.IssueSpec{
			Title: fmt.Sprintf("%s part %d", ms.Title, i),
			Body:  "Milestone member.",
		})
		if err != nil {
			return err
		}
		if err := s.Factory.AssignIssueToMilestone(ctx, is.Number, ms.Number); err != nil {
			return err
		}
		issues = append(issues, is.Number)
	}

	// The milestone must stay open while any issue is open.
	if err := closeIssue(ctx, s, issues[0]); err != nil {
		return err
	}
	got, err := getMilestone(ctx, s, ms.Number)
	if err != nil {
		return err
	}
	if got.State != tracker.StateOpen {
		return fmt.Errorf("milestone %d closed with #%d still open", ms.Number, issues[1])
	}

	if err := closeIssue(ctx, s, issues[1]); err != nil {
		return err
	}
	return s.Wait(ctx, fmt.Sprintf("milestone %d closed", ms.Number), s.Waits.Milestone, func(ctx context.Context) (bool, error) {
		got, err := getMilestone(ctx, s, ms.Number)
		if err != nil {
			return false, err
		}
		return got.State == tracker.StateClosed, nil
	})
}

func getMilestone(ctx context.Context, s *harness.Session, number int) (*tracker.Milestone, error) {
	return gateway.Do(ctx, s.Gateway, "milestones.get", func(ctx context.Context) (*tracker.Milestone, error) {
		return s.Client.GetMilestone(ctx, number)
	})
}

func closeIssue(ctx context.Context, s *harness.Session, number int) error {
	state := tracker.StateClosed
	_, err := gateway.Do(ctx, s.Gateway, "issues.edit", func(ctx context.Context) (*tracker.Issue, error) {
		return s.Client.UpdateIssue(ctx, number, tracker.IssueUpdate{State: &state})
	})
	if err != nil {
		return fmt.Errorf("close #%d: %w", number, err)
	}
	return nil
}
