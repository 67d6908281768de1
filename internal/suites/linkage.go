package suites

import (
	"context"
	"fmt"

	"github.com/roach88/wfprobe/internal/fixture"
	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/harness"
	"github.com/roach88/wfprobe/internal/tracker"
)

// Linkage checks that the linkage check run agrees with the closing-keyword
// rule for pull request bodies.
type Linkage struct{}

func (Linkage) Name() string { return "linkage" }

func (l Linkage) Register(r *harness.Registry) {
	r.Add("closing-keyword", func(ctx context.Context, s *harness.Session) error {
		return l.expect(ctx, s, "Closes #%d", tracker.ConclusionSuccess)
	})
	r.Add("plain-reference", func(ctx context.Context, s *harness.Session) error {
		return l.expect(ctx, s, "Related to #%d", tracker.ConclusionFailure)
	})
}

// expect opens a pull request whose body is bodyFormat applied to a fresh
// issue number and waits for the linkage check to conclude with want.
func (Linkage) expect(ctx context.Context, s *harness.Session, bodyFormat, want string) error {
	is, err := s.Factory.CreateIssue(ctx, fixture.IssueSpec{
		Title: s.Factory.UniqueName("linkage"),
		Body:  "Target of a linkage check.",
	})
	if err != nil {
		return err
	}

	body := fmt.Sprintf(bodyFormat, is.Number)
	closes := harness.ClosesIssue(body, is.Number)
	if closes != (want == tracker.ConclusionSuccess) {
		return fmt.Errorf("body %q: closing-keyword classification is %t", body, closes)
	}

	pr, err := s.Factory.CreatePullRequest(ctx, is.Number, fixture.PRSpec{
		Title: fmt.Sprintf("Linkage for #%d", is.Number),
		Body:  body,
	})
	if err != nil {
		return err
	}

	run, err := awaitCheckRun(ctx, s, pr.HeadSHA, LinkageCheck)
	if err != nil {
		return err
	}
	if run.Conclusion != want {
		return fmt.Errorf("check run %q concluded %s, expected %s for body %q", LinkageCheck, run.Conclusion, want, body)
	}

	// The verdict only counts for the pull request as it stands now.
	current, err := gateway.Do(ctx, s.Gateway, "pulls.get", func(ctx context.Context) (*tracker.PullRequest, error) {
		return s.Client.GetPullRequest(ctx, pr.Number)
	})
	if err != nil {
		return err
	}
	if current.HeadSHA != run.HeadSHA {
		return fmt.Errorf("check run %q ran on %s but #%d is at %s", LinkageCheck, short(run.HeadSHA), pr.Number, short(current.HeadSHA))
	}
	if !harness.ReferencesIssue(current.Body, is.Number) {
		return fmt.Errorf("#%d body no longer references #%d: %q", pr.Number, is.Number, current.Body)
	}
	return nil
}
