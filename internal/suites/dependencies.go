package suites

import (
	"context"
	"fmt"

	"github.com/roach88/wfprobe/internal/fixture"
	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/harness"
	"github.com/roach88/wfprobe/internal/tracker"
)

// Dependencies checks circular dependency detection and its clearing.
type Dependencies struct{}

func (Dependencies) Name() string { return "dependencies" }

func (d Dependencies) Register(r *harness.Registry) {
	r.Add("self-reference", d.selfReference)
}

func (Dependencies) selfReference(ctx context.Context, s *harness.Session) error {
	is, err := s.Factory.CreateIssue(ctx, fixture.IssueSpec{
		Title: s.Factory.UniqueName("dependency"),
		Body:  "Dependency fixture.",
	})
	if err != nil {
		return err
	}

	circular := fmt.Sprintf("Depends on #%d", is.Number)
	if refs := harness.DependencyRefs(circular); len(refs) != 1 || refs[0] != is.Number {
		return fmt.Errorf("body %q: dependency references are %v", circular, refs)
	}
	if err := editBody(ctx, s, is.Number, circular); err != nil {
		return err
	}
	if err := awaitCircular(ctx, s, is.Number, true); err != nil {
		return err
	}

	if err := editBody(ctx, s, is.Number, "No dependencies."); err != nil {
		return err
	}
	return awaitCircular(ctx, s, is.Number, false)
}

// awaitCircular polls the issue until both the body analysis and the
// automation's label agree with want.
func awaitCircular(ctx context.Context, s *harness.Session, number int, want bool) error {
	what := fmt.Sprintf("circular dependency on #%d", number)
	if !want {
		what = fmt.Sprintf("circular dependency cleared on #%d", number)
	}
	return s.Wait(ctx, what, s.Waits.Label, func(ctx context.Context) (bool, error) {
		is, err := getIssue(ctx, s, number)
		if err != nil {
			return false, err
		}
		return harness.IsCircular(number, is.Body) == want && is.HasLabel(CircularLabel) == want, nil
	})
}

func editBody(ctx context.Context, s *harness.Session, number int, body string) error {
	_, err := gateway.Do(ctx, s.Gateway, "issues.edit", func(ctx context.Context) (*tracker.Issue, error) {
		return s.Client.UpdateIssue(ctx, number, tracker.IssueUpdate{Body: &body})
	})
	if err != nil {
		return fmt.Errorf("edit #%d body: %w", number, err)
	}
	return nil
}
