package suites

import (
	"context"
	"fmt"

	"github.com/roach88/wfprobe/internal/fixture"
	"github.com/roach88/wfprobe/internal/harness"
	"github.com/roach88/wfprobe/internal/inject"
	"github.com/roach88/wfprobe/internal/tracker"
)

// Recovery exercises the automation's retry of failed workflow runs with
// injected failures: transient ones must be retried, permanent ones must
// not, and retries must stop at the ceiling.
type Recovery struct{}

func (Recovery) Name() string { return "recovery" }

func (rc Recovery) Register(r *harness.Registry) {
	r.Add("network-retried", rc.networkRetried)
	r.Add("logic-not-retried", func(ctx context.Context, s *harness.Session) error {
		return rc.notRetried(ctx, s, inject.Logic)
	})
	r.Add("syntax-not-retried", func(ctx context.Context, s *harness.Session) error {
		return rc.notRetried(ctx, s, inject.Syntax)
	})
	r.Add("retry-ceiling", rc.retryCeiling)
}

func (Recovery) inject(ctx context.Context, s *harness.Session, typ inject.Type) (*tracker.PullRequest, error) {
	is, err := s.Factory.CreateIssue(ctx, fixture.IssueSpec{
		Title: s.Factory.UniqueName("recovery-" + string(typ)),
		Body:  fmt.Sprintf("Target of an injected %s failure.", typ),
	})
	if err != nil {
		return nil, err
	}
	return s.Injector.Inject(ctx, inject.Request{Type: typ, IssueNumber: is.Number})
}

func (rc Recovery) networkRetried(ctx context.Context, s *harness.Session) error {
	pr, err := rc.inject(ctx, s, inject.Network)
	if err != nil {
		return err
	}
	first, err := awaitFirstRun(ctx, s, pr.HeadSHA)
	if err != nil {
		return err
	}
	return s.Wait(ctx, fmt.Sprintf("retry run for %s", short(pr.HeadSHA)), s.Waits.WorkflowRun, func(ctx context.Context) (bool, error) {
		retries, err := observeRetries(ctx, s, first)
		if err != nil {
			return false, err
		}
		return retries > 0, nil
	})
}

func (rc Recovery) notRetried(ctx context.Context, s *harness.Session, typ inject.Type) error {
	pr, err := rc.inject(ctx, s, typ)
	if err != nil {
		return err
	}
	first, err := awaitFirstRun(ctx, s, pr.HeadSHA)
	if err != nil {
		return err
	}

	var retries int
	retried, err := s.Waiter.Until(ctx, "retry of "+string(typ)+" failure", s.Waits.WorkflowRun, func(ctx context.Context) (bool, error) {
		var err error
		retries, err = observeRetries(ctx, s, first)
		if err != nil {
			return false, err
		}
		return retries > 0, nil
	})
	if err != nil {
		return err
	}
	if retried {
		return fmt.Errorf("%s failure on #%d was retried %d time(s); permanent failures must not be retried", typ, pr.Number, retries)
	}
	return nil
}

func (rc Recovery) retryCeiling(ctx context.Context, s *harness.Session) error {
	pr, err := rc.inject(ctx, s, inject.Network)
	if err != nil {
		return err
	}
	first, err := awaitFirstRun(ctx, s, pr.HeadSHA)
	if err != nil {
		return err
	}

	ceiling := s.MaxRecoveryRetries
	var retries int
	exceeded, err := s.Waiter.Until(ctx, "retries beyond the ceiling", s.Waits.WorkflowRun, func(ctx context.Context) (bool, error) {
		var err error
		retries, err = observeRetries(ctx, s, first)
		if err != nil {
			return false, err
		}
		return retries > ceiling, nil
	})
	if err != nil {
		return err
	}
	if exceeded {
		return fmt.Errorf("observed %d retries for #%d, ceiling is %d", retries, pr.Number, ceiling)
	}
	if retries == 0 {
		return fmt.Errorf("no retry run observed for #%d within %s", pr.Number, s.Waits.WorkflowRun.Timeout)
	}
	return nil
}

// awaitFirstRun waits for the push-triggered run of sha and returns it. A
// repository that never runs workflows cannot answer retry questions, so
// the case is skipped rather than failed.
func awaitFirstRun(ctx context.Context, s *harness.Session, sha string) (tracker.WorkflowRun, error) {
	var first tracker.WorkflowRun
	ok, err := s.Waiter.Until(ctx, "workflow run for "+short(sha), s.Waits.WorkflowRun, func(ctx context.Context) (bool, error) {
		runs, err := workflowRuns(ctx, s, sha)
		if err != nil {
			return false, err
		}
		for _, r := range runs {
			if r.Status == tracker.StatusCompleted && !isDispatched(r) {
				first = r
				return true, nil
			}
		}
		return false, nil
	})
	if err != nil {
		return first, err
	}
	if !ok {
		return first, harness.Skip("no workflow runs on this repository")
	}
	return first, nil
}
