package suites

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/harness"
	"github.com/roach88/wfprobe/internal/tracker"
)

func getIssue(ctx context.Context, s *harness.Session, number int) (*tracker.Issue, error) {
	return gateway.Do(ctx, s.Gateway, "issues.get", func(ctx context.Context) (*tracker.Issue, error) {
		return s.Client.GetIssue(ctx, number)
	})
}

func issueLabels(ctx context.Context, s *harness.Session, number int) ([]string, error) {
	return gateway.Do(ctx, s.Gateway, "issues.list_labels", func(ctx context.Context) ([]string, error) {
		return s.Client.ListIssueLabels(ctx, number)
	})
}

func hasLabel(labels []string, label string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// awaitLabel polls until label is present (or absent) on an issue.
func awaitLabel(ctx context.Context, s *harness.Session, number int, label string, present bool) error {
	what := fmt.Sprintf("label %q on #%d", label, number)
	if !present {
		what = fmt.Sprintf("label %q removed from #%d", label, number)
	}
	return s.Wait(ctx, what, s.Waits.Label, func(ctx context.Context) (bool, error) {
		labels, err := issueLabels(ctx, s, number)
		if err != nil {
			return false, err
		}
		return hasLabel(labels, label) == present, nil
	})
}

// awaitCheckRun polls until the named check run on ref completes and
// returns it.
func awaitCheckRun(ctx context.Context, s *harness.Session, ref, name string) (tracker.CheckRun, error) {
	var found tracker.CheckRun
	err := s.Wait(ctx, fmt.Sprintf("check run %q on %s", name, short(ref)), s.Waits.CheckRun, func(ctx context.Context) (bool, error) {
		runs, err := gateway.Do(ctx, s.Gateway, "checks.list", func(ctx context.Context) ([]tracker.CheckRun, error) {
			return s.Client.ListCheckRuns(ctx, ref)
		})
		if err != nil {
			return false, err
		}
		for _, r := range runs {
			if r.Name == name && r.Status == tracker.StatusCompleted {
				found = r
				return true, nil
			}
		}
		return false, nil
	})
	return found, err
}

func workflowRuns(ctx context.Context, s *harness.Session, sha string) ([]tracker.WorkflowRun, error) {
	return gateway.Do(ctx, s.Gateway, "actions.list_runs", func(ctx context.Context) ([]tracker.WorkflowRun, error) {
		return s.Client.ListWorkflowRuns(ctx, sha)
	})
}

func isDispatched(r tracker.WorkflowRun) bool {
	return r.Event == "workflow_dispatch" || r.Event == "repository_dispatch"
}

// countRetries counts recovery attempts across runs: every attempt after a
// run's first, plus each dispatched run.
func countRetries(runs []tracker.WorkflowRun) int {
	n := 0
	for _, r := range runs {
		n += r.Retries()
		if isDispatched(r) {
			n++
		}
	}
	return n
}

// observeRetries counts the retries of the push that started first. The
// first run is re-read by ID so its latest attempt is seen.
func observeRetries(ctx context.Context, s *harness.Session, first tracker.WorkflowRun) (int, error) {
	latest, err := gateway.Do(ctx, s.Gateway, "actions.get_run", func(ctx context.Context) (*tracker.WorkflowRun, error) {
		return s.Client.GetWorkflowRun(ctx, first.ID)
	})
	if err != nil {
		return 0, err
	}
	runs, err := workflowRuns(ctx, s, first.HeadSHA)
	if err != nil {
		return 0, err
	}
	for i := range runs {
		if runs[i].ID == latest.ID {
			runs[i] = *latest
		}
	}
	return countRetries(runs), nil
}

func short(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
