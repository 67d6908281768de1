package suites

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wfprobe/internal/cleanup"
	"github.com/roach88/wfprobe/internal/fixture"
	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/harness"
	"github.com/roach88/wfprobe/internal/inject"
	"github.com/roach88/wfprobe/internal/ledger"
	"github.com/roach88/wfprobe/internal/testutil"
	"github.com/roach88/wfprobe/internal/tracker"
	"github.com/roach88/wfprobe/internal/tracker/trackertest"
	"github.com/roach88/wfprobe/internal/wait"
)

const testRunID = "01929c1e-7b3a-7c00-8000-00000abc1234"

// automation plays the system under test on top of the fake tracker.
type automation struct {
	// networkRetries is how many retry runs follow an injected network failure.
	networkRetries int
	// dispatchRetries starts the network retries as dispatched runs instead
	// of re-run attempts.
	dispatchRetries bool
	// retryPermanent also retries logic and syntax failures.
	retryPermanent bool
	// linkageAlwaysPasses concludes the linkage check with success regardless
	// of the body.
	linkageAlwaysPasses bool
	// pushAfterCheck moves the pull request head once the linkage check
	// has concluded.
	pushAfterCheck bool
	// noWorkflows never starts workflow runs.
	noWorkflows bool
	// noTriage, keepCircular and noMilestoneClose disable single reactions.
	noTriage         bool
	keepCircular     bool
	noMilestoneClose bool
}

func (a automation) install(f *trackertest.Fake) {
	f.OnIssueCreated = func(f *trackertest.Fake, is tracker.Issue) {
		if !a.noTriage {
			f.SetLabels(is.Number, TriageLabel)
		}
		a.syncCircular(f, is)
	}
	f.OnIssueUpdated = func(f *trackertest.Fake, is tracker.Issue) {
		a.syncCircular(f, is)
		if is.Milestone == 0 || a.noMilestoneClose {
			return
		}
		for _, member := range f.MilestoneIssues(is.Milestone) {
			if member.State != tracker.StateClosed {
				return
			}
		}
		f.CloseMilestone(is.Milestone)
	}
	f.OnPullRequestCreated = func(f *trackertest.Fake, pr tracker.PullRequest) {
		conclusion := tracker.ConclusionFailure
		if a.linkageAlwaysPasses || len(harness.ClosedIssues(pr.Body)) > 0 {
			conclusion = tracker.ConclusionSuccess
		}
		f.AddCheckRun(tracker.CheckRun{
			Name:       LinkageCheck,
			Status:     tracker.StatusCompleted,
			Conclusion: conclusion,
			HeadSHA:    pr.HeadSHA,
		})
		if a.pushAfterCheck {
			f.PushToPullRequest(pr.Number, "feedface00")
		}
		if a.noWorkflows {
			return
		}

		typ, injected := injectedType(pr)
		first := tracker.WorkflowRun{
			Name:       "ci",
			Event:      "pull_request",
			Status:     tracker.StatusCompleted,
			Conclusion: tracker.ConclusionSuccess,
			HeadSHA:    pr.HeadSHA,
		}
		if injected {
			first.Conclusion = tracker.ConclusionFailure
		}
		id := f.AddWorkflowRun(first)

		retries := 0
		switch {
		case !injected:
		case typ.Transient():
			retries = a.networkRetries
		case a.retryPermanent:
			retries = 1
		}
		for i := 0; i < retries; i++ {
			if a.dispatchRetries {
				retry := first
				retry.Event = "workflow_dispatch"
				f.AddWorkflowRun(retry)
				continue
			}
			f.RerunWorkflowRun(id)
		}
	}
}

func (a automation) syncCircular(f *trackertest.Fake, is tracker.Issue) {
	if harness.IsCircular(is.Number, is.Body) {
		f.SetLabels(is.Number, CircularLabel)
		return
	}
	if !a.keepCircular {
		f.RemoveLabel(is.Number, CircularLabel)
	}
}

func injectedType(pr tracker.PullRequest) (inject.Type, bool) {
	for _, t := range inject.Types {
		if strings.Contains(pr.Title, "Inject "+string(t)+" failure") {
			return t, true
		}
	}
	return "", false
}

type env struct {
	fake    *trackertest.Fake
	clock   *testutil.FakeClock
	ledger  *ledger.Ledger
	session *harness.Session
	cleaner *cleanup.Manager
}

func newEnv(t *testing.T, a automation) *env {
	t.Helper()
	clk := testutil.NewFakeClock()
	led, err := ledger.OpenMemory(ledger.WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	fake := trackertest.New()
	a.install(fake)

	gw := gateway.New(gateway.DefaultPolicy(time.Second, time.Minute), gateway.WithClock(clk))
	factory, err := fixture.New(fake, gw, led, fixture.WithRunID(testRunID), fixture.WithClock(clk))
	require.NoError(t, err)

	poll := wait.Options{InitialWait: 5 * time.Second, Interval: 5 * time.Second, Timeout: time.Minute}
	session := &harness.Session{
		Client:   fake,
		Gateway:  gw,
		Ledger:   led,
		Factory:  factory,
		Injector: inject.New(factory),
		Waiter:   wait.New(clk, nil),
		Waits: harness.Waits{
			Label:       poll,
			CheckRun:    poll,
			Milestone:   poll,
			WorkflowRun: poll,
		},
		MaxRecoveryRetries: 2,
	}
	return &env{
		fake:    fake,
		clock:   clk,
		ledger:  led,
		session: session,
		cleaner: cleanup.New(fake, gw, led),
	}
}

func (e *env) run(t *testing.T, cases []harness.TestCase) *harness.Report {
	t.Helper()
	report, err := harness.NewOrchestrator(e.session, cases, e.cleaner, harness.WithClock(e.clock)).Run(context.Background())
	require.NoError(t, err)
	return report
}

func (e *env) runSelected(t *testing.T, patterns ...string) *harness.Report {
	t.Helper()
	r := harness.NewRegistry()
	Register(r)
	cases, err := r.Select(patterns...)
	require.NoError(t, err)
	return e.run(t, cases)
}

func only(t *testing.T, report *harness.Report) harness.TestResult {
	t.Helper()
	require.Len(t, report.Results, 1)
	return report.Results[0]
}

func TestAll_Manifest(t *testing.T) {
	r := harness.NewRegistry()
	Register(r)

	var ids []string
	for _, tc := range r.Cases() {
		ids = append(ids, tc.ID())
	}
	assert.Equal(t, []string{
		"labels/applies-marker",
		"labels/triage-label",
		"linkage/closing-keyword",
		"linkage/plain-reference",
		"dependencies/self-reference",
		"milestones/auto-close",
		"recovery/network-retried",
		"recovery/logic-not-retried",
		"recovery/syntax-not-retried",
		"recovery/retry-ceiling",
		"errors/validation-rejected",
		"errors/unknown-milestone-rejected",
		"errors/missing-issue-not-retried",
		"errors/permission-classified",
	}, ids)
}

func TestEveryCasePassesAgainstWorkingAutomation(t *testing.T) {
	e := newEnv(t, automation{networkRetries: 1})

	report := e.runSelected(t)

	for _, r := range report.Results {
		if r.Name == "errors/permission-classified" {
			assert.Equal(t, harness.StatusSkip, r.Status)
			continue
		}
		assert.Equal(t, harness.StatusPass, r.Status, "%s: %s", r.Name, r.Error)
	}
	assert.Equal(t, 0, report.ExitCode())

	require.NotNil(t, report.Cleanup)
	assert.True(t, report.Cleanup.Complete(), report.Cleanup.String())
	assert.Empty(t, e.fake.OpenIssues(), "cleanup closes every issue")
	pending, err := e.ledger.Pending(context.Background(), ledger.KindBranch)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLabels_MarkerSurvivesRateLimits(t *testing.T) {
	e := newEnv(t, automation{})
	e.fake.Fail("CreateIssue", trackertest.RateLimitError(time.Second), trackertest.SecondaryRateLimitError(time.Second))

	res := only(t, e.runSelected(t, "labels/applies-marker"))

	assert.Equal(t, harness.StatusPass, res.Status, res.Error)
	assert.Equal(t, 3, e.fake.Calls("CreateIssue"))
}

func TestLabels_MissingTriageTimesOut(t *testing.T) {
	e := newEnv(t, automation{noTriage: true})

	res := only(t, e.runSelected(t, "labels/triage-label"))

	assert.Equal(t, harness.StatusFail, res.Status)
	assert.Equal(t, `timed out after 1m0s waiting for label "needs-triage" on #1`, res.Error)
}

func TestLinkage_ClosingKeywordSatisfied(t *testing.T) {
	e := newEnv(t, automation{})

	res := only(t, e.runSelected(t, "linkage/closing-keyword"))

	assert.Equal(t, harness.StatusPass, res.Status, res.Error)
	pr, ok := e.fake.PullRequest(2)
	require.True(t, ok)
	assert.Equal(t, "Closes #1", pr.Body)
	assert.True(t, harness.ClosesIssue(pr.Body, 1))
}

func TestLinkage_PlainReferenceMustNotPass(t *testing.T) {
	e := newEnv(t, automation{linkageAlwaysPasses: true})

	res := only(t, e.runSelected(t, "linkage/plain-reference"))

	assert.Equal(t, harness.StatusFail, res.Status)
	assert.Contains(t, res.Error, `concluded success, expected failure for body "Related to #1"`)
}

func TestLinkage_VerdictMustMatchCurrentHead(t *testing.T) {
	e := newEnv(t, automation{pushAfterCheck: true})

	res := only(t, e.runSelected(t, "linkage/closing-keyword"))

	assert.Equal(t, harness.StatusFail, res.Status)
	assert.Contains(t, res.Error, "but #2 is at feedfac")
	assert.Equal(t, 1, e.fake.Calls("GetPullRequest"))
}

func TestDependencies_CircularDetectedAndCleared(t *testing.T) {
	e := newEnv(t, automation{})

	res := only(t, e.runSelected(t, "dependencies/self-reference"))

	assert.Equal(t, harness.StatusPass, res.Status, res.Error)
	is, ok := e.fake.Issue(1)
	require.True(t, ok)
	assert.False(t, is.HasLabel(CircularLabel))
	assert.False(t, harness.IsCircular(1, is.Body))
}

func TestDependencies_StaleCircularLabelFails(t *testing.T) {
	e := newEnv(t, automation{keepCircular: true})

	res := only(t, e.runSelected(t, "dependencies/self-reference"))

	assert.Equal(t, harness.StatusFail, res.Status)
	assert.Contains(t, res.Error, "circular dependency cleared on #1")
}

func TestMilestones_AutoClose(t *testing.T) {
	e := newEnv(t, automation{})

	res := only(t, e.runSelected(t, "milestones/auto-close"))
	assert.Equal(t, harness.StatusPass, res.Status, res.Error)

	e2 := newEnv(t, automation{noMilestoneClose: true})
	res = only(t, e2.runSelected(t, "milestones/auto-close"))
	assert.Equal(t, harness.StatusFail, res.Status)
	assert.Contains(t, res.Error, "milestone 1 closed")
}

func TestRecovery_NetworkFailureRetried(t *testing.T) {
	e := newEnv(t, automation{networkRetries: 1})

	res := only(t, e.runSelected(t, "recovery/network-retried"))

	assert.Equal(t, harness.StatusPass, res.Status, res.Error)
	pr, ok := e.fake.PullRequest(2)
	require.True(t, ok)
	assert.Contains(t, pr.Labels, inject.Network.Label())
}

func TestRecovery_NoRetryObserved(t *testing.T) {
	e := newEnv(t, automation{})

	res := only(t, e.runSelected(t, "recovery/network-retried"))

	assert.Equal(t, harness.StatusFail, res.Status)
	assert.Contains(t, res.Error, "timed out after 1m0s waiting for retry run")
}

func TestRecovery_PermanentFailures(t *testing.T) {
	e := newEnv(t, automation{networkRetries: 1})
	report := e.runSelected(t, "recovery/*-not-retried")
	require.Len(t, report.Results, 2)
	for _, r := range report.Results {
		assert.Equal(t, harness.StatusPass, r.Status, "%s: %s", r.Name, r.Error)
	}

	bad := newEnv(t, automation{retryPermanent: true})
	report = bad.runSelected(t, "recovery/logic-not-retried")
	res := only(t, report)
	assert.Equal(t, harness.StatusFail, res.Status)
	assert.Contains(t, res.Error, "logic failure on #2 was retried 1 time(s)")
}

func TestRecovery_RetryCeiling(t *testing.T) {
	tests := []struct {
		name     string
		retries  int
		dispatch bool
		status   harness.Status
		msg      string
	}{
		{"within ceiling", 2, false, harness.StatusPass, ""},
		{"re-run attempts beyond ceiling", 3, false, harness.StatusFail, "observed 3 retries for #2, ceiling is 2"},
		{"many re-runs of one run", 5, false, harness.StatusFail, "observed 5 retries for #2, ceiling is 2"},
		{"dispatched runs beyond ceiling", 3, true, harness.StatusFail, "observed 3 retries for #2, ceiling is 2"},
		{"never retried", 0, false, harness.StatusFail, "no retry run observed for #2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, automation{networkRetries: tt.retries, dispatchRetries: tt.dispatch})

			res := only(t, e.runSelected(t, "recovery/retry-ceiling"))

			assert.Equal(t, tt.status, res.Status, res.Error)
			if tt.msg != "" {
				assert.Contains(t, res.Error, tt.msg)
			}
		})
	}
}

func TestCountRetries(t *testing.T) {
	tests := []struct {
		name string
		runs []tracker.WorkflowRun
		want int
	}{
		{"no runs", nil, 0},
		{"first attempt only", []tracker.WorkflowRun{{ID: 1, Event: "pull_request", RunAttempt: 1}}, 0},
		{"re-run attempts on one run", []tracker.WorkflowRun{{ID: 1, Event: "pull_request", RunAttempt: 6}}, 5},
		{"unset attempt", []tracker.WorkflowRun{{ID: 1, Event: "pull_request"}}, 0},
		{"dispatched runs", []tracker.WorkflowRun{
			{ID: 1, Event: "pull_request", RunAttempt: 1},
			{ID: 2, Event: "workflow_dispatch", RunAttempt: 1},
			{ID: 3, Event: "repository_dispatch", RunAttempt: 2},
		}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, countRetries(tt.runs))
		})
	}
}

func TestRecovery_SkipsWithoutWorkflows(t *testing.T) {
	for _, name := range []string{"recovery/network-retried", "recovery/logic-not-retried", "recovery/retry-ceiling"} {
		t.Run(name, func(t *testing.T) {
			e := newEnv(t, automation{noWorkflows: true})

			res := only(t, e.runSelected(t, name))

			assert.Equal(t, harness.StatusSkip, res.Status, res.Error)
			assert.Equal(t, "no workflow runs on this repository", res.Error)
		})
	}
}

func TestErrors_Classification(t *testing.T) {
	e := newEnv(t, automation{})

	report := e.runSelected(t, "errors")

	require.Len(t, report.Results, 4)
	for _, r := range report.Results[:3] {
		assert.Equal(t, harness.StatusPass, r.Status, "%s: %s", r.Name, r.Error)
	}
	assert.Equal(t, harness.StatusSkip, report.Results[3].Status)

	milestones, err := e.ledger.List(context.Background(), ledger.KindMilestone)
	require.NoError(t, err)
	assert.Len(t, milestones, 1, "the rejected duplicate is not tracked")
}

// One failing and one passing case: the report shows both and cleanup
// covers the resources of each.
func TestOneFailOnePass_CleanupCoversBoth(t *testing.T) {
	e := newEnv(t, automation{})
	cases := []harness.TestCase{
		{Suite: "e2e", Name: "throws", Run: func(ctx context.Context, s *harness.Session) error {
			is, err := s.Factory.CreateIssue(ctx, fixture.IssueSpec{Title: "will fail"})
			if err != nil {
				return err
			}
			if _, err := s.Factory.CreatePullRequest(ctx, is.Number, fixture.PRSpec{Title: "half done", Body: "WIP"}); err != nil {
				return err
			}
			return errors.New("assertion failed after fixtures were created")
		}},
		{Suite: "e2e", Name: "succeeds", Run: func(ctx context.Context, s *harness.Session) error {
			_, err := s.Factory.CreateIssue(ctx, fixture.IssueSpec{Title: "will pass"})
			return err
		}},
	}

	report := e.run(t, cases)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.ExitCode())

	require.NotNil(t, report.Cleanup)
	assert.Equal(t, cleanup.Tally{Attempted: 2, Succeeded: 2}, report.Cleanup.Kinds[ledger.KindIssue])
	assert.Equal(t, cleanup.Tally{Attempted: 1, Succeeded: 1}, report.Cleanup.Kinds[ledger.KindPullRequest])
	assert.Equal(t, cleanup.Tally{Attempted: 1, Succeeded: 1}, report.Cleanup.Kinds[ledger.KindBranch])

	all, err := e.ledger.List(context.Background(), "")
	require.NoError(t, err)
	byCase := map[string]int{}
	for _, r := range all {
		byCase[r.Case]++
	}
	assert.Equal(t, map[string]int{"e2e/throws": 3, "e2e/succeeds": 1}, byCase)
	assert.Empty(t, e.fake.OpenIssues())
}
