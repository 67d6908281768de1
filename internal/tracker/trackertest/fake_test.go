package trackertest

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wfprobe/internal/apierr"
	"github.com/roach88/wfprobe/internal/tracker"
)

func TestFake_IssueLifecycle(t *testing.T) {
	ctx := context.Background()
	f := New()

	is, err := f.CreateIssue(ctx, tracker.IssueRequest{Title: "t", Labels: []string{"a", "A", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, is.Labels)

	closed := tracker.StateClosed
	_, err = f.UpdateIssue(ctx, is.Number, tracker.IssueUpdate{State: &closed})
	require.NoError(t, err)

	got, err := f.GetIssue(ctx, is.Number)
	require.NoError(t, err)
	assert.Equal(t, tracker.StateClosed, got.State)

	_, err = f.GetIssue(ctx, 999)
	assert.True(t, apierr.IsNotFound(err))
}

func TestFake_BlankTitleIsValidationError(t *testing.T) {
	_, err := New().CreateIssue(context.Background(), tracker.IssueRequest{Title: "  "})
	assert.True(t, apierr.IsKind(err, apierr.Validation))
}

func TestFake_ScriptedFailuresAreConsumedInOrder(t *testing.T) {
	ctx := context.Background()
	f := New()
	f.Fail("CreateIssue", RateLimitError(time.Second), StatusError(http.StatusBadGateway, "bad gateway"))

	_, err := f.CreateIssue(ctx, tracker.IssueRequest{Title: "t"})
	assert.True(t, apierr.IsKind(err, apierr.RateLimited))
	_, err = f.CreateIssue(ctx, tracker.IssueRequest{Title: "t"})
	assert.True(t, apierr.IsKind(err, apierr.Server))
	_, err = f.CreateIssue(ctx, tracker.IssueRequest{Title: "t"})
	assert.NoError(t, err)

	assert.Equal(t, 3, f.Calls("CreateIssue"))
}

func TestFake_BranchesFilesAndPullRequests(t *testing.T) {
	ctx := context.Background()
	f := New()

	base, err := f.GetBranchSHA(ctx, "main")
	require.NoError(t, err)
	require.NoError(t, f.CreateBranch(ctx, "feature", base))

	_, err = f.CreatePullRequest(ctx, tracker.PullRequestRequest{Title: "t", Head: "feature", Base: "main"})
	assert.True(t, apierr.IsKind(err, apierr.Validation), "no commits between branches")

	sha, err := f.GetFileSHA(ctx, "a.md", "feature")
	require.NoError(t, err)
	assert.Empty(t, sha)

	commit, err := f.PutFile(ctx, tracker.FileWrite{Path: "a.md", Content: []byte("one"), Branch: "feature"})
	require.NoError(t, err)

	_, err = f.PutFile(ctx, tracker.FileWrite{Path: "a.md", Content: []byte("two"), Branch: "feature"})
	assert.True(t, apierr.IsKind(err, apierr.Validation), "update without blob sha")

	pr, err := f.CreatePullRequest(ctx, tracker.PullRequestRequest{Title: "t", Head: "feature", Base: "main"})
	require.NoError(t, err)
	assert.Equal(t, commit, pr.HeadSHA)

	require.NoError(t, f.DeleteBranch(ctx, "feature"))
	err = f.DeleteBranch(ctx, "feature")
	assert.True(t, apierr.IsKind(err, apierr.Validation), "missing ref is a 422")
}

func TestFake_MilestoneCountsFollowIssues(t *testing.T) {
	ctx := context.Background()
	f := New()

	m, err := f.CreateMilestone(ctx, "m1", "")
	require.NoError(t, err)
	is, err := f.CreateIssue(ctx, tracker.IssueRequest{Title: "t"})
	require.NoError(t, err)

	_, err = f.UpdateIssue(ctx, is.Number, tracker.IssueUpdate{Milestone: &m.Number})
	require.NoError(t, err)

	got, err := f.GetMilestone(ctx, m.Number)
	require.NoError(t, err)
	assert.Equal(t, 1, got.OpenIssues)

	missing := 99
	_, err = f.UpdateIssue(ctx, is.Number, tracker.IssueUpdate{Milestone: &missing})
	assert.True(t, apierr.IsKind(err, apierr.Validation))

	require.NoError(t, f.DeleteMilestone(ctx, m.Number))
	assert.True(t, apierr.IsNotFound(f.DeleteMilestone(ctx, m.Number)))
}

func TestFake_HooksRunOutsideLock(t *testing.T) {
	ctx := context.Background()
	f := New()
	f.OnIssueCreated = func(f *Fake, is tracker.Issue) {
		f.SetLabels(is.Number, "triaged")
	}

	is, err := f.CreateIssue(ctx, tracker.IssueRequest{Title: "t"})
	require.NoError(t, err)

	labels, err := f.ListIssueLabels(ctx, is.Number)
	require.NoError(t, err)
	assert.Contains(t, labels, "triaged")
}

func TestFake_CheckRunsResolveBranchNames(t *testing.T) {
	ctx := context.Background()
	f := New()
	sha, err := f.GetBranchSHA(ctx, "main")
	require.NoError(t, err)

	f.AddCheckRun(tracker.CheckRun{Name: "lint", Status: tracker.StatusCompleted, Conclusion: tracker.ConclusionSuccess, HeadSHA: sha})

	runs, err := f.ListCheckRuns(ctx, "main")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "lint", runs[0].Name)
}

func TestFake_RerunKeepsRunID(t *testing.T) {
	ctx := context.Background()
	f := New()

	id := f.AddWorkflowRun(tracker.WorkflowRun{Name: "ci", Event: "pull_request", HeadSHA: "abc"})
	require.True(t, f.RerunWorkflowRun(id))
	require.True(t, f.RerunWorkflowRun(id))
	assert.False(t, f.RerunWorkflowRun(id+1))

	runs, err := f.ListWorkflowRuns(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 3, runs[0].RunAttempt)

	run, err := f.GetWorkflowRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Retries())
}

func TestFake_PushToPullRequestMovesHead(t *testing.T) {
	ctx := context.Background()
	f := New()
	base, err := f.GetBranchSHA(ctx, "main")
	require.NoError(t, err)
	require.NoError(t, f.CreateBranch(ctx, "feature", base))
	_, err = f.PutFile(ctx, tracker.FileWrite{Path: "a.md", Content: []byte("one"), Branch: "feature"})
	require.NoError(t, err)
	pr, err := f.CreatePullRequest(ctx, tracker.PullRequestRequest{Title: "t", Head: "feature", Base: "main"})
	require.NoError(t, err)

	f.PushToPullRequest(pr.Number, "feedface00")

	got, err := f.GetPullRequest(ctx, pr.Number)
	require.NoError(t, err)
	assert.Equal(t, "feedface00", got.HeadSHA)
}
