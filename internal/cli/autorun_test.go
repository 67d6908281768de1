package cli

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/wfprobe/internal/autorun"
	"github.com/roach88/wfprobe/internal/tracker"
	"github.com/roach88/wfprobe/internal/tracker/trackertest"
)

func seededFake(t *testing.T, title string, labels ...string) *trackertest.Fake {
	t.Helper()
	fake := trackertest.New()
	_, err := fake.CreateIssue(context.Background(), tracker.IssueRequest{Title: title, Labels: labels})
	require.NoError(t, err)
	return fake
}

func TestAutorun_DryRunPrintsComment(t *testing.T) {
	fake := seededFake(t, "Pipeline retry storm", "ci")
	res := execute(t, testEnv(fake, withToken()), "autorun", "--issue", "1", "--dry-run")

	require.NoError(t, res.err)
	assert.True(t, strings.HasPrefix(res.stdout, autorun.CommentMarker))
	assert.Contains(t, res.stdout, "selected profile `ci` for #1")
	assert.Contains(t, res.stdout, "Dry run: comment not posted to #1 (profile ci).")
	assert.Empty(t, fake.Comments(1))
}

func TestAutorun_PostsCommentJSON(t *testing.T) {
	fake := seededFake(t, "Anything at all")
	res := execute(t, testEnv(fake, withToken()), "autorun", "--issue", "1", "--agent", "docs", "--format", "json")
	require.NoError(t, res.err)

	var resp struct {
		Status string         `json:"status"`
		Data   autorun.Result `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Posted)
	assert.Equal(t, "docs", resp.Data.Profile.Name)
	assert.Equal(t, "requested explicitly", resp.Data.Reason)

	comments := fake.Comments(1)
	require.Len(t, comments, 1)
	assert.Equal(t, resp.Data.Comment, comments[0])
}

func TestAutorun_CommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing issue", []string{"autorun"}, "--issue must be positive, got 0"},
		{"unknown agent", []string{"autorun", "--issue", "1", "--agent", "wizard"}, `unknown agent "wizard"`},
		{"stray args", []string{"autorun", "extra"}, "autorun takes no arguments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := seededFake(t, "Crash on save")
			res := execute(t, testEnv(fake, withToken()), tt.args...)

			require.Error(t, res.err)
			assert.Equal(t, ExitCommandError, res.code())
			assert.Contains(t, res.err.Error(), tt.want)
			assert.Equal(t, 0, fake.Calls("GetIssue"))
		})
	}
}

func TestAutorun_MissingIssueFails(t *testing.T) {
	fake := trackertest.New()
	res := execute(t, testEnv(fake, withToken()), "autorun", "--issue", "99")

	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, res.code())
	assert.Contains(t, res.err.Error(), "autorun on #99")
	assert.Equal(t, 0, fake.Calls("AddComment"))
}

func TestAutorun_NeedsToken(t *testing.T) {
	fake := seededFake(t, "Crash on save")
	res := execute(t, testEnv(fake, nil), "autorun", "--issue", "1")

	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, res.code())
	assert.Contains(t, res.err.Error(), "GITHUB_TOKEN")
}
