package tracker

import "context"

// Client is the remote API the harness consumes. Implementations return raw
// errors; classification is the gateway's job.
type Client interface {
	Repo() Repo
	DefaultBranch(ctx context.Context) (string, error)

	CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error)
	GetIssue(ctx context.Context, number int) (*Issue, error)
	UpdateIssue(ctx context.Context, number int, update IssueUpdate) (*Issue, error)
	AddComment(ctx context.Context, number int, body string) error
	ListIssueLabels(ctx context.Context, number int) ([]string, error)
	// AddLabels labels an issue or pull request.
	AddLabels(ctx context.Context, number int, labels []string) error

	// GetBranchSHA returns the head commit of branch; a missing branch is
	// reported as an HTTP 404 error.
	GetBranchSHA(ctx context.Context, branch string) (string, error)
	CreateBranch(ctx context.Context, branch, sha string) error
	DeleteBranch(ctx context.Context, branch string) error
	// GetFileSHA returns the blob SHA of path on branch, or "" if absent.
	GetFileSHA(ctx context.Context, path, branch string) (string, error)
	// PutFile creates or updates a file and returns the new commit SHA.
	PutFile(ctx context.Context, w FileWrite) (string, error)

	CreatePullRequest(ctx context.Context, req PullRequestRequest) (*PullRequest, error)
	GetPullRequest(ctx context.Context, number int) (*PullRequest, error)
	ClosePullRequest(ctx context.Context, number int) error

	CreateMilestone(ctx context.Context, title, description string) (*Milestone, error)
	GetMilestone(ctx context.Context, number int) (*Milestone, error)
	DeleteMilestone(ctx context.Context, number int) error

	ListWorkflowRuns(ctx context.Context, headSHA string) ([]WorkflowRun, error)
	GetWorkflowRun(ctx context.Context, id int64) (*WorkflowRun, error)
	ListCheckRuns(ctx context.Context, ref string) ([]CheckRun, error)
}
