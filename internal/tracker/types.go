// Package tracker defines the remote issue/PR/CI surface the harness drives
// and its GitHub implementation.
package tracker

import (
	"fmt"
	"strings"
	"time"
)

// Repo identifies the target repository.
type Repo struct {
	Owner string
	Name  string
}

// ParseRepo parses "owner/name".
func ParseRepo(s string) (Repo, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return Repo{}, fmt.Errorf("invalid repository %q: want owner/name", s)
	}
	return Repo{Owner: owner, Name: name}, nil
}

func (r Repo) String() string { return r.Owner + "/" + r.Name }

// Issue and pull request states.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Issue is the subset of an issue the harness inspects.
type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string
	Labels    []string
	Milestone int
	URL       string
}

// HasLabel reports whether the issue carries label.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}

// IssueRequest creates an issue.
type IssueRequest struct {
	Title  string
	Body   string
	Labels []string
}

// IssueUpdate edits an issue. Nil fields are left unchanged.
type IssueUpdate struct {
	Title     *string
	Body      *string
	State     *string
	Milestone *int
}

// PullRequest is the subset of a pull request the harness inspects.
type PullRequest struct {
	Number  int
	Title   string
	Body    string
	State   string
	Head    string
	HeadSHA string
	Base    string
	Merged  bool
	Labels  []string
	URL     string
}

// PullRequestRequest opens a pull request from Head into Base.
type PullRequestRequest struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// Milestone is a tracker milestone.
type Milestone struct {
	Number       int
	Title        string
	Description  string
	State        string
	OpenIssues   int
	ClosedIssues int
}

// FileWrite commits a single file to a branch. SHA is the blob SHA of the
// existing file when updating, empty when creating.
type FileWrite struct {
	Path    string
	Content []byte
	Message string
	Branch  string
	SHA     string
}

// WorkflowRun is one execution of the automation pipeline.
type WorkflowRun struct {
	ID         int64
	Name       string
	Event      string
	Status     string
	Conclusion string
	HeadSHA    string
	RunAttempt int
	CreatedAt  time.Time
}

// Retries is the number of attempts after the first.
func (r WorkflowRun) Retries() int {
	if r.RunAttempt > 1 {
		return r.RunAttempt - 1
	}
	return 0
}

// CheckRun is a named status attached to a commit.
type CheckRun struct {
	ID         int64
	Name       string
	Status     string
	Conclusion string
	HeadSHA    string
}

// Check run and workflow run status values.
const (
	StatusCompleted = "completed"

	ConclusionSuccess = "success"
	ConclusionFailure = "failure"
)
