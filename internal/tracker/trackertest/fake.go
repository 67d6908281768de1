// Package trackertest provides an in-memory tracker.Client for tests.
//
// The Fake keeps issues, pull requests, branches, files, milestones, check
// runs and workflow runs in maps and mimics the status codes the real API
// returns for the edge cases the harness depends on (404 for missing
// objects, 422 for validation failures and missing refs). Scripted failures
// and automation hooks let tests play the part of the system under test.
package trackertest

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/roach88/wfprobe/internal/tracker"
)

// Fake is an in-memory tracker.Client. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	repo          tracker.Repo
	defaultBranch string

	nextNumber    int
	nextMilestone int
	nextRunID     int64

	issues     map[int]*tracker.Issue
	comments   map[int][]string
	prs        map[int]*tracker.PullRequest
	branches   map[string]string
	files      map[string]map[string]file
	milestones map[int]*tracker.Milestone
	runs       []tracker.WorkflowRun
	checks     map[string][]tracker.CheckRun

	failures map[string][]error
	calls    map[string]int

	// OnIssueCreated runs after CreateIssue succeeds, outside the lock.
	OnIssueCreated func(f *Fake, issue tracker.Issue)
	// OnIssueUpdated runs after UpdateIssue succeeds, outside the lock.
	OnIssueUpdated func(f *Fake, issue tracker.Issue)
	// OnPullRequestCreated runs after CreatePullRequest succeeds, outside the lock.
	OnPullRequestCreated func(f *Fake, pr tracker.PullRequest)
}

type file struct {
	sha     string
	content []byte
}

var _ tracker.Client = (*Fake)(nil)

// New returns an empty repository with a "main" branch holding one commit.
func New() *Fake {
	f := &Fake{
		repo:          tracker.Repo{Owner: "octo", Name: "sandbox"},
		defaultBranch: "main",
		nextNumber:    1,
		nextMilestone: 1,
		nextRunID:     1000,
		issues:        map[int]*tracker.Issue{},
		comments:      map[int][]string{},
		prs:           map[int]*tracker.PullRequest{},
		branches:      map[string]string{},
		files:         map[string]map[string]file{},
		milestones:    map[int]*tracker.Milestone{},
		checks:        map[string][]tracker.CheckRun{},
		failures:      map[string][]error{},
		calls:         map[string]int{},
	}
	f.branches["main"] = digest("main", "initial")
	f.files["main"] = map[string]file{}
	return f
}

// Fail queues errors returned by the next calls to op (the Client method
// name, e.g. "CreateIssue"). Each queued error is consumed by one call.
func (f *Fake) Fail(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], errs...)
}

// Calls returns how many times op was invoked, failed calls included.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// enter records a call and pops a scripted failure. Caller holds f.mu.
func (f *Fake) enter(op string) error {
	f.calls[op]++
	queue := f.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	f.failures[op] = queue[1:]
	return err
}

func (f *Fake) Repo() tracker.Repo { return f.repo }

func (f *Fake) DefaultBranch(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DefaultBranch"); err != nil {
		return "", err
	}
	return f.defaultBranch, nil
}

func (f *Fake) CreateIssue(ctx context.Context, req tracker.IssueRequest) (*tracker.Issue, error) {
	f.mu.Lock()
	if err := f.enter("CreateIssue"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if strings.TrimSpace(req.Title) == "" {
		f.mu.Unlock()
		return nil, StatusError(http.StatusUnprocessableEntity, "Validation Failed: title can't be blank")
	}
	is := &tracker.Issue{
		Number: f.nextNumber,
		Title:  req.Title,
		Body:   req.Body,
		State:  tracker.StateOpen,
		Labels: dedupe(nil, req.Labels),
		URL:    f.url("issues", f.nextNumber),
	}
	f.nextNumber++
	f.issues[is.Number] = is
	out := cloneIssue(is)
	hook := f.OnIssueCreated
	f.mu.Unlock()

	if hook != nil {
		hook(f, *out)
	}
	return out, nil
}

func (f *Fake) GetIssue(ctx context.Context, number int) (*tracker.Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetIssue"); err != nil {
		return nil, err
	}
	is, ok := f.issues[number]
	if !ok {
		return nil, StatusError(http.StatusNotFound, "Not Found")
	}
	return cloneIssue(is), nil
}

func (f *Fake) UpdateIssue(ctx context.Context, number int, update tracker.IssueUpdate) (*tracker.Issue, error) {
	f.mu.Lock()
	if err := f.enter("UpdateIssue"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	is, ok := f.issues[number]
	if !ok {
		f.mu.Unlock()
		return nil, StatusError(http.StatusNotFound, "Not Found")
	}
	if update.Milestone != nil && *update.Milestone != 0 {
		if _, ok := f.milestones[*update.Milestone]; !ok {
			f.mu.Unlock()
			return nil, StatusError(http.StatusUnprocessableEntity, "Validation Failed: milestone does not exist")
		}
	}
	if update.Title != nil {
		is.Title = *update.Title
	}
	if update.Body != nil {
		is.Body = *update.Body
	}
	if update.State != nil {
		is.State = *update.State
	}
	if update.Milestone != nil {
		is.Milestone = *update.Milestone
	}
	out := cloneIssue(is)
	hook := f.OnIssueUpdated
	f.mu.Unlock()

	if hook != nil {
		hook(f, *out)
	}
	return out, nil
}

func (f *Fake) AddComment(ctx context.Context, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddComment"); err != nil {
		return err
	}
	if _, ok := f.issues[number]; !ok {
		if _, ok := f.prs[number]; !ok {
			return StatusError(http.StatusNotFound, "Not Found")
		}
	}
	f.comments[number] = append(f.comments[number], body)
	return nil
}

// Comments returns the comments posted on an issue or pull request.
func (f *Fake) Comments(number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.comments[number]...)
}

func (f *Fake) ListIssueLabels(ctx context.Context, number int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListIssueLabels"); err != nil {
		return nil, err
	}
	if is, ok := f.issues[number]; ok {
		return append([]string(nil), is.Labels...), nil
	}
	if pr, ok := f.prs[number]; ok {
		return append([]string(nil), pr.Labels...), nil
	}
	return nil, StatusError(http.StatusNotFound, "Not Found")
}

func (f *Fake) AddLabels(ctx context.Context, number int, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AddLabels"); err != nil {
		return err
	}
	if is, ok := f.issues[number]; ok {
		is.Labels = dedupe(is.Labels, labels)
		return nil
	}
	if pr, ok := f.prs[number]; ok {
		pr.Labels = dedupe(pr.Labels, labels)
		return nil
	}
	return StatusError(http.StatusNotFound, "Not Found")
}

// SetLabels adds labels to an issue the way the automation under test would.
func (f *Fake) SetLabels(number int, labels ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if is, ok := f.issues[number]; ok {
		is.Labels = dedupe(is.Labels, labels)
	}
}

// RemoveLabel drops a label from an issue the way the automation under test
// would.
func (f *Fake) RemoveLabel(number int, label string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	is, ok := f.issues[number]
	if !ok {
		return
	}
	kept := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		if !strings.EqualFold(l, label) {
			kept = append(kept, l)
		}
	}
	is.Labels = kept
}

func (f *Fake) GetBranchSHA(ctx context.Context, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetBranchSHA"); err != nil {
		return "", err
	}
	sha, ok := f.branches[branch]
	if !ok {
		return "", StatusError(http.StatusNotFound, "Not Found")
	}
	return sha, nil
}

func (f *Fake) CreateBranch(ctx context.Context, branch, sha string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateBranch"); err != nil {
		return err
	}
	if _, ok := f.branches[branch]; ok {
		return StatusError(http.StatusUnprocessableEntity, "Reference already exists")
	}
	f.branches[branch] = sha
	files := map[string]file{}
	for from, fs := range f.files {
		if f.branches[from] == sha {
			for p, fl := range fs {
				files[p] = fl
			}
			break
		}
	}
	f.files[branch] = files
	return nil
}

func (f *Fake) DeleteBranch(ctx context.Context, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteBranch"); err != nil {
		return err
	}
	if _, ok := f.branches[branch]; !ok {
		return StatusError(http.StatusUnprocessableEntity, "Reference does not exist")
	}
	delete(f.branches, branch)
	delete(f.files, branch)
	return nil
}

// HasBranch reports whether branch exists.
func (f *Fake) HasBranch(branch string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.branches[branch]
	return ok
}

func (f *Fake) GetFileSHA(ctx context.Context, path, branch string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetFileSHA"); err != nil {
		return "", err
	}
	fs, ok := f.files[branch]
	if !ok {
		return "", StatusError(http.StatusNotFound, "No commit found for the ref "+branch)
	}
	return fs[path].sha, nil
}

func (f *Fake) PutFile(ctx context.Context, w tracker.FileWrite) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("PutFile"); err != nil {
		return "", err
	}
	fs, ok := f.files[w.Branch]
	if !ok {
		return "", StatusError(http.StatusNotFound, "Branch "+w.Branch+" not found")
	}
	existing, exists := fs[w.Path]
	switch {
	case exists && w.SHA == "":
		return "", StatusError(http.StatusUnprocessableEntity, `Invalid request. "sha" wasn't supplied.`)
	case exists && w.SHA != existing.sha:
		return "", StatusError(http.StatusConflict, w.Path+" does not match "+w.SHA)
	}
	blob := digest(w.Path, string(w.Content))
	fs[w.Path] = file{sha: blob, content: append([]byte(nil), w.Content...)}
	commit := digest(f.branches[w.Branch], blob)
	f.branches[w.Branch] = commit
	for _, pr := range f.prs {
		if pr.Head == w.Branch {
			pr.HeadSHA = commit
		}
	}
	return commit, nil
}

// FileContent returns the content of path on branch.
func (f *Fake) FileContent(branch, path string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.files[branch][path]
	return fl.content, ok
}

func (f *Fake) CreatePullRequest(ctx context.Context, req tracker.PullRequestRequest) (*tracker.PullRequest, error) {
	f.mu.Lock()
	if err := f.enter("CreatePullRequest"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	headSHA, ok := f.branches[req.Head]
	if !ok {
		f.mu.Unlock()
		return nil, StatusError(http.StatusUnprocessableEntity, "Validation Failed: head "+req.Head+" invalid")
	}
	if headSHA == f.branches[req.Base] {
		f.mu.Unlock()
		return nil, StatusError(http.StatusUnprocessableEntity, "Validation Failed: No commits between "+req.Base+" and "+req.Head)
	}
	pr := &tracker.PullRequest{
		Number:  f.nextNumber,
		Title:   req.Title,
		Body:    req.Body,
		State:   tracker.StateOpen,
		Head:    req.Head,
		HeadSHA: headSHA,
		Base:    req.Base,
		URL:     f.url("pull", f.nextNumber),
	}
	f.nextNumber++
	f.prs[pr.Number] = pr
	out := clonePullRequest(pr)
	hook := f.OnPullRequestCreated
	f.mu.Unlock()

	if hook != nil {
		hook(f, out)
	}
	return &out, nil
}

func (f *Fake) GetPullRequest(ctx context.Context, number int) (*tracker.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetPullRequest"); err != nil {
		return nil, err
	}
	pr, ok := f.prs[number]
	if !ok {
		return nil, StatusError(http.StatusNotFound, "Not Found")
	}
	out := clonePullRequest(pr)
	return &out, nil
}

func (f *Fake) ClosePullRequest(ctx context.Context, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ClosePullRequest"); err != nil {
		return err
	}
	pr, ok := f.prs[number]
	if !ok {
		return StatusError(http.StatusNotFound, "Not Found")
	}
	pr.State = tracker.StateClosed
	return nil
}

func (f *Fake) CreateMilestone(ctx context.Context, title, description string) (*tracker.Milestone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateMilestone"); err != nil {
		return nil, err
	}
	for _, m := range f.milestones {
		if m.Title == title {
			return nil, StatusError(http.StatusUnprocessableEntity, "Validation Failed: title already_exists")
		}
	}
	m := &tracker.Milestone{
		Number:      f.nextMilestone,
		Title:       title,
		Description: description,
		State:       tracker.StateOpen,
	}
	f.nextMilestone++
	f.milestones[m.Number] = m
	return f.milestoneView(m), nil
}

func (f *Fake) GetMilestone(ctx context.Context, number int) (*tracker.Milestone, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetMilestone"); err != nil {
		return nil, err
	}
	m, ok := f.milestones[number]
	if !ok {
		return nil, StatusError(http.StatusNotFound, "Not Found")
	}
	return f.milestoneView(m), nil
}

// CloseMilestone closes a milestone the way the automation under test would.
func (f *Fake) CloseMilestone(number int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.milestones[number]; ok {
		m.State = tracker.StateClosed
	}
}

func (f *Fake) DeleteMilestone(ctx context.Context, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteMilestone"); err != nil {
		return err
	}
	if _, ok := f.milestones[number]; !ok {
		return StatusError(http.StatusNotFound, "Not Found")
	}
	delete(f.milestones, number)
	for _, is := range f.issues {
		if is.Milestone == number {
			is.Milestone = 0
		}
	}
	return nil
}

// MilestoneIssues returns the issues assigned to a milestone.
func (f *Fake) MilestoneIssues(number int) []tracker.Issue {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tracker.Issue
	for _, n := range f.sortedIssueNumbers() {
		if is := f.issues[n]; is.Milestone == number {
			out = append(out, *cloneIssue(is))
		}
	}
	return out
}

func (f *Fake) ListWorkflowRuns(ctx context.Context, headSHA string) ([]tracker.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListWorkflowRuns"); err != nil {
		return nil, err
	}
	var out []tracker.WorkflowRun
	for _, r := range f.runs {
		if headSHA == "" || r.HeadSHA == headSHA {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *Fake) GetWorkflowRun(ctx context.Context, id int64) (*tracker.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetWorkflowRun"); err != nil {
		return nil, err
	}
	for _, r := range f.runs {
		if r.ID == id {
			out := r
			return &out, nil
		}
	}
	return nil, StatusError(http.StatusNotFound, "Not Found")
}

// AddWorkflowRun records a workflow run and returns its assigned ID.
func (f *Fake) AddWorkflowRun(run tracker.WorkflowRun) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.ID = f.nextRunID
	f.nextRunID++
	if run.RunAttempt == 0 {
		run.RunAttempt = 1
	}
	f.runs = append(f.runs, run)
	return run.ID
}

// PushToPullRequest moves a pull request's head to sha.
func (f *Fake) PushToPullRequest(number int, sha string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pr, ok := f.prs[number]; ok {
		pr.HeadSHA = sha
	}
}

// RerunWorkflowRun starts another attempt of an existing run, the way a
// re-run of failed jobs does: same ID, next RunAttempt.
func (f *Fake) RerunWorkflowRun(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.runs {
		if f.runs[i].ID == id {
			f.runs[i].RunAttempt++
			return true
		}
	}
	return false
}

func (f *Fake) ListCheckRuns(ctx context.Context, ref string) ([]tracker.CheckRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListCheckRuns"); err != nil {
		return nil, err
	}
	if sha, ok := f.branches[ref]; ok {
		ref = sha
	}
	return append([]tracker.CheckRun(nil), f.checks[ref]...), nil
}

// AddCheckRun attaches a check run to a commit SHA.
func (f *Fake) AddCheckRun(run tracker.CheckRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run.ID = f.nextRunID
	f.nextRunID++
	f.checks[run.HeadSHA] = append(f.checks[run.HeadSHA], run)
}

// Issue returns a snapshot of an issue.
func (f *Fake) Issue(number int) (tracker.Issue, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	is, ok := f.issues[number]
	if !ok {
		return tracker.Issue{}, false
	}
	return *cloneIssue(is), true
}

// PullRequest returns a snapshot of a pull request.
func (f *Fake) PullRequest(number int) (tracker.PullRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.prs[number]
	if !ok {
		return tracker.PullRequest{}, false
	}
	return clonePullRequest(pr), true
}

// OpenIssues returns the numbers of open issues in ascending order.
func (f *Fake) OpenIssues() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, n := range f.sortedIssueNumbers() {
		if f.issues[n].State == tracker.StateOpen {
			out = append(out, n)
		}
	}
	return out
}

func (f *Fake) sortedIssueNumbers() []int {
	nums := make([]int, 0, len(f.issues))
	for n := range f.issues {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

func (f *Fake) milestoneView(m *tracker.Milestone) *tracker.Milestone {
	out := *m
	out.OpenIssues, out.ClosedIssues = 0, 0
	for _, is := range f.issues {
		if is.Milestone != m.Number {
			continue
		}
		if is.State == tracker.StateClosed {
			out.ClosedIssues++
		} else {
			out.OpenIssues++
		}
	}
	return &out
}

func (f *Fake) url(kind string, n int) string {
	return fmt.Sprintf("https://github.com/%s/%s/%d", f.repo, kind, n)
}

// StatusError builds the error go-github returns for a non-2xx response.
func StatusError(status int, message string) error {
	return &github.ErrorResponse{Response: response(status, nil), Message: message}
}

// RateLimitError builds a primary rate-limit error advising retryAfter.
func RateLimitError(retryAfter time.Duration) error {
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("Retry-After", fmt.Sprintf("%d", int(retryAfter/time.Second)))
	return &github.ErrorResponse{Response: response(http.StatusForbidden, h), Message: "API rate limit exceeded"}
}

// SecondaryRateLimitError builds a secondary (abuse) rate-limit error.
func SecondaryRateLimitError(retryAfter time.Duration) error {
	return &github.AbuseRateLimitError{
		Response:   response(http.StatusForbidden, nil),
		Message:    "You have exceeded a secondary rate limit",
		RetryAfter: &retryAfter,
	}
}

func response(status int, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	u, _ := url.Parse("https://api.github.com/repos/octo/sandbox")
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Request:    &http.Request{Method: http.MethodPost, URL: u},
	}
}

func cloneIssue(is *tracker.Issue) *tracker.Issue {
	out := *is
	out.Labels = append([]string(nil), is.Labels...)
	return &out
}

func clonePullRequest(pr *tracker.PullRequest) tracker.PullRequest {
	out := *pr
	out.Labels = append([]string(nil), pr.Labels...)
	return out
}

func dedupe(have, add []string) []string {
	out := append([]string(nil), have...)
	for _, l := range add {
		found := false
		for _, h := range out {
			if strings.EqualFold(h, l) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, l)
		}
	}
	return out
}

func digest(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
