package tracker

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/roach88/wfprobe/internal/apierr"
)

const perPage = 100

// GitHub implements Client on the GitHub REST API.
type GitHub struct {
	gh   *github.Client
	repo Repo
}

type githubConfig struct {
	baseURL    string
	httpClient *http.Client
}

// GitHubOption configures the GitHub client.
type GitHubOption func(*githubConfig)

// WithBaseURL points the client at another API root (GHES or a test server).
func WithBaseURL(base string) GitHubOption {
	return func(c *githubConfig) { c.baseURL = base }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) GitHubOption {
	return func(c *githubConfig) { c.httpClient = hc }
}

// NewGitHub creates a client authenticated with token against repo.
func NewGitHub(token string, repo Repo, opts ...GitHubOption) (*GitHub, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	var cfg githubConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	c := github.NewClient(cfg.httpClient).WithAuthToken(token)
	if cfg.baseURL != "" {
		base := cfg.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("parse base URL: %w", err)
		}
		c.BaseURL = u
	}
	return &GitHub{gh: c, repo: repo}, nil
}

// Repo returns the target repository.
func (g *GitHub) Repo() Repo { return g.repo }

// DefaultBranch returns the repository's default branch name.
func (g *GitHub) DefaultBranch(ctx context.Context) (string, error) {
	r, _, err := g.gh.Repositories.Get(ctx, g.repo.Owner, g.repo.Name)
	if err != nil {
		return "", err
	}
	return r.GetDefaultBranch(), nil
}

func (g *GitHub) CreateIssue(ctx context.Context, req IssueRequest) (*Issue, error) {
	in := &github.IssueRequest{
		Title: github.String(req.Title),
		Body:  github.String(req.Body),
	}
	if len(req.Labels) > 0 {
		labels := append([]string(nil), req.Labels...)
		in.Labels = &labels
	}
	is, _, err := g.gh.Issues.Create(ctx, g.repo.Owner, g.repo.Name, in)
	if err != nil {
		return nil, err
	}
	return toIssue(is), nil
}

func (g *GitHub) GetIssue(ctx context.Context, number int) (*Issue, error) {
	is, _, err := g.gh.Issues.Get(ctx, g.repo.Owner, g.repo.Name, number)
	if err != nil {
		return nil, err
	}
	return toIssue(is), nil
}

func (g *GitHub) UpdateIssue(ctx context.Context, number int, update IssueUpdate) (*Issue, error) {
	in := &github.IssueRequest{
		Title:     update.Title,
		Body:      update.Body,
		State:     update.State,
		Milestone: update.Milestone,
	}
	is, _, err := g.gh.Issues.Edit(ctx, g.repo.Owner, g.repo.Name, number, in)
	if err != nil {
		return nil, err
	}
	return toIssue(is), nil
}

func (g *GitHub) AddComment(ctx context.Context, number int, body string) error {
	_, _, err := g.gh.Issues.CreateComment(ctx, g.repo.Owner, g.repo.Name, number, &github.IssueComment{Body: github.String(body)})
	return err
}

func (g *GitHub) ListIssueLabels(ctx context.Context, number int) ([]string, error) {
	labels, _, err := g.gh.Issues.ListLabelsByIssue(ctx, g.repo.Owner, g.repo.Name, number, &github.ListOptions{PerPage: perPage})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(labels))
	for _, l := range labels {
		names = append(names, l.GetName())
	}
	return names, nil
}

func (g *GitHub) AddLabels(ctx context.Context, number int, labels []string) error {
	_, _, err := g.gh.Issues.AddLabelsToIssue(ctx, g.repo.Owner, g.repo.Name, number, labels)
	return err
}

func (g *GitHub) GetBranchSHA(ctx context.Context, branch string) (string, error) {
	ref, _, err := g.gh.Git.GetRef(ctx, g.repo.Owner, g.repo.Name, "heads/"+branch)
	if err != nil {
		return "", err
	}
	return ref.GetObject().GetSHA(), nil
}

func (g *GitHub) CreateBranch(ctx context.Context, branch, sha string) error {
	ref := &github.Reference{
		Ref:    github.String("refs/heads/" + branch),
		Object: &github.GitObject{SHA: github.String(sha)},
	}
	_, _, err := g.gh.Git.CreateRef(ctx, g.repo.Owner, g.repo.Name, ref)
	return err
}

func (g *GitHub) DeleteBranch(ctx context.Context, branch string) error {
	_, err := g.gh.Git.DeleteRef(ctx, g.repo.Owner, g.repo.Name, "heads/"+branch)
	return err
}

func (g *GitHub) GetFileSHA(ctx context.Context, path, branch string) (string, error) {
	file, _, _, err := g.gh.Repositories.GetContents(ctx, g.repo.Owner, g.repo.Name, path, &github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if apierr.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return file.GetSHA(), nil
}

func (g *GitHub) PutFile(ctx context.Context, w FileWrite) (string, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(w.Message),
		Content: w.Content,
		Branch:  github.String(w.Branch),
	}
	var (
		res *github.RepositoryContentResponse
		err error
	)
	if w.SHA == "" {
		res, _, err = g.gh.Repositories.CreateFile(ctx, g.repo.Owner, g.repo.Name, w.Path, opts)
	} else {
		opts.SHA = github.String(w.SHA)
		res, _, err = g.gh.Repositories.UpdateFile(ctx, g.repo.Owner, g.repo.Name, w.Path, opts)
	}
	if err != nil {
		return "", err
	}
	return res.Commit.GetSHA(), nil
}

func (g *GitHub) CreatePullRequest(ctx context.Context, req PullRequestRequest) (*PullRequest, error) {
	pr, _, err := g.gh.PullRequests.Create(ctx, g.repo.Owner, g.repo.Name, &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(req.Head),
		Base:  github.String(req.Base),
		Body:  github.String(req.Body),
	})
	if err != nil {
		return nil, err
	}
	return toPullRequest(pr), nil
}

func (g *GitHub) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	pr, _, err := g.gh.PullRequests.Get(ctx, g.repo.Owner, g.repo.Name, number)
	if err != nil {
		return nil, err
	}
	return toPullRequest(pr), nil
}

func (g *GitHub) ClosePullRequest(ctx context.Context, number int) error {
	_, _, err := g.gh.PullRequests.Edit(ctx, g.repo.Owner, g.repo.Name, number, &github.PullRequest{State: github.String(StateClosed)})
	return err
}

func (g *GitHub) CreateMilestone(ctx context.Context, title, description string) (*Milestone, error) {
	m, _, err := g.gh.Issues.CreateMilestone(ctx, g.repo.Owner, g.repo.Name, &github.Milestone{
		Title:       github.String(title),
		Description: github.String(description),
	})
	if err != nil {
		return nil, err
	}
	return toMilestone(m), nil
}

func (g *GitHub) GetMilestone(ctx context.Context, number int) (*Milestone, error) {
	m, _, err := g.gh.Issues.GetMilestone(ctx, g.repo.Owner, g.repo.Name, number)
	if err != nil {
		return nil, err
	}
	return toMilestone(m), nil
}

func (g *GitHub) DeleteMilestone(ctx context.Context, number int) error {
	_, err := g.gh.Issues.DeleteMilestone(ctx, g.repo.Owner, g.repo.Name, number)
	return err
}

func (g *GitHub) ListWorkflowRuns(ctx context.Context, headSHA string) ([]WorkflowRun, error) {
	runs, _, err := g.gh.Actions.ListRepositoryWorkflowRuns(ctx, g.repo.Owner, g.repo.Name, &github.ListWorkflowRunsOptions{
		HeadSHA:     headSHA,
		ListOptions: github.ListOptions{PerPage: perPage},
	})
	if err != nil {
		return nil, err
	}
	out := make([]WorkflowRun, 0, len(runs.WorkflowRuns))
	for _, r := range runs.WorkflowRuns {
		out = append(out, toWorkflowRun(r))
	}
	return out, nil
}

func (g *GitHub) GetWorkflowRun(ctx context.Context, id int64) (*WorkflowRun, error) {
	r, _, err := g.gh.Actions.GetWorkflowRunByID(ctx, g.repo.Owner, g.repo.Name, id)
	if err != nil {
		return nil, err
	}
	run := toWorkflowRun(r)
	return &run, nil
}

func (g *GitHub) ListCheckRuns(ctx context.Context, ref string) ([]CheckRun, error) {
	res, _, err := g.gh.Checks.ListCheckRunsForRef(ctx, g.repo.Owner, g.repo.Name, ref, &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	})
	if err != nil {
		return nil, err
	}
	out := make([]CheckRun, 0, len(res.CheckRuns))
	for _, c := range res.CheckRuns {
		out = append(out, CheckRun{
			ID:         c.GetID(),
			Name:       c.GetName(),
			Status:     c.GetStatus(),
			Conclusion: c.GetConclusion(),
			HeadSHA:    c.GetHeadSHA(),
		})
	}
	return out, nil
}

func toIssue(is *github.Issue) *Issue {
	labels := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		labels = append(labels, l.GetName())
	}
	return &Issue{
		Number:    is.GetNumber(),
		Title:     is.GetTitle(),
		Body:      is.GetBody(),
		State:     is.GetState(),
		Labels:    labels,
		Milestone: is.GetMilestone().GetNumber(),
		URL:       is.GetHTMLURL(),
	}
}

func toPullRequest(pr *github.PullRequest) *PullRequest {
	labels := make([]string, 0, len(pr.Labels))
	for _, l := range pr.Labels {
		labels = append(labels, l.GetName())
	}
	return &PullRequest{
		Number:  pr.GetNumber(),
		Title:   pr.GetTitle(),
		Body:    pr.GetBody(),
		State:   pr.GetState(),
		Head:    pr.GetHead().GetRef(),
		HeadSHA: pr.GetHead().GetSHA(),
		Base:    pr.GetBase().GetRef(),
		Merged:  pr.GetMerged(),
		Labels:  labels,
		URL:     pr.GetHTMLURL(),
	}
}

func toMilestone(m *github.Milestone) *Milestone {
	return &Milestone{
		Number:       m.GetNumber(),
		Title:        m.GetTitle(),
		Description:  m.GetDescription(),
		State:        m.GetState(),
		OpenIssues:   m.GetOpenIssues(),
		ClosedIssues: m.GetClosedIssues(),
	}
}

func toWorkflowRun(r *github.WorkflowRun) WorkflowRun {
	return WorkflowRun{
		ID:         r.GetID(),
		Name:       r.GetName(),
		Event:      r.GetEvent(),
		Status:     r.GetStatus(),
		Conclusion: r.GetConclusion(),
		HeadSHA:    r.GetHeadSHA(),
		RunAttempt: r.GetRunAttempt(),
		CreatedAt:  r.GetCreatedAt().Time,
	}
}
