// Package fixture creates the remote resources test cases run against.
//
// Every resource a Factory creates is recorded in the run's ledger in the
// same call, immediately after the remote create returns its identifier and
// before any further remote call. When recording fails the created object is
// still returned together with the error so the caller can see what leaked.
package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/wfprobe/internal/apierr"
	"github.com/roach88/wfprobe/internal/clock"
	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/ledger"
	"github.com/roach88/wfprobe/internal/logging"
	"github.com/roach88/wfprobe/internal/tracker"
)

// Marker identifies harness-created resources.
type Marker struct {
	TitlePrefix string
	Label       string
}

// DefaultMarker is the marker used when none is configured.
func DefaultMarker() Marker {
	return Marker{TitlePrefix: "[TEST] ", Label: "automated-test"}
}

// Title prefixes title with the marker unless it already carries it.
func (m Marker) Title(title string) string {
	if m.TitlePrefix == "" || strings.HasPrefix(title, m.TitlePrefix) {
		return title
	}
	return m.TitlePrefix + title
}

// IssueSpec describes an issue to create.
type IssueSpec struct {
	Title  string
	Body   string
	Labels []string
}

// FileChange is a file committed to a fixture branch.
type FileChange struct {
	Path    string
	Content string
	Message string
}

// PRSpec describes a pull request to create for an issue. Empty BranchName,
// Files and Base are filled with defaults.
type PRSpec struct {
	Title      string
	Body       string
	BranchName string
	Base       string
	Files      []FileChange
}

// Factory creates tracked fixtures through the gateway.
type Factory struct {
	client tracker.Client
	gw     *gateway.Gateway
	ledger *ledger.Ledger
	marker Marker
	runID  string
	clock  clock.Clock
	logger *slog.Logger

	// caseName attributes ledger rows to a test case.
	caseName string

	state *sharedState
}

type sharedState struct {
	mu            sync.Mutex
	defaultBranch string
	// branches counts how often each default branch name was handed out.
	branches map[string]int
}

// Option configures a Factory.
type Option func(*Factory)

// WithMarker overrides the title prefix and automation label.
func WithMarker(m Marker) Option {
	return func(f *Factory) { f.marker = m }
}

// WithRunID fixes the run id (normally a fresh UUIDv7).
func WithRunID(id string) Option {
	return func(f *Factory) { f.runID = id }
}

// WithClock sets the clock used for unique names.
func WithClock(c clock.Clock) Option {
	return func(f *Factory) { f.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Factory) { f.logger = l }
}

// New creates a Factory. It fails only if a run id cannot be generated.
func New(client tracker.Client, gw *gateway.Gateway, led *ledger.Ledger, opts ...Option) (*Factory, error) {
	f := &Factory{
		client: client,
		gw:     gw,
		ledger: led,
		marker: DefaultMarker(),
		clock:  clock.Real{},
		logger: logging.Discard(),
		state:  &sharedState{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.runID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate run id: %w", err)
		}
		f.runID = id.String()
	}
	return f, nil
}

// ForCase returns a Factory that attributes created resources to name.
// It shares the ledger and cached repository state with f.
func (f *Factory) ForCase(name string) *Factory {
	c := *f
	c.caseName = name
	c.logger = f.logger.With("case", name)
	return &c
}

// RunID returns the run identifier embedded in fixture names.
func (f *Factory) RunID() string { return f.runID }

// Marker returns the configured marker.
func (f *Factory) Marker() Marker { return f.marker }

// ShortID is the 8-character run suffix used in branch names.
func (f *Factory) ShortID() string {
	compact := strings.ReplaceAll(f.runID, "-", "")
	if len(compact) <= 8 {
		return compact
	}
	// The trailing bits of a UUIDv7 are random; the leading bits are time.
	return compact[len(compact)-8:]
}

// Stamp returns <utc timestamp>-<short run id>.
func (f *Factory) Stamp() string {
	return f.clock.Now().UTC().Format("20060102T150405") + "-" + f.ShortID()
}

// UniqueName returns prefix-<utc timestamp>-<short run id>.
func (f *Factory) UniqueName(prefix string) string {
	return prefix + "-" + f.Stamp()
}

// CreateIssue opens a marker-prefixed issue carrying the automation label.
func (f *Factory) CreateIssue(ctx context.Context, spec IssueSpec) (*tracker.Issue, error) {
	labels := append([]string(nil), spec.Labels...)
	if f.marker.Label != "" && !containsFold(labels, f.marker.Label) {
		labels = append(labels, f.marker.Label)
	}
	req := tracker.IssueRequest{
		Title:  f.marker.Title(spec.Title),
		Body:   spec.Body,
		Labels: labels,
	}

	issue, err := gateway.Do(ctx, f.gw, "issues.create", func(ctx context.Context) (*tracker.Issue, error) {
		return f.client.CreateIssue(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("create issue %q: %w", req.Title, err)
	}

	if err := f.track(ctx, ledger.Resource{Kind: ledger.KindIssue, ID: strconv.Itoa(issue.Number)}); err != nil {
		return issue, err
	}
	f.logger.Info("created issue", "number", issue.Number, "title", issue.Title)
	return issue, nil
}

// CreateBranchWithCommit ensures branch exists off the default branch and
// commits files to it, one commit per file. An existing branch is reused
// and not tracked again. It returns the branch head commit SHA.
func (f *Factory) CreateBranchWithCommit(ctx context.Context, branch string, files []FileChange) (string, error) {
	head, err := gateway.Do(ctx, f.gw, "git.get_ref", func(ctx context.Context) (string, error) {
		return f.client.GetBranchSHA(ctx, branch)
	})
	switch {
	case err == nil:
		f.logger.Debug("reusing existing branch", "branch", branch)
	case apierr.IsNotFound(err):
		head, err = f.createBranch(ctx, branch)
		if err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("look up branch %s: %w", branch, err)
	}

	for _, fc := range files {
		head, err = f.commitFile(ctx, branch, fc)
		if err != nil {
			return "", err
		}
	}
	return head, nil
}

func (f *Factory) createBranch(ctx context.Context, branch string) (string, error) {
	base, err := f.DefaultBranch(ctx)
	if err != nil {
		return "", err
	}
	baseSHA, err := gateway.Do(ctx, f.gw, "git.get_ref", func(ctx context.Context) (string, error) {
		return f.client.GetBranchSHA(ctx, base)
	})
	if err != nil {
		return "", fmt.Errorf("resolve %s head: %w", base, err)
	}

	err = f.gw.Call(ctx, "git.create_ref", func(ctx context.Context) error {
		return f.client.CreateBranch(ctx, branch, baseSHA)
	})
	if err != nil {
		return "", fmt.Errorf("create branch %s: %w", branch, err)
	}

	if err := f.track(ctx, ledger.Resource{Kind: ledger.KindBranch, ID: branch}); err != nil {
		return baseSHA, err
	}
	f.logger.Info("created branch", "branch", branch, "base", base)
	return baseSHA, nil
}

func (f *Factory) commitFile(ctx context.Context, branch string, fc FileChange) (string, error) {
	blob, err := gateway.Do(ctx, f.gw, "contents.get", func(ctx context.Context) (string, error) {
		return f.client.GetFileSHA(ctx, fc.Path, branch)
	})
	if err != nil {
		return "", fmt.Errorf("look up %s on %s: %w", fc.Path, branch, err)
	}

	msg := fc.Message
	if msg == "" {
		verb := "Add"
		if blob != "" {
			verb = "Update"
		}
		msg = fmt.Sprintf("%s %s", verb, fc.Path)
	}
	w := tracker.FileWrite{
		Path:    fc.Path,
		Content: []byte(fc.Content),
		Message: msg,
		Branch:  branch,
		SHA:     blob,
	}
	commit, err := gateway.Do(ctx, f.gw, "contents.put", func(ctx context.Context) (string, error) {
		return f.client.PutFile(ctx, w)
	})
	if err != nil {
		return "", fmt.Errorf("commit %s to %s: %w", fc.Path, branch, err)
	}
	return commit, nil
}

// CreatePullRequest opens a pull request for issueNumber from a fresh
// fixture branch. The body is used verbatim, so the caller decides whether
// it carries a closing keyword.
func (f *Factory) CreatePullRequest(ctx context.Context, issueNumber int, spec PRSpec) (*tracker.PullRequest, error) {
	branch := spec.BranchName
	if branch == "" {
		branch = f.BranchName(issueNumber, spec.Title)
	}
	files := spec.Files
	if len(files) == 0 {
		files = []FileChange{f.defaultFile(issueNumber)}
	}
	base := spec.Base
	if base == "" {
		var err error
		if base, err = f.DefaultBranch(ctx); err != nil {
			return nil, err
		}
	}

	if _, err := f.CreateBranchWithCommit(ctx, branch, files); err != nil {
		return nil, err
	}

	req := tracker.PullRequestRequest{
		Title: f.marker.Title(spec.Title),
		Body:  spec.Body,
		Head:  branch,
		Base:  base,
	}
	pr, err := gateway.Do(ctx, f.gw, "pulls.create", func(ctx context.Context) (*tracker.PullRequest, error) {
		return f.client.CreatePullRequest(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("create pull request for #%d: %w", issueNumber, err)
	}

	if err := f.track(ctx, ledger.Resource{Kind: ledger.KindPullRequest, ID: strconv.Itoa(pr.Number), BranchName: branch}); err != nil {
		return pr, err
	}
	f.logger.Info("created pull request", "number", pr.Number, "issue", issueNumber, "branch", branch)
	return pr, nil
}

// BranchName is the default fixture branch for an issue:
// test/issue-<N>-<slug>-<utc timestamp>-<short run id>. A name already
// handed out in this run gets a -2, -3... suffix.
func (f *Factory) BranchName(issueNumber int, title string) string {
	name := fmt.Sprintf("test/issue-%d-%s-%s", issueNumber, Slug(title), f.Stamp())
	f.state.mu.Lock()
	defer f.state.mu.Unlock()
	if f.state.branches == nil {
		f.state.branches = make(map[string]int)
	}
	f.state.branches[name]++
	if n := f.state.branches[name]; n > 1 {
		name = fmt.Sprintf("%s-%d", name, n)
	}
	return name
}

func (f *Factory) defaultFile(issueNumber int) FileChange {
	return FileChange{
		Path: fmt.Sprintf("test-fixtures/issue-%d.md", issueNumber),
		Content: fmt.Sprintf("# Fixture for issue #%d\n\nrun: %s\ncreated: %s\n",
			issueNumber, f.runID, f.clock.Now().UTC().Format("2006-01-02T15:04:05Z")),
		Message: fmt.Sprintf("Add fixture for issue #%d", issueNumber),
	}
}

// CreateMilestone creates a marker-prefixed milestone.
func (f *Factory) CreateMilestone(ctx context.Context, title, description string) (*tracker.Milestone, error) {
	title = f.marker.Title(title)
	m, err := gateway.Do(ctx, f.gw, "milestones.create", func(ctx context.Context) (*tracker.Milestone, error) {
		return f.client.CreateMilestone(ctx, title, description)
	})
	if err != nil {
		return nil, fmt.Errorf("create milestone %q: %w", title, err)
	}

	if err := f.track(ctx, ledger.Resource{Kind: ledger.KindMilestone, ID: strconv.Itoa(m.Number)}); err != nil {
		return m, err
	}
	f.logger.Info("created milestone", "number", m.Number, "title", m.Title)
	return m, nil
}

// AssignIssueToMilestone sets the milestone of an issue.
func (f *Factory) AssignIssueToMilestone(ctx context.Context, issueNumber, milestone int) error {
	_, err := gateway.Do(ctx, f.gw, "issues.edit", func(ctx context.Context) (*tracker.Issue, error) {
		return f.client.UpdateIssue(ctx, issueNumber, tracker.IssueUpdate{Milestone: &milestone})
	})
	if err != nil {
		return fmt.Errorf("assign #%d to milestone %d: %w", issueNumber, milestone, err)
	}
	return nil
}

// AddLabels labels an issue or pull request.
func (f *Factory) AddLabels(ctx context.Context, number int, labels ...string) error {
	err := f.gw.Call(ctx, "issues.add_labels", func(ctx context.Context) error {
		return f.client.AddLabels(ctx, number, labels)
	})
	if err != nil {
		return fmt.Errorf("label #%d: %w", number, err)
	}
	return nil
}

// DefaultBranch returns the repository default branch, cached per run.
func (f *Factory) DefaultBranch(ctx context.Context) (string, error) {
	f.state.mu.Lock()
	cached := f.state.defaultBranch
	f.state.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	name, err := gateway.Do(ctx, f.gw, "repos.get", func(ctx context.Context) (string, error) {
		return f.client.DefaultBranch(ctx)
	})
	if err != nil {
		return "", fmt.Errorf("resolve default branch: %w", err)
	}

	f.state.mu.Lock()
	f.state.defaultBranch = name
	f.state.mu.Unlock()
	return name, nil
}

func (f *Factory) track(ctx context.Context, r ledger.Resource) error {
	r.Case = f.caseName
	// The remote object exists now; a cancelled run must still record it.
	if _, err := f.ledger.Record(context.WithoutCancel(ctx), r); err != nil {
		f.logger.Error("created resource could not be tracked", "kind", r.Kind, "id", r.ID, "error", err)
		return fmt.Errorf("track %s %s: %w", r.Kind, r.ID, err)
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
