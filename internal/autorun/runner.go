package autorun

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/logging"
	"github.com/roach88/wfprobe/internal/tracker"
)

// CommentMarker starts every diagnostic comment so later runs and humans
// can find them.
const CommentMarker = "<!-- wfprobe:autorun -->"

// Request selects a profile for one issue.
type Request struct {
	Issue  int
	Agent  string
	DryRun bool
}

// Result describes the selection.
type Result struct {
	Issue   int     `json:"issue"`
	Title   string  `json:"title"`
	Profile Profile `json:"profile"`
	Reason  string  `json:"reason"`
	Comment string  `json:"comment"`
	Posted  bool    `json:"posted"`
}

// Runner inspects issues and posts diagnostic comments through the gateway.
type Runner struct {
	client   tracker.Client
	gw       *gateway.Gateway
	profiles *Profiles
	logger   *slog.Logger
}

// NewRunner returns a Runner. A nil logger discards output.
func NewRunner(client tracker.Client, gw *gateway.Gateway, profiles *Profiles, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{client: client, gw: gw, profiles: profiles, logger: logger}
}

// Run selects a profile for req.Issue and, unless DryRun, comments the
// diagnostic on the issue.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Issue <= 0 {
		return nil, fmt.Errorf("issue number must be positive, got %d", req.Issue)
	}

	issue, err := gateway.Do(ctx, r.gw, "issues.get", func(ctx context.Context) (*tracker.Issue, error) {
		return r.client.GetIssue(ctx, req.Issue)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch issue #%d: %w", req.Issue, err)
	}

	prof, reason, err := r.profiles.Select(req.Agent, issue)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Issue:   issue.Number,
		Title:   issue.Title,
		Profile: prof,
		Reason:  reason,
		Comment: Comment(issue, prof, reason),
	}
	r.logger.Info("selected profile", "issue", issue.Number, "profile", prof.Name, "reason", reason)

	if req.DryRun {
		return res, nil
	}
	err = r.gw.Call(ctx, "issues.comment", func(ctx context.Context) error {
		return r.client.AddComment(ctx, issue.Number, res.Comment)
	})
	if err != nil {
		return res, fmt.Errorf("comment on #%d: %w", issue.Number, err)
	}
	res.Posted = true
	return res, nil
}

// Comment renders the diagnostic comment for a selection.
func Comment(issue *tracker.Issue, prof Profile, reason string) string {
	var b strings.Builder
	fmt.Fprintln(&b, CommentMarker)
	fmt.Fprintf(&b, "**Autorun** selected profile `%s` for #%d (%s).\n", prof.Name, issue.Number, reason)
	if prof.Description != "" {
		fmt.Fprintf(&b, "\n> %s\n", prof.Description)
	}
	if len(issue.Labels) > 0 {
		fmt.Fprintf(&b, "\nLabels: %s\n", strings.Join(issue.Labels, ", "))
	}
	fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(prof.Instructions))
	return b.String()
}
