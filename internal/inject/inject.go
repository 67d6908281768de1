// Package inject opens pull requests whose tests fail in a chosen way, so
// the recovery automation under test can be observed reacting to them.
package inject

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/wfprobe/internal/fixture"
	"github.com/roach88/wfprobe/internal/tracker"
)

// Type is the failure mode written into the injected test file.
type Type string

const (
	// Network fails with a DNS error; recovery is expected to retry it.
	Network Type = "network"
	// Logic fails with a wrong assertion; recovery must not retry it.
	Logic Type = "logic"
	// Syntax fails to parse; recovery must not retry it.
	Syntax Type = "syntax"
)

// Types lists every failure type in a stable order.
var Types = []Type{Network, Logic, Syntax}

// ParseType validates a user-supplied failure type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown failure type %q (want network, logic or syntax)", s)
}

// Transient reports whether the failure should be retried by recovery.
func (t Type) Transient() bool { return t == Network }

// Label is the label the injected pull request is expected to carry.
func (t Type) Label() string { return "failure-injection:" + string(t) }

// Request asks for one injected failure linked to an issue.
type Request struct {
	Type        Type
	IssueNumber int
}

// Generator builds failure-injection pull requests through a fixture
// factory, so every branch and pull request it opens is tracked.
type Generator struct {
	factory *fixture.Factory
	stamp   func() string
}

// New returns a Generator backed by factory.
func New(factory *fixture.Factory) *Generator {
	return &Generator{
		factory: factory,
		stamp:   factory.Stamp,
	}
}

// Inject opens the pull request. The body references the issue without a
// closing keyword so the linkage check stays neutral.
func (g *Generator) Inject(ctx context.Context, req Request) (*tracker.PullRequest, error) {
	if _, err := ParseType(string(req.Type)); err != nil {
		return nil, err
	}
	if req.IssueNumber <= 0 {
		return nil, fmt.Errorf("inject %s failure: issue number must be positive, got %d", req.Type, req.IssueNumber)
	}

	path := FilePath(req.Type, req.IssueNumber, g.stamp())
	pr, err := g.factory.CreatePullRequest(ctx, req.IssueNumber, fixture.PRSpec{
		Title: fmt.Sprintf("Inject %s failure for #%d", req.Type, req.IssueNumber),
		Body:  Body(req),
		Files: []fixture.FileChange{{
			Path:    path,
			Content: Payload(req.Type),
			Message: fmt.Sprintf("Inject %s test failure", req.Type),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("inject %s failure: %w", req.Type, err)
	}
	if err := g.factory.AddLabels(ctx, pr.Number, req.Type.Label()); err != nil {
		return pr, fmt.Errorf("inject %s failure: %w", req.Type, err)
	}
	pr.Labels = append(pr.Labels, req.Type.Label())
	return pr, nil
}

// FilePath is tests/injected/<type>_<issue>_<stamp>.test.js.
func FilePath(t Type, issue int, stamp string) string {
	return fmt.Sprintf("tests/injected/%s_%d_%s.test.js", t, issue, stamp)
}

// Body is the pull request description for an injected failure.
func Body(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Relates to #%d\n\n", req.IssueNumber)
	fmt.Fprintf(&b, "Injected %s failure for recovery testing.\n\n", req.Type)
	if req.Type.Transient() {
		b.WriteString("Expected: recovery retries this failure.\n")
	} else {
		b.WriteString("Expected: recovery does not retry this failure.\n")
	}
	return b.String()
}

// Payload returns the test file content for t.
func Payload(t Type) string {
	switch t {
	case Network:
		return `describe('injected network failure', () => {
  it('reaches an unresolvable host', async () => {
    const res = await fetch('https://unreachable.invalid/health');
    expect(res.ok).toBe(true);
  });
});
`
	case Logic:
		return `describe('injected logic failure', () => {
  it('asserts a wrong sum', () => {
    expect(1 + 1).toBe(3);
  });
});
`
	case Syntax:
		return `describe('injected syntax failure', () => {
  it('never closes', () => {
    function broken() {
      return 1;
`
	}
	return ""
}
