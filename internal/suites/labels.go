package suites

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/wfprobe/internal/fixture"
	"github.com/roach88/wfprobe/internal/harness"
)

// Labels checks fixture marking and the automation's triage label.
type Labels struct{}

func (Labels) Name() string { return "labels" }

func (l Labels) Register(r *harness.Registry) {
	r.Add("applies-marker", l.appliesMarker)
	r.Add("triage-label", l.triageLabel)
}

func (Labels) appliesMarker(ctx context.Context, s *harness.Session) error {
	created, err := s.Factory.CreateIssue(ctx, fixture.IssueSpec{
		Title: "Foo",
		Body:  "Marker check.",
	})
	if err != nil {
		return err
	}

	is, err := getIssue(ctx, s, created.Number)
	if err != nil {
		return err
	}
	marker := s.Factory.Marker()
	if !strings.HasPrefix(is.Title, marker.TitlePrefix) {
		return fmt.Errorf("issue #%d title %q lacks marker %q", is.Number, is.Title, marker.TitlePrefix)
	}
	if !is.HasLabel(marker.Label) {
		return fmt.Errorf("issue #%d labels %v lack %q", is.Number, is.Labels, marker.Label)
	}
	return nil
}

func (Labels) triageLabel(ctx context.Context, s *harness.Session) error {
	is, err := s.Factory.CreateIssue(ctx, fixture.IssueSpec{
		Title: s.Factory.UniqueName("triage"),
		Body:  "New issues are triaged by automation.",
	})
	if err != nil {
		return err
	}
	return awaitLabel(ctx, s, is.Number, TriageLabel, true)
}
