// Package cleanup tears down every resource recorded in the run ledger.
//
// Kinds are processed in dependency order (pull requests, branches, issues,
// milestones) and, within a kind, most recently created first. Each action is
// isolated: a failure is logged, recorded in the ledger and counted, and the
// manager moves on. A resource that is already gone counts as cleaned.
// Resources with a successful outcome are never touched again, so running
// the manager twice is safe.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/roach88/wfprobe/internal/apierr"
	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/ledger"
	"github.com/roach88/wfprobe/internal/logging"
	"github.com/roach88/wfprobe/internal/tracker"
)

// Tally counts cleanup actions for one kind.
type Tally struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Settled counts resources cleaned by an earlier run and skipped.
	Settled int `json:"settled"`
}

// Failure is one resource that could not be cleaned.
type Failure struct {
	Kind  ledger.Kind `json:"kind"`
	ID    string      `json:"id"`
	Error string      `json:"error"`
}

// Report summarises a cleanup run.
type Report struct {
	Kinds    map[ledger.Kind]Tally `json:"kinds"`
	Failures []Failure             `json:"failures,omitempty"`
}

// Complete reports whether every tracked resource is cleaned.
func (r Report) Complete() bool { return len(r.Failures) == 0 }

// Total sums the per-kind tallies.
func (r Report) Total() Tally {
	var t Tally
	for _, k := range r.Kinds {
		t.Attempted += k.Attempted
		t.Succeeded += k.Succeeded
		t.Failed += k.Failed
		t.Settled += k.Settled
	}
	return t
}

func (r Report) String() string {
	var b strings.Builder
	total := r.Total()
	fmt.Fprintf(&b, "Cleanup: %d attempted, %d succeeded, %d failed", total.Attempted, total.Succeeded, total.Failed)
	if total.Settled > 0 {
		fmt.Fprintf(&b, ", %d already cleaned", total.Settled)
	}
	b.WriteByte('\n')
	for _, kind := range ledger.CleanupOrder {
		t, ok := r.Kinds[kind]
		if !ok || (t.Attempted == 0 && t.Settled == 0) {
			continue
		}
		fmt.Fprintf(&b, "  %-13s %d/%d\n", kind, t.Succeeded, t.Attempted)
	}
	failures := append([]Failure(nil), r.Failures...)
	sort.SliceStable(failures, func(i, j int) bool { return kindRank(failures[i].Kind) < kindRank(failures[j].Kind) })
	for _, f := range failures {
		fmt.Fprintf(&b, "  LEAKED %s %s: %s\n", f.Kind, f.ID, f.Error)
	}
	return b.String()
}

func kindRank(k ledger.Kind) int {
	for i, o := range ledger.CleanupOrder {
		if o == k {
			return i
		}
	}
	return len(ledger.CleanupOrder)
}

// Manager removes tracked resources.
type Manager struct {
	client tracker.Client
	gw     *gateway.Gateway
	ledger *ledger.Ledger
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager.
func New(client tracker.Client, gw *gateway.Gateway, led *ledger.Ledger, opts ...Option) *Manager {
	m := &Manager{
		client: client,
		gw:     gw,
		ledger: led,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run cleans every pending resource and returns the report. It never
// returns early: ledger read failures are reported as failures too.
func (m *Manager) Run(ctx context.Context) Report {
	report := Report{Kinds: make(map[ledger.Kind]Tally, len(ledger.CleanupOrder))}

	for _, kind := range ledger.CleanupOrder {
		tally := Tally{}

		all, err := m.ledger.List(ctx, kind)
		if err == nil {
			var pending []ledger.Resource
			pending, err = m.ledger.Pending(ctx, kind)
			if err == nil {
				tally.Settled = len(all) - len(pending)
				for _, r := range pending {
					tally.Attempted++
					if ferr := m.cleanOne(ctx, r); ferr != nil {
						tally.Failed++
						report.Failures = append(report.Failures, Failure{Kind: kind, ID: r.ID, Error: ferr.Error()})
					} else {
						tally.Succeeded++
					}
				}
			}
		}
		if err != nil {
			m.logger.Error("cannot read ledger", "kind", kind, "error", err)
			report.Failures = append(report.Failures, Failure{Kind: kind, Error: fmt.Sprintf("read ledger: %v", err)})
		}

		report.Kinds[kind] = tally
	}

	total := report.Total()
	m.logger.Info("cleanup finished",
		"attempted", total.Attempted,
		"succeeded", total.Succeeded,
		"failed", total.Failed,
		"settled", total.Settled,
	)
	return report
}

func (m *Manager) cleanOne(ctx context.Context, r ledger.Resource) error {
	status, err := m.act(ctx, r)
	detail := ""
	if err != nil {
		if gone(r.Kind, err) {
			status, err = ledger.StatusAlreadyGone, nil
			m.logger.Debug("resource already gone", "kind", r.Kind, "id", r.ID)
		} else {
			status = ledger.StatusFailed
			detail = err.Error()
			m.logger.Warn("cleanup failed", "kind", r.Kind, "id", r.ID, "error", err)
		}
	}

	if rerr := m.ledger.RecordOutcome(context.WithoutCancel(ctx), r.Seq, status, detail); rerr != nil {
		m.logger.Error("cannot record cleanup outcome", "kind", r.Kind, "id", r.ID, "error", rerr)
	}
	return err
}

func (m *Manager) act(ctx context.Context, r ledger.Resource) (ledger.Status, error) {
	switch r.Kind {
	case ledger.KindPullRequest:
		n, err := r.Number()
		if err != nil {
			return ledger.StatusFailed, err
		}
		return ledger.StatusClosed, m.gw.Call(ctx, "pulls.close", func(ctx context.Context) error {
			return m.client.ClosePullRequest(ctx, n)
		})

	case ledger.KindBranch:
		return ledger.StatusDeleted, m.gw.Call(ctx, "git.delete_ref", func(ctx context.Context) error {
			return m.client.DeleteBranch(ctx, r.ID)
		})

	case ledger.KindIssue:
		n, err := r.Number()
		if err != nil {
			return ledger.StatusFailed, err
		}
		closed := tracker.StateClosed
		return ledger.StatusClosed, m.gw.Call(ctx, "issues.close", func(ctx context.Context) error {
			_, err := m.client.UpdateIssue(ctx, n, tracker.IssueUpdate{State: &closed})
			return err
		})

	case ledger.KindMilestone:
		n, err := r.Number()
		if err != nil {
			return ledger.StatusFailed, err
		}
		return ledger.StatusDeleted, m.gw.Call(ctx, "milestones.delete", func(ctx context.Context) error {
			return m.client.DeleteMilestone(ctx, n)
		})
	}
	return ledger.StatusFailed, fmt.Errorf("unknown resource kind %q", r.Kind)
}

// gone reports whether err means the resource no longer exists. Deleting a
// missing git ref answers 422 rather than 404.
func gone(kind ledger.Kind, err error) bool {
	e := apierr.Classify(err)
	if e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone {
		return true
	}
	return kind == ledger.KindBranch && e.Kind == apierr.Validation
}
