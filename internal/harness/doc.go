// Package harness runs end-to-end cases against a live tracker and the
// automation attached to it.
//
// # Model
//
// A Suite registers TestCases into a Registry. The Orchestrator runs the
// selected cases strictly in registration order, one at a time, each against
// a per-case view of the shared Session (tracker client, gateway, ledger,
// fixture factory, failure injector and waiter). Every case yields exactly one
// TestResult: pass, fail or skip.
//
// # Lifecycle
//
//	Idle -> Running(case 1) -> ... -> Running(case n) -> Reporting -> Cleaning -> Done
//
// Errors and panics inside a case are captured into a fail result and never
// stop the run. When the run context is cancelled the remaining cases are
// reported as skipped and the orchestrator moves straight to reporting.
// Cleanup always runs, on a context detached from the run context and bounded
// by the cleanup timeout, so an interrupt still tears down what was created.
//
// # Writing cases
//
//	r.Add("applies-marker", func(ctx context.Context, s *harness.Session) error {
//	    issue, err := s.Factory.CreateIssue(ctx, fixture.IssueSpec{Title: "marker"})
//	    if err != nil {
//	        return err
//	    }
//	    if !issue.HasLabel(s.Factory.Marker().Label) {
//	        return fmt.Errorf("issue #%d is missing the marker label", issue.Number)
//	    }
//	    return nil
//	})
//
// Return harness.Skip(reason) when a precondition of the environment is not
// met. Resources created outside the Factory must be registered with
// Session.Track so cleanup can find them.
package harness
