// Package suites holds the scenario cases run against the automation under
// test. Each suite is a harness.Suite; All is the manifest the runner
// registers at startup.
//
// The cases treat the automation as a black box. They create fixtures
// through the session's factory, poll for the automation's reaction with the
// session's wait presets, and return an error describing what was not
// observed.
package suites

import "github.com/roach88/wfprobe/internal/harness"

// Names the automation under test is expected to use.
const (
	// TriageLabel is applied to every newly opened issue.
	TriageLabel = "needs-triage"
	// CircularLabel marks an issue whose dependencies include itself.
	CircularLabel = "circular-dependency"
	// LinkageCheck is the check run that verifies a pull request closes an
	// issue.
	LinkageCheck = "issue-linkage"
)

// All returns every suite in run order.
func All() []harness.Suite {
	return []harness.Suite{
		Labels{},
		Linkage{},
		Dependencies{},
		Milestones{},
		Recovery{},
		Errors{},
	}
}

// Register adds every suite to r.
func Register(r *harness.Registry) {
	for _, s := range All() {
		r.AddSuite(s)
	}
}
