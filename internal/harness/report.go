package harness

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roach88/wfprobe/internal/cleanup"
)

// Report is the end-of-run summary.
type Report struct {
	RunID       string          `json:"run_id,omitempty"`
	Results     []TestResult    `json:"results"`
	Passed      int             `json:"passed"`
	Failed      int             `json:"failed"`
	Skipped     int             `json:"skipped"`
	Interrupted bool            `json:"interrupted,omitempty"`
	Cleanup     *cleanup.Report `json:"cleanup,omitempty"`
}

func (r *Report) add(res TestResult) {
	r.Results = append(r.Results, res)
	switch res.Status {
	case StatusPass:
		r.Passed++
	case StatusFail:
		r.Failed++
	case StatusSkip:
		r.Skipped++
	}
}

// Success reports whether no case failed. Skips and cleanup failures do
// not count against it.
func (r *Report) Success() bool { return r.Failed == 0 }

// ExitCode is 1 if any case failed, 0 otherwise.
func (r *Report) ExitCode() int {
	if r.Success() {
		return 0
	}
	return 1
}

// WriteText renders the report for humans. Durations are rounded to the
// millisecond.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder
	for _, res := range r.Results {
		fmt.Fprintf(&b, "%-4s  %s", strings.ToUpper(string(res.Status)), res.Name)
		if res.Status != StatusSkip {
			fmt.Fprintf(&b, " (%s)", res.Duration.Round(time.Millisecond))
		}
		b.WriteByte('\n')
		if res.Error != "" {
			for _, line := range strings.Split(strings.TrimRight(res.Error, "\n"), "\n") {
				fmt.Fprintf(&b, "      %s\n", line)
			}
		}
	}

	b.WriteByte('\n')
	fmt.Fprintf(&b, "%d cases: %d passed, %d failed, %d skipped", len(r.Results), r.Passed, r.Failed, r.Skipped)
	if r.Interrupted {
		b.WriteString(" (interrupted)")
	}
	b.WriteByte('\n')
	if r.Cleanup != nil {
		b.WriteString(r.Cleanup.String())
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// String renders the report as text.
func (r *Report) String() string {
	var b strings.Builder
	_ = r.WriteText(&b)
	return b.String()
}
