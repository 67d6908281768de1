package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/roach88/wfprobe/internal/cleanup"
	"github.com/roach88/wfprobe/internal/clock"
	"github.com/roach88/wfprobe/internal/logging"
)

// DefaultCleanupTimeout bounds cleanup when none is configured.
const DefaultCleanupTimeout = 5 * time.Minute

// State is the orchestrator lifecycle position.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateReporting
	StateCleaning
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateReporting:
		return "reporting"
	case StateCleaning:
		return "cleaning"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Cleaner tears down tracked resources. *cleanup.Manager implements it.
type Cleaner interface {
	Run(ctx context.Context) cleanup.Report
}

// Orchestrator runs cases sequentially and always cleans up afterwards.
type Orchestrator struct {
	session        *Session
	cases          []TestCase
	cleaner        Cleaner
	cleanupTimeout time.Duration
	clock          clock.Clock
	logger         *slog.Logger
	progress       func(TestResult)

	mu    sync.Mutex
	state State
	ran   bool
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithCleanupTimeout bounds the cleanup phase.
func WithCleanupTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.cleanupTimeout = d }
}

// WithClock sets the clock used to time cases.
func WithClock(c clock.Clock) OrchestratorOption {
	return func(o *Orchestrator) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithProgress registers a callback invoked after each case result.
func WithProgress(fn func(TestResult)) OrchestratorOption {
	return func(o *Orchestrator) { o.progress = fn }
}

// NewOrchestrator prepares a run of cases against session.
func NewOrchestrator(session *Session, cases []TestCase, cleaner Cleaner, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		session:        session,
		cases:          append([]TestCase(nil), cases...),
		cleaner:        cleaner,
		cleanupTimeout: DefaultCleanupTimeout,
		clock:          clock.Real{},
		logger:         logging.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State, current string) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	o.logger.Debug("orchestrator state", "state", s.String(), "case", current)
}

// Run executes every case once and then cleans up. The report is always
// returned; the error is non-nil only when ctx was cancelled mid-run.
// An Orchestrator runs at most once.
func (o *Orchestrator) Run(ctx context.Context) (report *Report, err error) {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return nil, errors.New("orchestrator already ran")
	}
	o.ran = true
	o.mu.Unlock()

	report = &Report{}
	if o.session != nil && o.session.Factory != nil {
		report.RunID = o.session.Factory.RunID()
	}

	defer func() {
		o.setState(StateCleaning, "")
		if o.cleaner != nil {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cleanupTimeout)
			cr := o.cleaner.Run(cctx)
			cancel()
			report.Cleanup = &cr
			if !cr.Complete() {
				o.logger.Warn("cleanup incomplete", "leaked", len(cr.Failures))
			}
		}
		o.setState(StateDone, "")
	}()

	o.logger.Info("starting run", "cases", len(o.cases), "run_id", report.RunID)
	for i, tc := range o.cases {
		if ctx.Err() != nil {
			o.logger.Warn("run interrupted", "remaining", len(o.cases)-i)
			report.Interrupted = true
			for _, rest := range o.cases[i:] {
				o.record(report, TestResult{Name: rest.ID(), Status: StatusSkip, Error: "interrupted"})
			}
			break
		}
		o.setState(StateRunning, tc.ID())
		o.record(report, o.runCase(ctx, tc))
	}

	o.setState(StateReporting, "")
	if ctx.Err() != nil {
		report.Interrupted = true
	}
	if report.Interrupted {
		err = fmt.Errorf("run interrupted: %w", context.Cause(ctx))
	}
	o.logger.Info("run finished",
		"passed", report.Passed,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)
	return report, err
}

func (o *Orchestrator) record(report *Report, res TestResult) {
	report.add(res)
	if o.progress != nil {
		o.progress(res)
	}
}

func (o *Orchestrator) runCase(ctx context.Context, tc TestCase) TestResult {
	res := TestResult{Name: tc.ID()}
	if tc.Skip != "" {
		res.Status, res.Error = StatusSkip, tc.Skip
		return res
	}

	logger := o.logger.With("case", tc.ID())
	logger.Info("case started")
	start := o.clock.Now()
	err := o.invoke(ctx, tc)
	res.Duration = o.clock.Now().Sub(start)

	switch reason, skipped := IsSkip(err); {
	case err == nil:
		res.Status = StatusPass
	case skipped:
		res.Status, res.Error = StatusSkip, reason
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		res.Status, res.Error = StatusSkip, "interrupted"
	default:
		res.Status, res.Error = StatusFail, err.Error()
	}
	logger.Info("case finished", "status", res.Status, "duration", res.Duration)
	if res.Status == StatusFail {
		logger.Error("case failed", "error", res.Error)
	}
	return res
}

// invoke runs the case body, converting a panic into an error.
func (o *Orchestrator) invoke(ctx context.Context, tc TestCase) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("case panicked", "case", tc.ID(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	session := o.session
	if session == nil {
		session = &Session{}
	}
	return tc.Run(ctx, session.ForCase(tc.ID()))
}
