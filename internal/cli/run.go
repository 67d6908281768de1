package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/wfprobe/internal/cleanup"
	"github.com/roach88/wfprobe/internal/config"
	"github.com/roach88/wfprobe/internal/fixture"
	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/harness"
	"github.com/roach88/wfprobe/internal/inject"
	"github.com/roach88/wfprobe/internal/ledger"
	"github.com/roach88/wfprobe/internal/logging"
	"github.com/roach88/wfprobe/internal/suites"
	"github.com/roach88/wfprobe/internal/wait"
)

type runOptions struct {
	filters []string
	list    bool
}

// runSuites runs the selected cases, always cleans up, and prints the
// report.
func runSuites(cmd *cobra.Command, opts *RootOptions, runOpts *runOptions, args []string) error {
	out := opts.formatter(cmd)
	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(err)
	}

	registry := harness.NewRegistry()
	suites.Register(registry)
	cases, err := registry.Select(append(append([]string(nil), args...), runOpts.filters...)...)
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, "select cases", err).WithReason(CodeSelection))
	}

	if runOpts.list {
		return outputList(out, cases)
	}

	if err := cfg.RequireToken(); err != nil {
		return out.Fail(WrapExitError(ExitFailure, "cannot run suites", err).WithReason(CodeNoToken))
	}

	logger, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Output: out.Diagnostics(),
		JSON:   out.JSON(),
		// JSON log lines are read by machines that need their own clock.
		ReportTimestamp: out.JSON(),
	})
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, "configure logging", err).WithReason(CodeConfig))
	}

	session, cleaner, closeLedger, err := buildSession(cfg, opts.env, logger)
	if err != nil {
		return out.Fail(WrapExitError(ExitFailure, "prepare session", err))
	}
	defer closeLedger()

	out.VerboseLog("Run %s: %d case(s) against %s", session.Factory.RunID(), len(cases), cfg.Repo)
	orch := harness.NewOrchestrator(session, cases, cleaner,
		harness.WithCleanupTimeout(cfg.Cleanup.Timeout),
		harness.WithClock(opts.env.Clock),
		harness.WithLogger(logging.Component(logger, "orchestrator")),
		harness.WithProgress(func(res harness.TestResult) {
			out.VerboseLog("%-4s  %s", strings.ToUpper(string(res.Status)), res.Name)
		}),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	report, runErr := orch.Run(ctx)

	if out.JSON() {
		err = out.Emit(reportResponse(report))
	} else {
		err = report.WriteText(out.Writer)
	}
	if err != nil {
		return err
	}

	// Only failed cases fail the run; cases cut short are already
	// reported as skipped.
	if runErr != nil {
		out.VerboseLog("%v; %d case(s) skipped", runErr, report.Skipped)
	}
	if report.ExitCode() != ExitSuccess {
		return NewExitError(ExitFailure, fmt.Sprintf("%d case(s) failed", report.Failed)).WithReason(CodeTestFailed)
	}
	return nil
}

// buildSession wires the run-wide dependencies from cfg. The returned
// func closes the ledger.
func buildSession(cfg config.Config, env Env, logger *slog.Logger) (*harness.Session, *cleanup.Manager, func(), error) {
	client, err := env.NewClient(cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create tracker client: %w", err)
	}
	gw := gateway.New(cfg.Retry.Policy(),
		gateway.WithClock(env.Clock),
		gateway.WithLogger(logging.Component(logger, "gateway")),
	)
	led, err := ledger.OpenMemory(ledger.WithClock(env.Clock))
	if err != nil {
		return nil, nil, nil, err
	}
	factory, err := fixture.New(client, gw, led,
		fixture.WithMarker(cfg.Marker.FixtureMarker()),
		fixture.WithClock(env.Clock),
		fixture.WithLogger(logging.Component(logger, "fixture")),
	)
	if err != nil {
		led.Close()
		return nil, nil, nil, err
	}

	session := &harness.Session{
		Client:   client,
		Gateway:  gw,
		Ledger:   led,
		Factory:  factory,
		Injector: inject.New(factory),
		Waiter:   wait.New(env.Clock, logging.Component(logger, "wait")),
		Waits: harness.Waits{
			Label:       cfg.Waits.Label.Options(),
			CheckRun:    cfg.Waits.CheckRun.Options(),
			Milestone:   cfg.Waits.Milestone.Options(),
			WorkflowRun: cfg.Waits.WorkflowRun.Options(),
		},
		Logger:             logger,
		MaxRecoveryRetries: cfg.Recovery.MaxRetries,
	}
	cleaner := cleanup.New(client, gw, led, cleanup.WithLogger(logging.Component(logger, "cleanup")))
	return session, cleaner, func() { led.Close() }, nil
}

// outputList prints the selected case ids.
func outputList(out *OutputFormatter, cases []harness.TestCase) error {
	ids := make([]string, 0, len(cases))
	for _, tc := range cases {
		ids = append(ids, tc.ID())
	}
	if out.Format == "json" {
		return out.Success(ids)
	}
	return out.Success(strings.Join(ids, "\n"))
}

// reportResponse wraps the report in the JSON envelope; any failed case
// makes it an error response. An interrupted run shows in the report's
// interrupted field.
func reportResponse(report *harness.Report) CLIResponse {
	resp := CLIResponse{
		Status: "ok",
		Data:   report,
		RunID:  report.RunID,
	}
	if report.Failed > 0 {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    CodeTestFailed,
			Message: fmt.Sprintf("%d case(s) failed", report.Failed),
		}
	}
	return resp
}
