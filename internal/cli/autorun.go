package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/wfprobe/internal/autorun"
	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/logging"
)

// AutorunOptions holds flags for the autorun command.
type AutorunOptions struct {
	*RootOptions
	Issue  int
	Agent  string
	DryRun bool
}

// NewAutorunCommand creates the autorun command.
func NewAutorunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AutorunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "autorun",
		Short: "Pick an agent profile for an issue and post the diagnostic comment",
		Long: `autorun reads an issue, selects an agent profile for it (by label, then
by title keyword, then the default) and posts a diagnostic comment naming
the profile and its instructions.

With --agent auto the profile is chosen from the issue; any other value
names a profile. --dry-run prints the comment without posting it.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return NewExitError(ExitCommandError, fmt.Sprintf("autorun takes no arguments, got %q", args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAutorun(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Issue, "issue", 0, "issue number")
	cmd.Flags().StringVar(&opts.Agent, "agent", autorun.Auto, "profile name, or auto")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the comment instead of posting it")

	return cmd
}

func runAutorun(cmd *cobra.Command, opts *AutorunOptions) error {
	out := opts.formatter(cmd)
	if opts.Issue <= 0 {
		return out.Fail(NewExitError(ExitCommandError, fmt.Sprintf("--issue must be positive, got %d", opts.Issue)))
	}
	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(err)
	}

	profiles, err := autorun.Load(cfg.Autorun.ProfilesFile)
	if err != nil {
		return out.Fail(WrapExitError(ExitCommandError, "load profiles", err).WithReason(CodeConfig))
	}
	if !strings.EqualFold(opts.Agent, autorun.Auto) {
		if _, ok := profiles.Get(opts.Agent); !ok {
			return out.Fail(NewExitError(ExitCommandError, fmt.Sprintf("unknown agent %q (known: %s, %s)",
				opts.Agent, strings.Join(profiles.Names(), ", "), autorun.Auto)))
		}
	}

	if err := cfg.RequireToken(); err != nil {
		return out.Fail(WrapExitError(ExitFailure, "cannot run autorun", err).WithReason(CodeNoToken))
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
	client, err := opts.env.NewClient(cfg)
	if err != nil {
		return out.Fail(WrapExitError(ExitFailure, "create tracker client", err))
	}
	gw := gateway.New(cfg.Retry.Policy(),
		gateway.WithClock(opts.env.Clock),
		gateway.WithLogger(logging.Component(logger, "gateway")),
	)

	runner := autorun.NewRunner(client, gw, profiles, logging.Component(logger, "autorun"))
	res, err := runner.Run(cmd.Context(), autorun.Request{
		Issue:  opts.Issue,
		Agent:  opts.Agent,
		DryRun: opts.DryRun,
	})
	if err != nil {
		if res != nil {
			out.VerboseLog("Selected profile %s for #%d (%s)", res.Profile.Name, res.Issue, res.Reason)
		}
		return out.Fail(WrapExitError(ExitFailure, fmt.Sprintf("autorun on #%d", opts.Issue), err).WithReason(CodeAPI))
	}

	if out.JSON() {
		return out.Success(res)
	}
	w := out.Writer
	fmt.Fprint(w, res.Comment)
	if res.Posted {
		fmt.Fprintf(w, "\nPosted comment on #%d (profile %s).\n", res.Issue, res.Profile.Name)
	} else {
		fmt.Fprintf(w, "\nDry run: comment not posted to #%d (profile %s).\n", res.Issue, res.Profile.Name)
	}
	return nil
}
