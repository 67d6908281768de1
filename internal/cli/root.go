package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/wfprobe/internal/clock"
	"github.com/roach88/wfprobe/internal/config"
	"github.com/roach88/wfprobe/internal/tracker"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Repo       string
	LogLevel   string

	env Env
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Env supplies the process dependencies commands reach for. Tests replace
// them to run against an in-memory tracker.
type Env struct {
	Getenv    func(string) string
	NewClient func(cfg config.Config) (tracker.Client, error)
	Clock     clock.Clock
}

// DefaultEnv talks to GitHub with the process environment and wall clock.
func DefaultEnv() Env {
	return Env{
		Getenv:    os.Getenv,
		NewClient: newGitHubClient,
		Clock:     clock.Real{},
	}
}

func newGitHubClient(cfg config.Config) (tracker.Client, error) {
	repo, err := tracker.ParseRepo(cfg.Repo)
	if err != nil {
		return nil, err
	}
	return tracker.NewGitHub(cfg.Token, repo)
}

// NewRootCommand creates the runner command against GitHub.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWithEnv(DefaultEnv())
}

// NewRootCommandWithEnv creates the runner command with explicit
// dependencies.
func NewRootCommandWithEnv(env Env) *cobra.Command {
	if env.Getenv == nil {
		env.Getenv = os.Getenv
	}
	if env.NewClient == nil {
		env.NewClient = newGitHubClient
	}
	if env.Clock == nil {
		env.Clock = clock.Real{}
	}
	opts := &RootOptions{env: env}
	runOpts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "runner [selection...]",
		Short: "Validate issue and CI automation against a live repository",
		Long: `runner creates marked issues, pull requests and milestones in a sandbox
repository, waits for the repository's automation to react, checks the
reactions, and removes everything it created.

Selections and --filter values are globs over suite/case; a bare suite
name selects the whole suite.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuites(cmd, opts, runOpts, args)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitCommandError, "invalid flags", err)
	})

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "config file (default "+config.DefaultConfigFile+" if present)")
	cmd.PersistentFlags().StringVar(&opts.Repo, "repo", "", "target repository owner/name")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")

	cmd.Flags().StringSliceVar(&runOpts.filters, "filter", nil, "only run cases matching these globs")
	cmd.Flags().BoolVar(&runOpts.list, "list", false, "list selected cases without running them")

	cmd.AddCommand(NewAutorunCommand(opts))

	return cmd
}

// loadConfig resolves configuration with the command's flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	overrides := map[string]any{}
	if o.Repo != "" {
		overrides["repo"] = o.Repo
	}
	if o.LogLevel != "" {
		overrides["log.level"] = o.LogLevel
	}
	cfg, err := config.Load(config.LoadOptions{
		ConfigPath:    o.ConfigPath,
		FlagOverrides: overrides,
		Getenv:        o.env.Getenv,
	})
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "load configuration", err).WithReason(CodeConfig)
	}
	return cfg, nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
