// Package config loads the harness settings.
// Precedence: defaults < config file (.wfprobe.yaml) < env < flags.
package config

import (
	"fmt"
	"time"

	"github.com/roach88/wfprobe/internal/fixture"
	"github.com/roach88/wfprobe/internal/gateway"
	"github.com/roach88/wfprobe/internal/wait"
)

// DefaultRepo is the disposable repository the harness targets unless
// told otherwise. It must not be the project's main repository.
const DefaultRepo = "roach88/wfprobe-sandbox"

// Config is the effective harness configuration.
type Config struct {
	Repo     string         `mapstructure:"repo" json:"repo"`
	Token    string         `mapstructure:"token" json:"-"`
	Marker   MarkerConfig   `mapstructure:"marker" json:"marker"`
	Retry    RetryConfig    `mapstructure:"retry" json:"retry"`
	Waits    WaitsConfig    `mapstructure:"waits" json:"waits"`
	Recovery RecoveryConfig `mapstructure:"recovery" json:"recovery"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup" json:"cleanup"`
	Log      LogConfig      `mapstructure:"log" json:"log"`
	Autorun  AutorunConfig  `mapstructure:"autorun" json:"autorun"`
}

// MarkerConfig identifies harness-created resources.
type MarkerConfig struct {
	TitlePrefix string `mapstructure:"title_prefix" json:"title_prefix"`
	Label       string `mapstructure:"label" json:"label"`
}

// RetryConfig bounds the gateway's rate-limit retries.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts"`
	DefaultWait time.Duration `mapstructure:"default_wait" json:"default_wait"`
	MaxWait     time.Duration `mapstructure:"max_wait" json:"max_wait"`
}

// WaitConfig is one poll preset.
type WaitConfig struct {
	Initial  time.Duration `mapstructure:"initial" json:"initial"`
	Interval time.Duration `mapstructure:"interval" json:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

// WaitsConfig holds a preset per kind of asynchronous effect.
type WaitsConfig struct {
	Label       WaitConfig `mapstructure:"label" json:"label"`
	CheckRun    WaitConfig `mapstructure:"check_run" json:"check_run"`
	Milestone   WaitConfig `mapstructure:"milestone" json:"milestone"`
	WorkflowRun WaitConfig `mapstructure:"workflow_run" json:"workflow_run"`
}

// RecoveryConfig describes the recovery automation under test.
type RecoveryConfig struct {
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
}

// CleanupConfig bounds the cleanup phase.
type CleanupConfig struct {
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
}

// AutorunConfig configures the autorun command.
type AutorunConfig struct {
	// ProfilesFile replaces the built-in profiles when set.
	ProfilesFile string `mapstructure:"profiles_file" json:"profiles_file"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{
		Repo: DefaultRepo,
		Marker: MarkerConfig{
			TitlePrefix: fixture.DefaultMarker().TitlePrefix,
			Label:       fixture.DefaultMarker().Label,
		},
		Retry: RetryConfig{
			MaxAttempts: gateway.DefaultMaxAttempts,
			DefaultWait: time.Minute,
			MaxWait:     5 * time.Minute,
		},
		Waits: WaitsConfig{
			Label:       WaitConfig{Initial: 10 * time.Second, Interval: 5 * time.Second, Timeout: time.Minute},
			CheckRun:    WaitConfig{Initial: 20 * time.Second, Interval: 10 * time.Second, Timeout: 3 * time.Minute},
			Milestone:   WaitConfig{Initial: 10 * time.Second, Interval: 10 * time.Second, Timeout: 2 * time.Minute},
			WorkflowRun: WaitConfig{Initial: 30 * time.Second, Interval: 10 * time.Second, Timeout: 90 * time.Second},
		},
		Recovery: RecoveryConfig{MaxRetries: 3},
		Cleanup:  CleanupConfig{Timeout: 5 * time.Minute},
		Log:      LogConfig{Level: "info"},
	}
}

// RequireToken fails when no API token is configured.
func (c Config) RequireToken() error {
	if c.Token == "" {
		return fmt.Errorf("no API token: set GITHUB_TOKEN (or GH_TOKEN)")
	}
	return nil
}

// FixtureMarker converts the marker settings.
func (m MarkerConfig) FixtureMarker() fixture.Marker {
	return fixture.Marker{TitlePrefix: m.TitlePrefix, Label: m.Label}
}

// Policy builds the gateway retry policy.
func (r RetryConfig) Policy() gateway.Policy {
	p := gateway.DefaultPolicy(r.DefaultWait, r.MaxWait)
	p.MaxAttempts = r.MaxAttempts
	return p
}

// Options converts a preset to waiter options.
func (w WaitConfig) Options() wait.Options {
	return wait.Options{InitialWait: w.Initial, Interval: w.Interval, Timeout: w.Timeout}
}
