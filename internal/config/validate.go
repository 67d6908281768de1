package config

import (
	_ "embed"
	"fmt"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/wfprobe/internal/tracker"
)

//go:embed schema.cue
var schemaCUE []byte

// ValidationError lists every problem found in a configuration.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// Validate checks cfg against the embedded CUE schema, then checks the
// relations between fields the schema cannot express.
func Validate(cfg Config) error {
	var problems []string

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(ctx.Encode(document(cfg)))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		for _, e := range cueerrors.Errors(err) {
			problems = append(problems, e.Error())
		}
	}

	if _, err := tracker.ParseRepo(cfg.Repo); err != nil && len(problems) == 0 {
		problems = append(problems, err.Error())
	}
	if cfg.Retry.MaxWait < cfg.Retry.DefaultWait {
		problems = append(problems, fmt.Sprintf("retry.max_wait (%s) is shorter than retry.default_wait (%s)", cfg.Retry.MaxWait, cfg.Retry.DefaultWait))
	}
	for _, w := range []struct {
		key string
		cfg WaitConfig
	}{
		{"waits.label", cfg.Waits.Label},
		{"waits.check_run", cfg.Waits.CheckRun},
		{"waits.milestone", cfg.Waits.Milestone},
		{"waits.workflow_run", cfg.Waits.WorkflowRun},
	} {
		if err := w.cfg.Options().Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", w.key, err))
		}
		if w.cfg.Timeout < w.cfg.Initial {
			problems = append(problems, fmt.Sprintf("%s.timeout (%s) is shorter than %s.initial (%s)", w.key, w.cfg.Timeout, w.key, w.cfg.Initial))
		}
	}
	if cfg.Cleanup.Timeout <= 0 {
		problems = append(problems, "cleanup.timeout must be positive")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// document renders cfg with the schema's field names and durations as
// strings.
func document(cfg Config) map[string]any {
	waitDoc := func(w WaitConfig) map[string]any {
		return map[string]any{
			"initial":  duration(w.Initial),
			"interval": duration(w.Interval),
			"timeout":  duration(w.Timeout),
		}
	}
	return map[string]any{
		"repo":  cfg.Repo,
		"token": cfg.Token,
		"marker": map[string]any{
			"title_prefix": cfg.Marker.TitlePrefix,
			"label":        cfg.Marker.Label,
		},
		"retry": map[string]any{
			"max_attempts": cfg.Retry.MaxAttempts,
			"default_wait": duration(cfg.Retry.DefaultWait),
			"max_wait":     duration(cfg.Retry.MaxWait),
		},
		"waits": map[string]any{
			"label":        waitDoc(cfg.Waits.Label),
			"check_run":    waitDoc(cfg.Waits.CheckRun),
			"milestone":    waitDoc(cfg.Waits.Milestone),
			"workflow_run": waitDoc(cfg.Waits.WorkflowRun),
		},
		"recovery": map[string]any{"max_retries": cfg.Recovery.MaxRetries},
		"cleanup":  map[string]any{"timeout": duration(cfg.Cleanup.Timeout)},
		"log":      map[string]any{"level": cfg.Log.Level},
		"autorun":  map[string]any{"profiles_file": cfg.Autorun.ProfilesFile},
	}
}

// duration formats d for the schema; negative values fail its pattern.
func duration(d time.Duration) string {
	return d.String()
}
