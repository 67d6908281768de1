package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// DefaultConfigFile is read from the working directory when present and no
// path is given.
const DefaultConfigFile = ".wfprobe.yaml"

// EnvPrefix prefixes environment overrides, e.g. HARNESS_RECOVERY_MAX_RETRIES.
const EnvPrefix = "HARNESS"

// LoadOptions controls configuration loading.
type LoadOptions struct {
	// ConfigPath is an explicit config file; it must exist.
	ConfigPath string
	// FlagOverrides are highest-priority values from CLI flags (dot-notated keys).
	FlagOverrides map[string]any
	// Getenv replaces os.Getenv, for tests.
	Getenv func(string) string
}

// Load returns the effective configuration after applying precedence:
// defaults < config file < env < flags. The result is validated.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := readConfigFile(v, opts.ConfigPath); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(v, opts.Getenv)
	for k, val := range opts.FlagOverrides {
		v.Set(k, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Repo = strings.TrimSpace(cfg.Repo)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults seeds viper with built-in defaults.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()

	v.SetDefault("repo", def.Repo)
	v.SetDefault("token", def.Token)

	v.SetDefault("marker.title_prefix", def.Marker.TitlePrefix)
	v.SetDefault("marker.label", def.Marker.Label)

	v.SetDefault("retry.max_attempts", def.Retry.MaxAttempts)
	v.SetDefault("retry.default_wait", def.Retry.DefaultWait)
	v.SetDefault("retry.max_wait", def.Retry.MaxWait)

	setWaitDefaults(v, "waits.label", def.Waits.Label)
	setWaitDefaults(v, "waits.check_run", def.Waits.CheckRun)
	setWaitDefaults(v, "waits.milestone", def.Waits.Milestone)
	setWaitDefaults(v, "waits.workflow_run", def.Waits.WorkflowRun)

	v.SetDefault("recovery.max_retries", def.Recovery.MaxRetries)
	v.SetDefault("cleanup.timeout", def.Cleanup.Timeout)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("autorun.profiles_file", def.Autorun.ProfilesFile)
}

func setWaitDefaults(v *viper.Viper, prefix string, w WaitConfig) {
	v.SetDefault(prefix+".initial", w.Initial)
	v.SetDefault(prefix+".interval", w.Interval)
	v.SetDefault(prefix+".timeout", w.Timeout)
}

// readConfigFile merges the YAML config file. An explicit path must exist;
// the default file is optional.
func readConfigFile(v *viper.Viper, path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("stat config %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

// envBindings maps environment variables onto keys. The first non-empty
// variable listed for a key wins.
var envBindings = []struct {
	Key  string
	Envs []string
}{
	{"token", []string{"GITHUB_TOKEN", "GH_TOKEN"}},
	{"repo", []string{"HARNESS_REPO"}},
	{"log.level", []string{"HARNESS_LOG_LEVEL"}},
}

// applyEnvOverrides applies the explicit bindings, then HARNESS_<KEY> for
// every other known key.
func applyEnvOverrides(v *viper.Viper, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	bound := make(map[string]bool, len(envBindings))
	for _, b := range envBindings {
		bound[b.Key] = true
		for _, env := range b.Envs {
			if val := getenv(env); val != "" {
				v.Set(b.Key, val)
				break
			}
		}
	}
	for _, key := range v.AllKeys() {
		if bound[key] {
			continue
		}
		if val := getenv(EnvName(key)); val != "" {
			v.Set(key, val)
		}
	}
}

// EnvName is the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
