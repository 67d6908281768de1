// Package autorun picks an automation profile for an issue and posts a
// diagnostic comment explaining the choice.
package autorun

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/wfprobe/internal/tracker"
)

// Auto selects the profile from the issue's labels and title.
const Auto = "auto"

//go:embed profiles.yaml
var builtinProfiles []byte

// Profile is one automation agent configuration.
type Profile struct {
	Name         string   `yaml:"name" json:"name"`
	Description  string   `yaml:"description" json:"description"`
	Labels       []string `yaml:"labels,omitempty" json:"labels,omitempty"`
	Keywords     []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Instructions string   `yaml:"instructions" json:"instructions"`
}

// Profiles is a profile file.
type Profiles struct {
	Default  string    `yaml:"default"`
	Profiles []Profile `yaml:"profiles"`
}

// Builtin returns the embedded profiles.
func Builtin() (*Profiles, error) {
	return Parse(builtinProfiles)
}

// Load reads profiles from path, or the embedded set when path is empty.
func Load(path string) (*Profiles, error) {
	if path == "" {
		return Builtin()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles file: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a profile file, rejecting unknown fields.
func Parse(data []byte) (*Profiles, error) {
	var p Profiles
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, fmt.Errorf("invalid profiles: %w", err)
	}
	return &p, nil
}

func (p *Profiles) validate() error {
	if len(p.Profiles) == 0 {
		return fmt.Errorf("profiles list is required and must be non-empty")
	}
	seen := make(map[string]bool, len(p.Profiles))
	for i, prof := range p.Profiles {
		name := strings.TrimSpace(prof.Name)
		if name == "" {
			return fmt.Errorf("profiles[%d]: name is required", i)
		}
		if strings.EqualFold(name, Auto) {
			return fmt.Errorf("profiles[%d]: %q is reserved", i, Auto)
		}
		if seen[strings.ToLower(name)] {
			return fmt.Errorf("profiles[%d]: duplicate name %q", i, name)
		}
		seen[strings.ToLower(name)] = true
		if strings.TrimSpace(prof.Instructions) == "" {
			return fmt.Errorf("profiles[%d] (%s): instructions are required", i, name)
		}
	}
	if p.Default == "" {
		return fmt.Errorf("default is required")
	}
	if _, ok := p.Get(p.Default); !ok {
		return fmt.Errorf("default profile %q is not defined", p.Default)
	}
	return nil
}

// Get returns the profile with name, ignoring case.
func (p *Profiles) Get(name string) (Profile, bool) {
	for _, prof := range p.Profiles {
		if strings.EqualFold(prof.Name, strings.TrimSpace(name)) {
			return prof, true
		}
	}
	return Profile{}, false
}

// Names returns the profile names sorted.
func (p *Profiles) Names() []string {
	names := make([]string, 0, len(p.Profiles))
	for _, prof := range p.Profiles {
		names = append(names, prof.Name)
	}
	sort.Strings(names)
	return names
}

// Select resolves agent for issue. An explicit name must exist; Auto
// matches labels first, then title keywords, then falls back to the
// default. The reason describes why the profile was chosen.
func (p *Profiles) Select(agent string, issue *tracker.Issue) (Profile, string, error) {
	agent = strings.TrimSpace(agent)
	if agent == "" || strings.EqualFold(agent, Auto) {
		prof, reason := p.Match(issue)
		return prof, reason, nil
	}
	prof, ok := p.Get(agent)
	if !ok {
		return Profile{}, "", fmt.Errorf("unknown agent %q (known: %s, %s)", agent, strings.Join(p.Names(), ", "), Auto)
	}
	return prof, "requested explicitly", nil
}

// Match picks the first profile whose labels, then title keywords, match
// issue.
func (p *Profiles) Match(issue *tracker.Issue) (Profile, string) {
	for _, prof := range p.Profiles {
		for _, l := range prof.Labels {
			if issue.HasLabel(l) {
				return prof, fmt.Sprintf("label %q", l)
			}
		}
	}
	words := titleWords(issue.Title)
	for _, prof := range p.Profiles {
		for _, k := range prof.Keywords {
			if words[strings.ToLower(k)] {
				return prof, fmt.Sprintf("title keyword %q", k)
			}
		}
	}
	prof, _ := p.Get(p.Default)
	return prof, "no label or title keyword matched; using default"
}

func titleWords(title string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
	}) {
		words[w] = true
	}
	return words
}
