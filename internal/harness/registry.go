package harness

import (
	"fmt"
	"path"
	"strings"
)

// Suite groups related cases.
type Suite interface {
	Name() string
	Register(r *Registry)
}

// Registry collects cases in registration order.
type Registry struct {
	cases []TestCase
	seen  map[string]bool
	suite string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{seen: make(map[string]bool)}
}

// AddSuite registers every case of s under its name.
func (r *Registry) AddSuite(s Suite) {
	prev := r.suite
	r.suite = s.Name()
	defer func() { r.suite = prev }()
	s.Register(r)
}

// Add registers a case in the current suite.
// It panics on an empty name or a duplicate suite/name, like http.Handle.
func (r *Registry) Add(name string, run RunFunc) {
	r.AddCase(TestCase{Name: name, Run: run})
}

// AddSkipped registers a case that is always reported as skipped.
func (r *Registry) AddSkipped(name, reason string) {
	r.AddCase(TestCase{Name: name, Skip: reason})
}

// AddCase registers tc. An empty Suite is filled with the current suite.
func (r *Registry) AddCase(tc TestCase) {
	if tc.Suite == "" {
		tc.Suite = r.suite
	}
	if tc.Name == "" {
		panic("harness: case name is required")
	}
	if tc.Run == nil && tc.Skip == "" {
		panic(fmt.Sprintf("harness: case %s has no body", tc.ID()))
	}
	if r.seen[tc.ID()] {
		panic(fmt.Sprintf("harness: case %s registered twice", tc.ID()))
	}
	r.seen[tc.ID()] = true
	r.cases = append(r.cases, tc)
}

// Cases returns every registered case in order.
func (r *Registry) Cases() []TestCase {
	return append([]TestCase(nil), r.cases...)
}

// Select returns the cases whose ID matches any pattern, in registration
// order. A pattern is a path.Match glob over suite/name; a bare suite name
// selects the whole suite. No patterns selects everything.
func (r *Registry) Select(patterns ...string) ([]TestCase, error) {
	var active []string
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			if _, err := path.Match(p, ""); err != nil {
				return nil, fmt.Errorf("invalid filter %q: %w", p, err)
			}
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return r.Cases(), nil
	}

	var out []TestCase
	for _, tc := range r.cases {
		for _, p := range active {
			if matches(p, tc) {
				out = append(out, tc)
				break
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no cases match %s", strings.Join(active, ", "))
	}
	return out, nil
}

func matches(pattern string, tc TestCase) bool {
	if pattern == tc.Suite {
		return true
	}
	ok, _ := path.Match(pattern, tc.ID())
	return ok
}
