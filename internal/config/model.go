package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// Scope selects how many graph nodes a step expands into.
type Scope string

const (
	// ScopeSubject expands a step into one node per subject.
	ScopeSubject Scope = "subject"
	// ScopeGroup runs a step once for the whole study.
	ScopeGroup Scope = "group"
)

// ParseScope validates a scope string. The empty string means ScopeSubject.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeSubject:
		return ScopeSubject, nil
	case ScopeGroup:
		return ScopeGroup, nil
	default:
		return "", fmt.Errorf("invalid scope %q: must be %q or %q", s, ScopeSubject, ScopeGroup)
	}
}

// Model is the unified, format-agnostic representation of a pipeline.
type Model struct {
	Study *Study
	Steps []*Step
}

// Step returns the step with the given address, or nil.
func (m *Model) Step(address string) *Step {
	for _, s := range m.Steps {
		if s.Address() == address {
			return s
		}
	}
	return nil
}

// Study is the format-agnostic representation of the `study` block.
type Study struct {
	Name           string
	DataDir        string
	RawDir         string
	BehaviouralDir string
	// Subjects restricts the run to these subject names. Empty means every
	// subject of the study.
	Subjects []string
}

// Step is the format-agnostic representation of a `step` block.
type Step struct {
	Type      string
	Name      string
	Scope     Scope
	Arguments map[string]hcl.Expression
	DependsOn []string
}

// Address returns the `type.name` form used by `depends_on`.
func (s *Step) Address() string {
	return s.Type + "." + s.Name
}
