package dag

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/fmriflow/internal/config"
	"github.com/vk/fmriflow/internal/ctxlog"
)

// Plan is an expanded pipeline ready for execution.
type Plan struct {
	Graph *Graph
	Nodes map[string]*Node
	// Order lists the node IDs so that every node follows its dependencies.
	Order []string
}

// IDs returns the node IDs in sorted order.
func (p *Plan) IDs() []string {
	ids := make([]string, 0, len(p.Nodes))
	for id := range p.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NodeID builds the ID of the node running step for subject.
func NodeID(subject string, step *config.Step) string {
	return subject + "/" + step.Address()
}

// Build expands the steps of model over subjects and links the resulting
// nodes. Cycles are detected on the step level first so they are reported
// even when no subject is selected.
func Build(ctx context.Context, model *config.Model, subjects []string) (*Plan, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: Starting graph construction.", "steps", len(model.Steps), "subjects", len(subjects))

	if err := CheckSteps(model); err != nil {
		return nil, fmt.Errorf("error validating dependency graph: %w", err)
	}

	plan := &Plan{Graph: New(), Nodes: make(map[string]*Node)}

	// First pass: create one node per subject, or one group node.
	for _, step := range model.Steps {
		for _, subject := range nodeSubjects(step, subjects) {
			id := NodeID(subject, step)
			plan.Graph.AddNode(id)
			plan.Nodes[id] = &Node{ID: id, Subject: subject, Step: step}
		}
	}
	logger.Debug("Build: Node creation complete.", "node_count", len(plan.Nodes))

	// Second pass: link dependencies.
	for _, step := range model.Steps {
		for _, depAddr := range step.DependsOn {
			dep := model.Step(depAddr)
			if dep == nil {
				return nil, fmt.Errorf("step %q depends on unknown step %q", step.Address(), depAddr)
			}
			for _, subject := range nodeSubjects(step, subjects) {
				for _, from := range upstream(dep, subject, subjects) {
					if err := plan.Graph.AddEdge(from, NodeID(subject, step)); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	// Third pass: resolve node pointers and initialize counters.
	for id, n := range plan.Nodes {
		deps, _ := plan.Graph.Dependencies(id)
		for _, d := range deps {
			n.Deps = append(n.Deps, plan.Nodes[d])
		}
		dependents, _ := plan.Graph.Dependents(id)
		for _, d := range dependents {
			n.Dependents = append(n.Dependents, plan.Nodes[d])
		}
		n.depCount.Store(int32(len(n.Deps)))
	}

	order, err := plan.Graph.Order()
	if err != nil {
		return nil, fmt.Errorf("error validating dependency graph: %w", err)
	}
	plan.Order = order
	logger.Debug("Build: Graph construction successful.")
	return plan, nil
}

// nodeSubjects returns the subjects a step expands over.
func nodeSubjects(step *config.Step, subjects []string) []string {
	if step.Scope == config.ScopeGroup {
		return []string{GroupSubject}
	}
	return subjects
}

// upstream returns the IDs a node of `subject` waits for when its step
// depends on dep. A group node waits for every subject node of a subject
// dependency.
func upstream(dep *config.Step, subject string, subjects []string) []string {
	switch {
	case dep.Scope == config.ScopeGroup:
		return []string{NodeID(GroupSubject, dep)}
	case subject == GroupSubject:
		ids := make([]string, 0, len(subjects))
		for _, s := range subjects {
			ids = append(ids, NodeID(s, dep))
		}
		return ids
	default:
		return []string{NodeID(subject, dep)}
	}
}

// CheckSteps reports dependency cycles between the steps of model, before
// any subject is expanded.
func CheckSteps(model *config.Model) error {
	g := New()
	for _, step := range model.Steps {
		g.AddNode(step.Address())
	}
	for _, step := range model.Steps {
		for _, dep := range step.DependsOn {
			if err := g.AddEdge(dep, step.Address()); err != nil {
				return err
			}
		}
	}
	return g.DetectCycles()
}
