package dag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fmriflow/internal/config"
)

func step(typ, name string, scope config.Scope, deps ...string) *config.Step {
	return &config.Step{Type: typ, Name: name, Scope: scope, DependsOn: deps}
}

func depIDs(n *Node) []string {
	ids := make([]string, len(n.Deps))
	for i, d := range n.Deps {
		ids[i] = d.ID
	}
	return ids
}

func TestBuild(t *testing.T) {
	model := &config.Model{Steps: []*config.Step{
		step("brain_extraction", "anat", config.ScopeSubject),
		step("searchlight", "sl", config.ScopeSubject, "brain_extraction.anat"),
		step("group_map", "acc", config.ScopeGroup, "searchlight.sl"),
		step("archive", "results", config.ScopeSubject, "group_map.acc"),
		step("notify", "done", config.ScopeGroup, "group_map.acc"),
	}}

	plan, err := Build(context.Background(), model, []string{"sub001", "sub002"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"group/group_map.acc",
		"group/notify.done",
		"sub001/archive.results",
		"sub001/brain_extraction.anat",
		"sub001/searchlight.sl",
		"sub002/archive.results",
		"sub002/brain_extraction.anat",
		"sub002/searchlight.sl",
	}, plan.IDs())
	assert.Equal(t, []string{
		"sub001/brain_extraction.anat",
		"sub001/searchlight.sl",
		"sub002/brain_extraction.anat",
		"sub002/searchlight.sl",
		"group/group_map.acc",
		"group/notify.done",
		"sub001/archive.results",
		"sub002/archive.results",
	}, plan.Order)

	assert.Equal(t, []string{"sub001/brain_extraction.anat"}, depIDs(plan.Nodes["sub001/searchlight.sl"]))
	assert.Equal(t, []string{"sub001/searchlight.sl", "sub002/searchlight.sl"}, depIDs(plan.Nodes["group/group_map.acc"]))
	assert.Equal(t, []string{"group/group_map.acc"}, depIDs(plan.Nodes["sub002/archive.results"]))
	assert.Equal(t, []string{"group/group_map.acc"}, depIDs(plan.Nodes["group/notify.done"]))

	group := plan.Nodes["group/group_map.acc"]
	assert.True(t, group.IsGroup())
	assert.Len(t, group.Dependents, 3)
	assert.EqualValues(t, 2, group.depCount.Load())
	assert.Equal(t, Pending, group.State())
}

func TestBuildWithoutSubjects(t *testing.T) {
	model := &config.Model{Steps: []*config.Step{
		step("searchlight", "sl", config.ScopeSubject),
		step("group_map", "acc", config.ScopeGroup, "searchlight.sl"),
	}}
	plan, err := Build(context.Background(), model, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"group/group_map.acc"}, plan.IDs())
	assert.Empty(t, plan.Nodes["group/group_map.acc"].Deps)
}

func TestBuildErrors(t *testing.T) {
	testCases := []struct {
		name    string
		steps   []*config.Step
		wantErr string
	}{
		{
			name: "cycle",
			steps: []*config.Step{
				step("a", "x", config.ScopeSubject, "b.x"),
				step("b", "x", config.ScopeSubject, "a.x"),
			},
			wantErr: "cycle detected",
		},
		{
			name:    "self reference",
			steps:   []*config.Step{step("a", "x", config.ScopeSubject, "a.x")},
			wantErr: "self-referential edge",
		},
		{
			name:    "unknown dependency",
			steps:   []*config.Step{step("a", "x", config.ScopeSubject, "b.x")},
			wantErr: "source node not found: b.x",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// No subjects: cycles must still be reported.
			_, err := Build(context.Background(), &config.Model{Steps: tc.steps}, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
