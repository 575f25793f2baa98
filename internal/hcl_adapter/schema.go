package hcl_adapter

import (
	"github.com/hashicorp/hcl/v2"
)

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Studies []*Study `hcl:"study,block"`
	Steps   []*Step  `hcl:"step,block"`
	Remain  hcl.Body `hcl:",remain"`
}

// Study represents the `study` block of a pipeline file.
type Study struct {
	Name           string   `hcl:"name,label"`
	DataDir        string   `hcl:"data_dir,optional"`
	RawDir         string   `hcl:"raw_dir,optional"`
	BehaviouralDir string   `hcl:"behavioural_dir,optional"`
	Subjects       []string `hcl:"subjects,optional"`
}

// StepArgs represents the content of the 'arguments' block within a step.
type StepArgs struct {
	Body hcl.Body `hcl:",remain"`
}

// Step represents a `step` block from a pipeline file.
type Step struct {
	Type      string         `hcl:"step_type,label"`
	Name      string         `hcl:"step_name,label"`
	Scope     hcl.Expression `hcl:"scope,optional"`
	Arguments *StepArgs      `hcl:"arguments,block"`
	DependsOn []string       `hcl:"depends_on,optional"`
}
