package motion_correction

import (
	"context"

	"github.com/vk/fmriflow/internal/preproc"
	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the motion_correction step.
type Input struct {
	MergeTaskRuns  bool `arg:"merge_task_runs"`
	ExamplePreproc bool `arg:"example_preproc"`
}

// OnRunMotionCorrection runs MCFLIRT on every functional run.
func OnRunMotionCorrection(ctx context.Context, deps *registry.Deps, in *Input) error {
	return deps.Preproc.MotionCorrection(ctx, deps.Subject, preproc.MotionOptions{
		MergeTaskRuns:  in.MergeTaskRuns,
		ExamplePreproc: in.ExamplePreproc,
	})
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("motion_correction", &registry.RegisteredRunner{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunMotionCorrection,
	})
}
