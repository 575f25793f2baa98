package non_brain_mask

import (
	"context"
	"fmt"

	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the non_brain_mask step.
type Input struct {
	Frac float64 `arg:"frac"`
}

// OnRunNonBrainMask writes masks/<run>/non_brain for every run.
func OnRunNonBrainMask(ctx context.Context, deps *registry.Deps, in *Input) error {
	if in.Frac <= 0 || in.Frac >= 1 {
		return fmt.Errorf("frac must be between 0 and 1, got %v", in.Frac)
	}
	return deps.Preproc.NonBrainMask(ctx, deps.Subject, in.Frac)
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("non_brain_mask", &registry.RegisteredRunner{
		NewInput: func() any { return &Input{Frac: 0.5} },
		Fn:       OnRunNonBrainMask,
	})
}
