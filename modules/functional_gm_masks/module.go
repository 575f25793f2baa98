package functional_gm_masks

import (
	"context"

	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type Input struct{}

// OnRunFunctionalGMMasks resamples the anatomical grey matter mask into the
// space of every run.
func OnRunFunctionalGMMasks(ctx context.Context, deps *registry.Deps, _ *Input) error {
	return deps.Preproc.GenerateFunctionalGMMasks(ctx, deps.Subject)
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("functional_gm_masks", &registry.RegisteredRunner{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunFunctionalGMMasks,
	})
}
