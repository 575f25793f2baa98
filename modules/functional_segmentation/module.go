package functional_segmentation

import (
	"context"

	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type Input struct{}

// OnRunFunctionalSegmentation segments the middle volume of every run.
func OnRunFunctionalSegmentation(ctx context.Context, deps *registry.Deps, _ *Input) error {
	return deps.Preproc.FunctionalSegmentation(ctx, deps.Subject)
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("functional_segmentation", &registry.RegisteredRunner{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunFunctionalSegmentation,
	})
}
