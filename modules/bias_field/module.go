package bias_field

import (
	"context"

	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input is empty: FAST runs with fixed parameters.
type Input struct{}

// OnRunBiasField writes anatomy/highres001_restore.
func OnRunBiasField(ctx context.Context, deps *registry.Deps, _ *Input) error {
	return deps.Preproc.EstimateBiasField(ctx, deps.Subject)
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("bias_field", &registry.RegisteredRunner{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunBiasField,
	})
}
