package anatomical_registration

import (
	"context"

	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

type Input struct{}

// OnRunAnatomicalRegistration registers the brain image to MNI152 with FLIRT
// followed by FNIRT.
func OnRunAnatomicalRegistration(ctx context.Context, deps *registry.Deps, _ *Input) error {
	return deps.Preproc.AnatomicalRegistration(ctx, deps.Subject)
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("anatomical_registration", &registry.RegisteredRunner{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunAnatomicalRegistration,
	})
}
