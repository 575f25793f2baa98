package segmentation

import (
	"context"
	"fmt"

	"github.com/vk/fmriflow/internal/preproc"
	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the segmentation step.
type Input struct {
	// Threshold of the grey matter partial volume map. Zero keeps FAST's
	// hard segmentation.
	Threshold float64 `arg:"threshold"`
}

// OnRunSegmentation writes masks/anatomy/grey.
func OnRunSegmentation(ctx context.Context, deps *registry.Deps, in *Input) error {
	if in.Threshold < 0 || in.Threshold >= 1 {
		return fmt.Errorf("threshold must be in [0, 1), got %v", in.Threshold)
	}
	return deps.Preproc.Segmentation(ctx, deps.Subject, preproc.SegmentationOptions{Threshold: in.Threshold})
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("segmentation", &registry.RegisteredRunner{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunSegmentation,
	})
}
