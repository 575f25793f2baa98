package smoothing

import (
	"context"
	"fmt"

	"github.com/vk/fmriflow/internal/preproc"
	"github.com/vk/fmriflow/internal/registry"
)

const (
	targetAnatomical = "anatomical"
	targetFunctional = "functional"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the smoothing step.
type Input struct {
	// Target is "anatomical" or "functional".
	Target              string  `arg:"target"`
	FWHM                float64 `arg:"fwhm"`
	BrightnessThreshold float64 `arg:"brightness_threshold,required"`
}

func newInput() any {
	return &Input{Target: targetFunctional, FWHM: 5}
}

// OnRunSmoothing smooths the brain image or every motion corrected run with
// SUSAN.
func OnRunSmoothing(ctx context.Context, deps *registry.Deps, in *Input) error {
	if in.FWHM <= 0 {
		return fmt.Errorf("fwhm must be positive, got %v", in.FWHM)
	}
	if in.BrightnessThreshold <= 0 {
		return fmt.Errorf("brightness_threshold must be positive, got %v", in.BrightnessThreshold)
	}
	opts := preproc.SmoothingOptions{FWHM: in.FWHM, BrightnessThreshold: in.BrightnessThreshold}
	switch in.Target {
	case targetAnatomical:
		return deps.Preproc.AnatomicalSmoothing(ctx, deps.Subject, opts)
	case targetFunctional:
		return deps.Preproc.FunctionalSmoothing(ctx, deps.Subject, opts)
	default:
		return fmt.Errorf("invalid target %q: must be %q or %q", in.Target, targetAnatomical, targetFunctional)
	}
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("smoothing", &registry.RegisteredRunner{
		NewInput: newInput,
		Fn:       OnRunSmoothing,
	})
}
