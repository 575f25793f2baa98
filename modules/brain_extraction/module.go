package brain_extraction

import (
	"context"
	"fmt"

	"github.com/vk/fmriflow/internal/preproc"
	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the brain_extraction step.
type Input struct {
	Frac             float64 `arg:"frac"`
	VerticalGradient float64 `arg:"vertical_gradient"`
	// EstimateBiasField runs bias field correction first so BET works on
	// the restored image.
	EstimateBiasField bool `arg:"estimate_bias_field"`
}

func newInput() any {
	return &Input{Frac: 0.5, EstimateBiasField: true}
}

// OnRunBrainExtraction runs BET on the anatomical image until the approver
// accepts the result.
func OnRunBrainExtraction(ctx context.Context, deps *registry.Deps, in *Input) error {
	if in.Frac <= 0 || in.Frac >= 1 {
		return fmt.Errorf("frac must be between 0 and 1, got %v", in.Frac)
	}
	if in.VerticalGradient < -1 || in.VerticalGradient > 1 {
		return fmt.Errorf("vertical_gradient must be between -1 and 1, got %v", in.VerticalGradient)
	}
	if in.EstimateBiasField {
		if err := deps.Preproc.EstimateBiasField(ctx, deps.Subject); err != nil {
			return err
		}
	}
	return deps.Preproc.ExtractBrain(ctx, deps.Subject, preproc.BETParams{
		Frac:             in.Frac,
		VerticalGradient: in.VerticalGradient,
	})
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("brain_extraction", &registry.RegisteredRunner{
		NewInput: newInput,
		Fn:       OnRunBrainExtraction,
	})
}
