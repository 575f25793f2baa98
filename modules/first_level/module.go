package first_level

import (
	"context"
	"fmt"

	"github.com/vk/fmriflow/internal/glm"
	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the first_level step.
type Input struct {
	Model    int     `arg:"model"`
	Input    string  `arg:"input"`
	TR       float64 `arg:"tr"`
	HighPass float64 `arg:"high_pass"`
	Motion   bool    `arg:"motion_confounds"`
	Mask     string  `arg:"mask"`
}

func newInput() any {
	return &Input{Model: 1, Input: "bold_mcf.nii.gz", HighPass: 128}
}

// OnRunFirstLevel fits the GLM of every run with onsets.
func OnRunFirstLevel(ctx context.Context, deps *registry.Deps, in *Input) error {
	if in.Model < 1 {
		return fmt.Errorf("model must be at least 1, got %d", in.Model)
	}
	return glm.New(deps.Runner, deps.Headers).FirstLevel(ctx, deps.Subject, glm.Options{
		Model:    in.Model,
		Input:    in.Input,
		TR:       in.TR,
		HighPass: in.HighPass,
		Motion:   in.Motion,
		Mask:     in.Mask,
	})
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("first_level", &registry.RegisteredRunner{
		NewInput: newInput,
		Fn:       OnRunFirstLevel,
	})
}
