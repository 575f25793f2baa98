package slice_timing

import (
	"context"
	"fmt"

	"github.com/vk/fmriflow/internal/preproc"
	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the slice_timing step. A zero tr is read
// from each run's header.
type Input struct {
	TR          float64 `arg:"tr"`
	Interleaved bool    `arg:"interleaved"`
	Down        bool    `arg:"down"`
	// Direction is the slice axis: 1=x, 2=y, 3=z.
	Direction int `arg:"direction"`
}

func newInput() any {
	return &Input{Direction: 3}
}

// OnRunSliceTiming writes bold_mcf_st for every run.
func OnRunSliceTiming(ctx context.Context, deps *registry.Deps, in *Input) error {
	if in.Direction < 1 || in.Direction > 3 {
		return fmt.Errorf("direction must be 1, 2 or 3, got %d", in.Direction)
	}
	if in.TR < 0 {
		return fmt.Errorf("tr must not be negative, got %v", in.TR)
	}
	return deps.Preproc.SliceTimeCorrection(ctx, deps.Subject, preproc.SliceTimingOptions{
		TR:          in.TR,
		Interleaved: in.Interleaved,
		Down:        in.Down,
		Direction:   in.Direction,
	})
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("slice_timing", &registry.RegisteredRunner{
		NewInput: newInput,
		Fn:       OnRunSliceTiming,
	})
}
