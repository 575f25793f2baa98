package searchlight

import (
	"context"
	"fmt"

	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/registry"
	"github.com/vk/fmriflow/internal/searchlight"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the searchlight step.
type Input struct {
	Analysis        string     `arg:"analysis"`
	Model           int        `arg:"model"`
	ConditionGroups [][]string `arg:"condition_groups"`
	Radius          int        `arg:"radius"`
	NullDist        bool       `arg:"null_dist"`
	MaskRun         string     `arg:"mask_run"`
	DatasetTool     string     `arg:"dataset_tool"`
	SearchlightTool string     `arg:"searchlight_tool"`
}

func newInput() any {
	return &Input{Model: 1, Radius: searchlight.DefaultRadius}
}

// OnRunSearchlight runs one searchlight per condition group and warps the
// accuracy maps to MNI space.
func OnRunSearchlight(ctx context.Context, deps *registry.Deps, in *Input) error {
	if in.Radius < 1 {
		return fmt.Errorf("radius must be at least 1, got %d", in.Radius)
	}
	for i, g := range in.ConditionGroups {
		if len(g) == 0 {
			return fmt.Errorf("condition group %d is empty", i)
		}
	}
	outs, err := searchlight.New(deps.Runner, deps.FSLDir).Run(ctx, deps.Subject, searchlight.Options{
		Analysis:        in.Analysis,
		Model:           in.Model,
		ConditionGroups: in.ConditionGroups,
		Radius:          in.Radius,
		NullDist:        in.NullDist,
		MaskRun:         in.MaskRun,
		DatasetTool:     in.DatasetTool,
		SearchlightTool: in.SearchlightTool,
	})
	if err != nil {
		return err
	}
	for _, out := range outs {
		ctxlog.FromContext(ctx).Debug("Searchlight maps written.", "accuracy", out.AccuracyMNI())
	}
	return nil
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("searchlight", &registry.RegisteredRunner{
		NewInput: newInput,
		Fn:       OnRunSearchlight,
	})
}
