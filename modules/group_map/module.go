package group_map

import (
	"context"
	"fmt"

	"github.com/vk/fmriflow/internal/config"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/grouplevel"
	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the group_map step.
type Input struct {
	Analysis     string  `arg:"analysis,required"`
	Pattern      string  `arg:"pattern"`
	Chance       float64 `arg:"chance"`
	Permutations int     `arg:"permutations"`
	Mask         string  `arg:"mask"`
}

func newInput() any {
	return &Input{Chance: 0.5}
}

// OnRunGroupMap averages the subjects' accuracy maps of one analysis.
func OnRunGroupMap(ctx context.Context, deps *registry.Deps, in *Input) error {
	if in.Permutations < 0 {
		return fmt.Errorf("permutations must not be negative, got %d", in.Permutations)
	}
	res, err := grouplevel.New(deps.Runner).GroupMap(ctx, deps.Study, grouplevel.Options{
		Analysis:     in.Analysis,
		Pattern:      in.Pattern,
		Chance:       in.Chance,
		Permutations: in.Permutations,
		Mask:         in.Mask,
	})
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Group map written.", "inputs", len(res.Inputs), "mean", res.Mean)
	return nil
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("group_map", &registry.RegisteredRunner{
		NewInput: newInput,
		Scopes:   []config.Scope{config.ScopeGroup},
		Fn:       OnRunGroupMap,
	})
}
