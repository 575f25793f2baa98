package behavioural_evs

import (
	"context"

	"github.com/vk/fmriflow/internal/behav"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input describes the columns of the behavioural logs. Defaults match the
// lab's PsychoPy output.
type Input struct {
	OnsetColumn        string             `arg:"onset_column"`
	ConditionColumn    string             `arg:"condition_column"`
	ConditionSeparator string             `arg:"condition_separator"`
	ConditionField     int                `arg:"condition_field"`
	CatchColumn        string             `arg:"catch_column"`
	ExcludePattern     string             `arg:"exclude_pattern"`
	StimulusColumns    []string           `arg:"stimulus_columns"`
	DefaultDuration    float64            `arg:"default_duration"`
	Durations          map[string]float64 `arg:"durations"`
	Weight             float64            `arg:"weight"`
}

func newInput() any {
	d := behav.DefaultOptions()
	return &Input{
		OnsetColumn:        d.OnsetColumn,
		ConditionColumn:    d.ConditionColumn,
		ConditionSeparator: d.ConditionSeparator,
		ConditionField:     d.ConditionField,
		CatchColumn:        d.CatchColumn,
		ExcludePattern:     d.ExcludePattern,
		StimulusColumns:    d.StimulusColumns,
		DefaultDuration:    d.DefaultDuration,
		Durations:          d.Durations,
		Weight:             d.Weight,
	}
}

func (in *Input) options() behav.Options {
	return behav.Options{
		OnsetColumn:        in.OnsetColumn,
		ConditionColumn:    in.ConditionColumn,
		ConditionSeparator: in.ConditionSeparator,
		ConditionField:     in.ConditionField,
		CatchColumn:        in.CatchColumn,
		ExcludePattern:     in.ExcludePattern,
		StimulusColumns:    in.StimulusColumns,
		DefaultDuration:    in.DefaultDuration,
		Durations:          in.Durations,
		Weight:             in.Weight,
	}
}

// OnRunBehaviouralEVs regenerates the onset files of every model from the
// subject's behavioural logs.
func OnRunBehaviouralEVs(ctx context.Context, deps *registry.Deps, in *Input) error {
	if deps.Subject.BehaviouralPath() == "" {
		ctxlog.FromContext(ctx).Warn("Subject has no behavioural directory, skipping.")
		return nil
	}
	return behav.NewGenerator(deps.Study.TaskMapping(), in.options()).Generate(ctx, deps.Subject)
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("behavioural_evs", &registry.RegisteredRunner{
		NewInput: newInput,
		Fn:       OnRunBehaviouralEVs,
	})
}
