package quality

import (
	"context"

	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/quality"
	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input selects the image and masks of each run.
type Input struct {
	Input        string `arg:"input"`
	GreyMask     string `arg:"grey_mask"`
	NonBrainMask string `arg:"non_brain_mask"`
}

// OnRunQuality writes the subject's SFNR/SNR report.
func OnRunQuality(ctx context.Context, deps *registry.Deps, in *Input) error {
	report, err := quality.New(deps.Study, quality.LoadNIfTI).Analyze(ctx, deps.Subject, quality.Options{
		Input:        in.Input,
		GreyMask:     in.GreyMask,
		NonBrainMask: in.NonBrainMask,
	})
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("Quality report written.", "runs", len(report.Runs), "path", quality.ReportPath(deps.Subject))
	return nil
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("quality", &registry.RegisteredRunner{
		NewInput: func() any { return new(Input) },
		Fn:       OnRunQuality,
	})
}
