// This file contains the logic for translating HCL schema structs into the
// format-agnostic configuration model defined in the config package.

package hcl_adapter

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/fmriflow/internal/config"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
)

// translateStudy converts the HCL-specific study schema into the agnostic model.
func (l *Loader) translateStudy(s *Study) *config.Study {
	return &config.Study{
		Name:           s.Name,
		DataDir:        s.DataDir,
		RawDir:         s.RawDir,
		BehaviouralDir: s.BehaviouralDir,
		Subjects:       s.Subjects,
	}
}

// translateStep converts the HCL-specific step schema into the agnostic model.
func (l *Loader) translateStep(ctx context.Context, s *Step, evalCtx *hcl.EvalContext) (*config.Step, error) {
	ctx, logger := ctxlog.With(ctx, "step_type", s.Type, "step_name", s.Name)

	logger.Debug("Translating HCL step to internal config model.")

	var rawScope string
	if isExprDefined(ctx, s.Scope, "scope") {
		val, diags := s.Scope.Value(evalCtx)
		if diags.HasErrors() {
			return nil, fmt.Errorf("step '%s.%s': invalid scope: %w", s.Type, s.Name, diags)
		}
		if val.IsNull() || !val.Type().Equals(cty.String) {
			return nil, fmt.Errorf("step '%s.%s': scope must be a string", s.Type, s.Name)
		}
		rawScope = val.AsString()
	}
	scope, err := config.ParseScope(rawScope)
	if err != nil {
		return nil, fmt.Errorf("step '%s.%s': %w", s.Type, s.Name, err)
	}

	return &config.Step{
		Type:      s.Type,
		Name:      s.Name,
		Scope:     scope,
		Arguments: l.extractBodyAttributes(s.Arguments),
		DependsOn: s.DependsOn,
	}, nil
}
