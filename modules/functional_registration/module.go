package functional_registration

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vk/fmriflow/internal/preproc"
	"github.com/vk/fmriflow/internal/registry"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Input defines the arguments for the functional_registration step.
type Input struct {
	// DOF is 3, 6, 7, 9 or 12, or "BBR".
	DOF string `arg:"dof"`
}

func newInput() any {
	return &Input{DOF: "BBR"}
}

func validDOF(dof string) error {
	if strings.EqualFold(dof, "BBR") {
		return nil
	}
	switch n, err := strconv.Atoi(dof); {
	case err != nil:
		return fmt.Errorf("dof must be a number or BBR, got %q", dof)
	case n != 3 && n != 6 && n != 7 && n != 9 && n != 12:
		return fmt.Errorf("dof must be one of 3, 6, 7, 9, 12, got %d", n)
	}
	return nil
}

// OnRunFunctionalRegistration registers the middle volume of every run to
// the brain image.
func OnRunFunctionalRegistration(ctx context.Context, deps *registry.Deps, in *Input) error {
	if err := validDOF(in.DOF); err != nil {
		return err
	}
	dof := in.DOF
	if strings.EqualFold(dof, "BBR") {
		dof = "BBR"
	}
	return deps.Preproc.FunctionalRegistration(ctx, deps.Subject, preproc.FunctionalRegistrationOptions{DOF: dof})
}

// Register registers the handler with the engine.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterRunner("functional_registration", &registry.RegisteredRunner{
		NewInput: newInput,
		Fn:       OnRunFunctionalRegistration,
	})
}
