package registry

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/vk/fmriflow/internal/config"
)

// RegisteredRunner holds the compiled Go parts of a step type.
//
// Fn must have the signature
//
//	func(ctx context.Context, deps *Deps, in *T) error
//
// where *T is the type returned by NewInput.
type RegisteredRunner struct {
	// NewInput returns a pointer to the input struct, pre-filled with defaults.
	NewInput func() any
	// Scopes lists where the step may run. Empty means subject scope only.
	Scopes []config.Scope
	// DryRunSafe marks handlers that honour Deps.DryRun themselves. Other
	// handlers are not called in a dry run.
	DryRunSafe bool
	Fn         any
}

// RegisterRunner registers a Go handler for a step type.
func (r *Registry) RegisterRunner(stepType string, handler *RegisteredRunner) {
	if _, exists := r.HandlerRegistry[stepType]; exists {
		panic(fmt.Sprintf("runner handler with name '%s' already registered", stepType))
	}
	slog.Debug("Registering runner handler.", "name", stepType)
	r.HandlerRegistry[stepType] = handler
}

// Allows reports whether the step may run in the given scope.
func (h *RegisteredRunner) Allows(scope config.Scope) bool {
	if len(h.Scopes) == 0 {
		return scope == config.ScopeSubject
	}
	return slices.Contains(h.Scopes, scope)
}

// Call invokes the handler with a decoded input struct.
func (h *RegisteredRunner) Call(ctx context.Context, deps *Deps, input any) error {
	out := reflect.ValueOf(h.Fn).Call([]reflect.Value{
		reflect.ValueOf(ctx),
		reflect.ValueOf(deps),
		reflect.ValueOf(input),
	})
	if errVal := out[0]; !errVal.IsNil() {
		return errVal.Interface().(error)
	}
	return nil
}
