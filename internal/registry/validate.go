package registry

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/vk/fmriflow/internal/config"
	"github.com/vk/fmriflow/internal/ctxlog"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	depsType    = reflect.TypeOf((*Deps)(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// ValidateRegistry performs a strict check of every handler's Go signature
// against its input struct.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, stepType := range r.Types() {
		handler := r.HandlerRegistry[stepType]
		if handler.NewInput == nil {
			errs = append(errs, fmt.Sprintf("step '%s': handler has no NewInput constructor", stepType))
			continue
		}
		input := reflect.TypeOf(handler.NewInput())
		if input == nil || input.Kind() != reflect.Ptr || input.Elem().Kind() != reflect.Struct {
			errs = append(errs, fmt.Sprintf("step '%s': NewInput must return a pointer to a struct, got %v", stepType, input))
			continue
		}

		fn := reflect.TypeOf(handler.Fn)
		if fn == nil || fn.Kind() != reflect.Func {
			errs = append(errs, fmt.Sprintf("step '%s': handler Fn is not a function", stepType))
			continue
		}
		if fn.NumIn() != 3 || fn.In(0) != contextType || fn.In(1) != depsType || fn.In(2) != input ||
			fn.NumOut() != 1 || fn.Out(0) != errorType {
			errs = append(errs, fmt.Sprintf("step '%s': handler must be func(context.Context, *registry.Deps, %s) error, got %s", stepType, input, fn))
			continue
		}

		seen := make(map[string]string)
		for i := 0; i < input.Elem().NumField(); i++ {
			field := input.Elem().Field(i)
			if !field.IsExported() {
				continue
			}
			name := strings.Split(field.Tag.Get("arg"), ",")[0]
			if name == "" || name == "-" {
				continue
			}
			if other, dup := seen[name]; dup {
				errs = append(errs, fmt.Sprintf("step '%s': argument '%s' bound by both %s and %s", stepType, name, other, field.Name))
			}
			seen[name] = field.Name
		}
		logger.Debug("Validated step handler.", "step_type", stepType, "arguments", len(seen))
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// ValidateModel checks that every step of the pipeline names a registered
// type and runs in a scope that type supports.
func (r *Registry) ValidateModel(model *config.Model) error {
	var errs []string
	for _, step := range model.Steps {
		handler, ok := r.HandlerRegistry[step.Type]
		if !ok {
			errs = append(errs, fmt.Sprintf("step '%s': unknown step type '%s'", step.Address(), step.Type))
			continue
		}
		if !handler.Allows(step.Scope) {
			errs = append(errs, fmt.Sprintf("step '%s': scope '%s' is not supported by step type '%s'", step.Address(), step.Scope, step.Type))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pipeline validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
