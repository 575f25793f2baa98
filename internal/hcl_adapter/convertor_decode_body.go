package hcl_adapter

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// DecodeArguments iterates through the fields of a Go struct, finds the
// corresponding HCL arguments, and uses the recursive `decode` helper to
// populate them. Fields are bound with `arg:"name"` or
// `arg:"name,required"`; omitted optional arguments keep the value already
// in the struct. Arguments that no field claims are an error.
func (c *Converter) DecodeArguments(ctx context.Context, target any, args map[string]hcl.Expression) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting HCL arguments decoding.", "count", len(args))

	structVal := reflect.ValueOf(target)
	if structVal.Kind() != reflect.Ptr || structVal.IsNil() || structVal.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a non-nil pointer to a struct, got %T", target)
	}
	structVal = structVal.Elem()
	structType := structVal.Type()

	known := make(map[string]struct{}, structType.NumField())
	for i := 0; i < structType.NumField(); i++ {
		fieldDef := structType.Field(i)
		fieldVal := structVal.Field(i)

		if !fieldDef.IsExported() || !fieldVal.CanSet() {
			continue
		}

		name, required := parseArgTag(fieldDef.Tag.Get("arg"))
		if name == "" || name == "-" {
			continue
		}
		known[name] = struct{}{}

		argExpr, provided := args[name]
		if !provided {
			if required {
				return fmt.Errorf("missing required argument %q", name)
			}
			continue
		}

		val, diags := argExpr.Value(c.evalCtx)
		if diags.HasErrors() {
			return fmt.Errorf("argument '%s': %w", name, diags)
		}

		if err := c.decode(ctx, val, fieldVal); err != nil {
			return fmt.Errorf("failed to decode argument '%s': %w", name, err)
		}
	}

	var unknown []string
	for name := range args {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unsupported argument(s): %s", strings.Join(unknown, ", "))
	}

	logger.Debug("Finished HCL arguments decoding successfully.")
	return nil
}

func parseArgTag(tag string) (name string, required bool) {
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "required" {
			required = true
		}
	}
	return parts[0], required
}

// fieldType derives the cty type a Go field expects. Types gocty cannot
// describe, such as interfaces, accept any value.
func fieldType(t reflect.Type) cty.Type {
	if t.Kind() == reflect.Interface {
		return cty.DynamicPseudoType
	}
	ty, err := gocty.ImpliedType(reflect.Zero(t).Interface())
	if err != nil {
		return cty.DynamicPseudoType
	}
	return ty
}
