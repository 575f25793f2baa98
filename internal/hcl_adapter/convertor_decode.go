package hcl_adapter

import (
	"context"
	"fmt"
	"reflect"

	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

var ctyValueType = reflect.TypeOf(cty.Value{})

// decode stores val in target. Null and unknown values leave target
// untouched so input defaults survive.
func (c *Converter) decode(ctx context.Context, val cty.Value, target reflect.Value) error {
	t := target.Type()
	if t == ctyValueType {
		if val.IsKnown() {
			target.Set(reflect.ValueOf(val))
		}
		return nil
	}
	if !val.IsKnown() || val.IsNull() {
		return nil
	}
	if !holdsInterface(t) {
		return assign(val, target)
	}

	logger := ctxlog.FromContext(ctx).With("go_type", t.String(), "cty_type", val.Type().FriendlyName())
	switch t.Kind() {
	case reflect.Interface:
		logger.Debug("Decoding into interface.")
		native, err := ctyToNative(val)
		if err != nil {
			return err
		}
		if native != nil {
			target.Set(reflect.ValueOf(native))
		}
		return nil

	case reflect.Map:
		ty := val.Type()
		if !ty.IsMapType() && !ty.IsObjectType() {
			return fmt.Errorf("cannot decode %s into %s", ty.FriendlyName(), t)
		}
		logger.Debug("Decoding into map element by element.")
		out := reflect.MakeMapWithSize(t, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			elem := reflect.New(t.Elem()).Elem()
			if err := c.decode(ctx, ev, elem); err != nil {
				return fmt.Errorf("map element '%s': %w", k.AsString(), err)
			}
			out.SetMapIndex(reflect.ValueOf(k.AsString()), elem)
		}
		target.Set(out)
		return nil

	case reflect.Slice:
		ty := val.Type()
		if !ty.IsListType() && !ty.IsTupleType() && !ty.IsSetType() {
			return fmt.Errorf("cannot decode %s into %s", ty.FriendlyName(), t)
		}
		logger.Debug("Decoding into slice element by element.")
		out := reflect.MakeSlice(t, val.LengthInt(), val.LengthInt())
		i := 0
		for it := val.ElementIterator(); it.Next(); i++ {
			_, ev := it.Element()
			if err := c.decode(ctx, ev, out.Index(i)); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		target.Set(out)
		return nil
	}
	return fmt.Errorf("unsupported argument type %s", t)
}

// assign converts val to the type implied by target and lets gocty fill it.
func assign(val cty.Value, target reflect.Value) error {
	want := fieldType(target.Type())
	converted, err := convert.Convert(val, want)
	if err != nil {
		return fmt.Errorf("cannot convert %s to %s: %w", val.Type().FriendlyName(), want.FriendlyName(), err)
	}
	return gocty.FromCtyValue(converted, target.Addr().Interface())
}

// holdsInterface reports whether t is, or contains, an interface type that
// gocty cannot describe.
func holdsInterface(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Interface:
		return true
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Pointer:
		return holdsInterface(t.Elem())
	}
	return false
}
