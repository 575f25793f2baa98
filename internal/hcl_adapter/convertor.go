package hcl_adapter

import (
	"fmt"
	"math/big"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Converter is the HCL-specific implementation of the config.Converter interface.
type Converter struct {
	evalCtx *hcl.EvalContext
}

// NewConverter creates a new HCL converter evaluating expressions in evalCtx.
func NewConverter(evalCtx *hcl.EvalContext) *Converter {
	return &Converter{evalCtx: evalCtx}
}

// ctyToNative converts a cty value into plain Go values: string, float64,
// bool, []any and map[string]any.
func ctyToNative(val cty.Value) (any, error) {
	if val.IsNull() || !val.IsKnown() {
		return nil, nil
	}
	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString(), nil
	case ty == cty.Bool:
		return val.True(), nil
	case ty == cty.Number:
		f, _ := val.AsBigFloat().Float64()
		if val.AsBigFloat().IsInt() {
			if i, acc := val.AsBigFloat().Int64(); acc == big.Exact {
				return int(i), nil
			}
		}
		return f, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		out := make([]any, 0, val.LengthInt())
		it := val.ElementIterator()
		for it.Next() {
			_, ev := it.Element()
			nv, err := ctyToNative(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	case ty.IsMapType() || ty.IsObjectType():
		out := make(map[string]any, val.LengthInt())
		it := val.ElementIterator()
		for it.Next() {
			k, ev := it.Element()
			nv, err := ctyToNative(ev)
			if err != nil {
				return nil, err
			}
			out[k.AsString()] = nv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported cty type %s", ty.FriendlyName())
	}
}
