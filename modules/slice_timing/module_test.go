package slice_timing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vk/fmriflow/internal/registry"
)

func TestSliceTimingValidation(t *testing.T) {
	in := newInput().(*Input)
	assert.Equal(t, 3, in.Direction)

	in.Direction = 4
	assert.ErrorContains(t, OnRunSliceTiming(context.Background(), &registry.Deps{}, in), "direction must be 1, 2 or 3")

	in = newInput().(*Input)
	in.TR = -1
	assert.ErrorContains(t, OnRunSliceTiming(context.Background(), &registry.Deps{}, in), "tr must not be negative")
}
