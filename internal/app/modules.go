package app

import (
	"github.com/vk/fmriflow/internal/registry"
	"github.com/vk/fmriflow/modules/anatomical_registration"
	"github.com/vk/fmriflow/modules/archive"
	"github.com/vk/fmriflow/modules/behavioural_evs"
	"github.com/vk/fmriflow/modules/bias_field"
	"github.com/vk/fmriflow/modules/brain_extraction"
	"github.com/vk/fmriflow/modules/first_level"
	"github.com/vk/fmriflow/modules/functional_gm_masks"
	"github.com/vk/fmriflow/modules/functional_registration"
	"github.com/vk/fmriflow/modules/functional_segmentation"
	"github.com/vk/fmriflow/modules/group_map"
	"github.com/vk/fmriflow/modules/motion_correction"
	"github.com/vk/fmriflow/modules/non_brain_mask"
	"github.com/vk/fmriflow/modules/notify"
	"github.com/vk/fmriflow/modules/quality"
	"github.com/vk/fmriflow/modules/searchlight"
	"github.com/vk/fmriflow/modules/segmentation"
	"github.com/vk/fmriflow/modules/slice_timing"
	"github.com/vk/fmriflow/modules/smoothing"
)

// coreModules is the definitive list of all step modules that are compiled
// into the fmriflow binary.
var coreModules = []registry.Module{
	&bias_field.Module{},
	&brain_extraction.Module{},
	&motion_correction.Module{},
	&anatomical_registration.Module{},
	&functional_registration.Module{},
	&segmentation.Module{},
	&functional_gm_masks.Module{},
	&functional_segmentation.Module{},
	&slice_timing.Module{},
	&smoothing.Module{},
	&non_brain_mask.Module{},
	&behavioural_evs.Module{},
	&first_level.Module{},
	&searchlight.Module{},
	&quality.Module{},
	&group_map.Module{},
	&archive.Module{},
	&notify.Module{},
}
