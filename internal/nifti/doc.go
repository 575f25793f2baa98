// Package nifti reads the parts of NIfTI-1 images the pipeline needs to make
// decisions: dimensions, volume counts and repetition time from the header,
// and voxel intensities for run quality statistics.
package nifti
