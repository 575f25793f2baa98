// Package openfmri manages studies laid out in the OpenfMRI directory
// convention: the subject name to code mapping, the task order of a study, and
// per-subject directory trees with their well-known image paths.
//
// A subject directory is created on first use: its folder tree is built, the
// raw DICOM series are converted to NIfTI and, when configured, behavioural
// onset files are generated.
package openfmri
