// Package fsl builds and runs the command lines of the external neuroimaging
// toolkits the pipeline delegates to: FSL, dcm2nii and the PyMVPA command line
// entry points.
//
// Each tool has an options struct whose Command method renders a Command. A
// Command declares the files it is expected to produce, which lets the Runner
// verify that a tool which exited cleanly actually wrote its outputs.
package fsl
