// Package preproc implements the subject level preprocessing operations.
//
// Every operation delegates the numerical work to an FSL tool through an
// fsl.Runner and treats the presence of its output image as proof that it
// already ran, so a pipeline can be resumed after a failure.
package preproc
