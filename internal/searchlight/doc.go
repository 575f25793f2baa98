// Package searchlight runs subject level searchlight decoding through PyMVPA
// command-line entry points and warps the accuracy map into MNI space.
package searchlight
