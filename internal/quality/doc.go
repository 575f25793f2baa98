// Package quality computes per-run signal quality of functional data: the
// temporal signal to fluctuation noise ratio inside grey matter and the
// signal to noise ratio of grey matter against the background.
package quality
