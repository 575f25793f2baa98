// Package behav turns behavioural log files into per-condition onset files
// (FSL three column format) in every model's onsets directory.
package behav
