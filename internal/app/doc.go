// Package app wires a loaded pipeline to the study on disk and runs it.
//
// An App owns the step registry, the FSL runner, the run ledger and the
// metrics. Run resolves the study and its subjects, expands every step into
// per-subject or group nodes and executes them on a worker pool, recording
// each outcome. Entry points such as cmd/cli only build a Config and call
// NewApp and Run.
package app
