// Package registry provides the central "glue" for the module system.
//
// The Registry stores the mapping between the step types used in pipeline
// files (e.g., "brain_extraction") and the compiled Go handlers that
// implement them, together with the input struct each handler decodes its
// `arguments` block into and the scopes the step may run in.
//
// During application startup, the registry is populated and then validated
// against both the handlers' Go signatures and the loaded pipeline, so that
// unknown step types and misplaced scopes fail before anything runs.
package registry
