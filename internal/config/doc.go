// Package config defines the format-agnostic pipeline model, along with the
// core interfaces (Loader, Converter) for loading a pipeline definition and
// decoding step arguments into the Go input structs of the step modules.
//
// The `config.Model` is the single source of truth for the `dag` builder.
// Concrete implementations of the interfaces, such as for HCL, are provided
// in separate packages.
package config
