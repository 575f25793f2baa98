package config

import (
	"context"

	"github.com/hashicorp/hcl/v2"
)

// Loader is the interface for a format-specific pipeline loader.
type Loader interface {
	// Load reads the pipeline definition from the given paths, translates it
	// into the format-agnostic model, and returns a matching Converter.
	Load(ctx context.Context, paths ...string) (*Model, Converter, error)
}

// Converter is the interface for a format-specific data binding and type
// conversion implementation. It acts as the bridge between the raw
// configuration and the Go input structs of the step modules.
type Converter interface {
	// DecodeArguments decodes a step's raw `arguments` into target, which must
	// be a non-nil pointer to a struct whose fields carry `arg` tags. Values
	// already present in target act as defaults.
	DecodeArguments(ctx context.Context, target any, args map[string]hcl.Expression) error
}
