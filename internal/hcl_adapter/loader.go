package hcl_adapter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/fmriflow/internal/config"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/dag"
)

// Loader is the HCL-specific implementation of the config.Loader interface.
type Loader struct {
	environ func() []string
}

// NewLoader creates a new HCL pipeline loader. Expressions are evaluated
// against the process environment.
func NewLoader() *Loader {
	return &Loader{environ: osEnviron}
}

// Load orchestrates the entire HCL loading process. Every .hcl file found
// under paths contributes blocks to a single pipeline.
func (l *Loader) Load(ctx context.Context, paths ...string) (*config.Model, config.Converter, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	hclFiles, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, nil, err
	}
	if len(hclFiles) == 0 {
		return nil, nil, errors.New("no .hcl pipeline files found")
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	evalCtx := newEvalContext(l.environ())
	parser := hclparse.NewParser()
	model := &config.Model{}
	var studyFile string

	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}

		var root fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &root)
		if diags.HasErrors() {
			return nil, nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}

		for _, study := range root.Studies {
			if model.Study != nil {
				return nil, nil, fmt.Errorf("study block declared more than once (%s and %s)", studyFile, file)
			}
			model.Study = l.translateStudy(study)
			studyFile = file
		}
		for _, step := range root.Steps {
			s, err := l.translateStep(ctx, step, evalCtx)
			if err != nil {
				return nil, nil, fmt.Errorf("%s: %w", file, err)
			}
			model.Steps = append(model.Steps, s)
		}
	}

	if err := validateModel(model); err != nil {
		return nil, nil, err
	}

	logger.Debug("HCL loading complete.", "study", model.Study.Name, "steps", len(model.Steps))
	return model, NewConverter(evalCtx), nil
}

// validateModel checks the references between steps and rejects cycles.
// Step types are checked later against the registry.
func validateModel(model *config.Model) error {
	if model.Study == nil {
		return errors.New("no study block found")
	}
	seen := make(map[string]struct{}, len(model.Steps))
	for _, s := range model.Steps {
		addr := s.Address()
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("duplicate step %q", addr)
		}
		seen[addr] = struct{}{}
	}
	for _, s := range model.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("step %q depends on unknown step %q", s.Address(), dep)
			}
		}
	}
	return dag.CheckSteps(model)
}

// findAllHCLFiles walks all given paths and returns a sorted list of all .hcl files found.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})
	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if info.IsDir() {
			err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && filepath.Ext(p) == ".hcl" {
					add(p)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		} else if filepath.Ext(path) == ".hcl" {
			add(path)
		}
	}
	sort.Strings(allFiles)
	return allFiles, nil
}
