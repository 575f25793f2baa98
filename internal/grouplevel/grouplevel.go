package grouplevel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/fsl"
	"github.com/vk/fmriflow/internal/openfmri"
)

// Options controls the group map.
type Options struct {
	// Analysis is the subject results directory to collect from and the
	// group directory to write to.
	Analysis string
	// Pattern matches the subject maps, *acc_mni.nii.gz by default.
	Pattern string
	// Chance is subtracted from every map before averaging.
	Chance float64
	// Permutations > 0 runs a one sample randomise test.
	Permutations int
	Mask         string
}

// Result lists the files a group map produces.
type Result struct {
	Inputs    []string
	Merged    string
	Centered  string
	Mean      string
	Randomise string
}

// Analyzer builds group maps.
type Analyzer struct {
	runner fsl.Runner
}

// New creates an Analyzer.
func New(runner fsl.Runner) *Analyzer {
	return &Analyzer{runner: runner}
}

// CollectMaps returns the sorted subject maps of an analysis.
func CollectMaps(study *openfmri.Study, analysis, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*acc_mni.nii.gz"
	}
	glob := filepath.Join(study.StudyDir(), "sub[0-9][0-9][0-9]", "results", analysis, "**", pattern)
	maps, err := doublestar.Glob(glob)
	if err != nil {
		return nil, fmt.Errorf("invalid map pattern %q: %w", pattern, err)
	}
	sort.Strings(maps)
	return maps, nil
}

// GroupMap merges the subject maps, subtracts chance and averages over
// subjects.
func (a *Analyzer) GroupMap(ctx context.Context, study *openfmri.Study, opts Options) (Result, error) {
	if opts.Analysis == "" {
		return Result{}, fmt.Errorf("group map requires an analysis name")
	}
	logger := ctxlog.FromContext(ctx).With("op", "group_map", "analysis", opts.Analysis)

	dir := study.GroupDir(opts.Analysis)
	res := Result{
		Merged:   filepath.Join(dir, "merged.nii.gz"),
		Centered: filepath.Join(dir, "merged_minus_chance.nii.gz"),
		Mean:     filepath.Join(dir, "mean.nii.gz"),
	}
	if opts.Permutations > 0 {
		res.Randomise = fsl.Randomise{OutBase: filepath.Join(dir, "randomise")}.Command().Outputs[0]
	}
	if exists(res.Mean) && (res.Randomise == "" || exists(res.Randomise)) {
		logger.Info("Group map already computed.")
		return res, nil
	}

	maps, err := CollectMaps(study, opts.Analysis, opts.Pattern)
	if err != nil {
		return res, err
	}
	if len(maps) == 0 {
		return res, fmt.Errorf("no subject maps found for analysis %s", opts.Analysis)
	}
	res.Inputs = maps
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return res, err
	}

	logger.Info("Merging subject maps.", "subjects", len(maps))
	steps := []fsl.Command{
		fsl.Merge{In: maps, Out: res.Merged}.Command(),
		fsl.Maths{In: res.Merged, Ops: []string{"-sub", fmt.Sprint(opts.Chance)}, Out: res.Centered}.Command(),
		fsl.Maths{In: res.Centered, Ops: []string{"-Tmean"}, Out: res.Mean}.Command(),
	}
	if opts.Permutations > 0 {
		steps = append(steps, fsl.Randomise{
			In:           res.Centered,
			OutBase:      filepath.Join(dir, "randomise"),
			Mask:         opts.Mask,
			Permutations: opts.Permutations,
		}.Command())
	}
	for _, c := range steps {
		if _, err := a.runner.Run(ctx, c); err != nil {
			return res, err
		}
	}
	return res, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
