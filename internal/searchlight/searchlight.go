package searchlight

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/fsl"
	"github.com/vk/fmriflow/internal/openfmri"
)

const (
	DefaultDatasetTool     = "fmriflow-make-ds"
	DefaultSearchlightTool = "fmriflow-searchlight"
	DefaultRadius          = 3
)

// Options controls dataset creation and the searchlight.
type Options struct {
	// Analysis names results/<analysis>. Defaults to sl_r<radius>.
	Analysis string
	Model    int
	// ConditionGroups selects condition subsets, each decoded in its own
	// dataset: [["G1","G4"],["G2","G3"]] decodes G1 against G4, then G2
	// against G3. Empty decodes every condition in one dataset.
	ConditionGroups [][]string
	Radius          int
	NullDist        bool
	// MaskRun is the run whose grey matter mask restricts the dataset.
	// Defaults to the first run.
	MaskRun         string
	DatasetTool     string
	SearchlightTool string
}

func (o Options) withDefaults() Options {
	if o.Radius == 0 {
		o.Radius = DefaultRadius
	}
	if o.Model == 0 {
		o.Model = 1
	}
	if o.Analysis == "" {
		o.Analysis = fmt.Sprintf("sl_r%d", o.Radius)
	}
	if o.DatasetTool == "" {
		o.DatasetTool = DefaultDatasetTool
	}
	if o.SearchlightTool == "" {
		o.SearchlightTool = DefaultSearchlightTool
	}
	return o
}

// Outputs are the paths a searchlight produces for one dataset.
type Outputs struct {
	Basename string
	NullDist bool
}

// OutputBasename is <dataset>_r<radius>_c-linear, the dataset path without
// its extension.
func OutputBasename(dataset string, radius int) string {
	return fmt.Sprintf("%s_r%d_c-linear", strings.TrimSuffix(dataset, filepath.Ext(dataset)), radius)
}

func (o Outputs) Accuracy() string    { return o.Basename + "-acc.nii.gz" }
func (o Outputs) Error() string       { return o.Basename + "-err.nii.gz" }
func (o Outputs) AccuracyMNI() string { return o.Basename + "-acc_mni.nii.gz" }

// Maps lists every map the searchlight command writes.
func (o Outputs) Maps() []string {
	maps := []string{o.Accuracy(), o.Error()}
	if o.NullDist {
		for _, s := range []string{"-t", "-prob", "-cdf"} {
			maps = append(maps, o.Basename+s+".nii.gz")
		}
	}
	return maps
}

// Analyzer runs searchlights.
type Analyzer struct {
	runner fsl.Runner
	fslDir string
}

// New creates an Analyzer.
func New(runner fsl.Runner, fslDir string) *Analyzer {
	return &Analyzer{runner: runner, fslDir: fslDir}
}

// ResultsDir is <subject>/results/<analysis>.
func ResultsDir(s *openfmri.SubjectDir, analysis string) string {
	return filepath.Join(s.ResultsDir(), analysis)
}

// DatasetName is the dataset file of a subject's model, suffixed with the
// conditions it keeps when it is restricted to a subset.
func DatasetName(subject string, model int, conditions []string) string {
	name := fmt.Sprintf("%s_model%03d", subject, model)
	if len(conditions) > 0 {
		name += "_" + strings.Join(conditions, "-")
	}
	return name + ".hdf5"
}

// Run builds one dataset per condition group, runs a searchlight on each and
// warps the accuracy maps to MNI space. The outputs follow the order of the
// groups.
func (a *Analyzer) Run(ctx context.Context, s *openfmri.SubjectDir, opts Options) ([]Outputs, error) {
	opts = opts.withDefaults()
	logger := ctxlog.FromContext(ctx).With("subject", s.ID(), "op", "searchlight", "analysis", opts.Analysis)

	runs := s.Runs()
	if len(runs) == 0 {
		return nil, fmt.Errorf("subject %s has no functional runs", s.ID())
	}
	maskRun := opts.MaskRun
	if maskRun == "" {
		maskRun = runs[0]
	}

	dir := ResultsDir(s, opts.Analysis)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	groups := opts.ConditionGroups
	if len(groups) == 0 {
		groups = [][]string{nil}
	}
	outputs := make([]Outputs, 0, len(groups))
	for _, conds := range groups {
		dataset := filepath.Join(dir, DatasetName(s.ID(), opts.Model, conds))
		out, err := a.runDataset(ctx, logger.With("dataset", filepath.Base(dataset)), s, opts, maskRun, dataset, conds)
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func (a *Analyzer) runDataset(ctx context.Context, logger *slog.Logger, s *openfmri.SubjectDir, opts Options, maskRun, dataset string, conds []string) (Outputs, error) {
	out := Outputs{Basename: OutputBasename(dataset, opts.Radius), NullDist: opts.NullDist}

	if _, err := os.Stat(out.Accuracy()); err == nil {
		logger.Info("Searchlight already performed.")
	} else {
		if _, err := os.Stat(dataset); err != nil {
			logger.Info("Building dataset.", "conditions", conds)
			c := DatasetCommand{
				Tool:       opts.DatasetTool,
				Study:      filepath.Dir(s.Path()),
				Subject:    s.Code(),
				Model:      opts.Model,
				Mask:       filepath.Join(s.RunMasksDir(maskRun), "grey.nii.gz"),
				Conditions: conds,
				Out:        dataset,
			}
			if _, err := a.runner.Run(ctx, c.Command()); err != nil {
				return out, err
			}
		}
		logger.Info("Running searchlight.", "radius", opts.Radius, "null_dist", opts.NullDist)
		c := SearchlightCommand{Tool: opts.SearchlightTool, Dataset: dataset, Radius: opts.Radius, Outputs: out}
		if _, err := a.runner.Run(ctx, c.Command()); err != nil {
			return out, err
		}
	}

	if _, err := os.Stat(out.AccuracyMNI()); err == nil {
		return out, nil
	}
	logger.Info("Warping accuracy map to standard space.")
	_, err := a.runner.Run(ctx, fsl.ApplyWarp{
		In:        out.Accuracy(),
		Reference: fsl.StandardImage(a.fslDir, "MNI152_T1_2mm_brain.nii.gz"),
		Warp:      filepath.Join(s.AnatomicalRegDir(), "highres2standard_warp.nii.gz"),
		PreMatrix: filepath.Join(s.RunRegDir(maskRun), "example_func2highres.mat"),
		Out:       out.AccuracyMNI(),
	}.Command())
	return out, err
}

// DatasetCommand builds a PyMVPA dataset of a subject's model, keeping only
// Conditions when set.
type DatasetCommand struct {
	Tool       string
	Study      string
	Subject    int
	Model      int
	Mask       string
	Conditions []string
	Out        string
}

func (d DatasetCommand) Command() fsl.Command {
	args := []string{
		"--study", d.Study,
		"--subject", strconv.Itoa(d.Subject),
		"--model", strconv.Itoa(d.Model),
		"--mask", d.Mask,
		"--out", d.Out,
	}
	if len(d.Conditions) > 0 {
		args = append(args, "--conditions", strings.Join(d.Conditions, ","))
	}
	return fsl.Command{Name: d.Tool, Args: args, Outputs: []string{d.Out}}
}

// SearchlightCommand runs a linear SVM sphere searchlight over a dataset.
type SearchlightCommand struct {
	Tool    string
	Dataset string
	Radius  int
	Outputs Outputs
}

func (c SearchlightCommand) Command() fsl.Command {
	args := []string{c.Dataset, strconv.Itoa(c.Radius), c.Outputs.Basename}
	if c.Outputs.NullDist {
		args = append(args, "--null-dist")
	}
	return fsl.Command{Name: c.Tool, Args: args, Outputs: c.Outputs.Maps()}
}
