package glm

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/fsl"
	"github.com/vk/fmriflow/internal/nifti"
	"github.com/vk/fmriflow/internal/openfmri"
)

// Options controls the first-level model.
type Options struct {
	Model int
	// Input is the image fitted in each run directory, bold_mcf by default.
	Input    string
	TR       float64
	HighPass float64
	Motion   bool
	// Mask is a mask name under masks/<run>, empty for no mask.
	Mask string
}

func (o Options) withDefaults() Options {
	if o.Model == 0 {
		o.Model = 1
	}
	if o.Input == "" {
		o.Input = "bold_mcf.nii.gz"
	}
	if o.HighPass == 0 {
		o.HighPass = 128
	}
	return o
}

// Analyzer fits first-level models.
type Analyzer struct {
	runner  fsl.Runner
	headers *nifti.HeaderCache
}

// New creates an Analyzer.
func New(runner fsl.Runner, headers *nifti.HeaderCache) *Analyzer {
	return &Analyzer{runner: runner, headers: headers}
}

// GLMDir is model/model<NNN>/glm/<run>.
func GLMDir(s *openfmri.SubjectDir, model int, run string) string {
	return filepath.Join(s.ModelDir(), fmt.Sprintf("model%03d", model), "glm", run)
}

// FirstLevel fits every run that has onset files. Runs without onsets are
// skipped with a warning.
func (a *Analyzer) FirstLevel(ctx context.Context, s *openfmri.SubjectDir, opts Options) error {
	opts = opts.withDefaults()
	logger := ctxlog.FromContext(ctx).With("subject", s.ID(), "op", "first_level", "model", opts.Model)

	fitted := 0
	for _, run := range s.Runs() {
		outDir := GLMDir(s, opts.Model, run)
		pe := filepath.Join(outDir, "pe.nii.gz")
		if _, err := os.Stat(pe); err == nil {
			logger.Info("First level model already fitted.", "run", run)
			fitted++
			continue
		}
		evs, err := onsetEVs(s.OnsetsDir(opts.Model, run))
		if err != nil {
			return err
		}
		if len(evs) == 0 {
			logger.Warn("No onsets for run, skipping.", "run", run)
			continue
		}
		if err := a.fitRun(ctx, s, run, outDir, evs, opts); err != nil {
			return fmt.Errorf("first level model of %s failed: %w", run, err)
		}
		logger.Info("Fitted first level model.", "run", run, "evs", len(evs))
		fitted++
	}
	if fitted == 0 {
		return fmt.Errorf("no run of %s has onsets for model %d", s.ID(), opts.Model)
	}
	return nil
}

func (a *Analyzer) fitRun(ctx context.Context, s *openfmri.SubjectDir, run, outDir string, evs []EV, opts Options) error {
	in := filepath.Join(s.RunDir(run), opts.Input)
	volumes, err := a.headers.NVolumes(in)
	if err != nil {
		return fmt.Errorf("failed to read volume count: %w", err)
	}
	tr := opts.TR
	if tr <= 0 {
		if tr, err = a.headers.TR(in); err != nil {
			return fmt.Errorf("failed to read TR: %w", err)
		}
	}

	design := Design{
		OutputDir: outDir,
		Func:      in,
		TR:        tr,
		Volumes:   volumes,
		HighPass:  opts.HighPass,
		EVs:       evs,
	}
	if opts.Motion {
		design.Confounds = fsl.MCFLIRT{Out: s.MotionCorrected(run)}.ParFile()
		if _, err := os.Stat(design.Confounds); err != nil {
			return fmt.Errorf("motion parameters not found: %w", err)
		}
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := design.Render(&buf); err != nil {
		return err
	}
	base := filepath.Join(outDir, "design")
	if err := os.WriteFile(base+".fsf", buf.Bytes(), 0o644); err != nil {
		return err
	}

	model := fsl.FeatModel{Basename: base, Confounds: design.Confounds}
	if _, err := a.runner.Run(ctx, model.Command()); err != nil {
		return err
	}

	g := fsl.GLM{
		In:        in,
		Design:    model.DesignMatrix(),
		Contrasts: model.DesignContrasts(),
		Out:       filepath.Join(outDir, "pe.nii.gz"),
		OutZ:      filepath.Join(outDir, "zstat.nii.gz"),
		OutT:      filepath.Join(outDir, "tstat.nii.gz"),
	}
	if opts.Mask != "" {
		g.Mask = filepath.Join(s.RunMasksDir(run), opts.Mask)
	}
	_, err = a.runner.Run(ctx, g.Command())
	return err
}

// onsetEVs lists the non-empty condNNN.txt files in dir, named from
// condition_key.txt when present.
func onsetEVs(dir string) ([]EV, error) {
	files, err := filepath.Glob(filepath.Join(dir, "cond[0-9][0-9][0-9].txt"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	names := readConditionKey(filepath.Join(dir, "condition_key.txt"))

	var evs []EV
	for _, f := range files {
		if info, err := os.Stat(f); err != nil || info.Size() == 0 {
			continue
		}
		base := filepath.Base(f)
		name := names[base]
		if name == "" {
			name = strings.TrimSuffix(base, ".txt")
		}
		evs = append(evs, EV{Name: name, File: f})
	}
	return evs, nil
}

func readConditionKey(path string) map[string]string {
	out := map[string]string{}
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}
	for _, line := range strings.Split(string(data), "\n") {
		if k, v, ok := strings.Cut(line, "\t"); ok {
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
	return out
}
