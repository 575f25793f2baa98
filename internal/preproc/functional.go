package preproc

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/vk/fmriflow/internal/fsl"
	"github.com/vk/fmriflow/internal/openfmri"
)

// MotionOptions controls motion correction.
type MotionOptions struct {
	// MergeTaskRuns corrects all runs of a task as one concatenated series so
	// they share a reference volume.
	MergeTaskRuns bool
	// ExamplePreproc replaces the plain MCFLIRT call with the FSL example
	// chain: correction to the middle volume, masking with a mean-image
	// brain mask and intensity normalisation to a median of 10000.
	ExamplePreproc bool
}

// MotionCorrection writes bold_mcf for every run, plus the MCFLIRT parameter
// file and rotation and translation plots.
func (p *Processor) MotionCorrection(ctx context.Context, s *openfmri.SubjectDir, opts MotionOptions) error {
	logger := subjectLogger(ctx, s, "motion_correction")
	for _, task := range s.Tasks() {
		runs := s.RunsOfTask(task)
		if opts.MergeTaskRuns && len(runs) > 1 {
			if err := p.correctMerged(ctx, logger, s, task, runs, opts.ExamplePreproc); err != nil {
				return fmt.Errorf("motion correction of %s failed: %w", task, err)
			}
			continue
		}
		for _, run := range runs {
			if exists(s.MotionCorrected(run)) {
				logger.Info("Motion correction already performed.", "run", run)
				continue
			}
			logger.Info("Correcting motion.", "run", run)
			if err := p.correctFile(ctx, s.BOLD(run), s.MotionCorrected(run), s.RunDir(run), opts.ExamplePreproc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Processor) correctFile(ctx context.Context, in, out, plotDir string, example bool) error {
	par := fsl.MCFLIRT{Out: out}.ParFile()
	if example {
		if err := p.correctExample(ctx, in, out, plotDir); err != nil {
			return err
		}
	} else {
		mcf := fsl.MCFLIRT{In: in, Out: out, SavePlots: true}
		if err := p.run(ctx, mcf.Command()); err != nil {
			return err
		}
	}
	for _, plot := range []string{"rotations", "translations"} {
		c, err := fsl.PlotMotionParams{
			In:       par,
			PlotType: plot,
			Out:      filepath.Join(plotDir, plot+".png"),
		}.Command()
		if err != nil {
			return err
		}
		if err := p.run(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// correctExample writes the masked, corrected series to out, its parameter
// file next to it and the intensity normalised series to <out>_intnorm.
// Intermediate images live in workDir/example_pp and are removed afterwards.
func (p *Processor) correctExample(ctx context.Context, in, out, workDir string) error {
	n, err := p.headers.NVolumes(in)
	if err != nil {
		return fmt.Errorf("failed to read volume count of %s: %w", in, err)
	}
	work := filepath.Join(workDir, "example_pp")
	if err := os.MkdirAll(work, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(work)
	file := func(name string) string { return filepath.Join(work, name+".nii.gz") }

	float, ref, mean := file("prefiltered"), file("ref"), file("mean")
	mcf := fsl.MCFLIRT{In: float, Out: file("mcf"), RefFile: ref, SaveMats: true, SavePlots: true}
	bet := fsl.BET{In: mean, Out: file("mean_brain"), Mask: true, NoOutput: true, Frac: 0.3}
	for _, c := range []fsl.Command{
		fsl.Maths{In: in, Out: float, OutputType: "float"}.Command(),
		fsl.ExtractROI{In: float, Out: ref, TMin: max(n/2-1, 0), TSize: 1}.Command(),
		mcf.Command(),
		fsl.Maths{In: mcf.Out, Ops: []string{"-Tmean"}, Out: mean}.Command(),
		bet.Command(),
		fsl.Maths{In: mcf.Out, Ops: []string{"-mas", bet.MaskFile()}, Out: file("masked")}.Command(),
	} {
		if err := p.run(ctx, c); err != nil {
			return err
		}
	}

	percentiles, err := p.stats(ctx, fsl.Stats{In: file("masked"), Ops: []string{"-p", "2", "-p", "98"}})
	if err != nil {
		return err
	}
	if len(percentiles) != 2 {
		return fmt.Errorf("expected two percentiles of %s, got %v", file("masked"), percentiles)
	}
	thresh := fsl.Maths{
		In:         file("masked"),
		Ops:        []string{"-thr", formatFloat(0.1 * percentiles[1]), "-Tmin", "-bin"},
		Out:        file("thresh"),
		OutputType: "char",
	}
	if err := p.run(ctx, thresh.Command()); err != nil {
		return err
	}
	median, err := p.stats(ctx, fsl.Stats{In: mcf.Out, Mask: thresh.Out, Ops: []string{"-p", "50"}})
	if err != nil {
		return err
	}
	if len(median) != 1 || median[0] <= 0 {
		return fmt.Errorf("no usable median intensity in %s: %v", mcf.Out, median)
	}

	masked := file("bold_mcf")
	for _, c := range []fsl.Command{
		fsl.Maths{In: thresh.Out, Ops: []string{"-dilF"}, Out: file("dilated")}.Command(),
		fsl.Maths{In: mcf.Out, Ops: []string{"-mas", file("dilated")}, Out: masked}.Command(),
		fsl.Maths{In: masked, Ops: []string{"-mul", formatFloat(10000 / median[0])}, Out: IntensityNormalised(out)}.Command(),
	} {
		if err := p.run(ctx, c); err != nil {
			return err
		}
	}
	if err := moveFile(mcf.ParFile(), fsl.MCFLIRT{Out: out}.ParFile()); err != nil {
		return err
	}
	return moveFile(masked, out)
}

// IntensityNormalised is the path of the normalised series written next to a
// motion corrected series by the example chain.
func IntensityNormalised(mcf string) string {
	return fsl.TrimImageExt(mcf) + "_intnorm.nii.gz"
}

func (p *Processor) stats(ctx context.Context, s fsl.Stats) ([]float64, error) {
	res, err := p.runner.Run(ctx, s.Command())
	if err != nil {
		return nil, err
	}
	return fsl.ParseStats(string(res.Stdout))
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// correctMerged concatenates the runs of a task, corrects the merged series
// and splits it back into runs by their original volume counts.
func (p *Processor) correctMerged(ctx context.Context, logger *slog.Logger, s *openfmri.SubjectDir, task string, runs []string, example bool) error {
	var bolds, outputs []string
	done := true
	for _, run := range runs {
		bolds = append(bolds, s.BOLD(run))
		outputs = append(outputs, s.MotionCorrected(run))
		done = done && exists(s.MotionCorrected(run))
	}
	if done {
		logger.Info("Motion correction already performed.", "task", task)
		return nil
	}

	lengths := make([]int, len(bolds))
	total := 0
	for i, b := range bolds {
		n, err := p.headers.NVolumes(b)
		if err != nil {
			return fmt.Errorf("failed to read volume count of %s: %w", b, err)
		}
		lengths[i] = n
		total += n
	}

	mergeDir := filepath.Join(s.FunctionalDir(), "temp_"+task+"_merged")
	if err := os.MkdirAll(mergeDir, 0o755); err != nil {
		return err
	}
	merged := filepath.Join(mergeDir, "bold.nii.gz")
	mergedMcf := filepath.Join(mergeDir, "bold_mcf.nii.gz")

	if !exists(merged) {
		logger.Info("Merging task runs.", "task", task, "runs", len(runs))
		if err := p.run(ctx, fsl.Merge{In: bolds, Out: merged}.Command()); err != nil {
			return err
		}
	}
	if !exists(mergedMcf) {
		logger.Info("Correcting motion of merged runs.", "task", task)
		if err := p.correctFile(ctx, merged, mergedMcf, mergeDir, example); err != nil {
			return err
		}
	}

	splitDir := filepath.Join(s.FunctionalDir(), "temp_split")
	if err := os.RemoveAll(splitDir); err != nil {
		return err
	}
	if err := os.MkdirAll(splitDir, 0o755); err != nil {
		return err
	}
	if err := p.run(ctx, fsl.Split{In: mergedMcf, OutBase: filepath.Join(splitDir, "vol")}.Command()); err != nil {
		return err
	}
	volumes, err := imagesIn(splitDir)
	if err != nil {
		return err
	}
	if len(volumes) != total {
		return fmt.Errorf("split produced %d volumes but the runs of %s hold %d", len(volumes), task, total)
	}

	idx := 0
	for i, out := range outputs {
		if err := p.run(ctx, fsl.Merge{In: volumes[idx : idx+lengths[i]], Out: out}.Command()); err != nil {
			return err
		}
		idx += lengths[i]
	}

	par := fsl.MCFLIRT{Out: mergedMcf}.ParFile()
	if err := splitParFile(par, outputs, lengths); err != nil {
		logger.Warn("Motion parameters not split per run.", "task", task, "error", err)
	}

	if err := os.RemoveAll(splitDir); err != nil {
		return err
	}
	return os.RemoveAll(mergeDir)
}

func imagesIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.Contains(e.Name(), ".nii") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// splitParFile cuts the merged MCFLIRT parameter file into one file per run,
// one row per volume.
func splitParFile(par string, outputs []string, lengths []int) error {
	data, err := os.ReadFile(par)
	if err != nil {
		return err
	}
	var rows []string
	for _, l := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(l) != "" {
			rows = append(rows, l)
		}
	}
	total := 0
	for _, n := range lengths {
		total += n
	}
	if len(rows) != total {
		return fmt.Errorf("%s has %d rows, expected %d", par, len(rows), total)
	}
	idx := 0
	for i, out := range outputs {
		content := strings.Join(rows[idx:idx+lengths[i]], "\n") + "\n"
		if err := os.WriteFile(fsl.MCFLIRT{Out: out}.ParFile(), []byte(content), 0o644); err != nil {
			return err
		}
		idx += lengths[i]
	}
	return nil
}

// FunctionalRegistrationOptions controls mainfeatreg.
type FunctionalRegistrationOptions struct {
	// DOF is the degrees of freedom of the functional to highres search, or
	// "BBR" for boundary based registration.
	DOF string
}

// FunctionalRegistration extracts the middle volume of each motion corrected
// run and registers it to the brain image the way FEAT does.
func (p *Processor) FunctionalRegistration(ctx context.Context, s *openfmri.SubjectDir, opts FunctionalRegistrationOptions) error {
	logger := subjectLogger(ctx, s, "functional_registration")
	for _, run := range s.Runs() {
		reg := fsl.MainFeatReg{
			FeatDir:     s.RunDir(run),
			LogFile:     filepath.Join(s.RunDir(run), "log_reg"),
			ExampleFunc: s.MidFunc(run),
			Highres:     s.AnatomicalBrain(),
			DOF:         opts.DOF,
		}
		if exists(reg.HighresToFunc()) {
			logger.Info("Registration already performed.", "run", run)
			continue
		}
		logger.Info("Registering run to highres.", "run", run)

		if err := os.RemoveAll(s.RunRegDir(run)); err != nil {
			return err
		}
		if err := os.MkdirAll(s.RunRegDir(run), 0o755); err != nil {
			return err
		}
		n, err := p.headers.NVolumes(s.MotionCorrected(run))
		if err != nil {
			return fmt.Errorf("failed to read volume count of %s: %w", run, err)
		}
		roi := fsl.ExtractROI{In: s.MotionCorrected(run), Out: s.MidFunc(run), TMin: n / 2, TSize: 1}
		if err := p.run(ctx, roi.Command()); err != nil {
			return err
		}
		if err := p.run(ctx, reg.Command()); err != nil {
			return err
		}
	}
	return nil
}

// GenerateFunctionalGMMasks resamples the anatomical grey matter mask into
// the space of every run.
func (p *Processor) GenerateFunctionalGMMasks(ctx context.Context, s *openfmri.SubjectDir) error {
	logger := subjectLogger(ctx, s, "functional_gm_masks")
	grey := filepath.Join(s.AnatomicalMasksDir(), "grey.nii.gz")
	if !exists(grey) {
		return fmt.Errorf("anatomical grey matter mask %s not found, run segmentation first", grey)
	}
	for _, run := range s.Runs() {
		out := filepath.Join(s.RunMasksDir(run), "grey.nii.gz")
		if exists(out) {
			logger.Info("Functional grey matter mask already generated.", "run", run)
			continue
		}
		if err := os.MkdirAll(s.RunMasksDir(run), 0o755); err != nil {
			return err
		}
		logger.Info("Generating functional grey matter mask.", "run", run)
		err := p.run(ctx, fsl.FLIRT{
			In:         grey,
			Reference:  filepath.Join(s.RunRegDir(run), "example_func.nii.gz"),
			Out:        out,
			InitMatrix: filepath.Join(s.RunRegDir(run), "highres2example_func.mat"),
			ApplyXfm:   true,
		}.Command())
		if err != nil {
			return err
		}
	}
	return nil
}

// FunctionalSegmentation segments the middle volume of each run directly and
// keeps the first partial volume class as the run's grey matter mask.
func (p *Processor) FunctionalSegmentation(ctx context.Context, s *openfmri.SubjectDir) error {
	logger := subjectLogger(ctx, s, "functional_segmentation")
	for _, run := range s.Runs() {
		grey := filepath.Join(s.RunMasksDir(run), "grey.nii.gz")
		if exists(grey) {
			logger.Info("Functional segmentation already performed.", "run", run)
			continue
		}
		if err := os.MkdirAll(s.RunMasksDir(run), 0o755); err != nil {
			return err
		}
		fast := fsl.FAST{
			In:                  s.MidFunc(run),
			OutBasename:         filepath.Join(s.RunMasksDir(run), "seg"),
			ImgType:             2,
			Classes:             3,
			Hyper:               0.1,
			OutputBiasCorrected: true,
			OutputBiasField:     true,
			BiasIters:           5,
			ItersAfterBias:      2,
			Segments:            true,
		}
		logger.Info("Segmenting functional run.", "run", run)
		if err := p.run(ctx, fast.Command()); err != nil {
			return err
		}
		if err := moveFile(fast.PartialVolumeFile(0), grey); err != nil {
			return err
		}
	}
	return nil
}

// SliceTimingOptions are the slicetimer parameters. A zero TR is read from
// the image header.
type SliceTimingOptions struct {
	TR          float64
	Interleaved bool
	Down        bool
	Direction   int
}

// SliceTimeCorrection writes bold_mcf_st for every run.
func (p *Processor) SliceTimeCorrection(ctx context.Context, s *openfmri.SubjectDir, opts SliceTimingOptions) error {
	logger := subjectLogger(ctx, s, "slice_timing")
	for _, run := range s.Runs() {
		out := filepath.Join(s.RunDir(run), "bold_mcf_st.nii.gz")
		if exists(out) {
			logger.Info("Slice timing correction already performed.", "run", run)
			continue
		}
		tr := opts.TR
		if tr <= 0 {
			var err error
			if tr, err = p.headers.TR(s.MotionCorrected(run)); err != nil {
				return fmt.Errorf("failed to read TR of %s: %w", run, err)
			}
		}
		logger.Info("Correcting slice timing.", "run", run, "tr", tr)
		err := p.run(ctx, fsl.SliceTimer{
			In:          s.MotionCorrected(run),
			Out:         out,
			TR:          tr,
			Interleaved: opts.Interleaved,
			Down:        opts.Down,
			Direction:   opts.Direction,
		}.Command())
		if err != nil {
			return err
		}
	}
	return nil
}

// FunctionalSmoothing smooths every motion corrected run with SUSAN.
func (p *Processor) FunctionalSmoothing(ctx context.Context, s *openfmri.SubjectDir, opts SmoothingOptions) error {
	logger := subjectLogger(ctx, s, "functional_smoothing")
	for _, run := range s.Runs() {
		out := filepath.Join(s.RunDir(run), "bold_mcf_smooth.nii.gz")
		if exists(out) {
			logger.Info("Functional smoothing already performed.", "run", run)
			continue
		}
		logger.Info("Smoothing functional run.", "run", run, "fwhm", opts.FWHM)
		err := p.run(ctx, fsl.SUSAN{
			In:                  s.MotionCorrected(run),
			Out:                 out,
			BrightnessThreshold: opts.BrightnessThreshold,
			FWHM:                opts.FWHM,
			Dimension:           3,
			UseMedian:           true,
		}.Command())
		if err != nil {
			return err
		}
	}
	return nil
}

// NonBrainMask writes masks/<run>/non_brain, the complement of a BET mask of
// the middle volume, used as the noise region of the SNR report.
func (p *Processor) NonBrainMask(ctx context.Context, s *openfmri.SubjectDir, frac float64) error {
	logger := subjectLogger(ctx, s, "non_brain_mask")
	for _, run := range s.Runs() {
		out := filepath.Join(s.RunMasksDir(run), "non_brain.nii.gz")
		if exists(out) {
			logger.Info("Non brain mask already generated.", "run", run)
			continue
		}
		if err := os.MkdirAll(s.RunMasksDir(run), 0o755); err != nil {
			return err
		}
		bet := fsl.BET{
			In:       s.MidFunc(run),
			Out:      filepath.Join(s.RunMasksDir(run), "func_brain.nii.gz"),
			Mask:     true,
			NoOutput: true,
			Frac:     frac,
		}
		logger.Info("Generating non brain mask.", "run", run)
		if err := p.run(ctx, bet.Command()); err != nil {
			return err
		}
		if err := p.run(ctx, fsl.Maths{In: bet.MaskFile(), Ops: []string{"-binv"}, Out: out}.Command()); err != nil {
			return err
		}
	}
	return nil
}
