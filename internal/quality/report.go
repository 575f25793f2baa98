package quality

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kshedden/gonpy"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/nifti"
	"github.com/vk/fmriflow/internal/openfmri"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"
)

// Loader reads an image.
type Loader func(path string) (Volume, error)

// LoadNIfTI reads images from disk.
func LoadNIfTI(path string) (Volume, error) {
	im, err := nifti.Load(path)
	if err != nil {
		return nil, err
	}
	return im, nil
}

// RunQuality is the report entry of one run.
type RunQuality struct {
	Run     string  `yaml:"run"`
	Task    string  `yaml:"task"`
	Volumes int     `yaml:"volumes"`
	SFNR    float64 `yaml:"sfnr"`
	SNR     float64 `yaml:"snr"`
}

// Report is written to <subject>/qa/quality.yaml.
type Report struct {
	Subject string       `yaml:"subject"`
	Runs    []RunQuality `yaml:"runs"`
}

// Options selects the inputs of each run.
type Options struct {
	// Input is the image in each run directory, bold_mcf by default.
	Input string
	// GreyMask and NonBrainMask are names under masks/<run>.
	GreyMask     string
	NonBrainMask string
}

func (o Options) withDefaults() Options {
	if o.Input == "" {
		o.Input = "bold_mcf.nii.gz"
	}
	if o.GreyMask == "" {
		o.GreyMask = "grey.nii.gz"
	}
	if o.NonBrainMask == "" {
		o.NonBrainMask = "non_brain.nii.gz"
	}
	return o
}

// Analyzer writes quality reports.
type Analyzer struct {
	study *openfmri.Study
	load  Loader
}

// New creates an Analyzer. A nil loader reads NIfTI images from disk.
func New(study *openfmri.Study, load Loader) *Analyzer {
	if load == nil {
		load = LoadNIfTI
	}
	return &Analyzer{study: study, load: load}
}

// ReportPath is <subject>/qa/quality.yaml.
func ReportPath(s *openfmri.SubjectDir) string {
	return filepath.Join(s.QADir(), "quality.yaml")
}

// Analyze computes SFNR and SNR for every run and writes the report and the
// per volume SNR series.
func (a *Analyzer) Analyze(ctx context.Context, s *openfmri.SubjectDir, opts Options) (*Report, error) {
	opts = opts.withDefaults()
	logger := ctxlog.FromContext(ctx).With("subject", s.ID(), "op", "quality")

	if _, err := os.Stat(ReportPath(s)); err == nil {
		logger.Info("Quality report already written.")
		return ReadReport(ReportPath(s))
	}
	if err := os.MkdirAll(s.QADir(), 0o755); err != nil {
		return nil, err
	}

	report := &Report{Subject: s.ID()}
	for _, run := range s.Runs() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q, snr, err := a.analyzeRun(s, run, opts)
		if err != nil {
			return nil, fmt.Errorf("quality of %s failed: %w", run, err)
		}
		if err := writeSeries(filepath.Join(s.QADir(), run+"_snr.npy"), snr); err != nil {
			return nil, err
		}
		logger.Info("Run quality.", "run", run, "task", q.Task, "sfnr", q.SFNR, "snr", q.SNR)
		report.Runs = append(report.Runs, q)
	}

	data, err := yaml.Marshal(report)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(ReportPath(s), data, 0o644); err != nil {
		return nil, err
	}
	return report, nil
}

func (a *Analyzer) analyzeRun(s *openfmri.SubjectDir, run string, opts Options) (RunQuality, []float64, error) {
	img, err := a.load(filepath.Join(s.RunDir(run), opts.Input))
	if err != nil {
		return RunQuality{}, nil, err
	}
	grey, err := a.load(filepath.Join(s.RunMasksDir(run), opts.GreyMask))
	if err != nil {
		return RunQuality{}, nil, err
	}
	nonBrain, err := a.load(filepath.Join(s.RunMasksDir(run), opts.NonBrainMask))
	if err != nil {
		return RunQuality{}, nil, err
	}

	sfnr, err := SFNR(img, grey)
	if err != nil {
		return RunQuality{}, nil, err
	}
	snr, err := SNR(img, grey, nonBrain)
	if err != nil {
		return RunQuality{}, nil, err
	}
	task, _, _ := strings.Cut(run, "_")
	return RunQuality{
		Run:     run,
		Task:    a.study.TaskName(task),
		Volumes: img.Dims()[3],
		SFNR:    sfnr,
		SNR:     stat.Mean(snr, nil),
	}, snr, nil
}

func writeSeries(path string, data []float64) error {
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return err
	}
	w.Shape = []int{len(data)}
	w.Version = 2
	if err := w.WriteFloat64(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadReport reads a report written by Analyze.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &r, nil
}
