package openfmri

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/vk/fmriflow/internal/ctxlog"
)

const (
	functionalSubdir  = "BOLD"
	anatomicalSubdir  = "anatomy"
	modelSubdir       = "model"
	masksSubdir       = "masks"
	behaviouralSubdir = "behav"

	numModels = 3
)

var (
	subdirs    = []string{functionalSubdir, anatomicalSubdir, modelSubdir, masksSubdir, behaviouralSubdir}
	runPattern = regexp.MustCompile(`^(task\d{3})_run\d{3}$`)
)

// SubjectDir is one subject's directory tree.
type SubjectDir struct {
	code            int
	path            string
	rawPath         string
	behaviouralPath string
	taskOrder       []string

	// functional maps each task to its run directories, sorted.
	functional map[string][]string
}

func (s *Study) openSubject(ctx context.Context, code int, rawPath, behavPath string) (*SubjectDir, error) {
	sd := &SubjectDir{
		code:            code,
		path:            s.subjectPath(code),
		rawPath:         rawPath,
		behaviouralPath: behavPath,
		taskOrder:       s.TaskOrder(),
	}
	logger := ctxlog.FromContext(ctx).With("subject", sd.ID())

	if problem := sd.validate(); problem != "" {
		if _, err := os.Stat(sd.path); err == nil {
			logger.Warn("Subject directory exists but is not valid.", "reason", problem)
		}
		if rawPath == "" {
			return nil, fmt.Errorf("cannot create new subject directory from subcode %d: %s", code, problem)
		}
		logger.Info("Preparing subject directory tree.")
		if err := sd.createTree(); err != nil {
			return nil, fmt.Errorf("failed to create directory tree of %s: %w", sd.ID(), err)
		}
		if s.runner == nil {
			return nil, fmt.Errorf("cannot convert DICOM series of %s: no runner configured", sd.ID())
		}
		if err := sd.convertDICOM(ctx, s.runner); err != nil {
			return nil, err
		}
		if s.evGenerator != nil && behavPath != "" {
			if err := s.evGenerator(ctx, sd); err != nil {
				return nil, fmt.Errorf("failed to create behavioural onsets of %s: %w", sd.ID(), err)
			}
		}
	}

	if err := sd.loadTree(); err != nil {
		return nil, err
	}
	return sd, nil
}

// validate returns why the directory is not usable, or "" when it is.
func (sd *SubjectDir) validate() string {
	for _, d := range subdirs {
		if info, err := os.Stat(filepath.Join(sd.path, d)); err != nil || !info.IsDir() {
			return "missing subdirectory " + d
		}
	}
	if !fileExists(sd.AnatomicalHead()) {
		return "missing anatomical image"
	}
	for _, run := range sd.taskOrder {
		if !fileExists(sd.BOLD(run)) {
			return "missing functional image of " + run
		}
	}
	return ""
}

func (sd *SubjectDir) createTree() error {
	var dirs []string
	for _, d := range subdirs {
		dirs = append(dirs, filepath.Join(sd.path, d))
	}
	dirs = append(dirs, filepath.Join(sd.MasksDir(), "anatomy"))
	for _, run := range sd.taskOrder {
		dirs = append(dirs,
			filepath.Join(sd.FunctionalDir(), run),
			filepath.Join(sd.MasksDir(), run),
			filepath.Join(sd.BehaviouralDir(), run),
		)
		for m := 1; m <= numModels; m++ {
			dirs = append(dirs, sd.OnsetsDir(m, run))
		}
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (sd *SubjectDir) loadTree() error {
	entries, err := os.ReadDir(sd.FunctionalDir())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	sd.functional = map[string][]string{}
	for _, e := range entries {
		m := runPattern.FindStringSubmatch(e.Name())
		if m == nil || !e.IsDir() {
			continue
		}
		sd.functional[m[1]] = append(sd.functional[m[1]], filepath.Join(sd.FunctionalDir(), e.Name()))
	}
	for _, runs := range sd.functional {
		sort.Strings(runs)
	}
	return nil
}

// Tasks returns the tasks with at least one run, sorted.
func (sd *SubjectDir) Tasks() []string {
	tasks := make([]string, 0, len(sd.functional))
	for t := range sd.functional {
		tasks = append(tasks, t)
	}
	sort.Strings(tasks)
	return tasks
}

// Runs returns every run name (taskNNN_runNNN), sorted.
func (sd *SubjectDir) Runs() []string {
	var runs []string
	for _, t := range sd.Tasks() {
		for _, dir := range sd.functional[t] {
			runs = append(runs, filepath.Base(dir))
		}
	}
	return runs
}

// RunsOfTask returns the run names of one task, sorted.
func (sd *SubjectDir) RunsOfTask(task string) []string {
	var runs []string
	for _, dir := range sd.functional[task] {
		runs = append(runs, filepath.Base(dir))
	}
	return runs
}

func (sd *SubjectDir) Code() int               { return sd.code }
func (sd *SubjectDir) ID() string              { return SubjectID(sd.code) }
func (sd *SubjectDir) Path() string            { return sd.path }
func (sd *SubjectDir) RawPath() string         { return sd.rawPath }
func (sd *SubjectDir) BehaviouralPath() string { return sd.behaviouralPath }
func (sd *SubjectDir) TaskOrder() []string     { return append([]string(nil), sd.taskOrder...) }

func (sd *SubjectDir) FunctionalDir() string  { return filepath.Join(sd.path, functionalSubdir) }
func (sd *SubjectDir) AnatomicalDir() string  { return filepath.Join(sd.path, anatomicalSubdir) }
func (sd *SubjectDir) ModelDir() string       { return filepath.Join(sd.path, modelSubdir) }
func (sd *SubjectDir) MasksDir() string       { return filepath.Join(sd.path, masksSubdir) }
func (sd *SubjectDir) BehaviouralDir() string { return filepath.Join(sd.path, behaviouralSubdir) }
func (sd *SubjectDir) ResultsDir() string     { return filepath.Join(sd.path, "results") }
func (sd *SubjectDir) QADir() string          { return filepath.Join(sd.path, "qa") }

// AnatomicalHead is the converted T1 image.
func (sd *SubjectDir) AnatomicalHead() string {
	return filepath.Join(sd.AnatomicalDir(), "highres001.nii.gz")
}

// AnatomicalRestore is the bias field corrected T1 image.
func (sd *SubjectDir) AnatomicalRestore() string {
	return filepath.Join(sd.AnatomicalDir(), "highres001_restore.nii.gz")
}

// AnatomicalBrain is the brain extracted T1 image.
func (sd *SubjectDir) AnatomicalBrain() string {
	return filepath.Join(sd.AnatomicalDir(), "highres001_brain.nii.gz")
}

// AnatomicalRegDir holds the highres to standard transforms.
func (sd *SubjectDir) AnatomicalRegDir() string {
	return filepath.Join(sd.AnatomicalDir(), "reg")
}

// RunDir is the directory of a functional run.
func (sd *SubjectDir) RunDir(run string) string {
	return filepath.Join(sd.FunctionalDir(), run)
}

// BOLD is the converted functional image of a run.
func (sd *SubjectDir) BOLD(run string) string {
	return filepath.Join(sd.RunDir(run), "bold.nii.gz")
}

// MotionCorrected is the motion corrected functional image of a run.
func (sd *SubjectDir) MotionCorrected(run string) string {
	return filepath.Join(sd.RunDir(run), "bold_mcf.nii.gz")
}

// MidFunc is the middle volume of the motion corrected run.
func (sd *SubjectDir) MidFunc(run string) string {
	return filepath.Join(sd.RunDir(run), "mid_func.nii.gz")
}

// RunRegDir holds the FEAT style registration of a run.
func (sd *SubjectDir) RunRegDir(run string) string {
	return filepath.Join(sd.RunDir(run), "reg")
}

// RunMasksDir holds masks in the space of a run.
func (sd *SubjectDir) RunMasksDir(run string) string {
	return filepath.Join(sd.MasksDir(), run)
}

// AnatomicalMasksDir holds masks in highres space.
func (sd *SubjectDir) AnatomicalMasksDir() string {
	return filepath.Join(sd.MasksDir(), "anatomy")
}

// OnsetsDir is where condition onset files of a model and run live.
func (sd *SubjectDir) OnsetsDir(model int, run string) string {
	return filepath.Join(sd.ModelDir(), fmt.Sprintf("model%03d", model), "onsets", run)
}

func (sd *SubjectDir) String() string {
	return fmt.Sprintf("<Subject Dir: %s>", sd.ID())
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
