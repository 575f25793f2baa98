package openfmri

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/fsl"
)

// Series is a raw DICOM series directory with its role.
type Series struct {
	Dir         string
	Description string
}

// findSeries locates the anatomical and functional series of a raw subject
// directory. Directory names are tried first; when they do not match, series
// are classified by the SeriesDescription of their first DICOM file.
func findSeries(ctx context.Context, rawPath string) (anat string, funcs []string, err error) {
	anatMatches, err := filepath.Glob(filepath.Join(rawPath, "*MPRAGE_iso*"))
	if err != nil {
		return "", nil, err
	}
	funcs, err = filepath.Glob(filepath.Join(rawPath, "*ep2*"))
	if err != nil {
		return "", nil, err
	}
	sort.Strings(anatMatches)
	sort.Strings(funcs)
	if len(anatMatches) > 0 && len(funcs) > 0 {
		return anatMatches[0], funcs, nil
	}

	ctxlog.FromContext(ctx).Debug("Series directories not recognised by name, reading DICOM headers.", "raw", rawPath)
	series, err := ClassifySeries(rawPath)
	if err != nil {
		return "", nil, err
	}
	funcs = funcs[:0]
	for _, s := range series {
		desc := strings.ToLower(s.Description)
		switch {
		case strings.Contains(desc, "mprage") && anat == "":
			anat = s.Dir
		case strings.Contains(desc, "ep2d") || strings.Contains(desc, "ep2"):
			funcs = append(funcs, s.Dir)
		}
	}
	if anat == "" {
		return "", nil, fmt.Errorf("no anatomical series found in %s", rawPath)
	}
	return anat, funcs, nil
}

// ClassifySeries reads the SeriesDescription of the first file in every
// subdirectory of rawPath. Directories without a readable DICOM file are
// left out.
func ClassifySeries(rawPath string) ([]Series, error) {
	entries, err := os.ReadDir(rawPath)
	if err != nil {
		return nil, err
	}
	var out []Series
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(rawPath, e.Name())
		desc, ok := seriesDescription(dir)
		if !ok {
			continue
		}
		out = append(out, Series{Dir: dir, Description: desc})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Dir < out[j].Dir })
	return out, nil
}

func seriesDescription(dir string) (string, bool) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, f := range files {
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
			continue
		}
		ds, err := dicom.ParseFile(filepath.Join(dir, f.Name()), nil, dicom.SkipPixelData())
		if err != nil {
			return "", false
		}
		el, err := ds.FindElementByTag(tag.SeriesDescription)
		if err != nil {
			return "", false
		}
		values := dicom.MustGetStrings(el.Value)
		if len(values) == 0 {
			return "", false
		}
		return values[0], true
	}
	return "", false
}

func (sd *SubjectDir) convertDICOM(ctx context.Context, runner fsl.Runner) error {
	logger := ctxlog.FromContext(ctx).With("subject", sd.ID())
	anat, funcs, err := findSeries(ctx, sd.rawPath)
	if err != nil {
		return fmt.Errorf("failed to locate DICOM series of %s: %w", sd.ID(), err)
	}
	if len(funcs) < len(sd.taskOrder) {
		logger.Warn("Fewer functional series than runs in the task order.", "series", len(funcs), "runs", len(sd.taskOrder))
	}

	logger.Info("Converting DICOM to NIfTI.")
	if err := convertSeries(ctx, runner, anat, sd.AnatomicalDir(), "highres001", "co", true); err != nil {
		return err
	}
	for i, run := range sd.taskOrder {
		if i >= len(funcs) {
			break
		}
		if err := convertSeries(ctx, runner, funcs[i], sd.RunDir(run), "bold", "", false); err != nil {
			return err
		}
	}
	logger.Info("Finished converting DICOM to NIfTI.")
	return nil
}

// convertSeries runs dcm2nii and renames the first output starting with
// prefix to <target>.nii.gz. With erase, the other converted files are
// removed.
func convertSeries(ctx context.Context, runner fsl.Runner, source, targetDir, target, prefix string, erase bool) error {
	before, err := listFiles(targetDir)
	if err != nil {
		return err
	}
	if _, err := runner.Run(ctx, fsl.Dcm2nii{Source: source, TargetDir: targetDir}.Command()); err != nil {
		return fmt.Errorf("dcm2nii failed for %s: %w", source, err)
	}
	after, err := listFiles(targetDir)
	if err != nil {
		return err
	}

	var produced []string
	for f := range after {
		if _, old := before[f]; !old && strings.HasPrefix(f, prefix) && isNIfTI(f) {
			produced = append(produced, f)
		}
	}
	sort.Strings(produced)
	if len(produced) == 0 {
		return fmt.Errorf("dcm2nii produced no image from %s, check the DICOM files", source)
	}

	dest := filepath.Join(targetDir, target+".nii.gz")
	if err := os.Rename(filepath.Join(targetDir, produced[0]), dest); err != nil {
		return err
	}
	if erase {
		for f := range after {
			if f == produced[0] || strings.HasPrefix(f, target) {
				continue
			}
			if _, old := before[f]; old {
				continue
			}
			if err := os.Remove(filepath.Join(targetDir, f)); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

func listFiles(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			out[e.Name()] = struct{}{}
		}
	}
	return out, nil
}

func isNIfTI(name string) bool {
	return strings.HasSuffix(name, ".nii.gz") || strings.HasSuffix(name, ".nii")
}
