package fsl

import (
	"fmt"
	"path/filepath"
	"strconv"
)

// BET is brain extraction.
type BET struct {
	In               string
	Out              string
	Mask             bool
	Robust           bool
	NoOutput         bool
	Frac             float64
	VerticalGradient float64
}

// MaskFile is the path of the binary brain mask written with -m.
func (b BET) MaskFile() string {
	return TrimImageExt(b.Out) + "_mask.nii.gz"
}

func (b BET) Command() Command {
	c := Command{Name: "bet", Args: []string{b.In, b.Out}}
	if b.Mask {
		c.Args = append(c.Args, "-m")
		c.Outputs = append(c.Outputs, b.MaskFile())
	}
	if b.Robust {
		c.Args = append(c.Args, "-R")
	}
	if b.NoOutput {
		c.Args = append(c.Args, "-n")
	} else {
		c.Outputs = append(c.Outputs, b.Out)
	}
	c.Args = append(c.Args, "-f", ftoa(b.Frac), "-g", ftoa(b.VerticalGradient))
	return c
}

// FAST is tissue segmentation and bias field estimation.
type FAST struct {
	In                  string
	OutBasename         string
	ImgType             int
	Classes             int
	Hyper               float64
	BiasLowpass         float64
	BiasIters           int
	ItersAfterBias      int
	OutputBiasCorrected bool
	OutputBiasField     bool
	NoPVE               bool
	Segments            bool
}

func (f FAST) classes() int {
	if f.Classes == 0 {
		return 3
	}
	return f.Classes
}

// RestoredImage is the bias-corrected image written with -B.
func (f FAST) RestoredImage() string { return f.OutBasename + "_restore.nii.gz" }

// SegmentFile is the binary segmentation of class i written with -g.
func (f FAST) SegmentFile(i int) string { return fmt.Sprintf("%s_seg_%d.nii.gz", f.OutBasename, i) }

// PartialVolumeFile is the partial volume estimate of class i.
func (f FAST) PartialVolumeFile(i int) string { return fmt.Sprintf("%s_pve_%d.nii.gz", f.OutBasename, i) }

func (f FAST) Command() Command {
	c := Command{Name: "fast"}
	if f.ImgType > 0 {
		c.Args = append(c.Args, "-t", strconv.Itoa(f.ImgType))
	}
	if f.Classes > 0 {
		c.Args = append(c.Args, "-n", strconv.Itoa(f.Classes))
	}
	if f.Hyper > 0 {
		c.Args = append(c.Args, "-H", ftoa(f.Hyper))
	}
	if f.BiasLowpass > 0 {
		c.Args = append(c.Args, "-l", ftoa(f.BiasLowpass))
	}
	if f.OutputBiasCorrected {
		c.Args = append(c.Args, "-B")
		c.Outputs = append(c.Outputs, f.RestoredImage())
	}
	if f.OutputBiasField {
		c.Args = append(c.Args, "-b")
		c.Outputs = append(c.Outputs, f.OutBasename+"_bias.nii.gz")
	}
	if f.BiasIters > 0 {
		c.Args = append(c.Args, "-I", strconv.Itoa(f.BiasIters))
	}
	if f.ItersAfterBias > 0 {
		c.Args = append(c.Args, "-O", strconv.Itoa(f.ItersAfterBias))
	}
	if f.NoPVE {
		c.Args = append(c.Args, "--nopve")
	} else {
		for i := 0; i < f.classes(); i++ {
			c.Outputs = append(c.Outputs, f.PartialVolumeFile(i))
		}
	}
	if f.Segments {
		c.Args = append(c.Args, "-g")
		for i := 0; i < f.classes(); i++ {
			c.Outputs = append(c.Outputs, f.SegmentFile(i))
		}
	}
	c.Args = append(c.Args, "-o", f.OutBasename, f.In)
	return c
}

// MCFLIRT is rigid-body motion correction.
type MCFLIRT struct {
	In        string
	Out       string
	RefFile   string
	SaveMats  bool
	SavePlots bool
}

// ParFile is the motion parameter file written with -plots.
func (m MCFLIRT) ParFile() string { return m.Out + ".par" }

func (m MCFLIRT) Command() Command {
	c := Command{Name: "mcflirt", Args: []string{"-in", m.In, "-out", m.Out}, Outputs: []string{m.Out}}
	if m.RefFile != "" {
		c.Args = append(c.Args, "-reffile", m.RefFile)
	}
	if m.SaveMats {
		c.Args = append(c.Args, "-mats")
	}
	if m.SavePlots {
		c.Args = append(c.Args, "-plots")
		c.Outputs = append(c.Outputs, m.ParFile())
	}
	return c
}

// PlotMotionParams renders MCFLIRT parameters with fsl_tsplot.
type PlotMotionParams struct {
	In       string
	PlotType string // "rotations" or "translations"
	Out      string
}

func (p PlotMotionParams) Command() (Command, error) {
	var title, start, finish, labels string
	switch p.PlotType {
	case "rotations":
		title, start, finish, labels = "MCFLIRT estimated rotations (radians)", "1", "3", "x,y,z"
	case "translations":
		title, start, finish, labels = "MCFLIRT estimated translations (mm)", "4", "6", "x,y,z"
	default:
		return Command{}, fmt.Errorf("unknown motion plot type %q", p.PlotType)
	}
	return Command{
		Name: "fsl_tsplot",
		Args: []string{
			"-i", p.In, "-t", title, "--start=" + start, "--finish=" + finish,
			"-a", labels, "-o", p.Out,
		},
		Outputs: []string{p.Out},
	}, nil
}

// SliceTimer is slice timing correction.
type SliceTimer struct {
	In          string
	Out         string
	TR          float64
	Interleaved bool
	Down        bool
	Direction   int
}

func (s SliceTimer) Command() Command {
	c := Command{Name: "slicetimer", Args: []string{"-i", s.In, "-o", s.Out}, Outputs: []string{s.Out}}
	if s.TR > 0 {
		c.Args = append(c.Args, "-r", ftoa(s.TR))
	}
	if s.Interleaved {
		c.Args = append(c.Args, "--odd")
	}
	if s.Down {
		c.Args = append(c.Args, "--down")
	}
	if s.Direction > 0 {
		c.Args = append(c.Args, "-d", strconv.Itoa(s.Direction))
	}
	return c
}

// SUSAN is edge preserving smoothing.
type SUSAN struct {
	In                  string
	Out                 string
	BrightnessThreshold float64
	FWHM                float64
	Dimension           int
	UseMedian           bool
}

// sigma converts a FWHM in mm to the Gaussian sigma SUSAN expects.
func (s SUSAN) sigma() float64 { return s.FWHM / 2.3548 }

func (s SUSAN) Command() Command {
	dim := s.Dimension
	if dim == 0 {
		dim = 3
	}
	median := "0"
	if s.UseMedian {
		median = "1"
	}
	return Command{
		Name: "susan",
		Args: []string{
			s.In, ftoa(s.BrightnessThreshold), ftoa(s.sigma()),
			strconv.Itoa(dim), median, "0", s.Out,
		},
		Outputs: []string{s.Out},
	}
}

// Dcm2nii converts a DICOM series directory into NIfTI files.
type Dcm2nii struct {
	Source    string
	TargetDir string
}

func (d Dcm2nii) Command() Command {
	return Command{Name: "dcm2nii", Args: []string{"-o", d.TargetDir, d.Source}}
}

// StandardImage returns the path of an image shipped in $FSLDIR/data/standard.
func StandardImage(fslDir, name string) string {
	return filepath.Join(fslDir, "data", "standard", name)
}
