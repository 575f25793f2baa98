package fsl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBETCommand(t *testing.T) {
	t.Run("mask only", func(t *testing.T) {
		c := BET{In: "a/epi.nii.gz", Out: "a/epi_brain.nii.gz", Mask: true, NoOutput: true, Frac: 0.3, VerticalGradient: 0}.Command()
		assert.Equal(t, "bet", c.Name)
		assert.Equal(t, []string{"a/epi.nii.gz", "a/epi_brain.nii.gz", "-m", "-n", "-f", "0.3", "-g", "0"}, c.Args)
		assert.Equal(t, []string{"a/epi_brain_mask.nii.gz"}, c.Outputs)
	})

	t.Run("brain output", func(t *testing.T) {
		c := BET{In: "h.nii.gz", Out: "h_brain.nii.gz", Robust: true, Frac: 0.5, VerticalGradient: 0.1}.Command()
		assert.Equal(t, []string{"h.nii.gz", "h_brain.nii.gz", "-R", "-f", "0.5", "-g", "0.1"}, c.Args)
		assert.Equal(t, []string{"h_brain.nii.gz"}, c.Outputs)
	})
}

func TestFASTCommand(t *testing.T) {
	f := FAST{In: "h_brain.nii.gz", OutBasename: "seg/h", ImgType: 1, Segments: true}
	c := f.Command()
	assert.Equal(t, []string{"-t", "1", "-g", "-o", "seg/h", "h_brain.nii.gz"}, c.Args)
	assert.Contains(t, c.Outputs, "seg/h_seg_1.nii.gz")
	assert.Contains(t, c.Outputs, "seg/h_pve_2.nii.gz")
	assert.Len(t, c.Outputs, 6)

	bias := FAST{In: "h.nii.gz", OutBasename: "h", OutputBiasCorrected: true, NoPVE: true}.Command()
	assert.Equal(t, []string{"-B", "--nopve", "-o", "h", "h.nii.gz"}, bias.Args)
	assert.Equal(t, []string{"h_restore.nii.gz"}, bias.Outputs)
}

func TestFLIRTCommand(t *testing.T) {
	c := FLIRT{
		In: "in.nii.gz", Reference: "ref.nii.gz", Out: "out.nii.gz", OutMatrix: "a.mat",
		Cost: "corratio", DOF: 12, SearchRange: []int{-90, 90}, Interp: "trilinear",
	}.Command()
	assert.Equal(t, []string{
		"-in", "in.nii.gz", "-ref", "ref.nii.gz", "-out", "out.nii.gz", "-omat", "a.mat",
		"-cost", "corratio", "-dof", "12",
		"-searchrx", "-90", "90", "-searchry", "-90", "90", "-searchrz", "-90", "90",
		"-interp", "trilinear",
	}, c.Args)
	assert.Equal(t, []string{"out.nii.gz", "a.mat"}, c.Outputs)

	apply := FLIRT{In: "m.nii.gz", Reference: "f.nii.gz", Out: "o.nii.gz", InitMatrix: "x.mat", ApplyXfm: true}.Command()
	assert.Equal(t, []string{"-in", "m.nii.gz", "-ref", "f.nii.gz", "-out", "o.nii.gz", "-init", "x.mat", "-applyxfm"}, apply.Args)
}

func TestMCFLIRTAndPlots(t *testing.T) {
	m := MCFLIRT{In: "run.nii.gz", Out: "run_mcf", RefFile: "ref.nii.gz", SaveMats: true, SavePlots: true}
	c := m.Command()
	assert.Equal(t, []string{"-in", "run.nii.gz", "-out", "run_mcf", "-reffile", "ref.nii.gz", "-mats", "-plots"}, c.Args)
	assert.Equal(t, "run_mcf.par", m.ParFile())

	p, err := PlotMotionParams{In: m.ParFile(), PlotType: "rotations", Out: "rot.png"}.Command()
	require.NoError(t, err)
	assert.Contains(t, p.Args, "--start=1")
	assert.Contains(t, p.Args, "--finish=3")

	p, err = PlotMotionParams{In: m.ParFile(), PlotType: "translations", Out: "trans.png"}.Command()
	require.NoError(t, err)
	assert.Contains(t, p.Args, "--start=4")

	_, err = PlotMotionParams{PlotType: "displacement"}.Command()
	assert.Error(t, err)
}

func TestMathsAndStats(t *testing.T) {
	c := Maths{In: "bold.nii.gz", Out: "prefiltered.nii.gz", OutputType: "float"}.Command()
	assert.Equal(t, []string{"bold.nii.gz", "prefiltered.nii.gz", "-odt", "float"}, c.Args)

	c = Maths{In: "mcf.nii.gz", Ops: []string{"-mas", "mask.nii.gz"}, Out: "masked.nii.gz"}.Command()
	assert.Equal(t, []string{"mcf.nii.gz", "-mas", "mask.nii.gz", "masked.nii.gz"}, c.Args)

	s := Stats{In: "mcf.nii.gz", Mask: "thresh.nii.gz", Ops: []string{"-p", "50"}}.Command()
	assert.Equal(t, "fslstats", s.Name)
	assert.Equal(t, []string{"mcf.nii.gz", "-k", "thresh.nii.gz", "-p", "50"}, s.Args)
	assert.Empty(t, s.Outputs)

	v, err := ParseStats("12.5 980.000000 \n")
	require.NoError(t, err)
	assert.Equal(t, []float64{12.5, 980}, v)

	_, err = ParseStats("")
	assert.Error(t, err)
	_, err = ParseStats("Image Exception")
	assert.Error(t, err)
}

func TestMainFeatRegDefaults(t *testing.T) {
	m := MainFeatReg{FeatDir: "BOLD/task001_run001", LogFile: "log", ExampleFunc: "ex.nii.gz", Highres: "h_brain.nii.gz"}
	c := m.Command()
	assert.Equal(t, []string{
		"-F", "6.00", "-d", "BOLD/task001_run001", "-l", "log", "-i", "ex.nii.gz",
		"-h", "h_brain.nii.gz", "-w", "6", "-x", "90",
	}, c.Args)
	assert.Equal(t, []string{"BOLD/task001_run001/reg/highres2example_func.mat"}, c.Outputs)
}

func TestSUSANSigma(t *testing.T) {
	c := SUSAN{In: "a.nii.gz", Out: "b.nii.gz", BrightnessThreshold: 100, FWHM: 2.3548}.Command()
	assert.Equal(t, []string{"a.nii.gz", "100", "1", "3", "0", "0", "b.nii.gz"}, c.Args)
}

func TestCommandString(t *testing.T) {
	c := Command{Name: "fsl_tsplot", Args: []string{"-t", "MCFLIRT estimated rotations", "-o", "a.png"}}
	assert.Equal(t, `fsl_tsplot -t "MCFLIRT estimated rotations" -o a.png`, c.String())
}

func TestTrimImageExt(t *testing.T) {
	assert.Equal(t, "a/b", TrimImageExt("a/b.nii.gz"))
	assert.Equal(t, "a/b", TrimImageExt("a/b.nii"))
	assert.Equal(t, "a/b.mat", TrimImageExt("a/b.mat"))
}

func TestStandardImage(t *testing.T) {
	assert.Equal(t, "/opt/fsl/data/standard/MNI152_T1_2mm.nii.gz", StandardImage("/opt/fsl", "MNI152_T1_2mm.nii.gz"))
}

func TestExecRunner(t *testing.T) {
	ctx := context.Background()
	r := NewExecRunner(Env{}, false)
	assert.Equal(t, "NIFTI_GZ", r.Env.OutputType)

	t.Run("success with outputs", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "out.txt")
		res, err := r.Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo hi > " + out + "; echo done"}, Outputs: []string{out}})
		require.NoError(t, err)
		assert.Equal(t, "done\n", string(res.Stdout))
	})

	t.Run("exit code", func(t *testing.T) {
		_, err := r.Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo broken >&2; exit 3"}})
		var cmdErr *CommandError
		require.ErrorAs(t, err, &cmdErr)
		assert.Equal(t, 3, cmdErr.ExitCode)
		assert.Equal(t, "broken", cmdErr.Stderr)
	})

	t.Run("missing output", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "never.nii.gz")
		_, err := r.Run(ctx, Command{Name: "true", Outputs: []string{missing}})
		var cmdErr *CommandError
		require.ErrorAs(t, err, &cmdErr)
		assert.Equal(t, []string{missing}, cmdErr.Missing)
	})

	t.Run("environment", func(t *testing.T) {
		res, err := NewExecRunner(Env{FSLDir: "/opt/fsl"}, false).Run(ctx, Command{Name: "sh", Args: []string{"-c", "echo $FSLDIR $FSLOUTPUTTYPE"}})
		require.NoError(t, err)
		assert.Equal(t, "/opt/fsl NIFTI_GZ\n", string(res.Stdout))
	})

	t.Run("dry run", func(t *testing.T) {
		dir := t.TempDir()
		_, err := NewExecRunner(Env{}, true).Run(ctx, Command{Name: "touch", Args: []string{filepath.Join(dir, "x")}})
		require.NoError(t, err)
		_, statErr := os.Stat(filepath.Join(dir, "x"))
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := r.Run(cctx, Command{Name: "sleep", Args: []string{"5"}})
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
