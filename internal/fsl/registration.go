package fsl

import "strconv"

// FLIRT is linear registration, or application of a matrix with ApplyXfm.
type FLIRT struct {
	In          string
	Reference   string
	Out         string
	OutMatrix   string
	InitMatrix  string
	ApplyXfm    bool
	Cost        string
	DOF         int
	SearchRange []int
	Interp      string
}

func (f FLIRT) Command() Command {
	c := Command{Name: "flirt", Args: []string{"-in", f.In, "-ref", f.Reference}}
	if f.Out != "" {
		c.Args = append(c.Args, "-out", f.Out)
		c.Outputs = append(c.Outputs, f.Out)
	}
	if f.OutMatrix != "" {
		c.Args = append(c.Args, "-omat", f.OutMatrix)
		c.Outputs = append(c.Outputs, f.OutMatrix)
	}
	if f.InitMatrix != "" {
		c.Args = append(c.Args, "-init", f.InitMatrix)
	}
	if f.ApplyXfm {
		c.Args = append(c.Args, "-applyxfm")
	}
	if f.Cost != "" {
		c.Args = append(c.Args, "-cost", f.Cost)
	}
	if f.DOF > 0 {
		c.Args = append(c.Args, "-dof", strconv.Itoa(f.DOF))
	}
	if len(f.SearchRange) == 2 {
		lo, hi := strconv.Itoa(f.SearchRange[0]), strconv.Itoa(f.SearchRange[1])
		c.Args = append(c.Args, "-searchrx", lo, hi, "-searchry", lo, hi, "-searchrz", lo, hi)
	}
	if f.Interp != "" {
		c.Args = append(c.Args, "-interp", f.Interp)
	}
	return c
}

// FNIRT is non-linear registration.
type FNIRT struct {
	In             string
	AffineFile     string
	Reference      string
	RefMask        string
	Config         string
	FieldCoeffFile string
	JacobianFile   string
	WarpedFile     string
}

func (f FNIRT) Command() Command {
	c := Command{Name: "fnirt", Args: []string{"--in=" + f.In, "--ref=" + f.Reference}}
	if f.AffineFile != "" {
		c.Args = append(c.Args, "--aff="+f.AffineFile)
	}
	if f.RefMask != "" {
		c.Args = append(c.Args, "--refmask="+f.RefMask)
	}
	if f.Config != "" {
		c.Args = append(c.Args, "--config="+f.Config)
	}
	if f.FieldCoeffFile != "" {
		c.Args = append(c.Args, "--cout="+f.FieldCoeffFile)
		c.Outputs = append(c.Outputs, f.FieldCoeffFile)
	}
	if f.JacobianFile != "" {
		c.Args = append(c.Args, "--jout="+f.JacobianFile)
	}
	if f.WarpedFile != "" {
		c.Args = append(c.Args, "--iout="+f.WarpedFile)
		c.Outputs = append(c.Outputs, f.WarpedFile)
	}
	return c
}

// ApplyWarp resamples an image through a FNIRT warp field.
type ApplyWarp struct {
	In        string
	Reference string
	Warp      string
	PreMatrix string
	Out       string
	Interp    string
}

func (a ApplyWarp) Command() Command {
	c := Command{
		Name:    "applywarp",
		Args:    []string{"--ref=" + a.Reference, "--in=" + a.In, "--warp=" + a.Warp},
		Outputs: []string{a.Out},
	}
	if a.PreMatrix != "" {
		c.Args = append(c.Args, "--premat="+a.PreMatrix)
	}
	if a.Interp != "" {
		c.Args = append(c.Args, "--interp="+a.Interp)
	}
	c.Args = append(c.Args, "--out="+a.Out)
	return c
}

// MainFeatReg registers a functional run to the highres image the way FEAT
// does, filling <FeatDir>/reg.
type MainFeatReg struct {
	FeatDir     string
	LogFile     string
	ExampleFunc string
	Highres     string
	// DOF is "3", "6", "7", "9", "12" or "BBR".
	DOF         string
	SearchRange int
}

// HighresToFunc is the matrix mapping highres to example_func space.
func (m MainFeatReg) HighresToFunc() string {
	return m.FeatDir + "/reg/highres2example_func.mat"
}

func (m MainFeatReg) Command() Command {
	dof := m.DOF
	if dof == "" {
		dof = "6"
	}
	search := m.SearchRange
	if search == 0 {
		search = 90
	}
	return Command{
		Name: "mainfeatreg",
		Args: []string{
			"-F", "6.00", "-d", m.FeatDir, "-l", m.LogFile, "-i", m.ExampleFunc,
			"-h", m.Highres, "-w", dof, "-x", strconv.Itoa(search),
		},
		Outputs: []string{m.HighresToFunc()},
	}
}
