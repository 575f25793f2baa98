package fsl

import "strconv"

// FeatModel renders design.mat and design.con from a design.fsf.
// Basename is the design path without the .fsf extension. Confounds is an
// optional text matrix appended to the design as nuisance regressors.
type FeatModel struct {
	Basename  string
	Confounds string
}

func (f FeatModel) DesignMatrix() string    { return f.Basename + ".mat" }
func (f FeatModel) DesignContrasts() string { return f.Basename + ".con" }

func (f FeatModel) Command() Command {
	c := Command{
		Name:    "feat_model",
		Args:    []string{f.Basename},
		Outputs: []string{f.DesignMatrix()},
	}
	if f.Confounds != "" {
		c.Args = append(c.Args, f.Confounds)
	}
	return c
}

// GLM fits a general linear model with fsl_glm.
type GLM struct {
	In        string
	Design    string
	Contrasts string
	Mask      string
	Out       string
	OutZ      string
	OutT      string
}

func (g GLM) Command() Command {
	c := Command{Name: "fsl_glm", Args: []string{"-i", g.In, "-d", g.Design, "-o", g.Out}, Outputs: []string{g.Out}}
	if g.Contrasts != "" {
		c.Args = append(c.Args, "-c", g.Contrasts)
	}
	if g.Mask != "" {
		c.Args = append(c.Args, "-m", g.Mask)
	}
	if g.OutZ != "" {
		c.Args = append(c.Args, "--out_z="+g.OutZ)
		c.Outputs = append(c.Outputs, g.OutZ)
	}
	if g.OutT != "" {
		c.Args = append(c.Args, "--out_t="+g.OutT)
		c.Outputs = append(c.Outputs, g.OutT)
	}
	return c
}

// Randomise runs a one-sample permutation test with TFCE.
type Randomise struct {
	In           string
	OutBase      string
	Mask         string
	Permutations int
}

func (r Randomise) Command() Command {
	c := Command{
		Name:    "randomise",
		Args:    []string{"-i", r.In, "-o", r.OutBase, "-1", "-T"},
		Outputs: []string{r.OutBase + "_tfce_corrp_tstat1.nii.gz"},
	}
	if r.Mask != "" {
		c.Args = append(c.Args, "-m", r.Mask)
	}
	if r.Permutations > 0 {
		c.Args = append(c.Args, "-n", strconv.Itoa(r.Permutations))
	}
	return c
}
