package fsl

import (
	"fmt"
	"strconv"
	"strings"
)

// ExtractROI cuts a range of volumes out of a 4D image.
type ExtractROI struct {
	In    string
	Out   string
	TMin  int
	TSize int
}

func (e ExtractROI) Command() Command {
	return Command{
		Name:    "fslroi",
		Args:    []string{e.In, e.Out, strconv.Itoa(e.TMin), strconv.Itoa(e.TSize)},
		Outputs: []string{e.Out},
	}
}

// Merge concatenates images along time.
type Merge struct {
	In  []string
	Out string
}

func (m Merge) Command() Command {
	args := append([]string{"-t", m.Out}, m.In...)
	return Command{Name: "fslmerge", Args: args, Outputs: []string{m.Out}}
}

// Split writes one file per volume, named <OutBase>0000.nii.gz onwards.
type Split struct {
	In      string
	OutBase string
}

func (s Split) Command() Command {
	return Command{Name: "fslsplit", Args: []string{s.In, s.OutBase, "-t"}}
}

// Maths runs fslmaths with a sequence of operations. OutputType, when set,
// is passed as -odt.
type Maths struct {
	In         string
	Ops        []string
	Out        string
	OutputType string
}

func (m Maths) Command() Command {
	args := append([]string{m.In}, m.Ops...)
	args = append(args, m.Out)
	if m.OutputType != "" {
		args = append(args, "-odt", m.OutputType)
	}
	return Command{Name: "fslmaths", Args: args, Outputs: []string{m.Out}}
}

// Stats runs fslstats, optionally restricted to the voxels of Mask.
type Stats struct {
	In   string
	Mask string
	Ops  []string
}

func (s Stats) Command() Command {
	args := []string{s.In}
	if s.Mask != "" {
		args = append(args, "-k", s.Mask)
	}
	return Command{Name: "fslstats", Args: append(args, s.Ops...)}
}

// ParseStats reads the numbers printed by fslstats.
func ParseStats(stdout string) ([]float64, error) {
	var out []float64
	for _, field := range strings.Fields(stdout) {
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, fmt.Errorf("unexpected fslstats output %q", stdout)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("fslstats printed nothing")
	}
	return out, nil
}
