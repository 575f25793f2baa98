package glm

import (
	"fmt"
	"io"
	"text/template"
)

// EV is one explanatory variable read from a three column onset file.
type EV struct {
	Name string
	File string
}

// Design holds the values rendered into design.fsf.
type Design struct {
	OutputDir string
	Func      string
	TR        float64
	Volumes   int
	HighPass  float64
	EVs       []EV
	// Confounds is the motion parameter file, empty when motion is not
	// modelled.
	Confounds string
}

var designTemplate = template.Must(template.New("design.fsf").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(`# FEAT first level design
set fmri(version) 6.00
set fmri(level) 1
set fmri(analysis) 2
set fmri(outputdir) "{{.OutputDir}}"
set feat_files(1) "{{.Func}}"
set fmri(tr) {{printf "%g" .TR}}
set fmri(npts) {{.Volumes}}
set fmri(ndelete) 0
set fmri(inputtype) 2
set fmri(temphp_yn) 1
set fmri(paradigm_hp) {{printf "%g" .HighPass}}
set fmri(prewhiten_yn) 0
set fmri(motionevs) 0
set fmri(confoundevs) {{if .Confounds}}1{{else}}0{{end}}
{{- if .Confounds}}
set confoundev_files(1) "{{.Confounds}}"
{{- end}}
set fmri(evs_orig) {{len .EVs}}
set fmri(evs_real) {{len .EVs}}
set fmri(evs_vox) 0
set fmri(ncon_orig) {{len .EVs}}
set fmri(ncon_real) {{len .EVs}}
{{- range $i, $ev := .EVs}}{{$n := inc $i}}

# EV {{$n}}: {{$ev.Name}}
set fmri(evtitle{{$n}}) "{{$ev.Name}}"
set fmri(shape{{$n}}) 3
set fmri(convolve{{$n}}) 3
set fmri(convolve_phase{{$n}}) 0
set fmri(tempfilt_yn{{$n}}) 1
set fmri(deriv_yn{{$n}}) 0
set fmri(custom{{$n}}) "{{$ev.File}}"
{{- range $j, $other := $.EVs}}
set fmri(ortho{{$n}}.{{inc $j}}) 0
{{- end}}
{{- end}}
{{- range $i, $ev := .EVs}}{{$n := inc $i}}

# Contrast {{$n}}: {{$ev.Name}}
set fmri(conpic_real.{{$n}}) 1
set fmri(conname_real.{{$n}}) "{{$ev.Name}}"
{{- range $j, $other := $.EVs}}
set fmri(con_real{{$n}}.{{inc $j}}) {{if eq $i $j}}1{{else}}0{{end}}
{{- end}}
{{- end}}
`))

// Render writes the design in FEAT's fsf format.
func (d Design) Render(w io.Writer) error {
	if len(d.EVs) == 0 {
		return fmt.Errorf("design has no explanatory variables")
	}
	if d.TR <= 0 {
		return fmt.Errorf("design has invalid TR %g", d.TR)
	}
	return designTemplate.Execute(w, d)
}
