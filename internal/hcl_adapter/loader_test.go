package hcl_adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fmriflow/internal/config"
)

func writePipeline(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func newTestLoader(env ...string) *Loader {
	return &Loader{environ: func() []string { return env }}
}

const pipeline = `
study "LP" {
  data_dir        = env.DATA_DIR
  raw_dir         = "${env.DATA_DIR}/raw"
  behavioural_dir = ""
  subjects        = ["KeEl", "AnBo"]
}

step "brain_extraction" "anat" {
  arguments {
    frac = 0.5
  }
}

step "motion_correction" "mcf" {
  arguments { merge_task_runs = true }
  depends_on = ["brain_extraction.anat"]
}

step "group_map" "acc" {
  scope      = "group"
  depends_on = ["motion_correction.mcf"]
}
`

func TestLoad(t *testing.T) {
	dir := writePipeline(t, map[string]string{"pipeline.hcl": pipeline})

	model, conv, err := newTestLoader("DATA_DIR=/data").Load(context.Background(), dir)
	require.NoError(t, err)
	require.NotNil(t, conv)

	assert.Equal(t, &config.Study{
		Name:     "LP",
		DataDir:  "/data",
		RawDir:   "/data/raw",
		Subjects: []string{"KeEl", "AnBo"},
	}, model.Study)

	require.Len(t, model.Steps, 3)
	bet := model.Step("brain_extraction.anat")
	require.NotNil(t, bet)
	assert.Equal(t, config.ScopeSubject, bet.Scope)
	assert.Contains(t, bet.Arguments, "frac")

	group := model.Step("group_map.acc")
	require.NotNil(t, group)
	assert.Equal(t, config.ScopeGroup, group.Scope)
	assert.Nil(t, group.Arguments)
	assert.Equal(t, []string{"motion_correction.mcf"}, group.DependsOn)
}

func TestLoadMergesFiles(t *testing.T) {
	dir := writePipeline(t, map[string]string{
		"study.hcl":       `study "LP" { data_dir = "/data" }`,
		"steps/prep.hcl":  `step "bias_field" "anat" {}`,
		"steps/notes.txt": `not hcl`,
	})

	model, _, err := newTestLoader().Load(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "LP", model.Study.Name)
	require.Len(t, model.Steps, 1)
	assert.Equal(t, "bias_field.anat", model.Steps[0].Address())
}

func TestLoadErrors(t *testing.T) {
	testCases := []struct {
		name    string
		files   map[string]string
		wantErr string
	}{
		{
			name:    "no study",
			files:   map[string]string{"a.hcl": `step "bias_field" "anat" {}`},
			wantErr: "no study block found",
		},
		{
			name: "two studies",
			files: map[string]string{
				"a.hcl": `study "A" {}`,
				"b.hcl": `study "B" {}`,
			},
			wantErr: "study block declared more than once",
		},
		{
			name: "duplicate step",
			files: map[string]string{"a.hcl": `
study "A" {}
step "bias_field" "anat" {}
step "bias_field" "anat" {}
`},
			wantErr: `duplicate step "bias_field.anat"`,
		},
		{
			name: "unknown dependency",
			files: map[string]string{"a.hcl": `
study "A" {}
step "bias_field" "anat" { depends_on = ["segmentation.x"] }
`},
			wantErr: `step "bias_field.anat" depends on unknown step "segmentation.x"`,
		},
		{
			name: "cycle",
			files: map[string]string{"a.hcl": `
study "A" {}
step "bias_field" "a" { depends_on = ["segmentation.b"] }
step "segmentation" "b" { depends_on = ["bias_field.a"] }
`},
			wantErr: "cycle detected: bias_field.a -> segmentation.b -> bias_field.a",
		},
		{
			name: "bad scope",
			files: map[string]string{"a.hcl": `
study "A" {}
step "bias_field" "anat" { scope = "run" }
`},
			wantErr: `invalid scope "run"`,
		},
		{
			name:    "syntax error",
			files:   map[string]string{"a.hcl": `study "A" {`},
			wantErr: "failed to parse HCL file",
		},
		{
			name:    "undefined variable",
			files:   map[string]string{"a.hcl": `study "A" { data_dir = env.NOPE }`},
			wantErr: "failed to decode HCL file",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writePipeline(t, tc.files)
			_, _, err := newTestLoader().Load(context.Background(), dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadMissingPath(t *testing.T) {
	_, _, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "missing.hcl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error accessing path")
}

func TestNewEvalContextSkipsMalformedEntries(t *testing.T) {
	evalCtx := newEvalContext([]string{"A=1", "broken", "=x", "B=two=2"})
	env := evalCtx.Variables["env"].AsValueMap()
	assert.Len(t, env, 2)
	assert.Equal(t, "two=2", env["B"].AsString())
}
