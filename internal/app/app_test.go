package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fmriflow/internal/hcl_adapter"
	"github.com/vk/fmriflow/internal/ledger"
	"github.com/vk/fmriflow/internal/testutil"
)

const anatomySteps = `
step "bias_field" "bf" {}

step "brain_extraction" "anat" {
  arguments {
    frac                = 0.4
    estimate_bias_field = false
  }
  depends_on = ["bias_field.bf"]
}

step "anatomical_registration" "reg" {
  depends_on = ["brain_extraction.anat"]
}
`

func newFixture(t *testing.T) (*testutil.StudyFixture, *testutil.FakeRunner) {
	t.Helper()
	f := testutil.NewStudyFixture(t, "LP", "task001_run001")
	f.AddRawSubject("KeEl")
	runner := testutil.NewFakeRunner()
	runner.On("dcm2nii", testutil.Dcm2niiHook(4, 2))
	return f, runner
}

func lastRun(t *testing.T, path string) ledger.Run {
	t.Helper()
	l, err := ledger.Open(path)
	require.NoError(t, err)
	defer l.Close()
	runs, err := l.Runs(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0]
}

func TestRunPipeline(t *testing.T) {
	f, runner := newFixture(t)
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	a, logs := setupAppTest(t, Config{LedgerPath: ledgerPath}, studyPipeline(f, anatomySteps), WithRunner(runner))

	require.NoError(t, a.Run(context.Background()))

	var tools []string
	for _, name := range runner.Names() {
		if name != "dcm2nii" {
			tools = append(tools, name)
		}
	}
	assert.Equal(t, []string{"fast", "bet", "flirt", "fnirt"}, tools)
	assert.Contains(t, logs.String(), "Execution finished.")

	run := lastRun(t, ledgerPath)
	assert.Equal(t, ledger.StatusDone, run.Status)
	assert.Equal(t, "pipeline.hcl", run.Pipeline)
	assert.Equal(t, "LP", run.Study)
	require.Len(t, run.Steps, 3)
	for _, s := range run.Steps {
		assert.Equal(t, ledger.StatusDone, s.Status, s.Node)
		assert.Equal(t, "sub001", s.Subject)
	}
}

func TestRunPipelineIsResumable(t *testing.T) {
	f, runner := newFixture(t)
	a, _ := setupAppTest(t, Config{}, studyPipeline(f, anatomySteps), WithRunner(runner))
	require.NoError(t, a.Run(context.Background()))

	runner.Reset()
	b, _ := setupAppTest(t, Config{}, studyPipeline(f, anatomySteps), WithRunner(runner))
	require.NoError(t, b.Run(context.Background()))
	assert.Empty(t, runner.Calls(), "completed outputs are not recomputed")
}

func TestRunPipelineFailure(t *testing.T) {
	f, runner := newFixture(t)
	runner.FailOn("bet", "image not found")
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	a, _ := setupAppTest(t, Config{LedgerPath: ledgerPath}, studyPipeline(f, anatomySteps), WithRunner(runner))

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sub001/brain_extraction.anat")
	assert.Contains(t, err.Error(), "image not found")
	assert.NotContains(t, runner.Names(), "flirt")

	run := lastRun(t, ledgerPath)
	assert.Equal(t, ledger.StatusFailed, run.Status)
	statuses := map[string]string{}
	for _, s := range run.Steps {
		statuses[s.Node] = s.Status
	}
	assert.Equal(t, map[string]string{
		"sub001/bias_field.bf":               ledger.StatusDone,
		"sub001/brain_extraction.anat":       ledger.StatusFailed,
		"sub001/anatomical_registration.reg": ledger.StatusSkipped,
	}, statuses)
}

func TestRunLogsPreviousOutcome(t *testing.T) {
	f, runner := newFixture(t)
	runner.FailOn("bet", "image not found")
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	a, logs := setupAppTest(t, Config{LedgerPath: ledgerPath}, studyPipeline(f, anatomySteps), WithRunner(runner))
	require.Error(t, a.Run(context.Background()))
	assert.NotContains(t, logs.String(), "Previous outcome found.")

	b, logs := setupAppTest(t, Config{LedgerPath: ledgerPath}, studyPipeline(f, anatomySteps), WithRunner(testutil.NewFakeRunner()))
	require.NoError(t, b.Run(context.Background()))
	out := logs.String()
	assert.Contains(t, out, "Previous outcome found.")
	assert.Contains(t, out, "previous_status=done")
	assert.Contains(t, out, "previous_status=failed")
	assert.Contains(t, out, "previous_status=skipped")
}

func TestRunSelectsSubjectsWithRaw(t *testing.T) {
	f, runner := newFixture(t)
	cfg := Config{Subjects: []string{SubjectsWithRaw}}

	a, logs := setupAppTest(t, cfg, studyPipeline(f, anatomySteps), WithRunner(runner))
	require.NoError(t, a.Run(context.Background()))
	assert.Contains(t, logs.String(), "No nodes found in graph", "nothing imported yet")

	b, _ := setupAppTest(t, Config{}, studyPipeline(f, anatomySteps), WithRunner(runner))
	require.NoError(t, b.Run(context.Background()))

	runner.Reset()
	c, logs := setupAppTest(t, cfg, studyPipeline(f, anatomySteps), WithRunner(runner))
	require.NoError(t, c.Run(context.Background()))
	assert.Contains(t, logs.String(), "subjects=[KeEl]")
	assert.Contains(t, logs.String(), "Execution finished.")

	require.NoError(t, os.RemoveAll(filepath.Join(f.RawDir, f.Name, "KeEl")))
	d, logs := setupAppTest(t, cfg, studyPipeline(f, anatomySteps), WithRunner(runner))
	require.NoError(t, d.Run(context.Background()))
	assert.Contains(t, logs.String(), "No nodes found in graph")
}

func TestRunRejectsBadArguments(t *testing.T) {
	f, runner := newFixture(t)
	steps := `
step "brain_extraction" "anat" {
  arguments { fraction = 0.4 }
}
`
	a, _ := setupAppTest(t, Config{}, studyPipeline(f, steps), WithRunner(runner))
	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 'brain_extraction.anat': unsupported argument(s): fraction")
	assert.NotContains(t, runner.Names(), "bet")
}

func TestRunDryRunSkipsUnknownSubjects(t *testing.T) {
	f, runner := newFixture(t)
	a, logs := setupAppTest(t, Config{DryRun: true}, studyPipeline(f, anatomySteps), WithRunner(runner))

	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, runner.Calls())
	assert.Contains(t, logs.String(), "Dry run, not creating new subject.")
	assert.Contains(t, logs.String(), "No nodes found in graph")
}

func TestRunDryRunOnImportedSubject(t *testing.T) {
	f, runner := newFixture(t)
	importer, _ := setupAppTest(t, Config{}, studyPipeline(f, ""), WithRunner(runner))
	require.NoError(t, importer.Run(context.Background()))
	require.Equal(t, []string{"dcm2nii", "dcm2nii"}, runner.Names())

	runner.Reset()
	ledgerPath := filepath.Join(t.TempDir(), "ledger.db")
	a, logs := setupAppTest(t, Config{DryRun: true, LedgerPath: ledgerPath}, studyPipeline(f, anatomySteps), WithRunner(runner))

	require.NoError(t, a.Run(context.Background()))
	assert.Empty(t, runner.Calls())
	assert.Contains(t, logs.String(), "Planned node.")
	assert.Contains(t, logs.String(), "Dry run, step not executed.")
	assert.NoFileExists(t, filepath.Join(f.StudyDir(), "sub001", "anatomy", "highres001_brain.nii.gz"))

	run := lastRun(t, ledgerPath)
	assert.True(t, run.DryRun)
	assert.Equal(t, ledger.StatusDone, run.Status)
	require.Len(t, run.Steps, 3)
}

func TestNewAppPanics(t *testing.T) {
	f, _ := newFixture(t)
	testCases := []struct {
		name     string
		pipeline string
	}{
		{"unknown step type", studyPipeline(f, `step "recon_all" "fs" {}`)},
		{"group only step at subject scope", studyPipeline(f, `step "group_map" "acc" { arguments { analysis = "sl_r3" } }`)},
		{"syntax error", `study "LP" {`},
		{"dependency cycle", studyPipeline(f, `
step "bias_field" "a" { depends_on = ["segmentation.b"] }
step "segmentation" "b" { depends_on = ["bias_field.a"] }
`)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Panics(t, func() { setupAppTest(t, Config{}, tc.pipeline) })
		})
	}
}

func TestCoreModulesRegisterEveryStepType(t *testing.T) {
	f, _ := newFixture(t)
	a, _ := setupAppTest(t, Config{}, studyPipeline(f, ""))
	assert.Equal(t, []string{
		"anatomical_registration", "archive", "behavioural_evs", "bias_field",
		"brain_extraction", "first_level", "functional_gm_masks",
		"functional_registration", "functional_segmentation", "group_map",
		"motion_correction", "non_brain_mask", "notify", "quality",
		"searchlight", "segmentation", "slice_timing", "smoothing",
	}, a.Registry().Types())
}

func TestExamplePipelineLoads(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("ARCHIVE_ENDPOINT", "s3.lab.local:9000")
	t.Setenv("ARCHIVE_ACCESS_KEY", "key")
	t.Setenv("ARCHIVE_SECRET_KEY", "secret")

	cfg, err := NewConfig(Config{PipelinePath: filepath.Join("..", "..", "pipelines", "lp.hcl"), WorkerCount: 1})
	require.NoError(t, err)
	a := NewApp(&testutil.SafeBuffer{}, cfg, hcl_adapter.NewLoader(), WithEnv(Env{}))

	require.Len(t, a.Model().Steps, 15)
	assert.Equal(t, "LP", a.Model().Study.Name)
	require.NoError(t, a.checkArguments(context.Background()))
}
