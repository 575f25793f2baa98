package app

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/fmriflow/internal/hcl_adapter"
	"github.com/vk/fmriflow/internal/testutil"
)

// studyPipeline returns a study block for the fixture followed by steps.
func studyPipeline(f *testutil.StudyFixture, steps string) string {
	return fmt.Sprintf(`
study %q {
  data_dir = %q
  raw_dir  = %q
  subjects = ["KeEl"]
}
%s`, f.Name, f.DataDir, f.RawDir, steps)
}

// setupAppTest writes the pipeline to a temporary file and creates an App
// logging at debug level into the returned buffer.
func setupAppTest(t *testing.T, cfg Config, pipeline string, opts ...Option) (*App, *testutil.SafeBuffer) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(pipeline), 0o600))
	cfg.PipelinePath = path
	cfg.LogLevel = "debug"
	if cfg.WorkerCount == 0 {
		cfg.WorkerCount = 2
	}

	logBuffer := &testutil.SafeBuffer{}
	opts = append([]Option{WithEnv(Env{FSLDir: "/opt/fsl", FSLOutputType: "NIFTI_GZ"})}, opts...)
	testApp := NewApp(logBuffer, &cfg, hcl_adapter.NewLoader(), opts...)

	t.Cleanup(func() {
		if os.Getenv("FMRIFLOW_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logBuffer.String())
		}
	})
	return testApp, logBuffer
}
