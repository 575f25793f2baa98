package app

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", Config{PipelinePath: "p.hcl", WorkerCount: 4, LogFormat: "json"}, ""},
		{"missing path", Config{WorkerCount: 4}, "PipelinePath is a required"},
		{"no workers", Config{PipelinePath: "p.hcl"}, "worker count must be at least 1"},
		{"bad format", Config{PipelinePath: "p.hcl", WorkerCount: 1, LogFormat: "xml"}, `unknown log format "xml"`},
		{"bad level", Config{PipelinePath: "p.hcl", WorkerCount: 1, LogLevel: "loud"}, `unknown log level "loud"`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := NewConfig(tc.cfg)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.cfg, *cfg)
		})
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
	} {
		got, err := parseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("FSLDIR", "/usr/local/fsl")
	t.Setenv("STUDY_NAME", "LP")
	t.Setenv("FSLOUTPUTTYPE", "")

	e, err := LoadEnv()
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/fsl", e.FSLDir)
	assert.Equal(t, "LP", e.StudyName)
	assert.Equal(t, "fsleyes", e.Viewer)
}
