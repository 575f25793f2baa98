package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fmriflow/internal/app"
)

func TestParse(t *testing.T) {
	out := &bytes.Buffer{}
	opts, exit, err := Parse([]string{
		"-workers", "8", "-log-format", "JSON", "-subjects", "KeEl, AnBo,,",
		"-dry-run", "-fail-fast", "-ledger", "runs.db", "-env-file", "lab.env", "pipeline.hcl",
	}, out)
	require.NoError(t, err)
	require.False(t, exit)

	cfg := opts.Config
	assert.Equal(t, "pipeline.hcl", cfg.PipelinePath)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, []string{"KeEl", "AnBo"}, cfg.Subjects)
	assert.Equal(t, "runs.db", cfg.LedgerPath)
	assert.True(t, cfg.DryRun)
	assert.True(t, cfg.FailFast)
	assert.False(t, cfg.Interactive)
	assert.Equal(t, "lab.env", opts.EnvFile)
}

func TestParseSubjectsWithRaw(t *testing.T) {
	opts, _, err := Parse([]string{"-subjects", "all-with-raw", "pipeline.hcl"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, []string{app.SubjectsWithRaw}, opts.Config.Subjects)
}

func TestParsePipelinePrecedence(t *testing.T) {
	opts, _, err := Parse([]string{"-p", "short.hcl", "-pipeline", "long.hcl", "positional.hcl"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "long.hcl", opts.Config.PipelinePath)

	opts, _, err = Parse([]string{"-p", "short.hcl", "positional.hcl"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "short.hcl", opts.Config.PipelinePath)
}

func TestParseExits(t *testing.T) {
	out := &bytes.Buffer{}
	opts, exit, err := Parse(nil, out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, opts)
	assert.Contains(t, out.String(), "Usage:")

	_, exit, err = Parse([]string{"-h"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.True(t, exit)
}

func TestParseErrors(t *testing.T) {
	testCases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"unknown flag", []string{"-nope"}, "flag provided but not defined"},
		{"bad log format", []string{"-log-format", "xml", "p.hcl"}, "invalid log-format"},
		{"bad log level", []string{"-log-level", "trace", "p.hcl"}, "invalid log-level"},
		{"no workers", []string{"-workers", "0", "p.hcl"}, "worker count must be at least 1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse(tc.args, &bytes.Buffer{})
			require.Error(t, err)
			var exitErr *ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.wantErr)
		})
	}
}
