package app

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v10"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	PipelinePath string // .hcl file or directory

	LogFormat       string
	LogLevel        string
	HealthcheckPort int
	WorkerCount     int

	// LedgerPath is the SQLite file of the run ledger. Empty keeps the
	// ledger in memory for the lifetime of the process.
	LedgerPath string
	// Subjects overrides the subject list of the study block. The single
	// name SubjectsWithRaw selects every imported subject with raw data.
	Subjects    []string
	DryRun      bool
	FailFast    bool
	Interactive bool
}

// SubjectsWithRaw selects every mapped subject whose raw directory still
// exists.
const SubjectsWithRaw = "all-with-raw"

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.PipelinePath == "" {
		return nil, errors.New("PipelinePath is a required configuration field and cannot be empty")
	}
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", cfg.WorkerCount)
	}
	switch cfg.LogFormat {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("unknown log format %q: must be text or json", cfg.LogFormat)
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Env is the process environment the application reads.
type Env struct {
	FSLDir        string `env:"FSLDIR"`
	FSLOutputType string `env:"FSLOUTPUTTYPE" envDefault:"NIFTI_GZ"`
	// DataDir and StudyName fill in what the study block leaves empty.
	DataDir   string `env:"DATA_DIR"`
	StudyName string `env:"STUDY_NAME"`
	// Viewer is launched by the interactive brain extraction review.
	Viewer string `env:"FMRIFLOW_VIEWER" envDefault:"fsleyes"`
}

// LoadEnv parses the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("failed to parse environment: %w", err)
	}
	return e, nil
}
