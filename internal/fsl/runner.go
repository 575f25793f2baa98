package fsl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/vk/fmriflow/internal/ctxlog"
)

// Runner executes toolkit commands.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Env is the toolkit environment handed to every command.
type Env struct {
	FSLDir     string
	OutputType string
}

// ExecRunner runs commands as child processes.
type ExecRunner struct {
	Env    Env
	DryRun bool
}

// NewExecRunner creates an ExecRunner. An empty output type defaults to NIFTI_GZ.
func NewExecRunner(env Env, dryRun bool) *ExecRunner {
	if env.OutputType == "" {
		env.OutputType = "NIFTI_GZ"
	}
	return &ExecRunner{Env: env, DryRun: dryRun}
}

// Run starts the command, waits for it and checks its declared outputs.
// Cancelling ctx kills the whole process group of the tool.
func (r *ExecRunner) Run(ctx context.Context, c Command) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("tool", c.Name)
	if r.DryRun {
		logger.Info("Dry run, command not executed.", "cmd", c.String())
		return &Result{}, nil
	}
	logger.Debug("Running command.", "cmd", c.String())

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = r.environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if stderr.Len() > 0 {
		logger.Debug("Command stderr.", "stderr", stderrTail(res.Stderr, 20))
	}
	if err != nil {
		if ctx.Err() != nil {
			return res, fmt.Errorf("%s cancelled: %w", c.Name, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &CommandError{Command: c, ExitCode: res.ExitCode, Stderr: stderrTail(res.Stderr, 5)}
		}
		return res, fmt.Errorf("failed to start %s: %w", c.Name, err)
	}

	if missing := missingOutputs(c.Outputs); len(missing) > 0 {
		return res, &CommandError{Command: c, Missing: missing}
	}
	return res, nil
}

func (r *ExecRunner) environ() []string {
	env := os.Environ()
	env = append(env, "FSLOUTPUTTYPE="+r.Env.OutputType)
	if r.Env.FSLDir != "" {
		env = append(env, "FSLDIR="+r.Env.FSLDir)
	}
	return env
}

func missingOutputs(outputs []string) []string {
	var missing []string
	for _, o := range outputs {
		if _, err := os.Stat(o); err != nil {
			missing = append(missing, o)
		}
	}
	return missing
}
