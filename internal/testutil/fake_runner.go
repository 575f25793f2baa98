package testutil

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/vk/fmriflow/internal/fsl"
)

// Hook runs in place of a tool and may write extra files.
type Hook func(c fsl.Command) error

// FakeRunner records every command instead of running it and creates the
// declared outputs as empty files, so completion markers behave as they would
// after a real run.
type FakeRunner struct {
	mu     sync.Mutex
	calls  []fsl.Command
	hooks  map[string]Hook
	fail   map[string]error
	stdout map[string]func(fsl.Command) string
}

// NewFakeRunner creates a FakeRunner with no hooks.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{
		hooks:  map[string]Hook{},
		fail:   map[string]error{},
		stdout: map[string]func(fsl.Command) string{},
	}
}

// On installs a hook for a tool.
func (f *FakeRunner) On(tool string, h Hook) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[tool] = h
	return f
}

// Print sets what a tool writes to stdout.
func (f *FakeRunner) Print(tool string, out func(c fsl.Command) string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stdout[tool] = out
	return f
}

// FailOn makes every call of a tool fail with exit code 1.
func (f *FakeRunner) FailOn(tool string, reason string) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[tool] = &fsl.CommandError{Command: fsl.Command{Name: tool}, ExitCode: 1, Stderr: reason}
	return f
}

// Run implements fsl.Runner.
func (f *FakeRunner) Run(ctx context.Context, c fsl.Command) (*fsl.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, c)
	hook := f.hooks[c.Name]
	failure := f.fail[c.Name]
	stdout := f.stdout[c.Name]
	f.mu.Unlock()

	if failure != nil {
		return &fsl.Result{ExitCode: 1}, failure
	}
	if hook != nil {
		if err := hook(c); err != nil {
			return &fsl.Result{ExitCode: 1}, err
		}
	}
	for _, out := range c.Outputs {
		if err := touch(out); err != nil {
			return nil, err
		}
	}
	res := &fsl.Result{}
	if stdout != nil {
		res.Stdout = []byte(stdout(c))
	}
	return res, nil
}

// Calls returns every recorded command in call order.
func (f *FakeRunner) Calls() []fsl.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fsl.Command(nil), f.calls...)
}

// CallsTo returns the recorded commands of one tool.
func (f *FakeRunner) CallsTo(tool string) []fsl.Command {
	var out []fsl.Command
	for _, c := range f.Calls() {
		if c.Name == tool {
			out = append(out, c)
		}
	}
	return out
}

// Names returns the tool names in call order.
func (f *FakeRunner) Names() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, c.Name)
	}
	return out
}

// Reset forgets the recorded calls.
func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func touch(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, nil, 0o644)
}
