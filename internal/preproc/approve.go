package preproc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/vk/fmriflow/internal/ctxlog"
)

// BETParams are the brain extraction parameters an approver may adjust.
type BETParams struct {
	Frac             float64
	VerticalGradient float64
}

// Approver decides whether a brain extraction result is acceptable. When it
// is not, next holds the parameters for another attempt.
type Approver interface {
	Review(ctx context.Context, input, brain string, params BETParams) (ok bool, next BETParams, err error)
}

// AutoApprover accepts every result.
type AutoApprover struct{}

func (AutoApprover) Review(_ context.Context, _, _ string, params BETParams) (bool, BETParams, error) {
	return true, params, nil
}

// InteractiveApprover shows the result in a viewer and asks on the terminal.
// Reviews are serialized so concurrent subjects do not interleave prompts.
type InteractiveApprover struct {
	In  io.Reader
	Out io.Writer
	// Viewer is the image viewer command, empty to skip launching it.
	Viewer string

	mu     sync.Mutex
	reader *bufio.Reader
}

func (a *InteractiveApprover) Review(ctx context.Context, input, brain string, params BETParams) (bool, BETParams, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reader == nil {
		a.reader = bufio.NewReader(a.In)
	}

	stop := a.launchViewer(ctx, input, brain)
	defer stop()

	answer, err := a.ask(fmt.Sprintf("%s\nIs this ok? [y]/n\n", brain))
	if err != nil {
		return false, params, err
	}
	if !strings.Contains(strings.ToLower(answer), "n") {
		return true, params, nil
	}

	next := params
	if next.Frac, err = a.askFloat(fmt.Sprintf("Set fraction: default is previous (%g)\n", params.Frac), params.Frac); err != nil {
		return false, params, err
	}
	if next.VerticalGradient, err = a.askFloat(fmt.Sprintf("Set gradient: default is previous (%g)\n", params.VerticalGradient), params.VerticalGradient); err != nil {
		return false, params, err
	}
	return false, next, nil
}

func (a *InteractiveApprover) ask(prompt string) (string, error) {
	fmt.Fprint(a.Out, prompt)
	line, err := a.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func (a *InteractiveApprover) askFloat(prompt string, def float64) (float64, error) {
	for {
		answer, err := a.ask(prompt)
		if err != nil {
			return 0, err
		}
		if answer == "" {
			return def, nil
		}
		v, err := strconv.ParseFloat(answer, 64)
		if err == nil {
			return v, nil
		}
		fmt.Fprintf(a.Out, "%q is not a number\n", answer)
	}
}

// launchViewer starts the viewer in its own process group and returns a
// function that kills it.
func (a *InteractiveApprover) launchViewer(ctx context.Context, input, brain string) func() {
	if a.Viewer == "" {
		return func() {}
	}
	cmd := exec.Command(a.Viewer, input, brain, "-l", "Green")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		ctxlog.FromContext(ctx).Warn("Failed to launch image viewer.", "viewer", a.Viewer, "error", err)
		return func() {}
	}
	return func() {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		_ = cmd.Wait()
	}
}
