package preproc

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/vk/fmriflow/internal/ctxlog"
	"github.com/vk/fmriflow/internal/fsl"
	"github.com/vk/fmriflow/internal/nifti"
	"github.com/vk/fmriflow/internal/openfmri"
)

// Processor runs preprocessing operations on subject directories.
type Processor struct {
	runner   fsl.Runner
	fslDir   string
	headers  *nifti.HeaderCache
	approver Approver
}

// New creates a Processor. A nil approver accepts every brain extraction and a
// nil header cache is replaced by a private one.
func New(runner fsl.Runner, fslDir string, headers *nifti.HeaderCache, approver Approver) (*Processor, error) {
	if runner == nil {
		return nil, fmt.Errorf("preproc: runner is required")
	}
	if headers == nil {
		var err error
		if headers, err = nifti.NewHeaderCache(256); err != nil {
			return nil, err
		}
	}
	if approver == nil {
		approver = AutoApprover{}
	}
	return &Processor{runner: runner, fslDir: fslDir, headers: headers, approver: approver}, nil
}

func (p *Processor) standard(name string) string {
	return fsl.StandardImage(p.fslDir, name)
}

func (p *Processor) run(ctx context.Context, c fsl.Command) error {
	_, err := p.runner.Run(ctx, c)
	return err
}

func subjectLogger(ctx context.Context, s *openfmri.SubjectDir, op string) *slog.Logger {
	return ctxlog.FromContext(ctx).With("subject", s.ID(), "op", op)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// moveFile renames src to dst, replacing dst.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	return nil
}
