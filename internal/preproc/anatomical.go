package preproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/fmriflow/internal/fsl"
	"github.com/vk/fmriflow/internal/openfmri"
)

// EstimateBiasField writes the bias corrected anatomical image
// highres001_restore next to the original, which is kept.
func (p *Processor) EstimateBiasField(ctx context.Context, s *openfmri.SubjectDir) error {
	logger := subjectLogger(ctx, s, "bias_field")
	if exists(s.AnatomicalRestore()) {
		logger.Info("Bias field estimation already performed.")
		return nil
	}
	logger.Info("Estimating bias field.")
	return p.run(ctx, fsl.FAST{
		In:                  s.AnatomicalHead(),
		OutBasename:         filepath.Join(s.AnatomicalDir(), "highres001"),
		ImgType:             1,
		BiasLowpass:         10,
		OutputBiasCorrected: true,
		OutputBiasField:     true,
		BiasIters:           5,
		ItersAfterBias:      1,
		NoPVE:               true,
	}.Command())
}

// ExtractBrain runs BET on the bias corrected anatomical image until the
// approver accepts the result, then moves the brain mask into the masks tree.
func (p *Processor) ExtractBrain(ctx context.Context, s *openfmri.SubjectDir, params BETParams) error {
	logger := subjectLogger(ctx, s, "brain_extraction")
	brain := s.AnatomicalBrain()
	bet := fsl.BET{Out: brain, Mask: true, Robust: true}
	maskDst := filepath.Join(s.AnatomicalMasksDir(), "brain.nii.gz")

	if exists(brain) {
		logger.Info("Brain extraction already performed.")
		if !exists(maskDst) && exists(bet.MaskFile()) {
			return moveFile(bet.MaskFile(), maskDst)
		}
		return nil
	}

	input := s.AnatomicalRestore()
	if !exists(input) {
		logger.Warn("Bias corrected image not found, extracting from the original anatomical image.")
		input = s.AnatomicalHead()
	}
	bet.In = input

	for attempt := 1; ; attempt++ {
		bet.Frac, bet.VerticalGradient = params.Frac, params.VerticalGradient
		logger.Info("Extracting brain.", "attempt", attempt, "frac", params.Frac, "vertical_gradient", params.VerticalGradient)
		if err := p.run(ctx, bet.Command()); err != nil {
			return err
		}
		ok, next, err := p.approver.Review(ctx, input, brain, params)
		if err != nil {
			return fmt.Errorf("brain extraction review failed: %w", err)
		}
		if ok {
			break
		}
		params = next
	}

	if err := os.MkdirAll(s.AnatomicalMasksDir(), 0o755); err != nil {
		return err
	}
	return moveFile(bet.MaskFile(), maskDst)
}

// AnatomicalRegistration registers the brain image to MNI152 with FLIRT and
// refines it non-linearly with FNIRT.
func (p *Processor) AnatomicalRegistration(ctx context.Context, s *openfmri.SubjectDir) error {
	logger := subjectLogger(ctx, s, "anatomical_registration")
	regDir := s.AnatomicalRegDir()
	outFile := filepath.Join(regDir, "highres2standard.nii.gz")
	matFile := filepath.Join(regDir, "highres2standard.mat")
	warpFile := filepath.Join(regDir, "highres2standard_warp.nii.gz")

	if exists(matFile) && exists(warpFile) {
		logger.Info("Anatomical registration already performed.")
		return nil
	}
	if err := os.MkdirAll(regDir, 0o755); err != nil {
		return err
	}

	if !exists(matFile) {
		logger.Info("Running linear registration to standard space.")
		err := p.run(ctx, fsl.FLIRT{
			In:          s.AnatomicalBrain(),
			Reference:   p.standard("MNI152_T1_2mm_brain.nii.gz"),
			Out:         outFile,
			OutMatrix:   matFile,
			Cost:        "corratio",
			DOF:         12,
			SearchRange: []int{-90, 90},
			Interp:      "trilinear",
		}.Command())
		if err != nil {
			return err
		}
	}

	head := s.AnatomicalRestore()
	if !exists(head) {
		head = s.AnatomicalHead()
	}
	logger.Info("Running non-linear registration to standard space.")
	return p.run(ctx, fsl.FNIRT{
		In:             head,
		AffineFile:     matFile,
		Reference:      p.standard("MNI152_T1_2mm.nii.gz"),
		RefMask:        p.standard("MNI152_T1_2mm_brain_mask_dil.nii.gz"),
		Config:         "T1_2_MNI152_2mm",
		FieldCoeffFile: warpFile,
		JacobianFile:   filepath.Join(regDir, "highres2highres_jac"),
		WarpedFile:     outFile,
	}.Command())
}

// SegmentationOptions controls how the grey matter mask is derived.
type SegmentationOptions struct {
	// Threshold, when positive, binarizes the grey matter partial volume map
	// instead of using FAST's hard segmentation.
	Threshold float64
}

// Segmentation segments the brain image into three tissue classes and keeps
// grey matter as masks/anatomy/grey.
func (p *Processor) Segmentation(ctx context.Context, s *openfmri.SubjectDir, opts SegmentationOptions) error {
	logger := subjectLogger(ctx, s, "segmentation")
	grey := filepath.Join(s.AnatomicalMasksDir(), "grey.nii.gz")
	if exists(grey) {
		logger.Info("Segmentation already performed.")
		return nil
	}

	fast := fsl.FAST{
		In:          s.AnatomicalBrain(),
		OutBasename: filepath.Join(s.AnatomicalMasksDir(), "seg"),
		ImgType:     1,
		Classes:     3,
		Hyper:       0.4,
		Segments:    true,
	}
	logger.Info("Segmenting anatomical image.")
	if err := p.run(ctx, fast.Command()); err != nil {
		return err
	}

	if opts.Threshold > 0 {
		return p.run(ctx, fsl.Maths{
			In:  fast.PartialVolumeFile(1),
			Ops: []string{"-thr", fmt.Sprint(opts.Threshold), "-bin"},
			Out: grey,
		}.Command())
	}
	return moveFile(fast.SegmentFile(1), grey)
}

// SmoothingOptions are the SUSAN parameters.
type SmoothingOptions struct {
	FWHM                float64
	BrightnessThreshold float64
}

// AnatomicalSmoothing smooths the brain image with SUSAN.
func (p *Processor) AnatomicalSmoothing(ctx context.Context, s *openfmri.SubjectDir, opts SmoothingOptions) error {
	logger := subjectLogger(ctx, s, "anatomical_smoothing")
	out := filepath.Join(s.AnatomicalDir(), "highres001_brain_smooth.nii.gz")
	if exists(out) {
		logger.Info("Anatomical smoothing already performed.")
		return nil
	}
	logger.Info("Smoothing anatomical image.", "fwhm", opts.FWHM)
	return p.run(ctx, fsl.SUSAN{
		In:                  s.AnatomicalBrain(),
		Out:                 out,
		BrightnessThreshold: opts.BrightnessThreshold,
		FWHM:                opts.FWHM,
		Dimension:           3,
		UseMedian:           true,
	}.Command())
}
