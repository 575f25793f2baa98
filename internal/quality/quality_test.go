package quality

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/kshedden/gonpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fmriflow/internal/openfmri"
	"github.com/vk/fmriflow/internal/testutil"
)

// fakeVolume is a 2x1x1 image: voxel 0 is grey matter, voxel 1 background.
type fakeVolume struct {
	dims [4]int
	data map[[4]int]float64
}

func (f *fakeVolume) Dims() [4]int { return f.dims }
func (f *fakeVolume) At(x, y, z, t int) float64 {
	return f.data[[4]int{x, y, z, t}]
}

func series(values ...[2]float64) *fakeVolume {
	v := &fakeVolume{dims: [4]int{2, 1, 1, len(values)}, data: map[[4]int]float64{}}
	for t, pair := range values {
		v.data[[4]int{0, 0, 0, t}] = pair[0]
		v.data[[4]int{1, 0, 0, t}] = pair[1]
	}
	return v
}

func mask(a, b float64) *fakeVolume {
	return &fakeVolume{dims: [4]int{2, 1, 1, 1}, data: map[[4]int]float64{{0, 0, 0, 0}: a, {1, 0, 0, 0}: b}}
}

func TestSFNR(t *testing.T) {
	img := series([2]float64{90, 0}, [2]float64{110, 0})
	got, err := SFNR(img, mask(1, 0))
	require.NoError(t, err)
	assert.InDelta(t, 10.0, got, 1e-9, "mean 100 over population std 10")

	_, err = SFNR(img, mask(0, 0))
	assert.ErrorContains(t, err, "mask is empty")

	_, err = SFNR(series([2]float64{5, 0}, [2]float64{5, 0}), mask(1, 0))
	assert.ErrorContains(t, err, "no temporal variance")

	_, err = SFNR(img, &fakeVolume{dims: [4]int{3, 1, 1, 1}})
	assert.ErrorContains(t, err, "do not match")
}

func TestSNR(t *testing.T) {
	// A single background voxel has no spread, so use a 3 voxel image.
	img := &fakeVolume{dims: [4]int{3, 1, 1, 2}, data: map[[4]int]float64{
		{0, 0, 0, 0}: 100, {1, 0, 0, 0}: 1, {2, 0, 0, 0}: 3,
		{0, 0, 0, 1}: 50, {1, 0, 0, 1}: 0, {2, 0, 0, 1}: 10,
	}}
	grey := &fakeVolume{dims: [4]int{3, 1, 1, 1}, data: map[[4]int]float64{{0, 0, 0, 0}: 1}}
	bg := &fakeVolume{dims: [4]int{3, 1, 1, 1}, data: map[[4]int]float64{{1, 0, 0, 0}: 1, {2, 0, 0, 0}: 1}}

	snr, err := SNR(img, grey, bg)
	require.NoError(t, err)
	require.Len(t, snr, 2)
	assert.InDelta(t, 100.0, snr[0], 1e-9)
	assert.InDelta(t, 10.0, snr[1], 1e-9)

	_, err = SNR(img, grey, &fakeVolume{dims: [4]int{3, 1, 1, 1}})
	assert.ErrorContains(t, err, "empty")
}

func TestAnalyze(t *testing.T) {
	runs := []string{"task001_run001", "task002_run001"}
	f := testutil.NewStudyFixture(t, "LP", runs...)
	f.AddRawSubject("KeEl")
	f.AddBehaviouralSubject("KeEl", nil)
	f.WriteTaskKey([2]string{"task001", "mvpa"})
	runner := testutil.NewFakeRunner().On("dcm2nii", testutil.Dcm2niiHook(2, 2))
	study, err := openfmri.NewStudy(f.DataDir, f.RawDir, f.BehaviouralDir, f.Name, openfmri.WithRunner(runner))
	require.NoError(t, err)
	sd, err := study.SubjectByName(context.Background(), "KeEl")
	require.NoError(t, err)

	img := &fakeVolume{dims: [4]int{3, 1, 1, 2}, data: map[[4]int]float64{
		{0, 0, 0, 0}: 90, {1, 0, 0, 0}: 1, {2, 0, 0, 0}: 3,
		{0, 0, 0, 1}: 110, {1, 0, 0, 1}: 1, {2, 0, 0, 1}: 3,
	}}
	grey := &fakeVolume{dims: [4]int{3, 1, 1, 1}, data: map[[4]int]float64{{0, 0, 0, 0}: 1}}
	bg := &fakeVolume{dims: [4]int{3, 1, 1, 1}, data: map[[4]int]float64{{1, 0, 0, 0}: 1, {2, 0, 0, 0}: 1}}
	var loaded []string
	load := func(path string) (Volume, error) {
		loaded = append(loaded, path)
		switch filepath.Base(path) {
		case "bold_mcf.nii.gz":
			return img, nil
		case "grey.nii.gz":
			return grey, nil
		case "non_brain.nii.gz":
			return bg, nil
		}
		return nil, fmt.Errorf("unexpected %s", path)
	}

	a := New(study, load)
	report, err := a.Analyze(context.Background(), sd, Options{})
	require.NoError(t, err)
	require.Len(t, report.Runs, 2)
	assert.Equal(t, "sub001", report.Subject)
	assert.Equal(t, "mvpa", report.Runs[0].Task)
	assert.Equal(t, "task002", report.Runs[1].Task)
	assert.Equal(t, 2, report.Runs[0].Volumes)
	assert.InDelta(t, 10.0, report.Runs[0].SFNR, 1e-9)
	assert.InDelta(t, 100.0, report.Runs[0].SNR, 1e-9)

	r, err := gonpy.NewFileReader(filepath.Join(sd.QADir(), "task001_run001_snr.npy"))
	require.NoError(t, err)
	assert.Equal(t, []int{2}, r.Shape)
	vals, err := r.GetFloat64()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{90, 110}, vals, 1e-9)

	t.Run("existing report is reused", func(t *testing.T) {
		loaded = nil
		again, err := a.Analyze(context.Background(), sd, Options{})
		require.NoError(t, err)
		assert.Empty(t, loaded)
		assert.Equal(t, report, again)
	})
}
