package testutil

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"github.com/vk/fmriflow/internal/fsl"
	"github.com/vk/fmriflow/internal/nifti"
)

// WriteNIfTI writes a gzipped image header with the given number of volumes
// and repetition time in seconds. A volume count of 0 writes a 3D image.
func WriteNIfTI(t testing.TB, path string, volumes int, tr float64) {
	t.Helper()
	require.NoError(t, writeNIfTI(path, volumes, tr))
}

func writeNIfTI(path string, volumes int, tr float64) error {
	var h nifti.Header
	h.SizeOfHdr = 348
	h.Dim = [8]int16{3, 4, 4, 4, 1, 1, 1, 1}
	if volumes > 0 {
		h.Dim[0] = 4
		h.Dim[4] = int16(volumes)
	}
	h.PixDim = [8]float32{1, 3, 3, 3, float32(tr), 0, 0, 0}
	h.XYZTUnits = 2 | 8
	h.DataType = 16
	h.BitPix = 32
	h.VoxOffset = 352
	h.Magic = [4]int8{'n', '+', '1', 0}

	var raw bytes.Buffer
	if err := binary.Write(&raw, binary.LittleEndian, h); err != nil {
		return err
	}
	raw.Write(make([]byte, 4))

	var z bytes.Buffer
	zw := gzip.NewWriter(&z)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, z.Bytes(), 0o644)
}

var runDirPattern = regexp.MustCompile(`task\d{3}_run\d{3}$`)

// Dcm2niiHook imitates dcm2nii: anatomical targets receive a "co" prefixed
// image plus two by-products, run directories receive one 4D image.
func Dcm2niiHook(volumes int, tr float64) Hook {
	return func(c fsl.Command) error {
		target := c.Args[1]
		if runDirPattern.MatchString(target) {
			return writeNIfTI(filepath.Join(target, "20240101_ep2d_bold.nii.gz"), volumes, tr)
		}
		for _, name := range []string{"co20240101_mprage.nii.gz", "o20240101_mprage.nii.gz", "20240101_mprage.nii.gz"} {
			if err := writeNIfTI(filepath.Join(target, name), 0, 0); err != nil {
				return err
			}
		}
		return nil
	}
}
