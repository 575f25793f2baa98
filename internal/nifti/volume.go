package nifti

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KyungWonPark/nifti"
	"github.com/klauspost/compress/gzip"
)

// Image is a fully loaded image addressed by voxel and time point.
type Image struct {
	img  nifti.Nifti1Image
	dims [4]int
}

// bitsPerType lists the datatypes the voxel decoder reads correctly, with
// their bitpix.
var bitsPerType = map[int16]int16{
	2:   8,  // uint8
	16:  32, // float32
	64:  64, // float64
	512: 16, // uint16
}

// Load reads the voxel data of a .nii or .nii.gz image into memory. Images
// whose data is shorter than the header promises are rejected.
func Load(path string) (im *Image, err error) {
	src := path
	if strings.HasSuffix(path, ".gz") {
		tmp, err := inflate(path)
		if err != nil {
			return nil, err
		}
		defer os.Remove(tmp)
		src = tmp
	}

	h, err := checkImage(src)
	if err != nil {
		return nil, fmt.Errorf("cannot load %s: %w", path, err)
	}

	im = &Image{}
	dims := h.Dims()
	for i := range im.dims {
		im.dims[i] = 1
		if i < len(dims) {
			im.dims[i] = dims[i]
		}
	}

	defer func() {
		if r := recover(); r != nil {
			im, err = nil, fmt.Errorf("cannot load %s: %v", path, r)
		}
	}()
	im.img.LoadImage(src, true)
	return im, nil
}

// checkImage validates the header of an uncompressed image against what the
// decoder supports and against the file size.
func checkImage(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(f, raw); err != nil {
		return nil, fmt.Errorf("short header: %w", err)
	}
	if binary.LittleEndian.Uint32(raw[:4]) != headerSize {
		return nil, errors.New("only little-endian NIfTI-1 images are supported")
	}
	h, err := decodeHeader(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	if bits, ok := bitsPerType[h.DataType]; !ok || bits != h.BitPix {
		return nil, fmt.Errorf("unsupported datatype %d with bitpix %d", h.DataType, h.BitPix)
	}
	dims := h.Dims()
	if len(dims) == 0 {
		return nil, fmt.Errorf("invalid dimension count %d", h.Dim[0])
	}
	nvox := int64(1)
	for _, d := range dims {
		if d < 1 {
			return nil, fmt.Errorf("invalid dimensions %v", dims)
		}
		nvox *= int64(d)
	}
	offset := int64(h.VoxOffset)
	if offset < headerSize {
		return nil, fmt.Errorf("vox_offset %v lies inside the header", h.VoxOffset)
	}
	if want := offset + nvox*int64(h.BitPix/8); info.Size() < want {
		return nil, fmt.Errorf("truncated image: %d bytes, header needs %d", info.Size(), want)
	}
	return h, nil
}

// inflate decompresses a .nii.gz into a temporary .nii file.
func inflate(path string) (string, error) {
	in, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return "", fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	defer zr.Close()

	out, err := os.CreateTemp("", "fmriflow-*.nii")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, zr); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("failed to decompress %s: %w", path, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}
	return out.Name(), nil
}

// Dims returns the x, y, z and t extents.
func (im *Image) Dims() [4]int { return im.dims }

// At returns the intensity at voxel (x, y, z) in volume t.
func (im *Image) At(x, y, z, t int) float64 {
	return float64(im.img.GetAt(uint32(x), uint32(y), uint32(z), uint32(t)))
}
