package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

const headerSize = 348

// Header is the fixed 348 byte NIfTI-1 header.
type Header struct {
	SizeOfHdr          int32
	UnusedDataType     [10]int8
	UnusedDbName       [18]int8
	UnusedExtents      int32
	UnusedSessionError int16
	UnusedRegular      int8
	DimInfo            int8

	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	DataType      int16
	BitPix        int16
	SliceStart    int16
	PixDim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     int8
	XYZTUnits     int8
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	UnusedGlmax   int32
	UnusedGlmin   int32

	Descrip [80]int8
	AuxFile [24]int8

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]int8

	Magic [4]int8
}

// Time units encoded in the upper bits of XYZTUnits.
const (
	unitsSec  = 8
	unitsMsec = 16
	unitsUsec = 24
)

// ReadHeader reads the header of a .nii or .nii.gz file.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, closeFn, err := openImage(f, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer closeFn()

	h, err := decodeHeader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read NIfTI header of %s: %w", path, err)
	}
	return h, nil
}

func openImage(f *os.File, path string) (io.Reader, func(), error) {
	if !strings.HasSuffix(path, ".gz") {
		return bufio.NewReader(f), func() {}, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, nil, err
	}
	return zr, func() { zr.Close() }, nil
}

func decodeHeader(r io.Reader) (*Header, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, err
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(raw[:4]) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(raw[:4]) == headerSize:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("not a NIfTI-1 header: sizeof_hdr is not %d", headerSize)
	}

	var h Header
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Dims returns the extent of every used dimension.
func (h *Header) Dims() []int {
	n := int(h.Dim[0])
	if n < 1 || n > 7 {
		return nil
	}
	dims := make([]int, n)
	for i := range dims {
		dims[i] = int(h.Dim[i+1])
	}
	return dims
}

// NVolumes is the number of time points, 1 for a 3D image.
func (h *Header) NVolumes() int {
	if h.Dim[0] < 4 || h.Dim[4] < 1 {
		return 1
	}
	return int(h.Dim[4])
}

// TR returns the repetition time in seconds.
func (h *Header) TR() float64 {
	tr := float64(h.PixDim[4])
	switch int(h.XYZTUnits) & 0x38 {
	case unitsMsec:
		return tr / 1e3
	case unitsUsec:
		return tr / 1e6
	default:
		return tr
	}
}
