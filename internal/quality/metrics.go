package quality

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Volume is a 4D image addressed by voxel and time point.
type Volume interface {
	Dims() [4]int
	At(x, y, z, t int) float64
}

type voxel struct{ x, y, z int }

func maskVoxels(mask Volume, dims [4]int) ([]voxel, error) {
	md := mask.Dims()
	if md[0] != dims[0] || md[1] != dims[1] || md[2] != dims[2] {
		return nil, fmt.Errorf("mask dimensions %v do not match image %v", md[:3], dims[:3])
	}
	var out []voxel
	for x := 0; x < dims[0]; x++ {
		for y := 0; y < dims[1]; y++ {
			for z := 0; z < dims[2]; z++ {
				if mask.At(x, y, z, 0) > 0 {
					out = append(out, voxel{x, y, z})
				}
			}
		}
	}
	return out, nil
}

// SFNR is the mean over grey matter voxels of the temporal mean divided by
// the temporal standard deviation. Voxels with a constant signal are left
// out.
func SFNR(img, grey Volume) (float64, error) {
	dims := img.Dims()
	voxels, err := maskVoxels(grey, dims)
	if err != nil {
		return 0, err
	}
	if len(voxels) == 0 {
		return 0, fmt.Errorf("grey matter mask is empty")
	}
	series := make([]float64, dims[3])
	var ratios []float64
	for _, v := range voxels {
		for t := range series {
			series[t] = img.At(v.x, v.y, v.z, t)
		}
		mean, std := stat.PopMeanStdDev(series, nil)
		if std == 0 || math.IsNaN(std) {
			continue
		}
		ratios = append(ratios, mean/std)
	}
	if len(ratios) == 0 {
		return 0, fmt.Errorf("grey matter signal has no temporal variance")
	}
	return stat.Mean(ratios, nil), nil
}

// SNR returns, per volume, the mean grey matter intensity divided by the
// standard deviation outside the brain.
func SNR(img, grey, nonBrain Volume) ([]float64, error) {
	dims := img.Dims()
	signal, err := maskVoxels(grey, dims)
	if err != nil {
		return nil, err
	}
	noise, err := maskVoxels(nonBrain, dims)
	if err != nil {
		return nil, err
	}
	if len(signal) == 0 || len(noise) == 0 {
		return nil, fmt.Errorf("signal or noise mask is empty")
	}

	out := make([]float64, dims[3])
	sig := make([]float64, len(signal))
	bg := make([]float64, len(noise))
	for t := range out {
		for i, v := range signal {
			sig[i] = img.At(v.x, v.y, v.z, t)
		}
		for i, v := range noise {
			bg[i] = img.At(v.x, v.y, v.z, t)
		}
		_, std := stat.PopMeanStdDev(bg, nil)
		if std == 0 {
			return nil, fmt.Errorf("background of volume %d has no variance", t)
		}
		out[t] = stat.Mean(sig, nil) / std
	}
	return out, nil
}
