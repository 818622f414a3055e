// Package stats computes spectral similarity maps and principal
// components over reflectance cubes.
package stats

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/smutch/hyperspec/internal/envi"
)

// SimilarityMap is a per-pixel score over a Lines x Samples grid, stored
// row-major.
type SimilarityMap struct {
	Samples int
	Lines   int
	Values  []float64
}

// Mean returns the average score over the map.
func (m *SimilarityMap) Mean() float64 {
	if len(m.Values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range m.Values {
		sum += v
	}
	return sum / float64(len(m.Values))
}

// MinMax returns the smallest and largest scores in the map.
func (m *SimilarityMap) MinMax() (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range m.Values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}

func sameShape(a, b *envi.Cube) error {
	if a.Samples != b.Samples || a.Lines != b.Lines || a.Bands != b.Bands {
		return fmt.Errorf("cubes must have the same shape, got %dx%dx%d and %dx%dx%d",
			a.Lines, a.Samples, a.Bands, b.Lines, b.Samples, b.Bands)
	}
	return nil
}

// cosine returns the cosine of the angle between two spectra, clipped to
// [-1, 1]. A zero-norm spectrum yields NaN, matching a division by zero.
func cosine(a, b []float32) float64 {
	var uv, uu, vv float64
	for i := range a {
		uv += float64(a[i]) * float64(b[i])
		uu += float64(a[i]) * float64(a[i])
		vv += float64(b[i]) * float64(b[i])
	}
	c := uv / math.Sqrt(uu*vv)
	return math.Max(-1, math.Min(1, c))
}

// PixelwiseCosineSimilarity scores each pixel pair by the cosine of the
// angle between their spectra.
func PixelwiseCosineSimilarity(a, b *envi.Cube) (*SimilarityMap, error) {
	return pixelwise(a, b, cosine)
}

// PixelwiseSAMSimilarity scores each pixel pair by 1 minus the spectral
// angle, so identical spectra score 1.
func PixelwiseSAMSimilarity(a, b *envi.Cube) (*SimilarityMap, error) {
	return pixelwise(a, b, func(x, y []float32) float64 {
		return 1 - math.Acos(cosine(x, y))
	})
}

func pixelwise(a, b *envi.Cube, score func(x, y []float32) float64) (*SimilarityMap, error) {
	if err := sameShape(a, b); err != nil {
		return nil, err
	}
	m := &SimilarityMap{
		Samples: a.Samples,
		Lines:   a.Lines,
		Values:  make([]float64, a.Samples*a.Lines),
	}
	for i := range m.Values {
		off := i * a.Bands
		m.Values[i] = score(a.Data[off:off+a.Bands], b.Data[off:off+a.Bands])
	}
	return m, nil
}

// PairwiseSAMSimilarity scores every pixel of the cube against each
// reference spectrum. The result has one map per spectrum.
func PairwiseSAMSimilarity(c *envi.Cube, spectra [][]float32) ([]*SimilarityMap, error) {
	maps := make([]*SimilarityMap, len(spectra))
	for si, s := range spectra {
		if len(s) != c.Bands {
			return nil, fmt.Errorf("spectrum %d has %d bands, cube has %d", si, len(s), c.Bands)
		}
		m := &SimilarityMap{
			Samples: c.Samples,
			Lines:   c.Lines,
			Values:  make([]float64, c.Samples*c.Lines),
		}
		for i := range m.Values {
			off := i * c.Bands
			m.Values[i] = 1 - math.Acos(cosine(c.Data[off:off+c.Bands], s))
		}
		maps[si] = m
	}
	return maps, nil
}

// PCAResult holds principal components of a cube's spectra, one row per
// component, and the fraction of variance each explains.
type PCAResult struct {
	Components   *mat.Dense
	VarExplained []float64
}

// PCA fits principal components to the cube's pixel spectra. At least
// nComponents are kept; when minContainedVar is positive, enough extra
// components are kept to explain that fraction of the total variance.
func PCA(c *envi.Cube, nComponents int, minContainedVar float64) (*PCAResult, error) {
	if minContainedVar < 0 || minContainedVar > 1 {
		return nil, fmt.Errorf("min contained variance must be in [0, 1], got %g", minContainedVar)
	}
	if nComponents < 1 || nComponents > c.Bands {
		return nil, fmt.Errorf("component count %d outside [1, %d]", nComponents, c.Bands)
	}

	n := c.Samples * c.Lines
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 pixels, got %d", n)
	}

	// Center each band over all pixels.
	means := make([]float64, c.Bands)
	for i := 0; i < n; i++ {
		off := i * c.Bands
		for b := 0; b < c.Bands; b++ {
			means[b] += float64(c.Data[off+b])
		}
	}
	for b := range means {
		means[b] /= float64(n)
	}
	x := mat.NewDense(n, c.Bands, nil)
	for i := 0; i < n; i++ {
		off := i * c.Bands
		for b := 0; b < c.Bands; b++ {
			x.Set(i, b, float64(c.Data[off+b])-means[b])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDThin) {
		return nil, fmt.Errorf("svd failed to converge")
	}
	var v mat.Dense
	svd.VTo(&v)
	sv := svd.Values(nil)

	variances := make([]float64, len(sv))
	var total float64
	for i, s := range sv {
		variances[i] = s * s / float64(n-1)
		total += variances[i]
	}

	keep := nComponents
	if minContainedVar > 0 {
		var cum float64
		for i, v := range variances {
			cum += v
			if cum/total >= minContainedVar {
				if i+1 > keep {
					keep = i + 1
				}
				break
			}
		}
	}
	if keep > len(sv) {
		keep = len(sv)
	}

	components := mat.NewDense(keep, c.Bands, nil)
	explained := make([]float64, keep)
	for i := 0; i < keep; i++ {
		for b := 0; b < c.Bands; b++ {
			components.Set(i, b, v.At(b, i))
		}
		explained[i] = variances[i] / total
	}
	return &PCAResult{Components: components, VarExplained: explained}, nil
}
