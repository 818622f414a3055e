package envi

import (
	"image"
	"math"
	"sort"
)

// StretchOptions controls the contrast stretch applied when rendering a
// preview from reflectance values.
type StretchOptions struct {
	LowPercentile float64
	HiPercentile  float64
}

// DefaultStretch matches the typical 2-98 percentile display stretch.
var DefaultStretch = StretchOptions{LowPercentile: 2.0, HiPercentile: 98.0}

// GrayPreview renders a single-channel preview by averaging the preview
// bands and stretching to 8 bit. This is the image the feature matcher
// and the crop UI both operate on.
func (c *Cube) GrayPreview(opts StretchOptions) *image.Gray {
	bands := c.previewBands()
	vals := make([]float64, c.Lines*c.Samples)
	for y := 0; y < c.Lines; y++ {
		for x := 0; x < c.Samples; x++ {
			var sum float64
			for _, b := range bands {
				sum += float64(c.At(x, y, b))
			}
			vals[y*c.Samples+x] = sum / float64(len(bands))
		}
	}

	lo, hi := percentiles(vals, opts.LowPercentile, opts.HiPercentile)
	img := image.NewGray(image.Rect(0, 0, c.Samples, c.Lines))
	for i, v := range vals {
		img.Pix[i] = stretchByte(v, lo, hi)
	}
	return img
}

// RGBPreview renders a false-colour preview using the default bands when
// present, wavelength-nearest 650/550/450 nm bands otherwise, or thirds
// of the band range as a last resort.
func (c *Cube) RGBPreview(opts StretchOptions) *image.NRGBA {
	r, g, b := c.rgbBands()

	channels := [3][]float64{}
	for ci, band := range []int{r, g, b} {
		vals := make([]float64, c.Lines*c.Samples)
		for y := 0; y < c.Lines; y++ {
			for x := 0; x < c.Samples; x++ {
				vals[y*c.Samples+x] = float64(c.At(x, y, band))
			}
		}
		channels[ci] = vals
	}

	img := image.NewNRGBA(image.Rect(0, 0, c.Samples, c.Lines))
	for ci, vals := range channels {
		lo, hi := percentiles(vals, opts.LowPercentile, opts.HiPercentile)
		for i, v := range vals {
			img.Pix[i*4+ci] = stretchByte(v, lo, hi)
		}
	}
	for i := 0; i < c.Lines*c.Samples; i++ {
		img.Pix[i*4+3] = 0xff
	}
	return img
}

func (c *Cube) previewBands() []int {
	if len(c.DefaultBands) > 0 {
		return c.DefaultBands
	}
	r, g, b := c.rgbBands()
	if r == g && g == b {
		return []int{r}
	}
	return []int{r, g, b}
}

func (c *Cube) rgbBands() (int, int, int) {
	if len(c.DefaultBands) == 3 {
		return c.DefaultBands[0], c.DefaultBands[1], c.DefaultBands[2]
	}
	if len(c.Wavelengths) == c.Bands && c.Bands > 0 {
		return c.bandNearest(650), c.bandNearest(550), c.bandNearest(450)
	}
	if c.Bands >= 3 {
		return (5 * c.Bands) / 6, c.Bands / 2, c.Bands / 6
	}
	return 0, 0, 0
}

func (c *Cube) bandNearest(wavelength float64) int {
	best := 0
	bestDist := math.Inf(1)
	for i, w := range c.Wavelengths {
		if d := math.Abs(w - wavelength); d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

func percentiles(vals []float64, lo, hi float64) (float64, float64) {
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)

	pick := func(p float64) float64 {
		if len(sorted) == 0 {
			return 0
		}
		idx := int(p / 100 * float64(len(sorted)-1))
		return sorted[idx]
	}
	return pick(lo), pick(hi)
}

func stretchByte(v, lo, hi float64) uint8 {
	if hi <= lo {
		return 0
	}
	s := (v - lo) / (hi - lo) * 255
	if s < 0 {
		s = 0
	}
	if s > 255 {
		s = 255
	}
	return uint8(s)
}
