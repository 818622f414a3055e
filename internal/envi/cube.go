package envi

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"
	"os"
)

// Cube is a reflectance cube held in memory as float32, band interleaved
// by pixel: Data[(y*Samples+x)*Bands + b].
type Cube struct {
	Samples      int
	Lines        int
	Bands        int
	Wavelengths  []float64
	DefaultBands []int
	Data         []float32
}

// NewCube allocates a zeroed cube with the given dimensions.
func NewCube(samples, lines, bands int) *Cube {
	return &Cube{
		Samples: samples,
		Lines:   lines,
		Bands:   bands,
		Data:    make([]float32, samples*lines*bands),
	}
}

// At returns the value at pixel (x, y), band b.
func (c *Cube) At(x, y, b int) float32 {
	return c.Data[(y*c.Samples+x)*c.Bands+b]
}

// Set writes the value at pixel (x, y), band b.
func (c *Cube) Set(x, y, b int, v float32) {
	c.Data[(y*c.Samples+x)*c.Bands+b] = v
}

// Band copies band b into a row-major Lines x Samples slice.
func (c *Cube) Band(b int) []float32 {
	out := make([]float32, c.Lines*c.Samples)
	for i := range out {
		out[i] = c.Data[i*c.Bands+b]
	}
	return out
}

// SetBand overwrites band b from a row-major Lines x Samples slice.
func (c *Cube) SetBand(b int, vals []float32) {
	for i, v := range vals {
		c.Data[i*c.Bands+b] = v
	}
}

// Crop returns a copy of the cube restricted to rect (pixel coordinates).
// The rectangle must lie inside the cube extent.
func (c *Cube) Crop(rect image.Rectangle) (*Cube, error) {
	bounds := image.Rect(0, 0, c.Samples, c.Lines)
	if rect.Empty() {
		return nil, fmt.Errorf("empty crop rectangle %v", rect)
	}
	if !rect.In(bounds) {
		return nil, fmt.Errorf("crop %v outside cube extent %dx%d", rect, c.Samples, c.Lines)
	}

	out := NewCube(rect.Dx(), rect.Dy(), c.Bands)
	out.Wavelengths = c.Wavelengths
	out.DefaultBands = c.DefaultBands
	for y := 0; y < rect.Dy(); y++ {
		srcOff := ((rect.Min.Y+y)*c.Samples + rect.Min.X) * c.Bands
		dstOff := y * rect.Dx() * c.Bands
		copy(out.Data[dstOff:dstOff+rect.Dx()*c.Bands], c.Data[srcOff:srcOff+rect.Dx()*c.Bands])
	}
	return out, nil
}

// ReadCube loads the cube described by the ENVI header at hdrPath.
func ReadCube(hdrPath string) (*Cube, error) {
	h, err := ReadHeaderFile(hdrPath)
	if err != nil {
		return nil, err
	}
	dataPath, err := DataFile(hdrPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readCube(h, f)
}

func readCube(h *Header, r io.Reader) (*Cube, error) {
	width, err := h.bytesPerSample()
	if err != nil {
		return nil, err
	}
	if h.HeaderOffset > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(h.HeaderOffset)); err != nil {
			return nil, fmt.Errorf("skip header offset: %w", err)
		}
	}

	n := h.Samples * h.Lines * h.Bands
	raw := make([]byte, n*width)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read cube data (%d bytes expected): %w", len(raw), err)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if h.ByteOrder == 1 {
		order = binary.BigEndian
	}

	flat := make([]float32, n)
	for i := 0; i < n; i++ {
		off := i * width
		switch h.DataType {
		case 1:
			flat[i] = float32(raw[off])
		case 2:
			flat[i] = float32(int16(order.Uint16(raw[off:])))
		case 12:
			flat[i] = float32(order.Uint16(raw[off:]))
		case 3:
			flat[i] = float32(int32(order.Uint32(raw[off:])))
		case 4:
			flat[i] = math.Float32frombits(order.Uint32(raw[off:]))
		case 5:
			flat[i] = float32(math.Float64frombits(order.Uint64(raw[off:])))
		}
	}

	c := NewCube(h.Samples, h.Lines, h.Bands)
	c.Wavelengths = h.Wavelengths
	c.DefaultBands = h.DefaultBands

	// Reorder into BIP regardless of the on-disk interleave.
	switch h.Interleave {
	case BIP:
		copy(c.Data, flat)
	case BIL:
		// flat[(y*Bands + b)*Samples + x]
		for y := 0; y < h.Lines; y++ {
			for b := 0; b < h.Bands; b++ {
				row := (y*h.Bands + b) * h.Samples
				for x := 0; x < h.Samples; x++ {
					c.Data[(y*h.Samples+x)*h.Bands+b] = flat[row+x]
				}
			}
		}
	case BSQ:
		// flat[(b*Lines + y)*Samples + x]
		for b := 0; b < h.Bands; b++ {
			for y := 0; y < h.Lines; y++ {
				row := (b*h.Lines + y) * h.Samples
				for x := 0; x < h.Samples; x++ {
					c.Data[(y*h.Samples+x)*h.Bands+b] = flat[row+x]
				}
			}
		}
	}

	return c, nil
}
