package envi

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// WriteCube writes c as an ENVI header/data pair (float32, BIL, little
// endian). hdrPath must end in .hdr; the data file is written alongside
// with a .dat extension.
func WriteCube(hdrPath string, c *Cube) error {
	if filepath.Ext(hdrPath) != ".hdr" {
		return fmt.Errorf("header path must end in .hdr, got %s", hdrPath)
	}

	var hdr strings.Builder
	hdr.WriteString("ENVI\n")
	fmt.Fprintf(&hdr, "samples = %d\n", c.Samples)
	fmt.Fprintf(&hdr, "lines = %d\n", c.Lines)
	fmt.Fprintf(&hdr, "bands = %d\n", c.Bands)
	hdr.WriteString("header offset = 0\n")
	hdr.WriteString("data type = 4\n")
	hdr.WriteString("interleave = bil\n")
	hdr.WriteString("byte order = 0\n")
	if len(c.Wavelengths) == c.Bands && c.Bands > 0 {
		parts := make([]string, len(c.Wavelengths))
		for i, w := range c.Wavelengths {
			parts[i] = fmt.Sprintf("%g", w)
		}
		fmt.Fprintf(&hdr, "wavelength = {%s}\n", strings.Join(parts, ", "))
	}
	if len(c.DefaultBands) > 0 {
		parts := make([]string, len(c.DefaultBands))
		for i, b := range c.DefaultBands {
			parts[i] = fmt.Sprintf("%d", b+1)
		}
		fmt.Fprintf(&hdr, "default bands = {%s}\n", strings.Join(parts, ", "))
	}

	if err := os.WriteFile(hdrPath, []byte(hdr.String()), 0o644); err != nil {
		return err
	}

	dataPath := strings.TrimSuffix(hdrPath, ".hdr") + ".dat"
	f, err := os.Create(dataPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	buf := make([]byte, 4)
	for y := 0; y < c.Lines; y++ {
		for b := 0; b < c.Bands; b++ {
			for x := 0; x < c.Samples; x++ {
				binary.LittleEndian.PutUint32(buf, math.Float32bits(c.At(x, y, b)))
				if _, err := w.Write(buf); err != nil {
					return err
				}
			}
		}
	}
	return w.Flush()
}
