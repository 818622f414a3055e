// Package envi reads ENVI-format reflectance cubes: a text .hdr file
// describing a companion raw binary data file.
package envi

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Interleave is the band layout of the raw data file.
type Interleave string

const (
	BIL Interleave = "bil" // band interleaved by line
	BIP Interleave = "bip" // band interleaved by pixel
	BSQ Interleave = "bsq" // band sequential
)

// Header holds the subset of ENVI header fields needed to read a cube.
type Header struct {
	Samples      int
	Lines        int
	Bands        int
	DataType     int
	Interleave   Interleave
	ByteOrder    int // 0 = little endian, 1 = big endian
	HeaderOffset int
	Wavelengths  []float64
	DefaultBands []int
}

// bytesPerSample returns the element width for the header's data type.
func (h *Header) bytesPerSample() (int, error) {
	switch h.DataType {
	case 1:
		return 1, nil
	case 2, 12:
		return 2, nil
	case 3, 4:
		return 4, nil
	case 5:
		return 8, nil
	default:
		return 0, fmt.Errorf("unsupported ENVI data type %d", h.DataType)
	}
}

// ParseHeader parses an ENVI header from r.
func ParseHeader(r io.Reader) (*Header, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty header")
	}
	if !strings.Contains(strings.ToUpper(scanner.Text()), "ENVI") {
		return nil, fmt.Errorf("missing ENVI magic in header")
	}

	fields := map[string]string{}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		// Brace-delimited values may span multiple lines.
		if strings.HasPrefix(value, "{") && !strings.Contains(value, "}") {
			var sb strings.Builder
			sb.WriteString(value)
			for scanner.Scan() {
				part := strings.TrimSpace(scanner.Text())
				sb.WriteString(" ")
				sb.WriteString(part)
				if strings.Contains(part, "}") {
					break
				}
			}
			value = sb.String()
		}
		fields[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	h := &Header{
		DataType:   4,
		Interleave: BIL,
	}

	var err error
	if h.Samples, err = intField(fields, "samples"); err != nil {
		return nil, err
	}
	if h.Lines, err = intField(fields, "lines"); err != nil {
		return nil, err
	}
	if h.Bands, err = intField(fields, "bands"); err != nil {
		return nil, err
	}
	if v, ok := fields["data type"]; ok {
		if h.DataType, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("bad data type %q", v)
		}
	}
	if v, ok := fields["interleave"]; ok {
		switch Interleave(strings.ToLower(v)) {
		case BIL, BIP, BSQ:
			h.Interleave = Interleave(strings.ToLower(v))
		default:
			return nil, fmt.Errorf("unsupported interleave %q", v)
		}
	}
	if v, ok := fields["byte order"]; ok {
		if h.ByteOrder, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("bad byte order %q", v)
		}
	}
	if v, ok := fields["header offset"]; ok {
		if h.HeaderOffset, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("bad header offset %q", v)
		}
	}
	if v, ok := fields["wavelength"]; ok {
		h.Wavelengths, err = floatList(v)
		if err != nil {
			return nil, fmt.Errorf("bad wavelength list: %w", err)
		}
	}
	if v, ok := fields["default bands"]; ok {
		ints, err := floatList(v)
		if err != nil {
			return nil, fmt.Errorf("bad default bands list: %w", err)
		}
		for _, f := range ints {
			// ENVI band numbers are 1-based.
			h.DefaultBands = append(h.DefaultBands, int(f)-1)
		}
	}

	if h.Samples <= 0 || h.Lines <= 0 || h.Bands <= 0 {
		return nil, fmt.Errorf("non-positive cube dimensions %dx%dx%d", h.Lines, h.Samples, h.Bands)
	}
	if len(h.Wavelengths) > 0 && len(h.Wavelengths) != h.Bands {
		return nil, fmt.Errorf("wavelength count %d does not match bands %d", len(h.Wavelengths), h.Bands)
	}

	return h, nil
}

// ReadHeaderFile parses the ENVI header at path.
func ReadHeaderFile(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h, err := ParseHeader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

// DataFile locates the raw data file belonging to the header at hdrPath.
// ENVI convention: same stem, one of a handful of extensions or none.
func DataFile(hdrPath string) (string, error) {
	stem := strings.TrimSuffix(hdrPath, filepath.Ext(hdrPath))
	candidates := []string{stem, stem + ".dat", stem + ".img", stem + ".raw", stem + ".bin"}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("no data file found for header %s", hdrPath)
}

func intField(fields map[string]string, key string) (int, error) {
	v, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("header missing required field %q", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("bad %s value %q", key, v)
	}
	return n, nil
}

func floatList(v string) ([]float64, error) {
	v = strings.Trim(v, "{} ")
	if v == "" {
		return nil, nil
	}
	parts := strings.Split(v, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
