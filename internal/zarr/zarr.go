// Package zarr writes registered cubes into a zarr v2 directory store,
// one array per capture, chunked along the line axis and compressed with
// zlib. It also reads the subset of the format it writes, so results can
// be reopened and verified.
package zarr

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/smutch/hyperspec/internal/envi"
)

const (
	compressionLevel = 5
	// targetChunkBytes sizes chunks to roughly 4 MiB uncompressed.
	targetChunkBytes = 4 << 20
)

type compressorMeta struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

type arrayMeta struct {
	ZarrFormat int             `json:"zarr_format"`
	Shape      [3]int          `json:"shape"`
	Chunks     [3]int          `json:"chunks"`
	DType      string          `json:"dtype"`
	Order      string          `json:"order"`
	Compressor *compressorMeta `json:"compressor"`
	FillValue  float64         `json:"fill_value"`
	Filters    json.RawMessage `json:"filters"`
}

type arrayAttrs struct {
	Wavelengths []float64 `json:"wavelengths,omitempty"`
}

// Write stores the cube as array name inside the store rooted at root,
// creating the store on first use. An existing array with the same name
// is replaced, so re-running a registration is idempotent.
func Write(root, name string, c *envi.Cube) error {
	if err := ensureGroup(root); err != nil {
		return err
	}

	dir := filepath.Join(root, name)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	chunkLines := targetChunkBytes / (c.Samples * c.Bands * 4)
	if chunkLines < 1 {
		chunkLines = 1
	}
	if chunkLines > c.Lines {
		chunkLines = c.Lines
	}

	meta := arrayMeta{
		ZarrFormat: 2,
		Shape:      [3]int{c.Lines, c.Samples, c.Bands},
		Chunks:     [3]int{chunkLines, c.Samples, c.Bands},
		DType:      "<f4",
		Order:      "C",
		Compressor: &compressorMeta{ID: "zlib", Level: compressionLevel},
		Filters:    json.RawMessage("null"),
	}
	if err := writeJSON(filepath.Join(dir, ".zarray"), meta); err != nil {
		return err
	}
	if len(c.Wavelengths) > 0 {
		if err := writeJSON(filepath.Join(dir, ".zattrs"), arrayAttrs{Wavelengths: c.Wavelengths}); err != nil {
			return err
		}
	}

	lineBytes := c.Samples * c.Bands * 4
	for i := 0; (i * chunkLines) < c.Lines; i++ {
		start := i * chunkLines
		end := start + chunkLines
		if end > c.Lines {
			end = c.Lines
		}

		// Edge chunks are padded to the full chunk shape with the
		// fill value, per the v2 spec.
		raw := make([]byte, chunkLines*lineBytes)
		for y := start; y < end; y++ {
			rowOff := (y - start) * lineBytes
			srcOff := y * c.Samples * c.Bands
			for j, v := range c.Data[srcOff : srcOff+c.Samples*c.Bands] {
				binary.LittleEndian.PutUint32(raw[rowOff+j*4:], math.Float32bits(v))
			}
		}

		if err := writeChunk(filepath.Join(dir, fmt.Sprintf("%d.0.0", i)), raw); err != nil {
			return err
		}
	}
	return nil
}

// Read opens array name from the store at root. Only stores produced by
// Write are supported.
func Read(root, name string) (*envi.Cube, error) {
	dir := filepath.Join(root, name)

	var meta arrayMeta
	data, err := os.ReadFile(filepath.Join(dir, ".zarray"))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse %s/.zarray: %w", name, err)
	}
	if meta.ZarrFormat != 2 || meta.DType != "<f4" || meta.Order != "C" {
		return nil, fmt.Errorf("unsupported array format in %s", name)
	}
	if meta.Compressor == nil || meta.Compressor.ID != "zlib" {
		return nil, fmt.Errorf("unsupported compressor in %s", name)
	}
	if meta.Chunks[1] != meta.Shape[1] || meta.Chunks[2] != meta.Shape[2] {
		return nil, fmt.Errorf("unsupported chunk layout in %s", name)
	}

	lines, samples, bands := meta.Shape[0], meta.Shape[1], meta.Shape[2]
	c := envi.NewCube(samples, lines, bands)

	if attrs, err := os.ReadFile(filepath.Join(dir, ".zattrs")); err == nil {
		var a arrayAttrs
		if err := json.Unmarshal(attrs, &a); err == nil {
			c.Wavelengths = a.Wavelengths
		}
	}

	chunkLines := meta.Chunks[0]
	lineFloats := samples * bands
	for i := 0; (i * chunkLines) < lines; i++ {
		raw, err := readChunk(filepath.Join(dir, fmt.Sprintf("%d.0.0", i)))
		if err != nil {
			return nil, err
		}
		if len(raw) != chunkLines*lineFloats*4 {
			return nil, fmt.Errorf("chunk %d of %s has %d bytes, want %d",
				i, name, len(raw), chunkLines*lineFloats*4)
		}

		start := i * chunkLines
		end := start + chunkLines
		if end > lines {
			end = lines
		}
		for y := start; y < end; y++ {
			rowOff := (y - start) * lineFloats * 4
			dstOff := y * lineFloats
			for j := 0; j < lineFloats; j++ {
				c.Data[dstOff+j] = math.Float32frombits(binary.LittleEndian.Uint32(raw[rowOff+j*4:]))
			}
		}
	}
	return c, nil
}

// Arrays lists the array names present in the store.
func Arrays(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), ".zarray")); err == nil {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func ensureGroup(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	path := filepath.Join(root, ".zgroup")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte("{\"zarr_format\": 2}"), 0o644)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func writeChunk(path string, raw []byte) error {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, compressionLevel)
	if err != nil {
		return err
	}
	if _, err := zw.Write(raw); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func readChunk(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	zr, err := zlib.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open chunk %s: %w", path, err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
