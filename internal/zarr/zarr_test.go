package zarr

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/smutch/hyperspec/internal/envi"
)

func testCube(samples, lines, bands int) *envi.Cube {
	c := envi.NewCube(samples, lines, bands)
	for i := range c.Data {
		c.Data[i] = float32(i%997) * 0.25
	}
	return c
}

func TestWriteReadRoundTrip(t *testing.T) {
	root := t.TempDir()
	want := testCube(12, 9, 4)
	want.Wavelengths = []float64{450, 550, 650, 750}

	if err := Write(root, "2023-03-09_014", want); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, ".zgroup")); err != nil {
		t.Fatalf("store root missing .zgroup: %v", err)
	}

	got, err := Read(root, "2023-03-09_014")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Samples != want.Samples || got.Lines != want.Lines || got.Bands != want.Bands {
		t.Fatalf("shape changed: %dx%dx%d", got.Lines, got.Samples, got.Bands)
	}
	for i := range want.Data {
		if got.Data[i] != want.Data[i] {
			t.Fatalf("data mismatch at %d: %f != %f", i, got.Data[i], want.Data[i])
		}
	}
	if len(got.Wavelengths) != 4 || got.Wavelengths[2] != 650 {
		t.Fatalf("wavelengths lost: %v", got.Wavelengths)
	}
}

func TestRewriteIsIdempotent(t *testing.T) {
	root := t.TempDir()
	c := testCube(8, 6, 2)

	if err := Write(root, "cap", c); err != nil {
		t.Fatalf("first write: %v", err)
	}
	first, err := os.ReadFile(filepath.Join(root, "cap", "0.0.0"))
	if err != nil {
		t.Fatal(err)
	}

	if err := Write(root, "cap", c); err != nil {
		t.Fatalf("second write: %v", err)
	}
	second, err := os.ReadFile(filepath.Join(root, "cap", "0.0.0"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Fatal("rewriting the same cube changed the stored bytes")
	}
}

func TestMultipleChunks(t *testing.T) {
	root := t.TempDir()
	// Wide enough that a chunk holds fewer lines than the cube has.
	want := testCube(1024, 5, 512)

	if err := Write(root, "wide", want); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "wide", "1.0.0")); err != nil {
		t.Fatalf("expected a second chunk: %v", err)
	}

	got, err := Read(root, "wide")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i := range want.Data {
		if got.Data[i] != want.Data[i] {
			t.Fatalf("data mismatch at %d", i)
		}
	}
}

func TestArraysListsStore(t *testing.T) {
	root := t.TempDir()
	if err := Write(root, "b", testCube(4, 4, 1)); err != nil {
		t.Fatal(err)
	}
	if err := Write(root, "a", testCube(4, 4, 1)); err != nil {
		t.Fatal(err)
	}

	names, err := Arrays(root)
	if err != nil {
		t.Fatalf("arrays: %v", err)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected arrays: %v", names)
	}
}
