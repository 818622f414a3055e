// Package crops persists interactively selected crop rectangles, keyed
// by capture id, as a JSON file shared between the crop and register
// commands.
package crops

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"os"
	"sort"
)

// ErrNotFound reports a capture id with no stored bounds.
var ErrNotFound = errors.New("capture id not found in crops file")

// Rect is an axis-aligned crop rectangle in pixel coordinates.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FromImageRect converts an image.Rectangle into a Rect.
func FromImageRect(r image.Rectangle) Rect {
	r = r.Canon()
	return Rect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// ImageRect returns the image.Rectangle form of r.
func (r Rect) ImageRect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Empty reports whether the rectangle encloses no pixels.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Within reports whether the rectangle lies inside a samples x lines extent.
func (r Rect) Within(samples, lines int) bool {
	return !r.Empty() && r.X >= 0 && r.Y >= 0 &&
		r.X+r.Width <= samples && r.Y+r.Height <= lines
}

// Validate returns an error unless r is a usable crop for the extent.
func (r Rect) Validate(samples, lines int) error {
	if r.Empty() {
		return fmt.Errorf("crop %+v has no area", r)
	}
	if !r.Within(samples, lines) {
		return fmt.Errorf("crop %+v outside image extent %dx%d", r, samples, lines)
	}
	return nil
}

// DB maps capture ids to their crop rectangles.
type DB map[string]Rect

// Load reads a crops db from path. A missing file is not an error: the
// crop session starts a new db.
func Load(path string) (DB, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DB{}, nil
	}
	if err != nil {
		return nil, err
	}
	db := DB{}
	if err := json.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parse crops file %s: %w", path, err)
	}
	return db, nil
}

// Save writes the db to path as JSON.
func (db DB) Save(path string) error {
	data, err := json.MarshalIndent(db, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Bounds returns the stored rectangle for a capture id.
func (db DB) Bounds(id string) (Rect, error) {
	r, ok := db[id]
	if !ok {
		return Rect{}, fmt.Errorf("capture id %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// IDs returns the stored capture ids in sorted order.
func (db DB) IDs() []string {
	ids := make([]string, 0, len(db))
	for id := range db {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
