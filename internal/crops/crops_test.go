package crops

import (
	"errors"
	"image"
	"path/filepath"
	"reflect"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bounds.json")
	want := DB{
		"2023-03-09_014": {X: 49, Y: 153, Width: 423, Height: 319},
		"2023-03-09_015": {X: 50, Y: 157, Width: 421, Height: 315},
	}

	if err := want.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip changed bounds:\n got %v\nwant %v", got, want)
	}
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	db, err := Load(filepath.Join(t.TempDir(), "new.json"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if len(db) != 0 {
		t.Fatalf("expected empty db, got %v", db)
	}
}

func TestBoundsMissingID(t *testing.T) {
	db := DB{"a": {Width: 10, Height: 10}}

	if _, err := db.Bounds("b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := db.Bounds("a"); err != nil {
		t.Fatalf("stored id should resolve: %v", err)
	}
}

func TestRectValidation(t *testing.T) {
	tests := []struct {
		name    string
		r       Rect
		ok      bool
	}{
		{"inside", Rect{X: 1, Y: 1, Width: 5, Height: 5}, true},
		{"exact fit", Rect{X: 0, Y: 0, Width: 10, Height: 8}, true},
		{"overflow x", Rect{X: 6, Y: 0, Width: 5, Height: 5}, false},
		{"overflow y", Rect{X: 0, Y: 5, Width: 5, Height: 5}, false},
		{"negative origin", Rect{X: -1, Y: 0, Width: 5, Height: 5}, false},
		{"zero area", Rect{X: 1, Y: 1, Width: 0, Height: 5}, false},
	}

	for _, tt := range tests {
		err := tt.r.Validate(10, 8)
		if tt.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tt.name, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestImageRectConversion(t *testing.T) {
	r := FromImageRect(image.Rect(30, 10, 5, 2))
	if r != (Rect{X: 5, Y: 2, Width: 25, Height: 8}) {
		t.Fatalf("canonicalization wrong: %+v", r)
	}
	if r.ImageRect() != image.Rect(5, 2, 30, 10) {
		t.Fatalf("conversion not inverse: %v", r.ImageRect())
	}
}

func TestIDsSorted(t *testing.T) {
	db := DB{"c": {}, "a": {}, "b": {}}
	if got := db.IDs(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("ids not sorted: %v", got)
	}
}
