package server

import (
	"bytes"
	"encoding/json"
	"image/png"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"

	"github.com/smutch/hyperspec/internal/config"
	"github.com/smutch/hyperspec/internal/crops"
	"github.com/smutch/hyperspec/internal/envi"
)

func writeCapture(t *testing.T, root, id string, samples, lines, bands int) {
	t.Helper()
	dir := filepath.Join(root, id, "results")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	c := envi.NewCube(samples, lines, bands)
	for i := range c.Data {
		c.Data[i] = float32(i % 100)
	}
	if err := envi.WriteCube(filepath.Join(dir, "REFLECTANCE_"+id+".hdr"), c); err != nil {
		t.Fatal(err)
	}
}

func testServer(t *testing.T) (*Server, *mux.Router, string) {
	t.Helper()
	root := t.TempDir()
	writeCapture(t, root, "cap1", 40, 30, 3)
	writeCapture(t, root, "cap2", 20, 20, 2)

	cropsPath := filepath.Join(t.TempDir(), "bounds.json")
	cfg := &config.Config{}
	cfg.Preview.MaxSize = 16
	cfg.Preview.LowPercentile = 2
	cfg.Preview.HiPercentile = 98

	s, err := New(":0", root, cropsPath, cfg, slog.Default())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(func() {
		if s.watcher != nil {
			s.watcher.Stop()
		}
	})

	r := mux.NewRouter()
	s.setupRoutes(r)
	return s, r, cropsPath
}

func TestCapturesListing(t *testing.T) {
	_, r, _ := testServer(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/captures", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}

	var infos []captureInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &infos); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(infos) != 2 || infos[0].ID != "cap1" || infos[1].ID != "cap2" {
		t.Fatalf("unexpected listing: %+v", infos)
	}
	if infos[0].Samples != 40 || infos[0].Lines != 30 {
		t.Fatalf("dimensions wrong: %+v", infos[0])
	}
	if infos[0].HasBounds {
		t.Fatal("no bounds saved yet")
	}
}

func TestBoundsRoundTrip(t *testing.T) {
	_, r, cropsPath := testServer(t)

	body := bytes.NewBufferString(`{"x":5,"y":4,"width":20,"height":15}`)
	req := httptest.NewRequest("PUT", "/api/bounds/cap1", body)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("put status %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/bounds/cap1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}
	var rect crops.Rect
	if err := json.Unmarshal(rec.Body.Bytes(), &rect); err != nil {
		t.Fatal(err)
	}
	if rect != (crops.Rect{X: 5, Y: 4, Width: 20, Height: 15}) {
		t.Fatalf("round trip changed rect: %+v", rect)
	}

	// The file on disk holds exactly the saved entry.
	db, err := crops.Load(cropsPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(db) != 1 {
		t.Fatalf("expected one entry, got %v", db)
	}
}

func TestBoundsValidation(t *testing.T) {
	_, r, _ := testServer(t)

	// cap2 is 20x20: this rectangle overflows.
	body := bytes.NewBufferString(`{"x":10,"y":10,"width":15,"height":5}`)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("PUT", "/api/bounds/cap2", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-extent rect should be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	body = bytes.NewBufferString(`{"x":0,"y":0,"width":5,"height":5}`)
	r.ServeHTTP(rec, httptest.NewRequest("PUT", "/api/bounds/nope", body))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown capture should 404, got %d", rec.Code)
	}
}

func TestPreviewDownscaled(t *testing.T) {
	_, r, _ := testServer(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/preview/cap1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
		t.Fatalf("content type %s", ct)
	}

	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if img.Bounds().Dx() > 16 || img.Bounds().Dy() > 16 {
		t.Fatalf("preview not downscaled: %v", img.Bounds())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/preview/unknown", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown capture preview should 404, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	_, r, _ := testServer(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz broken: %d %q", rec.Code, rec.Body.String())
	}
}
