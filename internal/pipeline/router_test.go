package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/smutch/hyperspec/internal/capture"
	"github.com/smutch/hyperspec/internal/crops"
	"github.com/smutch/hyperspec/internal/envi"
	"github.com/smutch/hyperspec/internal/registration"
)

func testRouter() *router {
	return &router{
		log: slog.Default(),
		readCube: func(path string) (*envi.Cube, error) {
			c := envi.NewCube(20, 20, 3)
			return c, nil
		},
		loadCrops: func(path string) (crops.DB, error) {
			return crops.DB{
				"src": {X: 2, Y: 2, Width: 10, Height: 10},
			}, nil
		},
		registerFn: func(src, ref *envi.Cube, opts registration.Options) (*registration.Result, error) {
			return &registration.Result{
				Cube:       src,
				Homography: registration.Identity(),
				Matches:    50,
				Inliers:    45,
			}, nil
		},
		writeZarrFn: func(root, name string, c *envi.Cube) error { return nil },
	}
}

func registerJob(out string) Job {
	return Job{
		ID:        "reg-1",
		Type:      JobRegister,
		InputPath: filepath.Join("set", "src", "results", "REFLECTANCE_src.hdr"),
		Output:    out,
		Options: map[string]any{
			"reference": filepath.Join("set", "ref", "results", "REFLECTANCE_ref.hdr"),
			"crops":     "bounds.json",
		},
	}
}

func TestRouterRegisterHappyPath(t *testing.T) {
	r := testRouter()
	var wroteName string
	var croppedSrc *envi.Cube
	r.registerFn = func(src, ref *envi.Cube, opts registration.Options) (*registration.Result, error) {
		croppedSrc = src
		return &registration.Result{Cube: src, Homography: registration.Identity(), Matches: 9, Inliers: 8}, nil
	}
	r.writeZarrFn = func(root, name string, c *envi.Cube) error {
		wroteName = name
		return nil
	}

	res := r.handleRegister(context.Background(), registerJob(filepath.Join(t.TempDir(), "out.zarr")))
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if wroteName != "src" {
		t.Fatalf("store array should be named by capture id, got %q", wroteName)
	}
	if croppedSrc == nil || croppedSrc.Samples != 10 || croppedSrc.Lines != 10 {
		t.Fatalf("registration should receive the cropped cube, got %+v", croppedSrc)
	}
	if res.Meta["matches"] != 9 || res.Meta["capture"] != "src" || res.Meta["reference"] != "ref" {
		t.Fatalf("unexpected meta: %v", res.Meta)
	}
}

func TestRouterRegisterMissingBounds(t *testing.T) {
	r := testRouter()
	r.loadCrops = func(path string) (crops.DB, error) {
		return crops.DB{"other": {X: 0, Y: 0, Width: 5, Height: 5}}, nil
	}

	res := r.handleRegister(context.Background(), registerJob(filepath.Join(t.TempDir(), "out.zarr")))
	if !errors.Is(res.Error, crops.ErrNotFound) {
		t.Fatalf("missing bounds must fail the job, got %v", res.Error)
	}
}

func TestRouterRegisterBoundsOutsideExtent(t *testing.T) {
	r := testRouter()
	r.loadCrops = func(path string) (crops.DB, error) {
		return crops.DB{"src": {X: 15, Y: 15, Width: 10, Height: 10}}, nil
	}

	res := r.handleRegister(context.Background(), registerJob(filepath.Join(t.TempDir(), "out.zarr")))
	if res.Error == nil {
		t.Fatal("bounds outside the cube extent must fail the job")
	}
}

func TestRouterRegisterPropagatesFailure(t *testing.T) {
	r := testRouter()
	wantErr := errors.New("insufficient feature matches")
	r.registerFn = func(src, ref *envi.Cube, opts registration.Options) (*registration.Result, error) {
		return nil, wantErr
	}
	zarrCalled := false
	r.writeZarrFn = func(root, name string, c *envi.Cube) error {
		zarrCalled = true
		return nil
	}

	res := r.handleRegister(context.Background(), registerJob(filepath.Join(t.TempDir(), "out.zarr")))
	if !errors.Is(res.Error, wantErr) {
		t.Fatalf("expected registration error, got %v", res.Error)
	}
	if zarrCalled {
		t.Fatal("failed registration must not write output")
	}
}

func TestRouterRegisterSmoothOverride(t *testing.T) {
	r := testRouter()
	var gotSmooth float64
	r.registerFn = func(src, ref *envi.Cube, opts registration.Options) (*registration.Result, error) {
		gotSmooth = opts.Smooth
		return &registration.Result{Cube: src, Homography: registration.Identity()}, nil
	}

	job := registerJob(filepath.Join(t.TempDir(), "out.zarr"))
	job.Options["smooth"] = 2.5
	if res := r.handleRegister(context.Background(), job); res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if gotSmooth != 2.5 {
		t.Fatalf("smooth option not passed through, got %f", gotSmooth)
	}
}

func TestRouterScanRecordsCaptures(t *testing.T) {
	r := testRouter()
	r.discoverFn = func(root string, ids []string, log *slog.Logger) ([]capture.Capture, error) {
		return []capture.Capture{
			{ID: "a", HeaderPath: "a.hdr"},
			{ID: "b", HeaderPath: "b.hdr"},
		}, nil
	}
	r.readHeader = func(path string) (*envi.Header, error) {
		return &envi.Header{Samples: 4, Lines: 4, Bands: 2}, nil
	}

	res := r.handleScan(context.Background(), Job{ID: "scan-1", Type: JobScan, InputPath: "root"})
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	if res.Meta["captures"] != 2 {
		t.Fatalf("unexpected meta: %v", res.Meta)
	}
}

func TestRouterStatsMetrics(t *testing.T) {
	r := testRouter()
	r.readCube = func(path string) (*envi.Cube, error) {
		c := envi.NewCube(2, 2, 3)
		for i := range c.Data {
			c.Data[i] = float32(i + 1)
		}
		return c, nil
	}

	job := Job{
		ID:        "stats-1",
		Type:      JobStats,
		InputPath: "a.hdr",
		Options:   map[string]any{"other": "b.hdr", "metric": "sam"},
	}
	res := r.handleStats(context.Background(), job)
	if res.Error != nil {
		t.Fatalf("expected nil error, got %v", res.Error)
	}
	mean, ok := res.Meta["mean"].(float64)
	if !ok || mean < 0.999 {
		t.Fatalf("identical cubes should score ~1, got %v", res.Meta["mean"])
	}

	job.Options["metric"] = "volume"
	if res := r.handleStats(context.Background(), job); res.Error == nil {
		t.Fatal("unknown metric should be rejected")
	}
}

func TestRouterUnknownJobType(t *testing.T) {
	r := testRouter()
	res := r.Process(context.Background(), Job{ID: "x", Type: JobType("mystery")})
	if res.Error == nil {
		t.Fatal("unknown job type should error")
	}
}
