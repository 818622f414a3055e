package cli

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/smutch/hyperspec/internal/capture"
	"github.com/smutch/hyperspec/internal/config"
	"github.com/smutch/hyperspec/internal/cropui"
	"github.com/smutch/hyperspec/internal/crops"
	"github.com/smutch/hyperspec/internal/pipeline"
)

type stubPipeline struct {
	jobs    []pipeline.Job
	results chan pipeline.Result
	fail    error
}

func newStubPipeline() *stubPipeline {
	return &stubPipeline{results: make(chan pipeline.Result, 8)}
}

func (s *stubPipeline) Submit(job pipeline.Job) error {
	s.jobs = append(s.jobs, job)
	s.results <- pipeline.Result{Job: job, Error: s.fail}
	return nil
}

func (s *stubPipeline) Subscribe() (<-chan pipeline.Result, func()) {
	return s.results, func() {}
}

func testRoot(p *stubPipeline) *Root {
	cfg := &config.Config{}
	cfg.Preview.LowPercentile = 2
	cfg.Preview.HiPercentile = 98
	return &Root{pipeline: p, cfg: cfg, log: slog.Default()}
}

func TestRegisterCommandBuildsJob(t *testing.T) {
	p := newStubPipeline()
	cmd := newRegisterCmd(testRoot(p))
	cmd.SetArgs([]string{"ref.hdr", "src.hdr", "bounds.json", "out.zarr", "--smooth", "1.5", "--preview"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(p.jobs) != 1 {
		t.Fatalf("expected one job, got %d", len(p.jobs))
	}

	job := p.jobs[0]
	if job.Type != pipeline.JobRegister {
		t.Fatalf("wrong job type: %s", job.Type)
	}
	if job.InputPath != "src.hdr" || job.Output != "out.zarr" {
		t.Fatalf("wrong paths: %+v", job)
	}
	if job.Options["reference"] != "ref.hdr" || job.Options["crops"] != "bounds.json" {
		t.Fatalf("wrong options: %v", job.Options)
	}
	if job.Options["smooth"] != 1.5 || job.Options["preview"] != true {
		t.Fatalf("flags not forwarded: %v", job.Options)
	}
}

func TestRegisterCommandPropagatesFailure(t *testing.T) {
	p := newStubPipeline()
	p.fail = os.ErrNotExist
	cmd := newRegisterCmd(testRoot(p))
	cmd.SetArgs([]string{"ref.hdr", "src.hdr", "bounds.json", "out.zarr"})

	if err := cmd.ExecuteContext(context.Background()); err == nil {
		t.Fatal("job failure must surface as a command error")
	}
}

func TestStatsCommandBuildsJob(t *testing.T) {
	p := newStubPipeline()
	cmd := newStatsCmd(testRoot(p))
	cmd.SetArgs([]string{"a.hdr", "b.hdr", "--metric", "cosine"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	job := p.jobs[0]
	if job.Type != pipeline.JobStats || job.Options["other"] != "b.hdr" || job.Options["metric"] != "cosine" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestScanCommandBuildsJob(t *testing.T) {
	p := newStubPipeline()
	cmd := newScanCmd(testRoot(p))
	cmd.SetArgs([]string{"/data/captures"})

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	job := p.jobs[0]
	if job.Type != pipeline.JobScan || job.InputPath != "/data/captures" {
		t.Fatalf("unexpected job: %+v", job)
	}
}

func TestRunCropLocalSession(t *testing.T) {
	rootDir := t.TempDir()
	dir := filepath.Join(rootDir, "cap1", "results")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "REFLECTANCE_cap1.hdr"), []byte("ENVI\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := testRoot(newStubPipeline())
	var got []capture.Capture
	r.cropFn = func(captures []capture.Capture, db crops.DB, cropsPath string, opts cropui.Options, log *slog.Logger) error {
		got = captures
		return nil
	}

	cropsPath := filepath.Join(t.TempDir(), "bounds.json")
	if err := r.runCrop(context.Background(), rootDir, cropsPath, nil, ""); err != nil {
		t.Fatalf("run crop: %v", err)
	}
	if len(got) != 1 || got[0].ID != "cap1" {
		t.Fatalf("crop session got wrong captures: %+v", got)
	}
}

func TestRunCropNoCapturesFails(t *testing.T) {
	r := testRoot(newStubPipeline())
	r.cropFn = func([]capture.Capture, crops.DB, string, cropui.Options, *slog.Logger) error {
		t.Fatal("crop session should not start with no captures")
		return nil
	}
	if err := r.runCrop(context.Background(), t.TempDir(), "bounds.json", nil, ""); err == nil {
		t.Fatal("expected error for empty capture dir")
	}
}

func TestRunCropServeDelegates(t *testing.T) {
	r := testRoot(newStubPipeline())
	var gotAddr string
	r.serveFn = func(ctx context.Context, addr, root, cropsPath string, cfg *config.Config, log *slog.Logger) error {
		gotAddr = addr
		return nil
	}
	if err := r.runCrop(context.Background(), "dir", "bounds.json", nil, ":9999"); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if gotAddr != ":9999" {
		t.Fatalf("serve address not forwarded: %s", gotAddr)
	}
}
