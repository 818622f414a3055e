package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/smutch/hyperspec/internal/capture"
	"github.com/smutch/hyperspec/internal/config"
	"github.com/smutch/hyperspec/internal/crops"
	"github.com/smutch/hyperspec/internal/envi"
	"github.com/smutch/hyperspec/internal/registration"
	"github.com/smutch/hyperspec/internal/stats"
	"github.com/smutch/hyperspec/internal/storage"
	"github.com/smutch/hyperspec/internal/zarr"
)

// router implements Processor and routes jobs to their concrete handlers.
type router struct {
	log   *slog.Logger
	store *storage.Store
	cfg   *config.Config

	discoverFn  func(root string, ids []string, log *slog.Logger) ([]capture.Capture, error)
	readHeader  func(path string) (*envi.Header, error)
	readCube    func(path string) (*envi.Cube, error)
	loadCrops   func(path string) (crops.DB, error)
	registerFn  func(src, ref *envi.Cube, opts registration.Options) (*registration.Result, error)
	matchVizFn  func(src, ref *envi.Cube, opts registration.Options) (image.Image, error)
	writeZarrFn func(root, name string, c *envi.Cube) error
}

func newRouter(logger *slog.Logger, store *storage.Store, cfg *config.Config) Processor {
	return &router{
		log:         logger,
		store:       store,
		cfg:         cfg,
		discoverFn:  capture.Discover,
		readHeader:  envi.ReadHeaderFile,
		readCube:    envi.ReadCube,
		loadCrops:   crops.Load,
		registerFn:  registration.Register,
		matchVizFn:  registration.MatchVisualization,
		writeZarrFn: zarr.Write,
	}
}

func (r *router) Process(ctx context.Context, job Job) Result {
	switch job.Type {
	case JobScan:
		return r.handleScan(ctx, job)
	case JobRegister:
		return r.handleRegister(ctx, job)
	case JobStats:
		return r.handleStats(ctx, job)
	default:
		return Result{Job: job, Error: fmt.Errorf("unknown job type: %s", job.Type)}
	}
}

func (r *router) handleScan(ctx context.Context, job Job) Result {
	ids, _ := job.Options["ids"].([]string)
	captures, err := r.discoverFn(job.InputPath, ids, r.log)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	found := make([]string, 0, len(captures))
	for _, c := range captures {
		found = append(found, c.ID)
		h, err := r.readHeader(c.HeaderPath)
		if err != nil {
			r.log.Warn("skipping capture with unreadable header", "id", c.ID, "error", err)
			continue
		}
		if r.store != nil {
			_ = r.store.RecordCapture(storage.CaptureRecord{
				CaptureID:  c.ID,
				HeaderPath: c.HeaderPath,
				Samples:    h.Samples,
				Lines:      h.Lines,
				Bands:      h.Bands,
			})
		}
	}

	meta := map[string]any{
		"captures": len(captures),
		"ids":      found,
	}
	return Result{Job: job, Error: nil, Meta: meta}
}

func (r *router) handleRegister(ctx context.Context, job Job) Result {
	refPath, _ := job.Options["reference"].(string)
	cropsPath, _ := job.Options["crops"].(string)
	if refPath == "" || cropsPath == "" {
		return Result{Job: job, Error: fmt.Errorf("register requires reference and crops options")}
	}

	db, err := r.loadCrops(cropsPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	srcID := capture.IDFromPath(job.InputPath)
	refID := capture.IDFromPath(refPath)
	bounds, err := db.Bounds(srcID)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	src, err := r.readCube(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: fmt.Errorf("read source cube: %w", err)}
	}
	ref, err := r.readCube(refPath)
	if err != nil {
		return Result{Job: job, Error: fmt.Errorf("read reference cube: %w", err)}
	}

	if err := bounds.Validate(src.Samples, src.Lines); err != nil {
		return Result{Job: job, Error: err}
	}
	if err := bounds.Validate(ref.Samples, ref.Lines); err != nil {
		return Result{Job: job, Error: err}
	}

	srcCrop, err := src.Crop(bounds.ImageRect())
	if err != nil {
		return Result{Job: job, Error: err}
	}
	refCrop, err := ref.Crop(bounds.ImageRect())
	if err != nil {
		return Result{Job: job, Error: err}
	}

	opts := r.registrationOptions(job.Options)
	res, err := r.registerFn(srcCrop, refCrop, opts)
	if err != nil {
		if debug, _ := job.Options["debug"].(bool); debug && r.matchVizFn != nil {
			if viz, vizErr := r.matchVizFn(srcCrop, refCrop, opts); vizErr == nil {
				path := sidecarPath(job.Output, srcID, "matches.png")
				if saveErr := savePNG(path, viz); saveErr == nil {
					r.log.Info("wrote match visualization", "path", path)
				}
			}
		}
		return Result{Job: job, Error: err}
	}

	if err := r.writeZarrFn(job.Output, srcID, res.Cube); err != nil {
		return Result{Job: job, Error: fmt.Errorf("write output store: %w", err)}
	}

	meta := map[string]any{
		"capture":     srcID,
		"reference":   refID,
		"matches":     res.Matches,
		"inliers":     res.Inliers,
		"border_trim": res.BorderTrim,
	}

	if preview, _ := job.Options["preview"].(bool); preview {
		path := sidecarPath(job.Output, srcID, "registered.png")
		if err := savePNG(path, res.Preview); err != nil {
			r.log.Warn("preview not written", "path", path, "error", err)
		} else {
			meta["preview"] = path
		}
	}

	if r.store != nil {
		_ = r.store.RecordRegistration(storage.RegistrationRecord{
			JobID:          job.ID,
			CaptureID:      srcID,
			ReferenceID:    refID,
			OutputPath:     job.Output,
			Matches:        res.Matches,
			Inliers:        res.Inliers,
			BorderTrim:     res.BorderTrim,
			HomographyJSON: homographyJSON(res.Homography),
		})
	}
	return Result{Job: job, Error: nil, Meta: meta}
}

func (r *router) handleStats(ctx context.Context, job Job) Result {
	otherPath, _ := job.Options["other"].(string)
	if otherPath == "" {
		return Result{Job: job, Error: fmt.Errorf("stats requires a second cube")}
	}
	metric, _ := job.Options["metric"].(string)
	if metric == "" {
		metric = "sam"
	}

	a, err := r.readCube(job.InputPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}
	b, err := r.readCube(otherPath)
	if err != nil {
		return Result{Job: job, Error: err}
	}

	var m *stats.SimilarityMap
	switch metric {
	case "sam":
		m, err = stats.PixelwiseSAMSimilarity(a, b)
	case "cosine":
		m, err = stats.PixelwiseCosineSimilarity(a, b)
	default:
		err = fmt.Errorf("unknown metric %q (want sam or cosine)", metric)
	}
	if err != nil {
		return Result{Job: job, Error: err}
	}

	lo, hi := m.MinMax()
	meta := map[string]any{
		"metric": metric,
		"mean":   m.Mean(),
		"min":    lo,
		"max":    hi,
	}
	return Result{Job: job, Error: nil, Meta: meta}
}

func (r *router) registrationOptions(options map[string]any) registration.Options {
	opts := registration.DefaultOptions
	if r.cfg != nil {
		opts.MaxFeatures = r.cfg.Registration.MaxFeatures
		opts.ScaleFactor = r.cfg.Registration.ScaleFactor
		opts.RansacReprojThresh = r.cfg.Registration.RansacReprojThresh
		opts.Validate = registration.ValidateOptions{
			AreaTolerance:       r.cfg.Registration.AreaTolerance,
			MaxPerspectiveShift: r.cfg.Registration.MaxPerspectiveShift,
		}
		opts.Smooth = r.cfg.Registration.Smooth
		opts.Stretch = envi.StretchOptions{
			LowPercentile: r.cfg.Preview.LowPercentile,
			HiPercentile:  r.cfg.Preview.HiPercentile,
		}
	}
	if smooth, ok := options["smooth"].(float64); ok && smooth > 0 {
		opts.Smooth = smooth
	}
	return opts
}

// sidecarPath places diagnostic images next to the output store.
func sidecarPath(output, id, suffix string) string {
	return filepath.Join(filepath.Dir(output), fmt.Sprintf("%s_%s", id, suffix))
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func homographyJSON(h registration.Homography) string {
	return fmt.Sprintf("[[%g,%g,%g],[%g,%g,%g],[%g,%g,%g]]",
		h[0][0], h[0][1], h[0][2],
		h[1][0], h[1][1], h[1][2],
		h[2][0], h[2][1], h[2][2])
}
