package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/smutch/hyperspec/internal/capture"
	"github.com/smutch/hyperspec/internal/config"
	"github.com/smutch/hyperspec/internal/cropui"
	"github.com/smutch/hyperspec/internal/crops"
	"github.com/smutch/hyperspec/internal/envi"
	"github.com/smutch/hyperspec/internal/pipeline"
	"github.com/smutch/hyperspec/internal/server"
	"github.com/smutch/hyperspec/internal/storage"
)

type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

type cropFunc func(captures []capture.Capture, db crops.DB, cropsPath string, opts cropui.Options, log *slog.Logger) error

type serveFunc func(ctx context.Context, addr, root, cropsPath string, cfg *config.Config, log *slog.Logger) error

func defaultServe(ctx context.Context, addr, root, cropsPath string, cfg *config.Config, log *slog.Logger) error {
	s, err := server.New(addr, root, cropsPath, cfg, log)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// Root wires CLI commands to the pipeline.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	cropFn   cropFunc
	serveFn  serveFunc
}

// NewRoot constructs the CLI root command.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		cropFn:   cropui.Run,
		serveFn:  defaultServe,
	}
}

// runCrop drives the interactive cropping session, either locally in an
// OpenCV window or through the browser UI.
func (r *Root) runCrop(ctx context.Context, root, cropsPath string, ids []string, serveAddr string) error {
	if serveAddr != "" {
		return r.serveFn(ctx, serveAddr, root, cropsPath, r.cfg, r.log)
	}

	captures, err := capture.Discover(root, ids, r.log)
	if err != nil {
		return err
	}
	if len(captures) == 0 {
		return fmt.Errorf("no reflectance captures found under %s", root)
	}

	db, err := crops.Load(cropsPath)
	if err != nil {
		return err
	}

	opts := cropui.Options{
		Stretch: envi.StretchOptions{
			LowPercentile: r.cfg.Preview.LowPercentile,
			HiPercentile:  r.cfg.Preview.HiPercentile,
		},
	}
	return r.cropFn(captures, db, cropsPath, opts, r.log)
}

func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) error {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				if res.Error != nil {
					return res.Error
				}
				return nil
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "type", job.Type, "id", job.ID, "input", job.InputPath)
	return nil
}

func newID(prefix string) string {
	ts := time.Now().UTC().Format("20060102T150405")
	return fmt.Sprintf("%s-%s-%04d", prefix, ts, rand.Intn(10000))
}
