// Package cropui runs the local interactive cropping session: one OpenCV
// window per capture, with the selected rectangle saved after each pick
// so an interrupted session loses at most the capture on screen.
package cropui

import (
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/smutch/hyperspec/internal/capture"
	"github.com/smutch/hyperspec/internal/crops"
	"github.com/smutch/hyperspec/internal/envi"
)

// Options controls the cropping session.
type Options struct {
	Stretch envi.StretchOptions
}

// Run walks the captures in order and lets the user draw a crop
// rectangle over each preview. An empty selection keeps any existing
// bounds and moves on.
func Run(captures []capture.Capture, db crops.DB, cropsPath string, opts Options, log *slog.Logger) error {
	window := gocv.NewWindow("hyperspec crop")
	defer window.Close()

	for _, c := range captures {
		cube, err := envi.ReadCube(c.HeaderPath)
		if err != nil {
			return fmt.Errorf("read capture %s: %w", c.ID, err)
		}

		preview := cube.RGBPreview(opts.Stretch)
		mat, err := gocv.ImageToMatRGBA(preview)
		if err != nil {
			return fmt.Errorf("render capture %s: %w", c.ID, err)
		}

		window.SetWindowTitle(fmt.Sprintf("crop %s (enter/space accepts, c cancels)", c.ID))
		if prev, ok := db[c.ID]; ok {
			log.Info("existing bounds", "id", c.ID, "rect", prev)
		}
		roi := window.SelectROI(mat)
		mat.Close()

		if roi.Empty() {
			log.Info("selection skipped", "id", c.ID)
			continue
		}

		rect := crops.FromImageRect(image.Rect(roi.Min.X, roi.Min.Y, roi.Max.X, roi.Max.Y))
		if err := rect.Validate(cube.Samples, cube.Lines); err != nil {
			log.Warn("selection discarded", "id", c.ID, "error", err)
			continue
		}

		db[c.ID] = rect
		if err := db.Save(cropsPath); err != nil {
			return fmt.Errorf("save crops file: %w", err)
		}
		log.Info("bounds saved", "id", c.ID, "rect", rect)
	}

	return nil
}
