// Package registration aligns one reflectance cube against a reference
// capture of the same scene. Features are detected on stretched grayscale
// previews, matched, and a projective transform is estimated and applied
// band by band.
package registration

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/smutch/hyperspec/internal/envi"
)

// Options controls feature detection and the homography search.
type Options struct {
	MaxFeatures        int
	ScaleFactor        float64
	RansacReprojThresh float64
	Validate           ValidateOptions
	// Smooth, when positive, is the Gaussian sigma applied to both
	// previews before feature detection.
	Smooth  float64
	Stretch envi.StretchOptions
}

// DefaultOptions matches the defaults of the register command.
var DefaultOptions = Options{
	MaxFeatures:        10000,
	ScaleFactor:        1.2,
	RansacReprojThresh: 5.0,
	Validate:           DefaultValidate,
	Stretch:            envi.DefaultStretch,
}

// Result is a registered cube together with diagnostics of the match.
type Result struct {
	Cube       *envi.Cube
	Preview    *image.Gray
	Homography Homography
	Matches    int
	Inliers    int
	// BorderTrim is the number of border rings removed to discard
	// pixels that the warp pulled from outside the source extent.
	BorderTrim int
}

const (
	orbLevels        = 8
	orbEdgeThreshold = 31
	orbWTAK          = 4
	orbPatchSize     = 31
	orbFastThreshold = 20

	ransacMaxIters   = 2000
	ransacConfidence = 0.995

	minMatches = 4
)

// Register estimates the transform taking src into ref's frame and
// returns src warped and trimmed accordingly. Both cubes must already be
// cropped to the same extent.
func Register(src, ref *envi.Cube, opts Options) (*Result, error) {
	if src.Samples != ref.Samples || src.Lines != ref.Lines {
		return nil, fmt.Errorf("cube extents differ: %dx%d vs %dx%d",
			src.Samples, src.Lines, ref.Samples, ref.Lines)
	}

	srcMat, refMat, err := previewMats(src, ref, opts)
	if err != nil {
		return nil, err
	}
	defer srcMat.Close()
	defer refMat.Close()

	srcKP, srcDesc, err := detectFeatures(srcMat, opts)
	if err != nil {
		return nil, fmt.Errorf("source features: %w", err)
	}
	defer srcDesc.Close()
	refKP, refDesc, err := detectFeatures(refMat, opts)
	if err != nil {
		return nil, fmt.Errorf("reference features: %w", err)
	}
	defer refDesc.Close()

	matcher := gocv.NewBFMatcherWithParams(gocv.NormHamming2, true)
	defer matcher.Close()
	matches := matcher.Match(srcDesc, refDesc)
	if len(matches) < minMatches {
		return nil, fmt.Errorf("insufficient feature matches: %d found, need at least %d",
			len(matches), minMatches)
	}

	hom, inliers, err := estimateHomography(srcKP, refKP, matches, opts)
	if err != nil {
		return nil, err
	}
	if err := hom.Validate(opts.Validate); err != nil {
		return nil, fmt.Errorf("rejecting estimated transform: %w", err)
	}

	warped, trim, err := warpCube(src, hom)
	if err != nil {
		return nil, err
	}

	return &Result{
		Cube:       warped,
		Preview:    warped.GrayPreview(opts.Stretch),
		Homography: hom,
		Matches:    len(matches),
		Inliers:    inliers,
		BorderTrim: trim,
	}, nil
}

// MatchVisualization renders the feature matches between the two cubes'
// previews, for inspecting a failed or suspect registration.
func MatchVisualization(src, ref *envi.Cube, opts Options) (image.Image, error) {
	srcMat, refMat, err := previewMats(src, ref, opts)
	if err != nil {
		return nil, err
	}
	defer srcMat.Close()
	defer refMat.Close()

	srcKP, srcDesc, err := detectFeatures(srcMat, opts)
	if err != nil {
		return nil, err
	}
	defer srcDesc.Close()
	refKP, refDesc, err := detectFeatures(refMat, opts)
	if err != nil {
		return nil, err
	}
	defer refDesc.Close()

	matcher := gocv.NewBFMatcherWithParams(gocv.NormHamming2, true)
	defer matcher.Close()
	matches := matcher.Match(srcDesc, refDesc)

	out := gocv.NewMat()
	defer out.Close()
	green := color.RGBA{G: 255, A: 255}
	red := color.RGBA{R: 255, A: 255}
	gocv.DrawMatches(srcMat, srcKP, refMat, refKP, matches, &out, green, red, nil, gocv.DrawDefault)

	img, err := out.ToImage()
	if err != nil {
		return nil, fmt.Errorf("render match visualization: %w", err)
	}
	return img, nil
}

func previewMats(src, ref *envi.Cube, opts Options) (gocv.Mat, gocv.Mat, error) {
	srcMat, err := grayMat(src.GrayPreview(opts.Stretch), opts.Smooth)
	if err != nil {
		return gocv.Mat{}, gocv.Mat{}, err
	}
	refMat, err := grayMat(ref.GrayPreview(opts.Stretch), opts.Smooth)
	if err != nil {
		srcMat.Close()
		return gocv.Mat{}, gocv.Mat{}, err
	}
	return srcMat, refMat, nil
}

func grayMat(img *image.Gray, smooth float64) (gocv.Mat, error) {
	m, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("preview to mat: %w", err)
	}
	if smooth > 0 {
		gocv.GaussianBlur(m, &m, image.Point{}, smooth, smooth, gocv.BorderDefault)
	}
	return m, nil
}

func detectFeatures(m gocv.Mat, opts Options) ([]gocv.KeyPoint, gocv.Mat, error) {
	orb := gocv.NewORBWithParams(opts.MaxFeatures, float32(opts.ScaleFactor), orbLevels,
		orbEdgeThreshold, 0, orbWTAK, gocv.ORBScoreTypeHarris, orbPatchSize, orbFastThreshold)
	defer orb.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	kp, desc := orb.DetectAndCompute(m, mask)
	if len(kp) == 0 {
		desc.Close()
		return nil, gocv.Mat{}, fmt.Errorf("no features detected")
	}
	return kp, desc, nil
}

func estimateHomography(srcKP, refKP []gocv.KeyPoint, matches []gocv.DMatch, opts Options) (Homography, int, error) {
	n := len(matches)
	srcPts := gocv.NewMatWithSize(n, 1, gocv.MatTypeCV64FC2)
	defer srcPts.Close()
	dstPts := gocv.NewMatWithSize(n, 1, gocv.MatTypeCV64FC2)
	defer dstPts.Close()
	for i, m := range matches {
		srcPts.SetDoubleAt(i, 0, srcKP[m.QueryIdx].X)
		srcPts.SetDoubleAt(i, 1, srcKP[m.QueryIdx].Y)
		dstPts.SetDoubleAt(i, 0, refKP[m.TrainIdx].X)
		dstPts.SetDoubleAt(i, 1, refKP[m.TrainIdx].Y)
	}

	inlierMask := gocv.NewMat()
	defer inlierMask.Close()
	hMat := gocv.FindHomography(srcPts, &dstPts, gocv.HomographyMethodRANSAC,
		opts.RansacReprojThresh, &inlierMask, ransacMaxIters, ransacConfidence)
	defer hMat.Close()
	if hMat.Empty() {
		return Homography{}, 0, fmt.Errorf("homography estimation failed")
	}

	var hom Homography
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			hom[r][c] = hMat.GetDoubleAt(r, c)
		}
	}

	inliers := 0
	for i := 0; i < inlierMask.Rows(); i++ {
		if inlierMask.GetUCharAt(i, 0) != 0 {
			inliers++
		}
	}
	return hom, inliers, nil
}

// warpCube applies the transform to every band, then trims border rings
// until no pixel mapped from outside the source extent remains.
func warpCube(src *envi.Cube, hom Homography) (*envi.Cube, int, error) {
	hMat := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer hMat.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			hMat.SetDoubleAt(r, c, hom[r][c])
		}
	}
	size := image.Pt(src.Samples, src.Lines)

	out := envi.NewCube(src.Samples, src.Lines, src.Bands)
	out.Wavelengths = src.Wavelengths
	out.DefaultBands = src.DefaultBands

	band := gocv.NewMatWithSize(src.Lines, src.Samples, gocv.MatTypeCV32F)
	defer band.Close()
	warped := gocv.NewMat()
	defer warped.Close()
	for b := 0; b < src.Bands; b++ {
		ptr, err := band.DataPtrFloat32()
		if err != nil {
			return nil, 0, err
		}
		copy(ptr, src.Band(b))
		gocv.WarpPerspective(band, &warped, hMat, size)
		wptr, err := warped.DataPtrFloat32()
		if err != nil {
			return nil, 0, err
		}
		out.SetBand(b, wptr)
	}

	valid, err := validityMask(hMat, size)
	if err != nil {
		return nil, 0, err
	}
	trim := trimDepth(valid, src.Samples, src.Lines)
	if trim == 0 {
		return out, 0, nil
	}
	if 2*trim >= src.Samples || 2*trim >= src.Lines {
		return nil, 0, fmt.Errorf("warp left no valid interior (trim %d on %dx%d)",
			trim, src.Samples, src.Lines)
	}

	trimmed, err := out.Crop(image.Rect(trim, trim, src.Samples-trim, src.Lines-trim))
	if err != nil {
		return nil, 0, err
	}
	return trimmed, trim, nil
}

// validityMask warps an all-ones image with nearest-neighbour sampling;
// zeros mark destination pixels with no source coverage.
func validityMask(hMat gocv.Mat, size image.Point) ([]bool, error) {
	ones := gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV8U)
	defer ones.Close()
	ones.SetTo(gocv.NewScalar(255, 0, 0, 0))

	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspectiveWithParams(ones, &warped, hMat, size,
		gocv.InterpolationNearestNeighbor, gocv.BorderConstant, color.RGBA{})

	valid := make([]bool, size.X*size.Y)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			valid[y*size.X+x] = warped.GetUCharAt(y, x) != 0
		}
	}
	return valid, nil
}

// trimDepth returns the smallest border width whose removal leaves only
// valid pixels.
func trimDepth(valid []bool, w, h int) int {
	trim := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if valid[y*w+x] {
				continue
			}
			depth := x
			if y < depth {
				depth = y
			}
			if d := w - 1 - x; d < depth {
				depth = d
			}
			if d := h - 1 - y; d < depth {
				depth = d
			}
			if depth+1 > trim {
				trim = depth + 1
			}
		}
	}
	return trim
}
