package registration

import (
	"fmt"
	"math"
)

// Homography is a 3x3 projective transform in row-major order, mapping
// source pixel coordinates into the reference frame.
type Homography [3][3]float64

// Identity returns the identity transform.
func Identity() Homography {
	return Homography{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// Apply maps a point through the transform.
func (h Homography) Apply(x, y float64) (float64, float64) {
	w := h[2][0]*x + h[2][1]*y + h[2][2]
	u := (h[0][0]*x + h[0][1]*y + h[0][2]) / w
	v := (h[1][0]*x + h[1][1]*y + h[1][2]) / w
	return u, v
}

// Det returns the determinant of the full 3x3 matrix.
func (h Homography) Det() float64 {
	return h[0][0]*(h[1][1]*h[2][2]-h[1][2]*h[2][1]) -
		h[0][1]*(h[1][0]*h[2][2]-h[1][2]*h[2][0]) +
		h[0][2]*(h[1][0]*h[2][1]-h[1][1]*h[2][0])
}

// ValidateOptions bounds how far from a rigid alignment an estimated
// transform may stray before it is rejected as a mis-registration.
type ValidateOptions struct {
	// AreaTolerance is the allowed relative change in area of the unit
	// square under the transform.
	AreaTolerance float64
	// MaxPerspectiveShift bounds the magnitude of the perspective terms
	// h31 and h32.
	MaxPerspectiveShift float64
}

// DefaultValidate matches the thresholds used by the register command.
var DefaultValidate = ValidateOptions{AreaTolerance: 0.1, MaxPerspectiveShift: 0.001}

// Validate rejects transforms that flip orientation, are not invertible,
// scale area outside the tolerance, or carry a strong perspective
// component. Captures of the same scene from the same rig should differ
// by little more than a small shift and rotation.
func (h Homography) Validate(opts ValidateOptions) error {
	det2 := h[0][0]*h[1][1] - h[0][1]*h[1][0]
	if det2 <= 0 {
		return fmt.Errorf("transform flips orientation (2x2 det %.4g)", det2)
	}
	if h.Det() == 0 {
		return fmt.Errorf("transform is not invertible")
	}

	area := h.unitSquareArea()
	if math.Abs(area-1) > opts.AreaTolerance {
		return fmt.Errorf("transform scales area by %.3f, outside tolerance %.2f", area, opts.AreaTolerance)
	}

	if math.Abs(h[2][0]) > opts.MaxPerspectiveShift || math.Abs(h[2][1]) > opts.MaxPerspectiveShift {
		return fmt.Errorf("transform has perspective component (%.2g, %.2g) above %.2g",
			h[2][0], h[2][1], opts.MaxPerspectiveShift)
	}
	return nil
}

// unitSquareArea returns the area of the unit square after mapping its
// corners through the transform (shoelace formula).
func (h Homography) unitSquareArea() float64 {
	corners := [4][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	var xs, ys [4]float64
	for i, c := range corners {
		xs[i], ys[i] = h.Apply(c[0], c[1])
	}
	var area float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		area += xs[i]*ys[j] - xs[j]*ys[i]
	}
	return math.Abs(area) / 2
}
