package registration

import (
	"math"
	"testing"
)

func TestIdentityIsValid(t *testing.T) {
	if err := Identity().Validate(DefaultValidate); err != nil {
		t.Fatalf("identity rejected: %v", err)
	}
}

func TestApply(t *testing.T) {
	h := Homography{{1, 0, 10}, {0, 1, -5}, {0, 0, 1}}
	x, y := h.Apply(3, 4)
	if x != 13 || y != -1 {
		t.Fatalf("translation wrong: (%f, %f)", x, y)
	}

	// Pure perspective transform: w = 1 + 0.5x.
	p := Homography{{1, 0, 0}, {0, 1, 0}, {0.5, 0, 1}}
	x, y = p.Apply(2, 4)
	if x != 1 || y != 2 {
		t.Fatalf("perspective division wrong: (%f, %f)", x, y)
	}
}

func TestValidateRejectsFlip(t *testing.T) {
	h := Homography{{-1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	if err := h.Validate(DefaultValidate); err == nil {
		t.Fatal("orientation flip should be rejected")
	}
}

func TestValidateRejectsSingular(t *testing.T) {
	h := Homography{{1, 1, 0}, {1, 1, 0}, {0, 0, 1}}
	if err := h.Validate(DefaultValidate); err == nil {
		t.Fatal("singular transform should be rejected")
	}
}

func TestValidateAreaTolerance(t *testing.T) {
	// Scales area by 1.05: inside the 10% tolerance.
	s := math.Sqrt(1.05)
	ok := Homography{{s, 0, 0}, {0, s, 0}, {0, 0, 1}}
	if err := ok.Validate(DefaultValidate); err != nil {
		t.Fatalf("5%% area change should pass: %v", err)
	}

	// Scales area by 1.25: outside the tolerance.
	s = math.Sqrt(1.25)
	bad := Homography{{s, 0, 0}, {0, s, 0}, {0, 0, 1}}
	if err := bad.Validate(DefaultValidate); err == nil {
		t.Fatal("25% area change should be rejected")
	}
}

func TestValidateRejectsPerspective(t *testing.T) {
	h := Identity()
	h[2][0] = 0.002
	if err := h.Validate(DefaultValidate); err == nil {
		t.Fatal("perspective component above threshold should be rejected")
	}
	h[2][0] = 0.0005
	// A small perspective term also shrinks the unit square slightly,
	// still well inside the area tolerance.
	if err := h.Validate(DefaultValidate); err != nil {
		t.Fatalf("small perspective component should pass: %v", err)
	}
}

func TestRotationIsValid(t *testing.T) {
	a := 5 * math.Pi / 180
	h := Homography{
		{math.Cos(a), -math.Sin(a), 12},
		{math.Sin(a), math.Cos(a), -7},
		{0, 0, 1},
	}
	if err := h.Validate(DefaultValidate); err != nil {
		t.Fatalf("small rotation with shift rejected: %v", err)
	}
}
