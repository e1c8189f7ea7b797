package geom

import (
	"math"
	"testing"
	"time"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestVectorOps(t *testing.T) {
	a := Vec(1, 2, 3)
	b := Vec(0.5, -1, 2)

	if got := a.Add(b); got != Vec(1.5, 1, 5) {
		t.Errorf("Add: got %v", got)
	}
	if got := a.Sub(b); got != Vec(0.5, 3, 1) {
		t.Errorf("Sub: got %v", got)
	}
	if got := a.Scale(2); got != Vec(2, 4, 6) {
		t.Errorf("Scale: got %v", got)
	}
	if got := Vec(3, 4, 0).Norm(); !floatEquals(got, 5) {
		t.Errorf("Norm: got %v, want 5", got)
	}
	if got := FromArray(a.Array()); got != a {
		t.Errorf("Array round trip: got %v", got)
	}
}

func TestAngles(t *testing.T) {
	if got := Radians(180); !floatEquals(got, math.Pi) {
		t.Errorf("Radians(180): got %v", got)
	}
	if got := Degrees(math.Pi / 2); !floatEquals(got, 90) {
		t.Errorf("Degrees(pi/2): got %v", got)
	}
}

func TestClamp(t *testing.T) {
	tests := []struct {
		v, lo, hi, want float64
	}{
		{0.5, 0, 1, 0.5},
		{-1, 0, 1, 0},
		{2, 0, 1, 1},
		{0, 0, 0, 0},
	}
	for _, tt := range tests {
		if got := Clamp(tt.v, tt.lo, tt.hi); got != tt.want {
			t.Errorf("Clamp(%v, %v, %v): got %v, want %v", tt.v, tt.lo, tt.hi, got, tt.want)
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration(1.5); got != 1500*time.Millisecond {
		t.Errorf("Duration(1.5): got %v", got)
	}
	if got := Duration(-2); got != 0 {
		t.Errorf("Duration(-2): got %v, want 0", got)
	}
}
