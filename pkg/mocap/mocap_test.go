package mocap

import (
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-mdp/pkg/geom"
)

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

var t0 = time.Unix(1700000000, 0)

func TestHistoryEviction(t *testing.T) {
	var h History
	if _, ok := h.Latest(); ok {
		t.Fatal("empty history returned a sample")
	}

	if first := h.Push(Sample{Position: geom.Vec(0, 0, 0), Time: t0}); !first {
		t.Error("first push should report first")
	}
	if _, ok := h.Velocity(); ok {
		t.Error("velocity with one sample")
	}
	if first := h.Push(Sample{Position: geom.Vec(1, 0, 0), Time: t0.Add(time.Second)}); first {
		t.Error("second push reported first")
	}
	h.Push(Sample{Position: geom.Vec(3, 0, 0), Time: t0.Add(2 * time.Second)})

	if h.Len() != 2 {
		t.Errorf("Len: got %d, want 2", h.Len())
	}
	if h.Total() != 3 {
		t.Errorf("Total: got %d, want 3", h.Total())
	}
	v, ok := h.Velocity()
	if !ok {
		t.Fatal("no velocity with two samples")
	}
	// uses only the two newest samples
	if !floatEquals(v.Linear.X, 2) {
		t.Errorf("vx: got %v, want 2", v.Linear.X)
	}
}

func TestEstimateLinearMotion(t *testing.T) {
	older := Sample{Position: geom.Vec(0, 0, 1), Yaw: 10, Time: t0}
	newer := Sample{Position: geom.Vec(0.1, -0.05, 1.02), Yaw: 12, Time: t0.Add(100 * time.Millisecond)}

	v, ok := Estimate(older, newer)
	if !ok {
		t.Fatal("Estimate failed")
	}
	if !floatEquals(v.Linear.X, 1.0) || !floatEquals(v.Linear.Y, -0.5) || !floatEquals(v.Linear.Z, 0.2) {
		t.Errorf("linear: got %v, want (1, -0.5, 0.2)", v.Linear)
	}
	if !floatEquals(v.YawRate, 20) {
		t.Errorf("yaw rate: got %v, want 20", v.YawRate)
	}
	if !v.Time.Equal(newer.Time) {
		t.Errorf("time: got %v, want %v", v.Time, newer.Time)
	}
}

func TestEstimateSameTimestamp(t *testing.T) {
	s := Sample{Position: geom.Vec(1, 1, 1), Time: t0}
	if _, ok := Estimate(s, s); ok {
		t.Error("expected failure with zero dt")
	}
}

func TestPredict(t *testing.T) {
	p := geom.Pose{Position: geom.Vec(0, 0, 1), Yaw: 0, Time: t0}
	v := geom.Velocity{Linear: geom.Vec(1, 0, -0.5), YawRate: 90}

	got := Predict(p, v, t0.Add(200*time.Millisecond))
	if !floatEquals(got.Position.X, 0.2) || !floatEquals(got.Position.Z, 0.9) {
		t.Errorf("position: got %v", got.Position)
	}
	if !floatEquals(got.Yaw, 18) {
		t.Errorf("yaw: got %v, want 18", got.Yaw)
	}
}

func TestPredictNeverBackwards(t *testing.T) {
	p := geom.Pose{Position: geom.Vec(0.3, 0.2, 1), Time: t0}
	v := geom.Velocity{Linear: geom.Vec(5, 5, 5)}

	got := Predict(p, v, t0.Add(-time.Second))
	if got.Position != p.Position {
		t.Errorf("position moved for negative elapsed time: %v", got.Position)
	}
}
