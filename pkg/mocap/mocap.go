// Package mocap turns raw motion-capture samples into pose and velocity
// estimates for a single tracked body.
package mocap

import (
	"time"

	"github.com/teslashibe/go-mdp/pkg/geom"
)

// Sample is one motion-capture measurement of a tracked body.
type Sample struct {
	Name     string       `json:"name,omitempty"`
	Position geom.Vector3 `json:"position"`
	Yaw      float64      `json:"yaw"`
	Time     time.Time    `json:"time"`
}

// Pose returns the sample as a geom.Pose.
func (s Sample) Pose() geom.Pose {
	return geom.Pose{Position: s.Position, Yaw: s.Yaw, Time: s.Time}
}

// History keeps the two most recent samples of a body.
type History struct {
	samples [2]Sample
	n       int
	total   uint64
}

// Push records a sample, evicting the oldest once two are held.
// It reports whether this was the first sample ever seen.
func (h *History) Push(s Sample) (first bool) {
	first = h.total == 0
	h.total++
	if h.n < 2 {
		h.samples[h.n] = s
		h.n++
		return first
	}
	h.samples[0] = h.samples[1]
	h.samples[1] = s
	return first
}

// Len returns how many samples are held (0, 1 or 2).
func (h *History) Len() int { return h.n }

// Total returns how many samples have ever been pushed.
func (h *History) Total() uint64 { return h.total }

// Latest returns the newest sample.
func (h *History) Latest() (Sample, bool) {
	if h.n == 0 {
		return Sample{}, false
	}
	return h.samples[h.n-1], true
}

// Velocity estimates velocity from the two held samples by backward
// finite difference. It returns false with fewer than two samples or when
// the samples share a timestamp.
func (h *History) Velocity() (geom.Velocity, bool) {
	if h.n < 2 {
		return geom.Velocity{}, false
	}
	return Estimate(h.samples[0], h.samples[1])
}

// Estimate computes (newer - older) / dt component-wise, including yaw rate.
func Estimate(older, newer Sample) (geom.Velocity, bool) {
	dt := newer.Time.Sub(older.Time).Seconds()
	if dt <= 0 {
		return geom.Velocity{}, false
	}
	return geom.Velocity{
		Linear:  newer.Position.Sub(older.Position).Scale(1 / dt),
		YawRate: (newer.Yaw - older.Yaw) / dt,
		Time:    newer.Time,
	}, true
}

// Predict extrapolates a pose forward with a velocity to time now.
// Elapsed time is clamped to zero so a pose is never moved backwards.
func Predict(p geom.Pose, v geom.Velocity, now time.Time) geom.Pose {
	dt := now.Sub(p.Time).Seconds()
	if dt < 0 {
		dt = 0
	}
	return geom.Pose{
		Position: p.Position.Add(v.Linear.Scale(dt)),
		Yaw:      p.Yaw + v.YawRate*dt,
		Time:     now,
	}
}
