package scheduler

import (
	"time"

	"github.com/dustin/go-humanize"
)

// Stats is an averaged timing summary of the control loop. UpdateTime
// covers the whole fleet step; PerRobotUpdate is its share per robot.
type Stats struct {
	DesiredHz      float64       `json:"desired_hz"`
	AchievedHz     float64       `json:"achieved_hz"`
	MocapHz        float64       `json:"mocap_hz"`
	UpdateTime     time.Duration `json:"update_time"`
	PerRobotUpdate time.Duration `json:"per_robot_update"`
	WaitTime       time.Duration `json:"wait_time"`
	Ticks          uint64        `json:"ticks"`
	Overruns       uint64        `json:"overruns"`
	Panics         uint64        `json:"panics"`
	Robots         int           `json:"robots"`
	Window         time.Duration `json:"window"`
	At             time.Time     `json:"at"`
}

// Report describes how the control loop ended.
type Report struct {
	Outcome  string        `json:"outcome"`
	Robots   int           `json:"robots"`
	Landed   int           `json:"landed"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Shutdown outcomes.
const (
	OutcomeClean       = "clean"
	OutcomeTimeout     = "timeout"
	OutcomeInterrupted = "interrupted"
)

// Recorder receives timing summaries and the final shutdown report.
// Calls happen on the control goroutine and must not block.
type Recorder interface {
	Summary(s Stats)
	Shutdown(r Report)
}

type nopRecorder struct{}

func (nopRecorder) Summary(Stats)   {}
func (nopRecorder) Shutdown(Report) {}

// window accumulates per-tick timings between summaries. Owned by the
// control goroutine.
type window struct {
	start    time.Time
	ticks    uint64
	overruns uint64
	busy     time.Duration
	wait     time.Duration
	samples  uint64
}

func (w *window) reset(now time.Time, samples uint64) {
	*w = window{start: now, samples: samples}
}

func (w *window) add(busy, wait time.Duration, overrun bool) {
	w.ticks++
	w.busy += busy
	w.wait += wait
	if overrun {
		w.overruns++
	}
}

// summarize averages the window. samples is the fleet-wide sample count
// at the end of the window.
func (w *window) summarize(now time.Time, desiredHz float64, samples uint64, robots int) Stats {
	s := Stats{
		DesiredHz: desiredHz,
		Ticks:     w.ticks,
		Overruns:  w.overruns,
		Robots:    robots,
		Window:    now.Sub(w.start),
		At:        now,
	}
	if w.ticks > 0 {
		s.UpdateTime = w.busy / time.Duration(w.ticks)
		s.WaitTime = w.wait / time.Duration(w.ticks)
		if robots > 0 {
			s.PerRobotUpdate = s.UpdateTime / time.Duration(robots)
		}
	}
	if secs := s.Window.Seconds(); secs > 0 {
		s.AchievedHz = float64(w.ticks) / secs
		if robots > 0 && samples >= w.samples {
			s.MocapHz = float64(samples-w.samples) / secs / float64(robots)
		}
	}
	return s
}

// logArgs formats a summary for the log.
func (s Stats) logArgs() []any {
	return []any{
		"desired", humanize.SIWithDigits(s.DesiredHz, 2, "Hz"),
		"actual", humanize.SIWithDigits(s.AchievedHz, 2, "Hz"),
		"mocap", humanize.SIWithDigits(s.MocapHz, 2, "Hz"),
		"update_s", s.UpdateTime.Seconds(),
		"per_robot_s", s.PerRobotUpdate.Seconds(),
		"wait_s", s.WaitTime.Seconds(),
		"ticks", humanize.Comma(int64(s.Ticks)),
		"overruns", s.Overruns,
		"robots", s.Robots,
	}
}
