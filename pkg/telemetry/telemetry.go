// Package telemetry carries what the control loop reports (per-tick robot
// frames, state transitions, timing summaries and the shutdown report) to
// dashboards, the message bus, the flight log and the parameter store.
//
// Every sink is called on the control goroutine. Sinks that do I/O are
// wrapped in Async so the loop never waits on them.
package telemetry

import (
	"time"

	"github.com/teslashibe/go-mdp/pkg/fleet"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
	"github.com/teslashibe/go-mdp/pkg/scheduler"
)

// Sink receives everything the control loop reports.
type Sink interface {
	rigidbody.Sink
	scheduler.Recorder
}

// Kind names an event on the wire.
type Kind string

const (
	KindFrame      Kind = "frame"
	KindTransition Kind = "transition"
	KindSummary    Kind = "summary"
	KindShutdown   Kind = "shutdown"
	KindAdded      Kind = "added"
	KindRemoved    Kind = "removed"
)

// Event is the envelope published to dashboards and the bus.
type Event struct {
	Kind Kind      `json:"kind" cbor:"kind"`
	Time time.Time `json:"time" cbor:"time"`
	Data any       `json:"data" cbor:"data"`
}

// Base implements Sink and fleet.Observer with no-ops. Sinks embed it and
// override what they handle.
type Base struct{}

func (Base) Frame(rigidbody.Snapshot)          {}
func (Base) StateChanged(rigidbody.Transition) {}
func (Base) Summary(scheduler.Stats)           {}
func (Base) Shutdown(scheduler.Report)         {}
func (Base) Added(fleet.RobotID, string)       {}
func (Base) Removed(fleet.RobotID)             {}

// Fanout delivers every call to each sink in order. Sinks that also
// implement fleet.Observer receive registry changes.
type Fanout []Sink

func (f Fanout) Frame(s rigidbody.Snapshot) {
	for _, sink := range f {
		sink.Frame(s)
	}
}

func (f Fanout) StateChanged(t rigidbody.Transition) {
	for _, sink := range f {
		sink.StateChanged(t)
	}
}

func (f Fanout) Summary(s scheduler.Stats) {
	for _, sink := range f {
		sink.Summary(s)
	}
}

func (f Fanout) Shutdown(r scheduler.Report) {
	for _, sink := range f {
		sink.Shutdown(r)
	}
}

func (f Fanout) Added(id fleet.RobotID, typ string) {
	for _, sink := range f {
		if o, ok := sink.(fleet.Observer); ok {
			o.Added(id, typ)
		}
	}
}

func (f Fanout) Removed(id fleet.RobotID) {
	for _, sink := range f {
		if o, ok := sink.(fleet.Observer); ok {
			o.Removed(id)
		}
	}
}

// limiter passes at most one frame per robot per interval, measured on
// the snapshot's own clock.
type limiter struct {
	interval time.Duration
	last     map[uint32]time.Time
}

func newLimiter(hz float64) *limiter {
	l := &limiter{last: make(map[uint32]time.Time)}
	if hz > 0 {
		l.interval = time.Duration(float64(time.Second) / hz)
	}
	return l
}

func (l *limiter) allow(id uint32, at time.Time) bool {
	if l.interval <= 0 {
		return true
	}
	if last, ok := l.last[id]; ok && at.Sub(last) < l.interval {
		return false
	}
	l.last[id] = at
	return true
}

func (l *limiter) forget(id uint32) {
	delete(l.last, id)
}

var (
	_ Sink           = Base{}
	_ fleet.Observer = Base{}
	_ Sink           = Fanout(nil)
	_ fleet.Observer = Fanout(nil)
)
