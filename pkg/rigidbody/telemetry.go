package rigidbody

import (
	"time"

	"github.com/teslashibe/go-mdp/pkg/geom"
)

// Snapshot is a consistent copy of a robot's supervisory state, published
// once per tick for readers outside the control loop.
type Snapshot struct {
	ID            uint32        `json:"id"`
	Name          string        `json:"name"`
	Controllable  bool          `json:"controllable"`
	State         State         `json:"state"`
	Pose          geom.Pose     `json:"pose"`
	Velocity      geom.Velocity `json:"velocity"`
	Desired       geom.Pose     `json:"desired"`
	DesiredVel    geom.Velocity `json:"desired_velocity"`
	Home          geom.Vector3  `json:"home"`
	Pending       int           `json:"pending"`
	Deadline      time.Time     `json:"deadline"`
	Samples       uint64        `json:"samples"`
	BackendErrors uint64        `json:"backend_errors"`
	Updated       time.Time     `json:"updated"`
}

// Transition records a state change.
type Transition struct {
	ID     uint32    `json:"id"`
	Name   string    `json:"name"`
	From   State     `json:"from"`
	To     State     `json:"to"`
	Reason string    `json:"reason"`
	Time   time.Time `json:"time"`
}

// Sink receives telemetry from the control loop. Implementations must not
// block: they are called on the control goroutine.
type Sink interface {
	Frame(s Snapshot)
	StateChanged(t Transition)
}

// NopSink discards telemetry.
type NopSink struct{}

func (NopSink) Frame(Snapshot)          {}
func (NopSink) StateChanged(Transition) {}
