// Package sim is a kinematic quadrotor simulator. It stands in for real
// hardware: commands steer a point mass whose pose is fed back to the
// supervisor as if it came from motion capture.
package sim

import (
	"math"
	"strings"
	"time"

	"github.com/teslashibe/go-mdp/pkg/geom"
)

// DefaultAcceleration is the velocity change limit in m/s².
const DefaultAcceleration = 2.0

// EmergencyDuration is how long the simulated emergency descent takes.
const EmergencyDuration = 0.5

type mode int

const (
	modeVelocity mode = iota
	modePosition
)

// Model is the simulated vehicle state. It is not safe for concurrent use.
type Model struct {
	Position geom.Vector3
	Velocity geom.Vector3
	Yaw      float64

	accel   float64
	mode    mode
	goal    geom.Vector3
	goalVel geom.Vector3
	yawRate float64
	end     time.Time
	last    time.Time
}

// NewModel places a resting vehicle at spawn.
func NewModel(spawn geom.Vector3, accel float64) *Model {
	if accel <= 0 {
		accel = DefaultAcceleration
	}
	return &Model{Position: spawn, accel: accel}
}

// DefaultSpawn returns the launch pad of the well-known simulator tags.
// Unknown tags start at (-1, 0, 0).
func DefaultSpawn(tag string) geom.Vector3 {
	y := 0.0
	switch strings.ToLower(tag) {
	case "vflie_00":
		y = -1.0
	case "vflie_01":
		y = 1.0
	case "vflie_02":
		y = 0.5
	case "vflie_03":
		y = -0.5
	}
	return geom.Vec(-1.0, y, 0)
}

// GoTo flies to target, arriving around duration seconds from now. A
// relative target is a delta from the current position.
func (m *Model) GoTo(target geom.Vector3, yaw, duration float64, relative bool, now time.Time) {
	if relative {
		target = target.Add(m.Position)
	}
	m.mode = modePosition
	m.goal = target
	m.Yaw = yaw
	m.end = now.Add(geom.Duration(duration))
}

// SetVelocity tracks a velocity until a new command arrives.
func (m *Model) SetVelocity(vel geom.Vector3, yawRate, duration float64, now time.Time) {
	m.mode = modeVelocity
	m.goalVel = vel
	m.yawRate = yawRate
	m.end = now.Add(geom.Duration(duration))
}

func (m *Model) Takeoff(height, duration float64, now time.Time) {
	m.GoTo(geom.Vec(m.Position.X, m.Position.Y, height), m.Yaw, duration, false, now)
}

func (m *Model) Land(duration float64, now time.Time) {
	m.GoTo(geom.Vec(m.Position.X, m.Position.Y, 0), m.Yaw, duration, false, now)
}

// Emergency drops straight down.
func (m *Model) Emergency(now time.Time) {
	m.GoTo(geom.Vec(m.Position.X, m.Position.Y, 0), m.Yaw, EmergencyDuration, false, now)
}

// Step advances the simulation to now. The first call only records the
// time.
func (m *Model) Step(now time.Time) {
	if m.last.IsZero() {
		m.last = now
		return
	}
	dt := now.Sub(m.last).Seconds()
	if dt <= 0 {
		return
	}
	maxChange := m.accel * dt

	var desired geom.Vector3
	switch m.mode {
	case modePosition:
		dir := m.goal.Sub(m.Position)
		manhattan := math.Abs(dir.X) + math.Abs(dir.Y) + math.Abs(dir.Z)
		if manhattan > 0 {
			speed := 0.0
			if left := m.end.Sub(now).Seconds(); left > 0 {
				speed = 3 * dir.Norm() / left
			}
			desired = dir.Scale(speed / manhattan)
		}
	case modeVelocity:
		desired = m.goalVel
		m.Yaw += m.yawRate * dt
	}

	m.Velocity = geom.Vec(
		approach(m.Velocity.X, desired.X, maxChange),
		approach(m.Velocity.Y, desired.Y, maxChange),
		approach(m.Velocity.Z, desired.Z, maxChange),
	)
	m.Position = m.Position.Add(m.Velocity.Scale(dt))
	if m.Position.Z < 0 {
		m.Position.Z = 0
		if m.Velocity.Z < 0 {
			m.Velocity.Z = 0
		}
	}
	m.last = now
}

// Pose returns the current simulated pose stamped with the last step time.
func (m *Model) Pose() geom.Pose {
	return geom.Pose{Position: m.Position, Yaw: m.Yaw, Time: m.last}
}

// approach moves v toward target by at most maxChange.
func approach(v, target, maxChange float64) float64 {
	diff := target - v
	if math.Abs(diff) <= maxChange {
		return target
	}
	return v + math.Copysign(maxChange, diff)
}
