// Package backend defines the capability interface every robot driver
// implements, and a factory that picks a driver for a tag.
//
// The interfaces are deliberately small so consumers depend only on what
// they call. Backend is the composite the rigid body supervisor uses.
package backend

import (
	"time"

	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/mocap"
)

// Body is the view of a supervised robot handed to its backend on init.
// Simulated and bridged drivers use SubmitPose to report measured poses.
type Body interface {
	ID() uint32
	Name() string
	SubmitPose(s mocap.Sample) bool
}

// Lifecycle is called once when a robot is added and once when removed.
type Lifecycle interface {
	OnInit(body Body) error
	OnDeinit() error
}

// MotionCaptureHandler receives every ingested pose sample.
type MotionCaptureHandler interface {
	OnMotionCapture(s mocap.Sample) error
}

// Updater is called once per control tick.
type Updater interface {
	OnUpdate(now time.Time) error
}

// MotionController receives resolved motion targets. When relative is
// set, target is a delta from the current position.
type MotionController interface {
	OnSetPosition(target geom.Vector3, yaw, duration float64, relative bool) error
	OnSetVelocity(vel geom.Vector3, yawRate, duration float64, relative bool) error
}

// FlightController receives flight-phase transitions.
type FlightController interface {
	OnTakeoff(height, duration float64) error
	OnLand(duration float64) error
	OnEmergency() error
}

// Backend is the composite capability interface for a robot driver.
type Backend interface {
	Lifecycle
	MotionCaptureHandler
	Updater
	MotionController
	FlightController

	// Controllable reports whether the robot accepts motion commands.
	// Passive tracked objects return false.
	Controllable() bool
}

// Nop implements Backend with no-op methods. Drivers embed it and
// override what they support.
type Nop struct{}

func (Nop) OnInit(Body) error                                        { return nil }
func (Nop) OnDeinit() error                                          { return nil }
func (Nop) OnMotionCapture(mocap.Sample) error                       { return nil }
func (Nop) OnUpdate(time.Time) error                                 { return nil }
func (Nop) OnSetPosition(geom.Vector3, float64, float64, bool) error { return nil }
func (Nop) OnSetVelocity(geom.Vector3, float64, float64, bool) error { return nil }
func (Nop) OnTakeoff(float64, float64) error                         { return nil }
func (Nop) OnLand(float64) error                                     { return nil }
func (Nop) OnEmergency() error                                       { return nil }
func (Nop) Controllable() bool                                       { return true }

var _ Backend = Nop{}
