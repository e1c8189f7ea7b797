package sim

import (
	"time"

	"github.com/teslashibe/go-mdp/internal/clock"
	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/mocap"
)

// Type and Prefix register the simulator with a backend.Factory.
const (
	Type   = "sim"
	Prefix = "vflie_"
)

// Backend drives a Model from supervisor callbacks and reports the model
// pose back through the rigid body's pose mailbox.
type Backend struct {
	model *Model
	clock clock.Clock
	body  backend.Body
}

var _ backend.Backend = (*Backend)(nil)

// New creates a simulated robot resting at spawn.
func New(spawn geom.Vector3, accel float64, clk clock.Clock) *Backend {
	if clk == nil {
		clk = clock.Real()
	}
	return &Backend{model: NewModel(spawn, accel), clock: clk}
}

// Constructor returns a factory constructor. A zero spawn in the request
// selects DefaultSpawn for the tag.
func Constructor(accel float64, clk clock.Clock) backend.Constructor {
	return func(req backend.Request) (backend.Backend, error) {
		spawn := req.Spawn
		if spawn == (geom.Vector3{}) {
			spawn = DefaultSpawn(req.Tag)
		}
		return New(spawn, accel, clk), nil
	}
}

// Model exposes the simulated state for inspection.
func (b *Backend) Model() *Model { return b.model }

func (b *Backend) OnInit(body backend.Body) error {
	b.body = body
	b.report(b.clock.Now())
	return nil
}

func (b *Backend) OnDeinit() error {
	b.body = nil
	return nil
}

func (b *Backend) OnMotionCapture(mocap.Sample) error { return nil }

func (b *Backend) OnUpdate(now time.Time) error {
	b.model.Step(now)
	b.report(now)
	return nil
}

func (b *Backend) OnSetPosition(target geom.Vector3, yaw, duration float64, relative bool) error {
	b.model.GoTo(target, yaw, duration, relative, b.clock.Now())
	return nil
}

func (b *Backend) OnSetVelocity(vel geom.Vector3, yawRate, duration float64, _ bool) error {
	b.model.SetVelocity(vel, yawRate, duration, b.clock.Now())
	return nil
}

func (b *Backend) OnTakeoff(height, duration float64) error {
	b.model.Takeoff(height, duration, b.clock.Now())
	return nil
}

func (b *Backend) OnLand(duration float64) error {
	b.model.Land(duration, b.clock.Now())
	return nil
}

func (b *Backend) OnEmergency() error {
	b.model.Emergency(b.clock.Now())
	return nil
}

func (b *Backend) Controllable() bool { return true }

func (b *Backend) report(now time.Time) {
	if b.body == nil {
		return
	}
	p := b.model.Pose()
	b.body.SubmitPose(mocap.Sample{
		Name:     b.body.Name(),
		Position: p.Position,
		Yaw:      p.Yaw,
		Time:     now,
	})
}
