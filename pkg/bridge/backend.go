package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/mocap"
	"github.com/teslashibe/go-mdp/pkg/protocol"
)

const (
	Type   = "bridge"
	Prefix = "bridge_"

	maxStampSkew = time.Second
)

// Backend forwards actuation to the driver connected under the robot's
// tag and feeds the poses that driver reports into the robot.
type Backend struct {
	backend.Nop

	hub  *Hub
	name string

	mu   sync.Mutex
	body backend.Body

	dropped atomic.Uint64
}

// New returns a backend bound to the driver name on hub.
func New(hub *Hub, name string) *Backend {
	return &Backend{hub: hub, name: name}
}

// Constructor builds bridge backends named after the robot tag.
func Constructor(hub *Hub) backend.Constructor {
	return func(req backend.Request) (backend.Backend, error) {
		if hub == nil {
			return nil, fmt.Errorf("bridge hub not configured")
		}
		return New(hub, req.Tag), nil
	}
}

// Name returns the driver name this backend is bound to.
func (b *Backend) Name() string { return b.name }

// Dropped returns how many driver poses the robot refused.
func (b *Backend) Dropped() uint64 { return b.dropped.Load() }

func (b *Backend) OnInit(body backend.Body) error {
	b.mu.Lock()
	b.body = body
	b.mu.Unlock()
	return b.hub.attach(b.name, b)
}

func (b *Backend) OnDeinit() error {
	b.hub.detach(b.name, b)
	b.mu.Lock()
	b.body = nil
	b.mu.Unlock()
	return nil
}

func (b *Backend) OnSetPosition(target geom.Vector3, yaw, duration float64, relative bool) error {
	return b.send(protocol.NewGoToMessage(target.Array(), yaw, duration, relative))
}

func (b *Backend) OnSetVelocity(vel geom.Vector3, yawRate, duration float64, _ bool) error {
	return b.send(protocol.NewVelocityMessage(vel.Array(), yawRate, duration))
}

func (b *Backend) OnTakeoff(height, duration float64) error {
	return b.send(protocol.NewTakeoffMessage(height, duration))
}

func (b *Backend) OnLand(duration float64) error {
	return b.send(protocol.NewLandMessage(duration))
}

func (b *Backend) OnEmergency() error {
	return b.send(protocol.NewEmergencyMessage())
}

func (b *Backend) Controllable() bool { return true }

func (b *Backend) send(msg *protocol.Message, err error) error {
	if err != nil {
		return err
	}
	if err := b.hub.Send(b.name, msg); err != nil {
		return fmt.Errorf("%w: %v", backend.ErrUnreachable, err)
	}
	return nil
}

func (b *Backend) identity() (uint32, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.body == nil {
		return 0, b.name
	}
	return b.body.ID(), b.body.Name()
}

func (b *Backend) handlePose(p *protocol.PoseData) {
	b.mu.Lock()
	body := b.body
	b.mu.Unlock()
	if body == nil {
		return
	}

	// driver clocks are not synchronized; distrust stamps that are far off
	at := time.Now()
	if p.Stamp > 0 {
		if st := time.UnixMilli(p.Stamp); at.Sub(st).Abs() < maxStampSkew {
			at = st
		}
	}
	ok := body.SubmitPose(mocap.Sample{
		Name:     body.Name(),
		Position: geom.FromArray(p.Position),
		Yaw:      p.Yaw,
		Time:     at,
	})
	if !ok {
		b.dropped.Add(1)
	}
}

var _ backend.Backend = (*Backend)(nil)
