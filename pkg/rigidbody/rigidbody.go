// Package rigidbody supervises a single tracked robot: it ingests pose
// samples, applies queued motion commands through the robot's backend, and
// falls back to hover and then landing when commands run out.
//
// A RigidBody is driven by exactly one control goroutine through Drain and
// Update. Other goroutines interact with it only through its mailboxes
// (SubmitPose, Submit, TriggerEmergency) and read it through Snapshot.
package rigidbody

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-mdp/internal/clock"
	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/command"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/mocap"
	"github.com/teslashibe/go-mdp/pkg/safety"
)

var (
	ErrClosed          = errors.New("rigid body removed")
	ErrMailboxFull     = errors.New("command mailbox full")
	ErrNotControllable = errors.New("rigid body is not controllable")
)

// RigidBody is one supervised robot.
type RigidBody struct {
	id           uint32
	name         string
	backend      backend.Backend
	controllable bool
	clock        clock.Clock
	settings     Settings
	sink         Sink
	log          *slog.Logger

	poses     chan mocap.Sample
	commands  chan command.Command
	emergency atomic.Bool
	closed    atomic.Bool
	snap      atomic.Pointer[Snapshot]
	samples   atomic.Uint64
	failures  atomic.Uint64

	// Owned by the control goroutine.
	state      State
	history    mocap.History
	pose       geom.Pose
	velocity   geom.Velocity
	lastSample time.Time
	desired    geom.Pose
	desiredVel geom.Velocity
	home       geom.Vector3
	homeSet    bool
	queue      command.Queue
	deadline   time.Time
}

// New creates a rigid body in the LANDED state with the initial timeout
// armed. The backend is not initialized until Init is called.
func New(id uint32, name string, b backend.Backend, opts ...Option) *RigidBody {
	r := &RigidBody{
		id:           id,
		name:         name,
		backend:      b,
		controllable: b.Controllable(),
		clock:        clock.Real(),
		settings:     DefaultSettings(),
		sink:         NopSink{},
		state:        Landed,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = log.Component("rigidbody")
	}
	r.log = r.log.With("robot", name, "id", id)

	size := r.settings.MailboxSize
	if size <= 0 {
		size = DefaultSettings().MailboxSize
	}
	r.poses = make(chan mocap.Sample, size)
	r.commands = make(chan command.Command, size)

	now := r.clock.Now()
	r.resetTimeout(now, r.settings.InitialTimeout)
	r.publish(now)
	return r
}

func (r *RigidBody) ID() uint32         { return r.id }
func (r *RigidBody) Name() string       { return r.name }
func (r *RigidBody) Controllable() bool { return r.controllable }

// Backend returns the driver behind this robot.
func (r *RigidBody) Backend() backend.Backend { return r.backend }

// Init hands the body to its backend.
func (r *RigidBody) Init() error {
	if err := r.backend.OnInit(r); err != nil {
		return fmt.Errorf("init %s: %w", r.name, err)
	}
	r.log.Info("rigid body ready", "controllable", r.controllable)
	return nil
}

// Close stops ingestion and deinitializes the backend. Calling Close more
// than once is a no-op.
func (r *RigidBody) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	r.drainDiscard()
	if err := r.backend.OnDeinit(); err != nil {
		r.log.Error("backend deinit failed", "error", err)
		return fmt.Errorf("deinit %s: %w", r.name, err)
	}
	r.log.Info("rigid body removed")
	return nil
}

// Closed reports whether Close has been called.
func (r *RigidBody) Closed() bool { return r.closed.Load() }

// SubmitPose queues a motion-capture sample. When the mailbox is full the
// oldest sample is dropped. It returns false once the body is closed.
func (r *RigidBody) SubmitPose(s mocap.Sample) bool {
	if r.closed.Load() {
		return false
	}
	for attempt := 0; attempt < 2; attempt++ {
		select {
		case r.poses <- s:
			return true
		default:
		}
		select {
		case <-r.poses:
		default:
		}
	}
	return false
}

// Submit queues a command for the next tick. EMERGENCY skips the mailbox
// and is observed at the start of the next tick.
func (r *RigidBody) Submit(c command.Command) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if !r.controllable {
		return ErrNotControllable
	}
	if c.Kind == command.KindEmergency {
		r.TriggerEmergency()
		return nil
	}
	select {
	case r.commands <- c:
		return nil
	default:
		return ErrMailboxFull
	}
}

// TriggerEmergency flags the robot for an emergency stop on the next tick.
func (r *RigidBody) TriggerEmergency() {
	if r.controllable && !r.closed.Load() {
		r.emergency.Store(true)
	}
}

// Snapshot returns the state published at the end of the last tick.
func (r *RigidBody) Snapshot() Snapshot {
	return *r.snap.Load()
}

// State returns the current state. Control goroutine only.
func (r *RigidBody) State() State { return r.state }

// Pending returns the queued commands. Control goroutine only.
func (r *RigidBody) Pending() []command.Command { return r.queue.Snapshot() }

// Drain empties the mailboxes. Poses are always ingested; commands are
// installed only when accepting is true and are otherwise discarded. A
// pending emergency is applied after the poses and before any command.
func (r *RigidBody) Drain(accepting bool) {
	if r.closed.Load() {
		return
	}
	now := r.clock.Now()

	for {
		select {
		case s := <-r.poses:
			r.ingest(now, s)
			continue
		default:
		}
		break
	}

	if r.emergency.Swap(false) {
		r.applyEmergency(now, "emergency requested")
	}

	for {
		select {
		case c := <-r.commands:
			if !accepting {
				r.log.Debug("command discarded, not accepting", "kind", c.Kind)
				continue
			}
			c = c.WithDefaults()
			r.log.Info("received command", "kind", c.Kind, "cmd", c.String())
			// an external command replaces whatever was pending
			r.queue.Submit(c)
			continue
		default:
		}
		break
	}
}

// Update runs one supervisory step: timeout check, at most one command
// from the queue, backend update, telemetry.
func (r *RigidBody) Update() {
	if r.closed.Load() {
		return
	}
	now := r.clock.Now()

	if r.controllable {
		if !now.Before(r.deadline) {
			r.onTimeout(now)
		}
		r.dequeue(now)
	}

	r.call("OnUpdate", r.backend.OnUpdate(now))
	r.publish(now)
}

// Land clears the queue and lands the robot unless it is already down.
// Used at shutdown. Control goroutine only.
func (r *RigidBody) Land(duration float64, reason string) {
	if !r.controllable {
		return
	}
	r.queue.Clear()
	if r.state == Landed {
		return
	}
	r.land(r.clock.Now(), duration, reason)
}

func (r *RigidBody) ingest(now time.Time, s mocap.Sample) {
	if s.Time.IsZero() {
		s.Time = now
	}
	if first := r.history.Push(s); first && !r.homeSet {
		r.home = s.Position
		r.log.Info("home position seeded", "home", r.home.String())
	}
	if v, ok := r.history.Velocity(); ok {
		r.velocity = v
	}
	r.pose = s.Pose()
	r.lastSample = now
	r.samples.Add(1)
	r.call("OnMotionCapture", r.backend.OnMotionCapture(s))
}

// predicted extrapolates the last pose to now using the estimated velocity.
func (r *RigidBody) predicted(now time.Time) geom.Pose {
	p := r.pose
	p.Time = r.lastSample
	if p.Time.IsZero() {
		p.Time = now
	}
	return mocap.Predict(p, r.velocity, now)
}

func (r *RigidBody) onTimeout(now time.Time) {
	switch r.state {
	case Landing, Landed:
		r.setState(now, Landed, "timeout")
		r.resetTimeout(now, r.settings.LandedTimeout)
	case Emergency:
		r.resetTimeout(now, r.settings.LandedTimeout)
	case Idle:
		r.log.Warn("hover timed out, landing")
		r.land(now, command.DefaultLandDuration, "hover timeout")
	default:
		r.log.Info("command timed out, hovering", "state", r.state)
		r.hover(now, r.settings.HoverTimeout.Seconds(), "timeout")
	}
}

func (r *RigidBody) dequeue(now time.Time) {
	c, ok := r.queue.Peek()
	if !ok {
		return
	}
	// follow-ups wait until the previous motion has settled into hover
	if c.Deferred && r.state != Idle {
		return
	}
	r.queue.Pop()
	r.apply(now, c)
}

func (r *RigidBody) allowed(k command.Kind) bool {
	switch k {
	case command.KindTakeoff:
		return r.state == Landed || r.state == Emergency
	case command.KindLand:
		return r.state != Landed
	case command.KindPosition, command.KindVelocity, command.KindGoToHome:
		return r.state.Airborne()
	}
	return true
}

func (r *RigidBody) apply(now time.Time, c command.Command) {
	if !r.allowed(c.Kind) {
		r.log.Warn("command ignored in current state", "kind", c.Kind, "state", r.state)
		return
	}

	switch c.Kind {
	case command.KindVelocity:
		r.setVelocity(now, c)
		r.setState(now, Moving, c.Kind.String())
	case command.KindPosition:
		r.setPosition(now, c.PosVel, c.Yaw, c.Duration, c.RelativeXY, c.RelativeZ)
		r.setState(now, Moving, c.Kind.String())
	case command.KindTakeoff:
		r.takeoff(now, c.PosVel.Z, c.Duration)
	case command.KindLand:
		r.land(now, c.Duration, c.Kind.String())
	case command.KindHover:
		r.hover(now, c.Duration, c.Kind.String())
	case command.KindEmergency:
		r.applyEmergency(now, c.Kind.String())
	case command.KindSetHome:
		r.setHome(c.PosVel, c.RelativeXY)
	case command.KindGoToHome:
		r.goHome(now, c)
	default:
		r.log.Error("invalid command", "kind", c.Kind)
	}
}

// setPosition resolves a target against the predicted position, clamps it
// into the safety box and forwards it to the backend.
func (r *RigidBody) setPosition(now time.Time, target geom.Vector3, yaw, duration float64, relXY, relZ bool) {
	cur := r.predicted(now).Position
	resolved := r.settings.Box.Resolve(target, cur, relXY, relZ)

	r.desired = geom.Pose{Position: safety.Absolute(resolved, cur, relXY), Yaw: yaw, Time: now}
	r.desiredVel = geom.Velocity{Time: now}
	r.log.Debug("desired position", "target", r.desired.Position.String(), "duration", duration)

	r.call("OnSetPosition", r.backend.OnSetPosition(resolved, yaw, duration, relXY))
	r.resetTimeout(now, geom.Duration(duration))
}

func (r *RigidBody) setVelocity(now time.Time, c command.Command) {
	r.desiredVel = geom.Velocity{Linear: c.PosVel, YawRate: c.Yaw, Time: now}
	r.call("OnSetVelocity", r.backend.OnSetVelocity(c.PosVel, c.Yaw, c.Duration, c.RelativeXY))
	r.resetTimeout(now, c.Timeout())
}

func (r *RigidBody) takeoff(now time.Time, height, duration float64) {
	r.setState(now, TakingOff, "takeoff")
	cur := r.predicted(now).Position
	r.desired = geom.Pose{Position: geom.Vec(cur.X, cur.Y, height), Yaw: r.pose.Yaw, Time: now}
	r.desiredVel = geom.Velocity{Time: now}
	r.call("OnTakeoff", r.backend.OnTakeoff(height, duration))
	r.resetTimeout(now, geom.Duration(duration))
}

func (r *RigidBody) land(now time.Time, duration float64, reason string) {
	if duration <= 0 {
		duration = command.DefaultLandDuration
	}
	r.setState(now, Landing, reason)
	cur := r.predicted(now).Position
	r.desired = geom.Pose{Position: geom.Vec(cur.X, cur.Y, 0), Yaw: r.pose.Yaw, Time: now}
	r.desiredVel = geom.Velocity{Time: now}
	r.call("OnLand", r.backend.OnLand(duration))
	r.resetTimeout(now, geom.Duration(duration))
}

// hover holds the predicted position for duration seconds. Height is a
// zero delta on the predicted altitude.
func (r *RigidBody) hover(now time.Time, duration float64, reason string) {
	if duration <= 0 {
		duration = command.DefaultHoverDuration
	}
	r.setState(now, Hover, reason)
	p := r.predicted(now).Position
	r.setPosition(now, geom.Vec(p.X, p.Y, 0), r.pose.Yaw, duration, false, true)
}

func (r *RigidBody) applyEmergency(now time.Time, reason string) {
	r.queue.Clear()
	r.setState(now, Emergency, reason)
	r.desiredVel = geom.Velocity{Time: now}
	r.call("OnEmergency", r.backend.OnEmergency())
	r.resetTimeout(now, r.settings.LandedTimeout)
}

func (r *RigidBody) setHome(pos geom.Vector3, relative bool) {
	if relative {
		r.home = geom.Vec(r.pose.Position.X+pos.X, r.pose.Position.Y+pos.Y, 0)
	} else {
		r.home = geom.Vec(pos.X, pos.Y, 0)
	}
	r.homeSet = true
	r.log.Info("home position set", "home", r.home.String())
}

// goHome flies to home. With a positive height it flies there at that
// height and stays; otherwise it keeps its altitude and lands once the
// move has settled.
func (r *RigidBody) goHome(now time.Time, c command.Command) {
	height := c.PosVel.Z
	if height > 0 {
		r.setPosition(now, geom.Vec(r.home.X, r.home.Y, height), c.Yaw, c.Duration, false, false)
	} else {
		r.setPosition(now, geom.Vec(r.home.X, r.home.Y, 0), c.Yaw, c.Duration, false, true)
	}
	r.setState(now, Moving, c.Kind.String())

	if height <= 0 {
		land := command.Land(r.id, command.DefaultLandDuration)
		land.Deferred = true
		r.queue.Append(land)
	}
}

func (r *RigidBody) resetTimeout(now time.Time, d time.Duration) {
	d -= r.settings.TimeoutMargin
	if d < 0 {
		d = 0
	}
	r.deadline = now.Add(d)
}

func (r *RigidBody) setState(now time.Time, to State, reason string) {
	if r.state == to {
		return
	}
	from := r.state
	r.state = to
	r.log.Info("state change", "from", from, "to", to, "reason", reason)
	r.sink.StateChanged(Transition{ID: r.id, Name: r.name, From: from, To: to, Reason: reason, Time: now})
}

// call logs a failed backend call. Failures never change supervisory state.
func (r *RigidBody) call(op string, err error) {
	if err == nil {
		return
	}
	r.failures.Add(1)
	r.log.Error("backend call failed", "op", op, "result", backend.Classify(err).String(), "error", err)
}

func (r *RigidBody) publish(now time.Time) {
	s := &Snapshot{
		ID:            r.id,
		Name:          r.name,
		Controllable:  r.controllable,
		State:         r.state,
		Pose:          r.pose,
		Velocity:      r.velocity,
		Desired:       r.desired,
		DesiredVel:    r.desiredVel,
		Home:          r.home,
		Pending:       r.queue.Len(),
		Deadline:      r.deadline,
		Samples:       r.samples.Load(),
		BackendErrors: r.failures.Load(),
		Updated:       now,
	}
	r.snap.Store(s)
	r.sink.Frame(*s)
}

func (r *RigidBody) drainDiscard() {
	for {
		select {
		case <-r.poses:
		case <-r.commands:
		default:
			return
		}
	}
}

var _ backend.Body = (*RigidBody)(nil)
