package rigidbody

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-mdp/internal/clock"
	ilog "github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/backend/backendtest"
	"github.com/teslashibe/go-mdp/pkg/command"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/mocap"
)

const floatTolerance = 1e-9

func floatEquals(a, b float64) bool {
	return math.Abs(a-b) < floatTolerance
}

func vecEquals(a, b geom.Vector3) bool {
	return floatEquals(a.X, b.X) && floatEquals(a.Y, b.Y) && floatEquals(a.Z, b.Z)
}

// recordingSink collects telemetry for assertions.
type recordingSink struct {
	mu          sync.Mutex
	frames      int
	transitions []Transition
}

func (s *recordingSink) Frame(Snapshot) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *recordingSink) StateChanged(t Transition) {
	s.mu.Lock()
	s.transitions = append(s.transitions, t)
	s.mu.Unlock()
}

func (s *recordingSink) states() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]State, len(s.transitions))
	for i, t := range s.transitions {
		out[i] = t.To
	}
	return out
}

type fixture struct {
	rb   *RigidBody
	rec  *backendtest.Recorder
	clk  *clock.Fake
	sink *recordingSink
}

func newFixture(t *testing.T, b *backendtest.Recorder) *fixture {
	t.Helper()
	if b == nil {
		b = backendtest.New()
	}
	clk := clock.NewFake(time.Unix(1700000000, 0))
	sink := &recordingSink{}
	rb := New(0, "vflie_00", b, WithClock(clk), WithSink(sink), WithLogger(ilog.Discard()))
	if err := rb.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return &fixture{rb: rb, rec: b, clk: clk, sink: sink}
}

// tick runs one control step.
func (f *fixture) tick() {
	f.rb.Drain(true)
	f.rb.Update()
}

func (f *fixture) pose(p geom.Vector3) {
	f.rb.SubmitPose(mocap.Sample{Position: p, Time: f.clk.Now()})
}

func (f *fixture) send(t *testing.T, c command.Command) {
	t.Helper()
	if err := f.rb.Submit(c); err != nil {
		t.Fatalf("Submit(%v): %v", c.Kind, err)
	}
}

func (f *fixture) takeoff(t *testing.T) {
	t.Helper()
	f.send(t, command.Takeoff(0, 1.0, 2.0))
	f.tick()
	if f.rb.State() != TakingOff {
		t.Fatalf("state after takeoff: got %v, want TAKING_OFF", f.rb.State())
	}
}

func TestNewIsLandedWithInitialTimeout(t *testing.T) {
	f := newFixture(t, nil)

	snap := f.rb.Snapshot()
	if snap.State != Landed {
		t.Errorf("State: got %v, want LANDED", snap.State)
	}
	want := f.clk.Now().Add(1000*time.Second - 200*time.Millisecond)
	if !snap.Deadline.Equal(want) {
		t.Errorf("Deadline: got %v, want %v", snap.Deadline, want)
	}
	if f.rec.Count("OnInit") != 1 {
		t.Errorf("OnInit calls: got %d, want 1", f.rec.Count("OnInit"))
	}
	if f.rec.Body() == nil || f.rec.Body().Name() != "vflie_00" {
		t.Error("backend did not receive the body")
	}
}

func TestTimeoutEscalation(t *testing.T) {
	f := newFixture(t, nil)
	f.pose(geom.Vec(0.1, 0.2, 0.5))
	f.takeoff(t)

	if c, _ := f.rec.Last("OnTakeoff"); c.Height != 1.0 || c.Duration != 2.0 {
		t.Errorf("OnTakeoff: got height=%v dur=%v", c.Height, c.Duration)
	}

	// takeoff duration minus margin
	f.clk.Advance(1800 * time.Millisecond)
	f.tick()
	if f.rb.State() != Hover {
		t.Fatalf("after takeoff timeout: got %v, want HOVER", f.rb.State())
	}
	hover, ok := f.rec.Last("OnSetPosition")
	if !ok {
		t.Fatal("hover did not set a position")
	}
	if !vecEquals(hover.Target, geom.Vec(0.1, 0.2, 0.5)) || hover.Relative {
		t.Errorf("hover target: got %v rel=%v", hover.Target, hover.Relative)
	}
	if hover.Duration != 4.0 {
		t.Errorf("hover duration: got %v, want 4", hover.Duration)
	}

	// hover timeout lands
	f.clk.Advance(3800 * time.Millisecond)
	f.tick()
	if f.rb.State() != Landing {
		t.Fatalf("after hover timeout: got %v, want LANDING", f.rb.State())
	}

	f.clk.Advance(1800 * time.Millisecond)
	f.tick()
	if f.rb.State() != Landed {
		t.Fatalf("after landing timeout: got %v, want LANDED", f.rb.State())
	}
	want := f.clk.Now().Add(100*time.Second - 200*time.Millisecond)
	if d := f.rb.Snapshot().Deadline; !d.Equal(want) {
		t.Errorf("landed deadline: got %v, want %v", d, want)
	}

	got := f.sink.states()
	seq := []State{TakingOff, Hover, Landing, Landed}
	if len(got) != len(seq) {
		t.Fatalf("transitions: got %v, want %v", got, seq)
	}
	for i := range seq {
		if got[i] != seq[i] {
			t.Errorf("transition %d: got %v, want %v", i, got[i], seq[i])
		}
	}
}

func TestHoverHoldsPredictedAltitude(t *testing.T) {
	f := newFixture(t, nil)
	f.pose(geom.Vec(0.1, 0.2, 0.5))
	f.clk.Advance(time.Second)
	f.pose(geom.Vec(0.1, 0.2, 0.6))
	f.takeoff(t)

	// climbing at 0.1 m/s when the takeoff times out
	f.clk.Advance(1800 * time.Millisecond)
	f.tick()
	if f.rb.State() != Hover {
		t.Fatalf("state: got %v, want HOVER", f.rb.State())
	}
	hover, _ := f.rec.Last("OnSetPosition")
	if !vecEquals(hover.Target, geom.Vec(0.1, 0.2, 0.78)) || hover.Relative {
		t.Errorf("hover target: got %v rel=%v, want (0.1, 0.2, 0.78) absolute", hover.Target, hover.Relative)
	}
	if d := f.rb.Snapshot().Desired.Position; !floatEquals(d.Z, 0.78) {
		t.Errorf("desired z: got %v, want 0.78", d.Z)
	}
}

func TestNoTimeoutBeforeDeadline(t *testing.T) {
	f := newFixture(t, nil)
	f.takeoff(t)

	f.clk.Advance(1799 * time.Millisecond)
	f.tick()
	if f.rb.State() != TakingOff {
		t.Errorf("state changed before deadline: %v", f.rb.State())
	}
}

func TestTimeoutMargin(t *testing.T) {
	tests := []struct {
		duration float64
		want     time.Duration
	}{
		{0, 0},
		{0.1, 0},
		{0.2, 0},
		{0.21, 10 * time.Millisecond},
		{2, 1800 * time.Millisecond},
	}

	for _, tt := range tests {
		f := newFixture(t, nil)
		f.pose(geom.Vec(0, 0, 1))
		f.takeoff(t)

		f.send(t, command.Position(0, geom.Vec(0.2, 0, 1), 0, tt.duration, false, false))
		f.tick()
		if f.rb.State() != Moving {
			t.Fatalf("duration %v: state %v, want MOVING", tt.duration, f.rb.State())
		}
		want := f.clk.Now().Add(tt.want)
		if d := f.rb.Snapshot().Deadline; !d.Equal(want) {
			t.Errorf("duration %v: deadline %v, want %v", tt.duration, d, want)
		}

		// an elapsed deadline fires on the very next tick
		if tt.want == 0 {
			f.tick()
			if f.rb.State() != Hover {
				t.Errorf("duration %v: state after next tick %v, want HOVER", tt.duration, f.rb.State())
			}
		}
	}
}

func TestSubmitOverwritesPending(t *testing.T) {
	f := newFixture(t, nil)
	f.takeoff(t)

	f.send(t, command.Velocity(0, geom.Vec(0.2, 0, 0), 0, 3, false, false))
	f.send(t, command.Position(0, geom.Vec(0.5, 0, 1), 0, 3, false, false))
	f.rb.Drain(true)

	pending := f.rb.Pending()
	if len(pending) != 1 || pending[0].Kind != command.KindPosition {
		t.Fatalf("pending: got %v, want only POSITION", pending)
	}
	if !vecEquals(pending[0].PosVel, geom.Vec(0.5, 0, 1)) {
		t.Errorf("pending target: got %v", pending[0].PosVel)
	}
}

func TestOneCommandPerTick(t *testing.T) {
	f := newFixture(t, nil)
	f.takeoff(t)
	f.rec.Reset()

	f.send(t, command.GoToHome(0, 3, 0))
	f.tick()
	if f.rb.State() != Moving {
		t.Fatalf("state: got %v, want MOVING", f.rb.State())
	}
	if n := len(f.rb.Pending()); n != 1 {
		t.Fatalf("pending after GOTO_HOME: got %d, want 1", n)
	}
	if f.rec.Count("OnLand") != 0 {
		t.Error("land applied in the same tick as the move")
	}
}

func TestGoToHomeLandsAfterArriving(t *testing.T) {
	f := newFixture(t, nil)
	f.pose(geom.Vec(0.3, -0.2, 0))
	f.tick()
	f.takeoff(t)

	f.pose(geom.Vec(0.3, -0.2, 1.0))
	f.tick()
	f.pose(geom.Vec(0.3, -0.2, 1.0))
	f.send(t, command.GoToHome(0, 3, 0))
	f.tick()

	move, ok := f.rec.Last("OnSetPosition")
	if !ok {
		t.Fatal("no position sent")
	}
	// home xy at the current altitude
	if !vecEquals(move.Target, geom.Vec(0.3, -0.2, 1.0)) || move.Relative {
		t.Errorf("home target: got %v rel=%v", move.Target, move.Relative)
	}

	pending := f.rb.Pending()
	if len(pending) != 1 || pending[0].Kind != command.KindLand || !pending[0].Deferred {
		t.Fatalf("pending: got %+v, want deferred LAND", pending)
	}

	// still moving: the land waits
	f.tick()
	if f.rb.State() != Moving {
		t.Fatalf("state: got %v, want MOVING", f.rb.State())
	}

	f.clk.Advance(2800 * time.Millisecond)
	f.tick()
	if f.rb.State() != Landing {
		t.Fatalf("state after move settled: got %v, want LANDING", f.rb.State())
	}
	if c, _ := f.rec.Last("OnLand"); c.Duration != command.DefaultLandDuration {
		t.Errorf("land duration: got %v", c.Duration)
	}
}

func TestGoToHomeWithHeightStays(t *testing.T) {
	f := newFixture(t, nil)
	f.pose(geom.Vec(-0.5, 0.5, 0))
	f.takeoff(t)

	f.send(t, command.GoToHome(0, 4, 1.2))
	f.tick()

	move, _ := f.rec.Last("OnSetPosition")
	if !vecEquals(move.Target, geom.Vec(-0.5, 0.5, 1.2)) {
		t.Errorf("target: got %v, want (-0.5, 0.5, 1.2)", move.Target)
	}
	if n := len(f.rb.Pending()); n != 0 {
		t.Errorf("pending: got %d, want 0", n)
	}
}

func TestEmergencyBypassesQueue(t *testing.T) {
	f := newFixture(t, nil)
	f.takeoff(t)
	f.send(t, command.GoToHome(0, 3, 0))
	f.tick()
	if len(f.rb.Pending()) == 0 {
		t.Fatal("expected a pending follow-up")
	}

	f.send(t, command.Emergency(0))
	f.rb.Drain(true)
	if f.rb.State() != Emergency {
		t.Fatalf("state: got %v, want EMERGENCY", f.rb.State())
	}
	if len(f.rb.Pending()) != 0 {
		t.Error("emergency did not clear the queue")
	}
	if f.rec.Count("OnEmergency") != 1 {
		t.Errorf("OnEmergency calls: got %d, want 1", f.rec.Count("OnEmergency"))
	}

	// timeouts do not leave EMERGENCY
	f.clk.Advance(200 * time.Second)
	f.tick()
	if f.rb.State() != Emergency {
		t.Errorf("state after timeout: got %v, want EMERGENCY", f.rb.State())
	}
}

func TestEmergencyObservedWhileNotAccepting(t *testing.T) {
	f := newFixture(t, nil)
	f.takeoff(t)

	f.rb.TriggerEmergency()
	f.rb.Drain(false)
	if f.rb.State() != Emergency {
		t.Errorf("state: got %v, want EMERGENCY", f.rb.State())
	}
}

func TestTakeoffAfterEmergency(t *testing.T) {
	f := newFixture(t, nil)
	f.rb.TriggerEmergency()
	f.tick()
	f.takeoff(t)
}

func TestRelativePositionResolution(t *testing.T) {
	f := newFixture(t, nil)
	f.pose(geom.Vec(0, 0, 1.0))
	f.takeoff(t)

	f.send(t, command.Position(0, geom.Vec(0.5, 0, 0.2), 0, 2, true, false))
	f.tick()

	c, _ := f.rec.Last("OnSetPosition")
	if !c.Relative {
		t.Error("relative flag not forwarded")
	}
	if !vecEquals(c.Target, geom.Vec(0.5, 0, -0.8)) {
		t.Errorf("delta: got %v, want (0.5, 0, -0.8)", c.Target)
	}
	if d := f.rb.Snapshot().Desired.Position; !vecEquals(d, geom.Vec(0.5, 0, 0.2)) {
		t.Errorf("desired: got %v, want (0.5, 0, 0.2)", d)
	}
}

func TestAbsolutePositionClamped(t *testing.T) {
	f := newFixture(t, nil)
	f.takeoff(t)

	f.send(t, command.Position(0, geom.Vec(3, -3, 5), 0, 2, false, false))
	f.tick()

	c, _ := f.rec.Last("OnSetPosition")
	if !vecEquals(c.Target, geom.Vec(0.95, -1.30, 1.80)) {
		t.Errorf("target: got %v", c.Target)
	}
}

func TestVelocityCommand(t *testing.T) {
	f := newFixture(t, nil)
	f.takeoff(t)

	f.send(t, command.Velocity(0, geom.Vec(0.2, 0, 0), 10, 1.5, false, false))
	f.tick()

	if f.rb.State() != Moving {
		t.Errorf("state: got %v, want MOVING", f.rb.State())
	}
	c, ok := f.rec.Last("OnSetVelocity")
	if !ok || !vecEquals(c.Target, geom.Vec(0.2, 0, 0)) || c.Duration != 1.5 {
		t.Errorf("OnSetVelocity: got %+v", c)
	}
	if dv := f.rb.Snapshot().DesiredVel; !vecEquals(dv.Linear, geom.Vec(0.2, 0, 0)) || dv.YawRate != 10 {
		t.Errorf("desired velocity: got %+v", dv)
	}
}

func TestMotionIgnoredWhileLanded(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, command.Position(0, geom.Vec(0.5, 0, 1), 0, 2, false, false))
	f.send(t, command.Land(0, 2))
	f.tick()

	if f.rb.State() != Landed {
		t.Errorf("state: got %v, want LANDED", f.rb.State())
	}
	if f.rec.Count("OnSetPosition") != 0 || f.rec.Count("OnLand") != 0 {
		t.Errorf("unexpected backend calls: %v", f.rec.Methods())
	}
}

func TestBackendFailureDoesNotBlockTransition(t *testing.T) {
	rec := backendtest.New()
	rec.Fail("OnTakeoff", backend.ErrUnreachable)
	f := newFixture(t, rec)
	f.takeoff(t)

	if got := f.rb.Snapshot().BackendErrors; got != 1 {
		t.Errorf("BackendErrors: got %d, want 1", got)
	}
}

func TestVelocityEstimateFromPoses(t *testing.T) {
	f := newFixture(t, nil)
	f.pose(geom.Vec(0, 0, 1))
	f.clk.Advance(100 * time.Millisecond)
	f.pose(geom.Vec(0.1, 0, 1))
	f.tick()

	snap := f.rb.Snapshot()
	if !floatEquals(snap.Velocity.Linear.X, 1.0) {
		t.Errorf("vx: got %v, want 1", snap.Velocity.Linear.X)
	}
	if !vecEquals(snap.Pose.Position, geom.Vec(0.1, 0, 1)) {
		t.Errorf("pose: got %v", snap.Pose.Position)
	}
	if snap.Samples != 2 {
		t.Errorf("Samples: got %d, want 2", snap.Samples)
	}
	if f.rec.Samples() != 2 {
		t.Errorf("OnMotionCapture calls: got %d, want 2", f.rec.Samples())
	}
}

func TestHomeSeededAndSet(t *testing.T) {
	f := newFixture(t, nil)
	f.pose(geom.Vec(0.4, 0.3, 0.02))
	f.tick()
	if h := f.rb.Snapshot().Home; !vecEquals(h, geom.Vec(0.4, 0.3, 0.02)) {
		t.Errorf("seeded home: got %v", h)
	}

	f.send(t, command.SetHome(0, geom.Vec(0.1, -0.1, 5), true))
	f.tick()
	if h := f.rb.Snapshot().Home; !vecEquals(h, geom.Vec(0.5, 0.2, 0)) {
		t.Errorf("relative home: got %v, want (0.5, 0.2, 0)", h)
	}

	f.send(t, command.SetHome(0, geom.Vec(-1, 1, 5), false))
	f.tick()
	if h := f.rb.Snapshot().Home; !vecEquals(h, geom.Vec(-1, 1, 0)) {
		t.Errorf("absolute home: got %v, want (-1, 1, 0)", h)
	}
}

func TestExplicitHomeNotOverwrittenBySeed(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, command.SetHome(0, geom.Vec(0.7, 0.7, 0), false))
	f.tick()
	f.pose(geom.Vec(0, 0, 0))
	f.tick()
	if h := f.rb.Snapshot().Home; !vecEquals(h, geom.Vec(0.7, 0.7, 0)) {
		t.Errorf("home: got %v, want (0.7, 0.7, 0)", h)
	}
}

func TestNotAcceptingDiscardsCommands(t *testing.T) {
	f := newFixture(t, nil)
	f.send(t, command.Takeoff(0, 1, 2))
	f.rb.Drain(false)
	f.rb.Update()

	if f.rb.State() != Landed {
		t.Errorf("state: got %v, want LANDED", f.rb.State())
	}
}

func TestPassiveBody(t *testing.T) {
	f := newFixture(t, backendtest.NewPassive())

	if err := f.rb.Submit(command.Takeoff(0, 1, 2)); !errors.Is(err, ErrNotControllable) {
		t.Errorf("Submit: got %v, want ErrNotControllable", err)
	}

	f.pose(geom.Vec(0.2, 0.2, 0.2))
	f.clk.Advance(2000 * time.Second)
	f.tick()
	if f.rb.State() != Landed {
		t.Errorf("passive body changed state: %v", f.rb.State())
	}
	if f.rec.Samples() != 1 {
		t.Errorf("passive body should still ingest poses, got %d", f.rec.Samples())
	}
}

func TestSubmitRejectsUnknownKind(t *testing.T) {
	f := newFixture(t, nil)
	err := f.rb.Submit(command.Command{Kind: command.Kind(99)})
	if !errors.Is(err, command.ErrUnknownKind) {
		t.Errorf("got %v, want ErrUnknownKind", err)
	}
}

func TestMailboxFull(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	s := DefaultSettings()
	s.MailboxSize = 1
	rb := New(1, "vflie_01", backendtest.New(), WithClock(clk), WithSettings(s), WithLogger(ilog.Discard()))

	if err := rb.Submit(command.Hover(1, 1)); err != nil {
		t.Fatal(err)
	}
	if err := rb.Submit(command.Hover(1, 1)); !errors.Is(err, ErrMailboxFull) {
		t.Errorf("got %v, want ErrMailboxFull", err)
	}

	// poses never fail: the oldest is dropped
	if !rb.SubmitPose(mocap.Sample{Position: geom.Vec(1, 0, 0)}) || !rb.SubmitPose(mocap.Sample{Position: geom.Vec(2, 0, 0)}) {
		t.Fatal("SubmitPose failed")
	}
	rb.Drain(true)
	if p := rb.pose.Position; p.X != 2 {
		t.Errorf("newest pose not kept: %v", p)
	}
}

func TestClose(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.rb.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.rb.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if f.rec.Count("OnDeinit") != 1 {
		t.Errorf("OnDeinit calls: got %d, want 1", f.rec.Count("OnDeinit"))
	}
	if err := f.rb.Submit(command.Hover(0, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit after close: got %v", err)
	}
	if f.rb.SubmitPose(mocap.Sample{}) {
		t.Error("SubmitPose after close succeeded")
	}
}

func TestLandForShutdown(t *testing.T) {
	f := newFixture(t, nil)
	f.takeoff(t)
	f.send(t, command.GoToHome(0, 3, 0))
	f.tick()

	f.rb.Land(2, "shutdown")
	if f.rb.State() != Landing {
		t.Errorf("state: got %v, want LANDING", f.rb.State())
	}
	if len(f.rb.Pending()) != 0 {
		t.Error("Land did not clear the queue")
	}

	landed := newFixture(t, nil)
	landed.rb.Land(2, "shutdown")
	if landed.rec.Count("OnLand") != 0 {
		t.Error("landed robot was told to land")
	}
}

func TestParseState(t *testing.T) {
	tests := map[string]State{
		"LANDED":     Landed,
		"taking off": TakingOff,
		"TAKING_OFF": TakingOff,
		"IDLE":       Hover,
		"emergency":  Emergency,
	}
	for in, want := range tests {
		got, err := ParseState(in)
		if err != nil || got != want {
			t.Errorf("ParseState(%q): got %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseState("cruising"); err == nil {
		t.Error("expected error for unknown state")
	}
}
