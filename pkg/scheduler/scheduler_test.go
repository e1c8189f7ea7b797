package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-mdp/internal/clock"
	ilog "github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/backend/backendtest"
	"github.com/teslashibe/go-mdp/pkg/command"
	"github.com/teslashibe/go-mdp/pkg/fleet"
	"github.com/teslashibe/go-mdp/pkg/geom"
	"github.com/teslashibe/go-mdp/pkg/mocap"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
)

type mockRecorder struct {
	mu        sync.Mutex
	summaries []Stats
	reports   []Report
}

func (m *mockRecorder) Summary(s Stats) {
	m.mu.Lock()
	m.summaries = append(m.summaries, s)
	m.mu.Unlock()
}

func (m *mockRecorder) Shutdown(r Report) {
	m.mu.Lock()
	m.reports = append(m.reports, r)
	m.mu.Unlock()
}

func (m *mockRecorder) lastReport() (Report, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reports) == 0 {
		return Report{}, false
	}
	return m.reports[len(m.reports)-1], true
}

// slowBackend advances the fake clock on every update to simulate work.
type slowBackend struct {
	backend.Nop
	clk  *clock.Fake
	cost time.Duration
}

func (b *slowBackend) OnUpdate(time.Time) error {
	b.clk.Advance(b.cost)
	return nil
}

type harness struct {
	s    *Scheduler
	reg  *fleet.Registry
	clk  *clock.Fake
	rec  *mockRecorder
	mu   sync.Mutex
	bots map[string]*backendtest.Recorder
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		clk:  clock.NewFake(time.Unix(1700000000, 0)),
		rec:  &mockRecorder{},
		bots: make(map[string]*backendtest.Recorder),
	}

	f := backend.NewFactory()
	f.Register("sim", "vflie_", func(req backend.Request) (backend.Backend, error) {
		r := backendtest.New()
		h.mu.Lock()
		h.bots[req.Tag] = r
		h.mu.Unlock()
		return r, nil
	})
	f.Register("obstacle", "object_", func(req backend.Request) (backend.Backend, error) {
		return backendtest.NewPassive(), nil
	})
	f.Register("slow", "slow_", func(req backend.Request) (backend.Backend, error) {
		return &slowBackend{clk: h.clk, cost: 15 * time.Millisecond}, nil
	})

	h.reg = fleet.NewRegistry(f,
		fleet.WithLogger(ilog.Discard()),
		fleet.WithBodyOptions(rigidbody.WithClock(h.clk), rigidbody.WithLogger(ilog.Discard())),
	)
	s, err := New(h.reg, cfg, WithClock(h.clk), WithLogger(ilog.Discard()), WithRecorder(h.rec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.s = s
	return h
}

func (h *harness) bot(tag string) *backendtest.Recorder {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.bots[tag]
}

func (h *harness) add(t *testing.T, tag string) fleet.RobotID {
	t.Helper()
	id, err := h.s.AddRobot(backend.Request{Tag: tag})
	if err != nil {
		t.Fatalf("AddRobot(%q): %v", tag, err)
	}
	return id
}

func (h *harness) state(t *testing.T, id uint32) rigidbody.State {
	t.Helper()
	rb, ok := h.reg.Lookup(id)
	if !ok {
		t.Fatalf("robot %d missing", id)
	}
	return rb.State()
}

func TestNewRejectsBadRate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateHz = 0
	if _, err := New(fleet.NewRegistry(backend.NewFactory()), cfg); !errors.Is(err, ErrInvalidRate) {
		t.Errorf("got %v, want ErrInvalidRate", err)
	}
}

func TestGracefulShutdownLandsFleet(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	id := h.add(t, "vflie_00")
	h.add(t, "object_box")

	if err := h.s.Route(command.Takeoff(id.NumericID, 1, 2)); err != nil {
		t.Fatal(err)
	}
	h.s.tick()
	if st := h.state(t, id.NumericID); st != rigidbody.TakingOff {
		t.Fatalf("state: got %v, want TAKING_OFF", st)
	}

	h.s.Stop()
	if err := h.s.Run(context.Background()); err != nil {
		t.Fatalf("Run: got %v, want nil", err)
	}

	bot := h.bot("vflie_00")
	if bot.Count("OnLand") != 1 {
		t.Errorf("OnLand calls: got %d, want 1", bot.Count("OnLand"))
	}
	if bot.Count("OnDeinit") != 1 {
		t.Errorf("OnDeinit calls: got %d, want 1", bot.Count("OnDeinit"))
	}
	if h.reg.Len() != 0 {
		t.Errorf("registry not emptied: %d", h.reg.Len())
	}
	r, ok := h.rec.lastReport()
	if !ok || r.Outcome != OutcomeClean || r.Robots != 2 || r.Landed != 2 {
		t.Errorf("report: got %+v", r)
	}
	if h.s.Accepting() {
		t.Error("still accepting after shutdown")
	}
}

func TestShutdownTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShutdownGrace = time.Second
	h := newHarness(t, cfg)
	id := h.add(t, "vflie_00")

	h.s.Route(command.Takeoff(id.NumericID, 1, 2))
	h.s.tick()

	h.s.Stop()
	err := h.s.Run(context.Background())
	if !errors.Is(err, ErrShutdownTimeout) {
		t.Fatalf("Run: got %v, want ErrShutdownTimeout", err)
	}
	if r, _ := h.rec.lastReport(); r.Outcome != OutcomeTimeout || r.Landed != 0 {
		t.Errorf("report: got %+v", r)
	}
	if h.reg.Len() != 0 {
		t.Error("robots not removed after timeout")
	}
}

func TestInterruptSkipsLanding(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	id := h.add(t, "vflie_00")
	h.s.Route(command.Takeoff(id.NumericID, 1, 2))
	h.s.tick()

	h.s.Interrupt()
	if err := h.s.Run(context.Background()); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("Run: got %v, want ErrInterrupted", err)
	}
	bot := h.bot("vflie_00")
	if bot.Count("OnLand") != 0 {
		t.Error("forced shutdown landed the fleet")
	}
	if bot.Count("OnDeinit") != 1 {
		t.Error("forced shutdown did not deinit robots")
	}
	if r, _ := h.rec.lastReport(); r.Outcome != OutcomeInterrupted {
		t.Errorf("outcome: got %q", r.Outcome)
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.add(t, "vflie_00")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r, _ := h.rec.lastReport(); r.Outcome != OutcomeClean {
		t.Errorf("outcome: got %q", r.Outcome)
	}
}

func TestRunTwice(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for !h.s.Running() {
		if time.Now().After(deadline) {
			t.Fatal("loop did not start")
		}
		time.Sleep(time.Millisecond)
	}
	if err := h.s.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run: got %v", err)
	}
	h.s.Stop()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestAddRemoveWhileRunning(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	done := make(chan error, 1)
	go func() { done <- h.s.Run(context.Background()) }()

	id := h.add(t, "vflie_00")
	if id.NumericID != 0 {
		t.Errorf("id: got %d, want 0", id.NumericID)
	}
	if _, ok := h.reg.Lookup(0); !ok {
		t.Fatal("robot not registered")
	}
	if err := h.s.RemoveRobot(0); err != nil {
		t.Fatalf("RemoveRobot: %v", err)
	}
	if h.reg.Len() != 0 {
		t.Error("robot not removed")
	}

	h.s.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := h.s.AddRobot(backend.Request{Tag: "vflie_01"}); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("AddRobot after stop: got %v", err)
	}
}

func TestSummaryStats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SummaryInterval = 100 * time.Millisecond
	h := newHarness(t, cfg)
	id := h.add(t, "vflie_00")
	rb, _ := h.reg.Lookup(id.NumericID)

	h.s.win.reset(h.clk.Now(), h.s.totalSamples())
	for i := 0; i < 10; i++ {
		rb.SubmitPose(mocap.Sample{Position: geom.Vec(0, 0, float64(i)*0.01), Time: h.clk.Now()})
		h.s.tick()
	}

	if len(h.rec.summaries) != 1 {
		t.Fatalf("summaries: got %d, want 1", len(h.rec.summaries))
	}
	st := h.s.Stats()
	if st.Ticks != 10 {
		t.Errorf("Ticks: got %d, want 10", st.Ticks)
	}
	if st.AchievedHz < 99.9 || st.AchievedHz > 100.1 {
		t.Errorf("AchievedHz: got %v, want 100", st.AchievedHz)
	}
	if st.MocapHz < 99.9 || st.MocapHz > 100.1 {
		t.Errorf("MocapHz: got %v, want 100", st.MocapHz)
	}
	if st.WaitTime != 10*time.Millisecond {
		t.Errorf("WaitTime: got %v, want 10ms", st.WaitTime)
	}
	if st.UpdateTime != 0 {
		t.Errorf("UpdateTime: got %v, want 0", st.UpdateTime)
	}
	if st.Robots != 1 {
		t.Errorf("Robots: got %d", st.Robots)
	}
}

func TestOverrunNeverSleepsNegative(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SummaryInterval = 50 * time.Millisecond
	h := newHarness(t, cfg)
	h.add(t, "slow_00")

	h.s.win.reset(h.clk.Now(), 0)
	before := h.clk.Now()
	for i := 0; i < 5; i++ {
		h.s.tick()
	}
	// every tick costs 15ms against a 10ms period
	if got := h.clk.Now().Sub(before); got != 75*time.Millisecond {
		t.Errorf("elapsed: got %v, want 75ms", got)
	}
	st := h.s.Stats()
	if st.Overruns != 5 || st.WaitTime != 0 {
		t.Errorf("stats: overruns=%d wait=%v", st.Overruns, st.WaitTime)
	}
}

func TestSetRate(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	if err := h.s.SetRate(50); err != nil {
		t.Fatal(err)
	}
	if h.s.Period() != 20*time.Millisecond {
		t.Errorf("Period: got %v, want 20ms", h.s.Period())
	}
	if got := h.s.Stats().DesiredHz; got != 50 {
		t.Errorf("DesiredHz: got %v, want 50", got)
	}
	for _, bad := range []float64{0, -10} {
		if err := h.s.SetRate(bad); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("SetRate(%v): got %v", bad, err)
		}
	}
	if h.s.Period() != 20*time.Millisecond {
		t.Error("invalid rate changed the period")
	}
}

func TestRoute(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.add(t, "vflie_00")
	h.add(t, "object_box")

	if err := h.s.Route(command.Takeoff(0, 1, 2)); err != nil {
		t.Errorf("valid route: %v", err)
	}
	if err := h.s.Route(command.Takeoff(7, 1, 2)); !errors.Is(err, fleet.ErrNotFound) {
		t.Errorf("unknown target: got %v", err)
	}
	if err := h.s.Route(command.Takeoff(1, 1, 2)); !errors.Is(err, rigidbody.ErrNotControllable) {
		t.Errorf("obstacle: got %v", err)
	}
	if err := h.s.Route(command.Command{Target: 0, Kind: command.Kind(42)}); !errors.Is(err, command.ErrUnknownKind) {
		t.Errorf("unknown kind: got %v", err)
	}

	h.s.accepting.Store(false)
	if err := h.s.Route(command.Land(0, 2)); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("not accepting: got %v", err)
	}
}

func TestEmergencyAll(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	a := h.add(t, "vflie_00")
	b := h.add(t, "vflie_01")
	h.add(t, "object_box")

	if n := h.s.EmergencyAll(); n != 2 {
		t.Errorf("EmergencyAll: got %d, want 2", n)
	}
	h.s.tick()
	for _, id := range []uint32{a.NumericID, b.NumericID} {
		if st := h.state(t, id); st != rigidbody.Emergency {
			t.Errorf("robot %d: got %v, want EMERGENCY", id, st)
		}
	}
	if n := h.bot("vflie_00").Count("OnEmergency"); n != 1 {
		t.Errorf("OnEmergency calls: got %d, want 1", n)
	}
}

func TestPanicContainedToRobot(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.add(t, "vflie_00")
	h.add(t, "vflie_01")
	h.bot("vflie_00").Panic("OnUpdate")

	h.s.tick()
	h.s.tick()

	if n := h.bot("vflie_01").Updates(); n != 2 {
		t.Errorf("healthy robot updates: got %d, want 2", n)
	}
	if n := h.s.panics.Load(); n != 2 {
		t.Errorf("panics: got %d, want 2", n)
	}
}

func TestSummarizePerRobotUpdate(t *testing.T) {
	start := time.Unix(1700000000, 0)
	var w window
	w.reset(start, 0)
	w.add(8*time.Millisecond, 2*time.Millisecond, false)
	w.add(4*time.Millisecond, 6*time.Millisecond, false)

	st := w.summarize(start.Add(20*time.Millisecond), 100, 0, 4)
	if st.UpdateTime != 6*time.Millisecond {
		t.Errorf("UpdateTime: got %v, want 6ms", st.UpdateTime)
	}
	if st.PerRobotUpdate != 1500*time.Microsecond {
		t.Errorf("PerRobotUpdate: got %v, want 1.5ms", st.PerRobotUpdate)
	}

	if st := w.summarize(start.Add(20*time.Millisecond), 100, 0, 0); st.PerRobotUpdate != 0 {
		t.Errorf("PerRobotUpdate with no robots: got %v, want 0", st.PerRobotUpdate)
	}
}
