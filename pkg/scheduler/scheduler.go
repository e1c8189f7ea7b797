// Package scheduler runs the fixed-rate control loop that drives every
// rigid body in the fleet, routes commands to them, and shuts the fleet
// down by landing it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-mdp/internal/clock"
	"github.com/teslashibe/go-mdp/internal/log"
	"github.com/teslashibe/go-mdp/pkg/backend"
	"github.com/teslashibe/go-mdp/pkg/command"
	"github.com/teslashibe/go-mdp/pkg/fleet"
	"github.com/teslashibe/go-mdp/pkg/rigidbody"
)

var (
	ErrShuttingDown    = errors.New("server is shutting down")
	ErrShutdownTimeout = errors.New("shutdown grace period elapsed before all robots landed")
	ErrInterrupted     = errors.New("shutdown forced by interrupt")
	ErrAlreadyRunning  = errors.New("control loop already running")
	ErrInvalidRate     = errors.New("update rate must be positive")
)

// Config tunes the control loop.
type Config struct {
	RateHz          float64
	SummaryInterval time.Duration
	ShutdownGrace   time.Duration
	LandDuration    float64
}

// DefaultConfig returns a 100 Hz loop with a summary every 5 seconds.
func DefaultConfig() Config {
	return Config{
		RateHz:          100,
		SummaryInterval: 5 * time.Second,
		ShutdownGrace:   10 * time.Second,
		LandDuration:    command.DefaultLandDuration,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source. Defaults to the real clock.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithRecorder sets where timing summaries and the shutdown report go.
func WithRecorder(r Recorder) Option {
	return func(s *Scheduler) {
		if r != nil {
			s.recorder = r
		}
	}
}

type request struct {
	fn   func()
	done chan struct{}
}

// Scheduler owns the control goroutine. Every state machine in the fleet
// is touched only from Run; other goroutines go through the mailboxes of
// the rigid bodies or through the request queue for add and remove.
type Scheduler struct {
	reg      *fleet.Registry
	cfg      Config
	clock    clock.Clock
	log      *slog.Logger
	recorder Recorder

	period    atomic.Int64
	accepting atomic.Bool
	stopping  atomic.Bool
	forced    atomic.Bool
	stats     atomic.Pointer[Stats]
	panics    atomic.Uint64

	mu       sync.Mutex
	running  bool
	requests []request

	win window
}

// New creates a scheduler for the registry.
func New(reg *fleet.Registry, cfg Config, opts ...Option) (*Scheduler, error) {
	if cfg.RateHz <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRate, cfg.RateHz)
	}
	if cfg.SummaryInterval <= 0 {
		cfg.SummaryInterval = DefaultConfig().SummaryInterval
	}
	if cfg.LandDuration <= 0 {
		cfg.LandDuration = command.DefaultLandDuration
	}
	s := &Scheduler{
		reg:      reg,
		cfg:      cfg,
		clock:    clock.Real(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = log.Component("scheduler")
	}
	s.period.Store(int64(hzToPeriod(cfg.RateHz)))
	s.accepting.Store(true)
	s.stats.Store(&Stats{DesiredHz: cfg.RateHz})
	return s, nil
}

func hzToPeriod(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}

// Registry returns the fleet the scheduler drives.
func (s *Scheduler) Registry() *fleet.Registry { return s.reg }

// Period returns the current tick period.
func (s *Scheduler) Period() time.Duration { return time.Duration(s.period.Load()) }

// Rate returns the desired loop rate in Hz.
func (s *Scheduler) Rate() float64 { return float64(time.Second) / float64(s.Period()) }

// SetRate changes the loop rate. It takes effect on the next tick.
func (s *Scheduler) SetRate(hz float64) error {
	if hz <= 0 || math.IsNaN(hz) || math.IsInf(hz, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidRate, hz)
	}
	s.period.Store(int64(hzToPeriod(hz)))
	s.log.Info("update rate changed", "rate_hz", hz)
	return nil
}

// Stats returns the last timing summary.
func (s *Scheduler) Stats() Stats {
	st := *s.stats.Load()
	st.DesiredHz = s.Rate()
	return st
}

// Accepting reports whether new commands are taken.
func (s *Scheduler) Accepting() bool { return s.accepting.Load() }

// Running reports whether the control loop is running.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop requests a graceful shutdown: robots are landed before the loop
// exits.
func (s *Scheduler) Stop() {
	if !s.stopping.Swap(true) {
		s.log.Info("graceful shutdown requested")
	}
}

// Interrupt forces the loop to exit at the next tick without landing.
func (s *Scheduler) Interrupt() {
	if !s.forced.Swap(true) {
		s.log.Warn("forced shutdown requested")
	}
}

// Route delivers a command to its target robot's mailbox.
func (s *Scheduler) Route(c command.Command) error {
	if !s.accepting.Load() {
		return ErrShuttingDown
	}
	rb, err := s.reg.Get(c.Target)
	if err != nil {
		return err
	}
	if err := rb.Submit(c); err != nil {
		switch {
		case errors.Is(err, command.ErrUnknownKind):
			s.log.Error("invalid command dropped", "robot", rb.Name(), "error", err)
		default:
			s.log.Warn("command dropped", "robot", rb.Name(), "kind", c.Kind, "error", err)
		}
		return err
	}
	return nil
}

// EmergencyAll flags every robot for an emergency stop. Returns the number
// of robots flagged.
func (s *Scheduler) EmergencyAll() int {
	n := 0
	s.reg.Each(func(rb *rigidbody.RigidBody) {
		if rb.Controllable() {
			rb.TriggerEmergency()
			n++
		}
	})
	s.log.Warn("fleet emergency", "robots", n)
	return n
}

// AddRobot adds a robot on the control goroutine.
func (s *Scheduler) AddRobot(req backend.Request) (fleet.RobotID, error) {
	if s.stopping.Load() || s.forced.Load() {
		return fleet.RobotID{}, ErrShuttingDown
	}
	var (
		id  fleet.RobotID
		err error
	)
	s.do(func() { id, err = s.reg.AddRequest(req) })
	return id, err
}

// RemoveRobot removes a robot on the control goroutine.
func (s *Scheduler) RemoveRobot(id uint32) error {
	var err error
	s.do(func() { err = s.reg.Remove(id) })
	return err
}

// do runs fn on the control goroutine, or inline when the loop is not
// running, and waits for it to finish.
func (s *Scheduler) do(fn func()) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		fn()
		return
	}
	req := request{fn: fn, done: make(chan struct{})}
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	<-req.done
}

func (s *Scheduler) serveRequests() {
	s.mu.Lock()
	reqs := s.requests
	s.requests = nil
	s.mu.Unlock()
	for _, r := range reqs {
		r.fn()
		close(r.done)
	}
}

// Run drives the fleet until ctx is cancelled, Stop or Interrupt is
// called. It returns nil after a clean shutdown, ErrShutdownTimeout when
// robots did not land within the grace period, and ErrInterrupted when
// the shutdown was forced.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		reqs := s.requests
		s.requests = nil
		s.mu.Unlock()
		// anything queued while exiting runs inline
		for _, r := range reqs {
			r.fn()
			close(r.done)
		}
	}()

	start := s.clock.Now()
	s.win.reset(start, s.totalSamples())
	s.log.Info("control loop started", "rate_hz", s.Rate(), "robots", s.reg.Len())

	for {
		if s.forced.Load() {
			return s.abort(start)
		}
		if ctx.Err() != nil || s.stopping.Load() {
			break
		}
		s.tick()
	}
	return s.shutdown(start)
}

// tick runs one control step and sleeps for the rest of the period.
func (s *Scheduler) tick() {
	start := s.clock.Now()
	s.serveRequests()

	accepting := s.accepting.Load()
	bodies := s.reg.Bodies()
	for _, rb := range bodies {
		s.guard(rb, "drain", func() { rb.Drain(accepting) })
	}
	for _, rb := range bodies {
		s.guard(rb, "update", rb.Update)
	}

	busy := s.clock.Now().Sub(start)
	period := s.Period()
	wait := period - busy
	overrun := wait < 0
	if overrun {
		wait = 0
	}
	s.clock.Sleep(wait)
	s.win.add(busy, wait, overrun)

	if s.win.ticks >= s.ticksPerSummary(period) {
		s.summarize(len(bodies))
	}
}

func (s *Scheduler) ticksPerSummary(period time.Duration) uint64 {
	n := uint64(math.Round(float64(s.cfg.SummaryInterval) / float64(period)))
	if n == 0 {
		n = 1
	}
	return n
}

func (s *Scheduler) summarize(robots int) {
	now := s.clock.Now()
	samples := s.totalSamples()
	st := s.win.summarize(now, s.Rate(), samples, robots)
	st.Panics = s.panics.Load()
	s.stats.Store(&st)
	s.log.Info("timing summary", st.logArgs()...)
	s.recorder.Summary(st)
	s.win.reset(now, samples)
}

func (s *Scheduler) totalSamples() uint64 {
	var n uint64
	for _, rb := range s.reg.Bodies() {
		n += rb.Snapshot().Samples
	}
	return n
}

// guard contains a panic in one robot's step to that robot.
func (s *Scheduler) guard(rb *rigidbody.RigidBody, step string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			s.panics.Add(1)
			s.log.Error("robot step panicked", "robot", rb.Name(), "id", rb.ID(), "step", step, "panic", fmt.Sprint(p))
		}
	}()
	fn()
}

// shutdown lands every controllable robot and keeps ticking until they
// are all down or the grace period runs out, then removes them.
func (s *Scheduler) shutdown(start time.Time) error {
	s.accepting.Store(false)
	s.stopping.Store(true)
	robots := s.reg.Len()
	s.log.Info("shutting down, landing fleet", "robots", robots, "grace", s.cfg.ShutdownGrace)

	for _, rb := range s.reg.Bodies() {
		s.guard(rb, "land", func() { rb.Land(s.cfg.LandDuration, "shutdown") })
	}

	deadline := s.clock.Now().Add(s.cfg.ShutdownGrace)
	outcome := OutcomeClean
	var result error
	for !s.allLanded() {
		if s.forced.Load() {
			return s.abort(start)
		}
		if !s.clock.Now().Before(deadline) {
			outcome, result = OutcomeTimeout, ErrShutdownTimeout
			break
		}
		s.tick()
	}

	landed := s.countLanded()
	if err := s.reg.RemoveAll(); err != nil {
		s.log.Error("robot removal failed during shutdown", "error", err)
	}
	s.finish(start, outcome, robots, landed)
	return result
}

// abort removes every robot without landing.
func (s *Scheduler) abort(start time.Time) error {
	s.accepting.Store(false)
	robots := s.reg.Len()
	landed := s.countLanded()
	s.log.Error("forced shutdown, robots were not landed", "robots", robots, "landed", landed)
	if err := s.reg.RemoveAll(); err != nil {
		s.log.Error("robot removal failed during shutdown", "error", err)
	}
	s.finish(start, OutcomeInterrupted, robots, landed)
	return ErrInterrupted
}

func (s *Scheduler) finish(start time.Time, outcome string, robots, landed int) {
	now := s.clock.Now()
	r := Report{Outcome: outcome, Robots: robots, Landed: landed, Duration: now.Sub(start), At: now}
	s.log.Info("control loop stopped", "outcome", outcome, "robots", robots, "landed", landed, "uptime", r.Duration.Round(time.Millisecond))
	s.recorder.Shutdown(r)
}

func (s *Scheduler) allLanded() bool {
	for _, rb := range s.reg.Bodies() {
		if rb.Controllable() && rb.State() != rigidbody.Landed {
			return false
		}
	}
	return true
}

func (s *Scheduler) countLanded() int {
	n := 0
	for _, rb := range s.reg.Bodies() {
		if !rb.Controllable() || rb.State() == rigidbody.Landed {
			n++
		}
	}
	return n
}
