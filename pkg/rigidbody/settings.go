package rigidbody

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-mdp/internal/clock"
	"github.com/teslashibe/go-mdp/pkg/safety"
)

// Settings tune the supervisor of every rigid body.
type Settings struct {
	Box safety.Box

	// TimeoutMargin is subtracted from every command duration so the
	// fallback engages slightly before the robot would reach its target.
	TimeoutMargin time.Duration

	// HoverTimeout is how long a robot holds position after a command
	// runs out before it is landed.
	HoverTimeout time.Duration

	// LandedTimeout re-arms the supervisor once a robot is on the ground.
	LandedTimeout time.Duration

	// InitialTimeout is armed when a robot is created.
	InitialTimeout time.Duration

	MailboxSize int
}

// DefaultSettings returns the standard supervisor settings.
func DefaultSettings() Settings {
	return Settings{
		Box:            safety.DefaultBox,
		TimeoutMargin:  200 * time.Millisecond,
		HoverTimeout:   4 * time.Second,
		LandedTimeout:  100 * time.Second,
		InitialTimeout: 1000 * time.Second,
		MailboxSize:    64,
	}
}

// Option configures a RigidBody.
type Option func(*RigidBody)

// WithClock sets the time source. Defaults to the real clock.
func WithClock(c clock.Clock) Option {
	return func(r *RigidBody) { r.clock = c }
}

// WithSettings replaces the default supervisor settings.
func WithSettings(s Settings) Option {
	return func(r *RigidBody) { r.settings = s }
}

// WithSink sets where per-tick telemetry goes.
func WithSink(s Sink) Option {
	return func(r *RigidBody) {
		if s != nil {
			r.sink = s
		}
	}
}

// WithLogger sets the base logger. Robot attributes are added to it.
func WithLogger(l *slog.Logger) Option {
	return func(r *RigidBody) { r.log = l }
}
