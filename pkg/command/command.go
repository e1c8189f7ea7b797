// Package command defines the motion commands routed to rigid bodies and
// the per-robot queue they wait in until the control loop applies them.
package command

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-mdp/pkg/geom"
)

// Defaults applied when a command leaves a field at zero.
const (
	DefaultTakeoffHeight   = 0.5
	DefaultTakeoffDuration = 2.0
	DefaultLandDuration    = 2.0
	DefaultHoverDuration   = 2.0
	DefaultHomeDuration    = 4.0
	DefaultHomeHeight      = -1.0
)

// Command is a single instruction for one robot. Durations are seconds.
// PosVel is a position for POSITION and SET_HOME, a velocity for
// VELOCITY, and carries the target height in Z for TAKEOFF and GOTO_HOME.
type Command struct {
	ID         uuid.UUID    `json:"id"`
	Target     uint32       `json:"target_id"`
	Kind       Kind         `json:"kind"`
	PosVel     geom.Vector3 `json:"pos_vel"`
	Yaw        float64      `json:"yaw"`
	Duration   float64      `json:"duration"`
	RelativeXY bool         `json:"relative_xy"`
	RelativeZ  bool         `json:"relative_z"`

	// Deferred commands are follow-ups queued by the robot itself. They
	// wait until the robot is hovering instead of preempting motion.
	Deferred bool `json:"deferred,omitempty"`

	Issued time.Time `json:"issued"`
}

func newCommand(target uint32, kind Kind) Command {
	return Command{ID: uuid.New(), Target: target, Kind: kind}
}

// Velocity builds a VELOCITY command.
func Velocity(target uint32, vel geom.Vector3, yaw, duration float64, relXY, relZ bool) Command {
	c := newCommand(target, KindVelocity)
	c.PosVel, c.Yaw, c.Duration = vel, yaw, duration
	c.RelativeXY, c.RelativeZ = relXY, relZ
	return c
}

// Position builds a POSITION command.
func Position(target uint32, pos geom.Vector3, yaw, duration float64, relXY, relZ bool) Command {
	c := newCommand(target, KindPosition)
	c.PosVel, c.Yaw, c.Duration = pos, yaw, duration
	c.RelativeXY, c.RelativeZ = relXY, relZ
	return c
}

// Takeoff builds a TAKEOFF command.
func Takeoff(target uint32, height, duration float64) Command {
	c := newCommand(target, KindTakeoff)
	c.PosVel.Z, c.Duration = height, duration
	return c
}

// Land builds a LAND command.
func Land(target uint32, duration float64) Command {
	c := newCommand(target, KindLand)
	c.Duration = duration
	return c
}

// Hover builds a HOVER command.
func Hover(target uint32, duration float64) Command {
	c := newCommand(target, KindHover)
	c.Duration = duration
	return c
}

// Emergency builds an EMERGENCY command.
func Emergency(target uint32) Command {
	return newCommand(target, KindEmergency)
}

// SetHome builds a SET_HOME command. Only x and y are used.
func SetHome(target uint32, pos geom.Vector3, relXY bool) Command {
	c := newCommand(target, KindSetHome)
	c.PosVel, c.RelativeXY = pos, relXY
	return c
}

// GoToHome builds a GOTO_HOME command. A height of zero or less lands
// at home after arriving.
func GoToHome(target uint32, duration, height float64) Command {
	c := newCommand(target, KindGoToHome)
	c.PosVel.Z, c.Duration = height, duration
	return c
}

// WithDefaults fills zero durations and heights with the standard values.
func (c Command) WithDefaults() Command {
	switch c.Kind {
	case KindTakeoff:
		if c.PosVel.Z <= 0 {
			c.PosVel.Z = DefaultTakeoffHeight
		}
		if c.Duration <= 0 {
			c.Duration = DefaultTakeoffDuration
		}
	case KindLand:
		if c.Duration <= 0 {
			c.Duration = DefaultLandDuration
		}
	case KindHover:
		if c.Duration <= 0 {
			c.Duration = DefaultHoverDuration
		}
	case KindGoToHome:
		if c.Duration <= 0 {
			c.Duration = DefaultHomeDuration
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return c
}

// Validate checks the kind and rejects negative durations.
func (c Command) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownKind, int(c.Kind))
	}
	if c.Duration < 0 {
		return fmt.Errorf("%s: negative duration %v", c.Kind, c.Duration)
	}
	return nil
}

// Timeout returns the command duration as a time.Duration.
func (c Command) Timeout() time.Duration {
	return geom.Duration(c.Duration)
}

func (c Command) String() string {
	return fmt.Sprintf("%s[%d] %v yaw=%.1f dur=%.2fs rel=%d",
		c.Kind, c.Target, c.PosVel, c.Yaw, c.Duration, EncodeRelative(c.RelativeXY, c.RelativeZ))
}
