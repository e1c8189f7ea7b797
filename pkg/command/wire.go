package command

import (
	"github.com/google/uuid"

	"github.com/teslashibe/go-mdp/pkg/geom"
)

// Relativity bits in the wire encoding.
const (
	RelativeXYBit = 1 << 0
	RelativeZBit  = 1 << 1
)

// EncodeRelative packs the two relativity flags into one integer.
func EncodeRelative(xy, z bool) int {
	bits := 0
	if xy {
		bits |= RelativeXYBit
	}
	if z {
		bits |= RelativeZBit
	}
	return bits
}

// DecodeRelative unpacks the relativity flags. Other bits are ignored.
func DecodeRelative(bits int) (xy, z bool) {
	return bits&RelativeXYBit != 0, bits&RelativeZBit != 0
}

// Wire is the transport form of a command, used by the REST API and the
// pub/sub command topic.
type Wire struct {
	ID       string     `json:"id,omitempty" cbor:"id,omitempty"`
	Target   uint32     `json:"target_id" cbor:"target_id"`
	Kind     string     `json:"kind" cbor:"kind"`
	PosVel   [3]float64 `json:"pos_vel" cbor:"pos_vel"`
	Yaw      float64    `json:"yaw" cbor:"yaw"`
	Duration float64    `json:"duration" cbor:"duration"`
	Relative int        `json:"relative" cbor:"relative"`
}

// FromWire decodes a transport command. The kind must be known.
func FromWire(w Wire) (Command, error) {
	kind, err := ParseKind(w.Kind)
	if err != nil {
		return Command{}, err
	}
	id, err := uuid.Parse(w.ID)
	if err != nil {
		id = uuid.New()
	}
	c := Command{
		ID:       id,
		Target:   w.Target,
		Kind:     kind,
		PosVel:   geom.FromArray(w.PosVel),
		Yaw:      w.Yaw,
		Duration: w.Duration,
	}
	c.RelativeXY, c.RelativeZ = DecodeRelative(w.Relative)
	return c, c.Validate()
}

// Wire returns the transport form of c.
func (c Command) Wire() Wire {
	return Wire{
		ID:       c.ID.String(),
		Target:   c.Target,
		Kind:     c.Kind.String(),
		PosVel:   c.PosVel.Array(),
		Yaw:      c.Yaw,
		Duration: c.Duration,
		Relative: EncodeRelative(c.RelativeXY, c.RelativeZ),
	}
}
