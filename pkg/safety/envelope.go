// Package safety clamps motion targets into a static axis-aligned box.
//
// Targets arrive either absolute or relative to the robot's current
// position, with separate relativity for the horizontal plane and for
// height. Resolve first brings both axis groups into one frame and only
// then clamps, so that a relative delta can never carry the robot outside
// the box.
package safety

import (
	"fmt"

	"github.com/teslashibe/go-mdp/pkg/geom"
)

// Box is an axis-aligned bounding volume in meters.
type Box struct {
	Min geom.Vector3 `json:"min"`
	Max geom.Vector3 `json:"max"`
}

// DefaultBox is the flight volume of the reference arena.
var DefaultBox = Box{
	Min: geom.Vec(-1.60, -1.30, 0.10),
	Max: geom.Vec(0.95, 1.30, 1.80),
}

// NewBox builds a Box from min/max arrays, as found in configuration.
func NewBox(min, max [3]float64) (Box, error) {
	b := Box{Min: geom.FromArray(min), Max: geom.FromArray(max)}
	if b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z {
		return Box{}, fmt.Errorf("invalid safety box: min %v exceeds max %v", b.Min, b.Max)
	}
	return b, nil
}

// Contains reports whether p lies inside the box, boundaries included.
func (b Box) Contains(p geom.Vector3) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Normalize puts a target into a single relativity frame.
//
// With relative z but absolute xy, z is made absolute. With relative xy
// but absolute z, z is made relative. The returned vector is a delta from
// current when relXY is set and an absolute position otherwise.
func Normalize(target, current geom.Vector3, relXY, relZ bool) geom.Vector3 {
	switch {
	case relZ && !relXY:
		target.Z += current.Z
	case !relZ && relXY:
		target.Z -= current.Z
	}
	return target
}

// Clamp limits a normalized target. A relative delta is limited so that
// current+delta stays inside the box; an absolute target is limited to the
// box directly.
func (b Box) Clamp(target, current geom.Vector3, relative bool) geom.Vector3 {
	if relative {
		return geom.Vector3{
			X: geom.Clamp(target.X, b.Min.X-current.X, b.Max.X-current.X),
			Y: geom.Clamp(target.Y, b.Min.Y-current.Y, b.Max.Y-current.Y),
			Z: geom.Clamp(target.Z, b.Min.Z-current.Z, b.Max.Z-current.Z),
		}
	}
	return geom.Vector3{
		X: geom.Clamp(target.X, b.Min.X, b.Max.X),
		Y: geom.Clamp(target.Y, b.Min.Y, b.Max.Y),
		Z: geom.Clamp(target.Z, b.Min.Z, b.Max.Z),
	}
}

// Resolve normalizes then clamps. The result is a delta when relXY is set.
func (b Box) Resolve(target, current geom.Vector3, relXY, relZ bool) geom.Vector3 {
	return b.Clamp(Normalize(target, current, relXY, relZ), current, relXY)
}

// Absolute converts a resolved target back into an absolute position.
func Absolute(resolved, current geom.Vector3, relXY bool) geom.Vector3 {
	if relXY {
		return current.Add(resolved)
	}
	return resolved
}
