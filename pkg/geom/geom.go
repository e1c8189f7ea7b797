// Package geom holds the small value types shared by the control plane:
// positions in meters, headings in degrees, and timestamped poses.
package geom

import (
	"fmt"
	"math"
	"time"
)

// Vector3 is a point or displacement in meters (or m/s for velocities).
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Vec returns a Vector3.
func Vec(x, y, z float64) Vector3 { return Vector3{X: x, Y: y, Z: z} }

func (v Vector3) Add(o Vector3) Vector3 { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Sub(o Vector3) Vector3 { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Scale(s float64) Vector3 {
	return Vector3{v.X * s, v.Y * s, v.Z * s}
}

// Norm returns the Euclidean length.
func (v Vector3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Array returns the components as [x, y, z].
func (v Vector3) Array() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

// FromArray builds a Vector3 from [x, y, z].
func FromArray(a [3]float64) Vector3 { return Vector3{a[0], a[1], a[2]} }

func (v Vector3) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f)", v.X, v.Y, v.Z)
}

// Pose is a position with a yaw heading in degrees, stamped with the time
// the measurement or target refers to.
type Pose struct {
	Position Vector3   `json:"position"`
	Yaw      float64   `json:"yaw"`
	Time     time.Time `json:"time"`
}

// Velocity is a linear velocity with a yaw rate in degrees per second.
type Velocity struct {
	Linear  Vector3   `json:"linear"`
	YawRate float64   `json:"yaw_rate"`
	Time    time.Time `json:"time"`
}

const degToRad = math.Pi / 180

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * degToRad }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad / degToRad }

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Lerp moves from a toward b by t in [0, 1].
func Lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}

// Seconds converts a duration to float seconds.
func Seconds(d time.Duration) float64 { return d.Seconds() }

// Duration converts float seconds to a duration. Negative values become 0.
func Duration(sec float64) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec * float64(time.Second))
}
