package model

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a position and orientation expressed in the frame of RelativeTo.
// Orientation is a quaternion whose Real part is w.
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number
	RelativeTo  ObjectHandle
}

// IdentityOrientation is the zero rotation.
var IdentityOrientation = quat.Number{Real: 1}

// NewPose returns a world-frame pose at p with identity orientation.
func NewPose(p r3.Vec) Pose {
	return Pose{Position: p, Orientation: IdentityOrientation, RelativeTo: WorldFrame}
}

// Rotate applies the unit quaternion q to v.
func Rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Normalize returns q scaled to unit length. A zero quaternion becomes the
// identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return IdentityOrientation
	}
	return quat.Scale(1/n, q)
}

// ApproxEqual reports whether two positions are within tol on every axis.
func ApproxEqual(a, b r3.Vec, tol float64) bool {
	return math.Abs(a.X-b.X) <= tol &&
		math.Abs(a.Y-b.Y) <= tol &&
		math.Abs(a.Z-b.Z) <= tol
}
