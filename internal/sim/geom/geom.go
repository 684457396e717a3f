// Package geom holds the small amount of rigid-body geometry the placement
// pipeline needs on top of mgl64: world matrices built from a position and a
// forward/up pair, deterministic perpendicular vectors and bounding spheres.
//
// Matrices follow mgl64's column-vector convention: a point p is carried to
// world space as m.Mul4x1(p.Vec4(1)). Composition therefore reads right to
// left.
package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Reference axes. A rigid world matrix maps -Z to forward and +Y to up.
var (
	Right    = mgl64.Vec3{1, 0, 0}
	Up       = mgl64.Vec3{0, 1, 0}
	Backward = mgl64.Vec3{0, 0, 1}
	Forward  = mgl64.Vec3{0, 0, -1}
)

const epsilon = 1e-9

// IsZero reports whether v has no usable direction.
func IsZero(v mgl64.Vec3) bool {
	return v.LenSqr() <= epsilon*epsilon
}

// Normalize returns v scaled to unit length, or the zero vector when v has
// no length.
func Normalize(v mgl64.Vec3) mgl64.Vec3 {
	l := v.Len()
	if l <= epsilon {
		return mgl64.Vec3{}
	}
	return v.Mul(1 / l)
}

// Perpendicular returns a unit vector orthogonal to v. The result depends
// only on v: v is crossed with the reference axis it is least aligned with
// (X, then Y, then Z on ties).
func Perpendicular(v mgl64.Vec3) mgl64.Vec3 {
	ax, ay, az := math.Abs(v[0]), math.Abs(v[1]), math.Abs(v[2])
	axis := Backward
	switch {
	case ax <= ay && ax <= az:
		axis = Right
	case ay <= az:
		axis = Up
	}
	return Normalize(v.Cross(axis))
}

// World builds a rigid transform located at pos whose -Z axis points along
// forward and whose +Y axis points as close to up as orthogonality allows.
// forward is kept exactly; up is re-derived from the right vector.
func World(pos, forward, up mgl64.Vec3) mgl64.Mat4 {
	f := Normalize(forward)
	r := Normalize(f.Cross(up))
	u := r.Cross(f)
	return mgl64.Mat4FromCols(
		r.Vec4(0),
		u.Vec4(0),
		f.Mul(-1).Vec4(0),
		pos.Vec4(1),
	)
}

// Translation returns the position encoded in m.
func Translation(m mgl64.Mat4) mgl64.Vec3 {
	return m.Col(3).Vec3()
}

// ForwardOf returns the forward (-Z) axis of m.
func ForwardOf(m mgl64.Mat4) mgl64.Vec3 {
	return m.Col(2).Vec3().Mul(-1)
}

// UpOf returns the up (+Y) axis of m.
func UpOf(m mgl64.Mat4) mgl64.Vec3 {
	return m.Col(1).Vec3()
}

// TransformPoint carries p through m.
func TransformPoint(m mgl64.Mat4, p mgl64.Vec3) mgl64.Vec3 {
	return m.Mul4x1(p.Vec4(1)).Vec3()
}

// Invertible reports whether m has a usable inverse.
func Invertible(m mgl64.Mat4) bool {
	d := m.Det()
	return !math.IsNaN(d) && math.Abs(d) > epsilon
}

// Finite reports whether every component of m is a real number.
func Finite(m mgl64.Mat4) bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
