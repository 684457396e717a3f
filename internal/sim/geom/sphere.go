package geom

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Sphere is a bounding sphere. A negative radius marks the empty sphere.
type Sphere struct {
	Center mgl64.Vec3
	Radius float64
}

// EmptySphere is the identity element for Include.
func EmptySphere() Sphere { return Sphere{Radius: -1} }

func (s Sphere) Empty() bool { return s.Radius < 0 }

// SphereFromBox returns the sphere circumscribing the box [min,max].
func SphereFromBox(min, max mgl64.Vec3) Sphere {
	return Sphere{
		Center: min.Add(max).Mul(0.5),
		Radius: max.Sub(min).Len() * 0.5,
	}
}

// Transform carries s through m. The radius grows with the largest axis scale
// so the result still encloses the transformed volume.
func (s Sphere) Transform(m mgl64.Mat4) Sphere {
	if s.Empty() {
		return s
	}
	scale := math.Max(m.Col(0).Vec3().Len(), math.Max(m.Col(1).Vec3().Len(), m.Col(2).Vec3().Len()))
	return Sphere{
		Center: TransformPoint(m, s.Center),
		Radius: s.Radius * scale,
	}
}

// Include returns the smallest sphere enclosing both s and o.
func (s Sphere) Include(o Sphere) Sphere {
	if o.Empty() {
		return s
	}
	if s.Empty() {
		return o
	}
	d := o.Center.Sub(s.Center).Len()
	if d+o.Radius <= s.Radius {
		return s
	}
	if d+s.Radius <= o.Radius {
		return o
	}
	r := (d + s.Radius + o.Radius) * 0.5
	c := s.Center
	if d > epsilon {
		c = s.Center.Add(o.Center.Sub(s.Center).Mul((r - s.Radius) / d))
	}
	return Sphere{Center: c, Radius: r}
}

// Intersects reports whether the two spheres overlap.
func (s Sphere) Intersects(o Sphere) bool {
	if s.Empty() || o.Empty() {
		return false
	}
	r := s.Radius + o.Radius
	return s.Center.Sub(o.Center).LenSqr() < r*r
}

// Contains reports whether p lies inside s.
func (s Sphere) Contains(p mgl64.Vec3) bool {
	if s.Empty() {
		return false
	}
	return p.Sub(s.Center).LenSqr() <= s.Radius*s.Radius
}
