package structure

import (
	"github.com/go-gl/mathgl/mgl64"

	"structspawn.ai/internal/sim/geom"
)

// Set is the ordered sequence of units spawned as one logical object.
type Set []*Unit

// Collect flattens blueprints into one set, keeping blueprint then unit order
// and dropping nil units.
func Collect(bps []Blueprint) Set {
	var out Set
	for _, bp := range bps {
		for _, u := range bp.Units {
			if u == nil {
				continue
			}
			out = append(out, u)
		}
	}
	return out
}

func (s Set) Clone() Set {
	if s == nil {
		return nil
	}
	out := make(Set, len(s))
	for i, u := range s {
		out[i] = u.Clone()
	}
	return out
}

// PrimaryIndex returns the index of the unit with the most parts, the first
// one on ties, or -1 for an empty set.
func (s Set) PrimaryIndex() int {
	best, bestCount := -1, -1
	for i, u := range s {
		if u == nil {
			continue
		}
		if n := len(u.Parts); n > bestCount {
			best, bestCount = i, n
		}
	}
	return best
}

// MainControlForward returns the authored forward vector of the first part
// flagged as the main control part.
func (s Set) MainControlForward() (mgl64.Vec3, bool) {
	for _, u := range s {
		if u == nil {
			continue
		}
		for _, p := range u.Parts {
			if p.MainControl && !geom.IsZero(p.Forward) {
				return p.Forward, true
			}
		}
	}
	return mgl64.Vec3{}, false
}

// Bounds returns the sphere enclosing every unit's geometry under its current
// transform.
func (s Set) Bounds() geom.Sphere {
	out := geom.EmptySphere()
	for _, u := range s {
		if u == nil {
			continue
		}
		out = out.Include(u.WorldBounds())
	}
	return out
}

// MissingPlacement returns the index of the first unit without a stored
// placement, or -1.
func (s Set) MissingPlacement() int {
	for i, u := range s {
		if u == nil || u.Placement == nil {
			return i
		}
	}
	return -1
}

// PartCount sums parts across all units.
func (s Set) PartCount() int {
	n := 0
	for _, u := range s {
		if u != nil {
			n += len(u.Parts)
		}
	}
	return n
}
