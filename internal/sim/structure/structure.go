// Package structure is the data model shared by the alignment, placement and
// spawn stages: parts, units (rigid sub-assemblies), the blueprints they are
// imported in, and the ordered set of units spawned as one object.
package structure

import (
	"github.com/go-gl/mathgl/mgl64"

	"structspawn.ai/internal/sim/geom"
)

type PartKind string

const (
	KindArmor         PartKind = "armor"
	KindCockpit       PartKind = "cockpit"
	KindRemoteControl PartKind = "remote_control"
	KindReactor       PartKind = "reactor"
	KindBattery       PartKind = "battery"
	KindSolarPanel    PartKind = "solar_panel"
	KindThruster      PartKind = "thruster"
	KindGyroscope     PartKind = "gyroscope"
	KindConnector     PartKind = "connector"
)

var knownKinds = map[PartKind]struct{}{
	KindArmor:         {},
	KindCockpit:       {},
	KindRemoteControl: {},
	KindReactor:       {},
	KindBattery:       {},
	KindSolarPanel:    {},
	KindThruster:      {},
	KindGyroscope:     {},
	KindConnector:     {},
}

func IsKnownKind(k PartKind) bool {
	_, ok := knownKinds[k]
	return ok
}

type Part struct {
	ID          uint64     `json:"id"`
	Kind        PartKind   `json:"kind"`
	Offset      mgl64.Vec3 `json:"offset"`
	Forward     mgl64.Vec3 `json:"forward"`
	Up          mgl64.Vec3 `json:"up"`
	MainControl bool       `json:"main_control,omitempty"`
	Enabled     bool       `json:"enabled"`
}

// IsController reports whether the part can pilot its unit (and so toggle
// inertial dampening).
func (p Part) IsController() bool {
	return p.Kind == KindCockpit || p.Kind == KindRemoteControl
}

func (p Part) IsPowerProducer() bool {
	switch p.Kind {
	case KindReactor, KindBattery, KindSolarPanel:
		return true
	default:
		return false
	}
}

func (p Part) IsThruster() bool { return p.Kind == KindThruster }

// Placement is a unit's stored world position and orientation.
type Placement struct {
	Position mgl64.Vec3 `json:"position"`
	Forward  mgl64.Vec3 `json:"forward"`
	Up       mgl64.Vec3 `json:"up"`
}

func (p Placement) Matrix() mgl64.Mat4 {
	return geom.World(p.Position, p.Forward, p.Up)
}

// PlacementFromMatrix extracts the position and axes of a rigid matrix.
func PlacementFromMatrix(m mgl64.Mat4) Placement {
	return Placement{
		Position: geom.Translation(m),
		Forward:  geom.ForwardOf(m),
		Up:       geom.UpOf(m),
	}
}

type Unit struct {
	Name     string  `json:"name"`
	GridSize float64 `json:"grid_size"`
	Static   bool    `json:"static,omitempty"`
	Parts    []Part  `json:"parts"`

	Placement *Placement `json:"placement,omitempty"`

	LinearVelocity  mgl64.Vec3 `json:"linear_velocity"`
	AngularVelocity mgl64.Vec3 `json:"angular_velocity"`
	Dampeners       bool       `json:"dampeners,omitempty"`
}

// Matrix returns the unit's authored world matrix, identity when it has no
// stored placement.
func (u *Unit) Matrix() mgl64.Mat4 {
	if u == nil || u.Placement == nil {
		return mgl64.Ident4()
	}
	return u.Placement.Matrix()
}

// Position returns the stored world position and whether one exists.
func (u *Unit) Position() (mgl64.Vec3, bool) {
	if u == nil || u.Placement == nil {
		return mgl64.Vec3{}, false
	}
	return u.Placement.Position, true
}

// LocalBounds returns the sphere enclosing every part cell in unit space.
func (u *Unit) LocalBounds() geom.Sphere {
	if u == nil || len(u.Parts) == 0 {
		return geom.EmptySphere()
	}
	half := u.GridSize * 0.5
	if half <= 0 {
		half = 0.5
	}
	min := u.Parts[0].Offset
	max := u.Parts[0].Offset
	for _, p := range u.Parts[1:] {
		for i := 0; i < 3; i++ {
			if p.Offset[i] < min[i] {
				min[i] = p.Offset[i]
			}
			if p.Offset[i] > max[i] {
				max[i] = p.Offset[i]
			}
		}
	}
	pad := mgl64.Vec3{half, half, half}
	return geom.SphereFromBox(min.Sub(pad), max.Add(pad))
}

// WorldBounds returns LocalBounds carried through the unit's current matrix.
func (u *Unit) WorldBounds() geom.Sphere {
	return u.LocalBounds().Transform(u.Matrix())
}

func (u *Unit) Clone() *Unit {
	if u == nil {
		return nil
	}
	out := *u
	if u.Parts != nil {
		out.Parts = make([]Part, len(u.Parts))
		copy(out.Parts, u.Parts)
	}
	if u.Placement != nil {
		p := *u.Placement
		out.Placement = &p
	}
	return &out
}

// Blueprint is one imported group of units.
type Blueprint struct {
	Name  string  `json:"name"`
	Units []*Unit `json:"units"`
}
