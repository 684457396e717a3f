// Package align derives the target frame a structure set is oriented to and
// carries every unit into it with one rigid transform.
package align

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/sync/errgroup"

	"structspawn.ai/internal/sim/geom"
	"structspawn.ai/internal/sim/structure"
)

var (
	ErrEmptySet        = errors.New("align: empty structure set")
	ErrNilUnit         = errors.New("align: nil unit")
	ErrDegeneratePivot = errors.New("align: pivot matrix is not invertible")
	ErrDegenerateUnit  = errors.New("align: unit placement is not invertible")
	ErrBadTransform    = errors.New("align: transform produced non-finite matrix")
)

// GravityProbe samples the gravity field at a point.
type GravityProbe interface {
	NaturalGravityAt(p mgl64.Vec3) mgl64.Vec3
	ArtificialGravityAt(p mgl64.Vec3) mgl64.Vec3
}

// Frame is the target rigid frame. Forward and Up are unit length and
// orthogonal.
type Frame struct {
	Position mgl64.Vec3
	Forward  mgl64.Vec3
	Up       mgl64.Vec3
	// Gravity is the sampled gravity vector, zero when there is none.
	Gravity mgl64.Vec3
	// FromControl is set when Forward came from the main control part.
	FromControl bool
}

func (f Frame) Matrix() mgl64.Mat4 {
	return geom.World(f.Position, f.Forward, f.Up)
}

// Alignment reports the matrices used by ApplyFrame.
type Alignment struct {
	PivotIndex int
	Pivot      mgl64.Mat4
	World      mgl64.Mat4
	// Origin is the frame's rotation translated to the negated primary unit
	// position: the primary unit expressed relative to itself.
	Origin mgl64.Mat4
}

type Config struct {
	Gravity GravityProbe
	// GravityOffset moves the frame position along the gravity vector.
	GravityOffset float64
	// GravityRotation rotates a gravity-derived forward around up, radians.
	GravityRotation float64
	// Workers bounds the per-unit pass; <= 0 uses GOMAXPROCS.
	Workers int
}

type Aligner struct {
	gravity  GravityProbe
	offset   float64
	rotation float64
	workers  int
}

func New(cfg Config) (*Aligner, error) {
	if cfg.Gravity == nil {
		return nil, fmt.Errorf("align: nil gravity probe")
	}
	w := cfg.Workers
	if w <= 0 {
		w = runtime.GOMAXPROCS(0)
	}
	return &Aligner{
		gravity:  cfg.Gravity,
		offset:   cfg.GravityOffset,
		rotation: cfg.GravityRotation,
		workers:  w,
	}, nil
}

// ComputeFrame picks the frame the set is aligned to at ref. It depends only
// on its inputs and the gravity field: no randomness.
func (a *Aligner) ComputeFrame(set structure.Set, ref mgl64.Vec3) Frame {
	fr := Frame{Position: ref}

	forward, fromControl := set.MainControlForward()
	if fromControl {
		forward = geom.Normalize(forward)
		fr.FromControl = true
	}

	g := a.gravity.NaturalGravityAt(ref)
	if geom.IsZero(g) {
		g = a.gravity.ArtificialGravityAt(ref)
	}

	switch {
	case !geom.IsZero(g):
		down := geom.Normalize(g)
		fr.Gravity = g
		fr.Up = down.Mul(-1)
		fr.Position = ref.Add(down.Mul(a.offset))
		if !fromControl {
			forward = geom.Perpendicular(down)
			if a.rotation != 0 {
				forward = mgl64.QuatRotate(a.rotation, fr.Up).Rotate(forward)
			}
		}
		fr.Forward = projectOnto(forward, fr.Up)
	case !fromControl:
		fr.Forward = geom.Right
		fr.Up = geom.Up
	default:
		fr.Forward = forward
		fr.Up = geom.Perpendicular(forward.Mul(-1))
	}
	return fr
}

// projectOnto removes the up component from forward. A forward parallel to up
// falls back to a perpendicular of up.
func projectOnto(forward, up mgl64.Vec3) mgl64.Vec3 {
	f := geom.Normalize(forward.Sub(up.Mul(forward.Dot(up))))
	if geom.IsZero(f) {
		return geom.Perpendicular(up)
	}
	return f
}

// ApplyFrame returns a copy of set with every unit carried by the same rigid
// delta: the primary unit lands on the frame, the others keep their offset
// from it. set itself is not modified.
func (a *Aligner) ApplyFrame(ctx context.Context, set structure.Set, fr Frame) (structure.Set, Alignment, error) {
	if len(set) == 0 {
		return nil, Alignment{}, ErrEmptySet
	}

	if i := indexOfNil(set); i >= 0 {
		return nil, Alignment{}, fmt.Errorf("%w (unit %d)", ErrNilUnit, i)
	}

	primary := set.PrimaryIndex()
	al := Alignment{
		PivotIndex: primary,
		Pivot:      set[primary].Matrix(),
		World:      fr.Matrix(),
	}
	primaryPos, _ := set[primary].Position()
	al.Origin = geom.World(primaryPos.Mul(-1), fr.Forward, fr.Up)

	if !geom.Invertible(al.Pivot) {
		return nil, al, fmt.Errorf("%w (unit %d)", ErrDegeneratePivot, primary)
	}
	delta := al.World.Mul4(al.Pivot.Inv())

	out := make(structure.Set, len(set))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, u := range set {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c := u.Clone()
			m := al.World
			if u.Placement != nil {
				um := u.Matrix()
				if !geom.Invertible(um) {
					return fmt.Errorf("%w (unit %d)", ErrDegenerateUnit, i)
				}
				m = delta.Mul4(um)
			}
			if !geom.Finite(m) {
				return fmt.Errorf("%w (unit %d)", ErrBadTransform, i)
			}
			p := structure.PlacementFromMatrix(m)
			c.Placement = &p
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, al, err
	}
	return out, al, nil
}

func indexOfNil(set structure.Set) int {
	for i, u := range set {
		if u == nil {
			return i
		}
	}
	return -1
}

// RelativeTransform returns the transform of b expressed in a's frame.
func RelativeTransform(a, b *structure.Unit) mgl64.Mat4 {
	return a.Matrix().Inv().Mul4(b.Matrix())
}

// Degrees converts an angle in degrees to radians.
func Degrees(deg float64) float64 { return deg * math.Pi / 180 }
