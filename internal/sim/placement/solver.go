// Package placement finds a point in the world where a bounding sphere can sit
// without penetrating existing geometry.
//
// The search is first-fit: the base position is probed, then concentric rings
// of random directions at growing distances. The number of ring probes is
// capped by Params.MaxTestCount, so a call always terminates with either a
// free position or a definite "none".
package placement

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/go-gl/mathgl/mgl64"

	"structspawn.ai/internal/sim/geom"
)

const DefaultShapeIterations = 15

type Params struct {
	Radius          float64
	MaxTestCount    int
	TestsPerRing    int
	StepSize        float64
	RadiusIncrement float64
	// Ignore names an entity the collision test skips ("" for none).
	Ignore string
}

// DefaultParams returns the stock search shape for radius: 40 probes, 6 per
// ring, rings spaced one radius plus 10 apart.
func DefaultParams(radius float64) Params {
	return Params{
		Radius:          radius,
		MaxTestCount:    40,
		TestsPerRing:    6,
		StepSize:        1,
		RadiusIncrement: 10,
	}
}

func (p Params) Validate() error {
	if !(p.Radius > 0) || math.IsInf(p.Radius, 0) {
		return fmt.Errorf("radius must be > 0 (got %v)", p.Radius)
	}
	if p.MaxTestCount < 1 {
		return fmt.Errorf("max_test_count must be >= 1 (got %d)", p.MaxTestCount)
	}
	if p.TestsPerRing < 1 {
		return fmt.Errorf("tests_per_ring must be >= 1 (got %d)", p.TestsPerRing)
	}
	if p.StepSize < 0 {
		return fmt.Errorf("step_size must be >= 0 (got %v)", p.StepSize)
	}
	if p.RadiusIncrement < 0 {
		return fmt.Errorf("radius_increment must be >= 0 (got %v)", p.RadiusIncrement)
	}
	return nil
}

// Rings returns how many rings the search walks for p.
func (p Params) Rings() int {
	if p.TestsPerRing < 1 {
		return 0
	}
	return (p.MaxTestCount + p.TestsPerRing - 1) / p.TestsPerRing
}

// Outcome describes one search.
type Outcome struct {
	Position mgl64.Vec3
	Found    bool
	// Corrected is set when an overlapping obstacle moved the accepted point.
	Corrected  bool
	ObstacleID string
	// Ring is the ring index of the accepted probe, -1 for the base probe.
	Ring int
	// Probes counts acceptance tests performed, base probe included.
	Probes int
}

type SolverConfig struct {
	Probe     CollisionProbe
	Obstacles ObstacleQuery
	// Iterations is passed through to ShapePenetrates.
	Iterations int
	Seed       int64
}

type Solver struct {
	probe      CollisionProbe
	obstacles  ObstacleQuery
	iterations int

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSolver(cfg SolverConfig) (*Solver, error) {
	if cfg.Probe == nil {
		return nil, fmt.Errorf("placement: nil collision probe")
	}
	it := cfg.Iterations
	if it <= 0 {
		it = DefaultShapeIterations
	}
	return &Solver{
		probe:      cfg.Probe,
		obstacles:  cfg.Obstacles,
		iterations: it,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// FindFreePlace returns the first accepted position around base, or false
// when every probe was rejected.
func (s *Solver) FindFreePlace(base mgl64.Vec3, p Params) (mgl64.Vec3, bool) {
	out := s.Search(base, p)
	return out.Position, out.Found
}

// Accepts runs the acceptance test once at pos, without ring search or
// obstacle correction.
func (s *Solver) Accepts(pos mgl64.Vec3, p Params) bool {
	if p.Validate() != nil {
		return false
	}
	shape := s.probe.NewSphereShape(p.Radius)
	defer shape.Release()
	return s.clear(shape, pos, p)
}

func (s *Solver) Search(base mgl64.Vec3, p Params) Outcome {
	if err := p.Validate(); err != nil {
		return Outcome{Ring: -1}
	}

	shape := s.probe.NewSphereShape(p.Radius)
	defer shape.Release()

	out := Outcome{Ring: -1, Probes: 1}
	if s.accept(shape, base, p, &out) {
		return out
	}

	budget := p.MaxTestCount
	dist := 0.0
	for ring := 0; ring < p.Rings() && budget > 0; ring++ {
		dist += p.Radius*p.StepSize + p.RadiusIncrement
		for j := 0; j < p.TestsPerRing && budget > 0; j++ {
			budget--
			out.Probes++
			pos := base.Add(s.randomDirection().Mul(dist))
			if s.accept(shape, pos, p, &out) {
				out.Ring = ring
				return out
			}
		}
	}
	return out
}

func (s *Solver) clear(shape Shape, pos mgl64.Vec3, p Params) bool {
	if !s.probe.IsInsideWorldBounds(pos) {
		return false
	}
	return !s.probe.ShapePenetrates(shape, pos, mgl64.QuatIdent(), s.iterations, p.Ignore)
}

func (s *Solver) accept(shape Shape, pos mgl64.Vec3, p Params, out *Outcome) bool {
	if !s.clear(shape, pos, p) {
		return false
	}
	out.Found = true
	out.Position = pos
	if s.obstacles == nil {
		return true
	}
	ob, ok := s.obstacles.OverlappingObstacle(geom.Sphere{Center: pos, Radius: p.Radius})
	if !ok {
		return true
	}
	out.ObstacleID = ob.ObstacleID()
	if c, ok := ob.(LocationCorrector); ok {
		out.Position = c.CorrectLocation(pos, p.Radius)
		out.Corrected = true
	}
	return true
}

// randomDirection returns a unit vector uniformly distributed on the sphere.
func (s *Solver) randomDirection() mgl64.Vec3 {
	s.mu.Lock()
	z := 2*s.rng.Float64() - 1
	phi := 2 * math.Pi * s.rng.Float64()
	s.mu.Unlock()
	r := math.Sqrt(math.Max(0, 1-z*z))
	return mgl64.Vec3{r * math.Cos(phi), r * math.Sin(phi), z}
}
