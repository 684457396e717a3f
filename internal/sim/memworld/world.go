// Package memworld is an in-memory world backing every boundary the placement,
// alignment and spawn stages consume: collision queries, planets with surface
// correction, gravity, and an asynchronous entity engine.
//
// It is a reference implementation for tools and tests, not a physics engine:
// bodies are axis-aligned boxes, spheres and the bounding spheres of spawned
// units.
package memworld

import (
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"structspawn.ai/internal/sim/geom"
	"structspawn.ai/internal/sim/placement"
	"structspawn.ai/internal/sim/structure"
)

type box struct {
	id       string
	min, max mgl64.Vec3
}

// Planet is a large static obstacle with a gravity well.
type Planet struct {
	id             string
	center         mgl64.Vec3
	radius         float64
	reach          float64
	gravityRadius  float64
	surfaceGravity float64
}

func (p *Planet) ObstacleID() string { return p.id }

// CorrectLocation moves ref onto the planet surface along the planet's
// normal, lifted by radius.
func (p *Planet) CorrectLocation(ref mgl64.Vec3, radius float64) mgl64.Vec3 {
	dir := geom.Normalize(ref.Sub(p.center))
	if geom.IsZero(dir) {
		dir = geom.Up
	}
	return p.center.Add(dir.Mul(p.radius + radius))
}

type field struct {
	id      string
	center  mgl64.Vec3
	radius  float64
	gravity mgl64.Vec3
}

type Config struct {
	// Latency delays every CreateAsync completion.
	Latency time.Duration
	// DuplicateNotify makes the engine report every instance twice.
	DuplicateNotify bool
	// Drop, when set, suppresses the completion for matching units.
	Drop   func(u *structure.Unit) bool
	Logger *log.Logger
}

type World struct {
	hasBounds bool
	min, max  mgl64.Vec3
	boxes     []box
	planets   []*Planet
	fields    []field

	cfg Config
	log *log.Logger

	mu        sync.RWMutex
	instances map[string]*Instance

	nextPartID atomic.Uint64
	liveShapes atomic.Int64
	pending    sync.WaitGroup
}

func New(scene Scene, cfg Config) (*World, error) {
	scene.Normalize()
	if err := scene.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	w := &World{
		cfg:       cfg,
		log:       logger,
		instances: map[string]*Instance{},
	}
	if scene.Bounds != nil {
		w.hasBounds = true
		w.min, _ = vec(scene.Bounds.Min)
		w.max, _ = vec(scene.Bounds.Max)
	}
	for _, b := range scene.Boxes {
		min, _ := vec(b.Min)
		max, _ := vec(b.Max)
		w.boxes = append(w.boxes, box{id: b.ID, min: min, max: max})
	}
	for _, p := range scene.Planets {
		c, _ := vec(p.Center)
		w.planets = append(w.planets, &Planet{
			id:             p.ID,
			center:         c,
			radius:         p.Radius,
			reach:          p.Reach,
			gravityRadius:  p.GravityRadius,
			surfaceGravity: p.SurfaceGravity,
		})
	}
	for _, f := range scene.Fields {
		c, _ := vec(f.Center)
		g, _ := vec(f.Gravity)
		w.fields = append(w.fields, field{id: f.ID, center: c, radius: f.Radius, gravity: g})
	}
	return w, nil
}

func (w *World) IsInsideWorldBounds(p mgl64.Vec3) bool {
	if !w.hasBounds {
		return true
	}
	for i := 0; i < 3; i++ {
		if p[i] < w.min[i] || p[i] > w.max[i] {
			return false
		}
	}
	return true
}

type sphereShape struct {
	w        *World
	radius   float64
	released atomic.Bool
}

func (s *sphereShape) Release() {
	if s.released.CompareAndSwap(false, true) {
		s.w.liveShapes.Add(-1)
	}
}

func (w *World) NewSphereShape(radius float64) placement.Shape {
	w.liveShapes.Add(1)
	return &sphereShape{w: w, radius: radius}
}

// LiveShapes is the number of shapes handed out and not yet released.
func (w *World) LiveShapes() int64 { return w.liveShapes.Load() }

// ShapePenetrates tests the sphere against boxes and spawned instances.
// Rotation does not matter for a sphere and the test is exact, so iterations
// is unused.
func (w *World) ShapePenetrates(shape placement.Shape, p mgl64.Vec3, _ mgl64.Quat, _ int, ignore string) bool {
	s, ok := shape.(*sphereShape)
	if !ok || s.w != w {
		panic(fmt.Sprintf("memworld: foreign shape %T", shape))
	}
	if s.released.Load() {
		panic("memworld: shape used after release")
	}
	sp := geom.Sphere{Center: p, Radius: s.radius}
	for _, b := range w.boxes {
		if b.id == ignore {
			continue
		}
		if sphereHitsBox(sp, b.min, b.max) {
			return true
		}
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	for id, inst := range w.instances {
		if id == ignore || !inst.Added() {
			continue
		}
		if inst.bounds.Intersects(sp) {
			return true
		}
	}
	return false
}

func sphereHitsBox(s geom.Sphere, min, max mgl64.Vec3) bool {
	d2 := 0.0
	for i := 0; i < 3; i++ {
		c := math.Max(min[i], math.Min(s.Center[i], max[i]))
		d := s.Center[i] - c
		d2 += d * d
	}
	return d2 < s.Radius*s.Radius
}

// OverlappingObstacle returns the first planet whose reach intersects s.
func (w *World) OverlappingObstacle(s geom.Sphere) (placement.Obstacle, bool) {
	for _, p := range w.planets {
		if (geom.Sphere{Center: p.center, Radius: p.reach}).Intersects(s) {
			return p, true
		}
	}
	return nil, false
}

// NaturalGravityAt sums planet gravity wells: full strength at or below the
// surface, falling off with the inverse square above it.
func (w *World) NaturalGravityAt(pos mgl64.Vec3) mgl64.Vec3 {
	var g mgl64.Vec3
	for _, p := range w.planets {
		to := p.center.Sub(pos)
		d := to.Len()
		if d == 0 || d > p.gravityRadius || p.surfaceGravity == 0 {
			continue
		}
		strength := p.surfaceGravity
		if d > p.radius {
			strength *= (p.radius * p.radius) / (d * d)
		}
		g = g.Add(to.Mul(strength / d))
	}
	return g
}

func (w *World) ArtificialGravityAt(pos mgl64.Vec3) mgl64.Vec3 {
	var g mgl64.Vec3
	for _, f := range w.fields {
		if pos.Sub(f.center).Len() <= f.radius {
			g = g.Add(f.gravity)
		}
	}
	return g
}
