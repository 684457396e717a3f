package memworld

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"structspawn.ai/internal/sim/geom"
	"structspawn.ai/internal/sim/placement"
	"structspawn.ai/internal/sim/spawn"
	"structspawn.ai/internal/sim/structure"
)

func newWorld(t *testing.T, scene Scene, cfg Config) *World {
	t.Helper()
	w, err := New(scene, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestLoadScene(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scene.yaml")
	raw := `
bounds:
  min: [-1000, -1000, -1000]
  max: [1000, 1000, 1000]
boxes:
  - id: station
    min: [-5, -5, -5]
    max: [5, 5, 5]
planets:
  - id: moon
    center: [0, -500, 0]
    radius: 200
    surface_gravity: 2.5
fields:
  - id: deck
    center: [300, 0, 0]
    radius: 50
    gravity: [0, -9.81, 0]
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	s, err := LoadScene(path)
	if err != nil {
		t.Fatalf("LoadScene: %v", err)
	}
	if len(s.Boxes) != 1 || len(s.Planets) != 1 || len(s.Fields) != 1 {
		t.Fatalf("unexpected scene: %+v", s)
	}
	if p := s.Planets[0]; p.Reach != 200 || p.GravityRadius != 300 {
		t.Fatalf("planet defaults not applied: %+v", p)
	}

	if s, err := LoadScene(""); err != nil || s.Bounds != nil {
		t.Fatalf("empty path: %+v %v", s, err)
	}
}

func TestScene_Validate(t *testing.T) {
	cases := map[string]Scene{
		"short vector":  {Boxes: []BoxSpec{{ID: "a", Min: []float64{0, 0}, Max: V(1, 1, 1)}}},
		"inverted box":  {Boxes: []BoxSpec{{ID: "a", Min: V(1, 1, 1), Max: V(0, 0, 0)}}},
		"duplicate id":  {Boxes: []BoxSpec{{ID: "a", Min: V(0, 0, 0), Max: V(1, 1, 1)}}, Planets: []PlanetSpec{{ID: "a", Center: V(0, 0, 0), Radius: 1}}},
		"zero radius":   {Planets: []PlanetSpec{{ID: "p", Center: V(0, 0, 0)}}},
		"flat bounds":   {Bounds: &BoundsSpec{Min: V(0, 0, 0), Max: V(1, 0, 1)}},
		"missing field": {Fields: []FieldSpec{{ID: "f", Center: V(0, 0, 0), Radius: 1}}},
		"nan center":    {Planets: []PlanetSpec{{ID: "p", Center: V(math.NaN(), 0, 0), Radius: 1}}},
	}
	for name, s := range cases {
		if err := s.Validate(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestWorld_Collision(t *testing.T) {
	w := newWorld(t, Scene{
		Bounds: &BoundsSpec{Min: V(-100, -100, -100), Max: V(100, 100, 100)},
		Boxes:  []BoxSpec{{ID: "crate", Min: V(-1, -1, -1), Max: V(1, 1, 1)}},
	}, Config{})

	if w.IsInsideWorldBounds(mgl64.Vec3{101, 0, 0}) || !w.IsInsideWorldBounds(mgl64.Vec3{100, 0, 0}) {
		t.Fatalf("bounds check wrong")
	}

	shape := w.NewSphereShape(2)
	if w.LiveShapes() != 1 {
		t.Fatalf("live shapes = %d", w.LiveShapes())
	}
	if !w.ShapePenetrates(shape, mgl64.Vec3{2.5, 0, 0}, mgl64.QuatIdent(), 15, "") {
		t.Fatalf("expected penetration near crate")
	}
	if w.ShapePenetrates(shape, mgl64.Vec3{3.5, 0, 0}, mgl64.QuatIdent(), 15, "") {
		t.Fatalf("unexpected penetration")
	}
	if w.ShapePenetrates(shape, mgl64.Vec3{0, 0, 0}, mgl64.QuatIdent(), 15, "crate") {
		t.Fatalf("ignored entity still collides")
	}
	shape.Release()
	shape.Release()
	if w.LiveShapes() != 0 {
		t.Fatalf("live shapes after release = %d", w.LiveShapes())
	}
}

func TestPlanet_ObstacleAndGravity(t *testing.T) {
	w := newWorld(t, Scene{Planets: []PlanetSpec{{
		ID: "earth", Center: V(0, 0, 0), Radius: 100, Reach: 120, GravityRadius: 400, SurfaceGravity: 9.81,
	}}}, Config{})

	ob, ok := w.OverlappingObstacle(geom.Sphere{Center: mgl64.Vec3{0, 125, 0}, Radius: 10})
	if !ok || ob.ObstacleID() != "earth" {
		t.Fatalf("expected overlap with earth")
	}
	if _, ok := w.OverlappingObstacle(geom.Sphere{Center: mgl64.Vec3{0, 200, 0}, Radius: 10}); ok {
		t.Fatalf("unexpected overlap")
	}
	got := ob.(placement.LocationCorrector).CorrectLocation(mgl64.Vec3{0, 50, 0}, 10)
	if !got.ApproxEqualThreshold(mgl64.Vec3{0, 110, 0}, 1e-9) {
		t.Fatalf("corrected = %v", got)
	}

	g := w.NaturalGravityAt(mgl64.Vec3{0, 100, 0})
	if !g.ApproxEqualThreshold(mgl64.Vec3{0, -9.81, 0}, 1e-9) {
		t.Fatalf("surface gravity = %v", g)
	}
	g = w.NaturalGravityAt(mgl64.Vec3{0, 200, 0})
	if math.Abs(g.Len()-9.81/4) > 1e-9 {
		t.Fatalf("gravity at 2R = %v", g.Len())
	}
	if g := w.NaturalGravityAt(mgl64.Vec3{0, 500, 0}); g != (mgl64.Vec3{}) {
		t.Fatalf("gravity outside well = %v", g)
	}
}

func TestArtificialGravity(t *testing.T) {
	w := newWorld(t, Scene{Fields: []FieldSpec{{ID: "deck", Center: V(0, 0, 0), Radius: 10, Gravity: V(0, 0, -5)}}}, Config{})
	if g := w.ArtificialGravityAt(mgl64.Vec3{1, 1, 1}); g != (mgl64.Vec3{0, 0, -5}) {
		t.Fatalf("inside field = %v", g)
	}
	if g := w.ArtificialGravityAt(mgl64.Vec3{20, 0, 0}); g != (mgl64.Vec3{}) {
		t.Fatalf("outside field = %v", g)
	}
}

func TestRemapIdentities_Unique(t *testing.T) {
	w := newWorld(t, Scene{}, Config{})
	units := []*structure.Unit{
		{Parts: make([]structure.Part, 3)},
		nil,
		{Parts: make([]structure.Part, 5)},
	}
	w.RemapIdentities(units)
	w.RemapIdentities([]*structure.Unit{{Parts: make([]structure.Part, 2)}})

	seen := map[uint64]bool{}
	for _, u := range units {
		if u == nil {
			continue
		}
		for _, p := range u.Parts {
			if p.ID == 0 || seen[p.ID] {
				t.Fatalf("bad or duplicate id %d", p.ID)
			}
			seen[p.ID] = true
		}
	}
	if w.nextPartID.Load() != 10 {
		t.Fatalf("counter = %d, want 10", w.nextPartID.Load())
	}
}

func ship(name string, pos mgl64.Vec3) *structure.Unit {
	return &structure.Unit{
		Name:      name,
		GridSize:  2.5,
		Placement: &structure.Placement{Position: pos, Forward: geom.Forward, Up: geom.Up},
		Parts: []structure.Part{
			{Kind: structure.KindCockpit, MainControl: true, Forward: geom.Forward, Up: geom.Up},
			{Kind: structure.KindReactor, Offset: mgl64.Vec3{0, 0, 2.5}},
			{Kind: structure.KindThruster, Offset: mgl64.Vec3{0, 0, 5}},
		},
	}
}

func TestEngine_SpawnThroughBarrier(t *testing.T) {
	w := newWorld(t, Scene{}, Config{DuplicateNotify: true, Latency: time.Millisecond})
	b, err := spawn.NewBarrier(spawn.Config{Engine: w})
	if err != nil {
		t.Fatalf("NewBarrier: %v", err)
	}

	var calls atomic.Int32
	s := b.Spawn([]*structure.Unit{ship("a", mgl64.Vec3{}), ship("b", mgl64.Vec3{50, 0, 0})}, func([]spawn.Instance) { calls.Add(1) })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	insts, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	w.Settle()

	if len(insts) != 2 || calls.Load() != 1 {
		t.Fatalf("instances=%d calls=%d", len(insts), calls.Load())
	}
	for _, si := range insts {
		inst := si.(*Instance)
		if !inst.Added() {
			t.Fatalf("%s not added", inst.ID())
		}
		if !inst.IsPowered() || !inst.Dampeners() || !inst.Propulsion().Enabled() {
			t.Fatalf("%s not activated: powered=%v dampeners=%v", inst.ID(), inst.IsPowered(), inst.Dampeners())
		}
	}

	// Spawned instances are collidable.
	shape := w.NewSphereShape(1)
	defer shape.Release()
	if !w.ShapePenetrates(shape, mgl64.Vec3{50, 0, 0}, mgl64.QuatIdent(), 1, "") {
		t.Fatalf("spawned instance not collidable")
	}
}

func TestEngine_StaticUnitStaysDark(t *testing.T) {
	w := newWorld(t, Scene{}, Config{})
	b, err := spawn.NewBarrier(spawn.Config{Engine: w})
	if err != nil {
		t.Fatalf("NewBarrier: %v", err)
	}
	u := ship("station", mgl64.Vec3{})
	u.Static = true
	s := b.Spawn([]*structure.Unit{u}, nil)
	insts, err := s.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	inst := insts[0].(*Instance)
	if inst.IsPowered() || inst.Dampeners() || inst.Propulsion().Enabled() {
		t.Fatalf("static instance was activated")
	}
}

func TestEngine_DroppedCompletionRollsBack(t *testing.T) {
	w := newWorld(t, Scene{}, Config{Drop: func(u *structure.Unit) bool { return u.Name == "lost" }})
	b, err := spawn.NewBarrier(spawn.Config{Engine: w, PendingTimeout: 50 * time.Millisecond, RollbackOnTimeout: true})
	if err != nil {
		t.Fatalf("NewBarrier: %v", err)
	}
	s := b.Spawn([]*structure.Unit{ship("kept", mgl64.Vec3{}), ship("lost", mgl64.Vec3{30, 0, 0})}, nil)
	<-s.Done()
	w.Settle()
	if s.Err() == nil {
		t.Fatalf("expected timeout")
	}
	for _, inst := range w.Instances() {
		if inst.Unit().Name == "kept" {
			t.Fatalf("kept instance survived rollback")
		}
	}
}
