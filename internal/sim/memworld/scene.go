package memworld

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/go-gl/mathgl/mgl64"
	"gopkg.in/yaml.v3"
)

// Scene is the static content of a world: its bounds, solid boxes, planets
// and artificial gravity fields.
type Scene struct {
	Bounds  *BoundsSpec  `yaml:"bounds,omitempty"`
	Boxes   []BoxSpec    `yaml:"boxes,omitempty"`
	Planets []PlanetSpec `yaml:"planets,omitempty"`
	Fields  []FieldSpec  `yaml:"fields,omitempty"`
}

type BoundsSpec struct {
	Min []float64 `yaml:"min"`
	Max []float64 `yaml:"max"`
}

type BoxSpec struct {
	ID  string    `yaml:"id"`
	Min []float64 `yaml:"min"`
	Max []float64 `yaml:"max"`
}

type PlanetSpec struct {
	ID     string    `yaml:"id"`
	Center []float64 `yaml:"center"`
	Radius float64   `yaml:"radius"`
	// Reach is the radius within which a placement counts as overlapping the
	// planet. Defaults to Radius.
	Reach          float64 `yaml:"reach"`
	GravityRadius  float64 `yaml:"gravity_radius"`
	SurfaceGravity float64 `yaml:"surface_gravity"`
}

type FieldSpec struct {
	ID      string    `yaml:"id"`
	Center  []float64 `yaml:"center"`
	Radius  float64   `yaml:"radius"`
	Gravity []float64 `yaml:"gravity"`
}

// LoadScene reads a scene file. An empty path yields an empty, unbounded
// scene.
func LoadScene(path string) (Scene, error) {
	var s Scene
	if strings.TrimSpace(path) == "" {
		return s, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(b, &s); err != nil {
		return s, fmt.Errorf("scene.yaml: %w", err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("scene.yaml: %w", err)
	}
	return s, nil
}

func (s *Scene) Normalize() {
	for i := range s.Planets {
		p := &s.Planets[i]
		if p.Reach < p.Radius {
			p.Reach = p.Radius
		}
		if p.GravityRadius == 0 {
			p.GravityRadius = p.Reach * 1.5
		}
	}
}

func (s Scene) Validate() error {
	if s.Bounds != nil {
		min, err := vec(s.Bounds.Min)
		if err != nil {
			return fmt.Errorf("bounds.min: %w", err)
		}
		max, err := vec(s.Bounds.Max)
		if err != nil {
			return fmt.Errorf("bounds.max: %w", err)
		}
		for i := 0; i < 3; i++ {
			if min[i] >= max[i] {
				return fmt.Errorf("bounds: min must be < max on every axis")
			}
		}
	}
	seen := map[string]bool{}
	checkID := func(kind, id string) error {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("%s: missing id", kind)
		}
		if seen[id] {
			return fmt.Errorf("duplicate id: %s", id)
		}
		seen[id] = true
		return nil
	}
	for _, b := range s.Boxes {
		if err := checkID("box", b.ID); err != nil {
			return err
		}
		min, err := vec(b.Min)
		if err != nil {
			return fmt.Errorf("box %s min: %w", b.ID, err)
		}
		max, err := vec(b.Max)
		if err != nil {
			return fmt.Errorf("box %s max: %w", b.ID, err)
		}
		for i := 0; i < 3; i++ {
			if min[i] > max[i] {
				return fmt.Errorf("box %s: min > max", b.ID)
			}
		}
	}
	for _, p := range s.Planets {
		if err := checkID("planet", p.ID); err != nil {
			return err
		}
		if _, err := vec(p.Center); err != nil {
			return fmt.Errorf("planet %s center: %w", p.ID, err)
		}
		if !(p.Radius > 0) {
			return fmt.Errorf("planet %s: radius must be > 0", p.ID)
		}
		if p.SurfaceGravity < 0 || p.GravityRadius < 0 {
			return fmt.Errorf("planet %s: gravity must be >= 0", p.ID)
		}
	}
	for _, f := range s.Fields {
		if err := checkID("field", f.ID); err != nil {
			return err
		}
		if _, err := vec(f.Center); err != nil {
			return fmt.Errorf("field %s center: %w", f.ID, err)
		}
		if _, err := vec(f.Gravity); err != nil {
			return fmt.Errorf("field %s gravity: %w", f.ID, err)
		}
		if !(f.Radius > 0) {
			return fmt.Errorf("field %s: radius must be > 0", f.ID)
		}
	}
	return nil
}

func vec(v []float64) (mgl64.Vec3, error) {
	if len(v) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("want 3 components, got %d", len(v))
	}
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return mgl64.Vec3{}, fmt.Errorf("non-finite component")
		}
	}
	return mgl64.Vec3{v[0], v[1], v[2]}, nil
}

// V is a convenience for building scenes in code.
func V(x, y, z float64) []float64 { return []float64{x, y, z} }
