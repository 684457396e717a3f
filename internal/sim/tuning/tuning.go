// Package tuning loads the spawn pipeline knobs from tuning.yaml.
package tuning

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"structspawn.ai/internal/sim/align"
	"structspawn.ai/internal/sim/placement"
)

type Tuning struct {
	Placement Placement `yaml:"placement"`
	Alignment Alignment `yaml:"alignment"`
	Spawn     Spawn     `yaml:"spawn"`
}

type Placement struct {
	// Margin is added to the enclosing radius of the set.
	Margin          float64 `yaml:"margin"`
	MaxTestCount    int     `yaml:"max_test_count"`
	TestsPerRing    int     `yaml:"tests_per_ring"`
	StepSize        float64 `yaml:"step_size"`
	RadiusIncrement float64 `yaml:"radius_increment"`
	ShapeIterations int     `yaml:"shape_iterations"`
	Seed            int64   `yaml:"seed"`
	Ignore          string  `yaml:"ignore,omitempty"`
}

type Alignment struct {
	GravityOffset      float64 `yaml:"gravity_offset"`
	GravityRotationDeg float64 `yaml:"gravity_rotation_deg"`
	Workers            int     `yaml:"workers"`
}

type Spawn struct {
	PendingTimeoutMs  int  `yaml:"pending_timeout_ms"`
	RollbackOnTimeout bool `yaml:"rollback_on_timeout"`
}

func Defaults() Tuning {
	return Tuning{
		Placement: Placement{
			Margin:          10,
			MaxTestCount:    40,
			TestsPerRing:    6,
			StepSize:        1,
			RadiusIncrement: 10,
			ShapeIterations: placement.DefaultShapeIterations,
		},
	}
}

// Load reads path over Defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values that have no meaning with their defaults.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	if t.Placement.MaxTestCount == 0 {
		t.Placement.MaxTestCount = d.Placement.MaxTestCount
	}
	if t.Placement.TestsPerRing == 0 {
		t.Placement.TestsPerRing = d.Placement.TestsPerRing
	}
	if t.Placement.ShapeIterations == 0 {
		t.Placement.ShapeIterations = d.Placement.ShapeIterations
	}
	t.Placement.Ignore = strings.TrimSpace(t.Placement.Ignore)
}

func (t Tuning) Validate() error {
	p := t.Placement
	if p.Margin < 0 || !finite(p.Margin) {
		return fmt.Errorf("placement.margin must be >= 0")
	}
	// Radius is only known per run; any positive value checks the rest.
	if err := t.SearchParams(1).Validate(); err != nil {
		return fmt.Errorf("placement: %w", err)
	}
	if p.ShapeIterations < 1 {
		return fmt.Errorf("placement.shape_iterations must be >= 1")
	}
	a := t.Alignment
	if !finite(a.GravityOffset) || !finite(a.GravityRotationDeg) {
		return fmt.Errorf("alignment values must be finite")
	}
	if a.Workers < 0 {
		return fmt.Errorf("alignment.workers must be >= 0")
	}
	if t.Spawn.PendingTimeoutMs < 0 {
		return fmt.Errorf("spawn.pending_timeout_ms must be >= 0")
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// SearchParams returns the solver parameters for a set of the given
// enclosing radius (margin not included).
func (t Tuning) SearchParams(radius float64) placement.Params {
	return placement.Params{
		Radius:          radius,
		MaxTestCount:    t.Placement.MaxTestCount,
		TestsPerRing:    t.Placement.TestsPerRing,
		StepSize:        t.Placement.StepSize,
		RadiusIncrement: t.Placement.RadiusIncrement,
		Ignore:          t.Placement.Ignore,
	}
}

func (t Tuning) SolverConfig(probe placement.CollisionProbe, obstacles placement.ObstacleQuery) placement.SolverConfig {
	return placement.SolverConfig{
		Probe:      probe,
		Obstacles:  obstacles,
		Iterations: t.Placement.ShapeIterations,
		Seed:       t.Placement.Seed,
	}
}

func (t Tuning) AlignConfig(g align.GravityProbe) align.Config {
	return align.Config{
		Gravity:         g,
		GravityOffset:   t.Alignment.GravityOffset,
		GravityRotation: align.Degrees(t.Alignment.GravityRotationDeg),
		Workers:         t.Alignment.Workers,
	}
}

func (t Tuning) PendingTimeout() time.Duration {
	return time.Duration(t.Spawn.PendingTimeoutMs) * time.Millisecond
}
