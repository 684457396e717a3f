package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"structspawn.ai/internal/sim/align"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	got, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != Defaults() {
		t.Fatalf("got %+v", got)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_RepoConfig(t *testing.T) {
	got, err := Load(filepath.Join("..", "..", "..", "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := got.SearchParams(5)
	if p.MaxTestCount != 40 || p.TestsPerRing != 6 || p.StepSize != 1 || p.RadiusIncrement != 10 || p.Radius != 5 {
		t.Fatalf("unexpected search params: %+v", p)
	}
	if got.Placement.Margin != 10 || got.Placement.ShapeIterations != 15 {
		t.Fatalf("unexpected placement: %+v", got.Placement)
	}
}

func TestLoad_OverridesAndNormalizes(t *testing.T) {
	p := writeFile(t, `
placement:
  margin: 4
  tests_per_ring: 3
  ignore: "  player-1 "
alignment:
  gravity_offset: 1.5
  gravity_rotation_deg: 90
spawn:
  pending_timeout_ms: 2500
  rollback_on_timeout: true
`)
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Placement.Margin != 4 || got.Placement.TestsPerRing != 3 || got.Placement.MaxTestCount != 40 {
		t.Fatalf("placement: %+v", got.Placement)
	}
	if got.Placement.Ignore != "player-1" {
		t.Fatalf("ignore = %q", got.Placement.Ignore)
	}
	if got.PendingTimeout() != 2500*time.Millisecond || !got.Spawn.RollbackOnTimeout {
		t.Fatalf("spawn: %+v", got.Spawn)
	}
	if ac := got.AlignConfig(nil); ac.GravityRotation != align.Degrees(90) || ac.GravityOffset != 1.5 {
		t.Fatalf("align config: %+v", ac)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative margin":  "placement:\n  margin: -1\n",
		"negative step":    "placement:\n  step_size: -2\n",
		"negative tests":   "placement:\n  max_test_count: -5\n",
		"negative timeout": "spawn:\n  pending_timeout_ms: -1\n",
		"negative workers": "alignment:\n  workers: -3\n",
		"bad yaml":         "placement: [",
	}
	for name, body := range cases {
		if _, err := Load(writeFile(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
