package assembler

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// AttemptRecord is the audit entry written once per Run.
type AttemptRecord struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	DurationMs int64      `json:"duration_ms"`
	Blueprints int        `json:"blueprints"`
	Units      int        `json:"units"`
	Parts      int        `json:"parts"`
	State      string     `json:"state"`
	OK         bool       `json:"ok"`
	Code       string     `json:"code,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Ref        mgl64.Vec3 `json:"ref"`
	Position   mgl64.Vec3 `json:"position"`
	Radius     float64    `json:"radius"`

	Probes      int        `json:"probes"`
	Ring        int        `json:"ring"`
	Corrected   bool       `json:"corrected,omitempty"`
	ObstacleID  string     `json:"obstacle_id,omitempty"`
	FromControl bool       `json:"from_control,omitempty"`
	Gravity     mgl64.Vec3 `json:"gravity"`
}

// SpawnRecord is the audit entry written once per finished spawn session.
type SpawnRecord struct {
	AttemptID  string    `json:"attempt_id"`
	FinishedAt time.Time `json:"finished_at"`
	Expected   int       `json:"expected"`
	Instances  []string  `json:"instances"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	Code       string    `json:"code,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func (r SpawnRecord) OK() bool { return r.Error == "" && len(r.Instances) == r.Expected }
