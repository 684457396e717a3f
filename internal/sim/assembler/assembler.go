// Package assembler drives one structure set from imported blueprints to live
// instances: align the set as a block, find free space for it, move it there,
// remap identities and hand it to the spawn barrier.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"

	"structspawn.ai/internal/protocol"
	"structspawn.ai/internal/sim/align"
	"structspawn.ai/internal/sim/placement"
	"structspawn.ai/internal/sim/spawn"
	"structspawn.ai/internal/sim/structure"
)

var (
	ErrNoUnits                  = errors.New("assembler: no units to spawn")
	ErrNoFreeSpace              = errors.New("assembler: no free space")
	ErrIncompatiblePositionData = errors.New("assembler: incompatible position data")
)

// DefaultMargin is added to the enclosing radius before searching.
const DefaultMargin = 10

type State int

const (
	StateAligning State = iota
	StatePlacing
	StateRepositioning
	StateRemapping
	StateSpawning
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAligning:
		return "aligning"
	case StatePlacing:
		return "placing"
	case StateRepositioning:
		return "repositioning"
	case StateRemapping:
		return "remapping"
	case StateSpawning:
		return "spawning"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Responder is the operator feedback channel.
type Responder interface {
	Respond(code, text string)
}

// Recorder persists run and session outcomes.
type Recorder interface {
	RecordAttempt(rec AttemptRecord) error
	RecordSpawn(rec SpawnRecord) error
}

type Config struct {
	Aligner *align.Aligner
	Solver  *placement.Solver
	Engine  spawn.Engine
	Barrier *spawn.Barrier

	// Search is the solver parameter template; Radius is overwritten per run
	// with the enclosing radius plus Margin.
	Search placement.Params
	Margin float64

	Responder Responder
	Recorder  Recorder
	Logger    *log.Logger
}

type Assembler struct {
	aligner   *align.Aligner
	solver    *placement.Solver
	engine    spawn.Engine
	barrier   *spawn.Barrier
	search    placement.Params
	margin    float64
	responder Responder
	recorder  Recorder
	log       *log.Logger

	watchers sync.WaitGroup
}

func New(cfg Config) (*Assembler, error) {
	if cfg.Aligner == nil || cfg.Solver == nil || cfg.Engine == nil || cfg.Barrier == nil {
		return nil, fmt.Errorf("assembler: aligner, solver, engine and barrier are required")
	}
	if cfg.Margin < 0 {
		return nil, fmt.Errorf("assembler: negative margin")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Assembler{
		aligner:   cfg.Aligner,
		solver:    cfg.Solver,
		engine:    cfg.Engine,
		barrier:   cfg.Barrier,
		search:    cfg.Search,
		margin:    cfg.Margin,
		responder: cfg.Responder,
		recorder:  cfg.Recorder,
		log:       logger,
	}, nil
}

// Result is the outcome of one Run. Session is set once the run reached the
// spawn barrier; instances come online asynchronously after Run returns.
type Result struct {
	AttemptID string
	OK        bool
	State     State
	Code      string
	Reason    string
	Err       error

	Frame    align.Frame
	Position mgl64.Vec3
	Radius   float64
	Search   placement.Outcome
	Units    structure.Set
	Session  *spawn.Session
}

// Run assembles and spawns the units of bps near ref.
func (a *Assembler) Run(ctx context.Context, bps []structure.Blueprint, ref mgl64.Vec3) Result {
	started := time.Now()
	res := Result{AttemptID: uuid.New().String(), State: StateAligning, Search: placement.Outcome{Ring: -1}}
	rec := AttemptRecord{ID: res.AttemptID, StartedAt: started.UTC(), Blueprints: len(bps), Ref: ref}

	res = a.run(ctx, bps, ref, res)

	rec.Units = len(res.Units)
	rec.Parts = res.Units.PartCount()
	rec.State = res.State.String()
	rec.OK = res.OK
	rec.Code = res.Code
	rec.Reason = res.Reason
	rec.Position = res.Position
	rec.Radius = res.Radius
	rec.Probes = res.Search.Probes
	rec.Ring = res.Search.Ring
	rec.Corrected = res.Search.Corrected
	rec.ObstacleID = res.Search.ObstacleID
	rec.FromControl = res.Frame.FromControl
	rec.Gravity = res.Frame.Gravity
	rec.DurationMs = time.Since(started).Milliseconds()

	a.respond(res.Code, res.Reason)
	if a.recorder != nil {
		if err := a.recorder.RecordAttempt(rec); err != nil {
			a.log.Printf("record attempt %s: %v", rec.ID, err)
		}
	}
	if res.Session != nil {
		a.watch(res.AttemptID, res.Session)
	}
	return res
}

func (a *Assembler) run(ctx context.Context, bps []structure.Blueprint, ref mgl64.Vec3, res Result) Result {
	set := structure.Collect(bps)
	if len(set) == 0 {
		return fail(res, ErrNoUnits, protocol.ErrNoUnits, "No grids to spawn!")
	}
	res.Units = set

	res.Frame = a.aligner.ComputeFrame(set, ref)
	aligned, _, err := a.aligner.ApplyFrame(ctx, set, res.Frame)
	switch {
	case errors.Is(err, align.ErrDegeneratePivot), errors.Is(err, align.ErrDegenerateUnit), errors.Is(err, align.ErrBadTransform):
		return fail(res, fmt.Errorf("%w: %v", ErrIncompatiblePositionData, err), protocol.ErrIncompatibleData, incompatibleText)
	case err != nil:
		return fail(res, err, protocol.ErrInternal, "Spawn aborted.")
	}
	res.Units = aligned

	res.State = StatePlacing
	if err := ctx.Err(); err != nil {
		return fail(res, err, protocol.ErrInternal, "Spawn aborted.")
	}
	params := a.search
	res.Radius = aligned.Bounds().Radius + a.margin
	params.Radius = res.Radius
	if err := params.Validate(); err != nil {
		return fail(res, fmt.Errorf("placement params: %w", err), protocol.ErrBadRequest, "Invalid placement settings.")
	}
	res.Search = a.solver.Search(ref, params)
	if !res.Search.Found {
		a.log.Printf("no free space near %v (radius %.1f, %d probes)", ref, res.Radius, res.Search.Probes)
		return fail(res, ErrNoFreeSpace, protocol.ErrNoFreeSpace, "No free space available!")
	}
	res.Position = res.Search.Position

	res.State = StateRepositioning
	if err := Reposition(aligned, res.Position); err != nil {
		return fail(res, err, protocol.ErrIncompatibleData, incompatibleText)
	}

	res.State = StateRemapping
	if err := ctx.Err(); err != nil {
		return fail(res, err, protocol.ErrInternal, "Spawn aborted.")
	}
	a.engine.RemapIdentities(aligned)

	res.State = StateSpawning
	res.Session = a.barrier.Spawn(aligned, nil)

	res.State = StateDone
	res.OK = true
	res.Reason = fmt.Sprintf("Spawning %d grids at %s", len(aligned), formatVec(res.Position))
	a.log.Printf("attempt %s: %d units, radius %.1f, %d probes", res.AttemptID, len(aligned), res.Radius, res.Search.Probes)
	return res
}

const incompatibleText = "The file to be imported does not seem to be compatible with the server!"

func fail(res Result, err error, code, text string) Result {
	res.State = StateFailed
	res.OK = false
	res.Err = err
	res.Code = code
	res.Reason = text
	return res
}

// Reposition translates every unit by the delta that moves the first unit to
// pos. It fails without modifying anything when a unit has no placement.
func Reposition(set structure.Set, pos mgl64.Vec3) error {
	if len(set) == 0 {
		return nil
	}
	if i := set.MissingPlacement(); i >= 0 {
		return fmt.Errorf("%w: unit %d has no placement", ErrIncompatiblePositionData, i)
	}
	delta := pos.Sub(set[0].Placement.Position)
	for _, u := range set {
		u.Placement.Position = u.Placement.Position.Add(delta)
	}
	return nil
}

func (a *Assembler) respond(code, text string) {
	if a.responder == nil || text == "" {
		return
	}
	a.responder.Respond(code, text)
}

// watch records the session outcome once it finishes.
func (a *Assembler) watch(attemptID string, s *spawn.Session) {
	a.watchers.Add(1)
	go func() {
		defer a.watchers.Done()
		<-s.Done()

		rec := SpawnRecord{
			AttemptID:  attemptID,
			FinishedAt: time.Now().UTC(),
			Expected:   s.Expected(),
			ElapsedMs:  s.Elapsed().Milliseconds(),
		}
		for _, inst := range s.Instances() {
			rec.Instances = append(rec.Instances, inst.ID())
		}
		if err := s.Err(); err != nil {
			rec.Error = err.Error()
			rec.Code = protocol.ErrInternal
			if errors.Is(err, spawn.ErrPendingTimeout) {
				rec.Code = protocol.ErrSpawnTimeout
			}
			a.respond(rec.Code, fmt.Sprintf("Spawn failed: only %d of %d grids appeared.", len(rec.Instances), rec.Expected))
		}
		if a.recorder != nil {
			if err := a.recorder.RecordSpawn(rec); err != nil {
				a.log.Printf("record spawn %s: %v", attemptID, err)
			}
		}
	}()
}

// Drain waits until every spawn session started by this assembler has been
// recorded.
func (a *Assembler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.watchers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func formatVec(v mgl64.Vec3) string {
	return fmt.Sprintf("(%.1f, %.1f, %.1f)", v[0], v[1], v[2])
}
