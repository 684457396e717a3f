// Package spawn instantiates every unit of a structure set in parallel and
// brings them online together once the last one exists.
//
// Engine completion callbacks are turned into messages on a session inbox. A
// single goroutine per session owns the completed set, so duplicate or late
// notifications are absorbed there and post-activation runs exactly once.
package spawn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"structspawn.ai/internal/sim/structure"
)

var ErrPendingTimeout = errors.New("spawn: timed out waiting for instances")

type Config struct {
	Engine Engine
	// PendingTimeout fails a session that has not heard back from every unit
	// in time. Zero waits forever, matching an engine that never drops
	// notifications.
	PendingTimeout time.Duration
	// RollbackOnTimeout discards instances of a timed-out session through the
	// engine's Discarder capability, if it has one.
	RollbackOnTimeout bool
	Logger            *log.Logger
}

type Barrier struct {
	engine   Engine
	timeout  time.Duration
	rollback bool
	log      *log.Logger
}

func NewBarrier(cfg Config) (*Barrier, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("spawn: nil engine")
	}
	if cfg.PendingTimeout < 0 {
		return nil, fmt.Errorf("spawn: negative pending timeout")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Barrier{
		engine:   cfg.Engine,
		timeout:  cfg.PendingTimeout,
		rollback: cfg.RollbackOnTimeout,
		log:      logger,
	}, nil
}

// Spawn zeroes the units' velocities and requests every one of them from the
// engine. onComplete (optional) runs once with all live instances, after each
// has its post-activation hooks registered and has been added to the world.
// It runs on the session goroutine and must not wait on the session.
func (b *Barrier) Spawn(units []*structure.Unit, onComplete func([]Instance)) *Session {
	s := &Session{
		expected:   len(units),
		inbox:      make(chan Instance, len(units)),
		finished:   make(chan struct{}),
		onComplete: onComplete,
		started:    time.Now(),
		b:          b,
	}
	for _, u := range units {
		u.LinearVelocity = mgl64.Vec3{}
		u.AngularVelocity = mgl64.Vec3{}
	}
	go s.run()
	for _, u := range units {
		b.engine.CreateAsync(u, s.Notify)
	}
	return s
}

// Session tracks one Spawn call.
type Session struct {
	b          *Barrier
	expected   int
	inbox      chan Instance
	finished   chan struct{}
	onComplete func([]Instance)
	started    time.Time
	received   atomic.Int32

	// Owned by run until finished is closed, read-only afterwards.
	seen      map[string]struct{}
	instances []Instance
	err       error
	elapsed   time.Duration

	lateMu sync.Mutex
	late   map[string]struct{}
}

// Notify delivers one engine completion. It is safe for concurrent use;
// duplicates and notifications after the session finished are no-ops.
func (s *Session) Notify(inst Instance) {
	if inst == nil {
		return
	}
	select {
	case <-s.finished:
		s.lateArrival(inst)
		s.drainInbox()
		return
	default:
	}
	select {
	case s.inbox <- inst:
		// run may have finished between the check above and the send, leaving
		// inst in the buffer with no reader.
		select {
		case <-s.finished:
			s.drainInbox()
		default:
		}
	case <-s.finished:
		s.lateArrival(inst)
	}
}

// drainInbox hands buffered notifications that run never read to
// lateArrival. Only called once finished is closed.
func (s *Session) drainInbox() {
	for {
		select {
		case inst := <-s.inbox:
			s.lateArrival(inst)
		default:
			return
		}
	}
}

// finish publishes the outcome, then sweeps notifications that were buffered
// while run was wrapping up.
func (s *Session) finish() {
	s.elapsed = time.Since(s.started)
	close(s.finished)
	s.drainInbox()
}

func (s *Session) run() {
	s.seen = make(map[string]struct{}, s.expected)
	if s.expected == 0 {
		s.activate()
		s.finish()
		return
	}

	var timeout <-chan time.Time
	if s.b.timeout > 0 {
		t := time.NewTimer(s.b.timeout)
		defer t.Stop()
		timeout = t.C
	}

	for {
		select {
		case inst := <-s.inbox:
			id := inst.ID()
			if _, dup := s.seen[id]; dup {
				s.b.log.Printf("duplicate notification for %s ignored", id)
				continue
			}
			s.seen[id] = struct{}{}
			s.instances = append(s.instances, inst)
			s.received.Store(int32(len(s.instances)))
			if len(s.instances) < s.expected {
				continue
			}
			s.activate()
			s.finish()
			return
		case <-timeout:
			s.err = fmt.Errorf("%w: %d/%d after %s", ErrPendingTimeout, len(s.instances), s.expected, s.b.timeout)
			s.b.log.Printf("session failed: %v", s.err)
			if s.b.rollback {
				for _, inst := range s.instances {
					s.discard(inst)
				}
			}
			s.finish()
			return
		}
	}
}

func (s *Session) activate() {
	for _, inst := range s.instances {
		for _, hook := range postActivation {
			inst.OnAdded(hook)
		}
		s.b.engine.AddToWorld(inst)
	}
	s.b.log.Printf("session complete: %d instances in %s", len(s.instances), time.Since(s.started).Round(time.Millisecond))
	if s.onComplete != nil {
		s.onComplete(s.Instances())
	}
}

func (s *Session) lateArrival(inst Instance) {
	if s.err == nil || !s.b.rollback {
		return
	}
	id := inst.ID()
	if _, ok := s.seen[id]; ok {
		return
	}
	s.lateMu.Lock()
	if s.late == nil {
		s.late = map[string]struct{}{}
	}
	_, dup := s.late[id]
	s.late[id] = struct{}{}
	s.lateMu.Unlock()
	if !dup {
		s.discard(inst)
	}
}

func (s *Session) discard(inst Instance) {
	d, ok := s.b.engine.(Discarder)
	if !ok {
		return
	}
	d.Discard(inst)
}

// Done is closed once the session completed or failed.
func (s *Session) Done() <-chan struct{} { return s.finished }

// Wait blocks until every instance is live or the session failed.
func (s *Session) Wait(ctx context.Context) ([]Instance, error) {
	select {
	case <-s.finished:
		return s.Instances(), s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Instances returns a copy of the completed set in arrival order. It is only
// meaningful after Done is closed or from onComplete.
func (s *Session) Instances() []Instance {
	out := make([]Instance, len(s.instances))
	copy(out, s.instances)
	return out
}

func (s *Session) Expected() int { return s.expected }

// Received is the number of distinct instances seen so far.
func (s *Session) Received() int { return int(s.received.Load()) }

// Err returns the failure of a finished session, nil while pending.
func (s *Session) Err() error {
	select {
	case <-s.finished:
		return s.err
	default:
		return nil
	}
}

// Elapsed returns the session run time once finished.
func (s *Session) Elapsed() time.Duration {
	select {
	case <-s.finished:
		return s.elapsed
	default:
		return time.Since(s.started)
	}
}
