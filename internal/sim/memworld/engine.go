package memworld

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"structspawn.ai/internal/sim/align"
	"structspawn.ai/internal/sim/geom"
	"structspawn.ai/internal/sim/placement"
	"structspawn.ai/internal/sim/spawn"
	"structspawn.ai/internal/sim/structure"
)

var (
	_ placement.CollisionProbe    = (*World)(nil)
	_ placement.ObstacleQuery     = (*World)(nil)
	_ placement.LocationCorrector = (*Planet)(nil)
	_ align.GravityProbe          = (*World)(nil)
	_ spawn.Engine                = (*World)(nil)
	_ spawn.Discarder             = (*World)(nil)
	_ spawn.Instance              = (*Instance)(nil)
	_ spawn.DampenerSetter        = propulsion{}
)

// CreateAsync builds the instance on its own goroutine and reports it through
// notify, honoring Config.Latency, DuplicateNotify and Drop.
func (w *World) CreateAsync(u *structure.Unit, notify func(spawn.Instance)) {
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		if w.cfg.Latency > 0 {
			time.Sleep(w.cfg.Latency)
		}
		inst := newInstance(u)
		w.mu.Lock()
		w.instances[inst.id] = inst
		w.mu.Unlock()
		if w.cfg.Drop != nil && w.cfg.Drop(u) {
			w.log.Printf("dropping completion for %s (%s)", u.Name, inst.id)
			return
		}
		notify(inst)
		if w.cfg.DuplicateNotify {
			notify(inst)
		}
	}()
}

// Settle waits for every CreateAsync goroutine to finish.
func (w *World) Settle() { w.pending.Wait() }

func (w *World) AddToWorld(si spawn.Instance) {
	inst, ok := si.(*Instance)
	if !ok {
		return
	}
	inst.mu.Lock()
	if inst.added || inst.discarded {
		inst.mu.Unlock()
		return
	}
	inst.added = true
	hooks := inst.hooks
	inst.hooks = nil
	inst.mu.Unlock()

	w.log.Printf("added %s (%s)", inst.unit.Name, inst.id)
	for _, fn := range hooks {
		fn(inst)
	}
}

func (w *World) Discard(si spawn.Instance) {
	inst, ok := si.(*Instance)
	if !ok {
		return
	}
	inst.mu.Lock()
	inst.discarded = true
	inst.added = false
	inst.mu.Unlock()

	w.mu.Lock()
	delete(w.instances, inst.id)
	w.mu.Unlock()
	w.log.Printf("discarded %s (%s)", inst.unit.Name, inst.id)
}

// RemapIdentities gives every part a fresh ID from the world counter. Ranges
// are reserved up front so units are rewritten in parallel.
func (w *World) RemapIdentities(units []*structure.Unit) {
	var g errgroup.Group
	for _, u := range units {
		if u == nil || len(u.Parts) == 0 {
			continue
		}
		first := w.nextPartID.Add(uint64(len(u.Parts))) - uint64(len(u.Parts)) + 1
		g.Go(func() error {
			for i := range u.Parts {
				u.Parts[i].ID = first + uint64(i)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Instances returns the live instances, added or not.
func (w *World) Instances() []*Instance {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]*Instance, 0, len(w.instances))
	for _, inst := range w.instances {
		out = append(out, inst)
	}
	return out
}

func (w *World) Instance(id string) (*Instance, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	inst, ok := w.instances[id]
	return inst, ok
}

// Instance is a spawned unit. It owns a copy of the unit it was built from.
type Instance struct {
	id     string
	unit   *structure.Unit
	bounds geom.Sphere

	mu        sync.Mutex
	hooks     []func(spawn.Instance)
	added     bool
	discarded bool
	enabled   []bool
	dampeners bool
}

func newInstance(u *structure.Unit) *Instance {
	c := u.Clone()
	inst := &Instance{
		id:        uuid.New().String(),
		unit:      c,
		bounds:    c.WorldBounds(),
		enabled:   make([]bool, len(c.Parts)),
		dampeners: c.Dampeners,
	}
	for i, p := range c.Parts {
		inst.enabled[i] = p.Enabled
	}
	return inst
}

func (i *Instance) ID() string     { return i.id }
func (i *Instance) IsStatic() bool { return i.unit.Static }

func (i *Instance) Unit() *structure.Unit { return i.unit.Clone() }

func (i *Instance) Added() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.added
}

func (i *Instance) Discarded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.discarded
}

func (i *Instance) Dampeners() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.dampeners
}

// PartEnabled reports the live state of part idx.
func (i *Instance) PartEnabled(idx int) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.enabled[idx]
}

func (i *Instance) IsPowered() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	for idx, p := range i.unit.Parts {
		if p.IsPowerProducer() && i.enabled[idx] {
			return true
		}
	}
	return false
}

func (i *Instance) toggles(match func(structure.Part) bool) []spawn.Toggle {
	var out []spawn.Toggle
	for idx, p := range i.unit.Parts {
		if match(p) {
			out = append(out, partToggle{inst: i, idx: idx})
		}
	}
	return out
}

func (i *Instance) PowerProducers() []spawn.Toggle {
	return i.toggles(structure.Part.IsPowerProducer)
}

func (i *Instance) Thrusters() []spawn.Toggle {
	return i.toggles(structure.Part.IsThruster)
}

func (i *Instance) Controllers() []spawn.Controller {
	var out []spawn.Controller
	for _, p := range i.unit.Parts {
		if p.IsController() {
			out = append(out, controller{inst: i})
		}
	}
	return out
}

// Propulsion is nil for units without thrusters.
func (i *Instance) Propulsion() spawn.Propulsion {
	for _, p := range i.unit.Parts {
		if p.IsThruster() {
			return propulsion{inst: i}
		}
	}
	return nil
}

func (i *Instance) OnAdded(fn func(spawn.Instance)) {
	i.mu.Lock()
	if !i.added {
		i.hooks = append(i.hooks, fn)
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()
	fn(i)
}

type partToggle struct {
	inst *Instance
	idx  int
}

func (t partToggle) Enabled() bool { return t.inst.PartEnabled(t.idx) }

func (t partToggle) SetEnabled(on bool) {
	t.inst.mu.Lock()
	t.inst.enabled[t.idx] = on
	t.inst.mu.Unlock()
}

type controller struct{ inst *Instance }

func (c controller) SwitchDamping() {
	c.inst.mu.Lock()
	c.inst.dampeners = !c.inst.dampeners
	c.inst.mu.Unlock()
}

// propulsion is on when any thruster is on.
type propulsion struct{ inst *Instance }

func (p propulsion) Enabled() bool {
	p.inst.mu.Lock()
	defer p.inst.mu.Unlock()
	for idx, part := range p.inst.unit.Parts {
		if part.IsThruster() && p.inst.enabled[idx] {
			return true
		}
	}
	return false
}

func (p propulsion) DampenersEnabled() bool { return p.inst.Dampeners() }

func (p propulsion) SetDampeners(on bool) {
	p.inst.mu.Lock()
	p.inst.dampeners = on
	p.inst.mu.Unlock()
}
