package spawn

import "structspawn.ai/internal/sim/structure"

// Toggle is a part that can be switched on and off.
type Toggle interface {
	Enabled() bool
	SetEnabled(on bool)
}

// Controller is a part able to pilot its unit.
type Controller interface {
	// SwitchDamping flips inertial dampening for the whole unit.
	SwitchDamping()
}

// Propulsion is a unit's thrust subsystem.
type Propulsion interface {
	Enabled() bool
	DampenersEnabled() bool
}

// DampenerSetter is the optional direct affordance for dampeners. When a
// Propulsion implements it, SetDampeners is used instead of toggling.
type DampenerSetter interface {
	SetDampeners(on bool)
}

// Instance is a live unit created by the engine.
type Instance interface {
	ID() string
	IsStatic() bool
	IsPowered() bool
	// Propulsion returns nil when the unit has no thrust subsystem.
	Propulsion() Propulsion
	PowerProducers() []Toggle
	Thrusters() []Toggle
	Controllers() []Controller
	// OnAdded registers fn to run once the instance is added to the world.
	OnAdded(fn func(Instance))
}

// Engine materializes units asynchronously.
type Engine interface {
	// CreateAsync starts instantiating u and eventually calls notify exactly
	// once, from any goroutine, with the live instance.
	CreateAsync(u *structure.Unit, notify func(Instance))
	AddToWorld(inst Instance)
	// RemapIdentities assigns fresh part identities that collide with nothing
	// already in the world.
	RemapIdentities(units []*structure.Unit)
}

// Discarder is the optional rollback capability used when a session times
// out with some units already created.
type Discarder interface {
	Discard(inst Instance)
}
