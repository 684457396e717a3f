package spawn

// EnablePower switches on every disabled power producer of a mobile,
// unpowered instance.
func EnablePower(inst Instance) {
	if inst.IsStatic() || inst.IsPowered() {
		return
	}
	for _, p := range inst.PowerProducers() {
		if !p.Enabled() {
			p.SetEnabled(true)
		}
	}
}

// EnableDampeners turns inertial dampening on for a mobile instance whose
// propulsion has it off. Without a direct setter the first controller toggles
// it, which is only correct because the state was just observed as off.
func EnableDampeners(inst Instance) {
	if inst.IsStatic() {
		return
	}
	prop := inst.Propulsion()
	if prop == nil || prop.DampenersEnabled() {
		return
	}
	if s, ok := prop.(DampenerSetter); ok {
		s.SetDampeners(true)
		return
	}
	ctrls := inst.Controllers()
	if len(ctrls) == 0 {
		return
	}
	ctrls[0].SwitchDamping()
}

// EnableThrusters switches on every disabled thruster of a mobile instance
// whose propulsion subsystem is off.
func EnableThrusters(inst Instance) {
	if inst.IsStatic() {
		return
	}
	prop := inst.Propulsion()
	if prop == nil || prop.Enabled() {
		return
	}
	for _, t := range inst.Thrusters() {
		if !t.Enabled() {
			t.SetEnabled(true)
		}
	}
}

// postActivation is the fixed hook order registered on every instance.
var postActivation = []func(Instance){EnablePower, EnableDampeners, EnableThrusters}
