// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package accessory

import "github.com/Thermoquad/otgwstat/pkg/opentherm"

// BoilerMinSetpoint is the lower end of the boiler's target range. The
// upper end comes from the max CH setpoint boundaries.
const BoilerMinSetpoint = 10

// Boiler shows the central heating water temperature, flame and modulation.
// It is read-only.
type Boiler struct {
	base
}

func NewBoiler() *Boiler {
	return &Boiler{base: newBase("Boiler", nil)}
}

func (b *Boiler) CheckState(fields opentherm.Fields) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := &b.status
	updated := false

	if on, ok := fields.Bool("slave_status_flame_status"); ok {
		s.State = heatingState(on)
		updated = true
	}
	if on, ok := fields.Bool("master_status_ch_enable"); ok {
		if on {
			s.TargetState = TargetHeat
		} else {
			s.TargetState = TargetOff
		}
	}
	if v, ok := fields.Float("boiler_water_temperature"); ok {
		s.Temperature = round1(v)
		updated = true
	}
	if v, ok := fields.Float("control_setpoint"); ok {
		s.TargetTemperature = round1(v)
		updated = true
	}
	if v, ok := fields.Float("relative_modulation_level"); ok {
		s.ValvePosition = v
		updated = true
	}

	return b.touch(updated)
}

// SetBoundaries applies the max CH setpoint upper bound.
func (b *Boiler) SetBoundaries(maxCHMax int) {
	b.setRange(Range{Min: BoilerMinSetpoint, Max: float64(maxCHMax)})
}
