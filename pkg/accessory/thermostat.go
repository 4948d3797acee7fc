// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package accessory

import (
	"context"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
)

// Thermostat shows the room temperature and setpoint. A setpoint written
// through the gateway (TT) overrides the thermostat's own program until it
// is cleared with TT=0.
type Thermostat struct {
	base
}

func NewThermostat(cmd Commander) *Thermostat {
	return &Thermostat{base: newBase("Thermostat", cmd)}
}

func (t *Thermostat) CheckState(fields opentherm.Fields) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := &t.status
	updated := false

	if v, ok := fields.Float("room_setpoint_remote_override"); ok {
		s.Override = v > 0
		if s.Override {
			s.TargetTemperature = round1(v)
		}
		updated = true
	}
	if on, ok := fields.Bool("slave_status_ch_mode"); ok {
		s.State = heatingState(on)
		updated = true
	}
	if fields.Has("master_status_ch_enable") {
		if s.Override {
			s.TargetState = TargetHeat
		} else {
			s.TargetState = TargetAuto
		}
	}
	if v, ok := fields.Float("room_temperature"); ok {
		s.Temperature = round1(v)
		updated = true
	}
	if v, ok := fields.Float("room_setpoint"); ok && !s.Override {
		s.TargetTemperature = round1(v)
		updated = true
	}
	if v, ok := fields.Float("max_relative_modulation_setting"); ok {
		s.ValvePosition = v
		updated = true
	}

	return t.touch(updated)
}

// SetTargetState only accepts TargetAuto, which hands control back to the
// thermostat program. TargetHeat is implied by setting a temperature.
func (t *Thermostat) SetTargetState(ctx context.Context, state TargetState) error {
	switch state {
	case TargetHeat:
		return nil
	case TargetAuto:
	default:
		return ErrInvalidTargetState
	}

	if _, err := t.cmd.Command(ctx, "TT=0"); err != nil {
		return err
	}
	t.mu.Lock()
	t.status.Override = false
	t.status.TargetState = TargetAuto
	t.mu.Unlock()
	return nil
}

// SetTargetTemperature temporarily overrides the room setpoint.
func (t *Thermostat) SetTargetTemperature(ctx context.Context, v float64) error {
	_, err := t.cmd.Command(ctx, "TT="+formatTemperature(v))
	return err
}
