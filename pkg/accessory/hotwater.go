// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package accessory

import (
	"context"
	"fmt"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
)

// HeartbeatPeriod is the number of beats between PR=W polls.
const HeartbeatPeriod = 60

// HotWater shows the domestic hot water state. The gateway can force hot
// water on or off (HW=1, HW=0) or leave it to the thermostat (HW=A).
type HotWater struct {
	base

	waiting bool // HW command in flight
	phase   int  // beat within the period on which PR=W is polled
	started bool
}

func NewHotWater(cmd Commander) *HotWater {
	return &HotWater{base: newBase("HotWater", cmd)}
}

func (h *HotWater) CheckState(fields opentherm.Fields) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := &h.status
	updated := false

	if on, ok := fields.Bool("slave_status_dhw_mode"); ok {
		s.State = heatingState(on)
		if on {
			s.ValvePosition = 100
		} else {
			s.ValvePosition = 0
		}
		updated = true
	}
	if on, ok := fields.Bool("master_status_dhw_enable"); ok && !h.waiting {
		switch {
		case !s.Override:
			s.TargetState = TargetAuto
		case on:
			s.TargetState = TargetHeat
		default:
			s.TargetState = TargetOff
		}
	}
	if v, ok := fields.Float("boiler_water_temperature"); ok {
		s.Temperature = round1(v)
		updated = true
	}
	if v, ok := fields.Float("dhw_setpoint"); ok {
		s.TargetTemperature = round1(v)
		updated = true
	}

	return h.touch(updated)
}

// SetTargetState forces hot water off or on, or returns it to the
// thermostat.
func (h *HotWater) SetTargetState(ctx context.Context, state TargetState) error {
	var arg string
	switch state {
	case TargetOff:
		arg = "0"
	case TargetHeat:
		arg = "1"
	case TargetAuto:
		arg = "A"
	default:
		return ErrInvalidTargetState
	}

	h.mu.Lock()
	h.waiting = true
	h.mu.Unlock()

	_, err := h.cmd.Command(ctx, "HW="+arg)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.waiting = false
	if err != nil {
		return err
	}
	h.status.Override = state != TargetAuto
	h.status.TargetState = state
	return nil
}

// SetTargetTemperature sets the hot water setpoint (SW) within the boiler's
// DHW boundaries.
func (h *HotWater) SetTargetTemperature(ctx context.Context, v float64) error {
	h.mu.Lock()
	r := h.status.TargetRange
	h.mu.Unlock()

	if !r.Contains(v) {
		return fmt.Errorf("%g not in [%g, %g]: %w", v, r.Min, r.Max, ErrOutOfRange)
	}
	_, err := h.cmd.Command(ctx, "SW="+formatTemperature(v))
	return err
}

// SetBoundaries applies the DHW setpoint boundaries.
func (h *HotWater) SetBoundaries(lo, hi int) {
	h.setRange(Range{Min: float64(lo), Max: float64(hi)})
}

// Heartbeat polls PR=W once per HeartbeatPeriod beats to learn whether the
// hot water override is still active. The first beat picks the phase so
// that the poll does not coincide with start-up traffic.
func (h *HotWater) Heartbeat(ctx context.Context, beat int) error {
	h.mu.Lock()
	if !h.started {
		h.started = true
		h.phase = (beat + 5) % HeartbeatPeriod
	}
	due := beat%HeartbeatPeriod == h.phase
	h.mu.Unlock()

	if !due {
		return nil
	}
	return h.Poll(ctx)
}

// Poll asks the gateway for its hot water override setting.
func (h *HotWater) Poll(ctx context.Context) error {
	resp, err := h.cmd.Command(ctx, "PR=W")
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.status.Override = resp != "W=A"
	h.mu.Unlock()
	return nil
}
