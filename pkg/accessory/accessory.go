// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package accessory maps gateway state onto the three appliances a home
// automation platform shows for an OpenTherm installation: the thermostat,
// the boiler and the hot water supply.
package accessory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
)

// Accessory errors
var (
	ErrInvalidTargetState = errors.New("target state not supported")
	ErrOutOfRange         = errors.New("target temperature out of range")
)

// HeatingState is what an appliance is currently doing.
type HeatingState int

const (
	Off HeatingState = iota
	Heat
)

func (s HeatingState) String() string {
	if s == Heat {
		return "heat"
	}
	return "off"
}

// TargetState is what an appliance has been asked to do.
type TargetState int

const (
	TargetOff TargetState = iota
	TargetHeat
	TargetAuto
)

func (s TargetState) String() string {
	switch s {
	case TargetOff:
		return "off"
	case TargetHeat:
		return "heat"
	case TargetAuto:
		return "auto"
	default:
		return fmt.Sprintf("TargetState(%d)", int(s))
	}
}

// ParseTargetState accepts "off", "heat" or "auto".
func ParseTargetState(s string) (TargetState, error) {
	switch s {
	case "off", "0":
		return TargetOff, nil
	case "heat", "on", "1":
		return TargetHeat, nil
	case "auto", "A":
		return TargetAuto, nil
	}
	return 0, fmt.Errorf("%q: %w", s, ErrInvalidTargetState)
}

// Range bounds a target temperature. The zero value accepts anything.
type Range struct {
	Min float64
	Max float64
}

// Valid reports whether the range has been set.
func (r Range) Valid() bool {
	return r.Max > r.Min
}

// Contains reports whether v lies within an initialized range.
func (r Range) Contains(v float64) bool {
	return !r.Valid() || (v >= r.Min && v <= r.Max)
}

// Status is a snapshot of one accessory.
type Status struct {
	Name              string
	State             HeatingState
	TargetState       TargetState
	Temperature       float64
	TargetTemperature float64
	TargetRange       Range
	ValvePosition     float64 // percent
	Override          bool
	LastUpdated       time.Time
}

// Accessory consumes decoded fields.
type Accessory interface {
	Name() string
	// CheckState applies the fields it knows and reports whether any
	// displayed value changed.
	CheckState(fields opentherm.Fields) bool
	Status() Status
}

// Commander sends a gateway command and returns the reply value.
type Commander interface {
	Command(ctx context.Context, command string) (string, error)
}

// base holds the state shared by all accessories.
type base struct {
	mu     sync.Mutex
	status Status
	cmd    Commander
	now    func() time.Time
}

func newBase(name string, cmd Commander) base {
	return base{
		status: Status{Name: name, TargetState: TargetAuto},
		cmd:    cmd,
		now:    time.Now,
	}
}

func (b *base) Name() string {
	return b.status.Name
}

func (b *base) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *base) touch(updated bool) bool {
	if updated {
		b.status.LastUpdated = b.now()
	}
	return updated
}

func (b *base) setRange(r Range) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status.TargetRange = r
}

func heatingState(on bool) HeatingState {
	if on {
		return Heat
	}
	return Off
}

// round1 rounds to one decimal.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func formatTemperature(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
