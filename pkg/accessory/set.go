// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package accessory

import (
	"context"
	"time"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/sirupsen/logrus"
)

// Set is the thermostat, boiler and hot water of one gateway. It is an
// otgw.Handler: state updates and snapshots go to every accessory, and the
// boundaries read on connect bound the target ranges.
type Set struct {
	Thermostat *Thermostat
	Boiler     *Boiler
	HotWater   *HotWater

	// OnChange is called after an accessory applied new values.
	OnChange func(a Accessory)

	log logrus.FieldLogger
}

// NewSet creates the accessories. Setters send their commands through cmd.
func NewSet(cmd Commander, log logrus.FieldLogger) *Set {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Set{
		Thermostat: NewThermostat(cmd),
		Boiler:     NewBoiler(),
		HotWater:   NewHotWater(cmd),
		log:        log.WithField("component", "accessory"),
	}
}

// All returns the accessories in display order.
func (s *Set) All() []Accessory {
	return []Accessory{s.Thermostat, s.Boiler, s.HotWater}
}

// CheckState hands fields to every accessory.
func (s *Set) CheckState(fields opentherm.Fields) {
	for _, a := range s.All() {
		if a.CheckState(fields) && s.OnChange != nil {
			s.OnChange(a)
		}
	}
}

// SetBoundaries applies the boiler and hot water target ranges.
func (s *Set) SetBoundaries(b otgw.Boundaries) {
	if !b.Valid {
		return
	}
	s.Boiler.SetBoundaries(b.MaxCHMax)
	s.HotWater.SetBoundaries(b.DHWMin, b.DHWMax)
}

// Run drives the hot water heartbeat once per second until ctx is done.
func (s *Set) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for beat := 0; ; beat++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.HotWater.Heartbeat(ctx, beat); err != nil {
				s.log.Warnf("hot water poll: %v", err)
			}
		}
	}
}

// otgw.Handler

func (s *Set) StateUpdate(source string, fields opentherm.Fields) {
	s.CheckState(fields)
}

func (s *Set) Snapshot(fields opentherm.Fields) {
	s.CheckState(fields)
}

func (s *Set) PriorityResult(id byte, fields opentherm.Fields) {}

func (s *Set) DecodeWarning(err error) {}

// otgw.ConnectionHandler

func (s *Set) Connected(name string) {}

func (s *Set) Disconnected(err error) {}

func (s *Set) Ready(info otgw.Info, bounds otgw.Boundaries) {
	s.SetBoundaries(bounds)
}
