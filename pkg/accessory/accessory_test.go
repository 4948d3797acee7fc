// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package accessory

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
)

// recordingCommander answers every command with reply and records it.
type recordingCommander struct {
	mu       sync.Mutex
	commands []string
	reply    string
	err      error
}

func (r *recordingCommander) Command(ctx context.Context, command string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	return r.reply, r.err
}

func (r *recordingCommander) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

var fixedTime = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func frameFields(t *testing.T, line string) opentherm.Fields {
	t.Helper()
	m, err := opentherm.Decode(line)
	if err != nil {
		t.Fatalf("Decode(%q) failed: %v", line, err)
	}
	return m.Fields
}

// ============================================================
// Thermostat Tests
// ============================================================

func TestThermostat_CheckState(t *testing.T) {
	th := NewThermostat(&recordingCommander{})
	th.now = func() time.Time { return fixedTime }

	if !th.CheckState(opentherm.Fields{"room_temperature": 20.26, "room_setpoint": 19.5}) {
		t.Fatal("expected update")
	}
	s := th.Status()
	if s.Temperature != 20.3 {
		t.Errorf("Temperature = %v, want 20.3", s.Temperature)
	}
	if s.TargetTemperature != 19.5 {
		t.Errorf("TargetTemperature = %v, want 19.5", s.TargetTemperature)
	}
	if !s.LastUpdated.Equal(fixedTime) {
		t.Errorf("LastUpdated = %v", s.LastUpdated)
	}

	// Fields of other accessories are not an update
	if th.CheckState(opentherm.Fields{"dhw_setpoint": 55.0}) {
		t.Error("unexpected update")
	}
}

func TestThermostat_Override(t *testing.T) {
	th := NewThermostat(&recordingCommander{})

	th.CheckState(opentherm.Fields{"room_setpoint_remote_override": 21.0})
	th.CheckState(opentherm.Fields{"room_setpoint": 18.0, "master_status_ch_enable": true})

	s := th.Status()
	if !s.Override {
		t.Fatal("expected override")
	}
	if s.TargetTemperature != 21.0 {
		t.Errorf("TargetTemperature = %v, want the override 21", s.TargetTemperature)
	}
	if s.TargetState != TargetHeat {
		t.Errorf("TargetState = %v, want heat", s.TargetState)
	}

	// Override cleared by the gateway
	th.CheckState(opentherm.Fields{"room_setpoint_remote_override": 0.0})
	th.CheckState(opentherm.Fields{"room_setpoint": 18.0, "master_status_ch_enable": true})

	s = th.Status()
	if s.Override || s.TargetTemperature != 18.0 || s.TargetState != TargetAuto {
		t.Errorf("after clearing override: %+v", s)
	}
}

func TestThermostat_FromFrames(t *testing.T) {
	th := NewThermostat(&recordingCommander{})

	// status 0x030A: CH and DHW enabled, CH mode and flame on
	th.CheckState(frameFields(t, "BC000030A"))
	th.CheckState(frameFields(t, "BC0181E00"))

	s := th.Status()
	if s.State != Heat {
		t.Errorf("State = %v, want heat", s.State)
	}
	if s.Temperature != 30.0 {
		t.Errorf("Temperature = %v, want 30", s.Temperature)
	}
}

func TestThermostat_Setters(t *testing.T) {
	cmd := &recordingCommander{reply: "20.5"}
	th := NewThermostat(cmd)
	ctx := context.Background()

	if err := th.SetTargetTemperature(ctx, 20.5); err != nil {
		t.Fatal(err)
	}
	th.CheckState(opentherm.Fields{"room_setpoint_remote_override": 20.5})

	if err := th.SetTargetState(ctx, TargetHeat); err != nil {
		t.Fatal(err)
	}
	if err := th.SetTargetState(ctx, TargetAuto); err != nil {
		t.Fatal(err)
	}
	if err := th.SetTargetState(ctx, TargetOff); !errors.Is(err, ErrInvalidTargetState) {
		t.Errorf("SetTargetState(off) = %v, want ErrInvalidTargetState", err)
	}

	want := []string{"TT=20.5", "TT=0"}
	if got := cmd.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
	if th.Status().Override {
		t.Error("override still set after TT=0")
	}
}

// ============================================================
// Boiler Tests
// ============================================================

func TestBoiler_CheckState(t *testing.T) {
	b := NewBoiler()

	updated := b.CheckState(opentherm.Fields{
		"slave_status_flame_status": true,
		"master_status_ch_enable":   false,
		"boiler_water_temperature":  45.54,
		"control_setpoint":          50.0,
		"relative_modulation_level": 40.0,
	})
	if !updated {
		t.Fatal("expected update")
	}

	s := b.Status()
	want := Status{
		Name:              "Boiler",
		State:             Heat,
		TargetState:       TargetOff,
		Temperature:       45.5,
		TargetTemperature: 50,
		ValvePosition:     40,
		LastUpdated:       s.LastUpdated,
	}
	if !reflect.DeepEqual(s, want) {
		t.Errorf("Status = %+v, want %+v", s, want)
	}

	// Enable alone changes the target but is not a displayed update
	if b.CheckState(opentherm.Fields{"master_status_ch_enable": true}) {
		t.Error("unexpected update")
	}
	if b.Status().TargetState != TargetHeat {
		t.Error("expected target heat")
	}
}

// ============================================================
// Hot Water Tests
// ============================================================

func TestHotWater_CheckState(t *testing.T) {
	h := NewHotWater(&recordingCommander{})

	h.CheckState(opentherm.Fields{
		"slave_status_dhw_mode":    true,
		"master_status_dhw_enable": true,
		"dhw_setpoint":             55.0,
	})
	s := h.Status()
	if s.State != Heat || s.ValvePosition != 100 {
		t.Errorf("State = %v, ValvePosition = %v", s.State, s.ValvePosition)
	}
	if s.TargetState != TargetAuto {
		t.Errorf("TargetState = %v, want auto without override", s.TargetState)
	}
	if s.TargetTemperature != 55 {
		t.Errorf("TargetTemperature = %v", s.TargetTemperature)
	}

	h.status.Override = true
	h.CheckState(opentherm.Fields{"slave_status_dhw_mode": false, "master_status_dhw_enable": false})
	s = h.Status()
	if s.State != Off || s.ValvePosition != 0 || s.TargetState != TargetOff {
		t.Errorf("after override off: %+v", s)
	}
}

func TestHotWater_SetTargetState(t *testing.T) {
	tests := []struct {
		state    TargetState
		command  string
		override bool
	}{
		{TargetOff, "HW=0", true},
		{TargetHeat, "HW=1", true},
		{TargetAuto, "HW=A", false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			cmd := &recordingCommander{}
			h := NewHotWater(cmd)

			if err := h.SetTargetState(context.Background(), tt.state); err != nil {
				t.Fatal(err)
			}
			if got := cmd.Commands(); len(got) != 1 || got[0] != tt.command {
				t.Errorf("commands = %v, want [%s]", got, tt.command)
			}
			s := h.Status()
			if s.Override != tt.override || s.TargetState != tt.state {
				t.Errorf("Status = %+v", s)
			}
		})
	}
}

func TestHotWater_SetTargetStateFails(t *testing.T) {
	cmd := &recordingCommander{err: otgw.ErrNotConnected}
	h := NewHotWater(cmd)

	err := h.SetTargetState(context.Background(), TargetHeat)
	if !errors.Is(err, otgw.ErrNotConnected) {
		t.Fatalf("err = %v", err)
	}
	if h.Status().Override {
		t.Error("override set although the command failed")
	}
	if h.waiting {
		t.Error("still waiting after failed command")
	}
}

func TestHotWater_SetTargetTemperature(t *testing.T) {
	cmd := &recordingCommander{}
	h := NewHotWater(cmd)
	ctx := context.Background()

	// No boundaries yet
	if err := h.SetTargetTemperature(ctx, 70); err != nil {
		t.Fatal(err)
	}

	h.SetBoundaries(40, 60)
	if err := h.SetTargetTemperature(ctx, 52.5); err != nil {
		t.Fatal(err)
	}
	if err := h.SetTargetTemperature(ctx, 65); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("err = %v, want ErrOutOfRange", err)
	}

	want := []string{"SW=70", "SW=52.5"}
	if got := cmd.Commands(); !reflect.DeepEqual(got, want) {
		t.Errorf("commands = %v, want %v", got, want)
	}
}

func TestHotWater_Heartbeat(t *testing.T) {
	cmd := &recordingCommander{reply: "W=1"}
	h := NewHotWater(cmd)
	ctx := context.Background()

	// First beat 3 puts the poll on beat 8 of every period
	for beat := 3; beat < 3+2*HeartbeatPeriod; beat++ {
		if err := h.Heartbeat(ctx, beat); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(cmd.Commands()); got != 2 {
		t.Fatalf("polled %d times, want 2", got)
	}
	if !h.Status().Override {
		t.Error("W=1 must set override")
	}

	cmd.reply = "W=A"
	if err := h.Poll(ctx); err != nil {
		t.Fatal(err)
	}
	if h.Status().Override {
		t.Error("W=A must clear override")
	}
}

// ============================================================
// Set Tests
// ============================================================

func TestSet_Handler(t *testing.T) {
	set := NewSet(&recordingCommander{}, nil)

	var changed []string
	set.OnChange = func(a Accessory) { changed = append(changed, a.Name()) }

	var h otgw.Handler = set
	h.StateUpdate("BC0181E00", frameFields(t, "BC0181E00"))
	if !reflect.DeepEqual(changed, []string{"Thermostat"}) {
		t.Errorf("changed = %v", changed)
	}

	changed = nil
	h.Snapshot(opentherm.Fields{"boiler_water_temperature": 45.5, "room_temperature": 20.25})
	if !reflect.DeepEqual(changed, []string{"Thermostat", "Boiler", "HotWater"}) {
		t.Errorf("changed = %v", changed)
	}

	var ch otgw.ConnectionHandler = set
	ch.Ready(otgw.Info{}, otgw.Boundaries{MaxCHMin: 20, MaxCHMax: 80, DHWMin: 40, DHWMax: 60, Valid: true})
	if r := set.Boiler.Status().TargetRange; r != (Range{Min: 10, Max: 80}) {
		t.Errorf("boiler range = %+v", r)
	}
	if r := set.HotWater.Status().TargetRange; r != (Range{Min: 40, Max: 60}) {
		t.Errorf("hot water range = %+v", r)
	}
}

func TestParseTargetState(t *testing.T) {
	for in, want := range map[string]TargetState{"off": TargetOff, "heat": TargetHeat, "auto": TargetAuto, "A": TargetAuto} {
		got, err := ParseTargetState(in)
		if err != nil || got != want {
			t.Errorf("ParseTargetState(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseTargetState("cool"); !errors.Is(err, ErrInvalidTargetState) {
		t.Errorf("err = %v", err)
	}
}
