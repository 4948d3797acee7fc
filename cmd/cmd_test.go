// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/otgwstat/internal/config"
	"github.com/Thermoquad/otgwstat/pkg/accessory"
	"github.com/Thermoquad/otgwstat/pkg/capture"
	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
)

func TestParseDataID(t *testing.T) {
	tests := []struct {
		in      string
		want    byte
		wantErr bool
	}{
		{"49", 49, false},
		{"0x30", 0x30, false},
		{"0", 0, false},
		{"256", 0, true},
		{"abc", 0, true},
		{"-1", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDataID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDataID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseDataID(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0 seconds"},
		{time.Second, "1 second"},
		{90 * time.Second, "1 minute and 30 seconds"},
		{2 * time.Hour, "2 hours"},
		{26*time.Hour + 3*time.Minute + 4*time.Second, "1 day, 2 hours, 3 minutes, and 4 seconds"},
	}

	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestInlineFields(t *testing.T) {
	got := inlineFields(opentherm.Fields{"max_ch_setpoint_min": 20, "max_ch_setpoint_max": 80})
	if !strings.HasPrefix(got, "max_ch_setpoint_max=") || !strings.Contains(got, " max_ch_setpoint_min=") {
		t.Errorf("inlineFields = %q", got)
	}
}

func TestFormatStatus(t *testing.T) {
	line := formatStatus(accessory.Status{
		Name:              "HotWater",
		State:             accessory.Heat,
		TargetState:       accessory.TargetHeat,
		Temperature:       52.5,
		TargetTemperature: 55,
		TargetRange:       accessory.Range{Min: 40, Max: 60},
		ValvePosition:     100,
		Override:          true,
	})

	for _, want := range []string{"HotWater", "heat", "52.5°C", "55.0°C", "[40-60]", "100%", "(override)"} {
		if !strings.Contains(line, want) {
			t.Errorf("formatStatus = %q, missing %q", line, want)
		}
	}
}

func TestLoadConfig_Flags(t *testing.T) {
	t.Setenv(EnvPassword, "unused")
	t.Cleanup(func() {
		monitorAddr = ""
		logLevel = ""
	})

	if err := summaryCmd.ParseFlags([]string{"--monitor", "otgw.local:8080", "--log-level", "debug"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(summaryCmd)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Gateway.Monitor != "otgw.local:8080" {
		t.Errorf("Monitor = %q", cfg.Gateway.Monitor)
	}
	if cfg.Gateway.Address != "" || cfg.Gateway.SerialPort != "" {
		t.Errorf("connection flags must replace configured connections: %+v", cfg.Gateway)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestApp_TapWritesCapture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.cbor")
	cfg := config.Default()
	cfg.Capture.Path = path

	app, err := newApp(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}

	var seen []string
	gcfg := app.GatewayConfig(true, func(dir otgw.Direction, line string) {
		seen = append(seen, dir.String()+" "+line)
	})
	if !gcfg.SkipInit || len(gcfg.Dialers) != 1 {
		t.Errorf("GatewayConfig = %+v", gcfg)
	}

	gcfg.Tap(otgw.Sent, "PR=A")
	gcfg.Tap(otgw.Received, "PR: A=OpenTherm Gateway 4.2.5")
	app.Close()

	if want := []string{"tx PR=A", "rx PR: A=OpenTherm Gateway 4.2.5"}; strings.Join(seen, "|") != strings.Join(want, "|") {
		t.Errorf("tap saw %v, want %v", seen, want)
	}

	r, err := capture.Open(path, capture.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	var lines []string
	for {
		rec, err := r.Next()
		if err != nil {
			break
		}
		lines = append(lines, rec.Line)
	}
	if len(lines) != 2 || lines[0] != "PR=A" {
		t.Errorf("capture = %v", lines)
	}

	if _, err := os.Stat(path); err != nil {
		t.Error(err)
	}
}
