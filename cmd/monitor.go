// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/Thermoquad/otgwstat/pkg/accessory"
	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for the thermostat, boiler and hot water",
	Long: `Follow the OpenTherm bus in an interactive terminal UI.

This command shows the thermostat, boiler and hot water state as the
gateway relays the bus, together with bus statistics and an event log.

Features:
  - Gateway identification and boiler boundaries on connect
  - Live accessory state from every completed exchange
  - Room setpoint override and hot water control
  - Full summary snapshots on demand
  - Automatic reconnection on connection loss

Keys: Tab selects an accessory, t edits its target temperature, m cycles
its mode, s takes a snapshot, r resets statistics, q quits.`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	app, err := NewQuietApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	backend := &monitorBackend{}
	m := initialMonitorModel(app.ConnectionInfo(), backend)
	p := tea.NewProgram(m, tea.WithAltScreen())

	backend.gw, backend.set = app.NewAccessoryGateway(&programHandler{p: p})
	backend.set.OnChange = func(a accessory.Accessory) {
		p.Send(accessoryMsg{status: a.Status()})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go backend.gw.Run(ctx)
	go backend.set.Run(ctx)

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

// monitorBackend is shared by all copies of the model.
type monitorBackend struct {
	gw  *otgw.Gateway
	set *accessory.Set
}

// programHandler turns tracker and connection events into TUI messages.
type programHandler struct {
	p *tea.Program
}

func (h *programHandler) StateUpdate(source string, fields opentherm.Fields) {}

func (h *programHandler) Snapshot(fields opentherm.Fields) {
	h.p.Send(eventMsg{message: fmt.Sprintf("Snapshot: %d fields", len(fields))})
}

func (h *programHandler) PriorityResult(id byte, fields opentherm.Fields) {
	h.p.Send(eventMsg{message: fmt.Sprintf("Priority %d: %s", id, inlineFields(fields))})
}

func (h *programHandler) DecodeWarning(err error) {
	h.p.Send(eventMsg{message: err.Error(), isError: true})
}

func (h *programHandler) Connected(name string) {
	h.p.Send(connectionMsg{connected: true, name: name})
}

func (h *programHandler) Disconnected(err error) {
	h.p.Send(connectionMsg{err: err})
}

func (h *programHandler) Ready(info otgw.Info, bounds otgw.Boundaries) {
	h.p.Send(readyMsg{info: info, bounds: bounds})
}
