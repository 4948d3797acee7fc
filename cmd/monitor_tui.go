// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Thermoquad/otgwstat/pkg/accessory"
	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// Accessories that accept settings, in Tab order
var controllable = []string{"Thermostat", "HotWater"}

// TUI model
type monitorModel struct {
	connInfo string
	backend  *monitorBackend

	statuses       map[string]accessory.Status
	stats          opentherm.Statistics
	info           otgw.Info
	bounds         otgw.Boundaries
	connected      bool
	connectedSince time.Time

	selected int
	editing  bool
	input    textinput.Model
	busy     bool

	eventLog      []logEntry
	maxLogEntries int

	width    int
	height   int
	quitting bool
}

// Messages
type monitorTickMsg time.Time
type accessoryMsg struct {
	status accessory.Status
}
type eventMsg struct {
	message string
	isError bool
}
type connectionMsg struct {
	connected bool
	name      string
	err       error
}
type readyMsg struct {
	info   otgw.Info
	bounds otgw.Boundaries
}
type commandResultMsg struct {
	what string
	err  error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(connInfo string, backend *monitorBackend) monitorModel {
	// Initialize text input for setpoints
	ti := textinput.New()
	ti.Placeholder = "20.5"
	ti.CharLimit = 5
	ti.Width = 10

	return monitorModel{
		connInfo:      connInfo,
		backend:       backend,
		statuses:      make(map[string]accessory.Status),
		input:         ti,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case monitorTickMsg:
		if m.backend.gw != nil {
			m.stats = m.backend.gw.Tracker().Statistics()
		}
		return m, monitorTickCmd()

	case accessoryMsg:
		m.statuses[msg.status.Name] = msg.status

	case eventMsg:
		m.addLogEntry(msg.message, msg.isError)

	case connectionMsg:
		m.connected = msg.connected
		if msg.connected {
			m.connInfo = msg.name
			m.connectedSince = time.Now()
			m.addLogEntry("Connected to "+msg.name, false)
		} else if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("Connection lost: %v - reconnecting...", msg.err), true)
		} else {
			m.addLogEntry("Connection closed", true)
		}

	case readyMsg:
		m.info = msg.info
		m.bounds = msg.bounds
		m.addLogEntry(fmt.Sprintf("%s %s ready", msg.info.Model, msg.info.Version), false)
		m.refreshStatuses()

	case commandResultMsg:
		m.busy = false
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.what, msg.err), true)
		} else {
			m.addLogEntry(msg.what+": OK", false)
		}
		m.refreshStatuses()
	}

	if m.editing {
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editing {
		switch msg.String() {
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "esc":
			m.editing = false
			m.input.Blur()
			m.input.SetValue("")
			return m, nil
		case "enter":
			m.editing = false
			m.input.Blur()
			value := m.input.Value()
			m.input.SetValue("")
			return m.sendTemperature(value)
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		m.selected = (m.selected + 1) % len(controllable)

	case "shift+tab":
		m.selected = (m.selected + len(controllable) - 1) % len(controllable)

	case "t":
		if !m.busy {
			m.editing = true
			return m, m.input.Focus()
		}

	case "m":
		return m.cycleMode()

	case "s":
		return m.takeSnapshot()

	case "r":
		if m.backend.gw != nil {
			m.backend.gw.Tracker().ResetStatistics()
			m.stats = m.backend.gw.Tracker().Statistics()
			m.addLogEntry("Statistics reset", false)
		}
	}

	return m, nil
}

func (m *monitorModel) refreshStatuses() {
	if m.backend.set == nil {
		return
	}
	for _, a := range m.backend.set.All() {
		m.statuses[a.Name()] = a.Status()
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

// runCommand runs fn off the UI goroutine and reports the outcome.
func (m *monitorModel) runCommand(what string, fn func(ctx context.Context) error) (tea.Model, tea.Cmd) {
	if !m.connected {
		m.addLogEntry("Cannot send command: not connected", true)
		return m, nil
	}
	if m.busy {
		m.addLogEntry("Cannot send command: another command is running", true)
		return m, nil
	}
	m.busy = true
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), otgw.DefaultQueryTimeout)
		defer cancel()
		return commandResultMsg{what: what, err: fn(ctx)}
	}
}

func (m *monitorModel) sendTemperature(value string) (tea.Model, tea.Cmd) {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid temperature: %q", value), true)
		return m, nil
	}

	set := m.backend.set
	name := controllable[m.selected]
	what := fmt.Sprintf("%s setpoint %g", name, v)

	return m.runCommand(what, func(ctx context.Context) error {
		if name == "Thermostat" {
			return set.Thermostat.SetTargetTemperature(ctx, v)
		}
		return set.HotWater.SetTargetTemperature(ctx, v)
	})
}

// cycleMode clears the thermostat override, or steps hot water through
// off, heat and auto.
func (m *monitorModel) cycleMode() (tea.Model, tea.Cmd) {
	set := m.backend.set
	name := controllable[m.selected]

	if name == "Thermostat" {
		return m.runCommand("Thermostat auto", func(ctx context.Context) error {
			return set.Thermostat.SetTargetState(ctx, accessory.TargetAuto)
		})
	}

	next := accessory.TargetOff
	switch m.statuses[name].TargetState {
	case accessory.TargetOff:
		next = accessory.TargetHeat
	case accessory.TargetHeat:
		next = accessory.TargetAuto
	}
	return m.runCommand("HotWater "+next.String(), func(ctx context.Context) error {
		return set.HotWater.SetTargetState(ctx, next)
	})
}

func (m *monitorModel) takeSnapshot() (tea.Model, tea.Cmd) {
	gw := m.backend.gw
	return m.runCommand("Snapshot", func(ctx context.Context) error {
		_, err := gw.Snapshot(ctx)
		return err
	})
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	entry := logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	}
	m.eventLog = append(m.eventLog, entry)

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	// Header
	var s strings.Builder
	s.WriteString(titleStyle.Render("OTGWSTAT MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if !m.connected {
		connStatus = warningStyle.Render("CONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=select t=temp m=mode s=snapshot r=reset", connStatus)))
	s.WriteString("\n")

	if m.info.Version != "" {
		s.WriteString(fmt.Sprintf(" %s %s", labelStyle.Render("Gateway:"), valueStyle.Render(m.info.Model+" "+m.info.Version)))
	}
	if m.connected {
		s.WriteString(fmt.Sprintf(" %s %s", labelStyle.Render("Connected:"), valueStyle.Render(formatUptime(time.Since(m.connectedSince)))))
	}
	s.WriteString("\n\n")

	s.WriteString(boxStyle.Render(m.renderAccessories(labelStyle, valueStyle, warningStyle, headerStyle)))
	s.WriteString("\n")

	if m.editing {
		s.WriteString(fmt.Sprintf("%s %s %s\n",
			labelStyle.Render(controllable[m.selected]+" setpoint:"),
			m.input.View(),
			headerStyle.Render("(Enter to send, Esc to cancel)")))
	}

	s.WriteString(boxStyle.Render(m.renderStatistics(labelStyle, valueStyle, errorStyle)))
	s.WriteString("\n")

	s.WriteString(m.renderEventLog(labelStyle, headerStyle, errorStyle, warningStyle, boxStyle))

	return s.String()
}

func (m monitorModel) renderAccessories(labelStyle, valueStyle, warningStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder
	for i, name := range []string{"Thermostat", "Boiler", "HotWater"} {
		st, ok := m.statuses[name]

		marker := "  "
		if controllable[m.selected] == name {
			marker = "> "
		}
		s.WriteString(marker)
		s.WriteString(labelStyle.Render(fmt.Sprintf("%-10s", name)))

		if !ok || st.LastUpdated.IsZero() {
			s.WriteString(headerStyle.Render(" (no data yet)"))
		} else {
			state := valueStyle.Render(st.State.String())
			if st.State == accessory.Off {
				state = headerStyle.Render(st.State.String())
			}
			s.WriteString(fmt.Sprintf(" %-4s %s %s -> %s",
				state,
				headerStyle.Render("target "+st.TargetState.String()),
				valueStyle.Render(fmt.Sprintf("%.1f°C", st.Temperature)),
				valueStyle.Render(fmt.Sprintf("%.1f°C", st.TargetTemperature))))
			if st.TargetRange.Valid() {
				s.WriteString(headerStyle.Render(fmt.Sprintf(" [%g-%g]", st.TargetRange.Min, st.TargetRange.Max)))
			}
			if name != "Thermostat" {
				s.WriteString(fmt.Sprintf(" %s", valueStyle.Render(fmt.Sprintf("%.0f%%", st.ValvePosition))))
			}
			if st.Override {
				s.WriteString(" " + warningStyle.Render("override"))
			}
		}
		if i < 2 {
			s.WriteString("\n")
		}
	}
	return s.String()
}

func (m monitorModel) renderStatistics(labelStyle, valueStyle, errorStyle lipgloss.Style) string {
	st := m.stats
	var validPercent float64
	if st.TotalFrames > 0 {
		validPercent = float64(st.ValidFrames) * 100.0 / float64(st.TotalFrames)
	}

	errRate := valueStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	if st.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", st.ErrorRate))
	}

	return fmt.Sprintf("%s %s   %s %s   %s %s   %s %s\n%s %s   %s %s   %s %s   %s %s",
		labelStyle.Render("Frames:"), valueStyle.Render(fmt.Sprintf("%d", st.TotalFrames)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%d (%.1f%%)", st.ValidFrames, validPercent)),
		labelStyle.Render("Decode errors:"), errorStyle.Render(fmt.Sprintf("%d", st.DecodeErrors())),
		labelStyle.Render("Sequence:"), errorStyle.Render(fmt.Sprintf("%d", st.SequenceErrors)),
		labelStyle.Render("Updates:"), valueStyle.Render(fmt.Sprintf("%d", st.StateUpdates)),
		labelStyle.Render("Summaries:"), valueStyle.Render(fmt.Sprintf("%d", st.Summaries)),
		labelStyle.Render("Frame Rate:"), valueStyle.Render(fmt.Sprintf("%.1f/s", st.FrameRate)),
		labelStyle.Render("Error Rate:"), errRate,
	)
}

func (m monitorModel) renderEventLog(labelStyle, headerStyle, errorStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	// Calculate how many log entries we can show
	logHeight := m.height - 16
	if logHeight < 5 {
		logHeight = 5
	}

	logContent := strings.Builder{}
	startIdx := len(m.eventLog) - logHeight
	if startIdx < 0 {
		startIdx = 0
	}

	if len(m.eventLog) == 0 {
		logContent.WriteString(headerStyle.Render("  (no events yet)"))
	} else {
		for i := startIdx; i < len(m.eventLog); i++ {
			entry := m.eventLog[i]
			timestamp := entry.timestamp.Format("15:04:05.000")
			if entry.isError {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), errorStyle.Render("✗ "+entry.message)))
			} else {
				logContent.WriteString(fmt.Sprintf("%s %s\n", headerStyle.Render(timestamp), warningStyle.Render("ℹ "+entry.message)))
			}
		}
	}

	s.WriteString(boxStyle.Width(m.width - 4).Render(logContent.String()))
	return s.String()
}

// inlineFields formats fields on one line, sorted by key
func inlineFields(fields opentherm.Fields) string {
	parts := make([]string, 0, len(fields))
	for _, key := range fields.Keys() {
		parts = append(parts, key+"="+opentherm.FormatValue(key, fields[key]))
	}
	return strings.Join(parts, " ")
}

// formatUptime formats a duration as a human-friendly string
func formatUptime(d time.Duration) string {
	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	seconds %= 60
	minutes %= 60
	hours %= 24

	parts := []string{}
	for _, p := range []struct {
		n    int64
		unit string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}} {
		switch {
		case p.n == 1:
			parts = append(parts, "1 "+p.unit)
		case p.n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", p.n, p.unit))
		}
	}
	if seconds > 0 || len(parts) == 0 {
		if seconds == 1 {
			parts = append(parts, "1 second")
		} else {
			parts = append(parts, fmt.Sprintf("%d seconds", seconds))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}
