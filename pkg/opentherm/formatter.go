// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"fmt"
	"strings"
)

// FormatMessage formats a message into a human-readable string
func FormatMessage(m *Message) string {
	timestamp := m.Timestamp.Format("15:04:05.000")

	result := fmt.Sprintf("[%s] %s %s %s (0x%02X) value=%s\n",
		timestamp, m.Line, m.Origin, m.Type, m.ID, m.Value)

	if len(m.Fields) > 0 {
		result += FormatFields(m.Fields)
	}

	return result
}

// FormatFields formats decoded fields one per line, sorted by key
func FormatFields(fields Fields) string {
	result := ""
	for _, key := range fields.Keys() {
		result += fmt.Sprintf("  %s: %s\n", key, FormatValue(key, fields[key]))
	}
	return result
}

// FormatValue formats a single field value
func FormatValue(key string, v any) string {
	switch val := v.(type) {
	case bool:
		if val {
			return "on"
		}
		return "off"
	case float64:
		switch {
		case strings.HasSuffix(key, "_temperature"), strings.Contains(key, "setpoint"):
			return fmt.Sprintf("%.2f°C", val)
		case strings.Contains(key, "modulation"):
			return fmt.Sprintf("%.2f%%", val)
		case key == "ch_water_pressure":
			return fmt.Sprintf("%.2f bar", val)
		case key == "dhw_flow_rate":
			return fmt.Sprintf("%.2f l/min", val)
		}
		return fmt.Sprintf("%.2f", val)
	case int:
		if strings.HasSuffix(key, "_operation_hours") {
			return formatHours(uint64(val))
		}
		if strings.HasSuffix(key, "_setpoint_max") || strings.HasSuffix(key, "_setpoint_min") {
			return fmt.Sprintf("%d°C", val)
		}
		return fmt.Sprintf("%d", val)
	}
	return fmt.Sprintf("%v", v)
}

// formatHours converts an hour counter to a human-readable duration
func formatHours(hours uint64) string {
	if hours == 0 {
		return "0 hours"
	}

	const (
		hoursPerDay  = 24
		hoursPerYear = 365 * hoursPerDay
	)

	years := hours / hoursPerYear
	hours %= hoursPerYear

	days := hours / hoursPerDay
	hours %= hoursPerDay

	parts := []string{}
	parts = appendUnit(parts, years, "year")
	parts = appendUnit(parts, days, "day")
	parts = appendUnit(parts, hours, "hour")

	// Join parts with commas and "and"
	switch len(parts) {
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " and " + parts[1]
	default:
		last := parts[len(parts)-1]
		rest := parts[:len(parts)-1]
		return strings.Join(rest, ", ") + ", and " + last
	}
}

func appendUnit(parts []string, n uint64, unit string) []string {
	switch {
	case n == 0:
		return parts
	case n == 1:
		return append(parts, "1 "+unit)
	default:
		return append(parts, fmt.Sprintf("%d %ss", n, unit))
	}
}
