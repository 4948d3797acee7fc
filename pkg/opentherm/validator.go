// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"fmt"
	"strings"
)

// AnomalyType represents different kinds of suspicious bus messages
type AnomalyType int

const (
	AnomalyTemperature AnomalyType = iota
	AnomalyModulation
	AnomalyPressure
	AnomalySetpoint
	AnomalyDataInvalid
	AnomalyUnknownDataID
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyTemperature:
		return "temperature"
	case AnomalyModulation:
		return "modulation"
	case AnomalyPressure:
		return "pressure"
	case AnomalySetpoint:
		return "setpoint"
	case AnomalyDataInvalid:
		return "data-invalid"
	case AnomalyUnknownDataID:
		return "unknown-dataid"
	}
	return "unknown"
}

// ValidationError represents a message that decoded but carries an
// implausible value or a negative acknowledgement.
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]any
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// Plausible ranges. The boiler cannot report outside these without a
// broken sensor.
const (
	minTemperature = -40.0
	maxTemperature = 127.0
	maxExhaust     = 500.0
	maxModulation  = 100.0
	maxPressure    = 5.0
	maxSetpoint    = 100.0
)

// ValidateMessage checks a decoded message for anomalies.
// Returns a slice of validation errors (empty if the message is plausible)
func ValidateMessage(m *Message) []ValidationError {
	errors := []ValidationError{}

	switch m.Type {
	case DataInvalid:
		errors = append(errors, ValidationError{
			Type:    AnomalyDataInvalid,
			Message: fmt.Sprintf("data-id %02X: boiler reports data invalid", m.ID),
			Details: map[string]any{"id": m.ID},
		})
		return errors
	case UnknownDataID:
		errors = append(errors, ValidationError{
			Type:    AnomalyUnknownDataID,
			Message: fmt.Sprintf("data-id %02X: not supported by boiler", m.ID),
			Details: map[string]any{"id": m.ID},
		})
		return errors
	}

	// Only values read from or confirmed by the boiler carry sensor data.
	if !m.Type.IsAck() {
		return errors
	}
	return append(errors, ValidateFields(m.Fields)...)
}

// ValidateFields checks decoded field values against plausible ranges.
func ValidateFields(fields Fields) []ValidationError {
	errors := []ValidationError{}

	for _, key := range fields.Keys() {
		v, ok := fields.Float(key)
		if !ok {
			continue
		}
		switch {
		case strings.HasSuffix(key, "_temperature"):
			hi := maxTemperature
			if key == "exhaust_temperature" {
				hi = maxExhaust
			}
			if v < minTemperature || v > hi {
				errors = append(errors, outOfRange(AnomalyTemperature, key, v, minTemperature, hi))
			}
		case strings.Contains(key, "modulation"):
			if v < 0 || v > maxModulation {
				errors = append(errors, outOfRange(AnomalyModulation, key, v, 0, maxModulation))
			}
		case key == "ch_water_pressure":
			if v < 0 || v > maxPressure {
				errors = append(errors, outOfRange(AnomalyPressure, key, v, 0, maxPressure))
			}
		case key == "control_setpoint" || key == "control_setpoint2":
			if v < 0 || v > maxSetpoint {
				errors = append(errors, outOfRange(AnomalySetpoint, key, v, 0, maxSetpoint))
			}
		}
	}

	return errors
}

func outOfRange(t AnomalyType, key string, v, lo, hi float64) ValidationError {
	return ValidationError{
		Type:    t,
		Message: fmt.Sprintf("%s=%g out of range [%g, %g]", key, v, lo, hi),
		Details: map[string]any{"key": key, "value": v, "min": lo, "max": hi},
	}
}
