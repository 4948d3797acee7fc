// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks bus message statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames     uint64
	ValidFrames     uint64
	ParityErrors    uint64
	TypeErrors      uint64
	OriginErrors    uint64
	MalformedFrames uint64
	Summaries       uint64
	SummaryErrors   uint64
	SequenceErrors  uint64
	StateUpdates    uint64
	AnomalousValues uint64
	DataInvalid     uint64
	UnknownDataIDs  uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update updates statistics based on a decoded frame and its errors
func (s *Statistics) Update(m *Message, decodeErr error, validationErrors []ValidationError) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	if decodeErr != nil {
		switch {
		case errors.Is(decodeErr, ErrParity):
			s.ParityErrors++
		case errors.Is(decodeErr, ErrInvalidType):
			s.TypeErrors++
		case errors.Is(decodeErr, ErrOriginMismatch):
			s.OriginErrors++
		default:
			s.MalformedFrames++
		}
		return
	}

	if len(validationErrors) == 0 {
		s.ValidFrames++
		return
	}
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyDataInvalid:
			s.DataInvalid++
		case AnomalyUnknownDataID:
			s.UnknownDataIDs++
		default:
			s.AnomalousValues++
		}
	}
}

// RecordSummary counts a summary line
func (s *Statistics) RecordSummary(err error) {
	s.LastUpdateTime = time.Now()
	if err != nil {
		s.SummaryErrors++
		return
	}
	s.Summaries++
}

// RecordSequenceError counts an out-of-sequence reset
func (s *Statistics) RecordSequenceError() {
	s.SequenceErrors++
}

// RecordStateUpdate counts an emitted state update
func (s *Statistics) RecordStateUpdate() {
	s.StateUpdates++
}

// DecodeErrors returns the number of frames that failed to decode.
func (s *Statistics) DecodeErrors() uint64 {
	return s.ParityErrors + s.TypeErrors + s.OriginErrors + s.MalformedFrames
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		errorCount := s.DecodeErrors() + s.SummaryErrors + s.SequenceErrors + s.AnomalousValues
		s.ErrorRate = float64(errorCount) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	percent := func(n uint64) float64 {
		if s.TotalFrames == 0 {
			return 0
		}
		return float64(n) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, percent(s.ValidFrames))

	if n := s.DecodeErrors(); n > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d (%.1f%%)\n", n, percent(n))
		if s.ParityErrors > 0 {
			result += fmt.Sprintf("  Parity:           %5d\n", s.ParityErrors)
		}
		if s.TypeErrors > 0 {
			result += fmt.Sprintf("  Invalid Type:     %5d\n", s.TypeErrors)
		}
		if s.OriginErrors > 0 {
			result += fmt.Sprintf("  Origin Mismatch:  %5d\n", s.OriginErrors)
		}
		if s.MalformedFrames > 0 {
			result += fmt.Sprintf("  Malformed:        %5d\n", s.MalformedFrames)
		}
	}
	if s.AnomalousValues > 0 {
		result += fmt.Sprintf("Anomalous Values:%8d (%.1f%%)\n", s.AnomalousValues, percent(s.AnomalousValues))
	}
	if s.DataInvalid > 0 || s.UnknownDataIDs > 0 {
		result += fmt.Sprintf("Data Invalid:    %8d\n", s.DataInvalid)
		result += fmt.Sprintf("Unknown Data-ID: %8d\n", s.UnknownDataIDs)
	}
	if s.SequenceErrors > 0 {
		result += fmt.Sprintf("Out of Sequence: %8d\n", s.SequenceErrors)
	}
	result += fmt.Sprintf("Summaries:       %8d", s.Summaries)
	if s.SummaryErrors > 0 {
		result += fmt.Sprintf(" (%d invalid)", s.SummaryErrors)
	}
	result += "\n"
	result += fmt.Sprintf("State Updates:   %8d\n", s.StateUpdates)

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
