// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSummaryLength is returned for a line whose entry count does not match
// SummaryLayout.
var ErrSummaryLength = errors.New("invalid summary message")

// SummaryConverter turns one summary entry into the data value the gateway
// would have put on the bus.
type SummaryConverter func(s string) (Value, error)

// SummaryEntry describes one comma-separated position of a summary line.
// A nil Convert means the entry is a plain decimal number.
type SummaryEntry struct {
	ID      byte
	Convert SummaryConverter
}

// SummaryLayout lists the data ids reported by PS=1, in order.
var SummaryLayout = []SummaryEntry{
	{ID: 0x00, Convert: TwoBitFields},
	{ID: 0x01},
	{ID: 0x06, Convert: TwoBitFields},
	{ID: 0x07},
	{ID: 0x08},
	{ID: 0x0E},
	{ID: 0x0F, Convert: TwoBytes},
	{ID: 0x10},
	{ID: 0x11},
	{ID: 0x12},
	{ID: 0x13},
	{ID: 0x17},
	{ID: 0x18},
	{ID: 0x19},
	{ID: 0x1A},
	{ID: 0x1B},
	{ID: 0x1C},
	{ID: 0x1F},
	{ID: 0x21},
	{ID: 0x30, Convert: TwoBytes},
	{ID: 0x31, Convert: TwoBytes},
	{ID: 0x38},
	{ID: 0x39},
	{ID: 0x46, Convert: TwoBitFields},
	{ID: 0x47},
	{ID: 0x4D},
	{ID: 0x74},
	{ID: 0x75},
	{ID: 0x76},
	{ID: 0x77},
	{ID: 0x78},
	{ID: 0x79},
	{ID: 0x7A},
	{ID: 0x7B},
}

// TwoBytes converts "a/b" with decimal bytes into the value (a<<8)+b.
func TwoBytes(s string) (Value, error) {
	return splitPair(s, 10)
}

// TwoBitFields converts "a/b" with binary bytes into the value (a<<8)+b.
func TwoBitFields(s string) (Value, error) {
	return splitPair(s, 2)
}

func splitPair(s string, base int) (Value, error) {
	hi, lo, ok := strings.Cut(s, "/")
	if !ok {
		return 0, fmt.Errorf("summary entry %q: missing '/'", s)
	}
	a, err := strconv.ParseUint(strings.TrimSpace(hi), base, 8)
	if err != nil {
		return 0, fmt.Errorf("summary entry %q: %w", s, err)
	}
	b, err := strconv.ParseUint(strings.TrimSpace(lo), base, 8)
	if err != nil {
		return 0, fmt.Errorf("summary entry %q: %w", s, err)
	}
	return Value(a<<8 + b), nil
}

// summarySlack is how far a line's entry count may stray from SummaryLayout
// and still be treated as a summary. Such lines fail DecodeSummary with
// ErrSummaryLength instead of being ignored.
const summarySlack = 8

// IsSummary reports whether the line looks like a PS=1 summary: a run of
// comma-separated entries close to the length of SummaryLayout. Use
// DecodeSummary to check the exact count.
func IsSummary(line string) bool {
	if strings.Contains(line, ": ") {
		return false
	}
	n := strings.Count(line, ",") + 1
	return n >= len(SummaryLayout)-summarySlack && n <= len(SummaryLayout)+summarySlack
}

// DecodeSummary parses a PS=1 summary line into one merged set of fields.
// Converted entries go through the data-id codecs. Plain entries are read
// as decimal numbers and typed by field kind.
func DecodeSummary(line string) (Fields, error) {
	entries := strings.Split(line, ",")
	if len(entries) != len(SummaryLayout) {
		return nil, fmt.Errorf("%s: %w", line, ErrSummaryLength)
	}

	fields := make(Fields)
	for i, entry := range SummaryLayout {
		defs := Definitions(entry.ID)
		if len(defs) == 0 {
			continue
		}
		raw := strings.TrimSpace(entries[i])

		if entry.Convert != nil {
			v, err := entry.Convert(raw)
			if err != nil {
				return nil, fmt.Errorf("data-id %02X: %w", entry.ID, err)
			}
			for _, d := range defs {
				fields[d.Key] = d.Decode(v)
			}
			continue
		}

		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("data-id %02X: summary entry %q: %w", entry.ID, raw, err)
		}
		for _, d := range defs {
			switch d.Kind {
			case KindFlag:
				fields[d.Key] = n != 0
			case KindInt:
				fields[d.Key] = int(n)
			default:
				fields[d.Key] = n
			}
		}
	}
	return fields, nil
}
