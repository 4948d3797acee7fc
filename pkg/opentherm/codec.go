// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"fmt"
	"math"
	"strconv"
)

// Value is the 16-bit data value carried by an OpenTherm frame.
type Value uint16

// ParseValue parses a 4-digit hex data value.
func ParseValue(s string) (Value, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("invalid data value %q: expected 4 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid data value %q: %w", s, err)
	}
	return Value(v), nil
}

// Hi returns the high byte.
func (v Value) Hi() uint8 { return uint8(v >> 8) }

// Lo returns the low byte.
func (v Value) Lo() uint8 { return uint8(v) }

func (v Value) String() string {
	return fmt.Sprintf("%04X", uint16(v))
}

// Codec converts a data value into a field value: bool, int or float64.
type Codec func(v Value) any

// FieldKind describes the Go type a codec produces.
type FieldKind int

const (
	KindFlag  FieldKind = iota // bool
	KindInt                    // int
	KindFloat                  // float64
)

// Byte selects the high or low byte of a data value.
type Byte int

const (
	HighByte Byte = iota
	LowByte
)

func (b Byte) of(v Value) uint8 {
	if b == HighByte {
		return v.Hi()
	}
	return v.Lo()
}

// Bit returns a codec testing flag bit n of the selected byte.
func Bit(b Byte, n uint) Codec {
	return func(v Value) any {
		return b.of(v)&(1<<n) != 0
	}
}

// U8Hi reads the high byte unsigned.
func U8Hi(v Value) any { return int(v.Hi()) }

// U8Lo reads the low byte unsigned.
func U8Lo(v Value) any { return int(v.Lo()) }

// S8Hi reads the high byte as two's complement.
func S8Hi(v Value) any { return int(int8(v.Hi())) }

// S8Lo reads the low byte as two's complement.
func S8Lo(v Value) any { return int(int8(v.Lo())) }

// U16 reads the full value unsigned.
func U16(v Value) any { return int(v) }

// S16 reads the full value as two's complement.
func S16(v Value) any { return int(int16(v)) }

// F88 reads the signed fixed-point 8.8 encoding used for temperatures,
// rounded half-up to two decimals.
func F88(v Value) any {
	return roundHundredths(float64(int16(v)) / 256)
}

func roundHundredths(f float64) float64 {
	return math.Floor(f*100+0.5) / 100
}

// Weekday extracts the day of week (bits 5-7 of the high byte) of data-id 0x14.
func Weekday(v Value) any { return int(v.Hi()&0xE0) >> 5 }

// Hour extracts the hour (bits 0-4 of the high byte) of data-id 0x14.
func Hour(v Value) any { return int(v.Hi() & 0x1F) }
