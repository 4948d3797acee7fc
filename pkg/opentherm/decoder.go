// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Decode errors
var (
	ErrInvalidFrame   = errors.New("invalid OpenTherm message")
	ErrParity         = errors.New("parity error")
	ErrInvalidType    = errors.New("invalid OpenTherm message type")
	ErrOriginMismatch = errors.New("origin / message type mismatch")
)

// DecodeError reports a frame that could not be decoded. It is recoverable:
// the line is dropped and processing continues.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Origin letter, type nibble, reserved nibble, data id, data value.
var framePattern = regexp.MustCompile(`^([TBRA])([0-9A-F]0[0-9A-F]{2}[0-9A-F]{4})`)

// IsBusMessage reports whether the line carries an OpenTherm frame.
func IsBusMessage(line string) bool {
	return framePattern.MatchString(line)
}

// Decode parses one bus-log line into a Message.
// Returns a *DecodeError when the frame is malformed, fails the parity
// check, uses the reserved type or carries a type its origin cannot send.
func Decode(line string) (*Message, error) {
	a := framePattern.FindStringSubmatch(line)
	if a == nil {
		return nil, &DecodeError{Line: line, Err: ErrInvalidFrame}
	}
	text := a[0]
	origin := Origin(a[1][0])

	n, err := strconv.ParseUint(a[2], 16, 32)
	if err != nil {
		return nil, &DecodeError{Line: text, Err: ErrInvalidFrame}
	}
	frame := uint32(n)

	if !CheckParity(frame) {
		return nil, &DecodeError{Line: text, Err: ErrParity}
	}

	msgType := MessageType(frame>>28) & 0x07
	if msgType == reservedType {
		return nil, &DecodeError{Line: text, Err: ErrInvalidType}
	}
	if (origin.IsMaster() && msgType.IsAck()) || (origin.IsSlave() && !msgType.IsAck()) {
		return nil, &DecodeError{Line: text, Err: ErrOriginMismatch}
	}

	id := byte(frame >> 16)
	value := Value(frame)

	return &Message{
		Line:      text,
		Origin:    origin,
		Type:      msgType,
		ID:        id,
		Value:     value,
		Fields:    DecodeFields(id, value),
		Timestamp: time.Now(),
	}, nil
}

// EncodeFrame builds the gateway line for a frame, setting the parity bit.
func EncodeFrame(origin Origin, msgType MessageType, id byte, value Value) string {
	frame := uint32(msgType&0x07)<<28 | uint32(id)<<16 | uint32(value)
	return fmt.Sprintf("%c%08X", byte(origin), WithParity(frame))
}
