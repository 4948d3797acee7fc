// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records gateway traffic to a CBOR file and reads it back
// for replay.
package capture

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Direction of a captured line.
type Direction uint8

const (
	Received Direction = 0
	Sent     Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Received:
		return "rx"
	case Sent:
		return "tx"
	default:
		return "??"
	}
}

// Record is one captured line. CBOR encoding uses integer keys.
type Record struct {
	Timestamp time.Time `cbor:"1,keyasint"`
	SessionID string    `cbor:"2,keyasint"`
	Direction Direction `cbor:"3,keyasint"`
	Line      string    `cbor:"4,keyasint"`
	Source    string    `cbor:"5,keyasint,omitempty"` // connection name
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyQuiet,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create capture CBOR decoder mode: %v", err))
	}
}

// EncodeRecord encodes a single record.
func EncodeRecord(r Record) ([]byte, error) {
	return encMode.Marshal(r)
}

// DecodeRecord decodes a single record.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
