// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package opentherm decodes OpenTherm bus traffic as logged by an OpenTherm
// Gateway.
//
// The gateway prints one line per bus message: an origin letter followed by
// the 32-bit OpenTherm frame in hex. This package validates those frames,
// resolves their data values into named fields, and decodes the gateway's
// comma-separated summary line into the same field space.
package opentherm

// Origin identifies which party put a message on the bus, as reported by
// the gateway.
type Origin byte

// Message origins
const (
	OriginMasterRequest   Origin = 'T' // Thermostat request
	OriginSlaveResponse   Origin = 'B' // Boiler response
	OriginGatewayRequest  Origin = 'R' // Request substituted by the gateway
	OriginGatewayResponse Origin = 'A' // Response substituted by the gateway
)

// IsMaster reports whether the origin sends requests.
func (o Origin) IsMaster() bool {
	return o == OriginMasterRequest || o == OriginGatewayRequest
}

// IsSlave reports whether the origin sends responses.
func (o Origin) IsSlave() bool {
	return o == OriginSlaveResponse || o == OriginGatewayResponse
}

func (o Origin) String() string {
	switch o {
	case OriginMasterRequest:
		return "MasterRequest"
	case OriginSlaveResponse:
		return "SlaveResponse"
	case OriginGatewayRequest:
		return "GatewayRequest"
	case OriginGatewayResponse:
		return "GatewayResponse"
	default:
		return "Unknown"
	}
}

// MessageType is the 3-bit OpenTherm message type.
type MessageType uint8

// Message types. Requests use 0-2; acknowledgements set AckBit.
const (
	ReadData      MessageType = 0
	WriteData     MessageType = 1
	InvalidData   MessageType = 2
	reservedType  MessageType = 3
	ReadAck       MessageType = 4
	WriteAck      MessageType = 5
	DataInvalid   MessageType = 6
	UnknownDataID MessageType = 7
)

// AckBit marks a slave-to-master message type.
const AckBit MessageType = 0x04

// IsAck reports whether the type belongs to the acknowledgement class.
func (t MessageType) IsAck() bool {
	return t&AckBit != 0
}

// Ack returns the acknowledgement type answering request type t.
func (t MessageType) Ack() MessageType {
	return t | AckBit
}

func (t MessageType) String() string {
	switch t {
	case ReadData:
		return "Read-Data"
	case WriteData:
		return "Write-Data"
	case InvalidData:
		return "Invalid-Data"
	case ReadAck:
		return "Read-Ack"
	case WriteAck:
		return "Write-Ack"
	case DataInvalid:
		return "Data-Invalid"
	case UnknownDataID:
		return "Unknown-DataId"
	default:
		return "Reserved"
	}
}

// Well-known data ids used by the gateway tooling.
const (
	IDStatus                 byte = 0x00
	IDControlSetpoint        byte = 0x01
	IDRemoteOverride         byte = 0x09
	IDRoomSetpoint           byte = 0x10
	IDRelativeModulation     byte = 0x11
	IDRoomTemperature        byte = 0x18
	IDBoilerWaterTemperature byte = 0x19
	IDDHWTemperature         byte = 0x1A
	IDOutsideTemperature     byte = 0x1B
	IDDHWBounds              byte = 0x30
	IDMaxCHBounds            byte = 0x31
	IDDHWSetpoint            byte = 0x38
	IDMaxCHSetpoint          byte = 0x39
)
