// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

// FieldDefinition names one field of a data value and how to decode it.
type FieldDefinition struct {
	Key   string
	Kind  FieldKind
	Codec Codec
}

// Decode applies the definition's codec.
func (d FieldDefinition) Decode(v Value) any {
	return d.Codec(v)
}

func flag(key string, b Byte, n uint) FieldDefinition {
	return FieldDefinition{Key: key, Kind: KindFlag, Codec: Bit(b, n)}
}

func integer(key string, c Codec) FieldDefinition {
	return FieldDefinition{Key: key, Kind: KindInt, Codec: c}
}

func float(key string) FieldDefinition {
	return FieldDefinition{Key: key, Kind: KindFloat, Codec: F88}
}

// dataIDs maps OpenTherm v2.2 data ids to their fields.
// Treat as read-only; use Definitions for lookups.
var dataIDs = map[byte][]FieldDefinition{
	// Class 1: control and status information
	0x00: {
		flag("master_status_ch_enable", HighByte, 0),
		flag("master_status_dhw_enable", HighByte, 1),
		flag("master_status_cooling_enable", HighByte, 2),
		flag("master_status_otc_active", HighByte, 3),
		flag("master_status_ch2_enable", HighByte, 4),
		flag("slave_status_fault", LowByte, 0),
		flag("slave_status_ch_mode", LowByte, 1),
		flag("slave_status_dhw_mode", LowByte, 2),
		flag("slave_status_flame_status", LowByte, 3),
		flag("slave_status_cooling_status", LowByte, 4),
		flag("slave_status_ch2_mode", LowByte, 5),
		flag("slave_status_diagnostic_indication", LowByte, 6),
	},
	0x01: {float("control_setpoint")},
	0x05: {
		flag("application_flags_service_request", HighByte, 0),
		flag("application_flags_lockout_reset", HighByte, 1),
		flag("application_flags_low_water_pressure", HighByte, 2),
		flag("application_flags_flame_fault", HighByte, 3),
		flag("application_flags_air_pressure_fault", HighByte, 4),
		flag("application_flags_water_over_temperature", HighByte, 5),
		integer("oem_fault_code", U8Lo),
	},
	0x08: {float("control_setpoint2")},
	0x73: {integer("oem_diagnostic_code", U16)},

	// Class 2: configuration information
	0x02: {integer("master_memberid", U8Lo)},
	0x03: {
		flag("slave_configuration_dhw_present", HighByte, 0),
		flag("slave_configuration_control_type_onoff", HighByte, 1),
		flag("slave_configuration_cooling_config", HighByte, 2),
		flag("slave_configuration_dhw_config", HighByte, 3),
		flag("slave_configuration_master_control_disallowed", HighByte, 4),
		flag("slave_configuration_ch2_present", HighByte, 5),
		integer("slave_memberid", U8Lo),
	},
	0x7C: {float("master_opentherm_version")},
	0x7D: {float("slave_opentherm_version")},
	0x7E: {
		integer("master_product_type", U8Hi),
		integer("master_product_version", U8Lo),
	},
	0x7F: {
		integer("slave_product_type", U8Hi),
		integer("slave_product_version", U8Lo),
	},

	// Class 3: remote commands
	0x04: {
		integer("command_code", U8Hi),
		integer("command_response_code", U8Lo),
	},

	// Class 4: sensor and informational data
	0x10: {float("room_setpoint")},
	0x11: {float("relative_modulation_level")},
	0x12: {float("ch_water_pressure")},
	0x13: {float("dhw_flow_rate")},
	0x14: {
		integer("weekday", Weekday),
		integer("hour", Hour),
		integer("minute", U8Lo),
	},
	0x15: {
		integer("month", U8Hi),
		integer("day", U8Lo),
	},
	0x16: {integer("year", U16)},
	0x17: {float("room_setpoint2")},
	0x18: {float("room_temperature")},
	0x19: {float("boiler_water_temperature")},
	0x1A: {float("dhw_temperature")},
	0x1B: {float("outside_temperature")},
	0x1C: {float("return_water_temperature")},
	0x1D: {float("solar_storage_temperature")},
	0x1E: {integer("solar_collector_temperature", S16)},
	0x1F: {float("flow_temperature_ch2")},
	0x20: {float("dhw2_temperature")},
	0x21: {integer("exhaust_temperature", S16)},
	0x74: {integer("burner_starts", U16)},
	0x75: {integer("ch_pump_starts", U16)},
	0x76: {integer("dhw_pump_starts", U16)},
	0x77: {integer("dhw_burner_starts", U16)},
	0x78: {integer("burner_operation_hours", U16)},
	0x79: {integer("ch_pump_operation_hours", U16)},
	0x7A: {integer("dhw_pump_operation_hours", U16)},
	0x7B: {integer("dhw_burner_operation_hours", U16)},

	// Class 5: pre-defined remote boiler parameters
	0x06: {
		flag("remote_parameter_enable_dhw_setpoint", HighByte, 0),
		flag("remote_parameter_enable_max_ch_setpoint", HighByte, 1),
		flag("remote_parameter_write_dhw_setpoint", LowByte, 0),
		flag("remote_parameter_write_max_ch_setpoint", LowByte, 1),
	},
	0x30: {
		integer("dhw_setpoint_max", S8Hi),
		integer("dhw_setpoint_min", S8Lo),
	},
	0x31: {
		integer("max_ch_setpoint_max", S8Hi),
		integer("max_ch_setpoint_min", S8Lo),
	},
	0x38: {float("dhw_setpoint")},
	0x39: {float("max_ch_setpoint")},

	// Class 6: transparent slave parameters
	0x0A: {integer("tsp_number", U8Hi)},
	0x0B: {
		integer("tsp_index", U8Hi),
		integer("tsp_value", U8Lo),
	},

	// Class 7: fault history data
	0x0C: {integer("fault_buffer_size", U8Hi)},
	0x0D: {
		integer("fault_index", U8Hi),
		integer("fault_value", U8Lo),
	},

	// Class 8: control of special applications
	0x07: {float("cooling_control")},
	0x0E: {float("max_relative_modulation_setting")},
	0x0F: {
		integer("max_boiler_capacity", U8Hi),
		integer("min_modulation_level", U8Lo),
	},
	0x09: {float("room_setpoint_remote_override")},
	0x64: {
		flag("remote_override_manual_change_priority", LowByte, 0),
		flag("remote_override_programme_change_priority", LowByte, 1),
	},
}

// Definitions returns the field definitions for a data id, or nil for an
// id the table does not know.
func Definitions(id byte) []FieldDefinition {
	return dataIDs[id]
}

// KnownIDs returns the number of data ids with field definitions.
func KnownIDs() int {
	return len(dataIDs)
}

// DecodeFields resolves a data value into named fields.
// Unknown ids yield an empty map.
func DecodeFields(id byte, v Value) Fields {
	defs := dataIDs[id]
	fields := make(Fields, len(defs))
	for _, d := range defs {
		fields[d.Key] = d.Decode(v)
	}
	return fields
}
