// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import (
	"sort"
	"time"
)

// Fields maps field keys to decoded values (bool, int or float64).
type Fields map[string]any

// Message is one decoded bus message.
type Message struct {
	Line      string // frame as printed by the gateway, e.g. "T80190000"
	Origin    Origin
	Type      MessageType
	ID        byte
	Value     Value
	Fields    Fields
	Timestamp time.Time
}

// Keys returns the field keys in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge copies every field of other into f.
func (f Fields) Merge(other Fields) {
	for k, v := range other {
		f[k] = v
	}
}

// Float extracts a numeric field as float64
func (f Fields) Float(key string) (float64, bool) {
	if f == nil {
		return 0, false
	}
	switch v := f[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

// Int extracts a numeric field as int
func (f Fields) Int(key string) (int, bool) {
	if f == nil {
		return 0, false
	}
	switch v := f[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Bool extracts a flag field
func (f Fields) Bool(key string) (bool, bool) {
	if f == nil {
		return false, false
	}
	v, ok := f[key].(bool)
	return v, ok
}

// Has reports whether the key is present.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}
