// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package opentherm

import "math/bits"

// CheckParity reports whether the 32-bit frame has even parity.
func CheckParity(frame uint32) bool {
	return bits.OnesCount32(frame)%2 == 0
}

// WithParity sets the parity bit (bit 31) so the frame has even parity.
func WithParity(frame uint32) uint32 {
	frame &^= 1 << 31
	if !CheckParity(frame) {
		frame |= 1 << 31
	}
	return frame
}
