// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otgw

import (
	"fmt"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
)

// State is the position within one exchange cycle.
type State int

const (
	StateT  State = iota // awaiting thermostat request
	StateRB              // awaiting gateway request or boiler response
	StateB               // awaiting boiler response to the gateway's request
	StateA               // awaiting gateway response to the thermostat
	StateTA              // boiler refused; awaiting gateway response
)

func (s State) String() string {
	switch s {
	case StateT:
		return "T"
	case StateRB:
		return "RB"
	case StateB:
		return "B"
	case StateA:
		return "A"
	case StateTA:
		return "TA"
	default:
		return "?"
	}
}

// Request is a pending request of the current cycle.
type Request struct {
	ID    byte
	Type  opentherm.MessageType
	Valid bool
}

// Session tracks one exchange cycle. The zero value is idle.
//
// R is only ever valid while T is valid.
type Session struct {
	State State
	T     Request // thermostat request
	R     Request // request substituted by the gateway
}

// NoPriority is passed to Step when no priority query is pending.
const NoPriority = -1

// Output is what a single step produces.
type Output struct {
	Update   bool           // emit a state update with the message's fields
	Priority bool           // the message answers the pending priority query
	Warning  *SequenceError // the message broke the expected sequence
}

// SequenceError reports a message that did not fit the exchange cycle.
type SequenceError struct {
	Line  string
	State State

	// Abandoned is set when a thermostat request cut a cycle short. The new
	// request is still tracked.
	Abandoned bool
}

func (e *SequenceError) Error() string {
	if e.Abandoned {
		return fmt.Sprintf("%s: out of sequence in state %s, previous exchange abandoned", e.Line, e.State)
	}
	return fmt.Sprintf("%s: ignore out of sequence message in state %s", e.Line, e.State)
}

// Step advances the session by one decoded message. priorityID is the data
// id of the pending priority query, or NoPriority.
func (s Session) Step(m *opentherm.Message, priorityID int) (Session, Output) {
	var out Output

	// A thermostat request always opens a new cycle.
	if m.Origin == opentherm.OriginMasterRequest {
		if s.State != StateT && s.State != StateTA {
			out.Warning = &SequenceError{Line: m.Line, State: s.State, Abandoned: true}
		}
		if m.Type == opentherm.WriteData {
			out.Update = true
		}
		return Session{
			State: StateRB,
			T:     Request{ID: m.ID, Type: m.Type, Valid: true},
		}, out
	}

	switch s.State {
	case StateRB:
		switch {
		case m.Origin == opentherm.OriginGatewayRequest:
			s.R = Request{ID: m.ID, Type: m.Type, Valid: true}
			s.State = StateB
			return s, out

		case m.Origin == opentherm.OriginSlaveResponse && m.ID == s.T.ID:
			if m.Type == opentherm.DataInvalid || m.Type == opentherm.UnknownDataID {
				s.State = StateTA
				return s, out
			}
			if m.Type == s.T.Type.Ack() {
				out.Update = true
				return Session{}, out
			}
		}

	case StateB:
		if m.Origin == opentherm.OriginSlaveResponse && m.ID == s.R.ID {
			if int(m.ID) == priorityID {
				out.Priority = true
			}
			if m.Type == s.R.Type.Ack() {
				out.Update = true
			}
			s.State = StateA
			return s, out
		}

	case StateA, StateTA:
		if m.Origin == opentherm.OriginGatewayResponse && m.ID == s.T.ID {
			// Skip values already reported from the boiler's own response.
			if m.Type == s.T.Type.Ack() && !(s.R.Valid && m.ID == s.R.ID) {
				out.Update = true
			}
			return Session{}, out
		}
	}

	out.Warning = &SequenceError{Line: m.Line, State: s.State}
	return Session{}, out
}
