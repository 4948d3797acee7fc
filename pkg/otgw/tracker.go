// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otgw

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/sirupsen/logrus"
)

// ErrPriorityPending is returned when a priority query is already waiting.
var ErrPriorityPending = errors.New("other priority message pending")

// Handler receives the tracker's output events. All methods are called from
// the line-processing goroutine and must not block on gateway commands.
type Handler interface {
	// StateUpdate reports the fields of one completed exchange. source is
	// the frame that carried the values.
	StateUpdate(source string, fields opentherm.Fields)
	// Snapshot reports a decoded summary line.
	Snapshot(fields opentherm.Fields)
	// PriorityResult reports the answer to a priority query.
	PriorityResult(id byte, fields opentherm.Fields)
	// DecodeWarning reports a dropped frame, summary or sequence violation.
	DecodeWarning(err error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	OnStateUpdate    func(source string, fields opentherm.Fields)
	OnSnapshot       func(fields opentherm.Fields)
	OnPriorityResult func(id byte, fields opentherm.Fields)
	OnDecodeWarning  func(err error)
}

func (h HandlerFuncs) StateUpdate(source string, fields opentherm.Fields) {
	if h.OnStateUpdate != nil {
		h.OnStateUpdate(source, fields)
	}
}

func (h HandlerFuncs) Snapshot(fields opentherm.Fields) {
	if h.OnSnapshot != nil {
		h.OnSnapshot(fields)
	}
}

func (h HandlerFuncs) PriorityResult(id byte, fields opentherm.Fields) {
	if h.OnPriorityResult != nil {
		h.OnPriorityResult(id, fields)
	}
}

func (h HandlerFuncs) DecodeWarning(err error) {
	if h.OnDecodeWarning != nil {
		h.OnDecodeWarning(err)
	}
}

// MultiHandler forwards every event to each handler in order. Handlers that
// implement ConnectionHandler also receive lifecycle events.
type MultiHandler []Handler

func (m MultiHandler) StateUpdate(source string, fields opentherm.Fields) {
	for _, h := range m {
		h.StateUpdate(source, fields)
	}
}

func (m MultiHandler) Snapshot(fields opentherm.Fields) {
	for _, h := range m {
		h.Snapshot(fields)
	}
}

func (m MultiHandler) PriorityResult(id byte, fields opentherm.Fields) {
	for _, h := range m {
		h.PriorityResult(id, fields)
	}
}

func (m MultiHandler) DecodeWarning(err error) {
	for _, h := range m {
		h.DecodeWarning(err)
	}
}

func (m MultiHandler) Connected(name string) {
	for _, h := range m {
		if ch, ok := h.(ConnectionHandler); ok {
			ch.Connected(name)
		}
	}
}

func (m MultiHandler) Disconnected(err error) {
	for _, h := range m {
		if ch, ok := h.(ConnectionHandler); ok {
			ch.Disconnected(err)
		}
	}
}

func (m MultiHandler) Ready(info Info, bounds Boundaries) {
	for _, h := range m {
		if ch, ok := h.(ConnectionHandler); ok {
			ch.Ready(info, bounds)
		}
	}
}

// Commander sends one gateway command and returns its reply value.
type Commander interface {
	Command(ctx context.Context, command string) (string, error)
}

// Informational lines printed by the gateway
var (
	commandEchoPattern  = regexp.MustCompile(`^Command(?: \(.*\))?: `)
	responsePattern     = regexp.MustCompile(`^[A-Z]{2}: `)
	gatewayErrorPattern = regexp.MustCompile(`^Error 0[1-4]`)
)

type priorityQuery struct {
	id   byte
	done chan opentherm.Fields
}

// Tracker turns gateway lines into state updates, snapshots and priority
// query results.
type Tracker struct {
	handler Handler
	log     logrus.FieldLogger

	mu        sync.Mutex
	session   Session
	priority  *priorityQuery
	snapshots []chan opentherm.Fields
	stats     *opentherm.Statistics
}

// NewTracker creates a tracker reporting to handler.
func NewTracker(handler Handler, log logrus.FieldLogger) *Tracker {
	if handler == nil {
		handler = HandlerFuncs{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Tracker{
		handler: handler,
		log:     log.WithField("component", "tracker"),
		stats:   opentherm.NewStatistics(),
	}
}

// HandleLine classifies and processes one line. It is the LineHandler for a
// Client and must be called from a single goroutine.
func (t *Tracker) HandleLine(line string) {
	switch {
	case opentherm.IsBusMessage(line):
		t.handleFrame(line)

	case opentherm.IsSummary(line):
		t.handleSummary(line)

	case commandEchoPattern.MatchString(line):
		_, cmd, _ := strings.Cut(line, ": ")
		t.log.Debugf("command: %s", cmd)

	case responsePattern.MatchString(line):
		prefix, value, _ := strings.Cut(line, ": ")
		t.log.Debugf("command: %s, response: %s", prefix, value)

	case gatewayErrorPattern.MatchString(line):
		t.log.Warn(line)

	default:
		t.log.Warnf("ignore unknown message %s", line)
	}
}

func (t *Tracker) handleFrame(line string) {
	m, err := opentherm.Decode(line)

	t.mu.Lock()
	if err != nil {
		t.stats.Update(nil, err, nil)
		t.mu.Unlock()
		t.log.Warnf("%v: ignore invalid OpenTherm message", err)
		t.handler.DecodeWarning(err)
		return
	}
	t.stats.Update(m, nil, opentherm.ValidateMessage(m))

	priorityID := NoPriority
	if t.priority != nil {
		priorityID = int(t.priority.id)
	}

	var out Output
	t.session, out = t.session.Step(m, priorityID)

	var q *priorityQuery
	if out.Priority {
		q = t.priority
		t.priority = nil
	}
	if out.Warning != nil {
		t.stats.RecordSequenceError()
	}
	if out.Update {
		t.stats.RecordStateUpdate()
	}
	t.mu.Unlock()

	if out.Warning != nil {
		t.log.Warn(out.Warning.Error())
		t.handler.DecodeWarning(out.Warning)
	}
	if q != nil {
		q.done <- m.Fields
		t.handler.PriorityResult(m.ID, m.Fields)
	}
	if out.Update {
		t.log.Debugf("%s: %v", m.Line, m.Fields)
		t.handler.StateUpdate(m.Line, m.Fields)
	}
}

func (t *Tracker) handleSummary(line string) {
	fields, err := opentherm.DecodeSummary(line)

	t.mu.Lock()
	t.stats.RecordSummary(err)
	var waiting []chan opentherm.Fields
	if err == nil {
		waiting = t.snapshots
		t.snapshots = nil
	}
	t.mu.Unlock()

	if err != nil {
		t.log.Warnf("%v: ignore invalid summary message", err)
		t.handler.DecodeWarning(err)
		return
	}

	t.log.Debugf("summary: %v", fields)
	for _, ch := range waiting {
		ch <- fields
	}
	t.handler.Snapshot(fields)
}

// Reset returns the session to idle, e.g. after reconnecting.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.session = Session{}
}

// Session returns the current session state.
func (t *Tracker) Session() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

// Statistics returns a copy of the message statistics.
func (t *Tracker) Statistics() opentherm.Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := *t.stats
	stats.CalculateRates()
	return stats
}

// ResetStatistics clears the message statistics.
func (t *Tracker) ResetStatistics() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.Reset()
}

// PriorityQuery asks the gateway to put a read of data id on the bus with
// priority (PM=<id>) and waits for the boiler's answer. Only one query may
// be pending; a second fails with ErrPriorityPending. The caller bounds the
// wait through ctx.
func (t *Tracker) PriorityQuery(ctx context.Context, c Commander, id byte) (opentherm.Fields, error) {
	t.mu.Lock()
	if t.priority != nil {
		t.mu.Unlock()
		return nil, ErrPriorityPending
	}
	q := &priorityQuery{id: id, done: make(chan opentherm.Fields, 1)}
	t.priority = q
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		if t.priority == q {
			t.priority = nil
		}
		t.mu.Unlock()
	}()

	if _, err := c.Command(ctx, fmt.Sprintf("PM=%d", id)); err != nil {
		return nil, err
	}

	select {
	case fields := <-q.done:
		return fields, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("priority message %d: %w", id, ctx.Err())
	}
}

// PriorityPending reports whether a priority query is waiting.
func (t *Tracker) PriorityPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.priority != nil
}

// Snapshot asks the gateway for a summary line (PS=1), waits for it and
// resumes message logging (PS=0).
func (t *Tracker) Snapshot(ctx context.Context, c Commander) (opentherm.Fields, error) {
	ch := make(chan opentherm.Fields, 1)
	t.mu.Lock()
	t.snapshots = append(t.snapshots, ch)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		for i, s := range t.snapshots {
			if s == ch {
				t.snapshots = append(t.snapshots[:i], t.snapshots[i+1:]...)
				break
			}
		}
		t.mu.Unlock()
	}()

	if _, err := c.Command(ctx, "PS=1"); err != nil {
		return nil, err
	}

	var fields opentherm.Fields
	select {
	case fields = <-ch:
	case <-ctx.Done():
		// Leave the gateway logging even though the summary never came
		resumeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_, _ = c.Command(resumeCtx, "PS=0")
		return nil, fmt.Errorf("summary: %w", ctx.Err())
	}

	if _, err := c.Command(ctx, "PS=0"); err != nil {
		return fields, err
	}
	return fields, nil
}
