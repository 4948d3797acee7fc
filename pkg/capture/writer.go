// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// Writer appends records to a capture stream. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	closer  io.Closer
	encoder *cbor.Encoder
	session string
	source  string
	count   uint64
	err     error
	now     func() time.Time
}

// NewWriter writes records to w. Every Writer gets a fresh session id.
func NewWriter(w io.Writer, source string) *Writer {
	cw := &Writer{
		encoder: newEncoder(w),
		session: uuid.NewString(),
		source:  source,
		now:     time.Now,
	}
	if c, ok := w.(io.Closer); ok {
		cw.closer = c
	}
	return cw
}

// Create opens path for appending and returns a Writer on it.
func Create(path, source string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return NewWriter(f, source), nil
}

// SessionID identifies this capture session within the file.
func (w *Writer) SessionID() string {
	return w.session
}

// Count returns the number of records written.
func (w *Writer) Count() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Write records one line. After the first error all writes fail with it.
func (w *Writer) Write(dir Direction, line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return w.err
	}
	w.err = w.encoder.Encode(Record{
		Timestamp: w.now(),
		SessionID: w.session,
		Direction: dir,
		Line:      line,
		Source:    w.source,
	})
	if w.err == nil {
		w.count++
	}
	return w.err
}

// Tap adapts the writer to otgw.ClientOptions.Tap. Write errors are kept
// and reported by Err.
func (w *Writer) Tap(dir otgw.Direction, line string) {
	d := Received
	if dir == otgw.Sent {
		d = Sent
	}
	_ = w.Write(d, line)
}

// Err returns the first write error.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close closes the underlying file, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = os.ErrClosed
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
