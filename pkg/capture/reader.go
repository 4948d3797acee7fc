// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capture

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects records. Zero fields match everything.
type Filter struct {
	SessionID string
	Direction *Direction
}

func (f Filter) matches(r Record) bool {
	if f.SessionID != "" && r.SessionID != f.SessionID {
		return false
	}
	if f.Direction != nil && r.Direction != *f.Direction {
		return false
	}
	return true
}

// Reader streams records from a capture.
type Reader struct {
	r       io.Reader
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader reads all records from r.
func NewReader(r io.Reader, filter Filter) *Reader {
	return &Reader{r: r, decoder: newDecoder(r), filter: filter}
}

// Open reads records from the capture file at path.
func Open(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewReader(f, filter), nil
}

// Next returns the next matching record, or io.EOF.
func (r *Reader) Next() (Record, error) {
	for {
		var rec Record
		if err := r.decoder.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return Record{}, io.EOF
			}
			return Record{}, err
		}
		if r.filter.matches(rec) {
			return rec, nil
		}
	}
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Replay hands every received line to fn. With speed > 0 the original
// spacing between records is kept, divided by speed. Sent lines are skipped.
func (r *Reader) Replay(ctx context.Context, speed float64, fn func(Record)) (int, error) {
	var last time.Time
	n := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if rec.Direction != Received {
			continue
		}

		if speed > 0 && !last.IsZero() {
			if gap := rec.Timestamp.Sub(last); gap > 0 {
				select {
				case <-time.After(time.Duration(float64(gap) / speed)):
				case <-ctx.Done():
					return n, ctx.Err()
				}
			}
		}
		last = rec.Timestamp

		if err := ctx.Err(); err != nil {
			return n, err
		}
		fn(rec)
		n++
	}
}
