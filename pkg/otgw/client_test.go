// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otgw

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRetryDelay = 5 * time.Millisecond

func startClient(t *testing.T, conn Connection, handler LineHandler, opts ClientOptions) (*Client, <-chan error) {
	t.Helper()
	if opts.RetryDelay == 0 {
		opts.RetryDelay = testRetryDelay
	}
	if opts.Logger == nil {
		opts.Logger = testLogger()
	}
	c := NewClient(conn, handler, opts)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()
	t.Cleanup(func() { c.Close() })
	return c, errc
}

// ============================================================
// Command Correlation Tests
// ============================================================

func TestClient_CommandResponse(t *testing.T) {
	_, conn := newFakeGateway(t, func(cmd string) []string {
		if cmd == "PR=A" {
			return []string{"PR: A=OpenTherm Gateway 4.2.5"}
		}
		return nil
	})
	rec := &lineRecorder{}
	c, _ := startClient(t, conn, rec.Handle, ClientOptions{Name: "test"})

	resp, err := c.Command(context.Background(), "PR=A")
	require.NoError(t, err)
	assert.Equal(t, "A=OpenTherm Gateway 4.2.5", resp)
	assert.Empty(t, rec.Lines(), "response must not reach the line handler")
}

func TestClient_RetriesOnMismatch(t *testing.T) {
	fake, conn := newFakeGateway(t, func(cmd string) []string {
		return []string{"XY: foo"}
	})
	rec := &lineRecorder{}
	c, _ := startClient(t, conn, rec.Handle, ClientOptions{})

	_, err := c.Command(context.Background(), "PR=A")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoResponse))
	assert.EqualError(t, err, "command PR=A: no response after 5 retries")

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 5, cmdErr.Retries)

	// initial transmission plus five retries
	assert.Len(t, fake.Commands(), 6)
	require.Eventually(t, func() bool { return len(rec.Lines()) == 6 }, time.Second, time.Millisecond)
	for _, line := range rec.Lines() {
		assert.Equal(t, "XY: foo", line)
	}
}

func TestClient_ForwardsBusTrafficThenMatches(t *testing.T) {
	var attempts atomic.Int32
	fake, conn := newFakeGateway(t, func(cmd string) []string {
		if attempts.Add(1) == 1 {
			return []string{"T80190000"}
		}
		return []string{"PS: 1"}
	})
	rec := &lineRecorder{}
	c, _ := startClient(t, conn, rec.Handle, ClientOptions{})

	resp, err := c.Command(context.Background(), "PS=1")
	require.NoError(t, err)
	assert.Equal(t, "1", resp)
	assert.Equal(t, []string{"PS=1", "PS=1"}, fake.Commands())
	assert.Equal(t, []string{"T80190000"}, rec.Lines())
}

func TestClient_UnsolicitedLinesReachHandler(t *testing.T) {
	fake, conn := newFakeGateway(t, nil)
	rec := &lineRecorder{}
	startClient(t, conn, rec.Handle, ClientOptions{})

	fake.Send("T80190000", "", "B40191E00", "PR: A=unsolicited")

	require.Eventually(t, func() bool { return len(rec.Lines()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"T80190000", "B40191E00", "PR: A=unsolicited"}, rec.Lines())
}

func TestClient_CustomRetries(t *testing.T) {
	fake, conn := newFakeGateway(t, func(cmd string) []string {
		return []string{"Error 01"}
	})
	c, _ := startClient(t, conn, nil, ClientOptions{MaxRetries: 2})

	_, err := c.Command(context.Background(), "TT=20.5")
	assert.EqualError(t, err, "command TT=20.5: no response after 2 retries")
	assert.Len(t, fake.Commands(), 3)
}

// ============================================================
// Concurrency Tests
// ============================================================

func TestClient_CommandInFlight(t *testing.T) {
	fake, conn := newFakeGateway(t, nil)
	c, _ := startClient(t, conn, nil, ClientOptions{})

	first := make(chan error, 1)
	go func() {
		_, err := c.Command(context.Background(), "PS=1")
		first <- err
	}()
	require.Eventually(t, func() bool { return len(fake.Commands()) == 1 }, time.Second, time.Millisecond)

	assert.True(t, c.Busy())

	_, err := c.Command(context.Background(), "PS=0")
	assert.ErrorIs(t, err, ErrCommandInFlight)

	// The first command is undisturbed and answered normally
	fake.Send("PS: 1")
	select {
	case err := <-first:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("first command did not complete")
	}
	assert.False(t, c.Busy())
	assert.Equal(t, []string{"PS=1"}, fake.Commands())
}

func TestClient_ContextCancel(t *testing.T) {
	_, conn := newFakeGateway(t, nil)
	c, _ := startClient(t, conn, nil, ClientOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Command(ctx, "PR=A")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The channel is free again
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, err = c.Command(ctx2, "PR=A")
	assert.NotErrorIs(t, err, ErrCommandInFlight)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// ============================================================
// Connection Loss Tests
// ============================================================

func TestClient_ConnectionLoss(t *testing.T) {
	fake, conn := newFakeGateway(t, nil)

	var closed atomic.Int32
	var closeErr error
	var mu sync.Mutex
	c, errc := startClient(t, conn, nil, ClientOptions{
		OnClose: func(err error) {
			mu.Lock()
			closeErr = err
			mu.Unlock()
			closed.Add(1)
		},
	})

	pending := make(chan error, 1)
	go func() {
		_, err := c.Command(context.Background(), "PR=A")
		pending <- err
	}()
	require.Eventually(t, func() bool { return len(fake.Commands()) == 1 }, time.Second, time.Millisecond)

	fake.conn.Close()

	select {
	case err := <-pending:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("in-flight command did not fail on connection loss")
	}

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrConnectionClosed)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	assert.Equal(t, int32(1), closed.Load())
	mu.Lock()
	assert.ErrorIs(t, closeErr, ErrConnectionClosed)
	mu.Unlock()

	_, err := c.Command(context.Background(), "PR=A")
	assert.ErrorIs(t, err, ErrConnectionClosed)

	// Closing again does not signal twice
	c.Close()
	assert.Equal(t, int32(1), closed.Load())
}

func TestClient_Close(t *testing.T) {
	_, conn := newFakeGateway(t, nil)
	c, errc := startClient(t, conn, nil, ClientOptions{})

	require.NoError(t, c.Close())

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.NoError(t, c.Err())
}

// ============================================================
// Tap Tests
// ============================================================

func TestClient_Tap(t *testing.T) {
	fake, conn := newFakeGateway(t, func(cmd string) []string {
		return []string{"PR: A=OpenTherm Gateway 4.2.5"}
	})

	var mu sync.Mutex
	var tapped []string
	c, _ := startClient(t, conn, nil, ClientOptions{
		Tap: func(dir Direction, line string) {
			mu.Lock()
			tapped = append(tapped, dir.String()+" "+line)
			mu.Unlock()
		},
	})

	fake.Send("T80190000")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(tapped) == 1
	}, time.Second, time.Millisecond)

	_, err := c.Command(context.Background(), "PR=A")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(tapped) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, tapped, "rx T80190000")
	assert.Contains(t, tapped, "tx PR=A")
	assert.Contains(t, tapped, "rx PR: A=OpenTherm Gateway 4.2.5")
}

// ============================================================
// Requester Tests
// ============================================================

// requestConn is a read-only line stream with out-of-band commands.
type requestConn struct {
	io.Reader
	closer  io.Closer
	replies func(cmd string) string
}

func (r *requestConn) Write(p []byte) (int, error) { return 0, ErrWriteUnsupported }
func (r *requestConn) Close() error                { return r.closer.Close() }

func (r *requestConn) Request(ctx context.Context, cmd string) (string, error) {
	return r.replies(cmd), nil
}

func TestClient_Requester(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	var calls atomic.Int32
	conn := &requestConn{
		Reader: client,
		closer: client,
		replies: func(cmd string) string {
			if calls.Add(1) == 1 {
				return "B40191E00"
			}
			return "PR: A=OpenTherm Gateway 4.2.5"
		},
	}

	rec := &lineRecorder{}
	c, _ := startClient(t, conn, rec.Handle, ClientOptions{})

	resp, err := c.Command(context.Background(), "PR=A")
	require.NoError(t, err)
	assert.Equal(t, "A=OpenTherm Gateway 4.2.5", resp)
	assert.Equal(t, int32(2), calls.Load())

	// The mismatched reply is bus traffic and goes to the handler
	require.Eventually(t, func() bool { return len(rec.Lines()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "B40191E00", rec.Lines()[0])
}

func TestCommandPrefix(t *testing.T) {
	assert.Equal(t, "PR", commandPrefix("PR=A"))
	assert.Equal(t, "PS", commandPrefix("PS=1"))
	assert.Equal(t, "GW", commandPrefix("GW"))

	prefix, value, ok := splitResponse("PR: A=OpenTherm Gateway 4.2.5")
	assert.True(t, ok)
	assert.Equal(t, "PR", prefix)
	assert.Equal(t, "A=OpenTherm Gateway 4.2.5", value)

	_, _, ok = splitResponse("T80190000")
	assert.False(t, ok)
}
