// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otgw

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Command channel defaults
const (
	DefaultRetryDelay = time.Second
	DefaultMaxRetries = 5
)

// Command errors
var (
	ErrCommandInFlight = errors.New("another command is in flight")
	ErrNoResponse      = errors.New("no response")
)

// CommandError reports a command whose response never arrived.
type CommandError struct {
	Command string
	Retries int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s: no response after %d retries", e.Command, e.Retries)
}

func (e *CommandError) Is(target error) bool {
	return target == ErrNoResponse
}

// Direction tells whether a line was received from or sent to the gateway.
type Direction int

const (
	Received Direction = iota
	Sent
)

func (d Direction) String() string {
	if d == Sent {
		return "tx"
	}
	return "rx"
}

// LineHandler receives every line that is not consumed as a command response.
type LineHandler func(line string)

// ClientOptions configures a Client. Zero values select the defaults.
type ClientOptions struct {
	Name       string
	RetryDelay time.Duration
	MaxRetries int
	Logger     logrus.FieldLogger

	// OnClose is called once when the connection is lost or closed.
	OnClose func(err error)

	// Tap observes every line in both directions (for capture files).
	Tap func(dir Direction, line string)
}

type reply struct {
	value   string
	matched bool
}

// waiter is armed for the line following one transmission of a command.
type waiter struct {
	prefix string
	ch     chan reply
}

// Client is a command channel to one gateway connection.
//
// Run reads lines and hands them to the LineHandler on a single goroutine.
// Command may be called from any other goroutine, one command at a time.
// It must not be called from inside the LineHandler.
type Client struct {
	conn    Connection
	handler LineHandler
	opts    ClientOptions
	log     logrus.FieldLogger

	mu       sync.Mutex
	inFlight bool
	waiter   *waiter
	writeMu  sync.Mutex

	injected  chan string
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewClient wraps a connection. Call Run to start reading.
func NewClient(conn Connection, handler LineHandler, opts ClientOptions) *Client {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	if handler == nil {
		handler = func(string) {}
	}

	return &Client{
		conn:     conn,
		handler:  handler,
		opts:     opts,
		log:      log.WithField("component", "client"),
		injected: make(chan string, 16),
		done:     make(chan struct{}),
	}
}

// Name returns the human-readable connection name.
func (c *Client) Name() string {
	return c.opts.Name
}

// Done is closed when the client shuts down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that closed the client, if any.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Run reads lines until the connection fails, ctx is cancelled or Close is
// called. It always closes the client before returning.
func (c *Client) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// Reader goroutine - splits the byte stream into lines
	go func() {
		scanner := bufio.NewScanner(c.conn)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-c.done:
				return
			}
		}
		if err := scanner.Err(); err != nil {
			readErr <- fmt.Errorf("%w: %v", ErrConnectionClosed, err)
			return
		}
		readErr <- ErrConnectionClosed
	}()

	for {
		select {
		case <-ctx.Done():
			c.shutdown(ctx.Err())
			return ctx.Err()
		case <-c.done:
			return c.closeErr
		case err := <-readErr:
			c.shutdown(err)
			return c.closeErr
		case line := <-lines:
			c.dispatch(line)
		case line := <-c.injected:
			c.handler(line)
		}
	}
}

// dispatch hands one received line to the waiting command or the handler.
func (c *Client) dispatch(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	if c.opts.Tap != nil {
		c.opts.Tap(Received, line)
	}

	c.mu.Lock()
	w := c.waiter
	c.waiter = nil
	c.mu.Unlock()

	if w != nil {
		if prefix, value, ok := splitResponse(line); ok && prefix == w.prefix {
			w.ch <- reply{value: value, matched: true}
			return
		}
		w.ch <- reply{}
	}

	c.handler(line)
}

// Busy reports whether a command is in flight.
func (c *Client) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight
}

// Command sends a command and returns the value of its "XX: value" reply.
//
// Only the line right after each transmission is considered. A line with a
// different prefix is handed to the LineHandler as ordinary traffic and the
// command is sent again after the retry delay, up to MaxRetries times.
func (c *Client) Command(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return "", fmt.Errorf("command %s: %w", command, ErrConnectionClosed)
	default:
	}
	if c.inFlight {
		c.mu.Unlock()
		return "", fmt.Errorf("command %s: %w", command, ErrCommandInFlight)
	}
	c.inFlight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.waiter = nil
		c.mu.Unlock()
	}()

	prefix := commandPrefix(command)

	for retries := 0; ; retries++ {
		if retries > 0 {
			c.log.Debugf("send command: %s [%d]", command, retries)
		} else {
			c.log.Debugf("send command: %s", command)
		}

		r, err := c.attempt(ctx, command, prefix)
		if err != nil {
			return "", err
		}
		if r.matched {
			c.log.Debugf("send command: %s, response: %s", command, r.value)
			return r.value, nil
		}

		if retries >= c.opts.MaxRetries {
			return "", &CommandError{Command: command, Retries: retries}
		}

		select {
		case <-time.After(c.opts.RetryDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		case <-c.done:
			return "", fmt.Errorf("command %s: %w", command, ErrConnectionClosed)
		}
	}
}

// attempt transmits the command once and waits for the next line.
func (c *Client) attempt(ctx context.Context, command, prefix string) (reply, error) {
	if c.opts.Tap != nil {
		c.opts.Tap(Sent, command)
	}

	if req, ok := c.conn.(Requester); ok {
		line, err := req.Request(ctx, command)
		if err != nil {
			return reply{}, err
		}
		if c.opts.Tap != nil && line != "" {
			c.opts.Tap(Received, line)
		}
		if p, value, ok := splitResponse(line); ok && p == prefix {
			return reply{value: value, matched: true}, nil
		}
		// Not ours; it still belongs to the bus log
		if line != "" {
			select {
			case c.injected <- line:
			case <-c.done:
			case <-ctx.Done():
				return reply{}, ctx.Err()
			}
		}
		return reply{}, nil
	}

	w := &waiter{prefix: prefix, ch: make(chan reply, 1)}
	c.mu.Lock()
	c.waiter = w
	c.mu.Unlock()

	c.writeMu.Lock()
	_, err := c.conn.Write([]byte(command + "\r\n"))
	c.writeMu.Unlock()
	if err != nil {
		c.shutdown(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
		return reply{}, fmt.Errorf("command %s: %w", command, ErrConnectionClosed)
	}

	select {
	case r := <-w.ch:
		return r, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-c.done:
		return reply{}, fmt.Errorf("command %s: %w", command, ErrConnectionClosed)
	}
}

// Close closes the connection. Any command in flight fails immediately.
func (c *Client) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.closeErr = err
		close(c.done)
		c.conn.Close()
		if err != nil {
			c.log.Infof("connection to %s closed: %v", c.opts.Name, err)
		} else {
			c.log.Infof("connection to %s closed", c.opts.Name)
		}
		if c.opts.OnClose != nil {
			c.opts.OnClose(err)
		}
	})
}

// commandPrefix returns the part of a command before '='.
func commandPrefix(command string) string {
	prefix, _, _ := strings.Cut(command, "=")
	return prefix
}

// splitResponse splits a "PREFIX: VALUE" reply line.
func splitResponse(line string) (prefix, value string, ok bool) {
	return strings.Cut(line, ": ")
}
