// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otgw

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned by commands issued while no client is active.
var ErrNotConnected = errors.New("not connected to OpenTherm Gateway")

// Gateway defaults
const (
	DefaultReconnectInterval  = 15 * time.Second
	DefaultQueryTimeout       = 30 * time.Second
	DefaultRecommendedVersion = "4.2.5"
)

// Info identifies the gateway firmware, from "PR=A".
type Info struct {
	Model   string
	Version string
}

// Boundaries are the boiler's setpoint limits, from PM=49 and PM=48.
type Boundaries struct {
	MaxCHMin int
	MaxCHMax int
	DHWMin   int
	DHWMax   int
	Valid    bool
}

// ConnectionHandler is optionally implemented by a Handler to follow the
// connection lifecycle.
type ConnectionHandler interface {
	Connected(name string)
	Disconnected(err error)
	Ready(info Info, bounds Boundaries)
}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// Dialers are tried in order on every connection attempt.
	Dialers []Dialer

	ReconnectInterval  time.Duration
	QueryTimeout       time.Duration
	RetryDelay         time.Duration
	MaxRetries         int
	RecommendedVersion string

	// SkipInit disables identification, boundary and snapshot queries on
	// connect.
	SkipInit bool

	Logger logrus.FieldLogger
	Tap    func(dir Direction, line string)
}

// Gateway keeps a connection to the OpenTherm Gateway alive and tracks its
// bus traffic.
type Gateway struct {
	cfg     GatewayConfig
	handler Handler
	tracker *Tracker
	log     logrus.FieldLogger

	mu     sync.Mutex
	client *Client
	info   Info
	bounds Boundaries
	ready  bool
}

// NewGateway creates a gateway reporting events to handler.
func NewGateway(cfg GatewayConfig, handler Handler) *Gateway {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	return &Gateway{
		cfg:     cfg,
		handler: handler,
		tracker: NewTracker(handler, cfg.Logger),
		log:     cfg.Logger.WithField("component", "gateway"),
	}
}

// Tracker returns the gateway's session tracker.
func (g *Gateway) Tracker() *Tracker {
	return g.tracker
}

// Run connects and keeps reconnecting on a fixed interval until ctx is
// cancelled. The active connection is closed on return.
func (g *Gateway) Run(ctx context.Context) error {
	if len(g.cfg.Dialers) == 0 {
		return errors.New("no gateway connection configured")
	}

	if err := g.Connect(ctx); err != nil {
		g.log.Error(err)
	}

	ticker := time.NewTicker(g.cfg.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.Close()
			return nil
		case <-ticker.C:
			if g.Connected() {
				continue
			}
			if err := g.Connect(ctx); err != nil {
				g.log.Error(err)
			}
		}
	}
}

// Connect tries each dialer in order and initializes the first connection
// that opens.
func (g *Gateway) Connect(ctx context.Context) error {
	var errs []error
	for _, d := range g.cfg.Dialers {
		g.log.Debugf("connecting to %s", d)
		conn, err := d.Dial(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		g.log.Infof("connected to %s", d)
		g.attach(ctx, conn, d.String())
		if !g.cfg.SkipInit {
			g.init(ctx)
		}
		return nil
	}
	return fmt.Errorf("connect: %w", errors.Join(errs...))
}

// Attach uses an already open connection, e.g. in tests or for replay.
func (g *Gateway) Attach(ctx context.Context, conn Connection, name string) {
	g.attach(ctx, conn, name)
	if !g.cfg.SkipInit {
		g.init(ctx)
	}
}

func (g *Gateway) attach(ctx context.Context, conn Connection, name string) {
	var client *Client
	client = NewClient(conn, g.tracker.HandleLine, ClientOptions{
		Name:       name,
		RetryDelay: g.cfg.RetryDelay,
		MaxRetries: g.cfg.MaxRetries,
		Logger:     g.cfg.Logger,
		Tap:        g.cfg.Tap,
		OnClose: func(err error) {
			g.mu.Lock()
			if g.client == client {
				g.client = nil
				g.ready = false
			}
			g.mu.Unlock()
			if ch, ok := g.handler.(ConnectionHandler); ok {
				ch.Disconnected(err)
			}
		},
	})

	g.tracker.Reset()

	g.mu.Lock()
	old := g.client
	g.client = client
	g.ready = false
	g.mu.Unlock()

	if old != nil {
		old.Close()
	}

	go client.Run(ctx)

	if ch, ok := g.handler.(ConnectionHandler); ok {
		ch.Connected(name)
	}
}

// init identifies the gateway and reads the boiler boundaries once, then
// takes a full snapshot on every connect.
func (g *Gateway) init(ctx context.Context) {
	g.mu.Lock()
	needInfo := g.info.Model == "" && g.info.Version == ""
	needBounds := !g.bounds.Valid
	g.mu.Unlock()

	if needInfo {
		if err := g.identify(ctx); err != nil {
			g.log.Warn(err)
			return
		}
	}

	if needBounds {
		if err := g.readBoundaries(ctx); err != nil {
			g.log.Warn(err)
			return
		}
	}

	qctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()
	if _, err := g.Snapshot(qctx); err != nil {
		g.log.Warn(err)
		return
	}

	g.mu.Lock()
	g.ready = true
	info, bounds := g.info, g.bounds
	g.mu.Unlock()

	if ch, ok := g.handler.(ConnectionHandler); ok {
		ch.Ready(info, bounds)
	}
}

func (g *Gateway) identify(ctx context.Context) error {
	qctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	resp, err := g.Command(qctx, "PR=A")
	if err != nil {
		return err
	}
	info, err := ParseIdentity(resp)
	if err != nil {
		return err
	}
	g.log.Infof("%s %s", info.Model, info.Version)
	if g.cfg.RecommendedVersion != "" && info.Version != g.cfg.RecommendedVersion {
		g.log.Warnf("not using recommended OpenTherm Gateway version %s", g.cfg.RecommendedVersion)
	}

	g.mu.Lock()
	g.info = info
	g.mu.Unlock()
	return nil
}

func (g *Gateway) readBoundaries(ctx context.Context) error {
	var b Boundaries

	fields, err := g.priority(ctx, opentherm.IDMaxCHBounds)
	if err != nil {
		return fmt.Errorf("boiler boundaries: %w", err)
	}
	b.MaxCHMin, _ = fields.Int("max_ch_setpoint_min")
	b.MaxCHMax, _ = fields.Int("max_ch_setpoint_max")
	g.log.Infof("Boiler boundaries: min: %d, max: %d", b.MaxCHMin, b.MaxCHMax)

	fields, err = g.priority(ctx, opentherm.IDDHWBounds)
	if err != nil {
		return fmt.Errorf("hot water boundaries: %w", err)
	}
	b.DHWMin, _ = fields.Int("dhw_setpoint_min")
	b.DHWMax, _ = fields.Int("dhw_setpoint_max")
	g.log.Infof("HotWater boundaries: min: %d, max: %d", b.DHWMin, b.DHWMax)

	b.Valid = true
	g.mu.Lock()
	g.bounds = b
	g.mu.Unlock()
	return nil
}

func (g *Gateway) priority(ctx context.Context, id byte) (opentherm.Fields, error) {
	qctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()
	return g.PriorityQuery(qctx, id)
}

// ParseIdentity splits a "PR=A" reply such as "A=OpenTherm Gateway 4.2.5"
// into model and version.
func ParseIdentity(resp string) (Info, error) {
	_, id, ok := strings.Cut(resp, "=")
	if !ok {
		return Info{}, fmt.Errorf("invalid identity %q", resp)
	}
	words := strings.Fields(id)
	if len(words) < 2 {
		return Info{}, fmt.Errorf("invalid identity %q", resp)
	}
	return Info{
		Model:   strings.Join(words[:len(words)-1], " "),
		Version: words[len(words)-1],
	}, nil
}

// Client returns the active client or nil.
func (g *Gateway) Client() *Client {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.client
}

// Connected reports whether a client is active.
func (g *Gateway) Connected() bool {
	return g.Client() != nil
}

// Ready reports whether initialization completed on the current connection.
func (g *Gateway) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Info returns the gateway identity.
func (g *Gateway) Info() Info {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.info
}

// Boundaries returns the boiler boundaries.
func (g *Gateway) Boundaries() Boundaries {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bounds
}

// Command sends a command through the active client.
func (g *Gateway) Command(ctx context.Context, command string) (string, error) {
	c := g.Client()
	if c == nil {
		return "", fmt.Errorf("command %s: %w", command, ErrNotConnected)
	}
	return c.Command(ctx, command)
}

// PriorityQuery runs a priority query through the active client.
func (g *Gateway) PriorityQuery(ctx context.Context, id byte) (opentherm.Fields, error) {
	return g.tracker.PriorityQuery(ctx, g, id)
}

// Snapshot takes a full snapshot through the active client.
func (g *Gateway) Snapshot(ctx context.Context) (opentherm.Fields, error) {
	return g.tracker.Snapshot(ctx, g)
}

// Close closes the active connection.
func (g *Gateway) Close() {
	if c := g.Client(); c != nil {
		c.Close()
	}
}
