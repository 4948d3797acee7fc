// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otgw

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Identity Tests
// ============================================================

func TestParseIdentity(t *testing.T) {
	tests := []struct {
		resp    string
		model   string
		version string
		wantErr bool
	}{
		{"A=OpenTherm Gateway 4.2.5", "OpenTherm Gateway", "4.2.5", false},
		{"A=OpenTherm Gateway 6.4", "OpenTherm Gateway", "6.4", false},
		{"A=Gateway", "", "", true},
		{"OpenTherm Gateway 4.2.5", "", "", true},
		{"", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.resp, func(t *testing.T) {
			info, err := ParseIdentity(tt.resp)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.model, info.Model)
			assert.Equal(t, tt.version, info.Version)
		})
	}
}

// ============================================================
// Test Helpers
// ============================================================

// lifecycleRecorder also follows the connection lifecycle.
type lifecycleRecorder struct {
	eventRecorder

	connected    []string
	disconnected []error
	ready        []Boundaries
	info         Info
}

func (r *lifecycleRecorder) Connected(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = append(r.connected, name)
}

func (r *lifecycleRecorder) Disconnected(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, err)
}

func (r *lifecycleRecorder) Ready(info Info, bounds Boundaries) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.info = info
	r.ready = append(r.ready, bounds)
}

func (r *lifecycleRecorder) Disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.disconnected)
}

// pipeDialer hands out the client end of a fake gateway.
type pipeDialer struct {
	conn net.Conn
}

func (d pipeDialer) Dial(ctx context.Context) (Connection, error) { return d.conn, nil }
func (d pipeDialer) String() string                                { return "pipe" }

type failDialer struct {
	name string
}

func (d failDialer) Dial(ctx context.Context) (Connection, error) {
	return nil, fmt.Errorf("failed to open %s", d.name)
}
func (d failDialer) String() string { return d.name }

// initResponder answers the commands sent while initializing a connection.
// Priority answers stop at the boiler response so that the next command's
// reply is the first line after it.
func initResponder(cmd string) []string {
	switch cmd {
	case "PR=A":
		return []string{"PR: A=OpenTherm Gateway 4.2.5"}
	case "PM=49":
		return []string{"PM: 49", "T00000300", "R80310000", "B40315014"}
	case "PM=48":
		return []string{"PM: 48", "T00000300", "R00300000", "BC0303C28"}
	case "PS=1":
		return []string{"PS: 1", testSummary}
	case "PS=0":
		return []string{"PS: 0"}
	}
	return nil
}

func newTestGateway(dialers ...Dialer) (*Gateway, *lifecycleRecorder) {
	rec := &lifecycleRecorder{}
	g := NewGateway(GatewayConfig{
		Dialers:      dialers,
		QueryTimeout: time.Second,
		RetryDelay:   testRetryDelay,
		Logger:       testLogger(),
	}, rec)
	return g, rec
}

// ============================================================
// Initialization Tests
// ============================================================

func TestGateway_AttachInitializes(t *testing.T) {
	fake, conn := newFakeGateway(t, initResponder)
	g, rec := newTestGateway()
	t.Cleanup(g.Close)

	g.Attach(context.Background(), conn, "pipe")

	require.True(t, g.Ready())
	assert.Equal(t, Info{Model: "OpenTherm Gateway", Version: "4.2.5"}, g.Info())

	want := Boundaries{MaxCHMin: 20, MaxCHMax: 80, DHWMin: 40, DHWMax: 60, Valid: true}
	assert.Equal(t, want, g.Boundaries())
	assert.Equal(t, []string{"PR=A", "PM=49", "PM=48", "PS=1", "PS=0"}, fake.Commands())

	rec.mu.Lock()
	assert.Equal(t, []string{"pipe"}, rec.connected)
	assert.Equal(t, []Boundaries{want}, rec.ready)
	assert.Equal(t, "4.2.5", rec.info.Version)
	assert.Len(t, rec.snapshots, 1)
	rec.mu.Unlock()
}

func TestGateway_ReconnectSkipsKnownInfo(t *testing.T) {
	_, conn := newFakeGateway(t, initResponder)
	g, rec := newTestGateway()
	t.Cleanup(g.Close)
	g.Attach(context.Background(), conn, "first")
	require.True(t, g.Ready())

	// A second connection only takes a new snapshot
	fake, conn := newFakeGateway(t, initResponder)
	g.Attach(context.Background(), conn, "second")

	require.True(t, g.Ready())
	assert.Equal(t, []string{"PS=1", "PS=0"}, fake.Commands())

	// Replacing the first client reports its disconnect
	require.Eventually(t, func() bool { return rec.Disconnects() == 1 }, time.Second, time.Millisecond)
	assert.True(t, g.Connected(), "closing the old client must not clear the new one")
}

func TestGateway_InitFailure(t *testing.T) {
	_, conn := newFakeGateway(t, func(cmd string) []string {
		return []string{"Error 01"}
	})
	g, rec := newTestGateway()
	t.Cleanup(g.Close)

	g.Attach(context.Background(), conn, "pipe")

	assert.False(t, g.Ready())
	assert.True(t, g.Connected())
	rec.mu.Lock()
	assert.Empty(t, rec.ready)
	rec.mu.Unlock()
}

// ============================================================
// Connection Tests
// ============================================================

func TestGateway_ConnectTriesDialersInOrder(t *testing.T) {
	fake, conn := newFakeGateway(t, nil)
	g, rec := newTestGateway(failDialer{"serial"}, failDialer{"socket"}, pipeDialer{conn})
	g.cfg.SkipInit = true
	t.Cleanup(g.Close)

	require.NoError(t, g.Connect(context.Background()))
	assert.True(t, g.Connected())
	assert.Equal(t, "pipe", g.Client().Name())

	// Connection loss clears the client
	fake.conn.Close()
	require.Eventually(t, func() bool { return !g.Connected() }, time.Second, time.Millisecond)
	assert.Equal(t, 1, rec.Disconnects())
}

func TestGateway_ConnectAllFail(t *testing.T) {
	g, _ := newTestGateway(failDialer{"serial"}, failDialer{"socket"})

	err := g.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open serial")
	assert.Contains(t, err.Error(), "failed to open socket")
	assert.False(t, g.Connected())
}

func TestGateway_NotConnected(t *testing.T) {
	g, _ := newTestGateway()

	_, err := g.Command(context.Background(), "PR=A")
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = g.PriorityQuery(context.Background(), 0x31)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, g.Tracker().PriorityPending())

	_, err = g.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestGateway_RunWithoutDialers(t *testing.T) {
	g, _ := newTestGateway()
	assert.Error(t, g.Run(context.Background()))
}

func TestGateway_RunStopsOnCancel(t *testing.T) {
	_, conn := newFakeGateway(t, nil)
	g, _ := newTestGateway(pipeDialer{conn})
	g.cfg.SkipInit = true
	g.cfg.ReconnectInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, g.Connected, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	require.Eventually(t, func() bool { return !g.Connected() }, time.Second, time.Millisecond)
}

// ============================================================
// OpenTherm Monitor Tests
// ============================================================

// monitorServer imitates OpenTherm Monitor's web interface.
type monitorServer struct {
	mu       sync.Mutex
	commands []string
}

func (s *monitorServer) handler(t *testing.T, pushed []string) http.Handler {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/message.ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer ws.Close()

		for _, line := range pushed {
			msg := "12:00:00.000000  " + line
			if err := ws.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	mux.HandleFunc("/command", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "otgw" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.commands = append(s.commands, r.URL.RawQuery)
		s.mu.Unlock()

		prefix, value, _ := strings.Cut(r.URL.RawQuery, "=")
		fmt.Fprintf(w, "%s: %s\r\n", prefix, value)
	})
	return mux
}

func TestMonitorDialer(t *testing.T) {
	ms := &monitorServer{}
	srv := httptest.NewServer(ms.handler(t, []string{"T80190000", "B40191E00"}))
	t.Cleanup(srv.Close)

	d := MonitorDialer{
		Address:  strings.TrimPrefix(srv.URL, "http://"),
		Username: "otgw",
		Password: "secret",
	}
	assert.Contains(t, d.String(), "OpenTherm Monitor")

	conn, err := d.Dial(context.Background())
	require.NoError(t, err)

	_, err = conn.Write([]byte("PS=1\r\n"))
	assert.ErrorIs(t, err, ErrWriteUnsupported)

	rec := &lineRecorder{}
	c, _ := startClient(t, conn, rec.Handle, ClientOptions{})

	require.Eventually(t, func() bool { return len(rec.Lines()) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"T80190000", "B40191E00"}, rec.Lines())

	resp, err := c.Command(context.Background(), "PS=1")
	require.NoError(t, err)
	assert.Equal(t, "1", resp)

	ms.mu.Lock()
	assert.Equal(t, []string{"PS=1"}, ms.commands)
	ms.mu.Unlock()
}

func TestMonitorDialer_Unauthorized(t *testing.T) {
	ms := &monitorServer{}
	srv := httptest.NewServer(ms.handler(t, nil))
	t.Cleanup(srv.Close)

	d := MonitorDialer{Address: strings.TrimPrefix(srv.URL, "http://")}
	conn, err := d.Dial(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	req, ok := conn.(Requester)
	require.True(t, ok)
	_, err = req.Request(context.Background(), "PR=A")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestMonitorDialer_Refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	_, err := MonitorDialer{Address: addr}.Dial(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "WebSocket connection failed"))
	assert.False(t, errors.Is(err, ErrConnectionClosed))
}
