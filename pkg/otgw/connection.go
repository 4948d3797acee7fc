// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otgw

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"
)

// Connection provides a common interface for reading/writing gateway lines
// over a serial port, a TCP serial server or OpenTherm Monitor.
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// Requester is implemented by connections that carry commands out of band.
// Request sends one command and returns the reply line.
type Requester interface {
	Request(ctx context.Context, command string) (string, error)
}

// Connection errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteUnsupported = errors.New("connection does not accept writes")
)

// ============================================================
// Serial
// ============================================================

// DefaultBaudRate is the OpenTherm Gateway's fixed serial speed.
const DefaultBaudRate = 9600

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// OpenSerial opens the gateway's serial port (8N1).
func OpenSerial(portName string, baudRate int) (*SerialConnection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// SerialDialer opens a serial port on every Dial.
type SerialDialer struct {
	Port     string
	BaudRate int
}

func (d SerialDialer) Dial(ctx context.Context) (Connection, error) {
	baud := d.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	conn, err := OpenSerial(d.Port, baud)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d SerialDialer) String() string {
	return fmt.Sprintf("serial %s", d.Port)
}

// ============================================================
// TCP serial server
// ============================================================

// SocketDialer connects to the gateway's TCP serial server (the NodeMCU or
// ser2net bridge), which relays the serial line unchanged.
type SocketDialer struct {
	Address string
	Timeout time.Duration
}

func (d SocketDialer) Dial(ctx context.Context) (Connection, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	if nd.Timeout == 0 {
		nd.Timeout = 10 * time.Second
	}
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", d.Address, err)
	}
	return conn, nil
}

func (d SocketDialer) String() string {
	return fmt.Sprintf("gateway %s", d.Address)
}

// ============================================================
// OpenTherm Monitor
// ============================================================

// monitorTimestampLen is the width of the "HH:MM:SS.ffffff  " prefix
// OpenTherm Monitor puts in front of every pushed line.
const monitorTimestampLen = 17

// MonitorConnection reads gateway lines pushed by OpenTherm Monitor over
// WebSocket and sends commands through its HTTP command endpoint.
type MonitorConnection struct {
	conn       *websocket.Conn
	httpClient *http.Client
	commandURL url.URL
	username   string
	password   string

	buf       []byte
	bufOffset int
	closed    bool // Track if connection has failed/closed
}

func (m *MonitorConnection) Read(p []byte) (int, error) {
	// Return immediately if connection is known to be closed
	if m.closed {
		return 0, ErrConnectionClosed
	}

	// If we have buffered data, return it first
	if m.bufOffset < len(m.buf) {
		n := copy(p, m.buf[m.bufOffset:])
		m.bufOffset += n
		return n, nil
	}

	for {
		messageType, data, err := m.conn.ReadMessage()
		if err != nil {
			m.closed = true
			return 0, ErrConnectionClosed
		}

		if messageType != websocket.TextMessage || len(data) <= monitorTimestampLen {
			continue
		}

		m.buf = append(data[monitorTimestampLen:], '\r', '\n')
		m.bufOffset = 0
		n := copy(p, m.buf)
		m.bufOffset = n
		return n, nil
	}
}

// Write is not supported; commands go through Request.
func (m *MonitorConnection) Write(p []byte) (int, error) {
	return 0, ErrWriteUnsupported
}

func (m *MonitorConnection) Close() error {
	m.httpClient.CloseIdleConnections()
	return m.conn.Close()
}

// Request sends a command through OpenTherm Monitor's /command endpoint and
// returns the gateway's reply line.
func (m *MonitorConnection) Request(ctx context.Context, command string) (string, error) {
	u := m.commandURL
	u.RawQuery = command

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	if m.username != "" {
		req.SetBasicAuth(m.username, m.password)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("command %s: %w", command, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("command %s: HTTP %d", command, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return "", fmt.Errorf("command %s: %w", command, err)
	}
	return strings.TrimRight(string(body), "\r\n"), nil
}

// MonitorDialer connects to OpenTherm Monitor's web server.
type MonitorDialer struct {
	Address       string // host:port
	Username      string
	Password      string
	TLS           bool
	SkipSSLVerify bool
}

func (d MonitorDialer) Dial(ctx context.Context) (Connection, error) {
	wsScheme, httpScheme := "ws", "http"
	if d.TLS {
		wsScheme, httpScheme = "wss", "https"
	}
	messageURL := url.URL{Scheme: wsScheme, Host: d.Address, Path: "/message.ws"}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if d.TLS {
		tlsConfig := &tls.Config{InsecureSkipVerify: d.SkipSSLVerify}
		dialer.TLSClientConfig = tlsConfig
		transport.TLSClientConfig = tlsConfig
	}

	headers := http.Header{}
	headers.Set("Origin", "http://localhost")
	if d.Username != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(d.Username + ":" + d.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, messageURL.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &MonitorConnection{
		conn:       conn,
		httpClient: &http.Client{Timeout: 10 * time.Second, Transport: transport},
		commandURL: url.URL{Scheme: httpScheme, Host: d.Address, Path: "/command"},
		username:   d.Username,
		password:   d.Password,
	}, nil
}

func (d MonitorDialer) String() string {
	return fmt.Sprintf("OpenTherm Monitor %s", d.Address)
}

// Dialer opens a connection to the gateway.
type Dialer interface {
	Dial(ctx context.Context) (Connection, error)
	String() string
}
