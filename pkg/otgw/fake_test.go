// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package otgw

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

// fakeGateway plays the gateway end of a net.Pipe. respond returns the
// lines printed after each received command.
type fakeGateway struct {
	conn    net.Conn
	respond func(command string) []string

	writeMu  sync.Mutex
	mu       sync.Mutex
	commands []string
}

func newFakeGateway(t *testing.T, respond func(command string) []string) (*fakeGateway, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	f := &fakeGateway{conn: server, respond: respond}
	go f.serve()
	t.Cleanup(func() { server.Close() })
	return f, client
}

func (f *fakeGateway) serve() {
	scanner := bufio.NewScanner(f.conn)
	for scanner.Scan() {
		command := strings.TrimRight(scanner.Text(), "\r")
		f.mu.Lock()
		f.commands = append(f.commands, command)
		f.mu.Unlock()
		if f.respond == nil {
			continue
		}
		// Answer asynchronously so the client can keep writing
		lines := f.respond(command)
		go f.Send(lines...)
	}
}

// Send prints lines as the gateway would.
func (f *fakeGateway) Send(lines ...string) {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	for _, line := range lines {
		if _, err := io.WriteString(f.conn, line+"\r\n"); err != nil {
			return
		}
	}
}

// Commands returns the commands received so far.
func (f *fakeGateway) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// lineRecorder collects lines handed to a LineHandler.
type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) Handle(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *lineRecorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
