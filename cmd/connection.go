// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Thermoquad/otgwstat/internal/config"
	"github.com/Thermoquad/otgwstat/internal/logging"
	"github.com/Thermoquad/otgwstat/pkg/accessory"
	"github.com/Thermoquad/otgwstat/pkg/capture"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// EnvPassword holds the OpenTherm Monitor password
const EnvPassword = "OTGW_PASSWORD"

// GetPassword retrieves the password from environment variable or prompts the user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv(EnvPassword); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// LoadConfig reads --config (or the defaults) and applies the command line
// flags on top. Connection flags replace the configured connections.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	g := &cfg.Gateway
	if flags.Changed("monitor") || flags.Changed("gateway") || flags.Changed("port") {
		g.Monitor = monitorAddr
		g.Address = gatewayAddr
		g.SerialPort = portName
	}
	if flags.Changed("baud") {
		g.Baud = baudRate
	}
	if flags.Changed("username") {
		g.Username = username
	}
	if flags.Changed("tls") {
		g.TLS = useTLS
	}
	if flags.Changed("no-ssl-verify") {
		g.SkipSSLVerify = noSSLVerify
	}

	cfg.Log.ApplyEnv()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	if capturePath != "" {
		cfg.Capture.Path = capturePath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if g.Monitor != "" && g.Username != "" && g.Password == "" {
		pw, err := GetPassword()
		if err != nil {
			return nil, err
		}
		g.Password = pw
	}

	return cfg, nil
}

// App holds what every gateway command shares: configuration, logger and
// the optional capture file.
type App struct {
	Config  *config.Config
	Log     *logrus.Logger
	Capture *capture.Writer

	logCloser io.Closer
}

// NewApp loads the configuration and opens the logger and capture file.
func NewApp(cmd *cobra.Command) (*App, error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(cfg, nil)
}

// NewQuietApp is NewApp for TUIs: log output is dropped unless a log file
// is configured.
func NewQuietApp(cmd *cobra.Command) (*App, error) {
	cfg, err := LoadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Log.File != "" {
		return newApp(cfg, nil)
	}
	return newApp(cfg, logging.Discard())
}

func newApp(cfg *config.Config, log *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Log: log}

	if a.Log == nil {
		var err error
		if a.Log, a.logCloser, err = logging.New(cfg.Log); err != nil {
			return nil, err
		}
	}

	if cfg.Capture.Path != "" {
		w, err := capture.Create(cfg.Capture.Path, a.ConnectionInfo())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Capture = w
		a.Log.Infof("capturing to %s (session %s)", cfg.Capture.Path, w.SessionID())
	}

	return a, nil
}

// ConnectionInfo describes the configured connections.
func (a *App) ConnectionInfo() string {
	var names []string
	for _, d := range a.Config.Gateway.Dialers() {
		names = append(names, d.String())
	}
	return strings.Join(names, ", ")
}

// GatewayConfig builds the gateway settings. tap, if set, observes every
// line next to the capture file.
func (a *App) GatewayConfig(skipInit bool, tap func(dir otgw.Direction, line string)) otgw.GatewayConfig {
	g := a.Config.Gateway
	return otgw.GatewayConfig{
		Dialers:            g.Dialers(),
		ReconnectInterval:  g.ReconnectInterval,
		QueryTimeout:       g.QueryTimeout,
		RetryDelay:         g.RetryDelay,
		MaxRetries:         g.MaxRetries,
		RecommendedVersion: g.RecommendedVersion,
		SkipInit:           skipInit,
		Logger:             a.Log,
		Tap:                a.tap(tap),
	}
}

func (a *App) tap(extra func(dir otgw.Direction, line string)) func(dir otgw.Direction, line string) {
	switch {
	case a.Capture == nil:
		return extra
	case extra == nil:
		return a.Capture.Tap
	}
	return func(dir otgw.Direction, line string) {
		a.Capture.Tap(dir, line)
		extra(dir, line)
	}
}

// Connect creates a gateway and opens the first connection that succeeds.
// One-shot commands pass skipInit to avoid the start-up queries.
func (a *App) Connect(ctx context.Context, handler otgw.Handler, skipInit bool) (*otgw.Gateway, error) {
	gw := otgw.NewGateway(a.GatewayConfig(skipInit, nil), handler)
	if err := gw.Connect(ctx); err != nil {
		return nil, err
	}
	return gw, nil
}

// gatewayCommander forwards accessory commands to a gateway that is created
// after the accessories.
type gatewayCommander struct {
	gw *otgw.Gateway
}

func (g *gatewayCommander) Command(ctx context.Context, command string) (string, error) {
	if g.gw == nil {
		return "", otgw.ErrNotConnected
	}
	return g.gw.Command(ctx, command)
}

// NewAccessoryGateway creates a fully initializing gateway together with the
// accessories it drives. The accessories receive events first, then each of
// handlers in order.
func (a *App) NewAccessoryGateway(handlers ...otgw.Handler) (*otgw.Gateway, *accessory.Set) {
	cmdr := &gatewayCommander{}
	set := accessory.NewSet(cmdr, a.Log)

	handler := append(otgw.MultiHandler{set}, handlers...)
	gw := otgw.NewGateway(a.GatewayConfig(false, nil), handler)
	cmdr.gw = gw
	return gw, set
}

// Close releases the capture and log files.
func (a *App) Close() {
	if a.Capture != nil {
		if err := a.Capture.Err(); err != nil {
			a.Log.Warnf("capture: %v", err)
		}
		a.Capture.Close()
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
