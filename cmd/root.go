// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configPath string

	// OpenTherm Monitor flags
	monitorAddr string
	username    string
	useTLS      bool
	noSSLVerify bool

	// Gateway TCP serial server
	gatewayAddr string

	// Serial connection flags
	portName string
	baudRate int

	// Logging flags
	logLevel  string
	logFormat string

	// Capture file
	capturePath string
)

var rootCmd = &cobra.Command{
	Use:   "otgwstat",
	Short: "OpenTherm Gateway bus monitor",
	Long: `otgwstat - A CLI tool for following the OpenTherm bus through an OpenTherm Gateway.

Decodes the thermostat/boiler exchanges relayed by the gateway into named
values, sends gateway commands, runs priority queries and takes full
summary snapshots. The bridge command forwards the decoded state to MQTT,
Redis and Prometheus.

Connection modes (tried in this order when several are given):
  Serial:  --port /dev/ttyUSB0 [--baud 9600]
  Monitor: --monitor host:8080 [--username user] [--tls]
  Socket:  --gateway host:6638

Settings not given on the command line are read from --config (YAML or TOML).
Without any of these, the OpenTherm Monitor on localhost:8080 is used.

For OpenTherm Monitor authentication, the password is read from the
OTGW_PASSWORD environment variable, or prompted interactively if not set.
The --password flag is intentionally not provided to avoid leaking
credentials in shell history.`,
	Version: "1.0.0",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (.yaml or .toml)")

	// OpenTherm Monitor flags
	rootCmd.PersistentFlags().StringVarP(&monitorAddr, "monitor", "m", "", "OpenTherm Monitor address (host:port)")
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "Username for HTTP Basic auth (monitor only)")
	rootCmd.PersistentFlags().BoolVar(&useTLS, "tls", false, "Use https:// and wss:// for the monitor")
	rootCmd.PersistentFlags().BoolVar(&noSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (--tls only)")

	// Gateway TCP serial server
	rootCmd.PersistentFlags().StringVarP(&gatewayAddr, "gateway", "g", "", "Gateway serial server address (host:port)")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// Logging flags
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text or json)")

	rootCmd.PersistentFlags().StringVar(&capturePath, "capture", "", "Append every gateway line to this CBOR capture file")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
