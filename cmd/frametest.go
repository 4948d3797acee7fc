// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/spf13/cobra"
)

var (
	frameTestTimeout int
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test connection by waiting for a valid OpenTherm frame",
	Long: `Wait for a valid OpenTherm frame on the connection until timeout.

This command connects to the gateway and waits for any bus frame that
passes the parity check and decodes. Other lines are ignored.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for testing connectivity to the gateway or the OpenTherm Monitor.`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	app, err := NewApp(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	defer app.Close()

	fmt.Printf("otgwstat - Frame Test\n")
	fmt.Printf("Connection: %s\n", app.ConnectionInfo())
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid OpenTherm frame...\n\n")

	frameChan := make(chan *opentherm.Message, 1)
	invalid := 0

	tap := func(dir otgw.Direction, line string) {
		if dir != otgw.Received || !opentherm.IsBusMessage(line) {
			return
		}
		m, err := opentherm.Decode(line)
		if err != nil {
			invalid++
			return
		}
		select {
		case frameChan <- m:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gw := otgw.NewGateway(app.GatewayConfig(true, tap), nil)
	if err := gw.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer gw.Close()

	client := gw.Client()
	if client == nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", otgw.ErrNotConnected)
		os.Exit(2)
	}

	// Wait for frame or timeout
	select {
	case m := <-frameChan:
		if invalid > 0 {
			fmt.Printf("(skipped %d invalid frames)\n", invalid)
		}
		fmt.Printf("SUCCESS: Received valid frame\n")
		fmt.Printf("  Frame: %s\n", m.Line)
		fmt.Printf("  Origin: %s\n", m.Origin)
		fmt.Printf("  Type: %s\n", m.Type)
		fmt.Printf("  Data ID: %d (0x%02X)\n", m.ID, m.ID)
		fmt.Printf("  Value: %s\n", m.Value)
		os.Exit(0)

	case <-client.Done():
		fmt.Fprintf(os.Stderr, "Read error: %v\n", client.Err())
		os.Exit(2)

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
		os.Exit(1)
	}

	return nil
}
