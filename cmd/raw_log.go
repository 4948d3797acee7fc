// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/spf13/cobra"
)

var rawLogShowSent bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw bus log in human-readable format",
	Long: `Continuously decode and display OpenTherm frames as the gateway relays them.

Each frame is shown with timestamp, origin, message type, data id and its
decoded fields. Lines that are not frames (command responses, gateway
errors, summaries) are printed as received.

The gateway is not queried; the connection is reopened when it drops.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogShowSent, "show-sent", false, "Also print commands sent to the gateway")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	app, err := NewApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Printf("otgwstat - Raw Bus Log\n")
	fmt.Printf("Connection: %s\n", app.ConnectionInfo())
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signalContext()
	defer stop()

	gw := otgw.NewGateway(app.GatewayConfig(true, printLine), nil)
	return gw.Run(ctx)
}

// printLine prints one gateway line, decoding bus frames.
func printLine(dir otgw.Direction, line string) {
	timestamp := time.Now().Format("15:04:05.000")

	if dir == otgw.Sent {
		if rawLogShowSent {
			fmt.Printf("[%s] > %s\n", timestamp, line)
		}
		return
	}

	if !opentherm.IsBusMessage(line) {
		fmt.Printf("[%s] %s\n", timestamp, line)
		return
	}

	m, err := opentherm.Decode(line)
	if err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		return
	}
	fmt.Print(opentherm.FormatMessage(m))
}
