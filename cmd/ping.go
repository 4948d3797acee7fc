// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the command channel by asking the gateway for its version",
	Long: `Send "PR=A" to the gateway and wait for its "PR: A=..." reply.

Every reply carries the firmware identity; the round-trip time includes any
retries the command channel needed because bus traffic came first.

This is useful for verifying:
  - The connection is established
  - HTTP Basic authentication works (OpenTherm Monitor)
  - Commands reach the gateway and replies are correlated

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	Args: cobra.NoArgs,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 10, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	app, err := NewApp(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}
	defer app.Close()

	ctx, stop := signalContext()
	defer stop()

	gw, err := app.Connect(ctx, nil, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer gw.Close()

	fmt.Printf("otgwstat - Gateway Ping Test\n")
	fmt.Printf("Connection: %s\n", app.ConnectionInfo())
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		pctx, cancel := context.WithTimeout(ctx, time.Duration(pingTimeout)*time.Second)
		resp, err := gw.Command(pctx, "PR=A")
		cancel()

		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		} else if info, err := otgw.ParseIdentity(resp); err != nil {
			fmt.Printf("INVALID REPLY: %v\n", err)
			failCount++
		} else {
			rtt := time.Since(startTime)
			fmt.Printf("reply from %s %s, rtt=%v\n", info.Model, info.Version, rtt.Round(time.Millisecond))
			successCount++
		}

		if ctx.Err() != nil {
			break
		}

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
