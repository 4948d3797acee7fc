// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/otgwstat/internal/metrics"
	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Monitor for bus errors and anomalies",
	Long: `Monitor the OpenTherm bus and report errors and anomalies.

Reports:
  - Parity errors and invalid message types
  - Origin / message type mismatches
  - Out of sequence messages and abandoned exchanges
  - Malformed summary lines
  - Implausible values (temperatures, modulation, pressure, setpoints)
  - Data-invalid and unknown-data-id answers from the boiler

Statistics are printed periodically. Use --show-all to print every frame.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames, not just errors")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics display interval in seconds")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	app, err := NewApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	fmt.Printf("otgwstat - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", app.ConnectionInfo())
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signalContext()
	defer stop()

	handler := otgw.HandlerFuncs{
		OnDecodeWarning: printDecodeWarning,
	}
	gw := otgw.NewGateway(app.GatewayConfig(true, inspectLine), handler)

	done := make(chan error, 1)
	go func() {
		done <- gw.Run(ctx)
	}()

	// Statistics ticker
	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case err := <-done:
			return err
		case <-statsTicker.C:
			stats := gw.Tracker().Statistics()
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}

// inspectLine validates every received frame. Frames that fail to decode
// are reported through the tracker's decode warnings instead.
func inspectLine(dir otgw.Direction, line string) {
	if dir != otgw.Received || !opentherm.IsBusMessage(line) {
		return
	}
	m, err := opentherm.Decode(line)
	if err != nil {
		return
	}

	if validationErrors := opentherm.ValidateMessage(m); len(validationErrors) > 0 {
		printValidationErrors(m, validationErrors)
	} else if showAll {
		fmt.Print(opentherm.FormatMessage(m))
	}
}

// printDecodeWarning prints a dropped frame or a sequence violation
func printDecodeWarning(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	kind := metrics.WarningKind(err)

	var seq *otgw.SequenceError
	if errors.As(err, &seq) {
		// Sequence problems are usually a missed frame, not corruption
		fmt.Printf("[%s] \033[1;33mSEQUENCE (%s)\033[0m: %v\n", timestamp, kind, err)
		return
	}

	fmt.Printf("[%s] \033[1;31mDECODE ERROR (%s)\033[0m: %v\n", timestamp, kind, err)
}

// printValidationErrors prints details of an implausible frame
func printValidationErrors(m *opentherm.Message, validationErrors []opentherm.ValidationError) {
	timestamp := m.Timestamp.Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mANOMALY\033[0m in %s %s (0x%02X)\n", timestamp, m.Line, m.Type, m.ID)

	for i, err := range validationErrors {
		fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		switch err.Type {
		case opentherm.AnomalyTemperature, opentherm.AnomalyModulation,
			opentherm.AnomalyPressure, opentherm.AnomalySetpoint:
			if v, ok := err.Details["value"].(float64); ok {
				fmt.Printf("    %s=%.2f (valid: %v to %v)\n", err.Details["key"], v, err.Details["min"], err.Details["max"])
			}
		}
	}

	if len(m.Fields) > 0 {
		fmt.Print(opentherm.FormatFields(m.Fields))
	}
	fmt.Printf("  >>> FRAME FLAGGED <<<\n\n")
}
