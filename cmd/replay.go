// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/Thermoquad/otgwstat/internal/logging"
	"github.com/Thermoquad/otgwstat/pkg/accessory"
	"github.com/Thermoquad/otgwstat/pkg/capture"
	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/spf13/cobra"
)

var (
	replaySpeed   float64
	replaySession string
	replayQuiet   bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <FILE>",
	Short: "Decode a capture file offline",
	Long: `Feed the received lines of a capture file (written with --capture)
through the session tracker and print the resulting state updates.

With --speed the original spacing between lines is kept, divided by the
given factor; the default replays as fast as possible. The accessory state
and bus statistics are printed at the end.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0, "Replay speed factor (0 = no delay)")
	replayCmd.Flags().StringVar(&replaySession, "session", "", "Only replay this capture session")
	replayCmd.Flags().BoolVarP(&replayQuiet, "quiet", "q", false, "Only print the final state and statistics")
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := logging.Default()
	cfg.ApplyEnv()
	if logLevel != "" {
		cfg.Level = logLevel
	}
	if logFormat != "" {
		cfg.Format = logFormat
	}
	log, closer, err := logging.New(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	r, err := capture.Open(args[0], capture.Filter{SessionID: replaySession})
	if err != nil {
		return err
	}
	defer r.Close()

	ctx, stop := signalContext()
	defer stop()

	set := accessory.NewSet(nil, log)
	printer := otgw.HandlerFuncs{
		OnStateUpdate: func(source string, fields opentherm.Fields) {
			if !replayQuiet {
				fmt.Printf("%s\n%s", source, opentherm.FormatFields(fields))
			}
		},
		OnSnapshot: func(fields opentherm.Fields) {
			if !replayQuiet {
				fmt.Printf("summary\n%s", opentherm.FormatFields(fields))
			}
		},
	}
	tracker := otgw.NewTracker(otgw.MultiHandler{set, printer}, log)

	n, err := r.Replay(ctx, replaySpeed, func(rec capture.Record) {
		tracker.HandleLine(rec.Line)
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nReplayed %d lines from %s\n\n", n, args[0])
	for _, a := range set.All() {
		fmt.Println(formatStatus(a.Status()))
	}
	fmt.Println()
	stats := tracker.Statistics()
	fmt.Print(stats.String())
	return nil
}
