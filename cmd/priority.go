// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/spf13/cobra"
)

var priorityCmd = &cobra.Command{
	Use:   "priority <DATA-ID>",
	Short: "Read one data id from the boiler with priority",
	Long: `Ask the gateway to put a read of DATA-ID on the bus as soon as possible
(PM=<id>) and print the decoded fields of the boiler's answer.

DATA-ID is decimal or hexadecimal with a 0x prefix.

Examples:
  otgwstat priority 49      # max CH setpoint boundaries
  otgwstat priority 0x30    # DHW setpoint boundaries`,
	Args: cobra.ExactArgs(1),
	RunE: runPriority,
}

func init() {
	rootCmd.AddCommand(priorityCmd)
}

// parseDataID accepts decimal and 0x-prefixed hexadecimal ids.
func parseDataID(s string) (byte, error) {
	id, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid data id %q", s)
	}
	return byte(id), nil
}

func runPriority(cmd *cobra.Command, args []string) error {
	id, err := parseDataID(args[0])
	if err != nil {
		return err
	}
	if len(opentherm.Definitions(id)) == 0 {
		return fmt.Errorf("data id %d has no known fields", id)
	}

	app, err := NewApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signalContext()
	defer stop()

	gw, err := app.Connect(ctx, nil, true)
	if err != nil {
		return err
	}
	defer gw.Close()

	qctx, cancel := context.WithTimeout(ctx, app.Config.Gateway.QueryTimeout)
	defer cancel()

	fields, err := gw.PriorityQuery(qctx, id)
	if err != nil {
		return err
	}
	fmt.Print(opentherm.FormatFields(fields))
	return nil
}
