// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print a full snapshot of the gateway's state",
	Long: `Switch the gateway to summary reporting (PS=1), decode the single
comma-separated summary line it prints and switch back to message
logging (PS=0).

Every field is printed with its decoded value.`,
	Args: cobra.NoArgs,
	RunE: runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
}

func runSummary(cmd *cobra.Command, args []string) error {
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

	fields, err := gw.Snapshot(qctx)
	if err != nil {
		return err
	}
	fmt.Print(opentherm.FormatFields(fields))
	return nil
}
