// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:   "command <CMD>",
	Short: "Send one gateway command and print its response",
	Long: `Send a command such as "PR=A", "TT=20.5" or "HW=A" to the gateway.

The command is repeated up to the configured number of retries until the
gateway answers with a line carrying the command's two-letter prefix.
Only the response value is printed.

Examples:
  otgwstat command PR=A
  otgwstat command TT=20.5`,
	Args: cobra.ExactArgs(1),
	RunE: runCommand,
}

func init() {
	rootCmd.AddCommand(commandCmd)
}

func runCommand(cmd *cobra.Command, args []string) error {
	command := strings.ToUpper(strings.TrimSpace(args[0]))
	if len(command) < 3 || command[2] != '=' {
		return fmt.Errorf("invalid command %q: expected XX=value", args[0])
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

	resp, err := gw.Command(qctx, command)
	if err != nil {
		return err
	}
	fmt.Println(resp)
	return nil
}
