// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/Thermoquad/otgwstat/pkg/accessory"
	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive gateway console",
	Long: `Open an interactive prompt connected to the gateway.

The gateway is identified and its boundaries are read on connect, and the
thermostat, boiler and hot water state follow the bus while you type.
Type 'help' at the prompt for the available commands.`,
	Args: cobra.NoArgs,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

// console is the interactive command loop
type console struct {
	rl    *readline.Instance
	gw    *otgw.Gateway
	set   *accessory.Set
	watch atomic.Bool
}

func runConsole(cmd *cobra.Command, args []string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "otgw> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	app, err := NewApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()
	if app.Config.Log.File == "" {
		app.Log.SetOutput(rl.Stderr())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &console{rl: rl}
	c.gw, c.set = app.NewAccessoryGateway(otgw.HandlerFuncs{OnStateUpdate: c.printUpdate})

	fmt.Fprintf(rl.Stdout(), "otgwstat - Console\n")
	fmt.Fprintf(rl.Stdout(), "Connection: %s\n", app.ConnectionInfo())

	go c.gw.Run(ctx)
	go c.set.Run(ctx)

	c.run(ctx, cancel)
	return nil
}

func (c *console) out() io.Writer {
	return c.rl.Stdout()
}

func (c *console) run(ctx context.Context, cancel context.CancelFunc) {
	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.out(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "cmd", "c":
			c.cmdRaw(ctx, args)

		case "pm", "priority":
			c.cmdPriority(ctx, args)

		case "ps", "summary":
			c.cmdSummary(ctx)

		case "status", "s":
			c.cmdStatus()

		case "stats":
			stats := c.gw.Tracker().Statistics()
			fmt.Fprint(c.out(), stats.String())

		case "thermostat", "hotwater":
			c.cmdAccessory(ctx, cmd, args)

		case "watch", "w":
			c.watch.Store(!c.watch.Load())
			fmt.Fprintf(c.out(), "Watching state updates: %v\n", c.watch.Load())

		case "quit", "exit", "q":
			fmt.Fprintln(c.out(), "Exiting...")
			cancel()
			return

		default:
			// Bare gateway commands such as "PR=A"
			if len(input) > 2 && input[2] == '=' {
				c.cmdRaw(ctx, []string{input})
				continue
			}
			fmt.Fprintf(c.out(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *console) printHelp() {
	fmt.Fprint(c.out(), `
Commands:
  cmd <XX=value>                 Send a gateway command (or type it bare, e.g. PR=A)
  pm <data-id>                   Priority read of a data id
  ps                             Full summary snapshot
  status                         Thermostat, boiler and hot water state
  stats                          Bus statistics
  thermostat temp <value>        Temporary room setpoint override (TT)
  thermostat mode auto           Clear the room setpoint override
  hotwater temp <value>          Hot water setpoint (SW)
  hotwater mode <off|heat|auto>  Force hot water or leave it to the thermostat
  watch                          Toggle printing of state updates
  quit                           Exit
`)
}

func (c *console) query(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, otgw.DefaultQueryTimeout)
}

func (c *console) cmdRaw(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out(), "Usage: cmd <XX=value>")
		return
	}
	qctx, cancel := c.query(ctx)
	defer cancel()

	resp, err := c.gw.Command(qctx, strings.ToUpper(args[0]))
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out(), resp)
}

func (c *console) cmdPriority(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out(), "Usage: pm <data-id>")
		return
	}
	id, err := parseDataID(args[0])
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}
	qctx, cancel := c.query(ctx)
	defer cancel()

	fields, err := c.gw.PriorityQuery(qctx, id)
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}
	fmt.Fprint(c.out(), opentherm.FormatFields(fields))
}

func (c *console) cmdSummary(ctx context.Context) {
	qctx, cancel := c.query(ctx)
	defer cancel()

	fields, err := c.gw.Snapshot(qctx)
	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}
	fmt.Fprint(c.out(), opentherm.FormatFields(fields))
}

func (c *console) cmdStatus() {
	info := c.gw.Info()
	if info.Version != "" {
		fmt.Fprintf(c.out(), "%s %s\n", info.Model, info.Version)
	}
	if !c.gw.Connected() {
		fmt.Fprintln(c.out(), "Not connected")
	}
	for _, a := range c.set.All() {
		fmt.Fprintln(c.out(), formatStatus(a.Status()))
	}
}

func (c *console) cmdAccessory(ctx context.Context, name string, args []string) {
	if len(args) != 2 {
		fmt.Fprintf(c.out(), "Usage: %s temp <value> | %s mode <state>\n", name, name)
		return
	}

	qctx, cancel := c.query(ctx)
	defer cancel()

	var err error
	switch args[0] {
	case "temp", "temperature":
		var v float64
		if v, err = strconv.ParseFloat(args[1], 64); err != nil {
			fmt.Fprintf(c.out(), "Invalid temperature: %s\n", args[1])
			return
		}
		if name == "thermostat" {
			err = c.set.Thermostat.SetTargetTemperature(qctx, v)
		} else {
			err = c.set.HotWater.SetTargetTemperature(qctx, v)
		}

	case "mode":
		var state accessory.TargetState
		if state, err = accessory.ParseTargetState(args[1]); err != nil {
			fmt.Fprintf(c.out(), "Error: %v\n", err)
			return
		}
		if name == "thermostat" {
			err = c.set.Thermostat.SetTargetState(qctx, state)
		} else {
			err = c.set.HotWater.SetTargetState(qctx, state)
		}

	default:
		fmt.Fprintf(c.out(), "Unknown setting: %s\n", args[0])
		return
	}

	if err != nil {
		fmt.Fprintf(c.out(), "Error: %v\n", err)
		return
	}
	fmt.Fprintln(c.out(), "OK")
}

func (c *console) printUpdate(source string, fields opentherm.Fields) {
	if !c.watch.Load() {
		return
	}
	fmt.Fprintf(c.out(), "%s\n%s", source, opentherm.FormatFields(fields))
}

// formatStatus renders one accessory on a single line
func formatStatus(s accessory.Status) string {
	line := fmt.Sprintf("%-10s %-4s target=%-4s %5.1f°C -> %5.1f°C",
		s.Name, s.State, s.TargetState, s.Temperature, s.TargetTemperature)
	if s.TargetRange.Valid() {
		line += fmt.Sprintf(" [%g-%g]", s.TargetRange.Min, s.TargetRange.Max)
	}
	if s.ValvePosition > 0 {
		line += fmt.Sprintf(" %3.0f%%", s.ValvePosition)
	}
	if s.Override {
		line += " (override)"
	}
	return line
}
