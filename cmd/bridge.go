// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"github.com/Thermoquad/otgwstat/internal/bridge"
	"github.com/Thermoquad/otgwstat/internal/metrics"
	"github.com/Thermoquad/otgwstat/pkg/accessory"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	bridgeMQTT    bool
	bridgeRedis   bool
	bridgeMetrics bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Forward gateway state to MQTT, Redis and Prometheus",
	Long: `Run as a service: keep the gateway connection alive and forward every
state update and snapshot to the enabled bridges.

  MQTT:       decoded fields and accessory state, setpoint and raw command
              topics (mqtt section of --config, or --mqtt)
  Redis:      JSON events on a Pub/Sub channel plus a bounded history list
              (redis section, or --redis)
  Prometheus: /metrics and /health (metrics section, or --metrics)

The service stops on Ctrl+C or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().BoolVar(&bridgeMQTT, "mqtt", false, "Enable the MQTT bridge")
	bridgeCmd.Flags().BoolVar(&bridgeRedis, "redis", false, "Enable the Redis bridge")
	bridgeCmd.Flags().BoolVar(&bridgeMetrics, "metrics", false, "Enable the Prometheus endpoint")
}

func runBridge(cmd *cobra.Command, args []string) error {
	app, err := NewApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	cfg := app.Config
	cfg.MQTT.Enabled = cfg.MQTT.Enabled || bridgeMQTT
	cfg.Redis.Enabled = cfg.Redis.Enabled || bridgeRedis
	cfg.Metrics.Enabled = cfg.Metrics.Enabled || bridgeMetrics
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	cmdr := &gatewayCommander{}
	set := accessory.NewSet(cmdr, app.Log)

	// Accessories first so their ranges are set when the bridges see Ready
	handlers := otgw.MultiHandler{set}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New(app.Log)
		handlers = append(handlers, collector)
	}

	var mq *bridge.MQTT
	if cfg.MQTT.Enabled {
		mq = bridge.NewMQTT(cfg.MQTT, cmdr, set, app.Log)
		set.OnChange = mq.PublishAccessory
		handlers = append(handlers, mq)
	}

	var rd *bridge.Redis
	if cfg.Redis.Enabled {
		if rd, err = bridge.NewRedis(ctx, cfg.Redis, app.Log); err != nil {
			return err
		}
		defer rd.Close()
		handlers = append(handlers, rd)
	}

	gw := otgw.NewGateway(app.GatewayConfig(false, nil), handlers)
	cmdr.gw = gw

	if mq != nil {
		mq.Connect()
		defer mq.Close()
	}

	app.Log.Infof("bridge started (%s)", app.ConnectionInfo())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gw.Run(gctx)
	})
	g.Go(func() error {
		set.Run(gctx)
		return nil
	})
	if collector != nil {
		g.Go(func() error {
			return collector.Serve(gctx, cfg.Metrics.Listen)
		})
	}
	if rd != nil {
		g.Go(func() error {
			return rd.Run(gctx)
		})
	}

	err = g.Wait()
	app.Log.Info("bridge stopped")
	return err
}
