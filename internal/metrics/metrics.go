// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package metrics exports gateway state and tracker events to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Thermoquad/otgwstat/pkg/opentherm"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const namespace = "otgw"

// Collector is an otgw.Handler that records every decoded field as a gauge.
type Collector struct {
	registry *prometheus.Registry
	log      logrus.FieldLogger

	fields          *prometheus.GaugeVec
	stateUpdates    prometheus.Counter
	snapshots       prometheus.Counter
	priorityResults prometheus.Counter
	warnings        *prometheus.CounterVec
	connected       prometheus.Gauge
	connects        prometheus.Counter
	lastUpdate      prometheus.Gauge
}

// New creates a collector with its own registry, including the Go runtime
// and process collectors.
func New(log logrus.FieldLogger) *Collector {
	if log == nil {
		log = logrus.StandardLogger()
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
		log:      log.WithField("component", "metrics"),

		fields: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "field_value",
			Help:      "Last decoded value of an OpenTherm field (flags as 0/1)",
		}, []string{"field"}),
		stateUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_updates_total",
			Help:      "Completed exchanges that produced a state update",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_total",
			Help:      "Decoded summary lines",
		}),
		priorityResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "priority_results_total",
			Help:      "Answered priority queries",
		}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_warnings_total",
			Help:      "Dropped frames and summaries, and sequence violations",
		}, []string{"kind"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a gateway connection is open",
		}),
		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connects_total",
			Help:      "Gateway connections opened",
		}),
		lastUpdate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_update_timestamp_seconds",
			Help:      "Unix time of the last state update or snapshot",
		}),
	}

	c.registry.MustRegister(
		c.fields,
		c.stateUpdates,
		c.snapshots,
		c.priorityResults,
		c.warnings,
		c.connected,
		c.connects,
		c.lastUpdate,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) setFields(fields opentherm.Fields) {
	for key, v := range fields {
		switch v := v.(type) {
		case float64:
			c.fields.WithLabelValues(key).Set(v)
		case int:
			c.fields.WithLabelValues(key).Set(float64(v))
		case bool:
			if v {
				c.fields.WithLabelValues(key).Set(1)
			} else {
				c.fields.WithLabelValues(key).Set(0)
			}
		}
	}
	c.lastUpdate.SetToCurrentTime()
}

// otgw.Handler

func (c *Collector) StateUpdate(source string, fields opentherm.Fields) {
	c.stateUpdates.Inc()
	c.setFields(fields)
}

func (c *Collector) Snapshot(fields opentherm.Fields) {
	c.snapshots.Inc()
	c.setFields(fields)
}

func (c *Collector) PriorityResult(id byte, fields opentherm.Fields) {
	c.priorityResults.Inc()
}

func (c *Collector) DecodeWarning(err error) {
	c.warnings.WithLabelValues(WarningKind(err)).Inc()
}

// otgw.ConnectionHandler

func (c *Collector) Connected(name string) {
	c.connected.Set(1)
	c.connects.Inc()
}

func (c *Collector) Disconnected(err error) {
	c.connected.Set(0)
}

func (c *Collector) Ready(info otgw.Info, bounds otgw.Boundaries) {}

// WarningKind labels a tracker warning.
func WarningKind(err error) string {
	var seqErr *otgw.SequenceError
	switch {
	case errors.Is(err, opentherm.ErrParity):
		return "parity"
	case errors.Is(err, opentherm.ErrInvalidType):
		return "type"
	case errors.Is(err, opentherm.ErrOriginMismatch):
		return "origin"
	case errors.Is(err, opentherm.ErrSummaryLength):
		return "summary"
	case errors.As(err, &seqErr):
		if seqErr.Abandoned {
			return "abandoned"
		}
		return "sequence"
	default:
		return "other"
	}
}

// Serve exposes /metrics and /health on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		c.log.Infof("metrics server listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
