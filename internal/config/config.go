// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads otgwstat settings from a YAML or TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Thermoquad/otgwstat/internal/logging"
	"github.com/Thermoquad/otgwstat/pkg/otgw"
	"gopkg.in/yaml.v3"
)

// Config is the complete file configuration.
type Config struct {
	Gateway GatewayConfig  `yaml:"gateway" toml:"gateway"`
	Log     logging.Config `yaml:"log" toml:"log"`
	MQTT    MQTTConfig     `yaml:"mqtt" toml:"mqtt"`
	Redis   RedisConfig    `yaml:"redis" toml:"redis"`
	Metrics MetricsConfig  `yaml:"metrics" toml:"metrics"`
	Capture CaptureConfig  `yaml:"capture" toml:"capture"`
}

// GatewayConfig selects the connections and command channel timing.
type GatewayConfig struct {
	// OpenTherm Monitor web server (host:port)
	Monitor       string `yaml:"monitor" toml:"monitor"`
	TLS           bool   `yaml:"tls" toml:"tls"`
	SkipSSLVerify bool   `yaml:"skip_ssl_verify" toml:"skip_ssl_verify"`
	Username      string `yaml:"username" toml:"username"`
	Password      string `yaml:"password" toml:"password"`

	// Gateway TCP serial server (host:port)
	Address string `yaml:"address" toml:"address"`

	// Directly attached gateway
	SerialPort string `yaml:"serial_port" toml:"serial_port"`
	Baud       int    `yaml:"baud" toml:"baud"`

	ReconnectInterval  time.Duration `yaml:"reconnect_interval" toml:"reconnect_interval"`
	RetryDelay         time.Duration `yaml:"retry_delay" toml:"retry_delay"`
	MaxRetries         int           `yaml:"max_retries" toml:"max_retries"`
	QueryTimeout       time.Duration `yaml:"query_timeout" toml:"query_timeout"`
	RecommendedVersion string        `yaml:"recommended_version" toml:"recommended_version"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Broker      string `yaml:"broker" toml:"broker"`
	ClientID    string `yaml:"client_id" toml:"client_id"`
	Username    string `yaml:"username" toml:"username"`
	Password    string `yaml:"password" toml:"password"`
	TopicPrefix string `yaml:"topic_prefix" toml:"topic_prefix"`
	Retain      bool   `yaml:"retain" toml:"retain"`
}

type RedisConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled"`
	Addr          string `yaml:"addr" toml:"addr"`
	Password      string `yaml:"password" toml:"password"`
	DB            int    `yaml:"db" toml:"db"`
	Channel       string `yaml:"channel" toml:"channel"`
	HistoryKey    string `yaml:"history_key" toml:"history_key"`
	HistoryLength int64  `yaml:"history_length" toml:"history_length"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Listen  string `yaml:"listen" toml:"listen"`
}

type CaptureConfig struct {
	// Path of the CBOR capture file; empty disables capture
	Path string `yaml:"path" toml:"path"`
}

// Default returns the built-in configuration: OpenTherm Monitor on
// localhost:8080, with bridges disabled.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Monitor:            "localhost:8080",
			Baud:               9600,
			ReconnectInterval:  otgw.DefaultReconnectInterval,
			RetryDelay:         otgw.DefaultRetryDelay,
			MaxRetries:         otgw.DefaultMaxRetries,
			QueryTimeout:       otgw.DefaultQueryTimeout,
			RecommendedVersion: otgw.DefaultRecommendedVersion,
		},
		Log: logging.Default(),
		MQTT: MQTTConfig{
			Broker:      "tcp://localhost:1883",
			ClientID:    "otgwstat",
			TopicPrefix: "otgw",
			Retain:      true,
		},
		Redis: RedisConfig{
			Addr:          "localhost:6379",
			Channel:       "otgw:state",
			HistoryKey:    "otgw:history",
			HistoryLength: 1000,
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
	}
}

// Load reads path over the defaults. The format follows the extension:
// .yaml, .yml or .toml.
func Load(path string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported format (use .yaml or .toml)", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the gateway cannot use.
func (c *Config) Validate() error {
	var errs []error

	g := c.Gateway
	if g.Monitor == "" && g.Address == "" && g.SerialPort == "" {
		errs = append(errs, errors.New("gateway: no monitor, address or serial_port configured"))
	}
	if g.SerialPort != "" && g.Baud <= 0 {
		errs = append(errs, fmt.Errorf("gateway: invalid baud rate %d", g.Baud))
	}
	if g.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("gateway: reconnect_interval must be positive"))
	}
	if g.RetryDelay <= 0 {
		errs = append(errs, errors.New("gateway: retry_delay must be positive"))
	}
	if g.MaxRetries < 0 {
		errs = append(errs, errors.New("gateway: max_retries must not be negative"))
	}
	if g.QueryTimeout <= 0 {
		errs = append(errs, errors.New("gateway: query_timeout must be positive"))
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt: broker required"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis: addr required"))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics: listen address required"))
	}

	return errors.Join(errs...)
}

// Dialers returns the configured connections in the order they are tried:
// serial port, OpenTherm Monitor, then the gateway's TCP serial server.
func (g GatewayConfig) Dialers() []otgw.Dialer {
	var dialers []otgw.Dialer
	if g.SerialPort != "" {
		dialers = append(dialers, otgw.SerialDialer{Port: g.SerialPort, BaudRate: g.Baud})
	}
	if g.Monitor != "" {
		dialers = append(dialers, otgw.MonitorDialer{
			Address:       g.Monitor,
			Username:      g.Username,
			Password:      g.Password,
			TLS:           g.TLS,
			SkipSSLVerify: g.SkipSSLVerify,
		})
	}
	if g.Address != "" {
		dialers = append(dialers, otgw.SocketDialer{Address: g.Address})
	}
	return dialers
}
