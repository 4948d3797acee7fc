// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package logging builds the logrus logger shared by all commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Environment overrides
const (
	EnvLevel  = "OTGW_LOG_LEVEL"
	EnvFormat = "OTGW_LOG_FORMAT"
)

const timestampFormat = "2006-01-02 15:04:05"

// Config selects the log level, format and destination.
type Config struct {
	Level  string `yaml:"level" toml:"level"`   // panic, fatal, error, warn, info, debug, trace
	Format string `yaml:"format" toml:"format"` // text or json
	File   string `yaml:"file" toml:"file"`     // empty for stderr
}

// Default logs text at info level to stderr.
func Default() Config {
	return Config{Level: "info", Format: "text"}
}

// ApplyEnv overrides level and format from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLevel); v != "" {
		c.Level = v
	}
	if v := os.Getenv(EnvFormat); v != "" {
		c.Format = v
	}
}

// New creates a logger. The returned closer releases the log file, if any.
func New(cfg Config) (*logrus.Logger, io.Closer, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	default:
		return nil, nil, fmt.Errorf("log format %q: must be text or json", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		log.SetOutput(f)
		closer = f
	} else {
		log.SetOutput(os.Stderr)
	}

	return log, closer, nil
}

// Discard returns a logger that drops everything, for TUIs that own the
// terminal.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
