// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// otgwstat - OpenTherm Gateway bus monitor
//
// A CLI tool for decoding the OpenTherm bus relayed by an OpenTherm Gateway,
// sending gateway commands and bridging the decoded state to MQTT, Redis
// and Prometheus.

package main

import (
	"os"

	"github.com/Thermoquad/otgwstat/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
