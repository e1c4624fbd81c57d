// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package main

import (
	"flag"
	"log"

	"github.com/relabs-tech/swerve_localizer/internal/app"
	"github.com/relabs-tech/swerve_localizer/internal/config"
)

func main() {
	configPath := flag.String("config", "./swerve_config.txt", "path to configuration file (empty for defaults)")
	flag.Parse()

	log.Println("starting swerve OLED display (MQTT subscriber)")

	// Load configuration
	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := app.RunDisplay(cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
