// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Measures the absolute encoder offset of every swerve module.
//
// Point every wheel straight forward (bevel gears facing the same side),
// then run:
//
//	go run ./cmd/calibration -config ./swerve_config.txt >> swerve_config.txt
//
// The offsets are printed as MODULE_<n>_OFFSET lines in degrees.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/swerve_localizer/internal/app"
	"github.com/relabs-tech/swerve_localizer/internal/config"
)

func main() {
	configPath := flag.String("config", "./swerve_config.txt", "path to configuration file")
	samples := flag.Int("samples", 200, "readings per module")
	interval := flag.Duration("interval", 10*time.Millisecond, "time between readings")
	flag.Parse()

	log.Println("starting swerve module offset calibration")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunModuleCalibration(ctx, cfg, *samples, *interval, os.Stdout); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
