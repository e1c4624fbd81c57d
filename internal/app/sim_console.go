// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/estimator"
	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
	"github.com/relabs-tech/swerve_localizer/internal/timeutil"
)

// circleAt drives a field-relative circle of radius 1 m at 1 m/s while
// spinning slowly.
func circleAt(t float64) DriveCommand {
	return DriveCommand{Vx: -math.Sin(t), Vy: math.Cos(t), Omega: 0.5, FieldRelative: true}
}

// RunSimConsole drives the simulator without MQTT and prints ground
// truth, fused and odometry poses every 100 ms.
func RunSimConsole(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	kin, err := newKinematics(cfg)
	if err != nil {
		return err
	}
	clock := timeutil.RealClock{}
	start := clock.Now()
	hw, dt, err := newSimHardware(cfg, kin, start)
	if err != nil {
		return err
	}
	l, err := newLocalizer(cfg, kin, hw, nil, telemetry.NopSink{}, clock)
	if err != nil {
		return err
	}
	loop := &controlLoop{
		l:         l,
		hw:        hw,
		commands:  newCommandListener(0),
		visionStd: estimator.StdDevs(cfg.VisionStdDevs()),
	}

	control := clock.NewTicker(cfg.ControlPeriod())
	defer control.Stop()
	report := clock.NewTicker(100 * time.Millisecond)
	defer report.Stop()

	var last telemetry.Snapshot
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-control.C():
			loop.commands.set(now, circleAt(now.Sub(start).Seconds()))
			last = loop.step(now)
		case <-report.C():
			truth := dt.Truth()
			fmt.Printf(
				"TRUTH x=%6.3f y=%6.3f h=%7.1f  FUSED x=%6.3f y=%6.3f h=%7.1f  ODOM x=%6.3f y=%6.3f  err=%.3f\n",
				truth.X, truth.Y, truth.Heading.Degrees(),
				last.Fused.X, last.Fused.Y, last.Fused.Heading.Degrees(),
				last.Odometry.X, last.Odometry.Y,
				distance(truth, last.Fused),
			)
		}
	}
}

func distance(a, b geom.Pose2d) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
