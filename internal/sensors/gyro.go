// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors reads the robot's yaw from an MPU9250 and integrates
// it into a heading for odometry.
package sensors

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/timeutil"
)

// ErrNoReading is returned by Heading before the first successful read.
var ErrNoReading = errors.New("sensors: no gyro reading yet")

// RateReader reports the yaw rate in rad/s, counter-clockwise positive.
type RateReader interface {
	YawRate() (float64, error)
}

// Gyro integrates a RateReader into a heading. It implements
// swerve.GyroSource.
type Gyro struct {
	reader RateReader
	clock  timeutil.Clock

	mu       sync.Mutex
	heading  float64 // rad, unwrapped
	lastRate float64
	lastTime time.Time
	started  bool
}

// NewGyro starts integrating from a heading of zero at the first read.
func NewGyro(reader RateReader, clock timeutil.Clock) *Gyro {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Gyro{reader: reader, clock: clock}
}

// Sample reads the rate once and advances the heading using the
// trapezoidal rule. Calling it faster than the control loop improves
// accuracy during fast turns.
func (g *Gyro) Sample() error {
	rate, err := g.reader.YawRate()
	if err != nil {
		return fmt.Errorf("sensors: gyro read: %w", err)
	}
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return fmt.Errorf("sensors: gyro rate %v", rate)
	}
	now := g.clock.Now()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		dt := now.Sub(g.lastTime).Seconds()
		if dt > 0 {
			g.heading += 0.5 * (g.lastRate + rate) * dt
		}
	}
	g.lastRate = rate
	g.lastTime = now
	g.started = true
	return nil
}

// Heading samples the gyro and returns the integrated yaw. A failed
// read after the first success still returns the last heading along
// with the error.
func (g *Gyro) Heading() (geom.Rotation2d, error) {
	err := g.Sample()

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		if err == nil {
			err = ErrNoReading
		}
		return geom.Rotation2d{}, err
	}
	return geom.FromRadians(g.heading), err
}

// Reset sets the integrated heading without touching the rate history.
func (g *Gyro) Reset(h geom.Rotation2d) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.heading = h.Radians()
}
