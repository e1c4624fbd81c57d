// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/swerve"
	"github.com/relabs-tech/swerve_localizer/internal/timeutil"
)

type fakeRate struct {
	rate float64
	err  error
}

func (f *fakeRate) YawRate() (float64, error) { return f.rate, f.err }

var _ swerve.GyroSource = (*Gyro)(nil)

func TestGyroIntegratesConstantRate(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	r := &fakeRate{rate: 0.5}
	g := NewGyro(r, clock)

	h, err := g.Heading()
	require.NoError(t, err)
	assert.Zero(t, h.Radians())

	for i := 0; i < 10; i++ {
		clock.Advance(100 * time.Millisecond)
		h, err = g.Heading()
		require.NoError(t, err)
	}
	assert.InDelta(t, 0.5, h.Radians(), 1e-9)
}

func TestGyroTrapezoid(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	r := &fakeRate{rate: 0}
	g := NewGyro(r, clock)
	require.NoError(t, g.Sample())

	clock.Advance(time.Second)
	r.rate = 1
	h, err := g.Heading()
	require.NoError(t, err)
	assert.InDelta(t, 0.5, h.Radians(), 1e-9)
}

func TestGyroWrapsAndResets(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	r := &fakeRate{rate: math.Pi}
	g := NewGyro(r, clock)
	require.NoError(t, g.Sample())

	clock.Advance(1500 * time.Millisecond)
	h, err := g.Heading()
	require.NoError(t, err)
	assert.InDelta(t, -math.Pi/2, h.Radians(), 1e-9)

	g.Reset(geom.FromDegrees(90))
	r.rate = 0
	h, err = g.Heading()
	require.NoError(t, err)
	assert.InDelta(t, 90, h.Degrees(), 1e-9)
}

func TestGyroReadErrors(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	r := &fakeRate{err: errors.New("spi timeout")}
	g := NewGyro(r, clock)

	_, err := g.Heading()
	assert.ErrorContains(t, err, "spi timeout")

	r.err = nil
	r.rate = 1
	_, err = g.Heading()
	require.NoError(t, err)

	clock.Advance(time.Second)
	r.err = errors.New("spi timeout")
	h, err := g.Heading()
	assert.Error(t, err)
	assert.Zero(t, h.Radians())

	r.err = nil
	r.rate = math.NaN()
	assert.Error(t, g.Sample())
}

func TestOpenMPU9250RejectsRange(t *testing.T) {
	_, err := OpenMPU9250("/dev/spidev0.0", "GPIO8", 4)
	assert.ErrorContains(t, err, "out of 0-3")
}
