// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package swerve

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/monitoring"
	"github.com/relabs-tech/swerve_localizer/internal/timeutil"
)

func captureLogs(t *testing.T) *[]string {
	t.Helper()
	saved := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = saved })
	var lines []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	return &lines
}

func testModuleConfig() ModuleConfig {
	return ModuleConfig{
		AngleOffset:           geom.FromRotations(0.25),
		RecalibrationInterval: time.Second,
		SpeedDeadband:         0.01,
		MaxLinearVelocity:     4,
		MaxAngularVelocity:    10,
	}
}

func TestModuleRecalibratesEverySecond(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	io := newFakeIO()
	m := NewModule(0, io, testModuleConfig(), clock)

	clock.Advance(999 * time.Millisecond)
	m.Refresh()
	assert.Empty(t, io.offsets)

	clock.Advance(time.Millisecond)
	m.Refresh()
	require.Len(t, io.offsets, 1)
	assert.InDelta(t, math.Pi/2, io.offsets[0].Radians(), 1e-12)

	clock.Advance(500 * time.Millisecond)
	m.Refresh()
	assert.Len(t, io.offsets, 1)

	clock.Advance(500 * time.Millisecond)
	m.Refresh()
	assert.Len(t, io.offsets, 2)
}

func TestModuleRecalibrationDisabled(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	io := newFakeIO()
	cfg := testModuleConfig()
	cfg.RecalibrationInterval = 0
	m := NewModule(0, io, cfg, clock)

	clock.Advance(time.Hour)
	m.Refresh()
	assert.Empty(t, io.offsets)
}

func TestModuleSetDesiredStateOptimizesAndScales(t *testing.T) {
	io := newFakeIO()
	io.state = ModuleState{Speed: 0, Angle: geom.FromDegrees(0)}
	m := NewModule(1, io, testModuleConfig(), timeutil.NewMockClock(time.Unix(0, 0)))
	m.Refresh()

	cmd := m.SetDesiredState(ModuleState{Speed: 3, Angle: geom.FromDegrees(150)})

	assert.InDelta(t, -30, cmd.Angle.Degrees(), 1e-9)
	assert.InDelta(t, -3*math.Cos(30*math.Pi/180), cmd.Speed, 1e-9)
	assert.Equal(t, cmd, io.lastCommand())
}

func TestModuleDeadbandHoldsSetpoint(t *testing.T) {
	io := newFakeIO()
	io.state = ModuleState{Angle: geom.FromDegrees(40)}
	m := NewModule(0, io, testModuleConfig(), timeutil.NewMockClock(time.Unix(0, 0)))
	m.Refresh()

	// No setpoint yet: hold the measured angle.
	cmd := m.SetDesiredState(ModuleState{Speed: 0.001, Angle: geom.FromDegrees(-90)})
	assert.Zero(t, cmd.Speed)
	assert.InDelta(t, 40, cmd.Angle.Degrees(), 1e-9)

	m.SetDesiredState(ModuleState{Speed: 1, Angle: geom.FromDegrees(60)})
	cmd = m.SetDesiredState(ModuleState{Speed: 0, Angle: geom.FromDegrees(0)})
	assert.Zero(t, cmd.Speed)
	assert.InDelta(t, 60, cmd.Angle.Degrees(), 1e-9)
}

func TestModuleEncoderHealthTransitionsAreLogged(t *testing.T) {
	logs := captureLogs(t)
	io := newFakeIO()
	m := NewModule(2, io, testModuleConfig(), timeutil.NewMockClock(time.Unix(0, 0)))

	m.Refresh()
	assert.True(t, m.EncoderHealthy())
	assert.Empty(t, *logs)

	io.healthy = false
	m.Refresh()
	assert.False(t, m.EncoderHealthy())
	require.Len(t, *logs, 1)
	assert.Contains(t, (*logs)[0], "module 2 absolute encoder disconnected")

	m.Refresh()
	assert.Len(t, *logs, 1)

	io.healthy = true
	m.Refresh()
	require.Len(t, *logs, 2)
	assert.Contains(t, (*logs)[1], "reconnected")
}

func TestModuleStartsUnhealthyIsLogged(t *testing.T) {
	logs := captureLogs(t)
	io := newFakeIO()
	io.healthy = false
	m := NewModule(3, io, testModuleConfig(), timeutil.NewMockClock(time.Unix(0, 0)))
	m.Refresh()
	require.Len(t, *logs, 1)
	assert.Contains(t, (*logs)[0], "not connected")
}

func TestModuleCurrentsAndCheck(t *testing.T) {
	io := newFakeIO()
	io.currents = Currents{DriveStator: 10, AngleStator: 2, DriveSupply: 6, AngleSupply: 1}
	io.state = ModuleState{Angle: geom.FromDegrees(15)}
	m := NewModule(0, io, testModuleConfig(), timeutil.NewMockClock(time.Unix(0, 0)))
	m.Refresh()

	assert.InDelta(t, 12, m.StatorCurrent(), 1e-12)
	assert.InDelta(t, 7, m.SupplyCurrent(), 1e-12)

	m.Check()
	assert.InDelta(t, 3.2, io.lastCommand().Speed, 1e-12)
	assert.InDelta(t, 15, io.lastCommand().Angle.Degrees(), 1e-9)
	assert.InDelta(t, 2, io.steerRate, 1e-12)

	m.Stop()
	assert.Equal(t, 1, io.stops)
}

func TestBooleanTrigger(t *testing.T) {
	var b BooleanTrigger
	b.Update(false)
	assert.False(t, b.Rising())
	assert.False(t, b.Falling())

	b.Update(true)
	assert.True(t, b.Rising())
	b.Update(true)
	assert.False(t, b.Rising())
	b.Update(false)
	assert.True(t, b.Falling())
	assert.False(t, b.Value())
}
