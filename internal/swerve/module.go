// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package swerve

import (
	"math"
	"time"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/monitoring"
	"github.com/relabs-tech/swerve_localizer/internal/timeutil"
)

// RawSample is one high-frequency reading of a module: capture time (s),
// cumulative drive distance (m) and steering angle.
type RawSample struct {
	Timestamp float64         `json:"t"`
	Distance  float64         `json:"distance"`
	Angle     geom.Rotation2d `json:"angle"`
}

// ModuleIO is the hardware side of one drive module. Motor control loops,
// current limits and offset persistence live behind it.
type ModuleIO interface {
	State() ModuleState
	Position() ModulePosition
	// HighFrequencySamples returns the samples buffered since the previous
	// call, oldest first.
	HighFrequencySamples() []RawSample
	SetCommand(ModuleState)
	EncoderHealthy() bool
	ApplyAngleOffset(offset geom.Rotation2d)
	Stop()
}

// Currents are motor currents in amps.
type Currents struct {
	DriveStator float64 `json:"drive_stator"`
	AngleStator float64 `json:"angle_stator"`
	DriveSupply float64 `json:"drive_supply"`
	AngleSupply float64 `json:"angle_supply"`
}

// CurrentReporter is implemented by module IO that measures motor current.
type CurrentReporter interface {
	Currents() Currents
}

// SteerRateSetter is implemented by module IO that accepts an open-loop
// steering velocity (rad/s), used by Module.Check.
type SteerRateSetter interface {
	SetSteerRate(radPerSec float64)
}

// ModuleConfig holds the per-module calibration and limits.
type ModuleConfig struct {
	AngleOffset           geom.Rotation2d
	RecalibrationInterval time.Duration // <= 0 disables periodic re-application
	SpeedDeadband         float64       // m/s; below this the steering setpoint is held
	MaxLinearVelocity     float64
	MaxAngularVelocity    float64
}

// ModuleInputs is the per-tick snapshot of a module's IO.
type ModuleInputs struct {
	State          ModuleState
	Position       ModulePosition
	Samples        []RawSample
	EncoderHealthy bool
	Currents       Currents
}

// Module supervises one drive module: it caches inputs once per tick,
// tracks encoder health, periodically re-applies the angle offset and
// turns desired states into optimized commands.
type Module struct {
	index   int
	io      ModuleIO
	cfg     ModuleConfig
	clock   timeutil.Clock
	encoder BooleanTrigger

	inputs        ModuleInputs
	angleSetpoint geom.Rotation2d
	haveSetpoint  bool
	lastRecal     time.Time
}

// NewModule wraps io as module index. The recalibration timer starts now.
func NewModule(index int, io ModuleIO, cfg ModuleConfig, clock timeutil.Clock) *Module {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Module{
		index:     index,
		io:        io,
		cfg:       cfg,
		clock:     clock,
		lastRecal: clock.Now(),
	}
}

func (m *Module) Index() int { return m.index }

// Refresh pulls this tick's inputs from the IO. It must be called once
// per control period before any other method.
func (m *Module) Refresh() {
	m.inputs = ModuleInputs{
		State:          m.io.State(),
		Position:       m.io.Position(),
		Samples:        m.io.HighFrequencySamples(),
		EncoderHealthy: m.io.EncoderHealthy(),
	}
	if cr, ok := m.io.(CurrentReporter); ok {
		m.inputs.Currents = cr.Currents()
	}

	wasInitialized := m.encoder.initialized
	m.encoder.Update(m.inputs.EncoderHealthy)
	switch {
	case !wasInitialized && !m.encoder.Value():
		monitoring.Logf("swerve: module %d absolute encoder not connected", m.index)
	case m.encoder.Falling():
		monitoring.Logf("swerve: module %d absolute encoder disconnected", m.index)
	case m.encoder.Rising():
		monitoring.Logf("swerve: module %d absolute encoder reconnected", m.index)
	}

	if m.cfg.RecalibrationInterval > 0 && m.clock.Since(m.lastRecal) >= m.cfg.RecalibrationInterval {
		m.io.ApplyAngleOffset(m.cfg.AngleOffset)
		m.lastRecal = m.clock.Now()
	}
}

// Inputs returns the snapshot taken by the last Refresh.
func (m *Module) Inputs() ModuleInputs { return m.inputs }

func (m *Module) State() ModuleState       { return m.inputs.State }
func (m *Module) Position() ModulePosition { return m.inputs.Position }
func (m *Module) EncoderHealthy() bool     { return m.inputs.EncoderHealthy }

// SetDesiredState optimizes desired against the measured angle, scales
// the speed by the post-optimization steering error and sends the
// command. Near-zero requests hold the previous steering setpoint.
// It returns the command that was sent.
func (m *Module) SetDesiredState(desired ModuleState) ModuleState {
	current := m.inputs.State.Angle

	if math.Abs(desired.Speed) < m.cfg.SpeedDeadband {
		hold := current
		if m.haveSetpoint {
			hold = m.angleSetpoint
		}
		cmd := ModuleState{Speed: 0, Angle: hold}
		m.io.SetCommand(cmd)
		return cmd
	}

	cmd := CosineScale(Optimize(desired, current), current)
	m.angleSetpoint = cmd.Angle
	m.haveSetpoint = true
	m.io.SetCommand(cmd)
	return cmd
}

// Stop halts both motors.
func (m *Module) Stop() { m.io.Stop() }

// Check runs the module open-loop for a visual functional test: drive at
// 80% of max linear speed and, if supported, steer at 20% of max
// angular speed.
func (m *Module) Check() {
	m.io.SetCommand(ModuleState{Speed: 0.8 * m.cfg.MaxLinearVelocity, Angle: m.inputs.State.Angle})
	if sr, ok := m.io.(SteerRateSetter); ok {
		sr.SetSteerRate(0.2 * m.cfg.MaxAngularVelocity)
	}
}

// StatorCurrent is the drive plus angle motor stator current (A).
func (m *Module) StatorCurrent() float64 {
	return m.inputs.Currents.DriveStator + m.inputs.Currents.AngleStator
}

// SupplyCurrent is the drive plus angle motor supply current (A).
func (m *Module) SupplyCurrent() float64 {
	return m.inputs.Currents.DriveSupply + m.inputs.Currents.AngleSupply
}
