// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sim is a software drivetrain: swerve modules with steering lag
// and a wheel scale error, a ground-truth pose, and a latent, noisy
// vision feed. It stands in for the hardware on a bench or in tests.
package sim

import (
	"math"
	"sync"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/swerve"
)

// DefaultSteerRate is how fast a simulated module can turn (rad/s).
const DefaultSteerRate = 4 * math.Pi

// Module is a simulated swerve module. It implements swerve.ModuleIO,
// swerve.CurrentReporter and swerve.SteerRateSetter.
type Module struct {
	mu sync.Mutex

	steerRate     float64 // closed-loop limit, rad/s
	distanceScale float64 // measured / true distance

	command   swerve.ModuleState
	openLoop  float64 // rad/s, non-zero during Check
	angle     geom.Rotation2d
	speed     float64
	trueDist  float64
	healthy   bool
	offset    geom.Rotation2d
	offsets   int
	samples   []swerve.RawSample
	lastDelta float64 // true distance moved in the last step
}

// NewModule creates a module at rest pointing forward. distanceScale
// models a wheel radius error; 1 is perfect.
func NewModule(distanceScale float64) *Module {
	if distanceScale == 0 {
		distanceScale = 1
	}
	return &Module{
		steerRate:     DefaultSteerRate,
		distanceScale: distanceScale,
		healthy:       true,
	}
}

// step advances the module by dt seconds and records a sample at t.
func (m *Module) step(t, dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openLoop != 0 {
		m.angle = m.angle.Plus(geom.FromRadians(m.openLoop * dt))
	} else {
		diff := m.command.Angle.Minus(m.angle).Radians()
		maxStep := m.steerRate * dt
		m.angle = m.angle.Plus(geom.FromRadians(math.Max(-maxStep, math.Min(maxStep, diff))))
	}
	m.speed = m.command.Speed
	m.lastDelta = m.speed * dt
	m.trueDist += m.lastDelta

	m.samples = append(m.samples, swerve.RawSample{
		Timestamp: t,
		Distance:  m.trueDist * m.distanceScale,
		Angle:     m.angle,
	})
}

func (m *Module) trueDelta() swerve.ModulePosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return swerve.ModulePosition{Distance: m.lastDelta, Angle: m.angle}
}

func (m *Module) State() swerve.ModuleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return swerve.ModuleState{Speed: m.speed * m.distanceScale, Angle: m.angle}
}

func (m *Module) Position() swerve.ModulePosition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return swerve.ModulePosition{Distance: m.trueDist * m.distanceScale, Angle: m.angle}
}

func (m *Module) HighFrequencySamples() []swerve.RawSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.samples
	m.samples = nil
	return out
}

func (m *Module) SetCommand(s swerve.ModuleState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.command = s
	m.openLoop = 0
}

func (m *Module) SetSteerRate(radPerSec float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openLoop = radPerSec
}

func (m *Module) EncoderHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

// SetEncoderHealthy simulates unplugging or replugging the absolute
// encoder.
func (m *Module) SetEncoderHealthy(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = ok
}

func (m *Module) ApplyAngleOffset(offset geom.Rotation2d) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = offset
	m.offsets++
}

// OffsetsApplied counts ApplyAngleOffset calls and returns the last
// offset applied.
func (m *Module) OffsetsApplied() (int, geom.Rotation2d) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsets, m.offset
}

func (m *Module) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.command.Speed = 0
	m.openLoop = 0
}

// Currents is a crude load model: drive current grows with speed, steer
// current with steering motion.
func (m *Module) Currents() swerve.Currents {
	m.mu.Lock()
	defer m.mu.Unlock()
	drive := 2 + 8*math.Abs(m.speed)
	steer := 0.5
	if m.openLoop != 0 || math.Abs(m.command.Angle.Minus(m.angle).Radians()) > 1e-3 {
		steer = 3
	}
	return swerve.Currents{
		DriveStator: drive,
		AngleStator: steer,
		DriveSupply: 0.6 * drive,
		AngleSupply: 0.6 * steer,
	}
}
