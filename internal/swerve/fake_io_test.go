// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package swerve

import (
	"errors"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
)

type fakeIO struct {
	state    ModuleState
	position ModulePosition
	samples  []RawSample
	healthy  bool
	currents Currents

	commands  []ModuleState
	offsets   []geom.Rotation2d
	steerRate float64
	stops     int
}

func newFakeIO() *fakeIO { return &fakeIO{healthy: true} }

func (f *fakeIO) State() ModuleState       { return f.state }
func (f *fakeIO) Position() ModulePosition { return f.position }
func (f *fakeIO) HighFrequencySamples() []RawSample {
	s := f.samples
	f.samples = nil
	return s
}
func (f *fakeIO) SetCommand(s ModuleState)             { f.commands = append(f.commands, s) }
func (f *fakeIO) EncoderHealthy() bool                 { return f.healthy }
func (f *fakeIO) ApplyAngleOffset(off geom.Rotation2d) { f.offsets = append(f.offsets, off) }
func (f *fakeIO) Stop()                                { f.stops++ }
func (f *fakeIO) Currents() Currents                   { return f.currents }
func (f *fakeIO) SetSteerRate(radPerSec float64)       { f.steerRate = radPerSec }
func (f *fakeIO) lastCommand() ModuleState             { return f.commands[len(f.commands)-1] }

type fakeGyro struct {
	heading geom.Rotation2d
	err     error
}

func (g *fakeGyro) Heading() (geom.Rotation2d, error) { return g.heading, g.err }

var errGyro = errors.New("spi timeout")

// squareLayout is a 0.6 m square drivetrain: FL, FR, BL, BR.
func squareLayout() []geom.Translation2d {
	return []geom.Translation2d{
		{X: 0.3, Y: 0.3},
		{X: 0.3, Y: -0.3},
		{X: -0.3, Y: 0.3},
		{X: -0.3, Y: -0.3},
	}
}
