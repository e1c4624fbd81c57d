// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package swerve

import (
	"fmt"
	"time"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/monitoring"
	"github.com/relabs-tech/swerve_localizer/internal/timeutil"
)

// GyroSource reports the robot's yaw. The absolute value is arbitrary;
// only changes matter to odometry.
type GyroSource interface {
	Heading() (geom.Rotation2d, error)
}

// Limits are the chassis speed limits used when commanding modules.
type Limits struct {
	MaxLinearVelocity  float64 // m/s, per module after desaturation
	MaxAngularVelocity float64 // rad/s
}

// Drive assembles the modules, kinematics and sampler of one drivetrain.
type Drive struct {
	kin     *Kinematics
	modules []*Module
	sampler *Sampler
	gyro    GyroSource
	limits  Limits

	// highFrequency is set once any module has delivered samples.
	highFrequency bool

	lastCommands []ModuleState
}

// NewDrive wires modules (in kinematics index order) to kin. gyro may be nil.
func NewDrive(kin *Kinematics, modules []*Module, gyro GyroSource, limits Limits) (*Drive, error) {
	if len(modules) != kin.NumModules() {
		return nil, fmt.Errorf("swerve: %d modules for a %d-module layout", len(modules), kin.NumModules())
	}
	for i, m := range modules {
		if m.Index() != i {
			return nil, fmt.Errorf("swerve: module at position %d has index %d", i, m.Index())
		}
	}
	return &Drive{
		kin:          kin,
		modules:      modules,
		sampler:      NewSampler(len(modules)),
		gyro:         gyro,
		limits:       limits,
		lastCommands: make([]ModuleState, len(modules)),
	}, nil
}

// Tick refreshes every module and returns the odometry samples captured
// since the previous tick, oldest first.
//
// Until some module delivers high-frequency samples, each module
// contributes its current position stamped at now. After that a module
// that delivers nothing in a tick has missed a frame: the tick yields no
// samples and the next one picks up the motion, since distances are
// cumulative.
func (d *Drive) Tick(now time.Time) []OdometrySample {
	batches := make([][]RawSample, len(d.modules))
	for i, m := range d.modules {
		m.Refresh()
		if in := m.Inputs(); len(in.Samples) > 0 {
			batches[i] = in.Samples
			d.highFrequency = true
		}
	}
	if !d.highFrequency {
		for i, m := range d.modules {
			pos := m.Position()
			batches[i] = []RawSample{{
				Timestamp: timeutil.Seconds(now),
				Distance:  pos.Distance,
				Angle:     pos.Angle,
			}}
		}
	}

	samples := d.sampler.Sample(batches)

	if d.gyro != nil && len(samples) > 0 {
		heading, err := d.gyro.Heading()
		if err != nil {
			monitoring.Logf("swerve: gyro read failed, using wheel heading this tick: %v", err)
		} else {
			for i := range samples {
				samples[i].GyroAngle = heading
				samples[i].HasGyro = true
			}
		}
	}
	return samples
}

// Drive commands a robot-relative chassis velocity.
func (d *Drive) Drive(speeds ChassisSpeeds) []ModuleState {
	states := DesaturateWheelSpeeds(d.kin.ToModuleStates(speeds), d.limits.MaxLinearVelocity)
	for i, m := range d.modules {
		d.lastCommands[i] = m.SetDesiredState(states[i])
	}
	return append([]ModuleState(nil), d.lastCommands...)
}

// DriveFieldRelative commands a field-relative chassis velocity given the
// robot's current heading.
func (d *Drive) DriveFieldRelative(vx, vy, omega float64, heading geom.Rotation2d) []ModuleState {
	return d.Drive(FromFieldRelativeSpeeds(vx, vy, omega, heading))
}

// Stop halts every module.
func (d *Drive) Stop() {
	for i, m := range d.modules {
		m.Stop()
		d.lastCommands[i] = ModuleState{Angle: d.lastCommands[i].Angle}
	}
}

// Check runs the open-loop functional test on every module.
func (d *Drive) Check() {
	for _, m := range d.modules {
		m.Check()
	}
}

func (d *Drive) Kinematics() *Kinematics { return d.kin }
func (d *Drive) Modules() []*Module      { return d.modules }

// LastCommands returns the module commands sent by the last Drive call.
func (d *Drive) LastCommands() []ModuleState {
	return append([]ModuleState(nil), d.lastCommands...)
}

// ModulePositions returns the positions captured by the last Tick.
func (d *Drive) ModulePositions() []ModulePosition {
	out := make([]ModulePosition, len(d.modules))
	for i, m := range d.modules {
		out[i] = m.Position()
	}
	return out
}

// ModuleStates returns the measured states captured by the last Tick.
func (d *Drive) ModuleStates() []ModuleState {
	out := make([]ModuleState, len(d.modules))
	for i, m := range d.modules {
		out[i] = m.State()
	}
	return out
}

// MeasuredSpeeds is the chassis velocity implied by the measured states.
func (d *Drive) MeasuredSpeeds() ChassisSpeeds {
	speeds, err := d.kin.ToChassisSpeeds(d.ModuleStates())
	if err != nil {
		return ChassisSpeeds{}
	}
	return speeds
}

// UnhealthyModules lists the indexes whose absolute encoder is not
// reporting. The drive keeps running; a supervisor decides what to do.
func (d *Drive) UnhealthyModules() []int {
	var out []int
	for i, m := range d.modules {
		if !m.EncoderHealthy() {
			out = append(out, i)
		}
	}
	return out
}

// TotalStatorCurrent sums the stator current of every module.
func (d *Drive) TotalStatorCurrent() float64 {
	var sum float64
	for _, m := range d.modules {
		sum += m.StatorCurrent()
	}
	return sum
}
