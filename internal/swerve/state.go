// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package swerve implements swerve-drive kinematics, per-module command
// handling and high-frequency odometry sampling.
package swerve

import (
	"math"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
)

// ModuleState is a wheel speed (m/s, signed) and steering angle.
type ModuleState struct {
	Speed float64         `json:"speed"`
	Angle geom.Rotation2d `json:"angle"`
}

// ModulePosition is the cumulative wheel travel (m) and steering angle.
type ModulePosition struct {
	Distance float64         `json:"distance"`
	Angle    geom.Rotation2d `json:"angle"`
}

// Optimize returns a state equivalent to desired that never requires the
// module to steer more than 90° away from current. When the shortest path
// is on the other side the wheel direction is reversed instead.
func Optimize(desired ModuleState, current geom.Rotation2d) ModuleState {
	delta := desired.Angle.Minus(current)
	if math.Abs(delta.Radians()) > math.Pi/2 {
		return ModuleState{
			Speed: -desired.Speed,
			Angle: desired.Angle.Plus(geom.FromRadians(math.Pi)),
		}
	}
	return desired
}

// CosineScale reduces the speed by the cosine of the remaining steering
// error so a module still rotating into place does not push sideways.
// state must already be optimized, so the factor is never negative.
func CosineScale(state ModuleState, current geom.Rotation2d) ModuleState {
	state.Speed *= state.Angle.Minus(current).Cos()
	return state
}

// ChassisSpeeds is a robot-relative velocity: Vx forward, Vy left (m/s),
// Omega counter-clockwise (rad/s).
type ChassisSpeeds struct {
	Vx    float64 `json:"vx"`
	Vy    float64 `json:"vy"`
	Omega float64 `json:"omega"`
}

// FromFieldRelativeSpeeds converts a field-relative request into robot
// frame given the robot's current heading.
func FromFieldRelativeSpeeds(vx, vy, omega float64, heading geom.Rotation2d) ChassisSpeeds {
	v := geom.Translation2d{X: vx, Y: vy}.RotateBy(heading.Neg())
	return ChassisSpeeds{Vx: v.X, Vy: v.Y, Omega: omega}
}

// IsZero reports whether the request is a full stop.
func (c ChassisSpeeds) IsZero() bool {
	return c.Vx == 0 && c.Vy == 0 && c.Omega == 0
}

// Discretize compensates for translating while rotating over one loop
// period dt: the returned speeds, held constant for dt, end at the same
// pose as the continuous request would along a straight-line chord.
func (c ChassisSpeeds) Discretize(dt float64) ChassisSpeeds {
	if dt <= 0 {
		return c
	}
	target := geom.NewPose(c.Vx*dt, c.Vy*dt, c.Omega*dt)
	tw := geom.Pose2d{}.Log(target)
	return ChassisSpeeds{Vx: tw.Dx / dt, Vy: tw.Dy / dt, Omega: tw.Dtheta / dt}
}
