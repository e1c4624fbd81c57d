// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package swerve

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
)

// ErrDegenerateGeometry is returned when the module layout cannot be
// inverted (fewer than two modules or coincident modules).
var ErrDegenerateGeometry = errors.New("swerve: degenerate module geometry")

// minModuleSeparation is the closest two module centers may be (m).
const minModuleSeparation = 1e-6

// stationarySpeed is the module speed below which the previous heading is kept.
const stationarySpeed = 1e-9

// Kinematics maps chassis motion to module vectors and back. The module
// layout is fixed at construction; index i always refers to the same wheel.
type Kinematics struct {
	modules  []geom.Translation2d
	forward  *mat.Dense // 2n x 3: [vx vy ω] -> per-module (x, y) velocity
	inverse  *mat.Dense // 3 x 2n: least-squares pseudo-inverse of forward
	headings []geom.Rotation2d
}

// NewKinematics builds the forward matrix for the given module offsets
// from the robot center and caches its pseudo-inverse.
func NewKinematics(modules ...geom.Translation2d) (*Kinematics, error) {
	n := len(modules)
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 modules, got %d", ErrDegenerateGeometry, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if modules[i].Distance(modules[j]) < minModuleSeparation {
				return nil, fmt.Errorf("%w: modules %d and %d coincide at (%.3f, %.3f)",
					ErrDegenerateGeometry, i, j, modules[i].X, modules[i].Y)
			}
		}
	}

	data := make([]float64, 0, 2*n*3)
	for _, m := range modules {
		data = append(data,
			1, 0, -m.Y,
			0, 1, m.X,
		)
	}
	forward := mat.NewDense(2*n, 3, data)

	var ata mat.Dense
	ata.Mul(forward.T(), forward)
	var ataInv mat.Dense
	if err := ataInv.Inverse(&ata); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDegenerateGeometry, err)
	}
	var inverse mat.Dense
	inverse.Mul(&ataInv, forward.T())

	k := &Kinematics{
		modules:  append([]geom.Translation2d(nil), modules...),
		forward:  forward,
		inverse:  &inverse,
		headings: make([]geom.Rotation2d, n),
	}
	return k, nil
}

// NumModules returns the number of modules in the layout.
func (k *Kinematics) NumModules() int { return len(k.modules) }

// ModuleOffsets returns a copy of the module layout.
func (k *Kinematics) ModuleOffsets() []geom.Translation2d {
	return append([]geom.Translation2d(nil), k.modules...)
}

// ToModuleStates converts a chassis request into per-module states. A
// module whose resulting speed is zero keeps the last heading it was
// given, so stopping does not snap every wheel back to 0°.
func (k *Kinematics) ToModuleStates(speeds ChassisSpeeds) []ModuleState {
	v := k.moduleVectors(speeds.Vx, speeds.Vy, speeds.Omega)
	states := make([]ModuleState, len(k.modules))
	for i := range k.modules {
		x, y := v.AtVec(2*i), v.AtVec(2*i+1)
		speed := math.Hypot(x, y)
		if speed < stationarySpeed {
			states[i] = ModuleState{Speed: 0, Angle: k.headings[i]}
			continue
		}
		angle := geom.FromVector(x, y)
		k.headings[i] = angle
		states[i] = ModuleState{Speed: speed, Angle: angle}
	}
	return states
}

// ResetHeadings sets the headings reported for stationary modules.
func (k *Kinematics) ResetHeadings(headings ...geom.Rotation2d) {
	copy(k.headings, headings)
}

// ToModuleDeltas converts a chassis displacement into the per-module wheel
// travel and steering angle that would produce it.
func (k *Kinematics) ToModuleDeltas(tw geom.Twist2d) []ModulePosition {
	v := k.moduleVectors(tw.Dx, tw.Dy, tw.Dtheta)
	deltas := make([]ModulePosition, len(k.modules))
	for i := range k.modules {
		x, y := v.AtVec(2*i), v.AtVec(2*i+1)
		deltas[i] = ModulePosition{Distance: math.Hypot(x, y), Angle: geom.FromVector(x, y)}
	}
	return deltas
}

// ToChassisSpeeds solves the least-squares chassis velocity for measured
// module states.
func (k *Kinematics) ToChassisSpeeds(states []ModuleState) (ChassisSpeeds, error) {
	if len(states) != len(k.modules) {
		return ChassisSpeeds{}, fmt.Errorf("swerve: got %d module states, want %d", len(states), len(k.modules))
	}
	b := make([]float64, 2*len(states))
	for i, s := range states {
		b[2*i] = s.Speed * s.Angle.Cos()
		b[2*i+1] = s.Speed * s.Angle.Sin()
	}
	x := k.solve(b)
	return ChassisSpeeds{Vx: x[0], Vy: x[1], Omega: x[2]}, nil
}

// ToTwist solves the least-squares chassis displacement for per-module
// distance deltas. Each delta's Angle is the module angle at the end of
// the interval.
func (k *Kinematics) ToTwist(deltas []ModulePosition) (geom.Twist2d, error) {
	if len(deltas) != len(k.modules) {
		return geom.Twist2d{}, fmt.Errorf("swerve: got %d module deltas, want %d", len(deltas), len(k.modules))
	}
	b := make([]float64, 2*len(deltas))
	for i, d := range deltas {
		b[2*i] = d.Distance * d.Angle.Cos()
		b[2*i+1] = d.Distance * d.Angle.Sin()
	}
	x := k.solve(b)
	return geom.Twist2d{Dx: x[0], Dy: x[1], Dtheta: x[2]}, nil
}

func (k *Kinematics) moduleVectors(vx, vy, omega float64) *mat.VecDense {
	var v mat.VecDense
	v.MulVec(k.forward, mat.NewVecDense(3, []float64{vx, vy, omega}))
	return &v
}

func (k *Kinematics) solve(b []float64) [3]float64 {
	var x mat.VecDense
	x.MulVec(k.inverse, mat.NewVecDense(len(b), b))
	return [3]float64{x.AtVec(0), x.AtVec(1), x.AtVec(2)}
}

// DesaturateWheelSpeeds scales every state down proportionally when any
// module would exceed maxSpeed, preserving the commanded motion direction.
func DesaturateWheelSpeeds(states []ModuleState, maxSpeed float64) []ModuleState {
	out := append([]ModuleState(nil), states...)
	if maxSpeed <= 0 {
		return out
	}
	var highest float64
	for _, s := range out {
		highest = math.Max(highest, math.Abs(s.Speed))
	}
	if highest <= maxSpeed {
		return out
	}
	scale := maxSpeed / highest
	for i := range out {
		out[i].Speed *= scale
	}
	return out
}
