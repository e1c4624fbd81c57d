// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package geom holds the planar value types shared by the kinematics,
// odometry and estimator packages. All values are immutable; every
// operation returns a new value.
package geom

import (
	"encoding/json"
	"math"
)

// Rotation2d is a planar angle normalized to (-π, π].
type Rotation2d struct {
	rad float64
}

// FromRadians returns the rotation for an angle in radians.
func FromRadians(rad float64) Rotation2d {
	return Rotation2d{rad: NormalizeRadians(rad)}
}

// FromDegrees returns the rotation for an angle in degrees.
func FromDegrees(deg float64) Rotation2d {
	return FromRadians(deg * math.Pi / 180.0)
}

// FromRotations returns the rotation for a fraction of a full turn.
func FromRotations(rot float64) Rotation2d {
	return FromRadians(rot * 2 * math.Pi)
}

// FromVector returns the direction of the vector (x, y).
// The zero vector maps to the zero rotation.
func FromVector(x, y float64) Rotation2d {
	if x == 0 && y == 0 {
		return Rotation2d{}
	}
	return FromRadians(math.Atan2(y, x))
}

// NormalizeRadians wraps rad into (-π, π].
func NormalizeRadians(rad float64) float64 {
	r := math.Remainder(rad, 2*math.Pi)
	if r <= -math.Pi {
		r += 2 * math.Pi
	}
	return r
}

func (r Rotation2d) Radians() float64 { return r.rad }
func (r Rotation2d) Degrees() float64 { return r.rad * 180.0 / math.Pi }
func (r Rotation2d) Cos() float64     { return math.Cos(r.rad) }
func (r Rotation2d) Sin() float64     { return math.Sin(r.rad) }

// Plus returns r + o.
func (r Rotation2d) Plus(o Rotation2d) Rotation2d { return FromRadians(r.rad + o.rad) }

// Minus returns the signed shortest difference r - o.
func (r Rotation2d) Minus(o Rotation2d) Rotation2d { return FromRadians(r.rad - o.rad) }

// Neg returns -r.
func (r Rotation2d) Neg() Rotation2d { return FromRadians(-r.rad) }

// Times scales the angle.
func (r Rotation2d) Times(s float64) Rotation2d { return FromRadians(r.rad * s) }

// Interpolate returns the rotation a fraction t of the way towards end
// along the shortest arc.
func (r Rotation2d) Interpolate(end Rotation2d, t float64) Rotation2d {
	t = clamp01(t)
	return r.Plus(end.Minus(r).Times(t))
}

// MarshalJSON encodes the rotation as radians.
func (r Rotation2d) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.rad)
}

// UnmarshalJSON decodes radians and normalizes them.
func (r *Rotation2d) UnmarshalJSON(b []byte) error {
	var rad float64
	if err := json.Unmarshal(b, &rad); err != nil {
		return err
	}
	*r = FromRadians(rad)
	return nil
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}
