// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geom

import (
	"fmt"
	"math"
)

// Translation2d is a planar vector in meters.
type Translation2d struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (t Translation2d) Plus(o Translation2d) Translation2d  { return Translation2d{t.X + o.X, t.Y + o.Y} }
func (t Translation2d) Minus(o Translation2d) Translation2d { return Translation2d{t.X - o.X, t.Y - o.Y} }
func (t Translation2d) Times(s float64) Translation2d       { return Translation2d{t.X * s, t.Y * s} }
func (t Translation2d) Norm() float64                       { return math.Hypot(t.X, t.Y) }
func (t Translation2d) Angle() Rotation2d                   { return FromVector(t.X, t.Y) }

// RotateBy rotates the vector counter-clockwise by r.
func (t Translation2d) RotateBy(r Rotation2d) Translation2d {
	c, s := r.Cos(), r.Sin()
	return Translation2d{X: t.X*c - t.Y*s, Y: t.X*s + t.Y*c}
}

// Distance returns the euclidean distance between two points.
func (t Translation2d) Distance(o Translation2d) float64 { return t.Minus(o).Norm() }

// Twist2d is a displacement expressed in the robot frame at the start of
// the motion: forward dx, left dy, counter-clockwise dtheta.
type Twist2d struct {
	Dx     float64 `json:"dx"`
	Dy     float64 `json:"dy"`
	Dtheta float64 `json:"dtheta"`
}

// Scale multiplies every component by s.
func (t Twist2d) Scale(s float64) Twist2d {
	return Twist2d{Dx: t.Dx * s, Dy: t.Dy * s, Dtheta: t.Dtheta * s}
}

// IsZero reports whether all components are exactly zero.
func (t Twist2d) IsZero() bool { return t.Dx == 0 && t.Dy == 0 && t.Dtheta == 0 }

// Pose2d is a field-relative position and heading.
type Pose2d struct {
	X       float64    `json:"x"`
	Y       float64    `json:"y"`
	Heading Rotation2d `json:"heading"`
}

// NewPose builds a pose from coordinates in meters and a heading in radians.
func NewPose(x, y, headingRad float64) Pose2d {
	return Pose2d{X: x, Y: y, Heading: FromRadians(headingRad)}
}

// Translation returns the position part of the pose.
func (p Pose2d) Translation() Translation2d { return Translation2d{X: p.X, Y: p.Y} }

func (p Pose2d) String() string {
	return fmt.Sprintf("Pose2d(x=%.3f, y=%.3f, heading=%.2f°)", p.X, p.Y, p.Heading.Degrees())
}

// TransformBy applies a robot-relative offset: the translation is rotated
// into the pose's heading, then the rotation is added.
func (p Pose2d) TransformBy(offset Pose2d) Pose2d {
	t := offset.Translation().RotateBy(p.Heading)
	return Pose2d{
		X:       p.X + t.X,
		Y:       p.Y + t.Y,
		Heading: p.Heading.Plus(offset.Heading),
	}
}

// RelativeTo expresses p in the frame of origin, so that
// origin.TransformBy(p.RelativeTo(origin)) == p.
func (p Pose2d) RelativeTo(origin Pose2d) Pose2d {
	t := p.Translation().Minus(origin.Translation()).RotateBy(origin.Heading.Neg())
	return Pose2d{X: t.X, Y: t.Y, Heading: p.Heading.Minus(origin.Heading)}
}

// Exp integrates a twist along a constant-curvature arc starting at p.
// For a twist without rotation this is TransformBy with the twist's
// translation.
func (p Pose2d) Exp(tw Twist2d) Pose2d {
	sinTheta := math.Sin(tw.Dtheta)
	cosTheta := math.Cos(tw.Dtheta)

	var s, c float64
	if math.Abs(tw.Dtheta) < 1e-9 {
		s = 1.0 - tw.Dtheta*tw.Dtheta/6.0
		c = 0.5 * tw.Dtheta
	} else {
		s = sinTheta / tw.Dtheta
		c = (1 - cosTheta) / tw.Dtheta
	}

	offset := Pose2d{
		X:       tw.Dx*s - tw.Dy*c,
		Y:       tw.Dx*c + tw.Dy*s,
		Heading: FromRadians(tw.Dtheta),
	}
	return p.TransformBy(offset)
}

// Log returns the twist that takes p to end, the inverse of Exp.
func (p Pose2d) Log(end Pose2d) Twist2d {
	rel := end.RelativeTo(p)
	dtheta := rel.Heading.Radians()
	halfDtheta := dtheta / 2.0
	cosMinusOne := math.Cos(dtheta) - 1

	var halfThetaByTanOfHalfDtheta float64
	if math.Abs(cosMinusOne) < 1e-9 {
		halfThetaByTanOfHalfDtheta = 1.0 - dtheta*dtheta/12.0
	} else {
		halfThetaByTanOfHalfDtheta = -(halfDtheta * math.Sin(dtheta)) / cosMinusOne
	}

	return Twist2d{
		Dx:     rel.X*halfThetaByTanOfHalfDtheta + rel.Y*halfDtheta,
		Dy:     -rel.X*halfDtheta + rel.Y*halfThetaByTanOfHalfDtheta,
		Dtheta: dtheta,
	}
}

// Interpolate blends linearly between p and end; t is clamped to [0, 1].
func (p Pose2d) Interpolate(end Pose2d, t float64) Pose2d {
	t = clamp01(t)
	return Pose2d{
		X:       p.X + (end.X-p.X)*t,
		Y:       p.Y + (end.Y-p.Y)*t,
		Heading: p.Heading.Interpolate(end.Heading, t),
	}
}

// IsFinite reports whether every component is a finite number.
func (p Pose2d) IsFinite() bool {
	return isFinite(p.X) && isFinite(p.Y) && isFinite(p.Heading.Radians())
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
