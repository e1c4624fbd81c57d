// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package estimator fuses swerve odometry with latent, absolute vision
// fixes into a single field pose.
//
// Two trajectories are kept: a pure odometry pose, and the fused pose.
// Every vision fix is reconciled against the fused pose at its capture
// time (found through the odometry history) and recorded as a correction;
// the current fused pose is the newest correction carried forward by the
// odometry motion since it was captured.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/monitoring"
	"github.com/relabs-tech/swerve_localizer/internal/swerve"
)

var (
	ErrInvalidStdDevs   = errors.New("estimator: std devs must be finite and positive")
	ErrInvalidPose      = errors.New("estimator: vision pose or timestamp is not finite")
	ErrEmptyHistory     = errors.New("estimator: no odometry history to reconcile against")
	ErrStaleMeasurement = errors.New("estimator: vision measurement older than retained history")
)

// DefaultBufferDuration is how many seconds of odometry history are kept.
const DefaultBufferDuration = 1.5

// DefaultStateStdDevs is the assumed odometry noise (m, m, rad).
var DefaultStateStdDevs = StdDevs{0.1, 0.1, 0.1}

// StdDevs are per-axis standard deviations: x (m), y (m), heading (rad).
type StdDevs [3]float64

// Valid reports whether every component is finite and positive.
func (s StdDevs) Valid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			return false
		}
	}
	return true
}

// VisionMeasurement is an absolute pose fix captured at Timestamp (s, on
// the same clock as odometry samples).
type VisionMeasurement struct {
	Pose      geom.Pose2d `json:"pose"`
	Timestamp float64     `json:"t"`
	StdDevs   StdDevs     `json:"std_devs"`
}

type visionUpdate struct {
	t            float64
	visionPose   geom.Pose2d // corrected fused pose at t
	odometryPose geom.Pose2d // odometry pose at t
}

// compensate carries the correction forward by the odometry motion since t.
func (u visionUpdate) compensate(odometry geom.Pose2d) geom.Pose2d {
	return u.visionPose.TransformBy(odometry.RelativeTo(u.odometryPose))
}

// Option configures an Estimator.
type Option func(*Estimator) error

// WithStateStdDevs sets the assumed odometry noise. Larger values trust
// vision more.
func WithStateStdDevs(s StdDevs) Option {
	return func(e *Estimator) error {
		for _, v := range s {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				return fmt.Errorf("%w: state %v", ErrInvalidStdDevs, s)
			}
		}
		for i, v := range s {
			e.q[i] = v * v
		}
		return nil
	}
}

// WithBufferDuration sets how many seconds of odometry history are kept
// for reconciling late vision fixes.
func WithBufferDuration(seconds float64) Option {
	return func(e *Estimator) error {
		if !(seconds > 0) || math.IsInf(seconds, 0) {
			return fmt.Errorf("estimator: buffer duration must be positive, got %v", seconds)
		}
		e.history = newPoseHistory(seconds)
		return nil
	}
}

// Estimator owns the fused pose. It is driven from a single goroutine;
// EstimatedPose may be read from any goroutine.
type Estimator struct {
	kin *swerve.Kinematics
	q   [3]float64

	odometryPose  geom.Pose2d
	prevPositions []swerve.ModulePosition
	gyroOffset    geom.Rotation2d
	lastGyro      geom.Rotation2d

	history  *poseHistory
	refusing bool // last sample was kept out of the history
	updates  []visionUpdate
	estimate geom.Pose2d
	snapshot atomic.Pointer[geom.Pose2d]
}

// New starts tracking at initialPose. initialGyro is the raw gyro reading
// at that moment (ignored if samples never carry a gyro angle) and
// initialPositions are the module positions that become the zero
// reference for the first odometry delta.
func New(kin *swerve.Kinematics, initialGyro geom.Rotation2d, initialPositions []swerve.ModulePosition, initialPose geom.Pose2d, opts ...Option) (*Estimator, error) {
	if len(initialPositions) != kin.NumModules() {
		return nil, fmt.Errorf("estimator: got %d initial positions for %d modules", len(initialPositions), kin.NumModules())
	}
	e := &Estimator{
		kin:     kin,
		history: newPoseHistory(DefaultBufferDuration),
	}
	for i, v := range DefaultStateStdDevs {
		e.q[i] = v * v
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.prevPositions = append([]swerve.ModulePosition(nil), initialPositions...)
	e.lastGyro = initialGyro
	e.reset(initialPose)
	return e, nil
}

// UpdateOdometry integrates one odometry sample. Samples must arrive in
// capture order; that is not checked beyond refusing to record a
// non-increasing timestamp in the history.
func (e *Estimator) UpdateOdometry(sample swerve.OdometrySample) (geom.Pose2d, error) {
	if len(sample.Positions) != len(e.prevPositions) {
		return e.estimate, fmt.Errorf("estimator: sample has %d positions, want %d", len(sample.Positions), len(e.prevPositions))
	}

	deltas := make([]swerve.ModulePosition, len(sample.Positions))
	for i, p := range sample.Positions {
		deltas[i] = swerve.ModulePosition{
			Distance: p.Distance - e.prevPositions[i].Distance,
			Angle:    p.Angle,
		}
	}
	twist, err := e.kin.ToTwist(deltas)
	if err != nil {
		return e.estimate, err
	}

	var next geom.Pose2d
	if sample.HasGyro {
		heading := sample.GyroAngle.Plus(e.gyroOffset)
		twist.Dtheta = heading.Minus(e.odometryPose.Heading).Radians()
		next = e.odometryPose.Exp(twist)
		next.Heading = heading
		e.lastGyro = sample.GyroAngle
	} else {
		next = e.odometryPose.Exp(twist)
	}

	copy(e.prevPositions, sample.Positions)
	e.odometryPose = next

	switch added := e.history.add(sample.Timestamp, next); {
	case !added && !e.refusing:
		monitoring.Logf("estimator: odometry sample at %.4fs is not after %.4fs, not recorded in history",
			sample.Timestamp, e.history.newest())
		e.refusing = true
	case added && e.refusing:
		monitoring.Logf("estimator: odometry history resumed at %.4fs", sample.Timestamp)
		e.refusing = false
	}

	e.refreshEstimate()
	return e.estimate, nil
}

// UpdateBatch integrates samples in order and returns the resulting
// fused pose.
func (e *Estimator) UpdateBatch(samples []swerve.OdometrySample) (geom.Pose2d, error) {
	for _, s := range samples {
		if _, err := e.UpdateOdometry(s); err != nil {
			return e.estimate, err
		}
	}
	return e.estimate, nil
}

// AddVisionMeasurement folds an absolute fix into the fused pose. The
// correction is a per-axis blend whose weight grows as the measurement's
// std devs shrink relative to the state std devs, always within [0, 1].
func (e *Estimator) AddVisionMeasurement(m VisionMeasurement) error {
	if !m.StdDevs.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidStdDevs, m.StdDevs)
	}
	if !m.Pose.IsFinite() || math.IsNaN(m.Timestamp) || math.IsInf(m.Timestamp, 0) {
		return ErrInvalidPose
	}
	if e.history.empty() {
		return ErrEmptyHistory
	}
	if m.Timestamp < e.history.oldest() {
		return fmt.Errorf("%w: %.4fs < %.4fs", ErrStaleMeasurement, m.Timestamp, e.history.oldest())
	}

	e.pruneUpdates()

	odometryAt, _ := e.history.sample(m.Timestamp)
	fusedAt := e.fusedAt(m.Timestamp, odometryAt)

	k := gains(e.q, m.StdDevs)
	tw := fusedAt.Log(m.Pose)
	scaled := geom.Twist2d{Dx: k[0] * tw.Dx, Dy: k[1] * tw.Dy, Dtheta: k[2] * tw.Dtheta}

	upd := visionUpdate{
		t:            m.Timestamp,
		visionPose:   fusedAt.Exp(scaled),
		odometryPose: odometryAt,
	}

	// Corrections captured after this one were reconciled without it.
	keep := len(e.updates)
	for keep > 0 && e.updates[keep-1].t >= m.Timestamp {
		keep--
	}
	e.updates = append(e.updates[:keep], upd)

	e.refreshEstimate()
	return nil
}

// ResetPose hard-sets the fused and odometry poses. The last known module
// positions and gyro reading become the new zero reference, and all
// history is discarded.
func (e *Estimator) ResetPose(p geom.Pose2d) {
	e.reset(p)
}

func (e *Estimator) reset(p geom.Pose2d) {
	e.gyroOffset = p.Heading.Minus(e.lastGyro)
	e.odometryPose = p
	e.history.clear()
	e.updates = e.updates[:0]
	e.estimate = p
	e.publish()
}

// EstimatedPose returns the latest fused pose. Safe for concurrent use.
func (e *Estimator) EstimatedPose() geom.Pose2d {
	return *e.snapshot.Load()
}

// OdometryPose returns the odometry-only pose. Not safe for concurrent use.
func (e *Estimator) OdometryPose() geom.Pose2d { return e.odometryPose }

// fusedAt is the fused pose at t given the odometry pose at t.
func (e *Estimator) fusedAt(t float64, odometryAt geom.Pose2d) geom.Pose2d {
	for i := len(e.updates) - 1; i >= 0; i-- {
		if e.updates[i].t <= t {
			return e.updates[i].compensate(odometryAt)
		}
	}
	return odometryAt
}

// pruneUpdates drops corrections that can no longer be the basis for any
// time inside the history, keeping the newest one before it.
func (e *Estimator) pruneUpdates() {
	oldest := e.history.oldest()
	idx := -1
	for i, u := range e.updates {
		if u.t > oldest {
			break
		}
		idx = i
	}
	if idx > 0 {
		e.updates = append(e.updates[:0], e.updates[idx:]...)
	}
}

func (e *Estimator) refreshEstimate() {
	if n := len(e.updates); n > 0 {
		e.estimate = e.updates[n-1].compensate(e.odometryPose)
	} else {
		e.estimate = e.odometryPose
	}
	e.publish()
}

func (e *Estimator) publish() {
	p := e.estimate
	e.snapshot.Store(&p)
}

// gains is the steady-state Kalman gain per axis for a direct
// measurement of the state: q/(q + sqrt(q*r)).
func gains(q [3]float64, std StdDevs) [3]float64 {
	var k [3]float64
	for i := range k {
		if q[i] == 0 {
			continue
		}
		r := std[i] * std[i]
		k[i] = math.Min(1, math.Max(0, q[i]/(q[i]+math.Sqrt(q[i]*r))))
	}
	return k
}
