// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package estimator

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/monitoring"
	"github.com/relabs-tech/swerve_localizer/internal/swerve"
)

var poseApprox = cmp.Options{
	cmpopts.EquateApprox(0, 1e-6),
	cmp.Comparer(func(a, b geom.Rotation2d) bool {
		return math.Abs(a.Minus(b).Radians()) < 1e-6
	}),
}

func squareKinematics(t *testing.T) *swerve.Kinematics {
	t.Helper()
	kin, err := swerve.NewKinematics(
		geom.Translation2d{X: 0.3, Y: 0.3},
		geom.Translation2d{X: 0.3, Y: -0.3},
		geom.Translation2d{X: -0.3, Y: 0.3},
		geom.Translation2d{X: -0.3, Y: -0.3},
	)
	require.NoError(t, err)
	return kin
}

func straightPositions(distance float64) []swerve.ModulePosition {
	out := make([]swerve.ModulePosition, 4)
	for i := range out {
		out[i] = swerve.ModulePosition{Distance: distance, Angle: geom.FromDegrees(0)}
	}
	return out
}

func newTestEstimator(t *testing.T, opts ...Option) *Estimator {
	t.Helper()
	e, err := New(squareKinematics(t), geom.Rotation2d{}, straightPositions(0), geom.Pose2d{}, opts...)
	require.NoError(t, err)
	return e
}

// driveStraight advances the robot 0.1 m along x every 0.1 s.
func driveStraight(t *testing.T, e *Estimator, from, steps int) {
	t.Helper()
	for i := from + 1; i <= from+steps; i++ {
		_, err := e.UpdateOdometry(swerve.OdometrySample{
			Timestamp: 0.1 * float64(i),
			Positions: straightPositions(0.1 * float64(i)),
		})
		require.NoError(t, err)
	}
}

func TestNewRejectsPositionCountMismatch(t *testing.T) {
	_, err := New(squareKinematics(t), geom.Rotation2d{}, straightPositions(0)[:3], geom.Pose2d{})
	assert.Error(t, err)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(squareKinematics(t), geom.Rotation2d{}, straightPositions(0), geom.Pose2d{},
		WithStateStdDevs(StdDevs{0.1, math.NaN(), 0.1}))
	assert.ErrorIs(t, err, ErrInvalidStdDevs)

	_, err = New(squareKinematics(t), geom.Rotation2d{}, straightPositions(0), geom.Pose2d{},
		WithBufferDuration(0))
	assert.Error(t, err)
}

func TestResetPoseIsExact(t *testing.T) {
	e := newTestEstimator(t)
	driveStraight(t, e, 0, 5)

	p := geom.NewPose(3.2, -1.7, 2.1)
	e.ResetPose(p)
	assert.Equal(t, p, e.EstimatedPose())
	assert.Equal(t, p, e.OdometryPose())

	// Positions seen before the reset are the new zero reference.
	pose, err := e.UpdateOdometry(swerve.OdometrySample{Timestamp: 0.6, Positions: straightPositions(0.5)})
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(p, pose, poseApprox))
}

func TestZeroDeltasLeavePoseUnchanged(t *testing.T) {
	start := geom.NewPose(1, 2, 0.5)
	e, err := New(squareKinematics(t), geom.Rotation2d{}, straightPositions(4), start)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err := e.UpdateOdometry(swerve.OdometrySample{Timestamp: float64(i), Positions: straightPositions(4)})
		require.NoError(t, err)
	}
	assert.Empty(t, cmp.Diff(start, e.EstimatedPose(), poseApprox))
}

func TestStraightLineOdometry(t *testing.T) {
	e := newTestEstimator(t)
	driveStraight(t, e, 0, 10)
	assert.Empty(t, cmp.Diff(geom.NewPose(1, 0, 0), e.EstimatedPose(), poseApprox))
	assert.Empty(t, cmp.Diff(geom.NewPose(1, 0, 0), e.OdometryPose(), poseApprox))
}

func TestUpdateBatch(t *testing.T) {
	e := newTestEstimator(t)
	var samples []swerve.OdometrySample
	for i := 1; i <= 4; i++ {
		samples = append(samples, swerve.OdometrySample{
			Timestamp: 0.1 * float64(i),
			Positions: straightPositions(0.25 * float64(i)),
		})
	}
	pose, err := e.UpdateBatch(samples)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pose.X, 1e-9)

	_, err = e.UpdateBatch([]swerve.OdometrySample{{Timestamp: 1, Positions: straightPositions(1)[:2]}})
	assert.Error(t, err)
}

func TestGyroOverridesHeading(t *testing.T) {
	e, err := New(squareKinematics(t), geom.FromDegrees(30), straightPositions(0), geom.Pose2d{})
	require.NoError(t, err)

	pose, err := e.UpdateOdometry(swerve.OdometrySample{
		Timestamp: 0.02,
		Positions: straightPositions(0),
		GyroAngle: geom.FromDegrees(40),
		HasGyro:   true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 10, pose.Heading.Degrees(), 1e-9)
	assert.InDelta(t, 0, pose.X, 1e-12)

	e.ResetPose(geom.NewPose(0, 0, math.Pi/2))
	pose, err = e.UpdateOdometry(swerve.OdometrySample{
		Timestamp: 0.04,
		Positions: straightPositions(0),
		GyroAngle: geom.FromDegrees(50),
		HasGyro:   true,
	})
	require.NoError(t, err)
	assert.InDelta(t, 100, pose.Heading.Degrees(), 1e-9)
}

func TestVisionPullsTowardMeasurement(t *testing.T) {
	e := newTestEstimator(t)
	driveStraight(t, e, 0, 10)

	vision := geom.NewPose(1.05, 0.02, math.Pi/180)
	require.NoError(t, e.AddVisionMeasurement(VisionMeasurement{
		Pose:      vision,
		Timestamp: 1.0,
		StdDevs:   StdDevs{0.01, 0.01, 0.01},
	}))

	p := e.EstimatedPose()
	assert.Greater(t, p.X, 1.0)
	assert.Less(t, p.X, 1.05)
	assert.Greater(t, p.Y, 0.0)
	assert.Less(t, p.Y, 0.02)
	assert.Greater(t, p.Heading.Radians(), 0.0)
	assert.Less(t, p.Heading.Radians(), math.Pi/180)

	// Odometry is never corrected.
	assert.Empty(t, cmp.Diff(geom.NewPose(1, 0, 0), e.OdometryPose(), poseApprox))
}

func TestVisionTrustExtremes(t *testing.T) {
	vision := geom.NewPose(1.3, -0.4, 0.3)

	e := newTestEstimator(t)
	driveStraight(t, e, 0, 10)
	require.NoError(t, e.AddVisionMeasurement(VisionMeasurement{Pose: vision, Timestamp: 1.0, StdDevs: StdDevs{1e-9, 1e-9, 1e-9}}))
	assert.Empty(t, cmp.Diff(vision, e.EstimatedPose(), poseApprox))

	e = newTestEstimator(t)
	driveStraight(t, e, 0, 10)
	require.NoError(t, e.AddVisionMeasurement(VisionMeasurement{Pose: vision, Timestamp: 1.0, StdDevs: StdDevs{1e6, 1e6, 1e6}}))
	assert.Empty(t, cmp.Diff(geom.NewPose(1, 0, 0), e.EstimatedPose(), poseApprox))
}

func TestLatentVisionIsCarriedForward(t *testing.T) {
	e := newTestEstimator(t)
	driveStraight(t, e, 0, 10)

	// At 0.5 s odometry said x=0.5; a trusted fix says 0.6.
	require.NoError(t, e.AddVisionMeasurement(VisionMeasurement{
		Pose:      geom.NewPose(0.6, 0, 0),
		Timestamp: 0.5,
		StdDevs:   StdDevs{1e-9, 1e-9, 1e-9},
	}))
	assert.Empty(t, cmp.Diff(geom.NewPose(1.1, 0, 0), e.EstimatedPose(), poseApprox))

	driveStraight(t, e, 10, 2)
	assert.Empty(t, cmp.Diff(geom.NewPose(1.3, 0, 0), e.EstimatedPose(), poseApprox))
}

func TestVisionBetweenSamplesInterpolates(t *testing.T) {
	e := newTestEstimator(t)
	driveStraight(t, e, 0, 10)

	// Odometry at 0.55 s is interpolated to x=0.55.
	require.NoError(t, e.AddVisionMeasurement(VisionMeasurement{
		Pose:      geom.NewPose(0.55, 0.1, 0),
		Timestamp: 0.55,
		StdDevs:   StdDevs{1e-9, 1e-9, 1e-9},
	}))
	assert.Empty(t, cmp.Diff(geom.NewPose(1, 0.1, 0), e.EstimatedPose(), poseApprox))
}

func TestEarlierVisionDiscardsLaterCorrections(t *testing.T) {
	e := newTestEstimator(t)
	driveStraight(t, e, 0, 10)

	require.NoError(t, e.AddVisionMeasurement(VisionMeasurement{
		Pose:      geom.NewPose(1, 0.5, 0),
		Timestamp: 1.0,
		StdDevs:   StdDevs{1e-9, 1e-9, 1e-9},
	}))
	assert.InDelta(t, 0.5, e.EstimatedPose().Y, 1e-6)

	require.NoError(t, e.AddVisionMeasurement(VisionMeasurement{
		Pose:      geom.NewPose(0.5, 0, 0),
		Timestamp: 0.5,
		StdDevs:   StdDevs{1e-9, 1e-9, 1e-9},
	}))
	assert.Empty(t, cmp.Diff(geom.NewPose(1, 0, 0), e.EstimatedPose(), poseApprox))
}

func TestStaleVisionIsRejected(t *testing.T) {
	e := newTestEstimator(t)
	driveStraight(t, e, 0, 30)
	before := e.EstimatedPose()

	err := e.AddVisionMeasurement(VisionMeasurement{
		Pose:      geom.NewPose(5, 5, 0),
		Timestamp: 0.5,
		StdDevs:   StdDevs{0.01, 0.01, 0.01},
	})
	assert.ErrorIs(t, err, ErrStaleMeasurement)
	assert.Equal(t, before, e.EstimatedPose())
}

func TestInvalidVisionIsRejected(t *testing.T) {
	e := newTestEstimator(t)

	err := e.AddVisionMeasurement(VisionMeasurement{Pose: geom.NewPose(1, 0, 0), Timestamp: 0, StdDevs: StdDevs{0.1, 0.1, 0.1}})
	assert.ErrorIs(t, err, ErrEmptyHistory)

	driveStraight(t, e, 0, 5)
	before := e.EstimatedPose()

	for _, std := range []StdDevs{
		{0, 0.1, 0.1},
		{0.1, -1, 0.1},
		{0.1, 0.1, math.NaN()},
		{math.Inf(1), 0.1, 0.1},
	} {
		err := e.AddVisionMeasurement(VisionMeasurement{Pose: geom.NewPose(1, 0, 0), Timestamp: 0.5, StdDevs: std})
		assert.ErrorIs(t, err, ErrInvalidStdDevs, "std %v", std)
	}

	err = e.AddVisionMeasurement(VisionMeasurement{Pose: geom.NewPose(math.NaN(), 0, 0), Timestamp: 0.5, StdDevs: StdDevs{0.1, 0.1, 0.1}})
	assert.ErrorIs(t, err, ErrInvalidPose)
	assert.Equal(t, before, e.EstimatedPose())
}

func TestGainsStayInUnitRange(t *testing.T) {
	q := [3]float64{0.01, 0.01, 0}
	for _, s := range []float64{1e-12, 1e-3, 1, 1e9} {
		k := gains(q, StdDevs{s, s, s})
		for i := 0; i < 2; i++ {
			assert.GreaterOrEqual(t, k[i], 0.0)
			assert.LessOrEqual(t, k[i], 1.0)
		}
		assert.Zero(t, k[2])
	}
	k := gains(q, StdDevs{0.1, 0.1, 0.1})
	assert.InDelta(t, 0.5, k[0], 1e-12)
}

func TestEstimatedPoseConcurrentReads(t *testing.T) {
	e := newTestEstimator(t)
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = e.EstimatedPose()
			}
		}
	}()
	driveStraight(t, e, 0, 50)
	close(stop)
	wg.Wait()
	assert.InDelta(t, 5, e.EstimatedPose().X, 1e-9)
}

func TestHistoryRefusalIsLoggedOncePerEpisode(t *testing.T) {
	saved := monitoring.Logf
	t.Cleanup(func() { monitoring.Logf = saved })
	var logs []string
	monitoring.SetLogger(func(format string, v ...interface{}) {
		logs = append(logs, fmt.Sprintf(format, v...))
	})

	e := newTestEstimator(t)
	update := func(ts float64) {
		_, err := e.UpdateOdometry(swerve.OdometrySample{Timestamp: ts, Positions: straightPositions(0)})
		require.NoError(t, err)
	}

	update(1.0)
	for _, ts := range []float64{0.5, 0.6, 0.7, 0.8} {
		update(ts)
	}
	require.Len(t, logs, 1)
	assert.Contains(t, logs[0], "not recorded in history")

	update(1.1)
	require.Len(t, logs, 2)
	assert.Contains(t, logs[1], "resumed")

	update(0.9)
	update(0.95)
	assert.Len(t, logs, 3)
}
