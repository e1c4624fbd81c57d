// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/swerve_localizer/internal/estimator"
	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/swerve"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
	"github.com/relabs-tech/swerve_localizer/internal/vision"
)

// Localizer runs one control tick in a fixed order: drive refresh,
// odometry update, vision ingest, telemetry.
//
// The estimator is created on the first tick that yields odometry so
// that its zero reference is the modules' actual first positions.
type Localizer struct {
	drive  *swerve.Drive
	ingest *vision.Ingest
	sink   telemetry.Sink
	runID  string

	opts []estimator.Option

	// tickMu serializes Tick and ResetPose; mu guards the fields below.
	tickMu      sync.Mutex
	mu          sync.RWMutex
	initialPose geom.Pose2d
	est         *estimator.Estimator
}

// NewLocalizer wires the components. source may be nil (no vision) and
// sink may be nil (no telemetry). The estimator options are checked
// here so a bad configuration fails at startup.
func NewLocalizer(drive *swerve.Drive, source vision.Source, sink telemetry.Sink, initialPose geom.Pose2d, opts ...estimator.Option) (*Localizer, error) {
	kin := drive.Kinematics()
	if _, err := estimator.New(kin, geom.Rotation2d{}, make([]swerve.ModulePosition, kin.NumModules()), initialPose, opts...); err != nil {
		return nil, fmt.Errorf("localizer: %w", err)
	}
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	l := &Localizer{
		drive:       drive,
		sink:        sink,
		runID:       telemetry.NewRunID(),
		initialPose: initialPose,
		opts:        opts,
	}
	l.ingest = vision.NewIngest(source, l)
	return l, nil
}

// RunID identifies this process in telemetry.
func (l *Localizer) RunID() string { return l.runID }

// Drive returns the drive the localizer ticks.
func (l *Localizer) Drive() *swerve.Drive { return l.drive }

// Ingest returns the vision ingest stage.
func (l *Localizer) Ingest() *vision.Ingest { return l.ingest }

// Tick advances the localizer to now. std is applied to every vision fix
// consumed this tick. The returned snapshot is what was handed to the
// telemetry sink; the error reports the first failing stage.
func (l *Localizer) Tick(now time.Time, std estimator.StdDevs) (telemetry.Snapshot, error) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	samples := l.drive.Tick(now)

	var tickErr error
	if len(samples) > 0 {
		est := l.estimator(samples[0])
		if _, err := est.UpdateBatch(samples); err != nil {
			tickErr = fmt.Errorf("localizer: odometry: %w", err)
		}
	}

	result := l.ingest.Tick(std)

	snap := l.snapshot(now, samples, result)
	if err := l.sink.Publish(snap); err != nil && tickErr == nil {
		tickErr = fmt.Errorf("localizer: telemetry: %w", err)
	}
	return snap, tickErr
}

// AddVisionMeasurement implements vision.Sink. Fixes that arrive before
// the first odometry are rejected with estimator.ErrEmptyHistory.
func (l *Localizer) AddVisionMeasurement(m estimator.VisionMeasurement) error {
	l.mu.RLock()
	est := l.est
	l.mu.RUnlock()
	if est == nil {
		return estimator.ErrEmptyHistory
	}
	return est.AddVisionMeasurement(m)
}

// EstimatedPose is the fused pose, or the initial pose before the
// first tick. Safe from any goroutine.
func (l *Localizer) EstimatedPose() geom.Pose2d {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.est == nil {
		return l.initialPose
	}
	return l.est.EstimatedPose()
}

// ResetPose moves the robot to p. Before the first tick it replaces
// the starting pose.
func (l *Localizer) ResetPose(p geom.Pose2d) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.est == nil {
		l.initialPose = p
		return
	}
	l.est.ResetPose(p)
}

func (l *Localizer) estimator(first swerve.OdometrySample) *estimator.Estimator {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.est != nil {
		return l.est
	}
	// Options were validated in NewLocalizer.
	est, _ := estimator.New(l.drive.Kinematics(), first.GyroAngle, first.Positions, l.initialPose, l.opts...)
	l.est = est
	return est
}

func (l *Localizer) snapshot(now time.Time, samples []swerve.OdometrySample, result vision.Result) telemetry.Snapshot {
	snap := telemetry.Snapshot{
		RunID:          l.runID,
		Time:           now,
		Fused:          l.EstimatedPose(),
		Samples:        len(samples),
		VisionAccepted: result.Accepted,
		VisionRejected: result.Rejected,
		VisionDropped:  result.Dropped,
		Unhealthy:      l.drive.UnhealthyModules(),
	}
	l.mu.RLock()
	if l.est != nil {
		snap.Odometry = l.est.OdometryPose()
	} else {
		snap.Odometry = l.initialPose
	}
	l.mu.RUnlock()

	commands := l.drive.LastCommands()
	for i, m := range l.drive.Modules() {
		snap.Modules = append(snap.Modules, telemetry.ModuleTelemetry{
			Index:     i,
			State:     m.State(),
			Position:  m.Position(),
			Commanded: commands[i],
			Healthy:   m.EncoderHealthy(),
			Delta:     moduleDelta(samples, i),
		})
	}
	return snap
}

func moduleDelta(samples []swerve.OdometrySample, i int) float64 {
	var sum float64
	for _, s := range samples {
		if i < len(s.DistanceDeltas) {
			sum += s.DistanceDeltas[i]
		}
	}
	return sum
}
