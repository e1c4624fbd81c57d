// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package swerve

import (
	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/monitoring"
)

// OdometrySample is the state of every module at one capture instant.
// Positions and DistanceDeltas are indexed by module.
type OdometrySample struct {
	Timestamp      float64          `json:"t"`
	Positions      []ModulePosition `json:"positions"`
	DistanceDeltas []float64        `json:"distance_deltas"`
	GyroAngle      geom.Rotation2d  `json:"gyro_angle"`
	HasGyro        bool             `json:"has_gyro"`
}

// Sampler turns per-module high-frequency batches into time-ordered
// odometry samples. It keeps the last distance per module across calls.
type Sampler struct {
	lastDistance []float64
	primed       bool
}

// NewSampler creates a sampler for n modules.
func NewSampler(n int) *Sampler {
	return &Sampler{lastDistance: make([]float64, n)}
}

// Sample aligns batches[i] (the samples of module i, oldest first) and
// returns one OdometrySample per aligned instant, stamped with module 0's
// capture time. When batches differ in length, only the newest samples
// of each are aligned, so a module that lost a frame still pairs its
// latest reading with everyone else's; distances are cumulative, so the
// skipped samples lose no motion. An empty batch yields no samples. The
// very first sample reports a zero delta.
func (s *Sampler) Sample(batches [][]RawSample) []OdometrySample {
	n := len(s.lastDistance)
	if n == 0 || len(batches) != n {
		monitoring.Logf("swerve: sampler got %d batches for %d modules", len(batches), n)
		return nil
	}

	count := len(batches[0])
	for _, b := range batches[1:] {
		if len(b) < count {
			count = len(b)
		}
	}
	for i, b := range batches {
		if len(b) != count {
			monitoring.Logf("swerve: module %d delivered %d samples, using %d", i, len(b), count)
		}
	}

	out := make([]OdometrySample, count)
	for k := 0; k < count; k++ {
		sample := OdometrySample{
			Timestamp:      batches[0][len(batches[0])-count+k].Timestamp,
			Positions:      make([]ModulePosition, n),
			DistanceDeltas: make([]float64, n),
		}
		for i := 0; i < n; i++ {
			raw := batches[i][len(batches[i])-count+k]
			delta := 0.0
			if s.primed {
				delta = raw.Distance - s.lastDistance[i]
			}
			s.lastDistance[i] = raw.Distance
			sample.Positions[i] = ModulePosition{Distance: raw.Distance, Angle: raw.Angle}
			sample.DistanceDeltas[i] = delta
		}
		s.primed = true
		out[k] = sample
	}
	return out
}
