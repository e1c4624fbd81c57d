// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sim

import (
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/vision"
)

// VisionSource captures the true pose every period seconds, adds
// Gaussian noise and delivers the fix latency seconds later, stamped
// with its capture time. It implements vision.Source and Observer.
type VisionSource struct {
	mu sync.Mutex

	period  float64
	latency float64
	noise   distuv.Normal

	enabled     bool
	now         float64
	nextCapture float64
	started     bool
	inflight    []inflightFix
}

type inflightFix struct {
	deliverAt float64
	sample    vision.Sample
}

// NewVisionSource creates an enabled source. sigma applies to x and y
// in meters and to heading in radians.
func NewVisionSource(period, latency, sigma float64, seed uint64) *VisionSource {
	return &VisionSource{
		period:  period,
		latency: latency,
		noise: distuv.Normal{
			Mu:    0,
			Sigma: sigma,
			Src:   rand.NewPCG(seed, seed^0x5bd1e995),
		},
		enabled: true,
	}
}

// SetEnabled simulates losing or regaining sight of every target.
func (v *VisionSource) SetEnabled(on bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.enabled = on
}

// Observe implements Observer.
func (v *VisionSource) Observe(t float64, truth geom.Pose2d) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.now = t
	if !v.started {
		v.nextCapture = t
		v.started = true
	}
	if t < v.nextCapture {
		return
	}
	v.nextCapture = t + v.period
	if !v.enabled {
		return
	}

	noisy := geom.NewPose(
		truth.X+v.noise.Rand(),
		truth.Y+v.noise.Rand(),
		truth.Heading.Radians()+v.noise.Rand(),
	)
	v.inflight = append(v.inflight, inflightFix{
		deliverAt: t + v.latency,
		sample:    vision.Sample{Pose: noisy, Timestamp: t},
	})
}

// Poll implements vision.Source.
func (v *VisionSource) Poll() []vision.Sample {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []vision.Sample
	keep := v.inflight[:0]
	for _, f := range v.inflight {
		if f.deliverAt <= v.now {
			out = append(out, f.sample)
		} else {
			keep = append(keep, f)
		}
	}
	v.inflight = keep
	return out
}
