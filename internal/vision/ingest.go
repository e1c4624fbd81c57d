// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package vision is the boundary between an external pose-fix producer
// and the estimator.
package vision

import (
	"errors"
	"math"
	"sort"

	"github.com/relabs-tech/swerve_localizer/internal/estimator"
	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/monitoring"
)

// Sample is one pose fix as produced by a vision collaborator.
type Sample struct {
	Pose      geom.Pose2d `json:"pose"`
	Timestamp float64     `json:"t"`
}

// Source yields the fixes received since the previous call, in arrival
// order.
type Source interface {
	Poll() []Sample
}

// Sink accepts vision measurements. *estimator.Estimator satisfies it.
type Sink interface {
	AddVisionMeasurement(estimator.VisionMeasurement) error
}

// Result counts what happened to one batch. Dropped counts fixes the
// source discarded before they could be polled.
type Result struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
	Dropped  int `json:"dropped"`
}

// dropCounter is implemented by sources that discard fixes on overflow.
type dropCounter interface {
	Dropped() int
}

// Ingest forwards fixes to a Sink in capture order.
type Ingest struct {
	source Source
	sink   Sink

	total       Result
	lastErr     error
	seenDropped int
}

// NewIngest wires source to sink. source may be nil when the caller only
// uses Process.
func NewIngest(source Source, sink Sink) *Ingest {
	return &Ingest{source: source, sink: sink}
}

// Tick polls the source and processes whatever it returned. A quiet
// source yields an empty result.
func (in *Ingest) Tick(std estimator.StdDevs) Result {
	if in.source == nil {
		return Result{}
	}
	res := in.Process(in.source.Poll(), std)
	if dc, ok := in.source.(dropCounter); ok {
		n := dc.Dropped()
		res.Dropped = n - in.seenDropped
		in.seenDropped = n
		in.total.Dropped += res.Dropped
		if res.Dropped > 0 {
			monitoring.Logf("vision: source dropped %d fixes since the last poll", res.Dropped)
		}
	}
	return res
}

// Process sorts samples by capture time and forwards each one with the
// given std devs. Non-finite samples and samples the sink refuses are
// counted as rejected.
func (in *Ingest) Process(samples []Sample, std estimator.StdDevs) Result {
	var res Result
	if len(samples) == 0 {
		return res
	}

	ordered := append([]Sample(nil), samples...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp < ordered[j].Timestamp })

	for _, s := range ordered {
		if !s.Pose.IsFinite() || math.IsNaN(s.Timestamp) || math.IsInf(s.Timestamp, 0) {
			res.Rejected++
			continue
		}
		err := in.sink.AddVisionMeasurement(estimator.VisionMeasurement{
			Pose:      s.Pose,
			Timestamp: s.Timestamp,
			StdDevs:   std,
		})
		if err != nil {
			res.Rejected++
			in.noteError(err)
			continue
		}
		in.lastErr = nil
		res.Accepted++
	}

	in.total.Accepted += res.Accepted
	in.total.Rejected += res.Rejected
	return res
}

// Totals returns the counts accumulated since construction.
func (in *Ingest) Totals() Result { return in.total }

// LastError is the sink's reason for refusing the most recent fix, or
// nil if that fix was accepted.
func (in *Ingest) LastError() error { return in.lastErr }

// noteError logs only when the rejection reason changes, so a camera that
// lags for seconds does not flood the log.
func (in *Ingest) noteError(err error) {
	if in.lastErr == nil || !sameReason(in.lastErr, err) {
		monitoring.Logf("vision: measurement rejected: %v", err)
	}
	in.lastErr = err
}

func sameReason(a, b error) bool {
	for _, sentinel := range []error{
		estimator.ErrStaleMeasurement,
		estimator.ErrInvalidStdDevs,
		estimator.ErrInvalidPose,
		estimator.ErrEmptyHistory,
	} {
		if errors.Is(a, sentinel) {
			return errors.Is(b, sentinel)
		}
	}
	return a.Error() == b.Error()
}
