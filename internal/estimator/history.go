// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package estimator

import (
	"sort"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
)

type timedPose struct {
	t    float64
	pose geom.Pose2d
}

// poseHistory is a time-ordered buffer of poses that forgets entries
// older than window seconds behind the newest one.
type poseHistory struct {
	window  float64
	entries []timedPose
}

func newPoseHistory(window float64) *poseHistory {
	return &poseHistory{window: window}
}

// add appends a pose. Timestamps must be strictly increasing; an entry at
// or before the newest timestamp is not recorded and add returns false.
func (h *poseHistory) add(t float64, p geom.Pose2d) bool {
	if n := len(h.entries); n > 0 && t <= h.entries[n-1].t {
		return false
	}
	h.entries = append(h.entries, timedPose{t: t, pose: p})

	cutoff := t - h.window
	drop := 0
	for drop < len(h.entries)-1 && h.entries[drop].t < cutoff {
		drop++
	}
	if drop > 0 {
		h.entries = append(h.entries[:0], h.entries[drop:]...)
	}
	return true
}

func (h *poseHistory) clear() { h.entries = h.entries[:0] }

func (h *poseHistory) empty() bool { return len(h.entries) == 0 }

func (h *poseHistory) oldest() float64 { return h.entries[0].t }

func (h *poseHistory) newest() float64 { return h.entries[len(h.entries)-1].t }

// sample returns the pose at t, interpolating between the surrounding
// entries and clamping outside the buffered range.
func (h *poseHistory) sample(t float64) (geom.Pose2d, bool) {
	n := len(h.entries)
	if n == 0 {
		return geom.Pose2d{}, false
	}
	if t <= h.entries[0].t {
		return h.entries[0].pose, true
	}
	if t >= h.entries[n-1].t {
		return h.entries[n-1].pose, true
	}
	i := sort.Search(n, func(i int) bool { return h.entries[i].t >= t })
	hi := h.entries[i]
	if hi.t == t {
		return hi.pose, true
	}
	lo := h.entries[i-1]
	frac := (t - lo.t) / (hi.t - lo.t)
	return lo.pose.Interpolate(hi.pose, frac), true
}
