// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package swerve

// BooleanTrigger detects edges of a sampled boolean signal.
type BooleanTrigger struct {
	current     bool
	previous    bool
	initialized bool
}

// Update records a new sample. The first sample never produces an edge.
func (b *BooleanTrigger) Update(v bool) {
	if !b.initialized {
		b.current, b.previous, b.initialized = v, v, true
		return
	}
	b.previous, b.current = b.current, v
}

func (b *BooleanTrigger) Value() bool   { return b.current }
func (b *BooleanTrigger) Rising() bool  { return b.current && !b.previous }
func (b *BooleanTrigger) Falling() bool { return !b.current && b.previous }
