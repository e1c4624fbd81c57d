// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sim

import (
	"fmt"
	"sync"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/swerve"
)

// Observer sees the ground truth after every sub-step.
type Observer interface {
	Observe(t float64, truth geom.Pose2d)
}

// Drivetrain advances every module in lock-step and integrates the true
// chassis motion from the modules' true wheel travel.
type Drivetrain struct {
	kin      *swerve.Kinematics
	modules  []*Module
	substeps int

	mu        sync.RWMutex
	t         float64
	truth     geom.Pose2d
	observers []Observer
}

// NewDrivetrain starts at time start (s) at the field origin. Each call
// to AdvanceTo is split into substeps module samples.
func NewDrivetrain(kin *swerve.Kinematics, modules []*Module, start float64, substeps int) (*Drivetrain, error) {
	if len(modules) != kin.NumModules() {
		return nil, fmt.Errorf("sim: %d modules for a %d-module kinematics", len(modules), kin.NumModules())
	}
	if substeps < 1 {
		substeps = 1
	}
	return &Drivetrain{kin: kin, modules: modules, substeps: substeps, t: start}, nil
}

// AddObserver registers o for every later sub-step.
func (d *Drivetrain) AddObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, o)
}

// AdvanceTo simulates up to time t. Times at or before the current
// simulation time are ignored.
func (d *Drivetrain) AdvanceTo(t float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t <= d.t {
		return
	}

	h := (t - d.t) / float64(d.substeps)
	start := d.t
	deltas := make([]swerve.ModulePosition, len(d.modules))
	for k := 1; k <= d.substeps; k++ {
		tk := start + h*float64(k)
		if k == d.substeps {
			tk = t
		}
		for i, m := range d.modules {
			m.step(tk, h)
			deltas[i] = m.trueDelta()
		}
		tw, err := d.kin.ToTwist(deltas)
		if err == nil {
			d.truth = d.truth.Exp(tw)
		}
		d.t = tk
		for _, o := range d.observers {
			o.Observe(tk, d.truth)
		}
	}
}

// Step advances by dt seconds.
func (d *Drivetrain) Step(dt float64) {
	d.mu.RLock()
	t := d.t
	d.mu.RUnlock()
	d.AdvanceTo(t + dt)
}

// Time is the current simulation time (s).
func (d *Drivetrain) Time() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.t
}

// Truth is the true robot pose.
func (d *Drivetrain) Truth() geom.Pose2d {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.truth
}

// SetTruth teleports the robot.
func (d *Drivetrain) SetTruth(p geom.Pose2d) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.truth = p
}

// Module returns module i.
func (d *Drivetrain) Module(i int) *Module { return d.modules[i] }

// IOs returns the modules as swerve.ModuleIO, in index order.
func (d *Drivetrain) IOs() []swerve.ModuleIO {
	out := make([]swerve.ModuleIO, len(d.modules))
	for i, m := range d.modules {
		out[i] = m
	}
	return out
}
