// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/swerve_localizer/internal/swerve"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
)

// DriveCommand is the payload accepted on the command topic.
type DriveCommand struct {
	Vx            float64 `json:"vx"`
	Vy            float64 `json:"vy"`
	Omega         float64 `json:"omega"`
	FieldRelative bool    `json:"field_relative"`

	// Check runs the open-loop module test instead of driving.
	Check bool `json:"check,omitempty"`
	// Reset, when set, moves the fused pose before the command applies.
	Reset *telemetry.PoseMessage `json:"reset,omitempty"`
}

func (c DriveCommand) speeds() swerve.ChassisSpeeds {
	return swerve.ChassisSpeeds{Vx: c.Vx, Vy: c.Vy, Omega: c.Omega}
}

// commandListener keeps the latest DriveCommand with its arrival time.
type commandListener struct {
	timeout time.Duration

	mu       sync.Mutex
	latest   DriveCommand
	received time.Time
	have     bool
	reset    *telemetry.PoseMessage
}

func newCommandListener(timeout time.Duration) *commandListener {
	return &commandListener{timeout: timeout}
}

func (c *commandListener) handleMessage(at time.Time, payload []byte) {
	var cmd DriveCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Printf("localizer: command unmarshal error: %v", err)
		return
	}
	c.set(at, cmd)
}

// set installs cmd as if it had been received at at.
func (c *commandListener) set(at time.Time, cmd DriveCommand) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = cmd
	c.received = at
	c.have = true
	if cmd.Reset != nil {
		c.reset = cmd.Reset
	}
}

func (c *commandListener) subscribe(client mqtt.Client, topic string, now func() time.Time) error {
	token := client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		c.handleMessage(now(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// current returns the command in force at now. A command older than the
// timeout reads as a stop; ok is false until the first command arrives.
func (c *commandListener) current(now time.Time) (cmd DriveCommand, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.have {
		return DriveCommand{}, false
	}
	if c.timeout > 0 && now.Sub(c.received) > c.timeout {
		return DriveCommand{}, true
	}
	return c.latest, true
}

// takeReset returns a pending pose reset once.
func (c *commandListener) takeReset() *telemetry.PoseMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.reset
	c.reset = nil
	return r
}

// applyCommand drives l's drivetrain from cmd. Field-relative commands
// use the current fused heading.
func applyCommand(l *Localizer, cmd DriveCommand) {
	d := l.Drive()
	switch {
	case cmd.Check:
		d.Check()
	case cmd.speeds().IsZero():
		d.Stop()
	case cmd.FieldRelative:
		d.DriveFieldRelative(cmd.Vx, cmd.Vy, cmd.Omega, l.EstimatedPose().Heading)
	default:
		d.Drive(cmd.speeds())
	}
}
