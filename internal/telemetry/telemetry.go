// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry publishes what the localizer did each tick. The core
// writes to a Sink; it never reads anything back.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/swerve"
)

// ModuleTelemetry is the per-module part of a Snapshot.
type ModuleTelemetry struct {
	Index     int                   `json:"index"`
	State     swerve.ModuleState    `json:"state"`
	Position  swerve.ModulePosition `json:"position"`
	Commanded swerve.ModuleState    `json:"commanded"`
	Healthy   bool                  `json:"healthy"`
	Delta     float64               `json:"delta"` // distance consumed this tick, m
}

// Snapshot is one control tick.
type Snapshot struct {
	RunID          string            `json:"run_id"`
	Time           time.Time         `json:"time"`
	Fused          geom.Pose2d       `json:"fused"`
	Odometry       geom.Pose2d       `json:"odometry"`
	Samples        int               `json:"samples"`
	VisionAccepted int               `json:"vision_accepted"`
	VisionRejected int               `json:"vision_rejected"`
	VisionDropped  int               `json:"vision_dropped,omitempty"`
	Unhealthy      []int             `json:"unhealthy,omitempty"`
	Modules        []ModuleTelemetry `json:"modules"`
}

// PoseMessage is the compact payload published on the pose topic.
type PoseMessage struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
	Time    float64 `json:"t"`
}

// NewPoseMessage flattens a pose for the wire; heading is in radians.
func NewPoseMessage(p geom.Pose2d, t time.Time) PoseMessage {
	return PoseMessage{
		X:       p.X,
		Y:       p.Y,
		Heading: p.Heading.Radians(),
		Time:    float64(t.UnixNano()) / 1e9,
	}
}

// Pose converts back to a geom.Pose2d.
func (m PoseMessage) Pose() geom.Pose2d { return geom.NewPose(m.X, m.Y, m.Heading) }

// Sink receives snapshots.
type Sink interface {
	Publish(Snapshot) error
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Publish(Snapshot) error { return nil }

// NewRunID identifies one localizer process in published snapshots.
func NewRunID() string { return uuid.NewString() }

// Topics names where MQTTSink publishes.
type Topics struct {
	Pose     string
	Snapshot string
}

// MQTTSink publishes the fused pose (retained) and the full snapshot.
type MQTTSink struct {
	client mqtt.Client
	topics Topics
}

func NewMQTTSink(client mqtt.Client, topics Topics) *MQTTSink {
	return &MQTTSink{client: client, topics: topics}
}

func (s *MQTTSink) Publish(snap Snapshot) error {
	payload, err := json.Marshal(NewPoseMessage(snap.Fused, snap.Time))
	if err != nil {
		return fmt.Errorf("telemetry: marshal pose: %w", err)
	}
	if token := s.client.Publish(s.topics.Pose, 0, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("telemetry: publish %s: %w", s.topics.Pose, token.Error())
	}

	if s.topics.Snapshot == "" {
		return nil
	}
	payload, err = json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("telemetry: marshal snapshot: %w", err)
	}
	if token := s.client.Publish(s.topics.Snapshot, 0, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("telemetry: publish %s: %w", s.topics.Snapshot, token.Error())
	}
	return nil
}
