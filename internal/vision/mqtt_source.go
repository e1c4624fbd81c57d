// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vision

import (
	"encoding/json"
	"fmt"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/monitoring"
)

// DefaultMaxPending bounds the buffer between polls.
const DefaultMaxPending = 64

// Fix is the wire form of one vision fix. Heading is in radians and
// Timestamp in seconds on the localizer clock.
type Fix struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Heading   float64 `json:"heading"`
	Timestamp float64 `json:"timestamp"`
}

// MQTTSource buffers fixes published on an MQTT topic until the next Poll.
// When more than maxPending fixes pile up, the oldest are dropped.
type MQTTSource struct {
	mu         sync.Mutex
	pending    []Sample
	maxPending int
	dropped    int
}

// NewMQTTSource creates an unsubscribed source.
func NewMQTTSource(maxPending int) *MQTTSource {
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &MQTTSource{maxPending: maxPending}
}

// Subscribe attaches the source to topic on an already connected client.
func (s *MQTTSource) Subscribe(client mqtt.Client, topic string) error {
	token := client.Subscribe(topic, 0, s.HandleMessage)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("vision: subscribe %s: %w", topic, token.Error())
	}
	return nil
}

// HandleMessage is the MQTT callback.
func (s *MQTTSource) HandleMessage(_ mqtt.Client, msg mqtt.Message) {
	var f Fix
	if err := json.Unmarshal(msg.Payload(), &f); err != nil {
		monitoring.Logf("vision: fix unmarshal error on %s: %v", msg.Topic(), err)
		return
	}
	s.Push(Sample{Pose: geom.NewPose(f.X, f.Y, f.Heading), Timestamp: f.Timestamp})
}

// Push adds a sample as if it had been received.
func (s *MQTTSource) Push(sample Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, sample)
	if over := len(s.pending) - s.maxPending; over > 0 {
		s.pending = append(s.pending[:0], s.pending[over:]...)
		s.dropped += over
	}
}

// Poll returns and clears the buffered samples.
func (s *MQTTSource) Poll() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// Dropped is the number of fixes discarded for overflowing the buffer.
func (s *MQTTSource) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
