// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
)

func printPose(w io.Writer, payload []byte) error {
	var p telemetry.PoseMessage
	if err := json.Unmarshal(payload, &p); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w,
		"[POSE]  X=%7.3f  Y=%7.3f  HEADING=%7.2f\n",
		p.X, p.Y, geom.FromRadians(p.Heading).Degrees(),
	)
	return err
}

func printTelemetry(w io.Writer, payload []byte) error {
	var s telemetry.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w,
		"[TELE]  ODOM X=%7.3f Y=%7.3f  samples=%d  vision=%d/%d  unhealthy=%v\n",
		s.Odometry.X, s.Odometry.Y, s.Samples, s.VisionAccepted, s.VisionRejected, s.Unhealthy,
	)
	return err
}

func RunConsoleMQTT(cfg *config.Config) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Subscribe to the fused pose
	poseToken := client.Subscribe(cfg.TopicPose, 0, func(_ mqtt.Client, msg mqtt.Message) {
		if err := printPose(os.Stdout, msg.Payload()); err != nil {
			log.Printf("console: pose unmarshal error: %v", err)
		}
	})
	poseToken.Wait()
	if poseToken.Error() != nil {
		return poseToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicPose)

	// Subscribe to telemetry
	if cfg.TopicTelemetry != "" {
		teleToken := client.Subscribe(cfg.TopicTelemetry, 0, func(_ mqtt.Client, msg mqtt.Message) {
			if err := printTelemetry(os.Stdout, msg.Payload()); err != nil {
				log.Printf("console: telemetry unmarshal error: %v", err)
			}
		})
		teleToken.Wait()
		if teleToken.Error() != nil {
			return teleToken.Error()
		}
		log.Printf("console: subscribed to %s", cfg.TopicTelemetry)
	}

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}
