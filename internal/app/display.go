// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/json"
	"fmt"
	"image"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
)

// panel is the part of *ssd1306.Dev the display loop uses.
type panel interface {
	Bounds() image.Rectangle
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
}

// DisplayData holds the latest telemetry for the OLED.
type DisplayData struct {
	mu       sync.RWMutex
	snapshot telemetry.Snapshot
	have     bool
}

func (d *DisplayData) handleTelemetry(payload []byte) {
	var s telemetry.Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		log.Printf("display: telemetry unmarshal error: %v", err)
		return
	}
	d.mu.Lock()
	d.snapshot = s
	d.have = true
	d.mu.Unlock()
}

func (d *DisplayData) get() (telemetry.Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot, d.have
}

func newFrame() (*image1bit.VerticalLSB, *font.Drawer) {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	return img, drawer
}

// renderPose draws the fused pose and vision counters, four lines of
// 7x13 text.
func renderPose(s telemetry.Snapshot, haveData bool) *image1bit.VerticalLSB {
	img, drawer := newFrame()

	if !haveData {
		drawer.Dot = fixed.P(0, 26)
		drawer.DrawBytes([]byte("Swerve pose"))
		drawer.Dot = fixed.P(0, 39)
		drawer.DrawBytes([]byte("Waiting..."))
		return img
	}

	drawer.Dot = fixed.P(0, 13)
	drawer.DrawBytes([]byte(fmt.Sprintf("X: %7.3f m", s.Fused.X)))

	drawer.Dot = fixed.P(0, 26)
	drawer.DrawBytes([]byte(fmt.Sprintf("Y: %7.3f m", s.Fused.Y)))

	drawer.Dot = fixed.P(0, 39)
	drawer.DrawBytes([]byte(fmt.Sprintf("H: %7.1f deg", s.Fused.Heading.Degrees())))

	drawer.Dot = fixed.P(0, 52)
	status := fmt.Sprintf("V:%d/%d", s.VisionAccepted, s.VisionRejected)
	if len(s.Unhealthy) > 0 {
		status += fmt.Sprintf(" ENC!%d", len(s.Unhealthy))
	}
	drawer.DrawBytes([]byte(status))

	return img
}

func showSplash(dev panel) error {
	img, drawer := newFrame()

	drawer.Dot = fixed.P(10, 26)
	drawer.DrawBytes([]byte("Swerve Pi"))

	drawer.Dot = fixed.P(5, 43)
	drawer.DrawBytes([]byte("Localizing"))

	return dev.Draw(dev.Bounds(), img, image.Point{})
}

func updateDisplay(dev panel, data *DisplayData) error {
	s, have := data.get()
	return dev.Draw(dev.Bounds(), renderPose(s, have), image.Point{})
}

func RunDisplay(cfg *config.Config) error {
	// Initialize periph
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	// Open I2C bus
	bus, err := i2creg.Open(cfg.DisplayI2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	log.Println("display: initialized")

	if err := showSplash(dev); err != nil {
		log.Printf("display: error showing splash: %v", err)
	}

	data := &DisplayData{}

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("display: connected to MQTT broker at %s", cfg.MQTTBroker)

	token := client.Subscribe(cfg.TopicTelemetry, 0, func(_ mqtt.Client, msg mqtt.Message) {
		data.handleTelemetry(msg.Payload())
	})
	token.Wait()
	if token.Error() != nil {
		return token.Error()
	}
	log.Printf("display: subscribed to %s", cfg.TopicTelemetry)

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Println("display: starting update loop")

	for range ticker.C {
		if err := updateDisplay(dev, data); err != nil {
			log.Printf("display: error updating display: %v", err)
		}
	}

	return nil
}
