// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package config

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// Hardware modes.
const (
	HardwareSim    = "sim"
	HardwareSerial = "serial"
)

// ModuleGeometry is one swerve module: its position from the robot
// center (m, +x forward, +y left) and its absolute encoder offset.
type ModuleGeometry struct {
	X              float64
	Y              float64
	AngleOffsetDeg float64

	set uint8 // bit 0: X seen, bit 1: Y seen
}

const (
	setX uint8 = 1 << iota
	setY
)

// Config holds all application configuration values.
type Config struct {
	// MQTT
	MQTTBroker            string
	MQTTClientIDLocalizer string
	MQTTClientIDWeb       string
	MQTTClientIDConsole   string
	MQTTClientIDDisplay   string

	// Topics
	TopicPose      string
	TopicTelemetry string
	TopicVision    string
	TopicCommand   string

	// Drive geometry and limits
	Modules                 []ModuleGeometry
	MaxLinearVelocity       float64 // m/s
	MaxAngularVelocity      float64 // rad/s
	SpeedDeadband           float64 // m/s
	RecalibrationIntervalMs int     // 0 disables periodic offset re-application
	ControlPeriodMs         int
	CommandTimeoutMs        int // drive stops when no command arrives for this long

	// Estimator
	StateStdDevX        float64 // m
	StateStdDevY        float64 // m
	StateStdDevHeading  float64 // rad
	VisionStdDevX       float64 // m
	VisionStdDevY       float64 // m
	VisionStdDevHeading float64 // rad
	HistorySeconds      float64

	// Hardware
	HardwareMode  string // "sim" or "serial"
	BusSerialPort string
	BusBaudRate   int
	GyroSPIDevice string // empty disables the gyro
	GyroCSPin     string
	GyroRange     byte // 0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s

	// Simulation
	SimSubSamples      int
	SimVisionPeriodMs  int
	SimVisionLatencyMs int
	SimVisionNoise     float64 // m, and rad for heading
	SimSeed            int64
	SimWheelScale      float64 // measured / true wheel travel

	// Web Server
	WebServerPort int

	// Display
	DisplayI2CBus         string // empty selects the first bus
	DisplayUpdateInterval int    // milliseconds
}

// Default returns a configuration for a 0.6 m square drivetrain in
// simulation with a local broker.
func Default() *Config {
	return &Config{
		MQTTBroker:            "tcp://localhost:1883",
		MQTTClientIDLocalizer: "swerve-localizer",
		MQTTClientIDWeb:       "swerve-web-subscriber",
		MQTTClientIDConsole:   "swerve-console-subscriber",
		MQTTClientIDDisplay:   "swerve-display",

		TopicPose:      "swerve/pose",
		TopicTelemetry: "swerve/telemetry",
		TopicVision:    "swerve/vision",
		TopicCommand:   "swerve/command",

		Modules: []ModuleGeometry{
			{X: 0.3, Y: 0.3, set: setX | setY},
			{X: 0.3, Y: -0.3, set: setX | setY},
			{X: -0.3, Y: 0.3, set: setX | setY},
			{X: -0.3, Y: -0.3, set: setX | setY},
		},
		MaxLinearVelocity:       4.5,
		MaxAngularVelocity:      3 * math.Pi,
		SpeedDeadband:           0.01,
		RecalibrationIntervalMs: 1000,
		ControlPeriodMs:         20,
		CommandTimeoutMs:        500,

		StateStdDevX:        0.1,
		StateStdDevY:        0.1,
		StateStdDevHeading:  0.1,
		VisionStdDevX:       0.9,
		VisionStdDevY:       0.9,
		VisionStdDevHeading: 0.9,
		HistorySeconds:      1.5,

		HardwareMode: HardwareSim,
		BusBaudRate:  115200,
		GyroCSPin:    "GPIO8",
		GyroRange:    3,

		SimSubSamples:      4,
		SimVisionPeriodMs:  100,
		SimVisionLatencyMs: 60,
		SimVisionNoise:     0.02,
		SimSeed:            1,
		SimWheelScale:      1.02,

		WebServerPort:         8080,
		DisplayUpdateInterval: 250,
	}
}

// Load reads the configuration file on top of Default(). Any MODULE_ key
// in the file replaces the default module layout entirely.
func Load(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	cfg := Default()
	scanner := bufio.NewScanner(file)
	lineNum := 0
	sawModule := false

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid config line %d: %q", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		if strings.HasPrefix(key, "MODULE_") && !sawModule {
			cfg.Modules = nil
			sawModule = true
		}
		if err := cfg.setValue(key, value); err != nil {
			return nil, fmt.Errorf("config line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadOrDefault loads path, or returns Default() when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return Load(path)
}

// setValue sets a config value based on the key.
func (c *Config) setValue(key, value string) error {
	if strings.HasPrefix(key, "MODULE_") {
		return c.setModuleValue(key, value)
	}

	var err error
	switch key {
	// MQTT
	case "MQTT_BROKER":
		c.MQTTBroker = value
	case "MQTT_CLIENT_ID_LOCALIZER":
		c.MQTTClientIDLocalizer = value
	case "MQTT_CLIENT_ID_WEB":
		c.MQTTClientIDWeb = value
	case "MQTT_CLIENT_ID_CONSOLE":
		c.MQTTClientIDConsole = value
	case "MQTT_CLIENT_ID_DISPLAY":
		c.MQTTClientIDDisplay = value

	// Topics
	case "TOPIC_POSE":
		c.TopicPose = value
	case "TOPIC_TELEMETRY":
		c.TopicTelemetry = value
	case "TOPIC_VISION":
		c.TopicVision = value
	case "TOPIC_COMMAND":
		c.TopicCommand = value

	// Drive
	case "MAX_LINEAR_VELOCITY":
		c.MaxLinearVelocity, err = parseFloat(key, value)
	case "MAX_ANGULAR_VELOCITY":
		c.MaxAngularVelocity, err = parseFloat(key, value)
	case "SPEED_DEADBAND":
		c.SpeedDeadband, err = parseFloat(key, value)
	case "RECALIBRATION_INTERVAL":
		c.RecalibrationIntervalMs, err = parseInt(key, value)
	case "CONTROL_PERIOD":
		c.ControlPeriodMs, err = parseInt(key, value)
	case "COMMAND_TIMEOUT":
		c.CommandTimeoutMs, err = parseInt(key, value)

	// Estimator
	case "STATE_STD_DEV_X":
		c.StateStdDevX, err = parseFloat(key, value)
	case "STATE_STD_DEV_Y":
		c.StateStdDevY, err = parseFloat(key, value)
	case "STATE_STD_DEV_HEADING":
		c.StateStdDevHeading, err = parseFloat(key, value)
	case "VISION_STD_DEV_X":
		c.VisionStdDevX, err = parseFloat(key, value)
	case "VISION_STD_DEV_Y":
		c.VisionStdDevY, err = parseFloat(key, value)
	case "VISION_STD_DEV_HEADING":
		c.VisionStdDevHeading, err = parseFloat(key, value)
	case "HISTORY_SECONDS":
		c.HistorySeconds, err = parseFloat(key, value)

	// Hardware
	case "HARDWARE_MODE":
		if value != HardwareSim && value != HardwareSerial {
			return fmt.Errorf("HARDWARE_MODE must be %q or %q, got %q", HardwareSim, HardwareSerial, value)
		}
		c.HardwareMode = value
	case "BUS_SERIAL_PORT":
		c.BusSerialPort = value
	case "BUS_BAUD_RATE":
		c.BusBaudRate, err = parseInt(key, value)
	case "GYRO_SPI_DEVICE":
		c.GyroSPIDevice = value
	case "GYRO_CS_PIN":
		c.GyroCSPin = value
	case "GYRO_RANGE":
		rangeVal, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid GYRO_RANGE %q: %w", value, err)
		}
		if rangeVal < 0 || rangeVal > 3 {
			return fmt.Errorf("GYRO_RANGE must be 0-3 (0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s), got %d", rangeVal)
		}
		c.GyroRange = byte(rangeVal)

	// Simulation
	case "SIM_SUB_SAMPLES":
		c.SimSubSamples, err = parseInt(key, value)
	case "SIM_VISION_PERIOD":
		c.SimVisionPeriodMs, err = parseInt(key, value)
	case "SIM_VISION_LATENCY":
		c.SimVisionLatencyMs, err = parseInt(key, value)
	case "SIM_VISION_NOISE":
		c.SimVisionNoise, err = parseFloat(key, value)
	case "SIM_WHEEL_SCALE":
		c.SimWheelScale, err = parseFloat(key, value)
	case "SIM_SEED":
		c.SimSeed, err = strconv.ParseInt(value, 10, 64)
		if err != nil {
			err = fmt.Errorf("invalid SIM_SEED %q: %w", value, err)
		}

	// Web Server
	case "WEB_SERVER_PORT":
		c.WebServerPort, err = parseInt(key, value)

	// Display
	case "DISPLAY_I2C_BUS":
		c.DisplayI2CBus = value
	case "DISPLAY_UPDATE_INTERVAL":
		c.DisplayUpdateInterval, err = parseInt(key, value)

	default:
		return fmt.Errorf("unknown config key: %q", key)
	}

	return err
}

// setModuleValue handles MODULE_<n>_X, MODULE_<n>_Y and MODULE_<n>_OFFSET
// (degrees).
func (c *Config) setModuleValue(key, value string) error {
	parts := strings.Split(key, "_")
	if len(parts) != 3 {
		return fmt.Errorf("unknown config key: %q", key)
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil || idx < 0 || idx > 15 {
		return fmt.Errorf("module index in %q must be 0-15", key)
	}
	v, err := parseFloat(key, value)
	if err != nil {
		return err
	}
	for len(c.Modules) <= idx {
		c.Modules = append(c.Modules, ModuleGeometry{})
	}
	m := &c.Modules[idx]
	switch parts[2] {
	case "X":
		m.X = v
		m.set |= setX
	case "Y":
		m.Y = v
		m.set |= setY
	case "OFFSET":
		m.AngleOffsetDeg = v
	default:
		return fmt.Errorf("unknown config key: %q", key)
	}
	return nil
}

// Validate checks that all required fields are set and sane.
func (c *Config) Validate() error {
	if c.MQTTBroker == "" {
		return fmt.Errorf("MQTT_BROKER is required")
	}
	if c.TopicPose == "" {
		return fmt.Errorf("TOPIC_POSE is required")
	}
	if len(c.Modules) < 2 {
		return fmt.Errorf("at least two modules are required, got %d", len(c.Modules))
	}
	for i, m := range c.Modules {
		if m.set&setX == 0 || m.set&setY == 0 {
			return fmt.Errorf("MODULE_%d_X and MODULE_%d_Y are required", i, i)
		}
	}
	if c.MaxLinearVelocity <= 0 {
		return fmt.Errorf("MAX_LINEAR_VELOCITY must be positive")
	}
	if c.MaxAngularVelocity <= 0 {
		return fmt.Errorf("MAX_ANGULAR_VELOCITY must be positive")
	}
	if c.SpeedDeadband < 0 {
		return fmt.Errorf("SPEED_DEADBAND must not be negative")
	}
	if c.RecalibrationIntervalMs < 0 {
		return fmt.Errorf("RECALIBRATION_INTERVAL must not be negative")
	}
	if c.ControlPeriodMs <= 0 {
		return fmt.Errorf("CONTROL_PERIOD must be positive")
	}
	for name, v := range map[string]float64{
		"STATE_STD_DEV_X":        c.StateStdDevX,
		"STATE_STD_DEV_Y":        c.StateStdDevY,
		"STATE_STD_DEV_HEADING":  c.StateStdDevHeading,
		"VISION_STD_DEV_X":       c.VisionStdDevX,
		"VISION_STD_DEV_Y":       c.VisionStdDevY,
		"VISION_STD_DEV_HEADING": c.VisionStdDevHeading,
		"HISTORY_SECONDS":        c.HistorySeconds,
	} {
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("%s must be a positive number, got %v", name, v)
		}
	}
	if c.HardwareMode == HardwareSerial {
		if c.BusSerialPort == "" {
			return fmt.Errorf("BUS_SERIAL_PORT is required in serial mode")
		}
		if c.BusBaudRate <= 0 {
			return fmt.Errorf("BUS_BAUD_RATE is required in serial mode")
		}
	}
	if c.SimSubSamples < 1 {
		return fmt.Errorf("SIM_SUB_SAMPLES must be at least 1")
	}
	if !(c.SimWheelScale > 0) {
		return fmt.Errorf("SIM_WHEEL_SCALE must be positive")
	}
	if c.DisplayUpdateInterval <= 0 {
		return fmt.Errorf("DISPLAY_UPDATE_INTERVAL must be positive")
	}
	return nil
}

// ControlPeriod is the main loop period.
func (c *Config) ControlPeriod() time.Duration {
	return time.Duration(c.ControlPeriodMs) * time.Millisecond
}

// CommandTimeout is the drive command watchdog; zero disables it.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeoutMs) * time.Millisecond
}

// RecalibrationInterval is how often module encoder offsets are re-applied.
func (c *Config) RecalibrationInterval() time.Duration {
	return time.Duration(c.RecalibrationIntervalMs) * time.Millisecond
}

// StateStdDevs is (x, y, heading) for the estimator.
func (c *Config) StateStdDevs() [3]float64 {
	return [3]float64{c.StateStdDevX, c.StateStdDevY, c.StateStdDevHeading}
}

// VisionStdDevs is (x, y, heading) applied to every vision fix.
func (c *Config) VisionStdDevs() [3]float64 {
	return [3]float64{c.VisionStdDevX, c.VisionStdDevY, c.VisionStdDevHeading}
}

func parseFloat(key, value string) (float64, error) {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}

func parseInt(key, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return v, nil
}
