// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/estimator"
	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/modulebus"
	"github.com/relabs-tech/swerve_localizer/internal/sensors"
	"github.com/relabs-tech/swerve_localizer/internal/sim"
	"github.com/relabs-tech/swerve_localizer/internal/swerve"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
	"github.com/relabs-tech/swerve_localizer/internal/timeutil"
	"github.com/relabs-tech/swerve_localizer/internal/vision"
)

// statusEvery is how often the loop logs the fused pose.
const statusEvery = 5 * time.Second

// hardware is what the control loop drives.
type hardware struct {
	ios     []swerve.ModuleIO
	vision  vision.Source
	advance func(now time.Time) // nil for real hardware
	close   func()
}

func newKinematics(cfg *config.Config) (*swerve.Kinematics, error) {
	offsets := make([]geom.Translation2d, len(cfg.Modules))
	for i, m := range cfg.Modules {
		offsets[i] = geom.Translation2d{X: m.X, Y: m.Y}
	}
	return swerve.NewKinematics(offsets...)
}

// newSimHardware builds a simulated drivetrain starting at start, with a
// vision feed observing its ground truth.
func newSimHardware(cfg *config.Config, kin *swerve.Kinematics, start time.Time) (*hardware, *sim.Drivetrain, error) {
	modules := make([]*sim.Module, len(cfg.Modules))
	for i := range modules {
		modules[i] = sim.NewModule(cfg.SimWheelScale)
	}
	dt, err := sim.NewDrivetrain(kin, modules, timeutil.Seconds(start), cfg.SimSubSamples)
	if err != nil {
		return nil, nil, err
	}
	cam := sim.NewVisionSource(
		float64(cfg.SimVisionPeriodMs)/1000,
		float64(cfg.SimVisionLatencyMs)/1000,
		cfg.SimVisionNoise,
		uint64(cfg.SimSeed),
	)
	dt.AddObserver(cam)
	return &hardware{
		ios:     dt.IOs(),
		vision:  cam,
		advance: func(now time.Time) { dt.AdvanceTo(timeutil.Seconds(now)) },
		close:   func() {},
	}, dt, nil
}

// newSerialHardware opens the module bus and subscribes to vision fixes
// on MQTT. The bus read loop runs until ctx ends; if it fails, cancel is
// called to stop the process.
func newSerialHardware(ctx context.Context, cancel context.CancelFunc, cfg *config.Config, client mqtt.Client) (*hardware, error) {
	bus, port, err := modulebus.Open(cfg.BusSerialPort, cfg.BusBaudRate, len(cfg.Modules))
	if err != nil {
		return nil, err
	}
	log.Printf("localizer: module bus open on %s at %d baud", cfg.BusSerialPort, cfg.BusBaudRate)

	go func() {
		if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("localizer: module bus stopped: %v", err)
			cancel()
		}
	}()

	src := vision.NewMQTTSource(vision.DefaultMaxPending)
	if err := src.Subscribe(client, cfg.TopicVision); err != nil {
		port.Close()
		return nil, err
	}
	log.Printf("localizer: subscribed to %s", cfg.TopicVision)

	ios := make([]swerve.ModuleIO, len(cfg.Modules))
	for i := range ios {
		ios[i] = bus.Module(i)
	}
	return &hardware{
		ios:    ios,
		vision: src,
		close:  func() { port.Close() },
	}, nil
}

// newLocalizer assembles drive and estimator around hw.
func newLocalizer(cfg *config.Config, kin *swerve.Kinematics, hw *hardware, gyro swerve.GyroSource, sink telemetry.Sink, clock timeutil.Clock) (*Localizer, error) {
	modules := make([]*swerve.Module, len(hw.ios))
	for i, io := range hw.ios {
		modules[i] = swerve.NewModule(i, io, swerve.ModuleConfig{
			AngleOffset:           geom.FromDegrees(cfg.Modules[i].AngleOffsetDeg),
			RecalibrationInterval: cfg.RecalibrationInterval(),
			SpeedDeadband:         cfg.SpeedDeadband,
			MaxLinearVelocity:     cfg.MaxLinearVelocity,
			MaxAngularVelocity:    cfg.MaxAngularVelocity,
		}, clock)
	}
	drive, err := swerve.NewDrive(kin, modules, gyro, swerve.Limits{
		MaxLinearVelocity:  cfg.MaxLinearVelocity,
		MaxAngularVelocity: cfg.MaxAngularVelocity,
	})
	if err != nil {
		return nil, err
	}
	return NewLocalizer(drive, hw.vision, sink, geom.Pose2d{},
		estimator.WithStateStdDevs(estimator.StdDevs(cfg.StateStdDevs())),
		estimator.WithBufferDuration(cfg.HistorySeconds),
	)
}

// controlLoop is one iteration of the localizer process: advance the
// hardware, apply the operator command, tick the localizer.
type controlLoop struct {
	l         *Localizer
	hw        *hardware
	commands  *commandListener
	visionStd estimator.StdDevs

	stopped    bool
	lastErr    string
	lastStatus time.Time
}

func (c *controlLoop) step(now time.Time) telemetry.Snapshot {
	if c.hw.advance != nil {
		c.hw.advance(now)
	}

	if r := c.commands.takeReset(); r != nil {
		c.l.ResetPose(r.Pose())
		log.Printf("localizer: pose reset to x=%.3f y=%.3f heading=%.1f°", r.X, r.Y, geom.FromRadians(r.Heading).Degrees())
	}
	if cmd, ok := c.commands.current(now); ok {
		idle := cmd.speeds().IsZero() && !cmd.Check
		if !idle || !c.stopped {
			applyCommand(c.l, cmd)
		}
		c.stopped = idle
	}

	snap, err := c.l.Tick(now, c.visionStd)
	switch {
	case err != nil && err.Error() != c.lastErr:
		log.Printf("localizer: %v", err)
		c.lastErr = err.Error()
	case err == nil && c.lastErr != "":
		log.Printf("localizer: recovered")
		c.lastErr = ""
	}

	if now.Sub(c.lastStatus) >= statusEvery {
		c.lastStatus = now
		totals := c.l.Ingest().Totals()
		log.Printf("localizer: fused x=%.3f y=%.3f heading=%.1f° | odometry x=%.3f y=%.3f | vision %d accepted, %d rejected | unhealthy %v",
			snap.Fused.X, snap.Fused.Y, snap.Fused.Heading.Degrees(),
			snap.Odometry.X, snap.Odometry.Y,
			totals.Accepted, totals.Rejected, snap.Unhealthy)
	}
	return snap
}

// RunLocalizer runs the control loop at the configured period until
// SIGINT or SIGTERM, publishing the fused pose over MQTT.
func RunLocalizer(cfg *config.Config) error {
	log.Printf("starting swerve localizer (%s hardware, %d modules)", cfg.HardwareMode, len(cfg.Modules))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDLocalizer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("localizer: connected to MQTT broker at %s", cfg.MQTTBroker)

	kin, err := newKinematics(cfg)
	if err != nil {
		return fmt.Errorf("localizer: %w", err)
	}

	clock := timeutil.RealClock{}
	var hw *hardware
	switch cfg.HardwareMode {
	case config.HardwareSerial:
		hw, err = newSerialHardware(ctx, stop, cfg, client)
	default:
		hw, _, err = newSimHardware(cfg, kin, clock.Now())
	}
	if err != nil {
		return fmt.Errorf("localizer: %w", err)
	}
	defer hw.close()

	var gyro swerve.GyroSource
	if cfg.GyroSPIDevice != "" {
		r, err := sensors.OpenMPU9250(cfg.GyroSPIDevice, cfg.GyroCSPin, cfg.GyroRange)
		if err != nil {
			return fmt.Errorf("localizer: %w", err)
		}
		gyro = sensors.NewGyro(r, clock)
		log.Printf("localizer: gyro on %s", cfg.GyroSPIDevice)
	} else {
		log.Println("localizer: no gyro configured, heading from wheel odometry")
	}

	sink := telemetry.NewMQTTSink(client, telemetry.Topics{Pose: cfg.TopicPose, Snapshot: cfg.TopicTelemetry})
	l, err := newLocalizer(cfg, kin, hw, gyro, sink, clock)
	if err != nil {
		return err
	}
	log.Printf("localizer: run id %s", l.RunID())

	commands := newCommandListener(cfg.CommandTimeout())
	if cfg.TopicCommand != "" {
		if err := commands.subscribe(client, cfg.TopicCommand, clock.Now); err != nil {
			return fmt.Errorf("localizer: subscribe %s: %w", cfg.TopicCommand, err)
		}
		log.Printf("localizer: subscribed to %s", cfg.TopicCommand)
	}

	loop := &controlLoop{
		l:         l,
		hw:        hw,
		commands:  commands,
		visionStd: estimator.StdDevs(cfg.VisionStdDevs()),
	}

	ticker := clock.NewTicker(cfg.ControlPeriod())
	defer ticker.Stop()
	log.Printf("localizer: control loop every %v", cfg.ControlPeriod())

	for {
		select {
		case <-ctx.Done():
			log.Println("localizer: shutting down")
			l.Drive().Stop()
			return nil
		case now := <-ticker.C():
			loop.step(now)
		}
	}
}

func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect %s: %w", broker, token.Error())
	}
	return client, nil
}
