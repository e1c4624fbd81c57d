// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"log"
	"math"

	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// gyroSensitivity is LSB per °/s for each GYRO_FS_SEL setting.
var gyroSensitivity = [4]float64{131, 65.5, 32.8, 16.4}

type mpu9250Rate struct {
	imu   *mpu9250.MPU9250
	scale float64 // rad/s per LSB
}

// OpenMPU9250 initializes an MPU9250 over SPI and returns its Z axis as
// a RateReader. gyroRange selects the full scale (0-3).
func OpenMPU9250(spiDev, csPin string, gyroRange byte) (RateReader, error) {
	if gyroRange > 3 {
		return nil, fmt.Errorf("gyro: range %d out of 0-3", gyroRange)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gyro: periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("gyro: CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("gyro: SPI transport (%s): %w", spiDev, err)
	}

	imu, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("gyro: device creation: %w", err)
	}
	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("gyro: initialization: %w", err)
	}
	if err := imu.SetGyroRange(gyroRange); err != nil {
		return nil, fmt.Errorf("gyro: set range: %w", err)
	}
	log.Printf("gyro: range set to %d (±%d°/s)", gyroRange, []int{250, 500, 1000, 2000}[gyroRange])

	// The robot must be still while the bias is measured.
	if err := imu.Calibrate(); err != nil {
		log.Printf("Warning: gyro calibration failed: %v", err)
	} else {
		log.Printf("gyro: calibration complete")
	}

	return &mpu9250Rate{
		imu:   imu,
		scale: math.Pi / 180 / gyroSensitivity[gyroRange],
	}, nil
}

func (s *mpu9250Rate) YawRate() (float64, error) {
	gz, err := s.imu.GetRotationZ()
	if err != nil {
		return 0, fmt.Errorf("gyro Z: %w", err)
	}
	return float64(gz) * s.scale, nil
}
