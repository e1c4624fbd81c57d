// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/geom"
)

type fakeEncoder struct {
	readings []float64 // degrees, cycled
	healthy  bool
	n        int
}

func (f *fakeEncoder) AbsoluteAngle() geom.Rotation2d {
	r := f.readings[f.n%len(f.readings)]
	f.n++
	return geom.FromDegrees(r)
}

func (f *fakeEncoder) EncoderHealthy() bool { return f.healthy }

func ticks(n int) <-chan time.Time {
	ch := make(chan time.Time, n)
	for i := 0; i < n; i++ {
		ch <- time.Time{}
	}
	return ch
}

func TestAngleAveragerWrapsAroundHalfTurn(t *testing.T) {
	var a angleAverager
	a.add(geom.FromDegrees(179))
	a.add(geom.FromDegrees(-179))

	mean, ok := a.mean()
	require.True(t, ok)
	assert.InDelta(t, 180, math.Abs(mean.Degrees()), 1e-9)
	assert.Less(t, a.spread(), 1e-3)

	var empty angleAverager
	_, ok = empty.mean()
	assert.False(t, ok)
	assert.Equal(t, 1.0, empty.spread())
}

func TestCollectOffsets(t *testing.T) {
	encoders := []absoluteEncoder{
		&fakeEncoder{readings: []float64{10, 12}, healthy: true},
		&fakeEncoder{readings: []float64{-90}, healthy: true},
	}

	offsets, err := collectOffsets(context.Background(), encoders, ticks(20), 20)
	require.NoError(t, err)
	require.Len(t, offsets, 2)
	assert.InDelta(t, 11, offsets[0].Offset.Degrees(), 1e-3)
	assert.Equal(t, 20, offsets[0].Samples)
	assert.InDelta(t, -90, offsets[1].Offset.Degrees(), 1e-9)
	assert.InDelta(t, 0, offsets[1].Spread, 1e-12)
}

func TestCollectOffsetsReportsDeadEncoder(t *testing.T) {
	encoders := []absoluteEncoder{
		&fakeEncoder{readings: []float64{45}, healthy: true},
		&fakeEncoder{readings: []float64{0}, healthy: false},
	}

	offsets, err := collectOffsets(context.Background(), encoders, ticks(5), 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[1]")
	require.Len(t, offsets, 2)
	assert.Equal(t, 5, offsets[0].Samples)
	assert.Equal(t, 0, offsets[1].Samples)
}

func TestCollectOffsetsCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	encoders := []absoluteEncoder{&fakeEncoder{readings: []float64{0}, healthy: true}}

	offsets, err := collectOffsets(ctx, encoders, make(chan time.Time), 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, offsets)
}

func TestWriteOffsetsLoadsAsConfig(t *testing.T) {
	offsets := []ModuleOffset{
		{Index: 0, Offset: geom.FromDegrees(12.5), Samples: 10},
		{Index: 1, Offset: geom.FromDegrees(-33), Samples: 10, Spread: 0.2},
		{Index: 2, Samples: 0},
		{Index: 3, Offset: geom.FromDegrees(90), Samples: 10},
	}
	var buf bytes.Buffer
	require.NoError(t, writeOffsets(&buf, offsets))

	out := buf.String()
	assert.Contains(t, out, "MODULE_0_OFFSET=12.500\n")
	assert.Contains(t, out, "# module 1 is noisy")
	assert.Contains(t, out, "MODULE_1_OFFSET=-33.000\n")
	assert.NotContains(t, out, "MODULE_2_OFFSET")
	assert.Contains(t, out, "MODULE_3_OFFSET=90.000\n")

	geometry := strings.Join([]string{
		"MODULE_0_X=0.3", "MODULE_0_Y=0.3",
		"MODULE_1_X=0.3", "MODULE_1_Y=-0.3",
		"MODULE_2_X=-0.3", "MODULE_2_Y=0.3",
		"MODULE_3_X=-0.3", "MODULE_3_Y=-0.3",
	}, "\n") + "\n"
	path := filepath.Join(t.TempDir(), "config.txt")
	require.NoError(t, os.WriteFile(path, []byte(geometry+out), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Modules, 4)
	assert.InDelta(t, 12.5, cfg.Modules[0].AngleOffsetDeg, 1e-9)
	assert.InDelta(t, -33, cfg.Modules[1].AngleOffsetDeg, 1e-9)
	assert.Equal(t, 0.0, cfg.Modules[2].AngleOffsetDeg)
	assert.InDelta(t, 90, cfg.Modules[3].AngleOffsetDeg, 1e-9)
}

func TestRunModuleCalibrationNeedsSerialPort(t *testing.T) {
	cfg := config.Default()
	err := RunModuleCalibration(context.Background(), cfg, 10, time.Millisecond, &bytes.Buffer{})
	assert.ErrorContains(t, err, "BUS_SERIAL_PORT")
}
