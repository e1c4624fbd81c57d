// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/modulebus"
)

// maxOffsetSpread is the circular variance above which a module's
// offset is reported as unreliable (about 2.5° of jitter).
const maxOffsetSpread = 1e-3

// absoluteEncoder is implemented by module bus IOs.
type absoluteEncoder interface {
	AbsoluteAngle() geom.Rotation2d
	EncoderHealthy() bool
}

// angleAverager accumulates a circular mean, so readings either side of
// ±180° average correctly.
type angleAverager struct {
	sin, cos float64
	n        int
}

func (a *angleAverager) add(r geom.Rotation2d) {
	a.sin += r.Sin()
	a.cos += r.Cos()
	a.n++
}

func (a *angleAverager) mean() (geom.Rotation2d, bool) {
	if a.n == 0 {
		return geom.Rotation2d{}, false
	}
	return geom.FromRadians(math.Atan2(a.sin, a.cos)), true
}

// spread is the circular variance in [0, 1]; 0 means every reading was
// identical.
func (a *angleAverager) spread() float64 {
	if a.n == 0 {
		return 1
	}
	return 1 - math.Hypot(a.sin, a.cos)/float64(a.n)
}

// ModuleOffset is the measured absolute encoder reading of a module whose
// wheel points straight forward.
type ModuleOffset struct {
	Index   int
	Offset  geom.Rotation2d
	Samples int
	Spread  float64
}

// collectOffsets reads every encoder once per tick until samples ticks
// have passed or ctx ends. Readings from unhealthy encoders are skipped.
func collectOffsets(ctx context.Context, encoders []absoluteEncoder, ticks <-chan time.Time, samples int) ([]ModuleOffset, error) {
	avg := make([]angleAverager, len(encoders))
	for k := 0; k < samples; k++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticks:
		}
		for i, e := range encoders {
			if e.EncoderHealthy() {
				avg[i].add(e.AbsoluteAngle())
			}
		}
	}

	out := make([]ModuleOffset, len(encoders))
	var missing []int
	for i := range avg {
		mean, ok := avg[i].mean()
		if !ok {
			missing = append(missing, i)
		}
		out[i] = ModuleOffset{Index: i, Offset: mean, Samples: avg[i].n, Spread: avg[i].spread()}
	}
	if len(missing) > 0 {
		return out, fmt.Errorf("calibration: no healthy encoder readings from modules %v", missing)
	}
	return out, nil
}

// writeOffsets prints the offsets as configuration lines.
func writeOffsets(w io.Writer, offsets []ModuleOffset) error {
	if _, err := fmt.Fprintf(w, "# module offsets measured %s\n", time.Now().Format(time.RFC3339)); err != nil {
		return err
	}
	for _, o := range offsets {
		if o.Samples == 0 {
			continue
		}
		if o.Spread > maxOffsetSpread {
			if _, err := fmt.Fprintf(w, "# module %d is noisy (spread %.4f), check the encoder\n", o.Index, o.Spread); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "MODULE_%d_OFFSET=%.3f\n", o.Index, o.Offset.Degrees()); err != nil {
			return err
		}
	}
	return nil
}

// RunModuleCalibration reads the absolute encoders over the module bus
// while the operator holds every wheel pointing forward, and writes the
// resulting MODULE_<n>_OFFSET lines to out.
func RunModuleCalibration(ctx context.Context, cfg *config.Config, samples int, interval time.Duration, out io.Writer) error {
	if cfg.BusSerialPort == "" {
		return errors.New("calibration: BUS_SERIAL_PORT is not set")
	}
	bus, port, err := modulebus.Open(cfg.BusSerialPort, cfg.BusBaudRate, len(cfg.Modules))
	if err != nil {
		return err
	}
	defer port.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("calibration: module bus stopped: %v", err)
			cancel()
		}
	}()

	encoders := make([]absoluteEncoder, len(cfg.Modules))
	for i := range encoders {
		enc, ok := bus.Module(i).(absoluteEncoder)
		if !ok {
			return fmt.Errorf("calibration: module %d has no absolute encoder", i)
		}
		encoders[i] = enc
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("calibration: sampling %d modules, %d readings every %v", len(encoders), samples, interval)

	offsets, err := collectOffsets(ctx, encoders, ticker.C, samples)
	if offsets == nil {
		return err
	}
	if werr := writeOffsets(out, offsets); werr != nil {
		return werr
	}
	if stats := bus.Stats(); stats.ParseErrors > 0 {
		log.Printf("calibration: %d of %d lines failed to parse", stats.ParseErrors, stats.Lines)
	}
	return err
}
