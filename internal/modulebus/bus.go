// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package modulebus talks to the drive module controllers over a serial
// line using NMEA-framed proprietary sentences. Each controller streams
// high-frequency odometry samples and a slower status sentence, and
// accepts command, offset and stop sentences.
package modulebus

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/monitoring"
	"github.com/relabs-tech/swerve_localizer/internal/swerve"
	"github.com/relabs-tech/swerve_localizer/internal/timeutil"
)

// MaxBufferedSamples bounds the per-module sample buffer between polls.
const MaxBufferedSamples = 256

// Stats counts bus traffic.
type Stats struct {
	Lines       uint64
	ParseErrors uint64
	WriteErrors uint64
	Dropped     uint64
}

// Bus demultiplexes the controllers' sentences into per-module state.
//
// Sample times arrive on each controller's own clock. The bus maps them
// onto its clock with a per-module offset: the smallest observed
// (arrival - firmware) difference, re-learned when a controller's clock
// jumps backwards after a reboot. Mapped times never run ahead of the
// arrival time.
type Bus struct {
	rw     io.ReadWriter
	parser *nmea.SentenceParser
	clock  timeutil.Clock

	mu      sync.Mutex
	modules []*moduleIO

	writeMu sync.Mutex

	lines       atomic.Uint64
	parseErrors atomic.Uint64
	writeErrors atomic.Uint64
	dropped     atomic.Uint64
}

// New creates a bus for n modules on rw. Sample timestamps are reported
// on clock; nil means the wall clock.
func New(rw io.ReadWriter, n int, clock timeutil.Clock) *Bus {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	b := &Bus{rw: rw, parser: NewSentenceParser(), clock: clock}
	for i := 0; i < n; i++ {
		b.modules = append(b.modules, &moduleIO{bus: b, index: i})
	}
	return b
}

// Open opens the serial port and returns a bus for n modules on it.
func Open(portName string, baud, n int) (*Bus, io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              portName,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	port, err := serial.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("modulebus: open %s: %w", portName, err)
	}
	return New(port, n, timeutil.RealClock{}), port, nil
}

// Run reads sentences until ctx is cancelled or the port fails. If the
// underlying port is an io.Closer it is closed on cancellation to unblock
// the pending read.
func (b *Bus) Run(ctx context.Context) error {
	if c, ok := b.rw.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { c.Close() })
		defer stop()
	}

	reader := bufio.NewReader(b.rw)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("modulebus: read: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "$") {
			continue
		}
		if err := b.HandleLine(line); err != nil {
			// Line noise is expected right after the port opens.
			b.parseErrors.Add(1)
		}
	}
}

// HandleLine parses one sentence and applies it.
func (b *Bus) HandleLine(line string) error {
	b.lines.Add(1)
	s, err := b.parser.Parse(line)
	if err != nil {
		return fmt.Errorf("modulebus: %w", err)
	}

	switch m := s.(type) {
	case SampleSentence:
		mod, err := b.module(m.Module)
		if err != nil {
			return err
		}
		arrival := timeutil.Seconds(b.clock.Now())
		b.mu.Lock()
		mod.addSample(swerve.RawSample{
			Timestamp: mod.localTime(m.Time, arrival),
			Distance:  m.Distance,
			Angle:     geom.FromRadians(m.Angle),
		})
		b.mu.Unlock()
	case StatusSentence:
		mod, err := b.module(m.Module)
		if err != nil {
			return err
		}
		b.mu.Lock()
		mod.state = swerve.ModuleState{Speed: m.Speed, Angle: geom.FromRadians(m.Angle)}
		mod.position = swerve.ModulePosition{Distance: m.Distance, Angle: geom.FromRadians(m.Angle)}
		mod.healthy = m.EncoderOK
		mod.absolute = geom.FromRadians(m.Absolute)
		b.mu.Unlock()
	default:
		return fmt.Errorf("modulebus: unexpected sentence %s", s.DataType())
	}
	return nil
}

func (b *Bus) module(idx int64) (*moduleIO, error) {
	if idx < 0 || idx >= int64(len(b.modules)) {
		return nil, fmt.Errorf("modulebus: module index %d out of range", idx)
	}
	return b.modules[idx], nil
}

// Module returns the IO for module i.
func (b *Bus) Module(i int) swerve.ModuleIO { return b.modules[i] }

// Stats returns the traffic counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Lines:       b.lines.Load(),
		ParseErrors: b.parseErrors.Load(),
		WriteErrors: b.writeErrors.Load(),
		Dropped:     b.dropped.Load(),
	}
}

func (b *Bus) send(typ string, fields ...string) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := io.WriteString(b.rw, Encode(typ, fields...)); err != nil {
		if b.writeErrors.Add(1) == 1 {
			monitoring.Logf("modulebus: write %s failed: %v", typ, err)
		}
	}
}

// moduleIO implements swerve.ModuleIO for one controller. Fields are
// guarded by bus.mu.
type moduleIO struct {
	bus   *Bus
	index int

	state    swerve.ModuleState
	position swerve.ModulePosition
	healthy  bool
	absolute geom.Rotation2d
	samples  []swerve.RawSample

	synced     bool
	offset     float64 // local - firmware, s
	lastRemote float64
}

// localTime maps a firmware timestamp received at arrival onto the bus
// clock.
func (m *moduleIO) localTime(remote, arrival float64) float64 {
	if d := arrival - remote; !m.synced || remote < m.lastRemote || d < m.offset {
		m.offset = d
		m.synced = true
	}
	m.lastRemote = remote
	return remote + m.offset
}

func (m *moduleIO) addSample(s swerve.RawSample) {
	m.samples = append(m.samples, s)
	if over := len(m.samples) - MaxBufferedSamples; over > 0 {
		m.samples = append(m.samples[:0], m.samples[over:]...)
		m.bus.dropped.Add(uint64(over))
	}
	m.position = swerve.ModulePosition{Distance: s.Distance, Angle: s.Angle}
}

func (m *moduleIO) State() swerve.ModuleState {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	return m.state
}

func (m *moduleIO) Position() swerve.ModulePosition {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	return m.position
}

func (m *moduleIO) HighFrequencySamples() []swerve.RawSample {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	out := m.samples
	m.samples = nil
	return out
}

func (m *moduleIO) EncoderHealthy() bool {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	return m.healthy
}

// AbsoluteAngle is the last raw absolute encoder reading.
func (m *moduleIO) AbsoluteAngle() geom.Rotation2d {
	m.bus.mu.Lock()
	defer m.bus.mu.Unlock()
	return m.absolute
}

func (m *moduleIO) SetCommand(s swerve.ModuleState) {
	m.bus.send(TypeCommand, formatIndex(m.index), formatFloat(s.Speed), formatFloat(s.Angle.Radians()))
}

func (m *moduleIO) ApplyAngleOffset(offset geom.Rotation2d) {
	m.bus.send(TypeOffset, formatIndex(m.index), formatFloat(offset.Radians()))
}

func (m *moduleIO) Stop() {
	m.bus.send(TypeStop, formatIndex(m.index))
}
