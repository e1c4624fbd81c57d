// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package modulebus

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/swerve_localizer/internal/geom"
	"github.com/relabs-tech/swerve_localizer/internal/swerve"
	"github.com/relabs-tech/swerve_localizer/internal/timeutil"
)

type port struct {
	io.Reader
	out bytes.Buffer
}

func (p *port) Write(b []byte) (int, error) { return p.out.Write(b) }

type failingWriter struct{ io.Reader }

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("port gone") }

type closablePipe struct {
	*io.PipeReader
	out bytes.Buffer
}

func (p *closablePipe) Write(b []byte) (int, error) { return p.out.Write(b) }

func line(typ string, fields ...string) string {
	return strings.TrimSpace(Encode(typ, fields...))
}

func TestEncodeChecksum(t *testing.T) {
	s := Encode(TypeStop, "2")
	assert.True(t, strings.HasPrefix(s, "$PSWRX,2*"))
	assert.True(t, strings.HasSuffix(s, "\r\n"))
	assert.Equal(t, "$PSWRX,2*"+nmea.Checksum("PSWRX,2")+"\r\n", s)
}

func TestParseSampleAndStatus(t *testing.T) {
	p := NewSentenceParser()

	s, err := p.Parse(line(TypeSample, "1", "12.50000", "0.25000", "0.50000"))
	require.NoError(t, err)
	sample, ok := s.(SampleSentence)
	require.True(t, ok)
	assert.Equal(t, int64(1), sample.Module)
	assert.Equal(t, 12.5, sample.Time)
	assert.Equal(t, 0.25, sample.Distance)
	assert.Equal(t, 0.5, sample.Angle)

	s, err = p.Parse(line(TypeStatus, "3", "1.2", "-0.5", "4.0", "1", "2.0"))
	require.NoError(t, err)
	status, ok := s.(StatusSentence)
	require.True(t, ok)
	assert.Equal(t, int64(3), status.Module)
	assert.True(t, status.EncoderOK)
	assert.Equal(t, -0.5, status.Angle)
}

func TestParseRejectsBadChecksumAndFields(t *testing.T) {
	p := NewSentenceParser()
	_, err := p.Parse("$PSWRS,1,12.5,0.25,0.5*00")
	assert.Error(t, err)

	_, err = p.Parse(line(TypeSample, "one", "12.5", "0.25", "0.5"))
	assert.Error(t, err)
}

func TestHandleLineUpdatesModule(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(100, 0))
	b := New(&port{Reader: strings.NewReader("")}, 2, clock)

	require.NoError(t, b.HandleLine(line(TypeSample, "1", "0.010", "0.1", "0.0")))
	clock.Advance(5 * time.Millisecond)
	require.NoError(t, b.HandleLine(line(TypeSample, "1", "0.015", "0.2", "0.1")))
	require.NoError(t, b.HandleLine(line(TypeStatus, "1", "2.0", "0.1", "0.2", "1", "1.5")))

	m := b.Module(1)
	assert.True(t, m.EncoderHealthy())
	assert.Equal(t, 2.0, m.State().Speed)
	assert.InDelta(t, 0.2, m.Position().Distance, 1e-12)

	samples := m.HighFrequencySamples()
	require.Len(t, samples, 2)
	assert.InDelta(t, 100.005, samples[1].Timestamp, 1e-9)
	assert.Equal(t, 0.2, samples[1].Distance)
	assert.Equal(t, geom.FromRadians(0.1), samples[1].Angle)
	assert.Empty(t, m.HighFrequencySamples())
	assert.False(t, b.Module(0).EncoderHealthy())

	assert.Error(t, b.HandleLine(line(TypeSample, "7", "0", "0", "0")))
	assert.Error(t, b.HandleLine("$GPZDA,160012.71,11,03,2004,-1,00*7D"))
}

func TestSampleTimesFollowBusClock(t *testing.T) {
	start := time.Unix(1_700_000_000, 0)
	clock := timeutil.NewMockClock(start)
	b := New(&port{Reader: strings.NewReader("")}, 1, clock)
	t0 := timeutil.Seconds(start)

	// Firmware clock starts at 10 s; frames arrive 3, 1 and 4 ms late.
	arrive := func(after time.Duration, firmware string) {
		clock.Advance(after)
		require.NoError(t, b.HandleLine(line(TypeSample, "0", firmware, "0", "0")))
	}
	arrive(3*time.Millisecond, "10.000")
	arrive(3*time.Millisecond, "10.005")
	arrive(8*time.Millisecond, "10.010")
	// Controller reboot: its clock restarts near zero.
	arrive(6*time.Millisecond, "0.002")

	samples := b.Module(0).HighFrequencySamples()
	require.Len(t, samples, 4)
	assert.InDelta(t, t0+0.003, samples[0].Timestamp, 1e-6)
	assert.InDelta(t, t0+0.006, samples[1].Timestamp, 1e-6)
	assert.InDelta(t, t0+0.011, samples[2].Timestamp, 1e-6)
	assert.InDelta(t, t0+0.020, samples[3].Timestamp, 1e-6)
	for i := 1; i < len(samples); i++ {
		assert.Greater(t, samples[i].Timestamp, samples[i-1].Timestamp)
	}
}

func TestSampleBufferIsBounded(t *testing.T) {
	b := New(&port{Reader: strings.NewReader("")}, 1, nil)
	for i := 0; i < MaxBufferedSamples+10; i++ {
		require.NoError(t, b.HandleLine(line(TypeSample, "0", formatFloat(float64(i)), formatFloat(float64(i)), "0")))
	}
	samples := b.Module(0).HighFrequencySamples()
	require.Len(t, samples, MaxBufferedSamples)
	assert.Equal(t, 10.0, samples[0].Distance)
	assert.Equal(t, uint64(10), b.Stats().Dropped)
}

func TestCommandsAreWritten(t *testing.T) {
	p := &port{Reader: strings.NewReader("")}
	b := New(p, 4, nil)

	b.Module(2).SetCommand(swerve.ModuleState{Speed: 1.5, Angle: geom.FromRadians(-0.25)})
	b.Module(0).ApplyAngleOffset(geom.FromRadians(0.125))
	b.Module(3).Stop()

	want := Encode(TypeCommand, "2", "1.50000", "-0.25000") +
		Encode(TypeOffset, "0", "0.12500") +
		Encode(TypeStop, "3")
	assert.Equal(t, want, p.out.String())
}

func TestWriteErrorsAreCounted(t *testing.T) {
	b := New(failingWriter{strings.NewReader("")}, 1, nil)
	b.Module(0).Stop()
	b.Module(0).Stop()
	assert.Equal(t, uint64(2), b.Stats().WriteErrors)
}

func TestRunReadsUntilEOF(t *testing.T) {
	input := "garbage\r\n" +
		Encode(TypeSample, "0", "1.0", "0.5", "0") +
		"\r\n" +
		"$PSWRS,0,bad*00\r\n" +
		Encode(TypeStatus, "0", "0", "0", "0.5", "1", "0")
	b := New(&port{Reader: strings.NewReader(input)}, 1, nil)

	err := b.Run(context.Background())
	assert.ErrorIs(t, err, io.EOF)

	st := b.Stats()
	assert.Equal(t, uint64(3), st.Lines)
	assert.Equal(t, uint64(1), st.ParseErrors)
	assert.True(t, b.Module(0).EncoderHealthy())
	assert.Len(t, b.Module(0).HighFrequencySamples(), 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	b := New(&closablePipe{PipeReader: r}, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	_, err := io.WriteString(w, Encode(TypeSample, "0", "1.0", "0.5", "0"))
	require.NoError(t, err)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
