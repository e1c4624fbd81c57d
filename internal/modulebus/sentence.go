// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package modulebus

import (
	"fmt"
	"strconv"
	"strings"

	nmea "github.com/adrianmo/go-nmea"
)

// Proprietary sentence types, without the leading "P". Angles are in
// radians, distances in meters, speeds in m/s, times in seconds.
const (
	// $PSWRS,<module>,<controller time>,<distance>,<angle>
	// $PSWRS,<module>,<time>,<distance>,<angle>
	TypeSample = "SWRS"
	// $PSWRM,<module>,<speed>,<angle>,<distance>,<encoder ok 0|1>,<absolute angle>
	TypeStatus = "SWRM"
	// $PSWRC,<module>,<speed>,<angle>
	TypeCommand = "SWRC"
	// $PSWRO,<module>,<offset>
	TypeOffset = "SWRO"
	// $PSWRX,<module>
	TypeStop = "SWRX"
)

// SampleSentence is one high-frequency odometry reading.
type SampleSentence struct {
	nmea.BaseSentence
	Module   int64
	Time     float64
	Distance float64
	Angle    float64
}

// StatusSentence is the slow-rate module status.
type StatusSentence struct {
	nmea.BaseSentence
	Module    int64
	Speed     float64
	Angle     float64
	Distance  float64
	EncoderOK bool
	Absolute  float64
}

func parseSample(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	p.AssertType(TypeSample)
	return SampleSentence{
		BaseSentence: s,
		Module:       p.Int64(0, "module"),
		Time:         p.Float64(1, "time"),
		Distance:     p.Float64(2, "distance"),
		Angle:        p.Float64(3, "angle"),
	}, p.Err()
}

func parseStatus(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	p.AssertType(TypeStatus)
	return StatusSentence{
		BaseSentence: s,
		Module:       p.Int64(0, "module"),
		Speed:        p.Float64(1, "speed"),
		Angle:        p.Float64(2, "angle"),
		Distance:     p.Float64(3, "distance"),
		EncoderOK:    p.Int64(4, "encoder ok") != 0,
		Absolute:     p.Float64(5, "absolute angle"),
	}, p.Err()
}

// NewSentenceParser returns a parser that understands the module
// sentences. Standard NMEA sentences still parse as usual.
func NewSentenceParser() *nmea.SentenceParser {
	return &nmea.SentenceParser{
		CustomParsers: map[string]nmea.ParserFunc{
			TypeSample: parseSample,
			TypeStatus: parseStatus,
		},
	}
}

// Encode builds a checksummed proprietary sentence terminated by CRLF.
func Encode(typ string, fields ...string) string {
	body := "P" + typ
	if len(fields) > 0 {
		body += "," + strings.Join(fields, ",")
	}
	return fmt.Sprintf("$%s*%s\r\n", body, nmea.Checksum(body))
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', 5, 64) }

func formatIndex(i int) string { return strconv.Itoa(i) }
