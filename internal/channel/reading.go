package channel

import (
	"fmt"
	"time"
)

// Source records where a reading came from.
type Source string

const (
	SourceHardware  Source = "hardware"
	SourceSimulated Source = "simulated"
	SourceManual    Source = "manual"
)

// Reading is one distance observation for one direction. Readings are
// immutable once constructed; invalid distances are zeroed so a consumer
// that forgets to check Valid sees no plausible number.
type Reading struct {
	Channel     int       `json:"channel"`
	DistanceMm  int       `json:"distance_mm"`
	Valid       bool      `json:"valid"`
	TimestampMs uint32    `json:"timestamp_ms"`
	At          time.Time `json:"at"`
	Source      Source    `json:"source"`
}

// NewReading builds a reading for one direction, normalising the distance.
// A distance is valid iff 0 < distanceMm < maxValidMm; everything outside
// that open range, including exactly maxValidMm, is recorded as invalid.
func NewReading(ch int, distanceMm, maxValidMm int, timestampMs uint32, at time.Time, source Source) Reading {
	r := Reading{
		Channel:     ch,
		TimestampMs: timestampMs,
		At:          at,
		Source:      source,
	}
	if distanceMm > 0 && distanceMm < maxValidMm {
		r.DistanceMm = distanceMm
		r.Valid = true
	}
	return r
}

func (r Reading) String() string {
	if !r.Valid {
		return fmt.Sprintf("ch%d invalid", r.Channel)
	}
	return fmt.Sprintf("ch%d %dmm", r.Channel, r.DistanceMm)
}
