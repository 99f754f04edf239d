// Package telemetry implements the rig's binary wire format: the fixed-size
// telemetry frame and the stream framer that recovers frames from a raw,
// unreliable byte transport.
package telemetry

import (
	"encoding/binary"
	"errors"
	"fmt"
)

/*
Rig telemetry frame (23 bytes, all fields little-endian unsigned):

	├── Timestamp    (4 bytes)  device clock, milliseconds since boot
	├── MinDirection (1 byte)   index of the current minimum channel, 255 = none
	├── MinDistance  (2 bytes)  distance of that channel in mm
	└── Distances    (16 bytes) 8 × u16 per-channel distances in mm

The format carries no preamble and no checksum. Framing therefore relies on
the value-range checks below, and a random 23-byte window can in principle
pass them; the firmware accepts the same false-positive risk, so the host
does too rather than inventing integrity the wire does not provide.
*/

// Frame geometry and validation limits.
const (
	FrameSize      = 23  // total frame length in bytes
	DistanceCount  = 8   // ranging channels per frame
	NoMinDirection = 255 // MinDirection sentinel: no minimum this cycle

	// MaxSaneDistanceMm is the framing-layer sanity cap for MinDistance.
	// It is deliberately looser than the validity cap applied to readings;
	// it only has to reject byte windows that are clearly not frames.
	MaxSaneDistanceMm = 5000
)

// Validation failures reported by DecodeFrame. Frames failing any of these
// are dropped by the framer without further notice.
var (
	ErrFrameSize      = errors.New("telemetry: not a full frame")
	ErrTimestampRange = errors.New("telemetry: timestamp outside valid range")
	ErrDistanceRange  = errors.New("telemetry: minimum distance outside sane range")
)

// Frame is one decoded telemetry record. Frames are value objects:
// constructed per parse attempt, never mutated.
type Frame struct {
	Timestamp    uint32
	MinDirection uint8
	MinDistance  uint16
	Distances    [DistanceCount]uint16
}

// DecodeFrame decodes and validates exactly one frame from b. A frame is
// valid iff b is exactly FrameSize bytes, the timestamp is strictly between
// zero and 0xFFFFFFFF, and MinDistance does not exceed MaxSaneDistanceMm.
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(b), FrameSize)
	}

	var f Frame
	f.Timestamp = binary.LittleEndian.Uint32(b[0:4])
	if f.Timestamp == 0 || f.Timestamp == 0xFFFFFFFF {
		return Frame{}, fmt.Errorf("%w: %d", ErrTimestampRange, f.Timestamp)
	}

	f.MinDirection = b[4]
	f.MinDistance = binary.LittleEndian.Uint16(b[5:7])
	if f.MinDistance > MaxSaneDistanceMm {
		return Frame{}, fmt.Errorf("%w: %d mm", ErrDistanceRange, f.MinDistance)
	}

	for i := 0; i < DistanceCount; i++ {
		f.Distances[i] = binary.LittleEndian.Uint16(b[7+2*i : 9+2*i])
	}
	return f, nil
}

// Encode serializes the frame into a fresh FrameSize-byte slice. Used by the
// simulated rig and by tests; the daemon itself only decodes.
func (f Frame) Encode() []byte {
	b := make([]byte, FrameSize)
	binary.LittleEndian.PutUint32(b[0:4], f.Timestamp)
	b[4] = f.MinDirection
	binary.LittleEndian.PutUint16(b[5:7], f.MinDistance)
	for i, d := range f.Distances {
		binary.LittleEndian.PutUint16(b[7+2*i:9+2*i], d)
	}
	return b
}

// HasMin reports whether the frame names a minimum-distance channel.
func (f Frame) HasMin() bool {
	return f.MinDirection != NoMinDirection && int(f.MinDirection) < DistanceCount
}

func (f Frame) String() string {
	return fmt.Sprintf("frame{ts=%d min=%d@%dmm d=%v}", f.Timestamp, f.MinDirection, f.MinDistance, f.Distances)
}
