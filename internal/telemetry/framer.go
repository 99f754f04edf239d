package telemetry

import (
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/monitoring"
)

var (
	framesParsed  = monitoring.Counter("telemetry_frames_parsed")
	framerResyncs = monitoring.Counter("telemetry_framer_resyncs")
	bytesTrimmed  = monitoring.Counter("telemetry_framer_bytes_trimmed")
)

// Framer recovers frames from an append-only byte stream. It owns an
// internal buffer; the caller appends whatever the transport produced and
// takes back every frame that became decodable.
//
// Recovery scans every candidate offset from the start of the buffer, so the
// earliest plausible frame boundary always wins and the stream self-corrects
// after a corrupted or truncated frame. The scan is O(n*FrameSize) per push;
// at one frame per 300 ms the buffer stays tiny and the simplicity is worth
// more than the throughput. Do not replace this with a magic-byte skip: the
// format has no magic byte, and changing the scan changes which bytes are
// sacrificed on corrupt streams.
//
// Framer is not safe for concurrent use; exactly one goroutine (the
// transport reader) pushes into it.
type Framer struct {
	buf []byte
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{buf: make([]byte, 0, 4*FrameSize)}
}

// Push appends p to the internal buffer and returns all frames that can now
// be decoded, in stream order. It never blocks and never returns a frame
// twice.
//
// If the buffer holds more than 2*FrameSize bytes and no offset decodes, the
// buffer is cut down to its trailing FrameSize bytes. That can discard up to
// one frame's worth of corrupt or unlucky bytes, which is the accepted price
// for bounded memory; the retained tail keeps a partially arrived frame
// recoverable on the next push.
func (fr *Framer) Push(p []byte) []Frame {
	fr.buf = append(fr.buf, p...)

	var frames []Frame
	for {
		if len(fr.buf) < FrameSize {
			break
		}

		found := false
		for off := 0; off+FrameSize <= len(fr.buf); off++ {
			f, err := DecodeFrame(fr.buf[off : off+FrameSize])
			if err != nil {
				continue
			}
			if off > 0 {
				framerResyncs.Add(1)
				bytesTrimmed.Add(int64(off))
			}
			frames = append(frames, f)
			framesParsed.Add(1)
			fr.consume(off + FrameSize)
			found = true
			break
		}

		if !found {
			if len(fr.buf) > 2*FrameSize {
				bytesTrimmed.Add(int64(len(fr.buf) - FrameSize))
				fr.trimToTail()
			}
			break
		}
	}
	return frames
}

// Buffered reports how many bytes are waiting for more input.
func (fr *Framer) Buffered() int {
	return len(fr.buf)
}

// Pending returns a copy of the bytes waiting for more input, so a caller
// handing the stream to another Framer can carry them over.
func (fr *Framer) Pending() []byte {
	if len(fr.buf) == 0 {
		return nil
	}
	return append([]byte(nil), fr.buf...)
}

// Reset discards all buffered bytes. Used when a connection is torn down so
// a stale partial frame never bleeds into the next connection.
func (fr *Framer) Reset() {
	fr.buf = fr.buf[:0]
}

// consume drops the first n bytes, moving the remainder to the front so the
// buffer's backing array never grows past a few frames.
func (fr *Framer) consume(n int) {
	rest := copy(fr.buf, fr.buf[n:])
	fr.buf = fr.buf[:rest]
}

func (fr *Framer) trimToTail() {
	keep := len(fr.buf) - FrameSize
	rest := copy(fr.buf, fr.buf[keep:])
	fr.buf = fr.buf[:rest]
}
