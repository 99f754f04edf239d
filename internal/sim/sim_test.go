package sim

import (
	"context"
	"testing"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/telemetry"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/transport"
)

// readFrames pulls want frames out of the rig's byte stream through the
// real framer.
func readFrames(t *testing.T, r *Rig, want int) []telemetry.Frame {
	t.Helper()
	fr := telemetry.NewFramer()
	var out []telemetry.Frame
	buf := make([]byte, 256)
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < want {
		if time.Now().After(deadline) {
			t.Fatalf("got %d frames, want %d before deadline", len(out), want)
		}
		n, err := r.Read(buf)
		if err != nil {
			t.Fatalf("read failed after %d frames: %v", len(out), err)
		}
		out = append(out, fr.Push(buf[:n])...)
	}
	return out
}

func TestRigStreamsWellFormedFrames(t *testing.T) {
	r := NewRig(Config{Interval: 2 * time.Millisecond, Seed: 1})
	defer r.Close()

	frames := readFrames(t, r, 3)

	var lastTs uint32
	for i, f := range frames {
		if f.Timestamp <= lastTs {
			t.Errorf("frame %d: timestamp %d did not advance past %d", i, f.Timestamp, lastTs)
		}
		lastTs = f.Timestamp

		if f.MinDirection != 0 {
			t.Errorf("frame %d: got min direction %d, want walk start 0", i, f.MinDirection)
		}
		if d := int(f.Distances[0]); d < 414 || d > 665 {
			t.Errorf("frame %d: target distance %d outside scripted band", i, d)
		}
		if f.MinDistance != f.Distances[0] {
			t.Errorf("frame %d: min distance %d does not match target %d", i, f.MinDistance, f.Distances[0])
		}
		for ch := 1; ch < telemetry.DistanceCount; ch++ {
			d := int(f.Distances[ch])
			if d != 0 && (d < 850 || d > 1900) {
				t.Errorf("frame %d: background channel %d reads %d outside band", i, ch, d)
			}
		}
	}
}

func TestWalkAdvancesThroughChannels(t *testing.T) {
	r := NewRig(Config{Interval: 2 * time.Millisecond, HoldFrames: 2, Seed: 1})
	defer r.Close()

	frames := readFrames(t, r, 6)

	want := []uint8{0, 0, 1, 1, 2, 2}
	for i, f := range frames {
		if f.MinDirection != want[i] {
			t.Errorf("frame %d: got min direction %d, want %d", i, f.MinDirection, want[i])
		}
	}
}

func TestMeasureCommandFocusesChannel(t *testing.T) {
	r := NewRig(Config{Interval: 2 * time.Millisecond, HoldFrames: 50, MeasureFrames: 2, Seed: 1})
	defer r.Close()

	readFrames(t, r, 1)

	if _, err := r.Write([]byte("MEASURE:5\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	frames := readFrames(t, r, 8)
	sawFocus := -1
	sawResume := -1
	for i, f := range frames {
		switch f.MinDirection {
		case 5:
			if sawFocus < 0 {
				sawFocus = i
			}
		case 1:
			if sawResume < 0 {
				sawResume = i
			}
		case 0:
		default:
			t.Errorf("frame %d: unexpected min direction %d", i, f.MinDirection)
		}
	}
	if sawFocus < 0 {
		t.Fatal("MEASURE:5 never focused channel 5")
	}
	if sawResume < 0 || sawResume < sawFocus {
		t.Fatalf("walk never resumed at channel 1 after the focus window (focus at %d, resume at %d)", sawFocus, sawResume)
	}
}

func TestCommandSplitAcrossWrites(t *testing.T) {
	r := NewRig(Config{Interval: 2 * time.Millisecond, HoldFrames: 50, MeasureFrames: 4, Seed: 1})
	defer r.Close()

	if _, err := r.Write([]byte("MEAS")); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if _, err := r.Write([]byte("URE:3\n")); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	frames := readFrames(t, r, 6)
	found := false
	for _, f := range frames {
		if f.MinDirection == 3 {
			found = true
			break
		}
	}
	if !found {
		t.Error("command split across writes never focused channel 3")
	}
}

func TestResetRestartsWalk(t *testing.T) {
	r := NewRig(Config{Interval: 2 * time.Millisecond, HoldFrames: 2, Seed: 1})
	defer r.Close()

	// Let the walk move past channel 0 first.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatal("walk never reached channel 1")
		}
		if f := readFrames(t, r, 1)[0]; f.MinDirection == 1 {
			break
		}
	}

	if _, err := r.Write([]byte("RESET\n")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	// The wrap back to channel 0 takes a dozen frames at this hold; seeing
	// it within a few frames means the reset did it.
	frames := readFrames(t, r, 5)
	found := false
	for _, f := range frames {
		if f.MinDirection == 0 {
			found = true
			break
		}
	}
	if !found {
		t.Error("walk did not restart at channel 0 after RESET")
	}
}

func TestMalformedCommandsIgnored(t *testing.T) {
	r := NewRig(Config{Interval: 2 * time.Millisecond, HoldFrames: 50, Seed: 1})
	defer r.Close()

	for _, cmd := range []string{"BOGUS\n", "MEASURE:99\n", "MEASURE:abc\n", "\n"} {
		n, err := r.Write([]byte(cmd))
		if err != nil {
			t.Fatalf("write %q failed: %v", cmd, err)
		}
		if n != len(cmd) {
			t.Errorf("write %q: got n=%d, want %d", cmd, n, len(cmd))
		}
	}

	// The walk is unaffected: channel 0 is still the minimum.
	for i, f := range readFrames(t, r, 3) {
		if f.MinDirection != 0 {
			t.Errorf("frame %d: got min direction %d after ignored commands, want 0", i, f.MinDirection)
		}
	}
}

func TestCloseUnblocksReadAndFailsWrite(t *testing.T) {
	r := NewRig(Config{Interval: time.Hour, Seed: 1})

	if err := r.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	buf := make([]byte, 64)
	if _, err := r.Read(buf); err == nil {
		t.Error("expected read to fail after close")
	}
	if _, err := r.Write([]byte("RESET\n")); err == nil {
		t.Error("expected write to fail after close")
	}
}

func TestDialer(t *testing.T) {
	d := NewDialer(Config{Interval: 2 * time.Millisecond, Seed: 1})

	port, err := d.Dial(context.Background(), Endpoint(), transport.PortOptions{})
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer port.Close()

	buf := make([]byte, 64)
	n, err := port.Read(buf)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if n == 0 {
		t.Error("expected frame bytes from the simulated rig")
	}

	if _, err := d.Dial(context.Background(), transport.Endpoint{Kind: transport.KindSerial, Target: "/dev/ttyUSB0"}, transport.PortOptions{}); err == nil {
		t.Error("expected dial of a serial endpoint to fail")
	}
}
