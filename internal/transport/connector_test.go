package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.bug.st/serial/enumerator"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/testutil"
)

func TestListCandidatesStaticOverride(t *testing.T) {
	static := []Endpoint{
		{Kind: KindSim, Target: "rig"},
	}
	c := NewConnector(ConnectorConfig{Candidates: static})

	got := c.ListCandidates()
	if diff := cmp.Diff(static, got); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestListCandidatesBridgeLast(t *testing.T) {
	c := NewConnector(ConnectorConfig{
		BridgeAddr: "192.168.4.1:8234",
		Enumerate: func() ([]*enumerator.PortDetails, error) {
			return []*enumerator.PortDetails{
				{Name: "/dev/ttyUSB0", IsUSB: true, VID: "10C4"},
			}, nil
		},
	})

	got := c.ListCandidates()
	want := []Endpoint{
		{Kind: KindSerial, Target: "/dev/ttyUSB0"},
		{Kind: KindBridge, Target: "192.168.4.1:8234"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestListCandidatesEnumerationFailure(t *testing.T) {
	// A broken enumeration still leaves the explicitly configured
	// endpoints probeable.
	c := NewConnector(ConnectorConfig{
		PreferredPort: "/dev/rig",
		BridgeAddr:    "192.168.4.1:8234",
		Enumerate: func() ([]*enumerator.PortDetails, error) {
			return nil, errors.New("udev exploded")
		},
	})

	got := c.ListCandidates()
	want := []Endpoint{
		{Kind: KindSerial, Target: "/dev/rig"},
		{Kind: KindBridge, Target: "192.168.4.1:8234"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("candidates mismatch (-want +got):\n%s", diff)
	}
}

func TestProbeSuccess(t *testing.T) {
	frame := testutil.ValidFrameBytes(1000, 500)
	partial := testutil.ValidFrameBytes(2000, 500)[:10]

	port := NewFakePort()
	port.AddReadData(append(append([]byte(nil), frame...), partial...))

	dialer := NewFakeDialer()
	dialer.AddPort("/dev/ttyUSB0", port)

	c := NewConnector(ConnectorConfig{Dialer: dialer, ProbeTimeout: time.Second})
	ep := Endpoint{Kind: KindSerial, Target: "/dev/ttyUSB0"}

	conn, err := c.Probe(context.Background(), ep)
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if len(conn.Frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(conn.Frames))
	}
	if conn.Frames[0].Timestamp != 1000 {
		t.Errorf("frame timestamp = %d, want 1000", conn.Frames[0].Timestamp)
	}
	if diff := cmp.Diff(partial, conn.Leftover); diff != "" {
		t.Errorf("leftover bytes mismatch (-want +got):\n%s", diff)
	}
	if conn.Endpoint != ep {
		t.Errorf("endpoint = %v, want %v", conn.Endpoint, ep)
	}
	if port.IsClosed() {
		t.Error("successful probe closed the port")
	}

	conn.Close()
	if !port.IsClosed() {
		t.Error("Close left the port open")
	}
}

func TestProbeMultipleFramesInOneChunk(t *testing.T) {
	a := testutil.ValidFrameBytes(1000, 400)
	b := testutil.ValidFrameBytes(1300, 410)

	port := NewFakePort()
	port.AddReadData(append(append([]byte(nil), a...), b...))

	dialer := NewFakeDialer()
	dialer.AddPort("/dev/ttyUSB0", port)

	c := NewConnector(ConnectorConfig{Dialer: dialer, ProbeTimeout: time.Second})

	conn, err := c.Probe(context.Background(), Endpoint{Kind: KindSerial, Target: "/dev/ttyUSB0"})
	if err != nil {
		t.Fatalf("Probe returned error: %v", err)
	}
	if len(conn.Frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(conn.Frames))
	}
	if len(conn.Leftover) != 0 {
		t.Errorf("leftover = %d bytes, want 0", len(conn.Leftover))
	}
	conn.Close()
}

func TestProbeTimeout(t *testing.T) {
	port := NewFakePort() // never produces data

	dialer := NewFakeDialer()
	dialer.AddPort("/dev/ttyUSB0", port)

	c := NewConnector(ConnectorConfig{Dialer: dialer, ProbeTimeout: 50 * time.Millisecond})

	_, err := c.Probe(context.Background(), Endpoint{Kind: KindSerial, Target: "/dev/ttyUSB0"})
	if !errors.Is(err, ErrProbeTimeout) {
		t.Fatalf("err = %v, want ErrProbeTimeout", err)
	}
	if !port.IsClosed() {
		t.Error("failed probe left the port open")
	}
}

func TestProbeGarbageOnlyTimesOut(t *testing.T) {
	port := NewFakePort()
	port.AddReadData(make([]byte, 40)) // zero bytes never decode

	dialer := NewFakeDialer()
	dialer.AddPort("/dev/ttyUSB0", port)

	c := NewConnector(ConnectorConfig{Dialer: dialer, ProbeTimeout: 50 * time.Millisecond})

	_, err := c.Probe(context.Background(), Endpoint{Kind: KindSerial, Target: "/dev/ttyUSB0"})
	if !errors.Is(err, ErrProbeTimeout) {
		t.Fatalf("err = %v, want ErrProbeTimeout", err)
	}
}

func TestProbeDialBusy(t *testing.T) {
	dialer := NewFakeDialer()
	dialer.SetError("/dev/ttyUSB0", fmt.Errorf("open /dev/ttyUSB0: %w", ErrPortBusy))

	c := NewConnector(ConnectorConfig{Dialer: dialer, ProbeTimeout: time.Second})

	_, err := c.Probe(context.Background(), Endpoint{Kind: KindSerial, Target: "/dev/ttyUSB0"})
	if !errors.Is(err, ErrPortBusy) {
		t.Fatalf("err = %v, want ErrPortBusy", err)
	}
}

func TestProbeReadError(t *testing.T) {
	port := NewFakePort()
	port.FailNextRead(errors.New("device unplugged"))

	dialer := NewFakeDialer()
	dialer.AddPort("/dev/ttyUSB0", port)

	c := NewConnector(ConnectorConfig{Dialer: dialer, ProbeTimeout: time.Second})

	_, err := c.Probe(context.Background(), Endpoint{Kind: KindSerial, Target: "/dev/ttyUSB0"})
	if err == nil || errors.Is(err, ErrProbeTimeout) {
		t.Fatalf("err = %v, want read failure", err)
	}
	if !port.IsClosed() {
		t.Error("failed probe left the port open")
	}
}

func TestProbeParentCancellation(t *testing.T) {
	port := NewFakePort()
	dialer := NewFakeDialer()
	dialer.AddPort("/dev/ttyUSB0", port)

	c := NewConnector(ConnectorConfig{Dialer: dialer, ProbeTimeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Probe(ctx, Endpoint{Kind: KindSerial, Target: "/dev/ttyUSB0"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrProbeTimeout) {
		t.Error("shutdown cancellation reported as probe timeout")
	}
}
