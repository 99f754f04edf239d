package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/telemetry"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/testutil"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/timeutil"
)

// collectSink records every frame the supervisor delivers.
type collectSink struct {
	mu     sync.Mutex
	frames []telemetry.Frame
}

func (s *collectSink) HandleFrame(_ Endpoint, f telemetry.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *collectSink) lastTimestamp() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return 0
	}
	return s.frames[len(s.frames)-1].Timestamp
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func testEndpoint() Endpoint {
	return Endpoint{Kind: KindSerial, Target: "/dev/ttyUSB0"}
}

func newTestSupervisor(dialer *FakeDialer, sink Sink, bus *events.Bus, clock timeutil.Clock) *Supervisor {
	connector := NewConnector(ConnectorConfig{
		Dialer:       dialer,
		ProbeTimeout: time.Second,
		Candidates:   []Endpoint{testEndpoint()},
	})
	return NewSupervisor(SupervisorConfig{
		Connector:  connector,
		Sink:       sink,
		Bus:        bus,
		Clock:      clock,
		RetryDelay: 5 * time.Second,
	})
}

func TestSupervisorConnectsAndDelivers(t *testing.T) {
	first := testutil.ValidFrameBytes(1000, 400)
	second := testutil.ValidFrameBytes(1300, 410)

	port := NewFakePort()
	// The probe sees a whole frame plus the front half of the next one;
	// the tail arrives after the handover to the read loop.
	port.AddReadData(append(append([]byte(nil), first...), second[:12]...))

	dialer := NewFakeDialer()
	dialer.AddPort(testEndpoint().Target, port)

	sink := &collectSink{}
	sup := newTestSupervisor(dialer, sink, nil, nil)
	sup.Start(context.Background())
	defer sup.Stop()

	waitFor(t, 2*time.Second, func() bool { return sink.count() == 1 }, "probe frame never delivered")

	port.AddReadData(second[12:])
	waitFor(t, 2*time.Second, func() bool { return sink.count() == 2 }, "split frame never delivered")

	if ts := sink.lastTimestamp(); ts != 1300 {
		t.Errorf("last frame timestamp = %d, want 1300", ts)
	}

	state, ep := sup.State()
	if state != StateConnected {
		t.Errorf("state = %s, want %s", state, StateConnected)
	}
	if ep != testEndpoint() {
		t.Errorf("endpoint = %v, want %v", ep, testEndpoint())
	}
	if kind, ok := sup.ConnectedKind(); !ok || kind != KindSerial {
		t.Errorf("ConnectedKind = %v, %v, want serial, true", kind, ok)
	}

	sup.Stop()
	if !port.IsClosed() {
		t.Error("Stop left the port open")
	}
	if state, _ := sup.State(); state != StateDisconnected {
		t.Errorf("state after Stop = %s, want %s", state, StateDisconnected)
	}
	if _, ok := sup.ConnectedKind(); ok {
		t.Error("ConnectedKind reports connected after Stop")
	}
}

func TestSupervisorReconnectsAfterPortFailure(t *testing.T) {
	port1 := NewFakePort()
	port1.AddReadData(testutil.ValidFrameBytes(1000, 400))
	port2 := NewFakePort()
	port2.AddReadData(testutil.ValidFrameBytes(2000, 500))

	dialer := NewFakeDialer()
	dialer.AddPort(testEndpoint().Target, port1)
	dialer.AddPort(testEndpoint().Target, port2)

	sink := &collectSink{}
	sup := newTestSupervisor(dialer, sink, nil, nil)
	sup.Start(context.Background())
	defer sup.Stop()

	waitFor(t, 2*time.Second, func() bool { return sink.count() == 1 }, "first connection never delivered")

	port1.FailNextRead(errors.New("device unplugged"))

	waitFor(t, 2*time.Second, func() bool { return sink.count() == 2 }, "never reconnected after read failure")

	if !port1.IsClosed() {
		t.Error("failed port left open")
	}
	if ts := sink.lastTimestamp(); ts != 2000 {
		t.Errorf("last frame timestamp = %d, want 2000 from the second port", ts)
	}
	if calls := dialer.Calls(); len(calls) < 2 {
		t.Errorf("dial calls = %d, want at least 2", len(calls))
	}
}

func TestSupervisorBacksOffAfterFailedSweep(t *testing.T) {
	dialer := NewFakeDialer() // no port registered, every dial fails

	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	sink := &collectSink{}
	sup := newTestSupervisor(dialer, sink, nil, clock)
	sup.Start(context.Background())
	defer sup.Stop()

	waitFor(t, 2*time.Second, func() bool {
		state, _ := sup.State()
		return state == StateErrorBackoff
	}, "never entered backoff after a failed sweep")

	// Mock time is frozen, so no rescan may happen on its own.
	baseline := len(dialer.Calls())
	time.Sleep(30 * time.Millisecond)
	if got := len(dialer.Calls()); got != baseline {
		t.Fatalf("dial calls grew from %d to %d while backing off", baseline, got)
	}

	port := NewFakePort()
	port.AddReadData(testutil.ValidFrameBytes(1000, 400))
	dialer.AddPort(testEndpoint().Target, port)

	// Advancing past the retry delay releases the next sweep. The advance
	// sits inside the poll because the timer is armed asynchronously.
	waitFor(t, 2*time.Second, func() bool {
		clock.Advance(6 * time.Second)
		state, _ := sup.State()
		return state == StateConnected
	}, "never reconnected once the retry delay elapsed")

	waitFor(t, 2*time.Second, func() bool { return sink.count() == 1 }, "frame never delivered after recovery")
}

func TestSupervisorPublishesStatusEvents(t *testing.T) {
	port := NewFakePort()
	port.AddReadData(testutil.ValidFrameBytes(1000, 400))

	dialer := NewFakeDialer()
	dialer.AddPort(testEndpoint().Target, port)

	bus := events.NewBus()
	defer bus.Close()
	_, ch := bus.Subscribe()

	sup := newTestSupervisor(dialer, &collectSink{}, bus, nil)
	sup.Start(context.Background())

	next := func() events.Event {
		t.Helper()
		select {
		case ev := <-ch:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a status event")
			return events.Event{}
		}
	}

	wantStatus := []string{"scanning", "probing", "connected"}
	for _, status := range wantStatus {
		ev := next()
		if ev.Kind != events.KindConnectionStatus {
			t.Fatalf("event kind = %s, want %s", ev.Kind, events.KindConnectionStatus)
		}
		if ev.Status != status {
			t.Fatalf("status = %q, want %q", ev.Status, status)
		}
		if ev.Channel != events.NoChannel {
			t.Errorf("status event carries channel %d", ev.Channel)
		}
		if status != "scanning" && ev.Detail != testEndpoint().Target {
			t.Errorf("%s event detail = %q, want %q", status, ev.Detail, testEndpoint().Target)
		}
	}

	sup.Stop()
	if ev := next(); ev.Status != "disconnected" {
		t.Errorf("status after Stop = %q, want disconnected", ev.Status)
	}
}

func TestSupervisorStopIdempotent(t *testing.T) {
	connector := NewConnector(ConnectorConfig{
		Dialer: NewFakeDialer(),
		Enumerate: func() ([]*enumerator.PortDetails, error) {
			return nil, nil
		},
	})
	clock := timeutil.NewMockClock(time.Unix(1700000000, 0))
	sup := NewSupervisor(SupervisorConfig{
		Connector: connector,
		Sink:      &collectSink{},
		Clock:     clock,
	})
	sup.Start(context.Background())

	waitFor(t, 2*time.Second, func() bool {
		state, _ := sup.State()
		return state == StateErrorBackoff
	}, "empty candidate list should park in backoff")

	sup.Stop()
	sup.Stop() // second call returns without blocking
}

func TestSupervisorStopWithoutStart(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{
		Connector: NewConnector(ConnectorConfig{Dialer: NewFakeDialer()}),
		Sink:      &collectSink{},
	})
	sup.Stop() // must not hang waiting for a loop that never ran
}

func TestSupervisorSendCommand(t *testing.T) {
	port := NewFakePort()
	port.AddReadData(testutil.ValidFrameBytes(1000, 400))

	dialer := NewFakeDialer()
	dialer.AddPort(testEndpoint().Target, port)

	sup := newTestSupervisor(dialer, &collectSink{}, nil, nil)
	sup.Start(context.Background())
	defer sup.Stop()

	waitFor(t, 2*time.Second, func() bool {
		state, _ := sup.State()
		return state == StateConnected
	}, "never connected")

	if err := sup.SendCommand("MEASURE:3"); err != nil {
		t.Fatalf("SendCommand returned error: %v", err)
	}
	if err := sup.SendCommand("RESET\n"); err != nil {
		t.Fatalf("SendCommand returned error: %v", err)
	}
	if got := string(port.GetWrittenData()); got != "MEASURE:3\nRESET\n" {
		t.Errorf("written data = %q, want %q", got, "MEASURE:3\nRESET\n")
	}

	port.FailNextWrite(errors.New("broken pipe"))
	if err := sup.SendCommand("MEASURE:0"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("err = %v, want ErrWriteFailed", err)
	}

	sup.Stop()
	if err := sup.SendCommand("MEASURE:1"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err after Stop = %v, want ErrNotConnected", err)
	}
}

func TestSupervisorSendCommandBeforeStart(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{
		Connector: NewConnector(ConnectorConfig{Dialer: NewFakeDialer()}),
		Sink:      &collectSink{},
	})
	if err := sup.SendCommand("RESET"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestFanoutSinkDeliversInOrder(t *testing.T) {
	first := &collectSink{}
	second := &collectSink{}
	fanout := FanoutSink{first, second}

	f := telemetry.Frame{Timestamp: 1000, MinDirection: 0, MinDistance: 400}
	fanout.HandleFrame(testEndpoint(), f)
	fanout.HandleFrame(testEndpoint(), telemetry.Frame{Timestamp: 1300, MinDirection: 0, MinDistance: 410})

	if first.count() != 2 || second.count() != 2 {
		t.Fatalf("got %d/%d frames, want 2/2", first.count(), second.count())
	}
	if first.lastTimestamp() != 1300 || second.lastTimestamp() != 1300 {
		t.Errorf("last timestamps = %d/%d, want 1300/1300", first.lastTimestamp(), second.lastTimestamp())
	}
}
