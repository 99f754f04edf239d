package store

import (
	"context"
	"testing"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/timeutil"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/transport"
)

func waitForCount(t *testing.T, query func() (int, error), want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := query()
		if err != nil {
			t.Fatalf("count query failed: %v", err)
		}
		if got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := query()
	t.Fatalf("count = %d, want %d", got, want)
}

func TestFrameJournalRecordsFrames(t *testing.T) {
	st := newTestStore(t)

	now := time.UnixMilli(1700000000000)
	run, err := st.StartRun(now, "serial:/dev/ttyUSB0", "hardware")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	clock := timeutil.NewMockClock(now)
	journal := NewFrameJournal(st, clock)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan struct{})
	go func() {
		defer close(done)
		journal.Run(ctx)
	}()

	ep := transport.Endpoint{Kind: transport.KindSerial, Target: "/dev/ttyUSB0"}
	journal.HandleFrame(ep, testFrame(1000))
	journal.HandleFrame(ep, testFrame(1300))

	waitForCount(t, st.FrameCount, 2)

	frames, err := st.FramesForRun(run.RunID)
	if err != nil {
		t.Fatalf("FramesForRun failed: %v", err)
	}
	if frames[0].Device != "serial:/dev/ttyUSB0" {
		t.Errorf("device = %q, want serial:/dev/ttyUSB0", frames[0].Device)
	}
	if !frames[0].RecvTime.Equal(now) {
		t.Errorf("recv time = %v, want %v", frames[0].RecvTime, now)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("journal run loop did not stop")
	}
}

func TestFrameJournalDropsWhenWriterStalled(t *testing.T) {
	st := newTestStore(t)
	now := time.UnixMilli(1700000000000)
	if _, err := st.StartRun(now, "serial:/dev/ttyUSB0", "hardware"); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	// No Run goroutine: the queue fills and the overflow is counted as
	// dropped instead of blocking the caller.
	journal := NewFrameJournal(st, timeutil.NewMockClock(now))

	before := framesDropped.Value()
	ep := transport.Endpoint{Kind: transport.KindSerial, Target: "/dev/ttyUSB0"}
	for i := 0; i < frameQueueDepth+5; i++ {
		journal.HandleFrame(ep, testFrame(uint32(1000+i)))
	}

	if got := framesDropped.Value() - before; got != 5 {
		t.Errorf("dropped %d frames, want 5", got)
	}
}

func TestEventJournalSkipsReadingEvents(t *testing.T) {
	st := newTestStore(t)

	now := time.UnixMilli(1700000000000)
	run, err := st.StartRun(now, "serial:/dev/ttyUSB0", "hardware")
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	journal := NewEventJournal(st, bus)

	// Published before Run starts: buffered by the subscription.
	bus.Publish(events.Event{Kind: events.KindChannelReading, Time: now, Channel: 0, DistanceMm: 420})
	bus.Publish(events.Event{Kind: events.KindChannelLocked, Time: now.Add(time.Second), Channel: 0, DistanceMm: 420})
	bus.Publish(events.Event{Kind: events.KindConnectionStatus, Time: now.Add(2 * time.Second), Channel: events.NoChannel, Status: "connected", Detail: "/dev/ttyUSB0"})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go journal.Run(ctx)

	eventRows := func() (int, error) {
		evs, err := st.EventsForRun(run.RunID)
		return len(evs), err
	}
	waitForCount(t, eventRows, 2)

	evs, err := st.EventsForRun(run.RunID)
	if err != nil {
		t.Fatalf("EventsForRun failed: %v", err)
	}
	for _, ev := range evs {
		if ev.Kind == string(events.KindChannelReading) {
			t.Error("reading event was journalled")
		}
	}
	if evs[0].Kind != string(events.KindChannelLocked) {
		t.Errorf("first journalled kind = %s, want %s", evs[0].Kind, events.KindChannelLocked)
	}
	if evs[1].Status != "connected" {
		t.Errorf("second journalled status = %q, want connected", evs[1].Status)
	}
}

func TestEventJournalStopsWhenBusCloses(t *testing.T) {
	st := newTestStore(t)
	now := time.UnixMilli(1700000000000)
	if _, err := st.StartRun(now, "serial:/dev/ttyUSB0", "hardware"); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	bus := events.NewBus()
	journal := NewEventJournal(st, bus)

	done := make(chan struct{})
	go func() {
		defer close(done)
		journal.Run(context.Background())
	}()

	bus.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("journal did not stop when the bus closed")
	}
}
