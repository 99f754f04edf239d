package store

import (
	"context"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/monitoring"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/telemetry"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/timeutil"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/transport"
)

var (
	framesRecorded = monitoring.Counter("store_frames_recorded")
	framesDropped  = monitoring.Counter("store_frames_dropped")
	eventsRecorded = monitoring.Counter("store_events_recorded")
)

// frameQueueDepth is the number of frames the journal buffers between the
// read loop and the SQLite writer. At the hardware cadence this covers
// roughly twenty seconds of writer stall before frames are lost.
const frameQueueDepth = 64

type frameRecord struct {
	recvTime time.Time
	device   string
	frame    telemetry.Frame
}

// FrameJournal records every decoded frame as a row in the frames table.
// It implements transport.Sink by queueing frames for a writer goroutine,
// so SQLite latency never backpressures the read loop.
type FrameJournal struct {
	store *Store
	clock timeutil.Clock
	queue chan frameRecord
}

// NewFrameJournal creates a frame journal writing into st. A nil clock
// means the real clock.
func NewFrameJournal(st *Store, clock timeutil.Clock) *FrameJournal {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &FrameJournal{
		store: st,
		clock: clock,
		queue: make(chan frameRecord, frameQueueDepth),
	}
}

// HandleFrame queues one frame for journalling. Never blocks: when the
// writer has fallen a full queue behind, the frame is counted as dropped
// instead.
func (j *FrameJournal) HandleFrame(ep transport.Endpoint, f telemetry.Frame) {
	rec := frameRecord{
		recvTime: j.clock.Now(),
		device:   ep.String(),
		frame:    f,
	}
	select {
	case j.queue <- rec:
	default:
		framesDropped.Add(1)
	}
}

// Run drains the queue into the store until ctx is cancelled. Insert
// failures are logged and the frame is lost; the loop keeps going.
func (j *FrameJournal) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-j.queue:
			if err := j.store.RecordFrame(rec.recvTime, rec.device, rec.frame); err != nil {
				monitoring.Logf("journal: dropping frame: %v", err)
				continue
			}
			framesRecorded.Add(1)
		}
	}
}

// EventJournal records bus events as rows in the events table. Per-channel
// reading events are skipped: the frames table already carries every
// distance, and journalling them again would add eight rows per frame for
// no extra information.
type EventJournal struct {
	store *Store
	bus   *events.Bus
	subID string
	ch    chan events.Event
}

// NewEventJournal creates an event journal writing into st. It subscribes
// immediately, so events published before Run starts are buffered rather
// than lost.
func NewEventJournal(st *Store, bus *events.Bus) *EventJournal {
	id, ch := bus.Subscribe()
	return &EventJournal{store: st, bus: bus, subID: id, ch: ch}
}

// Run journals events until ctx is cancelled or the bus closes.
func (j *EventJournal) Run(ctx context.Context) {
	defer j.bus.Unsubscribe(j.subID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-j.ch:
			if !ok {
				return
			}
			if ev.Kind == events.KindChannelReading {
				continue
			}
			if err := j.store.RecordEvent(ev); err != nil {
				monitoring.Logf("journal: dropping %s event: %v", ev.Kind, err)
				continue
			}
			eventsRecorded.Add(1)
		}
	}
}
