// Package uplink forwards completion events to a companion dashboard.
package uplink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/httputil"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/monitoring"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/store"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/timeutil"
)

var (
	eventsForwarded = monitoring.Counter("uplink_events_forwarded")
	eventsDropped   = monitoring.Counter("uplink_events_dropped")
)

const (
	maxAttempts = 3
	retryPause  = 2 * time.Second
)

// Forwarder posts channel-completed and experiment-complete events to a
// companion dashboard. Delivery is best effort: each event gets a few
// tries with a pause in between, then is dropped with a log line. A slow
// or absent companion never stalls the measurement pipeline; at worst
// this subscriber falls behind and the bus drops events for it.
type Forwarder struct {
	client httputil.Client
	bus    *events.Bus
	store  *store.Store
	url    string
	clock  timeutil.Clock
	subID  string
	ch     chan events.Event
}

// NewForwarder creates a forwarder posting to url. It subscribes to the
// bus immediately, so events published before Run starts are buffered
// rather than lost. st may be nil, in which case run_id is sent empty.
// A nil client means a default HTTP client; a nil clock means the real
// clock.
func NewForwarder(client httputil.Client, bus *events.Bus, st *store.Store, url string, clock timeutil.Clock) *Forwarder {
	if client == nil {
		client = httputil.NewStandardClient(nil)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	id, ch := bus.Subscribe()
	return &Forwarder{
		client: client,
		bus:    bus,
		store:  st,
		url:    url,
		clock:  clock,
		subID:  id,
		ch:     ch,
	}
}

// completionReport is the JSON body posted for each forwarded event.
// Channel is -1 for experiment-complete, which concerns the whole rig.
type completionReport struct {
	RunID      string    `json:"run_id"`
	Event      string    `json:"event"`
	Channel    int       `json:"channel"`
	DistanceMm int       `json:"distance_mm"`
	Time       time.Time `json:"time"`
}

// Run forwards events until ctx is cancelled or the bus closes.
func (f *Forwarder) Run(ctx context.Context) {
	defer f.bus.Unsubscribe(f.subID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-f.ch:
			if !ok {
				return
			}
			if ev.Kind != events.KindChannelCompleted && ev.Kind != events.KindExperimentComplete {
				continue
			}
			f.forward(ctx, ev)
		}
	}
}

func (f *Forwarder) report(ev events.Event) completionReport {
	rep := completionReport{
		Event:      string(ev.Kind),
		Channel:    ev.Channel,
		DistanceMm: ev.DistanceMm,
		Time:       ev.Time,
	}
	if f.store != nil {
		if run, ok := f.store.CurrentRun(); ok {
			rep.RunID = run.RunID
		}
	}
	return rep
}

// forward tries to deliver one event, pausing between attempts. After
// maxAttempts failures the event is dropped and the last error logged.
func (f *Forwarder) forward(ctx context.Context, ev events.Event) {
	body, err := json.Marshal(f.report(ev))
	if err != nil {
		eventsDropped.Add(1)
		monitoring.Logf("uplink: dropping %s event: %v", ev.Kind, err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			t := f.clock.NewTimer(retryPause)
			select {
			case <-t.C():
			case <-ctx.Done():
				t.Stop()
				return
			}
		}
		if lastErr = f.post(ctx, body); lastErr == nil {
			eventsForwarded.Add(1)
			return
		}
	}

	eventsDropped.Add(1)
	monitoring.Logf("uplink: dropping %s event after %d attempts: %v", ev.Kind, maxAttempts, lastErr)
}

// post sends one delivery attempt. A fresh request is built per attempt
// so the body can be re-sent after a failure.
func (f *Forwarder) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("companion returned status %d", resp.StatusCode)
	}
	return nil
}
