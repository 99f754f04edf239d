package lockengine

import (
	"fmt"
	"math/rand"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/channel"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/monitoring"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/timeutil"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/transport"
)

const commandReset = "RESET"

func commandMeasure(ch int) string {
	return fmt.Sprintf("MEASURE:%d", ch)
}

// session is one in-flight confirmation measurement: a single locked
// channel accumulating samples from the live stream until it has enough or
// the deadline passes. At most one session exists at a time.
type session struct {
	channel int
	samples []int
	timer   timeutil.Timer

	// done is closed exactly once, when the session ends for any reason.
	done chan struct{}
}

// StartCollection opens a confirmation session for ch, or, with no rig
// attached, completes the channel immediately from one simulated value.
// A session collects the next sampleCount valid readings for the channel
// and averages them; see Update for the feeding side.
func (e *Engine) StartCollection(ch int) error {
	if !channel.ValidIndex(ch) {
		return ErrUnknownChannel
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock.Now()

	if _, ok := e.connectedKindLocked(); !ok {
		// No hardware to sample. The single-shot path completes the
		// channel directly, bypassing lock and sampling entirely.
		if e.states[ch] == StateCompleted {
			return ErrCompleted
		}
		e.completeChannelLocked(ch, e.simDistance(), "simulated single-shot", now)
		return nil
	}

	switch e.states[ch] {
	case StateCompleted:
		return ErrCompleted
	case StateIdle:
		return ErrNotLocked
	}
	return e.startSessionLocked(ch)
}

// startSessionLocked opens the sampling session for an already locked
// channel. Caller holds e.mu.
func (e *Engine) startSessionLocked(ch int) error {
	if e.session != nil {
		return ErrSessionActive
	}

	timeout := e.timeoutSerial
	if kind, ok := e.connectedKindLocked(); ok && kind == transport.KindBridge {
		timeout = e.timeoutBridge
	}

	sess := &session{
		channel: ch,
		samples: make([]int, 0, e.sampleCount),
		timer:   e.clock.NewTimer(timeout),
		done:    make(chan struct{}),
	}
	e.session = sess
	go e.watchSession(sess)

	monitoring.Logf("engine: collecting %d samples for channel %d (timeout %s)", e.sampleCount, ch, timeout)
	return nil
}

// watchSession waits for the session deadline or its end, whichever comes
// first.
func (e *Engine) watchSession(sess *session) {
	select {
	case <-sess.timer.C():
		e.sessionTimedOut(sess)
	case <-sess.done:
		sess.timer.Stop()
	}
}

func (e *Engine) sessionTimedOut(sess *session) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session != sess {
		return // already completed or reset away
	}
	got := len(sess.samples)
	e.endSessionLocked(sess)
	collectionTimeouts.Add(1)

	// The channel stays Locked with its candidate value on screen; the
	// operator can trigger the confirmation again.
	monitoring.Logf("engine: collection for channel %d timed out with %d of %d samples", sess.channel, got, e.sampleCount)
	e.publish(events.Event{
		Kind:    events.KindCollectionTimeout,
		Time:    e.clock.Now(),
		Channel: sess.channel,
		Status:  "warning",
		Detail:  fmt.Sprintf("collected %d of %d samples", got, e.sampleCount),
	})
}

// feedSessionLocked offers a locked channel's reading to the open session,
// completing the channel once enough samples have arrived. Readings for
// other channels and invalid readings are ignored. Caller holds e.mu.
func (e *Engine) feedSessionLocked(r channel.Reading) {
	sess := e.session
	if sess == nil || sess.channel != r.Channel || !r.Valid {
		return
	}

	sess.samples = append(sess.samples, r.DistanceMm)
	if len(sess.samples) < e.sampleCount {
		return
	}

	avg := roundedAverage(sess.samples)
	e.endSessionLocked(sess)
	e.completeChannelLocked(r.Channel, avg, fmt.Sprintf("average of %d samples", len(sess.samples)), e.clock.Now())
}

// endSessionLocked discards the active session and releases its watcher.
// Caller holds e.mu; safe only for the session currently active.
func (e *Engine) endSessionLocked(sess *session) {
	e.session = nil
	close(sess.done)
}

// CollectionActive reports whether a confirmation session is open and for
// which channel.
func (e *Engine) CollectionActive() (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return 0, false
	}
	return e.session.channel, true
}

func (e *Engine) connectedKindLocked() (transport.Kind, bool) {
	if e.rig == nil {
		return "", false
	}
	return e.rig.ConnectedKind()
}

// roundedAverage is the integer mean rounded half up. Samples are always
// positive distances.
func roundedAverage(samples []int) int {
	sum := 0
	for _, s := range samples {
		sum += s
	}
	return (sum + len(samples)/2) / len(samples)
}

// defaultSimDistance picks a plausible reach distance for the single-shot
// completion path.
func defaultSimDistance() int {
	return 300 + rand.Intn(1200)
}
