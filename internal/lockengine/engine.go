// Package lockengine decides when a ranging channel's minimum distance is
// trustworthy enough to lock, drives the manual confirmation measurement
// that follows, and tracks every channel from Idle through Locked to
// Completed.
//
// The engine consumes one vector of eight readings per telemetry cycle. A
// global hysteresis counter follows the minimum-distance channel among the
// idle ones; holding the minimum for LockRequiredCount consecutive cycles
// locks that channel at its current distance. A locked channel is confirmed
// by averaging a few further readings (see collector.go) and then completed
// for good. Completed channels leave the minimum search until a global
// reset.
package lockengine

import (
	"errors"
	"sync"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/channel"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/monitoring"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/telemetry"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/timeutil"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/transport"
)

var (
	channelsLocked     = monitoring.Counter("engine_channels_locked")
	channelsCompleted  = monitoring.Counter("engine_channels_completed")
	collectionTimeouts = monitoring.Counter("engine_collection_timeouts")
)

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrNotLocked      = errors.New("channel not locked")
	ErrCompleted      = errors.New("channel already completed")
	ErrSessionActive  = errors.New("collection already in progress")
)

// LockState names one phase of a channel's lifecycle.
type LockState string

const (
	StateIdle      LockState = "idle"
	StateLocked    LockState = "locked"
	StateCompleted LockState = "completed"
)

// LockCounter is the global hysteresis state over the minimum-distance
// channel. CurrentMin is -1 until a first candidate is seen.
type LockCounter struct {
	CurrentMin       int       `json:"current_min"`
	ConsecutiveCount int       `json:"consecutive_count"`
	WindowStart      time.Time `json:"window_start"`
}

// ChannelStatus is one channel's externally visible state: identity, phase
// and the distance a renderer should show for it.
type ChannelStatus struct {
	Channel     int       `json:"channel"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	State       LockState `json:"state"`
	DistanceMm  int       `json:"distance_mm"`
	Valid       bool      `json:"valid"`
	LockedMm    int       `json:"locked_mm,omitempty"`
	CompletedMm int       `json:"completed_mm,omitempty"`
}

// Rig is the engine's view of the device link: send a command, and say what
// kind of endpoint is live so collection timeouts can be chosen.
type Rig interface {
	SendCommand(command string) error
	ConnectedKind() (transport.Kind, bool)
}

// Config carries the engine's collaborators and tuning. Zero values select
// the defaults documented on each field.
type Config struct {
	Bus   *events.Bus
	Table *channel.Table
	Clock timeutil.Clock
	Rig   Rig

	// DisableLock starts the engine with automatic locking off. The flag
	// can be flipped at runtime with SetLockEnabled.
	DisableLock bool

	// LockRequiredCount is the consecutive-minimum cycles needed to lock
	// a channel. Default 10.
	LockRequiredCount int

	// MaxValidDistanceMm bounds plausible readings; distances at or above
	// it are invalid. Default 2000.
	MaxValidDistanceMm int

	// SampleCount is how many valid readings a confirmation session
	// averages. Default 3.
	SampleCount int

	// CollectTimeoutSerial and CollectTimeoutBridge bound a confirmation
	// session by endpoint kind. Defaults 5s and 15s.
	CollectTimeoutSerial time.Duration
	CollectTimeoutBridge time.Duration

	// SimDistance generates the distance for the no-hardware single-shot
	// completion path. Default picks a plausible random value.
	SimDistance func() int
}

// Engine owns all lock and completion state. Every mutation funnels through
// the documented transitions under one mutex, so observers always see the
// state between cycles, never mid-cycle.
type Engine struct {
	bus   *events.Bus
	table *channel.Table
	clock timeutil.Clock
	rig   Rig

	simDistance func() int

	mu             sync.Mutex
	states         [channel.Count]LockState
	lockedMm       [channel.Count]int
	completedMm    [channel.Count]int
	counter        LockCounter
	lockEnabled    bool
	lockRequired   int
	maxValidMm     int
	sampleCount    int
	timeoutSerial  time.Duration
	timeoutBridge  time.Duration
	session        *session
	experimentDone bool
}

// NewEngine builds an Engine from cfg. Bus and Rig may be nil (events are
// then dropped and device commands skipped); Table and Clock default to a
// fresh table and the real clock.
func NewEngine(cfg Config) *Engine {
	e := &Engine{
		bus:           cfg.Bus,
		table:         cfg.Table,
		clock:         cfg.Clock,
		rig:           cfg.Rig,
		simDistance:   cfg.SimDistance,
		lockEnabled:   !cfg.DisableLock,
		lockRequired:  cfg.LockRequiredCount,
		maxValidMm:    cfg.MaxValidDistanceMm,
		sampleCount:   cfg.SampleCount,
		timeoutSerial: cfg.CollectTimeoutSerial,
		timeoutBridge: cfg.CollectTimeoutBridge,
	}
	if e.table == nil {
		e.table = channel.NewTable()
	}
	if e.clock == nil {
		e.clock = timeutil.RealClock{}
	}
	if e.simDistance == nil {
		e.simDistance = defaultSimDistance
	}
	if e.lockRequired <= 0 {
		e.lockRequired = 10
	}
	if e.maxValidMm <= 0 {
		e.maxValidMm = 2000
	}
	if e.sampleCount <= 0 {
		e.sampleCount = 3
	}
	if e.timeoutSerial <= 0 {
		e.timeoutSerial = 5 * time.Second
	}
	if e.timeoutBridge <= 0 {
		e.timeoutBridge = 15 * time.Second
	}
	for i := range e.states {
		e.states[i] = StateIdle
	}
	e.counter = LockCounter{CurrentMin: -1}
	return e
}

// HandleFrame converts a telemetry frame into a reading vector and runs one
// engine cycle. It satisfies transport.Sink, so the supervisor's read loop
// feeds the engine directly.
func (e *Engine) HandleFrame(ep transport.Endpoint, f telemetry.Frame) {
	source := channel.SourceHardware
	if ep.Kind == transport.KindSim {
		source = channel.SourceSimulated
	}
	now := e.clock.Now()

	e.mu.Lock()
	maxValid := e.maxValidMm
	e.mu.Unlock()

	readings := make([]channel.Reading, 0, channel.Count)
	for i := 0; i < channel.Count; i++ {
		readings = append(readings, channel.NewReading(i, int(f.Distances[i]), maxValid, f.Timestamp, now, source))
	}
	e.Update(readings)
}

// Update runs one engine cycle over a reading vector: refresh the display
// values of idle channels, feed any open confirmation session, then advance
// the hysteresis counter and lock when it holds long enough. Cycles are
// serialised by the engine mutex, so one is always processed to completion
// before the next begins.
func (e *Engine) Update(readings []channel.Reading) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()

	for _, r := range readings {
		if !channel.ValidIndex(r.Channel) {
			continue
		}
		switch e.states[r.Channel] {
		case StateIdle:
			e.table.Update(r)
			e.publish(events.Event{
				Kind:       events.KindChannelReading,
				Time:       now,
				Channel:    r.Channel,
				DistanceMm: r.DistanceMm,
				Status:     readingStatus(r),
				Detail:     string(r.Source),
			})
		case StateLocked:
			e.feedSessionLocked(r)
		case StateCompleted:
			// Terminal. The value is fixed until a global reset.
		}
	}

	if !e.lockEnabled {
		return
	}

	cand, ok := minIdleReading(readings, e.states[:])
	if !ok {
		// No idle channel produced a valid distance this cycle. The
		// counter keeps its progress; only a change of minimum resets it.
		return
	}

	if cand.Channel != e.counter.CurrentMin {
		e.counter = LockCounter{
			CurrentMin:       cand.Channel,
			ConsecutiveCount: 1,
			WindowStart:      now,
		}
	} else {
		e.counter.ConsecutiveCount++
	}

	if e.counter.ConsecutiveCount >= e.lockRequired {
		e.lockChannelLocked(cand, now)
	}
}

// minIdleReading returns the valid reading with the smallest distance among
// idle channels. Ties go to the lowest channel index.
func minIdleReading(readings []channel.Reading, states []LockState) (channel.Reading, bool) {
	var best channel.Reading
	found := false
	for _, r := range readings {
		if !channel.ValidIndex(r.Channel) || !r.Valid {
			continue
		}
		if states[r.Channel] != StateIdle {
			continue
		}
		if !found || r.DistanceMm < best.DistanceMm {
			best = r
			found = true
		}
	}
	return best, found
}

func readingStatus(r channel.Reading) string {
	if r.Valid {
		return ""
	}
	return "invalid"
}

// lockChannelLocked freezes a channel at its current distance and opens the
// confirmation session. Caller holds e.mu.
func (e *Engine) lockChannelLocked(r channel.Reading, now time.Time) {
	e.states[r.Channel] = StateLocked
	e.lockedMm[r.Channel] = r.DistanceMm
	e.counter.ConsecutiveCount = 0
	channelsLocked.Add(1)

	monitoring.Logf("engine: channel %d locked at %dmm after %d cycles", r.Channel, r.DistanceMm, e.lockRequired)
	e.publish(events.Event{
		Kind:       events.KindChannelLocked,
		Time:       now,
		Channel:    r.Channel,
		DistanceMm: r.DistanceMm,
	})

	if err := e.startSessionLocked(r.Channel); err != nil {
		// The channel stays Locked; the operator can trigger the
		// confirmation again once the blocking session finishes.
		monitoring.Logf("engine: confirmation for channel %d not started: %v", r.Channel, err)
	}
}

// completeChannelLocked moves a locked channel to its terminal state and
// notifies the device. Caller holds e.mu.
func (e *Engine) completeChannelLocked(ch, distanceMm int, detail string, now time.Time) {
	e.states[ch] = StateCompleted
	e.completedMm[ch] = distanceMm
	channelsCompleted.Add(1)

	monitoring.Logf("engine: channel %d completed at %dmm (%s)", ch, distanceMm, detail)
	e.publish(events.Event{
		Kind:       events.KindChannelCompleted,
		Time:       now,
		Channel:    ch,
		DistanceMm: distanceMm,
		Detail:     detail,
	})

	e.sendCommandLocked(commandMeasure(ch))

	if !e.experimentDone && e.allCompletedLocked() {
		e.experimentDone = true
		monitoring.Logf("engine: all channels completed")
		e.publish(events.Event{
			Kind:    events.KindExperimentComplete,
			Time:    now,
			Channel: events.NoChannel,
		})
	}
}

func (e *Engine) allCompletedLocked() bool {
	for _, st := range e.states {
		if st != StateCompleted {
			return false
		}
	}
	return true
}

// Reset returns every channel to Idle, clears the hysteresis counter and
// the latest-value table, cancels any open confirmation session and tells
// the device to clear its own state. The next completed experiment will
// announce itself again.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.states {
		e.states[i] = StateIdle
		e.lockedMm[i] = 0
		e.completedMm[i] = 0
	}
	e.counter = LockCounter{CurrentMin: -1}
	e.experimentDone = false
	if e.session != nil {
		e.endSessionLocked(e.session)
	}
	e.table.Clear()
	e.sendCommandLocked(commandReset)

	monitoring.Logf("engine: reset, all channels idle")
}

// SetLockRequiredCount changes the lock threshold at runtime. The counter
// resets so the new threshold applies from this point forward.
func (e *Engine) SetLockRequiredCount(n int) error {
	if n < 1 {
		return errors.New("lock required count must be at least 1")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lockRequired = n
	e.counter = LockCounter{CurrentMin: -1}
	return nil
}

// SetLockEnabled turns automatic locking on or off. Disabling clears the
// counter; readings keep flowing to the display either way.
func (e *Engine) SetLockEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lockEnabled = enabled
	if !enabled {
		e.counter = LockCounter{CurrentMin: -1}
	}
}

// LockEnabled reports whether automatic locking is on.
func (e *Engine) LockEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lockEnabled
}

// LockRequiredCount returns the current lock threshold.
func (e *Engine) LockRequiredCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lockRequired
}

// Counter returns a snapshot of the hysteresis state.
func (e *Engine) Counter() LockCounter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counter
}

// ExperimentDone reports whether all eight channels have completed since
// the last reset.
func (e *Engine) ExperimentDone() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.experimentDone
}

// Channels returns the renderer's view of all eight channels in index
// order: identity, phase, and the distance to display. Idle channels show
// their latest reading, locked channels their frozen candidate, completed
// channels their confirmed value.
func (e *Engine) Channels() []ChannelStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ChannelStatus, 0, channel.Count)
	for i := 0; i < channel.Count; i++ {
		dir, _ := channel.ByIndex(i)
		cs := ChannelStatus{
			Channel: i,
			Code:    dir.Code,
			Name:    dir.Name,
			State:   e.states[i],
		}
		switch e.states[i] {
		case StateIdle:
			if r, ok := e.table.Latest(i); ok {
				cs.DistanceMm = r.DistanceMm
				cs.Valid = r.Valid
			}
		case StateLocked:
			cs.DistanceMm = e.lockedMm[i]
			cs.Valid = true
			cs.LockedMm = e.lockedMm[i]
		case StateCompleted:
			cs.DistanceMm = e.completedMm[i]
			cs.Valid = true
			cs.LockedMm = e.lockedMm[i]
			cs.CompletedMm = e.completedMm[i]
		}
		out = append(out, cs)
	}
	return out
}

// ChannelState returns the lifecycle phase of one channel.
func (e *Engine) ChannelState(ch int) (LockState, error) {
	if !channel.ValidIndex(ch) {
		return "", ErrUnknownChannel
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[ch], nil
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// sendCommandLocked pushes a command to the rig when one is attached.
// Failures are logged, never fatal: the worst case is the device missing a
// notification it will re-derive from its own stream.
func (e *Engine) sendCommandLocked(command string) {
	if e.rig == nil {
		return
	}
	if _, ok := e.rig.ConnectedKind(); !ok {
		return
	}
	if err := e.rig.SendCommand(command); err != nil {
		monitoring.Logf("engine: send %q: %v", command, err)
	}
}
