// Package sim provides an in-process simulated rig for demo mode and
// development without hardware. The rig speaks the real wire format
// through a transport.Porter, so the framer, connector, supervisor and
// engine all run exactly as they do against a physical device.
package sim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/monitoring"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/telemetry"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/transport"
)

const (
	defaultInterval      = 300 * time.Millisecond
	defaultHoldFrames    = 18
	defaultMeasureFrames = 5
)

// Config tunes the simulated rig. Zero values select the defaults
// documented on each field.
type Config struct {
	// Interval is the frame cadence. Default 300ms, the hardware rate.
	Interval time.Duration

	// HoldFrames is how many consecutive frames each channel in turn is
	// held as the clear minimum. The default comfortably covers the lock
	// threshold plus the confirmation samples that follow it.
	HoldFrames int

	// MeasureFrames is how long a MEASURE command re-focuses its channel
	// before the walk resumes. Default 5 frames, enough for a
	// confirmation session to gather its samples.
	MeasureFrames int

	// Seed seeds the distance generator. Zero means a time-based seed.
	Seed int64
}

// Endpoint returns the endpoint the daemon advertises for the simulated
// rig. Pass it as the connector's only candidate together with a Dialer.
func Endpoint() transport.Endpoint {
	return transport.Endpoint{Kind: transport.KindSim, Target: "rig"}
}

// Dialer hands out simulated rigs.
type Dialer struct {
	cfg Config
}

// NewDialer creates a dialer producing rigs with the given config.
func NewDialer(cfg Config) *Dialer {
	return &Dialer{cfg: cfg}
}

// Dial opens a fresh simulated rig. Only sim endpoints are accepted.
func (d *Dialer) Dial(ctx context.Context, ep transport.Endpoint, opts transport.PortOptions) (transport.Porter, error) {
	if ep.Kind != transport.KindSim {
		return nil, fmt.Errorf("sim dialer cannot open %s", ep)
	}
	return NewRig(d.cfg), nil
}

// Rig is one simulated device. Read streams encoded frames on the
// configured cadence; Write accepts the same newline-terminated commands
// the firmware does. The distance script walks the eight channels in
// index order, holding each one as the clear minimum long enough for the
// host to lock and confirm it, so a demo run sweeps the whole rig
// hands-free.
type Rig struct {
	pr       *io.PipeReader
	pw       *io.PipeWriter
	interval time.Duration
	hold     int
	measure  int

	stop     chan struct{}
	stopOnce sync.Once

	mu         sync.Mutex
	rng        *rand.Rand
	closed     bool
	ticks      uint32
	target     int
	next       int
	holdLeft   int
	targetBase int
	bases      [telemetry.DistanceCount]int
	pending    []byte
}

// NewRig starts a simulated rig. The first frame is emitted immediately,
// so a probe proves the endpoint without waiting out a full tick.
func NewRig(cfg Config) *Rig {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.HoldFrames <= 0 {
		cfg.HoldFrames = defaultHoldFrames
	}
	if cfg.MeasureFrames <= 0 {
		cfg.MeasureFrames = defaultMeasureFrames
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	pr, pw := io.Pipe()
	r := &Rig{
		pr:       pr,
		pw:       pw,
		interval: cfg.Interval,
		hold:     cfg.HoldFrames,
		measure:  cfg.MeasureFrames,
		stop:     make(chan struct{}),
		rng:      rand.New(rand.NewSource(seed)),
	}
	r.mu.Lock()
	r.restartWalkLocked()
	r.mu.Unlock()

	go r.feed()
	return r
}

// Read returns the next chunk of the frame stream.
func (r *Rig) Read(p []byte) (int, error) {
	return r.pr.Read(p)
}

// Write accepts command bytes. Complete lines are handled as they
// arrive; a trailing partial line waits for the rest.
func (r *Rig) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.ErrClosedPipe
	}

	r.pending = append(r.pending, p...)
	for {
		i := bytes.IndexByte(r.pending, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSpace(string(r.pending[:i]))
		r.pending = r.pending[i+1:]
		r.handleCommandLocked(line)
	}
	return len(p), nil
}

// Close stops the frame stream and unblocks any pending Read.
func (r *Rig) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r.pr.Close()
}

func (r *Rig) handleCommandLocked(line string) {
	switch {
	case line == "":

	case line == "RESET":
		monitoring.Logf("sim: reset, walk restarts")
		r.restartWalkLocked()

	case strings.HasPrefix(line, "MEASURE:"):
		n, err := strconv.Atoi(strings.TrimPrefix(line, "MEASURE:"))
		if err != nil || n < 0 || n >= telemetry.DistanceCount {
			monitoring.Logf("sim: ignoring malformed command %q", line)
			return
		}
		r.target = n
		r.holdLeft = r.measure
		r.targetBase = r.rollTargetBaseLocked()

	default:
		monitoring.Logf("sim: ignoring unknown command %q", line)
	}
}

// restartWalkLocked begins the channel walk from the start and re-rolls
// the background distances. The device timestamp keeps running; a reset
// clears measurement state, not the clock.
func (r *Rig) restartWalkLocked() {
	r.target = 0
	r.next = 1
	r.holdLeft = r.hold
	r.targetBase = r.rollTargetBaseLocked()
	for i := range r.bases {
		r.bases[i] = 900 + r.rng.Intn(900)
	}
}

func (r *Rig) rollTargetBaseLocked() int {
	return 420 + r.rng.Intn(240)
}

func (r *Rig) feed() {
	defer r.pw.Close()

	if !r.emit() {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if !r.emit() {
				return
			}
		}
	}
}

// emit writes one encoded frame, reporting false once the pipe is gone.
func (r *Rig) emit() bool {
	f := r.nextFrame()
	_, err := r.pw.Write(f.Encode())
	return err == nil
}

// nextFrame builds the next frame of the script and advances the walk.
func (r *Rig) nextFrame() telemetry.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ticks++
	ms := uint32(r.interval / time.Millisecond)
	if ms == 0 {
		ms = 1
	}

	var f telemetry.Frame
	f.Timestamp = r.ticks * ms
	f.MinDirection = telemetry.NoMinDirection
	minMm := 0
	for i := range f.Distances {
		d := r.distanceForLocked(i)
		f.Distances[i] = uint16(d)
		if d > 0 && (f.MinDirection == telemetry.NoMinDirection || d < minMm) {
			f.MinDirection = uint8(i)
			minMm = d
		}
	}
	if f.MinDirection != telemetry.NoMinDirection {
		f.MinDistance = uint16(minMm)
	}

	r.holdLeft--
	if r.holdLeft <= 0 {
		r.target = r.next
		r.next = (r.next + 1) % telemetry.DistanceCount
		r.holdLeft = r.hold
		r.targetBase = r.rollTargetBaseLocked()
	}
	return f
}

// distanceForLocked generates channel i's distance this frame. The walk
// target reads a steady sub-700mm value with small jitter; every other
// channel hovers in a background band with the occasional dropout
// reading zero.
func (r *Rig) distanceForLocked(i int) int {
	if i == r.target {
		return r.targetBase + r.rng.Intn(13) - 6
	}
	if r.rng.Intn(25) == 0 {
		return 0
	}
	d := r.bases[i] + r.rng.Intn(31) - 15
	if d < 850 {
		d = 850
	}
	if d > 1900 {
		d = 1900
	}
	return d
}
