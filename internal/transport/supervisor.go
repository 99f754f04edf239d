package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/events"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/monitoring"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/telemetry"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/timeutil"
)

// State names one phase of the connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateScanning     State = "scanning"
	StateProbing      State = "probing"
	StateConnected    State = "connected"
	StateErrorBackoff State = "error-backoff"
)

// Sink receives decoded frames from the active connection.
type Sink interface {
	HandleFrame(ep Endpoint, f telemetry.Frame)
}

// FanoutSink delivers each frame to every member in order. Used to feed
// the decision engine and the journal from one read loop.
type FanoutSink []Sink

func (fs FanoutSink) HandleFrame(ep Endpoint, f telemetry.Frame) {
	for _, s := range fs {
		s.HandleFrame(ep, f)
	}
}

// SupervisorConfig carries the collaborators for a Supervisor. Clock and
// RetryDelay default to the real clock and 5s.
type SupervisorConfig struct {
	Connector  *Connector
	Sink       Sink
	Bus        *events.Bus
	Clock      timeutil.Clock
	RetryDelay time.Duration
}

// Supervisor owns the connection lifecycle: it scans for candidates,
// probes them in order, runs the read loop while connected and backs off
// after a sweep that proves nothing. All state transitions are published
// on the event bus.
type Supervisor struct {
	connector  *Connector
	sink       Sink
	bus        *events.Bus
	clock      timeutil.Clock
	retryDelay time.Duration

	mu      sync.Mutex
	state   State
	current Endpoint
	port    Porter

	commandMu sync.Mutex

	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	stopOnce sync.Once
}

// NewSupervisor builds a Supervisor from cfg.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	s := &Supervisor{
		connector:  cfg.Connector,
		sink:       cfg.Sink,
		bus:        cfg.Bus,
		clock:      cfg.Clock,
		retryDelay: cfg.RetryDelay,
		state:      StateDisconnected,
		done:       make(chan struct{}),
	}
	if s.clock == nil {
		s.clock = timeutil.RealClock{}
	}
	if s.retryDelay <= 0 {
		s.retryDelay = 5 * time.Second
	}
	return s
}

// Start launches the supervisor loop. It returns immediately. Calling
// Start more than once has no effect.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop shuts the loop down, closes any active connection and waits for
// the loop to exit. Safe to call more than once.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		started := s.started
		cancel := s.cancel
		s.mu.Unlock()
		if !started {
			return
		}
		cancel()
		<-s.done
	})
}

// State reports the current connection state and, when probing or
// connected, the endpoint involved.
func (s *Supervisor) State() (State, Endpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.current
}

// ConnectedKind reports the kind of the active endpoint, used to pick
// collection timeouts. The second return is false when not connected.
func (s *Supervisor) ConnectedKind() (Kind, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return "", false
	}
	return s.current.Kind, true
}

// SendCommand writes a newline-terminated command to the rig. Commands
// are serialised so concurrent callers cannot interleave bytes.
func (s *Supervisor) SendCommand(command string) error {
	s.mu.Lock()
	port := s.port
	s.mu.Unlock()
	if port == nil {
		return ErrNotConnected
	}

	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := port.Write([]byte(command))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if n != len(command) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrWriteFailed, n, len(command))
	}
	return nil
}

func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	defer s.setState(StateDisconnected, Endpoint{})

	for {
		if ctx.Err() != nil {
			return
		}

		s.setState(StateScanning, Endpoint{})
		conn := s.scan(ctx)
		if conn == nil {
			if ctx.Err() != nil {
				return
			}
			s.setState(StateErrorBackoff, Endpoint{})
			t := s.clock.NewTimer(s.retryDelay)
			select {
			case <-t.C():
			case <-ctx.Done():
				t.Stop()
				return
			}
			continue
		}

		s.attach(conn.Port)
		s.setState(StateConnected, conn.Endpoint)
		for _, f := range conn.Frames {
			s.sink.HandleFrame(conn.Endpoint, f)
		}

		err := s.readLoop(ctx, conn)
		s.detach()
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		monitoring.Logf("transport: connection to %s lost: %v", conn.Endpoint, err)
		s.setState(StateDisconnected, Endpoint{})
	}
}

// scan probes each candidate in order and returns the first connection
// that proves itself, or nil when the sweep is exhausted.
func (s *Supervisor) scan(ctx context.Context) *Connection {
	for _, ep := range s.connector.ListCandidates() {
		if ctx.Err() != nil {
			return nil
		}
		s.setState(StateProbing, ep)
		conn, err := s.connector.Probe(ctx, ep)
		if err != nil {
			monitoring.Logf("transport: probe %s: %v", ep, err)
			continue
		}
		return conn
	}
	return nil
}

// readLoop feeds the connection's bytes through a framer and hands every
// decoded frame to the sink. It returns when the port errors or the
// context is cancelled. The connection's reader goroutine, started when
// the port was dialled, keeps supplying chunks across the handover.
func (s *Supervisor) readLoop(ctx context.Context, conn *Connection) error {
	fr := telemetry.NewFramer()
	for _, f := range fr.Push(conn.Leftover) {
		s.sink.HandleFrame(conn.Endpoint, f)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ck := <-conn.reader.chunks:
			for _, f := range fr.Push(ck.data) {
				s.sink.HandleFrame(conn.Endpoint, f)
			}
			if ck.err != nil {
				return ck.err
			}
		}
	}
}

func (s *Supervisor) attach(port Porter) {
	s.mu.Lock()
	s.port = port
	s.mu.Unlock()
}

func (s *Supervisor) detach() {
	s.mu.Lock()
	s.port = nil
	s.mu.Unlock()
}

func (s *Supervisor) setState(state State, ep Endpoint) {
	s.mu.Lock()
	if s.state == state && s.current == ep {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.current = ep
	s.mu.Unlock()

	if ep.Target != "" {
		monitoring.Logf("transport: %s %s", state, ep)
	} else {
		monitoring.Logf("transport: %s", state)
	}
	if s.bus != nil {
		s.bus.Publish(events.Event{
			Kind:    events.KindConnectionStatus,
			Time:    s.clock.Now(),
			Channel: events.NoChannel,
			Status:  string(state),
			Detail:  ep.Target,
		})
	}
}
