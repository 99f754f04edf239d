package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial/enumerator"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/monitoring"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/telemetry"
)

var (
	probesStarted   = monitoring.Counter("transport_probes_started")
	probesSucceeded = monitoring.Counter("transport_probes_succeeded")
)

// chunk is one port.Read result. A terminal read error arrives in the same
// chunk as any bytes read alongside it.
type chunk struct {
	data []byte
	err  error
}

// portReader owns the only goroutine allowed to read from a port. It is
// started at dial time and survives the probe handover, so the probe and
// the steady-state loop consume the same stream and never race for bytes.
type portReader struct {
	port     Porter
	chunks   chan chunk
	stop     chan struct{}
	stopOnce sync.Once
}

func newPortReader(port Porter) *portReader {
	r := &portReader{
		port:   port,
		chunks: make(chan chunk, 1),
		stop:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *portReader) loop() {
	buf := make([]byte, 512)
	for {
		n, err := r.port.Read(buf)
		var data []byte
		if n > 0 {
			data = append([]byte(nil), buf[:n]...)
		}
		select {
		case r.chunks <- chunk{data: data, err: err}:
		case <-r.stop:
			return
		}
		if err != nil {
			return
		}
	}
}

// abandon tells the goroutine nobody is listening anymore. The caller still
// closes the port, which unblocks a Read in flight.
func (r *portReader) abandon() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Connection is a proven rig attachment: the endpoint, its open port, the
// frames decoded while probing and any bytes read past them. The caller
// owns the connection once Probe returns and must Close it when done.
type Connection struct {
	Endpoint Endpoint
	Port     Porter
	Frames   []telemetry.Frame
	Leftover []byte

	reader *portReader
}

// Close releases the port and its reader goroutine.
func (cn *Connection) Close() error {
	cn.reader.abandon()
	return cn.Port.Close()
}

// ConnectorConfig carries the knobs for building a Connector. Zero values
// select real enumeration, the system dialer and a 15s probe window.
type ConnectorConfig struct {
	Dialer        Dialer
	PortOptions   PortOptions
	PreferredPort string
	BridgeAddr    string
	ProbeTimeout  time.Duration

	// Candidates overrides enumeration entirely when non-empty. Used by
	// tests and by the simulated rig.
	Candidates []Endpoint

	// Enumerate lists the machine's serial ports. Replaced in tests.
	Enumerate func() ([]*enumerator.PortDetails, error)
}

// Connector finds candidate endpoints and proves them by decoding frames.
type Connector struct {
	dialer       Dialer
	opts         PortOptions
	preferred    string
	bridgeAddr   string
	probeTimeout time.Duration
	static       []Endpoint
	enumerate    func() ([]*enumerator.PortDetails, error)
}

// NewConnector builds a Connector from cfg.
func NewConnector(cfg ConnectorConfig) *Connector {
	c := &Connector{
		dialer:       cfg.Dialer,
		opts:         cfg.PortOptions,
		preferred:    cfg.PreferredPort,
		bridgeAddr:   cfg.BridgeAddr,
		probeTimeout: cfg.ProbeTimeout,
		static:       cfg.Candidates,
		enumerate:    cfg.Enumerate,
	}
	if c.dialer == nil {
		c.dialer = SystemDialer{}
	}
	if c.probeTimeout <= 0 {
		c.probeTimeout = 15 * time.Second
	}
	if c.enumerate == nil {
		c.enumerate = enumerator.GetDetailedPortsList
	}
	return c
}

// ListCandidates returns the endpoints to probe, in order. Serial devices
// come first, ordered by adapter heuristics; the bridge address, when
// configured, is always last because the WiFi path costs more latency.
// Enumeration failure degrades to the explicitly configured endpoints
// rather than aborting the scan.
func (c *Connector) ListCandidates() []Endpoint {
	if len(c.static) > 0 {
		return append([]Endpoint(nil), c.static...)
	}

	var out []Endpoint
	details, err := c.enumerate()
	if err != nil {
		monitoring.Logf("transport: enumerate serial ports: %v", err)
		if c.preferred != "" {
			out = append(out, Endpoint{Kind: KindSerial, Target: c.preferred})
		}
	} else {
		out = orderSerialCandidates(details, c.preferred)
	}

	if c.bridgeAddr != "" {
		out = append(out, Endpoint{Kind: KindBridge, Target: c.bridgeAddr})
	}
	return out
}

// Probe opens ep and reads until a valid frame proves a rig is talking on
// it, or the probe window expires. On success the caller receives the open
// port together with everything already read, so no bytes are lost in the
// handover to the steady-state read loop.
func (c *Connector) Probe(ctx context.Context, ep Endpoint) (*Connection, error) {
	probesStarted.Add(1)

	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	port, err := c.dialer.Dial(ctx, ep, c.opts)
	if err != nil {
		return nil, err
	}
	r := newPortReader(port)

	fr := telemetry.NewFramer()
	for {
		select {
		case <-ctx.Done():
			r.abandon()
			port.Close()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%s: %w", ep, ErrProbeTimeout)
			}
			return nil, ctx.Err()

		case ck := <-r.chunks:
			if len(ck.data) > 0 {
				if frames := fr.Push(ck.data); len(frames) > 0 {
					probesSucceeded.Add(1)
					return &Connection{
						Endpoint: ep,
						Port:     port,
						Frames:   frames,
						Leftover: fr.Pending(),
						reader:   r,
					}, nil
				}
			}
			if ck.err != nil {
				r.abandon()
				port.Close()
				return nil, fmt.Errorf("probe %s: %w", ep, ck.err)
			}
		}
	}
}
