// Package replay feeds a captured relay-bridge session back through the
// frame codec into the journal, so field captures can be debugged offline
// with the same stats and report tooling as a live run.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/monitoring"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/telemetry"
)

// Packet is one captured segment's payload and capture time.
type Packet struct {
	Data []byte
	Time time.Time
}

// Source yields payloads in capture order. Next returns io.EOF when the
// capture is exhausted.
type Source interface {
	Next() (Packet, error)
	Close() error
}

// FrameSink journals decoded frames. *store.Store satisfies it.
type FrameSink interface {
	RecordFrame(recvTime time.Time, device string, f telemetry.Frame) error
}

// Stats summarises one replay.
type Stats struct {
	Packets int
	Bytes   int
	Frames  int
}

// Run drains src through the frame codec into sink, preserving capture
// order and stamping every row with its capture time rather than the
// wall clock. Returns on EOF, on ctx cancellation or on the first sink
// error.
func Run(ctx context.Context, src Source, sink FrameSink, device string) (Stats, error) {
	fr := telemetry.NewFramer()
	var st Stats
	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		pkt, err := src.Next()
		if errors.Is(err, io.EOF) {
			monitoring.Logf("replay: %d packets (%d bytes) replayed, %d frames journalled", st.Packets, st.Bytes, st.Frames)
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("read capture: %w", err)
		}

		st.Packets++
		st.Bytes += len(pkt.Data)
		for _, f := range fr.Push(pkt.Data) {
			if err := sink.RecordFrame(pkt.Time, device, f); err != nil {
				return st, fmt.Errorf("journal frame: %w", err)
			}
			st.Frames++
		}
	}
}

// PcapSource reads TCP payloads out of a classic pcap capture using the
// pure-Go pcapgo reader, so no libpcap is needed to replay a file.
type PcapSource struct {
	f        *os.File
	r        *pcapgo.Reader
	linkType layers.LinkType
	port     int
}

// OpenPcap opens a capture file. When port is non-zero only TCP segments
// sourced from that port are returned, which selects the bridge-to-host
// telemetry direction; zero returns every TCP payload and lets the
// framer discard whatever is not frames.
func OpenPcap(path string, port int) (*PcapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read pcap header of %s: %w", path, err)
	}
	return &PcapSource{f: f, r: r, linkType: r.LinkType(), port: port}, nil
}

// Next returns the next matching TCP payload in capture order.
func (s *PcapSource) Next() (Packet, error) {
	for {
		data, ci, err := s.r.ReadPacketData()
		if err != nil {
			return Packet{}, err
		}

		pkt := gopacket.NewPacket(data, s.linkType, gopacket.Default)
		tcpLayer := pkt.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp, ok := tcpLayer.(*layers.TCP)
		if !ok || len(tcp.Payload) == 0 {
			continue
		}
		if s.port != 0 && int(tcp.SrcPort) != s.port {
			continue
		}
		return Packet{Data: tcp.Payload, Time: ci.Timestamp}, nil
	}
}

// Close releases the underlying file.
func (s *PcapSource) Close() error {
	return s.f.Close()
}

// MemorySource replays canned packets, standing in for a capture file in
// tests.
type MemorySource struct {
	mu      sync.Mutex
	packets []Packet
	idx     int
	closed  bool
}

// NewMemorySource creates a source yielding the given packets in order.
func NewMemorySource(packets ...Packet) *MemorySource {
	return &MemorySource{packets: packets}
}

// Next returns the next canned packet, or io.EOF past the end.
func (s *MemorySource) Next() (Packet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Packet{}, errors.New("source closed")
	}
	if s.idx >= len(s.packets) {
		return Packet{}, io.EOF
	}
	pkt := s.packets[s.idx]
	s.idx++
	return pkt, nil
}

// Close marks the source closed.
func (s *MemorySource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
