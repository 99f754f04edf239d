// Package discovery answers LAN probes so dashboards can find the host
// without any configuration beyond being on the same network.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/monitoring"
	"github.com/Designer-Awei/sebt-dashboard-sub000/internal/version"
)

// probePrefix opens every discovery datagram a client sends.
const probePrefix = "SEBT-DISCOVER"

var probesAnswered = monitoring.Counter("discovery_probes_answered")

// Responder answers UDP discovery probes with the host's version and API
// address. Strictly one reply per probe; the responder never broadcasts.
type Responder struct {
	bindAddr string
	apiAddr  string

	conn *net.UDPConn
}

// NewResponder prepares a responder bound to bindAddr (host:port, usually
// just ":18830") that advertises apiAddr as the HTTP listen address.
func NewResponder(bindAddr, apiAddr string) *Responder {
	return &Responder{bindAddr: bindAddr, apiAddr: apiAddr}
}

// Reply is the datagram sent for each valid probe.
func (r *Responder) Reply() string {
	return fmt.Sprintf("SEBT-HOST %s %s", version.Version, r.apiAddr)
}

// Listen binds the UDP socket. Split from Serve so the caller can fail
// fast on a port conflict before starting goroutines.
func (r *Responder) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", r.bindAddr)
	if err != nil {
		return fmt.Errorf("failed to resolve discovery address %q: %w", r.bindAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %q: %w", r.bindAddr, err)
	}
	r.conn = conn
	return nil
}

// Addr reports the bound address. Valid only after Listen.
func (r *Responder) Addr() net.Addr {
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Serve answers probes until ctx is cancelled. The socket is closed on the
// way out.
func (r *Responder) Serve(ctx context.Context) error {
	if r.conn == nil {
		return errors.New("discovery: Serve called before Listen")
	}
	conn := r.conn

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	monitoring.Logf("discovery: answering probes on %s", conn.LocalAddr())

	buffer := make([]byte, 1024)
	for {
		n, peer, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("discovery read: %w", err)
		}

		if !strings.HasPrefix(string(buffer[:n]), probePrefix) {
			continue
		}

		if _, err := conn.WriteToUDP([]byte(r.Reply()), peer); err != nil {
			monitoring.Logf("discovery: reply to %s: %v", peer, err)
			continue
		}
		probesAnswered.Add(1)
	}
}
