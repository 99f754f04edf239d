// Package transport finds the rig's byte stream, proves it by decoding a
// frame, and keeps it alive. It abstracts over a directly attached serial
// device and a TCP bridge so the rest of the host never cares which one
// is carrying the frames.
package transport

import (
	"context"
	"fmt"
	"io"
)

var (
	// ErrProbeTimeout reports that a candidate produced no valid frame
	// within the probe window.
	ErrProbeTimeout = fmt.Errorf("probe timed out without a valid frame")

	// ErrPortBusy reports that another process holds the serial port.
	ErrPortBusy = fmt.Errorf("serial port busy")

	// ErrWriteFailed reports a short write to the rig.
	ErrWriteFailed = fmt.Errorf("failed to write to rig")

	// ErrNotConnected reports a command sent while no connection is up.
	ErrNotConnected = fmt.Errorf("not connected to rig")
)

// Porter is the minimal interface for a rig byte stream. Implemented by
// real serial ports, the TCP bridge and test fakes.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// Kind distinguishes the two ways a rig can be attached.
type Kind string

const (
	// KindSerial is a directly attached USB serial device.
	KindSerial Kind = "serial"

	// KindBridge is the rig's WiFi TCP bridge.
	KindBridge Kind = "bridge"

	// KindSim is an in-process simulated rig.
	KindSim Kind = "sim"
)

// Endpoint names one place a rig might be reachable: a serial device
// path or a bridge host:port.
type Endpoint struct {
	Kind   Kind   `json:"kind"`
	Target string `json:"target"`
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%s", e.Kind, e.Target)
}

// Dialer opens the byte stream behind an endpoint. This abstraction
// enables dependency injection of port creation for tests and for the
// simulated rig.
type Dialer interface {
	Dial(ctx context.Context, ep Endpoint, opts PortOptions) (Porter, error)
}
