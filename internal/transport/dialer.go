package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.bug.st/serial"
)

// SystemDialer opens real connections: go.bug.st/serial for attached
// devices and a TCP dial for the bridge.
type SystemDialer struct{}

func (SystemDialer) Dial(ctx context.Context, ep Endpoint, opts PortOptions) (Porter, error) {
	switch ep.Kind {
	case KindSerial:
		return dialSerial(ep.Target, opts)
	case KindBridge:
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", ep.Target)
		if err != nil {
			return nil, fmt.Errorf("dial bridge %s: %w", ep.Target, err)
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("cannot dial endpoint kind %q", ep.Kind)
	}
}

func dialSerial(path string, opts PortOptions) (Porter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		var portErr *serial.PortError
		if errors.As(err, &portErr) && portErr.Code() == serial.PortBusy {
			return nil, fmt.Errorf("open %s: %w", path, ErrPortBusy)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}
