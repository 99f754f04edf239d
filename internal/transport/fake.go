package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
)

// FakePort implements Porter with configurable behaviour for testing.
// Reads block until data arrives, like a real rig stream; use
// FailNextRead to simulate a dying connection.
type FakePort struct {
	mu       sync.Mutex
	readCond *sync.Cond
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	readErr  error
	writeErr error
	closeErr error
	closed   bool
}

// NewFakePort creates an open FakePort with empty buffers.
func NewFakePort() *FakePort {
	p := &FakePort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read returns buffered data, blocking while none is available. It
// returns an error after Close or FailNextRead.
func (p *FakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for !p.closed && p.readErr == nil && p.readBuf.Len() == 0 {
		p.readCond.Wait()
	}
	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.readErr != nil {
		err := p.readErr
		p.readErr = nil
		return 0, err
	}
	return p.readBuf.Read(b)
}

// Write captures data written to the port.
func (p *FakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("port closed")
	}
	if p.writeErr != nil {
		err := p.writeErr
		p.writeErr = nil
		return 0, err
	}
	return p.writeBuf.Write(b)
}

// Close marks the port as closed and wakes any blocked reader.
func (p *FakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	p.readCond.Broadcast()
	return p.closeErr
}

// AddReadData queues data for subsequent Read calls and wakes a blocked
// reader.
func (p *FakePort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readBuf.Write(data)
	p.readCond.Signal()
}

// FailNextRead arranges for the next Read to return err, waking a blocked
// reader.
func (p *FakePort) FailNextRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readErr = err
	p.readCond.Broadcast()
}

// FailNextWrite arranges for the next Write to return err.
func (p *FakePort) FailNextWrite(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.writeErr = err
}

// GetWrittenData returns all data written to the port.
func (p *FakePort) GetWrittenData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]byte(nil), p.writeBuf.Bytes()...)
}

// IsClosed reports whether Close was called.
func (p *FakePort) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

// FakeDialer implements Dialer for testing. Ports are queued per target;
// each Dial pops one, so reconnection sequences can hand out a fresh port
// per attempt.
type FakeDialer struct {
	mu    sync.Mutex
	ports map[string][]Porter
	errs  map[string]error
	calls []Endpoint
}

// NewFakeDialer creates an empty FakeDialer.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{
		ports: make(map[string][]Porter),
		errs:  make(map[string]error),
	}
}

// AddPort queues p to be returned by a future Dial of target.
func (d *FakeDialer) AddPort(target string, p Porter) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.ports[target] = append(d.ports[target], p)
}

// SetError makes every Dial of target fail with err.
func (d *FakeDialer) SetError(target string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.errs[target] = err
}

// Dial returns the next queued port or configured error for the endpoint.
func (d *FakeDialer) Dial(_ context.Context, ep Endpoint, _ PortOptions) (Porter, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, ep)
	if err, ok := d.errs[ep.Target]; ok {
		return nil, err
	}
	queue := d.ports[ep.Target]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no fake port for %s", ep)
	}
	d.ports[ep.Target] = queue[1:]
	return queue[0], nil
}

// Calls returns every endpoint dialed so far.
func (d *FakeDialer) Calls() []Endpoint {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]Endpoint(nil), d.calls...)
}
