// Package mirror replicates bus events across process boundaries. A Mirror
// binds one bus to a Transport: local events are encoded and sent out,
// incoming events are decoded and injected. Events are forwarded exactly one
// hop; an event received over the mirror is never sent back out, which keeps
// rings of mirrored processes from feeding back.
package mirror

import (
	"errors"
	"sync"
)

// ErrClosed is returned when sending on a closed transport.
var ErrClosed = errors.New("mirror: transport closed")

// Transport moves encoded events between processes. Implementations should
// not echo frames sent via Send back to their own Receive callback; the
// Mirror drops such echoes by origin anyway, but not delivering them at all
// is cheaper.
type Transport interface {
	// Send publishes one encoded event to the peer side.
	Send(data []byte) error

	// Receive registers the callback invoked for each incoming frame.
	// Registering replaces any previous callback.
	Receive(fn func(data []byte))

	// Close releases the transport. Further Sends fail with ErrClosed.
	Close() error
}

// Pair returns two linked in-process transports. Frames sent on one side are
// delivered synchronously to the other side's callback, which makes tests
// deterministic without a broker.
func Pair() (Transport, Transport) {
	a := &pairEnd{}
	b := &pairEnd{}
	a.peer = b
	b.peer = a
	return a, b
}

type pairEnd struct {
	mu     sync.Mutex
	peer   *pairEnd
	fn     func([]byte)
	closed bool
}

func (e *pairEnd) Send(data []byte) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	peer := e.peer
	e.mu.Unlock()

	peer.deliver(data)
	return nil
}

func (e *pairEnd) Receive(fn func(data []byte)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fn = fn
}

func (e *pairEnd) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *pairEnd) deliver(data []byte) {
	e.mu.Lock()
	fn := e.fn
	closed := e.closed
	e.mu.Unlock()

	if closed || fn == nil {
		return
	}
	fn(data)
}

var _ Transport = (*pairEnd)(nil)
