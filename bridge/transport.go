package bridge

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrTransportClosed is returned by Send after the transport is closed.
var ErrTransportClosed = errors.New("transport closed")

// Transport moves encoded frames between the two sides of the trust
// boundary.
//
// Implementations must guarantee:
//   - Send never blocks indefinitely; a congested peer drops, not queues
//   - payloads on one transport are delivered in send order
//   - Receive's channel is closed when the transport closes
//
// There is no acknowledgement and no retry. Losing a prediction frame
// skips one tick's update; the next tick re-emits a fresh batch.
type Transport interface {
	// Send transmits one encoded frame.
	Send(data []byte) error

	// Receive returns the inbound payload channel.
	Receive() <-chan []byte

	// Close shuts the transport down. Idempotent.
	Close() error
}

// pipeShared is the state common to both ends of a Pipe.
type pipeShared struct {
	mu     sync.Mutex
	ab     chan []byte
	ba     chan []byte
	closed bool
}

func (s *pipeShared) send(ch chan []byte, data []byte, dropped *atomic.Uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrTransportClosed
	}
	select {
	case ch <- data:
	default:
		dropped.Add(1)
	}
	return nil
}

func (s *pipeShared) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ab)
	close(s.ba)
}

// PipeTransport is one end of an in-process transport pair.
type PipeTransport struct {
	shared  *pipeShared
	out     chan []byte
	in      chan []byte
	dropped atomic.Uint64
}

// Pipe creates a connected in-process transport pair. Each side's Send
// delivers to the other side's Receive, in order. Payloads beyond the
// buffer are dropped rather than queued.
func Pipe(buffer int) (*PipeTransport, *PipeTransport) {
	if buffer <= 0 {
		buffer = 16
	}
	shared := &pipeShared{
		ab: make(chan []byte, buffer),
		ba: make(chan []byte, buffer),
	}
	a := &PipeTransport{shared: shared, out: shared.ab, in: shared.ba}
	b := &PipeTransport{shared: shared, out: shared.ba, in: shared.ab}
	return a, b
}

// Send implements Transport.
func (p *PipeTransport) Send(data []byte) error {
	return p.shared.send(p.out, data, &p.dropped)
}

// Receive implements Transport.
func (p *PipeTransport) Receive() <-chan []byte { return p.in }

// Close implements Transport. Closing either end closes both.
func (p *PipeTransport) Close() error {
	p.shared.close()
	return nil
}

// Dropped returns how many payloads this end discarded on a full buffer.
func (p *PipeTransport) Dropped() uint64 { return p.dropped.Load() }
