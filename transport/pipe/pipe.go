// Package pipe provides an in-memory transport pair backed by channels. It
// is suitable for tests and single-process wiring; both ends implement
// transport.Transport.
package pipe

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Send on a closed end.
var ErrClosed = errors.New("pipe closed")

// End is one side of an in-memory connection.
type End struct {
	out chan<- []byte
	in  <-chan []byte

	mu     sync.Mutex
	closed chan struct{}
	peer   *End
}

// New returns two connected ends. Frames sent on one end arrive on the
// other in order. The buffer bounds how many frames may be in flight per
// direction before Send blocks.
func New(buffer int) (*End, *End) {
	if buffer < 1 {
		buffer = 1
	}
	ab := make(chan []byte, buffer)
	ba := make(chan []byte, buffer)
	a := &End{out: ab, in: ba, closed: make(chan struct{})}
	b := &End{out: ba, in: ab, closed: make(chan struct{})}
	a.peer = b
	b.peer = a
	return a, b
}

// Send delivers one frame to the peer. It blocks while the peer's inbound
// buffer is full.
func (e *End) Send(ctx context.Context, frame []byte) error {
	// Copy so the caller may reuse the buffer.
	msg := make([]byte, len(frame))
	copy(msg, frame)
	select {
	case <-e.closed:
		return ErrClosed
	case <-e.peer.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case e.out <- msg:
		return nil
	}
}

// Recv returns the next inbound frame. It returns io.EOF once either end is
// closed and the buffer is drained.
func (e *End) Recv(ctx context.Context) ([]byte, error) {
	// Drain buffered frames before reporting closure.
	select {
	case msg := <-e.in:
		return msg, nil
	default:
	}
	select {
	case msg := <-e.in:
		return msg, nil
	case <-e.closed:
		return nil, io.EOF
	case <-e.peer.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts down this end. Both ends observe io.EOF from Recv afterwards.
func (e *End) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.closed:
		return nil
	default:
		close(e.closed)
	}
	return nil
}
