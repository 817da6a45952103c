// Package pending tracks in-flight calls for one connection: the table that
// maps a request identifier to the single completion slot its caller awaits
// on, and the sequence that allocates those identifiers.
//
// Settlement is exactly-once by construction. Every settling operation
// (Resolve, Cancel, Expire, DrainAll) removes the entry from the table under
// the lock before writing the outcome; whichever operation removes the entry
// is the sole writer of the call's buffered outcome channel, and every later
// operation misses the map and is a no-op.
package pending

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/duplexrpc/duplex-go/wire"
)

var (
	// ErrDuplicateID signals a register for an identifier already in flight.
	ErrDuplicateID = errors.New("duplicate request id")
	// ErrTimeout settles a call whose deadline expired before a response.
	ErrTimeout = errors.New("call timed out")
	// ErrCancelled settles a call abandoned by its caller.
	ErrCancelled = errors.New("call cancelled")
)

type outcome struct {
	resp *wire.Response
	err  error
}

// Call is the completion slot for one outstanding request. It is returned by
// Table.Register and settled exactly once.
type Call struct {
	id    string
	table *Table
	done  chan outcome // buffered 1; written once by the settling operation
	timer *time.Timer  // non-nil when the call carries a deadline
}

// ID returns the canonical identifier key the call is registered under.
func (c *Call) ID() string { return c.id }

// Await blocks until the call settles or ctx is done. A ctx cancellation
// settles the slot with ErrCancelled via Table.Cancel, so a late response
// becomes an unknown-id no-op rather than a delivery into freed state.
func (c *Call) Await(ctx context.Context) (*wire.Response, error) {
	select {
	case out := <-c.done:
		return out.resp, out.err
	case <-ctx.Done():
		c.table.Cancel(c.id)
		// The slot is settled now, by Cancel or by a racing resolver.
		out := <-c.done
		if out.err != nil {
			return out.resp, out.err
		}
		return out.resp, nil
	}
}

// Table is the pending-call table for one connection. All operations are
// atomic with respect to each other for the same identifier.
type Table struct {
	mu       sync.Mutex
	calls    map[string]*Call
	drainErr error // non-nil once DrainAll has run
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{calls: make(map[string]*Call)}
}

// Register inserts a fresh pending call under id. It fails with
// ErrDuplicateID while id is in flight, and with the drain error after the
// connection has been torn down. A non-zero deadline arms a timer that
// settles the call with ErrTimeout.
func (t *Table) Register(id string, deadline time.Time) (*Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.drainErr != nil {
		return nil, t.drainErr
	}
	if _, exists := t.calls[id]; exists {
		return nil, ErrDuplicateID
	}
	c := &Call{id: id, table: t, done: make(chan outcome, 1)}
	if !deadline.IsZero() {
		c.timer = time.AfterFunc(time.Until(deadline), func() { t.Expire(id) })
	}
	t.calls[id] = c
	return c, nil
}

// Resolve settles id with resp. It reports false when id is unknown, which
// happens legitimately for responses arriving after a timeout or cancel; the
// caller raises the diagnostic.
func (t *Table) Resolve(id string, resp *wire.Response) bool {
	c := t.remove(id)
	if c == nil {
		return false
	}
	c.done <- outcome{resp: resp}
	return true
}

// Cancel settles id with ErrCancelled. A miss is a no-op.
func (t *Table) Cancel(id string) bool {
	c := t.remove(id)
	if c == nil {
		return false
	}
	c.done <- outcome{err: ErrCancelled}
	return true
}

// Expire settles id with ErrTimeout. A response racing the deadline wins or
// loses atomically: the loser misses the map.
func (t *Table) Expire(id string) bool {
	c := t.remove(id)
	if c == nil {
		return false
	}
	c.done <- outcome{err: ErrTimeout}
	return true
}

// Abort removes id without settling the slot. Used when the request could not
// be sent at all and the caller returns the transport error directly.
func (t *Table) Abort(id string) {
	t.remove(id)
}

// DrainAll settles every remaining call with err, empties the table, and
// rejects future registrations with the same error. Only the first call has
// any effect.
func (t *Table) DrainAll(err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.drainErr != nil {
		return 0
	}
	t.drainErr = err
	n := 0
	for id, c := range t.calls {
		delete(t.calls, id)
		if c.timer != nil {
			c.timer.Stop()
		}
		c.done <- outcome{err: err}
		n++
	}
	return n
}

// Len reports the number of in-flight calls.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

func (t *Table) remove(id string) *Call {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	if c.timer != nil {
		c.timer.Stop()
	}
	return c
}
