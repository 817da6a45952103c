package duplex

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/duplexrpc/duplex-go/internal/pending"
	"github.com/duplexrpc/duplex-go/wire"
)

// BatchElem is one element of an outbound batch. After BatchCall returns,
// Error holds the element's outcome and, on success, Result has been
// unmarshaled into if non-nil.
type BatchElem struct {
	Method string
	Params any

	// Notification marks the element as id-less. It produces no response and
	// its Error stays nil unless the batch as a whole failed to send.
	Notification bool

	// Result receives the unmarshaled result for a successful call element.
	Result any

	// Error is the element's settled outcome: nil, a *wire.Error from the
	// peer, or a local error (timeout, cancellation, teardown).
	Error error
}

// BatchCall sends every element in one frame and waits until each call
// element settles. Responses are matched by id, not position, so the peer
// may answer in any order and interleave with other traffic.
//
// Each element carries its own outcome in Error. The returned error is
// non-nil only for failures that affect the whole batch: an empty batch, an
// encoding failure, or a send failure.
func (c *Conn) BatchCall(ctx context.Context, elems []BatchElem) error {
	if len(elems) == 0 {
		return errors.New("empty batch")
	}

	type await struct {
		idx  int
		key  string
		call *pending.Call
	}

	msgs := make([]*wire.Request, 0, len(elems))
	awaits := make([]await, 0, len(elems))
	abort := func() {
		for _, a := range awaits {
			c.calls.Abort(a.key)
		}
	}

	// Register every id before anything is sent: once the frame is on the
	// wire all responses have a live slot to land in.
	for i := range elems {
		var idp *wire.ID
		if !elems[i].Notification {
			id := wire.Int64ID(int64(c.seq.Next()))
			idp = &id
		}
		req, err := wire.NewRequest(idp, elems[i].Method, elems[i].Params)
		if err != nil {
			abort()
			return err
		}
		msgs = append(msgs, req)
		if idp == nil {
			continue
		}
		call, err := c.register(ctx, idp.String())
		if err != nil {
			abort()
			return err
		}
		awaits = append(awaits, await{idx: i, key: idp.String(), call: call})
	}

	data, err := json.Marshal(msgs)
	if err != nil {
		abort()
		return err
	}
	if err := c.send(ctx, data); err != nil {
		abort()
		return err
	}

	var closedErr error
	for _, a := range awaits {
		resp, err := c.await(ctx, a.call)
		if err != nil {
			elems[a.idx].Error = err
			if errors.Is(err, ErrConnClosed) && closedErr == nil {
				closedErr = err
			}
			continue
		}
		if resp.Error != nil {
			elems[a.idx].Error = resp.Error
			continue
		}
		if elems[a.idx].Result != nil {
			elems[a.idx].Error = json.Unmarshal(resp.Result, elems[a.idx].Result)
		}
	}
	// A torn-down connection fails the batch as a whole; per-element
	// outcomes above still report the entries that completed first.
	return closedErr
}
