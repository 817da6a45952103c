package duplex

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/duplexrpc/duplex-go/internal/pending"
	"github.com/duplexrpc/duplex-go/wire"
)

// Call issues method toward the peer and blocks until the matching response
// arrives, the deadline passes, or ctx is done. The result is unmarshaled
// into result when result is non-nil. A peer error response is returned as a
// *wire.Error.
//
// Identifiers are allocated from the connection's monotonic sequence and are
// never reused while a call is in flight, so a late response for an earlier
// use of the id can never settle this call.
func (c *Conn) Call(ctx context.Context, result any, method string, params any) error {
	resp, err := c.roundTrip(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return err
	}
	return nil
}

// Notify sends a fire-and-forget notification. No identifier is allocated
// and no response is ever expected.
func (c *Conn) Notify(ctx context.Context, method string, params any) error {
	req, err := wire.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.send(ctx, data)
}

func (c *Conn) roundTrip(ctx context.Context, method string, params any) (*wire.Response, error) {
	id := wire.Int64ID(int64(c.seq.Next()))
	req, err := wire.NewRequest(&id, method, params)
	if err != nil {
		return nil, err
	}
	call, err := c.register(ctx, id.String())
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		c.calls.Abort(call.ID())
		return nil, err
	}
	if err := c.send(ctx, data); err != nil {
		// The request never reached the peer; the slot will not settle.
		c.calls.Abort(call.ID())
		return nil, err
	}
	return c.await(ctx, call)
}

// register inserts a pending slot for key, applying the configured call
// timeout unless ctx carries an earlier deadline.
func (c *Conn) register(ctx context.Context, key string) (*pending.Call, error) {
	deadline := time.Time{}
	if c.cfg.CallTimeout > 0 {
		deadline = time.Now().Add(c.cfg.CallTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	return c.calls.Register(key, deadline)
}

func (c *Conn) await(ctx context.Context, call *pending.Call) (*wire.Response, error) {
	resp, err := call.Await(ctx)
	if err != nil {
		if errors.Is(err, pending.ErrCancelled) && ctx.Err() != nil {
			// Surface the caller's own cancellation cause.
			return nil, ctx.Err()
		}
		return nil, err
	}
	return resp, nil
}
