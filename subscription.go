package duplex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/duplexrpc/duplex-go/internal/subs"
	"github.com/duplexrpc/duplex-go/wire"
)

// Subscription is a consumer handle for one client-side subscription: a
// stream of items pushed by the peer, ended by Unsubscribe or connection
// teardown.
type Subscription struct {
	conn        *Conn
	sub         *subs.Subscription
	unsubMethod string

	unsubOnce sync.Once
	unsubErr  error
}

// SubscriptionID returns the server-assigned subscription identifier.
func (s *Subscription) SubscriptionID() string { return s.sub.SubscriptionID() }

// Lost reports how many items were shed because the consumer fell behind the
// delivery buffer.
func (s *Subscription) Lost() uint64 { return s.sub.Lost() }

// Next blocks for the next pushed item. It returns io.EOF once the
// subscription has ended, whether by Unsubscribe or by teardown of the
// connection.
func (s *Subscription) Next(ctx context.Context) (json.RawMessage, error) {
	select {
	case item, ok := <-s.sub.Items():
		if !ok {
			return nil, io.EOF
		}
		return item, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Unsubscribe halts delivery immediately, then performs the unsubscribe call
// toward the peer. The local stream ends regardless of whether the peer
// acknowledges; envelopes still in flight for this id are dropped and
// counted by the connection. Safe to call more than once.
func (s *Subscription) Unsubscribe(ctx context.Context) error {
	s.unsubOnce.Do(func() {
		subID := s.sub.SubscriptionID()
		if !s.conn.subs.StartUnsubscribe(subID) {
			return
		}
		var acked bool
		err := s.conn.Call(ctx, &acked, s.unsubMethod, []any{subID})
		s.conn.subs.Finish(subID)
		s.unsubErr = err
	})
	return s.unsubErr
}

// Subscribe issues the subscribe call for method and returns the live
// subscription handle. The pending registration is created before the call
// is sent, so an envelope racing ahead of the subscribe response has a
// drop-and-count path rather than an unbounded wait.
//
// unsubscribeMethod is the peer method Unsubscribe will invoke, per the
// pairwise naming the peer's API defines (for example "eth_subscribe" /
// "eth_unsubscribe").
func (c *Conn) Subscribe(ctx context.Context, method, unsubscribeMethod string, params any) (*Subscription, error) {
	id := wire.Int64ID(int64(c.seq.Next()))
	req, err := wire.NewRequest(&id, method, params)
	if err != nil {
		return nil, err
	}
	key := id.String()

	call, err := c.register(ctx, key)
	if err != nil {
		return nil, err
	}
	c.subs.BeginSubscribe(key, c.cfg.SubscriptionBuffer)

	data, err := json.Marshal(req)
	if err != nil {
		c.calls.Abort(key)
		c.subs.Abort(key)
		return nil, err
	}
	if err := c.send(ctx, data); err != nil {
		c.calls.Abort(key)
		c.subs.Abort(key)
		return nil, err
	}

	resp, err := c.await(ctx, call)
	if err != nil {
		c.subs.Abort(key)
		return nil, err
	}
	if resp.Error != nil {
		c.subs.Abort(key)
		return nil, resp.Error
	}

	var subID string
	if err := json.Unmarshal(resp.Result, &subID); err != nil || subID == "" {
		c.subs.Abort(key)
		return nil, fmt.Errorf("subscribe response carried no subscription id: %s", resp.Result)
	}
	active, err := c.subs.Confirm(key, subID)
	if err != nil {
		return nil, err
	}
	c.log.Debug("conn.subscribe.ok", slog.String("method", method), slog.String("subscription_id", subID))
	return &Subscription{conn: c, sub: active, unsubMethod: unsubscribeMethod}, nil
}
