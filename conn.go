package duplex

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/duplexrpc/duplex-go/internal/logctx"
	"github.com/duplexrpc/duplex-go/internal/pending"
	"github.com/duplexrpc/duplex-go/internal/subs"
	"github.com/duplexrpc/duplex-go/router"
	"github.com/duplexrpc/duplex-go/transport"
	"github.com/duplexrpc/duplex-go/wire"
)

// Conn is the engine for one logical connection. It owns the pending-call
// table and the subscription registry; callers interact only through opaque
// handles, never through the tables directly.
//
// A Conn serves both roles at once: it issues calls and subscriptions toward
// the peer, and (when configured with a registry) answers the peer's
// requests. Construct one Conn per connection and Close it when the
// underlying transport is gone.
type Conn struct {
	t   transport.Transport
	log *slog.Logger
	cfg Config
	id  string

	seq   pending.Sequence
	calls *pending.Table
	subs  *subs.Registry

	registry      *router.Registry
	onNotify      func(ctx context.Context, method string, params json.RawMessage)
	onProtocolErr func(err error)

	limiter *rate.Limiter
	sem     chan struct{}

	sendMu sync.Mutex

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	closeOnce  sync.Once
	closed     chan struct{}

	srvMu   sync.Mutex
	srvSubs map[string]*serverSubscription

	stats statCounters
}

type statCounters struct {
	unknownResponses     atomic.Uint64
	droppedEnvelopes     atomic.Uint64
	droppedNotifications atomic.Uint64
	decodeErrors         atomic.Uint64
	rejectedCalls        atomic.Uint64
}

// Stats is a snapshot of the connection's diagnostic counters. Unknown-id
// responses and dropped envelopes arise from legitimate races (late
// responses after timeout, envelopes after unsubscribe) and are counted
// rather than surfaced as errors.
type Stats struct {
	UnknownResponses     uint64
	DroppedEnvelopes     uint64
	DroppedNotifications uint64
	DecodeErrors         uint64
	RejectedCalls        uint64
}

// NewConn starts the engine over t and begins consuming inbound frames.
func NewConn(t transport.Transport, opts ...Option) *Conn {
	c := &Conn{
		t:       t,
		log:     slog.Default(),
		cfg:     DefaultConfig(),
		id:      uuid.NewString(),
		calls:   pending.NewTable(),
		subs:    subs.NewRegistry(),
		closed:  make(chan struct{}),
		srvSubs: make(map[string]*serverSubscription),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.log = slog.New(logctx.Handler{Handler: c.log.Handler()}).With(slog.String("conn_id", c.id))
	c.sem = make(chan struct{}, c.cfg.MaxConcurrentCalls)
	c.lifeCtx, c.lifeCancel = context.WithCancel(context.Background())

	go c.readLoop()
	return c
}

// Close tears the connection down: every pending call settles with
// ErrConnClosed, every subscription sink closes, and the transport is
// closed. Safe to call more than once; only the first call has any effect.
func (c *Conn) Close() error {
	c.teardown(ErrConnClosed)
	return nil
}

// Done is closed once teardown has completed.
func (c *Conn) Done() <-chan struct{} { return c.closed }

// Stats returns a snapshot of the diagnostic counters.
func (c *Conn) Stats() Stats {
	return Stats{
		UnknownResponses:     c.stats.unknownResponses.Load(),
		DroppedEnvelopes:     c.stats.droppedEnvelopes.Load(),
		DroppedNotifications: c.stats.droppedNotifications.Load(),
		DecodeErrors:         c.stats.decodeErrors.Load(),
		RejectedCalls:        c.stats.rejectedCalls.Load(),
	}
}

// teardown runs exactly once, synchronously with the close signal: drain the
// call table, close every delivery sink, stop server-side producers, close
// the transport. No caller or consumer remains blocked afterwards.
func (c *Conn) teardown(err error) {
	c.closeOnce.Do(func() {
		c.lifeCancel()
		n := c.calls.DrainAll(err)
		c.subs.CloseAll()
		c.srvMu.Lock()
		for id, ss := range c.srvSubs {
			delete(c.srvSubs, id)
			ss.close()
		}
		c.srvMu.Unlock()
		_ = c.t.Close()
		close(c.closed)
		c.log.Debug("conn.teardown", slog.Int("drained_calls", n), slog.String("reason", err.Error()))
	})
}

func (c *Conn) readLoop() {
	for {
		frame, err := c.t.Recv(c.lifeCtx)
		if err != nil {
			c.teardown(ErrConnClosed)
			return
		}
		if c.cfg.MaxFrameBytes > 0 && len(frame) > c.cfg.MaxFrameBytes {
			c.stats.decodeErrors.Add(1)
			c.log.Warn("conn.recv.oversized", slog.Int("size", len(frame)), slog.Int("limit", c.cfg.MaxFrameBytes))
			c.replyDecodeFailure(errors.New("oversized frame"))
			continue
		}
		c.dispatch(frame)
	}
}

// dispatch decodes one frame and routes it. It must not block on caller-side
// state: publishing to completion slots and sinks is a non-blocking handoff,
// and handler invocation moves off this goroutine.
func (c *Conn) dispatch(frame []byte) {
	f, err := wire.Decode(frame)
	if err != nil {
		c.stats.decodeErrors.Add(1)
		c.log.Warn("conn.dispatch.decode_fail", slog.String("err", err.Error()))
		c.replyDecodeFailure(err)
		if c.onProtocolErr != nil {
			c.onProtocolErr(err)
		}
		return
	}

	switch f.Kind() {
	case wire.KindResponse:
		c.handleResponse(f)
	case wire.KindSubscriptionEnvelope:
		c.handleEnvelope(f)
	case wire.KindNotification:
		c.handleNotification(f)
	case wire.KindRequest:
		c.handleRequest(f)
	case wire.KindBatch:
		c.handleBatch(f)
	}
}

// replyDecodeFailure answers an undecodable frame in the server role. The
// empty batch gets the protocol's invalid-request response; everything else
// a parse error. Both carry the null id.
func (c *Conn) replyDecodeFailure(err error) {
	if c.registry == nil {
		return
	}
	code, msg := wire.CodeParseError, "Parse error"
	if errors.Is(err, wire.ErrEmptyBatch) {
		code, msg = wire.CodeInvalidRequest, "Invalid Request"
	}
	c.sendResponse(wire.NewErrorResponse(nil, code, msg, nil))
}

func (c *Conn) handleResponse(f *wire.Frame) {
	key := f.ID.String()
	if !c.calls.Resolve(key, f.AsResponse()) {
		c.stats.unknownResponses.Add(1)
		c.log.Debug("conn.dispatch.unknown_id", slog.String("id", key))
	}
}

func (c *Conn) handleEnvelope(f *wire.Frame) {
	if !c.subs.Deliver(f.SubscriptionID, f.Item) {
		c.stats.droppedEnvelopes.Add(1)
		c.log.Debug("conn.dispatch.unknown_subscription", slog.String("subscription_id", f.SubscriptionID))
	}
}

func (c *Conn) handleNotification(f *wire.Frame) {
	if c.onNotify == nil {
		c.stats.droppedNotifications.Add(1)
		return
	}
	go c.onNotify(c.lifeCtx, f.Method, f.Params)
}

// handleRequest admits one inbound request against the concurrency bound and
// runs the handler off the read loop. Over-limit requests are rejected with
// the server-busy code, an explicit policy rather than unbounded spawning.
func (c *Conn) handleRequest(f *wire.Frame) {
	req := f.AsRequest()
	if !c.admit() {
		c.stats.rejectedCalls.Add(1)
		c.log.Info("conn.dispatch.server_busy", slog.String("method", req.Method))
		c.sendResponse(wire.NewErrorResponse(req.ID, wire.CodeServerBusy, "Server is busy", nil))
		return
	}
	go func() {
		defer c.release()
		c.sendResponse(c.invokeRequest(c.lifeCtx, req))
	}()
}

func (c *Conn) admit() bool {
	if c.limiter != nil && !c.limiter.Allow() {
		return false
	}
	select {
	case c.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Conn) release() { <-c.sem }

func slogErr(err error) slog.Attr { return slog.String("err", err.Error()) }

// invokeRequest runs one inbound request to a response. The caller owns
// concurrency admission.
func (c *Conn) invokeRequest(ctx context.Context, req *wire.Request) *wire.Response {
	if c.registry == nil {
		return wire.NewErrorResponse(req.ID, wire.CodeMethodNotFound, "Method not found", nil)
	}
	ctx = logctx.WithMessage(ctx, &logctx.Message{
		Method: req.Method,
		ID:     req.ID.String(),
		Kind:   wire.KindRequest.String(),
	})
	if h, ok := c.registry.Lookup(req.Method); ok {
		result, err := h(ctx, req.Params)
		if err != nil {
			return wire.NewErrorResponseFor(req.ID, err)
		}
		resp, err := wire.NewResultResponse(req.ID, result)
		if err != nil {
			c.log.ErrorContext(ctx, "conn.invoke.encode_fail", slogErr(err))
			return wire.NewErrorResponse(req.ID, wire.CodeInternalError, "Internal error", nil)
		}
		return resp
	}
	if spec, ok := c.registry.LookupSubscribe(req.Method); ok {
		return c.acceptSubscription(ctx, spec, req)
	}
	if _, ok := c.registry.LookupUnsubscribe(req.Method); ok {
		return c.dropSubscription(req)
	}
	return wire.NewErrorResponse(req.ID, wire.CodeMethodNotFound, "Method not found", nil)
}

func (c *Conn) sendResponse(resp *wire.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.log.Error("conn.send_response.encode_fail", slog.String("err", err.Error()))
		return
	}
	if err := c.send(c.lifeCtx, data); err != nil {
		c.log.Debug("conn.send_response.fail", slog.String("err", err.Error()))
	}
}

// send serializes writes to the transport so concurrent callers and handler
// goroutines never interleave frames.
func (c *Conn) send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.t.Send(ctx, frame); err != nil {
		return err
	}
	return nil
}
