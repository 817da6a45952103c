package duplex

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/duplexrpc/duplex-go/router"
	"github.com/duplexrpc/duplex-go/wire"
)

// serverSubscription is the producing side of one peer subscription. It
// implements router.Sink; Send wraps each item in the subscription envelope
// and pushes it as a notification.
type serverSubscription struct {
	conn         *Conn
	id           string
	notifyMethod string

	once sync.Once
	done chan struct{}
}

func (ss *serverSubscription) SubscriptionID() string { return ss.id }

func (ss *serverSubscription) Done() <-chan struct{} { return ss.done }

func (ss *serverSubscription) Send(item any) error {
	select {
	case <-ss.done:
		return ErrSubscriptionClosed
	default:
	}
	env, err := wire.NewSubscriptionEnvelope(ss.notifyMethod, ss.id, item)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ss.conn.send(ss.conn.lifeCtx, data)
}

func (ss *serverSubscription) close() {
	ss.once.Do(func() { close(ss.done) })
}

// acceptSubscription services an inbound subscribe request: mint the
// subscription id, register the sink, and hand it to the application's
// accept hook. A rejected accept discards the sink and reports the failure
// to the peer.
func (c *Conn) acceptSubscription(ctx context.Context, spec *router.SubscriptionSpec, req *wire.Request) *wire.Response {
	ss := &serverSubscription{
		conn:         c,
		id:           uuid.NewString(),
		notifyMethod: spec.NotifyMethod,
		done:         make(chan struct{}),
	}
	c.srvMu.Lock()
	c.srvSubs[ss.id] = ss
	c.srvMu.Unlock()

	if err := spec.Accept(ctx, req.Params, ss); err != nil {
		c.srvMu.Lock()
		delete(c.srvSubs, ss.id)
		c.srvMu.Unlock()
		ss.close()
		return wire.NewErrorResponseFor(req.ID, err)
	}
	resp, err := wire.NewResultResponse(req.ID, ss.id)
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, "Internal error", nil)
	}
	return resp
}

// dropSubscription services an inbound unsubscribe request. The result is a
// boolean: true when the id named a live subscription, false when it was
// unknown or already gone, mirroring the idempotent unsubscribe contract.
func (c *Conn) dropSubscription(req *wire.Request) *wire.Response {
	subID, ok := unsubscribeTarget(req.Params)
	if !ok {
		return wire.NewErrorResponse(req.ID, wire.CodeInvalidParams, "Invalid params", nil)
	}
	c.srvMu.Lock()
	ss, found := c.srvSubs[subID]
	delete(c.srvSubs, subID)
	c.srvMu.Unlock()
	if found {
		ss.close()
	}
	resp, err := wire.NewResultResponse(req.ID, found)
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.CodeInternalError, "Internal error", nil)
	}
	return resp
}

// unsubscribeTarget extracts the subscription id from unsubscribe params,
// accepting both the positional single-element array form and a bare string.
func unsubscribeTarget(params json.RawMessage) (string, bool) {
	var arr []string
	if err := json.Unmarshal(params, &arr); err == nil && len(arr) == 1 {
		return arr[0], arr[0] != ""
	}
	var s string
	if err := json.Unmarshal(params, &s); err == nil {
		return s, s != ""
	}
	return "", false
}

// handleBatch routes each decoded batch entry. Response, envelope, and
// notification entries dispatch inline like their single-frame equivalents;
// request entries are collected and served together so the reply is one
// batch frame.
func (c *Conn) handleBatch(f *wire.Frame) {
	var (
		requests []wire.BatchEntry
		invalid  []*wire.Response
	)
	for i := range f.Batch {
		e := &f.Batch[i]
		if e.Err != nil {
			if resp := c.handleBatchEntryError(e); resp != nil {
				invalid = append(invalid, resp)
			}
			continue
		}
		switch e.Frame.Kind() {
		case wire.KindResponse:
			c.handleResponse(e.Frame)
		case wire.KindSubscriptionEnvelope:
			c.handleEnvelope(e.Frame)
		case wire.KindNotification:
			c.handleNotification(e.Frame)
		case wire.KindRequest:
			requests = append(requests, *e)
		}
	}
	if len(requests) == 0 && len(invalid) == 0 {
		return
	}
	if c.registry == nil {
		return
	}
	if c.cfg.DisableBatches && len(requests) > 0 {
		c.sendResponse(wire.NewErrorResponse(nil, wire.CodeBatchesNotSupported, "Batched requests are not supported by this server", nil))
		return
	}
	go c.serveBatch(requests, invalid)
}

// handleBatchEntryError attributes a malformed batch entry. An entry whose
// recovered id names one of our own pending calls settles that slot with a
// synthesized parse-error response instead of letting it wait out its
// deadline. An unattributable entry becomes (in the server role) the
// per-entry invalid-request response for the batch reply.
func (c *Conn) handleBatchEntryError(e *wire.BatchEntry) *wire.Response {
	c.stats.decodeErrors.Add(1)
	id := e.RecoverID()
	if id != nil && !id.IsNull() {
		resp := wire.NewErrorResponse(id, wire.CodeParseError, "Parse error", nil)
		if c.calls.Resolve(id.String(), resp) {
			return nil
		}
	}
	c.log.Debug("conn.dispatch.batch_entry_invalid", slogErr(e.Err))
	if c.onProtocolErr != nil {
		c.onProtocolErr(e.Err)
	}
	if c.registry == nil {
		return nil
	}
	return wire.NewErrorResponse(id, wire.CodeInvalidRequest, "Invalid Request", nil)
}

// serveBatch invokes every request entry of an inbound batch and replies
// with one batch frame. Entries run under the same admission policy as
// single requests. A batch whose entries were all notifications never
// reaches here and produces no reply frame at all.
func (c *Conn) serveBatch(entries []wire.BatchEntry, invalid []*wire.Response) {
	responses := make([]*wire.Response, 0, len(entries)+len(invalid))
	responses = append(responses, invalid...)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, e := range entries {
		req := e.Frame.AsRequest()
		if !c.admit() {
			c.stats.rejectedCalls.Add(1)
			mu.Lock()
			responses = append(responses, wire.NewErrorResponse(req.ID, wire.CodeServerBusy, "Server is busy", nil))
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.release()
			resp := c.invokeRequest(c.lifeCtx, req)
			mu.Lock()
			responses = append(responses, resp)
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(responses) == 0 {
		return
	}
	data, err := json.Marshal(responses)
	if err != nil {
		c.log.Error("conn.serve_batch.encode_fail", slogErr(err))
		return
	}
	if err := c.send(c.lifeCtx, data); err != nil {
		c.log.Debug("conn.serve_batch.send_fail", slogErr(err))
	}
}
