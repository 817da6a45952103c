// Package subs tracks client-side subscriptions for one connection.
//
// A subscription lives in a second identifier space from request ids: the
// server assigns the subscription id asynchronously in the subscribe
// response, and the subscription outlives the subscribe request/response
// pair. The registry holds the Pending entries keyed by originating request
// id until Confirm binds them to their server-assigned id.
package subs

import (
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
)

// State is the lifecycle position of one subscription.
type State int

const (
	StatePending State = iota
	StateActive
	StateUnsubscribing
	StateClosed
)

var (
	// ErrUnknownSubscribeRequest signals a Confirm for a request id that was
	// never registered as a pending subscribe.
	ErrUnknownSubscribeRequest = errors.New("unknown subscribe request")
	// ErrDuplicateSubscription signals a server-assigned subscription id that
	// is already bound.
	ErrDuplicateSubscription = errors.New("duplicate subscription id")
)

// Subscription is one registered subscription and its delivery sink. The
// sink is a bounded queue: when it is full the newest item is shed and the
// loss counter incremented, so a slow consumer never stalls the shared
// inbound dispatch path.
type Subscription struct {
	reqID string
	subID string

	mu    sync.Mutex
	state State

	items chan json.RawMessage
	lost  atomic.Uint64
}

// SubscriptionID returns the server-assigned id, empty while Pending.
func (s *Subscription) SubscriptionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subID
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Items is the delivery sink. It is closed exactly once, when the
// subscription reaches Closed, so consumers observe end-of-stream once.
func (s *Subscription) Items() <-chan json.RawMessage {
	return s.items
}

// Lost reports how many items were shed because the sink was saturated.
func (s *Subscription) Lost() uint64 {
	return s.lost.Load()
}

// deliver enqueues one item while Active. It reports whether the
// subscription accepted the delivery at all; a shed item still counts as
// accepted, it is recorded in the loss counter instead.
func (s *Subscription) deliver(item json.RawMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	select {
	case s.items <- item:
	default:
		s.lost.Add(1)
	}
	return true
}

// close transitions to Closed and closes the sink. Idempotent under s.mu.
func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	close(s.items)
}

// Registry is the subscription table for one connection.
type Registry struct {
	mu     sync.Mutex
	byReq  map[string]*Subscription
	bySub  map[string]*Subscription
	closed bool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byReq: make(map[string]*Subscription),
		bySub: make(map[string]*Subscription),
	}
}

// BeginSubscribe records a Pending subscription keyed by the request id of
// the subscribe call, with a delivery sink of the given capacity.
func (r *Registry) BeginSubscribe(reqID string, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	s := &Subscription{
		reqID: reqID,
		state: StatePending,
		items: make(chan json.RawMessage, buffer),
	}
	r.mu.Lock()
	r.byReq[reqID] = s
	r.mu.Unlock()
	return s
}

// Abort discards a Pending subscription whose subscribe call failed, closing
// its sink.
func (r *Registry) Abort(reqID string) {
	r.mu.Lock()
	s, ok := r.byReq[reqID]
	delete(r.byReq, reqID)
	r.mu.Unlock()
	if ok {
		s.close()
	}
}

// Confirm binds the server-assigned subscription id to the pending entry for
// reqID and transitions it to Active.
func (r *Registry) Confirm(reqID, subID string) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byReq[reqID]
	if !ok {
		return nil, ErrUnknownSubscribeRequest
	}
	if _, taken := r.bySub[subID]; taken {
		return nil, ErrDuplicateSubscription
	}
	delete(r.byReq, reqID)
	if r.closed {
		// Connection tore down while the confirm was in flight.
		s.close()
		return nil, ErrUnknownSubscribeRequest
	}
	s.mu.Lock()
	s.subID = subID
	s.state = StateActive
	s.mu.Unlock()
	r.bySub[subID] = s
	return s, nil
}

// Deliver routes one item to the subscription's sink. It reports false when
// the subscription is unknown or no longer Active; the caller raises the
// diagnostic.
func (r *Registry) Deliver(subID string, item json.RawMessage) bool {
	r.mu.Lock()
	s, ok := r.bySub[subID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return s.deliver(item)
}

// StartUnsubscribe transitions subID to Unsubscribing, halting delivery while
// the unsubscribe request is in flight. It reports false when the id is
// unknown or teardown already ran.
func (r *Registry) StartUnsubscribe(subID string) bool {
	r.mu.Lock()
	s, ok := r.bySub[subID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return false
	}
	s.state = StateUnsubscribing
	return true
}

// Finish completes an unsubscribe (acknowledged or not): the subscription is
// removed and its sink closed so the consumer observes end-of-stream.
func (r *Registry) Finish(subID string) {
	r.mu.Lock()
	s, ok := r.bySub[subID]
	delete(r.bySub, subID)
	r.mu.Unlock()
	if ok {
		s.close()
	}
}

// CloseAll tears down every subscription, pending or active, exactly once
// per entry. Mirrors the pending table's DrainAll on connection teardown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	pending := make([]*Subscription, 0, len(r.byReq))
	for id, s := range r.byReq {
		delete(r.byReq, id)
		pending = append(pending, s)
	}
	active := make([]*Subscription, 0, len(r.bySub))
	for id, s := range r.bySub {
		delete(r.bySub, id)
		active = append(active, s)
	}
	r.mu.Unlock()
	for _, s := range pending {
		s.close()
	}
	for _, s := range active {
		s.close()
	}
}

// Len reports the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySub)
}
