// Package router maps method names to handler capabilities for the server
// role of a connection. Handlers are registered up front; dispatch is a
// read-locked lookup with no reflection.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrMethodRegistered signals a second registration for a method name.
	ErrMethodRegistered = errors.New("method already registered")
)

// HandlerFunc handles one inbound request. Returning a *wire.Error passes an
// application error through to the peer unmodified; any other error is
// reported as a call-failed response.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Sink publishes items to one peer subscription. It is handed to a
// SubscribeFunc when a peer subscribes and stays valid until the peer
// unsubscribes or the connection closes.
type Sink interface {
	// SubscriptionID returns the server-assigned subscription id.
	SubscriptionID() string
	// Send publishes one item to the subscriber. It fails once the
	// subscription is closed.
	Send(item any) error
	// Done is closed when the subscription ends, so producers can stop.
	Done() <-chan struct{}
}

// SubscribeFunc accepts one peer subscription. It is invoked with the
// subscribe request's params and the delivery sink, and should start its
// producer (typically a goroutine watching Done) before returning. Returning
// an error rejects the subscribe call and discards the sink.
type SubscribeFunc func(ctx context.Context, params json.RawMessage, sink Sink) error

// SubscriptionSpec describes one registered subscription family.
type SubscriptionSpec struct {
	// SubscribeMethod initiates the subscription.
	SubscribeMethod string
	// NotifyMethod names the push notifications carrying items.
	NotifyMethod string
	// UnsubscribeMethod tears the subscription down.
	UnsubscribeMethod string

	Accept SubscribeFunc
}

// Registry is a method table for one server. It is safe for concurrent use;
// registration typically happens before serving starts.
type Registry struct {
	mu      sync.RWMutex
	methods map[string]HandlerFunc
	subs    map[string]*SubscriptionSpec // keyed by SubscribeMethod
	unsubs  map[string]*SubscriptionSpec // keyed by UnsubscribeMethod
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		methods: make(map[string]HandlerFunc),
		subs:    make(map[string]*SubscriptionSpec),
		unsubs:  make(map[string]*SubscriptionSpec),
	}
}

// Register adds a plain request handler under method.
func (r *Registry) Register(method string, h HandlerFunc) error {
	if method == "" || h == nil {
		return errors.New("method name and handler required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(method) {
		return fmt.Errorf("%w: %s", ErrMethodRegistered, method)
	}
	r.methods[method] = h
	return nil
}

// RegisterSubscription adds a subscription family: the subscribe method, the
// notification method items are pushed under, and the unsubscribe method.
func (r *Registry) RegisterSubscription(spec SubscriptionSpec) error {
	if spec.SubscribeMethod == "" || spec.UnsubscribeMethod == "" || spec.NotifyMethod == "" || spec.Accept == nil {
		return errors.New("subscription spec incomplete")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taken(spec.SubscribeMethod) {
		return fmt.Errorf("%w: %s", ErrMethodRegistered, spec.SubscribeMethod)
	}
	if r.taken(spec.UnsubscribeMethod) {
		return fmt.Errorf("%w: %s", ErrMethodRegistered, spec.UnsubscribeMethod)
	}
	s := spec
	r.subs[spec.SubscribeMethod] = &s
	r.unsubs[spec.UnsubscribeMethod] = &s
	return nil
}

// Lookup returns the plain handler for method.
func (r *Registry) Lookup(method string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.methods[method]
	return h, ok
}

// LookupSubscribe returns the subscription spec whose subscribe method is
// method.
func (r *Registry) LookupSubscribe(method string) (*SubscriptionSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[method]
	return s, ok
}

// LookupUnsubscribe returns the subscription spec whose unsubscribe method is
// method.
func (r *Registry) LookupUnsubscribe(method string) (*SubscriptionSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.unsubs[method]
	return s, ok
}

func (r *Registry) taken(method string) bool {
	if _, ok := r.methods[method]; ok {
		return true
	}
	if _, ok := r.subs[method]; ok {
		return true
	}
	if _, ok := r.unsubs[method]; ok {
		return true
	}
	return false
}
