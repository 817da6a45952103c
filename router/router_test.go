package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func noop(ctx context.Context, params json.RawMessage) (any, error) { return nil, nil }

func accept(ctx context.Context, params json.RawMessage, sink Sink) error { return nil }

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	if err := r.Register("sum", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, ok := r.Lookup("sum"); !ok {
		t.Fatal("registered method not found")
	}
	if _, ok := r.Lookup("missing"); ok {
		t.Fatal("unregistered method found")
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	if err := r.Register("sum", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("sum", noop); !errors.Is(err, ErrMethodRegistered) {
		t.Fatalf("got %v, want ErrMethodRegistered", err)
	}
}

func TestRegisterInvalid(t *testing.T) {
	r := New()
	if err := r.Register("", noop); err == nil {
		t.Fatal("empty method name must be rejected")
	}
	if err := r.Register("sum", nil); err == nil {
		t.Fatal("nil handler must be rejected")
	}
}

func TestRegisterSubscriptionFamily(t *testing.T) {
	r := New()
	spec := SubscriptionSpec{
		SubscribeMethod:   "chain_subscribe",
		NotifyMethod:      "chain_head",
		UnsubscribeMethod: "chain_unsubscribe",
		Accept:            accept,
	}
	if err := r.RegisterSubscription(spec); err != nil {
		t.Fatalf("register: %v", err)
	}
	if s, ok := r.LookupSubscribe("chain_subscribe"); !ok || s.NotifyMethod != "chain_head" {
		t.Fatal("subscribe lookup failed")
	}
	if s, ok := r.LookupUnsubscribe("chain_unsubscribe"); !ok || s.SubscribeMethod != "chain_subscribe" {
		t.Fatal("unsubscribe lookup failed")
	}
	if _, ok := r.Lookup("chain_subscribe"); ok {
		t.Fatal("subscribe method must not appear as a plain handler")
	}
}

func TestSubscriptionNameCollisions(t *testing.T) {
	r := New()
	if err := r.Register("taken", noop); err != nil {
		t.Fatalf("register: %v", err)
	}
	err := r.RegisterSubscription(SubscriptionSpec{
		SubscribeMethod:   "taken",
		NotifyMethod:      "n",
		UnsubscribeMethod: "u",
		Accept:            accept,
	})
	if !errors.Is(err, ErrMethodRegistered) {
		t.Fatalf("got %v, want ErrMethodRegistered", err)
	}
	err = r.RegisterSubscription(SubscriptionSpec{
		SubscribeMethod:   "s",
		NotifyMethod:      "n",
		UnsubscribeMethod: "taken",
		Accept:            accept,
	})
	if !errors.Is(err, ErrMethodRegistered) {
		t.Fatalf("got %v, want ErrMethodRegistered", err)
	}
	if err := r.RegisterSubscription(SubscriptionSpec{SubscribeMethod: "s"}); err == nil {
		t.Fatal("incomplete spec must be rejected")
	}
}
