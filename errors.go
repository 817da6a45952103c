package duplex

import (
	"errors"

	"github.com/duplexrpc/duplex-go/internal/pending"
	"github.com/duplexrpc/duplex-go/internal/subs"
)

var (
	// ErrConnClosed is the terminal error delivered to every outstanding
	// call and subscription when the connection tears down. It is raised
	// exactly once per connection lifetime.
	ErrConnClosed = errors.New("connection closed")

	// ErrDuplicateID signals a register for a request id already in flight.
	// Seeing it means the id allocator was bypassed or misused.
	ErrDuplicateID = pending.ErrDuplicateID

	// ErrCallTimeout settles a call whose deadline passed before a response.
	ErrCallTimeout = pending.ErrTimeout

	// ErrCallCancelled settles a call abandoned by its caller.
	ErrCallCancelled = pending.ErrCancelled

	// ErrUnknownSubscribeRequest signals a subscription confirmation for a
	// request that was never a pending subscribe.
	ErrUnknownSubscribeRequest = subs.ErrUnknownSubscribeRequest

	// ErrSubscriptionClosed is returned by server-side sinks once the peer
	// has unsubscribed or the connection closed.
	ErrSubscriptionClosed = errors.New("subscription closed")
)
