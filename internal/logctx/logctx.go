// Package logctx enriches log records with the RPC message being processed.
// The engine attaches message data to the handler context; any slog output
// routed through Handler picks it up without threading attrs by hand.
package logctx

import (
	"context"
	"log/slog"
)

// Handler wraps an slog.Handler and appends an "rpc" group to every record
// whose context carries message data.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if msg, ok := ctx.Value(rpcMsgKey{}).(*Message); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("kind", msg.Kind),
		))
	}
	return h.Handler.Handle(ctx, r)
}

type rpcMsgKey struct{}

// Message identifies the inbound message a handler is servicing.
type Message struct {
	Method string
	ID     string
	Kind   string
}

// WithMessage attaches msg to ctx for Handler to pick up.
func WithMessage(ctx context.Context, msg *Message) context.Context {
	return context.WithValue(ctx, rpcMsgKey{}, msg)
}

// FromContext returns the attached message, if any.
func FromContext(ctx context.Context) (*Message, bool) {
	msg, ok := ctx.Value(rpcMsgKey{}).(*Message)
	return msg, ok
}
