package duplex

import (
	"context"
	"encoding/json"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/duplexrpc/duplex-go/router"
)

// Option configures a Conn.
type Option func(*Conn)

// WithConfig replaces the connection's limits. Zero-valued bounds fall back
// to the defaults.
func WithConfig(cfg Config) Option {
	return func(c *Conn) { c.cfg = cfg.withDefaults() }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conn) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRegistry puts the connection in the server role for inbound requests:
// they are dispatched against reg instead of being answered with
// method-not-found.
func WithRegistry(reg *router.Registry) Option {
	return func(c *Conn) { c.registry = reg }
}

// WithNotificationHandler registers the sink for inbound notifications that
// are not subscription envelopes. Without one they are dropped, which is
// never an error.
func WithNotificationHandler(h func(ctx context.Context, method string, params json.RawMessage)) Option {
	return func(c *Conn) { c.onNotify = h }
}

// WithProtocolErrorHandler registers the connection-level sink for inbound
// frames that fail to decode. Decode failures are fatal to the frame, never
// to the connection; without a handler they are only counted and logged.
func WithProtocolErrorHandler(h func(err error)) Option {
	return func(c *Conn) { c.onProtocolErr = h }
}

// WithCallRateLimit rejects inbound method invocations above a sustained
// rate with the server-busy error code, on top of the concurrency bound.
func WithCallRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Conn) { c.limiter = rate.NewLimiter(limit, burst) }
}
