// Package transport defines the byte-frame interface the engine consumes.
// Framing, connection establishment, TLS, and HTTP semantics all live behind
// this boundary; the engine only ever sees whole encoded JSON-RPC units.
package transport

import "context"

// Transport carries opaque frames in both directions. Each frame holds
// exactly one encoded JSON-RPC unit, single or batch.
//
// Send must be safe for concurrent use. Recv is called by a single reader;
// it returns io.EOF (or a transport-specific error) once the connection is
// gone, which the engine treats as the teardown signal.
type Transport interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}
