// Package duplex is a transport-agnostic JSON-RPC 2.0 engine for both sides
// of a connection: it correlates requests with responses, manages
// subscription lifecycles, processes batches, and dispatches inbound
// requests to registered method handlers under bounded concurrency.
//
// The engine owns one Conn per logical connection. Bytes move through a
// transport.Transport; method semantics live in a router.Registry; the wire
// package holds the message model. Everything else - pending-call tracking,
// subscription registration and delivery, teardown - is internal to the
// Conn and reachable only through opaque handles.
package duplex
