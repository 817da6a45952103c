// Package wire implements the JSON-RPC 2.0 message model: typed requests,
// responses, notifications, subscription envelopes, and batches, along with
// strict decode-time classification and the protocol's error codes.
//
// Decoding is a pure function over one frame of bytes. It never blocks and has
// no side effects; routing the classified result is the caller's concern.
package wire

import (
	"encoding/json"
	"fmt"
)

// Version is the protocol version literal carried by every message.
const Version = "2.0"

// Protocol error codes. The -327xx and -326xx values are fixed by the
// JSON-RPC 2.0 specification and must be preserved bit-exact. The remaining
// values sit in the implementation-defined server range.
const (
	CodeParseError     int64 = -32700
	CodeInvalidRequest int64 = -32600
	CodeMethodNotFound int64 = -32601
	CodeInvalidParams  int64 = -32602
	CodeInternalError  int64 = -32603
	CodeServerBusy     int64 = -32604

	// CodeCallFailed is returned when a method handler fails without
	// supplying its own application error.
	CodeCallFailed int64 = -32000

	// CodeBatchesNotSupported is returned for inbound batches when the peer
	// has disabled batch handling.
	CodeBatchesNotSupported int64 = -32005
)

// Request is a JSON-RPC request or, when ID is nil, a notification.
type Request struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Method         string          `json:"method"`
	Params         json.RawMessage `json:"params,omitempty"`
	ID             *ID             `json:"id,omitempty"`
}

// Response is a JSON-RPC response carrying exactly one of Result or Error.
// The ID member is always serialized; responses that cannot be attributed to
// a request carry the explicit null ID.
type Response struct {
	JSONRPCVersion string          `json:"jsonrpc"`
	Result         json.RawMessage `json:"result,omitempty"`
	Error          *Error          `json:"error,omitempty"`
	ID             *ID             `json:"id"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface so application errors returned by
// method handlers pass through the engine unmodified.
func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request, marshaling params. A nil id produces a
// notification.
func NewRequest(id *ID, method string, params any) (*Request, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{JSONRPCVersion: Version, Method: method, Params: raw, ID: id}, nil
}

// NewResultResponse builds a successful response for the given id.
func NewResultResponse(id *ID, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	if id == nil {
		null := NullID()
		id = &null
	}
	return &Response{JSONRPCVersion: Version, Result: raw, ID: id}, nil
}

// NewErrorResponse builds an error response for the given id. A nil id is
// serialized as the explicit null ID.
func NewErrorResponse(id *ID, code int64, message string, data any) *Response {
	if id == nil {
		null := NullID()
		id = &null
	}
	e := &Error{Code: code, Message: message}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			e.Data = raw
		}
	}
	return &Response{JSONRPCVersion: Version, Error: e, ID: id}
}

// NewErrorResponseFor picks the response error for a handler failure: a
// *wire.Error passes through unmodified, anything else becomes CodeCallFailed
// with the error text as data.
func NewErrorResponseFor(id *ID, err error) *Response {
	if we, ok := err.(*Error); ok {
		if id == nil {
			null := NullID()
			id = &null
		}
		return &Response{JSONRPCVersion: Version, Error: we, ID: id}
	}
	return NewErrorResponse(id, CodeCallFailed, "call failed", err.Error())
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}
