package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind classifies a decoded frame.
type Kind int

const (
	KindRequest Kind = iota
	KindNotification
	KindResponse
	KindSubscriptionEnvelope
	KindBatch
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	case KindSubscriptionEnvelope:
		return "subscription"
	case KindBatch:
		return "batch"
	default:
		return "invalid"
	}
}

// Decode-level conditions. ErrEmptyBatch is distinguished so server-role
// callers can answer it with the protocol's invalid-request response rather
// than a parse error.
var (
	ErrEmptyBatch = errors.New("empty batch array")
)

// Frame is one classified inbound unit: a single message or a batch of
// per-entry outcomes. Single-message fields are populated for every kind
// except KindBatch.
type Frame struct {
	kind Kind

	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *Error
	ID     *ID

	// Subscription envelope fields, populated for KindSubscriptionEnvelope.
	SubscriptionID string
	Item           json.RawMessage

	// Batch entries, populated for KindBatch.
	Batch []BatchEntry
}

// BatchEntry is one element of a decoded batch. Exactly one of Frame and Err
// is set; a malformed entry never poisons its siblings. Raw retains the entry
// bytes so a recoverable id can still be answered.
type BatchEntry struct {
	Frame *Frame
	Err   error
	Raw   json.RawMessage
}

// RecoverID attempts to extract a usable id from a malformed batch entry so
// the decode error can be attributed to it. Returns nil when no id is
// separable.
func (e *BatchEntry) RecoverID() *ID {
	var probe struct {
		ID *ID `json:"id"`
	}
	if err := json.Unmarshal(e.Raw, &probe); err != nil {
		return nil
	}
	return probe.ID
}

// Kind returns the frame's classification.
func (f *Frame) Kind() Kind { return f.kind }

// AsResponse returns the frame as a response. Valid only for KindResponse.
func (f *Frame) AsResponse() *Response {
	return &Response{JSONRPCVersion: Version, Result: f.Result, Error: f.Error, ID: f.ID}
}

// AsRequest returns the frame as a request or notification.
func (f *Frame) AsRequest() *Request {
	return &Request{JSONRPCVersion: Version, Method: f.Method, Params: f.Params, ID: f.ID}
}

// envelopeParams is the canonical push-notification payload shape: the
// server-assigned subscription id plus one item.
type envelopeParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// NewSubscriptionEnvelope builds the notification carrying one subscription
// item, for the producing side of a connection.
func NewSubscriptionEnvelope(method, subscriptionID string, item any) (*Request, error) {
	raw, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return NewRequest(nil, method, envelopeParams{Subscription: subscriptionID, Result: raw})
}

// Decode parses and validates one frame. Batches are decoded entry by entry
// with per-entry error isolation; an empty batch array fails with
// ErrEmptyBatch. Unknown top-level members are ignored for forward
// compatibility.
func Decode(data []byte) (*Frame, error) {
	trimmed := trimLeftSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("empty frame")
	}
	if trimmed[0] == '[' {
		return decodeBatch(trimmed)
	}
	return decodeSingle(trimmed)
}

func decodeBatch(data []byte) (*Frame, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("malformed batch: %w", err)
	}
	if len(raws) == 0 {
		return nil, ErrEmptyBatch
	}
	entries := make([]BatchEntry, 0, len(raws))
	for _, raw := range raws {
		f, err := decodeSingle(raw)
		if err != nil {
			entries = append(entries, BatchEntry{Err: err, Raw: raw})
			continue
		}
		entries = append(entries, BatchEntry{Frame: f, Raw: raw})
	}
	return &Frame{kind: KindBatch, Batch: entries}, nil
}

func decodeSingle(data []byte) (*Frame, error) {
	var raw struct {
		JSONRPCVersion string          `json:"jsonrpc"`
		Method         string          `json:"method"`
		Params         json.RawMessage `json:"params"`
		Result         json.RawMessage `json:"result"`
		Error          *Error          `json:"error"`
		ID             *ID             `json:"id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if raw.JSONRPCVersion != Version {
		return nil, fmt.Errorf("unsupported version %q", raw.JSONRPCVersion)
	}

	hasResult := len(raw.Result) > 0
	hasError := raw.Error != nil

	if raw.Method != "" {
		if hasResult || hasError {
			return nil, errors.New("request carries result or error member")
		}
		f := &Frame{Method: raw.Method, Params: raw.Params, ID: raw.ID}
		// An id-less (or null-id) method message is a notification and is
		// never answered.
		if raw.ID == nil || raw.ID.IsNull() {
			f.kind = KindNotification
			f.ID = nil
			if sub, item, ok := envelopeFields(raw.Params); ok {
				f.kind = KindSubscriptionEnvelope
				f.SubscriptionID = sub
				f.Item = item
			}
			return f, nil
		}
		f.kind = KindRequest
		return f, nil
	}

	if hasResult && hasError {
		return nil, errors.New("response carries both result and error")
	}
	if !hasResult && !hasError {
		return nil, errors.New("message has neither method nor result nor error")
	}
	if raw.ID == nil || raw.ID.IsNull() {
		return nil, errors.New("response carries no usable id")
	}
	return &Frame{kind: KindResponse, Result: raw.Result, Error: raw.Error, ID: raw.ID}, nil
}

func envelopeFields(params json.RawMessage) (string, json.RawMessage, bool) {
	if len(params) == 0 {
		return "", nil, false
	}
	var env envelopeParams
	if err := json.Unmarshal(params, &env); err != nil || env.Subscription == "" {
		return "", nil, false
	}
	return env.Subscription, env.Result, true
}

func trimLeftSpace(data []byte) []byte {
	for len(data) > 0 {
		switch data[0] {
		case ' ', '\t', '\n', '\r':
			data = data[1:]
		default:
			return data
		}
	}
	return data
}
