package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ID is a JSON-RPC request identifier: a string, an integer, or an explicit
// null. The zero value is the null ID. A message with no id member at all is
// represented by a nil *ID, which is how notifications are distinguished from
// requests.
type ID struct {
	value any // string | int64 | nil
}

// StringID returns an ID holding the given string.
func StringID(s string) ID { return ID{value: s} }

// Int64ID returns an ID holding the given integer.
func Int64ID(n int64) ID { return ID{value: n} }

// NullID returns the explicit null ID, used on responses that cannot be
// attributed to a request (parse errors, invalid batches).
func NullID() ID { return ID{} }

// IsNull reports whether the ID is the explicit null value.
func (id *ID) IsNull() bool {
	return id == nil || id.value == nil
}

// Value returns the underlying string or int64, or nil for the null ID.
func (id *ID) Value() any {
	if id == nil {
		return nil
	}
	return id.value
}

// String returns the canonical key form of the ID. String IDs and integer IDs
// occupy distinct key spaces so that id "7" and id 7 never collide.
func (id *ID) String() string {
	if id == nil || id.value == nil {
		return ""
	}
	switch v := id.value.(type) {
	case string:
		return "s:" + v
	case int64:
		return "n:" + strconv.FormatInt(v, 10)
	default:
		panic("unreachable: ID holds unsupported type")
	}
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(id.value)
}

// UnmarshalJSON implements json.Unmarshaler. Fractional and exponential
// numbers, booleans, arrays and objects are rejected: the protocol only
// permits strings, integers, and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		id.value = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		id.value = str
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("id must be a string, integer, or null, got %s", s)
	}
	n, err := num.Int64()
	if err != nil {
		return fmt.Errorf("id must be an integer, got %s", s)
	}
	id.value = n
	return nil
}
