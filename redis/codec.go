package redis

import (
	"encoding/json"
	"fmt"
)

// ValueKind tags how a stored or published payload was decoded.
type ValueKind int

const (
	// Raw payloads are not valid JSON and are delivered as the stored text.
	Raw ValueKind = iota
	// Structured payloads decoded as JSON.
	Structured
)

func (k ValueKind) String() string {
	if k == Structured {
		return "structured"
	}
	return "raw"
}

// Value is a decoded payload. Decoding never fails: text that is not JSON is
// kept as a Raw value so that plain strings and encoded values can share the
// store.
type Value struct {
	kind ValueKind
	text string
	data any
}

// decodeValue attempts a structured decode and falls back to raw.
func decodeValue(text string) Value {
	var data any
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return Value{kind: Raw, text: text}
	}
	return Value{kind: Structured, text: text, data: data}
}

// encodeValue renders a value for storage. Strings (and byte slices) are
// stored as-is, everything else is JSON encoded.
func encodeValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case json.RawMessage:
		return string(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: cannot encode %T: %v", ErrInvalidArgument, v, err)
	}
	return string(b), nil
}

func (v Value) Kind() ValueKind {
	return v.kind
}

func (v Value) IsStructured() bool {
	return v.kind == Structured
}

// Text is the payload exactly as stored.
func (v Value) Text() string {
	return v.text
}

// Data is the generic JSON decoding (map[string]any, []any, float64, string,
// bool or nil) of a Structured value, and the text of a Raw one.
func (v Value) Data() any {
	if v.kind == Structured {
		return v.data
	}
	return v.text
}

// Decode unmarshals the payload into target. *string and *[]byte targets
// always receive the stored text, matching how strings and byte slices are
// stored.
func (v Value) Decode(target any) error {
	switch t := target.(type) {
	case *string:
		*t = v.text
		return nil
	case *[]byte:
		*t = []byte(v.text)
		return nil
	}
	if v.kind != Structured {
		return fmt.Errorf("cannot decode raw value into %T", target)
	}
	return json.Unmarshal([]byte(v.text), target)
}

// decodeAs is the typed form of Value.Decode.
func decodeAs[T any](v Value) (T, error) {
	var t T
	err := v.Decode(&t)
	return t, err
}
