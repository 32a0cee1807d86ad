package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface for the values an event can carry for a field.
// Only String, Int and Bool implement it. NO floats: they break equality and
// hashing determinism.
//
// A nil Value means the field is absent from the event.
type Value interface {
	value() // Sealed
	Kind() ValueKind
}

// ValueKind names the concrete type behind a Value.
type ValueKind string

const (
	KindString ValueKind = "string"
	KindInt    ValueKind = "int"
	KindBool   ValueKind = "bool"
)

// String is a text field value.
type String string

func (String) value()          {}
func (String) Kind() ValueKind { return KindString }

// Int is an integer field value. Always int64, never float64.
type Int int64

func (Int) value()          {}
func (Int) Kind() ValueKind { return KindInt }

// Bool is a boolean field value.
type Bool bool

func (Bool) value()          {}
func (Bool) Kind() ValueKind { return KindBool }

// Object is a string-keyed map used to build canonical documents for hashing
// and golden snapshots. It is not a field value.
type Object map[string]any

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// Go's sort.Strings uses UTF-8 byte order, which differs for astral runes.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units as required by
// RFC 8785.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	for i := 0; i < min(len(a16), len(b16)); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// ValuesEqual reports whether two optional values are identical. Two absent
// values are equal; an absent value never equals a present one.
func ValuesEqual(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}

// FormatValue renders an optional value for logs and CLI output.
func FormatValue(v Value) string {
	switch val := v.(type) {
	case nil:
		return "<absent>"
	case String:
		return fmt.Sprintf("%q", string(val))
	case Int:
		return fmt.Sprintf("%d", int64(val))
	case Bool:
		return fmt.Sprintf("%t", bool(val))
	default:
		return fmt.Sprintf("%v", v)
	}
}

// MarshalValue marshals an optional value to plain JSON. Absent becomes null.
func MarshalValue(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	default:
		return nil, fmt.Errorf("unknown Value type: %T", v)
	}
}

// UnmarshalValue decodes a JSON scalar into a Value with strict validation.
// JSON null decodes to an absent value. Floats, arrays and objects are
// rejected.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}

	switch val := raw.(type) {
	case nil:
		return nil, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are forbidden in field values: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	default:
		return nil, fmt.Errorf("unsupported field value type: %T", raw)
	}
}
