package row

import (
	"fmt"
	"strings"
)

// Kind tags which variant a Value holds.
type Kind int

const (
	Missing Kind = iota
	Raw
	Known
)

func (k Kind) String() string {
	switch k {
	case Missing:
		return "missing"
	case Raw:
		return "raw"
	case Known:
		return "known"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is one cell of a source row. A cell is either absent, an untyped
// string straight from the source, or a value already coerced to a Go type.
type Value struct {
	kind  Kind
	raw   string
	typed any
}

// MissingValue returns the empty variant.
func MissingValue() Value {
	return Value{kind: Missing}
}

// RawValue wraps a source string. Blank strings and the usual null spellings
// collapse to Missing.
func RawValue(s string) Value {
	t := strings.TrimSpace(s)
	if isNullToken(t) {
		return Value{kind: Missing}
	}
	return Value{kind: Raw, raw: t}
}

// KnownValue wraps an already typed value.
func KnownValue(v any) Value {
	if v == nil {
		return Value{kind: Missing}
	}
	return Value{kind: Known, typed: v}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsMissing() bool { return v.kind == Missing }

// Raw returns the source string for Raw values.
func (v Value) Raw() (string, bool) {
	if v.kind != Raw {
		return "", false
	}
	return v.raw, true
}

// Typed returns the Go value for Known values.
func (v Value) Typed() (any, bool) {
	if v.kind != Known {
		return nil, false
	}
	return v.typed, true
}

// String renders the value for messages. Missing renders as the empty string.
func (v Value) String() string {
	switch v.kind {
	case Raw:
		return v.raw
	case Known:
		return fmt.Sprint(v.typed)
	default:
		return ""
	}
}

func isNullToken(s string) bool {
	switch strings.ToLower(s) {
	case "", "null", "nil", "nan", "none", "n/a", "na":
		return true
	}
	return false
}
