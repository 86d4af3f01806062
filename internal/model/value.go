package model

import (
	"encoding/json"
	"strconv"
)

// ValueKind identifies the JSON type a scalar came from.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
)

func (k ValueKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "null"
	}
}

// Value is a scalar cell. Numbers keep their literal text so that "1.0" and
// "1" stay distinct and no precision is lost.
type Value struct {
	kind ValueKind
	text string
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, text: s} }

// Number returns a number value from its JSON literal.
func Number(lit string) Value { return Value{kind: KindNumber, text: lit} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, text: strconv.FormatBool(b)} }

func (v Value) Kind() ValueKind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Text returns the textual form stored in value columns. Null yields "".
func (v Value) Text() string { return v.text }

// SQL returns the value as a database argument: nil for null, text otherwise.
func (v Value) SQL() any {
	if v.kind == KindNull {
		return nil
	}
	return v.text
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return v.text
}

// MarshalJSON renders the value as the JSON scalar it was parsed from.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.text)
	case KindNumber, KindBool:
		return []byte(v.text), nil
	default:
		return []byte("null"), nil
	}
}
