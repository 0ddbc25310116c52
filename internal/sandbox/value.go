package sandbox

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the variant held by a Value
type Kind string

const (
	KindI32    Kind = "i32"
	KindI64    Kind = "i64"
	KindF32    Kind = "f32"
	KindF64    Kind = "f64"
	KindBytes  Kind = "bytes"
	KindString Kind = "string"
	KindList   Kind = "list"
)

// Value is the closed tagged-variant type crossing the sandbox boundary.
// Arguments and results are always expressed as Values, never as the
// guest's native representation.
type Value struct {
	kind  Kind
	num   uint64
	bytes []byte
	list  []Value
}

// I32 creates a 32-bit integer value
func I32(v int32) Value {
	return Value{kind: KindI32, num: uint64(uint32(v))}
}

// I64 creates a 64-bit integer value
func I64(v int64) Value {
	return Value{kind: KindI64, num: uint64(v)}
}

// F32 creates a 32-bit float value
func F32(v float32) Value {
	return Value{kind: KindF32, num: uint64(math.Float32bits(v))}
}

// F64 creates a 64-bit float value
func F64(v float64) Value {
	return Value{kind: KindF64, num: math.Float64bits(v)}
}

// Bytes creates a byte-sequence value. The input is copied so the Value
// never aliases caller-owned memory.
func Bytes(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindBytes, bytes: cp}
}

// Str creates a string value
func Str(s string) Value {
	return Value{kind: KindString, bytes: []byte(s)}
}

// List creates a nested-sequence value
func List(vs ...Value) Value {
	return Value{kind: KindList, list: vs}
}

// Kind returns the variant tag
func (v Value) Kind() Kind {
	return v.kind
}

// AsI32 returns the i32 payload and whether the value holds one
func (v Value) AsI32() (int32, bool) {
	if v.kind != KindI32 {
		return 0, false
	}
	return int32(uint32(v.num)), true
}

// AsI64 returns the i64 payload and whether the value holds one
func (v Value) AsI64() (int64, bool) {
	if v.kind != KindI64 {
		return 0, false
	}
	return int64(v.num), true
}

// AsF32 returns the f32 payload and whether the value holds one
func (v Value) AsF32() (float32, bool) {
	if v.kind != KindF32 {
		return 0, false
	}
	return math.Float32frombits(uint32(v.num)), true
}

// AsF64 returns the f64 payload and whether the value holds one
func (v Value) AsF64() (float64, bool) {
	if v.kind != KindF64 {
		return 0, false
	}
	return math.Float64frombits(v.num), true
}

// AsBytes returns the byte payload and whether the value holds one
func (v Value) AsBytes() ([]byte, bool) {
	if v.kind != KindBytes {
		return nil, false
	}
	return v.bytes, true
}

// AsString returns the string payload and whether the value holds one
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return string(v.bytes), true
}

// AsList returns the element slice and whether the value holds one
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// IsNumeric reports whether the value maps directly to a WASM stack slot
func (v Value) IsNumeric() bool {
	switch v.kind {
	case KindI32, KindI64, KindF32, KindF64:
		return true
	}
	return false
}

// String renders a human-readable form for logs and CLI output
func (v Value) String() string {
	switch v.kind {
	case KindI32:
		return strconv.FormatInt(int64(int32(uint32(v.num))), 10)
	case KindI64:
		return strconv.FormatInt(int64(v.num), 10)
	case KindF32:
		return strconv.FormatFloat(float64(math.Float32frombits(uint32(v.num))), 'g', -1, 32)
	case KindF64:
		return strconv.FormatFloat(math.Float64frombits(v.num), 'g', -1, 64)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.bytes)
	case KindString:
		return strconv.Quote(string(v.bytes))
	case KindList:
		s := "["
		for i, e := range v.list {
			if i > 0 {
				s += ", "
			}
			s += e.String()
		}
		return s + "]"
	}
	return "<invalid>"
}

// valueEnvelope is the wire form: {"kind": "...", "value": ...}
type valueEnvelope struct {
	Kind  Kind            `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as a kind-tagged envelope
func (v Value) MarshalJSON() ([]byte, error) {
	var payload interface{}
	switch v.kind {
	case KindI32:
		payload = int32(uint32(v.num))
	case KindI64:
		payload = int64(v.num)
	case KindF32:
		payload = math.Float32frombits(uint32(v.num))
	case KindF64:
		payload = math.Float64frombits(v.num)
	case KindBytes:
		payload = base64.StdEncoding.EncodeToString(v.bytes)
	case KindString:
		payload = string(v.bytes)
	case KindList:
		if v.list == nil {
			payload = []Value{}
		} else {
			payload = v.list
		}
	default:
		return nil, fmt.Errorf("cannot marshal value of kind %q", v.kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueEnvelope{Kind: v.kind, Value: raw})
}

// UnmarshalJSON decodes a kind-tagged envelope
func (v *Value) UnmarshalJSON(data []byte) error {
	var env valueEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	switch env.Kind {
	case KindI32:
		var n int32
		if err := json.Unmarshal(env.Value, &n); err != nil {
			return fmt.Errorf("i32 value: %w", err)
		}
		*v = I32(n)
	case KindI64:
		var n int64
		if err := json.Unmarshal(env.Value, &n); err != nil {
			return fmt.Errorf("i64 value: %w", err)
		}
		*v = I64(n)
	case KindF32:
		var n float32
		if err := json.Unmarshal(env.Value, &n); err != nil {
			return fmt.Errorf("f32 value: %w", err)
		}
		*v = F32(n)
	case KindF64:
		var n float64
		if err := json.Unmarshal(env.Value, &n); err != nil {
			return fmt.Errorf("f64 value: %w", err)
		}
		*v = F64(n)
	case KindBytes:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return fmt.Errorf("bytes value: %w", err)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fmt.Errorf("bytes value: %w", err)
		}
		*v = Value{kind: KindBytes, bytes: b}
	case KindString:
		var s string
		if err := json.Unmarshal(env.Value, &s); err != nil {
			return fmt.Errorf("string value: %w", err)
		}
		*v = Str(s)
	case KindList:
		var vs []Value
		if err := json.Unmarshal(env.Value, &vs); err != nil {
			return fmt.Errorf("list value: %w", err)
		}
		*v = List(vs...)
	default:
		return fmt.Errorf("unknown value kind %q", env.Kind)
	}
	return nil
}
