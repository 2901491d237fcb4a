// Package scval holds the typed value representation used for contract call
// arguments and return values, and the codec that produces it from native Go
// values.
package scval

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
)

type Kind int

const (
	KindVoid Kind = iota
	KindAddress
	KindSymbol
	KindString
	KindU32
	KindI128
	KindBool
	KindVec
	KindRaw
)

var kindNames = map[Kind]string{
	KindVoid:    "void",
	KindAddress: "address",
	KindSymbol:  "symbol",
	KindString:  "string",
	KindU32:     "u32",
	KindI128:    "i128",
	KindBool:    "bool",
	KindVec:     "vec",
	KindRaw:     "raw",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

var (
	maxI128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	minI128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
)

// Value is a tagged union; exactly one of the payload fields is meaningful,
// selected by kind. The zero Value is Void.
type Value struct {
	kind Kind
	str  string
	u32  uint32
	i128 *big.Int
	b    bool
	vec  []Value
	raw  json.RawMessage
}

func Void() Value { return Value{} }

func Address(addr string) Value { return Value{kind: KindAddress, str: addr} }

func Symbol(sym string) Value { return Value{kind: KindSymbol, str: sym} }

// Enum encodes a unit enum variant the way contracts expect it: a vector
// holding a single symbol.
func Enum(tag string) Value { return Vec(Symbol(tag)) }

func String(s string) Value { return Value{kind: KindString, str: s} }

func U32(v uint32) Value { return Value{kind: KindU32, u32: v} }

func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

func Vec(items ...Value) Value {
	return Value{kind: KindVec, vec: append([]Value(nil), items...)}
}

// I128 copies v; it fails when v does not fit in a signed 128-bit integer.
func I128(v *big.Int) (Value, error) {
	if v == nil {
		return Value{}, errors.New("i128 value is nil")
	}
	if v.Cmp(maxI128) > 0 || v.Cmp(minI128) < 0 {
		return Value{}, fmt.Errorf("value %s overflows i128", v)
	}
	return Value{kind: KindI128, i128: new(big.Int).Set(v)}, nil
}

// MustI128 is I128 for values known to be in range.
func MustI128(v *big.Int) Value {
	val, err := I128(v)
	if err != nil {
		panic(err)
	}
	return val
}

// Raw wraps an already-encoded value. It is passed through unchanged.
func Raw(encoded json.RawMessage) Value {
	return Value{kind: KindRaw, raw: append(json.RawMessage(nil), encoded...)}
}

func (v Value) Kind() Kind { return v.kind }

// Str returns the payload of Address, Symbol and String values.
func (v Value) Str() string { return v.str }

func (v Value) Items() []Value { return v.vec }

// Native decodes the value to a plain Go value: string, uint32, *big.Int,
// bool, []any, json.RawMessage or nil.
func (v Value) Native() any {
	switch v.kind {
	case KindAddress, KindSymbol, KindString:
		return v.str
	case KindU32:
		return v.u32
	case KindI128:
		return new(big.Int).Set(v.i128)
	case KindBool:
		return v.b
	case KindVec:
		out := make([]any, len(v.vec))
		for i, item := range v.vec {
			out[i] = item.Native()
		}
		return out
	case KindRaw:
		return v.raw
	default:
		return nil
	}
}

// AsBigInt interprets an integer value.
func (v Value) AsBigInt() (*big.Int, error) {
	switch v.kind {
	case KindI128:
		return new(big.Int).Set(v.i128), nil
	case KindU32:
		return new(big.Int).SetUint64(uint64(v.u32)), nil
	default:
		return nil, fmt.Errorf("expected integer value, got %s", v.kind)
	}
}

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, fmt.Errorf("expected bool value, got %s", v.kind)
	}
	return v.b, nil
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindI128:
		return v.i128.Cmp(o.i128) == 0
	case KindVec:
		if len(v.vec) != len(o.vec) {
			return false
		}
		for i := range v.vec {
			if !v.vec[i].Equal(o.vec[i]) {
				return false
			}
		}
		return true
	case KindRaw:
		return string(v.raw) == string(o.raw)
	default:
		return v.str == o.str && v.u32 == o.u32 && v.b == o.b
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindVoid:
		return "void"
	case KindRaw:
		return "raw(" + string(v.raw) + ")"
	case KindVec:
		return fmt.Sprintf("vec%v", v.vec)
	default:
		return fmt.Sprintf("%s(%v)", v.kind, v.Native())
	}
}

type wireValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindRaw {
		if len(v.raw) == 0 {
			return []byte("null"), nil
		}
		return v.raw, nil
	}
	var payload any
	switch v.kind {
	case KindVoid:
		return json.Marshal(wireValue{Type: "void"})
	case KindAddress, KindSymbol, KindString:
		payload = v.str
	case KindU32:
		payload = v.u32
	case KindI128:
		payload = v.i128.String()
	case KindBool:
		payload = v.b
	case KindVec:
		payload = v.vec
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Type: v.kind.String(), Value: b})
}

// UnmarshalJSON accepts the typed wire form; anything it does not recognise
// is kept as a Raw value.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil || w.Type == "" {
		*v = Raw(data)
		return nil
	}
	switch w.Type {
	case "void":
		*v = Void()
	case "address", "symbol", "string":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("decode %s: %w", w.Type, err)
		}
		*v = Value{kind: kindByName(w.Type), str: s}
	case "u32":
		var n uint32
		if err := json.Unmarshal(w.Value, &n); err != nil {
			return fmt.Errorf("decode u32: %w", err)
		}
		*v = U32(n)
	case "i128":
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("decode i128: %w", err)
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return fmt.Errorf("decode i128: invalid integer %q", s)
		}
		val, err := I128(n)
		if err != nil {
			return err
		}
		*v = val
	case "bool":
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("decode bool: %w", err)
		}
		*v = Bool(b)
	case "vec":
		var items []Value
		if err := json.Unmarshal(w.Value, &items); err != nil {
			return fmt.Errorf("decode vec: %w", err)
		}
		*v = Vec(items...)
	default:
		*v = Raw(data)
	}
	return nil
}

func kindByName(name string) Kind {
	for k, n := range kindNames {
		if n == name {
			return k
		}
	}
	return KindRaw
}
