package scval

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/stellar/go/strkey"
)

// ErrUnsupported is wrapped by Encode when no encoding applies to an argument.
var ErrUnsupported = errors.New("unsupported argument")

// Codec converts untyped native arguments into Values. Callers that know the
// types they are passing should build Values directly; the codec exists for
// inputs that arrive untyped (CLI flags, JSON request bodies).
type Codec struct {
	reserved map[string]struct{}
}

func NewCodec(reservedSymbols []string) *Codec {
	c := &Codec{reserved: make(map[string]struct{}, len(reservedSymbols))}
	for _, s := range reservedSymbols {
		c.reserved[s] = struct{}{}
	}
	return c
}

// IsAddress reports whether s is a 56 character account (G...) or contract
// (C...) strkey with a valid checksum.
func IsAddress(s string) bool {
	if len(s) != 56 {
		return false
	}
	if _, err := strkey.Decode(strkey.VersionByteAccountID, s); err == nil {
		return true
	}
	_, err := strkey.Decode(strkey.VersionByteContract, s)
	return err == nil
}

// Encode applies, per argument and in order: pass-through of Values, address
// detection, reserved enum tags, plain strings, u32 numbers, booleans, and a
// generic fallback for big and signed integers.
func (c *Codec) Encode(args ...any) ([]Value, error) {
	out := make([]Value, 0, len(args))
	for i, arg := range args {
		v, err := c.encodeOne(arg)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Codec) encodeOne(arg any) (Value, error) {
	switch a := arg.(type) {
	case Value:
		return a, nil
	case *Value:
		if a == nil {
			return Void(), nil
		}
		return *a, nil
	case string:
		if IsAddress(a) {
			return Address(a), nil
		}
		if _, ok := c.reserved[a]; ok {
			return Enum(a), nil
		}
		return String(a), nil
	case bool:
		return Bool(a), nil
	}
	if n, ok := asU32(arg); ok {
		return U32(n), nil
	}
	return fallback(arg)
}

func asU32(arg any) (uint32, bool) {
	var n int64
	switch a := arg.(type) {
	case uint8:
		return uint32(a), true
	case uint16:
		return uint32(a), true
	case uint32:
		return a, true
	case int8:
		n = int64(a)
	case int16:
		n = int64(a)
	case int32:
		n = int64(a)
	case int:
		n = int64(a)
	case int64:
		n = a
	case uint:
		if uint64(a) > math.MaxUint32 {
			return 0, false
		}
		return uint32(a), true
	case uint64:
		if a > math.MaxUint32 {
			return 0, false
		}
		return uint32(a), true
	case float64:
		if a != math.Trunc(a) || a < 0 || a > math.MaxUint32 {
			return 0, false
		}
		return uint32(a), true
	case json.Number:
		parsed, err := a.Int64()
		if err != nil {
			return 0, false
		}
		n = parsed
	default:
		return 0, false
	}
	if n < 0 || n > math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

func fallback(arg any) (Value, error) {
	var n *big.Int
	switch a := arg.(type) {
	case nil:
		return Void(), nil
	case *big.Int:
		n = a
	case big.Int:
		n = &a
	case int:
		n = big.NewInt(int64(a))
	case int8:
		n = big.NewInt(int64(a))
	case int16:
		n = big.NewInt(int64(a))
	case int32:
		n = big.NewInt(int64(a))
	case int64:
		n = big.NewInt(a)
	case uint:
		n = new(big.Int).SetUint64(uint64(a))
	case uint64:
		n = new(big.Int).SetUint64(a)
	case json.Number:
		parsed, ok := new(big.Int).SetString(a.String(), 10)
		if !ok {
			return Value{}, fmt.Errorf("%w: non-integer number %s", ErrUnsupported, a)
		}
		n = parsed
	case float64:
		if a != math.Trunc(a) || math.IsInf(a, 0) {
			return Value{}, fmt.Errorf("%w: non-integer number %v", ErrUnsupported, a)
		}
		n, _ = big.NewFloat(a).Int(nil)
	case []any:
		return Value{}, fmt.Errorf("%w: nested vectors must be built with scval.Vec", ErrUnsupported)
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupported, arg)
	}
	return I128(n)
}
