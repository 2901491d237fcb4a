package scval

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomAccount(t *testing.T) string {
	kp, err := keypair.Random()
	require.NoError(t, err)
	return kp.Address()
}

func TestEncodeAddresses(t *testing.T) {
	codec := NewCodec(nil)
	contract, err := strkey.Encode(strkey.VersionByteContract, make([]byte, 32))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		addr := randomAccount(t)
		require.Len(t, addr, 56)
		vals, err := codec.Encode(addr)
		require.NoError(t, err)
		assert.Equal(t, KindAddress, vals[0].Kind())
		assert.Equal(t, addr, vals[0].Str())
	}

	vals, err := codec.Encode(contract)
	require.NoError(t, err)
	assert.Equal(t, KindAddress, vals[0].Kind())
}

func TestEncodeAddressShapeWithBadChecksumIsString(t *testing.T) {
	addr := []byte(randomAccount(t))
	if addr[55] == 'A' {
		addr[55] = 'B'
	} else {
		addr[55] = 'A'
	}
	vals, err := NewCodec(nil).Encode(string(addr))
	require.NoError(t, err)
	assert.Equal(t, KindString, vals[0].Kind())
}

func TestEncodeReservedSymbols(t *testing.T) {
	codec := NewCodec([]string{"Open", "Completed"})

	vals, err := codec.Encode("Open", "open", "hello")
	require.NoError(t, err)

	require.Equal(t, KindVec, vals[0].Kind())
	require.Len(t, vals[0].Items(), 1)
	assert.Equal(t, Symbol("Open"), vals[0].Items()[0])
	assert.Equal(t, String("open"), vals[1])
	assert.Equal(t, String("hello"), vals[2])
}

func TestEncodeNumbersAndBools(t *testing.T) {
	codec := NewCodec(nil)
	vals, err := codec.Encode(7, uint32(42), true, float64(9), json.Number("12"))
	require.NoError(t, err)
	assert.Equal(t, U32(7), vals[0])
	assert.Equal(t, U32(42), vals[1])
	assert.Equal(t, Bool(true), vals[2])
	assert.Equal(t, U32(9), vals[3])
	assert.Equal(t, U32(12), vals[4])
}

func TestEncodeLargeIntegersFallBackToI128(t *testing.T) {
	codec := NewCodec(nil)
	big10b := big.NewInt(10_000_000_000)

	vals, err := codec.Encode(int64(10_000_000_000), big10b, -1, json.Number("10000000000"))
	require.NoError(t, err)
	for _, v := range []Value{vals[0], vals[1], vals[3]} {
		n, err := v.AsBigInt()
		require.NoError(t, err)
		assert.Equal(t, 0, n.Cmp(big10b))
		assert.Equal(t, KindI128, v.Kind())
	}
	n, err := vals[2].AsBigInt()
	require.NoError(t, err)
	assert.Equal(t, int64(-1), n.Int64())
}

func TestEncodePassesThroughValuesAndRaw(t *testing.T) {
	raw := Raw(json.RawMessage(`{"type":"u64","value":"18446744073709551615"}`))
	vals, err := NewCodec(nil).Encode(raw, Symbol("x"))
	require.NoError(t, err)
	assert.Equal(t, raw, vals[0])
	assert.Equal(t, Symbol("x"), vals[1])

	b, err := json.Marshal(vals[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"u64","value":"18446744073709551615"}`, string(b))
}

func TestEncodeUnsupported(t *testing.T) {
	_, err := NewCodec(nil).Encode(1.5)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = NewCodec(nil).Encode(struct{}{})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestI128Bounds(t *testing.T) {
	_, err := I128(new(big.Int).Lsh(big.NewInt(1), 127))
	assert.Error(t, err)
	_, err = I128(new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127)))
	assert.NoError(t, err)
}

func TestWireFormat(t *testing.T) {
	addr := randomAccount(t)
	in := Vec(Address(addr), MustI128(big.NewInt(10_000_000_000)), Enum("Open"), Bool(false), U32(3), Void())

	b, err := json.Marshal(in)
	require.NoError(t, err)

	var out Value
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, in.Equal(out), "got %s", out)

	var unknown Value
	require.NoError(t, json.Unmarshal([]byte(`{"type":"map","value":[]}`), &unknown))
	assert.Equal(t, KindRaw, unknown.Kind())
}

func TestNative(t *testing.T) {
	assert.Equal(t, "abc", String("abc").Native())
	assert.Equal(t, uint32(5), U32(5).Native())
	assert.Equal(t, true, Bool(true).Native())
	assert.Nil(t, Void().Native())
	assert.Equal(t, []any{"Open"}, Enum("Open").Native())
	assert.Equal(t, 0, MustI128(big.NewInt(12)).Native().(*big.Int).Cmp(big.NewInt(12)))

	_, err := String("x").AsBool()
	assert.Error(t, err)
	_, err = Bool(true).AsBigInt()
	assert.Error(t, err)
}
