package signer

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowlock/internal/escrow"
	"escrowlock/internal/ledger"
	"escrowlock/internal/scval"
)

const testPassphrase = "Test SDF Network ; September 2015"

func preparedFor(t *testing.T, source string) string {
	t.Helper()
	env := ledger.UnsignedEnvelope{
		SourceAccount: source,
		Sequence:      12,
		Fee:           100,
		Operations: []ledger.OperationCall{{
			Contract: "CESCROW",
			Method:   "lock",
			Args:     []scval.Value{scval.Address(source), scval.MustI128(big.NewInt(10))},
		}},
		TimeoutSeconds: 30,
	}
	prepared, err := ledger.Prepare(env, ledger.SimulationOutcome{MinResourceFee: 7})
	require.NoError(t, err)
	s, err := ledger.Encode(prepared)
	require.NoError(t, err)
	return s
}

func TestLocalKeySignsAndVerifies(t *testing.T) {
	kp := keypair.MustRandom()
	key, err := NewLocalKey(kp.Seed())
	require.NoError(t, err)

	addr, err := key.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, kp.Address(), addr)

	out, err := key.Sign(context.Background(), preparedFor(t, kp.Address()), escrow.SignOptions{
		NetworkPassphrase: testPassphrase,
		Address:           kp.Address(),
	})
	require.NoError(t, err)

	signed, err := ledger.DecodeSigned(out)
	require.NoError(t, err)
	require.Len(t, signed.Signatures, 1)
	assert.Len(t, signed.Signatures[0].Hint, 8)
	assert.NoError(t, ledger.Verify(testPassphrase, signed))
	assert.ErrorIs(t, ledger.Verify("Public Global Stellar Network ; September 2015", signed), ledger.ErrBadSignature, "signature is bound to the network")
}

func TestLocalKeyRefusesOtherAccounts(t *testing.T) {
	key, err := NewLocalKey(keypair.MustRandom().Seed())
	require.NoError(t, err)
	other := keypair.MustRandom().Address()

	_, err = key.Sign(context.Background(), preparedFor(t, other), escrow.SignOptions{NetworkPassphrase: testPassphrase})
	assert.ErrorIs(t, err, escrow.ErrSigningDeclined)

	_, err = key.Sign(context.Background(), preparedFor(t, other), escrow.SignOptions{Address: other})
	assert.ErrorIs(t, err, escrow.ErrSigningDeclined)
}

func TestNewLocalKeyRejectsBadSeed(t *testing.T) {
	_, err := NewLocalKey("not-a-seed")
	assert.Error(t, err)
}

func TestDeclining(t *testing.T) {
	_, err := Declining{}.Sign(context.Background(), "x", escrow.SignOptions{})
	assert.ErrorIs(t, err, escrow.ErrSigningDeclined)
}

func newBridgeServer(t *testing.T, handler http.HandlerFunc) *WalletBridge {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewWalletBridge(srv.URL, 5*time.Second)
}

func TestWalletBridgeSign(t *testing.T) {
	var got signRequest
	bridge := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sign", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(signResponse{SignedTransaction: "c2lnbmVk"})
	})

	out, err := bridge.Sign(context.Background(), "dW5zaWduZWQ=", escrow.SignOptions{NetworkPassphrase: testPassphrase, Address: "GABC"})
	require.NoError(t, err)
	assert.Equal(t, "c2lnbmVk", out)
	assert.Equal(t, "dW5zaWduZWQ=", got.Transaction)
	assert.Equal(t, testPassphrase, got.NetworkPassphrase)
	assert.Equal(t, "GABC", got.Address)
}

func TestWalletBridgeDeclined(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"conflict": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"User declined access"}`))
		},
		"client closed": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(statusClientClosed)
		},
		"flag": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"declined":true}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := newBridgeServer(t, handler).Sign(context.Background(), "x", escrow.SignOptions{})
			assert.ErrorIs(t, err, escrow.ErrSigningDeclined)
		})
	}
}

func TestWalletBridgeFailure(t *testing.T) {
	bridge := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := bridge.Sign(context.Background(), "x", escrow.SignOptions{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, escrow.ErrSigningDeclined)

	empty := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	})
	_, err = empty.Sign(context.Background(), "x", escrow.SignOptions{})
	assert.Error(t, err)
}

func TestWalletBridgeAddress(t *testing.T) {
	bridge := newBridgeServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/address", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"address":"GWALLET"}`))
	})
	addr, err := bridge.Address(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "GWALLET", addr)
}
