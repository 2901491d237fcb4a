package rpcnode

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"escrowlock/internal/ledger"
	"escrowlock/internal/scval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcHandler func(params []json.RawMessage) (result interface{}, code int, message string)

func newTestClient(t *testing.T, handlers map[string]rpcHandler) (*Client, map[string][]json.RawMessage) {
	seen := make(map[string][]json.RawMessage)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen[req.Method] = req.Params

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		h, ok := handlers[req.Method]
		if !ok {
			resp["error"] = map[string]interface{}{"code": -32601, "message": "method not found"}
		} else if result, code, msg := h(req.Params); code != 0 {
			resp["error"] = map[string]interface{}{"code": code, "message": msg}
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	c, err := Dial(context.Background(), Config{URL: srv.URL})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, seen
}

func TestGetAccount(t *testing.T) {
	c, seen := newTestClient(t, map[string]rpcHandler{
		"getAccount": func(params []json.RawMessage) (interface{}, int, string) {
			var p map[string]string
			_ = json.Unmarshal(params[0], &p)
			if p["address"] == "GMISSING" {
				return nil, codeNotFound, "account not found"
			}
			return map[string]string{"id": p["address"], "sequence": "4242"}, 0, ""
		},
	})

	acct, err := c.GetAccount(context.Background(), "GOWNER")
	require.NoError(t, err)
	assert.Equal(t, int64(4242), acct.Sequence)
	assert.JSONEq(t, `{"address":"GOWNER"}`, string(seen["getAccount"][0]))

	_, err = c.GetAccount(context.Background(), "GMISSING")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestSimulateTransaction(t *testing.T) {
	c, seen := newTestClient(t, map[string]rpcHandler{
		"simulateTransaction": func(params []json.RawMessage) (interface{}, int, string) {
			return map[string]interface{}{
				"results":         []interface{}{map[string]interface{}{"retval": map[string]string{"type": "i128", "value": "5000000"}}},
				"transactionData": map[string]interface{}{"readWrite": []string{"k1"}, "instructions": 10},
				"minResourceFee":  "3100",
			}, 0, ""
		},
	})

	env := ledger.UnsignedEnvelope{
		SourceAccount: "GOWNER",
		Sequence:      7,
		Fee:           100,
		Operations:    []ledger.OperationCall{{Contract: "C1", Method: "balance", Args: []scval.Value{scval.Address("GOWNER")}}},
	}
	sim, err := c.SimulateTransaction(context.Background(), env)
	require.NoError(t, err)
	require.True(t, sim.OK())
	require.NotNil(t, sim.ReturnValue)
	n, err := sim.ReturnValue.AsBigInt()
	require.NoError(t, err)
	assert.Equal(t, 0, n.Cmp(big.NewInt(5_000_000)))
	assert.Equal(t, int64(3100), sim.MinResourceFee)
	assert.Equal(t, []string{"k1"}, sim.Footprint.ReadWrite)

	var params transactionParams
	require.NoError(t, json.Unmarshal(seen["simulateTransaction"][0], &params))
	decoded, err := ledger.DecodeUnsigned(params.Transaction)
	require.NoError(t, err)
	assert.Equal(t, env.Sequence, decoded.Sequence)
}

func TestSimulationErrorIsReturnedInOutcome(t *testing.T) {
	c, _ := newTestClient(t, map[string]rpcHandler{
		"simulateTransaction": func([]json.RawMessage) (interface{}, int, string) {
			return map[string]string{"error": "trap"}, 0, ""
		},
	})
	sim, err := c.SimulateTransaction(context.Background(), ledger.UnsignedEnvelope{})
	require.NoError(t, err)
	assert.False(t, sim.OK())
	assert.Equal(t, "trap", sim.Error)
}

func TestSendAndGetTransaction(t *testing.T) {
	c, _ := newTestClient(t, map[string]rpcHandler{
		"sendTransaction": func([]json.RawMessage) (interface{}, int, string) {
			return map[string]string{"status": "PENDING", "hash": "abc"}, 0, ""
		},
		"getTransaction": func(params []json.RawMessage) (interface{}, int, string) {
			return map[string]interface{}{"status": "SUCCESS", "ledger": 99}, 0, ""
		},
	})

	res, err := c.SendTransaction(context.Background(), ledger.SignedEnvelope{})
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, res.Status)
	assert.Equal(t, "abc", res.Hash)

	info, err := c.GetTransaction(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, info.Status)
	assert.Equal(t, uint32(99), info.Ledger)
}

func TestTransportErrorsAreWrapped(t *testing.T) {
	c, _ := newTestClient(t, map[string]rpcHandler{
		"sendTransaction": func([]json.RawMessage) (interface{}, int, string) {
			return nil, -32603, "internal error"
		},
	})
	_, err := c.SendTransaction(context.Background(), ledger.SignedEnvelope{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sendTransaction")
	assert.Contains(t, err.Error(), "internal error")
}

func TestPing(t *testing.T) {
	c, _ := newTestClient(t, map[string]rpcHandler{
		"getHealth": func([]json.RawMessage) (interface{}, int, string) {
			return map[string]string{"status": "healthy"}, 0, ""
		},
	})
	assert.NoError(t, c.Ping(context.Background()))
}
