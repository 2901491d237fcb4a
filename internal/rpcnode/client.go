// Package rpcnode implements ledger.Node over the ledger's JSON-RPC endpoint.
package rpcnode

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"escrowlock/internal/ledger"
	"escrowlock/internal/log"
	"escrowlock/internal/scval"

	"github.com/ethereum/go-ethereum/rpc"
)

// codeNotFound is the JSON-RPC error code the node uses for unknown entries.
const codeNotFound = -32001

func isNotFound(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeNotFound
}

// Client talks to a ledger RPC node.
type Client struct {
	rpc     *rpc.Client
	timeout time.Duration
}

type Config struct {
	URL string
	// Timeout bounds each individual RPC call. Zero means no extra bound.
	Timeout time.Duration
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	cli, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	return &Client{rpc: cli, timeout: cfg.Timeout}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

type accountResponse struct {
	ID       string `json:"id"`
	Sequence string `json:"sequence"`
}

type simulateResponse struct {
	Error   string `json:"error,omitempty"`
	Results []struct {
		Retval *scval.Value `json:"retval,omitempty"`
	} `json:"results,omitempty"`
	TransactionData *ledger.Footprint `json:"transactionData,omitempty"`
	MinResourceFee  string            `json:"minResourceFee,omitempty"`
	LatestLedger    uint32            `json:"latestLedger"`
}

type transactionParams struct {
	Transaction string `json:"transaction"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func (c *Client) call(ctx context.Context, result interface{}, method string, params interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	var err error
	if params == nil {
		err = c.rpc.CallContext(ctx, result, method)
	} else {
		err = c.rpc.CallContext(ctx, result, method, params)
	}
	if err != nil {
		log.L(ctx).Debugf("%s failed: %v", method, err)
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (c *Client) GetAccount(ctx context.Context, address string) (ledger.Account, error) {
	var resp *accountResponse
	if err := c.call(ctx, &resp, "getAccount", map[string]string{"address": address}); err != nil {
		if isNotFound(err) {
			return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, address)
		}
		return ledger.Account{}, err
	}
	if resp == nil {
		return ledger.Account{}, fmt.Errorf("%w: %s", ledger.ErrAccountNotFound, address)
	}
	seq, err := strconv.ParseInt(resp.Sequence, 10, 64)
	if err != nil {
		return ledger.Account{}, fmt.Errorf("getAccount: invalid sequence %q", resp.Sequence)
	}
	return ledger.Account{ID: resp.ID, Sequence: seq}, nil
}

func (c *Client) SimulateTransaction(ctx context.Context, env ledger.UnsignedEnvelope) (ledger.SimulationOutcome, error) {
	tx, err := ledger.Encode(env)
	if err != nil {
		return ledger.SimulationOutcome{}, fmt.Errorf("encode envelope: %w", err)
	}
	var resp simulateResponse
	if err := c.call(ctx, &resp, "simulateTransaction", transactionParams{Transaction: tx}); err != nil {
		return ledger.SimulationOutcome{}, err
	}
	out := ledger.SimulationOutcome{
		Error:     resp.Error,
		Footprint: resp.TransactionData,
	}
	if resp.MinResourceFee != "" {
		fee, err := strconv.ParseInt(resp.MinResourceFee, 10, 64)
		if err != nil {
			return ledger.SimulationOutcome{}, fmt.Errorf("simulateTransaction: invalid minResourceFee %q", resp.MinResourceFee)
		}
		out.MinResourceFee = fee
	}
	if len(resp.Results) > 0 {
		out.ReturnValue = resp.Results[0].Retval
	}
	return out, nil
}

func (c *Client) SendTransaction(ctx context.Context, signed ledger.SignedEnvelope) (ledger.SendResult, error) {
	tx, err := ledger.Encode(signed)
	if err != nil {
		return ledger.SendResult{}, fmt.Errorf("encode envelope: %w", err)
	}
	var resp ledger.SendResult
	if err := c.call(ctx, &resp, "sendTransaction", transactionParams{Transaction: tx}); err != nil {
		return ledger.SendResult{}, err
	}
	return resp, nil
}

func (c *Client) GetTransaction(ctx context.Context, hash string) (ledger.TxInfo, error) {
	var resp ledger.TxInfo
	if err := c.call(ctx, &resp, "getTransaction", map[string]string{"hash": hash}); err != nil {
		return ledger.TxInfo{}, err
	}
	if resp.Status == "" {
		resp.Status = ledger.StatusNotFound
	}
	return resp, nil
}

// Ping calls getHealth and fails unless the node reports healthy.
func (c *Client) Ping(ctx context.Context) error {
	var resp healthResponse
	if err := c.call(ctx, &resp, "getHealth", nil); err != nil {
		return err
	}
	if resp.Status != "healthy" {
		return fmt.Errorf("node status %q", resp.Status)
	}
	return nil
}
