// Package signer holds the transaction signers the lock path can hand an
// envelope to: a remote wallet bridge, a local secret key, and a signer that
// always declines.
package signer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"escrowlock/internal/escrow"
	"escrowlock/internal/log"
)

// statusClientClosed is what wallet bridges answer when the user dismissed
// the signing prompt.
const statusClientClosed = 499

type signRequest struct {
	Transaction       string `json:"transaction"`
	NetworkPassphrase string `json:"networkPassphrase"`
	Address           string `json:"address,omitempty"`
}

type signResponse struct {
	SignedTransaction string `json:"signedTransaction"`
	Declined          bool   `json:"declined"`
	Error             string `json:"error"`
}

type addressResponse struct {
	Address string `json:"address"`
}

// WalletBridge forwards envelopes to a wallet over HTTP and waits for the
// user to approve them.
type WalletBridge struct {
	client *resty.Client
}

func NewWalletBridge(baseURL string, timeout time.Duration) *WalletBridge {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &WalletBridge{client: client}
}

func (w *WalletBridge) Sign(ctx context.Context, envelope string, opts escrow.SignOptions) (string, error) {
	var out signResponse
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(signRequest{
			Transaction:       envelope,
			NetworkPassphrase: opts.NetworkPassphrase,
			Address:           opts.Address,
		}).
		SetResult(&out).
		SetError(&out).
		Post("/sign")
	if err != nil {
		return "", fmt.Errorf("wallet bridge: %w", err)
	}

	switch {
	case resp.StatusCode() == http.StatusConflict, resp.StatusCode() == statusClientClosed, out.Declined:
		log.L(ctx).Infof("wallet declined to sign (status %d)", resp.StatusCode())
		return "", fmt.Errorf("wallet: %s: %w", orDefault(out.Error, "user declined"), escrow.ErrSigningDeclined)
	case resp.IsError():
		return "", fmt.Errorf("wallet bridge returned %d: %s", resp.StatusCode(), orDefault(out.Error, resp.String()))
	case out.SignedTransaction == "":
		return "", errors.New("wallet bridge returned no signed transaction")
	}
	return out.SignedTransaction, nil
}

// Address asks the bridge which account is connected. It implements
// escrow.WalletProvider.
func (w *WalletBridge) Address(ctx context.Context) (string, error) {
	var out addressResponse
	resp, err := w.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/address")
	if err != nil {
		return "", fmt.Errorf("wallet bridge: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("wallet bridge returned %d", resp.StatusCode())
	}
	return out.Address, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Declining refuses every request. Useful for dry runs.
type Declining struct{}

func (Declining) Sign(context.Context, string, escrow.SignOptions) (string, error) {
	return "", fmt.Errorf("signing disabled: %w", escrow.ErrSigningDeclined)
}
