package signer

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/stellar/go/keypair"

	"escrowlock/internal/escrow"
	"escrowlock/internal/ledger"
)

// LocalKey signs with a secret seed held in process. Meant for development
// and operator tooling, never for end-user funds.
type LocalKey struct {
	kp *keypair.Full
}

func NewLocalKey(seed string) (*LocalKey, error) {
	kp, err := keypair.ParseFull(seed)
	if err != nil {
		return nil, fmt.Errorf("parse secret seed: %w", err)
	}
	return &LocalKey{kp: kp}, nil
}

// Address implements escrow.WalletProvider.
func (k *LocalKey) Address(context.Context) (string, error) {
	return k.kp.Address(), nil
}

func (k *LocalKey) Sign(_ context.Context, envelope string, opts escrow.SignOptions) (string, error) {
	if opts.Address != "" && opts.Address != k.kp.Address() {
		return "", fmt.Errorf("key %s cannot sign for %s: %w", k.kp.Address(), opts.Address, escrow.ErrSigningDeclined)
	}
	prepared, err := ledger.DecodePrepared(envelope)
	if err != nil {
		return "", err
	}
	if prepared.SourceAccount != k.kp.Address() {
		return "", fmt.Errorf("envelope source %s is not this key: %w", prepared.SourceAccount, escrow.ErrSigningDeclined)
	}
	hash, err := ledger.SignatureHash(opts.NetworkPassphrase, prepared)
	if err != nil {
		return "", err
	}
	sig, err := k.kp.Sign(hash[:])
	if err != nil {
		return "", err
	}
	hint := k.kp.Hint()
	return ledger.Encode(ledger.SignedEnvelope{
		Envelope:   prepared,
		Signatures: []ledger.DecoratedSignature{{Hint: hex.EncodeToString(hint[:]), Signature: sig}},
	})
}
