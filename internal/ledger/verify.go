package ledger

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/stellar/go/keypair"
)

var ErrBadSignature = errors.New("no valid signature from source account")

// SignatureHash is the digest a signer signs: sha256 of SignaturePayload.
func SignatureHash(networkPassphrase string, env PreparedEnvelope) ([32]byte, error) {
	payload, err := SignaturePayload(networkPassphrase, env)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(payload), nil
}

// Verify checks that at least one signature on signed was made by the
// envelope's source account over this network.
func Verify(networkPassphrase string, signed SignedEnvelope) error {
	kp, err := keypair.ParseAddress(signed.Envelope.SourceAccount)
	if err != nil {
		return fmt.Errorf("source account: %w", err)
	}
	hash, err := SignatureHash(networkPassphrase, signed.Envelope)
	if err != nil {
		return err
	}
	for _, s := range signed.Signatures {
		if kp.Verify(hash[:], s.Signature) == nil {
			return nil
		}
	}
	return ErrBadSignature
}
