// Package ledger models the transaction envelopes exchanged with the ledger
// RPC node and the wallet signer.
package ledger

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"escrowlock/internal/scval"

	"github.com/stellar/go/network"
)

type Account struct {
	ID       string `json:"id"`
	Sequence int64  `json:"sequence,string"`
}

// OperationCall is one contract method invocation. Build it once and do not
// mutate it afterwards.
type OperationCall struct {
	Contract string        `json:"contract"`
	Method   string        `json:"method"`
	Args     []scval.Value `json:"args"`
}

type UnsignedEnvelope struct {
	SourceAccount  string          `json:"sourceAccount"`
	Sequence       int64           `json:"sequence,string"`
	Fee            int64           `json:"fee"`
	Operations     []OperationCall `json:"operations"`
	TimeoutSeconds int64           `json:"timeoutSeconds"`
}

// Footprint is the resource estimate a simulation returns for a transaction.
type Footprint struct {
	ReadOnly     []string `json:"readOnly,omitempty"`
	ReadWrite    []string `json:"readWrite,omitempty"`
	Instructions int64    `json:"instructions"`
	ReadBytes    int64    `json:"readBytes"`
	WriteBytes   int64    `json:"writeBytes"`
}

type SimulationOutcome struct {
	Error          string       `json:"error,omitempty"`
	ReturnValue    *scval.Value `json:"returnValue,omitempty"`
	Footprint      *Footprint   `json:"footprint,omitempty"`
	MinResourceFee int64        `json:"minResourceFee,string"`
}

func (s SimulationOutcome) OK() bool { return s.Error == "" }

// PreparedEnvelope is an UnsignedEnvelope with a simulation's footprint and
// fee merged in. Fee covers the base fee plus the minimum resource fee.
type PreparedEnvelope struct {
	UnsignedEnvelope
	Footprint   Footprint `json:"footprint"`
	ResourceFee int64     `json:"resourceFee"`
}

var ErrSimulationFailed = errors.New("simulation failed")

// Prepare merges a successful simulation into env.
func Prepare(env UnsignedEnvelope, sim SimulationOutcome) (PreparedEnvelope, error) {
	if !sim.OK() {
		return PreparedEnvelope{}, fmt.Errorf("%w: %s", ErrSimulationFailed, sim.Error)
	}
	prepared := PreparedEnvelope{
		UnsignedEnvelope: env,
		ResourceFee:      sim.MinResourceFee,
	}
	prepared.Operations = append([]OperationCall(nil), env.Operations...)
	prepared.Fee = env.Fee + sim.MinResourceFee
	if sim.Footprint != nil {
		prepared.Footprint = *sim.Footprint
	}
	return prepared, nil
}

type DecoratedSignature struct {
	Hint      string `json:"hint"`
	Signature []byte `json:"signature"`
}

// SignedEnvelope is what the wallet signer hands back.
type SignedEnvelope struct {
	Envelope   PreparedEnvelope     `json:"envelope"`
	Signatures []DecoratedSignature `json:"signatures"`
}

// Hash is the transaction id: hex(sha256(networkID || envelope bytes)).
func Hash(networkPassphrase string, env PreparedEnvelope) (string, error) {
	payload, err := SignaturePayload(networkPassphrase, env)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// SignaturePayload is the byte string a signer commits to.
func SignaturePayload(networkPassphrase string, env PreparedEnvelope) ([]byte, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	id := network.ID(networkPassphrase)
	return append(id[:], body...), nil
}

// Encode serializes an envelope into the signer exchange format (base64 of
// the JSON document).
func Encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func decode(s string, v any) error {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	return nil
}

func DecodePrepared(s string) (PreparedEnvelope, error) {
	var env PreparedEnvelope
	err := decode(s, &env)
	return env, err
}

func DecodeUnsigned(s string) (UnsignedEnvelope, error) {
	var env UnsignedEnvelope
	err := decode(s, &env)
	return env, err
}

// DecodeSigned parses a signer response and checks it carries at least one
// signature.
func DecodeSigned(s string) (SignedEnvelope, error) {
	var env SignedEnvelope
	if err := decode(s, &env); err != nil {
		return SignedEnvelope{}, err
	}
	if len(env.Signatures) == 0 {
		return SignedEnvelope{}, errors.New("signed envelope has no signatures")
	}
	return env, nil
}
