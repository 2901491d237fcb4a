package ledger

import (
	"context"
	"math/big"
	"testing"

	"escrowlock/internal/scval"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPassphrase = "Test SDF Network ; September 2015"
	testContract   = "CESCROW"
	testOwner      = "GOWNER"
)

func lockEnvelope(seq int64, amount int64) UnsignedEnvelope {
	return UnsignedEnvelope{
		SourceAccount: testOwner,
		Sequence:      seq,
		Fee:           100,
		Operations: []OperationCall{{
			Contract: testContract,
			Method:   "lock",
			Args:     []scval.Value{scval.Address(testOwner), scval.MustI128(big.NewInt(amount))},
		}},
		TimeoutSeconds: 30,
	}
}

func TestPrepareMergesFootprintAndFee(t *testing.T) {
	env := lockEnvelope(101, 10)
	sim := SimulationOutcome{
		MinResourceFee: 2500,
		Footprint:      &Footprint{ReadWrite: []string{"k"}, Instructions: 42},
	}

	prepared, err := Prepare(env, sim)
	require.NoError(t, err)
	assert.Equal(t, int64(2600), prepared.Fee)
	assert.Equal(t, int64(2500), prepared.ResourceFee)
	assert.Equal(t, []string{"k"}, prepared.Footprint.ReadWrite)
	assert.Equal(t, int64(100), env.Fee, "input envelope must not change")

	_, err = Prepare(env, SimulationOutcome{Error: "trap"})
	assert.ErrorIs(t, err, ErrSimulationFailed)
}

func TestEncodeDecodeSigned(t *testing.T) {
	prepared, err := Prepare(lockEnvelope(101, 10), SimulationOutcome{MinResourceFee: 1})
	require.NoError(t, err)

	s, err := Encode(SignedEnvelope{Envelope: prepared, Signatures: []DecoratedSignature{{Hint: "abcd", Signature: []byte{1, 2}}}})
	require.NoError(t, err)

	signed, err := DecodeSigned(s)
	require.NoError(t, err)
	assert.Equal(t, prepared.Sequence, signed.Envelope.Sequence)
	assert.True(t, prepared.Operations[0].Args[1].Equal(signed.Envelope.Operations[0].Args[1]))

	unsignedOnly, err := Encode(SignedEnvelope{Envelope: prepared})
	require.NoError(t, err)
	_, err = DecodeSigned(unsignedOnly)
	assert.Error(t, err)

	_, err = DecodeSigned("%%%")
	assert.Error(t, err)
}

func TestHashDependsOnNetwork(t *testing.T) {
	prepared, err := Prepare(lockEnvelope(101, 10), SimulationOutcome{})
	require.NoError(t, err)

	h1, err := Hash(testPassphrase, prepared)
	require.NoError(t, err)
	h2, err := Hash(testPassphrase, prepared)
	require.NoError(t, err)
	h3, err := Hash("Public Global Stellar Network ; September 2015", prepared)
	require.NoError(t, err)

	assert.Len(t, h1, 64)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestFakeNodeLockLifecycle(t *testing.T) {
	ctx := context.Background()
	node := NewFakeNode(testPassphrase, testContract)
	node.Fund(testOwner, big.NewInt(1000))

	acct, err := node.GetAccount(ctx, testOwner)
	require.NoError(t, err)

	env := lockEnvelope(acct.Sequence+1, 400)
	sim, err := node.SimulateTransaction(ctx, env)
	require.NoError(t, err)
	require.True(t, sim.OK(), sim.Error)
	prepared, err := Prepare(env, sim)
	require.NoError(t, err)

	signed := SignedEnvelope{Envelope: prepared, Signatures: []DecoratedSignature{{Hint: "00", Signature: []byte{1}}}}
	res, err := node.SendTransaction(ctx, signed)
	require.NoError(t, err)
	require.Equal(t, StatusPending, res.Status)

	info, err := node.GetTransaction(ctx, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, info.Status)

	info, err = node.GetTransaction(ctx, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, info.Status)

	assert.Equal(t, int64(600), node.Balance(testOwner).Int64())
	assert.Equal(t, int64(400), node.Locked(testOwner).Int64())

	res, err = node.SendTransaction(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, res.Status)
}

func TestFakeNodeRejectsStaleSequence(t *testing.T) {
	ctx := context.Background()
	node := NewFakeNode(testPassphrase, testContract)
	node.Fund(testOwner, big.NewInt(1000))

	prepared, err := Prepare(lockEnvelope(100, 1), SimulationOutcome{})
	require.NoError(t, err)
	res, err := node.SendTransaction(ctx, SignedEnvelope{Envelope: prepared, Signatures: []DecoratedSignature{{}}})
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "txBadSeq", res.ErrorResult)
}

func TestFakeNodeSimulationErrors(t *testing.T) {
	ctx := context.Background()
	node := NewFakeNode(testPassphrase, testContract)
	node.Fund(testOwner, big.NewInt(5))

	sim, err := node.SimulateTransaction(ctx, lockEnvelope(101, 10))
	require.NoError(t, err)
	assert.Contains(t, sim.Error, "insufficient balance")

	env := lockEnvelope(101, 1)
	env.Operations[0].Args[0] = scval.Address("GSOMEONEELSE")
	sim, err = node.SimulateTransaction(ctx, env)
	require.NoError(t, err)
	assert.Contains(t, sim.Error, "UnreachableCodeReached")

	_, err = node.GetAccount(ctx, "GUNKNOWN")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func signWith(t *testing.T, kp *keypair.Full, passphrase string, env PreparedEnvelope) SignedEnvelope {
	t.Helper()
	hash, err := SignatureHash(passphrase, env)
	require.NoError(t, err)
	sig, err := kp.Sign(hash[:])
	require.NoError(t, err)
	return SignedEnvelope{Envelope: env, Signatures: []DecoratedSignature{{Hint: "00", Signature: sig}}}
}

func TestVerify(t *testing.T) {
	kp := keypair.MustRandom()
	env := lockEnvelope(101, 10)
	env.SourceAccount = kp.Address()
	prepared, err := Prepare(env, SimulationOutcome{})
	require.NoError(t, err)

	signed := signWith(t, kp, testPassphrase, prepared)
	assert.NoError(t, Verify(testPassphrase, signed))
	assert.ErrorIs(t, Verify("Public Global Stellar Network ; September 2015", signed), ErrBadSignature)

	other := signWith(t, keypair.MustRandom(), testPassphrase, prepared)
	assert.ErrorIs(t, Verify(testPassphrase, other), ErrBadSignature)

	garbage := SignedEnvelope{Envelope: prepared, Signatures: []DecoratedSignature{{Hint: "00", Signature: []byte("sig")}}}
	assert.ErrorIs(t, Verify(testPassphrase, garbage), ErrBadSignature)

	// a signature over one envelope does not carry over to another
	prepared.Fee++
	signed.Envelope = prepared
	assert.ErrorIs(t, Verify(testPassphrase, signed), ErrBadSignature)
}

func TestFakeNodeVerifiesSignatures(t *testing.T) {
	ctx := context.Background()
	kp := keypair.MustRandom()
	node := NewFakeNode(testPassphrase, testContract)
	node.VerifySignatures = true
	node.Fund(kp.Address(), big.NewInt(1000))

	acct, err := node.GetAccount(ctx, kp.Address())
	require.NoError(t, err)
	env := lockEnvelope(acct.Sequence+1, 400)
	env.SourceAccount = kp.Address()
	env.Operations[0].Args[0] = scval.Address(kp.Address())
	sim, err := node.SimulateTransaction(ctx, env)
	require.NoError(t, err)
	require.True(t, sim.OK(), sim.Error)
	prepared, err := Prepare(env, sim)
	require.NoError(t, err)

	garbage := SignedEnvelope{Envelope: prepared, Signatures: []DecoratedSignature{{Hint: "00", Signature: []byte{1}}}}
	res, err := node.SendTransaction(ctx, garbage)
	require.NoError(t, err)
	assert.Equal(t, StatusError, res.Status)
	assert.Equal(t, "txBadAuth", res.ErrorResult)

	res, err = node.SendTransaction(ctx, signWith(t, kp, testPassphrase, prepared))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status, "a rejected send must not consume the sequence")
}
