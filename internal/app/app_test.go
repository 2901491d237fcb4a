package app

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"escrowlock/internal/config"
	"escrowlock/internal/escrow"
	"escrowlock/internal/idempotency"
	"escrowlock/internal/ledger"
	"escrowlock/internal/records"
	"escrowlock/internal/signer"
)

func devConfig(t *testing.T) *config.Config {
	cfg := config.Defaults()
	cfg.Chain.ContractID = "CDEV"
	cfg.Signer.Mode = "local"
	cfg.Signer.SecretSeed = keypair.MustRandom().Seed()
	return cfg
}

func TestBuildDevModeLocksAgainstFakeLedger(t *testing.T) {
	cfg := devConfig(t)
	a, err := Build(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer a.Close()

	fake, ok := a.Node.(*ledger.FakeNode)
	require.True(t, ok, "dev mode uses the in-memory ledger")
	assert.True(t, fake.VerifySignatures)
	assert.IsType(t, &records.MemoryStore{}, a.Records)
	assert.IsType(t, &idempotency.MemoryStore{}, a.Idempotency)
	assert.NotNil(t, a.RPCHealth())
	assert.Nil(t, a.StoreHealth())

	out, err := a.Workflow.Lock(context.Background(), escrow.LockRequest{Amount: big.NewInt(25)})
	require.NoError(t, err)
	assert.True(t, out.Persisted)
	assert.Equal(t, "250000000", out.LockedAmount.String())
}

func TestBuildFileStores(t *testing.T) {
	cfg := devConfig(t)
	cfg.Store.Driver = "file"
	cfg.Store.FilePath = filepath.Join(t.TempDir(), "records.json")

	a, err := Build(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &records.FileStore{}, a.Records)
	assert.IsType(t, &idempotency.FileStore{}, a.Idempotency)
}

func TestNewSigner(t *testing.T) {
	s, w, err := newSigner(config.SignerConfig{Mode: "none"})
	require.NoError(t, err)
	assert.Equal(t, signer.Declining{}, s)
	assert.Nil(t, w)

	s, w, err = newSigner(config.SignerConfig{Mode: "wallet", URL: "http://localhost:9"})
	require.NoError(t, err)
	assert.IsType(t, &signer.WalletBridge{}, s)
	assert.NotNil(t, w)

	_, _, err = newSigner(config.SignerConfig{Mode: "local", SecretSeed: "bad"})
	assert.Error(t, err)

	_, _, err = newSigner(config.SignerConfig{Mode: "hsm"})
	assert.Error(t, err)
}
