// Package app wires the configured node, signer, stores and workflow for the
// server and CLI binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"escrowlock/internal/config"
	"escrowlock/internal/escrow"
	"escrowlock/internal/idempotency"
	"escrowlock/internal/ledger"
	"escrowlock/internal/log"
	"escrowlock/internal/reconcile"
	"escrowlock/internal/records"
	"escrowlock/internal/rpcnode"
	"escrowlock/internal/signer"
)

// devBalance is credited to the local signer's account on the in-memory
// ledger, in whole tokens.
const devBalance = 1_000_000

type App struct {
	Config      *config.Config
	Node        ledger.Node
	Signer      escrow.Signer
	Wallet      escrow.WalletProvider
	Records     records.Store
	Idempotency idempotency.Store
	Workflow    *escrow.Workflow
	Reconciler  *reconcile.Reconciler

	closers []func()
}

// Options hooks observers in before the workflow is built.
type Options struct {
	Observer escrow.Observer
	// SkipIdempotency leaves Idempotency nil, for tools that never serve HTTP.
	SkipIdempotency bool
}

func Build(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}
	if err := a.build(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, opts Options) error {
	cfg := a.Config

	sig, wallet, err := newSigner(cfg.Signer)
	if err != nil {
		return err
	}
	a.Signer, a.Wallet = sig, wallet

	if cfg.DevMode() {
		fake := ledger.NewFakeNode(cfg.Chain.NetworkPassphrase, cfg.Chain.ContractID)
		fake.VerifySignatures = true
		if wallet != nil {
			if addr, err := wallet.Address(ctx); err == nil && addr != "" {
				fake.Fund(addr, new(big.Int).Mul(big.NewInt(devBalance), big.NewInt(cfg.Chain.AmountScale)))
			}
		}
		log.L(ctx).Warn("no rpc url configured, using the in-memory ledger")
		a.Node = fake
	} else {
		client, err := rpcnode.Dial(ctx, rpcnode.Config{URL: cfg.Chain.RPCURL, Timeout: cfg.Chain.RPCTimeout})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.Node = client
	}

	if err := a.openStores(ctx, cfg.Store, opts.SkipIdempotency); err != nil {
		return err
	}

	a.Workflow = escrow.NewWorkflow(a.Node, a.Signer, a.Records, a.Wallet, escrow.SettingsFromConfig(cfg.Chain), opts.Observer)
	a.Reconciler = reconcile.New(a.Records, a.Node, reconcile.ConfigFromStore(cfg.Store))
	return nil
}

func newSigner(cfg config.SignerConfig) (escrow.Signer, escrow.WalletProvider, error) {
	switch cfg.Mode {
	case "local":
		key, err := signer.NewLocalKey(cfg.SecretSeed)
		if err != nil {
			return nil, nil, err
		}
		return key, key, nil
	case "wallet":
		if cfg.URL == "" {
			return signer.Declining{}, nil, nil
		}
		bridge := signer.NewWalletBridge(cfg.URL, cfg.Timeout)
		return bridge, bridge, nil
	case "none":
		return signer.Declining{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown signer mode %q", cfg.Mode)
	}
}

func (a *App) openStores(ctx context.Context, cfg config.StoreConfig, skipIdempotency bool) error {
	switch cfg.Driver {
	case "memory":
		a.Records = records.NewMemoryStore()
		if !skipIdempotency {
			a.Idempotency = idempotency.NewMemoryStore()
		}
	case "file":
		rs, err := records.NewFileStore(cfg.FilePath)
		if err != nil {
			return fmt.Errorf("record store: %w", err)
		}
		a.Records = rs
		if !skipIdempotency {
			is, err := idempotency.NewFileStore(cfg.IdempotencyPath())
			if err != nil {
				return fmt.Errorf("idempotency store: %w", err)
			}
			a.Idempotency = is
		}
	case "postgres":
		rs, err := records.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return fmt.Errorf("record store: %w", err)
		}
		a.closers = append(a.closers, rs.Close)
		a.Records = rs
		if !skipIdempotency {
			is, err := idempotency.NewPostgresStore(ctx, cfg.PostgresDSN)
			if err != nil {
				return fmt.Errorf("idempotency store: %w", err)
			}
			a.closers = append(a.closers, is.Close)
			a.Idempotency = is
		}
	default:
		return errors.New("unknown store driver " + cfg.Driver)
	}
	return nil
}

// RPCHealth returns the node's health probe, or nil when it has none.
func (a *App) RPCHealth() func(context.Context) error {
	if hc, ok := a.Node.(ledger.HealthChecker); ok {
		return hc.Ping
	}
	return nil
}

// StoreHealth returns the record store's health probe, or nil.
func (a *App) StoreHealth() func(context.Context) error {
	if hc, ok := a.Records.(interface{ Ping(context.Context) error }); ok {
		return hc.Ping
	}
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
