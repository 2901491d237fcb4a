package escrow

import (
	"context"
	"errors"

	"escrowlock/internal/ledger"
	"escrowlock/internal/log"
	"escrowlock/internal/scval"
)

// Accounts fetches on-chain account state.
type Accounts struct {
	node ledger.Node
}

func NewAccounts(node ledger.Node) *Accounts {
	return &Accounts{node: node}
}

func (a *Accounts) GetAccount(ctx context.Context, address string) (ledger.Account, error) {
	acct, err := a.node.GetAccount(ctx, address)
	if err != nil {
		msg := "fetch account " + address
		if errors.Is(err, ledger.ErrAccountNotFound) {
			msg = "account " + address + " is unknown to the network"
		}
		return ledger.Account{}, newError(KindAccountFetch, msg, err)
	}
	return acct, nil
}

// simulator holds the build-and-simulate steps shared by reads and writes.
type simulator struct {
	node     ledger.Node
	accounts *Accounts
	settings Settings
}

// build wraps a single contract call in a fresh envelope. The account must
// have been fetched immediately before; its sequence goes stale as soon as
// another transaction from the same account lands.
func (s *simulator) build(acct ledger.Account, method string, args []scval.Value) ledger.UnsignedEnvelope {
	return ledger.UnsignedEnvelope{
		SourceAccount: acct.ID,
		Sequence:      acct.Sequence + 1,
		Fee:           s.settings.BaseFee,
		Operations: []ledger.OperationCall{{
			Contract: s.settings.ContractID,
			Method:   method,
			Args:     append([]scval.Value(nil), args...),
		}},
		TimeoutSeconds: int64(s.settings.TxTimeout.Seconds()),
	}
}

func (s *simulator) simulate(ctx context.Context, method string, args []scval.Value, caller string) (ledger.UnsignedEnvelope, ledger.SimulationOutcome, error) {
	acct, err := s.accounts.GetAccount(ctx, caller)
	if err != nil {
		return ledger.UnsignedEnvelope{}, ledger.SimulationOutcome{}, err
	}
	if acct.ID == "" {
		acct.ID = caller
	}
	env := s.build(acct, method, args)
	sim, err := s.node.SimulateTransaction(ctx, env)
	if err != nil {
		return env, ledger.SimulationOutcome{}, newError(KindSimulation, "simulate "+method, err)
	}
	if !sim.OK() {
		log.L(ctx).Debugf("simulation of %s failed: %s", method, sim.Error)
		return env, sim, &Error{Kind: KindSimulation, Message: sim.Error}
	}
	return env, sim, nil
}

// ReadInvoker performs read-only contract calls: build, simulate, decode.
// It never signs or submits, so it is safe to call concurrently.
type ReadInvoker struct {
	sim simulator
}

func NewReadInvoker(node ledger.Node, accounts *Accounts, settings Settings) *ReadInvoker {
	return &ReadInvoker{sim: simulator{node: node, accounts: accounts, settings: settings}}
}

// Call returns the simulated return value, or nil when the call returns
// nothing.
func (r *ReadInvoker) Call(ctx context.Context, method string, args []scval.Value, caller string) (*scval.Value, error) {
	_, sim, err := r.sim.simulate(ctx, method, args, caller)
	if err != nil {
		return nil, err
	}
	if sim.ReturnValue == nil || sim.ReturnValue.Kind() == scval.KindVoid {
		return nil, nil
	}
	return sim.ReturnValue, nil
}

// CallNative is Call with the result decoded to a plain Go value.
func (r *ReadInvoker) CallNative(ctx context.Context, method string, args []scval.Value, caller string) (any, error) {
	v, err := r.Call(ctx, method, args, caller)
	if err != nil || v == nil {
		return nil, err
	}
	return v.Native(), nil
}

// Assembler builds and simulates a state-changing call and merges the
// simulation's footprint and fee into an envelope ready for signing.
type Assembler struct {
	sim simulator
}

func NewAssembler(node ledger.Node, accounts *Accounts, settings Settings) *Assembler {
	return &Assembler{sim: simulator{node: node, accounts: accounts, settings: settings}}
}

// Simulate runs the build and simulate steps without merging.
func (a *Assembler) Simulate(ctx context.Context, method string, args []scval.Value, caller string) (ledger.UnsignedEnvelope, ledger.SimulationOutcome, error) {
	return a.sim.simulate(ctx, method, args, caller)
}

func (a *Assembler) Prepare(ctx context.Context, method string, args []scval.Value, caller string) (ledger.PreparedEnvelope, error) {
	env, sim, err := a.Simulate(ctx, method, args, caller)
	if err != nil {
		return ledger.PreparedEnvelope{}, err
	}
	return merge(env, sim)
}

func merge(env ledger.UnsignedEnvelope, sim ledger.SimulationOutcome) (ledger.PreparedEnvelope, error) {
	prepared, err := ledger.Prepare(env, sim)
	if err != nil {
		return ledger.PreparedEnvelope{}, &Error{Kind: KindSimulation, Message: sim.Error, Cause: err}
	}
	return prepared, nil
}
