package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"escrowlock/internal/scval"
)

const fakeResourceFee = 25_000

// FakeNode is an in-memory ledger hosting a single escrow contract. It backs
// dev mode and tests.
type FakeNode struct {
	// ConfirmAfter is the number of NOT_FOUND answers returned for a
	// submitted transaction before it resolves.
	ConfirmAfter int
	// VerifySignatures rejects sends that carry no valid signature from the
	// source account. Only real keypair signers can pass it.
	VerifySignatures bool

	mu            sync.Mutex
	passphrase    string
	contract      string
	sequences     map[string]int64
	balances      map[string]*big.Int
	locked        map[string]*big.Int
	paused        bool
	txs           map[string]*fakeTx
	calls         map[string]int
	simulateError string
	pausedError   string
	sendStatus    TxStatus
	statusScript  []TxStatus
}

type fakeTx struct {
	env    PreparedEnvelope
	polls  int
	status TxStatus
}

func NewFakeNode(networkPassphrase, contractID string) *FakeNode {
	return &FakeNode{
		ConfirmAfter: 1,
		passphrase:   networkPassphrase,
		contract:     contractID,
		sequences:    make(map[string]int64),
		balances:     make(map[string]*big.Int),
		locked:       make(map[string]*big.Int),
		txs:          make(map[string]*fakeTx),
		calls:        make(map[string]int),
	}
}

// Fund creates the account if needed and sets its token balance.
func (f *FakeNode) Fund(address string, balance *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sequences[address]; !ok {
		f.sequences[address] = 100
	}
	f.balances[address] = new(big.Int).Set(balance)
}

func (f *FakeNode) SetPaused(paused bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = paused
}

// FailSimulations forces every simulation to report msg. Empty clears it.
func (f *FakeNode) FailSimulations(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulateError = msg
}

// FailPausedReads makes simulations of paused() report msg.
func (f *FakeNode) FailPausedReads(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pausedError = msg
}

// ForceSendStatus makes SendTransaction answer status without applying.
func (f *FakeNode) ForceSendStatus(status TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendStatus = status
}

// ScriptStatuses queues the statuses GetTransaction returns, in order, before
// falling back to normal behaviour.
func (f *FakeNode) ScriptStatuses(statuses ...TxStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusScript = append(f.statusScript, statuses...)
}

func (f *FakeNode) Balance(address string) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceLocked(address)
}

func (f *FakeNode) Locked(address string) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.locked[address]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Calls returns how often the named RPC method was invoked.
func (f *FakeNode) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// SimulatedMethods returns how often contract method was simulated.
func (f *FakeNode) SimulatedMethods(method string) int {
	return f.Calls("simulate:" + method)
}

func (f *FakeNode) GetAccount(_ context.Context, address string) (Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["getAccount"]++
	seq, ok := f.sequences[address]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, address)
	}
	return Account{ID: address, Sequence: seq}, nil
}

func (f *FakeNode) SimulateTransaction(_ context.Context, env UnsignedEnvelope) (SimulationOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["simulateTransaction"]++
	if len(env.Operations) != 1 {
		return SimulationOutcome{Error: "transaction must hold exactly one contract call"}, nil
	}
	op := env.Operations[0]
	f.calls["simulate:"+op.Method]++
	if f.simulateError != "" {
		return SimulationOutcome{Error: f.simulateError}, nil
	}
	if _, ok := f.sequences[env.SourceAccount]; !ok {
		return SimulationOutcome{Error: "source account not found"}, nil
	}
	ret, errMsg := f.execute(env.SourceAccount, op, false)
	if errMsg != "" {
		return SimulationOutcome{Error: errMsg}, nil
	}
	out := SimulationOutcome{ReturnValue: &ret}
	if op.Method == "lock" {
		out.MinResourceFee = fakeResourceFee
		out.Footprint = &Footprint{
			ReadOnly:     []string{"contract:" + f.contract},
			ReadWrite:    []string{"balance:" + env.SourceAccount, "escrow:" + env.SourceAccount},
			Instructions: 1_500_000,
			ReadBytes:    512,
			WriteBytes:   256,
		}
	}
	return out, nil
}

func (f *FakeNode) SendTransaction(_ context.Context, signed SignedEnvelope) (SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["sendTransaction"]++

	env := signed.Envelope
	hash, err := Hash(f.passphrase, env)
	if err != nil {
		return SendResult{}, err
	}
	if f.sendStatus != "" {
		return SendResult{Hash: hash, Status: f.sendStatus}, nil
	}
	if _, ok := f.txs[hash]; ok {
		return SendResult{Hash: hash, Status: StatusDuplicate}, nil
	}
	seq, ok := f.sequences[env.SourceAccount]
	if !ok {
		return SendResult{Hash: hash, Status: StatusError, ErrorResult: "txNoAccount"}, nil
	}
	if env.Sequence != seq+1 {
		return SendResult{Hash: hash, Status: StatusError, ErrorResult: "txBadSeq"}, nil
	}
	if len(signed.Signatures) == 0 {
		return SendResult{Hash: hash, Status: StatusError, ErrorResult: "txBadAuth"}, nil
	}
	if f.VerifySignatures && Verify(f.passphrase, signed) != nil {
		return SendResult{Hash: hash, Status: StatusError, ErrorResult: "txBadAuth"}, nil
	}
	f.sequences[env.SourceAccount] = env.Sequence
	f.txs[hash] = &fakeTx{env: env, status: StatusPending}
	return SendResult{Hash: hash, Status: StatusPending}, nil
}

func (f *FakeNode) GetTransaction(_ context.Context, hash string) (TxInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["getTransaction"]++

	tx := f.txs[hash]
	if len(f.statusScript) > 0 {
		status := f.statusScript[0]
		f.statusScript = f.statusScript[1:]
		if tx != nil && status == StatusSuccess && tx.status == StatusPending {
			f.apply(tx)
		}
		return TxInfo{Status: status}, nil
	}
	if tx == nil {
		return TxInfo{Status: StatusNotFound}, nil
	}
	if tx.status == StatusPending {
		tx.polls++
		if tx.polls <= f.ConfirmAfter {
			return TxInfo{Status: StatusNotFound}, nil
		}
		f.apply(tx)
	}
	return TxInfo{Status: tx.status, Ledger: uint32(1000 + len(f.txs))}, nil
}

func (f *FakeNode) Ping(context.Context) error { return nil }

func (f *FakeNode) apply(tx *fakeTx) {
	if _, errMsg := f.execute(tx.env.SourceAccount, tx.env.Operations[0], true); errMsg != "" {
		tx.status = StatusFailed
		return
	}
	tx.status = StatusSuccess
}

// execute runs op against the contract state. Callers hold f.mu.
func (f *FakeNode) execute(source string, op OperationCall, commit bool) (scval.Value, string) {
	if op.Contract != f.contract {
		return scval.Value{}, "contract not found: " + op.Contract
	}
	switch op.Method {
	case "balance":
		if len(op.Args) != 1 || op.Args[0].Kind() != scval.KindAddress {
			return scval.Value{}, "trap: balance expects (address)"
		}
		return scval.MustI128(f.balanceLocked(op.Args[0].Str())), ""
	case "paused":
		if f.pausedError != "" {
			return scval.Value{}, f.pausedError
		}
		return scval.Bool(f.paused), ""
	case "lock":
		if len(op.Args) != 2 || op.Args[0].Kind() != scval.KindAddress {
			return scval.Value{}, "trap: lock expects (address, i128)"
		}
		owner := op.Args[0].Str()
		amount, err := op.Args[1].AsBigInt()
		if err != nil {
			return scval.Value{}, "trap: " + err.Error()
		}
		if owner != source {
			return scval.Value{}, "trap: UnreachableCodeReached (missing authorization for " + owner + ")"
		}
		if f.paused {
			return scval.Value{}, "Error(Contract, #1): contract paused"
		}
		if amount.Sign() <= 0 {
			return scval.Value{}, "Error(Contract, #3): amount must be positive"
		}
		bal := f.balanceLocked(owner)
		if bal.Cmp(amount) < 0 {
			return scval.Value{}, "Error(Contract, #2): insufficient balance"
		}
		if commit {
			f.balances[owner] = bal.Sub(bal, amount)
			locked, ok := f.locked[owner]
			if !ok {
				locked = new(big.Int)
			}
			f.locked[owner] = locked.Add(locked, amount)
		}
		return scval.Void(), ""
	default:
		return scval.Value{}, "trap: unknown method " + op.Method
	}
}

func (f *FakeNode) balanceLocked(address string) *big.Int {
	if v, ok := f.balances[address]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}
