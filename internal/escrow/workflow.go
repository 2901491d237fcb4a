package escrow

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"escrowlock/internal/ledger"
	"escrowlock/internal/log"
	"escrowlock/internal/records"
	"escrowlock/internal/scval"
)

// WalletProvider yields the address of the connected wallet.
type WalletProvider interface {
	Address(ctx context.Context) (string, error)
}

// StaticWallet is a WalletProvider bound to one address. An empty address
// behaves like a disconnected wallet.
type StaticWallet string

func (w StaticWallet) Address(context.Context) (string, error) {
	return string(w), nil
}

type LockRequest struct {
	// CallerAddress overrides the wallet provider when set.
	CallerAddress string
	// Amount is in whole tokens.
	Amount *big.Int
	// Scale overrides the configured amount scale when set.
	Scale *big.Int

	JobID        string
	Title        string
	Deliverables []string
}

type LockOutcome struct {
	Success         bool
	TransactionHash string
	LockedAmount    *big.Int
	JobID           string
	// Persisted is false when the records were handed to the outbox instead
	// of being written directly.
	Persisted bool
}

// Workflow is the escrow lock use case: validate the caller's balance and
// the contract state, run the lock transaction to finality, then record it.
type Workflow struct {
	accounts *Accounts
	reads    *ReadInvoker
	poller   *Poller
	store    records.Store
	wallet   WalletProvider
	settings Settings
	now      func() time.Time
}

func NewWorkflow(node ledger.Node, signer Signer, store records.Store, wallet WalletProvider, settings Settings, observer Observer) *Workflow {
	accounts := NewAccounts(node)
	return &Workflow{
		accounts: accounts,
		reads:    NewReadInvoker(node, accounts, settings),
		poller:   NewPoller(NewAssembler(node, accounts, settings), signer, node, settings, observer),
		store:    store,
		wallet:   wallet,
		settings: settings,
		now:      time.Now,
	}
}

func (w *Workflow) Settings() Settings {
	return w.settings
}

func (w *Workflow) resolveCaller(ctx context.Context, explicit string) (string, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit, nil
	}
	if w.wallet == nil {
		return "", newError(KindWalletNotConnected, "no wallet configured", nil)
	}
	addr, err := w.wallet.Address(ctx)
	if err != nil {
		return "", newError(KindWalletNotConnected, "", err)
	}
	if addr = strings.TrimSpace(addr); addr == "" {
		return "", newError(KindWalletNotConnected, "", nil)
	}
	return addr, nil
}

// Invoke runs any read-only contract method.
func (w *Workflow) Invoke(ctx context.Context, method string, args []scval.Value, caller string) (*scval.Value, error) {
	return w.reads.Call(ctx, method, args, caller)
}

// InvokeNative is Invoke with the result decoded to plain Go values, for
// callers that render JSON.
func (w *Workflow) InvokeNative(ctx context.Context, method string, args []scval.Value, caller string) (any, error) {
	return w.reads.CallNative(ctx, method, args, caller)
}

// Balance reads the token balance of address in base units.
func (w *Workflow) Balance(ctx context.Context, address string) (*big.Int, error) {
	v, err := w.reads.Call(ctx, "balance", []scval.Value{scval.Address(address)}, address)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, newError(KindEncoding, "balance returned no value", nil)
	}
	bal, err := v.AsBigInt()
	if err != nil {
		return nil, newError(KindEncoding, "decode balance", err)
	}
	return bal, nil
}

// Paused reports the contract's pause flag, simulated from caller's account.
func (w *Workflow) Paused(ctx context.Context, caller string) (bool, error) {
	v, err := w.reads.Call(ctx, "paused", nil, caller)
	if err != nil {
		return false, err
	}
	if v == nil {
		return false, newError(KindEncoding, "paused returned no value", nil)
	}
	paused, err := v.AsBool()
	if err != nil {
		return false, newError(KindEncoding, "decode paused", err)
	}
	return paused, nil
}

func (w *Workflow) Lock(ctx context.Context, req LockRequest) (LockOutcome, error) {
	caller, err := w.resolveCaller(ctx, req.CallerAddress)
	if err != nil {
		return LockOutcome{}, err
	}
	ctx = log.WithLogField(ctx, "caller", caller)

	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return LockOutcome{}, newError(KindInvalidAmount, "amount must be positive", nil)
	}
	scale := w.settings.scale()
	if req.Scale != nil {
		if req.Scale.Sign() <= 0 {
			return LockOutcome{}, newError(KindInvalidAmount, "scale must be positive", nil)
		}
		scale = req.Scale
	}
	amount := ToBaseUnits(req.Amount, scale)
	amountArg, err := scval.I128(amount)
	if err != nil {
		return LockOutcome{}, newError(KindInvalidAmount, "", err)
	}
	if err := w.checkJobID(ctx, req.JobID); err != nil {
		return LockOutcome{}, err
	}

	balance, err := w.Balance(ctx, caller)
	if err != nil {
		return LockOutcome{}, err
	}
	if balance.Cmp(amount) < 0 {
		return LockOutcome{}, &Error{Kind: KindBalanceInsufficient, Required: amount, Available: balance}
	}

	if err := w.checkPaused(ctx, caller); err != nil {
		return LockOutcome{}, err
	}

	log.L(ctx).Infof("locking %s base units", amount)
	receipt, err := w.poller.Run(ctx, "lock", []scval.Value{scval.Address(caller), amountArg}, caller)
	if err != nil {
		return LockOutcome{}, err
	}
	ctx = log.WithLogField(ctx, "hash", receipt.Hash)
	log.L(ctx).Infof("lock confirmed after %d status checks", receipt.Attempts)

	jobID := req.JobID
	if jobID == "" {
		jobID = records.NewJobID()
	}
	out := LockOutcome{
		Success:         true,
		TransactionHash: receipt.Hash,
		LockedAmount:    amount,
		JobID:           jobID,
	}
	job := records.JobRecord{
		ID:              jobID,
		Title:           req.Title,
		ClientAddress:   caller,
		TransactionHash: receipt.Hash,
		LockedAmount:    amount,
		Status:          records.JobStatusOpen,
		CreatedAt:       w.now().UTC(),
	}
	out.JobID, out.Persisted = w.persist(ctx, job, req.Deliverables)
	return out, nil
}

// checkJobID rejects a caller-chosen job id that is already recorded, before
// anything reaches the ledger.
func (w *Workflow) checkJobID(ctx context.Context, jobID string) error {
	if jobID == "" || w.store == nil {
		return nil
	}
	_, err := w.store.GetJob(ctx, jobID)
	switch {
	case err == nil:
		return newError(KindJobExists, jobID, nil)
	case errors.Is(err, records.ErrNotFound):
		return nil
	default:
		return newError(KindPersistence, "look up job id", err)
	}
}

// checkPaused fails open on a read error unless configured otherwise.
func (w *Workflow) checkPaused(ctx context.Context, caller string) error {
	paused, err := w.Paused(ctx, caller)
	if err != nil {
		if w.settings.FailClosedOnPauseCheck {
			return newError(KindPauseCheckFailed, "", err)
		}
		log.L(ctx).Warnf("pause check failed, continuing: %v", err)
		return nil
	}
	if paused {
		return newError(KindContractPaused, "", nil)
	}
	return nil
}

// persist writes the job and milestone records and returns the job id they
// were written under. The lock is already final, so a failed write goes to
// the outbox instead of failing the call. A job id taken by another lock in
// the meantime is replaced with a fresh one.
func (w *Workflow) persist(ctx context.Context, job records.JobRecord, deliverables []string) (string, bool) {
	if w.store == nil {
		return job.ID, false
	}
	jobWritten := false
	_, err := w.store.CreateJobRecord(ctx, job)
	if errors.Is(err, records.ErrConflict) {
		taken := job.ID
		job.ID = records.NewJobID()
		log.L(ctx).Warnf("job id %s was taken by another lock, recording as %s", taken, job.ID)
		_, err = w.store.CreateJobRecord(ctx, job)
	}
	if err == nil {
		jobWritten = true
		if len(deliverables) > 0 {
			_, err = w.store.CreateMilestoneRecords(ctx, job.ID, deliverables, job.LockedAmount)
		}
	}
	if err == nil {
		return job.ID, true
	}

	perr := newError(KindPersistence, "store lock records", err)
	log.L(ctx).Warnf("%v; queueing for reconciliation", perr)
	now := w.now().UTC()
	qerr := w.store.Enqueue(ctx, records.PendingWrite{
		Job:           job,
		Deliverables:  deliverables,
		JobWritten:    jobWritten,
		LastError:     err.Error(),
		CreatedAt:     now,
		NextAttemptAt: now,
	})
	if qerr != nil {
		log.L(ctx).Errorf("outbox enqueue failed, lock %s has no record: %v", job.TransactionHash, qerr)
	}
	return job.ID, false
}
