package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrowlock/internal/ledger"
	"escrowlock/internal/log"
	"escrowlock/internal/scval"
)

// SignOptions travel with an envelope to the signer.
type SignOptions struct {
	NetworkPassphrase string
	Address           string
}

// Signer hands an encoded envelope to the key holder and returns the signed
// envelope in the same exchange format. A user cancellation must be reported
// as an error matching ErrSigningDeclined.
type Signer interface {
	Sign(ctx context.Context, envelope string, opts SignOptions) (string, error)
}

type State string

const (
	StateBuilt            State = "BUILT"
	StateSimulated        State = "SIMULATED"
	StateAssembled        State = "ASSEMBLED"
	StateSigned           State = "SIGNED"
	StateSubmitted        State = "SUBMITTED"
	StateConfirmedSuccess State = "CONFIRMED_SUCCESS"
	StateConfirmedFailed  State = "CONFIRMED_FAILED"
	StateError            State = "ERROR"
)

// Observer is told about every state a transaction enters.
type Observer func(ctx context.Context, state State, hash string)

type Receipt struct {
	Status   State
	Hash     string
	Attempts int
	Ledger   uint32
}

// Poller drives a contract call from build to finality: simulate, merge,
// sign, submit, then poll the transaction status until it is terminal or the
// attempt budget runs out.
type Poller struct {
	assembler *Assembler
	signer    Signer
	node      ledger.Node
	settings  Settings
	observer  Observer
}

func NewPoller(assembler *Assembler, signer Signer, node ledger.Node, settings Settings, observer Observer) *Poller {
	return &Poller{
		assembler: assembler,
		signer:    signer,
		node:      node,
		settings:  settings,
		observer:  observer,
	}
}

func (p *Poller) enter(ctx context.Context, state State, hash string) {
	log.L(ctx).Debugf("transaction state %s", state)
	if p.observer != nil {
		p.observer(ctx, state, hash)
	}
}

func (p *Poller) fail(ctx context.Context, hash string, err error) (Receipt, error) {
	p.enter(ctx, StateError, hash)
	return Receipt{Status: StateError, Hash: hash}, err
}

func (p *Poller) Run(ctx context.Context, method string, args []scval.Value, caller string) (Receipt, error) {
	p.enter(ctx, StateBuilt, "")
	env, sim, err := p.assembler.Simulate(ctx, method, args, caller)
	if err != nil {
		return p.fail(ctx, "", err)
	}
	p.enter(ctx, StateSimulated, "")

	prepared, err := merge(env, sim)
	if err != nil {
		return p.fail(ctx, "", err)
	}
	hash, err := ledger.Hash(p.settings.NetworkPassphrase, prepared)
	if err != nil {
		return p.fail(ctx, "", newError(KindEncoding, "hash envelope", err))
	}
	ctx = log.WithLogField(ctx, "hash", hash)
	p.enter(ctx, StateAssembled, hash)

	signed, err := p.sign(ctx, prepared, hash, caller)
	if err != nil {
		return p.fail(ctx, hash, err)
	}
	p.enter(ctx, StateSigned, hash)

	res, err := p.node.SendTransaction(ctx, signed)
	if err != nil {
		// The node may have accepted the envelope before the call failed.
		return p.fail(ctx, hash, &Error{Kind: KindSubmissionUnknown, Message: "send transaction", Cause: err, Hash: hash})
	}
	switch res.Status {
	case ledger.StatusPending, ledger.StatusDuplicate:
	default:
		return p.fail(ctx, hash, &Error{Kind: KindSubmission, Message: res.ErrorResult, Status: res.Status, Hash: hash})
	}
	if res.Hash != "" && res.Hash != hash {
		log.L(ctx).Warnf("node reported hash %s for submitted transaction", res.Hash)
		hash = res.Hash
	}
	p.enter(ctx, StateSubmitted, hash)

	return p.await(ctx, hash)
}

func (p *Poller) sign(ctx context.Context, prepared ledger.PreparedEnvelope, hash, caller string) (ledger.SignedEnvelope, error) {
	unsigned, err := ledger.Encode(prepared)
	if err != nil {
		return ledger.SignedEnvelope{}, newError(KindEncoding, "encode envelope", err)
	}
	out, err := p.signer.Sign(ctx, unsigned, SignOptions{
		NetworkPassphrase: p.settings.NetworkPassphrase,
		Address:           caller,
	})
	if err != nil {
		if errors.Is(err, ErrSigningDeclined) {
			return ledger.SignedEnvelope{}, &Error{Kind: KindSigningDeclined, Cause: err, Hash: hash}
		}
		return ledger.SignedEnvelope{}, &Error{Kind: KindSignerUnavailable, Cause: err, Hash: hash}
	}
	signed, err := ledger.DecodeSigned(out)
	if err != nil {
		return ledger.SignedEnvelope{}, newError(KindEncoding, "decode signed envelope", err)
	}
	signedHash, err := ledger.Hash(p.settings.NetworkPassphrase, signed.Envelope)
	if err != nil {
		return ledger.SignedEnvelope{}, newError(KindEncoding, "hash signed envelope", err)
	}
	if signedHash != hash {
		return ledger.SignedEnvelope{}, newError(KindEncoding, "signer returned a different transaction", nil)
	}
	return signed, nil
}

// await polls getTransaction while the node reports NOT_FOUND. Transport
// errors count against the same attempt budget.
func (p *Poller) await(ctx context.Context, hash string) (Receipt, error) {
	maxAttempts := p.settings.PollMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	interval := p.settings.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for attempt := 1; ; attempt++ {
		info, err := p.node.GetTransaction(ctx, hash)
		switch {
		case err != nil:
			lastErr = err
			log.L(ctx).Warnf("getTransaction attempt %d failed: %v", attempt, err)
		case info.Status == ledger.StatusSuccess:
			p.enter(ctx, StateConfirmedSuccess, hash)
			return Receipt{Status: StateConfirmedSuccess, Hash: hash, Attempts: attempt, Ledger: info.Ledger}, nil
		case info.Status != ledger.StatusNotFound:
			p.enter(ctx, StateConfirmedFailed, hash)
			return Receipt{Status: StateConfirmedFailed, Hash: hash, Attempts: attempt, Ledger: info.Ledger},
				&Error{Kind: KindTransactionFailed, Status: info.Status, Hash: hash}
		}
		if attempt >= maxAttempts {
			return p.fail(ctx, hash, &Error{
				Kind:    KindConfirmationTimeout,
				Message: fmt.Sprintf("not confirmed after %d attempts", attempt),
				Cause:   lastErr,
				Hash:    hash,
			})
		}
		select {
		case <-ctx.Done():
			return p.fail(ctx, hash, &Error{Kind: KindConfirmationTimeout, Message: "polling cancelled", Cause: ctx.Err(), Hash: hash})
		case <-ticker.C:
		}
	}
}
