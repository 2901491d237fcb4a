package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"escrowlock/internal/ledger"
)

// Kind classifies every failure the lock path can produce.
type Kind string

const (
	KindEncoding            Kind = "EncodingError"
	KindAccountFetch        Kind = "AccountFetchError"
	KindSimulation          Kind = "SimulationError"
	KindSigningDeclined     Kind = "SigningDeclined"
	KindSignerUnavailable   Kind = "SignerUnavailable"
	KindSubmission          Kind = "SubmissionError"
	KindSubmissionUnknown   Kind = "SubmissionOutcomeUnknown"
	KindTransactionFailed   Kind = "TransactionFailed"
	KindConfirmationTimeout Kind = "ConfirmationTimeout"
	KindBalanceInsufficient Kind = "BalanceInsufficient"
	KindContractPaused      Kind = "ContractPaused"
	KindPauseCheckFailed    Kind = "PauseCheckFailed"
	KindWalletNotConnected  Kind = "WalletNotConnected"
	KindInvalidAmount       Kind = "InvalidAmount"
	KindJobExists           Kind = "JobExists"
	KindPersistence         Kind = "PersistenceError"
)

// Error is the structured error returned by this package. Message carries the
// low-level reason (for SimulationError, the simulation's own error text).
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// BalanceInsufficient
	Required  *big.Int
	Available *big.Int

	// TransactionFailed, SubmissionError, SubmissionOutcomeUnknown,
	// ConfirmationTimeout
	Status ledger.TxStatus
	Hash   string
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	switch e.Kind {
	case KindBalanceInsufficient:
		msg = fmt.Sprintf("%s(required=%s, available=%s)", e.Kind, e.Required, e.Available)
	case KindTransactionFailed:
		msg = fmt.Sprintf("%s(%s)", e.Kind, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so the Err* values below work as
// sentinels with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrEncoding            = &Error{Kind: KindEncoding}
	ErrAccountFetch        = &Error{Kind: KindAccountFetch}
	ErrSimulation          = &Error{Kind: KindSimulation}
	ErrSigningDeclined     = &Error{Kind: KindSigningDeclined}
	ErrSignerUnavailable   = &Error{Kind: KindSignerUnavailable}
	ErrSubmission          = &Error{Kind: KindSubmission}
	ErrSubmissionUnknown   = &Error{Kind: KindSubmissionUnknown}
	ErrTransactionFailed   = &Error{Kind: KindTransactionFailed}
	ErrConfirmationTimeout = &Error{Kind: KindConfirmationTimeout}
	ErrBalanceInsufficient = &Error{Kind: KindBalanceInsufficient}
	ErrContractPaused      = &Error{Kind: KindContractPaused}
	ErrPauseCheckFailed    = &Error{Kind: KindPauseCheckFailed}
	ErrWalletNotConnected  = &Error{Kind: KindWalletNotConnected}
	ErrInvalidAmount       = &Error{Kind: KindInvalidAmount}
	ErrJobExists           = &Error{Kind: KindJobExists}
	ErrPersistence         = &Error{Kind: KindPersistence}
)

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// KindOf returns the kind of err, or "" when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Describe renders err for end users. It is meant for the HTTP and CLI
// boundaries only.
func Describe(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Unexpected error: " + err.Error()
	}
	switch e.Kind {
	case KindWalletNotConnected:
		return "Connect a wallet before locking funds."
	case KindInvalidAmount:
		return "The amount to lock must be a positive whole number of tokens."
	case KindJobExists:
		return "A job with this id already exists."
	case KindBalanceInsufficient:
		return fmt.Sprintf("Insufficient balance: %s base units required, %s available.", e.Required, e.Available)
	case KindContractPaused:
		return "The escrow contract is paused. Try again later."
	case KindPauseCheckFailed:
		return "Could not confirm the escrow contract is active. Try again later."
	case KindSigningDeclined:
		return "The transaction was not signed."
	case KindSignerUnavailable:
		return "The wallet could not be reached to sign the transaction."
	case KindSimulation:
		return "The contract rejected the call: " + e.Message
	case KindSubmission:
		return "The network rejected the transaction."
	case KindSubmissionUnknown:
		return fmt.Sprintf("The transaction %s was sent but the network did not acknowledge it. Check its status before trying again.", e.Hash)
	case KindTransactionFailed:
		return fmt.Sprintf("The transaction %s failed on the ledger (%s).", e.Hash, e.Status)
	case KindConfirmationTimeout:
		return fmt.Sprintf("The transaction %s was submitted but is not yet confirmed.", e.Hash)
	case KindAccountFetch:
		return "The account was not found on the network. Is it funded?"
	default:
		return e.Error()
	}
}
