package ledger

import (
	"context"
	"errors"

	"escrowlock/internal/scval"
)

// TxStatus covers both sendTransaction and getTransaction statuses.
type TxStatus string

const (
	StatusPending       TxStatus = "PENDING"
	StatusDuplicate     TxStatus = "DUPLICATE"
	StatusTryAgainLater TxStatus = "TRY_AGAIN_LATER"
	StatusError         TxStatus = "ERROR"

	StatusNotFound TxStatus = "NOT_FOUND"
	StatusSuccess  TxStatus = "SUCCESS"
	StatusFailed   TxStatus = "FAILED"
)

type SendResult struct {
	Hash        string   `json:"hash"`
	Status      TxStatus `json:"status"`
	ErrorResult string   `json:"errorResultXdr,omitempty"`
}

type TxInfo struct {
	Status      TxStatus     `json:"status"`
	Ledger      uint32       `json:"ledger,omitempty"`
	ReturnValue *scval.Value `json:"returnValue,omitempty"`
}

// ErrAccountNotFound is returned by GetAccount for addresses the network does
// not know.
var ErrAccountNotFound = errors.New("account not found")

// Node is the RPC surface the lock path consumes.
type Node interface {
	GetAccount(ctx context.Context, address string) (Account, error)
	SimulateTransaction(ctx context.Context, env UnsignedEnvelope) (SimulationOutcome, error)
	SendTransaction(ctx context.Context, env SignedEnvelope) (SendResult, error)
	GetTransaction(ctx context.Context, hash string) (TxInfo, error)
}

// HealthChecker is implemented by nodes that can report endpoint health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
