// Package records is the off-chain record store the lock path writes to
// after a confirmed lock: job records, milestone records, and an outbox of
// writes that failed and still have to be applied.
package records

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusOpen       = "Open"
	MilestonePending    = "Pending"
	defaultPendingLimit = 100
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a job id is already taken by a different
	// transaction.
	ErrConflict = errors.New("job id already recorded for another transaction")
)

type JobRecord struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	ClientAddress   string    `json:"clientAddress"`
	TransactionHash string    `json:"transactionHash"`
	LockedAmount    *big.Int  `json:"lockedAmount"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
}

type Milestone struct {
	ID     string   `json:"id"`
	JobID  string   `json:"jobId"`
	Index  int      `json:"index"`
	Title  string   `json:"title"`
	Amount *big.Int `json:"amount"`
	Status string   `json:"status"`
}

// PendingWrite is an outbox entry: a confirmed lock whose records have not
// been stored yet.
type PendingWrite struct {
	ID            string    `json:"id"`
	Job           JobRecord `json:"job"`
	Deliverables  []string  `json:"deliverables,omitempty"`
	JobWritten    bool      `json:"jobWritten"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"lastError,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	NextAttemptAt time.Time `json:"nextAttemptAt"`
}

// Store is the persistence collaborator. CreateJobRecord and
// CreateMilestoneRecords are idempotent on the job id so outbox replays are
// safe; CreateJobRecord fails with ErrConflict when the id belongs to a
// different transaction hash.
type Store interface {
	CreateJobRecord(ctx context.Context, job JobRecord) (JobRecord, error)
	CreateMilestoneRecords(ctx context.Context, jobID string, deliverables []string, total *big.Int) ([]Milestone, error)
	GetJob(ctx context.Context, id string) (JobRecord, error)
	ListMilestones(ctx context.Context, jobID string) ([]Milestone, error)

	Enqueue(ctx context.Context, w PendingWrite) error
	Pending(ctx context.Context, now time.Time, limit int) ([]PendingWrite, error)
	Reschedule(ctx context.Context, w PendingWrite) error
	Complete(ctx context.Context, id string) error
	OutboxDepth(ctx context.Context) (int, error)
}

func NewJobID() string {
	return uuid.NewString()
}

// SplitMilestones divides total evenly over the deliverables; the remainder
// goes to the last milestone so the amounts always add up to total.
func SplitMilestones(jobID string, deliverables []string, total *big.Int) []Milestone {
	if len(deliverables) == 0 || total == nil {
		return nil
	}
	n := big.NewInt(int64(len(deliverables)))
	share, rem := new(big.Int).QuoRem(total, n, new(big.Int))
	out := make([]Milestone, len(deliverables))
	for i, title := range deliverables {
		amount := new(big.Int).Set(share)
		if i == len(deliverables)-1 {
			amount.Add(amount, rem)
		}
		out[i] = Milestone{
			ID:     milestoneID(jobID, i),
			JobID:  jobID,
			Index:  i,
			Title:  title,
			Amount: amount,
			Status: MilestonePending,
		}
	}
	return out
}

// milestoneID is derived from the job id and position, so re-creating the
// same milestones yields the same ids.
func milestoneID(jobID string, index int) string {
	base, err := uuid.Parse(jobID)
	if err != nil {
		base = uuid.NewSHA1(uuid.NameSpaceOID, []byte(jobID))
	}
	return uuid.NewSHA1(base, []byte{byte(index >> 8), byte(index)}).String()
}

func normalizeJob(job JobRecord) JobRecord {
	if job.ID == "" {
		job.ID = NewJobID()
	}
	if job.Status == "" {
		job.Status = JobStatusOpen
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.LockedAmount == nil {
		job.LockedAmount = new(big.Int)
	}
	return job
}

func normalizePending(w PendingWrite) PendingWrite {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	if w.NextAttemptAt.IsZero() {
		w.NextAttemptAt = w.CreatedAt
	}
	return w
}
