package records

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createTablesSQL = `
CREATE TABLE IF NOT EXISTS escrow_jobs (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    client_address TEXT NOT NULL,
    transaction_hash TEXT NOT NULL,
    locked_amount NUMERIC(39,0) NOT NULL,
    status TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS escrow_milestones (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL REFERENCES escrow_jobs(id),
    idx INT NOT NULL,
    title TEXT NOT NULL,
    amount NUMERIC(39,0) NOT NULL,
    status TEXT NOT NULL,
    UNIQUE (job_id, idx)
);
CREATE TABLE IF NOT EXISTS escrow_outbox (
    id TEXT PRIMARY KEY,
    job_id TEXT NOT NULL,
    title TEXT NOT NULL,
    client_address TEXT NOT NULL,
    transaction_hash TEXT NOT NULL,
    locked_amount NUMERIC(39,0) NOT NULL,
    deliverables TEXT[] NOT NULL DEFAULT '{}',
    job_written BOOLEAN NOT NULL DEFAULT FALSE,
    attempts INT NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    next_attempt_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore connects using dsn and ensures the tables exist.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTablesSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid stored amount %q", s)
	}
	return n, nil
}

func (p *PostgresStore) CreateJobRecord(ctx context.Context, job JobRecord) (JobRecord, error) {
	job = normalizeJob(job)
	_, err := p.pool.Exec(ctx, `
INSERT INTO escrow_jobs (id, title, client_address, transaction_hash, locked_amount, status, created_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
ON CONFLICT (id) DO NOTHING
`, job.ID, job.Title, job.ClientAddress, job.TransactionHash, job.LockedAmount.String(), job.Status, job.CreatedAt)
	if err != nil {
		return JobRecord{}, fmt.Errorf("insert job: %w", err)
	}
	stored, err := p.GetJob(ctx, job.ID)
	if err != nil {
		return JobRecord{}, err
	}
	if stored.TransactionHash != job.TransactionHash {
		return JobRecord{}, fmt.Errorf("job %s: %w", job.ID, ErrConflict)
	}
	return stored, nil
}

func (p *PostgresStore) GetJob(ctx context.Context, id string) (JobRecord, error) {
	row := p.pool.QueryRow(ctx, `
SELECT id, title, client_address, transaction_hash, locked_amount::text, status, created_at
FROM escrow_jobs
WHERE id = $1
`, id)

	var job JobRecord
	var amount string
	if err := row.Scan(&job.ID, &job.Title, &job.ClientAddress, &job.TransactionHash, &amount, &job.Status, &job.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JobRecord{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return JobRecord{}, err
	}
	locked, err := parseAmount(amount)
	if err != nil {
		return JobRecord{}, err
	}
	job.LockedAmount = locked
	return job, nil
}

func (p *PostgresStore) CreateMilestoneRecords(ctx context.Context, jobID string, deliverables []string, total *big.Int) ([]Milestone, error) {
	ms := SplitMilestones(jobID, deliverables, total)
	if len(ms) == 0 {
		return nil, nil
	}
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, m := range ms {
			if _, err := tx.Exec(ctx, `
INSERT INTO escrow_milestones (id, job_id, idx, title, amount, status)
VALUES ($1, $2, $3, $4, $5::numeric, $6)
ON CONFLICT (job_id, idx) DO NOTHING
`, m.ID, m.JobID, m.Index, m.Title, m.Amount.String(), m.Status); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("insert milestones: %w", err)
	}
	return p.ListMilestones(ctx, jobID)
}

func (p *PostgresStore) ListMilestones(ctx context.Context, jobID string) ([]Milestone, error) {
	rows, err := p.pool.Query(ctx, `
SELECT id, job_id, idx, title, amount::text, status
FROM escrow_milestones
WHERE job_id = $1
ORDER BY idx
`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Milestone
	for rows.Next() {
		var m Milestone
		var amount string
		if err := rows.Scan(&m.ID, &m.JobID, &m.Index, &m.Title, &amount, &m.Status); err != nil {
			return nil, err
		}
		if m.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Enqueue(ctx context.Context, w PendingWrite) error {
	w = normalizePending(w)
	job := normalizeJob(w.Job)
	_, err := p.pool.Exec(ctx, `
INSERT INTO escrow_outbox (id, job_id, title, client_address, transaction_hash, locked_amount,
    deliverables, job_written, attempts, last_error, created_at, next_attempt_at)
VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10, $11, $12)
`, w.ID, job.ID, job.Title, job.ClientAddress, job.TransactionHash, job.LockedAmount.String(),
		deliverablesOrEmpty(w.Deliverables), w.JobWritten, w.Attempts, w.LastError, w.CreatedAt, w.NextAttemptAt)
	return err
}

func deliverablesOrEmpty(d []string) []string {
	if d == nil {
		return []string{}
	}
	return d
}

func (p *PostgresStore) Pending(ctx context.Context, now time.Time, limit int) ([]PendingWrite, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	rows, err := p.pool.Query(ctx, `
SELECT id, job_id, title, client_address, transaction_hash, locked_amount::text,
    deliverables, job_written, attempts, last_error, created_at, next_attempt_at
FROM escrow_outbox
WHERE next_attempt_at <= $1
ORDER BY created_at
LIMIT $2
`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingWrite
	for rows.Next() {
		var w PendingWrite
		var amount string
		if err := rows.Scan(&w.ID, &w.Job.ID, &w.Job.Title, &w.Job.ClientAddress, &w.Job.TransactionHash, &amount,
			&w.Deliverables, &w.JobWritten, &w.Attempts, &w.LastError, &w.CreatedAt, &w.NextAttemptAt); err != nil {
			return nil, err
		}
		if w.Job.LockedAmount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		w.Job.Status = JobStatusOpen
		w.Job.CreatedAt = w.CreatedAt
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Reschedule(ctx context.Context, w PendingWrite) error {
	tag, err := p.pool.Exec(ctx, `
UPDATE escrow_outbox
SET job_id = $2, job_written = $3, attempts = $4, last_error = $5, next_attempt_at = $6
WHERE id = $1
`, w.ID, w.Job.ID, w.JobWritten, w.Attempts, w.LastError, w.NextAttemptAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox entry %s: %w", w.ID, ErrNotFound)
	}
	return nil
}

func (p *PostgresStore) Complete(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM escrow_outbox WHERE id = $1`, id)
	return err
}

func (p *PostgresStore) OutboxDepth(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM escrow_outbox`).Scan(&n)
	return n, err
}
