// Package reconcile drains the record outbox: locks that were confirmed on
// the ledger but whose job records could not be written at the time.
package reconcile

import (
	"context"
	"errors"
	"math"
	"time"

	"golang.org/x/time/rate"

	"escrowlock/internal/config"
	"escrowlock/internal/ledger"
	"escrowlock/internal/log"
	"escrowlock/internal/records"
)

const maxBackoff = time.Hour

type Config struct {
	Interval time.Duration
	Batch    int
	// Rate caps entries processed per second. Zero means unlimited.
	Rate float64
	// MaxAttempts is the failure count after which an entry is reported as
	// stuck. Stuck entries keep being retried at the maximum backoff.
	MaxAttempts int
}

func ConfigFromStore(c config.StoreConfig) Config {
	return Config{
		Interval:    c.ReconcileInterval,
		Batch:       c.ReconcileBatch,
		Rate:        c.ReconcileRate,
		MaxAttempts: c.MaxWriteAttempts,
	}
}

// Result summarises one pass over the outbox.
type Result struct {
	Applied int `json:"applied"`
	Retried int `json:"retried"`
	Dropped int `json:"dropped"`
	Stuck   int `json:"stuck"`
	Depth   int `json:"depth"`
}

type Reconciler struct {
	store   records.Store
	node    ledger.Node
	cfg     Config
	limiter *rate.Limiter
	now     func() time.Time

	// OnPass is called after every pass, including failed ones.
	OnPass func(Result)
}

func New(store records.Store, node ledger.Node, cfg Config) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 50
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), int(math.Max(1, cfg.Rate)))
	}
	return &Reconciler{
		store:   store,
		node:    node,
		cfg:     cfg,
		limiter: limiter,
		now:     time.Now,
	}
}

// Run reconciles every Interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	log.L(ctx).Infof("outbox reconciler started (interval=%s batch=%d)", r.cfg.Interval, r.cfg.Batch)
	for {
		if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.L(ctx).Errorf("outbox pass failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.L(ctx).Info("outbox reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce processes the entries that are due now.
func (r *Reconciler) RunOnce(ctx context.Context) (res Result, err error) {
	defer func() {
		if depth, derr := r.store.OutboxDepth(ctx); derr == nil {
			res.Depth = depth
		}
		if r.OnPass != nil {
			r.OnPass(res)
		}
	}()

	due, err := r.store.Pending(ctx, r.now().UTC(), r.cfg.Batch)
	if err != nil {
		return res, err
	}
	for _, w := range due {
		if err := r.limiter.Wait(ctx); err != nil {
			return res, err
		}
		wctx := log.WithLogField(log.WithLogField(ctx, "job", w.Job.ID), "hash", w.Job.TransactionHash)
		oc, err := r.apply(wctx, w)
		if err != nil {
			return res, err
		}
		switch oc {
		case outcomeApplied:
			res.Applied++
		case outcomeDropped:
			res.Dropped++
		case outcomeStuck:
			res.Stuck++
			res.Retried++
		default:
			res.Retried++
		}
	}
	return res, nil
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeRetried
	outcomeStuck
	outcomeDropped
)

// apply handles one entry. The returned error is only set when the outbox
// itself cannot be updated.
func (r *Reconciler) apply(ctx context.Context, w records.PendingWrite) (outcome, error) {
	info, err := r.node.GetTransaction(ctx, w.Job.TransactionHash)
	switch {
	case err != nil:
		return r.retry(ctx, w, err)
	case info.Status == ledger.StatusFailed:
		log.L(ctx).Errorf("outbox entry refers to a failed transaction, dropping it")
		return outcomeDropped, r.store.Complete(ctx, w.ID)
	case info.Status == ledger.StatusNotFound:
		// Entries are only queued after confirmation, so this is the node
		// having pruned the transaction from its history.
		log.L(ctx).Debugf("transaction no longer retained by node, trusting outbox entry")
	}

	if !w.JobWritten {
		_, err := r.store.CreateJobRecord(ctx, w.Job)
		if errors.Is(err, records.ErrConflict) {
			taken := w.Job.ID
			w.Job.ID = records.NewJobID()
			log.L(ctx).Warnf("job id %s belongs to another lock, recording as %s", taken, w.Job.ID)
			_, err = r.store.CreateJobRecord(ctx, w.Job)
		}
		if err != nil {
			return r.retry(ctx, w, err)
		}
		w.JobWritten = true
	}
	if len(w.Deliverables) > 0 {
		if _, err := r.store.CreateMilestoneRecords(ctx, w.Job.ID, w.Deliverables, w.Job.LockedAmount); err != nil {
			return r.retry(ctx, w, err)
		}
	}
	if err := r.store.Complete(ctx, w.ID); err != nil {
		return outcomeRetried, err
	}
	log.L(ctx).Infof("outbox entry applied after %d failed attempts", w.Attempts)
	return outcomeApplied, nil
}

func (r *Reconciler) retry(ctx context.Context, w records.PendingWrite, cause error) (outcome, error) {
	w.Attempts++
	w.LastError = cause.Error()
	w.NextAttemptAt = r.now().UTC().Add(Backoff(r.cfg.Interval, w.Attempts))
	if err := r.store.Reschedule(ctx, w); err != nil {
		return outcomeRetried, err
	}
	if r.cfg.MaxAttempts > 0 && w.Attempts >= r.cfg.MaxAttempts {
		log.L(ctx).Errorf("outbox entry stuck after %d attempts: %v", w.Attempts, cause)
		return outcomeStuck, nil
	}
	log.L(ctx).Warnf("outbox attempt %d failed, next at %s: %v", w.Attempts, w.NextAttemptAt.Format(time.RFC3339), cause)
	return outcomeRetried, nil
}

// Backoff doubles base for every attempt, capped at one hour.
func Backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
