package records

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitMilestones(t *testing.T) {
	ms := SplitMilestones("job-1", []string{"design", "build", "ship"}, big.NewInt(10_000_000_001))
	require.Len(t, ms, 3)

	sum := new(big.Int)
	for i, m := range ms {
		assert.Equal(t, i, m.Index)
		assert.Equal(t, MilestonePending, m.Status)
		sum.Add(sum, m.Amount)
	}
	assert.Equal(t, "3333333333", ms[0].Amount.String())
	assert.Equal(t, "3333333335", ms[2].Amount.String())
	assert.Equal(t, "10000000001", sum.String())

	again := SplitMilestones("job-1", []string{"design", "build", "ship"}, big.NewInt(10_000_000_001))
	assert.Equal(t, ms[1].ID, again[1].ID, "milestone ids are deterministic")
	assert.Nil(t, SplitMilestones("job-1", nil, big.NewInt(1)))
}

func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	job, err := store.CreateJobRecord(ctx, JobRecord{
		ID:              NewJobID(),
		Title:           "Logo design",
		ClientAddress:   "GCLIENT",
		TransactionHash: "abc123",
		LockedAmount:    big.NewInt(10_000_000_000),
	})
	require.NoError(t, err)
	assert.Equal(t, JobStatusOpen, job.Status)

	again, err := store.CreateJobRecord(ctx, JobRecord{ID: job.ID, Title: "changed", TransactionHash: "abc123", LockedAmount: big.NewInt(1)})
	require.NoError(t, err)
	assert.Equal(t, "Logo design", again.Title, "create is idempotent on id and hash")

	_, err = store.CreateJobRecord(ctx, JobRecord{ID: job.ID, TransactionHash: "def456", LockedAmount: big.NewInt(2)})
	assert.ErrorIs(t, err, ErrConflict, "another lock cannot reuse the job id")

	ms, err := store.CreateMilestoneRecords(ctx, job.ID, []string{"draft", "final"}, job.LockedAmount)
	require.NoError(t, err)
	require.Len(t, ms, 2)
	assert.Equal(t, "5000000000", ms[0].Amount.String())

	listed, err := store.ListMilestones(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.TransactionHash)
	assert.Equal(t, 0, got.LockedAmount.Cmp(big.NewInt(10_000_000_000)))

	_, err = store.GetJob(ctx, NewJobID())
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC()
	w := PendingWrite{
		ID:            NewJobID(),
		Job:           JobRecord{ID: NewJobID(), Title: "t", ClientAddress: "GC", TransactionHash: "h", LockedAmount: big.NewInt(5)},
		Deliverables:  []string{"a"},
		CreatedAt:     now,
		NextAttemptAt: now,
	}
	require.NoError(t, store.Enqueue(ctx, w))

	depth, err := store.OutboxDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	due, err := store.Pending(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, []string{"a"}, due[0].Deliverables)

	due[0].Attempts = 1
	due[0].NextAttemptAt = now.Add(time.Hour)
	require.NoError(t, store.Reschedule(ctx, due[0]))

	due, err = store.Pending(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, store.Complete(ctx, w.ID))
	depth, err = store.OutboxDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreMilestonesNeedJob(t *testing.T) {
	_, err := NewMemoryStore().CreateMilestoneRecords(context.Background(), "nope", []string{"a"}, big.NewInt(1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")

	store, err := NewFileStore(path)
	require.NoError(t, err)
	exerciseStore(t, store)

	_, err = os.Stat(path)
	require.NoError(t, err, "expected file on disk")

	job, err := store.CreateJobRecord(context.Background(), JobRecord{Title: "persisted", LockedAmount: big.NewInt(7)})
	require.NoError(t, err)

	reopened, err := NewFileStore(path)
	require.NoError(t, err)
	got, err := reopened.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "persisted", got.Title)
	assert.Equal(t, int64(7), got.LockedAmount.Int64())
}

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Ping(ctx))
	exerciseStore(t, store)
}
