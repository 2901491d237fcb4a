package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type state struct {
	Jobs       map[string]JobRecord    `json:"jobs"`
	Milestones map[string][]Milestone  `json:"milestones"`
	Outbox     map[string]PendingWrite `json:"outbox"`
}

func newState() state {
	return state{
		Jobs:       make(map[string]JobRecord),
		Milestones: make(map[string][]Milestone),
		Outbox:     make(map[string]PendingWrite),
	}
}

// MemoryStore keeps records in process memory. It is mostly for tests and
// dev mode.
type MemoryStore struct {
	mu      sync.Mutex
	st      state
	persist func(state) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newState()}
}

func (m *MemoryStore) commit() error {
	if m.persist == nil {
		return nil
	}
	return m.persist(m.st)
}

func (m *MemoryStore) CreateJobRecord(_ context.Context, job JobRecord) (JobRecord, error) {
	job = normalizeJob(job)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.st.Jobs[job.ID]; ok {
		if existing.TransactionHash != job.TransactionHash {
			return JobRecord{}, fmt.Errorf("job %s: %w", job.ID, ErrConflict)
		}
		return existing, nil
	}
	job.LockedAmount = new(big.Int).Set(job.LockedAmount)
	m.st.Jobs[job.ID] = job
	if err := m.commit(); err != nil {
		delete(m.st.Jobs, job.ID)
		return JobRecord{}, err
	}
	return job, nil
}

func (m *MemoryStore) CreateMilestoneRecords(_ context.Context, jobID string, deliverables []string, total *big.Int) ([]Milestone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.Jobs[jobID]; !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if existing, ok := m.st.Milestones[jobID]; ok {
		return existing, nil
	}
	ms := SplitMilestones(jobID, deliverables, total)
	if len(ms) == 0 {
		return nil, nil
	}
	m.st.Milestones[jobID] = ms
	if err := m.commit(); err != nil {
		delete(m.st.Milestones, jobID)
		return nil, err
	}
	return ms, nil
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (JobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.st.Jobs[id]
	if !ok {
		return JobRecord{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return job, nil
}

func (m *MemoryStore) ListMilestones(_ context.Context, jobID string) ([]Milestone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Milestone(nil), m.st.Milestones[jobID]...), nil
}

func (m *MemoryStore) Enqueue(_ context.Context, w PendingWrite) error {
	w = normalizePending(w)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.Outbox[w.ID] = w
	return m.commit()
}

func (m *MemoryStore) Pending(_ context.Context, now time.Time, limit int) ([]PendingWrite, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []PendingWrite
	for _, w := range m.st.Outbox {
		if !w.NextAttemptAt.After(now) {
			due = append(due, w)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) Reschedule(_ context.Context, w PendingWrite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.st.Outbox[w.ID]; !ok {
		return fmt.Errorf("outbox entry %s: %w", w.ID, ErrNotFound)
	}
	m.st.Outbox[w.ID] = w
	return m.commit()
}

func (m *MemoryStore) Complete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.st.Outbox, id)
	return m.commit()
}

func (m *MemoryStore) OutboxDepth(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.st.Outbox), nil
}

// FileStore is a MemoryStore that rewrites a JSON file after every change.
// Suitable for local dev and single-instance deployments.
type FileStore struct {
	*MemoryStore
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{MemoryStore: NewMemoryStore(), path: path}
	if err := fs.load(); err != nil {
		return nil, err
	}
	fs.persist = fs.write
	return fs, nil
}

func (f *FileStore) load() error {
	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	st := newState()
	if err := json.Unmarshal(blob, &st); err != nil {
		return fmt.Errorf("parse %s: %w", f.path, err)
	}
	empty := newState()
	if st.Jobs == nil {
		st.Jobs = empty.Jobs
	}
	if st.Milestones == nil {
		st.Milestones = empty.Milestones
	}
	if st.Outbox == nil {
		st.Outbox = empty.Outbox
	}
	f.st = st
	return nil
}

func (f *FileStore) write(st state) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
