// Package idempotency keeps lock request outcomes keyed by the client's
// idempotency key, so a retried request never submits a second lock.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record holds a reservation or a stored response.
type Record struct {
	// Fingerprint identifies the request body the key was first used with.
	Fingerprint string    `json:"fingerprint"`
	InFlight    bool      `json:"inFlight"`
	StatusCode  int       `json:"statusCode"`
	Response    []byte    `json:"response"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Store abstracts idempotency persistence.
//
// Reserve claims key for a new request. It returns nil when the claim
// succeeded, or the live record that already holds the key: either a
// finished response or an in-flight reservation.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, ttl time.Duration) (*Record, error)
	Complete(ctx context.Context, key string, record Record) error
	Release(ctx context.Context, key string) error
}

// Fingerprint hashes a request body.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu      sync.Mutex
	data    map[string]Record
	now     func() time.Time
	persist func(map[string]Record) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Record),
		now:  time.Now,
	}
}

func (m *MemoryStore) save() error {
	if m.persist == nil {
		return nil
	}
	return m.persist(m.data)
}

func (m *MemoryStore) Reserve(_ context.Context, key, fingerprint string, ttl time.Duration) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if rec, ok := m.data[key]; ok && now.Before(rec.ExpiresAt) {
		return &rec, nil
	}
	m.data[key] = Record{
		Fingerprint: fingerprint,
		InFlight:    true,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := m.save(); err != nil {
		delete(m.data, key)
		return nil, err
	}
	return nil, nil
}

func (m *MemoryStore) Complete(_ context.Context, key string, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	record.InFlight = false
	m.data[key] = record
	return m.save()
}

func (m *MemoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.data[key]; ok && rec.InFlight {
		delete(m.data, key)
		return m.save()
	}
	return nil
}

// FileStore persists records to disk. Suitable for local dev.
type FileStore struct {
	*MemoryStore
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		MemoryStore: NewMemoryStore(),
		path:        path,
	}
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
	if err := json.Unmarshal(blob, &f.data); err != nil {
		return err
	}
	if f.data == nil {
		f.data = make(map[string]Record)
	}
	// A reservation that survived a restart belongs to a request that is gone.
	for key, rec := range f.data {
		if rec.InFlight {
			delete(f.data, key)
		}
	}
	return nil
}

func (f *FileStore) write(data map[string]Record) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	now := f.now()
	for key, rec := range data {
		if now.After(rec.ExpiresAt) {
			delete(data, key)
		}
	}
	blob, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}
