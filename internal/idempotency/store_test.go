package idempotency

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryStoreReserve(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if rec, err := store.Reserve(ctx, "abc", "fp1", time.Minute); err != nil || rec != nil {
		t.Fatalf("expected fresh reservation, got %+v, %v", rec, err)
	}

	rec, err := store.Reserve(ctx, "abc", "fp1", time.Minute)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if rec == nil || !rec.InFlight || rec.Fingerprint != "fp1" {
		t.Fatalf("expected in-flight record, got %+v", rec)
	}

	done := Record{
		Fingerprint: "fp1",
		StatusCode:  201,
		Response:    []byte("ok"),
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	if err := store.Complete(ctx, "abc", done); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _ := store.Reserve(ctx, "abc", "fp1", time.Minute)
	if got == nil || got.InFlight || string(got.Response) != "ok" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := store.Release(ctx, "abc"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got, _ := store.Reserve(ctx, "abc", "fp1", time.Minute); got == nil {
		t.Fatalf("release must not drop a completed record")
	}
}

func TestMemoryStoreReleaseAndExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = store.Reserve(ctx, "k", "fp", time.Minute)
	if err := store.Release(ctx, "k"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if rec, _ := store.Reserve(ctx, "k", "fp", time.Minute); rec != nil {
		t.Fatalf("expected key to be free after release, got %+v", rec)
	}

	now = now.Add(2 * time.Minute)
	if rec, _ := store.Reserve(ctx, "k", "fp2", time.Minute); rec != nil {
		t.Fatalf("expected expired reservation to be replaced, got %+v", rec)
	}
}

func TestFingerprint(t *testing.T) {
	if Fingerprint([]byte("a")) == Fingerprint([]byte("b")) {
		t.Fatalf("different bodies must differ")
	}
	if len(Fingerprint(nil)) != 64 {
		t.Fatalf("unexpected fingerprint length")
	}
}

func TestFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idem.json")

	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}

	ctx := context.Background()
	record := Record{
		Fingerprint: "fp",
		StatusCode:  201,
		Response:    []byte("resp"),
		CreatedAt:   time.Unix(0, 0),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := store.Complete(ctx, "key", record); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := store.Reserve(ctx, "pending", "fp", time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file on disk: %v", err)
	}

	store2, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("re-open store: %v", err)
	}

	got, _ := store2.Reserve(ctx, "key", "fp", time.Hour)
	if got == nil || string(got.Response) != "resp" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if rec, _ := store2.Reserve(ctx, "pending", "fp", time.Hour); rec != nil {
		t.Fatalf("stale reservation should not survive a restart: %+v", rec)
	}
}
