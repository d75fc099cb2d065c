package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkahlert/offlinekit/pkg/storage"
)

// setupStore builds a store over a fresh memory backend with one active
// generation.
func setupStore(t *testing.T) (*Store, *Registry, Generation) {
	t.Helper()

	registry := NewRegistry()
	store := NewStore(storage.NewMemory(), registry)

	gen := registry.Begin()
	if err := registry.Activate(gen); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	return store, registry, gen
}

func testEntry(body string) *Entry {
	return &Entry{
		Body:       []byte(body),
		StatusCode: 200,
		StoredAt:   time.Now(),
	}
}

func TestStore_PutAndGet(t *testing.T) {
	store, _, gen := setupStore(t)
	ctx := context.Background()

	key := NewKey("GET", "http://example.com/items/42", nil)
	if err := store.Put(ctx, key, testEntry(`{"id":42}`), gen); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Body) != `{"id":42}` {
		t.Errorf("Body = %q", got.Body)
	}
	if got.Generation != gen {
		t.Errorf("Generation = %d, want %d", got.Generation, gen)
	}
}

func TestStore_Get_Miss(t *testing.T) {
	store, _, _ := setupStore(t)

	key := NewKey("GET", "http://example.com/missing", nil)
	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrMiss) {
		t.Errorf("Expected ErrMiss, got %v", err)
	}
}

func TestStore_Get_Uninitialized(t *testing.T) {
	store := NewStore(storage.NewMemory(), NewRegistry())

	key := NewKey("GET", "http://example.com/", nil)
	if _, err := store.Get(context.Background(), key); !errors.Is(err, ErrMiss) {
		t.Errorf("Expected ErrMiss before any generation is active, got %v", err)
	}
}

func TestStore_Put_Idempotent(t *testing.T) {
	backend := storage.NewMemory()
	registry := NewRegistry()
	store := NewStore(backend, registry)
	ctx := context.Background()

	gen := registry.Begin()
	if err := registry.Activate(gen); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	key := NewKey("GET", "http://example.com/items/1", nil)
	first := testEntry("same")
	if err := store.Put(ctx, key, first, gen); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	stored, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// Second write with identical content is a no-op: StoredAt is preserved.
	second := testEntry("same")
	second.StoredAt = time.Now().Add(time.Hour)
	if err := store.Put(ctx, key, second, gen); err != nil {
		t.Fatalf("Second Put failed: %v", err)
	}

	again, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !again.StoredAt.Equal(stored.StoredAt) {
		t.Errorf("Idempotent Put replaced the entry: StoredAt %v != %v", again.StoredAt, stored.StoredAt)
	}

	keys, err := backend.List(ctx, "cache/1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("Expected one stored entry, found %d", len(keys))
	}
}

func TestStore_Put_ReplacesDifferentContent(t *testing.T) {
	store, _, gen := setupStore(t)
	ctx := context.Background()

	key := NewKey("GET", "http://example.com/items/1", nil)
	if err := store.Put(ctx, key, testEntry("old"), gen); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Put(ctx, key, testEntry("new"), gen); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Body) != "new" {
		t.Errorf("Body = %q, want %q", got.Body, "new")
	}
}

func TestStore_Delete(t *testing.T) {
	store, _, gen := setupStore(t)
	ctx := context.Background()

	key := NewKey("GET", "http://example.com/items/1", nil)
	if err := store.Put(ctx, key, testEntry("x"), gen); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, key, gen); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrMiss) {
		t.Errorf("Expected ErrMiss after delete, got %v", err)
	}
}

func TestStore_GenerationIsolation(t *testing.T) {
	store, registry, v1 := setupStore(t)
	ctx := context.Background()

	key := NewKey("GET", "http://example.com/items/1", nil)
	if err := store.Put(ctx, key, testEntry("v1 data"), v1); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// A reader pins v1 before the cutover.
	pinned, release := registry.Pin()
	defer release()

	v2 := registry.Begin()
	if err := store.Put(ctx, key, testEntry("v2 data"), v2); err != nil {
		t.Fatalf("Put into v2 failed: %v", err)
	}
	if err := registry.Activate(v2); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// Pinned reader still resolves v1.
	old, err := store.GetIn(ctx, key, pinned)
	if err != nil {
		t.Fatalf("GetIn(v1) failed: %v", err)
	}
	if string(old.Body) != "v1 data" {
		t.Errorf("Pinned read returned %q", old.Body)
	}

	// New readers resolve v2.
	fresh, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(fresh.Body) != "v2 data" {
		t.Errorf("Active read returned %q", fresh.Body)
	}
}

func TestStore_Retire(t *testing.T) {
	store, registry, v1 := setupStore(t)
	ctx := context.Background()

	for _, path := range []string{"/a", "/b", "/c"} {
		key := NewKey("GET", "http://example.com"+path, nil)
		if err := store.Put(ctx, key, testEntry(path), v1); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	v2 := registry.Begin()
	if err := registry.Activate(v2); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if err := store.Retire(ctx, v1); err != nil {
		t.Fatalf("Retire failed: %v", err)
	}

	// All v1 entries are gone.
	count := 0
	if err := store.Enumerate(ctx, v1, func(string) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("Enumerate failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected empty generation after retire, found %d entries", count)
	}
}

func TestStore_Retire_RefusesActive(t *testing.T) {
	store, _, v1 := setupStore(t)

	if err := store.Retire(context.Background(), v1); !errors.Is(err, ErrGenerationActive) {
		t.Errorf("Expected ErrGenerationActive, got %v", err)
	}
}

func TestStore_Invalidate(t *testing.T) {
	store, _, gen := setupStore(t)
	ctx := context.Background()

	key := NewKey("GET", "http://example.com/items/42", nil)
	if err := store.Put(ctx, key, testEntry("cached"), gen); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := store.Invalidate(ctx, key); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrMiss) {
		t.Errorf("Expected ErrMiss after invalidate, got %v", err)
	}
}

func TestStore_InvalidateTarget_RemovesVaryPartitions(t *testing.T) {
	store, _, gen := setupStore(t)
	ctx := context.Background()

	target := "http://origin.test/items/42"
	plain := NewKey("GET", target, nil)
	jsonKey := NewKey("GET", target, map[string]string{"Accept": "application/json"})
	xmlKey := NewKey("GET", target, map[string]string{"Accept": "application/xml"})
	other := NewKey("GET", "http://origin.test/items/7", nil)

	for _, key := range []Key{plain, jsonKey, xmlKey, other} {
		if err := store.Put(ctx, key, testEntry("body"), gen); err != nil {
			t.Fatalf("Put(%s) failed: %v", key.String(), err)
		}
	}

	if err := store.InvalidateTarget(ctx, "GET", target); err != nil {
		t.Fatalf("InvalidateTarget failed: %v", err)
	}

	for _, key := range []Key{plain, jsonKey, xmlKey} {
		if _, err := store.Get(ctx, key); !errors.Is(err, ErrMiss) {
			t.Errorf("Entry %s should be invalidated, got %v", key.String(), err)
		}
	}

	// A different target is untouched.
	if _, err := store.Get(ctx, other); err != nil {
		t.Errorf("Unrelated target should survive, got %v", err)
	}
}

func TestStore_Renew(t *testing.T) {
	store, _, gen := setupStore(t)
	ctx := context.Background()

	key := NewKey("GET", "http://example.com/items/1", nil)
	entry := testEntry("body")
	entry.StoredAt = time.Now().Add(-2 * time.Minute)
	if err := store.Put(ctx, key, entry, gen); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	newExpires := time.Now().Add(10 * time.Minute)
	if err := store.Renew(ctx, key, gen, newExpires); err != nil {
		t.Fatalf("Renew failed: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !got.FreshFor(time.Minute) {
		t.Error("Renewed entry should be fresh again under its TTL")
	}
	if string(got.Body) != "body" {
		t.Errorf("Renew changed the body: %q", got.Body)
	}
}
