package storage

import (
	"context"
	"sync"
	"testing"
)

func TestMemory_WriteAndRead(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Write(ctx, "cache/1", "a", []byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	value, err := m.Read(ctx, "cache/1", "a")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(value) != "hello" {
		t.Errorf("Read returned %q, want %q", value, "hello")
	}
}

func TestMemory_Read_NotFound(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if _, err := m.Read(ctx, "cache/1", "missing"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	// Existing namespace, missing key
	if err := m.Write(ctx, "cache/1", "a", []byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := m.Read(ctx, "cache/1", "missing"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMemory_NamespaceIsolation(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Write(ctx, "cache/1", "a", []byte("one")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := m.Write(ctx, "cache/2", "a", []byte("two")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	v1, err := m.Read(ctx, "cache/1", "a")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	v2, err := m.Read(ctx, "cache/2", "a")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if string(v1) != "one" || string(v2) != "two" {
		t.Errorf("Namespace values mixed: got %q and %q", v1, v2)
	}
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Write(ctx, "queue", "a", []byte("x")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := m.Delete(ctx, "queue", "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := m.Read(ctx, "queue", "a"); err != ErrNotFound {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	// Deleting a missing key is a no-op
	if err := m.Delete(ctx, "queue", "a"); err != nil {
		t.Errorf("Delete of missing key should be no-op, got %v", err)
	}
}

func TestMemory_List_Sorted(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for _, key := range []string{"c", "a", "b"} {
		if err := m.Write(ctx, "queue", key, []byte(key)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	keys, err := m.List(ctx, "queue")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("List returned %d keys, want %d", len(keys), len(want))
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestMemory_Read_ReturnsCopy(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	if err := m.Write(ctx, "cache/1", "a", []byte("abc")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	value, err := m.Read(ctx, "cache/1", "a")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	value[0] = 'X'

	again, err := m.Read(ctx, "cache/1", "a")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(again) != "abc" {
		t.Errorf("Stored value mutated through returned slice: %q", again)
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				_ = m.Write(ctx, "cache/1", key, []byte(key))
				_, _ = m.Read(ctx, "cache/1", key)
				_, _ = m.List(ctx, "cache/1")
			}
		}(i)
	}
	wg.Wait()
}
