package cache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mkahlert/offlinekit/pkg/storage"
)

func TestRegistry_BeginDoesNotAffectReads(t *testing.T) {
	r := NewRegistry()

	v1 := r.Begin()
	if r.Active() != 0 {
		t.Errorf("Begin should not activate; active = %d", r.Active())
	}

	if err := r.Activate(v1); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	v2 := r.Begin()
	if r.Active() != v1 {
		t.Errorf("Begin(v2) changed active generation to %d", r.Active())
	}
	if v2 <= v1 {
		t.Errorf("Generations must be monotonically increasing: %d then %d", v1, v2)
	}
}

func TestRegistry_Activate_Unknown(t *testing.T) {
	r := NewRegistry()
	if err := r.Activate(99); !errors.Is(err, ErrUnknownGeneration) {
		t.Errorf("Expected ErrUnknownGeneration, got %v", err)
	}
}

func TestRegistry_Pin_SnapshotIsolation(t *testing.T) {
	r := NewRegistry()
	v1 := r.Begin()
	if err := r.Activate(v1); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	pinned, release := r.Pin()
	if pinned != v1 {
		t.Fatalf("Pin returned %d, want %d", pinned, v1)
	}

	v2 := r.Begin()
	if err := r.Activate(v2); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	// The pinned reader keeps v1; new readers resolve v2.
	if gen, rel := r.Pin(); gen != v2 {
		t.Errorf("New Pin returned %d, want %d", gen, v2)
	} else {
		rel()
	}

	// v1 cannot be retired while pinned
	if err := r.beginRetire(v1); !errors.Is(err, ErrGenerationPinned) {
		t.Errorf("Expected ErrGenerationPinned, got %v", err)
	}

	release()
	if err := r.beginRetire(v1); err != nil {
		t.Errorf("Retire after release failed: %v", err)
	}
}

func TestRegistry_Retire_Active(t *testing.T) {
	r := NewRegistry()
	v1 := r.Begin()
	if err := r.Activate(v1); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	if err := r.beginRetire(v1); !errors.Is(err, ErrGenerationActive) {
		t.Errorf("Expected ErrGenerationActive, got %v", err)
	}
}

func TestRegistry_Release_Idempotent(t *testing.T) {
	r := NewRegistry()
	v1 := r.Begin()
	if err := r.Activate(v1); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	_, release := r.Pin()
	release()
	release() // second call must not double-decrement

	_, release2 := r.Pin()
	v2 := r.Begin()
	if err := r.Activate(v2); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if err := r.beginRetire(v1); !errors.Is(err, ErrGenerationPinned) {
		t.Errorf("Expected ErrGenerationPinned after double release, got %v", err)
	}
	release2()
}

func TestRegistry_ConcurrentActivate_LastWriterWins(t *testing.T) {
	r := NewRegistry()

	gens := make([]Generation, 10)
	for i := range gens {
		gens[i] = r.Begin()
	}

	var wg sync.WaitGroup
	for _, gen := range gens {
		wg.Add(1)
		go func(g Generation) {
			defer wg.Done()
			if err := r.Activate(g); err != nil {
				t.Errorf("Activate(%d) failed: %v", g, err)
			}
		}(gen)
	}
	wg.Wait()

	// All callers observe a single final active id.
	final := r.Active()
	found := false
	for _, gen := range gens {
		if gen == final {
			found = true
		}
	}
	if !found {
		t.Errorf("Final active generation %d was never begun", final)
	}
}

func TestRegistry_PersistAndReload(t *testing.T) {
	backend := storage.NewMemory()
	ctx := context.Background()

	r1 := NewRegistry()
	v1 := r1.Begin()
	if err := r1.Activate(v1); err != nil {
		t.Fatalf("Activate(v1) failed: %v", err)
	}
	v2 := r1.Begin()
	if err := r1.Activate(v2); err != nil {
		t.Fatalf("Activate(v2) failed: %v", err)
	}
	if err := SaveRegistry(ctx, backend, r1); err != nil {
		t.Fatalf("SaveRegistry failed: %v", err)
	}

	// A reloaded registry resolves against the generation that was active.
	r2, err := LoadRegistry(ctx, backend)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if r2.Active() != v2 {
		t.Errorf("Active after reload = %d, want %d", r2.Active(), v2)
	}

	// Superseded generations stay known so they can still be retired.
	if err := r2.beginRetire(v1); err != nil {
		t.Errorf("Retire of superseded generation after reload failed: %v", err)
	}

	// Generation numbering continues, it never restarts.
	if v3 := r2.Begin(); v3 <= v2 {
		t.Errorf("Begin after reload = %d, want > %d", v3, v2)
	}
}

func TestLoadRegistry_FreshBackend(t *testing.T) {
	r, err := LoadRegistry(context.Background(), storage.NewMemory())
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if r.Active() != 0 {
		t.Errorf("Fresh registry should be uninitialized, active = %d", r.Active())
	}
}
