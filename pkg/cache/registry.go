package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/mkahlert/offlinekit/pkg/storage"
)

var (
	// ErrUnknownGeneration indicates the generation was never begun.
	ErrUnknownGeneration = errors.New("unknown generation")

	// ErrGenerationActive indicates an attempt to retire the active generation.
	ErrGenerationActive = errors.New("generation is active")

	// ErrGenerationPinned indicates readers still hold references to the generation.
	ErrGenerationPinned = errors.New("generation is pinned by readers")
)

// Registry tracks cache generations and the single active pointer.
//
// State machine: Uninitialized -> Active(v1) -> Active(v2) -> ...
// Begin creates a new empty generation without affecting reads;
// Activate is the one atomic cutover point. Concurrent Activate calls
// are serialized and the last writer wins.
//
// The registry is an explicit handle passed to every component that
// needs generation resolution; there is no ambient global.
type Registry struct {
	mu     sync.Mutex
	next   Generation
	active Generation // 0 while uninitialized
	known  map[Generation]bool
	pins   map[Generation]int
}

// NewRegistry creates an empty, uninitialized registry.
func NewRegistry() *Registry {
	return &Registry{
		known: make(map[Generation]bool),
		pins:  make(map[Generation]int),
	}
}

// Begin allocates the next generation. The new generation is empty and
// invisible to readers until Activate is called for it.
func (r *Registry) Begin() Generation {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	gen := r.next
	r.known[gen] = true
	return gen
}

// Activate atomically switches the active generation. After it returns,
// every read without an explicit pin resolves to gen. Reads pinned to
// the previous generation are unaffected.
func (r *Registry) Activate(gen Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.known[gen] {
		return fmt.Errorf("activate generation %d: %w", gen, ErrUnknownGeneration)
	}

	r.active = gen
	activeGeneration.Set(float64(gen))
	return nil
}

// Active returns the currently active generation, or 0 while
// uninitialized.
func (r *Registry) Active() Generation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Pin takes a snapshot reference on the active generation. The returned
// generation stays readable (it cannot be retired) until release is
// called. release is idempotent.
func (r *Registry) Pin() (Generation, func()) {
	r.mu.Lock()
	gen := r.active
	r.pins[gen]++
	r.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			r.pins[gen]--
			if r.pins[gen] <= 0 {
				delete(r.pins, gen)
			}
			r.mu.Unlock()
		})
	}
	return gen, release
}

const (
	// metaNamespace holds registry metadata in the storage backend.
	metaNamespace = "meta"

	// registryMetaKey is the single key under metaNamespace.
	registryMetaKey = "registry"
)

// registryMeta is the persisted registry state. Pins are runtime-only
// references and are not persisted.
type registryMeta struct {
	Next   Generation   `json:"next"`
	Active Generation   `json:"active"`
	Known  []Generation `json:"known"`
}

// LoadRegistry restores registry state persisted by SaveRegistry from
// the backend, so generations survive a process restart. Returns a
// fresh, uninitialized registry when nothing is stored yet.
func LoadRegistry(ctx context.Context, backend storage.Backend) (*Registry, error) {
	r := NewRegistry()

	data, err := backend.Read(ctx, metaNamespace, registryMetaKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return r, nil
		}
		return nil, err
	}

	var meta registryMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	r.mu.Lock()
	r.next = meta.Next
	r.active = meta.Active
	for _, gen := range meta.Known {
		r.known[gen] = true
	}
	r.mu.Unlock()

	if meta.Active > 0 {
		activeGeneration.Set(float64(meta.Active))
	}
	return r, nil
}

// SaveRegistry persists the registry state to the backend. Called after
// Begin, Activate and Retire so a restarted process resolves reads
// against the generation that was active, not an empty one.
func SaveRegistry(ctx context.Context, backend storage.Backend, r *Registry) error {
	r.mu.Lock()
	meta := registryMeta{Next: r.next, Active: r.active}
	for gen := range r.known {
		meta.Known = append(meta.Known, gen)
	}
	r.mu.Unlock()

	sort.Slice(meta.Known, func(i, j int) bool { return meta.Known[i] < meta.Known[j] })

	data, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("marshal registry metadata: %w", err)
	}
	return backend.Write(ctx, metaNamespace, registryMetaKey, data)
}

// beginRetire validates that gen may be garbage collected and removes it
// from the known set. Called by Store.Retire under its own enumeration.
func (r *Registry) beginRetire(gen Generation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.known[gen] {
		return fmt.Errorf("retire generation %d: %w", gen, ErrUnknownGeneration)
	}
	if gen == r.active {
		return fmt.Errorf("retire generation %d: %w", gen, ErrGenerationActive)
	}
	if r.pins[gen] > 0 {
		return fmt.Errorf("retire generation %d: %w", gen, ErrGenerationPinned)
	}

	delete(r.known, gen)
	return nil
}
