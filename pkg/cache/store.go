package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mkahlert/offlinekit/pkg/storage"
)

var (
	// ErrMiss indicates the requested key was not found in the generation.
	ErrMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry could not be decoded.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store is the content-addressable cache. Entries live in generation
// namespaces (cache/{generation}/{key}); reads resolve against the
// registry's active generation unless pinned to an explicit one.
//
// The store owns its persistence handle exclusively and never touches
// the network. I/O failures surface as *storage.Error; the store does
// not retry internally.
type Store struct {
	backend  storage.Backend
	registry *Registry
}

// NewStore creates a cache store over the given backend and registry.
func NewStore(backend storage.Backend, registry *Registry) *Store {
	if backend == nil {
		panic("storage backend cannot be nil")
	}
	if registry == nil {
		panic("version registry cannot be nil")
	}
	return &Store{
		backend:  backend,
		registry: registry,
	}
}

// namespace returns the storage namespace for a generation.
func namespace(gen Generation) string {
	return fmt.Sprintf("cache/%d", gen)
}

// Get retrieves an entry from the active generation.
// Returns ErrMiss if the key is absent or no generation is active.
func (s *Store) Get(ctx context.Context, key Key) (*Entry, error) {
	gen, release := s.registry.Pin()
	defer release()

	if gen == 0 {
		cacheMisses.Inc()
		return nil, ErrMiss
	}
	return s.GetIn(ctx, key, gen)
}

// GetIn retrieves an entry from an explicit (typically pinned) generation.
func (s *Store) GetIn(ctx context.Context, key Key, gen Generation) (*Entry, error) {
	entry, err := s.read(ctx, key, gen)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			cacheMisses.Inc()
		}
		return nil, err
	}

	cacheHits.Inc()
	return entry, nil
}

// read fetches and decodes an entry without touching hit/miss metrics.
func (s *Store) read(ctx context.Context, key Key, gen Generation) (*Entry, error) {
	data, err := s.backend.Read(ctx, namespace(gen), key.String())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrMiss
		}
		cacheErrors.WithLabelValues("get").Inc()
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		cacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Put stores an entry under key in the given generation. Idempotent:
// writing identical content twice is a no-op; different content replaces
// the previous entry atomically (the backend write is atomic per key, so
// readers never observe a torn entry).
func (s *Store) Put(ctx context.Context, key Key, entry *Entry, gen Generation) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	stored := *entry
	stored.Generation = gen
	if stored.StoredAt.IsZero() {
		stored.StoredAt = time.Now()
	}

	// No-op when the content is already present unchanged
	if existing, err := s.read(ctx, key, gen); err == nil && sameContent(existing, &stored) {
		return nil
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		cacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.backend.Write(ctx, namespace(gen), key.String(), data); err != nil {
		cacheErrors.WithLabelValues("put").Inc()
		return err
	}

	cacheBytesWritten.Add(float64(len(data)))
	return nil
}

// PutActive stores an entry in the currently active generation.
// A no-op while no generation is active.
func (s *Store) PutActive(ctx context.Context, key Key, entry *Entry) error {
	gen, release := s.registry.Pin()
	defer release()

	if gen == 0 {
		return nil
	}
	return s.Put(ctx, key, entry, gen)
}

// RenewActive refreshes an entry's freshness window in the active
// generation. See Renew.
func (s *Store) RenewActive(ctx context.Context, key Key, expires time.Time) error {
	gen, release := s.registry.Pin()
	defer release()

	if gen == 0 {
		return ErrMiss
	}
	return s.Renew(ctx, key, gen, expires)
}

// Delete tombstones key in the given generation; subsequent Gets return
// ErrMiss. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, key Key, gen Generation) error {
	if err := s.backend.Delete(ctx, namespace(gen), key.String()); err != nil {
		cacheErrors.WithLabelValues("delete").Inc()
		return err
	}
	return nil
}

// Invalidate tombstones key in the active generation. Used after a
// mutation succeeds against the origin so the next read refetches.
func (s *Store) Invalidate(ctx context.Context, key Key) error {
	gen, release := s.registry.Pin()
	defer release()

	if gen == 0 {
		return nil
	}
	return s.Delete(ctx, key, gen)
}

// InvalidateTarget tombstones every entry derived from the target in
// the active generation, across all vary partitions. Routes with Vary
// headers store one entry per header combination under the same
// method+URL prefix; a plain Invalidate would miss those, leaving stale
// reads for the mutated target.
func (s *Store) InvalidateTarget(ctx context.Context, method, rawURL string) error {
	gen, release := s.registry.Pin()
	defer release()

	if gen == 0 {
		return nil
	}

	prefix := NewKey(method, rawURL, nil).String()
	ns := namespace(gen)
	return s.Enumerate(ctx, gen, func(stored string) error {
		if stored != prefix && !strings.HasPrefix(stored, prefix+":") {
			return nil
		}
		if err := s.backend.Delete(ctx, ns, stored); err != nil {
			cacheErrors.WithLabelValues("delete").Inc()
			return err
		}
		return nil
	})
}

// Enumerate calls fn for every key string stored in the generation.
// The sequence is finite and restartable; it exists for garbage
// collection and is not part of the read path.
func (s *Store) Enumerate(ctx context.Context, gen Generation, fn func(key string) error) error {
	keys, err := s.backend.List(ctx, namespace(gen))
	if err != nil {
		cacheErrors.WithLabelValues("enumerate").Inc()
		return err
	}

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

// Retire garbage-collects a superseded generation. It refuses while the
// generation is active or pinned by readers.
func (s *Store) Retire(ctx context.Context, gen Generation) error {
	if err := s.registry.beginRetire(gen); err != nil {
		return err
	}

	ns := namespace(gen)
	err := s.Enumerate(ctx, gen, func(key string) error {
		return s.backend.Delete(ctx, ns, key)
	})
	if err != nil {
		cacheErrors.WithLabelValues("retire").Inc()
		return fmt.Errorf("retire generation %d: %w", gen, err)
	}

	generationsRetired.Inc()
	return nil
}

// Renew refreshes the freshness window of an existing entry without
// replacing its content. Used after a 304 Not Modified revalidation.
func (s *Store) Renew(ctx context.Context, key Key, gen Generation, expires time.Time) error {
	entry, err := s.read(ctx, key, gen)
	if err != nil {
		return err
	}

	entry.StoredAt = time.Now()
	entry.Expires = expires

	data, err := json.Marshal(entry)
	if err != nil {
		cacheErrors.WithLabelValues("put").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := s.backend.Write(ctx, namespace(gen), key.String(), data); err != nil {
		cacheErrors.WithLabelValues("put").Inc()
		return err
	}
	return nil
}
