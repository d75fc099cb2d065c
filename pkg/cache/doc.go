// Package cache provides the content-addressable response store and the
// generation registry that versions it.
//
// Entries are addressed by a deterministic Key built from the request
// method, normalized URL and declared vary headers. Each entry lives in
// exactly one generation; the Registry owns the single active-generation
// pointer and the cutover/retire lifecycle.
//
// # Basic Usage
//
//	backend := storage.NewMemory()
//	registry := cache.NewRegistry()
//	store := cache.NewStore(backend, registry)
//
//	gen := registry.Begin()
//	if err := registry.Activate(gen); err != nil {
//		return err
//	}
//
//	key := cache.NewKey("GET", "https://api.example.com/items/42", nil)
//	entry, err := store.Get(ctx, key)
//	if err == cache.ErrMiss {
//		// fetch from the origin, then store.Put
//	}
//
// # Generations
//
// A generation cutover replaces the whole cache atomically for new
// readers while leaving in-flight reads on their pinned generation:
//
//	next := registry.Begin()      // empty, invisible
//	// ... populate next via store.Put(ctx, key, entry, next) ...
//	registry.Activate(next)       // atomic cutover
//	store.Retire(ctx, previous)   // GC once no reader pins it
//
// # Conditional Revalidation
//
// Entries keep the origin ETag. Refreshes attach If-None-Match via
// AddConditionalHeaders; a 304 answer renews the entry's freshness
// window with Store.Renew instead of re-downloading the body.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - offlinekit_cache_hits_total / offlinekit_cache_misses_total
//   - offlinekit_cache_errors_total{operation}
//   - offlinekit_cache_written_bytes_total
//   - offlinekit_cache_active_generation
//   - offlinekit_cache_generations_retired_total
package cache
