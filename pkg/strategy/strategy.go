// Package strategy implements the consistency strategies that decide,
// per request, whether to answer from the cache, the network, or both.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/mkahlert/offlinekit/pkg/cache"
)

// Network is the transport collaborator: it sends a request and returns
// a response or fails. *http.Client satisfies it. The engine never
// inspects the transport beyond this contract.
type Network interface {
	Do(req *http.Request) (*http.Response, error)
}

// Name selects a consistency strategy.
type Name string

const (
	// CacheFirst answers from the cache when fresh, falling back to the
	// network, and serves stale content when the network fails.
	CacheFirst Name = "cache-first"

	// NetworkFirst prefers the network and falls back to the cache.
	NetworkFirst Name = "network-first"

	// StaleWhileRevalidate answers from the cache immediately and
	// refreshes it in the background for future reads.
	StaleWhileRevalidate Name = "stale-while-revalidate"
)

// Config is attached to a route pattern at registration time and is
// immutable afterwards.
type Config struct {
	// Name of the strategy
	Name Name

	// TTL bounds entry freshness. Zero defers to the origin Expires header.
	TTL time.Duration

	// Timeout bounds each network call issued by the engine.
	Timeout time.Duration

	// Vary lists request header names that partition the cache key.
	Vary []string
}

var (
	// ErrNetworkUnavailable indicates the transport could not reach the origin.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrNetworkTimeout indicates the network call exceeded its timeout.
	ErrNetworkTimeout = errors.New("network timeout")
)

// Engine resolves read requests against the cache store and the network
// according to a per-route Config.
type Engine struct {
	store   *cache.Store
	network Network
	logger  zerolog.Logger

	// refresh dedupes concurrent background revalidations per key
	refresh singleflight.Group
}

// NewEngine creates a strategy engine.
func NewEngine(store *cache.Store, network Network, logger zerolog.Logger) *Engine {
	if store == nil {
		panic("cache store cannot be nil")
	}
	if network == nil {
		panic("network cannot be nil")
	}
	return &Engine{
		store:   store,
		network: network,
		logger:  logger,
	}
}

// Resolve answers the request under the given strategy.
func (e *Engine) Resolve(ctx context.Context, req *http.Request, cfg Config) (*http.Response, error) {
	key := keyFor(req, cfg)

	switch cfg.Name {
	case CacheFirst:
		return e.cacheFirst(ctx, req, cfg, key)
	case StaleWhileRevalidate:
		return e.staleWhileRevalidate(ctx, req, cfg, key)
	default:
		return e.networkFirst(ctx, req, cfg, key)
	}
}

// cacheFirst serves a fresh cache entry without any network call. The
// cache always wins over concurrent in-flight network calls the engine
// did not initiate itself. Misses go to the network; when the network
// fails a stale entry is served even past its TTL.
func (e *Engine) cacheFirst(ctx context.Context, req *http.Request, cfg Config, key cache.Key) (*http.Response, error) {
	entry := e.lookup(ctx, key)
	if entry != nil && entry.FreshFor(cfg.TTL) {
		strategyRequests.WithLabelValues(string(CacheFirst), "hit").Inc()
		return cache.EntryToResponse(entry), nil
	}

	resp, err := e.fetchAndStore(ctx, req, cfg, key, entry)
	if err != nil {
		if entry != nil {
			strategyRequests.WithLabelValues(string(CacheFirst), "stale").Inc()
			e.logger.Debug().
				Str("key", key.String()).
				Err(err).
				Msg("Network failed, serving stale cache entry")
			return cache.EntryToResponse(entry), nil
		}
		strategyRequests.WithLabelValues(string(CacheFirst), "error").Inc()
		return nil, err
	}

	strategyRequests.WithLabelValues(string(CacheFirst), "network").Inc()
	return resp, nil
}

// networkFirst calls the network and falls back to any cached entry,
// fresh or stale, only when the call fails.
func (e *Engine) networkFirst(ctx context.Context, req *http.Request, cfg Config, key cache.Key) (*http.Response, error) {
	entry := e.lookup(ctx, key)

	resp, err := e.fetchAndStore(ctx, req, cfg, key, entry)
	if err == nil {
		strategyRequests.WithLabelValues(string(NetworkFirst), "network").Inc()
		return resp, nil
	}

	if entry != nil {
		strategyRequests.WithLabelValues(string(NetworkFirst), "fallback").Inc()
		e.logger.Debug().
			Str("key", key.String()).
			Err(err).
			Msg("Network failed, falling back to cache")
		return cache.EntryToResponse(entry), nil
	}

	strategyRequests.WithLabelValues(string(NetworkFirst), "error").Inc()
	return nil, err
}

// staleWhileRevalidate returns the cached entry immediately and spawns
// a detached refresh. The refresh is not awaited by this call; its
// completion order relative to the caller is undefined, and its cache
// write is last-writer-wins. On a miss it behaves like NetworkFirst for
// this call only.
func (e *Engine) staleWhileRevalidate(ctx context.Context, req *http.Request, cfg Config, key cache.Key) (*http.Response, error) {
	entry := e.lookup(ctx, key)
	if entry == nil {
		return e.networkFirst(ctx, req, cfg, key)
	}

	strategyRequests.WithLabelValues(string(StaleWhileRevalidate), "hit").Inc()
	e.refreshInBackground(req, cfg, key, entry)
	return cache.EntryToResponse(entry), nil
}

// refreshInBackground issues a deduplicated, detached network refresh.
func (e *Engine) refreshInBackground(req *http.Request, cfg Config, key cache.Key, cached *cache.Entry) {
	keyStr := key.String()
	// Detached from the triggering call; the request clone must outlive it.
	clone := req.Clone(context.Background())

	go func() {
		_, _, _ = e.refresh.Do(keyStr, func() (interface{}, error) {
			swrRefreshes.Inc()

			ctx := context.Background()
			if _, err := e.fetchAndStore(ctx, clone, cfg, key, cached); err != nil {
				e.logger.Warn().
					Str("key", keyStr).
					Err(err).
					Msg("Background revalidation failed")
				return nil, err
			}
			return nil, nil
		})
	}()
}

// lookup reads the cache, treating storage failures as misses so the
// request degrades to network-only behavior.
func (e *Engine) lookup(ctx context.Context, key cache.Key) *cache.Entry {
	entry, err := e.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			e.logger.Warn().
				Str("key", key.String()).
				Err(err).
				Msg("Cache read failed, treating as miss")
		}
		return nil
	}
	return entry
}

// fetchAndStore calls the network (conditionally when the cached entry
// carries an ETag) and stores a successful response. Cache write errors
// are best-effort: logged and swallowed, the network response is served
// regardless.
func (e *Engine) fetchAndStore(ctx context.Context, req *http.Request, cfg Config, key cache.Key, cached *cache.Entry) (*http.Response, error) {
	fetchCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	outReq := req.Clone(fetchCtx)
	if cache.CanRevalidate(cached) {
		cache.AddConditionalHeaders(outReq, cached)
	}

	resp, err := e.network.Do(outReq)
	if err != nil {
		return nil, classifyNetworkError(err)
	}

	// 304 Not Modified: renew the cached entry instead of re-downloading.
	if resp.StatusCode == http.StatusNotModified && cached != nil {
		resp.Body.Close()
		revalidations.Inc()

		expires := expiresFrom(resp.Header, cfg.TTL)
		if err := e.store.RenewActive(ctx, key, expires); err != nil {
			e.logger.Warn().Str("key", key.String()).Err(err).Msg("Failed to renew cache entry")
		}
		return cache.EntryToResponse(cached), nil
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		entry, convErr := cache.ResponseToEntry(resp)
		if convErr != nil {
			e.logger.Warn().Err(convErr).Msg("Failed to build cache entry")
		} else if err := e.store.PutActive(ctx, key, entry); err != nil {
			e.logger.Warn().Str("key", key.String()).Err(err).Msg("Failed to cache response")
		}
	}

	return resp, nil
}

// keyFor derives the cache key for a request under a route config.
func keyFor(req *http.Request, cfg Config) cache.Key {
	var vary map[string]string
	if len(cfg.Vary) > 0 {
		vary = make(map[string]string, len(cfg.Vary))
		for _, name := range cfg.Vary {
			vary[name] = req.Header.Get(name)
		}
	}
	return cache.NewKey(req.Method, req.URL.String(), vary)
}

// classifyNetworkError maps transport failures onto the engine's error
// taxonomy.
func classifyNetworkError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
}

// expiresFrom picks the freshness horizon after a 304: the new origin
// Expires header when present, otherwise now + ttl.
func expiresFrom(headers http.Header, ttl time.Duration) time.Time {
	if expiresStr := headers.Get("Expires"); expiresStr != "" {
		if expires, err := http.ParseTime(expiresStr); err == nil {
			return expires
		}
	}
	if ttl > 0 {
		return time.Now().Add(ttl)
	}
	return time.Time{}
}
