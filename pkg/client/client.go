// Package client provides the request interceptor: the public entry
// point that routes reads through the strategy engine and queues
// mutations for later synchronization when the origin is unreachable.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/mkahlert/offlinekit/pkg/cache"
	"github.com/mkahlert/offlinekit/pkg/logging"
	"github.com/mkahlert/offlinekit/pkg/queue"
	"github.com/mkahlert/offlinekit/pkg/storage"
	"github.com/mkahlert/offlinekit/pkg/strategy"
	"github.com/mkahlert/offlinekit/pkg/syncer"
)

// Prometheus metrics for intercepted requests.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "offlinekit_requests_total",
		Help: "Total intercepted requests by route and status",
	}, []string{"route", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "offlinekit_request_duration_seconds",
		Help:    "Intercepted request duration in seconds by route",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"route"})

	mutationsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "offlinekit_mutations_queued_total",
		Help: "Total mutating requests queued for later synchronization",
	})
)

// defaultMutationTimeout bounds the direct origin attempt for mutations
// when the matched route declares no timeout.
const defaultMutationTimeout = 30 * time.Second

// Config holds the client configuration.
type Config struct {
	// Backend is the persistence layer for cache and queue (required).
	Backend storage.Backend

	// Network is the transport used for all origin calls.
	// Defaults to an *http.Client with a 30s timeout.
	Network strategy.Network

	// DefaultStrategy answers routes without a registered strategy.
	DefaultStrategy strategy.Config

	// Sync configures the drain coordinator.
	Sync syncer.Config
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(backend storage.Backend) Config {
	return Config{
		Backend: backend,
		Network: &http.Client{Timeout: 30 * time.Second},
		DefaultStrategy: strategy.Config{
			Name:    strategy.NetworkFirst,
			Timeout: 30 * time.Second,
		},
		Sync: syncer.DefaultConfig(),
	}
}

// Client intercepts outgoing requests. Reads are answered through the
// per-route consistency strategy; mutations go to the origin directly
// and fall back to the durable write queue when it is unreachable.
type Client struct {
	backend     storage.Backend
	store       *cache.Store
	registry    *cache.Registry
	queue       *queue.Queue
	engine      *strategy.Engine
	coordinator *syncer.Coordinator
	routes      *routeTable
	network     *switchableNetwork
	logger      zerolog.Logger
}

// switchableNetwork lets tests swap the transport under the engine and
// coordinator after construction.
type switchableNetwork struct {
	mu    sync.RWMutex
	inner strategy.Network
}

func (s *switchableNetwork) Do(req *http.Request) (*http.Response, error) {
	s.mu.RLock()
	inner := s.inner
	s.mu.RUnlock()
	return inner.Do(req)
}

func (s *switchableNetwork) swap(network strategy.Network) {
	s.mu.Lock()
	s.inner = network
	s.mu.Unlock()
}

// New creates a client. The write queue is reloaded from the backend,
// so mutations queued by a previous process are picked up again.
func New(cfg Config) (*Client, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if cfg.Network == nil {
		cfg.Network = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.DefaultStrategy.Name == "" {
		cfg.DefaultStrategy.Name = strategy.NetworkFirst
	}

	logger := logging.NewLogger("client")
	ctx := context.Background()

	// Reload generation metadata so a restarted process keeps resolving
	// reads against the generation that was active.
	registry, err := cache.LoadRegistry(ctx, cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("load generation registry: %w", err)
	}
	store := cache.NewStore(cfg.Backend, registry)

	// First run: start with one active generation so reads have a namespace.
	if registry.Active() == 0 {
		gen := registry.Begin()
		if err := registry.Activate(gen); err != nil {
			return nil, fmt.Errorf("activate initial generation: %w", err)
		}
		if err := cache.SaveRegistry(ctx, cfg.Backend, registry); err != nil {
			return nil, fmt.Errorf("persist generation registry: %w", err)
		}
	}

	q, err := queue.New(ctx, cfg.Backend, logging.NewLogger("queue"))
	if err != nil {
		return nil, fmt.Errorf("open write queue: %w", err)
	}

	network := &switchableNetwork{inner: cfg.Network}
	engine := strategy.NewEngine(store, network, logging.NewLogger("strategy"))
	coordinator := syncer.New(q, store, network, cfg.Sync, logging.NewLogger("syncer"))

	routes := newRouteTable(cfg.DefaultStrategy)

	return &Client{
		backend:     cfg.Backend,
		store:       store,
		registry:    registry,
		queue:       q,
		engine:      engine,
		coordinator: coordinator,
		routes:      routes,
		network:     network,
		logger:      logger,
	}, nil
}

// RegisterStrategy attaches a strategy config to a path-prefix pattern.
// The most specific pattern wins at request time.
func (c *Client) RegisterStrategy(pattern string, cfg strategy.Config) {
	c.routes.register(pattern, cfg)
	c.logger.Debug().
		Str("pattern", pattern).
		Str("strategy", string(cfg.Name)).
		Msg("Strategy registered")
}

// Handle intercepts one request and returns a response.
//
// Reads resolve through the matched strategy. Mutations try the origin
// first; when the origin is unreachable the mutation is queued durably
// and Handle answers 202 Accepted with X-Sync-Status: queued, which the
// caller treats as eventual consistency, not failure.
func (c *Client) Handle(req *http.Request) (*http.Response, error) {
	start := time.Now()
	routeName, cfg := c.routes.match(req.URL.Path)
	defer func() {
		requestDuration.WithLabelValues(routeName).Observe(time.Since(start).Seconds())
	}()

	if isMutation(req.Method) {
		return c.handleMutation(req, routeName, cfg)
	}

	resp, err := c.engine.Resolve(req.Context(), req, cfg)
	if err != nil {
		requestsTotal.WithLabelValues(routeName, "error").Inc()
		return nil, err
	}

	requestsTotal.WithLabelValues(routeName, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// handleMutation sends the mutation to the origin, queueing it when the
// network fails.
func (c *Client) handleMutation(req *http.Request, routeName string, cfg strategy.Config) (*http.Response, error) {
	var payload []byte
	if req.Body != nil {
		var err error
		payload, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMutationTimeout
	}
	callCtx, cancel := context.WithTimeout(req.Context(), timeout)
	defer cancel()

	outReq := req.Clone(callCtx)
	outReq.Body = io.NopCloser(bytes.NewReader(payload))
	outReq.ContentLength = int64(len(payload))

	resp, err := c.network.Do(outReq)
	if err == nil {
		requestsTotal.WithLabelValues(routeName, strconv.Itoa(resp.StatusCode)).Inc()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if invErr := c.store.InvalidateTarget(req.Context(), http.MethodGet, req.URL.String()); invErr != nil {
				c.logger.Warn().Str("target", req.URL.Path).Err(invErr).Msg("Failed to invalidate cache after mutation")
			}
		}
		return resp, nil
	}

	// Origin unreachable: queue the mutation and answer 202.
	op := queue.Operation{
		Kind:    kindFor(req.Method),
		Target:  req.URL.Path,
		Method:  req.Method,
		URL:     req.URL.String(),
		Headers: req.Header.Clone(),
		Payload: payload,
	}

	id, enqErr := c.queue.Enqueue(req.Context(), op)
	if enqErr != nil {
		c.logger.Error().Err(enqErr).Str("target", op.Target).Msg("Failed to queue mutation")
		requestsTotal.WithLabelValues(routeName, "error").Inc()
		return nil, fmt.Errorf("origin unreachable and enqueue failed: %w", enqErr)
	}

	mutationsQueued.Inc()
	requestsTotal.WithLabelValues(routeName, "queued").Inc()
	c.logger.Info().
		Str("operation_id", id).
		Str("target", op.Target).
		Err(err).
		Msg("Origin unreachable, mutation queued")

	return queuedResponse(req, id, op.Target), nil
}

// TriggerSync requests a drain of the write queue.
func (c *Client) TriggerSync() {
	c.coordinator.Trigger()
}

// Sync runs one drain cycle synchronously.
func (c *Client) Sync(ctx context.Context) error {
	return c.coordinator.Drain(ctx)
}

// OnSyncError registers a callback for operations the origin rejected
// or that exceeded the attempt limit.
func (c *Client) OnSyncError(fn func(syncer.SyncError)) {
	c.coordinator.OnError(fn)
}

// NotifyOnline signals regained connectivity: any pending backoff is
// cleared and a drain is requested immediately.
func (c *Client) NotifyOnline() {
	c.logger.Info().Msg("Connectivity regained")
	c.coordinator.ResetBackoff()
	c.coordinator.Trigger()
}

// Run processes sync triggers and the interval timer until ctx is
// cancelled. Typically started once in a background goroutine.
func (c *Client) Run(ctx context.Context) {
	c.coordinator.Run(ctx)
}

// BeginGeneration allocates a new, empty cache generation.
func (c *Client) BeginGeneration() cache.Generation {
	gen := c.registry.Begin()
	c.saveRegistry()
	return gen
}

// ActivateGeneration atomically switches reads to the generation. The
// cutover is persisted so it survives a restart.
func (c *Client) ActivateGeneration(gen cache.Generation) error {
	if err := c.registry.Activate(gen); err != nil {
		return err
	}
	return cache.SaveRegistry(context.Background(), c.backend, c.registry)
}

// RetireGeneration garbage-collects a superseded generation.
func (c *Client) RetireGeneration(ctx context.Context, gen cache.Generation) error {
	if err := c.store.Retire(ctx, gen); err != nil {
		return err
	}
	return cache.SaveRegistry(ctx, c.backend, c.registry)
}

// saveRegistry persists registry metadata where no error return exists.
func (c *Client) saveRegistry() {
	if err := cache.SaveRegistry(context.Background(), c.backend, c.registry); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist generation registry")
	}
}

// Store returns the cache store (for population and testing).
func (c *Client) Store() *cache.Store {
	return c.store
}

// Queue returns the write queue (for inspection and testing).
func (c *Client) Queue() *queue.Queue {
	return c.queue
}

// SetNetwork replaces the transport (for testing).
func (c *Client) SetNetwork(network strategy.Network) {
	c.network.swap(network)
}

// isMutation reports whether the method mutates origin state.
func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}

// kindFor maps a mutating method onto an operation kind.
func kindFor(method string) queue.Kind {
	switch method {
	case http.MethodPost:
		return queue.KindCreate
	case http.MethodDelete:
		return queue.KindDelete
	default:
		return queue.KindUpdate
	}
}

// queuedResponse builds the synthetic "accepted, pending sync" answer.
func queuedResponse(req *http.Request, operationID, target string) *http.Response {
	body := fmt.Sprintf(`{"status":"queued","operation_id":%q,"target":%q}`, operationID, target)

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	header.Set("X-Sync-Status", "queued")
	header.Set("X-Sync-Operation-Id", operationID)

	return &http.Response{
		StatusCode:    http.StatusAccepted,
		Status:        "202 Accepted",
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader([]byte(body))),
		ContentLength: int64(len(body)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Request:       req,
	}
}
