// Package syncer drains the write queue against the origin once
// connectivity returns, with exponential backoff and per-operation
// failure isolation.
package syncer

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkahlert/offlinekit/pkg/cache"
	"github.com/mkahlert/offlinekit/pkg/queue"
	"github.com/mkahlert/offlinekit/pkg/strategy"
)

// Config holds the coordinator configuration.
type Config struct {
	// BatchSize bounds how many operations one PeekBatch returns.
	BatchSize int

	// BaseBackoff is the backoff after the first retryable failure;
	// it doubles per attempt (base * 2^attempts) up to MaxBackoff.
	BaseBackoff time.Duration

	// MaxBackoff caps the backoff delay.
	MaxBackoff time.Duration

	// CallTimeout bounds each replay network call.
	CallTimeout time.Duration

	// MaxAttempts drops an operation after this many failed deliveries
	// so one unprocessable item cannot block the queue forever.
	MaxAttempts int

	// Interval is the optional timer trigger for Run. Zero disables it.
	Interval time.Duration
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:   32,
		BaseBackoff: 1 * time.Second,
		MaxBackoff:  60 * time.Second,
		CallTimeout: 30 * time.Second,
		MaxAttempts: 8,
		Interval:    30 * time.Second,
	}
}

// Coordinator drains the write queue. Exactly one drain cycle runs at a
// time; triggers received meanwhile coalesce into a single later run.
//
// State machine per cycle: Idle -> Draining -> (Idle | Backoff).
type Coordinator struct {
	queue   *queue.Queue
	store   *cache.Store
	network strategy.Network
	cfg     Config
	logger  zerolog.Logger

	// drainMu enforces one drain cycle at a time
	drainMu sync.Mutex

	// trigger carries at most one pending "run once more" request
	trigger chan struct{}

	stateMu       sync.Mutex
	backoffUntil  time.Time
	errorHandlers []func(SyncError)
}

// New creates a sync coordinator.
func New(q *queue.Queue, store *cache.Store, network strategy.Network, cfg Config, logger zerolog.Logger) *Coordinator {
	if q == nil {
		panic("queue cannot be nil")
	}
	if store == nil {
		panic("cache store cannot be nil")
	}
	if network == nil {
		panic("network cannot be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultConfig().BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultConfig().MaxBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}

	return &Coordinator{
		queue:   q,
		store:   store,
		network: network,
		cfg:     cfg,
		logger:  logger,
		trigger: make(chan struct{}, 1),
	}
}

// OnError registers a callback for terminal and dropped-operation
// failures. Callbacks run synchronously inside the drain cycle and must
// not block.
func (c *Coordinator) OnError(fn func(SyncError)) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.errorHandlers = append(c.errorHandlers, fn)
}

// Trigger requests a drain. Safe to call from any goroutine; triggers
// arriving while a cycle or backoff is in progress coalesce into one
// more run.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run processes triggers (and the optional interval timer) until ctx is
// cancelled. Runs wait out the backoff window armed by a previous
// retryable failure; ResetBackoff clears the window when the caller
// knows connectivity came back.
func (c *Coordinator) Run(ctx context.Context) {
	var tick <-chan time.Time
	if c.cfg.Interval > 0 {
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.trigger:
		case <-tick:
		}

		if wait := time.Until(c.backoffDeadline()); wait > 0 {
			c.logger.Debug().Dur("wait", wait).Msg("Honoring backoff before drain")
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		if err := c.Drain(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Drain cycle failed")
		}
	}
}

// Drain runs one drain cycle now. If a cycle is already running, or the
// backoff window from a previous retryable failure is still open, the
// call coalesces into a pending trigger and returns immediately.
func (c *Coordinator) Drain(ctx context.Context) error {
	if time.Now().Before(c.backoffDeadline()) {
		c.Trigger()
		return nil
	}
	if !c.drainMu.TryLock() {
		c.Trigger()
		return nil
	}
	defer c.drainMu.Unlock()

	return c.drain(ctx)
}

// ResetBackoff clears the backoff window. Intended for
// connectivity-regained signals, where waiting out the remaining delay
// would only postpone a drain that is now expected to succeed.
func (c *Coordinator) ResetBackoff() {
	c.setBackoff(time.Time{})
}

func (c *Coordinator) drain(ctx context.Context) error {
	c.logger.Debug().Int("pending", c.queue.Len()).Msg("Drain cycle started")

	for {
		// Cooperative cancellation between operations, never mid-call.
		if err := ctx.Err(); err != nil {
			syncCycles.WithLabelValues("cancelled").Inc()
			return err
		}

		batch, err := c.queue.PeekBatch(ctx, c.cfg.BatchSize)
		if err != nil {
			syncCycles.WithLabelValues("error").Inc()
			return fmt.Errorf("peek batch: %w", err)
		}
		if len(batch) == 0 {
			syncCycles.WithLabelValues("completed").Inc()
			c.logger.Debug().Msg("Drain cycle completed, queue empty")
			return nil
		}

		for _, op := range batch {
			if err := ctx.Err(); err != nil {
				syncCycles.WithLabelValues("cancelled").Inc()
				return err
			}

			if op.Attempts >= c.cfg.MaxAttempts {
				if err := c.dropOperation(ctx, op); err != nil {
					return c.storageFailure(op, err)
				}
				continue
			}

			resp, sendErr := c.send(ctx, op)
			if sendErr == nil && resp.StatusCode < 400 {
				resp.Body.Close()
				if err := c.acknowledge(ctx, op); err != nil {
					return c.storageFailure(op, err)
				}
				continue
			}

			switch classify(resp, sendErr) {
			case ClassTerminal:
				if err := c.terminalFailure(ctx, op, resp); err != nil {
					return c.storageFailure(op, err)
				}
			default:
				c.retryableFailure(ctx, op, resp, sendErr)
				syncCycles.WithLabelValues("backoff").Inc()
				return nil
			}
		}
	}
}

// send replays one queued operation against the origin.
func (c *Coordinator) send(ctx context.Context, op queue.Operation) (*http.Response, error) {
	callCtx := ctx
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(callCtx, op.Method, op.URL, bytes.NewReader(op.Payload))
	if err != nil {
		return nil, err
	}
	for name, values := range op.Headers {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}

	return c.network.Do(req)
}

// acknowledge removes a delivered operation and invalidates every
// cached read for its target, across vary partitions, so the next read
// refetches. A failed removal is returned so the cycle stops instead of
// redelivering the same mutation.
func (c *Coordinator) acknowledge(ctx context.Context, op queue.Operation) error {
	if err := c.queue.Acknowledge(ctx, op.ID); err != nil {
		c.logger.Error().Str("operation_id", op.ID).Err(err).Msg("Failed to acknowledge operation")
		return err
	}

	if err := c.store.InvalidateTarget(ctx, http.MethodGet, op.URL); err != nil {
		c.logger.Warn().Str("operation_id", op.ID).Err(err).Msg("Failed to invalidate cache for synced target")
	}

	syncOperations.WithLabelValues("acknowledged").Inc()
	c.logger.Info().
		Str("operation_id", op.ID).
		Str("target", op.Target).
		Msg("Operation synced")
	return nil
}

// terminalFailure removes an operation that can never succeed and
// surfaces the failure through the error callback.
func (c *Coordinator) terminalFailure(ctx context.Context, op queue.Operation, resp *http.Response) error {
	status := 0
	if resp != nil {
		status = resp.StatusCode
		resp.Body.Close()
	}

	if err := c.queue.Acknowledge(ctx, op.ID); err != nil {
		c.logger.Error().Str("operation_id", op.ID).Err(err).Msg("Failed to remove terminal operation")
		return err
	}

	syncOperations.WithLabelValues("terminal").Inc()
	c.logger.Warn().
		Str("operation_id", op.ID).
		Str("target", op.Target).
		Int("status", status).
		Msg("Operation rejected by origin, not retrying")

	c.emit(SyncError{
		OperationID: op.ID,
		Target:      op.Target,
		StatusCode:  status,
		Err:         fmt.Errorf("origin rejected operation with status %d", status),
	})
	return nil
}

// retryableFailure records the failure and arms the backoff window.
func (c *Coordinator) retryableFailure(ctx context.Context, op queue.Operation, resp *http.Response, sendErr error) {
	status := 0
	if resp != nil {
		status = resp.StatusCode
		resp.Body.Close()
		if sendErr == nil {
			sendErr = fmt.Errorf("origin answered status %d", status)
		}
	}

	if err := c.queue.MarkFailed(ctx, op.ID, sendErr); err != nil {
		c.logger.Error().Str("operation_id", op.ID).Err(err).Msg("Failed to record delivery failure")
	}

	attempts := op.Attempts + 1
	delay := c.backoffFor(attempts)
	c.setBackoff(time.Now().Add(delay))

	syncOperations.WithLabelValues("retryable").Inc()
	syncBackoffSeconds.Observe(delay.Seconds())

	c.logger.Warn().
		Str("operation_id", op.ID).
		Str("target", op.Target).
		Int("attempts", attempts).
		Dur("backoff", delay).
		Err(sendErr).
		Msg("Delivery failed, backing off")
}

// dropOperation discards an operation that exceeded the attempt limit.
func (c *Coordinator) dropOperation(ctx context.Context, op queue.Operation) error {
	if err := c.queue.Drop(ctx, op.ID); err != nil {
		c.logger.Error().Str("operation_id", op.ID).Err(err).Msg("Failed to drop stuck operation")
		return err
	}

	syncOperations.WithLabelValues("dropped").Inc()
	c.logger.Error().
		Str("operation_id", op.ID).
		Str("target", op.Target).
		Int("attempts", op.Attempts).
		Str("last_error", op.LastError).
		Msg("Operation exceeded attempt limit, dropped")

	c.emit(SyncError{
		OperationID: op.ID,
		Target:      op.Target,
		Err:         fmt.Errorf("dropped after %d attempts: %s", op.Attempts, op.LastError),
	})
	return nil
}

// storageFailure arms the backoff window after a queue storage error so
// the cycle is not immediately retried in a hot loop, then stops the
// cycle with the error.
func (c *Coordinator) storageFailure(op queue.Operation, err error) error {
	c.setBackoff(time.Now().Add(c.backoffFor(op.Attempts + 1)))
	syncCycles.WithLabelValues("error").Inc()
	return fmt.Errorf("operation %s: %w", op.ID, err)
}

// backoffFor computes base * 2^attempts with ±20% jitter, capped.
func (c *Coordinator) backoffFor(attempts int) time.Duration {
	delay := c.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= c.cfg.MaxBackoff {
			delay = c.cfg.MaxBackoff
			break
		}
	}

	jittered := time.Duration(float64(delay) * (0.8 + rand.Float64()*0.4))
	if jittered > c.cfg.MaxBackoff {
		jittered = c.cfg.MaxBackoff
	}
	return jittered
}

func (c *Coordinator) setBackoff(until time.Time) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.backoffUntil = until
}

func (c *Coordinator) backoffDeadline() time.Time {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.backoffUntil
}

// emit delivers a SyncError to all registered handlers.
func (c *Coordinator) emit(syncErr SyncError) {
	c.stateMu.Lock()
	handlers := make([]func(SyncError), len(c.errorHandlers))
	copy(handlers, c.errorHandlers)
	c.stateMu.Unlock()

	for _, fn := range handlers {
		fn(syncErr)
	}
}
