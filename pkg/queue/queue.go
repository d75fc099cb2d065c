// Package queue implements the durable write queue: an ordered log of
// mutating operations that could not reach the origin, persisted so it
// survives process restarts and drained later by the sync coordinator.
package queue

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/mkahlert/offlinekit/pkg/storage"
)

// Namespace is the storage namespace holding queued operations.
const Namespace = "queue"

// Kind classifies a queued mutation.
type Kind string

const (
	// KindCreate corresponds to POST requests.
	KindCreate Kind = "create"

	// KindUpdate corresponds to PUT and PATCH requests.
	KindUpdate Kind = "update"

	// KindDelete corresponds to DELETE requests.
	KindDelete Kind = "delete"
)

// Operation is one pending mutation. The ID is a ULID: its embedded
// millisecond timestamp plus monotonic sequence makes lexicographic
// order equal enqueue order, so FIFO replay survives restarts.
type Operation struct {
	// ID is assigned by Enqueue
	ID string `json:"id"`

	// Kind of mutation
	Kind Kind `json:"kind"`

	// Target identifies the mutated resource (normalized URL path)
	Target string `json:"target"`

	// Method, URL, Headers and Payload reconstruct the origin request
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Headers http.Header `json:"headers,omitempty"`
	Payload []byte      `json:"payload,omitempty"`

	// EnqueuedAt is when the operation entered the queue
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Attempts counts delivery attempts made by the sync coordinator
	Attempts int `json:"attempts"`

	// LastError records the most recent delivery failure
	LastError string `json:"last_error,omitempty"`
}

// Queue is a durable FIFO of operations over a storage backend.
// Enqueue returns only after the operation is persisted; acknowledged
// operations are removed, everything else is reloaded on restart.
type Queue struct {
	backend storage.Backend
	logger  zerolog.Logger

	mu      sync.Mutex
	ids     []string // sorted, mirrors the persisted namespace
	entropy *ulid.MonotonicEntropy
}

// New creates a queue over the backend and reloads any operations left
// unacknowledged by a previous process.
func New(ctx context.Context, backend storage.Backend, logger zerolog.Logger) (*Queue, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}

	ids, err := backend.List(ctx, Namespace)
	if err != nil {
		return nil, fmt.Errorf("reload queue: %w", err)
	}
	sort.Strings(ids)

	if len(ids) > 0 {
		logger.Info().Int("pending", len(ids)).Msg("Recovered pending operations from storage")
	}
	queueDepth.Set(float64(len(ids)))

	return &Queue{
		backend: backend,
		logger:  logger,
		ids:     ids,
		entropy: ulid.Monotonic(crand.Reader, 0),
	}, nil
}

// Enqueue persists op and appends it to the queue. The returned id is
// assigned here; Enqueue returns only after the write is durable.
func (q *Queue) Enqueue(ctx context.Context, op Operation) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), q.entropy)
	if err != nil {
		return "", fmt.Errorf("generate operation id: %w", err)
	}

	op.ID = id.String()
	if op.EnqueuedAt.IsZero() {
		op.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(&op)
	if err != nil {
		return "", fmt.Errorf("marshal operation: %w", err)
	}

	if err := q.backend.Write(ctx, Namespace, op.ID, data); err != nil {
		queueErrors.WithLabelValues("enqueue").Inc()
		return "", err
	}

	q.ids = append(q.ids, op.ID)
	queueEnqueued.Inc()
	queueDepth.Set(float64(len(q.ids)))

	q.logger.Debug().
		Str("operation_id", op.ID).
		Str("kind", string(op.Kind)).
		Str("target", op.Target).
		Msg("Operation enqueued")

	return op.ID, nil
}

// PeekBatch returns up to maxN operations, oldest first, without
// removing them. Re-peeking without acknowledging returns the same
// operations. Undecodable entries are dropped with a logged error so
// they cannot block the queue.
func (q *Queue) PeekBatch(ctx context.Context, maxN int) ([]Operation, error) {
	q.mu.Lock()
	ids := make([]string, len(q.ids))
	copy(ids, q.ids)
	q.mu.Unlock()

	ops := make([]Operation, 0, maxN)
	for _, id := range ids {
		if len(ops) >= maxN {
			break
		}

		data, err := q.backend.Read(ctx, Namespace, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Acknowledged concurrently; drop from the index.
				q.forget(id)
				continue
			}
			queueErrors.WithLabelValues("peek").Inc()
			return nil, err
		}

		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			q.logger.Error().
				Str("operation_id", id).
				Err(err).
				Msg("Dropping undecodable queued operation")
			queueDropped.Inc()
			if err := q.remove(ctx, id); err != nil {
				return nil, err
			}
			continue
		}

		ops = append(ops, op)
	}

	return ops, nil
}

// Acknowledge removes an operation after the origin accepted it.
// Idempotent: acknowledging a removed id is a no-op.
func (q *Queue) Acknowledge(ctx context.Context, id string) error {
	if err := q.remove(ctx, id); err != nil {
		queueErrors.WithLabelValues("acknowledge").Inc()
		return err
	}
	queueAcknowledged.Inc()
	return nil
}

// MarkFailed increments the attempt counter and records the error,
// leaving the operation in place for a later retry.
func (q *Queue) MarkFailed(ctx context.Context, id string, opErr error) error {
	data, err := q.backend.Read(ctx, Namespace, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		queueErrors.WithLabelValues("mark_failed").Inc()
		return err
	}

	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return fmt.Errorf("decode operation %s: %w", id, err)
	}

	op.Attempts++
	if opErr != nil {
		op.LastError = opErr.Error()
	}

	updated, err := json.Marshal(&op)
	if err != nil {
		return fmt.Errorf("marshal operation %s: %w", id, err)
	}
	if err := q.backend.Write(ctx, Namespace, id, updated); err != nil {
		queueErrors.WithLabelValues("mark_failed").Inc()
		return err
	}

	queueFailed.Inc()
	return nil
}

// Drop removes an operation that can never be processed (corrupt or
// over the attempt limit), so it does not block the queue.
func (q *Queue) Drop(ctx context.Context, id string) error {
	if err := q.remove(ctx, id); err != nil {
		return err
	}
	queueDropped.Inc()
	return nil
}

// Len returns the number of pending operations.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ids)
}

// remove deletes the persisted operation and forgets its id.
func (q *Queue) remove(ctx context.Context, id string) error {
	if err := q.backend.Delete(ctx, Namespace, id); err != nil {
		return err
	}
	q.forget(id)
	return nil
}

// forget drops id from the in-memory index.
func (q *Queue) forget(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, existing := range q.ids {
		if existing == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	queueDepth.Set(float64(len(q.ids)))
}
