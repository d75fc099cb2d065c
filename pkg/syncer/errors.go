package syncer

import (
	"fmt"
	"net/http"
)

// Class classifies a delivery failure.
type Class string

const (
	// ClassRetryable covers transient failures: unreachable origin,
	// timeouts, 5xx answers. The operation stays queued.
	ClassRetryable Class = "retryable"

	// ClassTerminal covers failures that retrying cannot fix (4xx
	// validation errors). The operation is removed and surfaced to the
	// caller via the error callback.
	ClassTerminal Class = "terminal"
)

// SyncError describes one operation's delivery failure, delivered to the
// caller through the OnError side channel.
type SyncError struct {
	OperationID string
	Target      string
	StatusCode  int
	Err         error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("sync operation %s for %s failed (status %d): %v",
			e.OperationID, e.Target, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("sync operation %s for %s failed: %v",
		e.OperationID, e.Target, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// classify maps a replay outcome onto a failure class. A transport
// error or timeout is retryable; HTTP status codes follow the usual
// split: 5xx retryable, 4xx terminal.
func classify(resp *http.Response, err error) Class {
	if err != nil {
		return ClassRetryable
	}
	if resp.StatusCode >= 500 {
		return ClassRetryable
	}
	return ClassTerminal
}
