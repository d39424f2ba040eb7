// Package audit delivers authorization audit records asynchronously.
// Records are enqueued on the request path, delivered by background
// workers, and spooled to local disk when the primary sink is down so
// no record is lost across an outage or restart.
package audit

import (
	"context"
	"errors"

	"github.com/wardenlabs/warden/pkg/contracts"
)

// ErrSinkUnavailable marks a delivery failure worth spooling and
// retrying. Non-retryable failures (malformed record) are not wrapped
// with it.
var ErrSinkUnavailable = errors.New("audit: sink unavailable")

// ErrQueueFull is returned by Enqueue when the queue is saturated and
// failure reporting is enabled.
var ErrQueueFull = errors.New("audit: queue full")

// Sink is one delivery target. Write must be idempotent on RecordID:
// spool replay can deliver the same record twice.
type Sink interface {
	Name() string
	Write(ctx context.Context, rec *contracts.AuditRecord) error
}
