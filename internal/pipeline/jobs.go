// Package pipeline implements the per-integration three-stage scan pipeline:
// poll, scan, and upload workers connected by two durable queues, following
// a single-worker channel-select loop with a named sequence-of-steps
// execute method, plus a reconnect-style backoff/jitter policy generalized
// into internal/retry.
package pipeline

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/fossas/broker/internal/transport"
)

// ScanJob is produced by the poll worker and consumed by the scan worker.
// The integration itself is not carried on the job:
// one Pipeline instance (and its pair of queues) exists per integration, so
// every job flowing through it implicitly belongs to that integration —
// carrying it again would also mean gob-encoding the integration's
// credentials onto disk, which secret.Value deliberately cannot do (its
// bytes are unexported precisely so they can't round-trip through
// reflection-based encoders).
type ScanJob struct {
	ScanID    uuid.UUID
	Reference transport.Reference
}

// UploadJob is produced by the scan worker and consumed by the upload
// worker.
type UploadJob struct {
	ScanID          uuid.UUID
	Reference       transport.Reference
	AnalyzerVersion string
	SourceUnits     json.RawMessage
}
