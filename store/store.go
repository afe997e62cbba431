// Package store defines the durable key-value store the persistence
// pipeline writes to, plus its SQLite implementation.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrTransient marks a retryable store failure. Queued writes fall back
// to per-item puts after a failed batch; immediate writes surface it to
// the caller.
var ErrTransient = errors.New("transient store error")

// MaxBatchSize is the largest batch the store accepts in one BatchPut.
const MaxBatchSize = 25

// RecordKind discriminates the entity a record serializes.
type RecordKind string

const (
	KindSession       RecordKind = "SESSION"
	KindAudioChunk    RecordKind = "AUDIO_CHUNK"
	KindTranscription RecordKind = "TRANSCRIPTION"
	KindHelpEvent     RecordKind = "HELP_EVENT"
	KindBatchMetrics  RecordKind = "BATCH_METRICS"
	KindSummary       RecordKind = "SESSION_SUMMARY"
)

// Record is one durable item. The (PK, SK) pair is deterministic from the
// entity's identifiers, so duplicate puts from retries or duplicate queue
// entries overwrite the same logical record.
type Record struct {
	PK        string
	SK        string
	Kind      RecordKind
	ClientID  string
	Body      []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store is the durable store collaborator. Put semantics are
// at-least-once; idempotency comes from deterministic keys.
type Store interface {
	// Put writes or overwrites a single record.
	Put(ctx context.Context, rec Record) error
	// BatchPut writes up to MaxBatchSize records in one round trip.
	BatchPut(ctx context.Context, recs []Record) error
	// Get returns the record at (pk, sk), or found=false.
	Get(ctx context.Context, pk, sk string) (Record, bool, error)
	// QueryPrefix returns all records under pk whose SK begins with
	// skPrefix, ordered by SK.
	QueryPrefix(ctx context.Context, pk, skPrefix string) ([]Record, error)
	// QueryByClient returns records for a client id via the secondary
	// index, most recent first, up to limit.
	QueryByClient(ctx context.Context, clientID string, limit int) ([]Record, error)
	// PurgeExpired removes records whose TTL passed before now.
	PurgeExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}
