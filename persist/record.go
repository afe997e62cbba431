// Package persist implements the write-behind persistence pipeline: a
// bounded queue drained by worker goroutines, micro-batched buffers for
// high-frequency chunk and transcription writes, and immediate
// synchronous writes for entities where staleness is unacceptable.
package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/bookmark-reading/Lon03/model"
	"github.com/bookmark-reading/Lon03/store"
)

// Key scheme: one partition per session, sort keys that group records by
// entity kind and order them by sequence or timestamp within the group.
const (
	sessionPKPrefix = "SESSION#"
	metadataSK      = "METADATA"
	summarySK       = "SUMMARY"
	chunkSKPrefix   = "CHUNK#"
	transSKPrefix   = "TRANS#"
	helpSKPrefix    = "HELP#"
	batchSKPrefix   = "BATCH#"
)

func sessionPK(sessionID fmt.Stringer) string {
	return sessionPKPrefix + sessionID.String()
}

func timestampedSK(prefix string, ts time.Time, id fmt.Stringer) string {
	return fmt.Sprintf("%s%d#%s", prefix, ts.UnixMilli(), id.String())
}

// SessionRecord serializes session metadata under SESSION#id / METADATA.
// The record is indexed under the session owner, so a student's sessions
// can be listed by the client index.
func SessionRecord(s *model.ReadingSession, ttl time.Time) (store.Record, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return store.Record{}, errors.Wrap(err, "marshal session")
	}
	return store.Record{
		PK:        sessionPK(s.SessionID),
		SK:        metadataSK,
		Kind:      store.KindSession,
		ClientID:  s.Owner(),
		Body:      body,
		CreatedAt: time.Now(),
		ExpiresAt: ttl,
	}, nil
}

// ChunkRecord serializes chunk metadata. The sort key is the zero-padded
// sequence number so a prefix query returns chunks in timeline order.
func ChunkRecord(c *model.AudioChunk, ttl time.Time) (store.Record, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return store.Record{}, errors.Wrap(err, "marshal chunk")
	}
	return store.Record{
		PK:        sessionPK(c.SessionID),
		SK:        fmt.Sprintf("%s%06d", chunkSKPrefix, c.SequenceNumber),
		Kind:      store.KindAudioChunk,
		ClientID:  c.ClientID,
		Body:      body,
		CreatedAt: time.Now(),
		ExpiresAt: ttl,
	}, nil
}

// TranscriptionRecord keys by creation timestamp plus id, so same-
// millisecond transcriptions never collide.
func TranscriptionRecord(t *model.Transcription, clientID string, ttl time.Time) (store.Record, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return store.Record{}, errors.Wrap(err, "marshal transcription")
	}
	return store.Record{
		PK:        sessionPK(t.SessionID),
		SK:        timestampedSK(transSKPrefix, t.CreatedAt, t.TranscriptionID),
		Kind:      store.KindTranscription,
		ClientID:  clientID,
		Body:      body,
		CreatedAt: time.Now(),
		ExpiresAt: ttl,
	}, nil
}

// HelpEventRecord serializes a help event. The audio response is already
// excluded from the event's JSON form unless explicitly retained.
func HelpEventRecord(e *model.HelpEvent, clientID string, ttl time.Time) (store.Record, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return store.Record{}, errors.Wrap(err, "marshal help event")
	}
	return store.Record{
		PK:        sessionPK(e.SessionID),
		SK:        timestampedSK(helpSKPrefix, e.ResponseTimestamp, e.EventID),
		Kind:      store.KindHelpEvent,
		ClientID:  clientID,
		Body:      body,
		CreatedAt: time.Now(),
		ExpiresAt: ttl,
	}, nil
}

// BatchMetricsRecord keys a closed window by its end time plus batch id.
func BatchMetricsRecord(b *model.BatchMetrics, clientID string, ttl time.Time) (store.Record, error) {
	body, err := json.Marshal(b)
	if err != nil {
		return store.Record{}, errors.Wrap(err, "marshal batch metrics")
	}
	return store.Record{
		PK:        sessionPK(b.SessionID),
		SK:        timestampedSK(batchSKPrefix, b.EndTime, b.BatchID),
		Kind:      store.KindBatchMetrics,
		ClientID:  clientID,
		Body:      body,
		CreatedAt: time.Now(),
		ExpiresAt: ttl,
	}, nil
}

// SummaryRecord serializes the one summary a session ever gets.
func SummaryRecord(s *model.SessionSummary, clientID string, ttl time.Time) (store.Record, error) {
	body, err := json.Marshal(s)
	if err != nil {
		return store.Record{}, errors.Wrap(err, "marshal summary")
	}
	return store.Record{
		PK:        sessionPK(s.SessionID),
		SK:        summarySK,
		Kind:      store.KindSummary,
		ClientID:  clientID,
		Body:      body,
		CreatedAt: time.Now(),
		ExpiresAt: ttl,
	}, nil
}
