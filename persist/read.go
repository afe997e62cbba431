package persist

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bookmark-reading/Lon03/model"
	"github.com/bookmark-reading/Lon03/store"
)

// Reader hydrates persisted entities back out of the durable store.
// Reads key by session and entity kind; write order across kinds is not
// guaranteed and must not be assumed.
type Reader struct {
	store store.Store
}

// NewReader builds a reader over the given store.
func NewReader(s store.Store) *Reader {
	return &Reader{store: s}
}

// Session loads the session metadata record, or found=false.
func (r *Reader) Session(ctx context.Context, sessionID uuid.UUID) (*model.ReadingSession, bool, error) {
	rec, ok, err := r.store.Get(ctx, sessionPK(sessionID), metadataSK)
	if err != nil || !ok {
		return nil, false, err
	}
	var s model.ReadingSession
	if err := json.Unmarshal(rec.Body, &s); err != nil {
		return nil, false, errors.Wrap(err, "unmarshal session")
	}
	return &s, true, nil
}

// StudentSessions lists a student's persisted sessions, most recent
// first, via the client index. limit <= 0 uses the store default.
func (r *Reader) StudentSessions(ctx context.Context, studentID string, limit int) ([]*model.ReadingSession, error) {
	recs, err := r.store.QueryByClient(ctx, studentID, limit)
	if err != nil {
		return nil, err
	}
	var out []*model.ReadingSession
	for _, rec := range recs {
		if rec.Kind != store.KindSession {
			continue
		}
		var s model.ReadingSession
		if err := json.Unmarshal(rec.Body, &s); err != nil {
			return nil, errors.Wrap(err, "unmarshal session")
		}
		out = append(out, &s)
	}
	return out, nil
}

// Chunks loads all chunk records for a session in timeline order.
func (r *Reader) Chunks(ctx context.Context, sessionID uuid.UUID) ([]*model.AudioChunk, error) {
	recs, err := r.store.QueryPrefix(ctx, sessionPK(sessionID), chunkSKPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*model.AudioChunk, 0, len(recs))
	for _, rec := range recs {
		var c model.AudioChunk
		if err := json.Unmarshal(rec.Body, &c); err != nil {
			return nil, errors.Wrap(err, "unmarshal chunk")
		}
		out = append(out, &c)
	}
	return out, nil
}

// Transcriptions loads a session's transcriptions ordered by creation time.
func (r *Reader) Transcriptions(ctx context.Context, sessionID uuid.UUID) ([]*model.Transcription, error) {
	recs, err := r.store.QueryPrefix(ctx, sessionPK(sessionID), transSKPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Transcription, 0, len(recs))
	for _, rec := range recs {
		var t model.Transcription
		if err := json.Unmarshal(rec.Body, &t); err != nil {
			return nil, errors.Wrap(err, "unmarshal transcription")
		}
		out = append(out, &t)
	}
	return out, nil
}

// BatchMetrics loads a session's closed windows ordered by end time.
func (r *Reader) BatchMetrics(ctx context.Context, sessionID uuid.UUID) ([]*model.BatchMetrics, error) {
	recs, err := r.store.QueryPrefix(ctx, sessionPK(sessionID), batchSKPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*model.BatchMetrics, 0, len(recs))
	for _, rec := range recs {
		var b model.BatchMetrics
		if err := json.Unmarshal(rec.Body, &b); err != nil {
			return nil, errors.Wrap(err, "unmarshal batch metrics")
		}
		out = append(out, &b)
	}
	return out, nil
}

// Summary loads the session summary, or found=false.
func (r *Reader) Summary(ctx context.Context, sessionID uuid.UUID) (*model.SessionSummary, bool, error) {
	rec, ok, err := r.store.Get(ctx, sessionPK(sessionID), summarySK)
	if err != nil || !ok {
		return nil, false, err
	}
	var s model.SessionSummary
	if err := json.Unmarshal(rec.Body, &s); err != nil {
		return nil, false, errors.Wrap(err, "unmarshal summary")
	}
	return &s, true, nil
}
