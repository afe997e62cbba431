package persist

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bookmark-reading/Lon03/model"
)

func TestReaderRoundTrip(t *testing.T) {
	t.Parallel()
	ms := newMemStore()
	p := NewPipeline(ms, Options{
		ImmediateHelpEvents:   true,
		ImmediateBatchMetrics: true,
		ImmediateSummaries:    true,
		FlushInterval:         time.Hour,
	})
	p.Start()
	ctx := context.Background()

	sessionID := uuid.New()
	now := time.Now()
	session := &model.ReadingSession{
		SessionID: sessionID,
		ClientID:  "client-1",
		StartTime: now,
		Metrics:   model.SessionMetrics{TotalWords: 42},
	}
	if err := p.PersistSession(session); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := p.PersistChunk(chunk(sessionID, i)); err != nil {
			t.Fatal(err)
		}
	}
	trans := &model.Transcription{
		TranscriptionID: uuid.New(),
		SessionID:       sessionID,
		Text:            "the cat sat",
		IsFinal:         true,
		CreatedAt:       now,
	}
	if err := p.PersistTranscription(trans, "client-1"); err != nil {
		t.Fatal(err)
	}
	batch := &model.BatchMetrics{BatchID: uuid.New(), SessionID: sessionID, EndTime: now, WordCount: 3}
	if err := p.PersistBatchMetrics(ctx, batch, "client-1"); err != nil {
		t.Fatal(err)
	}
	summary := &model.SessionSummary{SessionID: sessionID, TotalWords: 3}
	if err := p.PersistSummary(ctx, summary, "client-1"); err != nil {
		t.Fatal(err)
	}
	p.Stop(ctx)

	r := NewReader(ms)
	gotSession, found, err := r.Session(ctx, sessionID)
	if err != nil || !found {
		t.Fatalf("Session: found=%v err=%v", found, err)
	}
	if gotSession.Metrics.TotalWords != 42 {
		t.Errorf("session TotalWords = %d, want 42", gotSession.Metrics.TotalWords)
	}
	chunks, err := r.Chunks(ctx, sessionID)
	if err != nil || len(chunks) != 3 {
		t.Fatalf("Chunks: %d err=%v, want 3", len(chunks), err)
	}
	transcriptions, err := r.Transcriptions(ctx, sessionID)
	if err != nil || len(transcriptions) != 1 {
		t.Fatalf("Transcriptions: %d err=%v, want 1", len(transcriptions), err)
	}
	if transcriptions[0].Text != "the cat sat" {
		t.Errorf("transcription text = %q", transcriptions[0].Text)
	}
	batches, err := r.BatchMetrics(ctx, sessionID)
	if err != nil || len(batches) != 1 {
		t.Fatalf("BatchMetrics: %d err=%v, want 1", len(batches), err)
	}
	gotSummary, found, err := r.Summary(ctx, sessionID)
	if err != nil || !found {
		t.Fatalf("Summary: found=%v err=%v", found, err)
	}
	if gotSummary.TotalWords != 3 {
		t.Errorf("summary TotalWords = %d, want 3", gotSummary.TotalWords)
	}

	if _, found, err := r.Session(ctx, uuid.New()); err != nil || found {
		t.Errorf("unknown session: found=%v err=%v", found, err)
	}
}

func TestStudentSessionsIndexedByStudent(t *testing.T) {
	t.Parallel()
	ms := newMemStore()
	p := NewPipeline(ms, Options{ImmediateSummaries: true, FlushInterval: time.Hour})
	p.Start()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		s := &model.ReadingSession{
			SessionID: uuid.New(),
			ClientID:  uuid.New().String(),
			StudentID: "student-7",
			StartTime: time.Now(),
		}
		if err := p.PersistSession(s); err != nil {
			t.Fatal(err)
		}
	}
	other := &model.ReadingSession{SessionID: uuid.New(), ClientID: uuid.New().String(), StudentID: "student-8", StartTime: time.Now()}
	if err := p.PersistSession(other); err != nil {
		t.Fatal(err)
	}
	// Same index key, different kind: must not leak into the listing.
	if err := p.PersistSummary(ctx, &model.SessionSummary{SessionID: uuid.New()}, "student-7"); err != nil {
		t.Fatal(err)
	}
	p.Stop(ctx)

	r := NewReader(ms)
	sessions, err := r.StudentSessions(ctx, "student-7", 10)
	if err != nil {
		t.Fatalf("StudentSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	for _, s := range sessions {
		if s.StudentID != "student-7" {
			t.Errorf("session %s StudentID = %q", s.SessionID, s.StudentID)
		}
	}
	if got, err := r.StudentSessions(ctx, "student-9", 10); err != nil || len(got) != 0 {
		t.Errorf("unknown student: %d sessions, err=%v", len(got), err)
	}
}
