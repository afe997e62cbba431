package timeline

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/bookmark-reading/Lon03/model"
)

// pcm returns a 16kHz linear16 payload lasting durationMS milliseconds.
func pcm(durationMS int) []byte {
	return make([]byte, durationMS*32)
}

func TestCreateSessionDuplicate(t *testing.T) {
	t.Parallel()
	s := NewStore()

	first, err := s.CreateSession("client-1", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := s.CreateSession("client-1", ""); !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}

	s.EndSession("client-1")
	second, err := s.CreateSession("client-1", "")
	if err != nil {
		t.Fatalf("CreateSession after end: %v", err)
	}
	if second.SessionID == first.SessionID {
		t.Fatal("ended session was not replaced")
	}
}

func TestStoreChunkAssignsContiguousOffsets(t *testing.T) {
	t.Parallel()
	s := NewStore()

	for i := 0; i < 3; i++ {
		chunk, err := s.StoreChunk("client-1", pcm(100), 16000, "linear16", false)
		if err != nil {
			t.Fatalf("StoreChunk: %v", err)
		}
		if chunk.SequenceNumber != i {
			t.Errorf("chunk %d: sequence = %d", i, chunk.SequenceNumber)
		}
		if want := int64(i * 100); chunk.SessionOffsetMS != want {
			t.Errorf("chunk %d: offset = %d, want %d", i, chunk.SessionOffsetMS, want)
		}
		if chunk.DurationMS != 100 {
			t.Errorf("chunk %d: duration = %d, want 100", i, chunk.DurationMS)
		}
		if chunk.AudioData != nil {
			t.Errorf("chunk %d: payload retained without flag", i)
		}
	}
	if got := s.CurrentSessionTimeMS("client-1"); got != 300 {
		t.Errorf("CurrentSessionTimeMS = %d, want 300", got)
	}
}

func TestStoreChunkImplicitSession(t *testing.T) {
	t.Parallel()
	s := NewStore()

	chunk, err := s.StoreChunk("client-1", pcm(50), 16000, "linear16", true)
	if err != nil {
		t.Fatalf("StoreChunk: %v", err)
	}
	if len(chunk.AudioData) == 0 {
		t.Error("payload dropped despite retention flag")
	}
	session, ok := s.Session("client-1")
	if !ok {
		t.Fatal("no implicit session")
	}
	if session.SessionID != chunk.SessionID {
		t.Error("chunk not attached to implicit session")
	}
}

func TestChunksInRangeHalfOpenOverlap(t *testing.T) {
	t.Parallel()
	s := NewStore()

	// Five 100ms chunks covering [0, 500).
	for i := 0; i < 5; i++ {
		if _, err := s.StoreChunk("client-1", pcm(100), 16000, "linear16", false); err != nil {
			t.Fatalf("StoreChunk: %v", err)
		}
	}

	tests := []struct {
		name           string
		startMS, endMS int64
		wantSequences  []int
	}{
		{"exact chunk", 100, 200, []int{1}},
		{"straddles boundary", 150, 250, []int{1, 2}},
		{"boundary is exclusive", 0, 100, []int{0}},
		{"beyond timeline", 600, 700, nil},
		{"whole timeline", 0, 500, []int{0, 1, 2, 3, 4}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := s.ChunksInRange("client-1", tt.startMS, tt.endMS)
			if len(got) != len(tt.wantSequences) {
				t.Fatalf("got %d chunks, want %d", len(got), len(tt.wantSequences))
			}
			for i, c := range got {
				if c.SequenceNumber != tt.wantSequences[i] {
					t.Errorf("chunk %d: sequence = %d, want %d", i, c.SequenceNumber, tt.wantSequences[i])
				}
			}
		})
	}

	if got := s.ChunksInRange("unknown", 0, 1000); got != nil {
		t.Errorf("unknown client: got %d chunks, want none", len(got))
	}
}

func TestChunksInRangeMatchesLinearScan(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(1))
	s := NewStore()

	// A timeline of randomly sized chunks, remembered for the oracle.
	type interval struct {
		seq        int
		start, end int64
	}
	var intervals []interval
	var total int64
	for i := 0; i < 40; i++ {
		durMS := 20 + rng.Intn(180)
		chunk, err := s.StoreChunk("client-1", pcm(durMS), 16000, "linear16", false)
		if err != nil {
			t.Fatalf("StoreChunk: %v", err)
		}
		intervals = append(intervals, interval{seq: chunk.SequenceNumber, start: chunk.SessionOffsetMS, end: chunk.EndMS()})
		total += int64(durMS)
	}

	for q := 0; q < 200; q++ {
		start := rng.Int63n(total+400) - 200
		end := rng.Int63n(total+400) - 200
		if start > end {
			start, end = end, start
		}

		var want []int
		for _, iv := range intervals {
			if iv.start < end && iv.end > start {
				want = append(want, iv.seq)
			}
		}

		got := s.ChunksInRange("client-1", start, end)
		if len(got) != len(want) {
			t.Fatalf("[%d, %d): got %d chunks, want %d", start, end, len(got), len(want))
		}
		for i, c := range got {
			if c.SequenceNumber != want[i] {
				t.Fatalf("[%d, %d): chunk %d has sequence %d, want %d", start, end, i, c.SequenceNumber, want[i])
			}
		}
	}
}

func TestEndSessionRecomputesMetrics(t *testing.T) {
	t.Parallel()
	s := NewStore()

	session, err := s.CreateSession("client-1", "")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	// 30s of audio and a six word final transcript: 12 WPM.
	if _, err := s.StoreChunk("client-1", pcm(30000), 16000, "linear16", false); err != nil {
		t.Fatalf("StoreChunk: %v", err)
	}
	err = s.AppendTranscription("client-1", &model.Transcription{
		TranscriptionID: uuid.New(),
		SessionID:       session.SessionID,
		Text:            "the cat sat on the mat",
		Confidence:      0.9,
		IsFinal:         true,
	})
	if err != nil {
		t.Fatalf("AppendTranscription: %v", err)
	}
	err = s.AppendTranscription("client-1", &model.Transcription{
		TranscriptionID: uuid.New(),
		SessionID:       session.SessionID,
		Text:            "partial words ignored",
		IsFinal:         false,
	})
	if err != nil {
		t.Fatalf("AppendTranscription: %v", err)
	}

	ended, ok := s.EndSession("client-1")
	if !ok {
		t.Fatal("EndSession: session missing")
	}
	if ended.Active() {
		t.Error("session still active after end")
	}
	if ended.Metrics.TotalWords != 6 {
		t.Errorf("TotalWords = %d, want 6", ended.Metrics.TotalWords)
	}
	if ended.Metrics.ReadingSpeedWPM != 12 {
		t.Errorf("ReadingSpeedWPM = %g, want 12", ended.Metrics.ReadingSpeedWPM)
	}
	if ended.Metrics.AverageConfidence != 0.9 {
		t.Errorf("AverageConfidence = %g, want 0.9", ended.Metrics.AverageConfidence)
	}
	if ended.Metrics.TotalReadingTimeMS != 30000 {
		t.Errorf("TotalReadingTimeMS = %d, want 30000", ended.Metrics.TotalReadingTimeMS)
	}

	// Idempotent: the end time must not move.
	firstEnd := *ended.EndTime
	again, _ := s.EndSession("client-1")
	if !again.EndTime.Equal(firstEnd) {
		t.Error("second EndSession moved the end time")
	}
}

func TestAppendTranscriptionUnknownClient(t *testing.T) {
	t.Parallel()
	s := NewStore()
	err := s.AppendTranscription("nobody", &model.Transcription{})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEvictRemovesOnlyOldEndedSessions(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if _, err := s.CreateSession("ended-old", ""); err != nil {
		t.Fatal(err)
	}
	s.EndSession("ended-old")
	// Backdate the end time past the eviction horizon.
	old := time.Now().Add(-48 * time.Hour)
	s.sessions["ended-old"].session.EndTime = &old

	if _, err := s.CreateSession("ended-fresh", ""); err != nil {
		t.Fatal(err)
	}
	s.EndSession("ended-fresh")

	if _, err := s.CreateSession("active", ""); err != nil {
		t.Fatal(err)
	}

	if removed := s.Evict(24 * time.Hour); removed != 1 {
		t.Fatalf("Evict removed %d, want 1", removed)
	}
	if _, ok := s.Session("ended-old"); ok {
		t.Error("old ended session survived eviction")
	}
	if _, ok := s.Session("ended-fresh"); !ok {
		t.Error("fresh ended session was evicted")
	}
	if _, ok := s.Session("active"); !ok {
		t.Error("active session was evicted")
	}
}

func TestTimelineSnapshot(t *testing.T) {
	t.Parallel()
	s := NewStore()

	session, err := s.CreateSession("client-1", "")
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.StoreChunk("client-1", pcm(250), 16000, "linear16", false); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AppendTranscription("client-1", &model.Transcription{
		SessionID:  session.SessionID,
		Text:       "hello world",
		Confidence: 0.8,
		IsFinal:    true,
	}); err != nil {
		t.Fatal(err)
	}

	snap, ok := s.Timeline("client-1")
	if !ok {
		t.Fatal("no snapshot")
	}
	if !snap.Active {
		t.Error("snapshot not marked active")
	}
	if snap.TotalDurationMS != 500 {
		t.Errorf("TotalDurationMS = %d, want 500", snap.TotalDurationMS)
	}
	if snap.ChunkCount != 2 || len(snap.Chunks) != 2 {
		t.Errorf("chunk count = %d/%d, want 2", snap.ChunkCount, len(snap.Chunks))
	}
	if len(snap.Transcriptions) != 1 || snap.Transcriptions[0].Text != "hello world" {
		t.Errorf("transcriptions = %+v", snap.Transcriptions)
	}

	if _, ok := s.Timeline("unknown"); ok {
		t.Error("snapshot for unknown client")
	}
}
