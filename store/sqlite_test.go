package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(pk, sk string, kind RecordKind) Record {
	return Record{
		PK:        pk,
		SK:        sk,
		Kind:      kind,
		ClientID:  "client-1",
		Body:      []byte(`{"ok":true}`),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("SESSION#abc", "METADATA", KindSession)
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, found, err := s.Get(ctx, "SESSION#abc", "METADATA")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if got.Kind != KindSession || string(got.Body) != `{"ok":true}` {
		t.Fatalf("unexpected record: %+v", got)
	}

	_, found, err = s.Get(ctx, "SESSION#abc", "MISSING")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if found {
		t.Fatal("expected not found")
	}
}

func TestPutIsIdempotent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	rec := testRecord("SESSION#s1", "SUMMARY", KindSummary)
	for i := 0; i < 3; i++ {
		if err := s.Put(ctx, rec); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	recs, err := s.QueryPrefix(ctx, "SESSION#s1", "SUMMARY")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record after duplicate puts, got %d", len(recs))
	}
}

func TestBatchPutAndQueryPrefixOrder(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	recs := []Record{
		testRecord("SESSION#s2", "CHUNK#0002", KindAudioChunk),
		testRecord("SESSION#s2", "CHUNK#0000", KindAudioChunk),
		testRecord("SESSION#s2", "CHUNK#0001", KindAudioChunk),
		testRecord("SESSION#s2", "TRANS#t1", KindTranscription),
	}
	if err := s.BatchPut(ctx, recs); err != nil {
		t.Fatalf("batch put: %v", err)
	}

	chunks, err := s.QueryPrefix(ctx, "SESSION#s2", "CHUNK#")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, want := range []string{"CHUNK#0000", "CHUNK#0001", "CHUNK#0002"} {
		if chunks[i].SK != want {
			t.Fatalf("chunk %d: got SK %q, want %q", i, chunks[i].SK, want)
		}
	}
}

func TestBatchPutRejectsOversizedBatch(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	recs := make([]Record, MaxBatchSize+1)
	for i := range recs {
		recs[i] = testRecord("SESSION#s3", "CHUNK#"+string(rune('a'+i)), KindAudioChunk)
	}
	if err := s.BatchPut(context.Background(), recs); err == nil {
		t.Fatal("expected error for oversized batch")
	}
}

func TestQueryByClient(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	a := testRecord("SESSION#s4", "METADATA", KindSession)
	a.ClientID = "student-7"
	a.CreatedAt = time.Now().Add(-time.Hour)
	b := testRecord("SESSION#s5", "METADATA", KindSession)
	b.ClientID = "student-7"
	if err := s.Put(ctx, a); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, b); err != nil {
		t.Fatal(err)
	}

	recs, err := s.QueryByClient(ctx, "student-7", 10)
	if err != nil {
		t.Fatalf("query by client: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].PK != "SESSION#s5" {
		t.Fatalf("expected most recent first, got %q", recs[0].PK)
	}
}

func TestPurgeExpired(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	expired := testRecord("SESSION#s6", "METADATA", KindSession)
	expired.ExpiresAt = time.Now().Add(-time.Minute)
	live := testRecord("SESSION#s7", "METADATA", KindSession)
	if err := s.Put(ctx, expired); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, live); err != nil {
		t.Fatal(err)
	}

	n, err := s.PurgeExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged %d, want 1", n)
	}
	if _, found, _ := s.Get(ctx, "SESSION#s7", "METADATA"); !found {
		t.Fatal("live record was purged")
	}
}
