package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	pk         TEXT NOT NULL,
	sk         TEXT NOT NULL,
	kind       TEXT NOT NULL,
	client_id  TEXT NOT NULL DEFAULT '',
	body       BLOB NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	PRIMARY KEY (pk, sk)
);
CREATE INDEX IF NOT EXISTS idx_records_client
	ON records (client_id, created_at DESC);
`

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the store at path with WAL
// journaling.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping store")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init schema")
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

const upsert = `
INSERT OR REPLACE INTO records (pk, sk, kind, client_id, body, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`

// Put writes or overwrites a single record.
func (s *SQLite) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, upsert,
		rec.PK, rec.SK, string(rec.Kind), rec.ClientID, rec.Body,
		rec.CreatedAt.UnixMilli(), rec.ExpiresAt.UnixMilli())
	if err != nil {
		return errors.Wrapf(ErrTransient, "put %s/%s: %v", rec.PK, rec.SK, err)
	}
	return nil
}

// BatchPut writes the records in one transaction. The caller keeps
// batches at or under MaxBatchSize.
func (s *SQLite) BatchPut(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	if len(recs) > MaxBatchSize {
		return errors.Errorf("batch of %d exceeds limit %d", len(recs), MaxBatchSize)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(ErrTransient, "begin batch: %v", err)
	}
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx, upsert,
			rec.PK, rec.SK, string(rec.Kind), rec.ClientID, rec.Body,
			rec.CreatedAt.UnixMilli(), rec.ExpiresAt.UnixMilli()); err != nil {
			tx.Rollback()
			return errors.Wrapf(ErrTransient, "batch put %s/%s: %v", rec.PK, rec.SK, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(ErrTransient, "commit batch: %v", err)
	}
	return nil
}

// Get returns the record at (pk, sk).
func (s *SQLite) Get(ctx context.Context, pk, sk string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pk, sk, kind, client_id, body, created_at, expires_at
		FROM records WHERE pk = ? AND sk = ?`, pk, sk)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.Wrapf(ErrTransient, "get %s/%s: %v", pk, sk, err)
	}
	return rec, true, nil
}

// QueryPrefix returns all records under pk whose SK starts with skPrefix,
// ordered by SK.
func (s *SQLite) QueryPrefix(ctx context.Context, pk, skPrefix string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pk, sk, kind, client_id, body, created_at, expires_at
		FROM records
		WHERE pk = ? AND sk >= ? AND sk < ?
		ORDER BY sk ASC`, pk, skPrefix, skPrefix+"￿")
	if err != nil {
		return nil, errors.Wrapf(ErrTransient, "query %s/%s*: %v", pk, skPrefix, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// QueryByClient returns records for a client id, most recent first.
func (s *SQLite) QueryByClient(ctx context.Context, clientID string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT pk, sk, kind, client_id, body, created_at, expires_at
		FROM records
		WHERE client_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, clientID, limit)
	if err != nil {
		return nil, errors.Wrapf(ErrTransient, "query client %s: %v", clientID, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// PurgeExpired removes records whose expiry passed before now and returns
// how many were deleted.
func (s *SQLite) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE expires_at > 0 AND expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, errors.Wrapf(ErrTransient, "purge expired: %v", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanRecord(scan func(dest ...any) error) (Record, error) {
	var rec Record
	var kind string
	var createdAt, expiresAt int64
	if err := scan(&rec.PK, &rec.SK, &kind, &rec.ClientID, &rec.Body, &createdAt, &expiresAt); err != nil {
		return Record{}, err
	}
	rec.Kind = RecordKind(kind)
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.ExpiresAt = time.UnixMilli(expiresAt)
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]Record, error) {
	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, errors.Wrapf(ErrTransient, "scan record: %v", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
