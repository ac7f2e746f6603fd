package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transcript_cache (
	key       TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	source    TEXT NOT NULL,
	metadata  TEXT NOT NULL DEFAULT '{}',
	stored_at INTEGER NOT NULL
)`

// SQLite keeps records in a single-file database.
type SQLite struct {
	conn *sql.DB
}

// OpenSQLite opens (and creates) the database at path and initializes the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite store: empty path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLite{conn: conn}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		rec      Record
		metadata string
		storedAt int64
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT content, source, metadata, stored_at FROM transcript_cache WHERE key = ?`, key,
	).Scan(&rec.Content, &rec.Source, &metadata, &storedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("sqlite get: %w", err)
	}
	rec.Metadata = decodeMetadata(metadata)
	rec.StoredAt = time.Unix(0, storedAt)
	return rec, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, rec Record) error {
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO transcript_cache (key, content, source, metadata, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			content = excluded.content,
			source = excluded.source,
			metadata = excluded.metadata,
			stored_at = excluded.stored_at`,
		key, rec.Content, rec.Source, metadata, rec.StoredAt.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

// Prune deletes records stored before cutoff.
func (s *SQLite) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM transcript_cache WHERE stored_at < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLite) Close() error {
	return s.conn.Close()
}
