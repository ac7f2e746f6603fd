package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS transcript_cache (
	key       TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	source    TEXT NOT NULL,
	metadata  JSONB NOT NULL DEFAULT '{}',
	stored_at TIMESTAMPTZ NOT NULL
)`

// Postgres keeps records in a shared database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, pings, and creates the cache table.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	if databaseURL == "" {
		return nil, errors.New("postgres store: empty DATABASE_URL")
	}
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	slog.Info("store: postgres connected", slog.String("url", maskDSN(databaseURL)))
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		rec      Record
		metadata string
	)
	err := p.pool.QueryRow(ctx,
		`SELECT content, source, metadata::text, stored_at FROM transcript_cache WHERE key = $1`, key,
	).Scan(&rec.Content, &rec.Source, &metadata, &rec.StoredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("postgres get: %w", err)
	}
	rec.Metadata = decodeMetadata(metadata)
	return rec, true, nil
}

func (p *Postgres) Set(ctx context.Context, key string, rec Record) error {
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO transcript_cache (key, content, source, metadata, stored_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		ON CONFLICT (key) DO UPDATE SET
			content = EXCLUDED.content,
			source = EXCLUDED.source,
			metadata = EXCLUDED.metadata,
			stored_at = EXCLUDED.stored_at`,
		key, rec.Content, rec.Source, metadata, rec.StoredAt)
	if err != nil {
		return fmt.Errorf("postgres set: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
