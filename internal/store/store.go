// Package store holds the key/value backends behind the transcript cache.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Record is one cached transcript. StoredAt decides staleness.
type Record struct {
	Content  string         `json:"content"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
	StoredAt time.Time      `json:"stored_at"`
}

// Store is the get/set contract the transcript cache consumes.
type Store interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Set(ctx context.Context, key string, rec Record) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and sizes a backend.
type Config struct {
	Backend     string
	Path        string // sqlite file
	RedisURL    string // optional L2 for memory
	DatabaseURL string // postgres DSN
	MaxEntries  int
	Retention   time.Duration // how long records are kept, stale ones included
}

// DefaultRetention keeps records well past the transcript TTL so a stale
// entry can still be served when every provider fails.
const DefaultRetention = 30 * 24 * time.Hour

// Open builds the configured backend.
func Open(ctx context.Context, c Config) (Store, error) {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	switch strings.ToLower(strings.TrimSpace(c.Backend)) {
	case "", BackendMemory:
		return NewTiered(c.RedisURL, c.Retention, c.MaxEntries, 0), nil
	case BackendSQLite:
		return OpenSQLite(ctx, c.Path)
	case BackendPostgres:
		return OpenPostgres(ctx, c.DatabaseURL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", c.Backend)
	}
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(data), nil
}

func decodeMetadata(s string) map[string]any {
	var m map[string]any
	if s == "" || json.Unmarshal([]byte(s), &m) != nil || len(m) == 0 {
		return nil
	}
	return m
}
