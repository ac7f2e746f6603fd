package transcript

import (
	"context"
	"log/slog"
	"time"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/store"
)

// DefaultTTL is how long a cached transcript counts as fresh.
const DefaultTTL = 7 * 24 * time.Hour

// Status is the outcome of a cache lookup.
type Status int

const (
	Miss Status = iota
	Hit
	Expired
)

func (s Status) String() string {
	switch s {
	case Hit:
		return "hit"
	case Expired:
		return "expired"
	default:
		return "miss"
	}
}

// Entry is a cached transcript. Expired entries are never returned as hits.
type Entry struct {
	Content  string
	Source   string
	Expired  bool
	Metadata map[string]any
	StoredAt time.Time
}

// Cache decides hit, miss and expiry on top of a store.
type Cache struct {
	Store store.Store
	TTL   time.Duration
	Now   func() time.Time
}

// NewCache wraps s; ttl <= 0 uses DefaultTTL.
func NewCache(s store.Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{Store: s, TTL: ttl, Now: time.Now}
}

func (c *Cache) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Get looks key up. A store failure counts as a miss.
func (c *Cache) Get(ctx context.Context, key string) (Entry, Status) {
	rec, ok, err := c.Store.Get(ctx, key)
	if err != nil {
		slog.Warn("transcript cache read failed", slog.String("key", key), slog.Any("error", err))
	}
	if err != nil || !ok {
		engine.IncrCacheMiss()
		return Entry{}, Miss
	}
	e := Entry{Content: rec.Content, Source: rec.Source, Metadata: rec.Metadata, StoredAt: rec.StoredAt}
	if c.now().Sub(rec.StoredAt) > c.TTL {
		e.Expired = true
		engine.IncrCacheExpired()
		slog.Debug("transcript cache expired", slog.String("key", key), slog.Time("stored_at", rec.StoredAt))
		return e, Expired
	}
	engine.IncrCacheHit()
	slog.Debug("transcript cache hit", slog.String("key", key))
	return e, Hit
}

// Set writes a fresh entry.
func (c *Cache) Set(ctx context.Context, key string, content, source string, metadata map[string]any) error {
	return c.Store.Set(ctx, key, store.Record{
		Content:  content,
		Source:   source,
		Metadata: metadata,
		StoredAt: c.now(),
	})
}
