package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tiered is an L1 in-memory map with an optional Redis L2.
// L1 is lost on restart; L2 survives it.
type Tiered struct {
	l1         sync.Map      // key → *entry
	rdb        *redis.Client // nil if Redis unavailable
	retention  time.Duration
	maxEntries int
	stop       chan struct{}
	closeOnce  sync.Once
}

type entry struct {
	data      []byte
	expiresAt time.Time
}

// NewTiered sets up the store and starts its L1 cleanup loop.
// redisURL can be empty to disable L2.
func NewTiered(redisURL string, retention time.Duration, maxEntries int, cleanupInterval time.Duration) *Tiered {
	t := &Tiered{retention: retention, maxEntries: maxEntries, stop: make(chan struct{})}

	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Warn("store: invalid redis URL, L2 disabled", slog.Any("error", err))
		} else {
			rdb := redis.NewClient(opts)
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := rdb.Ping(ctx).Err(); err != nil {
				slog.Warn("store: redis unreachable, L2 disabled", slog.Any("error", err))
				rdb.Close()
			} else {
				t.rdb = rdb
				slog.Info("store: L2 redis connected", slog.String("addr", opts.Addr))
			}
		}
	}

	slog.Info("store: memory initialized", slog.Duration("retention", retention),
		slog.Bool("redis", t.rdb != nil), slog.Int("max_entries", maxEntries))
	go t.cleanupLoop(cleanupInterval)
	return t
}

// Get tries L1, then L2. On L2 hit, populates L1.
func (t *Tiered) Get(ctx context.Context, key string) (Record, bool, error) {
	if val, ok := t.l1.Load(key); ok {
		e := val.(*entry)
		if time.Now().Before(e.expiresAt) {
			var rec Record
			if json.Unmarshal(e.data, &rec) == nil {
				slog.Debug("store: L1 hit", slog.String("key", key))
				return rec, true, nil
			}
		}
		t.l1.Delete(key) // expired or corrupt
	}

	if t.rdb != nil {
		data, err := t.rdb.Get(ctx, key).Bytes()
		if err == nil {
			var rec Record
			if json.Unmarshal(data, &rec) == nil {
				slog.Debug("store: L2 hit", slog.String("key", key))
				t.l1.Store(key, &entry{data: data, expiresAt: time.Now().Add(t.retention)})
				return rec, true, nil
			}
		} else if err != redis.Nil {
			slog.Debug("store: L2 get failed", slog.Any("error", err))
		}
	}
	return Record{}, false, nil
}

// Set stores rec in both tiers.
func (t *Tiered) Set(ctx context.Context, key string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	t.evictIfNeeded()
	t.l1.Store(key, &entry{data: data, expiresAt: time.Now().Add(t.retention)})

	if t.rdb != nil {
		if err := t.rdb.Set(ctx, key, data, t.retention).Err(); err != nil {
			slog.Debug("store: L2 set failed", slog.Any("error", err))
		}
	}
	return nil
}

// Close stops the cleanup loop and the Redis client.
func (t *Tiered) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		if t.rdb != nil {
			err = t.rdb.Close()
		}
	})
	return err
}

// Len counts L1 entries.
func (t *Tiered) Len() int {
	n := 0
	t.l1.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// evictIfNeeded removes entries when L1 exceeds maxEntries.
// Removes expired entries first, then oldest entries if still over limit.
func (t *Tiered) evictIfNeeded() {
	if t.maxEntries <= 0 {
		return
	}
	count := t.Len()
	if count < t.maxEntries {
		return
	}

	now := time.Now()
	t.l1.Range(func(key, val any) bool {
		if e, ok := val.(*entry); ok && now.After(e.expiresAt) {
			t.l1.Delete(key)
			count--
		}
		return count >= t.maxEntries
	})

	for count >= t.maxEntries {
		var oldestKey any
		oldestAt := now.Add(t.retention + time.Hour)
		t.l1.Range(func(key, val any) bool {
			// Earlier expiry = older entry (expiry = stored + retention)
			if e, ok := val.(*entry); ok && e.expiresAt.Before(oldestAt) {
				oldestKey = key
				oldestAt = e.expiresAt
			}
			return true
		})
		if oldestKey == nil {
			break
		}
		t.l1.Delete(oldestKey)
		count--
	}
}

// cleanupLoop periodically removes expired L1 entries.
func (t *Tiered) cleanupLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			now := time.Now()
			t.l1.Range(func(key, val any) bool {
				if e, ok := val.(*entry); ok && now.After(e.expiresAt) {
					t.l1.Delete(key)
				}
				return true
			})
		}
	}
}
