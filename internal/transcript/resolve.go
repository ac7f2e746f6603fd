// Package transcript is the entry point: cache lookup, page fetch, provider
// dispatch, normalization and write-back.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/engine/media"
	"github.com/anatolykoptev/go_transcript/internal/engine/pagefetch"
	"github.com/anatolykoptev/go_transcript/internal/engine/sources"
)

// Request is one transcript resolution.
type Request struct {
	URL         string
	Timestamps  bool
	YouTubeMode sources.YouTubeMode // empty = configured default
	NoCache     bool                // skip the lookup, still write back
	Progress    engine.ProgressSink
}

// Result is what a caller gets back. Text is empty when nothing was found;
// Reason then names a configuration gap when one is known.
type Result struct {
	URL       string
	Text      string
	Source    string
	Title     string
	Cached    bool
	Stale     bool
	Attempted []sources.Source
	Metadata  map[string]any
	Notes     []string
	Reason    string
}

// Found reports whether a transcript was resolved.
func (r *Result) Found() bool { return r.Text != "" }

// Resolver wires the cache, the page fetcher and the dispatcher.
type Resolver struct {
	Dispatcher *sources.Dispatcher
	Cache      *Cache               // nil = no caching
	Pages      *pagefetch.Fetcher   // nil = providers fetch pages themselves
	Options    sources.FetchOptions // base options; per-request fields are overlaid
}

// NewResolver builds a resolver from engine.Cfg.
func NewResolver(cache *Cache) *Resolver {
	return &Resolver{
		Dispatcher: sources.NewDispatcher(),
		Cache:      cache,
		Pages:      pagefetch.New(nil),
		Options:    sources.OptionsFromConfig(),
	}
}

// Resolve returns a transcript for req.URL. Strategy failures never surface as
// errors; only explicit-mode violations, media over the size cap and context
// cancellation do.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Result, error) {
	engine.IncrTranscriptRequests()
	start := time.Now()

	opts := r.Options
	opts.Timestamps = req.Timestamps
	opts.Progress = req.Progress
	if req.YouTubeMode != "" {
		opts.YouTubeMode = req.YouTubeMode
	}
	if opts.YouTubeMode == "" {
		opts.YouTubeMode = sources.ModeAuto
	}

	key := Key(req.URL, KeyOptions{Timestamps: opts.Timestamps, YouTubeMode: string(opts.YouTubeMode)}, FileMtime(req.URL))
	var stale *Entry
	if r.Cache != nil && !req.NoCache {
		entry, status := r.Cache.Get(ctx, key)
		switch status {
		case Hit:
			return fromEntry(req.URL, entry), nil
		case Expired:
			stale = &entry
		}
	}

	pc := sources.ProviderContext{URL: req.URL, ResourceKey: sources.VideoID(req.URL)}
	var notes []string
	var title string
	if r.needsPage(req.URL) {
		pages := *r.Pages
		pages.Progress = req.Progress
		page, err := pages.Fetch(ctx, req.URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("page fetch failed", slog.String("url", req.URL), slog.Any("error", err))
			notes = append(notes, "page fetch failed: "+firstLine(err.Error()))
		} else {
			pc.HTML = page.HTML
			title = page.Title
		}
	}

	res, err := r.Dispatcher.Dispatch(ctx, pc, opts)
	out := &Result{URL: req.URL, Title: title, Metadata: map[string]any{}}
	if res != nil {
		out.Attempted = res.Attempted
		out.Metadata = res.Metadata
		out.Notes = append(notes, res.Notes...)
		out.Reason = res.Reason
	}
	if t, ok := out.Metadata["title"].(string); ok && t != "" {
		out.Title = t
	}
	if err != nil {
		return out, fmt.Errorf("resolve %s: %w", req.URL, err)
	}

	if res != nil && res.Transcript != nil {
		out.Text = engine.NormalizeText(res.Transcript.Text)
		out.Source = string(res.Transcript.Source)
	}
	if out.Text == "" {
		if stale != nil {
			slog.Info("serving stale transcript", slog.String("url", req.URL), slog.Time("stored_at", stale.StoredAt))
			s := fromEntry(req.URL, *stale)
			s.Attempted = out.Attempted
			s.Notes = append(out.Notes, "stale cache: no provider produced a transcript")
			s.Reason = out.Reason
			return s, nil
		}
		slog.Info("no transcript", slog.String("url", req.URL), slog.String("reason", out.Reason),
			slog.Duration("elapsed", time.Since(start)))
		return out, nil
	}

	if out.Title != "" {
		out.Metadata["title"] = out.Title
	}
	if r.Cache != nil {
		if err := r.Cache.Set(ctx, key, out.Text, out.Source, out.Metadata); err != nil {
			slog.Warn("transcript cache write failed", slog.String("url", req.URL), slog.Any("error", err))
		}
	}
	slog.Info("transcript ready", slog.String("url", req.URL), slog.String("source", out.Source),
		slog.Int("chars", len(out.Text)), slog.Duration("elapsed", time.Since(start)))
	return out, nil
}

// needsPage reports whether providers should see the page HTML up front.
// Video ids, local files and direct media links are handled without it.
func (r *Resolver) needsPage(rawURL string) bool {
	if r.Pages == nil || sources.VideoID(rawURL) != "" || sources.IsMediaURL(rawURL) {
		return false
	}
	if _, local := media.LocalPath(rawURL); local {
		return false
	}
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}

func fromEntry(rawURL string, e Entry) *Result {
	r := &Result{
		URL:      rawURL,
		Text:     e.Content,
		Source:   e.Source,
		Cached:   true,
		Stale:    e.Expired,
		Metadata: e.Metadata,
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	if t, ok := r.Metadata["title"].(string); ok {
		r.Title = t
	}
	return r
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
