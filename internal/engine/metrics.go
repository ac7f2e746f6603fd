package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	TranscriptRequests  atomic.Int64
	TranscriptFailures  atomic.Int64
	HTMLFetches         atomic.Int64
	HTMLFetchErrors     atomic.Int64
	YouTubeAttempts     atomic.Int64
	PodcastAttempts     atomic.Int64
	GenericAttempts     atomic.Int64
	MediaDownloadBytes  atomic.Int64
	TranscriptionCalls  atomic.Int64
	TranscriptionErrors atomic.Int64
	ChunkedTranscripts  atomic.Int64
	CookieReads         atomic.Int64
	CookieDecryptErrors atomic.Int64
	CacheHits           atomic.Int64
	CacheMisses         atomic.Int64
	CacheExpired        atomic.Int64
}

// GetMetrics returns a snapshot of all metrics.
func GetMetrics() map[string]int64 {
	return map[string]int64{
		"transcript_requests":   metrics.TranscriptRequests.Load(),
		"transcript_failures":   metrics.TranscriptFailures.Load(),
		"html_fetches":          metrics.HTMLFetches.Load(),
		"html_fetch_errors":     metrics.HTMLFetchErrors.Load(),
		"youtube_attempts":      metrics.YouTubeAttempts.Load(),
		"podcast_attempts":      metrics.PodcastAttempts.Load(),
		"generic_attempts":      metrics.GenericAttempts.Load(),
		"media_download_bytes":  metrics.MediaDownloadBytes.Load(),
		"transcription_calls":   metrics.TranscriptionCalls.Load(),
		"transcription_errors":  metrics.TranscriptionErrors.Load(),
		"chunked_transcripts":   metrics.ChunkedTranscripts.Load(),
		"cookie_reads":          metrics.CookieReads.Load(),
		"cookie_decrypt_errors": metrics.CookieDecryptErrors.Load(),
		"cache_hits":            metrics.CacheHits.Load(),
		"cache_misses":          metrics.CacheMisses.Load(),
		"cache_expired":         metrics.CacheExpired.Load(),
	}
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	keys := []string{
		"transcript_requests", "transcript_failures",
		"html_fetches", "html_fetch_errors",
		"youtube_attempts", "podcast_attempts", "generic_attempts",
		"media_download_bytes", "transcription_calls", "transcription_errors", "chunked_transcripts",
		"cookie_reads", "cookie_decrypt_errors",
		"cache_hits", "cache_misses", "cache_expired",
	}
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for sub-packages.
func IncrTranscriptRequests()      { metrics.TranscriptRequests.Add(1) }
func IncrTranscriptFailures()      { metrics.TranscriptFailures.Add(1) }
func IncrHTMLFetch()               { metrics.HTMLFetches.Add(1) }
func IncrHTMLFetchError()          { metrics.HTMLFetchErrors.Add(1) }
func IncrYouTubeAttempt()          { metrics.YouTubeAttempts.Add(1) }
func IncrPodcastAttempt()          { metrics.PodcastAttempts.Add(1) }
func IncrGenericAttempt()          { metrics.GenericAttempts.Add(1) }
func AddMediaDownloadBytes(n int64) { metrics.MediaDownloadBytes.Add(n) }
func IncrTranscriptionCall()       { metrics.TranscriptionCalls.Add(1) }
func IncrTranscriptionError()      { metrics.TranscriptionErrors.Add(1) }
func IncrChunkedTranscript()       { metrics.ChunkedTranscripts.Add(1) }
func IncrCookieRead()              { metrics.CookieReads.Add(1) }
func IncrCookieDecryptError()      { metrics.CookieDecryptErrors.Add(1) }
func IncrCacheHit()                { metrics.CacheHits.Add(1) }
func IncrCacheMiss()               { metrics.CacheMisses.Add(1) }
func IncrCacheExpired()            { metrics.CacheExpired.Add(1) }

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > 30*time.Second {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
