package media

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// SegmentSeconds is the length of each chunk handed to a backend.
const SegmentSeconds = 600

// probeDuration asks ffprobe for the container duration in seconds.
func probeDuration(ctx context.Context, run engine.CommandRunner, ffprobe, path string) (float64, error) {
	out, err := run(ctx, engine.Cfg.CommandTimeout, ffprobe,
		"-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil || secs <= 0 {
		return 0, fmt.Errorf("ffprobe: unparsable duration %q", strings.TrimSpace(string(out)))
	}
	return secs, nil
}

// splitAudio re-encodes path into mono 16 kHz mp3 segments of SegmentSeconds
// each under dir and returns them in playback order.
func splitAudio(ctx context.Context, run engine.CommandRunner, ffmpeg, path, dir string, timeout time.Duration) ([]string, error) {
	pattern := filepath.Join(dir, "part-%03d.mp3")
	_, err := run(ctx, timeout, ffmpeg,
		"-nostdin", "-y", "-i", path,
		"-vn", "-ac", "1", "-ar", "16000", "-c:a", "libmp3lame", "-b:a", "64k",
		"-f", "segment", "-segment_time", strconv.Itoa(SegmentSeconds), "-reset_timestamps", "1",
		pattern)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg segment: %w", err)
	}
	parts, err := filepath.Glob(filepath.Join(dir, "part-*.mp3"))
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("ffmpeg segment: no output")
	}
	sort.Strings(parts)
	return parts, nil
}
