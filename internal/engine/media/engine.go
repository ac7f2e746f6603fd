package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/engine/transcribe"
)

// Size limits.
const (
	MaxMediaBytes  = 512 * 1024 * 1024 // refuse anything larger
	MaxUploadBytes = 24 * 1024 * 1024  // largest blob sent to a backend in one request
)

// ErrMediaTooLarge is returned before any body byte is read when the probed
// size exceeds MaxMediaBytes, or when a streamed download crosses it.
var ErrMediaTooLarge = errors.New("media too large")

// Engine downloads and transcribes media.
type Engine struct {
	HTTP     engine.Doer
	Caps     Capabilities
	Backends transcribe.Chain // nil = built from engine.Cfg
	Run      engine.CommandRunner
}

// Request is one transcription job.
type Request struct {
	URL      string // http(s) URL, file:// URL or local path
	Label    string // URL reported in progress events; empty = URL
	Service  string // progress label, e.g. "podcast"
	Language string
	Progress engine.ProgressSink
}

func (r Request) label() string {
	if r.Label != "" {
		return r.Label
	}
	return r.URL
}

// Result is the text plus how it was obtained.
type Result struct {
	Text            string
	Backend         string
	Partial         bool
	Parts           int
	DurationSeconds float64
	Info            Info
	Notes           []string
}

func (e *Engine) caps() Capabilities {
	if e.Caps == nil {
		return DefaultCapabilities
	}
	return e.Caps
}

func (e *Engine) run() engine.CommandRunner {
	if e.Run == nil {
		return engine.RunCommand
	}
	return e.Run
}

func (e *Engine) chain() transcribe.Chain {
	if e.Backends != nil {
		return e.Backends
	}
	return transcribe.FromConfig(e.caps().LocalWhisperReady())
}

// Available reports whether any backend could serve a request.
func (e *Engine) Available() bool {
	return len(e.chain()) > 0
}

// Hint names the backend expected to serve the next request.
func (e *Engine) Hint() string { return e.chain().Hint() }

func (e *Engine) binaries() (ffmpeg, ffprobe string) {
	if p, ok := e.caps().(interface {
		FFmpegPath() string
		FFprobePath() string
	}); ok {
		return p.FFmpegPath(), p.FFprobePath()
	}
	ffmpeg, ffprobe = engine.Cfg.FFmpegPath, engine.Cfg.FFprobePath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return ffmpeg, ffprobe
}

// Transcribe picks a strategy from the probed size and local capabilities:
// without ffmpeg only the first MaxUploadBytes are transcribed; inputs that
// fit MaxUploadBytes go in one request; larger inputs are split into
// SegmentSeconds chunks.
func (e *Engine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	chain := e.chain()
	if len(chain) == 0 {
		return nil, transcribe.ErrNoTranscriptionBackend
	}

	info, err := Probe(ctx, e.HTTP, req.URL)
	if err != nil {
		return nil, err
	}
	if info.Size > MaxMediaBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrMediaTooLarge, info.Size, MaxMediaBytes)
	}

	res := &Result{Info: info}
	switch {
	case !e.caps().FFmpegAvailable():
		audio, truncated, err := e.fetchBlob(ctx, req, info, true)
		if err != nil {
			return nil, err
		}
		if truncated {
			res.Partial = true
			res.Notes = append(res.Notes, fmt.Sprintf("partial transcript: ffmpeg unavailable, only the first %d MiB were transcribed", MaxUploadBytes>>20))
		}
		err = e.single(ctx, chain, audio, req, res)
		return res, err

	case info.Size >= 0 && info.Size <= MaxUploadBytes:
		audio, truncated, err := e.fetchBlob(ctx, req, info, false)
		if err != nil {
			return nil, err
		}
		if truncated {
			res.Partial = true
			res.Notes = append(res.Notes, "partial transcript: body exceeded advertised size")
		}
		err = e.single(ctx, chain, audio, req, res)
		return res, err

	default:
		return res, e.chunked(ctx, chain, req, res)
	}
}

// fetchBlob returns at most MaxUploadBytes of the input.
func (e *Engine) fetchBlob(ctx context.Context, req Request, info Info, ranged bool) (transcribe.Audio, bool, error) {
	audio := transcribe.Audio{Name: info.Filename, MediaType: info.MediaType}
	if info.Local() {
		if info.Size <= MaxUploadBytes {
			audio.Path = info.LocalPath
			return audio, false, nil
		}
		data, truncated, err := readLocalPrefix(info.LocalPath, MaxUploadBytes)
		if err != nil {
			return audio, false, fmt.Errorf("read media: %w", err)
		}
		audio.Data = data
		return audio, truncated, nil
	}

	buf := &cappedBuffer{}
	n, truncated, err := e.downloadWithEvents(ctx, req, info, buf, MaxUploadBytes, ranged)
	if err != nil {
		return audio, false, err
	}
	audio.Data = buf.b[:n]
	return audio, truncated, nil
}

func (e *Engine) downloadWithEvents(ctx context.Context, req Request, info Info, w io.Writer, limit int64, ranged bool) (int64, bool, error) {
	total := info.Size
	if total < 0 {
		total = 0
	}
	req.Progress.Emit(engine.MediaDownloadStart{URL: req.label(), Service: req.Service, TotalBytes: total})
	n, truncated, err := download(ctx, e.HTTP, req.URL, w, limit, ranged, func(done int64) {
		req.Progress.Emit(engine.MediaDownloadProgress{URL: req.label(), Service: req.Service, DownloadedBytes: done, TotalBytes: total})
	})
	req.Progress.Emit(engine.MediaDownloadDone{URL: req.label(), Service: req.Service, DownloadedBytes: n, TotalBytes: total})
	return n, truncated, err
}

func (e *Engine) single(ctx context.Context, chain transcribe.Chain, audio transcribe.Audio, req Request, res *Result) error {
	req.Progress.Emit(engine.WhisperStart{URL: req.label(), Service: req.Service, ProviderHint: chain.Hint(), Parts: 1})
	resp, backend, err := chain.Transcribe(ctx, audio, transcribe.Options{Language: req.Language})
	req.Progress.Emit(engine.WhisperDone{URL: req.label(), Service: req.Service, ProviderHint: backend, OK: err == nil})
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	res.Text = strings.TrimSpace(resp.Text)
	res.Backend = backend
	res.Parts = 1
	return nil
}

func (e *Engine) chunked(ctx context.Context, chain transcribe.Chain, req Request, res *Result) error {
	tmpDir, err := os.MkdirTemp("", "go-transcript-media-*")
	if err != nil {
		return fmt.Errorf("temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	src := res.Info.LocalPath
	if src == "" {
		src = filepath.Join(tmpDir, "source"+filepath.Ext(res.Info.Filename))
		f, err := os.OpenFile(src, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("create temp media: %w", err)
		}
		n, truncated, err := e.downloadWithEvents(ctx, req, res.Info, f, MaxMediaBytes, false)
		closeErr := f.Close()
		if err != nil {
			return err
		}
		if truncated {
			return fmt.Errorf("%w: stream exceeded %d bytes", ErrMediaTooLarge, MaxMediaBytes)
		}
		if closeErr != nil {
			return fmt.Errorf("write temp media: %w", closeErr)
		}
		if n <= MaxUploadBytes {
			return e.single(ctx, chain, transcribe.Audio{Name: res.Info.Filename, MediaType: res.Info.MediaType, Path: src}, req, res)
		}
	}

	ffmpeg, ffprobe := e.binaries()
	run := e.run()
	duration, err := probeDuration(ctx, run, ffprobe, src)
	if err != nil {
		slog.Warn("media: duration unknown", slog.String("url", req.URL), slog.Any("error", err))
	}
	parts, err := splitAudio(ctx, run, ffmpeg, src, tmpDir, engine.Cfg.TranscribeTimeout)
	if err != nil {
		return err
	}
	if duration <= 0 {
		duration = float64(len(parts) * SegmentSeconds)
	}
	res.DurationSeconds = duration
	res.Parts = len(parts)
	engine.IncrChunkedTranscript()

	req.Progress.Emit(engine.WhisperStart{URL: req.label(), Service: req.Service, ProviderHint: chain.Hint(),
		TotalDurationSeconds: duration, Parts: len(parts)})

	texts := make([]string, 0, len(parts))
	for i, part := range parts {
		resp, backend, err := chain.Transcribe(ctx, transcribe.Audio{Path: part}, transcribe.Options{Language: req.Language})
		if err != nil {
			req.Progress.Emit(engine.WhisperDone{URL: req.label(), Service: req.Service, ProviderHint: backend, OK: false})
			return fmt.Errorf("transcribe part %d/%d: %w", i+1, len(parts), err)
		}
		res.Backend = backend
		texts = append(texts, strings.TrimSpace(resp.Text))
		processed := min(float64((i+1)*SegmentSeconds), duration)
		req.Progress.Emit(engine.WhisperProgress{URL: req.label(), Service: req.Service,
			ProcessedDurationSeconds: processed, TotalDurationSeconds: duration,
			PartIndex: i + 1, Parts: len(parts)})
	}
	req.Progress.Emit(engine.WhisperDone{URL: req.label(), Service: req.Service, ProviderHint: res.Backend, OK: true})
	res.Text = strings.Join(texts, "\n\n")
	return nil
}
