// Package transcribe turns audio into text through hosted speech-to-text APIs
// (OpenAI-compatible Whisper, DeepInfra, ElevenLabs) or a local whisper.cpp binary.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
)

// ErrNoTranscriptionBackend means no backend is configured or ready.
var ErrNoTranscriptionBackend = errors.New("no transcription backend available")

// maxResponseBytes caps any backend's JSON or text reply.
const maxResponseBytes = 8 * 1024 * 1024

// Audio is one blob to transcribe, held in memory or on disk.
type Audio struct {
	Name      string // filename hint, e.g. "episode.mp3"
	MediaType string
	Data      []byte // used when Path is empty
	Path      string
}

func (a Audio) filename() string {
	if a.Name != "" {
		return filepath.Base(a.Name)
	}
	if a.Path != "" {
		return filepath.Base(a.Path)
	}
	return "audio.mp3"
}

func (a Audio) open() (io.ReadCloser, error) {
	if a.Path != "" {
		return os.Open(a.Path)
	}
	return io.NopCloser(bytes.NewReader(a.Data)), nil
}

// Options are per-request hints.
type Options struct {
	Language string // ISO-639-1; empty = auto-detect
	Prompt   string
}

// Response is the common result of any backend.
type Response struct {
	Text     string
	Language string
}

// Backend is a speech-to-text implementation.
type Backend interface {
	Name() string
	Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, error)
}

// Chain tries backends in order and returns the first non-empty transcript.
type Chain []Backend

// Names lists backend names, used as the provider hint in progress events.
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, b := range c {
		names[i] = b.Name()
	}
	return names
}

// Hint is the name of the backend expected to serve the request.
func (c Chain) Hint() string {
	if len(c) == 0 {
		return ""
	}
	return c[0].Name()
}

// Transcribe falls back through the chain on failure or empty output.
// It returns the backend name that produced the text.
func (c Chain) Transcribe(ctx context.Context, audio Audio, opts Options) (*Response, string, error) {
	if len(c) == 0 {
		return nil, "", ErrNoTranscriptionBackend
	}
	var errs []error
	for _, b := range c {
		engine.IncrTranscriptionCall()
		resp, err := b.Transcribe(ctx, audio, opts)
		if err == nil && resp != nil && strings.TrimSpace(resp.Text) != "" {
			return resp, b.Name(), nil
		}
		if err == nil {
			err = errors.New("empty transcript")
		}
		engine.IncrTranscriptionError()
		slog.Warn("transcription backend failed, trying next",
			slog.String("backend", b.Name()), slog.Any("error", err))
		errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", errors.Join(errs...)
}

// Keys are hosted backend credentials.
type Keys struct {
	OpenAI     string
	DeepInfra  string
	ElevenLabs string
}

// Build returns the backend chain: the local whisper.cpp binary first when
// localReady, then hosted backends that have credentials in the order OpenAI,
// DeepInfra, ElevenLabs. Models and endpoints come from engine.Cfg. The result
// is never nil.
func Build(keys Keys, localReady bool) Chain {
	c := engine.Cfg
	chain := Chain{}
	if localReady && c.WhisperCppBin != "" && c.WhisperCppModel != "" {
		chain = append(chain, &WhisperCpp{Bin: c.WhisperCppBin, Model: c.WhisperCppModel, FFmpeg: c.FFmpegPath})
	}
	if keys.OpenAI != "" {
		chain = append(chain, NewOpenAI(keys.OpenAI, c.OpenAIBaseURL, c.OpenAIModel))
	}
	if keys.DeepInfra != "" {
		chain = append(chain, NewDeepInfra(keys.DeepInfra, c.DeepInfraModel))
	}
	if keys.ElevenLabs != "" {
		chain = append(chain, NewElevenLabs(keys.ElevenLabs, c.ElevenLabsModel))
	}
	return chain
}

// ConfigKeys returns the credentials configured in engine.Cfg.
func ConfigKeys() Keys {
	c := engine.Cfg
	return Keys{OpenAI: c.OpenAIAPIKey, DeepInfra: c.DeepInfraAPIKey, ElevenLabs: c.ElevenLabsAPIKey}
}

// FromConfig builds the chain from engine.Cfg credentials.
func FromConfig(localReady bool) Chain {
	return Build(ConfigKeys(), localReady)
}

// HasHostedCredentials reports whether any hosted backend is configured.
func HasHostedCredentials() bool {
	c := engine.Cfg
	return c.OpenAIAPIKey != "" || c.DeepInfraAPIKey != "" || c.ElevenLabsAPIKey != ""
}

// multipartBody writes the audio under fileField plus the given form fields.
func multipartBody(audio Audio, fileField string, fields [][2]string) (*bytes.Buffer, string, error) {
	src, err := audio.open()
	if err != nil {
		return nil, "", fmt.Errorf("open audio: %w", err)
	}
	defer src.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(fileField, audio.filename())
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, src); err != nil {
		return nil, "", fmt.Errorf("copy audio data: %w", err)
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, engine.Cfg.TranscribeTimeout)
}
