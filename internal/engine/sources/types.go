package sources

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/engine/cookies"
	"github.com/anatolykoptev/go_transcript/internal/engine/media"
	"github.com/anatolykoptev/go_transcript/internal/engine/transcribe"
)

// Source names the strategy that produced a transcript.
type Source string

const (
	SourceYoutubei          Source = "youtubei"
	SourceCaptionTracks     Source = "captionTracks"
	SourceApify             Source = "apify"
	SourceYtDlp             Source = "yt-dlp"
	SourcePodcastTranscript Source = "podcastTranscript"
	SourceWhisper           Source = "whisper"
	SourceEmbedded          Source = "embedded"
	SourceHTML              Source = "html"
	SourceTweet             Source = "tweet"
)

// Reason codes for configuration gaps.
const (
	ReasonMissingTranscriptionCredentials = "missing_transcription_credentials"
	ReasonMissingYtDlp                    = "missing_ytdlp"
	ReasonMissingApifyToken               = "missing_apify_token"
)

// YouTubeMode selects which video-site strategies run.
type YouTubeMode string

const (
	ModeAuto   YouTubeMode = "auto"
	ModeWeb    YouTubeMode = "web"
	ModeApify  YouTubeMode = "apify"
	ModeYtDlp  YouTubeMode = "yt-dlp"
	ModeNoAuto YouTubeMode = "no-auto"
)

// ParseYouTubeMode accepts the mode names; empty means auto.
func ParseYouTubeMode(s string) (YouTubeMode, error) {
	switch m := YouTubeMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAuto, nil
	case ModeAuto, ModeWeb, ModeApify, ModeYtDlp, ModeNoAuto:
		return m, nil
	default:
		return "", fmt.Errorf("unknown youtube mode %q (want auto, web, apify, yt-dlp or no-auto)", s)
	}
}

// ErrExplicitMode marks an explicitly requested strategy whose prerequisites
// are missing.
var ErrExplicitMode = errors.New("explicit mode prerequisites not met")

// ModeError reports an explicit-mode violation. It matches ErrExplicitMode.
type ModeError struct {
	Mode   YouTubeMode
	Reason string
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("youtube mode %s: %s", e.Mode, e.Reason)
}

func (e *ModeError) Is(target error) bool { return target == ErrExplicitMode }

// ProviderContext is what a provider sees about the input.
type ProviderContext struct {
	URL         string
	HTML        string // empty = not fetched yet
	ResourceKey string
}

// CookieResolver yields a browser spec for tools that read cookies themselves.
type CookieResolver func(ctx context.Context) cookies.BrowserCookieSpec

// FetchOptions carries binaries, credentials and collaborators for providers.
type FetchOptions struct {
	YtDlpPath     string
	OpenAIKey     string
	DeepInfraKey  string
	ElevenLabsKey string
	ApifyToken    string
	FirecrawlKey  string

	YouTubeMode YouTubeMode
	Timestamps  bool
	Languages   []string

	CookieResolver CookieResolver
	HTTP           engine.Doer
	Progress       engine.ProgressSink
	Capabilities   media.Capabilities
	Run            engine.CommandRunner
	Media          *media.Engine // nil = built from the fields above
}

// OptionsFromConfig fills credentials, binaries and mode from engine.Cfg.
func OptionsFromConfig() FetchOptions {
	c := engine.Cfg
	mode, err := ParseYouTubeMode(c.YouTubeMode)
	if err != nil {
		mode = ModeAuto
	}
	return FetchOptions{
		YtDlpPath:     c.YtDlpPath,
		OpenAIKey:     c.OpenAIAPIKey,
		DeepInfraKey:  c.DeepInfraAPIKey,
		ElevenLabsKey: c.ElevenLabsAPIKey,
		ApifyToken:    c.ApifyToken,
		FirecrawlKey:  c.FirecrawlAPIKey,
		YouTubeMode:   mode,
		Languages:     c.TranscriptLangs,
	}
}

func (o FetchOptions) doer() engine.Doer { return engine.DoerOrDefault(o.HTTP) }

func (o FetchOptions) run() engine.CommandRunner {
	if o.Run == nil {
		return engine.RunCommand
	}
	return o.Run
}

func (o FetchOptions) languages() []string {
	if len(o.Languages) > 0 {
		return o.Languages
	}
	if len(engine.Cfg.TranscriptLangs) > 0 {
		return engine.Cfg.TranscriptLangs
	}
	return []string{"en"}
}

func (o FetchOptions) capabilities() media.Capabilities {
	if o.Capabilities == nil {
		return media.DefaultCapabilities
	}
	return o.Capabilities
}

// mediaEngine returns the injected engine or one whose backend chain is built
// from the option credentials.
func (o FetchOptions) mediaEngine() *media.Engine {
	if o.Media != nil {
		return o.Media
	}
	caps := o.capabilities()
	keys := transcribe.Keys{OpenAI: o.OpenAIKey, DeepInfra: o.DeepInfraKey, ElevenLabs: o.ElevenLabsKey}
	return &media.Engine{
		HTTP:     o.HTTP,
		Caps:     caps,
		Backends: transcribe.Build(keys, caps.LocalWhisperReady()),
		Run:      o.run(),
	}
}

// Transcript is text plus the strategy that produced it.
type Transcript struct {
	Text   string
	Source Source
}

// ProviderResult is what a provider returns. Attempted is append-only in call
// order. Notes are informational.
type ProviderResult struct {
	Transcript *Transcript
	Attempted  []Source
	Metadata   map[string]any
	Notes      []string
	Reason     string
}

func newResult() *ProviderResult {
	return &ProviderResult{Metadata: map[string]any{}}
}

func (r *ProviderResult) attempt(s Source) { r.Attempted = append(r.Attempted, s) }

func (r *ProviderResult) note(format string, args ...any) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

func (r *ProviderResult) found(text string, s Source) *ProviderResult {
	r.Transcript = &Transcript{Text: text, Source: s}
	return r
}

// NotesString renders notes semicolon-joined.
func (r *ProviderResult) NotesString() string {
	return strings.Join(r.Notes, "; ")
}

// Provider is one platform-specific transcript strategy set.
type Provider interface {
	Name() string
	CanHandle(pc ProviderContext) bool
	FetchTranscript(ctx context.Context, pc ProviderContext, opts FetchOptions) (*ProviderResult, error)
}
