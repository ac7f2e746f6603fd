package engine

import (
	"net/http"
	"time"

	twitter "github.com/anatolykoptev/go-twitter"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	FetchTimeout      time.Duration
	CommandTimeout    time.Duration // default for sqlite3/keychain/ffprobe calls
	TranscribeTimeout time.Duration // per transcription request or subprocess
	MaxHTMLBytes      int64

	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string
	DeepInfraAPIKey  string
	DeepInfraModel   string
	ElevenLabsAPIKey string
	ElevenLabsModel  string

	ApifyToken      string
	ApifyActor      string
	FirecrawlAPIKey string
	NitterURL       string

	YtDlpPath       string // empty = yt-dlp strategy disabled
	FFmpegPath      string
	FFprobePath     string
	WhisperCppBin   string
	WhisperCppModel string
	SQLite3Path     string // empty = in-process sqlite driver for cookie databases

	YouTubeMode     string
	TranscriptLangs []string
	CookieSources   []string

	HTTPClient    *http.Client
	BrowserClient *BrowserClient  // nil = plain HTTP for page fetches
	TwitterClient *twitter.Client // nil = bird step disabled
}

var cfg = Config{
	FetchTimeout:      15 * time.Second,
	CommandTimeout:    20 * time.Second,
	TranscribeTimeout: 10 * time.Minute,
	MaxHTMLBytes:      6 * 1024 * 1024,
	HTTPClient:        http.DefaultClient,
}

// Cfg exposes the engine configuration for sub-packages.
// Always points to the current cfg value.
var Cfg = &cfg

// Init initializes the engine with the given configuration.
// Zero durations and limits keep their defaults.
func Init(c Config) {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = cfg.FetchTimeout
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = cfg.CommandTimeout
	}
	if c.TranscribeTimeout <= 0 {
		c.TranscribeTimeout = cfg.TranscribeTimeout
	}
	if c.MaxHTMLBytes <= 0 {
		c.MaxHTMLBytes = cfg.MaxHTMLBytes
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	cfg = c
	Cfg = &cfg
}
