// go_transcript is a transcript resolution MCP server.
//
// Exposes two MCP tools: transcript_fetch and twitter_cookies.
// Runs as HTTP MCP server or stdio transport.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/anatolykoptev/go-stealth/proxypool"
	twitter "github.com/anatolykoptev/go-twitter"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/engine/cookies"
	"github.com/anatolykoptev/go_transcript/internal/engine/media"
	"github.com/anatolykoptev/go_transcript/internal/engine/transcribe"
	"github.com/anatolykoptev/go_transcript/internal/store"
	"github.com/anatolykoptev/go_transcript/internal/transcript"
	"github.com/anatolykoptev/go_transcript/internal/transcriptserver"
)

var (
	version = "dev"
	mcpPort = env.Str("MCP_PORT", "8893")
)

func main() {
	initEngine()

	slog.Info("starting go_transcript",
		slog.String("port", mcpPort),
	)
	if !transcribe.HasHostedCredentials() && !media.DefaultCapabilities.LocalWhisperReady() {
		slog.Warn("no transcription backend configured, audio transcription disabled")
	}

	st, err := openStore()
	if err != nil {
		slog.Error("cache store init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer st.Close()

	cache := transcript.NewCache(st, env.Duration("CACHE_TTL", transcript.DefaultTTL))
	cookieResolver := cookies.NewResolver(engine.Cfg.CookieSources)
	resolver := transcript.NewResolver(cache)
	resolver.Options.CookieResolver = func(ctx context.Context) cookies.BrowserCookieSpec {
		return cookieResolver.ResolveBrowserSpec(ctx, nil)
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_transcript",
		Version: version,
	}, nil)

	transcriptserver.RegisterTools(server, transcriptserver.Deps{
		Resolver: resolver,
		Cookies:  cookieResolver,
	})
	slog.Info("tools registered", slog.Int("count", 2))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_transcript",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 900 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}
}

func initEngine() {
	c := engine.Config{
		FetchTimeout:      env.Duration("FETCH_TIMEOUT", 15*time.Second),
		CommandTimeout:    env.Duration("COMMAND_TIMEOUT", 20*time.Second),
		TranscribeTimeout: env.Duration("TRANSCRIBE_TIMEOUT", 10*time.Minute),
		MaxHTMLBytes:      int64(env.Int("MAX_HTML_BYTES", 6*1024*1024)),

		OpenAIAPIKey:     env.Str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    env.Str("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		OpenAIModel:      env.Str("OPENAI_TRANSCRIBE_MODEL", "whisper-1"),
		DeepInfraAPIKey:  env.Str("DEEPINFRA_API_KEY", ""),
		DeepInfraModel:   env.Str("DEEPINFRA_MODEL", "openai/whisper-large-v3-turbo"),
		ElevenLabsAPIKey: env.Str("ELEVENLABS_API_KEY", ""),
		ElevenLabsModel:  env.Str("ELEVENLABS_MODEL", "scribe_v1"),

		ApifyToken:      env.Str("APIFY_API_TOKEN", ""),
		ApifyActor:      env.Str("APIFY_YOUTUBE_ACTOR", ""),
		FirecrawlAPIKey: env.Str("FIRECRAWL_API_KEY", ""),
		NitterURL:       env.Str("NITTER_URL", ""),

		YtDlpPath:       env.Str("YT_DLP_PATH", ""),
		FFmpegPath:      env.Str("FFMPEG_PATH", ""),
		FFprobePath:     env.Str("FFPROBE_PATH", ""),
		WhisperCppBin:   env.Str("WHISPER_CPP_BIN", ""),
		WhisperCppModel: env.Str("WHISPER_CPP_MODEL", ""),
		SQLite3Path:     env.Str("SQLITE3_PATH", ""),

		YouTubeMode:     env.Str("YOUTUBE_MODE", "auto"),
		TranscriptLangs: env.List("TRANSCRIPT_LANGS", "en"),
		CookieSources:   env.List("COOKIE_SOURCES", ""),

		HTTPClient: &http.Client{
			Timeout: 15 * time.Minute,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	}

	var opts []stealth.ClientOption
	opts = append(opts, stealth.WithTimeout(15))

	if apiKey := env.Str("WEBSHARE_API_KEY", ""); apiKey != "" {
		pool, err := proxypool.NewWebshare(apiKey)
		if err != nil {
			slog.Warn("proxy pool init failed, running without proxy", slog.Any("error", err))
		} else {
			opts = append(opts, stealth.WithProxyPool(pool))
			slog.Info("proxy pool initialized", slog.Int("proxies", pool.Len()))
		}
	}

	bc, err := stealth.NewClient(opts...)
	if err != nil {
		slog.Error("stealth client init failed", slog.Any("error", err))
	} else {
		c.BrowserClient = bc
		slog.Info("stealth browser client initialized")
	}

	// Twitter client backs the bird step for X status pages.
	accounts := twitter.ParseAccounts(env.Str("TWITTER_ACCOUNTS", ""))
	openCount := 2
	if len(accounts) > 0 {
		openCount = 0
	}
	tw, err := twitter.NewClient(twitter.ClientConfig{
		Accounts:         accounts,
		OpenAccountCount: openCount,
	})
	if err != nil {
		slog.Warn("twitter client init failed", slog.Any("error", err))
	} else {
		c.TwitterClient = tw
		slog.Info("twitter client ready", slog.Int("pool_size", tw.Pool().Size()))
	}

	engine.Init(c)
}

func openStore() (store.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return store.Open(ctx, store.Config{
		Backend:     env.Str("CACHE_BACKEND", store.BackendMemory),
		Path:        env.Str("CACHE_PATH", defaultCachePath()),
		RedisURL:    env.Str("REDIS_URL", ""),
		DatabaseURL: env.Str("DATABASE_URL", ""),
		MaxEntries:  env.Int("CACHE_MAX_ENTRIES", 1000),
		Retention:   env.Duration("CACHE_RETENTION", store.DefaultRetention),
	})
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "go_transcript", "transcripts.db")
}
