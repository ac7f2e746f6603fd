// Package transcriptserver exposes transcript resolution as MCP tools.
package transcriptserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/engine/cookies"
	"github.com/anatolykoptev/go_transcript/internal/engine/sources"
	"github.com/anatolykoptev/go_transcript/internal/transcript"
)

const defaultMaxChars = 200_000

// Deps are the collaborators the tools call into.
type Deps struct {
	Resolver *transcript.Resolver
	Cookies  *cookies.Resolver
}

// RegisterTools registers transcript_fetch and twitter_cookies.
func RegisterTools(server *mcp.Server, d Deps) {
	registerTranscriptFetch(server, d)
	registerTwitterCookies(server, d)
}

type TranscriptFetchInput struct {
	URL         string `json:"url" jsonschema:"Video, podcast, episode page, X post URL or local audio file path"`
	Timestamps  bool   `json:"timestamps,omitempty" jsonschema:"Prefix segments with [mm:ss] when the source has timing"`
	YouTubeMode string `json:"youtube_mode,omitempty" jsonschema:"auto (default), web, apify, yt-dlp or no-auto"`
	NoCache     bool   `json:"no_cache,omitempty" jsonschema:"Skip the cache lookup (result is still cached)"`
	MaxChars    int    `json:"max_chars,omitempty" jsonschema:"Truncate the transcript to this many characters (default 200000)"`
}

type TranscriptFetchOutput struct {
	URL       string         `json:"url"`
	Found     bool           `json:"found"`
	Text      string         `json:"text,omitempty"`
	Source    string         `json:"source,omitempty"`
	Title     string         `json:"title,omitempty"`
	Cached    bool           `json:"cached"`
	Stale     bool           `json:"stale,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
	Attempted []string       `json:"attempted"`
	Notes     string         `json:"notes,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func registerTranscriptFetch(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "transcript_fetch",
		Description: "Fetch a text transcript for a YouTube video, podcast feed or episode, web page with embedded media, X/Twitter post, or local audio file. Tries published captions and transcripts first, then downloads and transcribes audio when a transcription backend is configured. Results are cached.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input TranscriptFetchInput) (*mcp.CallToolResult, TranscriptFetchOutput, error) {
		out, err := fetchTranscript(ctx, d.Resolver, input)
		return nil, out, err
	})
}

func fetchTranscript(ctx context.Context, r *transcript.Resolver, input TranscriptFetchInput) (TranscriptFetchOutput, error) {
	input.URL = strings.TrimSpace(input.URL)
	if input.URL == "" {
		return TranscriptFetchOutput{}, errors.New("url is required")
	}
	mode, err := sources.ParseYouTubeMode(input.YouTubeMode)
	if err != nil {
		return TranscriptFetchOutput{}, err
	}
	if input.YouTubeMode == "" {
		mode = ""
	}

	var res *transcript.Result
	err = engine.TrackOperation(ctx, "transcript_fetch", func(ctx context.Context) error {
		var rerr error
		res, rerr = r.Resolve(ctx, transcript.Request{
			URL:         input.URL,
			Timestamps:  input.Timestamps,
			YouTubeMode: mode,
			NoCache:     input.NoCache,
			Progress:    logProgress(input.URL),
		})
		return rerr
	})
	if err != nil {
		slog.Warn("transcript_fetch failed", slog.String("url", input.URL), slog.Any("error", err))
		return TranscriptFetchOutput{}, fmt.Errorf("transcript fetch failed: %w", err)
	}
	return toOutput(res, input.MaxChars), nil
}

func toOutput(res *transcript.Result, maxChars int) TranscriptFetchOutput {
	if maxChars <= 0 {
		maxChars = defaultMaxChars
	}
	out := TranscriptFetchOutput{
		URL:       res.URL,
		Found:     res.Found(),
		Source:    res.Source,
		Title:     res.Title,
		Cached:    res.Cached,
		Stale:     res.Stale,
		Attempted: make([]string, 0, len(res.Attempted)),
		Notes:     strings.Join(res.Notes, "; "),
		Reason:    res.Reason,
		Metadata:  res.Metadata,
	}
	for _, s := range res.Attempted {
		out.Attempted = append(out.Attempted, string(s))
	}
	out.Text = engine.TruncateRunes(res.Text, maxChars, "…")
	out.Truncated = out.Text != res.Text
	return out
}

// logProgress turns progress events into debug log lines.
func logProgress(rawURL string) engine.ProgressSink {
	return func(ev engine.Event) {
		slog.Debug("transcript progress", slog.String("url", rawURL), slog.String("kind", ev.Kind()), slog.String("event", engine.DescribeEvent(ev)))
	}
}

type TwitterCookiesInput struct {
	AuthToken string   `json:"auth_token,omitempty" jsonschema:"Explicit auth_token; wins over browser stores"`
	Ct0       string   `json:"ct0,omitempty" jsonschema:"Explicit ct0 CSRF token"`
	Sources   []string `json:"sources,omitempty" jsonschema:"Browser order override, e.g. chrome, safari, firefox:work"`
}

// TwitterCookiesOutput reports where credentials were found. Secret values are
// never returned.
type TwitterCookiesOutput struct {
	Complete           bool     `json:"complete"`
	HasAuthToken       bool     `json:"has_auth_token"`
	HasCt0             bool     `json:"has_ct0"`
	Source             string   `json:"source,omitempty"`
	CookiesFromBrowser string   `json:"cookies_from_browser,omitempty"`
	Warnings           []string `json:"warnings,omitempty"`
}

func registerTwitterCookies(server *mcp.Server, d Deps) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "twitter_cookies",
		Description: "Check which browser store (Chrome, Safari, Firefox) holds usable X/Twitter login cookies, and the --cookies-from-browser value yt-dlp would use. Returns presence flags and warnings only, never cookie values.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, input TwitterCookiesInput) (*mcp.CallToolResult, TwitterCookiesOutput, error) {
		return nil, twitterCookies(ctx, d.Cookies, input), nil
	})
}

func twitterCookies(ctx context.Context, r *cookies.Resolver, input TwitterCookiesInput) TwitterCookiesOutput {
	tc := r.ResolveTwitter(ctx, cookies.TwitterOptions{AuthToken: input.AuthToken, Ct0: input.Ct0, Sources: input.Sources})
	spec := r.ResolveBrowserSpec(ctx, input.Sources)
	warnings := append(append([]string{}, tc.Warnings...), spec.Warnings...)
	return TwitterCookiesOutput{
		Complete:           tc.Complete(),
		HasAuthToken:       tc.AuthToken != "",
		HasCt0:             tc.Ct0 != "",
		Source:             tc.Source,
		CookiesFromBrowser: spec.CookiesFromBrowser,
		Warnings:           dedupe(warnings),
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
