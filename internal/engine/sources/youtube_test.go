package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_transcript/internal/engine"
	"github.com/anatolykoptev/go_transcript/internal/engine/media"
	"github.com/anatolykoptev/go_transcript/internal/engine/transcribe"
)

func TestVideoID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtube.com/watch?feature=share&v=dQw4w9WgXcQ&t=10", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ?si=abc", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/live/dQw4w9WgXcQ?feature=share", "dQw4w9WgXcQ"},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/watch?v=short", ""},
		{"https://www.youtube.com/channel/UCabc", ""},
		{"https://vimeo.com/123456", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := VideoID(tt.url); got != tt.want {
				t.Errorf("VideoID(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestPickBestTrack(t *testing.T) {
	tracks := []captionTrack{
		{BaseURL: "https://x/asr", LanguageCode: "en", Kind: "asr"},
		{BaseURL: "https://x/de", LanguageCode: "de"},
		{BaseURL: "https://x/po&exp=xpe", LanguageCode: "en"},
		{BaseURL: "https://x/en-gb", LanguageCode: "en-GB"},
	}
	tests := []struct {
		name    string
		langs   []string
		skipASR bool
		want    string
		ok      bool
	}{
		{"manual preferred language", []string{"de"}, false, "https://x/de", true},
		{"asr in preferred language beats other manual", []string{"en"}, false, "https://x/asr", true},
		{"no-auto skips asr and falls to english prefix", []string{"en"}, true, "https://x/en-gb", true},
		{"unknown language falls back to english", []string{"fr"}, true, "https://x/en-gb", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := pickBestTrack(tracks, tt.langs, tt.skipASR)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.BaseURL)
		})
	}

	_, ok := pickBestTrack([]captionTrack{{BaseURL: "a&exp=xpe", LanguageCode: "en"}}, []string{"en"}, false)
	assert.False(t, ok, "PoToken-only tracks are unusable")
	_, ok = pickBestTrack([]captionTrack{{BaseURL: "a", LanguageCode: "en", Kind: "asr"}}, []string{"en"}, true)
	assert.False(t, ok, "asr-only with skipASR")
}

const watchPageConfig = `<script>ytcfg.set({"INNERTUBE_API_KEY":"KEY123","INNERTUBE_CONTEXT":{"client":{"clientName":"WEB","clientVersion":"2.1","hl":"en"}},"INNERTUBE_CLIENT_VERSION":"2.1","VISITOR_DATA":"VD%3D"});</script>
<script>var x = {"getTranscriptEndpoint":{"params":"Q2dz%3D"}};</script>`

func TestExtractPageConfig(t *testing.T) {
	cfg, err := extractPageConfig(watchPageConfig)
	require.NoError(t, err)
	assert.Equal(t, "KEY123", cfg.APIKey)
	assert.JSONEq(t, `{"client":{"clientName":"WEB","clientVersion":"2.1","hl":"en"}}`, string(cfg.Context))
	assert.Equal(t, "Q2dz=", cfg.Params)
	assert.Equal(t, "2.1", cfg.ClientVersion)
	assert.Equal(t, "VD%3D", cfg.VisitorData)

	_, err = extractPageConfig(`<html>nothing here</html>`)
	assert.Error(t, err)
	_, err = extractPageConfig(`"INNERTUBE_API_KEY":"k"`)
	assert.ErrorContains(t, err, "INNERTUBE_CONTEXT")
}

func playerPage(tracksJSON string) string {
	return `<html><script>var ytInitialPlayerResponse = {"videoDetails":{"videoId":"dQw4w9WgXcQ","title":"Title with {braces} and \"quotes\\\""},` +
		`"captions":{"playerCaptionsTracklistRenderer":{"captionTracks":` + tracksJSON + `}}};</script></html>`
}

func TestExtractPlayerResponse(t *testing.T) {
	pr, err := extractPlayerResponse(playerPage(`[{"baseUrl":"https://www.youtube.com/api/timedtext?v=a&lang=en","languageCode":"en","kind":"asr"}]`))
	require.NoError(t, err)
	require.NotNil(t, pr.VideoDetails)
	assert.Equal(t, `Title with {braces} and "quotes\"`, pr.VideoDetails.Title)
	require.NotNil(t, pr.Captions)
	tracks := pr.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks
	require.Len(t, tracks, 1)
	assert.Equal(t, "asr", tracks[0].Kind)

	_, err = extractPlayerResponse(`<html>no player</html>`)
	assert.Error(t, err)
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a":1} trailing`, `{"a":1}`},
		{`{"a":"}"}x`, `{"a":"}"}`},
		{`{"a":"\\"}{`, `{"a":"\\"}`},
		{`{"a":{"b":[1,{"c":2}]}};`, `{"a":{"b":[1,{"c":2}]}}`},
		{`{"open":`, ``},
		{`not json`, ``},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, string(extractJSON([]byte(tt.in))))
		})
	}
}

func TestParseJSON3(t *testing.T) {
	data := []byte(`{"events":[{"tStartMs":0,"segs":[{"utf8":"Hello"},{"utf8":" world"}]},{"tStartMs":61000,"segs":[{"utf8":"\n"}]},{"tStartMs":65000,"segs":[{"utf8":"again &amp; more"}]}]}`)
	segs, err := parseJSON3(data)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "[00:00] Hello world\n[01:05] again & more", renderSegments(segs, true))
	assert.Equal(t, "Hello world again & more", renderSegments(segs, false))
}

func TestParseTimedText(t *testing.T) {
	t.Run("classic", func(t *testing.T) {
		segs, err := parseTimedText([]byte(`<?xml version="1.0"?><transcript><text start="1.5" dur="2">Hi &amp;amp; bye</text><text start="62">Next</text></transcript>`))
		require.NoError(t, err)
		assert.Equal(t, "[00:01] Hi & bye\n[01:02] Next", renderSegments(segs, true))
	})
	t.Run("format 3", func(t *testing.T) {
		segs, err := parseTimedText([]byte(`<timedtext format="3"><body><p t="1000" d="2"><s>Hi</s><s> there</s></p><p t="3723000">Later</p></body></timedtext>`))
		require.NoError(t, err)
		assert.Equal(t, "[00:01] Hi there\n[1:02:03] Later", renderSegments(segs, true))
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := parseTimedText([]byte(`{"not":"xml"}`))
		assert.Error(t, err)
	})
}

func TestRenderApifyItems(t *testing.T) {
	items := []apifyItem{
		{Data: []apifyLine{{Start: []byte(`"0.5"`), Text: "first"}, {Start: []byte(`61`), Text: "second"}}},
		{Transcript: []byte(`"plain transcript"`)},
		{Text: "fallback"},
	}
	assert.Equal(t, "[00:00] first\n[01:01] second\n[00:00] plain transcript\n[00:00] fallback", renderApifyItems(items, true))
	assert.Equal(t, "", renderApifyItems(nil, false))
}

func TestYouTubeExplicitModeErrors(t *testing.T) {
	pc := ProviderContext{URL: "https://youtu.be/dQw4w9WgXcQ", HTML: "<html></html>"}
	tests := []struct {
		name   string
		mutate func(*FetchOptions)
		reason string
	}{
		{"apify without token", func(o *FetchOptions) { o.YouTubeMode = ModeApify }, ReasonMissingApifyToken},
		{"yt-dlp without binary", func(o *FetchOptions) { o.YouTubeMode = ModeYtDlp }, ReasonMissingYtDlp},
		{"yt-dlp without backend", func(o *FetchOptions) {
			o.YouTubeMode = ModeYtDlp
			o.YtDlpPath = "/usr/bin/yt-dlp"
		}, ReasonMissingTranscriptionCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := offlineOptions()
			tt.mutate(&opts)
			res, err := (&YouTube{}).FetchTranscript(context.Background(), pc, opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrExplicitMode))
			var me *ModeError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, tt.reason, me.Reason)
			assert.Empty(t, res.Attempted, "no work before the prerequisite check")
		})
	}
}

func TestYouTubeAutoNeverThrows(t *testing.T) {
	pc := ProviderContext{URL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ", HTML: "<html></html>"}

	opts := offlineOptions()
	res, err := (&YouTube{}).FetchTranscript(context.Background(), pc, opts)
	require.NoError(t, err)
	assert.Nil(t, res.Transcript)
	assert.Equal(t, []Source{SourceYoutubei, SourceCaptionTracks}, res.Attempted)
	assert.Equal(t, ReasonMissingYtDlp, res.Reason)
	assert.Equal(t, "dQw4w9WgXcQ", res.Metadata["videoId"])

	opts.YtDlpPath = "/usr/bin/yt-dlp"
	res, err = (&YouTube{}).FetchTranscript(context.Background(), pc, opts)
	require.NoError(t, err)
	assert.Equal(t, ReasonMissingTranscriptionCredentials, res.Reason)
}

func TestYouTubeCaptionTracks(t *testing.T) {
	var gotFmt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/timedtext" {
			http.NotFound(w, r)
			return
		}
		gotFmt = r.URL.Query().Get("fmt")
		fmt.Fprint(w, `{"events":[{"tStartMs":0,"segs":[{"utf8":"caption text"}]}]}`)
	}))
	defer srv.Close()

	page := playerPage(`[{"baseUrl":"https://www.youtube.com/api/timedtext?v=dQw4w9WgXcQ&lang=en","languageCode":"en"}]`)
	opts := offlineOptions()
	opts.YouTubeMode = ModeWeb
	opts.HTTP = newRewriteDoer(t, srv.URL)
	var events []string
	opts.Progress = func(ev engine.Event) { events = append(events, ev.Kind()) }

	res, err := (&YouTube{}).FetchTranscript(context.Background(), ProviderContext{URL: "https://youtu.be/dQw4w9WgXcQ", HTML: page}, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, "caption text", res.Transcript.Text)
	assert.Equal(t, SourceCaptionTracks, res.Transcript.Source)
	assert.Equal(t, []Source{SourceYoutubei, SourceCaptionTracks}, res.Attempted)
	assert.Equal(t, "en", res.Metadata["captionLanguage"])
	assert.Equal(t, "manual", res.Metadata["captionKind"])
	assert.Equal(t, "json3", gotFmt)
	assert.Equal(t, []string{
		engine.KindTranscriptStart, engine.KindTranscriptDone,
		engine.KindTranscriptStart, engine.KindTranscriptDone,
	}, events)
}

func TestYouTubeNoAutoSkipsASR(t *testing.T) {
	page := playerPage(`[{"baseUrl":"https://www.youtube.com/api/timedtext?v=a&kind=asr","languageCode":"en","kind":"asr"}]`)
	opts := offlineOptions()
	opts.YouTubeMode = ModeNoAuto
	opts.ApifyToken = "token"
	opts.YtDlpPath = "/usr/bin/yt-dlp"

	res, err := (&YouTube{}).FetchTranscript(context.Background(), ProviderContext{URL: "https://youtu.be/dQw4w9WgXcQ", HTML: page}, opts)
	require.NoError(t, err)
	assert.Nil(t, res.Transcript)
	assert.Equal(t, []Source{SourceYoutubei, SourceCaptionTracks}, res.Attempted, "no apify or yt-dlp in no-auto")
	assert.Empty(t, res.Reason)
}

func TestYouTubeApifyMode(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		if !strings.Contains(r.URL.Path, "/run-sync-get-dataset-items") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `[{"data":[{"start":"0","text":"from"},{"start":"1.2","text":"apify"}]}]`)
	}))
	defer srv.Close()
	old := apifyBaseURL
	apifyBaseURL = srv.URL
	defer func() { apifyBaseURL = old }()

	opts := offlineOptions()
	opts.YouTubeMode = ModeApify
	opts.ApifyToken = "tok"
	opts.HTTP = srv.Client()

	res, err := (&YouTube{}).FetchTranscript(context.Background(), ProviderContext{URL: "https://youtu.be/dQw4w9WgXcQ"}, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, "from apify", res.Transcript.Text)
	assert.Equal(t, SourceApify, res.Transcript.Source)
	assert.Equal(t, []Source{SourceApify}, res.Attempted)
	assert.Contains(t, gotBody, `"videoUrl":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"`)
}

func TestYouTubeYtDlpMode(t *testing.T) {
	backend := &stubBackend{text: "spoken words"}
	var gotArgs []string
	run := func(_ context.Context, _ time.Duration, name string, args ...string) ([]byte, error) {
		gotArgs = args
		for i, a := range args {
			if a == "-o" {
				out := strings.Replace(args[i+1], "%(ext)s", "m4a", 1)
				return nil, os.WriteFile(out, []byte("fake audio"), 0o600)
			}
		}
		return nil, errors.New("no -o")
	}
	opts := offlineOptions()
	opts.YouTubeMode = ModeYtDlp
	opts.YtDlpPath = "yt-dlp"
	opts.Run = run
	opts.Media = &media.Engine{
		Caps:     media.StaticCapabilities{},
		Backends: transcribe.Chain{backend},
		Run:      run,
	}

	res, err := (&YouTube{}).FetchTranscript(context.Background(), ProviderContext{URL: "https://youtu.be/dQw4w9WgXcQ"}, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, "spoken words", res.Transcript.Text)
	assert.Equal(t, SourceYtDlp, res.Transcript.Source)
	assert.Equal(t, []Source{SourceYtDlp}, res.Attempted)
	assert.Equal(t, "stub", res.Metadata["transcriptionBackend"])
	assert.Equal(t, 1, backend.calls)
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", gotArgs[len(gotArgs)-1])
	assert.NotContains(t, gotArgs, "--cookies-from-browser")

	// The temp dir is gone after the call.
	for i, a := range gotArgs {
		if a == "-o" {
			_, err := os.Stat(filepath.Dir(gotArgs[i+1]))
			assert.True(t, os.IsNotExist(err))
		}
	}
}

func TestYouTubeYtDlpModeRethrows(t *testing.T) {
	run := func(context.Context, time.Duration, string, ...string) ([]byte, error) {
		return nil, errors.New("HTTP Error 403")
	}
	opts := offlineOptions()
	opts.YouTubeMode = ModeYtDlp
	opts.YtDlpPath = "yt-dlp"
	opts.Run = run
	opts.Media = &media.Engine{Caps: media.StaticCapabilities{}, Backends: transcribe.Chain{&stubBackend{text: "x"}}, Run: run}

	res, err := (&YouTube{}).FetchTranscript(context.Background(), ProviderContext{URL: "https://youtu.be/dQw4w9WgXcQ"}, opts)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrExplicitMode))
	assert.ErrorContains(t, err, "403")
	assert.Equal(t, []Source{SourceYtDlp}, res.Attempted)
}

func TestYouTubeAutoAbortsOnMediaTooLarge(t *testing.T) {
	run := func(_ context.Context, _ time.Duration, _ string, args ...string) ([]byte, error) {
		for i, a := range args {
			if a == "-o" {
				out := strings.Replace(args[i+1], "%(ext)s", "m4a", 1)
				f, err := os.Create(out)
				if err != nil {
					return nil, err
				}
				defer f.Close()
				return nil, f.Truncate(media.MaxMediaBytes + 1)
			}
		}
		return nil, errors.New("no -o")
	}
	backend := &stubBackend{text: "never"}
	opts := offlineOptions()
	opts.YtDlpPath = "yt-dlp"
	opts.Run = run
	opts.Media = &media.Engine{Caps: media.StaticCapabilities{FFmpeg: true}, Backends: transcribe.Chain{backend}, Run: run}

	res, err := (&YouTube{}).FetchTranscript(context.Background(), ProviderContext{URL: "https://youtu.be/dQw4w9WgXcQ", HTML: "<html></html>"}, opts)
	require.ErrorIs(t, err, media.ErrMediaTooLarge)
	assert.False(t, errors.Is(err, ErrExplicitMode))
	assert.Equal(t, []Source{SourceYoutubei, SourceCaptionTracks, SourceYtDlp}, res.Attempted)
	assert.Zero(t, backend.calls)
}
