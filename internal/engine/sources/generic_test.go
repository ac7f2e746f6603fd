package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_transcript/internal/engine/cookies"
	"github.com/anatolykoptev/go_transcript/internal/engine/media"
	"github.com/anatolykoptev/go_transcript/internal/engine/transcribe"
)

func mustDoc(t *testing.T, page string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	require.NoError(t, err)
	return doc
}

func TestGenericEmbeddedTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			fmt.Fprint(w, `<html><head><title>Talk</title></head><body><video src="/talk.mp4">
				<track kind="chapters" src="/chapters.vtt">
				<track kind="subtitles" srclang="de" src="/de.vtt">
				<track kind="captions" srclang="en" src="/en.vtt">
			</video></body></html>`)
		case "/en.vtt":
			fmt.Fprint(w, "WEBVTT\n\n00:00.000 --> 00:02.000\nEnglish captions\n")
		case "/de.vtt":
			fmt.Fprint(w, "WEBVTT\n\n00:00.000 --> 00:02.000\nDeutsche Untertitel\n")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	opts := offlineOptions()
	opts.HTTP = srv.Client()
	res, err := (&Generic{}).FetchTranscript(context.Background(), ProviderContext{URL: srv.URL + "/page"}, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, "English captions", res.Transcript.Text)
	assert.Equal(t, SourceEmbedded, res.Transcript.Source)
	assert.Equal(t, []Source{SourceEmbedded}, res.Attempted)
	assert.Equal(t, "Talk", res.Metadata["title"])
}

func TestGenericJSONLDTranscript(t *testing.T) {
	page := `<html><head><script type="application/ld+json">{"@context":"https://schema.org","@graph":[{"@type":"WebPage"},{"@type":"VideoObject","name":"Demo","transcript":"<p>First paragraph.</p>\n\n<p>Second   paragraph.</p>"}]}</script></head><body></body></html>`
	res, err := (&Generic{}).FetchTranscript(context.Background(), ProviderContext{URL: "https://example.com/v", HTML: page}, offlineOptions())
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, SourceEmbedded, res.Transcript.Source)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", res.Transcript.Text)
}

func TestGenericTranscriptBlock(t *testing.T) {
	body := strings.Repeat("This is a long spoken sentence. ", 10)
	page := `<html><body><a class="transcript-link">Transcript</a><section id="episode-transcript"><p>` + body + `</p></section></body></html>`
	res, err := (&Generic{}).FetchTranscript(context.Background(), ProviderContext{URL: "https://example.com/ep", HTML: page}, offlineOptions())
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, SourceHTML, res.Transcript.Source)
	assert.Equal(t, strings.TrimSpace(body), res.Transcript.Text)
}

func TestGenericTweetText(t *testing.T) {
	page := `<html><head><meta property="og:description" content="meta text"></head><body>
		<div class="tweet-content">First post</div><div class="tweet-content">Reply   text</div></body></html>`
	opts := offlineOptions()
	opts.YtDlpPath = "yt-dlp" // no backend, so yt-dlp is skipped

	res, err := (&Generic{}).FetchTranscript(context.Background(), ProviderContext{URL: "https://x.com/user/status/42", HTML: page}, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, SourceTweet, res.Transcript.Source)
	assert.Equal(t, "First post\n\nReply text", res.Transcript.Text)
	assert.Equal(t, []Source{SourceTweet}, res.Attempted)
	assert.Equal(t, "42", res.Metadata["tweetId"])

	doc := mustDoc(t, `<html><head><meta property="og:description" content="  only meta  "></head></html>`)
	assert.Equal(t, "only meta", tweetText(doc))
}

func TestGenericTweetYtDlpWithCookies(t *testing.T) {
	backend := &stubBackend{text: "video speech"}
	var gotArgs []string
	run := func(_ context.Context, _ time.Duration, _ string, args ...string) ([]byte, error) {
		gotArgs = args
		for i, a := range args {
			if a == "-o" {
				return nil, os.WriteFile(strings.Replace(args[i+1], "%(ext)s", "mp4", 1), []byte("v"), 0o600)
			}
		}
		return nil, nil
	}
	opts := offlineOptions()
	opts.YtDlpPath = "yt-dlp"
	opts.Run = run
	opts.Media = &media.Engine{Caps: media.StaticCapabilities{}, Backends: transcribe.Chain{backend}, Run: run}
	opts.CookieResolver = func(context.Context) cookies.BrowserCookieSpec {
		return cookies.BrowserCookieSpec{CookiesFromBrowser: "firefox:work", Source: "firefox:work"}
	}

	res, err := (&Generic{}).FetchTranscript(context.Background(), ProviderContext{URL: "https://x.com/user/status/42", HTML: "<html></html>"}, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, SourceYtDlp, res.Transcript.Source)
	assert.Equal(t, "video speech", res.Transcript.Text)
	assert.Contains(t, strings.Join(gotArgs, " "), "--cookies-from-browser firefox:work")
}

func TestGenericDirectMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "clip.mp3", time.Time{}, strings.NewReader("some audio"))
	}))
	defer srv.Close()

	backend := &stubBackend{text: "clip words"}
	opts := offlineOptions()
	opts.Media = &media.Engine{HTTP: srv.Client(), Caps: media.StaticCapabilities{}, Backends: transcribe.Chain{backend}}

	res, err := (&Generic{}).FetchTranscript(context.Background(), ProviderContext{URL: srv.URL + "/clip.mp3"}, opts)
	require.NoError(t, err)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, SourceWhisper, res.Transcript.Source)
	assert.Equal(t, "clip words", res.Transcript.Text)
	assert.Equal(t, []Source{SourceWhisper}, res.Attempted)
}

func TestGenericLocalFileWithoutBackend(t *testing.T) {
	p := filepath.Join(t.TempDir(), "memo.m4a")
	require.NoError(t, os.WriteFile(p, []byte("audio"), 0o600))

	res, err := (&Generic{}).FetchTranscript(context.Background(), ProviderContext{URL: p}, offlineOptions())
	require.NoError(t, err)
	assert.Nil(t, res.Transcript)
	assert.Empty(t, res.Attempted)
	assert.Equal(t, ReasonMissingTranscriptionCredentials, res.Reason)
	assert.Equal(t, p, res.Metadata["mediaUrl"])
}

func TestGenericMediaTooLargeAborts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(media.MaxMediaBytes+1))
		w.Header().Set("Content-Type", "audio/mpeg")
		if r.Method != http.MethodHead {
			t.Error("body must not be requested")
		}
	}))
	defer srv.Close()

	opts := offlineOptions()
	opts.Media = &media.Engine{HTTP: srv.Client(), Caps: media.StaticCapabilities{FFmpeg: true}, Backends: transcribe.Chain{&stubBackend{text: "x"}}}
	_, err := (&Generic{}).FetchTranscript(context.Background(), ProviderContext{URL: srv.URL + "/huge.mp3"}, opts)
	require.ErrorIs(t, err, media.ErrMediaTooLarge)
}

func TestPageMediaURL(t *testing.T) {
	tests := []struct {
		name string
		page string
		want string
	}{
		{"og audio", `<meta property="og:audio" content="/a.mp3">`, "https://example.com/a.mp3"},
		{"og video with type", `<meta property="og:video:url" content="https://cdn/v?id=1"><meta property="og:video:type" content="video/mp4">`, "https://cdn/v?id=1"},
		{"og video player page ignored", `<meta property="og:video" content="https://player.example.com/embed/1"><meta property="og:video:type" content="text/html">`, ""},
		{"audio element source", `<audio controls><source src="ep.ogg" type="audio/ogg"></audio>`, "https://example.com/ep.ogg"},
		{"blob video skipped", `<video src="blob:https://example.com/123"></video>`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, pageMediaURL(mustDoc(t, "<html><head>"+tt.page+"</head><body></body></html>"), "https://example.com/"))
		})
	}
}

func TestCaptionTrackURLsOrder(t *testing.T) {
	doc := mustDoc(t, `<video>
		<track src="fr.vtt" srclang="fr">
		<track src="en.vtt" srclang="en-US" kind="captions">
		<track src="desc.vtt" kind="descriptions">
	</video>`)
	got := captionTrackURLs(doc, "https://example.com/v/", []string{"en"})
	assert.Equal(t, []string{"https://example.com/v/en.vtt", "https://example.com/v/fr.vtt"}, got)
}
